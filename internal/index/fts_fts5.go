//go:build sqlite_fts5

package index

import (
	"database/sql"
	"fmt"

	"github.com/starford/marker/internal/models"
)

func initFTS(conn *sql.DB) error {
	_, err := conn.Exec(`
		CREATE VIRTUAL TABLE IF NOT EXISTS highlights_fts USING fts5(
			id UNINDEXED,
			page_key UNINDEXED,
			text,
			tokenize = 'unicode61 remove_diacritics 2'
		);
	`)
	return err
}

func ftsUpsert(tx *sql.Tx, key string, records []models.HighlightRecord) error {
	_, _ = tx.Exec(`DELETE FROM highlights_fts WHERE page_key = ?`, key)
	for _, r := range records {
		_, err := tx.Exec(`INSERT INTO highlights_fts (id, page_key, text) VALUES (?, ?, ?)`,
			r.ID, key, r.Text)
		if err != nil {
			return fmt.Errorf("index: upsert fts: %w", err)
		}
	}
	return nil
}

func ftsDelete(tx *sql.Tx, key string) {
	_, _ = tx.Exec(`DELETE FROM highlights_fts WHERE page_key = ?`, key)
}

// Search performs an FTS5 full-text search and returns matching highlights with snippets.
func (db *DB) Search(query string, limit int) ([]SearchResult, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := db.conn.Query(`
		SELECT page_key,
		       id,
		       snippet(highlights_fts, 2, '<b>', '</b>', '...', 32)
		FROM highlights_fts
		WHERE highlights_fts MATCH ?
		ORDER BY rank
		LIMIT ?
	`, query, limit)
	if err != nil {
		return nil, fmt.Errorf("index: search: %w", err)
	}
	defer rows.Close()

	var out []SearchResult
	for rows.Next() {
		var r SearchResult
		if err := rows.Scan(&r.PageKey, &r.HighlightID, &r.Snippet); err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}
