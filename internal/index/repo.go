package index

import (
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/starford/marker/internal/models"
)

// PageRow represents a row in the pages table.
type PageRow struct {
	Key       string
	File      string
	Checksum  string
	Count     int
	UpdatedAt time.Time
}

// SearchResult represents one search hit.
type SearchResult struct {
	PageKey     string
	HighlightID string
	Snippet     string
}

// UpsertPage replaces a page row and all of its highlight rows within a
// transaction. Records keep their list position as seq.
func (db *DB) UpsertPage(p PageRow, records []models.HighlightRecord) error {
	tx, err := db.conn.Begin()
	if err != nil {
		return fmt.Errorf("index: begin tx: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck // best-effort on failure path

	_, err = tx.Exec(`
		INSERT INTO pages (page_key, file, checksum, record_count, updated_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(page_key) DO UPDATE SET
			file         = excluded.file,
			checksum     = excluded.checksum,
			record_count = excluded.record_count,
			updated_at   = excluded.updated_at
	`, p.Key, p.File, p.Checksum, len(records), p.UpdatedAt)
	if err != nil {
		return fmt.Errorf("index: upsert page: %w", err)
	}

	if _, err := tx.Exec(`DELETE FROM highlights WHERE page_key = ?`, p.Key); err != nil {
		return fmt.Errorf("index: clear highlights: %w", err)
	}
	if len(records) > 0 {
		stmt, err := tx.Prepare(`INSERT INTO highlights (id, page_key, seq, text, markup, created_at) VALUES (?, ?, ?, ?, ?, ?)`)
		if err != nil {
			return fmt.Errorf("index: prepare highlight insert: %w", err)
		}
		defer stmt.Close()
		for i, r := range records {
			if _, err := stmt.Exec(r.ID, p.Key, i, r.Text, r.Markup, r.CreatedAt); err != nil {
				return fmt.Errorf("index: insert highlight: %w", err)
			}
		}
	}

	// FTS upsert (no-op when FTS5 tag is absent).
	if err := ftsUpsert(tx, p.Key, records); err != nil {
		return err
	}
	return tx.Commit()
}

// DeletePage removes a page, its highlights and their FTS entries.
func (db *DB) DeletePage(key string) error {
	tx, err := db.conn.Begin()
	if err != nil {
		return fmt.Errorf("index: begin tx: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	ftsDelete(tx, key)
	_, _ = tx.Exec(`DELETE FROM highlights WHERE page_key = ?`, key)
	_, _ = tx.Exec(`DELETE FROM pages WHERE page_key = ?`, key)

	return tx.Commit()
}

// DeleteFile removes the page stored under file and returns its key, or ""
// when no indexed page uses that file.
func (db *DB) DeleteFile(file string) (string, error) {
	var key string
	err := db.conn.QueryRow(`SELECT page_key FROM pages WHERE file = ?`, file).Scan(&key)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("index: lookup file: %w", err)
	}
	return key, db.DeletePage(key)
}

// GetChecksum returns the stored checksum for a page, or empty string if not found.
func (db *DB) GetChecksum(key string) (string, error) {
	var cs string
	err := db.conn.QueryRow(`SELECT checksum FROM pages WHERE page_key = ?`, key).Scan(&cs)
	if err != nil {
		return "", nil // not found is fine
	}
	return cs, nil
}

// AllChecksums returns page key → checksum for every indexed page.
func (db *DB) AllChecksums() (map[string]string, error) {
	rows, err := db.conn.Query(`SELECT page_key, checksum FROM pages`)
	if err != nil {
		return nil, fmt.Errorf("index: all checksums: %w", err)
	}
	defer rows.Close()
	out := make(map[string]string)
	for rows.Next() {
		var k, cs string
		if err := rows.Scan(&k, &cs); err != nil {
			return nil, err
		}
		out[k] = cs
	}
	return out, rows.Err()
}

// ListPages returns a page of indexed pages, most recently updated first,
// and the total page count.
func (db *DB) ListPages(limit, offset int) ([]PageRow, int, error) {
	if limit <= 0 {
		limit = 50
	}
	if offset < 0 {
		offset = 0
	}

	var total int
	if err := db.conn.QueryRow(`SELECT count(*) FROM pages`).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("index: count pages: %w", err)
	}

	rows, err := db.conn.Query(`
		SELECT page_key, file, checksum, record_count, updated_at
		FROM pages
		ORDER BY updated_at DESC, page_key ASC
		LIMIT ? OFFSET ?
	`, limit, offset)
	if err != nil {
		return nil, 0, fmt.Errorf("index: list pages: %w", err)
	}
	defer rows.Close()

	var out []PageRow
	for rows.Next() {
		var p PageRow
		if err := rows.Scan(&p.Key, &p.File, &p.Checksum, &p.Count, &p.UpdatedAt); err != nil {
			return nil, 0, err
		}
		out = append(out, p)
	}
	return out, total, rows.Err()
}
