package index

import (
	"context"
	"log/slog"
	"time"

	"github.com/starford/marker/internal/models"
	"github.com/starford/marker/internal/storage"
)

// Sync walks the store and brings the index up to date:
//   - new/changed pages are upserted
//   - pages removed from disk are deleted from the index
func Sync(ctx context.Context, db *DB, store storage.Provider, logger *slog.Logger) error {
	return reconcile(ctx, db, store, logger, nil)
}

func reconcile(ctx context.Context, db *DB, store storage.Provider, logger *slog.Logger, cb EventCallback) error {
	pages, err := store.Pages(ctx)
	if err != nil {
		return err
	}

	checksums, err := db.AllChecksums()
	if err != nil {
		return err
	}

	disk := make(map[string]struct{}, len(pages))
	for _, p := range pages {
		disk[p.Key] = struct{}{}

		old, known := checksums[p.Key]
		if old == p.Checksum {
			continue
		}

		records, err := store.Load(ctx, p.Key)
		if err != nil {
			logger.Warn("sync: load failed", slog.String("page", p.Key), slog.String("error", err.Error()))
			continue
		}
		if err := indexPage(db, p.Key, records, p.Checksum, p.UpdatedAt); err != nil {
			logger.Warn("sync: index failed", slog.String("page", p.Key), slog.String("error", err.Error()))
			continue
		}
		logger.Debug("sync: indexed", slog.String("page", p.Key))
		if cb != nil {
			kind := "updated"
			if !known {
				kind = "created"
			}
			cb(kind, p.Key, len(records))
		}
	}

	// Remove stale entries.
	for k := range checksums {
		if _, ok := disk[k]; ok {
			continue
		}
		if err := db.DeletePage(k); err != nil {
			logger.Warn("sync: delete failed", slog.String("page", k), slog.String("error", err.Error()))
			continue
		}
		logger.Debug("sync: removed stale", slog.String("page", k))
		if cb != nil {
			cb("deleted", k, 0)
		}
	}

	return nil
}

// indexPage upserts one page's records with the checksum of its file.
func indexPage(db *DB, key string, records []models.HighlightRecord, sum string, updated time.Time) error {
	if updated.IsZero() {
		updated = time.Now().UTC()
	}
	row := PageRow{
		Key:       key,
		File:      storage.FileName(key),
		Checksum:  sum,
		UpdatedAt: updated,
	}
	return db.UpsertPage(row, records)
}
