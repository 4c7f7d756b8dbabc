package index

import (
	"context"
	"log/slog"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/starford/marker/internal/storage"
)

// EventCallback is called after a watcher-driven index change.
// kind is one of "created", "updated", "deleted"; records is the page's
// record count after the change.
type EventCallback func(kind, key string, records int)

// Watch starts an fsnotify watcher on the store's pages directory and
// processes file change events until ctx is cancelled. It calls cb (if
// non-nil) after each index mutation. Writes whose checksum the index
// already holds are skipped, so saves made through this process do not
// fire twice.
//
// Rename events trigger a reconciliation pass that removes stale index
// entries whose files no longer exist on disk.
func Watch(ctx context.Context, db *DB, store *storage.FS, logger *slog.Logger, cb EventCallback) error {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer w.Close()

	dir := store.Dir()
	if err := w.Add(dir); err != nil {
		return err
	}

	logger.Info("watcher: started", slog.String("dir", dir))

	// reconcileTimer is used to debounce rename reconciliation.
	var reconcileTimer *time.Timer
	var reconcileCh <-chan time.Time

	scheduleReconcile := func() {
		if reconcileTimer == nil {
			reconcileTimer = time.NewTimer(200 * time.Millisecond)
			reconcileCh = reconcileTimer.C
		} else {
			reconcileTimer.Reset(200 * time.Millisecond)
		}
	}

	for {
		select {
		case <-ctx.Done():
			if reconcileTimer != nil {
				reconcileTimer.Stop()
			}
			logger.Info("watcher: stopped")
			return nil

		case <-reconcileCh:
			if err := reconcile(ctx, db, store, logger, cb); err != nil {
				logger.Warn("reconcile: failed", slog.String("error", err.Error()))
			}

		case ev, ok := <-w.Events:
			if !ok {
				return nil
			}
			if !storage.IsPageFile(ev.Name) {
				continue
			}
			name := filepath.Base(ev.Name)

			switch {
			case ev.Op&(fsnotify.Create|fsnotify.Write) != 0:
				key, records, sum, readErr := store.ReadFile(name)
				if readErr != nil {
					// Partial writes surface here; the final rename fires again.
					logger.Debug("watcher: read failed", slog.String("file", name), slog.String("error", readErr.Error()))
					continue
				}
				old, _ := db.GetChecksum(key)
				if old == sum {
					continue
				}
				if idxErr := indexPage(db, key, records, sum, time.Now().UTC()); idxErr != nil {
					logger.Warn("watcher: index failed", slog.String("page", key), slog.String("error", idxErr.Error()))
					continue
				}
				kind := "updated"
				if old == "" {
					kind = "created"
				}
				logger.Debug("watcher: indexed", slog.String("page", key), slog.String("op", kind))
				if cb != nil {
					cb(kind, key, len(records))
				}

			case ev.Op&fsnotify.Remove != 0:
				key, delErr := db.DeleteFile(name)
				if delErr != nil {
					logger.Warn("watcher: delete failed", slog.String("file", name), slog.String("error", delErr.Error()))
					continue
				}
				if key == "" {
					continue
				}
				logger.Debug("watcher: deleted", slog.String("page", key))
				if cb != nil {
					cb("deleted", key, 0)
				}

			case ev.Op&fsnotify.Rename != 0:
				// fsnotify fires Rename on the old name only; the new name
				// arrives as a Create if it stays in the directory.
				key, delErr := db.DeleteFile(name)
				if delErr != nil {
					logger.Warn("watcher: rename delete failed", slog.String("file", name), slog.String("error", delErr.Error()))
				} else if key != "" {
					logger.Debug("watcher: rename old deleted", slog.String("page", key))
					if cb != nil {
						cb("deleted", key, 0)
					}
				}
				scheduleReconcile()
			}

		case watchErr, ok := <-w.Errors:
			if !ok {
				return nil
			}
			logger.Error("watcher: error", slog.String("error", watchErr.Error()))
		}
	}
}
