package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/starford/marker/internal/apperr"
	"github.com/starford/marker/internal/checksum"
	"github.com/starford/marker/internal/models"
)

const (
	pagesDir = "pages"
	fileExt  = ".json"
	tmpGlob  = ".marker-tmp-*"
)

// pageFile is the on-disk layout of one page's highlights.
type pageFile struct {
	PageKey string                   `json:"page_key"`
	Records []models.HighlightRecord `json:"records"`
}

// FS implements Provider with one JSON file per page.
type FS struct {
	root string // absolute path to the store directory
}

// NewFS creates a new FS provider rooted at the given directory.
// The directory must already exist; the pages subdirectory is created.
func NewFS(root string) (*FS, error) {
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("storage: resolve root: %w", err)
	}
	info, err := os.Stat(abs)
	if err != nil {
		return nil, fmt.Errorf("storage: stat root: %w", err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("storage: root is not a directory: %s", abs)
	}
	if err := os.MkdirAll(filepath.Join(abs, pagesDir), 0o755); err != nil {
		return nil, fmt.Errorf("storage: mkdir pages: %w", err)
	}
	return &FS{root: abs}, nil
}

// Dir returns the directory holding the page files.
func (f *FS) Dir() string {
	return filepath.Join(f.root, pagesDir)
}

// FileName returns the file name a page key is stored under.
func FileName(key string) string {
	return checksum.SumString(key) + fileExt
}

// IsPageFile reports whether name looks like a page file.
func IsPageFile(name string) bool {
	base := filepath.Base(name)
	return strings.HasSuffix(base, fileExt) && !strings.HasPrefix(base, ".")
}

// safeName resolves a plain page file name under the pages directory and
// rejects anything with path separators or traversal.
func (f *FS) safeName(name string) (string, error) {
	cleaned := filepath.Clean(name)
	if name == "" || cleaned != filepath.Base(cleaned) || strings.Contains(cleaned, "..") {
		return "", fmt.Errorf("storage: invalid page file name: %s", name)
	}
	return filepath.Join(f.Dir(), cleaned), nil
}

// Load returns the records stored for key.
func (f *FS) Load(ctx context.Context, key string) ([]models.HighlightRecord, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	pf, _, err := f.readFile(FileName(key))
	if errors.Is(err, os.ErrNotExist) {
		return []models.HighlightRecord{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("storage: load %q: %w: %w", key, apperr.ErrPersistence, err)
	}
	if pf.PageKey != key {
		return nil, fmt.Errorf("storage: load %q: %w: file holds key %q", key, apperr.ErrPersistence, pf.PageKey)
	}
	return pf.Records, nil
}

// ReadFile reads a page file by name, returning the key it holds, its
// records and the file checksum.
func (f *FS) ReadFile(name string) (string, []models.HighlightRecord, string, error) {
	pf, sum, err := f.readFile(filepath.Base(name))
	if err != nil {
		return "", nil, "", err
	}
	return pf.PageKey, pf.Records, sum, nil
}

func (f *FS) readFile(name string) (*pageFile, string, error) {
	abs, err := f.safeName(name)
	if err != nil {
		return nil, "", err
	}
	data, err := os.ReadFile(abs)
	if err != nil {
		return nil, "", err
	}
	var pf pageFile
	if err := json.Unmarshal(data, &pf); err != nil {
		return nil, "", fmt.Errorf("decode %s: %w", name, err)
	}
	if pf.Records == nil {
		pf.Records = []models.HighlightRecord{}
	}
	return &pf, checksum.Sum(data), nil
}

// Save atomically writes the record list for key: tmp file → fsync → rename.
func (f *FS) Save(ctx context.Context, key string, records []models.HighlightRecord) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if records == nil {
		records = []models.HighlightRecord{}
	}
	data, err := json.MarshalIndent(pageFile{PageKey: key, Records: records}, "", "  ")
	if err != nil {
		return fmt.Errorf("storage: encode %q: %w: %w", key, apperr.ErrPersistence, err)
	}
	if err := f.write(FileName(key), data); err != nil {
		return fmt.Errorf("storage: save %q: %w: %w", key, apperr.ErrPersistence, err)
	}
	return nil
}

func (f *FS) write(name string, content []byte) error {
	abs, err := f.safeName(name)
	if err != nil {
		return err
	}
	dir := filepath.Dir(abs)

	tmp, err := os.CreateTemp(dir, tmpGlob)
	if err != nil {
		return fmt.Errorf("create temp: %w", err)
	}
	tmpName := tmp.Name()

	// Clean up on any failure path.
	success := false
	defer func() {
		if !success {
			_ = tmp.Close()
			_ = os.Remove(tmpName)
		}
	}()

	if _, err := tmp.Write(content); err != nil {
		return fmt.Errorf("write temp: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		return fmt.Errorf("fsync: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close temp: %w", err)
	}
	if err := os.Rename(tmpName, abs); err != nil {
		return fmt.Errorf("rename: %w", err)
	}
	success = true
	return nil
}

// Page summarizes the file stored for key.
func (f *FS) Page(ctx context.Context, key string) (models.PageSummary, error) {
	if err := ctx.Err(); err != nil {
		return models.PageSummary{}, err
	}
	name := FileName(key)
	abs, err := f.safeName(name)
	if err != nil {
		return models.PageSummary{}, err
	}
	info, err := os.Stat(abs)
	if errors.Is(err, os.ErrNotExist) {
		return models.PageSummary{}, fmt.Errorf("storage: page %q: %w", key, apperr.ErrNotFound)
	}
	if err != nil {
		return models.PageSummary{}, fmt.Errorf("storage: page %q: %w: %w", key, apperr.ErrPersistence, err)
	}
	pf, sum, err := f.readFile(name)
	if err != nil {
		return models.PageSummary{}, fmt.Errorf("storage: page %q: %w: %w", key, apperr.ErrPersistence, err)
	}
	return models.PageSummary{
		Key:       pf.PageKey,
		Checksum:  sum,
		Count:     len(pf.Records),
		UpdatedAt: info.ModTime(),
	}, nil
}

// Pages lists every stored page with its record count and file checksum.
func (f *FS) Pages(ctx context.Context) ([]models.PageSummary, error) {
	entries, err := os.ReadDir(f.Dir())
	if err != nil {
		return nil, fmt.Errorf("storage: list: %w: %w", apperr.ErrPersistence, err)
	}
	var out []models.PageSummary
	for _, e := range entries {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if e.IsDir() || !IsPageFile(e.Name()) {
			continue
		}
		info, err := e.Info()
		if err != nil {
			return nil, fmt.Errorf("storage: list: %w: %w", apperr.ErrPersistence, err)
		}
		pf, sum, err := f.readFile(e.Name())
		if err != nil {
			return nil, fmt.Errorf("storage: list: %w: %w", apperr.ErrPersistence, err)
		}
		out = append(out, models.PageSummary{
			Key:       pf.PageKey,
			Checksum:  sum,
			Count:     len(pf.Records),
			UpdatedAt: info.ModTime(),
		})
	}
	return out, nil
}
