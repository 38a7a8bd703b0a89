package prefs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"maps"
	"os"
	"path/filepath"
	"sync"

	"github.com/fsnotify/fsnotify"
)

// filePerms restricts the prefs file to owner-only read/write; it holds
// API keys.
const filePerms = 0o600

// FileStore keeps preferences in a JSON object on disk. Every write
// replaces the file atomically. Values are cached in memory; Watch reloads
// the cache when another process rewrites the file.
type FileStore struct {
	path   string
	logger *slog.Logger

	mu     sync.Mutex
	values map[string]string
}

// OpenFile loads the store at path. A missing file is an empty store.
func OpenFile(path string, logger *slog.Logger) (*FileStore, error) {
	if logger == nil {
		logger = slog.Default()
	}

	values, err := readFile(path)
	if err != nil {
		return nil, err
	}

	return &FileStore{path: path, logger: logger, values: values}, nil
}

func readFile(path string) (map[string]string, error) {
	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return make(map[string]string), nil
	}

	if err != nil {
		return nil, fmt.Errorf("prefs: reading %s: %w", path, err)
	}

	values := make(map[string]string)
	if err := json.Unmarshal(data, &values); err != nil {
		return nil, fmt.Errorf("prefs: decoding %s: %w", path, err)
	}

	return values, nil
}

// Get returns the cached value of key.
func (f *FileStore) Get(_ context.Context, key string) (string, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	v, ok := f.values[key]

	return v, ok, nil
}

// GetMany returns the cached values of the keys that are set.
func (f *FileStore) GetMany(_ context.Context, keys ...string) (map[string]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	return pick(f.values, keys), nil
}

// Set stores one value via SetMany.
func (f *FileStore) Set(ctx context.Context, key, value string) error {
	return f.SetMany(ctx, map[string]string{key: value})
}

// SetMany writes the merged values to disk before updating the cache, so a
// failed write leaves the store unchanged.
func (f *FileStore) SetMany(_ context.Context, values map[string]string) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	next := maps.Clone(f.values)
	maps.Copy(next, values)

	if err := writeFile(f.path, next); err != nil {
		return err
	}

	f.values = next

	return nil
}

// Clear removes keys and rewrites the file. Missing keys are ignored.
func (f *FileStore) Clear(_ context.Context, keys ...string) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	next := maps.Clone(f.values)
	for _, k := range keys {
		delete(next, k)
	}

	if err := writeFile(f.path, next); err != nil {
		return err
	}

	f.values = next

	return nil
}

// Reload replaces the cache with the file's current contents.
func (f *FileStore) Reload() error {
	values, err := readFile(f.path)
	if err != nil {
		return err
	}

	f.mu.Lock()
	f.values = values
	f.mu.Unlock()

	return nil
}

// Watch reloads the store whenever the file is created, written or
// replaced, and calls onChange (if non-nil) after each reload. It blocks
// until ctx is canceled. The parent directory is watched because atomic
// replacement swaps the file's inode.
func (f *FileStore) Watch(ctx context.Context, onChange func()) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("prefs: creating watcher: %w", err)
	}
	defer watcher.Close()

	dir := filepath.Dir(f.path)
	if err := os.MkdirAll(dir, dirPerms); err != nil {
		return fmt.Errorf("prefs: creating directory %s: %w", dir, err)
	}

	if err := watcher.Add(dir); err != nil {
		return fmt.Errorf("prefs: watching %s: %w", dir, err)
	}

	target := filepath.Clean(f.path)

	for {
		select {
		case <-ctx.Done():
			return nil

		case ev, ok := <-watcher.Events:
			if !ok {
				return nil
			}

			if filepath.Clean(ev.Name) != target {
				continue
			}

			if !ev.Has(fsnotify.Create) && !ev.Has(fsnotify.Write) && !ev.Has(fsnotify.Rename) {
				continue
			}

			if err := f.Reload(); err != nil {
				f.logger.Warn("prefs reload failed", slog.String("error", err.Error()))
				continue
			}

			f.logger.Debug("prefs reloaded", slog.String("path", f.path))

			if onChange != nil {
				onChange()
			}

		case watchErr, ok := <-watcher.Errors:
			if !ok {
				return nil
			}

			f.logger.Warn("prefs watcher error", slog.String("error", watchErr.Error()))
		}
	}
}

// writeFile saves values atomically (temp file, fsync, rename) with 0600
// permissions.
func writeFile(path string, values map[string]string) error {
	data, err := json.MarshalIndent(values, "", "  ")
	if err != nil {
		return fmt.Errorf("prefs: encoding: %w", err)
	}

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, dirPerms); err != nil {
		return fmt.Errorf("prefs: creating directory %s: %w", dir, err)
	}

	tmp, err := os.CreateTemp(dir, ".prefs-*.tmp")
	if err != nil {
		return fmt.Errorf("prefs: creating temp file: %w", err)
	}

	tmpPath := tmp.Name()

	success := false
	defer func() {
		if !success {
			_ = os.Remove(tmpPath)
		}
	}()

	if err := os.Chmod(tmpPath, filePerms); err != nil {
		tmp.Close()
		return fmt.Errorf("prefs: setting permissions: %w", err)
	}

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("prefs: writing: %w", err)
	}

	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("prefs: syncing: %w", err)
	}

	if err := tmp.Close(); err != nil {
		return fmt.Errorf("prefs: closing: %w", err)
	}

	if err := os.Rename(tmpPath, path); err != nil {
		return fmt.Errorf("prefs: renaming: %w", err)
	}

	success = true

	return nil
}
