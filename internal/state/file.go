package state

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
)

// FileStore persists state as a JSON object of "subject:<id>:<kind>" to
// ordered id lists. Writes go to a temp file in the same directory which is
// fsynced and renamed over the target.
type FileStore struct {
	path   string
	logger *slog.Logger
}

// DefaultFilePath returns ~/.local/share/growrelay/state.json.
func DefaultFilePath() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("resolving home directory: %w", err)
	}
	return filepath.Join(home, ".local", "share", "growrelay", "state.json"), nil
}

// NewFileStore returns a store backed by the file at path. The file need not exist.
func NewFileStore(path string, logger *slog.Logger) *FileStore {
	return &FileStore{path: path, logger: logger}
}

// Path returns the backing file path.
func (f *FileStore) Path() string { return f.path }

// Load reads the state file. A missing file is an empty state; an unreadable
// or corrupt file is logged and also treated as empty.
func (f *FileStore) Load(_ context.Context) *SyncState {
	data, err := os.ReadFile(f.path)
	if errors.Is(err, fs.ErrNotExist) {
		f.logger.Debug("no state file yet", "path", f.path)
		return New()
	}
	if err != nil {
		f.logger.Warn("state file unreadable, starting empty", "path", f.path, "error", err)
		return New()
	}

	var raw map[string][]string
	if err := json.Unmarshal(data, &raw); err != nil {
		f.logger.Warn("state file corrupt, starting empty", "path", f.path, "error", err)
		return New()
	}

	names := make([]string, 0, len(raw))
	for name := range raw {
		names = append(names, name)
	}
	sort.Strings(names)

	st := New()
	for _, name := range names {
		k, err := ParseKey(name)
		if err != nil {
			f.logger.Warn("skipping state key", "key", name, "error", err)
			continue
		}
		st.Merge(k, raw[name])
	}
	return st
}

// Save atomically replaces the state file with st.
func (f *FileStore) Save(_ context.Context, st *SyncState) error {
	dir := filepath.Dir(f.path)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return fmt.Errorf("creating state directory: %w", err)
	}

	data, err := json.MarshalIndent(st.Map(), "", "  ")
	if err != nil {
		return fmt.Errorf("encoding state: %w", err)
	}

	tmp, err := os.CreateTemp(dir, ".state-*.tmp")
	if err != nil {
		return fmt.Errorf("creating temp state file: %w", err)
	}
	tmpPath := tmp.Name()
	defer func() { _ = os.Remove(tmpPath) }()

	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("writing temp state file: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("syncing temp state file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("closing temp state file: %w", err)
	}
	if err := os.Rename(tmpPath, f.path); err != nil {
		return fmt.Errorf("replacing state file: %w", err)
	}
	return nil
}
