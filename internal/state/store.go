package state

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	_ "github.com/mattn/go-sqlite3" // SQLite driver

	"github.com/njoerd114/growrelay/internal/model"
)

const schema = `
CREATE TABLE IF NOT EXISTS seen_records (
    subject_id TEXT    NOT NULL,
    kind       TEXT    NOT NULL,
    record_id  TEXT    NOT NULL,
    position   INTEGER NOT NULL,
    PRIMARY KEY (subject_id, kind, record_id)
);

CREATE INDEX IF NOT EXISTS idx_seen_order ON seen_records (subject_id, kind, position);
`

// Store is the SQLite-backed state repository. Only this package opens or
// queries the database.
type Store struct {
	db     *sql.DB
	path   string
	logger *slog.Logger
}

// DefaultDBPath returns the default path for the state database:
// ~/.local/share/growrelay/state.db
func DefaultDBPath() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("resolving home directory: %w", err)
	}
	return filepath.Join(home, ".local", "share", "growrelay", "state.db"), nil
}

// Open opens (or creates) the SQLite database at path, applies the schema, and
// configures WAL mode.
func Open(path string, logger *slog.Logger) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return nil, fmt.Errorf("creating state directory: %w", err)
	}

	db, err := sql.Open("sqlite3", path+"?_journal_mode=WAL")
	if err != nil {
		return nil, fmt.Errorf("opening database %q: %w", path, err)
	}

	// Single writer to avoid SQLITE_BUSY under WAL.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("applying schema: %w", err)
	}

	return &Store{db: db, path: path, logger: logger}, nil
}

// Close releases the underlying database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// Path returns the database file path.
func (s *Store) Path() string { return s.path }

// Load reads the full seen-record set. Any read error is logged and an empty
// state is returned.
func (s *Store) Load(ctx context.Context) *SyncState {
	st, err := s.load(ctx)
	if err != nil {
		s.logger.Warn("state unreadable, starting empty", "path", s.path, "error", err)
		return New()
	}
	return st
}

func (s *Store) load(ctx context.Context) (*SyncState, error) {
	const q = `
		SELECT subject_id, kind, record_id
		FROM seen_records
		ORDER BY subject_id, kind, position`
	rows, err := s.db.QueryContext(ctx, q)
	if err != nil {
		return nil, fmt.Errorf("querying seen records: %w", err)
	}
	defer func() { _ = rows.Close() }()

	st := New()
	for rows.Next() {
		var subject, kind, id string
		if err := rows.Scan(&subject, &kind, &id); err != nil {
			return nil, fmt.Errorf("scanning seen record: %w", err)
		}
		k, err := model.ParseKind(kind)
		if err != nil {
			s.logger.Warn("skipping seen record with unknown kind",
				"subject", subject, "kind", kind, "record_id", id)
			continue
		}
		st.Merge(Key{SubjectID: subject, Kind: k}, []string{id})
	}
	return st, rows.Err()
}

// Save writes st in a single transaction. Rows already present are kept, so
// the persisted set only grows even if st was loaded from a failed read. New
// rows are positioned after the key's existing rows.
func (s *Store) Save(ctx context.Context, st *SyncState) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning state transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT OR IGNORE INTO seen_records (subject_id, kind, record_id, position)
		SELECT ?, ?, ?, COALESCE(MAX(position) + 1, 0)
		FROM seen_records
		WHERE subject_id = ? AND kind = ?`)
	if err != nil {
		return fmt.Errorf("preparing insert: %w", err)
	}
	defer func() { _ = stmt.Close() }()

	for _, k := range st.Keys() {
		for _, id := range st.ids[k] {
			if _, err := stmt.ExecContext(ctx, k.SubjectID, string(k.Kind), id, k.SubjectID, string(k.Kind)); err != nil {
				return fmt.Errorf("writing %s/%s: %w", k, id, err)
			}
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing state: %w", err)
	}
	return nil
}

// Stats returns the number of non-empty keys and the total number of ids.
func (s *Store) Stats(ctx context.Context) (keys, ids int, err error) {
	const q = `
		SELECT COUNT(DISTINCT subject_id || ':' || kind), COUNT(*)
		FROM seen_records`
	if err := s.db.QueryRowContext(ctx, q).Scan(&keys, &ids); err != nil {
		return 0, 0, fmt.Errorf("counting seen records: %w", err)
	}
	return keys, ids, nil
}
