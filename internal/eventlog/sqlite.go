package eventlog

import (
	"database/sql"
	"encoding/json"
	"os"
	"path/filepath"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"codeberg.org/wrenware/roverd/internal/errors"
)

const defaultDirPerm = 0o755

type sqliteStore struct {
	mu         sync.Mutex
	db         *sql.DB
	maxEntries int
	errFactory errors.Factory
}

func newSQLiteStore(path string, maxEntries int) (*sqliteStore, error) {
	errFactory := errors.New()

	if path == "" {
		return nil, errFactory.WithMessage(errors.ErrInitFailed, "event log path is empty")
	}

	if err := os.MkdirAll(filepath.Dir(path), defaultDirPerm); err != nil {
		return nil, errFactory.Wrap(errors.ErrInitFailed, err)
	}

	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, errFactory.Wrap(errors.ErrInitFailed, err)
	}

	if err := initSchema(db); err != nil {
		db.Close()
		return nil, err
	}

	return &sqliteStore{db: db, maxEntries: maxEntries, errFactory: errFactory}, nil
}

func initSchema(db *sql.DB) error {
	if _, err := db.Exec(`PRAGMA journal_mode=WAL`); err != nil {
		return errors.New().Wrap(errors.ErrInitFailed, err)
	}

	_, err := db.Exec(`
        CREATE TABLE IF NOT EXISTS events (
            seq INTEGER PRIMARY KEY AUTOINCREMENT,
            id TEXT NOT NULL,
            ts_unix INTEGER NOT NULL,
            kind TEXT NOT NULL,
            status TEXT NOT NULL,
            payload TEXT NOT NULL
        );
        CREATE INDEX IF NOT EXISTS events_kind ON events(kind, seq);
        CREATE INDEX IF NOT EXISTS events_ts ON events(ts_unix)
    `)
	if err != nil {
		return errors.New().Wrap(errors.ErrInitFailed, err)
	}

	return nil
}

func (s *sqliteStore) append(e Entry) error {
	payload, err := json.Marshal(e)
	if err != nil {
		return s.errFactory.Wrap(errors.ErrOperationFailed, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	_, err = s.db.Exec(`
        INSERT INTO events (id, ts_unix, kind, status, payload)
        VALUES (?, ?, ?, ?, ?)
    `, e.ID, e.Timestamp.UnixNano(), string(e.Kind), e.Status, string(payload))
	if err != nil {
		return s.errFactory.Wrap(errors.ErrOperationFailed, err)
	}

	if s.maxEntries > 0 {
		_, err = s.db.Exec(`
            DELETE FROM events WHERE seq NOT IN (
                SELECT seq FROM events ORDER BY seq DESC LIMIT ?
            )
        `, s.maxEntries)
		if err != nil {
			return s.errFactory.Wrap(errors.ErrOperationFailed, err)
		}
	}

	return nil
}

func (s *sqliteStore) query(kind Kind, limit int) ([]Entry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if limit <= 0 {
		limit = -1 // SQLite treats a negative LIMIT as unbounded
	}

	var (
		rows *sql.Rows
		err  error
	)
	if kind == "" {
		rows, err = s.db.Query(`
            SELECT payload FROM (
                SELECT seq, payload FROM events ORDER BY seq DESC LIMIT ?
            ) ORDER BY seq ASC
        `, limit)
	} else {
		rows, err = s.db.Query(`
            SELECT payload FROM (
                SELECT seq, payload FROM events WHERE kind = ? ORDER BY seq DESC LIMIT ?
            ) ORDER BY seq ASC
        `, string(kind), limit)
	}
	if err != nil {
		return nil, s.errFactory.Wrap(errors.ErrOperationFailed, err)
	}
	defer rows.Close()

	return scanEntries(rows)
}

func (s *sqliteStore) recent(cutoff time.Time) ([]Entry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rows, err := s.db.Query(`
        SELECT payload FROM events WHERE ts_unix >= ? ORDER BY seq ASC
    `, cutoff.UnixNano())
	if err != nil {
		return nil, s.errFactory.Wrap(errors.ErrOperationFailed, err)
	}
	defer rows.Close()

	return scanEntries(rows)
}

func scanEntries(rows *sql.Rows) ([]Entry, error) {
	errFactory := errors.New()

	var out []Entry
	for rows.Next() {
		var payload string
		if err := rows.Scan(&payload); err != nil {
			return nil, errFactory.Wrap(errors.ErrOperationFailed, err)
		}

		var e Entry
		if err := json.Unmarshal([]byte(payload), &e); err != nil {
			return nil, errFactory.Wrap(errors.ErrOperationFailed, err)
		}
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return nil, errFactory.Wrap(errors.ErrOperationFailed, err)
	}

	return out, nil
}

func (s *sqliteStore) clear() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, err := s.db.Exec(`DELETE FROM events`); err != nil {
		return s.errFactory.Wrap(errors.ErrOperationFailed, err)
	}

	return nil
}

func (s *sqliteStore) close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.db.Close(); err != nil {
		return s.errFactory.Wrap(errors.ErrShutdownFailed, err)
	}

	return nil
}
