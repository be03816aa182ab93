package eventlog

import (
	"time"

	"codeberg.org/wrenware/roverd/internal/errors"
	"codeberg.org/wrenware/roverd/internal/logger"
)

const defaultMaxEntries = 1000

type Config struct {
	// Path is the SQLite database file. Empty selects the in-memory
	// store directly.
	Path string
	// MaxEntries bounds the log; oldest entries are evicted first.
	MaxEntries int
}

// Stats summarizes the log.
type Stats struct {
	Total    int            `json:"total"`
	ByKind   map[Kind]int   `json:"by_kind"`
	ByStatus map[string]int `json:"by_status"`
	LastHour int            `json:"last_hour"`
	Degraded bool           `json:"degraded"`
}

// Log is the append-only event journal. Appends are synchronous: when
// Append returns nil the entry has been committed.
type Log struct {
	store    store
	degraded bool
}

// New opens the journal. When persistent storage cannot be opened the log
// degrades to a bounded in-memory store rather than failing, so a corrupt
// database never takes recording down with it.
func New(cfg Config) *Log {
	if cfg.MaxEntries <= 0 {
		cfg.MaxEntries = defaultMaxEntries
	}

	if cfg.Path != "" {
		s, err := newSQLiteStore(cfg.Path, cfg.MaxEntries)
		if err == nil {
			return &Log{store: s}
		}
		logger.Warn().Err(err).Str("path", cfg.Path).
			Msg("event storage unavailable, continuing in memory")
	}

	return &Log{store: newMemoryStore(cfg.MaxEntries), degraded: true}
}

// Degraded reports whether the log fell back to in-memory storage.
func (l *Log) Degraded() bool {
	return l.degraded
}

// Append commits one entry. Invalid kinds are rejected.
func (l *Log) Append(e Entry) error {
	if !e.Kind.valid() {
		return errors.New().WithData(errors.ErrUnknownKind, string(e.Kind))
	}

	return l.store.append(e)
}

// Query returns up to limit entries of the given kind in chronological
// order, newest retained. An empty kind matches everything; a zero limit
// applies a sane default.
func (l *Log) Query(kind Kind, limit int) ([]Entry, error) {
	if kind != "" && !kind.valid() {
		return nil, errors.New().WithData(errors.ErrUnknownKind, string(kind))
	}
	if limit <= 0 {
		limit = defaultMaxEntries
	}

	return l.store.query(kind, limit)
}

// Recent returns all entries from the past window in chronological order.
func (l *Log) Recent(window time.Duration) ([]Entry, error) {
	return l.store.recent(time.Now().Add(-window))
}

// Stats counts entries per kind and status, plus last-hour activity.
func (l *Log) Stats() (Stats, error) {
	entries, err := l.store.query("", 0)
	if err != nil {
		return Stats{}, err
	}

	stats := Stats{
		Total:    len(entries),
		ByKind:   make(map[Kind]int),
		ByStatus: make(map[string]int),
		Degraded: l.degraded,
	}
	hourAgo := time.Now().Add(-time.Hour)
	for _, e := range entries {
		stats.ByKind[e.Kind]++
		stats.ByStatus[e.Status]++
		if e.Timestamp.After(hourAgo) {
			stats.LastHour++
		}
	}

	return stats, nil
}

// Clear drops every entry.
func (l *Log) Clear() error {
	return l.store.clear()
}

// Close releases the underlying store.
func (l *Log) Close() error {
	return l.store.close()
}
