package eventlog

import "time"

// store is the persistence contract shared by the SQLite repository and the
// in-memory fallback. Implementations bound their own size: once maxEntries
// is reached the oldest entries are evicted first.
type store interface {
	append(e Entry) error
	// query returns up to limit entries of the given kind (empty kind
	// means all kinds) in chronological order, keeping the newest when
	// trimming.
	query(kind Kind, limit int) ([]Entry, error)
	// recent returns all entries at or after the cutoff in chronological
	// order.
	recent(cutoff time.Time) ([]Entry, error)
	clear() error
	close() error
}
