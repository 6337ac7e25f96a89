// Package store owns the durable daemon state: the global tab mapping
// plus the notification dispatcher's auxiliary records. Everything lives
// in one SQLite key/value table so a restarted daemon reconstructs its
// world from disk. All mutation goes through Mutate/MutateAll/
// CreateIfAbsent/Remove; each mutation persists before it broadcasts.
package store

import (
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/goccy/go-json"
	_ "modernc.org/sqlite"

	"runbell/internal/runstate"
)

// ErrTabNotFound is returned when a mutation targets an untracked tab.
var ErrTabNotFound = errors.New("store: tab not found")

// globalKey is the kv key holding the entire tab mapping as one record.
const globalKey = "globalState"

// Broadcaster receives the full state snapshot after every persisted
// mutation.
type Broadcaster interface {
	BroadcastState(g runstate.Global)
}

// Store is the single source of truth for tab state.
type Store struct {
	mu     sync.Mutex
	db     *sql.DB
	global runstate.Global
	loaded bool
	cast   Broadcaster
}

// Open opens (creating if needed) the state database at path.
func Open(path string) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create state dir: %w", err)
	}

	dsn := fmt.Sprintf("file:%s?_busy_timeout=5000&_journal_mode=WAL", path)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open state db: %w", err)
	}

	if _, err := db.Exec(`CREATE TABLE IF NOT EXISTS kv (
		key   TEXT PRIMARY KEY,
		value BLOB NOT NULL
	)`); err != nil {
		db.Close()
		return nil, fmt.Errorf("create kv table: %w", err)
	}

	return &Store{db: db}, nil
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}

// SetBroadcaster injects the fan-out sink. May be nil (tests).
func (s *Store) SetBroadcaster(b Broadcaster) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cast = b
}

// Load reads the persisted global state. Missing or unreadable records
// load as an empty mapping; partial shapes decode field-by-field.
func (s *Store) Load() (runstate.Global, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.ensureLoaded(); err != nil {
		return nil, err
	}
	return s.global.Clone(), nil
}

// ensureLoaded populates the in-memory cache from disk once.
// Must be called with s.mu held.
func (s *Store) ensureLoaded() error {
	if s.loaded {
		return nil
	}

	s.global = make(runstate.Global)
	var raw []byte
	err := s.db.QueryRow(`SELECT value FROM kv WHERE key = ?`, globalKey).Scan(&raw)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		// First run, nothing persisted yet.
	case err != nil:
		return fmt.Errorf("load global state: %w", err)
	default:
		// A corrupt record is treated as absent rather than fatal;
		// the daemon starts fresh instead of refusing to start.
		var g runstate.Global
		if jerr := json.Unmarshal(raw, &g); jerr == nil && g != nil {
			s.global = g
		}
	}

	s.loaded = true
	return nil
}

// persistAndBroadcast writes the global record, then fans out a snapshot.
// A persist failure skips the broadcast so observers never see state that
// was not durably written. Must be called with s.mu held.
func (s *Store) persistAndBroadcast() error {
	raw, err := json.Marshal(s.global)
	if err != nil {
		return fmt.Errorf("marshal global state: %w", err)
	}
	if _, err := s.db.Exec(
		`INSERT INTO kv (key, value) VALUES (?, ?)
		 ON CONFLICT(key) DO UPDATE SET value = excluded.value`,
		globalKey, raw,
	); err != nil {
		return fmt.Errorf("persist global state: %w", err)
	}

	if s.cast != nil {
		s.cast.BroadcastState(s.global.Clone())
	}
	return nil
}

// Mutate applies fn to one tab's state, persists, broadcasts, and returns
// fn's result. ErrTabNotFound when the tab is untracked.
func (s *Store) Mutate(tabID int, fn func(*runstate.TabState) any) (any, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.ensureLoaded(); err != nil {
		return nil, err
	}

	ts, ok := s.global[tabID]
	if !ok {
		return nil, ErrTabNotFound
	}

	out := fn(ts)
	if err := s.persistAndBroadcast(); err != nil {
		return out, err
	}
	return out, nil
}

// MutateAll applies fn to the whole mapping. fn reports whether anything
// changed; unchanged passes skip the write and broadcast.
func (s *Store) MutateAll(fn func(runstate.Global) bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.ensureLoaded(); err != nil {
		return err
	}

	if !fn(s.global) {
		return nil
	}
	return s.persistAndBroadcast()
}

// CreateIfAbsent ensures a TabState exists. An existing tab gets its
// window refreshed (tabs move between windows) and its indicator forced
// visible, covering page reloads reconnecting to a tracked tab.
func (s *Store) CreateIfAbsent(tabID, windowID int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.ensureLoaded(); err != nil {
		return err
	}

	if ts, ok := s.global[tabID]; ok {
		ts.WindowID = windowID
		ts.IsVisible = true
	} else {
		s.global[tabID] = runstate.New(tabID, windowID)
	}
	return s.persistAndBroadcast()
}

// Remove deletes a tab's entry entirely (tab closed).
func (s *Store) Remove(tabID int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.ensureLoaded(); err != nil {
		return err
	}

	if _, ok := s.global[tabID]; !ok {
		return nil
	}
	delete(s.global, tabID)
	return s.persistAndBroadcast()
}

// Snapshot returns a copy of the current global state.
func (s *Store) Snapshot() (runstate.Global, error) {
	return s.Load()
}
