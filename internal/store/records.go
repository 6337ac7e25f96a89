package store

import (
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/goccy/go-json"
)

// Record helpers for the notification dispatcher's auxiliary rows:
// "notification:<id>" contexts and "remind-<id>" pending reminders.
// Each row is written when created and deleted once consumed.

// PutRecord stores v under key, replacing any previous value.
func (s *Store) PutRecord(key string, v any) error {
	raw, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("marshal record %q: %w", key, err)
	}
	if _, err := s.db.Exec(
		`INSERT INTO kv (key, value) VALUES (?, ?)
		 ON CONFLICT(key) DO UPDATE SET value = excluded.value`,
		key, raw,
	); err != nil {
		return fmt.Errorf("persist record %q: %w", key, err)
	}
	return nil
}

// GetRecord loads key into out. Returns false when the record does not
// exist or no longer decodes; both are benign lookup misses.
func (s *Store) GetRecord(key string, out any) (bool, error) {
	var raw []byte
	err := s.db.QueryRow(`SELECT value FROM kv WHERE key = ?`, key).Scan(&raw)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("load record %q: %w", key, err)
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return false, nil
	}
	return true, nil
}

// DeleteRecord removes key. Deleting an absent record is a no-op.
func (s *Store) DeleteRecord(key string) error {
	if _, err := s.db.Exec(`DELETE FROM kv WHERE key = ?`, key); err != nil {
		return fmt.Errorf("delete record %q: %w", key, err)
	}
	return nil
}

// RecordKeys lists keys with the given prefix, used at startup to restore
// pending reminder alarms.
func (s *Store) RecordKeys(prefix string) ([]string, error) {
	rows, err := s.db.Query(
		`SELECT key FROM kv WHERE key LIKE ? ESCAPE '\'`,
		escapeLike(prefix)+"%",
	)
	if err != nil {
		return nil, fmt.Errorf("list records %q: %w", prefix, err)
	}
	defer rows.Close()

	var keys []string
	for rows.Next() {
		var k string
		if err := rows.Scan(&k); err != nil {
			return nil, err
		}
		keys = append(keys, k)
	}
	return keys, rows.Err()
}

func escapeLike(s string) string {
	r := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)
	return r.Replace(s)
}
