// Package marks persists interaction values that were kept locally after a
// failure the server may or may not have applied. A mark survives restarts
// until the next refresh of its entity resolves it.
package marks

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/cockroachdb/pebble"

	"github.com/five82/threadline/internal/state"
)

var keyPrefix = []byte("mark:")

// Mark records a kept-but-unconfirmed field value.
type Mark struct {
	Entity   state.EntityID `json:"entity"`
	Field    state.Field    `json:"field"`
	Action   string         `json:"action"`
	Likes    []state.UserID `json:"likes,omitempty"`
	Dislikes []state.UserID `json:"dislikes,omitempty"`
	MarkedAt time.Time      `json:"marked_at"`
}

// Key returns the cache key the mark refers to.
func (m Mark) Key() state.Key {
	return state.Key{Entity: m.Entity, Field: m.Field}
}

// Value rebuilds the kept cache value.
func (m Mark) Value() state.Value {
	if m.Field == state.FieldReactions {
		return state.Reactions{Likes: state.NewUserSet(m.Likes...), Dislikes: state.NewUserSet(m.Dislikes...)}
	}
	return state.NewUserSet(m.Likes...)
}

// FromValue builds a mark for key holding v. Only user sets and reactions
// can be kept unconfirmed.
func FromValue(key state.Key, action string, v state.Value, at time.Time) (Mark, error) {
	m := Mark{Entity: key.Entity, Field: key.Field, Action: action, MarkedAt: at}
	switch val := v.(type) {
	case state.UserSet:
		m.Likes = val
	case state.Reactions:
		m.Likes = val.Likes
		m.Dislikes = val.Dislikes
	default:
		return Mark{}, fmt.Errorf("mark %s: unsupported value %T", key, v)
	}
	return m, nil
}

// Store is a pebble-backed mark store.
type Store struct {
	db *pebble.DB
}

// Open opens or creates the store in dir.
func Open(dir string) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(dir), 0o700); err != nil {
		return nil, fmt.Errorf("create marks dir: %w", err)
	}
	db, err := pebble.Open(dir, &pebble.Options{})
	if err != nil {
		return nil, fmt.Errorf("open marks: %w", err)
	}
	return &Store{db: db}, nil
}

// Close closes the underlying database.
func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// Put stores m, replacing any mark for the same key.
func (s *Store) Put(m Mark) error {
	raw, err := json.Marshal(m)
	if err != nil {
		return fmt.Errorf("encode mark: %w", err)
	}
	if err := s.db.Set(dbKey(m.Key()), raw, pebble.Sync); err != nil {
		return fmt.Errorf("write mark %s: %w", m.Key(), err)
	}
	return nil
}

// Get returns the mark for key. The bool is false when none exists.
func (s *Store) Get(key state.Key) (Mark, bool, error) {
	v, closer, err := s.db.Get(dbKey(key))
	if errors.Is(err, pebble.ErrNotFound) {
		return Mark{}, false, nil
	}
	if err != nil {
		return Mark{}, false, fmt.Errorf("read mark %s: %w", key, err)
	}
	defer func() { _ = closer.Close() }()

	var m Mark
	if err := json.Unmarshal(v, &m); err != nil {
		return Mark{}, false, fmt.Errorf("decode mark %s: %w", key, err)
	}
	return m, true, nil
}

// Delete removes the mark for key. Deleting a missing mark is not an error.
func (s *Store) Delete(key state.Key) error {
	if err := s.db.Delete(dbKey(key), pebble.Sync); err != nil {
		return fmt.Errorf("delete mark %s: %w", key, err)
	}
	return nil
}

// List returns every stored mark in key order.
func (s *Store) List() ([]Mark, error) {
	it, err := s.db.NewIter(&pebble.IterOptions{
		LowerBound: keyPrefix,
		UpperBound: prefixEnd(keyPrefix),
	})
	if err != nil {
		return nil, fmt.Errorf("iterate marks: %w", err)
	}
	defer func() { _ = it.Close() }()

	var out []Mark
	for ok := it.First(); ok; ok = it.Next() {
		var m Mark
		if err := json.Unmarshal(it.Value(), &m); err != nil {
			return nil, fmt.Errorf("decode mark %q: %w", it.Key(), err)
		}
		out = append(out, m)
	}
	return out, nil
}

func dbKey(key state.Key) []byte {
	return append(bytes.Clone(keyPrefix), key.String()...)
}

func prefixEnd(prefix []byte) []byte {
	end := bytes.Clone(prefix)
	end[len(end)-1]++
	return end
}
