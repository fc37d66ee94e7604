// Package cursor tracks per-platform pagination cursors for one tab.
package cursor

import (
	"bytes"
	"sort"
	"sync"

	"github.com/conthunt/streamcore/internal/model"
)

// Excluded reports whether a platform is kept out of cursor pagination.
// Instagram is excluded by product policy; its cursors are never stored.
func Excluded(p model.Platform) bool {
	return p == model.PlatformInstagram
}

// Store maps platforms to opaque continuation tokens. A platform is present
// only while more pages may exist.
type Store struct {
	mu      sync.RWMutex
	cursors map[model.Platform]model.Cursor
}

// NewStore creates an empty store.
func NewStore() *Store {
	return &Store{cursors: make(map[model.Platform]model.Cursor)}
}

// Update records the next cursor of a platform. A nil or JSON-null cursor
// marks the platform exhausted. It reports whether the store changed.
func (s *Store) Update(p model.Platform, next model.Cursor) bool {
	if Excluded(p) {
		return false
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	return s.setLocked(p, next)
}

// Replace swaps the whole cursor set. Platforms missing from next are exhausted.
func (s *Store) Replace(next map[model.Platform]model.Cursor) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.cursors = make(map[model.Platform]model.Cursor, len(next))
	for p, c := range next {
		if Excluded(p) {
			continue
		}
		s.setLocked(p, c)
	}
}

// ReplaceFor swaps the cursors of the listed platforms only. A listed
// platform missing from next is exhausted; unlisted platforms keep theirs.
func (s *Store) ReplaceFor(platforms []model.Platform, next map[model.Platform]model.Cursor) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, p := range platforms {
		if Excluded(p) {
			continue
		}
		s.setLocked(p, next[p])
	}
}

// Get returns a copy of the platform's cursor.
func (s *Store) Get(p model.Platform) (model.Cursor, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	c, ok := s.cursors[p]
	if !ok {
		return nil, false
	}
	return clone(c), true
}

// HasMore reports whether any platform has a live cursor.
func (s *Store) HasMore() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.cursors) > 0
}

// Eligible returns copies of every live cursor, keyed by platform.
func (s *Store) Eligible() map[model.Platform]model.Cursor {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make(map[model.Platform]model.Cursor, len(s.cursors))
	for p, c := range s.cursors {
		out[p] = clone(c)
	}
	return out
}

// Platforms returns the platforms with live cursors in sorted order.
func (s *Store) Platforms() []model.Platform {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]model.Platform, 0, len(s.cursors))
	for p := range s.cursors {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// Reset drops every cursor.
func (s *Store) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cursors = make(map[model.Platform]model.Cursor)
}

func (s *Store) setLocked(p model.Platform, next model.Cursor) bool {
	prev, had := s.cursors[p]
	if !model.CursorLive(next) {
		delete(s.cursors, p)
		return had
	}
	s.cursors[p] = clone(next)
	return !had || !bytes.Equal(prev, next)
}

func clone(c model.Cursor) model.Cursor {
	if c == nil {
		return nil
	}
	return append(model.Cursor(nil), c...)
}
