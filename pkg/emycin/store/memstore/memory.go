// Package memstore is an in-memory transcript store, used in tests and as
// the default when no database path is configured.
package memstore

import (
	"context"
	"sort"
	"sync"

	"github.com/gene-999/emycin/pkg/emycin/store"
)

// Store is an in-memory implementation of store.Store.
type Store struct {
	mu       sync.RWMutex
	sessions map[string]store.Session
}

// New creates a new in-memory store.
func New() *Store {
	return &Store{
		sessions: make(map[string]store.Session),
	}
}

// Close implements store.Store.
func (s *Store) Close() error { return nil }

// SaveSession stores a transcript, keyed by session ID.
func (s *Store) SaveSession(ctx context.Context, rec store.Session) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sessions[rec.ID] = copySession(rec)
	return nil
}

// GetSession returns a transcript by session ID.
func (s *Store) GetSession(ctx context.Context, id string) (store.Session, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.sessions[id]
	if !ok {
		return store.Session{}, false, nil
	}
	return copySession(rec), true, nil
}

// ListSessions returns summaries, most recent first.
func (s *Store) ListSessions(ctx context.Context, limit int) ([]store.Summary, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]store.Summary, 0, len(s.sessions))
	for _, rec := range s.sessions {
		out = append(out, store.Summary{
			ID:        rec.ID,
			KB:        rec.KB,
			StartedAt: rec.StartedAt,
			Findings:  len(rec.Findings),
		})
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].StartedAt.Equal(out[j].StartedAt) {
			return out[i].StartedAt.After(out[j].StartedAt)
		}
		return out[i].ID > out[j].ID
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func copySession(rec store.Session) store.Session {
	out := rec
	out.Events = append([]store.Event(nil), rec.Events...)
	out.Findings = append([]store.Finding(nil), rec.Findings...)
	return out
}
