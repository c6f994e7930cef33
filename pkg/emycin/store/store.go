// Package store defines persistence for consultation transcripts: the trace
// events and final findings of finished sessions. Knowledge bases themselves
// are never persisted here; they are declarations, not session state.
package store

import (
	"context"
	"time"
)

// Store records and retrieves consultation transcripts. Implementations must
// be safe for concurrent use: independent sessions may share one store.
type Store interface {
	Close() error

	SaveSession(ctx context.Context, s Session) error
	GetSession(ctx context.Context, id string) (Session, bool, error)
	ListSessions(ctx context.Context, limit int) ([]Summary, error)
}

// Session is one recorded consultation.
type Session struct {
	ID        string
	KB        string
	StartedAt time.Time
	Events    []Event
	Findings  []Finding
}

// Event is a flattened trace event.
type Event struct {
	Seq      int
	Kind     string
	Instance string
	Param    string
	RuleID   int
	CF       float64
	Detail   string
}

// Finding is one established goal value.
type Finding struct {
	Instance string
	Param    string
	Value    string
	CF       float64
}

// Summary identifies a stored session without its transcript.
type Summary struct {
	ID        string
	KB        string
	StartedAt time.Time
	Findings  int
}
