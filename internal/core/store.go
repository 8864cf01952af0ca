package core

import (
	"context"
	"errors"
	"time"

	"github.com/huddlekit/huddle/internal/domain"
)

// ErrNotFound is returned by stores for missing records.
var ErrNotFound = errors.New("record not found")

// MeetingStore is the durable meeting record store. Persistence is an
// external collaborator; implementations must return copies so callers can
// mutate freely before Update.
type MeetingStore interface {
	CreateMeeting(ctx context.Context, m *domain.Meeting) error
	Meeting(ctx context.Context, id domain.MeetingID) (*domain.Meeting, error)
	MeetingByRoomCode(ctx context.Context, code string) (*domain.Meeting, error)
	UpdateMeeting(ctx context.Context, m *domain.Meeting) error
}

// SessionStore is the durable session record store.
type SessionStore interface {
	CreateSession(ctx context.Context, s *domain.Session) error
	Session(ctx context.Context, id domain.SessionID) (*domain.Session, error)
	// OpenSessions returns every session of the meeting with no LeftAt.
	OpenSessions(ctx context.Context, meetingID domain.MeetingID) ([]*domain.Session, error)
	// OpenSessionsOlderThan returns open sessions across all meetings whose
	// JoinedAt predates cutoff.
	OpenSessionsOlderThan(ctx context.Context, cutoff time.Time) ([]*domain.Session, error)
	UpdateSession(ctx context.Context, s *domain.Session) error
}

// Store bundles both record stores, the shape the coordinator is wired with.
type Store interface {
	MeetingStore
	SessionStore
}
