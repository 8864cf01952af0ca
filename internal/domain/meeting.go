// Package domain contains entities without transport or lifecycle logic.
package domain

import "time"

type MeetingID string

type MeetingStatus string

const (
	MeetingWaiting   MeetingStatus = "waiting"
	MeetingActive    MeetingStatus = "active"
	MeetingEnded     MeetingStatus = "ended"
	MeetingCancelled MeetingStatus = "cancelled"
)

// Terminal reports whether no further sessions may join.
func (s MeetingStatus) Terminal() bool {
	return s == MeetingEnded || s == MeetingCancelled
}

type Meeting struct {
	ID           MeetingID `json:"id"`
	RoomCode     string    `json:"room_code"`
	HostIdentity string    `json:"host_identity"`
	Title        string    `json:"title,omitempty"`

	Status   MeetingStatus `json:"status"`
	Capacity int           `json:"capacity"`
	// CurrentParticipantCount is a derived counter: it must always equal the
	// number of open sessions referencing this meeting. The coordinator
	// re-stamps it inside the same critical section as every session mutation.
	CurrentParticipantCount int  `json:"current_participant_count"`
	Locked                  bool `json:"locked"`

	// PasswordHash is produced by the external identity service; the
	// coordinator only verifies against it.
	PasswordHash string `json:"-"`

	ScheduledAt *time.Time `json:"scheduled_at,omitempty"`
	CreatedAt   time.Time  `json:"created_at"`
	StartedAt   *time.Time `json:"started_at,omitempty"`
	EndedAt     *time.Time `json:"ended_at,omitempty"`

	DurationSeconds int64 `json:"duration_seconds,omitempty"`
}

// Activate marks the waiting → active transition. It fires exactly once, on
// the first admitted session; repeated calls are no-ops.
func (m *Meeting) Activate(now time.Time) {
	if m.Status != MeetingWaiting {
		return
	}
	m.Status = MeetingActive
	t := now
	m.StartedAt = &t
}

// End marks the meeting ended and stamps its duration. Duration is measured
// from StartedAt when the meeting went active, otherwise from CreatedAt.
func (m *Meeting) End(now time.Time) {
	if m.Status.Terminal() {
		return
	}
	m.Status = MeetingEnded
	t := now
	m.EndedAt = &t
	from := m.CreatedAt
	if m.StartedAt != nil {
		from = *m.StartedAt
	}
	m.DurationSeconds = int64(now.Sub(from).Seconds())
}
