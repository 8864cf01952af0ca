package domain

import "time"

type SessionID string

type Role string

const (
	RoleHost        Role = "host"
	RoleModerator   Role = "moderator"
	RoleParticipant Role = "participant"
	RoleGuest       Role = "guest"
)

type EndReason string

const (
	EndReasonLeft             EndReason = "left"
	EndReasonReplaced         EndReason = "replaced_by_new_session"
	EndReasonMeetingEnded     EndReason = "meeting_ended_by_host"
	EndReasonStaleCleanup     EndReason = "session_cleanup_stale"
	EndReasonConnectionClosed EndReason = "connection_closed"
)

// Session is one joined device/tab's participation record. Created and
// mutated exclusively by the coordinator.
type Session struct {
	ID        SessionID `json:"id"`
	MeetingID MeetingID `json:"meeting_id"`

	// Identity is the authenticated user id, empty for guests.
	Identity     string `json:"identity,omitempty"`
	DisplayName  string `json:"display_name"`
	DeviceID     string `json:"device_id,omitempty"`
	IPAddress    string `json:"-"`
	UserAgent    string `json:"-"`
	DeviceType   string `json:"device_type,omitempty"`
	SessionToken string `json:"session_token"`

	Role        Role        `json:"role"`
	Permissions Permissions `json:"permissions"`

	JoinedAt        time.Time  `json:"joined_at"`
	LeftAt          *time.Time `json:"left_at,omitempty"`
	DurationSeconds int64      `json:"duration_seconds,omitempty"`
	EndReason       EndReason  `json:"end_reason,omitempty"`
}

func (s *Session) Guest() bool { return s.Identity == "" }

func (s *Session) Open() bool { return s.LeftAt == nil }

// Close stamps LeftAt, DurationSeconds and EndReason atomically together.
// Closing an already-closed session is a no-op; it reports whether the call
// mutated the session.
func (s *Session) Close(now time.Time, reason EndReason) bool {
	if s.LeftAt != nil {
		return false
	}
	t := now
	s.LeftAt = &t
	s.DurationSeconds = int64(now.Sub(s.JoinedAt).Seconds())
	if s.DurationSeconds < 0 {
		s.DurationSeconds = 0
	}
	s.EndReason = reason
	return true
}

// Permissions is the role-indexed default rights set.
type Permissions struct {
	Moderate    bool `json:"moderate"`
	ShareMedia  bool `json:"share_media"`
	Record      bool `json:"record"`
	ShareScreen bool `json:"share_screen"`
	Chat        bool `json:"chat"`
}

// DefaultPermissions returns the default rights for a role: host and
// moderator get full moderation, media and recording rights; participants
// get content rights without moderation; guests get neither.
func DefaultPermissions(r Role) Permissions {
	switch r {
	case RoleHost, RoleModerator:
		return Permissions{Moderate: true, ShareMedia: true, Record: true, ShareScreen: true, Chat: true}
	case RoleParticipant:
		return Permissions{ShareMedia: true, ShareScreen: true, Chat: true}
	default:
		return Permissions{Chat: true}
	}
}

// AssignRole picks the role for a joining identity: the meeting owner is
// host, unauthenticated callers are guests, everyone else a participant.
func AssignRole(identity, hostIdentity string) Role {
	switch {
	case identity == "":
		return RoleGuest
	case identity == hostIdentity:
		return RoleHost
	default:
		return RoleParticipant
	}
}
