// Package coordinator is the server-side authority for meeting and session
// lifecycle: join admission, identity deduplication, capacity, role
// assignment, and termination.
package coordinator

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/huddlekit/huddle/internal/core"
	"github.com/huddlekit/huddle/internal/domain"
	"github.com/huddlekit/huddle/internal/metrics"
)

// RosterNotifier receives authoritative join/leave decisions so the hub can
// fan them out to connected participants. All methods are called after the
// store mutation committed; implementations must not call back into the
// coordinator synchronously.
type RosterNotifier interface {
	ParticipantJoined(meeting *domain.Meeting, s *domain.Session)
	ParticipantLeft(meetingID domain.MeetingID, s *domain.Session)
	MeetingEnded(meeting *domain.Meeting)
}

type Config struct {
	DefaultCapacity  int
	RoomCodeAttempts int
}

func (c *Config) withDefaults() {
	if c.DefaultCapacity <= 0 {
		c.DefaultCapacity = 16
	}
	if c.RoomCodeAttempts <= 0 {
		c.RoomCodeAttempts = 5
	}
}

type Coordinator struct {
	store     core.Store
	ids       core.IdentityResolver
	passwords core.PasswordVerifier
	locks     *meetingLocks
	notify    RosterNotifier
	cfg       Config

	// now is swappable for tests.
	now func() time.Time
}

func New(st core.Store, ids core.IdentityResolver, passwords core.PasswordVerifier, cfg Config) *Coordinator {
	cfg.withDefaults()
	return &Coordinator{
		store:     st,
		ids:       ids,
		passwords: passwords,
		locks:     newMeetingLocks(),
		cfg:       cfg,
		now:       time.Now,
	}
}

// SetNotifier binds the fan-out sink. Wired once at startup; nil is valid
// and disables notifications.
func (c *Coordinator) SetNotifier(n RosterNotifier) { c.notify = n }

// MeetingConfig is the caller-supplied shape of a new meeting.
type MeetingConfig struct {
	Title        string     `json:"title,omitempty"`
	Capacity     int        `json:"capacity,omitempty"`
	PasswordHash string     `json:"password_hash,omitempty"`
	ScheduledAt  *time.Time `json:"scheduled_at,omitempty"`
	Locked       bool       `json:"locked,omitempty"`
}

// CreateMeeting creates a waiting meeting with a fresh room code.
func (c *Coordinator) CreateMeeting(ctx context.Context, ownerIdentity string, cfg MeetingConfig) (*domain.Meeting, error) {
	if ownerIdentity == "" {
		return nil, core.E(core.CodeInvalidInput, "owner identity is required")
	}
	now := c.now()
	if cfg.ScheduledAt != nil && !cfg.ScheduledAt.After(now) {
		return nil, core.E(core.CodeInvalidScheduleTime, "scheduled start time must be in the future")
	}
	capacity := cfg.Capacity
	if capacity <= 0 {
		capacity = c.cfg.DefaultCapacity
	}

	code, err := c.freshRoomCode(ctx)
	if err != nil {
		return nil, err
	}

	m := &domain.Meeting{
		ID:           domain.MeetingID(uuid.NewString()),
		RoomCode:     code,
		HostIdentity: ownerIdentity,
		Title:        cfg.Title,
		Status:       domain.MeetingWaiting,
		Capacity:     capacity,
		Locked:       cfg.Locked,
		PasswordHash: cfg.PasswordHash,
		ScheduledAt:  cfg.ScheduledAt,
		CreatedAt:    now,
	}
	if err := c.store.CreateMeeting(ctx, m); err != nil {
		return nil, core.E(core.CodeInternal, "failed to persist meeting").WithCause(err)
	}
	log.Info().Str("module", "coordinator").Str("meeting", string(m.ID)).Str("room_code", m.RoomCode).Msg("meeting created")
	return m, nil
}

func (c *Coordinator) freshRoomCode(ctx context.Context) (string, error) {
	for i := 0; i < c.cfg.RoomCodeAttempts; i++ {
		code := domain.NewRoomCode()
		_, err := c.store.MeetingByRoomCode(ctx, code)
		if errors.Is(err, core.ErrNotFound) {
			return code, nil
		}
		if err != nil {
			return "", core.E(core.CodeInternal, "room code lookup failed").WithCause(err)
		}
	}
	return "", core.E(core.CodeInternal, "could not generate an unused room code")
}

// Meeting returns a read-only snapshot of a meeting.
func (c *Coordinator) Meeting(ctx context.Context, id domain.MeetingID) (*domain.Meeting, error) {
	m, err := c.store.Meeting(ctx, id)
	if errors.Is(err, core.ErrNotFound) {
		return nil, core.E(core.CodeMeetingNotFound, "meeting not found")
	}
	if err != nil {
		return nil, core.E(core.CodeInternal, "meeting lookup failed").WithCause(err)
	}
	return m, nil
}

// Session returns a read-only snapshot of a session.
func (c *Coordinator) Session(ctx context.Context, id domain.SessionID) (*domain.Session, error) {
	s, err := c.store.Session(ctx, id)
	if errors.Is(err, core.ErrNotFound) {
		return nil, core.E(core.CodeInvalidInput, "unknown session")
	}
	if err != nil {
		return nil, core.E(core.CodeInternal, "session lookup failed").WithCause(err)
	}
	return s, nil
}

// JoinRequest is the client → coordinator join call.
type JoinRequest struct {
	RoomCode      string               `json:"room_code"`
	Password      string               `json:"password,omitempty"`
	IdentityToken string               `json:"identity_token,omitempty"`
	GuestName     string               `json:"guest_name,omitempty"`
	Device        domain.DeviceContext `json:"device_context"`
	ForceJoin     bool                 `json:"force_join,omitempty"`
}

// JoinResult carries the authoritative admission decision.
type JoinResult struct {
	Meeting *domain.Meeting `json:"meeting"`
	Session *domain.Session `json:"session"`
	// Roster lists the other open sessions; the client creates one peer
	// link per entry.
	Roster           []*domain.Session `json:"roster"`
	ReplacedExisting bool              `json:"replaced_existing"`
}

// Join admits a device into a meeting. The dedup-then-capacity sequence runs
// under the per-meeting lock; see the package tests for the exact contract.
func (c *Coordinator) Join(ctx context.Context, req JoinRequest) (*JoinResult, error) {
	res, err := c.join(ctx, req)
	if err != nil {
		metrics.JoinsTotal.WithLabelValues(string(core.CodeOf(err))).Inc()
		return nil, err
	}
	metrics.JoinsTotal.WithLabelValues("ok").Inc()
	return res, nil
}

func (c *Coordinator) join(ctx context.Context, req JoinRequest) (*JoinResult, error) {
	code := domain.NormalizeRoomCode(req.RoomCode)
	if code == "" {
		return nil, core.E(core.CodeInvalidInput, "room code is required")
	}

	identity, err := c.ids.Resolve(ctx, req.IdentityToken)
	if err != nil {
		return nil, core.E(core.CodeNotAuthorized, "identity token rejected").WithCause(err)
	}
	displayName := identity
	if req.GuestName != "" {
		displayName = req.GuestName
	}
	if displayName == "" {
		displayName = "guest"
	}

	probe, err := c.store.MeetingByRoomCode(ctx, code)
	if errors.Is(err, core.ErrNotFound) {
		return nil, core.E(core.CodeMeetingNotFound, "no meeting with that room code")
	}
	if err != nil {
		return nil, core.E(core.CodeInternal, "meeting lookup failed").WithCause(err)
	}

	unlock := c.locks.Lock(probe.ID)
	defer unlock()

	// Fresh snapshot under the lock; the probe read raced other joins.
	meeting, err := c.store.Meeting(ctx, probe.ID)
	if err != nil {
		return nil, core.E(core.CodeInternal, "meeting lookup failed").WithCause(err)
	}
	if meeting.Status.Terminal() {
		return nil, core.E(core.CodeMeetingNotFound, "meeting has ended")
	}
	if meeting.Locked {
		return nil, core.E(core.CodeMeetingLocked, "meeting is locked")
	}
	if meeting.PasswordHash != "" {
		if req.Password == "" {
			return nil, core.E(core.CodePasswordRequired, "meeting requires a password")
		}
		if !c.passwords.Verify(meeting.PasswordHash, req.Password) {
			return nil, core.E(core.CodeInvalidPassword, "wrong meeting password")
		}
	}

	open, err := c.store.OpenSessions(ctx, meeting.ID)
	if err != nil {
		return nil, core.E(core.CodeInternal, "session lookup failed").WithCause(err)
	}

	device := req.Device
	device.InferDeviceType()

	matches := dedupMatches(open, identity, device)
	if len(matches) > 0 && !req.ForceJoin {
		return nil, duplicateError(identity, matches)
	}

	now := c.now()
	var replacedSessions []*domain.Session
	if len(matches) > 0 {
		// Forced replacement closes every blocking session before the
		// capacity check so the replacement never trips a false full-house.
		for _, m := range matches {
			if !m.Close(now, domain.EndReasonReplaced) {
				continue
			}
			if err := c.store.UpdateSession(ctx, m); err != nil {
				return nil, core.E(core.CodeInternal, "failed to close replaced session").WithCause(err)
			}
			metrics.SessionsLive.Dec()
			replacedSessions = append(replacedSessions, m)
		}
		open = withoutClosed(open)
	}
	replaced := len(replacedSessions) > 0

	if meeting.Capacity > 0 && len(open) >= meeting.Capacity {
		return nil, core.E(core.CodeMeetingFull, "meeting is at capacity").
			WithDetail("capacity", meeting.Capacity).
			WithDetail("open_sessions", len(open))
	}

	role := domain.AssignRole(identity, meeting.HostIdentity)
	token := device.SessionToken
	if token == "" {
		token = uuid.NewString()
	}
	sess := &domain.Session{
		ID:           domain.SessionID(uuid.NewString()),
		MeetingID:    meeting.ID,
		Identity:     identity,
		DisplayName:  displayName,
		DeviceID:     device.DeviceID,
		IPAddress:    device.IPAddress,
		UserAgent:    device.UserAgent,
		DeviceType:   device.DeviceType,
		SessionToken: token,
		Role:         role,
		Permissions:  domain.DefaultPermissions(role),
		JoinedAt:     now,
	}
	if err := c.store.CreateSession(ctx, sess); err != nil {
		return nil, core.E(core.CodeInternal, "failed to persist session").WithCause(err)
	}

	meeting.Activate(now)
	meeting.CurrentParticipantCount = len(open) + 1
	if err := c.store.UpdateMeeting(ctx, meeting); err != nil {
		return nil, core.E(core.CodeInternal, "failed to update meeting").WithCause(err)
	}

	metrics.SessionsLive.Inc()
	log.Info().Str("module", "coordinator").
		Str("meeting", string(meeting.ID)).
		Str("session", string(sess.ID)).
		Str("role", string(role)).
		Bool("replaced", replaced).
		Int("live", meeting.CurrentParticipantCount).
		Msg("join admitted")

	if c.notify != nil {
		// Replaced sessions leave the roster before the new one enters it,
		// so peers tear down the old link before building the new one.
		for _, m := range replacedSessions {
			c.notify.ParticipantLeft(meeting.ID, m)
		}
		c.notify.ParticipantJoined(meeting, sess)
	}
	return &JoinResult{Meeting: meeting, Session: sess, Roster: open, ReplacedExisting: replaced}, nil
}

func dedupMatches(open []*domain.Session, identity string, device domain.DeviceContext) []*domain.Session {
	var matches []*domain.Session
	for _, s := range open {
		if identity != "" {
			if s.Identity == identity {
				matches = append(matches, s)
			}
			continue
		}
		if s.Guest() && device.MatchesGuestSession(s) {
			matches = append(matches, s)
		}
	}
	return matches
}

func duplicateError(identity string, matches []*domain.Session) *core.Error {
	code := core.CodeAlreadyInMeeting
	msg := "identity already has an open session in this meeting"
	if identity == "" {
		code = core.CodeDeviceAlreadyInUse
		msg = "device already has an open guest session in this meeting"
	}
	last := matches[0].JoinedAt
	for _, m := range matches[1:] {
		if m.JoinedAt.After(last) {
			last = m.JoinedAt
		}
	}
	return core.E(code, msg).
		WithDetail("blocking_sessions", len(matches)).
		WithDetail("last_joined_at", last).
		WithDetail("hint", "retry with force_join=true to replace the existing session")
}

func withoutClosed(open []*domain.Session) []*domain.Session {
	out := open[:0]
	for _, s := range open {
		if s.Open() {
			out = append(out, s)
		}
	}
	return out
}
