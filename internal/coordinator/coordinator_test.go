package coordinator

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"github.com/huddlekit/huddle/internal/auth"
	"github.com/huddlekit/huddle/internal/core"
	"github.com/huddlekit/huddle/internal/domain"
	"github.com/huddlekit/huddle/internal/store"
)

func newTestCoordinator(t *testing.T) (*Coordinator, *store.Memory) {
	t.Helper()
	st := store.NewMemory()
	c := New(st, auth.TokenResolver{}, auth.BcryptVerifier{}, Config{DefaultCapacity: 8})
	return c, st
}

func joinReq(roomCode, identity, guestName, deviceID string) JoinRequest {
	return JoinRequest{
		RoomCode:      roomCode,
		IdentityToken: identity,
		GuestName:     guestName,
		Device: domain.DeviceContext{
			UserAgent: "Mozilla/5.0 (X11; Linux x86_64) Chrome/126.0",
			IPAddress: "10.0.0.7",
			DeviceID:  deviceID,
		},
	}
}

func TestCreateMeeting(t *testing.T) {
	c, _ := newTestCoordinator(t)
	ctx := context.Background()

	m, err := c.CreateMeeting(ctx, "host-1", MeetingConfig{Title: "standup"})
	require.NoError(t, err)
	assert.Equal(t, domain.MeetingWaiting, m.Status)
	assert.True(t, domain.ValidRoomCode(m.RoomCode), "room code %q", m.RoomCode)
	assert.Equal(t, 8, m.Capacity)
	assert.Zero(t, m.CurrentParticipantCount)

	// Room codes compare case-insensitively.
	got, err := c.store.MeetingByRoomCode(ctx, "  "+m.RoomCode+" ")
	require.NoError(t, err)
	assert.Equal(t, m.ID, got.ID)
}

func TestCreateMeetingScheduleValidation(t *testing.T) {
	c, _ := newTestCoordinator(t)
	ctx := context.Background()

	past := time.Now().Add(-time.Minute)
	_, err := c.CreateMeeting(ctx, "host-1", MeetingConfig{ScheduledAt: &past})
	assert.Equal(t, core.CodeInvalidScheduleTime, core.CodeOf(err))

	future := time.Now().Add(time.Hour)
	_, err = c.CreateMeeting(ctx, "host-1", MeetingConfig{ScheduledAt: &future})
	assert.NoError(t, err)

	_, err = c.CreateMeeting(ctx, "", MeetingConfig{})
	assert.Equal(t, core.CodeInvalidInput, core.CodeOf(err))
}

func TestJoinActivatesMeetingOnce(t *testing.T) {
	c, _ := newTestCoordinator(t)
	ctx := context.Background()

	m, err := c.CreateMeeting(ctx, "host-1", MeetingConfig{})
	require.NoError(t, err)

	res, err := c.Join(ctx, joinReq(m.RoomCode, "host-1", "", "d-host"))
	require.NoError(t, err)
	assert.Equal(t, domain.RoleHost, res.Session.Role)
	assert.Equal(t, domain.MeetingActive, res.Meeting.Status)
	require.NotNil(t, res.Meeting.StartedAt)
	startedAt := *res.Meeting.StartedAt

	res2, err := c.Join(ctx, joinReq(m.RoomCode, "user-2", "", "d-2"))
	require.NoError(t, err)
	assert.Equal(t, domain.RoleParticipant, res2.Session.Role)
	require.NotNil(t, res2.Meeting.StartedAt)
	assert.Equal(t, startedAt, *res2.Meeting.StartedAt, "waiting→active fires exactly once")
	assert.Equal(t, 2, res2.Meeting.CurrentParticipantCount)
	assert.Len(t, res2.Roster, 1)
}

func TestJoinUnknownRoomCode(t *testing.T) {
	c, _ := newTestCoordinator(t)
	_, err := c.Join(context.Background(), joinReq("XXX-000-XXX", "u", "", "d"))
	assert.Equal(t, core.CodeMeetingNotFound, core.CodeOf(err))

	_, err = c.Join(context.Background(), joinReq("", "u", "", "d"))
	assert.Equal(t, core.CodeInvalidInput, core.CodeOf(err))
}

func TestJoinTerminalMeeting(t *testing.T) {
	c, _ := newTestCoordinator(t)
	ctx := context.Background()
	m, _ := c.CreateMeeting(ctx, "host-1", MeetingConfig{})
	require.NoError(t, c.EndMeeting(ctx, m.ID, "host-1"))

	_, err := c.Join(ctx, joinReq(m.RoomCode, "user-2", "", "d-2"))
	assert.Equal(t, core.CodeMeetingNotFound, core.CodeOf(err))
}

func TestJoinPassword(t *testing.T) {
	c, _ := newTestCoordinator(t)
	ctx := context.Background()

	hash, err := bcrypt.GenerateFromPassword([]byte("sesame"), bcrypt.MinCost)
	require.NoError(t, err)
	m, err := c.CreateMeeting(ctx, "host-1", MeetingConfig{PasswordHash: string(hash)})
	require.NoError(t, err)

	_, err = c.Join(ctx, joinReq(m.RoomCode, "user-2", "", "d-2"))
	assert.Equal(t, core.CodePasswordRequired, core.CodeOf(err))

	req := joinReq(m.RoomCode, "user-2", "", "d-2")
	req.Password = "wrong"
	_, err = c.Join(ctx, req)
	assert.Equal(t, core.CodeInvalidPassword, core.CodeOf(err))

	req.Password = "sesame"
	_, err = c.Join(ctx, req)
	assert.NoError(t, err)
}

func TestDedupInvariant(t *testing.T) {
	c, st := newTestCoordinator(t)
	ctx := context.Background()
	m, _ := c.CreateMeeting(ctx, "host-1", MeetingConfig{})

	first, err := c.Join(ctx, joinReq(m.RoomCode, "user-1", "", "d-a"))
	require.NoError(t, err)

	// Same identity, different device, no forceJoin: rejected, original intact.
	_, err = c.Join(ctx, joinReq(m.RoomCode, "user-1", "", "d-b"))
	require.Equal(t, core.CodeAlreadyInMeeting, core.CodeOf(err))
	typed, ok := core.AsError(err)
	require.True(t, ok)
	assert.Equal(t, 1, typed.Details["blocking_sessions"])
	assert.Contains(t, typed.Details, "last_joined_at")

	orig, err := st.Session(ctx, first.Session.ID)
	require.NoError(t, err)
	assert.True(t, orig.Open(), "original session must remain open")

	open, _ := st.OpenSessions(ctx, m.ID)
	assert.Len(t, open, 1, "at most one open session per identity")
}

func TestForcedReplacement(t *testing.T) {
	c, st := newTestCoordinator(t)
	ctx := context.Background()
	m, _ := c.CreateMeeting(ctx, "host-1", MeetingConfig{})

	first, err := c.Join(ctx, joinReq(m.RoomCode, "user-1", "", "d-a"))
	require.NoError(t, err)

	req := joinReq(m.RoomCode, "user-1", "", "d-b")
	req.ForceJoin = true
	res, err := c.Join(ctx, req)
	require.NoError(t, err)
	assert.True(t, res.ReplacedExisting)
	assert.NotEqual(t, first.Session.ID, res.Session.ID)

	old, err := st.Session(ctx, first.Session.ID)
	require.NoError(t, err)
	require.NotNil(t, old.LeftAt)
	assert.Equal(t, domain.EndReasonReplaced, old.EndReason)
	assert.GreaterOrEqual(t, old.DurationSeconds, int64(0))

	// Net live count unchanged: one closed, one opened.
	assert.Equal(t, 1, res.Meeting.CurrentParticipantCount)
	open, _ := st.OpenSessions(ctx, m.ID)
	require.Len(t, open, 1)
	assert.Equal(t, res.Session.ID, open[0].ID)
}

type recordingNotifier struct {
	joined []domain.SessionID
	left   []*domain.Session
	ended  []domain.MeetingID
}

func (n *recordingNotifier) ParticipantJoined(_ *domain.Meeting, s *domain.Session) {
	n.joined = append(n.joined, s.ID)
}

func (n *recordingNotifier) ParticipantLeft(_ domain.MeetingID, s *domain.Session) {
	n.left = append(n.left, s)
}

func (n *recordingNotifier) MeetingEnded(m *domain.Meeting) {
	n.ended = append(n.ended, m.ID)
}

// A forced replacement must fan out the replaced session's departure, or
// the other participants keep a peer link to a session that no longer
// exists.
func TestForcedReplacementFansOutParticipantLeft(t *testing.T) {
	c, _ := newTestCoordinator(t)
	notifier := &recordingNotifier{}
	c.SetNotifier(notifier)
	ctx := context.Background()
	m, _ := c.CreateMeeting(ctx, "host-1", MeetingConfig{})

	first, err := c.Join(ctx, joinReq(m.RoomCode, "user-1", "", "d-a"))
	require.NoError(t, err)

	req := joinReq(m.RoomCode, "user-1", "", "d-b")
	req.ForceJoin = true
	res, err := c.Join(ctx, req)
	require.NoError(t, err)

	require.Len(t, notifier.left, 1)
	assert.Equal(t, first.Session.ID, notifier.left[0].ID)
	assert.Equal(t, domain.EndReasonReplaced, notifier.left[0].EndReason)
	assert.Equal(t, []domain.SessionID{first.Session.ID, res.Session.ID}, notifier.joined)
	assert.Empty(t, notifier.ended)
}

func TestGuestDeviceDedup(t *testing.T) {
	c, _ := newTestCoordinator(t)
	ctx := context.Background()
	m, _ := c.CreateMeeting(ctx, "host-1", MeetingConfig{})

	_, err := c.Join(ctx, joinReq(m.RoomCode, "", "Alice", "d-1"))
	require.NoError(t, err)

	// Same device id → duplicate guest.
	_, err = c.Join(ctx, joinReq(m.RoomCode, "", "Alice", "d-1"))
	assert.Equal(t, core.CodeDeviceAlreadyInUse, core.CodeOf(err))

	// Different device id → distinct guest, admitted.
	_, err = c.Join(ctx, joinReq(m.RoomCode, "", "Bob", "d-2"))
	assert.NoError(t, err)
}

func TestGuestFingerprintFallback(t *testing.T) {
	c, _ := newTestCoordinator(t)
	ctx := context.Background()
	m, _ := c.CreateMeeting(ctx, "host-1", MeetingConfig{})

	// No device id on either side: (ip, user agent) equality is the match.
	_, err := c.Join(ctx, joinReq(m.RoomCode, "", "Alice", ""))
	require.NoError(t, err)
	_, err = c.Join(ctx, joinReq(m.RoomCode, "", "Alice", ""))
	assert.Equal(t, core.CodeDeviceAlreadyInUse, core.CodeOf(err))

	other := joinReq(m.RoomCode, "", "Carol", "")
	other.Device.IPAddress = "10.0.0.99"
	_, err = c.Join(ctx, other)
	assert.NoError(t, err)
}

func TestCapacityBoundary(t *testing.T) {
	c, _ := newTestCoordinator(t)
	ctx := context.Background()
	m, _ := c.CreateMeeting(ctx, "host-1", MeetingConfig{Capacity: 3})

	ids := []string{"host-1", "user-2", "user-3"}
	var last *JoinResult
	for i, id := range ids {
		res, err := c.Join(ctx, joinReq(m.RoomCode, id, "", "d-"+id))
		require.NoError(t, err, "join %d", i)
		last = res
	}
	assert.Equal(t, 3, last.Meeting.CurrentParticipantCount)

	_, err := c.Join(ctx, joinReq(m.RoomCode, "user-4", "", "d-4"))
	require.Equal(t, core.CodeMeetingFull, core.CodeOf(err))

	require.NoError(t, c.Leave(ctx, last.Session.ID, domain.EndReasonLeft))
	_, err = c.Join(ctx, joinReq(m.RoomCode, "user-4", "", "d-4"))
	assert.NoError(t, err, "a freed seat admits the next join")
}

func TestForcedReplacementAtCapacity(t *testing.T) {
	c, _ := newTestCoordinator(t)
	ctx := context.Background()
	m, _ := c.CreateMeeting(ctx, "host-1", MeetingConfig{Capacity: 1})

	_, err := c.Join(ctx, joinReq(m.RoomCode, "user-1", "", "d-a"))
	require.NoError(t, err)

	// The replacement closes the blocker before the capacity check, so a
	// full meeting never rejects its own replacement.
	req := joinReq(m.RoomCode, "user-1", "", "d-b")
	req.ForceJoin = true
	res, err := c.Join(ctx, req)
	require.NoError(t, err)
	assert.True(t, res.ReplacedExisting)
	assert.Equal(t, 1, res.Meeting.CurrentParticipantCount)
}

func TestIdempotentLeave(t *testing.T) {
	c, st := newTestCoordinator(t)
	ctx := context.Background()
	m, _ := c.CreateMeeting(ctx, "host-1", MeetingConfig{})
	res, err := c.Join(ctx, joinReq(m.RoomCode, "host-1", "", "d-1"))
	require.NoError(t, err)

	require.NoError(t, c.Leave(ctx, res.Session.ID, domain.EndReasonLeft))
	s1, err := st.Session(ctx, res.Session.ID)
	require.NoError(t, err)
	require.NotNil(t, s1.LeftAt)

	require.NoError(t, c.Leave(ctx, res.Session.ID, domain.EndReasonLeft))
	s2, err := st.Session(ctx, res.Session.ID)
	require.NoError(t, err)
	assert.Equal(t, *s1.LeftAt, *s2.LeftAt, "second leave must not mutate")
	assert.Equal(t, s1.EndReason, s2.EndReason)

	err = c.Leave(ctx, "no-such-session", domain.EndReasonLeft)
	assert.Equal(t, core.CodeInvalidInput, core.CodeOf(err))
}

func TestMeetingEndsWhenEmpty(t *testing.T) {
	c, st := newTestCoordinator(t)
	ctx := context.Background()
	m, _ := c.CreateMeeting(ctx, "host-1", MeetingConfig{})

	a, err := c.Join(ctx, joinReq(m.RoomCode, "host-1", "", "d-1"))
	require.NoError(t, err)
	b, err := c.Join(ctx, joinReq(m.RoomCode, "user-2", "", "d-2"))
	require.NoError(t, err)

	require.NoError(t, c.Leave(ctx, a.Session.ID, domain.EndReasonLeft))
	mid, err := st.Meeting(ctx, m.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.MeetingActive, mid.Status, "meeting stays active while sessions remain")

	require.NoError(t, c.Leave(ctx, b.Session.ID, domain.EndReasonLeft))
	ended, err := st.Meeting(ctx, m.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.MeetingEnded, ended.Status)
	require.NotNil(t, ended.EndedAt)
	assert.GreaterOrEqual(t, ended.DurationSeconds, int64(0))
}

func TestEndMeetingByHost(t *testing.T) {
	c, st := newTestCoordinator(t)
	ctx := context.Background()
	m, _ := c.CreateMeeting(ctx, "host-1", MeetingConfig{})

	_, err := c.Join(ctx, joinReq(m.RoomCode, "host-1", "", "d-1"))
	require.NoError(t, err)
	_, err = c.Join(ctx, joinReq(m.RoomCode, "user-2", "", "d-2"))
	require.NoError(t, err)

	err = c.EndMeeting(ctx, m.ID, "user-2")
	assert.Equal(t, core.CodeNotHostOrNotFound, core.CodeOf(err))

	require.NoError(t, c.EndMeeting(ctx, m.ID, "host-1"))

	ended, err := st.Meeting(ctx, m.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.MeetingEnded, ended.Status)
	assert.Zero(t, ended.CurrentParticipantCount)

	open, _ := st.OpenSessions(ctx, m.ID)
	assert.Empty(t, open)

	err = c.EndMeeting(ctx, m.ID, "host-1")
	assert.Equal(t, core.CodeNotHostOrNotFound, core.CodeOf(err), "ending twice fails cleanly")

	err = c.EndMeeting(ctx, "no-such-meeting", "host-1")
	assert.Equal(t, core.CodeNotHostOrNotFound, core.CodeOf(err))
}

func TestEndMeetingClosesSessionsWithReason(t *testing.T) {
	c, st := newTestCoordinator(t)
	ctx := context.Background()
	m, _ := c.CreateMeeting(ctx, "host-1", MeetingConfig{})

	res, err := c.Join(ctx, joinReq(m.RoomCode, "user-2", "", "d-2"))
	require.NoError(t, err)
	require.NoError(t, c.EndMeeting(ctx, m.ID, "host-1"))

	s, err := st.Session(ctx, res.Session.ID)
	require.NoError(t, err)
	require.NotNil(t, s.LeftAt)
	assert.Equal(t, domain.EndReasonMeetingEnded, s.EndReason)
	assert.GreaterOrEqual(t, s.DurationSeconds, int64(0))
}

func TestSetLock(t *testing.T) {
	c, _ := newTestCoordinator(t)
	ctx := context.Background()
	m, _ := c.CreateMeeting(ctx, "host-1", MeetingConfig{})

	err := c.SetLock(ctx, m.ID, "user-2", true)
	assert.Equal(t, core.CodeNotAuthorized, core.CodeOf(err))

	require.NoError(t, c.SetLock(ctx, m.ID, "host-1", true))
	_, err = c.Join(ctx, joinReq(m.RoomCode, "user-2", "", "d-2"))
	assert.Equal(t, core.CodeMeetingLocked, core.CodeOf(err))

	require.NoError(t, c.SetLock(ctx, m.ID, "host-1", false))
	_, err = c.Join(ctx, joinReq(m.RoomCode, "user-2", "", "d-2"))
	assert.NoError(t, err)
}

func TestCleanupStale(t *testing.T) {
	c, st := newTestCoordinator(t)
	ctx := context.Background()
	m, _ := c.CreateMeeting(ctx, "host-1", MeetingConfig{})

	base := time.Now()
	c.now = func() time.Time { return base }
	stale, err := c.Join(ctx, joinReq(m.RoomCode, "user-1", "", "d-1"))
	require.NoError(t, err)

	c.now = func() time.Time { return base.Add(30 * time.Minute) }
	fresh, err := c.Join(ctx, joinReq(m.RoomCode, "user-2", "", "d-2"))
	require.NoError(t, err)

	c.now = func() time.Time { return base.Add(40 * time.Minute) }
	closed, err := c.CleanupStale(ctx, 15*time.Minute)
	require.NoError(t, err)
	assert.Equal(t, 1, closed)

	s, err := st.Session(ctx, stale.Session.ID)
	require.NoError(t, err)
	require.NotNil(t, s.LeftAt)
	assert.Equal(t, domain.EndReasonStaleCleanup, s.EndReason)

	f, err := st.Session(ctx, fresh.Session.ID)
	require.NoError(t, err)
	assert.True(t, f.Open())

	// A second sweep finds nothing new.
	closed, err = c.CleanupStale(ctx, 15*time.Minute)
	require.NoError(t, err)
	assert.Zero(t, closed)
}

// The full admission scenario from the product brief: host + guest at
// capacity 2, duplicate guest device rejected, then replaced via forceJoin.
func TestJoinScenario(t *testing.T) {
	c, st := newTestCoordinator(t)
	ctx := context.Background()

	m, err := c.CreateMeeting(ctx, "host-1", MeetingConfig{Capacity: 2})
	require.NoError(t, err)

	host, err := c.Join(ctx, joinReq(m.RoomCode, "host-1", "", "d-host"))
	require.NoError(t, err)
	assert.Equal(t, domain.RoleHost, host.Session.Role)
	assert.Equal(t, domain.MeetingActive, host.Meeting.Status)
	assert.True(t, host.Session.Permissions.Moderate)

	alice, err := c.Join(ctx, joinReq(m.RoomCode, "", "Alice", "D1"))
	require.NoError(t, err)
	assert.Equal(t, domain.RoleGuest, alice.Session.Role)
	assert.False(t, alice.Session.Permissions.ShareMedia)
	assert.Equal(t, 2, alice.Meeting.CurrentParticipantCount)

	_, err = c.Join(ctx, joinReq(m.RoomCode, "", "Alice", "D1"))
	require.Equal(t, core.CodeDeviceAlreadyInUse, core.CodeOf(err))

	forced := joinReq(m.RoomCode, "", "Alice", "D1")
	forced.ForceJoin = true
	res, err := c.Join(ctx, forced)
	require.NoError(t, err)
	assert.True(t, res.ReplacedExisting)

	old, err := st.Session(ctx, alice.Session.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.EndReasonReplaced, old.EndReason)
	assert.Equal(t, 2, res.Meeting.CurrentParticipantCount)
}
