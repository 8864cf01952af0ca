package domain

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRoomCodeShape(t *testing.T) {
	for i := 0; i < 100; i++ {
		code := NewRoomCode()
		assert.True(t, ValidRoomCode(code), "generated code %q failed validation", code)
		assert.NotContains(t, code, "I")
		assert.NotContains(t, code, "L")
		assert.NotContains(t, code, "O")
	}
}

func TestNormalizeRoomCode(t *testing.T) {
	assert.Equal(t, "ABC-123-DEF", NormalizeRoomCode("  abc-123-def "))
	assert.True(t, ValidRoomCode(NormalizeRoomCode("abc-123-def")))
	assert.False(t, ValidRoomCode("ABC123DEF"))
	assert.False(t, ValidRoomCode("AB-123-DEF"))
	assert.False(t, ValidRoomCode(""))
}

func TestMeetingLifecycle(t *testing.T) {
	now := time.Now()
	m := &Meeting{Status: MeetingWaiting, CreatedAt: now}

	m.Activate(now.Add(time.Minute))
	require.Equal(t, MeetingActive, m.Status)
	require.NotNil(t, m.StartedAt)
	first := *m.StartedAt

	// Activation fires once.
	m.Activate(now.Add(2 * time.Minute))
	assert.Equal(t, first, *m.StartedAt)

	m.End(now.Add(10 * time.Minute))
	require.Equal(t, MeetingEnded, m.Status)
	require.NotNil(t, m.EndedAt)
	assert.Equal(t, int64(9*60), m.DurationSeconds)
	assert.True(t, m.Status.Terminal())
}

func TestSessionCloseIdempotent(t *testing.T) {
	joined := time.Now()
	s := &Session{JoinedAt: joined}

	require.True(t, s.Close(joined.Add(90*time.Second), EndReasonLeft))
	require.NotNil(t, s.LeftAt)
	assert.Equal(t, int64(90), s.DurationSeconds)
	assert.Equal(t, EndReasonLeft, s.EndReason)
	assert.False(t, s.Open())

	// A second close changes nothing.
	assert.False(t, s.Close(joined.Add(5*time.Minute), EndReasonMeetingEnded))
	assert.Equal(t, int64(90), s.DurationSeconds)
	assert.Equal(t, EndReasonLeft, s.EndReason)
}

func TestSessionCloseClampsNegativeDuration(t *testing.T) {
	joined := time.Now()
	s := &Session{JoinedAt: joined}
	require.True(t, s.Close(joined.Add(-time.Second), EndReasonConnectionClosed))
	assert.Zero(t, s.DurationSeconds)
}

func TestAssignRole(t *testing.T) {
	assert.Equal(t, RoleGuest, AssignRole("", "host-1"))
	assert.Equal(t, RoleHost, AssignRole("host-1", "host-1"))
	assert.Equal(t, RoleParticipant, AssignRole("user-2", "host-1"))
}

func TestDefaultPermissions(t *testing.T) {
	host := DefaultPermissions(RoleHost)
	assert.True(t, host.Moderate)
	assert.True(t, host.Record)

	participant := DefaultPermissions(RoleParticipant)
	assert.False(t, participant.Moderate)
	assert.True(t, participant.ShareMedia)
	assert.True(t, participant.Chat)

	guest := DefaultPermissions(RoleGuest)
	assert.False(t, guest.ShareMedia)
	assert.True(t, guest.Chat)
}

func TestInferDeviceType(t *testing.T) {
	mobile := DeviceContext{UserAgent: "Mozilla/5.0 (iPhone; CPU iPhone OS 17_0 like Mac OS X) AppleWebKit/605.1.15 (KHTML, like Gecko) Version/17.0 Mobile/15E148 Safari/604.1"}
	mobile.InferDeviceType()
	assert.Equal(t, "mobile", mobile.DeviceType)

	desktop := DeviceContext{UserAgent: "Mozilla/5.0 (X11; Linux x86_64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36"}
	desktop.InferDeviceType()
	assert.Equal(t, "desktop", desktop.DeviceType)

	reported := DeviceContext{UserAgent: "anything", DeviceType: "tablet"}
	reported.InferDeviceType()
	assert.Equal(t, "tablet", reported.DeviceType)
}

func TestMatchesGuestSession(t *testing.T) {
	sess := &Session{DeviceID: "dev-1", IPAddress: "10.0.0.1", UserAgent: "ua-a"}

	assert.True(t, DeviceContext{DeviceID: "dev-1"}.MatchesGuestSession(sess))
	assert.False(t, DeviceContext{DeviceID: "dev-2", IPAddress: "10.0.0.1", UserAgent: "ua-a"}.MatchesGuestSession(sess))

	// Without device ids, the (ip, user agent) fingerprint decides.
	anon := &Session{IPAddress: "10.0.0.1", UserAgent: "ua-a"}
	assert.True(t, DeviceContext{IPAddress: "10.0.0.1", UserAgent: "ua-a"}.MatchesGuestSession(anon))
	assert.False(t, DeviceContext{IPAddress: "10.0.0.2", UserAgent: "ua-a"}.MatchesGuestSession(anon))
	assert.False(t, DeviceContext{IPAddress: "10.0.0.1", UserAgent: "ua-b"}.MatchesGuestSession(anon))

	// A request without a device id never matches a session that has one.
	assert.False(t, DeviceContext{IPAddress: "10.0.0.1", UserAgent: "ua-a"}.MatchesGuestSession(sess))
}
