package coordinator

import (
	"context"
	"errors"
	"sync"

	"github.com/rs/zerolog/log"

	"github.com/huddlekit/huddle/internal/core"
	"github.com/huddlekit/huddle/internal/domain"
	"github.com/huddlekit/huddle/internal/metrics"
)

// Leave closes a session. Leaving an already-left session returns success
// without mutation.
func (c *Coordinator) Leave(ctx context.Context, sessionID domain.SessionID, reason domain.EndReason) error {
	_, err := c.leave(ctx, sessionID, reason)
	return err
}

// leave reports whether the call actually mutated state, which the stale
// sweeper uses for its count.
func (c *Coordinator) leave(ctx context.Context, sessionID domain.SessionID, reason domain.EndReason) (bool, error) {
	sess, err := c.store.Session(ctx, sessionID)
	if errors.Is(err, core.ErrNotFound) {
		return false, core.E(core.CodeInvalidInput, "unknown session")
	}
	if err != nil {
		return false, core.E(core.CodeInternal, "session lookup failed").WithCause(err)
	}
	if !sess.Open() {
		return false, nil
	}

	unlock := c.locks.Lock(sess.MeetingID)
	defer unlock()

	// Re-read under the lock: a racing leave or sweep may have closed it.
	sess, err = c.store.Session(ctx, sessionID)
	if err != nil {
		return false, core.E(core.CodeInternal, "session lookup failed").WithCause(err)
	}
	if !sess.Close(c.now(), reason) {
		return false, nil
	}
	if err := c.store.UpdateSession(ctx, sess); err != nil {
		return false, core.E(core.CodeInternal, "failed to close session").WithCause(err)
	}
	metrics.SessionsLive.Dec()

	meeting, err := c.store.Meeting(ctx, sess.MeetingID)
	if err != nil {
		return false, core.E(core.CodeInternal, "meeting lookup failed").WithCause(err)
	}
	open, err := c.store.OpenSessions(ctx, meeting.ID)
	if err != nil {
		return false, core.E(core.CodeInternal, "session lookup failed").WithCause(err)
	}
	meeting.CurrentParticipantCount = len(open)

	ended := false
	if len(open) == 0 && meeting.Status == domain.MeetingActive {
		meeting.End(c.now())
		ended = true
	}
	if err := c.store.UpdateMeeting(ctx, meeting); err != nil {
		return false, core.E(core.CodeInternal, "failed to update meeting").WithCause(err)
	}

	log.Info().Str("module", "coordinator").
		Str("meeting", string(meeting.ID)).
		Str("session", string(sess.ID)).
		Str("reason", string(reason)).
		Int("live", meeting.CurrentParticipantCount).
		Bool("meeting_ended", ended).
		Msg("session left")

	if c.notify != nil {
		c.notify.ParticipantLeft(meeting.ID, sess)
		if ended {
			c.notify.MeetingEnded(meeting)
		}
	}
	if ended {
		metrics.MeetingsEnded.Inc()
	}
	return true, nil
}

// EndMeeting terminates a meeting on behalf of its host and closes every
// still-open session. Session closes are independent and idempotent, so they
// run concurrently rather than one by one.
func (c *Coordinator) EndMeeting(ctx context.Context, meetingID domain.MeetingID, requesterIdentity string) error {
	probe, err := c.store.Meeting(ctx, meetingID)
	if errors.Is(err, core.ErrNotFound) {
		return core.E(core.CodeNotHostOrNotFound, "meeting not found")
	}
	if err != nil {
		return core.E(core.CodeInternal, "meeting lookup failed").WithCause(err)
	}
	if probe.HostIdentity != requesterIdentity {
		return core.E(core.CodeNotHostOrNotFound, "only the host can end the meeting")
	}

	unlock := c.locks.Lock(meetingID)
	defer unlock()

	meeting, err := c.store.Meeting(ctx, meetingID)
	if err != nil {
		return core.E(core.CodeInternal, "meeting lookup failed").WithCause(err)
	}
	if meeting.Status.Terminal() {
		return core.E(core.CodeNotHostOrNotFound, "meeting already ended")
	}

	open, err := c.store.OpenSessions(ctx, meeting.ID)
	if err != nil {
		return core.E(core.CodeInternal, "session lookup failed").WithCause(err)
	}

	now := c.now()
	var wg sync.WaitGroup
	for _, s := range open {
		if !s.Close(now, domain.EndReasonMeetingEnded) {
			continue
		}
		wg.Add(1)
		go func(s *domain.Session) {
			defer wg.Done()
			if err := c.store.UpdateSession(ctx, s); err != nil {
				log.Error().Err(err).Str("module", "coordinator").Str("session", string(s.ID)).Msg("failed to close session on meeting end")
				return
			}
			metrics.SessionsLive.Dec()
			if c.notify != nil {
				c.notify.ParticipantLeft(s.MeetingID, s)
			}
		}(s)
	}
	wg.Wait()

	meeting.End(now)
	meeting.CurrentParticipantCount = 0
	if err := c.store.UpdateMeeting(ctx, meeting); err != nil {
		return core.E(core.CodeInternal, "failed to update meeting").WithCause(err)
	}
	metrics.MeetingsEnded.Inc()

	log.Info().Str("module", "coordinator").
		Str("meeting", string(meeting.ID)).
		Int("closed_sessions", len(open)).
		Msg("meeting ended by host")

	if c.notify != nil {
		c.notify.MeetingEnded(meeting)
	}
	return nil
}

// SetLock toggles the meeting lock flag. Locked meetings reject every join
// until unlocked.
func (c *Coordinator) SetLock(ctx context.Context, meetingID domain.MeetingID, requesterIdentity string, locked bool) error {
	unlock := c.locks.Lock(meetingID)
	defer unlock()

	meeting, err := c.store.Meeting(ctx, meetingID)
	if errors.Is(err, core.ErrNotFound) {
		return core.E(core.CodeNotHostOrNotFound, "meeting not found")
	}
	if err != nil {
		return core.E(core.CodeInternal, "meeting lookup failed").WithCause(err)
	}
	if meeting.Status.Terminal() {
		return core.E(core.CodeNotHostOrNotFound, "meeting already ended")
	}
	if meeting.HostIdentity != requesterIdentity {
		return core.E(core.CodeNotAuthorized, "only the host can lock or unlock the meeting")
	}
	if meeting.Locked == locked {
		return nil
	}
	meeting.Locked = locked
	if err := c.store.UpdateMeeting(ctx, meeting); err != nil {
		return core.E(core.CodeInternal, "failed to update meeting").WithCause(err)
	}
	log.Info().Str("module", "coordinator").Str("meeting", string(meeting.ID)).Bool("locked", locked).Msg("meeting lock changed")
	return nil
}
