// Package hub fans transport events out to the websocket connections of a
// meeting and feeds inbound requests into the coordinator.
package hub

import (
	"context"
	"sync"

	"github.com/rs/zerolog/log"

	"github.com/huddlekit/huddle/internal/coordinator"
	"github.com/huddlekit/huddle/internal/core"
	"github.com/huddlekit/huddle/internal/domain"
)

type Hub struct {
	coord *coordinator.Coordinator

	mu       sync.RWMutex
	conns    map[domain.SessionID]*wsConn
	meetings map[domain.MeetingID]map[domain.SessionID]*wsConn
}

func New(coord *coordinator.Coordinator) *Hub {
	return &Hub{
		coord:    coord,
		conns:    make(map[domain.SessionID]*wsConn),
		meetings: make(map[domain.MeetingID]map[domain.SessionID]*wsConn),
	}
}

func (h *Hub) register(c *wsConn, meetingID domain.MeetingID, sessionID domain.SessionID) {
	h.mu.Lock()
	defer h.mu.Unlock()
	c.session = sessionID
	c.meeting = meetingID
	h.conns[sessionID] = c
	room, ok := h.meetings[meetingID]
	if !ok {
		room = make(map[domain.SessionID]*wsConn)
		h.meetings[meetingID] = room
	}
	room[sessionID] = c
}

func (h *Hub) unregister(sessionID domain.SessionID) {
	h.mu.Lock()
	defer h.mu.Unlock()
	c, ok := h.conns[sessionID]
	if !ok {
		return
	}
	delete(h.conns, sessionID)
	if room, ok := h.meetings[c.meeting]; ok {
		delete(room, sessionID)
		if len(room) == 0 {
			delete(h.meetings, c.meeting)
		}
	}
}

func (h *Hub) conn(sessionID domain.SessionID) (*wsConn, bool) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	c, ok := h.conns[sessionID]
	return c, ok
}

// roomMates returns every connection of a meeting except the excluded one.
func (h *Hub) roomMates(meetingID domain.MeetingID, except domain.SessionID) []*wsConn {
	h.mu.RLock()
	defer h.mu.RUnlock()
	room := h.meetings[meetingID]
	out := make([]*wsConn, 0, len(room))
	for sid, c := range room {
		if sid == except {
			continue
		}
		out = append(out, c)
	}
	return out
}

func (h *Hub) sendEvent(c *wsConn, eventType string, payload any) {
	env, err := core.NewEnvelope(eventType, payload, c.nextID())
	if err != nil {
		log.Error().Err(err).Str("module", "hub").Str("event", eventType).Msg("payload marshal failed")
		return
	}
	if err := c.SendJSON(env); err != nil {
		log.Warn().Err(err).Str("module", "hub").Str("session", string(c.session)).Str("event", eventType).Msg("send failed")
	}
}

func (h *Hub) broadcast(meetingID domain.MeetingID, except domain.SessionID, eventType string, payload any) {
	for _, mate := range h.roomMates(meetingID, except) {
		h.sendEvent(mate, eventType, payload)
	}
}

// participantEvent is the roster-change payload for participant-joined and
// participant-left.
type participantEvent struct {
	SessionID   string      `json:"sessionId"`
	DisplayName string      `json:"displayName,omitempty"`
	Role        domain.Role `json:"role,omitempty"`
	DeviceType  string      `json:"deviceType,omitempty"`
}

// The hub is the coordinator's RosterNotifier: authoritative roster changes
// fan out to everyone still connected to the meeting.
var _ coordinator.RosterNotifier = (*Hub)(nil)

func (h *Hub) ParticipantJoined(meeting *domain.Meeting, s *domain.Session) {
	h.broadcast(meeting.ID, s.ID, core.EventParticipantJoined, participantEvent{
		SessionID:   string(s.ID),
		DisplayName: s.DisplayName,
		Role:        s.Role,
		DeviceType:  s.DeviceType,
	})
}

func (h *Hub) ParticipantLeft(meetingID domain.MeetingID, s *domain.Session) {
	h.broadcast(meetingID, s.ID, core.EventParticipantLeft, participantEvent{
		SessionID: string(s.ID),
	})
	// The leaver's own connection, if still up, is detached from the room.
	if c, ok := h.conn(s.ID); ok {
		h.sendEvent(c, core.EventParticipantLeft, participantEvent{SessionID: string(s.ID)})
		h.unregister(s.ID)
	}
}

func (h *Hub) MeetingEnded(meeting *domain.Meeting) {
	h.broadcast(meeting.ID, "", core.EventMeetingEnded, map[string]string{
		"meetingId": string(meeting.ID),
	})
	h.mu.Lock()
	room := h.meetings[meeting.ID]
	delete(h.meetings, meeting.ID)
	for sid := range room {
		delete(h.conns, sid)
	}
	h.mu.Unlock()
}

// onDisconnect closes the session of a dropped connection. The coordinator
// treats a second close as a no-op, so racing an explicit leave is safe.
func (h *Hub) onDisconnect(ctx context.Context, c *wsConn) {
	sid := c.session
	if sid == "" {
		return
	}
	h.unregister(sid)
	if err := h.coord.Leave(ctx, sid, domain.EndReasonConnectionClosed); err != nil {
		log.Warn().Err(err).Str("module", "hub").Str("session", string(sid)).Msg("close on disconnect failed")
	}
}
