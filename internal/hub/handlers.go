package hub

import (
	"context"
	"encoding/json"

	"github.com/rs/zerolog/log"

	"github.com/huddlekit/huddle/internal/coordinator"
	"github.com/huddlekit/huddle/internal/core"
	"github.com/huddlekit/huddle/internal/domain"
	"github.com/huddlekit/huddle/internal/metrics"
)

func (h *Hub) dispatch(ctx context.Context, c *wsConn, data []byte) {
	var env core.Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		log.Error().Err(err).Str("module", "hub").Msg("bad json")
		return
	}

	switch env.Type {
	case core.EventJoinMeeting:
		h.handleJoin(ctx, c, env.Data)
	case core.EventLeaveMeeting:
		h.handleLeave(ctx, c)
	case core.EventWebRTCSignal:
		h.handleSignal(c, env.Data)
	case core.EventChatMessage, core.EventTyping, core.EventMediaStateChange, core.EventConnectionQuality:
		h.handleRelay(c, env.Type, env.Data)
	case core.EventHeartbeat:
		h.sendEvent(c, core.EventHeartbeat, nil)
	default:
		log.Warn().Str("module", "hub").Str("type", env.Type).Msg("unknown event")
	}
}

// errorPayload mirrors the failure half of the join response contract.
type errorPayload struct {
	Code    string         `json:"code"`
	Message string         `json:"message"`
	Details map[string]any `json:"details,omitempty"`
}

func (h *Hub) sendError(c *wsConn, err error) {
	appErr, ok := core.AsError(err)
	if !ok {
		appErr = core.E(core.CodeInternal, "internal error")
	}
	h.sendEvent(c, core.EventError, errorPayload{
		Code:    string(appErr.Code),
		Message: appErr.Message,
		Details: appErr.Details,
	})
}

func (h *Hub) handleJoin(ctx context.Context, c *wsConn, data []byte) {
	var req coordinator.JoinRequest
	if err := json.Unmarshal(data, &req); err != nil {
		log.Error().Err(err).Str("module", "hub").Msg("bad join payload")
		h.sendError(c, core.E(core.CodeInvalidInput, "malformed join request"))
		return
	}
	// The connection, not the client, is the authority on endpoint facts.
	req.Device.IPAddress = c.ip
	req.Device.UserAgent = c.userAgent

	res, err := h.coord.Join(ctx, req)
	if err != nil {
		h.sendError(c, err)
		return
	}

	h.register(c, res.Meeting.ID, res.Session.ID)
	h.sendEvent(c, core.EventJoinMeeting, res)
}

func (h *Hub) handleLeave(ctx context.Context, c *wsConn) {
	if c.session == "" {
		h.sendError(c, core.E(core.CodeInvalidInput, "not in a meeting"))
		return
	}
	if err := h.coord.Leave(ctx, c.session, domain.EndReasonLeft); err != nil {
		h.sendError(c, err)
	}
}

// handleSignal relays a signaling envelope point to point. The sender field
// is stamped server-side so a client cannot spoof another participant.
func (h *Hub) handleSignal(c *wsConn, data []byte) {
	if c.session == "" {
		h.sendError(c, core.E(core.CodeNotAuthorized, "join before signaling"))
		return
	}
	var sig core.SignalEnvelope
	if err := json.Unmarshal(data, &sig); err != nil {
		log.Error().Err(err).Str("module", "hub").Msg("bad signal payload")
		return
	}
	sig.From = string(c.session)

	target, ok := h.conn(domain.SessionID(sig.To))
	if !ok || target.meeting != c.meeting {
		log.Debug().Str("module", "hub").Str("to", sig.To).Msg("signal target not connected")
		return
	}
	h.sendEvent(target, core.EventWebRTCSignal, sig)
	metrics.SignalsRelayed.Inc()
}

// handleRelay fans application events out to the other participants of the
// sender's meeting. Payloads pass through opaque.
func (h *Hub) handleRelay(c *wsConn, eventType string, data json.RawMessage) {
	if c.session == "" {
		h.sendError(c, core.E(core.CodeNotAuthorized, "join before sending"))
		return
	}
	h.broadcast(c.meeting, c.session, eventType, data)
}
