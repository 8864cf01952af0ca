package orchestrator

import (
	"encoding/json"

	"github.com/rs/zerolog/log"

	"github.com/huddlekit/huddle/internal/core"
	"github.com/huddlekit/huddle/internal/domain"
	"github.com/huddlekit/huddle/internal/transport"
)

// TransportSignaler emits signaling envelopes through a transport client.
type TransportSignaler struct {
	Client *transport.Client
}

func (s *TransportSignaler) SendSignal(env core.SignalEnvelope) error {
	return s.Client.Emit(core.EventWebRTCSignal, env)
}

// rosterEvent is the payload of participant-joined and participant-left.
type rosterEvent struct {
	SessionID string `json:"sessionId"`
}

// Bind subscribes the orchestrator to the transport events that drive it:
// inbound signals, and roster changes that create or destroy links. A newly
// joined participant initiates toward the room, so the existing side
// responds. Returns an unbind function.
func (o *Orchestrator) Bind(c *transport.Client) func() {
	offSignal := c.On(core.EventWebRTCSignal, func(data json.RawMessage) {
		var env core.SignalEnvelope
		if err := json.Unmarshal(data, &env); err != nil {
			log.Warn().Err(err).Str("module", "orchestrator").Msg("malformed signal envelope")
			return
		}
		if err := o.HandleSignal(domain.SessionID(env.From), env); err != nil {
			log.Warn().Err(err).Str("module", "orchestrator").Str("from", env.From).Msg("signal rejected")
		}
	})
	offJoined := c.On(core.EventParticipantJoined, func(data json.RawMessage) {
		var ev rosterEvent
		if err := json.Unmarshal(data, &ev); err != nil {
			return
		}
		if err := o.CreateLink(domain.SessionID(ev.SessionID), false); err != nil {
			log.Warn().Err(err).Str("module", "orchestrator").Str("remote", ev.SessionID).Msg("link creation failed")
		}
	})
	offLeft := c.On(core.EventParticipantLeft, func(data json.RawMessage) {
		var ev rosterEvent
		if err := json.Unmarshal(data, &ev); err != nil {
			return
		}
		o.RemoveLink(domain.SessionID(ev.SessionID))
	})
	return func() {
		offSignal()
		offJoined()
		offLeft()
	}
}
