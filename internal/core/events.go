package core

import (
	"encoding/json"
	"time"
)

// Transport event names. This list is a stable contract between clients and
// the coordinator; adding is fine, renaming is not.
const (
	EventJoinMeeting       = "join-meeting"
	EventLeaveMeeting      = "leave-meeting"
	EventChatMessage       = "chat-message"
	EventWebRTCSignal      = "webrtc-signal"
	EventMediaStateChange  = "media-state-change"
	EventConnectionQuality = "connection-quality"
	EventTyping            = "typing"
	EventParticipantJoined = "participant-joined"
	EventParticipantLeft   = "participant-left"
	EventMeetingEnded      = "meeting-ended"
	EventHeartbeat         = "heartbeat"
	EventError             = "error"
)

// Envelope is the wire shape of every transport event.
type Envelope struct {
	Type      string          `json:"type"`
	Data      json.RawMessage `json:"data,omitempty"`
	Timestamp time.Time       `json:"timestamp"`
	ID        uint64          `json:"id"`
}

// NewEnvelope marshals payload into a typed envelope. The id must be
// monotonically unique per connection; the transport stamps it.
func NewEnvelope(eventType string, payload any, id uint64) (Envelope, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return Envelope{}, err
	}
	return Envelope{Type: eventType, Data: data, Timestamp: time.Now().UTC(), ID: id}, nil
}

// SignalKind discriminates signaling envelopes.
type SignalKind string

const (
	SignalOffer     SignalKind = "offer"
	SignalAnswer    SignalKind = "answer"
	SignalCandidate SignalKind = "ice-candidate"
)

// SignalEnvelope is the offer/answer/candidate message two connection
// orchestrators exchange through the transport channel.
type SignalEnvelope struct {
	To      string          `json:"to"`
	From    string          `json:"from"`
	Kind    SignalKind      `json:"kind"`
	Payload json.RawMessage `json:"payload"`
}

// SDPPayload carries an offer or answer SDP.
type SDPPayload struct {
	SDP string `json:"sdp"`
}

// CandidatePayload carries a trickled ICE candidate.
type CandidatePayload struct {
	Candidate     string  `json:"candidate"`
	SDPMid        *string `json:"sdpMid,omitempty"`
	SDPMLineIndex *uint16 `json:"sdpMLineIndex,omitempty"`
}
