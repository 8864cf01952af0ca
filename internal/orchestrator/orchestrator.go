// Package orchestrator owns the per-remote-participant media links of one
// client and drives their negotiation over the signaling channel.
package orchestrator

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/huddlekit/huddle/internal/core"
	"github.com/huddlekit/huddle/internal/domain"
)

type LinkState string

const (
	LinkNegotiating  LinkState = "negotiating"
	LinkConnected    LinkState = "connected"
	LinkDisconnected LinkState = "disconnected"
	LinkFailed       LinkState = "failed"
	LinkClosed       LinkState = "closed"
)

// Signaler delivers a signaling envelope to the remote side. The transport
// adapter in bind.go is the production implementation.
type Signaler interface {
	SendSignal(env core.SignalEnvelope) error
}

// Events are optional observer callbacks. They may run while the
// orchestrator's internal lock is held, so they must be cheap and must not
// call back into the orchestrator.
type Events struct {
	LinkConnected func(remote domain.SessionID)
	// LinkFailed fires exactly once per link, after the retry budget is
	// spent. The link is already released when it fires.
	LinkFailed func(remote domain.SessionID)
}

type Config struct {
	NegotiationTimeout time.Duration
	MaxRetries         int
}

func (c *Config) withDefaults() {
	if c.NegotiationTimeout <= 0 {
		c.NegotiationTimeout = 15 * time.Second
	}
	if c.MaxRetries <= 0 {
		c.MaxRetries = 3
	}
}

type peerLink struct {
	remote    domain.SessionID
	initiator bool
	state     LinkState
	retries   int
	gen       int // bumped on every media teardown; stale callbacks and timers check it
	timer     *time.Timer
	media     MediaLink
}

// Orchestrator keeps one peerLink per remote participant. All mutations run
// under one mutex, which also serializes signal handling per the strict
// offer, answer, candidates ordering that negotiation requires.
type Orchestrator struct {
	self    domain.SessionID
	cfg     Config
	media   MediaFactory
	signals Signaler
	events  Events

	mu        sync.Mutex
	links     map[domain.SessionID]*peerLink
	destroyed bool
}

func New(self domain.SessionID, cfg Config, media MediaFactory, signals Signaler, events Events) *Orchestrator {
	cfg.withDefaults()
	return &Orchestrator{
		self:    self,
		cfg:     cfg,
		media:   media,
		signals: signals,
		events:  events,
		links:   make(map[domain.SessionID]*peerLink),
	}
}

// CreateLink registers a link for a remote participant and starts its
// negotiation timeout. The initiator produces and emits the first offer;
// the responder waits for one. Creating a link that already exists is a
// no-op.
func (o *Orchestrator) CreateLink(remote domain.SessionID, isInitiator bool) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.destroyed {
		return core.E(core.CodeInternal, "orchestrator destroyed")
	}
	if _, ok := o.links[remote]; ok {
		log.Debug().Str("module", "orchestrator").Str("remote", string(remote)).Msg("link already exists")
		return nil
	}
	link := &peerLink{remote: remote, initiator: isInitiator}
	o.links[remote] = link
	return o.startLocked(link, isInitiator)
}

// ConnectAll creates an initiator link per roster entry. Called with the
// roster a successful join returns.
func (o *Orchestrator) ConnectAll(roster []domain.SessionID) error {
	for _, remote := range roster {
		if remote == o.self {
			continue
		}
		if err := o.CreateLink(remote, true); err != nil {
			return err
		}
	}
	return nil
}

// startLocked builds a fresh media connection for the link and begins a
// negotiation round. Shared by creation and retry.
func (o *Orchestrator) startLocked(link *peerLink, asInitiator bool) error {
	link.gen++
	gen := link.gen
	remote := link.remote

	media, err := o.media(remote)
	if err != nil {
		delete(o.links, remote)
		return core.E(core.CodeInternal, "media connection setup failed").WithCause(err)
	}
	link.media = media
	link.initiator = asInitiator
	link.state = LinkNegotiating

	media.OnRemoteTrack(func() { o.onStream(remote, gen) })
	media.OnTransportFailed(func() { o.onTransportFailure(remote, gen) })
	media.OnCandidate(func(cand core.CandidatePayload) { o.sendSignal(remote, core.SignalCandidate, cand) })

	link.timer = time.AfterFunc(o.cfg.NegotiationTimeout, func() { o.onTimeout(remote, gen) })

	if asInitiator {
		offer, err := media.CreateOffer()
		if err != nil {
			o.releaseLocked(link)
			delete(o.links, remote)
			return core.E(core.CodeInternal, "offer creation failed").WithCause(err)
		}
		o.sendSignal(remote, core.SignalOffer, offer)
	}
	return nil
}

// HandleSignal applies an inbound offer, answer or candidate to the link it
// addresses. Signals for an unknown link are dropped: the remote side may
// already be gone.
func (o *Orchestrator) HandleSignal(from domain.SessionID, env core.SignalEnvelope) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	link, ok := o.links[from]
	if !ok {
		log.Debug().Str("module", "orchestrator").Str("from", string(from)).Str("kind", string(env.Kind)).Msg("signal for unknown link dropped")
		return nil
	}
	switch env.Kind {
	case core.SignalOffer:
		var offer core.SDPPayload
		if err := json.Unmarshal(env.Payload, &offer); err != nil {
			return core.E(core.CodeInvalidInput, "malformed offer payload").WithCause(err)
		}
		answer, err := link.media.AcceptOffer(offer)
		if err != nil {
			return core.E(core.CodeInternal, "answering offer failed").WithCause(err)
		}
		o.sendSignal(from, core.SignalAnswer, answer)
		return nil
	case core.SignalAnswer:
		var answer core.SDPPayload
		if err := json.Unmarshal(env.Payload, &answer); err != nil {
			return core.E(core.CodeInvalidInput, "malformed answer payload").WithCause(err)
		}
		if err := link.media.AcceptAnswer(answer); err != nil {
			return core.E(core.CodeInternal, "applying answer failed").WithCause(err)
		}
		return nil
	case core.SignalCandidate:
		var cand core.CandidatePayload
		if err := json.Unmarshal(env.Payload, &cand); err != nil {
			return core.E(core.CodeInvalidInput, "malformed candidate payload").WithCause(err)
		}
		if err := link.media.AddCandidate(cand); err != nil {
			return core.E(core.CodeInternal, "applying candidate failed").WithCause(err)
		}
		return nil
	default:
		return core.Ef(core.CodeInvalidInput, "unknown signal kind %q", env.Kind)
	}
}

// RemoveLink tears a link down: timeout cancelled, retry counters
// discarded, media released. Idempotent.
func (o *Orchestrator) RemoveLink(remote domain.SessionID) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.removeLocked(remote)
}

func (o *Orchestrator) removeLocked(remote domain.SessionID) {
	link, ok := o.links[remote]
	if !ok {
		return
	}
	o.releaseLocked(link)
	link.state = LinkClosed
	delete(o.links, remote)
	log.Info().Str("module", "orchestrator").Str("remote", string(remote)).Msg("link removed")
}

// releaseLocked invalidates outstanding timers and callbacks and closes the
// media connection. The gen bump makes anything already in flight a no-op.
func (o *Orchestrator) releaseLocked(link *peerLink) {
	link.gen++
	if link.timer != nil {
		link.timer.Stop()
		link.timer = nil
	}
	if link.media != nil {
		link.media.Close()
		link.media = nil
	}
}

// Destroy releases every link. The orchestrator accepts no further work.
func (o *Orchestrator) Destroy() {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.destroyed = true
	for remote := range o.links {
		o.removeLocked(remote)
	}
}

// State reports the current state of the link for a remote participant.
func (o *Orchestrator) State(remote domain.SessionID) (LinkState, bool) {
	o.mu.Lock()
	defer o.mu.Unlock()
	link, ok := o.links[remote]
	if !ok {
		return "", false
	}
	return link.state, true
}

func (o *Orchestrator) onStream(remote domain.SessionID, gen int) {
	o.mu.Lock()
	link, ok := o.links[remote]
	if !ok || link.gen != gen || link.state != LinkNegotiating {
		o.mu.Unlock()
		return
	}
	if link.timer != nil {
		link.timer.Stop()
		link.timer = nil
	}
	link.state = LinkConnected
	link.retries = 0
	o.mu.Unlock()
	log.Info().Str("module", "orchestrator").Str("remote", string(remote)).Msg("link connected")
	if o.events.LinkConnected != nil {
		o.events.LinkConnected(remote)
	}
}

// onTimeout fires when a negotiation round produced no remote stream within
// the window. The link is recreated with the same initiator role.
func (o *Orchestrator) onTimeout(remote domain.SessionID, gen int) {
	o.mu.Lock()
	link, ok := o.links[remote]
	if !ok || link.gen != gen || link.state != LinkNegotiating {
		o.mu.Unlock()
		return
	}
	log.Warn().Str("module", "orchestrator").Str("remote", string(remote)).Int("retries", link.retries).Msg("negotiation timed out")
	o.retryLocked(link, link.initiator)
	o.mu.Unlock()
}

// onTransportFailure handles the media layer reporting a dead connection.
// The retry runs as responder: the remote side is assumed to re-initiate.
func (o *Orchestrator) onTransportFailure(remote domain.SessionID, gen int) {
	o.mu.Lock()
	link, ok := o.links[remote]
	if !ok || link.gen != gen || link.state == LinkClosed || link.state == LinkFailed {
		o.mu.Unlock()
		return
	}
	link.state = LinkDisconnected
	log.Warn().Str("module", "orchestrator").Str("remote", string(remote)).Msg("media transport failed")
	o.retryLocked(link, false)
	o.mu.Unlock()
}

// retryLocked consumes one unit of the retry budget and rebuilds the link,
// or releases it with a single terminal failure event once the budget is
// spent. Caller holds the lock.
func (o *Orchestrator) retryLocked(link *peerLink, asInitiator bool) {
	remote := link.remote
	o.releaseLocked(link)
	if link.retries >= o.cfg.MaxRetries {
		link.state = LinkFailed
		delete(o.links, remote)
		log.Error().Str("module", "orchestrator").Str("remote", string(remote)).Int("retries", link.retries).Msg("link failed permanently")
		if o.events.LinkFailed != nil {
			o.events.LinkFailed(remote)
		}
		return
	}
	link.retries++
	if err := o.startLocked(link, asInitiator); err != nil {
		log.Error().Err(err).Str("module", "orchestrator").Str("remote", string(remote)).Msg("link rebuild failed")
	}
}

func (o *Orchestrator) sendSignal(to domain.SessionID, kind core.SignalKind, payload any) {
	data, err := json.Marshal(payload)
	if err != nil {
		log.Error().Err(err).Str("module", "orchestrator").Msg("signal payload marshal failed")
		return
	}
	env := core.SignalEnvelope{
		To:      string(to),
		From:    string(o.self),
		Kind:    kind,
		Payload: data,
	}
	if err := o.signals.SendSignal(env); err != nil {
		log.Warn().Err(err).Str("module", "orchestrator").Str("to", string(to)).Str("kind", string(kind)).Msg("signal send failed")
	}
}
