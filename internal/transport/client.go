// Package transport keeps one logical bidirectional event channel to the
// coordinator alive across network interruptions, queuing outbound envelopes
// and replaying them in order on recovery.
package transport

import (
	"context"
	"encoding/json"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/huddlekit/huddle/internal/core"
)

type Phase string

const (
	PhaseDisconnected Phase = "disconnected"
	PhaseConnecting   Phase = "connecting"
	PhaseConnected    Phase = "connected"
	PhaseReconnecting Phase = "reconnecting"
)

// Conn is one established channel. The gorilla/websocket implementation
// lives in ws.go; tests supply fakes.
type Conn interface {
	ReadMessage() ([]byte, error)
	WriteMessage(data []byte) error
	Close() error
}

// Dialer establishes a Conn.
type Dialer interface {
	Dial(ctx context.Context, url string) (Conn, error)
}

// Handler receives the data payload of a dispatched envelope. Handlers for
// one connection run sequentially, in arrival order.
type Handler func(data json.RawMessage)

// Unsubscribe removes the handler it was returned for. Safe to call twice.
type Unsubscribe func()

type Config struct {
	URL                  string
	HeartbeatPeriod      time.Duration
	ReconnectBase        time.Duration
	ReconnectFactor      float64
	ReconnectMax         time.Duration
	MaxReconnectAttempts int
}

func (c *Config) withDefaults() {
	if c.HeartbeatPeriod <= 0 {
		c.HeartbeatPeriod = 25 * time.Second
	}
	if c.ReconnectBase <= 0 {
		c.ReconnectBase = time.Second
	}
	if c.ReconnectFactor < 1 {
		c.ReconnectFactor = 2
	}
	if c.ReconnectMax <= 0 {
		c.ReconnectMax = 30 * time.Second
	}
	if c.MaxReconnectAttempts <= 0 {
		c.MaxReconnectAttempts = 8
	}
}

// Client owns the channel lifecycle. Construct with New, wire handlers with
// On, then Connect. There is deliberately no package-level instance: callers
// own the client and its lifecycle.
type Client struct {
	cfg    Config
	dialer Dialer

	seq uint64 // envelope ids, monotonic per client

	mu                 sync.Mutex
	phase              Phase
	conn               Conn
	queue              []core.Envelope
	handlers           map[string]map[int]Handler
	nextHandlerID      int
	attempts           int
	intentional        bool
	lastConnectedAt    time.Time
	lastDisconnectedAt time.Time
	heartbeatStop      chan struct{}
	onPhase            func(Phase)
}

func New(cfg Config, dialer Dialer) *Client {
	cfg.withDefaults()
	return &Client{
		cfg:      cfg,
		dialer:   dialer,
		phase:    PhaseDisconnected,
		handlers: make(map[string]map[int]Handler),
	}
}

// OnPhaseChange registers the phase observer. The terminal disconnected
// phase after the reconnect budget is exhausted is the caller's signal to
// drive recovery itself.
func (c *Client) OnPhaseChange(fn func(Phase)) {
	c.mu.Lock()
	c.onPhase = fn
	c.mu.Unlock()
}

func (c *Client) Phase() Phase {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.phase
}

// Stats is a snapshot of the channel's availability bookkeeping.
type Stats struct {
	Phase              Phase
	ReconnectAttempts  int
	QueuedEnvelopes    int
	LastConnectedAt    time.Time
	LastDisconnectedAt time.Time
}

func (c *Client) Stats() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()
	return Stats{
		Phase:              c.phase,
		ReconnectAttempts:  c.attempts,
		QueuedEnvelopes:    len(c.queue),
		LastConnectedAt:    c.lastConnectedAt,
		LastDisconnectedAt: c.lastDisconnectedAt,
	}
}

func (c *Client) setPhase(p Phase) {
	c.phase = p
	if c.onPhase != nil {
		fn := c.onPhase
		c.mu.Unlock()
		fn(p)
		c.mu.Lock()
	}
}

// Connect establishes the channel. No-op when already connected, connecting
// or auto-reconnecting.
func (c *Client) Connect(ctx context.Context) error {
	c.mu.Lock()
	if c.phase != PhaseDisconnected {
		c.mu.Unlock()
		return nil
	}
	c.intentional = false
	c.setPhase(PhaseConnecting)
	c.mu.Unlock()

	conn, err := c.dialer.Dial(ctx, c.cfg.URL)
	if err != nil {
		c.mu.Lock()
		c.setPhase(PhaseDisconnected)
		c.mu.Unlock()
		return err
	}
	c.attach(conn)
	return nil
}

// attach installs an established conn, flushes the queue in FIFO order and
// starts the heartbeat and read loop.
func (c *Client) attach(conn Conn) {
	c.mu.Lock()
	if c.intentional {
		// Disconnect won the race against a reconnect dial.
		c.setPhase(PhaseDisconnected)
		c.mu.Unlock()
		_ = conn.Close()
		return
	}
	c.conn = conn
	c.attempts = 0
	c.lastConnectedAt = time.Now()
	c.flushLocked()
	stop := make(chan struct{})
	c.heartbeatStop = stop
	c.setPhase(PhaseConnected)
	c.mu.Unlock()

	go c.heartbeat(conn, stop)
	go c.readLoop(conn)
}

// flushLocked replays queued envelopes in call order. A failed write leaves
// the unsent remainder queued, so nothing is duplicated or reordered.
func (c *Client) flushLocked() {
	for len(c.queue) > 0 {
		env := c.queue[0]
		data, err := json.Marshal(env)
		if err != nil {
			c.queue = c.queue[1:]
			log.Error().Err(err).Str("module", "transport").Str("event", env.Type).Msg("dropping unmarshalable queued envelope")
			continue
		}
		if err := c.conn.WriteMessage(data); err != nil {
			log.Warn().Err(err).Str("module", "transport").Int("pending", len(c.queue)).Msg("flush interrupted")
			return
		}
		c.queue = c.queue[1:]
	}
}

// Emit sends an event now when connected, otherwise queues it for replay.
func (c *Client) Emit(eventType string, payload any) error {
	env, err := core.NewEnvelope(eventType, payload, atomic.AddUint64(&c.seq, 1))
	if err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.phase == PhaseConnected && c.conn != nil {
		data, err := json.Marshal(env)
		if err != nil {
			return err
		}
		if err := c.conn.WriteMessage(data); err != nil {
			// The read loop will notice the drop; keep the envelope.
			c.queue = append(c.queue, env)
			return nil
		}
		return nil
	}
	c.queue = append(c.queue, env)
	return nil
}

// On binds a handler to an event name. Multiple handlers per event are
// allowed; the returned handle removes exactly this one.
func (c *Client) On(eventType string, h Handler) Unsubscribe {
	c.mu.Lock()
	defer c.mu.Unlock()
	m, ok := c.handlers[eventType]
	if !ok {
		m = make(map[int]Handler)
		c.handlers[eventType] = m
	}
	id := c.nextHandlerID
	c.nextHandlerID++
	m[id] = h
	return func() {
		c.mu.Lock()
		defer c.mu.Unlock()
		if m, ok := c.handlers[eventType]; ok {
			delete(m, id)
		}
	}
}

// Off unbinds every handler for an event name.
func (c *Client) Off(eventType string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.handlers, eventType)
}

// Disconnect tears the channel down on purpose: no auto-reconnect, the
// heartbeat stops, and all listener bindings are cleared.
func (c *Client) Disconnect() {
	c.mu.Lock()
	c.intentional = true
	if c.heartbeatStop != nil {
		close(c.heartbeatStop)
		c.heartbeatStop = nil
	}
	conn := c.conn
	c.conn = nil
	c.handlers = make(map[string]map[int]Handler)
	c.lastDisconnectedAt = time.Now()
	c.setPhase(PhaseDisconnected)
	c.mu.Unlock()
	if conn != nil {
		_ = conn.Close()
	}
}

func (c *Client) heartbeat(conn Conn, stop chan struct{}) {
	ticker := time.NewTicker(c.cfg.HeartbeatPeriod)
	defer ticker.Stop()
	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			env, err := core.NewEnvelope(core.EventHeartbeat, nil, atomic.AddUint64(&c.seq, 1))
			if err != nil {
				continue
			}
			data, _ := json.Marshal(env)
			c.mu.Lock()
			if c.conn == conn && c.phase == PhaseConnected {
				_ = conn.WriteMessage(data)
			}
			c.mu.Unlock()
		}
	}
}

// readLoop pumps inbound envelopes into the handler registry. It is the only
// dispatcher for its connection, so handlers never run concurrently and
// envelopes are processed strictly in arrival order.
func (c *Client) readLoop(conn Conn) {
	for {
		data, err := conn.ReadMessage()
		if err != nil {
			c.onReadError(conn, err)
			return
		}
		var env core.Envelope
		if err := json.Unmarshal(data, &env); err != nil {
			log.Warn().Err(err).Str("module", "transport").Msg("bad inbound envelope")
			continue
		}
		c.dispatch(env)
	}
}

func (c *Client) dispatch(env core.Envelope) {
	c.mu.Lock()
	hs := make([]Handler, 0, len(c.handlers[env.Type]))
	for _, h := range c.handlers[env.Type] {
		hs = append(hs, h)
	}
	c.mu.Unlock()
	for _, h := range hs {
		c.safeCall(env, h)
	}
}

// safeCall isolates a panicking handler so the channel and the remaining
// handlers keep working.
func (c *Client) safeCall(env core.Envelope, h Handler) {
	defer func() {
		if r := recover(); r != nil {
			log.Error().Str("module", "transport").Str("event", env.Type).Any("panic", r).Msg("handler panicked")
		}
	}()
	h(env.Data)
}

func (c *Client) onReadError(conn Conn, err error) {
	c.mu.Lock()
	if c.conn != conn {
		// A stale loop from a previous connection.
		c.mu.Unlock()
		return
	}
	if c.heartbeatStop != nil {
		close(c.heartbeatStop)
		c.heartbeatStop = nil
	}
	c.conn = nil
	c.lastDisconnectedAt = time.Now()
	if c.intentional {
		c.setPhase(PhaseDisconnected)
		c.mu.Unlock()
		return
	}
	log.Warn().Err(err).Str("module", "transport").Msg("channel dropped, reconnecting")
	c.setPhase(PhaseReconnecting)
	c.mu.Unlock()
	_ = conn.Close()
	go c.reconnect()
}

// reconnect retries with multiplicative backoff until success or the attempt
// cap, after which the client settles disconnected and waits for the caller.
func (c *Client) reconnect() {
	b := newBackoff(c.cfg.ReconnectBase, c.cfg.ReconnectMax, c.cfg.ReconnectFactor)
	for {
		c.mu.Lock()
		if c.intentional {
			c.setPhase(PhaseDisconnected)
			c.mu.Unlock()
			return
		}
		if c.attempts >= c.cfg.MaxReconnectAttempts {
			c.setPhase(PhaseDisconnected)
			c.mu.Unlock()
			log.Error().Str("module", "transport").Int("attempts", c.attempts).Msg("reconnect budget exhausted")
			return
		}
		c.attempts++
		attempt := c.attempts
		c.mu.Unlock()

		time.Sleep(b.Next())

		conn, err := c.dialer.Dial(context.Background(), c.cfg.URL)
		if err != nil {
			log.Debug().Err(err).Str("module", "transport").Int("attempt", attempt).Msg("reconnect attempt failed")
			continue
		}
		c.attach(conn)
		return
	}
}
