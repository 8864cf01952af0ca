package hub

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"github.com/huddlekit/huddle/internal/domain"
)

var ErrBackpressure = errors.New("backpressure")

type wsConn struct {
	conn *websocket.Conn
	send chan []byte
	seq  uint64

	// Remote endpoint facts captured at upgrade, used for guest dedup.
	ip        string
	userAgent string

	session domain.SessionID
	meeting domain.MeetingID

	mu     sync.RWMutex
	closed bool
}

func (c *wsConn) nextID() uint64 { return atomic.AddUint64(&c.seq, 1) }

func (c *wsConn) TrySend(data []byte) error {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.closed {
		return errors.New("connection closed")
	}
	select {
	case c.send <- data:
	default:
		return ErrBackpressure
	}
	return nil
}

func (c *wsConn) SendJSON(v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return c.TrySend(data)
}

func (c *wsConn) Close() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	close(c.send)
	_ = c.conn.Close()
	c.mu.Unlock()
}

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// HandleWS upgrades the request and runs the connection's pumps until it
// drops. A dropped connection closes its session with the connection_closed
// reason.
func (h *Hub) HandleWS(ctx context.Context, c *gin.Context) {
	ws, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		log.Error().Err(err).Str("module", "hub").Msg("ws upgrade")
		return
	}
	log.Info().Str("module", "hub").Str("ip", c.ClientIP()).Msg("new WS connection")

	conn := &wsConn{
		conn:      ws,
		send:      make(chan []byte, 32),
		ip:        c.ClientIP(),
		userAgent: c.Request.UserAgent(),
	}

	ctx, cancel := context.WithCancel(ctx)
	go h.writePump(ctx, cancel, conn)
	h.readPump(ctx, cancel, conn)
}

func (h *Hub) writePump(ctx context.Context, cancel context.CancelFunc, c *wsConn) {
	defer cancel()
	for {
		select {
		case <-ctx.Done():
			log.Info().Str("module", "hub").Msg("writePump ctx done")
			return
		case data, ok := <-c.send:
			if !ok {
				log.Warn().Str("module", "hub").Msg("writePump channel closed")
				return
			}
			if err := c.conn.SetWriteDeadline(time.Now().Add(5 * time.Second)); err != nil {
				log.Error().Err(err).Str("module", "hub").Msg("writePump set deadline")
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				log.Error().Err(err).Str("module", "hub").Msg("writePump write error")
				return
			}
		}
	}
}

func (h *Hub) readPump(ctx context.Context, cancel context.CancelFunc, c *wsConn) {
	defer func() {
		log.Info().Str("module", "hub").Str("session", string(c.session)).Msg("readPump closing")
		cancel()
		c.Close()
		h.onDisconnect(context.WithoutCancel(ctx), c)
	}()

	for {
		select {
		case <-ctx.Done():
			return
		default:
			_, data, err := c.conn.ReadMessage()
			if err != nil {
				log.Warn().Err(err).Str("module", "hub").Str("session", string(c.session)).Msg("readPump read error")
				return
			}
			h.dispatch(ctx, c, data)
		}
	}
}
