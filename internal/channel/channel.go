// Package channel wraps one persistent WebSocket connection to the
// room server. One channel per room join: when it closes, for any
// reason, it stays closed; reconnecting means dialing a fresh one.
package channel

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
)

var (
	ErrBackpressure = errors.New("backpressure")
	ErrClosed       = errors.New("channel closed")
)

const (
	sendQueueSize = 32
	writeTimeout  = 5 * time.Second
)

// Handler receives channel lifecycle and inbound frames. OnOpen and
// OnClose each fire exactly once; OnClose fires on every termination
// cause: network failure, server close, or local Close.
type Handler struct {
	OnOpen    func()
	OnMessage func(data []byte)
	OnClose   func()
}

type Channel struct {
	conn *websocket.Conn
	send chan []byte
	h    Handler

	mu     sync.RWMutex
	closed bool

	closeOnce sync.Once
}

// Dial connects to endpoint and starts the read/write pumps.
// The returned channel is live until the peer or the caller closes it.
func Dial(ctx context.Context, endpoint string, h Handler) (*Channel, error) {
	ws, _, err := websocket.DefaultDialer.DialContext(ctx, endpoint, nil)
	if err != nil {
		return nil, err
	}

	c := &Channel{
		conn: ws,
		send: make(chan []byte, sendQueueSize),
		h:    h,
	}

	go c.writePump()
	go c.readPump()

	if h.OnOpen != nil {
		h.OnOpen()
	}
	return c, nil
}

// TrySend queues one frame for delivery. It never blocks: a full
// queue returns ErrBackpressure and the frame is dropped.
func (c *Channel) TrySend(data []byte) error {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.closed {
		return ErrClosed
	}
	select {
	case c.send <- data:
		return nil
	default:
		return ErrBackpressure
	}
}

// Close sends a close frame and tears the connection down.
// Safe to call more than once.
func (c *Channel) Close(code int, reason string) {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	close(c.send)
	c.mu.Unlock()

	deadline := time.Now().Add(writeTimeout)
	msg := websocket.FormatCloseMessage(code, reason)
	if err := c.conn.WriteControl(websocket.CloseMessage, msg, deadline); err != nil {
		log.Debug().Err(err).Str("module", "channel").Msg("write close frame")
	}
	_ = c.conn.Close()
	c.fireClose()
}

func (c *Channel) teardown() {
	c.mu.Lock()
	if !c.closed {
		c.closed = true
		close(c.send)
	}
	c.mu.Unlock()
	_ = c.conn.Close()
	c.fireClose()
}

func (c *Channel) fireClose() {
	c.closeOnce.Do(func() {
		if c.h.OnClose != nil {
			c.h.OnClose()
		}
	})
}

func (c *Channel) writePump() {
	for data := range c.send {
		if err := c.conn.SetWriteDeadline(time.Now().Add(writeTimeout)); err != nil {
			log.Error().Err(err).Str("module", "channel").Msg("writePump set deadline")
			return
		}
		if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
			log.Error().Err(err).Str("module", "channel").Msg("writePump write error")
			return
		}
	}
}

func (c *Channel) readPump() {
	defer c.teardown()
	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				log.Debug().Err(err).Str("module", "channel").Msg("readPump read error")
			}
			return
		}
		if c.h.OnMessage != nil {
			c.h.OnMessage(data)
		}
	}
}
