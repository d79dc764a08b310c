package server

import (
	"errors"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
)

var ErrBackpressure = errors.New("backpressure")

const (
	sendQueueSize = 32
	writeTimeout  = 5 * time.Second
)

// wsConn pairs a websocket with a bounded send queue. Slow consumers
// get ErrBackpressure instead of blocking the broadcaster.
type wsConn struct {
	conn *websocket.Conn
	send chan []byte

	mu     sync.Mutex
	closed bool
}

func newWSConn(ws *websocket.Conn) *wsConn {
	return &wsConn{conn: ws, send: make(chan []byte, sendQueueSize)}
}

func (c *wsConn) TrySend(data []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return errors.New("connection closed")
	}
	select {
	case c.send <- data:
		return nil
	default:
		return ErrBackpressure
	}
}

func (c *wsConn) Close(code int, reason string) {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	close(c.send)
	c.mu.Unlock()

	msg := websocket.FormatCloseMessage(code, reason)
	_ = c.conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(writeTimeout))
	_ = c.conn.Close()
}

func (c *wsConn) writePump() {
	for data := range c.send {
		if err := c.conn.SetWriteDeadline(time.Now().Add(writeTimeout)); err != nil {
			log.Debug().Err(err).Str("module", "server").Msg("writePump set deadline")
			return
		}
		if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
			log.Debug().Err(err).Str("module", "server").Msg("writePump write error")
			return
		}
	}
}

// readPump delivers inbound frames to handler until the connection
// drops, then runs onClose.
func (c *wsConn) readPump(readLimit int64, handler func(data []byte), onClose func()) {
	defer func() {
		onClose()
		c.Close(websocket.CloseNormalClosure, "")
	}()
	if readLimit > 0 {
		c.conn.SetReadLimit(readLimit)
	}
	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			return
		}
		handler(data)
	}
}
