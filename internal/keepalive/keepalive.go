// Package keepalive sends the periodic liveness ping and holds the
// keep-awake resource while the client is visible. It is independent
// of room and call state.
package keepalive

import (
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/parley-chat/parley/internal/protocol"
)

// DefaultInterval matches the observed client cadence.
const DefaultInterval = 25 * time.Second

type Sender interface {
	TrySend(data []byte) error
}

// WakeLock is the keep-awake capability. Implementations must make
// Release safe after a failed or missing Acquire.
type WakeLock interface {
	Acquire() error
	Release()
}

// NopWakeLock is the default on platforms without an inhibitor API.
type NopWakeLock struct{}

func (NopWakeLock) Acquire() error { return nil }
func (NopWakeLock) Release()       {}

type Controller struct {
	send     Sender
	interval time.Duration
	lock     WakeLock

	stop     chan struct{}
	stopOnce sync.Once

	mu   sync.Mutex
	held bool
}

func New(send Sender, interval time.Duration, lock WakeLock) *Controller {
	if interval <= 0 {
		interval = DefaultInterval
	}
	if lock == nil {
		lock = NopWakeLock{}
	}
	return &Controller{
		send:     send,
		interval: interval,
		lock:     lock,
		stop:     make(chan struct{}),
	}
}

// Start begins the ping loop and acquires the wake lock. The ping is
// a heartbeat only; no acknowledgment is expected.
func (c *Controller) Start() {
	c.acquire()
	go c.run()
}

// SetVisible re-acquires the wake lock when the client becomes
// visible again. Hidden does not release: the session may still be in
// a call, and release happens on Stop.
func (c *Controller) SetVisible(visible bool) {
	if visible {
		c.acquire()
	}
}

// Stop ends the ping loop and releases the wake lock. Idempotent.
func (c *Controller) Stop() {
	c.stopOnce.Do(func() {
		close(c.stop)
		c.release()
	})
}

func (c *Controller) run() {
	t := time.NewTicker(c.interval)
	defer t.Stop()
	for {
		select {
		case <-c.stop:
			return
		case <-t.C:
			frame, err := protocol.EncodePing(time.Now().UnixMilli())
			if err != nil {
				continue
			}
			if err := c.send.TrySend(frame); err != nil {
				log.Debug().Err(err).Str("module", "keepalive").Msg("ping send")
			}
		}
	}
}

func (c *Controller) acquire() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.held {
		return
	}
	if err := c.lock.Acquire(); err != nil {
		log.Warn().Err(err).Str("module", "keepalive").Msg("wake lock acquire")
		return
	}
	c.held = true
}

func (c *Controller) release() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.held {
		return
	}
	c.lock.Release()
	c.held = false
}
