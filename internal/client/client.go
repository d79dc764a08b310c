// Package client wires the room core together: guest-token fetch,
// channel dial, inbound dispatch into room state and call engine,
// and the keepalive loop.
package client

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"sync"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/rs/zerolog/log"

	"github.com/parley-chat/parley/internal/call"
	"github.com/parley-chat/parley/internal/channel"
	"github.com/parley-chat/parley/internal/domain"
	"github.com/parley-chat/parley/internal/keepalive"
	"github.com/parley-chat/parley/internal/media"
	"github.com/parley-chat/parley/internal/protocol"
	"github.com/parley-chat/parley/internal/room"
)

var (
	ErrNotConnected = errors.New("not connected")
	ErrUserNotFound = errors.New("user not in roster")
)

// TokenGrant is the /api/guest-token response.
type TokenGrant struct {
	UID        string `json:"uid"`
	Username   string `json:"username"`
	Room       string `json:"room"`
	Token      string `json:"token"`
	ExpSeconds int    `json:"expSeconds"`
}

// Options tune one client instance. Zero value works.
type Options struct {
	// Media overrides the capture/peer provider (tests use fakes).
	Media call.Media
	// ICEServers for the default provider. Ignored when Media is set.
	ICEServers []string
	// WakeLock backs the keepalive controller; nil means no-op.
	WakeLock keepalive.WakeLock
	// PingInterval defaults to keepalive.DefaultInterval.
	PingInterval time.Duration

	// UI hooks, all optional.
	OnChat        func(domain.ChatMessage)
	OnRoster      func([]domain.User)
	OnIncoming    func(call.PendingOffer)
	OnPhaseChange func(call.Phase)
}

type Client struct {
	server string
	httpc  *resty.Client
	opts   Options

	Room  *room.State
	Calls *call.Engine

	keep *keepalive.Controller

	mu   sync.RWMutex
	ch   *channel.Channel
	done chan struct{}

	closeOnce sync.Once
}

// New prepares a client for one join against the given server base URL
// (http:// or https://).
func New(server string, opts Options) *Client {
	c := &Client{
		server: server,
		httpc:  resty.New().SetTimeout(10 * time.Second),
		opts:   opts,
		Room:   room.NewState(),
		done:   make(chan struct{}),
	}

	provider := opts.Media
	if provider == nil {
		provider = media.NewDevices(opts.ICEServers)
	}
	c.Calls = call.New(provider, c, call.Options{
		Notify:        call.NotifierFunc(c.Room.SystemNotice),
		OnIncoming:    opts.OnIncoming,
		OnPhaseChange: opts.OnPhaseChange,
	})
	c.keep = keepalive.New(c, opts.PingInterval, opts.WakeLock)
	return c
}

// Join fetches a guest token for roomName and opens the channel.
// One channel per join: after Done() fires, a fresh Join (on a fresh
// Client) is the reconnect path.
func (c *Client) Join(ctx context.Context, roomName string) error {
	grant, err := c.fetchGrant(ctx, roomName)
	if err != nil {
		return fmt.Errorf("guest token: %w", err)
	}
	c.Room.SetGrant(domain.UserID(grant.UID), grant.Username, domain.RoomName(grant.Room))

	endpoint, err := wsEndpoint(c.server, grant.Token)
	if err != nil {
		return err
	}

	ch, err := channel.Dial(ctx, endpoint, channel.Handler{
		OnMessage: c.dispatch,
		OnClose:   c.onChannelClose,
	})
	if err != nil {
		return fmt.Errorf("dial channel: %w", err)
	}

	c.mu.Lock()
	c.ch = ch
	c.mu.Unlock()

	c.keep.Start()
	log.Info().Str("module", "client").Str("room", grant.Room).Str("uid", grant.UID).Msg("joined room")
	return nil
}

func (c *Client) fetchGrant(ctx context.Context, roomName string) (*TokenGrant, error) {
	grant := &TokenGrant{}
	resp, err := c.httpc.R().
		SetContext(ctx).
		SetQueryParam("room", roomName).
		SetResult(grant).
		Get(c.server + "/api/guest-token")
	if err != nil {
		return nil, err
	}
	if resp.IsError() {
		return nil, fmt.Errorf("token endpoint: %s", resp.Status())
	}
	if grant.Token == "" {
		return nil, errors.New("token endpoint: empty token")
	}
	return grant, nil
}

func wsEndpoint(server, token string) (string, error) {
	u, err := url.Parse(server)
	if err != nil {
		return "", fmt.Errorf("parse server url: %w", err)
	}
	switch u.Scheme {
	case "https":
		u.Scheme = "wss"
	default:
		u.Scheme = "ws"
	}
	u.Path = "/ws"
	u.RawQuery = url.Values{"token": {token}}.Encode()
	return u.String(), nil
}

// TrySend implements the Sender port for the call engine and the
// keepalive controller.
func (c *Client) TrySend(data []byte) error {
	c.mu.RLock()
	ch := c.ch
	c.mu.RUnlock()
	if ch == nil {
		return ErrNotConnected
	}
	return ch.TrySend(data)
}

func (c *Client) dispatch(data []byte) {
	msg, err := protocol.Decode(data)
	if err != nil {
		// Malformed frames are dropped, never fatal.
		log.Debug().Err(err).Str("module", "client").Msg("frame dropped")
		return
	}

	switch m := msg.(type) {
	case *protocol.Welcome:
		c.Room.ApplyWelcome(m)
	case *protocol.History:
		c.Room.ApplyHistory(m)
	case *protocol.Presence:
		c.Room.ApplyPresence(m)
	case *protocol.UserList:
		c.Room.ApplyUserList(m)
		if c.opts.OnRoster != nil {
			c.opts.OnRoster(c.Room.Roster())
		}
	case *protocol.Chat:
		c.Room.ApplyChat(m)
		if c.opts.OnChat != nil {
			c.opts.OnChat(m.Message)
		}
	case *protocol.CallOffer:
		c.Calls.HandleOffer(m)
	case *protocol.CallAnswer:
		c.Calls.HandleAnswer(m)
	case *protocol.ICECandidate:
		c.Calls.HandleCandidate(m)
	case *protocol.CallDecline:
		c.Calls.HandleDecline(m)
	case *protocol.CallEnd:
		c.Calls.HandleEnd(m)
	default:
		log.Debug().Str("module", "client").Str("type", string(msg.Kind())).Msg("unrecognized frame ignored")
	}
}

// onChannelClose fires exactly once on any termination cause. The
// channel is already gone, so the call teardown sends nothing.
func (c *Client) onChannelClose() {
	c.closeOnce.Do(func() {
		c.keep.Stop()
		c.Calls.ChannelClosed()
		c.Room.SystemNotice("connection closed")
		close(c.done)
		log.Info().Str("module", "client").Msg("channel closed")
	})
}

// Done is closed when the channel terminates.
func (c *Client) Done() <-chan struct{} { return c.done }

// Leave closes the channel with a normal-closure frame.
func (c *Client) Leave() {
	c.mu.RLock()
	ch := c.ch
	c.mu.RUnlock()
	if ch != nil {
		ch.Close(1000, "leaving")
	}
}

// SendChat posts one chat line to the room.
func (c *Client) SendChat(text string) error {
	frame, err := protocol.EncodeChat(text)
	if err != nil {
		return err
	}
	return c.TrySend(frame)
}

// RequestUsers asks the server for a fresh authoritative roster.
func (c *Client) RequestUsers() error {
	frame, err := protocol.EncodeGetUsers()
	if err != nil {
		return err
	}
	return c.TrySend(frame)
}

// CallUser starts an outgoing call to a roster member by name.
func (c *Client) CallUser(ctx context.Context, name string) error {
	for _, u := range c.Room.Roster() {
		if u.Name == name {
			return c.Calls.StartCall(ctx, u.ID, u.Name)
		}
	}
	return ErrUserNotFound
}
