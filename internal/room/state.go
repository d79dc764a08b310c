// Package room holds the local view of the joined room: identity,
// roster and the append-only chat log. It is updated solely by inbound
// protocol events and local system notices.
package room

import (
	"sync"

	"github.com/rs/zerolog/log"

	"github.com/parley-chat/parley/internal/domain"
	"github.com/parley-chat/parley/internal/protocol"
)

type State struct {
	mu       sync.RWMutex
	identity domain.Identity
	joined   bool
	roster   []domain.User
	messages []domain.ChatMessage
}

func NewState() *State {
	return &State{}
}

// SetGrant records the username/room handed out by the token endpoint
// before the channel is even open. The uid is confirmed by welcome.
func (s *State) SetGrant(uid domain.UserID, username string, room domain.RoomName) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.identity = domain.Identity{ID: uid, Username: username, Room: room}
}

func (s *State) ApplyWelcome(w *protocol.Welcome) {
	s.mu.Lock()
	if w.UID != "" {
		s.identity.ID = w.UID
	}
	if w.Room != "" {
		s.identity.Room = w.Room
	}
	s.joined = true
	s.messages = append(s.messages, domain.NewSystemNotice("joined room "+string(s.identity.Room)))
	s.mu.Unlock()
	log.Info().Str("module", "room").Str("room", string(w.Room)).Msg("welcome")
}

// ApplyPresence appends a system notice only. The roster is never
// patched incrementally; the next user_list replaces it wholesale.
func (s *State) ApplyPresence(p *protocol.Presence) {
	name := p.User.Name
	if name == "" {
		name = "someone"
	}
	switch p.Subtype {
	case protocol.PresenceJoin:
		s.SystemNotice(name + " joined")
	case protocol.PresenceLeave:
		s.SystemNotice(name + " left")
	}
}

// ApplyUserList replaces the roster with the authoritative set.
func (s *State) ApplyUserList(u *protocol.UserList) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.roster = make([]domain.User, len(u.Users))
	copy(s.roster, u.Users)
}

func (s *State) ApplyHistory(h *protocol.History) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.messages = append(s.messages, h.Messages...)
}

func (s *State) ApplyChat(c *protocol.Chat) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.messages = append(s.messages, c.Message)
}

// SystemNotice appends an authorless message to the chat log.
func (s *State) SystemNotice(text string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.messages = append(s.messages, domain.NewSystemNotice(text))
}

func (s *State) Identity() (domain.Identity, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.identity, s.joined
}

func (s *State) Roster() []domain.User {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]domain.User, len(s.roster))
	copy(out, s.roster)
	return out
}

// FindUser resolves an id against the current roster.
func (s *State) FindUser(id domain.UserID) (domain.User, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, u := range s.roster {
		if u.ID == id {
			return u, true
		}
	}
	return domain.User{}, false
}

func (s *State) Messages() []domain.ChatMessage {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]domain.ChatMessage, len(s.messages))
	copy(out, s.messages)
	return out
}
