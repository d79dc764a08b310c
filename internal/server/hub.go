// Package server is a reference implementation of the room contract
// the client core depends on: guest tokens, room broadcast, chat
// history, presence fan-out and targeted call-signal relay.
package server

import (
	"encoding/json"
	"sync"

	"github.com/rs/zerolog/log"

	"github.com/parley-chat/parley/internal/domain"
)

type member struct {
	user domain.User
	conn *wsConn
}

type roomState struct {
	name    domain.RoomName
	members map[domain.UserID]*member
	history []domain.ChatMessage
}

// Hub owns every room: membership, history and fan-out. It never
// closes connections except to kick hopelessly slow consumers.
type Hub struct {
	mu           sync.RWMutex
	rooms        map[domain.RoomName]*roomState
	historyLimit int
}

func NewHub(historyLimit int) *Hub {
	return &Hub{
		rooms:        make(map[domain.RoomName]*roomState),
		historyLimit: historyLimit,
	}
}

func (h *Hub) Join(name domain.RoomName, user domain.User, conn *wsConn) {
	h.mu.Lock()
	defer h.mu.Unlock()
	room, ok := h.rooms[name]
	if !ok {
		room = &roomState{name: name, members: make(map[domain.UserID]*member)}
		h.rooms[name] = room
	}
	room.members[user.ID] = &member{user: user, conn: conn}
	log.Info().Str("module", "server.hub").Str("room", string(name)).Str("uid", string(user.ID)).Msg("member joined")
}

func (h *Hub) Leave(name domain.RoomName, uid domain.UserID) {
	h.mu.Lock()
	defer h.mu.Unlock()
	room, ok := h.rooms[name]
	if !ok {
		return
	}
	delete(room.members, uid)
	if len(room.members) == 0 {
		delete(h.rooms, name)
	}
	log.Info().Str("module", "server.hub").Str("room", string(name)).Str("uid", string(uid)).Msg("member left")
}

// Users returns the authoritative roster snapshot.
func (h *Hub) Users(name domain.RoomName) []domain.User {
	h.mu.RLock()
	defer h.mu.RUnlock()
	room, ok := h.rooms[name]
	if !ok {
		return nil
	}
	out := make([]domain.User, 0, len(room.members))
	for _, m := range room.members {
		out = append(out, m.user)
	}
	return out
}

// AppendHistory records one chat message, trimming to the cap.
func (h *Hub) AppendHistory(name domain.RoomName, msg domain.ChatMessage) {
	h.mu.Lock()
	defer h.mu.Unlock()
	room, ok := h.rooms[name]
	if !ok {
		return
	}
	room.history = append(room.history, msg)
	if h.historyLimit > 0 && len(room.history) > h.historyLimit {
		room.history = room.history[len(room.history)-h.historyLimit:]
	}
}

func (h *Hub) History(name domain.RoomName) []domain.ChatMessage {
	h.mu.RLock()
	defer h.mu.RUnlock()
	room, ok := h.rooms[name]
	if !ok {
		return nil
	}
	out := make([]domain.ChatMessage, len(room.history))
	copy(out, room.history)
	return out
}

// Broadcast fans v out to every room member except `except` (empty id
// means everyone). Members whose queue is full are kicked; a client
// that cannot drain 32 frames is gone anyway.
func (h *Hub) Broadcast(name domain.RoomName, v any, except domain.UserID) {
	data, err := json.Marshal(v)
	if err != nil {
		log.Error().Err(err).Str("module", "server.hub").Msg("broadcast marshal")
		return
	}

	h.mu.RLock()
	room, ok := h.rooms[name]
	var slow []*member
	if ok {
		for uid, m := range room.members {
			if uid == except {
				continue
			}
			if err := m.conn.TrySend(data); err != nil {
				slow = append(slow, m)
			}
		}
	}
	h.mu.RUnlock()

	for _, m := range slow {
		log.Warn().Str("module", "server.hub").Str("uid", string(m.user.ID)).Msg("kicking slow member")
		m.conn.Close(1008, "backpressure")
	}
}

// Relay sends v to a single member. Unknown targets are dropped
// silently; stale call signaling is not an error.
func (h *Hub) Relay(name domain.RoomName, target domain.UserID, v any) bool {
	data, err := json.Marshal(v)
	if err != nil {
		return false
	}
	h.mu.RLock()
	defer h.mu.RUnlock()
	room, ok := h.rooms[name]
	if !ok {
		return false
	}
	m, ok := room.members[target]
	if !ok {
		return false
	}
	return m.conn.TrySend(data) == nil
}
