package server

import (
	"encoding/json"

	"github.com/rs/zerolog/log"

	"github.com/parley-chat/parley/internal/domain"
	"github.com/parley-chat/parley/internal/protocol"
)

// clientSession is one authenticated websocket inside a room.
type clientSession struct {
	hub  *Hub
	user domain.User
	room domain.RoomName
	conn *wsConn
}

func (s *clientSession) sendJSON(v any) {
	data, err := json.Marshal(v)
	if err != nil {
		log.Error().Err(err).Str("module", "server").Msg("sendJSON marshal")
		return
	}
	if err := s.conn.TrySend(data); err != nil {
		log.Debug().Err(err).Str("module", "server").Str("uid", string(s.user.ID)).Msg("sendJSON drop")
	}
}

func (s *clientSession) handleFrame(data []byte) {
	var env struct {
		Type protocol.Type `json:"type"`
	}
	if err := json.Unmarshal(data, &env); err != nil {
		log.Debug().Err(err).Str("module", "server").Msg("bad json frame, dropped")
		return
	}

	switch env.Type {
	case protocol.TypeChat:
		s.handleChat(data)
	case protocol.TypeGetUsers:
		s.sendUserList()
	case protocol.TypePing:
		// Heartbeat only; nothing is echoed back.
	case protocol.TypeCallOffer, protocol.TypeCallAnswer, protocol.TypeICECandidate:
		s.relayWithData(env.Type, data)
	case protocol.TypeCallDecline, protocol.TypeCallEnd:
		s.relayPlain(env.Type, data)
	default:
		log.Debug().Str("module", "server").Str("type", string(env.Type)).Msg("unknown frame type, ignored")
	}
}

func (s *clientSession) handleChat(data []byte) {
	var p struct {
		Text string `json:"text"`
	}
	if err := json.Unmarshal(data, &p); err != nil || p.Text == "" {
		return
	}
	author := s.user
	msg := domain.NewChatMessage(&author, p.Text)
	s.hub.AppendHistory(s.room, msg)

	out := struct {
		Type    protocol.Type      `json:"type"`
		Message domain.ChatMessage `json:"message"`
	}{protocol.TypeChat, msg}
	// The sender sees its own message via the echo, like everyone else.
	s.hub.Broadcast(s.room, out, "")
}

func (s *clientSession) sendUserList() {
	s.sendJSON(struct {
		Type  protocol.Type `json:"type"`
		Users []domain.User `json:"users"`
	}{protocol.TypeUserList, s.hub.Users(s.room)})
}

// relayWithData forwards offer/answer/candidate payloads to the
// target, stamping the sender identity.
func (s *clientSession) relayWithData(t protocol.Type, data []byte) {
	var p struct {
		Target domain.UserID   `json:"target"`
		Data   json.RawMessage `json:"data"`
	}
	if err := json.Unmarshal(data, &p); err != nil || p.Target == "" {
		return
	}
	out := struct {
		Type protocol.Type   `json:"type"`
		From domain.User     `json:"from"`
		Data json.RawMessage `json:"data"`
	}{t, s.user, p.Data}
	if !s.hub.Relay(s.room, p.Target, out) {
		log.Debug().Str("module", "server").Str("type", string(t)).
			Str("target", string(p.Target)).Msg("relay target gone, dropped")
	}
}

func (s *clientSession) relayPlain(t protocol.Type, data []byte) {
	var p struct {
		Target domain.UserID `json:"target"`
	}
	if err := json.Unmarshal(data, &p); err != nil || p.Target == "" {
		return
	}
	out := struct {
		Type protocol.Type `json:"type"`
		From domain.User   `json:"from"`
	}{t, s.user}
	if !s.hub.Relay(s.room, p.Target, out) {
		log.Debug().Str("module", "server").Str("type", string(t)).
			Str("target", string(p.Target)).Msg("relay target gone, dropped")
	}
}
