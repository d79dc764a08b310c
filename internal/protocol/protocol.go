// Package protocol implements the JSON envelope codec for the room
// channel. Every frame carries a "type" discriminator; payload fields
// are validated for presence only, downstream code tolerates absent
// optional fields.
package protocol

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/pion/webrtc/v4"

	"github.com/parley-chat/parley/internal/domain"
)

// ErrMalformed marks frames that failed JSON parsing. Callers drop
// such frames silently; a broken frame must never take the client down.
var ErrMalformed = errors.New("malformed frame")

type Type string

const (
	TypeWelcome      Type = "welcome"
	TypeHistory      Type = "history"
	TypePresence     Type = "presence"
	TypeUserList     Type = "user_list"
	TypeChat         Type = "chat"
	TypeGetUsers     Type = "get-users"
	TypePing         Type = "ping"
	TypeCallOffer    Type = "call-offer"
	TypeCallAnswer   Type = "call-answer"
	TypeICECandidate Type = "ice-candidate"
	TypeCallDecline  Type = "call-decline"
	TypeCallEnd      Type = "call-end"
)

const (
	PresenceJoin  = "join"
	PresenceLeave = "leave"
)

// Message is any decoded inbound envelope.
type Message interface {
	Kind() Type
}

type Welcome struct {
	UID  domain.UserID   `json:"uid"`
	Room domain.RoomName `json:"room"`
}

type History struct {
	Messages []domain.ChatMessage `json:"messages"`
}

type Presence struct {
	Subtype string      `json:"subtype"`
	User    domain.User `json:"user"`
}

type UserList struct {
	Users []domain.User `json:"users"`
}

type Chat struct {
	Message domain.ChatMessage `json:"message"`
}

type CallOffer struct {
	From *domain.User              `json:"from"`
	Data webrtc.SessionDescription `json:"data"`
}

type CallAnswer struct {
	From *domain.User              `json:"from"`
	Data webrtc.SessionDescription `json:"data"`
}

type ICECandidate struct {
	From *domain.User            `json:"from"`
	Data webrtc.ICECandidateInit `json:"data"`
}

type CallDecline struct {
	From *domain.User `json:"from"`
}

type CallEnd struct {
	From *domain.User `json:"from"`
}

// Unknown covers frames with an unrecognized or missing type.
// They are ignored downstream (forward-compatibility policy).
type Unknown struct {
	Type Type
}

func (Welcome) Kind() Type      { return TypeWelcome }
func (History) Kind() Type      { return TypeHistory }
func (Presence) Kind() Type     { return TypePresence }
func (UserList) Kind() Type     { return TypeUserList }
func (Chat) Kind() Type         { return TypeChat }
func (CallOffer) Kind() Type    { return TypeCallOffer }
func (CallAnswer) Kind() Type   { return TypeCallAnswer }
func (ICECandidate) Kind() Type { return TypeICECandidate }
func (CallDecline) Kind() Type  { return TypeCallDecline }
func (CallEnd) Kind() Type      { return TypeCallEnd }
func (u Unknown) Kind() Type    { return u.Type }

// Decode parses one inbound frame. Returns ErrMalformed for invalid
// JSON and Unknown for unrecognized types; neither is fatal.
func Decode(data []byte) (Message, error) {
	var env struct {
		Type Type `json:"type"`
	}
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}

	decodeInto := func(msg Message) (Message, error) {
		if err := json.Unmarshal(data, msg); err != nil {
			return nil, fmt.Errorf("%w: %s payload: %v", ErrMalformed, env.Type, err)
		}
		return msg, nil
	}

	switch env.Type {
	case TypeWelcome:
		return decodeInto(&Welcome{})
	case TypeHistory:
		return decodeInto(&History{})
	case TypePresence:
		return decodeInto(&Presence{})
	case TypeUserList:
		return decodeInto(&UserList{})
	case TypeChat:
		return decodeInto(&Chat{})
	case TypeCallOffer:
		return decodeInto(&CallOffer{})
	case TypeCallAnswer:
		return decodeInto(&CallAnswer{})
	case TypeICECandidate:
		return decodeInto(&ICECandidate{})
	case TypeCallDecline:
		return decodeInto(&CallDecline{})
	case TypeCallEnd:
		return decodeInto(&CallEnd{})
	default:
		return Unknown{Type: env.Type}, nil
	}
}
