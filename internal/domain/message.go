package domain

import (
	"time"

	"github.com/google/uuid"
)

// ChatMessage is one entry of a room's append-only chat log.
// Author == nil marks a system-generated notice.
type ChatMessage struct {
	ID        string `json:"id"`
	Author    *User  `json:"user"`
	Text      string `json:"text"`
	Timestamp int64  `json:"ts"`
}

func NewChatMessage(author *User, text string) ChatMessage {
	return ChatMessage{
		ID:        uuid.NewString(),
		Author:    author,
		Text:      text,
		Timestamp: time.Now().UnixMilli(),
	}
}

// NewSystemNotice builds an authorless message for join/leave and
// call-status lines.
func NewSystemNotice(text string) ChatMessage {
	return ChatMessage{
		ID:        uuid.NewString(),
		Author:    nil,
		Text:      text,
		Timestamp: time.Now().UnixMilli(),
	}
}
