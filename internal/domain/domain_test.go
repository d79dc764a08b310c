package domain

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewUser(t *testing.T) {
	u, err := NewUser("Ana")
	require.NoError(t, err)
	assert.NotEmpty(t, u.ID)
	assert.Equal(t, "Ana", u.Name)

	_, err = NewUser("")
	require.ErrorIs(t, err, ErrUsernameEmpty)

	_, err = NewUser(strings.Repeat("x", MaxUsernameLen+1))
	require.ErrorIs(t, err, ErrUsernameTooLong)
}

func TestSanitizeRoomName(t *testing.T) {
	tests := []struct {
		raw  string
		want RoomName
	}{
		{"lobby", "lobby"},
		{"Dev Room!", "devroom"},
		{"  TEAM-1  ", "team-1"},
		{"über", "ber"},
		{"!!!", DefaultRoom},
		{"", DefaultRoom},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, SanitizeRoomName(tt.raw), "input %q", tt.raw)
	}
}

func TestSystemNoticeHasNoAuthor(t *testing.T) {
	msg := NewSystemNotice("call ended")
	assert.Nil(t, msg.Author)
	assert.Equal(t, "call ended", msg.Text)
	assert.NotEmpty(t, msg.ID)
	assert.Positive(t, msg.Timestamp)
}

func TestChatMessageStampsAuthor(t *testing.T) {
	ana := &User{ID: "a", Name: "Ana"}
	msg := NewChatMessage(ana, "hi")
	require.NotNil(t, msg.Author)
	assert.Equal(t, UserID("a"), msg.Author.ID)
	assert.NotEmpty(t, msg.ID)
}
