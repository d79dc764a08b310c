package domain

import (
	"regexp"
	"strings"
)

type RoomName string

const DefaultRoom RoomName = "lobby"

var roomNameStrip = regexp.MustCompile(`[^\w-]+`)

// SanitizeRoomName normalizes a user-supplied room name the same way
// the token endpoint does: lowercase, word characters and dashes only,
// falling back to the default room when nothing survives.
func SanitizeRoomName(raw string) RoomName {
	s := strings.ToLower(strings.TrimSpace(raw))
	s = roomNameStrip.ReplaceAllString(s, "")
	if s == "" {
		return DefaultRoom
	}
	return RoomName(s)
}
