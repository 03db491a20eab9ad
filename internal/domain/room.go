package domain

import "strings"

const MaxRoomNameLen = 64

type (
	RoomName string
	RoomID   string
)

// Room is the immutable identity of a room.
type Room struct {
	ID   RoomID   `json:"id"`
	Name RoomName `json:"name"`
}

// NormalizeRoomName trims surrounding spaces and caps the length.
func NormalizeRoomName(raw string) RoomName {
	name := strings.TrimSpace(raw)
	if len(name) > MaxRoomNameLen {
		name = name[:MaxRoomNameLen]
	}
	return RoomName(name)
}
