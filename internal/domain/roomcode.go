package domain

import (
	"crypto/rand"
	"strings"

	"github.com/google/uuid"
)

// Room codes use uppercase letters and digits with 0/O/1/I excluded so they
// survive being read aloud or copied off a projector.
const roomCodeAlphabet = "ABCDEFGHJKLMNPQRSTUVWXYZ23456789"

const roomCodeLength = 6

// NewRoomCode generates a 6-character code over the room-code alphabet.
func NewRoomCode() string {
	buf := make([]byte, roomCodeLength)
	if _, err := rand.Read(buf); err != nil {
		panic("roomcode: " + err.Error())
	}
	for i, b := range buf {
		buf[i] = roomCodeAlphabet[int(b)%len(roomCodeAlphabet)]
	}
	return string(buf)
}

// ValidRoomCode reports whether s is a well-formed room code.
func ValidRoomCode(s string) bool {
	if len(s) != roomCodeLength {
		return false
	}
	for _, r := range s {
		if !strings.ContainsRune(roomCodeAlphabet, r) {
			return false
		}
	}
	return true
}

// NewJoinToken mints the opaque token handed to joining clients.
func NewJoinToken() string {
	return uuid.NewString()
}
