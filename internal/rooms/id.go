package rooms

import (
	"sort"
	"strings"
)

// Separator joins the two participants of a direct room.
const Separator = "_"

// DirectRoomID returns the room shared by two users. Either side computes
// the same id regardless of argument order.
func DirectRoomID(userA, userB string) string {
	participants := []string{userA, userB}
	sort.Strings(participants)
	return strings.Join(participants, Separator)
}

// PersonalRoomID returns the notification room owned by a single user.
func PersonalRoomID(userID string) string {
	return userID
}

// ValidUserID reports whether id can own rooms. Ids containing Separator
// are refused so a personal room can never collide with a direct room.
func ValidUserID(id string) bool {
	return id != "" && !strings.Contains(id, Separator)
}

// ParseDirectRoomID splits a direct room id back into its participants.
// It reports false for ids that DirectRoomID could not have produced from
// two valid user ids.
func ParseDirectRoomID(roomID string) (string, string, bool) {
	a, b, found := strings.Cut(roomID, Separator)
	if !found || !ValidUserID(a) || !ValidUserID(b) {
		return "", "", false
	}
	if a > b {
		return "", "", false
	}
	return a, b, true
}

// CanAccess reports whether userID may join or read roomID: its own personal
// room, or a direct room it participates in.
func CanAccess(userID, roomID string) bool {
	if !ValidUserID(userID) || roomID == "" {
		return false
	}
	if roomID == PersonalRoomID(userID) {
		return true
	}
	a, b, ok := ParseDirectRoomID(roomID)
	if !ok {
		return false
	}
	return a == userID || b == userID
}
