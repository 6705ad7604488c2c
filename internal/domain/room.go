package domain

type RoomID string

// MaxOccupants is the hard cap on a room: calls are strictly two-party.
const MaxOccupants = 2

type Room struct {
	ID RoomID
}
