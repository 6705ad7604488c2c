package core

import (
	"errors"

	"github.com/mentorlab/callkit/internal/domain"
)

// Frame is a raw signaling payload, relayed verbatim between occupants.
type Frame []byte

// ConnID identifies one signaling channel (one websocket), as opposed to
// domain.ParticipantID which identifies the person behind it. A rejoin by
// the same participant arrives on a fresh ConnID.
type ConnID string

var ErrRoomFull = errors.New("room full")

// SignalConnection abstracts the system messaging transport.
// Owned by the adapter; the adapter must Close() it.
type SignalConnection interface {
	TrySend(Frame) error
	Close()
}

// OccupantSession binds a domain.Participant and its transport endpoint.
// This is what a room stores and fans out to.
type OccupantSession interface {
	Participant() domain.Participant
	Signal() SignalConnection
}

// PublishResult reports delivery stats/backpressure to the orchestrator.
type PublishResult struct {
	SentTo  int
	Dropped []OccupantSession
}

// RoomService is the core-facing API of a room. It owns the occupant set
// (at most domain.MaxOccupants entries) but never touches transport
// resources. All mutation is serialized behind the room's own lock.
type RoomService interface {
	Room() *domain.Room
	OccupantCount() int
	// Occupants returns the occupied slots in join order.
	Occupants() []domain.Participant

	// AddOccupant registers a participant. A rejoin by an already-registered
	// participant id replaces its session without consuming a second slot
	// and returns the superseded channel's id so the caller can retire it;
	// a third distinct id gets ErrRoomFull.
	AddOccupant(cid ConnID, os OccupantSession) (prev ConnID, err error)
	// RemoveOccupant frees the slot held by cid. It reports false when cid
	// holds no slot, e.g. a stale channel whose participant already rejoined.
	RemoveOccupant(cid ConnID) bool

	// Broadcast fans a frame out to every occupant except from.
	Broadcast(from ConnID, data Frame) PublishResult
}

type RoomInfo struct {
	ID            domain.RoomID `json:"id"`
	OccupantCount int           `json:"occupant_count"`
}

type RoomManager interface {
	GetOrCreate(id domain.RoomID) RoomService
	Get(id domain.RoomID) (RoomService, bool)
	List() []RoomInfo
	StopRoom(id domain.RoomID)
}
