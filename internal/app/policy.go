package app

import "github.com/mentorlab/callkit/internal/core"

type BackpressureAction int

const (
	NoAction BackpressureAction = iota
	MarkSlow
	KickOccupant
	DropFrame
)

// Policy decides what to do with an occupant whose send buffer is full.
type Policy interface {
	OnBackPressure(room core.RoomService, occupant core.OccupantSession) BackpressureAction
}

// SimplePolicy kicks a slow occupant. Signaling traffic is tiny, so a full
// buffer means the channel is effectively dead.
type SimplePolicy struct{}

func (SimplePolicy) OnBackPressure(core.RoomService, core.OccupantSession) BackpressureAction {
	return KickOccupant
}
