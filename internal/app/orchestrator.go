package app

import (
	"errors"

	"github.com/rs/zerolog/log"

	"github.com/mentorlab/callkit/internal/core"
	"github.com/mentorlab/callkit/internal/domain"
)

// ErrUnboundChannel marks a join from a channel the registry does not know.
// The adapter always binds before joining, so seeing it means that coupling
// broke.
var ErrUnboundChannel = errors.New("signaling channel not bound")

// Orchestrator ties the registry and the room set together. It owns the
// join/relay/leave flow; the signal adapter translates wire frames into
// calls on it and renders the results back onto the channel.
type Orchestrator struct {
	Registry *Registry
	Rooms    core.RoomManager
	Policy   Policy
}

type JoinResult struct {
	Count    int
	Rejoined bool
	// Peers holds the other occupants at the time of the join, in join order.
	Peers []domain.Participant
}

// Join puts the channel's participant into the room. The room is created on
// first join. The capacity check and the insert happen under the room lock,
// so two racing joins cannot both take the last slot.
func (o *Orchestrator) Join(cid core.ConnID, roomID domain.RoomID) (JoinResult, error) {
	sess, ok := o.Registry.GetSession(cid)
	if !ok {
		return JoinResult{}, ErrUnboundChannel
	}

	if prev, _, bound := o.Registry.RoomOf(cid); bound && prev != roomID {
		// One channel, one room. Leaving the old room first keeps the
		// occupant-uniqueness invariant.
		o.Leave(cid)
	}

	room := o.Rooms.GetOrCreate(roomID)
	prev, err := room.AddOccupant(cid, sess)
	if err != nil {
		// A room created by this very call stays empty; drop it again.
		if room.OccupantCount() == 0 {
			o.Rooms.StopRoom(roomID)
		}
		return JoinResult{}, err
	}
	rejoined := prev != ""
	if rejoined && prev != cid {
		// Retire the superseded channel so frames it still sends are no
		// longer relayed into the room.
		o.Registry.Cancel(prev)
		o.Registry.Unbind(prev)
	}
	o.Registry.UpdateRoom(cid, roomID)

	self := sess.Participant().ID
	peers := make([]domain.Participant, 0, domain.MaxOccupants-1)
	for _, p := range room.Occupants() {
		if p.ID != self {
			peers = append(peers, p)
		}
	}

	log.Info().Str("module", "app.orch").Str("room", string(roomID)).
		Str("participant", string(self)).Int("count", room.OccupantCount()).
		Bool("rejoin", rejoined).Msg("join")
	return JoinResult{Count: room.OccupantCount(), Rejoined: rejoined, Peers: peers}, nil
}

// Relay forwards a frame verbatim to the other occupant(s) of the sender's
// room. Nothing about the frame is retained; the relay is stateless with
// respect to call content.
func (o *Orchestrator) Relay(cid core.ConnID, data core.Frame) {
	roomID, _, ok := o.Registry.RoomOf(cid)
	if !ok {
		return
	}
	room, ok := o.Rooms.Get(roomID)
	if !ok {
		return
	}

	res := room.Broadcast(cid, data)
	if o.Policy == nil {
		return
	}
	for _, slow := range res.Dropped {
		if o.Policy.OnBackPressure(room, slow) != KickOccupant {
			continue
		}
		pid := slow.Participant().ID
		log.Warn().Str("module", "app.orch").Str("room", string(roomID)).
			Str("participant", string(pid)).Msg("kicking slow occupant")
		if kcid, ok := o.connOf(roomID, pid); ok {
			o.Registry.Cancel(kcid)
			o.Leave(kcid)
		}
	}
}

// Leave frees the channel's room slot and destroys the room when it empties.
// Calling it for a channel that holds no slot is a no-op.
func (o *Orchestrator) Leave(cid core.ConnID) (domain.RoomID, domain.Participant, bool) {
	roomID, sess, ok := o.Registry.RoomOf(cid)
	if !ok {
		return "", domain.Participant{}, false
	}
	room, ok := o.Rooms.Get(roomID)
	if !ok {
		o.Registry.ClearRoom(cid)
		return "", domain.Participant{}, false
	}

	removed := room.RemoveOccupant(cid)
	o.Registry.ClearRoom(cid)
	if !removed {
		// Stale channel: the participant already rejoined on a fresh one.
		return "", domain.Participant{}, false
	}
	if room.OccupantCount() == 0 {
		o.Rooms.StopRoom(roomID)
		log.Info().Str("module", "app.orch").Str("room", string(roomID)).Msg("room destroyed")
	}
	return roomID, sess.Participant(), true
}

// Disconnect is the channel-teardown path: free the slot, cancel the pumps,
// forget the channel.
func (o *Orchestrator) Disconnect(cid core.ConnID) (domain.RoomID, domain.Participant, bool) {
	roomID, p, had := o.Leave(cid)
	o.Registry.Cancel(cid)
	o.Registry.Unbind(cid)
	return roomID, p, had
}

func (o *Orchestrator) connOf(roomID domain.RoomID, pid domain.ParticipantID) (core.ConnID, bool) {
	o.Registry.mu.RLock()
	defer o.Registry.mu.RUnlock()
	for cid, e := range o.Registry.sessions {
		if e.RoomID == roomID && e.Session.Participant().ID == pid {
			return cid, true
		}
	}
	return "", false
}
