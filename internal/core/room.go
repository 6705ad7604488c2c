package core

import (
	"sync"

	"github.com/rs/zerolog/log"

	"github.com/mentorlab/callkit/internal/domain"
)

// roomImpl is a threadsafe in-memory room holding at most two occupants.
// It never closes adapter-owned resources.
type roomImpl struct {
	room *domain.Room

	mu     sync.RWMutex
	byConn map[ConnID]OccupantSession
	// order keeps the occupied slots in join order; a rejoin keeps its slot.
	order []ConnID
	byPID map[domain.ParticipantID]ConnID
}

func NewRoomService(room *domain.Room) RoomService {
	return &roomImpl{
		room:   room,
		byConn: make(map[ConnID]OccupantSession),
		byPID:  make(map[domain.ParticipantID]ConnID),
	}
}

func (r *roomImpl) Room() *domain.Room { return r.room }

func (r *roomImpl) OccupantCount() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.byConn)
}

func (r *roomImpl) Occupants() []domain.Participant {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]domain.Participant, 0, len(r.order))
	for _, cid := range r.order {
		if os, ok := r.byConn[cid]; ok {
			out = append(out, os.Participant())
		}
	}
	return out
}

func (r *roomImpl) AddOccupant(cid ConnID, os OccupantSession) (ConnID, error) {
	pid := os.Participant().ID
	r.mu.Lock()
	defer r.mu.Unlock()

	if oldCID, ok := r.byPID[pid]; ok {
		// Idempotent rejoin: same participant, possibly a fresh channel.
		// The slot is reused, so the count does not move.
		delete(r.byConn, oldCID)
		r.byConn[cid] = os
		r.byPID[pid] = cid
		for i, c := range r.order {
			if c == oldCID {
				r.order[i] = cid
			}
		}
		log.Info().Str("module", "core.room").Str("room", string(r.room.ID)).
			Str("participant", string(pid)).Msg("occupant rejoined")
		return oldCID, nil
	}

	if len(r.byConn) >= domain.MaxOccupants {
		return "", ErrRoomFull
	}

	r.byConn[cid] = os
	r.byPID[pid] = cid
	r.order = append(r.order, cid)
	log.Info().Str("module", "core.room").Str("room", string(r.room.ID)).
		Str("participant", string(pid)).Str("role", string(os.Participant().Role)).
		Msg("occupant added")
	return "", nil
}

func (r *roomImpl) RemoveOccupant(cid ConnID) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	os, ok := r.byConn[cid]
	if !ok {
		return false
	}
	delete(r.byPID, os.Participant().ID)
	delete(r.byConn, cid)
	for i, c := range r.order {
		if c == cid {
			r.order = append(r.order[:i], r.order[i+1:]...)
			break
		}
	}
	log.Info().Str("module", "core.room").Str("room", string(r.room.ID)).
		Str("participant", string(os.Participant().ID)).Msg("occupant removed")
	return true
}

func (r *roomImpl) Broadcast(from ConnID, data Frame) PublishResult {
	r.mu.RLock()
	defer r.mu.RUnlock()
	res := PublishResult{}
	for cid, os := range r.byConn {
		if cid == from {
			continue
		}
		if err := os.Signal().TrySend(data); err != nil {
			res.Dropped = append(res.Dropped, os)
			continue
		}
		res.SentTo++
	}
	log.Debug().Str("module", "core.room").Str("room", string(r.room.ID)).
		Int("sent_to", res.SentTo).Int("dropped", len(res.Dropped)).Msg("broadcast result")
	return res
}
