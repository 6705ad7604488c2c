package app

import (
	"context"
	"sync"

	"github.com/rs/zerolog/log"

	"github.com/mentorlab/callkit/internal/core"
	"github.com/mentorlab/callkit/internal/domain"
)

type sessionEntry struct {
	RoomID  domain.RoomID
	Session core.OccupantSession
	Cancel  context.CancelFunc
}

// Registry tracks every live signaling channel and which room it is bound
// to. It is shared by all channels, so every access goes through the lock.
type Registry struct {
	mu       sync.RWMutex
	sessions map[core.ConnID]*sessionEntry
}

func NewRegistry() *Registry {
	return &Registry{sessions: make(map[core.ConnID]*sessionEntry)}
}

func (r *Registry) BindSignal(cid core.ConnID, sess core.OccupantSession, cancel context.CancelFunc) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sessions[cid] = &sessionEntry{Session: sess, Cancel: cancel}
	log.Info().Str("module", "app.registry").Str("conn", string(cid)).
		Str("participant", string(sess.Participant().ID)).Msg("bound signal")
}

func (r *Registry) GetSession(cid core.ConnID) (core.OccupantSession, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if e, ok := r.sessions[cid]; ok {
		return e.Session, true
	}
	return nil, false
}

func (r *Registry) Unbind(cid core.ConnID) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.sessions, cid)
	log.Info().Str("module", "app.registry").Str("conn", string(cid)).Msg("unbind session")
}

func (r *Registry) RoomOf(cid core.ConnID) (domain.RoomID, core.OccupantSession, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.sessions[cid]
	if !ok || e.RoomID == "" {
		return "", nil, false
	}
	return e.RoomID, e.Session, true
}

func (r *Registry) UpdateRoom(cid core.ConnID, roomID domain.RoomID) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.sessions[cid]
	if !ok {
		return false
	}
	e.RoomID = roomID
	return true
}

func (r *Registry) ClearRoom(cid core.ConnID) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if e, ok := r.sessions[cid]; ok {
		e.RoomID = ""
	}
}

func (r *Registry) Cancel(cid core.ConnID) bool {
	r.mu.RLock()
	e, ok := r.sessions[cid]
	r.mu.RUnlock()
	if !ok {
		return false
	}
	if e.Cancel != nil {
		e.Cancel()
	}
	return true
}
