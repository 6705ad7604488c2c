package signal

import (
	"errors"

	"github.com/rs/zerolog/log"

	"github.com/mentorlab/callkit/internal/core"
	"github.com/mentorlab/callkit/internal/domain"
)

func (ctl *Controller) handleJoin(cs *connState, data []byte) {
	msg, err := domain.DecodeMessage(data)
	if err != nil {
		log.Error().Err(err).Str("module", "signal").Msg("bad join payload")
		ctl.sendError(cs.conn, "bad_payload")
		return
	}
	p, err := domain.NewParticipant(msg.UserID, msg.Role)
	if err != nil {
		log.Error().Err(err).Str("module", "signal").Msg("invalid participant")
		ctl.sendError(cs.conn, "invalid_participant")
		return
	}
	if !ctl.Limiter.Allow(p.ID) {
		log.Warn().Str("module", "signal").Str("participant", string(p.ID)).Msg("join rate limited")
		ctl.sendError(cs.conn, "too_many_joins")
		return
	}

	sess := core.NewOccupantSession(p, cs.conn)
	ctl.Orch.Registry.BindSignal(cs.cid, sess, cs.cancel)

	res, err := ctl.Orch.Join(cs.cid, cs.roomID)
	if err != nil {
		if errors.Is(err, core.ErrRoomFull) {
			ctl.sendError(cs.conn, "room is full")
			return
		}
		log.Error().Err(err).Str("module", "signal").Msg("join failed")
		ctl.sendError(cs.conn, "join failed")
		return
	}
	cs.joined = true
	cs.self = p

	// Ack the joiner with the current room state so a late arrival knows
	// who is already waiting.
	ctl.sendJSON(cs.conn, &domain.Message{
		Type:             domain.SignalUserConnected,
		ParticipantCount: res.Count,
		Peers:            res.Peers,
	})

	if !res.Rejoined {
		ctl.broadcast(cs, &domain.Message{
			Type:             domain.SignalUserJoined,
			UserID:           p.ID,
			Role:             p.Role,
			ParticipantCount: res.Count,
		})
	}
}

func (ctl *Controller) handleLeave(cs *connState) {
	log.Info().Str("module", "signal").Str("conn", string(cs.cid)).Msg("leave")
	ctl.announceDeparture(cs, domain.SignalUserLeft)
}

// handleChannelGone runs when the websocket dies without a leave message.
// The remaining occupant sees user_disconnected instead of user_left.
func (ctl *Controller) handleChannelGone(cs *connState) {
	if cs.joined {
		ctl.announceDeparture(cs, domain.SignalUserDisconnected)
	}
	ctl.Orch.Registry.Unbind(cs.cid)
}

func (ctl *Controller) announceDeparture(cs *connState, t domain.SignalType) {
	roomID, p, had := ctl.Orch.Leave(cs.cid)
	if !had {
		return
	}
	cs.joined = false
	if room, ok := ctl.Orch.Rooms.Get(roomID); ok {
		out := &domain.Message{Type: t, UserID: p.ID, Role: p.Role}
		if b, err := out.Encode(); err == nil {
			room.Broadcast(cs.cid, b)
		}
	}
}

// broadcast fans a server-originated message out to the other occupants.
func (ctl *Controller) broadcast(cs *connState, m *domain.Message) {
	roomID, _, ok := ctl.Orch.Registry.RoomOf(cs.cid)
	if !ok {
		return
	}
	room, ok := ctl.Orch.Rooms.Get(roomID)
	if !ok {
		return
	}
	b, err := m.Encode()
	if err != nil {
		log.Error().Err(err).Str("module", "signal").Msg("broadcast marshal")
		return
	}
	room.Broadcast(cs.cid, b)
}
