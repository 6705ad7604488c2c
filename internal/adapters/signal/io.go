package signal

import (
	"context"
	"encoding/json"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"github.com/mentorlab/callkit/internal/domain"
)

func (ctl *Controller) writePump(ctx context.Context, c *wsSignalConn) {
	ticker := time.NewTicker(ctl.cfg.PingPeriod)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			log.Info().Str("module", "signal").Msg("writePump ctx done")
			return
		case data, ok := <-c.send:
			if !ok {
				log.Warn().Str("module", "signal").Msg("writePump channel closed")
				return
			}
			if err := c.conn.SetWriteDeadline(time.Now().Add(ctl.cfg.WriteWait)); err != nil {
				log.Error().Err(err).Str("module", "signal").Msg("writePump set deadline")
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				log.Error().Err(err).Str("module", "signal").Msg("writePump write error")
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(ctl.cfg.WriteWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func (ctl *Controller) readPump(ctx context.Context, cs *connState) {
	defer func() {
		log.Info().Str("module", "signal").Str("conn", string(cs.cid)).Msg("readPump closing")
		ctl.handleChannelGone(cs)
		cs.conn.Close()
		cs.cancel()
	}()

	cs.conn.conn.SetReadLimit(ctl.cfg.ReadLimit)
	_ = cs.conn.conn.SetReadDeadline(time.Now().Add(ctl.cfg.PongWait))
	cs.conn.conn.SetPongHandler(func(string) error {
		return cs.conn.conn.SetReadDeadline(time.Now().Add(ctl.cfg.PongWait))
	})

	for {
		select {
		case <-ctx.Done():
			log.Info().Str("module", "signal").Str("conn", string(cs.cid)).Msg("readPump ctx done")
			return
		default:
			_, data, err := cs.conn.conn.ReadMessage()
			if err != nil {
				log.Info().Err(err).Str("module", "signal").Str("conn", string(cs.cid)).Msg("readPump read error")
				return
			}
			ctl.dispatch(cs, data)
		}
	}
}

// dispatch routes an inbound frame by its type tag. A malformed or unknown
// frame is answered or logged but never terminates the channel.
func (ctl *Controller) dispatch(cs *connState, data []byte) {
	var env struct {
		Type domain.SignalType `json:"type"`
	}
	if err := json.Unmarshal(data, &env); err != nil {
		log.Error().Err(err).Str("module", "signal").Msg("bad json")
		ctl.sendError(cs.conn, "bad_payload")
		return
	}

	switch env.Type {
	case domain.SignalJoin:
		ctl.handleJoin(cs, data)
	case domain.SignalLeave:
		ctl.handleLeave(cs)
	case domain.SignalPing:
		ctl.handlePing(cs.conn)
	case domain.SignalOffer, domain.SignalAnswer, domain.SignalICECandidate:
		ctl.handleRelay(cs, data)
	default:
		log.Warn().Str("module", "signal").Str("type", string(env.Type)).Msg("unknown signal")
	}
}
