package signal

import (
	"github.com/rs/zerolog/log"
)

// handleRelay forwards offer/answer/ice-candidate frames verbatim to the
// other occupant of the room. The relay keeps no copy of session
// descriptions or candidates; it is stateless with respect to call content.
func (ctl *Controller) handleRelay(cs *connState, data []byte) {
	if !cs.joined {
		log.Warn().Str("module", "signal").Str("conn", string(cs.cid)).Msg("relay before join")
		ctl.sendError(cs.conn, "join first")
		return
	}
	ctl.Orch.Relay(cs.cid, data)
}
