package signal

import "github.com/mentorlab/callkit/internal/domain"

func (ctl *Controller) handlePing(conn *wsSignalConn) {
	ctl.sendJSON(conn, &domain.Message{Type: domain.SignalPong})
}
