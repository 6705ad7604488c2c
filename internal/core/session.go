package core

import "github.com/mentorlab/callkit/internal/domain"

// occupantSession implements OccupantSession by pairing identity + transport.
type occupantSession struct {
	participant domain.Participant
	conn        SignalConnection
}

func NewOccupantSession(p domain.Participant, conn SignalConnection) OccupantSession {
	return &occupantSession{participant: p, conn: conn}
}

func (s *occupantSession) Participant() domain.Participant { return s.participant }
func (s *occupantSession) Signal() SignalConnection        { return s.conn }
