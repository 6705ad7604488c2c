package domain

// initiatorRoles are the session-leading roles. The platform's flows are
// mentor/tutor-led: the requesting side (student) waits for the offer.
var initiatorRoles = map[Role]bool{
	RoleMentor: true,
	RoleTutor:  true,
}

// InitiatorOf decides which of two occupants starts the offer/answer
// handshake. It is a pure function of the pair, so both sides evaluate it
// independently and reach the same verdict.
//
// When the role convention cannot decide (both or neither side carries a
// leading role), the lexicographically larger participant id initiates.
// This keeps the pair glare-free even if the platform hands out
// unexpected role combinations.
func InitiatorOf(a, b Participant) Participant {
	aLeads, bLeads := initiatorRoles[a.Role], initiatorRoles[b.Role]
	switch {
	case aLeads && !bLeads:
		return a
	case bLeads && !aLeads:
		return b
	}
	if a.ID > b.ID {
		return a
	}
	return b
}
