package call

import "errors"

// The error taxonomy surfaced through LastError. Component failures are
// caught at their origin and translated into one of these plus a state
// transition; nothing escapes to the UI layer uncaught.
var (
	ErrChannel         = errors.New("signaling channel error")
	ErrNegotiation     = errors.New("negotiation failed")
	ErrPeerUnreachable = errors.New("peer unreachable")
)
