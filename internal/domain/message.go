package domain

import (
	"encoding/json"

	"github.com/pion/webrtc/v4"
)

// SignalType tags every message on the signaling channel.
type SignalType string

const (
	SignalJoin             SignalType = "join"
	SignalUserConnected    SignalType = "user_connected"
	SignalUserJoined       SignalType = "user_joined"
	SignalOffer            SignalType = "offer"
	SignalAnswer           SignalType = "answer"
	SignalICECandidate     SignalType = "ice-candidate"
	SignalLeave            SignalType = "leave"
	SignalUserLeft         SignalType = "user_left"
	SignalUserDisconnected SignalType = "user_disconnected"
	SignalError            SignalType = "error"
	SignalPing             SignalType = "ping"
	SignalPong             SignalType = "pong"
)

// Message is the wire envelope. One struct covers every variant; unused
// fields are omitted from the JSON so relayed frames stay compact.
type Message struct {
	Type SignalType `json:"type"`

	// join / leave / user_joined / user_left / user_disconnected
	UserID ParticipantID `json:"user_id,omitempty"`
	Role   Role          `json:"role,omitempty"`

	// user_connected / user_joined
	ParticipantCount int           `json:"participant_count,omitempty"`
	Peers            []Participant `json:"peers,omitempty"`

	// offer / answer / ice-candidate, relayed verbatim between peers
	SenderID   ParticipantID              `json:"sender_id,omitempty"`
	SenderRole Role                       `json:"sender_role,omitempty"`
	Offer      *webrtc.SessionDescription `json:"offer,omitempty"`
	Answer     *webrtc.SessionDescription `json:"answer,omitempty"`
	Candidate  *webrtc.ICECandidateInit   `json:"candidate,omitempty"`

	// error
	Error string `json:"message,omitempty"`
}

func (m *Message) Encode() ([]byte, error) { return json.Marshal(m) }

func DecodeMessage(data []byte) (*Message, error) {
	var m Message
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, err
	}
	return &m, nil
}

// Sender reconstructs the peer identity stamped on a relayed message.
func (m *Message) Sender() Participant {
	return Participant{ID: m.SenderID, Role: m.SenderRole}
}

func NewJoin(p Participant) *Message {
	return &Message{Type: SignalJoin, UserID: p.ID, Role: p.Role}
}

func NewLeave(p Participant) *Message {
	return &Message{Type: SignalLeave, UserID: p.ID, Role: p.Role}
}

func NewOffer(from Participant, sd webrtc.SessionDescription) *Message {
	return &Message{Type: SignalOffer, SenderID: from.ID, SenderRole: from.Role, Offer: &sd}
}

func NewAnswer(from Participant, sd webrtc.SessionDescription) *Message {
	return &Message{Type: SignalAnswer, SenderID: from.ID, SenderRole: from.Role, Answer: &sd}
}

func NewICECandidate(from Participant, ci webrtc.ICECandidateInit) *Message {
	return &Message{Type: SignalICECandidate, SenderID: from.ID, SenderRole: from.Role, Candidate: &ci}
}

func NewError(text string) *Message {
	return &Message{Type: SignalError, Error: text}
}
