// Package domain contains entities without logic, just meta-data,
// plus the pure policy functions the call flow is built on.
package domain

import "errors"

const (
	MaxParticipantIDLen = 36
	MaxRoleLen          = 16
)

var (
	ErrParticipantIDEmpty   = errors.New("participant id empty")
	ErrParticipantIDTooLong = errors.New("participant id too long")
	ErrRoleEmpty            = errors.New("role empty")
	ErrRoleTooLong          = errors.New("role too long")
)

type ParticipantID string

// Role is a free-form tag assigned by the collaborating platform.
// The well-known values below are the ones the initiator policy understands.
type Role string

const (
	RoleMentor  Role = "mentor"
	RoleTutor   Role = "tutor"
	RoleStudent Role = "student"
)

type Participant struct {
	ID   ParticipantID `json:"user_id"`
	Role Role          `json:"role"`
}

// NewParticipant validates the identifiers handed over by the platform.
func NewParticipant(id ParticipantID, role Role) (Participant, error) {
	if len(id) == 0 {
		return Participant{}, ErrParticipantIDEmpty
	}
	if len(id) > MaxParticipantIDLen {
		return Participant{}, ErrParticipantIDTooLong
	}
	if len(role) == 0 {
		return Participant{}, ErrRoleEmpty
	}
	if len(role) > MaxRoleLen {
		return Participant{}, ErrRoleTooLong
	}
	return Participant{ID: id, Role: role}, nil
}
