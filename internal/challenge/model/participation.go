package model

import (
	"time"

	"github.com/google/uuid"
)

// Role is the part a user plays in a challenge. It is fixed at creation:
// the challenge creator is the leader, everyone else joins as a member.
type Role string

const (
	RoleLeader Role = "leader"
	RoleMember Role = "member"
)

// ParticipationStatus is the state of a user's join request.
type ParticipationStatus string

const (
	ParticipationPending   ParticipationStatus = "pending"
	ParticipationAccepted  ParticipationStatus = "accepted"
	ParticipationRejected  ParticipationStatus = "rejected"
	ParticipationWithdrawn ParticipationStatus = "withdrawn"
)

// statusTransitions is the authoritative transition table for participation
// status. Absent entries are terminal states. Cancellation is not listed:
// it removes a pending row instead of moving it.
var statusTransitions = map[ParticipationStatus][]ParticipationStatus{
	ParticipationPending:  {ParticipationAccepted, ParticipationRejected, ParticipationWithdrawn},
	ParticipationAccepted: {ParticipationWithdrawn},
}

// CanTransition reports whether a participation in status from may move to to.
func CanTransition(from, to ParticipationStatus) bool {
	for _, next := range statusTransitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// ValidDecision reports whether s is a status a leader may confirm a pending
// request into.
func ValidDecision(s ParticipationStatus) bool {
	return s == ParticipationAccepted || s == ParticipationRejected
}

// Participation is a single user's relationship to one challenge.
// Exactly one participation per (user, challenge) pair exists at a time.
type Participation struct {
	ID          uuid.UUID           `json:"id"           db:"id"`
	UserID      uuid.UUID           `json:"user_id"      db:"user_id"`
	ChallengeID uuid.UUID           `json:"challenge_id" db:"challenge_id"`
	Role        Role                `json:"role"         db:"role"`
	Status      ParticipationStatus `json:"status"       db:"status"`
	CreatedAt   time.Time           `json:"created_at"   db:"created_at"`
	UpdatedAt   time.Time           `json:"updated_at"   db:"updated_at"`
}

// UserSummary is the denormalized participant view attached to roster rows.
type UserSummary struct {
	ID          uuid.UUID `json:"id"`
	Username    string    `json:"username"`
	DisplayName string    `json:"display_name"`
}

// ParticipationDetail is a participation enriched with the challenge and
// user summaries callers need to render it without further lookups.
type ParticipationDetail struct {
	Participation
	Challenge *ChallengeSummary `json:"challenge,omitempty"`
	User      *UserSummary      `json:"user,omitempty"`
}

// ConfirmRequest is the payload a leader sends to decide a pending request.
type ConfirmRequest struct {
	Status ParticipationStatus `json:"status" binding:"required"`
}
