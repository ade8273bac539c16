package model

import "errors"

// Failure taxonomy for challenge participation operations. Handlers map these
// to HTTP statuses; services return them unwrapped so callers can errors.Is.
var (
	// Not found.
	ErrChallengeNotFound     = errors.New("challenge not found")
	ErrParticipationNotFound = errors.New("participation not found")

	// Conflict.
	ErrDuplicateParticipation = errors.New("participation already exists for this challenge")
	ErrChallengeFull          = errors.New("challenge is full")
	ErrQueueFull              = errors.New("pending queue is full")

	// Forbidden.
	ErrLeaderRequired  = errors.New("only the challenge leader may perform this action")
	ErrNotOwner        = errors.New("participation belongs to another user")
	ErrRosterForbidden = errors.New("an accepted participation is required to view participants")

	// Invalid state.
	ErrNotPending        = errors.New("participation is no longer pending")
	ErrInvalidDecision   = errors.New("decision must be accepted or rejected")
	ErrInvalidTransition = errors.New("participation status does not permit this transition")
	ErrChallengeDone     = errors.New("challenge is already finished")
	ErrLeaderCannotLeave = errors.New("the leader cannot leave their own challenge")
)

// IsConflict reports whether err belongs to the Conflict kind.
func IsConflict(err error) bool {
	return errors.Is(err, ErrDuplicateParticipation) ||
		errors.Is(err, ErrChallengeFull) ||
		errors.Is(err, ErrQueueFull)
}

// IsForbidden reports whether err belongs to the Forbidden kind.
func IsForbidden(err error) bool {
	return errors.Is(err, ErrLeaderRequired) ||
		errors.Is(err, ErrNotOwner) ||
		errors.Is(err, ErrRosterForbidden)
}

// IsInvalidState reports whether err belongs to the InvalidState kind.
func IsInvalidState(err error) bool {
	return errors.Is(err, ErrNotPending) ||
		errors.Is(err, ErrInvalidDecision) ||
		errors.Is(err, ErrInvalidTransition) ||
		errors.Is(err, ErrChallengeDone) ||
		errors.Is(err, ErrLeaderCannotLeave)
}

// IsNotFound reports whether err belongs to the NotFound kind.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrChallengeNotFound) || errors.Is(err, ErrParticipationNotFound)
}
