package service

import (
	"github.com/daygoal/daygoal/internal/challenge/model"
	"github.com/google/uuid"
)

// IsLeader reports whether p is the leader participation of its challenge.
// p may be nil when the requester has no participation at all.
func IsLeader(p *model.Participation) bool {
	return p != nil && p.Role == model.RoleLeader
}

// IsAcceptedMember reports whether p grants roster visibility: any accepted
// participation, leader or member, qualifies.
func IsAcceptedMember(p *model.Participation) bool {
	return p != nil && p.Status == model.ParticipationAccepted
}

// OwnsParticipation reports whether userID is the owning user of p.
func OwnsParticipation(userID uuid.UUID, p *model.Participation) bool {
	return p != nil && p.UserID == userID
}
