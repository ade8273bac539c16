package model

import (
	"time"

	"github.com/google/uuid"
)

// ChallengeStatus represents the lifecycle phase of a challenge.
// The status is monotonic: pending → ongoing → done, never backwards.
type ChallengeStatus string

const (
	ChallengeStatusPending ChallengeStatus = "pending"
	ChallengeStatusOngoing ChallengeStatus = "ongoing"
	ChallengeStatusDone    ChallengeStatus = "done"
)

// Category is the activity tag a challenge is filed under.
type Category string

const (
	CategoryExercise  Category = "exercise"
	CategoryStudy     Category = "study"
	CategoryReading   Category = "reading"
	CategoryLifestyle Category = "lifestyle"
	CategoryHobby     Category = "hobby"
	CategoryEtc       Category = "etc"
)

// Capacity and proof-count bounds for a challenge.
const (
	MinCapacity   = 1
	MaxCapacity   = 10
	MinProofCount = 1
	MaxProofCount = 30
)

// ValidCategory reports whether c is one of the known category tags.
func ValidCategory(c Category) bool {
	switch c {
	case CategoryExercise, CategoryStudy, CategoryReading, CategoryLifestyle, CategoryHobby, CategoryEtc:
		return true
	}
	return false
}

// Challenge is a time-boxed group activity with a member capacity and a
// proof requirement. Start and end dates carry date-only precision; the
// scheduler advances status when the calendar reaches them.
type Challenge struct {
	ID          uuid.UUID       `json:"id"                   db:"id"`
	Title       string          `json:"title"                db:"title"`
	Description string          `json:"description"          db:"description"`
	StartDate   time.Time       `json:"start_date"           db:"start_date"`
	EndDate     time.Time       `json:"end_date"             db:"end_date"`
	Capacity    int             `json:"capacity"             db:"capacity"`
	Category    Category        `json:"category"             db:"category"`
	ProofWay    string          `json:"proof_way"            db:"proof_way"`
	ProofCount  int             `json:"proof_count"          db:"proof_count"`
	Status      ChallengeStatus `json:"status"               db:"status"`
	CreatedAt   time.Time       `json:"created_at"           db:"created_at"`
	UpdatedAt   time.Time       `json:"updated_at"           db:"updated_at"`
	DeletedAt   *time.Time      `json:"deleted_at,omitempty" db:"deleted_at"`
}

// ChallengeSummary is the denormalized challenge view attached to
// participation results.
type ChallengeSummary struct {
	ID        uuid.UUID       `json:"id"`
	Title     string          `json:"title"`
	Category  Category        `json:"category"`
	StartDate time.Time       `json:"start_date"`
	EndDate   time.Time       `json:"end_date"`
	Capacity  int             `json:"capacity"`
	Status    ChallengeStatus `json:"status"`
}

// Summary returns the denormalized view of the challenge.
func (c *Challenge) Summary() ChallengeSummary {
	return ChallengeSummary{
		ID:        c.ID,
		Title:     c.Title,
		Category:  c.Category,
		StartDate: c.StartDate,
		EndDate:   c.EndDate,
		Capacity:  c.Capacity,
		Status:    c.Status,
	}
}

// DateOnly truncates t to midnight UTC. Challenge start/end comparisons are
// made at date precision only.
func DateOnly(t time.Time) time.Time {
	y, m, d := t.UTC().Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// CreateChallengeRequest is the payload for creating a new challenge.
type CreateChallengeRequest struct {
	Title       string   `json:"title"       binding:"required,max=255"`
	Description string   `json:"description" binding:"max=2000"`
	StartDate   string   `json:"start_date"  binding:"required,datetime=2006-01-02"`
	EndDate     string   `json:"end_date"    binding:"required,datetime=2006-01-02"`
	Capacity    int      `json:"capacity"    binding:"required,min=1,max=10"`
	Category    Category `json:"category"    binding:"required"`
	ProofWay    string   `json:"proof_way"   binding:"required,max=500"`
	ProofCount  int      `json:"proof_count" binding:"required,min=1,max=30"`
}
