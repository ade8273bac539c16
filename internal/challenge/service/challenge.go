package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/daygoal/daygoal/internal/challenge/model"
	"github.com/daygoal/daygoal/internal/challenge/repository"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// ErrInvalidDates is returned when a challenge's start date is not strictly
// before its end date.
var ErrInvalidDates = errors.New("start date must be before end date")

// ErrInvalidCategory is returned for an unknown category tag.
var ErrInvalidCategory = errors.New("unknown challenge category")

// ChallengeService contains business logic for challenge creation and reads.
// Status advancement is owned by StatusScheduler, never by user actions.
type ChallengeService struct {
	challenges     challengeRepo
	participations participationRepo
	logger         *zap.Logger
}

// NewChallengeService creates a new ChallengeService.
func NewChallengeService(challenges challengeRepo, participations participationRepo, logger *zap.Logger) *ChallengeService {
	return &ChallengeService{challenges: challenges, participations: participations, logger: logger}
}

// Create validates and persists a new pending challenge. The creator is
// persisted as the leader participation with status accepted, so the leader
// counts against capacity from the start.
func (s *ChallengeService) Create(ctx context.Context, creatorID uuid.UUID, req *model.CreateChallengeRequest) (*model.Challenge, error) {
	start, err := time.Parse("2006-01-02", req.StartDate)
	if err != nil {
		return nil, fmt.Errorf("parse start date: %w", err)
	}
	end, err := time.Parse("2006-01-02", req.EndDate)
	if err != nil {
		return nil, fmt.Errorf("parse end date: %w", err)
	}
	if !start.Before(end) {
		return nil, ErrInvalidDates
	}
	if !model.ValidCategory(req.Category) {
		return nil, ErrInvalidCategory
	}

	ch := &model.Challenge{
		Title:       req.Title,
		Description: req.Description,
		StartDate:   model.DateOnly(start),
		EndDate:     model.DateOnly(end),
		Capacity:    req.Capacity,
		Category:    req.Category,
		ProofWay:    req.ProofWay,
		ProofCount:  req.ProofCount,
		Status:      model.ChallengeStatusPending,
	}
	if err := s.challenges.Create(ctx, ch); err != nil {
		s.logger.Error("create challenge", zap.Error(err))
		return nil, fmt.Errorf("create challenge: %w", err)
	}

	leader := &model.Participation{
		UserID:      creatorID,
		ChallengeID: ch.ID,
		Role:        model.RoleLeader,
		Status:      model.ParticipationAccepted,
	}
	if err := s.participations.Create(ctx, leader); err != nil {
		s.logger.Error("create leader participation", zap.Error(err))
		return nil, fmt.Errorf("create leader participation: %w", err)
	}

	s.logger.Info("challenge created",
		zap.String("challenge_id", ch.ID.String()),
		zap.String("leader_id", creatorID.String()),
		zap.String("category", string(ch.Category)),
	)
	return ch, nil
}

// Get retrieves a challenge by id.
func (s *ChallengeService) Get(ctx context.Context, id uuid.UUID) (*model.Challenge, error) {
	ch, err := s.challenges.GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, model.ErrChallengeNotFound
		}
		return nil, err
	}
	return ch, nil
}

// List returns challenges newest first, optionally filtered by status and
// category.
func (s *ChallengeService) List(ctx context.Context, status model.ChallengeStatus, category model.Category, limit, offset int) ([]*model.Challenge, error) {
	return s.challenges.List(ctx, status, category, limit, offset)
}

// Delete soft-deletes a challenge. Only its leader may do so.
func (s *ChallengeService) Delete(ctx context.Context, userID, challengeID uuid.UUID) error {
	if _, err := s.Get(ctx, challengeID); err != nil {
		return err
	}

	requester, err := s.participations.GetByUserAndChallenge(ctx, userID, challengeID)
	if err != nil && !errors.Is(err, repository.ErrNotFound) {
		return fmt.Errorf("get requester participation: %w", err)
	}
	if !IsLeader(requester) {
		return model.ErrLeaderRequired
	}

	if err := s.challenges.SoftDelete(ctx, challengeID); err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return model.ErrChallengeNotFound
		}
		return err
	}

	s.logger.Info("challenge deleted",
		zap.String("challenge_id", challengeID.String()),
		zap.String("leader_id", userID.String()),
	)
	return nil
}
