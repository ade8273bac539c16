package service

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/daygoal/daygoal/internal/audit"
	"github.com/daygoal/daygoal/internal/challenge/model"
	"github.com/daygoal/daygoal/internal/challenge/repository"
	"github.com/daygoal/daygoal/internal/email"
	"github.com/daygoal/daygoal/internal/users"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// challengeRepo is the challenge persistence interface consumed by the
// services in this package. *repository.ChallengeRepository satisfies it.
type challengeRepo interface {
	Create(ctx context.Context, c *model.Challenge) error
	GetByID(ctx context.Context, id uuid.UUID) (*model.Challenge, error)
	List(ctx context.Context, status model.ChallengeStatus, category model.Category, limit, offset int) ([]*model.Challenge, error)
	UpdateStatus(ctx context.Context, id uuid.UUID, status model.ChallengeStatus) error
	SoftDelete(ctx context.Context, id uuid.UUID) error
}

// participationRepo is the participation persistence interface.
// *repository.ParticipationRepository satisfies it.
type participationRepo interface {
	Create(ctx context.Context, p *model.Participation) error
	GetByID(ctx context.Context, id uuid.UUID) (*model.Participation, error)
	GetByUserAndChallenge(ctx context.Context, userID, challengeID uuid.UUID) (*model.Participation, error)
	ExistsByUserAndChallenge(ctx context.Context, userID, challengeID uuid.UUID) (bool, error)
	CountByChallengeAndStatus(ctx context.Context, challengeID uuid.UUID, status model.ParticipationStatus) (int, error)
	ListByUserAndStatus(ctx context.Context, userID uuid.UUID, status model.ParticipationStatus, limit, offset int) ([]*model.Participation, error)
	ListByChallengeAndStatus(ctx context.Context, challengeID uuid.UUID, status model.ParticipationStatus, limit, offset int) ([]*model.Participation, error)
	UpdateStatus(ctx context.Context, id uuid.UUID, status model.ParticipationStatus) error
	Delete(ctx context.Context, id uuid.UUID) error
}

// userLookup resolves user accounts for denormalized summaries and
// notification addresses. *users.UserService satisfies it.
type userLookup interface {
	GetByID(ctx context.Context, id uuid.UUID) (*users.User, error)
}

// ParticipationService orchestrates the participation lifecycle: join,
// confirm, leave, cancel, and the two roster reads. All count-then-act
// sequences run under a per-challenge mutex so concurrent joins or
// confirmations on the same challenge cannot jointly overrun the capacity
// or queue limits.
type ParticipationService struct {
	challenges     challengeRepo
	participations participationRepo
	users          userLookup        // nil = no summaries, no notifications
	mailer         email.EmailSender // nil = no notifications
	auditLog       audit.Log         // nil = no audit writes
	pendingCeiling int
	locks          sync.Map // challenge uuid → *sync.Mutex
	logger         *zap.Logger
}

// NewParticipationService creates a ParticipationService with the default
// pending-queue ceiling.
func NewParticipationService(challenges challengeRepo, participations participationRepo, logger *zap.Logger) *ParticipationService {
	return &ParticipationService{
		challenges:     challenges,
		participations: participations,
		pendingCeiling: DefaultPendingCeiling,
		logger:         logger,
	}
}

// SetUserLookup configures the account lookup used for denormalized user
// summaries and notification recipients.
func (s *ParticipationService) SetUserLookup(ul userLookup) {
	s.users = ul
}

// SetMailer configures the sender used for join and decision notifications.
func (s *ParticipationService) SetMailer(m email.EmailSender) {
	s.mailer = m
}

// SetAuditLog configures the audit trail for participation transitions.
func (s *ParticipationService) SetAuditLog(l audit.Log) {
	s.auditLog = l
}

// SetPendingCeiling overrides the per-challenge pending-queue limit.
// Values below 1 are ignored.
func (s *ParticipationService) SetPendingCeiling(n int) {
	if n >= 1 {
		s.pendingCeiling = n
	}
}

// lockChallenge acquires the mutex serializing mutations for one challenge
// and returns the release func.
func (s *ParticipationService) lockChallenge(id uuid.UUID) func() {
	v, _ := s.locks.LoadOrStore(id, &sync.Mutex{})
	mu := v.(*sync.Mutex)
	mu.Lock()
	return mu.Unlock
}

// forgetLock drops the mutex entry for a challenge that can no longer be
// mutated (done or deleted), so the lock map does not grow with every
// challenge ever touched. A waiter that races the delete re-creates the
// entry, fails the same status checks, and drops it again.
func (s *ParticipationService) forgetLock(id uuid.UUID) {
	s.locks.Delete(id)
}

// Join creates a pending member participation for (userID, challengeID).
//
// Precondition order (each failure is terminal, no partial effects):
// duplicate participation, challenge exists and is not done, pending queue
// below ceiling, accepted count below capacity.
func (s *ParticipationService) Join(ctx context.Context, userID, challengeID uuid.UUID) (*model.ParticipationDetail, error) {
	p, ch, err := s.joinLocked(ctx, userID, challengeID)
	if err != nil {
		return nil, err
	}

	// Notification is best effort and must not hold up other joins, so it
	// runs after the challenge mutex is released.
	s.notifyLeader(ctx, ch, userID)

	return s.detail(ctx, p, ch), nil
}

// joinLocked runs the join precondition chain and insert under the
// per-challenge mutex.
func (s *ParticipationService) joinLocked(ctx context.Context, userID, challengeID uuid.UUID) (*model.Participation, *model.Challenge, error) {
	unlock := s.lockChallenge(challengeID)
	defer unlock()

	exists, err := s.participations.ExistsByUserAndChallenge(ctx, userID, challengeID)
	if err != nil {
		return nil, nil, fmt.Errorf("check existing participation: %w", err)
	}
	if exists {
		return nil, nil, model.ErrDuplicateParticipation
	}

	ch, err := s.challenges.GetByID(ctx, challengeID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			s.forgetLock(challengeID)
			return nil, nil, model.ErrChallengeNotFound
		}
		return nil, nil, fmt.Errorf("get challenge: %w", err)
	}
	if ch.Status == model.ChallengeStatusDone {
		s.forgetLock(challengeID)
		return nil, nil, model.ErrChallengeDone
	}

	pending, err := s.participations.CountByChallengeAndStatus(ctx, challengeID, model.ParticipationPending)
	if err != nil {
		return nil, nil, fmt.Errorf("count pending: %w", err)
	}
	if !CanEnqueue(pending, s.pendingCeiling) {
		return nil, nil, model.ErrQueueFull
	}

	accepted, err := s.participations.CountByChallengeAndStatus(ctx, challengeID, model.ParticipationAccepted)
	if err != nil {
		return nil, nil, fmt.Errorf("count accepted: %w", err)
	}
	if !CanAccept(accepted, ch.Capacity) {
		return nil, nil, model.ErrChallengeFull
	}

	p := &model.Participation{
		UserID:      userID,
		ChallengeID: challengeID,
		Role:        model.RoleMember,
		Status:      model.ParticipationPending,
	}
	if err := s.participations.Create(ctx, p); err != nil {
		s.logger.Error("create participation", zap.Error(err))
		return nil, nil, fmt.Errorf("create participation: %w", err)
	}

	s.logger.Info("participation created",
		zap.String("participation_id", p.ID.String()),
		zap.String("challenge_id", challengeID.String()),
		zap.String("user_id", userID.String()),
	)
	s.appendAudit(ctx, p, "join", userID, nil)
	return p, ch, nil
}

// Confirm lets the challenge leader decide a pending request.
//
// Preconditions: participation exists; requester holds the leader
// participation for that challenge; the challenge is not done; the target is
// still pending; decision is accepted or rejected. Accepting re-runs the
// capacity check so two back-to-back confirmations cannot overrun capacity.
func (s *ParticipationService) Confirm(ctx context.Context, userID, participationID uuid.UUID, decision model.ParticipationStatus) (*model.ParticipationDetail, error) {
	p, ch, err := s.confirmLocked(ctx, userID, participationID, decision)
	if err != nil {
		return nil, err
	}

	// Decision mail goes out after the challenge mutex is released.
	s.notifyMember(ctx, ch, p)

	return s.detail(ctx, p, ch), nil
}

// confirmLocked runs the confirm precondition chain and status update under
// the per-challenge mutex.
func (s *ParticipationService) confirmLocked(ctx context.Context, userID, participationID uuid.UUID, decision model.ParticipationStatus) (*model.Participation, *model.Challenge, error) {
	p, err := s.participations.GetByID(ctx, participationID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, nil, model.ErrParticipationNotFound
		}
		return nil, nil, fmt.Errorf("get participation: %w", err)
	}

	unlock := s.lockChallenge(p.ChallengeID)
	defer unlock()

	// Re-read inside the critical section: the row may have been decided or
	// cancelled while we waited for the lock.
	p, err = s.participations.GetByID(ctx, participationID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, nil, model.ErrParticipationNotFound
		}
		return nil, nil, fmt.Errorf("get participation: %w", err)
	}

	requester, err := s.participations.GetByUserAndChallenge(ctx, userID, p.ChallengeID)
	if err != nil && !errors.Is(err, repository.ErrNotFound) {
		return nil, nil, fmt.Errorf("get requester participation: %w", err)
	}
	if !IsLeader(requester) {
		return nil, nil, model.ErrLeaderRequired
	}

	ch, err := s.challenges.GetByID(ctx, p.ChallengeID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			s.forgetLock(p.ChallengeID)
			return nil, nil, model.ErrChallengeNotFound
		}
		return nil, nil, fmt.Errorf("get challenge: %w", err)
	}
	if ch.Status == model.ChallengeStatusDone {
		s.forgetLock(p.ChallengeID)
		return nil, nil, model.ErrChallengeDone
	}

	if p.Status != model.ParticipationPending {
		return nil, nil, model.ErrNotPending
	}
	if !model.ValidDecision(decision) {
		return nil, nil, model.ErrInvalidDecision
	}
	if !model.CanTransition(p.Status, decision) {
		return nil, nil, model.ErrInvalidTransition
	}

	if decision == model.ParticipationAccepted {
		accepted, err := s.participations.CountByChallengeAndStatus(ctx, p.ChallengeID, model.ParticipationAccepted)
		if err != nil {
			return nil, nil, fmt.Errorf("count accepted: %w", err)
		}
		if !CanAccept(accepted, ch.Capacity) {
			return nil, nil, model.ErrChallengeFull
		}
	}

	if err := s.participations.UpdateStatus(ctx, p.ID, decision); err != nil {
		return nil, nil, fmt.Errorf("update participation status: %w", err)
	}
	p.Status = decision

	s.logger.Info("participation confirmed",
		zap.String("participation_id", p.ID.String()),
		zap.String("decision", string(decision)),
		zap.String("leader_id", userID.String()),
	)
	s.appendAudit(ctx, p, "confirm", userID, map[string]string{"decision": string(decision)})
	return p, ch, nil
}

// Leave marks the requester's own participation as withdrawn. The leader
// cannot leave their own challenge; rejected and withdrawn rows have no
// further transitions.
func (s *ParticipationService) Leave(ctx context.Context, userID, challengeID uuid.UUID) error {
	unlock := s.lockChallenge(challengeID)
	defer unlock()

	p, err := s.participations.GetByUserAndChallenge(ctx, userID, challengeID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return model.ErrParticipationNotFound
		}
		return fmt.Errorf("get participation: %w", err)
	}
	if p.Role == model.RoleLeader {
		return model.ErrLeaderCannotLeave
	}
	if !model.CanTransition(p.Status, model.ParticipationWithdrawn) {
		return model.ErrInvalidTransition
	}

	if err := s.participations.UpdateStatus(ctx, p.ID, model.ParticipationWithdrawn); err != nil {
		return fmt.Errorf("update participation status: %w", err)
	}

	s.logger.Info("participation withdrawn",
		zap.String("participation_id", p.ID.String()),
		zap.String("user_id", userID.String()),
	)
	p.Status = model.ParticipationWithdrawn
	s.appendAudit(ctx, p, "leave", userID, nil)
	return nil
}

// Cancel physically removes the requester's own pending request. Unlike
// Leave, no withdrawn row is kept, so the user may join the challenge again.
func (s *ParticipationService) Cancel(ctx context.Context, userID, participationID uuid.UUID) error {
	p, err := s.participations.GetByID(ctx, participationID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return model.ErrParticipationNotFound
		}
		return fmt.Errorf("get participation: %w", err)
	}

	unlock := s.lockChallenge(p.ChallengeID)
	defer unlock()

	p, err = s.participations.GetByID(ctx, participationID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return model.ErrParticipationNotFound
		}
		return fmt.Errorf("get participation: %w", err)
	}
	if !OwnsParticipation(userID, p) {
		return model.ErrNotOwner
	}
	if p.Status != model.ParticipationPending {
		return model.ErrNotPending
	}

	if err := s.participations.Delete(ctx, p.ID); err != nil {
		return fmt.Errorf("delete participation: %w", err)
	}

	s.logger.Info("participation cancelled",
		zap.String("participation_id", p.ID.String()),
		zap.String("user_id", userID.String()),
	)
	s.appendAudit(ctx, p, "cancel", userID, nil)
	return nil
}

// ListMine returns the caller's own participations in the given status,
// newest first, with challenge summaries attached.
func (s *ParticipationService) ListMine(ctx context.Context, userID uuid.UUID, status model.ParticipationStatus, limit, offset int) ([]*model.ParticipationDetail, error) {
	rows, err := s.participations.ListByUserAndStatus(ctx, userID, status, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("list participations: %w", err)
	}

	details := make([]*model.ParticipationDetail, 0, len(rows))
	for _, p := range rows {
		ch, err := s.challenges.GetByID(ctx, p.ChallengeID)
		if err != nil && !errors.Is(err, repository.ErrNotFound) {
			return nil, fmt.Errorf("get challenge: %w", err)
		}
		details = append(details, s.detail(ctx, p, ch))
	}
	return details, nil
}

// ListParticipants returns a challenge's participations in the given status,
// oldest first. The requester must hold an accepted participation; only the
// leader may browse anything other than the accepted roster.
func (s *ParticipationService) ListParticipants(ctx context.Context, userID, challengeID uuid.UUID, status model.ParticipationStatus, limit, offset int) ([]*model.ParticipationDetail, error) {
	if _, err := s.challenges.GetByID(ctx, challengeID); err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, model.ErrChallengeNotFound
		}
		return nil, fmt.Errorf("get challenge: %w", err)
	}

	requester, err := s.participations.GetByUserAndChallenge(ctx, userID, challengeID)
	if err != nil && !errors.Is(err, repository.ErrNotFound) {
		return nil, fmt.Errorf("get requester participation: %w", err)
	}
	if !IsAcceptedMember(requester) {
		return nil, model.ErrRosterForbidden
	}
	if !IsLeader(requester) && status != model.ParticipationAccepted {
		return nil, model.ErrRosterForbidden
	}

	rows, err := s.participations.ListByChallengeAndStatus(ctx, challengeID, status, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("list participants: %w", err)
	}

	details := make([]*model.ParticipationDetail, 0, len(rows))
	for _, p := range rows {
		details = append(details, s.detail(ctx, p, nil))
	}
	return details, nil
}

// detail builds the denormalized view for p. ch may be nil.
func (s *ParticipationService) detail(ctx context.Context, p *model.Participation, ch *model.Challenge) *model.ParticipationDetail {
	d := &model.ParticipationDetail{Participation: *p}
	if ch != nil {
		summary := ch.Summary()
		d.Challenge = &summary
	}
	if s.users != nil {
		if u, err := s.users.GetByID(ctx, p.UserID); err == nil {
			d.User = &model.UserSummary{ID: u.ID, Username: u.Username, DisplayName: u.DisplayName}
		}
	}
	return d
}

// appendAudit records a lifecycle transition in a non-fatal manner.
func (s *ParticipationService) appendAudit(ctx context.Context, p *model.Participation, action string, actor uuid.UUID, extra map[string]string) {
	if s.auditLog == nil {
		return
	}
	payload := map[string]string{
		"challenge_id": p.ChallengeID.String(),
		"user_id":      p.UserID.String(),
		"status":       string(p.Status),
	}
	for k, v := range extra {
		payload[k] = v
	}
	if _, err := s.auditLog.Append(ctx, "participation/"+p.ID.String(), action, actor.String(), payload); err != nil {
		s.logger.Error("audit append failed (non-fatal)",
			zap.String("action", action),
			zap.String("participation_id", p.ID.String()),
			zap.Error(err),
		)
	}
}

// notifyLeader emails the challenge leader about a new join request.
// Failures are logged and swallowed; notification is best effort.
func (s *ParticipationService) notifyLeader(ctx context.Context, ch *model.Challenge, joinerID uuid.UUID) {
	if s.mailer == nil || s.users == nil {
		return
	}
	leader, err := s.participations.ListByChallengeAndStatus(ctx, ch.ID, model.ParticipationAccepted, 0, 0)
	if err != nil {
		return
	}
	for _, lp := range leader {
		if lp.Role != model.RoleLeader {
			continue
		}
		u, err := s.users.GetByID(ctx, lp.UserID)
		if err != nil {
			return
		}
		body := fmt.Sprintf(
			"Hello %s,\n\nA new join request is waiting for %q.\nReview it in the app to accept or reject.\n",
			u.DisplayName, ch.Title,
		)
		if err := s.mailer.Send(ctx, u.Email, "New join request for "+ch.Title, body); err != nil {
			s.logger.Warn("notify leader", zap.Error(err))
		}
		return
	}
}

// notifyMember emails the member whose request was decided.
func (s *ParticipationService) notifyMember(ctx context.Context, ch *model.Challenge, p *model.Participation) {
	if s.mailer == nil || s.users == nil {
		return
	}
	u, err := s.users.GetByID(ctx, p.UserID)
	if err != nil {
		return
	}
	verdict := "accepted"
	if p.Status == model.ParticipationRejected {
		verdict = "rejected"
	}
	body := fmt.Sprintf(
		"Hello %s,\n\nYour request to join %q was %s.\n",
		u.DisplayName, ch.Title, verdict,
	)
	if err := s.mailer.Send(ctx, u.Email, "Your join request was "+verdict, body); err != nil {
		s.logger.Warn("notify member", zap.Error(err))
	}
}
