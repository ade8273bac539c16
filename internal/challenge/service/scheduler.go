package service

import (
	"context"
	"time"

	"github.com/daygoal/daygoal/internal/challenge/model"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// schedulerRepo is the slice of the challenge store the scheduler needs.
// *repository.ChallengeRepository satisfies it.
type schedulerRepo interface {
	ListByStatusAndStartDate(ctx context.Context, status model.ChallengeStatus, date time.Time) ([]*model.Challenge, error)
	ListByStatusAndEndDate(ctx context.Context, status model.ChallengeStatus, date time.Time) ([]*model.Challenge, error)
	UpdateStatus(ctx context.Context, id uuid.UUID, status model.ChallengeStatus) error
}

// StatusScheduler advances challenge status on the calendar: pending
// challenges become ongoing on their start date, ongoing challenges become
// done on their end date. It runs independently of user requests and only
// ever touches the challenge store.
//
// Each batch mutates challenges one at a time; a failure on one challenge is
// logged and does not stop the rest. A failed run needs no retry logic: the
// (status, date) selection predicate stays true until the transition lands,
// so the next scheduled run picks the row up again.
type StatusScheduler struct {
	challenges schedulerRepo
	logger     *zap.Logger
	now        func() time.Time

	// Clock times of the two daily runs, minutes after midnight UTC.
	startRunAt  int
	finishRunAt int

	onAdvance func(to string, n int) // nil = no metrics
}

// NewStatusScheduler creates a StatusScheduler with the default run times:
// start transitions shortly after midnight (00:05), finish transitions at
// end of day (23:55).
func NewStatusScheduler(challenges schedulerRepo, logger *zap.Logger) *StatusScheduler {
	return &StatusScheduler{
		challenges:  challenges,
		logger:      logger,
		now:         time.Now,
		startRunAt:  5,
		finishRunAt: 23*60 + 55,
	}
}

// SetClock overrides the time source. Used by tests.
func (s *StatusScheduler) SetClock(now func() time.Time) {
	s.now = now
}

// SetOnAdvance registers a callback invoked after each batch with the target
// status and the number of challenges advanced.
func (s *StatusScheduler) SetOnAdvance(fn func(to string, n int)) {
	s.onAdvance = fn
}

// StartDue advances every pending challenge whose start date is today to
// ongoing. Returns the number of challenges advanced. Idempotent: a second
// run the same day finds no pending rows left and is a no-op.
func (s *StatusScheduler) StartDue(ctx context.Context) (int, error) {
	today := model.DateOnly(s.now())
	due, err := s.challenges.ListByStatusAndStartDate(ctx, model.ChallengeStatusPending, today)
	if err != nil {
		return 0, err
	}

	advanced := 0
	for _, ch := range due {
		if err := s.challenges.UpdateStatus(ctx, ch.ID, model.ChallengeStatusOngoing); err != nil {
			s.logger.Error("advance challenge to ongoing",
				zap.String("challenge_id", ch.ID.String()),
				zap.Error(err),
			)
			continue
		}
		advanced++
	}

	if advanced > 0 {
		s.logger.Info("challenges started", zap.Int("count", advanced), zap.Time("date", today))
		if s.onAdvance != nil {
			s.onAdvance(string(model.ChallengeStatusOngoing), advanced)
		}
	}
	return advanced, nil
}

// FinishDue advances every ongoing challenge whose end date is today to done.
// Returns the number of challenges advanced.
func (s *StatusScheduler) FinishDue(ctx context.Context) (int, error) {
	today := model.DateOnly(s.now())
	due, err := s.challenges.ListByStatusAndEndDate(ctx, model.ChallengeStatusOngoing, today)
	if err != nil {
		return 0, err
	}

	advanced := 0
	for _, ch := range due {
		if err := s.challenges.UpdateStatus(ctx, ch.ID, model.ChallengeStatusDone); err != nil {
			s.logger.Error("advance challenge to done",
				zap.String("challenge_id", ch.ID.String()),
				zap.Error(err),
			)
			continue
		}
		advanced++
	}

	if advanced > 0 {
		s.logger.Info("challenges finished", zap.Int("count", advanced), zap.Time("date", today))
		if s.onAdvance != nil {
			s.onAdvance(string(model.ChallengeStatusDone), advanced)
		}
	}
	return advanced, nil
}

// Run blocks, firing StartDue and FinishDue at their daily clock times until
// ctx is cancelled. Batch errors are logged; the loop never exits on them.
func (s *StatusScheduler) Run(ctx context.Context) {
	for {
		next, batch := s.nextRun()
		timer := time.NewTimer(next.Sub(s.now()))
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
		}

		runCtx, cancel := context.WithTimeout(ctx, time.Minute)
		var err error
		if batch == "start" {
			_, err = s.StartDue(runCtx)
		} else {
			_, err = s.FinishDue(runCtx)
		}
		cancel()
		if err != nil {
			s.logger.Error("scheduler batch failed, deferring to next run",
				zap.String("batch", batch),
				zap.Error(err),
			)
		}
	}
}

// nextRun returns the next run moment and which batch fires then.
func (s *StatusScheduler) nextRun() (time.Time, string) {
	now := s.now().UTC()
	midnight := model.DateOnly(now)
	start := midnight.Add(time.Duration(s.startRunAt) * time.Minute)
	finish := midnight.Add(time.Duration(s.finishRunAt) * time.Minute)

	switch {
	case now.Before(start):
		return start, "start"
	case now.Before(finish):
		return finish, "finish"
	default:
		return start.Add(24 * time.Hour), "start"
	}
}
