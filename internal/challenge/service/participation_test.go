package service_test

import (
	"context"
	"errors"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/daygoal/daygoal/internal/audit"
	"github.com/daygoal/daygoal/internal/challenge/model"
	"github.com/daygoal/daygoal/internal/challenge/repository"
	"github.com/daygoal/daygoal/internal/challenge/service"
	"github.com/daygoal/daygoal/internal/users"
)

type stubChallengeRepo struct {
	mu   sync.RWMutex
	byID map[uuid.UUID]*model.Challenge
}

func newStubChallengeRepo() *stubChallengeRepo {
	return &stubChallengeRepo{byID: make(map[uuid.UUID]*model.Challenge)}
}

func (r *stubChallengeRepo) Create(_ context.Context, c *model.Challenge) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	c.ID = uuid.New()
	now := time.Now().UTC()
	c.CreatedAt = now
	c.UpdatedAt = now
	if c.Status == "" {
		c.Status = model.ChallengeStatusPending
	}
	cp := *c
	r.byID[c.ID] = &cp
	return nil
}

func (r *stubChallengeRepo) GetByID(_ context.Context, id uuid.UUID) (*model.Challenge, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	c, ok := r.byID[id]
	if !ok || c.DeletedAt != nil {
		return nil, repository.ErrNotFound
	}
	cp := *c
	return &cp, nil
}

func (r *stubChallengeRepo) List(_ context.Context, status model.ChallengeStatus, category model.Category, limit, offset int) ([]*model.Challenge, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []*model.Challenge
	for _, c := range r.byID {
		if c.DeletedAt != nil {
			continue
		}
		if status != "" && c.Status != status {
			continue
		}
		if category != "" && c.Category != category {
			continue
		}
		cp := *c
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

func (r *stubChallengeRepo) UpdateStatus(_ context.Context, id uuid.UUID, status model.ChallengeStatus) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.byID[id]
	if !ok {
		return repository.ErrNotFound
	}
	c.Status = status
	c.UpdatedAt = time.Now().UTC()
	return nil
}

func (r *stubChallengeRepo) SoftDelete(_ context.Context, id uuid.UUID) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.byID[id]
	if !ok || c.DeletedAt != nil {
		return repository.ErrNotFound
	}
	now := time.Now().UTC()
	c.DeletedAt = &now
	return nil
}

type stubParticipationRepo struct {
	mu   sync.RWMutex
	byID map[uuid.UUID]*model.Participation
	seq  int
}

func newStubParticipationRepo() *stubParticipationRepo {
	return &stubParticipationRepo{byID: make(map[uuid.UUID]*model.Participation)}
}

func (r *stubParticipationRepo) Create(_ context.Context, p *model.Participation) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	p.ID = uuid.New()
	// Strictly increasing timestamps keep list ordering deterministic.
	r.seq++
	p.CreatedAt = time.Unix(0, int64(r.seq)).UTC()
	p.UpdatedAt = p.CreatedAt
	cp := *p
	r.byID[p.ID] = &cp
	return nil
}

func (r *stubParticipationRepo) GetByID(_ context.Context, id uuid.UUID) (*model.Participation, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.byID[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	cp := *p
	return &cp, nil
}

func (r *stubParticipationRepo) GetByUserAndChallenge(_ context.Context, userID, challengeID uuid.UUID) (*model.Participation, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, p := range r.byID {
		if p.UserID == userID && p.ChallengeID == challengeID {
			cp := *p
			return &cp, nil
		}
	}
	return nil, repository.ErrNotFound
}

func (r *stubParticipationRepo) ExistsByUserAndChallenge(ctx context.Context, userID, challengeID uuid.UUID) (bool, error) {
	_, err := r.GetByUserAndChallenge(ctx, userID, challengeID)
	if errors.Is(err, repository.ErrNotFound) {
		return false, nil
	}
	return err == nil, err
}

func (r *stubParticipationRepo) CountByChallengeAndStatus(_ context.Context, challengeID uuid.UUID, status model.ParticipationStatus) (int, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	n := 0
	for _, p := range r.byID {
		if p.ChallengeID == challengeID && p.Status == status {
			n++
		}
	}
	return n, nil
}

func (r *stubParticipationRepo) ListByUserAndStatus(_ context.Context, userID uuid.UUID, status model.ParticipationStatus, limit, offset int) ([]*model.Participation, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []*model.Participation
	for _, p := range r.byID {
		if p.UserID == userID && p.Status == status {
			cp := *p
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return page(out, limit, offset), nil
}

func (r *stubParticipationRepo) ListByChallengeAndStatus(_ context.Context, challengeID uuid.UUID, status model.ParticipationStatus, limit, offset int) ([]*model.Participation, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []*model.Participation
	for _, p := range r.byID {
		if p.ChallengeID == challengeID && p.Status == status {
			cp := *p
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return page(out, limit, offset), nil
}

func (r *stubParticipationRepo) UpdateStatus(_ context.Context, id uuid.UUID, status model.ParticipationStatus) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.byID[id]
	if !ok {
		return repository.ErrNotFound
	}
	p.Status = status
	p.UpdatedAt = time.Now().UTC()
	return nil
}

func (r *stubParticipationRepo) Delete(_ context.Context, id uuid.UUID) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.byID[id]; !ok {
		return repository.ErrNotFound
	}
	delete(r.byID, id)
	return nil
}

func page(out []*model.Participation, limit, offset int) []*model.Participation {
	if limit <= 0 {
		limit = 20
	}
	if offset >= len(out) {
		return nil
	}
	out = out[offset:]
	if len(out) > limit {
		out = out[:limit]
	}
	return out
}

// ── Fixtures ──────────────────────────────────────────────────────────────

type fixture struct {
	challenges     *stubChallengeRepo
	participations *stubParticipationRepo
	challengeSvc   *service.ChallengeService
	svc            *service.ParticipationService
	leader         uuid.UUID
	challenge      *model.Challenge
}

// newFixture creates a pending 3-capacity challenge with its leader accepted.
func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{
		challenges:     newStubChallengeRepo(),
		participations: newStubParticipationRepo(),
		leader:         uuid.New(),
	}
	logger := zap.NewNop()
	f.challengeSvc = service.NewChallengeService(f.challenges, f.participations, logger)
	f.svc = service.NewParticipationService(f.challenges, f.participations, logger)

	today := time.Now().UTC()
	ch, err := f.challengeSvc.Create(context.Background(), f.leader, &model.CreateChallengeRequest{
		Title:      "read 20 pages",
		StartDate:  today.AddDate(0, 0, 1).Format("2006-01-02"),
		EndDate:    today.AddDate(0, 0, 15).Format("2006-01-02"),
		Capacity:   3,
		Category:   model.CategoryReading,
		ProofWay:   "photo of the page",
		ProofCount: 14,
	})
	if err != nil {
		t.Fatalf("create challenge: %v", err)
	}
	f.challenge = ch
	return f
}

func (f *fixture) join(t *testing.T, userID uuid.UUID) *model.ParticipationDetail {
	t.Helper()
	d, err := f.svc.Join(context.Background(), userID, f.challenge.ID)
	if err != nil {
		t.Fatalf("join: %v", err)
	}
	return d
}

func (f *fixture) accept(t *testing.T, participationID uuid.UUID) {
	t.Helper()
	if _, err := f.svc.Confirm(context.Background(), f.leader, participationID, model.ParticipationAccepted); err != nil {
		t.Fatalf("accept: %v", err)
	}
}

// ── Join ──────────────────────────────────────────────────────────────────

func TestJoinCreatesPendingMember(t *testing.T) {
	f := newFixture(t)
	member := uuid.New()

	d := f.join(t, member)
	if d.Status != model.ParticipationPending {
		t.Errorf("status = %s, want pending", d.Status)
	}
	if d.Role != model.RoleMember {
		t.Errorf("role = %s, want member", d.Role)
	}
	if d.Challenge == nil || d.Challenge.ID != f.challenge.ID {
		t.Error("expected challenge summary on join result")
	}
}

func TestJoinDuplicate(t *testing.T) {
	f := newFixture(t)
	member := uuid.New()
	f.join(t, member)

	_, err := f.svc.Join(context.Background(), member, f.challenge.ID)
	if !errors.Is(err, model.ErrDuplicateParticipation) {
		t.Errorf("err = %v, want ErrDuplicateParticipation", err)
	}
	if !model.IsConflict(err) {
		t.Error("duplicate join should be a conflict")
	}
}

func TestJoinLeaderAlreadyParticipates(t *testing.T) {
	f := newFixture(t)

	// The creator holds the leader participation, so a self-join collides.
	_, err := f.svc.Join(context.Background(), f.leader, f.challenge.ID)
	if !errors.Is(err, model.ErrDuplicateParticipation) {
		t.Errorf("err = %v, want ErrDuplicateParticipation", err)
	}
}

func TestJoinUnknownChallenge(t *testing.T) {
	f := newFixture(t)

	_, err := f.svc.Join(context.Background(), uuid.New(), uuid.New())
	if !errors.Is(err, model.ErrChallengeNotFound) {
		t.Errorf("err = %v, want ErrChallengeNotFound", err)
	}
	if !model.IsNotFound(err) {
		t.Error("unknown challenge should be not-found")
	}
}

func TestJoinDoneChallenge(t *testing.T) {
	f := newFixture(t)
	if err := f.challenges.UpdateStatus(context.Background(), f.challenge.ID, model.ChallengeStatusDone); err != nil {
		t.Fatal(err)
	}

	_, err := f.svc.Join(context.Background(), uuid.New(), f.challenge.ID)
	if !errors.Is(err, model.ErrChallengeDone) {
		t.Errorf("err = %v, want ErrChallengeDone", err)
	}
	if !model.IsInvalidState(err) {
		t.Error("joining a done challenge should be invalid-state")
	}
}

func TestJoinQueueCeiling(t *testing.T) {
	f := newFixture(t)
	f.svc.SetPendingCeiling(2)

	f.join(t, uuid.New())
	f.join(t, uuid.New())

	_, err := f.svc.Join(context.Background(), uuid.New(), f.challenge.ID)
	if !errors.Is(err, model.ErrQueueFull) {
		t.Errorf("err = %v, want ErrQueueFull", err)
	}

	// A decision on one pending request frees a queue slot.
	pending, err := f.svc.ListParticipants(context.Background(), f.leader, f.challenge.ID, model.ParticipationPending, 0, 0)
	if err != nil {
		t.Fatalf("list pending: %v", err)
	}
	if _, err := f.svc.Confirm(context.Background(), f.leader, pending[0].ID, model.ParticipationRejected); err != nil {
		t.Fatalf("reject: %v", err)
	}
	if _, err := f.svc.Join(context.Background(), uuid.New(), f.challenge.ID); err != nil {
		t.Errorf("join after queue slot freed: %v", err)
	}
}

func TestJoinFullChallenge(t *testing.T) {
	f := newFixture(t)

	// Fill capacity 3: leader + two accepted members.
	for i := 0; i < 2; i++ {
		d := f.join(t, uuid.New())
		f.accept(t, d.ID)
	}

	_, err := f.svc.Join(context.Background(), uuid.New(), f.challenge.ID)
	if !errors.Is(err, model.ErrChallengeFull) {
		t.Errorf("err = %v, want ErrChallengeFull", err)
	}
}

// ── Confirm ───────────────────────────────────────────────────────────────

func TestConfirmAcceptAndReject(t *testing.T) {
	f := newFixture(t)
	a := f.join(t, uuid.New())
	b := f.join(t, uuid.New())

	got, err := f.svc.Confirm(context.Background(), f.leader, a.ID, model.ParticipationAccepted)
	if err != nil {
		t.Fatalf("accept: %v", err)
	}
	if got.Status != model.ParticipationAccepted {
		t.Errorf("status = %s, want accepted", got.Status)
	}

	got, err = f.svc.Confirm(context.Background(), f.leader, b.ID, model.ParticipationRejected)
	if err != nil {
		t.Fatalf("reject: %v", err)
	}
	if got.Status != model.ParticipationRejected {
		t.Errorf("status = %s, want rejected", got.Status)
	}
}

func TestConfirmRequiresLeader(t *testing.T) {
	f := newFixture(t)
	member := uuid.New()
	d := f.join(t, member)
	f.accept(t, d.ID)

	other := f.join(t, uuid.New())

	// An accepted member is still not the leader.
	_, err := f.svc.Confirm(context.Background(), member, other.ID, model.ParticipationAccepted)
	if !errors.Is(err, model.ErrLeaderRequired) {
		t.Errorf("member confirm: err = %v, want ErrLeaderRequired", err)
	}

	// A stranger is not either.
	_, err = f.svc.Confirm(context.Background(), uuid.New(), other.ID, model.ParticipationAccepted)
	if !errors.Is(err, model.ErrLeaderRequired) {
		t.Errorf("stranger confirm: err = %v, want ErrLeaderRequired", err)
	}
	if !model.IsForbidden(err) {
		t.Error("non-leader confirm should be forbidden")
	}
}

func TestConfirmAlreadyDecided(t *testing.T) {
	f := newFixture(t)
	d := f.join(t, uuid.New())
	f.accept(t, d.ID)

	_, err := f.svc.Confirm(context.Background(), f.leader, d.ID, model.ParticipationRejected)
	if !errors.Is(err, model.ErrNotPending) {
		t.Errorf("err = %v, want ErrNotPending", err)
	}
}

func TestConfirmInvalidDecision(t *testing.T) {
	f := newFixture(t)
	d := f.join(t, uuid.New())

	for _, decision := range []model.ParticipationStatus{
		model.ParticipationPending,
		model.ParticipationWithdrawn,
		model.ParticipationStatus("approved"),
	} {
		_, err := f.svc.Confirm(context.Background(), f.leader, d.ID, decision)
		if !errors.Is(err, model.ErrInvalidDecision) {
			t.Errorf("decision %q: err = %v, want ErrInvalidDecision", decision, err)
		}
	}
}

func TestConfirmUnknownParticipation(t *testing.T) {
	f := newFixture(t)

	_, err := f.svc.Confirm(context.Background(), f.leader, uuid.New(), model.ParticipationAccepted)
	if !errors.Is(err, model.ErrParticipationNotFound) {
		t.Errorf("err = %v, want ErrParticipationNotFound", err)
	}
}

func TestConfirmAcceptOverCapacity(t *testing.T) {
	f := newFixture(t)

	// Queue three, accept two (leader + 2 fills capacity 3), third must fail.
	var pending []*model.ParticipationDetail
	for i := 0; i < 3; i++ {
		pending = append(pending, f.join(t, uuid.New()))
	}
	f.accept(t, pending[0].ID)
	f.accept(t, pending[1].ID)

	_, err := f.svc.Confirm(context.Background(), f.leader, pending[2].ID, model.ParticipationAccepted)
	if !errors.Is(err, model.ErrChallengeFull) {
		t.Errorf("err = %v, want ErrChallengeFull", err)
	}

	// Rejecting the leftover request still works.
	if _, err := f.svc.Confirm(context.Background(), f.leader, pending[2].ID, model.ParticipationRejected); err != nil {
		t.Errorf("reject over capacity: %v", err)
	}
}

func TestConfirmOnDoneChallenge(t *testing.T) {
	f := newFixture(t)
	d := f.join(t, uuid.New())
	if err := f.challenges.UpdateStatus(context.Background(), f.challenge.ID, model.ChallengeStatusDone); err != nil {
		t.Fatal(err)
	}

	_, err := f.svc.Confirm(context.Background(), f.leader, d.ID, model.ParticipationAccepted)
	if !errors.Is(err, model.ErrChallengeDone) {
		t.Errorf("err = %v, want ErrChallengeDone", err)
	}
}

// ── Leave ─────────────────────────────────────────────────────────────────

func TestLeaveAcceptedMember(t *testing.T) {
	f := newFixture(t)
	member := uuid.New()
	d := f.join(t, member)
	f.accept(t, d.ID)

	if err := f.svc.Leave(context.Background(), member, f.challenge.ID); err != nil {
		t.Fatalf("leave: %v", err)
	}

	p, err := f.participations.GetByID(context.Background(), d.ID)
	if err != nil {
		t.Fatalf("get participation: %v", err)
	}
	if p.Status != model.ParticipationWithdrawn {
		t.Errorf("status = %s, want withdrawn", p.Status)
	}

	// The withdrawn row blocks a re-join.
	_, err = f.svc.Join(context.Background(), member, f.challenge.ID)
	if !errors.Is(err, model.ErrDuplicateParticipation) {
		t.Errorf("re-join after leave: err = %v, want ErrDuplicateParticipation", err)
	}
}

func TestLeavePendingRequest(t *testing.T) {
	f := newFixture(t)
	member := uuid.New()
	d := f.join(t, member)

	// Pending → withdrawn is a legal transition.
	if err := f.svc.Leave(context.Background(), member, f.challenge.ID); err != nil {
		t.Fatalf("leave while pending: %v", err)
	}
	p, _ := f.participations.GetByID(context.Background(), d.ID)
	if p.Status != model.ParticipationWithdrawn {
		t.Errorf("status = %s, want withdrawn", p.Status)
	}
}

func TestLeaveErrors(t *testing.T) {
	f := newFixture(t)

	if err := f.svc.Leave(context.Background(), uuid.New(), f.challenge.ID); !errors.Is(err, model.ErrParticipationNotFound) {
		t.Errorf("no participation: err = %v, want ErrParticipationNotFound", err)
	}
	err := f.svc.Leave(context.Background(), f.leader, f.challenge.ID)
	if !errors.Is(err, model.ErrLeaderCannotLeave) {
		t.Errorf("leader leave: err = %v, want ErrLeaderCannotLeave", err)
	}
	// A leader leaving is a state problem with their own participation, not a
	// permission problem.
	if !model.IsInvalidState(err) {
		t.Errorf("leader leave: kind is not InvalidState")
	}
	if model.IsForbidden(err) {
		t.Errorf("leader leave: kind must not be Forbidden")
	}

	member := uuid.New()
	d := f.join(t, member)
	if _, err := f.svc.Confirm(context.Background(), f.leader, d.ID, model.ParticipationRejected); err != nil {
		t.Fatal(err)
	}
	if err := f.svc.Leave(context.Background(), member, f.challenge.ID); !errors.Is(err, model.ErrInvalidTransition) {
		t.Errorf("leave after rejection: err = %v, want ErrInvalidTransition", err)
	}
}

// ── Cancel ────────────────────────────────────────────────────────────────

func TestCancelPendingRequest(t *testing.T) {
	f := newFixture(t)
	member := uuid.New()
	d := f.join(t, member)

	if err := f.svc.Cancel(context.Background(), member, d.ID); err != nil {
		t.Fatalf("cancel: %v", err)
	}
	if _, err := f.participations.GetByID(context.Background(), d.ID); !errors.Is(err, repository.ErrNotFound) {
		t.Error("cancelled row should be gone")
	}

	// Unlike leave, cancel leaves no trace; the user may join again.
	if _, err := f.svc.Join(context.Background(), member, f.challenge.ID); err != nil {
		t.Errorf("re-join after cancel: %v", err)
	}
}

func TestCancelErrors(t *testing.T) {
	f := newFixture(t)
	member := uuid.New()
	d := f.join(t, member)

	if err := f.svc.Cancel(context.Background(), uuid.New(), d.ID); !errors.Is(err, model.ErrNotOwner) {
		t.Errorf("foreign cancel: err = %v, want ErrNotOwner", err)
	}
	if err := f.svc.Cancel(context.Background(), member, uuid.New()); !errors.Is(err, model.ErrParticipationNotFound) {
		t.Errorf("unknown id: err = %v, want ErrParticipationNotFound", err)
	}

	f.accept(t, d.ID)
	if err := f.svc.Cancel(context.Background(), member, d.ID); !errors.Is(err, model.ErrNotPending) {
		t.Errorf("cancel after accept: err = %v, want ErrNotPending", err)
	}
}

// ── Reads ─────────────────────────────────────────────────────────────────

func TestListMine(t *testing.T) {
	f := newFixture(t)
	member := uuid.New()
	d := f.join(t, member)

	mine, err := f.svc.ListMine(context.Background(), member, model.ParticipationPending, 0, 0)
	if err != nil {
		t.Fatalf("list mine: %v", err)
	}
	if len(mine) != 1 || mine[0].ID != d.ID {
		t.Fatalf("mine = %+v, want the single pending request", mine)
	}
	if mine[0].Challenge == nil || mine[0].Challenge.Title != f.challenge.Title {
		t.Error("expected challenge summary attached")
	}

	accepted, err := f.svc.ListMine(context.Background(), member, model.ParticipationAccepted, 0, 0)
	if err != nil {
		t.Fatalf("list accepted: %v", err)
	}
	if len(accepted) != 0 {
		t.Errorf("accepted = %d rows, want 0", len(accepted))
	}
}

func TestListParticipantsVisibility(t *testing.T) {
	f := newFixture(t)
	member := uuid.New()
	d := f.join(t, member)
	f.accept(t, d.ID)
	f.join(t, uuid.New()) // stays pending

	// Leader sees the pending queue.
	pending, err := f.svc.ListParticipants(context.Background(), f.leader, f.challenge.ID, model.ParticipationPending, 0, 0)
	if err != nil {
		t.Fatalf("leader pending list: %v", err)
	}
	if len(pending) != 1 {
		t.Errorf("pending = %d rows, want 1", len(pending))
	}

	// Accepted member sees the accepted roster only.
	roster, err := f.svc.ListParticipants(context.Background(), member, f.challenge.ID, model.ParticipationAccepted, 0, 0)
	if err != nil {
		t.Fatalf("member roster: %v", err)
	}
	if len(roster) != 2 {
		t.Errorf("roster = %d rows, want leader + member", len(roster))
	}
	if _, err := f.svc.ListParticipants(context.Background(), member, f.challenge.ID, model.ParticipationPending, 0, 0); !errors.Is(err, model.ErrRosterForbidden) {
		t.Errorf("member pending list: err = %v, want ErrRosterForbidden", err)
	}

	// Outsiders and pending requesters see nothing.
	if _, err := f.svc.ListParticipants(context.Background(), uuid.New(), f.challenge.ID, model.ParticipationAccepted, 0, 0); !errors.Is(err, model.ErrRosterForbidden) {
		t.Errorf("outsider: err = %v, want ErrRosterForbidden", err)
	}

	if _, err := f.svc.ListParticipants(context.Background(), f.leader, uuid.New(), model.ParticipationAccepted, 0, 0); !errors.Is(err, model.ErrChallengeNotFound) {
		t.Errorf("unknown challenge: err = %v, want ErrChallengeNotFound", err)
	}
}

// ── Concurrency ───────────────────────────────────────────────────────────

func TestConcurrentJoinsRespectQueueCeiling(t *testing.T) {
	f := newFixture(t)
	f.svc.SetPendingCeiling(5)

	const attempts = 40
	var wg sync.WaitGroup
	errs := make(chan error, attempts)
	for i := 0; i < attempts; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := f.svc.Join(context.Background(), uuid.New(), f.challenge.ID)
			errs <- err
		}()
	}
	wg.Wait()
	close(errs)

	joined, full := 0, 0
	for err := range errs {
		switch {
		case err == nil:
			joined++
		case errors.Is(err, model.ErrQueueFull):
			full++
		default:
			t.Errorf("unexpected error: %v", err)
		}
	}
	if joined != 5 {
		t.Errorf("joined = %d, want exactly the ceiling (5)", joined)
	}
	if full != attempts-5 {
		t.Errorf("queue-full rejections = %d, want %d", full, attempts-5)
	}

	n, _ := f.participations.CountByChallengeAndStatus(context.Background(), f.challenge.ID, model.ParticipationPending)
	if n != 5 {
		t.Errorf("pending rows = %d, want 5", n)
	}
}

func TestConcurrentConfirmsRespectCapacity(t *testing.T) {
	f := newFixture(t)

	// Ten pending requests against capacity 3 (leader occupies one slot).
	var ids []uuid.UUID
	for i := 0; i < 10; i++ {
		ids = append(ids, f.join(t, uuid.New()).ID)
	}

	var wg sync.WaitGroup
	errs := make(chan error, len(ids))
	for _, id := range ids {
		wg.Add(1)
		go func(id uuid.UUID) {
			defer wg.Done()
			_, err := f.svc.Confirm(context.Background(), f.leader, id, model.ParticipationAccepted)
			errs <- err
		}(id)
	}
	wg.Wait()
	close(errs)

	accepted, rejectedFull := 0, 0
	for err := range errs {
		switch {
		case err == nil:
			accepted++
		case errors.Is(err, model.ErrChallengeFull):
			rejectedFull++
		default:
			t.Errorf("unexpected error: %v", err)
		}
	}
	if accepted != 2 {
		t.Errorf("accepted = %d, want 2 (capacity 3 minus leader)", accepted)
	}
	if rejectedFull != 8 {
		t.Errorf("capacity rejections = %d, want 8", rejectedFull)
	}

	n, _ := f.participations.CountByChallengeAndStatus(context.Background(), f.challenge.ID, model.ParticipationAccepted)
	if n != 3 {
		t.Errorf("accepted rows = %d, want capacity 3", n)
	}
}

// ── Audit trail ───────────────────────────────────────────────────────────

func TestLifecycleWritesAuditTrail(t *testing.T) {
	f := newFixture(t)
	log := audit.NewMemoryLog()
	f.svc.SetAuditLog(log)

	member := uuid.New()
	d := f.join(t, member)
	f.accept(t, d.ID)
	if err := f.svc.Leave(context.Background(), member, f.challenge.ID); err != nil {
		t.Fatal(err)
	}

	entries, err := log.List(context.Background(), "participation/"+d.ID.String(), 10, 0)
	if err != nil {
		t.Fatalf("list audit: %v", err)
	}
	if len(entries) != 3 {
		t.Fatalf("audit entries = %d, want join/confirm/leave", len(entries))
	}
	// Newest first.
	if entries[0].Action != "leave" || entries[1].Action != "confirm" || entries[2].Action != "join" {
		t.Errorf("actions = %s, %s, %s", entries[0].Action, entries[1].Action, entries[2].Action)
	}
	if entries[1].Payload["decision"] != string(model.ParticipationAccepted) {
		t.Errorf("confirm payload = %v", entries[1].Payload)
	}
}

// ── Challenge service ─────────────────────────────────────────────────────

func TestChallengeCreateValidation(t *testing.T) {
	f := newFixture(t)
	today := time.Now().UTC()

	_, err := f.challengeSvc.Create(context.Background(), uuid.New(), &model.CreateChallengeRequest{
		Title:      "backwards",
		StartDate:  today.AddDate(0, 0, 10).Format("2006-01-02"),
		EndDate:    today.AddDate(0, 0, 5).Format("2006-01-02"),
		Capacity:   3,
		Category:   model.CategoryStudy,
		ProofCount: 5,
	})
	if !errors.Is(err, service.ErrInvalidDates) {
		t.Errorf("err = %v, want ErrInvalidDates", err)
	}

	_, err = f.challengeSvc.Create(context.Background(), uuid.New(), &model.CreateChallengeRequest{
		Title:      "bad category",
		StartDate:  today.AddDate(0, 0, 1).Format("2006-01-02"),
		EndDate:    today.AddDate(0, 0, 5).Format("2006-01-02"),
		Capacity:   3,
		Category:   model.Category("napping"),
		ProofCount: 5,
	})
	if !errors.Is(err, service.ErrInvalidCategory) {
		t.Errorf("err = %v, want ErrInvalidCategory", err)
	}
}

func TestChallengeDeleteLeaderOnly(t *testing.T) {
	f := newFixture(t)
	member := uuid.New()
	d := f.join(t, member)
	f.accept(t, d.ID)

	if err := f.challengeSvc.Delete(context.Background(), member, f.challenge.ID); !errors.Is(err, model.ErrLeaderRequired) {
		t.Errorf("member delete: err = %v, want ErrLeaderRequired", err)
	}
	if err := f.challengeSvc.Delete(context.Background(), f.leader, f.challenge.ID); err != nil {
		t.Fatalf("leader delete: %v", err)
	}
	if _, err := f.challengeSvc.Get(context.Background(), f.challenge.ID); !errors.Is(err, model.ErrChallengeNotFound) {
		t.Errorf("get after delete: err = %v, want ErrChallengeNotFound", err)
	}
	if err := f.challengeSvc.Delete(context.Background(), f.leader, f.challenge.ID); !errors.Is(err, model.ErrChallengeNotFound) {
		t.Errorf("double delete: err = %v, want ErrChallengeNotFound", err)
	}
}

// ── Notifications ─────────────────────────────────────────────────────────

type staticUserLookup struct{}

func (staticUserLookup) GetByID(_ context.Context, id uuid.UUID) (*users.User, error) {
	return &users.User{ID: id, Username: "u", DisplayName: "U", Email: "u@daygoal.local"}, nil
}

// gatedSender blocks every Send until release is closed, signalling entry.
type gatedSender struct {
	entered chan struct{}
	release chan struct{}
}

func (g *gatedSender) Send(context.Context, string, string, string) error {
	g.entered <- struct{}{}
	<-g.release
	return nil
}

func TestJoinNotificationDoesNotHoldChallengeLock(t *testing.T) {
	f := newFixture(t)
	mailer := &gatedSender{entered: make(chan struct{}), release: make(chan struct{})}
	f.svc.SetUserLookup(staticUserLookup{})
	f.svc.SetMailer(mailer)

	firstDone := make(chan error, 1)
	go func() {
		_, err := f.svc.Join(context.Background(), uuid.New(), f.challenge.ID)
		firstDone <- err
	}()
	<-mailer.entered // first join is now inside Send

	secondDone := make(chan error, 1)
	go func() {
		_, err := f.svc.Join(context.Background(), uuid.New(), f.challenge.ID)
		secondDone <- err
	}()

	// The second join must clear the critical section and reach its own
	// notification while the first send is still in flight.
	select {
	case <-mailer.entered:
	case <-time.After(2 * time.Second):
		t.Fatal("second join blocked behind the first join's notification")
	}

	close(mailer.release)
	if err := <-firstDone; err != nil {
		t.Fatalf("first join: %v", err)
	}
	if err := <-secondDone; err != nil {
		t.Fatalf("second join: %v", err)
	}
}
