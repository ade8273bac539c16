package users_test

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/daygoal/daygoal/internal/users"
)

type stubUserRepo struct {
	mu           sync.RWMutex
	byID         map[uuid.UUID]*users.User
	byEmail      map[string]uuid.UUID
	byUsername   map[string]uuid.UUID
	oauthLinks   map[string]uuid.UUID // "provider:providerID" → userID
	verifyTokens map[string]*tokenRecord
}

type tokenRecord struct {
	userID    uuid.UUID
	expiresAt time.Time
	usedAt    *time.Time
}

func newStubUserRepo() *stubUserRepo {
	return &stubUserRepo{
		byID:         make(map[uuid.UUID]*users.User),
		byEmail:      make(map[string]uuid.UUID),
		byUsername:   make(map[string]uuid.UUID),
		oauthLinks:   make(map[string]uuid.UUID),
		verifyTokens: make(map[string]*tokenRecord),
	}
}

func (r *stubUserRepo) Create(_ context.Context, u *users.User) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.byEmail[u.Email]; exists {
		return users.ErrDuplicateEmail
	}
	u.ID = uuid.New()
	now := time.Now()
	u.CreatedAt = now
	u.UpdatedAt = now
	cp := *u
	r.byID[u.ID] = &cp
	r.byEmail[u.Email] = u.ID
	r.byUsername[u.Username] = u.ID
	return nil
}

func (r *stubUserRepo) GetByID(_ context.Context, id uuid.UUID) (*users.User, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	u, ok := r.byID[id]
	if !ok {
		return nil, users.ErrNotFound
	}
	cp := *u
	return &cp, nil
}

func (r *stubUserRepo) GetByEmail(_ context.Context, email string) (*users.User, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	id, ok := r.byEmail[email]
	if !ok {
		return nil, users.ErrNotFound
	}
	cp := *r.byID[id]
	return &cp, nil
}

func (r *stubUserRepo) GetByUsername(_ context.Context, username string) (*users.User, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	id, ok := r.byUsername[username]
	if !ok {
		return nil, users.ErrNotFound
	}
	cp := *r.byID[id]
	return &cp, nil
}

func (r *stubUserRepo) GetByOAuth(_ context.Context, provider, providerID string) (*users.User, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	id, ok := r.oauthLinks[provider+":"+providerID]
	if !ok {
		return nil, users.ErrNotFound
	}
	cp := *r.byID[id]
	return &cp, nil
}

func (r *stubUserRepo) LinkOAuth(_ context.Context, userID uuid.UUID, provider, providerID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.oauthLinks[provider+":"+providerID] = userID
	return nil
}

func (r *stubUserRepo) SetEmailVerified(_ context.Context, userID uuid.UUID) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if u, ok := r.byID[userID]; ok {
		u.EmailVerified = true
	}
	return nil
}

func (r *stubUserRepo) UpdateProfile(_ context.Context, userID uuid.UUID, displayName, bio string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	u, ok := r.byID[userID]
	if !ok {
		return users.ErrNotFound
	}
	u.DisplayName = displayName
	u.Bio = bio
	return nil
}

func (r *stubUserRepo) CreateVerificationToken(_ context.Context, userID uuid.UUID, token string, expires time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.verifyTokens[token] = &tokenRecord{userID: userID, expiresAt: expires}
	return nil
}

func (r *stubUserRepo) UseVerificationToken(_ context.Context, token string) (*users.User, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	rec, ok := r.verifyTokens[token]
	if !ok {
		return nil, users.ErrNotFound
	}
	if rec.usedAt != nil || time.Now().After(rec.expiresAt) {
		return nil, users.ErrNotFound
	}
	now := time.Now()
	rec.usedAt = &now
	u := r.byID[rec.userID]
	u.EmailVerified = true
	cp := *u
	return &cp, nil
}

// recordingSender captures sent emails for assertions.
type recordingSender struct {
	mu   sync.Mutex
	sent []string // "to|subject"
	body string
}

func (m *recordingSender) Send(_ context.Context, to, subject, body string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sent = append(m.sent, to+"|"+subject)
	m.body = body
	return nil
}

func newTestUserService(repo *stubUserRepo) (*users.UserService, *recordingSender) {
	svc := users.NewUserService(repo, zap.NewNop())
	mailer := &recordingSender{}
	svc.SetMailer(mailer)
	svc.SetFrontendURL("http://localhost:3000")
	return svc, mailer
}

func TestSignupAndLogin(t *testing.T) {
	repo := newStubUserRepo()
	svc, mailer := newTestUserService(repo)
	ctx := context.Background()

	u, err := svc.Signup(ctx, "ana@example.com", "correct-horse", "")
	if err != nil {
		t.Fatalf("Signup: %v", err)
	}
	if u.Username != "ana" {
		t.Errorf("Username = %q, want ana", u.Username)
	}
	if u.DisplayName != "ana" {
		t.Errorf("DisplayName = %q, want ana (defaults to username)", u.DisplayName)
	}
	if u.EmailVerified {
		t.Error("new password signup should not be email-verified")
	}
	if len(mailer.sent) != 1 {
		t.Fatalf("sent %d emails, want 1", len(mailer.sent))
	}

	got, err := svc.Login(ctx, "ana@example.com", "correct-horse")
	if err != nil {
		t.Fatalf("Login: %v", err)
	}
	if got.ID != u.ID {
		t.Errorf("Login returned user %s, want %s", got.ID, u.ID)
	}

	if _, err := svc.Login(ctx, "ana@example.com", "wrong"); err == nil {
		t.Error("expected error for wrong password")
	}
	if _, err := svc.Login(ctx, "nobody@example.com", "whatever"); err == nil {
		t.Error("expected error for unknown email")
	}
}

func TestSignupValidation(t *testing.T) {
	repo := newStubUserRepo()
	svc, _ := newTestUserService(repo)
	ctx := context.Background()

	if _, err := svc.Signup(ctx, "", "longenough", ""); err == nil {
		t.Error("expected error for empty email")
	}
	if _, err := svc.Signup(ctx, "ana@example.com", "short", ""); err == nil {
		t.Error("expected error for short password")
	}
}

func TestSignupDuplicateEmail(t *testing.T) {
	repo := newStubUserRepo()
	svc, _ := newTestUserService(repo)
	ctx := context.Background()

	if _, err := svc.Signup(ctx, "ana@example.com", "correct-horse", ""); err != nil {
		t.Fatalf("first Signup: %v", err)
	}
	_, err := svc.Signup(ctx, "ana@example.com", "another-pass", "")
	if !errors.Is(err, users.ErrDuplicateEmail) {
		t.Errorf("err = %v, want ErrDuplicateEmail", err)
	}
}

func TestUsernameCollisionGetsSuffix(t *testing.T) {
	repo := newStubUserRepo()
	svc, _ := newTestUserService(repo)
	ctx := context.Background()

	first, err := svc.Signup(ctx, "ana@one.example", "correct-horse", "")
	if err != nil {
		t.Fatalf("Signup: %v", err)
	}
	second, err := svc.Signup(ctx, "ana@two.example", "correct-horse", "")
	if err != nil {
		t.Fatalf("Signup: %v", err)
	}
	if first.Username != "ana" || second.Username != "ana2" {
		t.Errorf("usernames = %q, %q; want ana, ana2", first.Username, second.Username)
	}
}

func TestVerifyEmail(t *testing.T) {
	repo := newStubUserRepo()
	svc, mailer := newTestUserService(repo)
	ctx := context.Background()

	u, err := svc.Signup(ctx, "ana@example.com", "correct-horse", "")
	if err != nil {
		t.Fatalf("Signup: %v", err)
	}

	// Pull the token out of the verification email body.
	idx := strings.Index(mailer.body, "?token=")
	if idx < 0 {
		t.Fatalf("no token link in email body: %q", mailer.body)
	}
	token := strings.Fields(mailer.body[idx+len("?token="):])[0]

	verified, err := svc.VerifyEmail(ctx, token)
	if err != nil {
		t.Fatalf("VerifyEmail: %v", err)
	}
	if verified.ID != u.ID || !verified.EmailVerified {
		t.Errorf("verified = %+v", verified)
	}

	if _, err := svc.VerifyEmail(ctx, token); err == nil {
		t.Error("expected error reusing a consumed token")
	}
	if _, err := svc.VerifyEmail(ctx, "bogus"); err == nil {
		t.Error("expected error for unknown token")
	}
}

func TestGetOrCreateFromOAuth(t *testing.T) {
	repo := newStubUserRepo()
	svc, _ := newTestUserService(repo)
	ctx := context.Background()

	u, created, err := svc.GetOrCreateFromOAuth(ctx, "github", "gh-1", "ana@example.com", "Ana")
	if err != nil {
		t.Fatalf("GetOrCreateFromOAuth: %v", err)
	}
	if !created {
		t.Error("expected created = true on first login")
	}
	if !u.EmailVerified {
		t.Error("oauth signup should be email-verified")
	}

	again, created, err := svc.GetOrCreateFromOAuth(ctx, "github", "gh-1", "ana@example.com", "Ana")
	if err != nil {
		t.Fatalf("second GetOrCreateFromOAuth: %v", err)
	}
	if created || again.ID != u.ID {
		t.Errorf("second login: created=%v id=%s, want existing %s", created, again.ID, u.ID)
	}
}

func TestOAuthLinksExistingEmailAccount(t *testing.T) {
	repo := newStubUserRepo()
	svc, _ := newTestUserService(repo)
	ctx := context.Background()

	u, err := svc.Signup(ctx, "ana@example.com", "correct-horse", "")
	if err != nil {
		t.Fatalf("Signup: %v", err)
	}

	linked, created, err := svc.GetOrCreateFromOAuth(ctx, "google", "g-1", "ana@example.com", "Ana")
	if err != nil {
		t.Fatalf("GetOrCreateFromOAuth: %v", err)
	}
	if created {
		t.Error("expected link to existing account, not a new one")
	}
	if linked.ID != u.ID {
		t.Errorf("linked to %s, want %s", linked.ID, u.ID)
	}
	if !linked.EmailVerified {
		t.Error("oauth link should mark email verified")
	}
}

func TestUpdateProfile(t *testing.T) {
	repo := newStubUserRepo()
	svc, _ := newTestUserService(repo)
	ctx := context.Background()

	u, err := svc.Signup(ctx, "ana@example.com", "correct-horse", "")
	if err != nil {
		t.Fatalf("Signup: %v", err)
	}

	if err := svc.UpdateProfile(ctx, u.ID, "Ana B", "morning runner"); err != nil {
		t.Fatalf("UpdateProfile: %v", err)
	}
	got, err := svc.GetByID(ctx, u.ID)
	if err != nil {
		t.Fatalf("GetByID: %v", err)
	}
	if got.DisplayName != "Ana B" || got.Bio != "morning runner" {
		t.Errorf("profile = %q / %q", got.DisplayName, got.Bio)
	}

	if err := svc.UpdateProfile(ctx, u.ID, "", "bio"); err == nil {
		t.Error("expected error for empty display name")
	}
}
