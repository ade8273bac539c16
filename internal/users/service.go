package users

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"

	"github.com/daygoal/daygoal/internal/email"
)

// userRepo is the storage interface consumed by UserService.
type userRepo interface {
	Create(ctx context.Context, u *User) error
	GetByID(ctx context.Context, id uuid.UUID) (*User, error)
	GetByEmail(ctx context.Context, email string) (*User, error)
	GetByUsername(ctx context.Context, username string) (*User, error)
	GetByOAuth(ctx context.Context, provider, providerID string) (*User, error)
	LinkOAuth(ctx context.Context, userID uuid.UUID, provider, providerID string) error
	SetEmailVerified(ctx context.Context, userID uuid.UUID) error
	UpdateProfile(ctx context.Context, userID uuid.UUID, displayName, bio string) error
	CreateVerificationToken(ctx context.Context, userID uuid.UUID, token string, expires time.Time) error
	UseVerificationToken(ctx context.Context, token string) (*User, error)
}

// UserService implements account management: signup, login, OAuth linking,
// email verification, and profile updates.
type UserService struct {
	repo        userRepo
	mailer      email.EmailSender // nil = verification emails are skipped
	frontendURL string
	logger      *zap.Logger
}

// NewUserService creates a new UserService.
func NewUserService(repo userRepo, logger *zap.Logger) *UserService {
	return &UserService{repo: repo, logger: logger}
}

// SetMailer configures the sender used for verification emails.
func (s *UserService) SetMailer(m email.EmailSender) {
	s.mailer = m
}

// SetFrontendURL sets the base URL used to build verification links.
// Should point to the web frontend (e.g. "http://localhost:3000").
func (s *UserService) SetFrontendURL(url string) {
	s.frontendURL = strings.TrimRight(url, "/")
}

// Signup creates a new user with email/password credentials and sends a
// verification email. Returns the created user.
func (s *UserService) Signup(ctx context.Context, emailAddr, password, displayName string) (*User, error) {
	if emailAddr == "" || password == "" {
		return nil, fmt.Errorf("email and password are required")
	}
	if len(password) < 8 {
		return nil, fmt.Errorf("password must be at least 8 characters")
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return nil, fmt.Errorf("hash password: %w", err)
	}

	username, err := s.uniqueUsername(ctx, emailAddr)
	if err != nil {
		return nil, fmt.Errorf("generate username: %w", err)
	}
	if displayName == "" {
		displayName = username
	}

	u := &User{
		Email:        emailAddr,
		PasswordHash: string(hash),
		Username:     username,
		DisplayName:  displayName,
	}
	if err := s.repo.Create(ctx, u); err != nil {
		if errors.Is(err, ErrDuplicateEmail) {
			return nil, ErrDuplicateEmail
		}
		return nil, fmt.Errorf("create user: %w", err)
	}

	if err := s.sendVerification(ctx, u); err != nil {
		// Non-fatal: the account exists; the user can request a resend.
		s.logger.Warn("send verification email",
			zap.String("user_id", u.ID.String()),
			zap.Error(err),
		)
	}

	s.logger.Info("user signed up",
		zap.String("user_id", u.ID.String()),
		zap.String("username", u.Username),
	)
	return u, nil
}

// Login checks email/password credentials and returns the user on success.
func (s *UserService) Login(ctx context.Context, emailAddr, password string) (*User, error) {
	u, err := s.repo.GetByEmail(ctx, emailAddr)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, fmt.Errorf("invalid credentials")
		}
		return nil, fmt.Errorf("lookup user: %w", err)
	}
	if u.PasswordHash == "" {
		return nil, fmt.Errorf("account uses OAuth login; password not set")
	}
	if err := bcrypt.CompareHashAndPassword([]byte(u.PasswordHash), []byte(password)); err != nil {
		return nil, fmt.Errorf("invalid credentials")
	}
	return u, nil
}

// GetByID retrieves a user by ID.
func (s *UserService) GetByID(ctx context.Context, id uuid.UUID) (*User, error) {
	return s.repo.GetByID(ctx, id)
}

// GetByUsername retrieves a user by their username slug.
func (s *UserService) GetByUsername(ctx context.Context, username string) (*User, error) {
	return s.repo.GetByUsername(ctx, username)
}

// UpdateProfile updates the display name and bio for a user.
func (s *UserService) UpdateProfile(ctx context.Context, userID uuid.UUID, displayName, bio string) error {
	if displayName == "" {
		return fmt.Errorf("display name is required")
	}
	return s.repo.UpdateProfile(ctx, userID, displayName, bio)
}

// VerifyEmail consumes a verification token and marks the email verified.
func (s *UserService) VerifyEmail(ctx context.Context, token string) (*User, error) {
	u, err := s.repo.UseVerificationToken(ctx, token)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, fmt.Errorf("verification token not found")
		}
		return nil, fmt.Errorf("verify email: %w", err)
	}
	s.logger.Info("email verified", zap.String("user_id", u.ID.String()))
	return u, nil
}

// ResendVerification generates a fresh token and re-sends the email.
func (s *UserService) ResendVerification(ctx context.Context, userID uuid.UUID) error {
	u, err := s.repo.GetByID(ctx, userID)
	if err != nil {
		return fmt.Errorf("get user: %w", err)
	}
	if u.EmailVerified {
		return fmt.Errorf("email already verified")
	}
	return s.sendVerification(ctx, u)
}

// GetOrCreateFromOAuth retrieves the user linked to the OAuth identity, or
// creates one. Returns the user and true if newly created. An existing
// account with the same email is linked rather than duplicated.
func (s *UserService) GetOrCreateFromOAuth(ctx context.Context, provider, providerID, emailAddr, displayName string) (*User, bool, error) {
	u, err := s.repo.GetByOAuth(ctx, provider, providerID)
	if err == nil {
		return u, false, nil
	}
	if !errors.Is(err, ErrNotFound) {
		return nil, false, fmt.Errorf("lookup oauth user: %w", err)
	}

	existing, err := s.repo.GetByEmail(ctx, emailAddr)
	if err == nil {
		if linkErr := s.repo.LinkOAuth(ctx, existing.ID, provider, providerID); linkErr != nil {
			s.logger.Warn("link oauth to existing account",
				zap.String("user_id", existing.ID.String()),
				zap.Error(linkErr),
			)
		}
		// The provider already verified this address.
		if !existing.EmailVerified {
			_ = s.repo.SetEmailVerified(ctx, existing.ID)
			existing.EmailVerified = true
		}
		return existing, false, nil
	}
	if !errors.Is(err, ErrNotFound) {
		return nil, false, fmt.Errorf("lookup by email: %w", err)
	}

	username, err := s.uniqueUsername(ctx, emailAddr)
	if err != nil {
		return nil, false, fmt.Errorf("generate username: %w", err)
	}
	if displayName == "" {
		displayName = username
	}

	u = &User{
		Email:         emailAddr,
		Username:      username,
		DisplayName:   displayName,
		EmailVerified: true,
	}
	if err := s.repo.Create(ctx, u); err != nil {
		return nil, false, fmt.Errorf("create oauth user: %w", err)
	}
	if err := s.repo.LinkOAuth(ctx, u.ID, provider, providerID); err != nil {
		s.logger.Warn("link oauth after create", zap.Error(err))
	}
	return u, true, nil
}

// sendVerification generates a token, persists it, and emails the user.
func (s *UserService) sendVerification(ctx context.Context, u *User) error {
	if s.mailer == nil {
		return nil
	}

	token, err := secureToken(32)
	if err != nil {
		return fmt.Errorf("generate token: %w", err)
	}
	expires := time.Now().UTC().Add(24 * time.Hour)
	if err := s.repo.CreateVerificationToken(ctx, u.ID, token, expires); err != nil {
		return fmt.Errorf("persist verification token: %w", err)
	}

	link := s.frontendURL + "/verify-email?token=" + token
	body := fmt.Sprintf(
		"Hi %s,\n\nConfirm your daygoal email address:\n\n  %s\n\nThe link expires in 24 hours. If you did not sign up, ignore this email.\n",
		u.DisplayName, link,
	)
	return s.mailer.Send(ctx, u.Email, "Confirm your daygoal email", body)
}

// uniqueUsername derives a slug from the email's local part, appending a
// numeric suffix if the slug is taken.
func (s *UserService) uniqueUsername(ctx context.Context, emailAddr string) (string, error) {
	base := slugifyEmail(emailAddr)
	if base == "" {
		base = "user"
	}

	if _, err := s.repo.GetByUsername(ctx, base); errors.Is(err, ErrNotFound) {
		return base, nil
	}
	for i := 2; i <= 9999; i++ {
		candidate := fmt.Sprintf("%s%d", base, i)
		if _, err := s.repo.GetByUsername(ctx, candidate); errors.Is(err, ErrNotFound) {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("could not generate unique username for %q", emailAddr)
}

// slugifyEmail converts "ana@example.com" to "ana".
func slugifyEmail(emailAddr string) string {
	local := emailAddr
	if at := strings.Index(emailAddr, "@"); at > 0 {
		local = emailAddr[:at]
	}
	var b strings.Builder
	for _, r := range strings.ToLower(local) {
		if unicode.IsLetter(r) || unicode.IsDigit(r) || r == '-' {
			b.WriteRune(r)
		}
	}
	result := strings.Trim(b.String(), "-")
	if len(result) > 32 {
		result = result[:32]
	}
	return result
}

// secureToken returns a hex-encoded random token of n bytes.
func secureToken(n int) (string, error) {
	buf := make([]byte, n)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return hex.EncodeToString(buf), nil
}
