package handler

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/github"
	"golang.org/x/oauth2/google"

	"github.com/daygoal/daygoal/internal/identity"
	"github.com/daygoal/daygoal/internal/users"
)

// OAuthProviderConfig holds OAuth client credentials for one provider.
type OAuthProviderConfig struct {
	ClientID     string
	ClientSecret string
	RedirectURL  string
}

// userSvc is the interface expected by AuthHandler, satisfied by
// *users.UserService.
type userSvc interface {
	Signup(ctx context.Context, email, password, displayName string) (*users.User, error)
	Login(ctx context.Context, email, password string) (*users.User, error)
	VerifyEmail(ctx context.Context, token string) (*users.User, error)
	ResendVerification(ctx context.Context, userID uuid.UUID) error
	GetByID(ctx context.Context, id uuid.UUID) (*users.User, error)
	UpdateProfile(ctx context.Context, userID uuid.UUID, displayName, bio string) error
	GetOrCreateFromOAuth(ctx context.Context, provider, providerID, email, displayName string) (*users.User, bool, error)
}

// AuthHandler serves signup, login, OAuth, and profile routes.
type AuthHandler struct {
	users       userSvc
	tokens      *identity.UserTokenIssuer
	oauthCfgs   map[string]*oauth2.Config
	frontendURL string
	logger      *zap.Logger
}

// NewAuthHandler creates an AuthHandler. oauthProviders may be nil or empty
// to disable OAuth routes.
func NewAuthHandler(
	userSvc userSvc,
	tokens *identity.UserTokenIssuer,
	oauthProviders map[string]OAuthProviderConfig,
	logger *zap.Logger,
) *AuthHandler {
	return &AuthHandler{
		users:       userSvc,
		tokens:      tokens,
		oauthCfgs:   buildOAuthConfigs(oauthProviders),
		frontendURL: "http://localhost:3000",
		logger:      logger,
	}
}

// SetFrontendURL sets the base URL used for OAuth callback redirects.
func (h *AuthHandler) SetFrontendURL(url string) {
	h.frontendURL = strings.TrimRight(url, "/")
}

func buildOAuthConfigs(providers map[string]OAuthProviderConfig) map[string]*oauth2.Config {
	cfgs := make(map[string]*oauth2.Config)
	for name, p := range providers {
		if p.ClientID == "" || p.ClientSecret == "" {
			continue
		}
		var endpoint oauth2.Endpoint
		var scopes []string
		switch name {
		case "github":
			endpoint = github.Endpoint
			scopes = []string{"user:email"}
		case "google":
			endpoint = google.Endpoint
			scopes = []string{"openid", "email", "profile"}
		default:
			continue
		}
		cfgs[name] = &oauth2.Config{
			ClientID:     p.ClientID,
			ClientSecret: p.ClientSecret,
			RedirectURL:  p.RedirectURL,
			Scopes:       scopes,
			Endpoint:     endpoint,
		}
	}
	return cfgs
}

// Register mounts the auth routes. authed must carry identity.RequireUser.
func (h *AuthHandler) Register(public, authed *gin.RouterGroup) {
	auth := public.Group("/auth")
	{
		auth.POST("/signup", h.Signup)
		auth.POST("/login", h.Login)
		auth.POST("/verify-email", h.VerifyEmail)
		auth.GET("/oauth/:provider", h.OAuthRedirect)
		auth.GET("/oauth/:provider/callback", h.OAuthCallback)
	}

	me := authed.Group("/users/me")
	{
		me.GET("", h.Me)
		me.PATCH("", h.UpdateProfile)
		me.POST("/resend-verification", h.ResendVerification)
	}
}

type signupRequest struct {
	Email       string `json:"email"        binding:"required,email"`
	Password    string `json:"password"     binding:"required"`
	DisplayName string `json:"display_name"`
}

type loginRequest struct {
	Email    string `json:"email"    binding:"required"`
	Password string `json:"password" binding:"required"`
}

type verifyEmailRequest struct {
	Token string `json:"token" binding:"required"`
}

type updateProfileRequest struct {
	DisplayName string `json:"display_name" binding:"required"`
	Bio         string `json:"bio"`
}

// Signup handles POST /auth/signup.
func (h *AuthHandler) Signup(c *gin.Context) {
	var req signupRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	u, err := h.users.Signup(c.Request.Context(), req.Email, req.Password, req.DisplayName)
	if err != nil {
		if errors.Is(err, users.ErrDuplicateEmail) {
			c.JSON(http.StatusConflict, gin.H{"error": "email already registered"})
			return
		}
		h.logger.Error("signup", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "signup failed"})
		return
	}

	tok, err := h.tokens.Issue(u.ID.String(), u.Email, u.Username)
	if err != nil {
		h.logger.Error("issue token after signup", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "token issuance failed"})
		return
	}

	c.JSON(http.StatusCreated, gin.H{"user": u, "token": tok})
}

// Login handles POST /auth/login.
func (h *AuthHandler) Login(c *gin.Context) {
	var req loginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	u, err := h.users.Login(c.Request.Context(), req.Email, req.Password)
	if err != nil {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid credentials"})
		return
	}

	tok, err := h.tokens.Issue(u.ID.String(), u.Email, u.Username)
	if err != nil {
		h.logger.Error("issue token after login", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "token issuance failed"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"user": u, "token": tok})
}

// VerifyEmail handles POST /auth/verify-email. Accepts the token from the
// JSON body or the query string.
func (h *AuthHandler) VerifyEmail(c *gin.Context) {
	token := c.Query("token")
	if token == "" {
		var req verifyEmailRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "token is required"})
			return
		}
		token = req.Token
	}

	u, err := h.users.VerifyEmail(c.Request.Context(), token)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "email verified", "user": u})
}

// Me handles GET /users/me.
func (h *AuthHandler) Me(c *gin.Context) {
	uid, ok := requestUserID(c)
	if !ok {
		return
	}
	u, err := h.users.GetByID(c.Request.Context(), uid)
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "user not found"})
		return
	}
	c.JSON(http.StatusOK, u)
}

// UpdateProfile handles PATCH /users/me.
func (h *AuthHandler) UpdateProfile(c *gin.Context) {
	uid, ok := requestUserID(c)
	if !ok {
		return
	}
	var req updateProfileRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if err := h.users.UpdateProfile(c.Request.Context(), uid, req.DisplayName, req.Bio); err != nil {
		if errors.Is(err, users.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "user not found"})
			return
		}
		h.logger.Error("update profile", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "update failed"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "profile updated"})
}

// ResendVerification handles POST /users/me/resend-verification.
func (h *AuthHandler) ResendVerification(c *gin.Context) {
	uid, ok := requestUserID(c)
	if !ok {
		return
	}
	if err := h.users.ResendVerification(c.Request.Context(), uid); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "verification email sent"})
}

// OAuthRedirect handles GET /auth/oauth/:provider.
func (h *AuthHandler) OAuthRedirect(c *gin.Context) {
	provider := c.Param("provider")
	cfg, ok := h.oauthCfgs[provider]
	if !ok {
		c.JSON(http.StatusUnprocessableEntity, gin.H{"error": fmt.Sprintf("OAuth provider %q not configured", provider)})
		return
	}

	state, err := h.tokens.IssueOAuthState(provider)
	if err != nil {
		h.logger.Error("generate oauth state", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to generate OAuth state"})
		return
	}
	c.Redirect(http.StatusFound, cfg.AuthCodeURL(state, oauth2.AccessTypeOnline))
}

// OAuthCallback handles GET /auth/oauth/:provider/callback.
func (h *AuthHandler) OAuthCallback(c *gin.Context) {
	provider := c.Param("provider")
	cfg, ok := h.oauthCfgs[provider]
	if !ok {
		c.JSON(http.StatusUnprocessableEntity, gin.H{"error": fmt.Sprintf("OAuth provider %q not configured", provider)})
		return
	}

	// State check prevents CSRF on the callback.
	gotProvider, err := h.tokens.VerifyOAuthState(c.Query("state"))
	if err != nil || gotProvider != provider {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid OAuth state"})
		return
	}

	code := c.Query("code")
	if code == "" {
		errMsg := c.Query("error_description")
		if errMsg == "" {
			errMsg = c.Query("error")
		}
		c.JSON(http.StatusBadRequest, gin.H{"error": "OAuth authorization failed: " + errMsg})
		return
	}

	oauthToken, err := cfg.Exchange(c.Request.Context(), code)
	if err != nil {
		h.logger.Error("oauth code exchange", zap.String("provider", provider), zap.Error(err))
		c.JSON(http.StatusBadRequest, gin.H{"error": "OAuth code exchange failed"})
		return
	}

	providerID, emailAddr, displayName, err := fetchOAuthUserInfo(c.Request.Context(), provider, oauthToken.AccessToken)
	if err != nil {
		h.logger.Error("fetch oauth user info", zap.String("provider", provider), zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to fetch user info from provider"})
		return
	}

	u, _, err := h.users.GetOrCreateFromOAuth(c.Request.Context(), provider, providerID, emailAddr, displayName)
	if err != nil {
		h.logger.Error("get or create oauth user", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to process OAuth login"})
		return
	}

	tok, err := h.tokens.Issue(u.ID.String(), u.Email, u.Username)
	if err != nil {
		h.logger.Error("issue token after oauth", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "token issuance failed"})
		return
	}

	// Token rides in the URL fragment so it never reaches the frontend server.
	c.Redirect(http.StatusFound, h.frontendURL+"/oauth/callback#token="+tok)
}

// requestUserID extracts and parses the authenticated user ID, writing the
// error response itself when the claims are missing or malformed.
func requestUserID(c *gin.Context) (uuid.UUID, bool) {
	claims, ok := identity.UserFromCtx(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "authentication required"})
		return uuid.Nil, false
	}
	uid, err := uuid.Parse(claims.UserID)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid user ID in token"})
		return uuid.Nil, false
	}
	return uid, true
}

// fetchOAuthUserInfo calls the provider's user-info API and returns
// (providerID, email, displayName).
func fetchOAuthUserInfo(ctx context.Context, provider, accessToken string) (string, string, string, error) {
	switch provider {
	case "github":
		return fetchGitHubUserInfo(ctx, accessToken)
	case "google":
		return fetchGoogleUserInfo(ctx, accessToken)
	default:
		return "", "", "", fmt.Errorf("unsupported provider: %s", provider)
	}
}

func fetchGitHubUserInfo(ctx context.Context, accessToken string) (id, email, name string, err error) {
	body, err := oauthAPIGet(ctx, "https://api.github.com/user", accessToken)
	if err != nil {
		return "", "", "", err
	}

	var info struct {
		ID    int    `json:"id"`
		Login string `json:"login"`
		Name  string `json:"name"`
		Email string `json:"email"`
	}
	if err := json.Unmarshal(body, &info); err != nil {
		return "", "", "", fmt.Errorf("parse github user info: %w", err)
	}

	// GitHub may hide the public email; fall back to /user/emails.
	if info.Email == "" {
		info.Email, _ = fetchGitHubPrimaryEmail(ctx, accessToken)
	}

	displayName := info.Name
	if displayName == "" {
		displayName = info.Login
	}
	return fmt.Sprintf("%d", info.ID), info.Email, displayName, nil
}

func fetchGitHubPrimaryEmail(ctx context.Context, accessToken string) (string, error) {
	body, err := oauthAPIGet(ctx, "https://api.github.com/user/emails", accessToken)
	if err != nil {
		return "", err
	}
	var emails []struct {
		Email   string `json:"email"`
		Primary bool   `json:"primary"`
	}
	if err := json.Unmarshal(body, &emails); err != nil {
		return "", err
	}
	for _, e := range emails {
		if e.Primary {
			return e.Email, nil
		}
	}
	if len(emails) > 0 {
		return emails[0].Email, nil
	}
	return "", nil
}

func fetchGoogleUserInfo(ctx context.Context, accessToken string) (id, email, name string, err error) {
	body, err := oauthAPIGet(ctx, "https://www.googleapis.com/oauth2/v2/userinfo", accessToken)
	if err != nil {
		return "", "", "", err
	}
	var info struct {
		ID    string `json:"id"`
		Email string `json:"email"`
		Name  string `json:"name"`
	}
	if err := json.Unmarshal(body, &info); err != nil {
		return "", "", "", fmt.Errorf("parse google user info: %w", err)
	}
	return info.ID, info.Email, info.Name, nil
}

func oauthAPIGet(ctx context.Context, url, accessToken string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+accessToken)
	req.Header.Set("Accept", "application/json")
	// GitHub rejects requests without a User-Agent.
	if strings.Contains(url, "github.com") {
		req.Header.Set("User-Agent", "daygoal/1.0")
	}

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("api get %s: %w", url, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<16))
	if err != nil {
		return nil, fmt.Errorf("read response body: %w", err)
	}
	if resp.StatusCode >= 400 {
		return nil, fmt.Errorf("api returned %d: %s", resp.StatusCode, body)
	}
	return body, nil
}
