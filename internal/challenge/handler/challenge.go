package handler

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/daygoal/daygoal/internal/challenge/model"
	"github.com/daygoal/daygoal/internal/challenge/service"
)

// ChallengeHandler serves challenge CRUD routes.
type ChallengeHandler struct {
	challenges *service.ChallengeService
	logger     *zap.Logger
}

// NewChallengeHandler creates a ChallengeHandler.
func NewChallengeHandler(challenges *service.ChallengeService, logger *zap.Logger) *ChallengeHandler {
	return &ChallengeHandler{challenges: challenges, logger: logger}
}

// Register mounts the challenge routes. authed must carry identity.RequireUser.
func (h *ChallengeHandler) Register(public, authed *gin.RouterGroup) {
	public.GET("/challenges", h.List)
	public.GET("/challenges/:id", h.Get)
	authed.POST("/challenges", h.Create)
	authed.DELETE("/challenges/:id", h.Delete)
}

// Create handles POST /challenges.
func (h *ChallengeHandler) Create(c *gin.Context) {
	uid, ok := requestUserID(c)
	if !ok {
		return
	}

	var req model.CreateChallengeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	ch, err := h.challenges.Create(c.Request.Context(), uid, &req)
	if err != nil {
		if errors.Is(err, service.ErrInvalidDates) || errors.Is(err, service.ErrInvalidCategory) {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		h.logger.Error("create challenge", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "create challenge failed"})
		return
	}
	c.JSON(http.StatusCreated, ch)
}

// Get handles GET /challenges/:id.
func (h *ChallengeHandler) Get(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid challenge ID"})
		return
	}

	ch, err := h.challenges.Get(c.Request.Context(), id)
	if err != nil {
		if model.IsNotFound(err) {
			c.JSON(http.StatusNotFound, gin.H{"error": "challenge not found"})
			return
		}
		h.logger.Error("get challenge", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "get challenge failed"})
		return
	}
	c.JSON(http.StatusOK, ch)
}

// List handles GET /challenges?status=&category=&limit=&offset=.
func (h *ChallengeHandler) List(c *gin.Context) {
	status := model.ChallengeStatus(c.Query("status"))
	category := model.Category(c.Query("category"))
	limit, offset := pagination(c)

	list, err := h.challenges.List(c.Request.Context(), status, category, limit, offset)
	if err != nil {
		h.logger.Error("list challenges", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "list challenges failed"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"challenges": list, "count": len(list)})
}

// Delete handles DELETE /challenges/:id — leader-only soft delete.
func (h *ChallengeHandler) Delete(c *gin.Context) {
	uid, ok := requestUserID(c)
	if !ok {
		return
	}
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid challenge ID"})
		return
	}

	if err := h.challenges.Delete(c.Request.Context(), uid, id); err != nil {
		writeDomainError(c, h.logger, "delete challenge", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "challenge deleted"})
}

// pagination parses limit and offset query params with sane bounds.
func pagination(c *gin.Context) (limit, offset int) {
	limit, _ = strconv.Atoi(c.DefaultQuery("limit", "50"))
	if limit < 1 || limit > 200 {
		limit = 50
	}
	offset, _ = strconv.Atoi(c.DefaultQuery("offset", "0"))
	if offset < 0 {
		offset = 0
	}
	return limit, offset
}

// writeDomainError maps service errors to HTTP responses by kind:
// not-found 404, conflict 409, forbidden 403, invalid-state 422.
func writeDomainError(c *gin.Context, logger *zap.Logger, op string, err error) {
	switch {
	case model.IsNotFound(err):
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
	case model.IsConflict(err):
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
	case model.IsForbidden(err):
		c.JSON(http.StatusForbidden, gin.H{"error": err.Error()})
	case model.IsInvalidState(err):
		c.JSON(http.StatusUnprocessableEntity, gin.H{"error": err.Error()})
	default:
		logger.Error(op, zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": op + " failed"})
	}
}
