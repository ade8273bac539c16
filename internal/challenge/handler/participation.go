package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/daygoal/daygoal/internal/challenge/model"
	"github.com/daygoal/daygoal/internal/challenge/service"
)

// ParticipationHandler serves the participation lifecycle routes: join,
// confirm, leave, cancel, and the roster reads.
type ParticipationHandler struct {
	participations *service.ParticipationService
	logger         *zap.Logger
}

// NewParticipationHandler creates a ParticipationHandler.
func NewParticipationHandler(participations *service.ParticipationService, logger *zap.Logger) *ParticipationHandler {
	return &ParticipationHandler{participations: participations, logger: logger}
}

// Register mounts the participation routes. All of them require a session.
func (h *ParticipationHandler) Register(authed *gin.RouterGroup) {
	authed.POST("/challenges/:id/join", h.Join)
	authed.POST("/challenges/:id/leave", h.Leave)
	authed.GET("/challenges/:id/participants", h.ListParticipants)
	authed.PATCH("/participations/:id", h.Confirm)
	authed.DELETE("/participations/:id", h.Cancel)
	authed.GET("/users/me/participations", h.ListMine)
}

// Join handles POST /challenges/:id/join — files a pending join request.
func (h *ParticipationHandler) Join(c *gin.Context) {
	uid, ok := requestUserID(c)
	if !ok {
		return
	}
	challengeID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid challenge ID"})
		return
	}

	detail, err := h.participations.Join(c.Request.Context(), uid, challengeID)
	if err != nil {
		writeDomainError(c, h.logger, "join challenge", err)
		return
	}
	joinsTotal.Inc()
	c.JSON(http.StatusCreated, detail)
}

// Confirm handles PATCH /participations/:id — the leader accepts or rejects
// a pending request.
func (h *ParticipationHandler) Confirm(c *gin.Context) {
	uid, ok := requestUserID(c)
	if !ok {
		return
	}
	participationID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid participation ID"})
		return
	}

	var req model.ConfirmRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	detail, err := h.participations.Confirm(c.Request.Context(), uid, participationID, req.Status)
	if err != nil {
		writeDomainError(c, h.logger, "confirm participation", err)
		return
	}
	confirmationsTotal.WithLabelValues(string(req.Status)).Inc()
	c.JSON(http.StatusOK, detail)
}

// Leave handles POST /challenges/:id/leave — an accepted member withdraws.
func (h *ParticipationHandler) Leave(c *gin.Context) {
	uid, ok := requestUserID(c)
	if !ok {
		return
	}
	challengeID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid challenge ID"})
		return
	}

	if err := h.participations.Leave(c.Request.Context(), uid, challengeID); err != nil {
		writeDomainError(c, h.logger, "leave challenge", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "left challenge"})
}

// Cancel handles DELETE /participations/:id — the requester withdraws a
// still-pending join request.
func (h *ParticipationHandler) Cancel(c *gin.Context) {
	uid, ok := requestUserID(c)
	if !ok {
		return
	}
	participationID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid participation ID"})
		return
	}

	if err := h.participations.Cancel(c.Request.Context(), uid, participationID); err != nil {
		writeDomainError(c, h.logger, "cancel join request", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "join request cancelled"})
}

// ListMine handles GET /users/me/participations?status=&limit=&offset=.
func (h *ParticipationHandler) ListMine(c *gin.Context) {
	uid, ok := requestUserID(c)
	if !ok {
		return
	}
	status := model.ParticipationStatus(c.DefaultQuery("status", string(model.ParticipationAccepted)))
	limit, offset := pagination(c)

	list, err := h.participations.ListMine(c.Request.Context(), uid, status, limit, offset)
	if err != nil {
		writeDomainError(c, h.logger, "list my participations", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"participations": list, "count": len(list)})
}

// ListParticipants handles GET /challenges/:id/participants?status=.
// Leaders see any status; accepted members only the accepted roster.
func (h *ParticipationHandler) ListParticipants(c *gin.Context) {
	uid, ok := requestUserID(c)
	if !ok {
		return
	}
	challengeID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid challenge ID"})
		return
	}
	status := model.ParticipationStatus(c.DefaultQuery("status", string(model.ParticipationAccepted)))
	limit, offset := pagination(c)

	list, err := h.participations.ListParticipants(c.Request.Context(), uid, challengeID, status, limit, offset)
	if err != nil {
		writeDomainError(c, h.logger, "list participants", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"participants": list, "count": len(list)})
}
