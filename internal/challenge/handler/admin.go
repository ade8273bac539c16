package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/daygoal/daygoal/internal/audit"
	"github.com/daygoal/daygoal/internal/challenge/service"
)

// AdminHandler serves the operator-only routes: audit inspection and a
// manual scheduler kick. All routes require an admin token.
type AdminHandler struct {
	auditLog  audit.Log
	scheduler *service.StatusScheduler
	logger    *zap.Logger
}

// NewAdminHandler creates an AdminHandler.
func NewAdminHandler(auditLog audit.Log, scheduler *service.StatusScheduler, logger *zap.Logger) *AdminHandler {
	return &AdminHandler{auditLog: auditLog, scheduler: scheduler, logger: logger}
}

// Register mounts the admin routes on a group already guarded by
// identity.RequireAdmin.
func (h *AdminHandler) Register(admin *gin.RouterGroup) {
	admin.GET("/admin/audit/*subject", h.ListAudit)
	admin.POST("/admin/scheduler/advance", h.Advance)
}

// ListAudit handles GET /admin/audit/*subject — newest-first audit entries
// for a subject such as participation/<id>.
func (h *AdminHandler) ListAudit(c *gin.Context) {
	subject := c.Param("subject")
	if len(subject) > 0 && subject[0] == '/' {
		subject = subject[1:]
	}
	if subject == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "subject is required"})
		return
	}
	limit, offset := pagination(c)

	entries, err := h.auditLog.List(c.Request.Context(), subject, limit, offset)
	if err != nil {
		h.logger.Error("list audit entries", zap.String("subject", subject), zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal server error"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"entries": entries, "count": len(entries)})
}

// Advance handles POST /admin/scheduler/advance — runs both scheduler
// batches immediately instead of waiting for the daily timers.
func (h *AdminHandler) Advance(c *gin.Context) {
	started, err := h.scheduler.StartDue(c.Request.Context())
	if err != nil {
		h.logger.Error("manual start batch", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal server error"})
		return
	}
	finished, err := h.scheduler.FinishDue(c.Request.Context())
	if err != nil {
		h.logger.Error("manual finish batch", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal server error"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"started": started, "finished": finished})
}
