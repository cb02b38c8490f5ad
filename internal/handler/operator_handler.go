package handler

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/stemsi/exstem-proctor/internal/model"
	"github.com/stemsi/exstem-proctor/internal/response"
	"github.com/stemsi/exstem-proctor/internal/service"
	"github.com/stemsi/exstem-proctor/internal/validator"
)

// OperatorHandler handles batch administration and per-attempt interventions.
type OperatorHandler struct {
	batches  *service.BatchService
	attempts *service.AttemptService
	events   *service.EventService
}

// NewOperatorHandler creates a new OperatorHandler.
func NewOperatorHandler(
	batches *service.BatchService,
	attempts *service.AttemptService,
	events *service.EventService,
) *OperatorHandler {
	return &OperatorHandler{batches: batches, attempts: attempts, events: events}
}

// CreateBatch godoc
// POST /api/v1/admin/batches
func (h *OperatorHandler) CreateBatch(c *gin.Context) {
	claims, ok := requireClaims(c)
	if !ok {
		return
	}

	var req model.CreateBatchRequest
	if fields := validator.Bind(c, &req); fields != nil {
		response.FailWithFields(c, http.StatusBadRequest, response.ErrValidation, fields)
		return
	}

	b, err := h.batches.Create(c.Request.Context(), req, claims.ActorID())
	if err != nil {
		response.FailError(c, err)
		return
	}
	response.Success(c, http.StatusCreated, gin.H{"batch": b})
}

// GetBatch godoc
// GET /api/v1/admin/batches/:id
func (h *OperatorHandler) GetBatch(c *gin.Context) {
	id, ok := parseID(c, "id")
	if !ok {
		return
	}

	b, err := h.batches.Get(c.Request.Context(), id)
	if err != nil {
		response.FailError(c, err)
		return
	}
	response.Success(c, http.StatusOK, gin.H{"batch": b})
}

// FreezeBatch godoc
// POST /api/v1/admin/batches/:id/freeze
func (h *OperatorHandler) FreezeBatch(c *gin.Context) {
	h.batchControl(c, h.batches.Freeze)
}

// ResumeBatch godoc
// POST /api/v1/admin/batches/:id/resume
func (h *OperatorHandler) ResumeBatch(c *gin.Context) {
	h.batchControl(c, h.batches.Resume)
}

// FinishBatch godoc
// POST /api/v1/admin/batches/:id/finish
func (h *OperatorHandler) FinishBatch(c *gin.Context) {
	h.batchControl(c, h.batches.Finish)
}

type batchOp func(ctx context.Context, batchID uuid.UUID, operatorID string) (*service.CascadeResult, error)

func (h *OperatorHandler) batchControl(c *gin.Context, op batchOp) {
	claims, ok := requireClaims(c)
	if !ok {
		return
	}
	id, ok := parseID(c, "id")
	if !ok {
		return
	}

	res, err := op(c.Request.Context(), id, claims.ActorID())
	if err != nil {
		response.FailError(c, err)
		return
	}
	response.Success(c, http.StatusOK, gin.H{"batch": res.Batch, "affected": res.Affected})
}

// EventLog godoc
// GET /api/v1/admin/batches/:id/events?actor_id=
func (h *OperatorHandler) EventLog(c *gin.Context) {
	id, ok := parseID(c, "id")
	if !ok {
		return
	}
	if _, err := h.batches.Get(c.Request.Context(), id); err != nil {
		response.FailError(c, err)
		return
	}

	var actorID *string
	if v := c.Query("actor_id"); v != "" {
		actorID = &v
	}

	events, err := h.events.EventLog(c.Request.Context(), id, actorID)
	if err != nil {
		response.FailError(c, err)
		return
	}
	response.Success(c, http.StatusOK, gin.H{"events": events})
}

// PauseAttempt godoc
// POST /api/v1/admin/attempts/:id/pause
func (h *OperatorHandler) PauseAttempt(c *gin.Context) {
	h.attemptControl(c, h.attempts.Pause)
}

// ResumeAttempt godoc
// POST /api/v1/admin/attempts/:id/resume
func (h *OperatorHandler) ResumeAttempt(c *gin.Context) {
	h.attemptControl(c, h.attempts.ResumeAttempt)
}

// ForceSubmitAttempt godoc
// POST /api/v1/admin/attempts/:id/force-submit
func (h *OperatorHandler) ForceSubmitAttempt(c *gin.Context) {
	h.attemptControl(c, h.attempts.ForceSubmit)
}

// ResetAttempt godoc
// POST /api/v1/admin/attempts/:id/reset
func (h *OperatorHandler) ResetAttempt(c *gin.Context) {
	h.attemptControl(c, h.attempts.Reset)
}

type attemptOp func(ctx context.Context, attemptID uuid.UUID, operatorID string) (*model.Attempt, error)

func (h *OperatorHandler) attemptControl(c *gin.Context, op attemptOp) {
	claims, ok := requireClaims(c)
	if !ok {
		return
	}
	id, ok := parseID(c, "id")
	if !ok {
		return
	}

	a, err := op(c.Request.Context(), id, claims.ActorID())
	if err != nil {
		response.FailError(c, err)
		return
	}
	response.Success(c, http.StatusOK, gin.H{"attempt": a})
}
