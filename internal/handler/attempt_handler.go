package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/stemsi/exstem-proctor/internal/model"
	"github.com/stemsi/exstem-proctor/internal/response"
	"github.com/stemsi/exstem-proctor/internal/service"
	"github.com/stemsi/exstem-proctor/internal/validator"
)

// AttemptHandler handles student-facing attempt endpoints.
type AttemptHandler struct {
	attempts *service.AttemptService
	presence *service.PresenceService
	events   *service.EventService
}

// NewAttemptHandler creates a new AttemptHandler.
func NewAttemptHandler(
	attempts *service.AttemptService,
	presence *service.PresenceService,
	events *service.EventService,
) *AttemptHandler {
	return &AttemptHandler{attempts: attempts, presence: presence, events: events}
}

// StartAttempt godoc
// POST /api/v1/student/batches/:batch_id/attempts
func (h *AttemptHandler) StartAttempt(c *gin.Context) {
	claims, ok := requireClaims(c)
	if !ok {
		return
	}
	batchID, ok := parseID(c, "batch_id")
	if !ok {
		return
	}

	var req model.StartAttemptRequest
	if fields := validator.BindOptional(c, &req); fields != nil {
		response.FailWithFields(c, http.StatusBadRequest, response.ErrValidation, fields)
		return
	}

	state, err := h.attempts.Start(c.Request.Context(), batchID, claims.ActorID(), req.EntryToken)
	if err != nil {
		response.FailError(c, err)
		return
	}
	response.Success(c, http.StatusCreated, state)
}

// GetAttempt godoc
// GET /api/v1/student/attempts/:id
func (h *AttemptHandler) GetAttempt(c *gin.Context) {
	id, ok := h.ownedAttempt(c)
	if !ok {
		return
	}

	state, err := h.attempts.Get(c.Request.Context(), id)
	if err != nil {
		response.FailError(c, err)
		return
	}
	response.Success(c, http.StatusOK, state)
}

// SaveAnswer godoc
// PUT /api/v1/student/attempts/:id/answers
func (h *AttemptHandler) SaveAnswer(c *gin.Context) {
	id, ok := h.ownedAttempt(c)
	if !ok {
		return
	}

	var req model.SaveAnswerRequest
	if fields := validator.Bind(c, &req); fields != nil {
		response.FailWithFields(c, http.StatusBadRequest, response.ErrValidation, fields)
		return
	}

	a, err := h.attempts.SaveAnswer(c.Request.Context(), id, req.AnswerInput, req.QuestionIndex)
	if err != nil {
		response.FailError(c, err)
		return
	}
	response.Success(c, http.StatusOK, gin.H{"attempt": a})
}

// SubmitAttempt godoc
// POST /api/v1/student/attempts/:id/submit
func (h *AttemptHandler) SubmitAttempt(c *gin.Context) {
	id, ok := h.ownedAttempt(c)
	if !ok {
		return
	}

	var req model.SubmitAttemptRequest
	if fields := validator.BindOptional(c, &req); fields != nil {
		response.FailWithFields(c, http.StatusBadRequest, response.ErrValidation, fields)
		return
	}

	a, err := h.attempts.Submit(c.Request.Context(), id, req.Answers)
	if err != nil {
		response.FailError(c, err)
		return
	}
	response.Success(c, http.StatusOK, gin.H{"attempt": a})
}

// GetRemainingTime godoc
// GET /api/v1/student/attempts/:id/time
func (h *AttemptHandler) GetRemainingTime(c *gin.Context) {
	id, ok := h.ownedAttempt(c)
	if !ok {
		return
	}

	rt, err := h.attempts.RemainingTime(c.Request.Context(), id)
	if err != nil {
		response.FailError(c, err)
		return
	}
	response.Success(c, http.StatusOK, rt)
}

// Ping godoc
// POST /api/v1/student/attempts/:id/ping
// Heartbeats are advisory: the response is 204 whatever the attempt state.
func (h *AttemptHandler) Ping(c *gin.Context) {
	id, ok := parseID(c, "id")
	if !ok {
		return
	}

	// A body that does not bind still counts as a heartbeat.
	var req model.PingRequest
	_ = validator.BindOptional(c, &req)

	h.presence.Ping(c.Request.Context(), id, req.QuestionIndex)
	c.Status(http.StatusNoContent)
}

// LogEvent godoc
// POST /api/v1/student/attempts/:id/events
// Logging is best-effort: any body is accepted with 202, and an event
// posted against another actor's attempt is logged as a forgery instead.
func (h *AttemptHandler) LogEvent(c *gin.Context) {
	claims, ok := requireClaims(c)
	if !ok {
		return
	}
	id, ok := parseID(c, "id")
	if !ok {
		return
	}

	var req model.LogEventRequest
	_ = validator.BindOptional(c, &req)

	h.events.Record(c.Request.Context(), id, claims.ActorID(), req.Kind, req.Detail)
	response.Accepted(c, gin.H{"status": "queued"})
}

// ownedAttempt parses :id and checks that the attempt belongs to the caller.
func (h *AttemptHandler) ownedAttempt(c *gin.Context) (uuid.UUID, bool) {
	claims, ok := requireClaims(c)
	if !ok {
		return uuid.Nil, false
	}
	id, ok := parseID(c, "id")
	if !ok {
		return uuid.Nil, false
	}
	if err := h.attempts.VerifyOwner(c.Request.Context(), id, claims.ActorID()); err != nil {
		response.FailError(c, err)
		return uuid.Nil, false
	}
	return id, true
}
