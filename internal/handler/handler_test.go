package handler_test

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stemsi/exstem-proctor/internal/app"
	"github.com/stemsi/exstem-proctor/internal/config"
	"github.com/stemsi/exstem-proctor/internal/model"
	"github.com/stemsi/exstem-proctor/internal/response"
	"github.com/stemsi/exstem-proctor/internal/validator"
)

type envelope struct {
	Data  json.RawMessage     `json:"data"`
	Error *response.ErrorBody `json:"error"`
}

type testServer struct {
	t     *testing.T
	app   *app.App
	admin string
	op    string
}

func testQuiz() model.Quiz {
	return model.Quiz{
		ID: "quiz-1",
		Questions: []model.Question{
			{ID: "q1", Type: model.QuestionTypeMCQ, Points: 2, Options: []model.QuestionOption{{ID: "a", IsCorrect: true}, {ID: "b"}}},
			{ID: "q2", Type: model.QuestionTypeTrueFalse, Points: 1, Options: []model.QuestionOption{{ID: "t"}, {ID: "f", IsCorrect: true}}},
		},
	}
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	gin.SetMode(gin.TestMode)
	validator.Setup()

	cfg := &config.Config{
		GinMode:               gin.TestMode,
		JWTSecret:             "handler-test-secret",
		JWTExpiry:             time.Hour,
		CascadeConcurrency:    4,
		OnlineWindow:          20 * time.Second,
		RosterRefreshInterval: 50 * time.Millisecond,
	}
	stores := app.MemoryStores([]model.Quiz{testQuiz()}, map[string]string{"s1": "Budi", "s2": "Ani"})
	s := &testServer{t: t, app: app.New(cfg, stores, zerolog.Nop())}
	s.admin = s.token("admin-1", model.RoleAdmin)
	s.op = s.token("op-1", model.RoleOperator)
	return s
}

func (s *testServer) token(actor string, role model.Role) string {
	s.t.Helper()
	tok, err := s.app.Auth.IssueToken(actor, role, nil)
	require.NoError(s.t, err)
	return tok
}

func (s *testServer) do(method, path, token string, body any) (*httptest.ResponseRecorder, envelope) {
	s.t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(s.t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	w := httptest.NewRecorder()
	s.app.Router.ServeHTTP(w, req)

	var env envelope
	if w.Body.Len() > 0 {
		require.NoError(s.t, json.Unmarshal(w.Body.Bytes(), &env), w.Body.String())
	}
	return w, env
}

func (s *testServer) createBatch(mutate ...func(*model.CreateBatchRequest)) *model.Batch {
	s.t.Helper()
	now := time.Now().UTC()
	req := model.CreateBatchRequest{
		QuizID:          "quiz-1",
		Name:            "Ujian Harian",
		StartTime:       now.Add(-time.Minute),
		EndTime:         now.Add(2 * time.Hour),
		DurationMinutes: 45,
	}
	for _, m := range mutate {
		m(&req)
	}
	w, env := s.do(http.MethodPost, "/api/v1/admin/batches", s.admin, req)
	require.Equal(s.t, http.StatusCreated, w.Code, w.Body.String())

	var out struct {
		Batch model.Batch `json:"batch"`
	}
	require.NoError(s.t, json.Unmarshal(env.Data, &out))
	return &out.Batch
}

func (s *testServer) startAttempt(batchID uuid.UUID, token string) *model.Attempt {
	s.t.Helper()
	w, env := s.do(http.MethodPost, "/api/v1/student/batches/"+batchID.String()+"/attempts", token, nil)
	require.Equal(s.t, http.StatusCreated, w.Code, w.Body.String())

	var state model.AttemptState
	require.NoError(s.t, json.Unmarshal(env.Data, &state))
	return state.Attempt
}

func (s *testServer) eventLog(batchID uuid.UUID, actorID string) []model.SecurityEvent {
	s.t.Helper()
	w, env := s.do(http.MethodGet, "/api/v1/admin/batches/"+batchID.String()+"/events?actor_id="+actorID, s.op, nil)
	require.Equal(s.t, http.StatusOK, w.Code, w.Body.String())

	var out struct {
		Events []model.SecurityEvent `json:"events"`
	}
	require.NoError(s.t, json.Unmarshal(env.Data, &out))
	return out.Events
}

func decodeAttempt(t *testing.T, env envelope) model.Attempt {
	t.Helper()
	var out struct {
		Attempt model.Attempt `json:"attempt"`
	}
	require.NoError(t, json.Unmarshal(env.Data, &out))
	return out.Attempt
}

func TestStudentAttemptFlow(t *testing.T) {
	s := newTestServer(t)
	b := s.createBatch()
	student := s.token("s1", model.RoleStudent)

	a := s.startAttempt(b.ID, student)
	base := "/api/v1/student/attempts/" + a.ID.String()

	w, env := s.do(http.MethodPost, "/api/v1/student/batches/"+b.ID.String()+"/attempts", student, nil)
	assert.Equal(t, http.StatusConflict, w.Code)
	assert.Equal(t, response.ErrAlreadyActiveAttempt, env.Error.Code)

	opt := "a"
	w, _ = s.do(http.MethodPut, base+"/answers", student, model.SaveAnswerRequest{
		AnswerInput:   model.AnswerInput{QuestionID: "q1", SelectedOptionID: &opt},
		QuestionIndex: 1,
	})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	w, env = s.do(http.MethodGet, base+"/time", student, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "no-store", w.Header().Get("Cache-Control"))
	var rt model.RemainingTime
	require.NoError(t, json.Unmarshal(env.Data, &rt))
	assert.InDelta(t, 45*60, rt.RemainingSeconds, 5)

	w, _ = s.do(http.MethodPost, base+"/ping", student, model.PingRequest{QuestionIndex: 1})
	assert.Equal(t, http.StatusNoContent, w.Code)

	w, _ = s.do(http.MethodPost, base+"/events", student, model.LogEventRequest{Kind: "FOCUS_LOST", Detail: "tab"})
	assert.Equal(t, http.StatusAccepted, w.Code)

	f := "f"
	w, env = s.do(http.MethodPost, base+"/submit", student, model.SubmitAttemptRequest{
		Answers: []model.AnswerInput{{QuestionID: "q2", SelectedOptionID: &f}},
	})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	submitted := decodeAttempt(t, env)
	assert.Equal(t, model.AttemptStatusSubmitted, submitted.Status)
	require.NotNil(t, submitted.Score)
	assert.Equal(t, 3.0, *submitted.Score)

	w, env = s.do(http.MethodPost, base+"/submit", student, nil)
	assert.Equal(t, http.StatusUnprocessableEntity, w.Code)
	assert.Equal(t, response.ErrAttemptNotSubmittable, env.Error.Code)

	w, env = s.do(http.MethodPost, "/api/v1/student/batches/"+b.ID.String()+"/attempts", student, nil)
	assert.Equal(t, http.StatusUnprocessableEntity, w.Code)
	assert.Equal(t, response.ErrAttemptCompleted, env.Error.Code)

	w, env = s.do(http.MethodGet, base, student, nil)
	require.Equal(t, http.StatusOK, w.Code)
	var state model.AttemptState
	require.NoError(t, json.Unmarshal(env.Data, &state))
	assert.Len(t, state.Answers, 2)
	assert.Equal(t, int64(0), state.RemainingSeconds)
}

func TestStudentRoutesCheckOwnership(t *testing.T) {
	s := newTestServer(t)
	b := s.createBatch()
	a := s.startAttempt(b.ID, s.token("s1", model.RoleStudent))

	other := s.token("s2", model.RoleStudent)
	w, env := s.do(http.MethodGet, "/api/v1/student/attempts/"+a.ID.String(), other, nil)
	assert.Equal(t, http.StatusForbidden, w.Code)
	assert.Equal(t, response.ErrNotAttemptOwner, env.Error.Code)

	// Heartbeats stay advisory even for a foreign attempt.
	w, _ = s.do(http.MethodPost, "/api/v1/student/attempts/"+a.ID.String()+"/ping", other, nil)
	assert.Equal(t, http.StatusNoContent, w.Code)

	w, env = s.do(http.MethodGet, "/api/v1/student/attempts/"+uuid.NewString(), other, nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Equal(t, response.ErrAttemptNotFound, env.Error.Code)

	w, env = s.do(http.MethodGet, "/api/v1/student/attempts/not-a-uuid", other, nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, response.ErrInvalidID, env.Error.Code)
}

func TestEventFlurryIsStoredInFull(t *testing.T) {
	s := newTestServer(t)
	b := s.createBatch()
	student := s.token("s1", model.RoleStudent)
	a := s.startAttempt(b.ID, student)

	for i := range 130 {
		w, _ := s.do(http.MethodPost, "/api/v1/student/attempts/"+a.ID.String()+"/events", student,
			model.LogEventRequest{Kind: "FOCUS_LOST"})
		require.Equal(t, http.StatusAccepted, w.Code, "event %d", i)
	}

	// ATTEMPT_STARTED plus all 130.
	assert.Len(t, s.eventLog(b.ID, "s1"), 131)
}

func TestAdvisoryEndpointsAcceptAnyBody(t *testing.T) {
	s := newTestServer(t)
	b := s.createBatch()
	student := s.token("s1", model.RoleStudent)
	a := s.startAttempt(b.ID, student)
	base := "/api/v1/student/attempts/" + a.ID.String()

	longKind := strings.Repeat("K", 100)
	longDetail := strings.Repeat("d", 5000)
	bodies := []any{
		map[string]any{"detail": "no kind"},
		model.LogEventRequest{Kind: longKind, Detail: longDetail},
		"not an object",
		nil,
	}
	for _, body := range bodies {
		w, _ := s.do(http.MethodPost, base+"/events", student, body)
		assert.Equal(t, http.StatusAccepted, w.Code, w.Body.String())
	}

	events := s.eventLog(b.ID, "s1")
	require.Len(t, events, 1+len(bodies))
	assert.Equal(t, model.EventKind("UNSPECIFIED"), events[1].Kind)
	assert.Equal(t, "no kind", events[1].Detail)
	assert.Len(t, string(events[2].Kind), 64)
	assert.Len(t, events[2].Detail, 4096)

	w, _ := s.do(http.MethodPost, base+"/ping", student, map[string]any{"question_index": -1})
	assert.Equal(t, http.StatusNoContent, w.Code)
	sample, ok := s.app.Presence.Last(context.Background(), a.ID)
	require.True(t, ok)
	assert.Equal(t, 0, sample.QuestionIndex)

	w, _ = s.do(http.MethodPost, base+"/ping", student, "not an object")
	assert.Equal(t, http.StatusNoContent, w.Code)
}

func TestEventForForeignAttemptIsLoggedAsForgery(t *testing.T) {
	s := newTestServer(t)
	b := s.createBatch()
	a := s.startAttempt(b.ID, s.token("s1", model.RoleStudent))

	w, _ := s.do(http.MethodPost, "/api/v1/student/attempts/"+a.ID.String()+"/events", s.token("s2", model.RoleStudent),
		model.LogEventRequest{Kind: "PASTE_ATTEMPT", Detail: "framed"})
	assert.Equal(t, http.StatusAccepted, w.Code)

	owner := s.eventLog(b.ID, "s1")
	require.Len(t, owner, 1)
	assert.Equal(t, model.EventAttemptStarted, owner[0].Kind)

	caller := s.eventLog(b.ID, "s2")
	require.Len(t, caller, 1)
	assert.Equal(t, model.EventForgeryAttempt, caller[0].Kind)
	assert.Nil(t, caller[0].AttemptID)
}

func TestAuthAndPermissions(t *testing.T) {
	s := newTestServer(t)
	b := s.createBatch()
	batchPath := "/api/v1/admin/batches/" + b.ID.String()

	w, env := s.do(http.MethodGet, batchPath, "", nil)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
	assert.Equal(t, response.ErrTokenRequired, env.Error.Code)

	w, env = s.do(http.MethodGet, batchPath, "garbage", nil)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
	assert.Equal(t, response.ErrTokenInvalid, env.Error.Code)

	w, env = s.do(http.MethodGet, batchPath, s.token("s1", model.RoleStudent), nil)
	assert.Equal(t, http.StatusForbidden, w.Code)
	assert.Equal(t, response.ErrForbidden, env.Error.Code)

	w, _ = s.do(http.MethodGet, batchPath, s.op, nil)
	assert.Equal(t, http.StatusOK, w.Code)

	// Operators control batches but cannot schedule them.
	w, env = s.do(http.MethodPost, "/api/v1/admin/batches", s.op, model.CreateBatchRequest{})
	assert.Equal(t, http.StatusForbidden, w.Code)
	assert.Equal(t, response.ErrPermissionDenied, env.Error.Code)

	w, env = s.do(http.MethodGet, "/api/v1/student/attempts/"+uuid.NewString(), s.op, nil)
	assert.Equal(t, http.StatusForbidden, w.Code)
	assert.Equal(t, response.ErrForbidden, env.Error.Code)
}

func TestCreateBatchValidation(t *testing.T) {
	s := newTestServer(t)

	w, env := s.do(http.MethodPost, "/api/v1/admin/batches", s.admin, map[string]any{"name": "x"})
	assert.Equal(t, http.StatusBadRequest, w.Code)
	require.NotNil(t, env.Error)
	assert.Equal(t, response.ErrValidation, env.Error.Code)
	assert.Contains(t, env.Error.Fields, "quiz_id")
}

func TestOperatorFreezeResumeAndInterventions(t *testing.T) {
	s := newTestServer(t)
	b := s.createBatch()
	student := s.token("s1", model.RoleStudent)
	a := s.startAttempt(b.ID, student)
	batchPath := "/api/v1/admin/batches/" + b.ID.String()

	w, env := s.do(http.MethodPost, batchPath+"/freeze", s.op, nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	var res struct {
		Batch    model.Batch `json:"batch"`
		Affected int         `json:"affected"`
	}
	require.NoError(t, json.Unmarshal(env.Data, &res))
	assert.Equal(t, model.BatchStatusFrozen, res.Batch.Status)
	assert.Equal(t, 1, res.Affected)

	opt := "a"
	w, env = s.do(http.MethodPut, "/api/v1/student/attempts/"+a.ID.String()+"/answers", student, model.SaveAnswerRequest{
		AnswerInput: model.AnswerInput{QuestionID: "q1", SelectedOptionID: &opt},
	})
	assert.Equal(t, http.StatusUnprocessableEntity, w.Code)
	assert.Equal(t, response.ErrAttemptNotActive, env.Error.Code)

	w, env = s.do(http.MethodPost, "/api/v1/student/batches/"+b.ID.String()+"/attempts", s.token("s2", model.RoleStudent), nil)
	assert.Equal(t, http.StatusUnprocessableEntity, w.Code)
	assert.Equal(t, response.ErrBatchFrozen, env.Error.Code)

	w, _ = s.do(http.MethodPost, batchPath+"/resume", s.op, nil)
	require.Equal(t, http.StatusOK, w.Code)

	w, env = s.do(http.MethodPost, batchPath+"/resume", s.op, nil)
	assert.Equal(t, http.StatusUnprocessableEntity, w.Code)
	assert.Equal(t, response.ErrBatchNotFrozen, env.Error.Code)

	attemptPath := "/api/v1/admin/attempts/" + a.ID.String()
	w, env = s.do(http.MethodPost, attemptPath+"/pause", s.op, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, model.AttemptStatusPaused, decodeAttempt(t, env).Status)

	w, env = s.do(http.MethodPost, attemptPath+"/resume", s.op, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, model.AttemptStatusActive, decodeAttempt(t, env).Status)

	w, env = s.do(http.MethodPost, attemptPath+"/reset", s.op, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, model.AttemptStatusResetByAdmin, decodeAttempt(t, env).Status)

	w, env = s.do(http.MethodPost, attemptPath+"/reset", s.op, nil)
	assert.Equal(t, http.StatusUnprocessableEntity, w.Code)
	assert.Equal(t, response.ErrAttemptTerminal, env.Error.Code)

	// A reset frees the actor to start again.
	again := s.startAttempt(b.ID, student)
	w, env = s.do(http.MethodPost, "/api/v1/admin/attempts/"+again.ID.String()+"/force-submit", s.op, nil)
	require.Equal(t, http.StatusOK, w.Code)
	forced := decodeAttempt(t, env)
	assert.Equal(t, model.AttemptStatusSubmitted, forced.Status)
	require.NotNil(t, forced.Score)
	assert.Equal(t, 0.0, *forced.Score)

	w, env = s.do(http.MethodGet, batchPath+"/events?actor_id=op-1", s.op, nil)
	require.Equal(t, http.StatusOK, w.Code)
	var log struct {
		Events []model.SecurityEvent `json:"events"`
	}
	require.NoError(t, json.Unmarshal(env.Data, &log))
	require.NotEmpty(t, log.Events)
	assert.Equal(t, model.EventBatchFrozen, log.Events[0].Kind)
	for _, e := range log.Events {
		assert.Equal(t, "op-1", e.ActorID)
	}

	w, _ = s.do(http.MethodPost, batchPath+"/finish", s.op, nil)
	require.Equal(t, http.StatusOK, w.Code)
}

func TestHealth(t *testing.T) {
	s := newTestServer(t)
	w, env := s.do(http.MethodGet, "/health", "", nil)
	require.Equal(t, http.StatusOK, w.Code)

	var report map[string]any
	require.NoError(t, json.Unmarshal(env.Data, &report))
	assert.Equal(t, "ok", report["status"])
}
