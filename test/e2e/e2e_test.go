//go:build e2e

package e2e

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/joho/godotenv"

	"github.com/stemsi/exstem-proctor/internal/config"
	"github.com/stemsi/exstem-proctor/internal/model"
	"github.com/stemsi/exstem-proctor/internal/service"
)

const (
	defaultBaseURL = "http://localhost:8080/api/v1"
	quizID         = "e2e-quiz"
	studentID      = "e2e-student"
	studentName    = "E2E Student"
	operatorID     = "e2e-operator"
)

var (
	baseURL       string
	operatorToken string
	studentToken  string
	batchID       string
	attemptID     string
)

func TestMain(m *testing.M) {
	// Load .env if present (ignore error)
	_ = godotenv.Load("../../.env")

	baseURL = os.Getenv("BASE_URL")
	if baseURL == "" {
		baseURL = defaultBaseURL
	}

	// The server must run in postgres mode against the same database and secret.
	cfg := config.Load()
	if err := seedCollaborators(cfg.DatabaseURL); err != nil {
		fmt.Printf("Setup failed: %v\n", err)
		os.Exit(1)
	}

	auth := service.NewAuthService(cfg.JWTSecret, time.Hour)
	var err error
	if operatorToken, err = auth.IssueToken(operatorID, model.RoleOperator, model.DefaultPermissions(model.RoleOperator)); err != nil {
		fmt.Printf("Issue operator token: %v\n", err)
		os.Exit(1)
	}
	if studentToken, err = auth.IssueToken(studentID, model.RoleStudent, nil); err != nil {
		fmt.Printf("Issue student token: %v\n", err)
		os.Exit(1)
	}

	os.Exit(m.Run())
}

// seedCollaborators writes the quiz and user rows owned by other layers.
func seedCollaborators(dbURL string) error {
	ctx := context.Background()
	conn, err := pgx.Connect(ctx, dbURL)
	if err != nil {
		return fmt.Errorf("db connect: %w", err)
	}
	defer conn.Close(ctx)

	stmts := []struct {
		sql  string
		args []any
	}{
		{`INSERT INTO users (id, name) VALUES ($1, $2) ON CONFLICT (id) DO UPDATE SET name = EXCLUDED.name`, []any{studentID, studentName}},
		{`DELETE FROM quiz_questions WHERE quiz_id = $1`, []any{quizID}},
		{`INSERT INTO quiz_questions (id, quiz_id, question_type, points, order_num) VALUES
			('e2e-q1', $1, 'mcq', 2, 1), ('e2e-q2', $1, 'true_false', 1, 2)`, []any{quizID}},
		{`INSERT INTO question_options (id, question_id, is_correct, order_num) VALUES
			('e2e-q1-a', 'e2e-q1', TRUE, 1), ('e2e-q1-b', 'e2e-q1', FALSE, 2),
			('e2e-q2-t', 'e2e-q2', TRUE, 1), ('e2e-q2-f', 'e2e-q2', FALSE, 2)`, nil},
	}
	for _, s := range stmts {
		if _, err := conn.Exec(ctx, s.sql, s.args...); err != nil {
			return fmt.Errorf("seed: %w", err)
		}
	}
	return nil
}

func TestE2EFlow(t *testing.T) {
	// Step 1: Create Batch (Operator)
	t.Run("CreateBatch", func(t *testing.T) {
		now := time.Now().UTC()
		reqBody := model.CreateBatchRequest{
			QuizID:          quizID,
			Name:            "E2E Batch",
			StartTime:       now.Add(-time.Minute),
			EndTime:         now.Add(2 * time.Hour),
			DurationMinutes: 60,
		}
		var out struct {
			Batch model.Batch `json:"batch"`
		}
		expect(t, http.MethodPost, "/admin/batches", operatorToken, reqBody, http.StatusCreated, &out)
		batchID = out.Batch.ID.String()
		t.Logf("Batch %s created", batchID)
	})

	// Step 2: Start Attempt (Student)
	t.Run("StartAttempt", func(t *testing.T) {
		var state model.AttemptState
		expect(t, http.MethodPost, "/student/batches/"+batchID+"/attempts", studentToken, nil, http.StatusCreated, &state)
		attemptID = state.Attempt.ID.String()
		if state.RemainingSeconds <= 0 {
			t.Fatalf("expected remaining time, got %d", state.RemainingSeconds)
		}
	})

	// Step 2b: Duplicate Start (Expect 409)
	t.Run("StartDuplicateAttempt", func(t *testing.T) {
		expect(t, http.MethodPost, "/student/batches/"+batchID+"/attempts", studentToken, nil, http.StatusConflict, nil)
	})

	// Step 3: Autosave, heartbeat and a security event
	t.Run("SaveAnswer", func(t *testing.T) {
		opt := "e2e-q1-a"
		reqBody := model.SaveAnswerRequest{
			AnswerInput:   model.AnswerInput{QuestionID: "e2e-q1", SelectedOptionID: &opt},
			QuestionIndex: 1,
		}
		expect(t, http.MethodPut, "/student/attempts/"+attemptID+"/answers", studentToken, reqBody, http.StatusOK, nil)
		expect(t, http.MethodPost, "/student/attempts/"+attemptID+"/ping", studentToken, model.PingRequest{QuestionIndex: 1}, http.StatusNoContent, nil)
		expect(t, http.MethodPost, "/student/attempts/"+attemptID+"/events", studentToken,
			model.LogEventRequest{Kind: "FOCUS_LOST", Detail: "e2e"}, http.StatusAccepted, nil)
	})

	// Step 4: Freeze blocks answers, resume restores them
	t.Run("FreezeAndResume", func(t *testing.T) {
		expect(t, http.MethodPost, "/admin/batches/"+batchID+"/freeze", operatorToken, nil, http.StatusOK, nil)

		opt := "e2e-q2-t"
		reqBody := model.SaveAnswerRequest{AnswerInput: model.AnswerInput{QuestionID: "e2e-q2", SelectedOptionID: &opt}}
		expect(t, http.MethodPut, "/student/attempts/"+attemptID+"/answers", studentToken, reqBody, http.StatusUnprocessableEntity, nil)

		expect(t, http.MethodPost, "/admin/batches/"+batchID+"/resume", operatorToken, nil, http.StatusOK, nil)
		expect(t, http.MethodPut, "/student/attempts/"+attemptID+"/answers", studentToken, reqBody, http.StatusOK, nil)
	})

	// Step 5: Live roster shows the student online
	t.Run("LiveStatus", func(t *testing.T) {
		var snapshot struct {
			Attempts []model.LiveStatus `json:"attempts"`
		}
		expect(t, http.MethodGet, "/admin/batches/"+batchID+"/live", operatorToken, nil, http.StatusOK, &snapshot)
		if len(snapshot.Attempts) != 1 || snapshot.Attempts[0].DisplayName != studentName || !snapshot.Attempts[0].Online {
			t.Fatalf("unexpected roster: %+v", snapshot.Attempts)
		}
	})

	// Step 6: Submit and score
	t.Run("Submit", func(t *testing.T) {
		var out struct {
			Attempt model.Attempt `json:"attempt"`
		}
		expect(t, http.MethodPost, "/student/attempts/"+attemptID+"/submit", studentToken, model.SubmitAttemptRequest{}, http.StatusOK, &out)
		if out.Attempt.Score == nil || *out.Attempt.Score != 3 {
			t.Fatalf("expected score 3, got %v", out.Attempt.Score)
		}
	})

	// Step 7: Event log eventually holds the client event and the batch controls
	t.Run("EventLog", func(t *testing.T) {
		deadline := time.Now().Add(10 * time.Second)
		for {
			var out struct {
				Events []model.SecurityEvent `json:"events"`
			}
			expect(t, http.MethodGet, "/admin/batches/"+batchID+"/events", operatorToken, nil, http.StatusOK, &out)
			if len(out.Events) >= 3 {
				return
			}
			if time.Now().After(deadline) {
				t.Fatalf("expected at least 3 events, got %d", len(out.Events))
			}
			time.Sleep(500 * time.Millisecond)
		}
	})

	// Step 8: Finish the batch
	t.Run("FinishBatch", func(t *testing.T) {
		expect(t, http.MethodPost, "/admin/batches/"+batchID+"/finish", operatorToken, nil, http.StatusOK, nil)
	})
}

// ─── Helpers ───────────────────────────────────────────────────────────

func expect(t *testing.T, method, path, token string, body any, status int, out any) {
	t.Helper()
	resp, err := send(method, path, body, token)
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != status {
		t.Fatalf("%s %s: status %d, want %d: %s", method, path, resp.StatusCode, status, readBody(resp))
	}
	if out != nil {
		var env struct {
			Data json.RawMessage `json:"data"`
		}
		decodeJSON(t, resp, &env)
		if err := json.Unmarshal(env.Data, out); err != nil {
			t.Fatalf("decode data: %v", err)
		}
	}
}

func send(method, path string, body any, token string) (*http.Response, error) {
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			return nil, err
		}
	}
	req, err := http.NewRequest(method, baseURL+path, &buf)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	return http.DefaultClient.Do(req)
}

func readBody(resp *http.Response) string {
	b, _ := io.ReadAll(resp.Body)
	return string(b)
}

func decodeJSON(t *testing.T, resp *http.Response, v any) {
	t.Helper()
	if err := json.NewDecoder(resp.Body).Decode(v); err != nil {
		t.Fatalf("decode: %v", err)
	}
}
