package websocket

import (
	"encoding/json"
	"time"

	"github.com/stemsi/exstem-proctor/internal/model"
)

// ─── Actions (Client → Server) ──────────────────────────────────────

type Action string

const (
	ActionAutosave Action = "autosave"
	ActionSubmit   Action = "submit"
	ActionPing     Action = "ping"
	ActionEvent    Action = "event"
	ActionTime     Action = "time"
)

// RequestEnvelope is used to peek at the action before full parsing.
type RequestEnvelope struct {
	Action Action          `json:"action"`
	Data   json.RawMessage `json:"data,omitempty"`
}

// AutosaveRequest saves a single answer.
type AutosaveRequest struct {
	model.AnswerInput
	QuestionIndex int `json:"question_index"`
}

// SubmitRequest finishes the attempt with the client's working set.
type SubmitRequest struct {
	Answers []model.AnswerInput `json:"answers"`
}

// PingRequest is a heartbeat.
type PingRequest struct {
	QuestionIndex int `json:"question_index"`
}

// EventRequest reports a client-side security signal.
type EventRequest struct {
	Kind   string `json:"kind"`
	Detail string `json:"detail"`
}

// ─── Events (Server → Client) ───────────────────────────────────────

type Event string

const (
	EventSaved     Event = "saved"
	EventSubmitted Event = "submitted"
	EventPong      Event = "pong"
	EventTime      Event = "time"
	EventError     Event = "error"
)

// Message is the server frame. Exactly one of Data or Error is set.
type Message struct {
	Event      Event      `json:"event"`
	Data       any        `json:"data,omitempty"`
	Error      *ErrorBody `json:"error,omitempty"`
	ServerTime int64      `json:"server_time_ms"`
}

type ErrorBody struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

type SavedData struct {
	QuestionID       string `json:"question_id"`
	RemainingSeconds int64  `json:"remaining_seconds"`
}

type SubmittedData struct {
	Status   model.AttemptStatus `json:"status"`
	Score    *float64            `json:"score,omitempty"`
	MaxScore *float64            `json:"max_score,omitempty"`
}

func newMessage(event Event, data any) Message {
	return Message{Event: event, Data: data, ServerTime: time.Now().UnixMilli()}
}
