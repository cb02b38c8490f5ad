package model

import (
	"time"

	"github.com/google/uuid"
)

// Answer is one response to one question within an attempt.
type Answer struct {
	AttemptID        uuid.UUID `json:"attempt_id"`
	QuestionID       string    `json:"question_id"`
	SelectedOptionID *string   `json:"selected_option_id,omitempty"`
	TextAnswer       *string   `json:"text_answer,omitempty"`
	AnsweredAt       time.Time `json:"answered_at"`
	// Points is nil until scored and stays nil for free-text questions.
	Points *float64 `json:"points,omitempty"`
}

// AnswerInput is an answer as sent by a client.
type AnswerInput struct {
	QuestionID       string  `json:"question_id" binding:"required,max=64"`
	SelectedOptionID *string `json:"selected_option_id" binding:"omitempty,max=64"`
	TextAnswer       *string `json:"text_answer" binding:"omitempty,max=20000"`
}

// ToAnswer stamps the input for attemptID at the given instant.
func (in AnswerInput) ToAnswer(attemptID uuid.UUID, at time.Time) Answer {
	return Answer{
		AttemptID:        attemptID,
		QuestionID:       in.QuestionID,
		SelectedOptionID: in.SelectedOptionID,
		TextAnswer:       in.TextAnswer,
		AnsweredAt:       at,
	}
}

// DedupeAnswers keeps the last answer per question, preserving first-seen order.
func DedupeAnswers(answers []Answer) []Answer {
	index := make(map[string]int, len(answers))
	out := make([]Answer, 0, len(answers))
	for _, a := range answers {
		if i, ok := index[a.QuestionID]; ok {
			out[i] = a
			continue
		}
		index[a.QuestionID] = len(out)
		out = append(out, a)
	}
	return out
}
