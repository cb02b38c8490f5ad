package scoring

import (
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stemsi/exstem-proctor/internal/model"
)

func strPtr(s string) *string { return &s }

func sampleQuiz() *model.Quiz {
	return &model.Quiz{
		ID: "quiz-1",
		Questions: []model.Question{
			{ID: "q1", Type: model.QuestionTypeMCQ, Points: 2, Options: []model.QuestionOption{
				{ID: "a", IsCorrect: false}, {ID: "b", IsCorrect: true},
			}},
			{ID: "q2", Type: model.QuestionTypeTrueFalse, Options: []model.QuestionOption{
				{ID: "t", IsCorrect: true}, {ID: "f"},
			}},
			{ID: "q3", Type: model.QuestionTypeEssay, Points: 10},
		},
	}
}

func TestScoreObjectiveAnswers(t *testing.T) {
	id := uuid.New()
	res := Score(sampleQuiz(), []model.Answer{
		{AttemptID: id, QuestionID: "q1", SelectedOptionID: strPtr("b")},
		{AttemptID: id, QuestionID: "q2", SelectedOptionID: strPtr("f")},
		{AttemptID: id, QuestionID: "q3", TextAnswer: strPtr("free text")},
	})

	assert.Equal(t, 2.0, res.Score)
	assert.Equal(t, 3.0, res.MaxScore)
	assert.Equal(t, 1, res.Pending)
	require.Len(t, res.Answers, 3)
	require.NotNil(t, res.Answers[0].Points)
	assert.Equal(t, 2.0, *res.Answers[0].Points)
	require.NotNil(t, res.Answers[1].Points)
	assert.Equal(t, 0.0, *res.Answers[1].Points)
	assert.Nil(t, res.Answers[2].Points)
}

func TestScoreIgnoresUnknownQuestionsAndOptions(t *testing.T) {
	res := Score(sampleQuiz(), []model.Answer{
		{QuestionID: "ghost", SelectedOptionID: strPtr("b")},
		{QuestionID: "q1", SelectedOptionID: strPtr("zzz")},
		{QuestionID: "q2"},
	})

	assert.Equal(t, 0.0, res.Score)
	assert.Nil(t, res.Answers[0].Points)
	assert.Equal(t, 0.0, *res.Answers[1].Points)
	assert.Equal(t, 0.0, *res.Answers[2].Points)
}

func TestScoreEmptyAnswerSet(t *testing.T) {
	res := Score(sampleQuiz(), nil)
	assert.Equal(t, 0.0, res.Score)
	assert.Equal(t, 3.0, res.MaxScore)
	assert.Empty(t, res.Answers)
}
