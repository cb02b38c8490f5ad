// Package scoring grades attempts by literal answer-key matching.
package scoring

import "github.com/stemsi/exstem-proctor/internal/model"

// Result is a graded answer set.
type Result struct {
	Answers  []model.Answer
	Score    float64
	MaxScore float64
	// Pending counts free-text answers left for manual grading.
	Pending int
}

// Score grades answers against quiz. Objective questions earn their full
// points when the selected option is marked correct. Free-text answers and
// answers to questions missing from the quiz keep nil Points.
func Score(quiz *model.Quiz, answers []model.Answer) Result {
	questions := make(map[string]*model.Question, len(quiz.Questions))
	var res Result
	for i := range quiz.Questions {
		q := &quiz.Questions[i]
		questions[q.ID] = q
		if q.Type.IsObjective() {
			res.MaxScore += pointsOf(q)
		}
	}

	res.Answers = make([]model.Answer, len(answers))
	for i, a := range answers {
		a.Points = nil
		q, ok := questions[a.QuestionID]
		switch {
		case ok && q.Type.IsObjective():
			var earned float64
			if a.SelectedOptionID != nil && isCorrect(q, *a.SelectedOptionID) {
				earned = pointsOf(q)
			}
			a.Points = &earned
			res.Score += earned
		case ok:
			res.Pending++
		}
		res.Answers[i] = a
	}
	return res
}

func pointsOf(q *model.Question) float64 {
	if q.Points <= 0 {
		return 1
	}
	return q.Points
}

func isCorrect(q *model.Question, optionID string) bool {
	for _, opt := range q.Options {
		if opt.ID == optionID {
			return opt.IsCorrect
		}
	}
	return false
}
