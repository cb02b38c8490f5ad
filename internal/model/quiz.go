package model

// QuestionType enumerates question kinds owned by the authoring layer.
type QuestionType string

const (
	QuestionTypeMCQ         QuestionType = "mcq"
	QuestionTypeTrueFalse   QuestionType = "true_false"
	QuestionTypeShortAnswer QuestionType = "short_answer"
	QuestionTypeEssay       QuestionType = "essay"
)

// IsObjective reports whether the type is single-correct-option and
// machine-scorable.
func (t QuestionType) IsObjective() bool {
	return t == QuestionTypeMCQ || t == QuestionTypeTrueFalse
}

type QuestionOption struct {
	ID        string `json:"id"`
	IsCorrect bool   `json:"is_correct"`
}

type Question struct {
	ID      string           `json:"id"`
	Type    QuestionType     `json:"type"`
	Points  float64          `json:"points"`
	Options []QuestionOption `json:"options"`
}

// Quiz is the answer key of a quiz, read at submit time.
type Quiz struct {
	ID        string     `json:"id"`
	Questions []Question `json:"questions"`
}
