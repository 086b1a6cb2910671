package exam_test

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/examforge/examforge/internal/exam"
)

func sampleQuestions() []exam.Question {
	return []exam.Question{
		{Number: 1, Question: "Q1", Options: []string{"a", "b", "c"}, Answer: "a"},
		{Number: 2, Question: "Q2", Options: []string{"a", "b", "c"}, Answer: "b"},
		{Number: 3, Question: "Q3", Options: []string{"a", "b", "c"}, Answer: "c"},
	}
}

func TestGradeAllCorrect(t *testing.T) {
	t.Parallel()

	score, details := exam.Grade(sampleQuestions(), []string{"a", "b", "c"})
	assert.Equal(t, 3, score)
	for _, d := range details {
		assert.True(t, d.IsCorrect)
	}
}

func TestGradePartial(t *testing.T) {
	t.Parallel()

	score, details := exam.Grade(sampleQuestions(), []string{"a", "c", "c"})
	assert.Equal(t, 2, score)
	assert.True(t, details[0].IsCorrect)
	assert.False(t, details[1].IsCorrect)
	assert.Equal(t, "c", details[1].UserAnswer)
	assert.Equal(t, "b", details[1].CorrectAnswer)
}

func TestGradeMissingAnswersCountWrong(t *testing.T) {
	t.Parallel()

	score, details := exam.Grade(sampleQuestions(), []string{"a"})
	assert.Equal(t, 1, score)
	assert.Len(t, details, 3)
	assert.Empty(t, details[2].UserAnswer)
	assert.False(t, details[2].IsCorrect)
}

func TestGradeExtraAnswersIgnored(t *testing.T) {
	t.Parallel()

	score, details := exam.Grade(sampleQuestions(), []string{"a", "b", "c", "d", "e"})
	assert.Equal(t, 3, score)
	assert.Len(t, details, 3)
}

func TestGradeEmptyAnswerNeverMatches(t *testing.T) {
	t.Parallel()

	questions := []exam.Question{{Number: 1, Question: "Q1", Answer: ""}}
	score, _ := exam.Grade(questions, []string{""})
	assert.Equal(t, 0, score)
}
