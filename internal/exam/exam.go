// Package exam implements the multiple-choice exam collaborator: listing,
// quota-gated access, scoring, and attempt recording. Each successful
// submission increments the monthly usage counter feeding the quota gate.
package exam

import (
	"errors"
	"time"
)

var (
	ErrExamNotFound    = errors.New("exam not found")
	ErrAttemptNotFound = errors.New("exam attempt not found")
)

// Question is one multiple-choice item of an exam.
type Question struct {
	Number   int      `json:"number"`
	Question string   `json:"question"`
	Options  []string `json:"options"`
	Answer   string   `json:"answer"`
}

// Exam holds a question set. Questions are stored as a JSONB document.
type Exam struct {
	ID             int64      `json:"id"`
	Title          string     `json:"title"`
	Description    string     `json:"description"`
	Questions      []Question `json:"questions"`
	TotalQuestions int        `json:"total_questions"`
}

// Summary is the listing view of an exam, without questions.
type Summary struct {
	ID             int64  `json:"id"`
	Title          string `json:"title"`
	Description    string `json:"description"`
	TotalQuestions int    `json:"total_questions"`
}

// AnswerDetail is the per-question breakdown of a graded attempt.
type AnswerDetail struct {
	QuestionNumber int      `json:"question_number"`
	Question       string   `json:"question"`
	Options        []string `json:"options"`
	UserAnswer     string   `json:"user_answer,omitempty"`
	CorrectAnswer  string   `json:"correct_answer"`
	IsCorrect      bool     `json:"is_correct"`
}

// Result summarizes a graded attempt.
type Result struct {
	AttemptID      int64   `json:"attempt_id"`
	ExamTitle      string  `json:"exam_title"`
	Score          int     `json:"score"`
	TotalQuestions int     `json:"total_questions"`
	Percentage     float64 `json:"percentage"`
}

// Attempt is a recorded submission.
type Attempt struct {
	ID             int64
	UserID         int64
	ExamID         int64
	Score          int
	TotalQuestions int
	Percentage     float64
	MonthKey       string
	CreatedAt      time.Time
}

// Grade counts answers equal to the keyed answer, positionally matched,
// and builds the per-question breakdown.
func Grade(questions []Question, answers []string) (int, []AnswerDetail) {
	score := 0
	details := make([]AnswerDetail, 0, len(questions))

	for i, q := range questions {
		var userAnswer string
		if i < len(answers) {
			userAnswer = answers[i]
		}
		correct := userAnswer != "" && userAnswer == q.Answer
		if correct {
			score++
		}
		details = append(details, AnswerDetail{
			QuestionNumber: q.Number,
			Question:       q.Question,
			Options:        q.Options,
			UserAnswer:     userAnswer,
			CorrectAnswer:  q.Answer,
			IsCorrect:      correct,
		})
	}
	return score, details
}
