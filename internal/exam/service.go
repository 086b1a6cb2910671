package exam

import (
	"context"
	"log/slog"
)

// AccessGate decides whether a user may start an exam right now.
type AccessGate interface {
	CanTakeExam(ctx context.Context, userID int64) error
	CurrentMonthKey() string
}

// Store persists exams and attempts.
type Store interface {
	ListExams(ctx context.Context) ([]Summary, error)
	GetExam(ctx context.Context, examID int64) (*Exam, error)
	// SaveAttempt records the attempt, its per-question details, and the
	// monthly usage increment in one transaction.
	SaveAttempt(ctx context.Context, attempt *Attempt, details []AnswerDetail) (int64, error)
	AttemptDetails(ctx context.Context, userID, attemptID int64) ([]AnswerDetail, error)
}

// Service wires exam access through the quota gate and turns submissions
// into graded, recorded attempts.
type Service struct {
	store Store
	gate  AccessGate
	log   *slog.Logger
}

func NewService(store Store, gate AccessGate, log *slog.Logger) *Service {
	if store == nil {
		panic("exam: store is required")
	}
	if gate == nil {
		panic("exam: access gate is required")
	}
	if log == nil {
		log = slog.New(slog.DiscardHandler)
	}
	return &Service{store: store, gate: gate, log: log}
}

// List returns exam summaries without questions.
func (s *Service) List(ctx context.Context) ([]Summary, error) {
	return s.store.ListExams(ctx)
}

// Get returns the full exam after the quota gate admits the user.
func (s *Service) Get(ctx context.Context, userID, examID int64) (*Exam, error) {
	if err := s.gate.CanTakeExam(ctx, userID); err != nil {
		return nil, err
	}
	return s.store.GetExam(ctx, examID)
}

// Submit grades the answers and records the attempt. The usage counter
// increment rides the same transaction as the attempt insert, so a
// failed save never burns allowance.
func (s *Service) Submit(ctx context.Context, userID, examID int64, answers []string) (*Result, error) {
	ex, err := s.store.GetExam(ctx, examID)
	if err != nil {
		return nil, err
	}

	score, details := Grade(ex.Questions, answers)
	percentage := 0.0
	if ex.TotalQuestions > 0 {
		percentage = float64(score) / float64(ex.TotalQuestions) * 100
	}

	attempt := &Attempt{
		UserID:         userID,
		ExamID:         examID,
		Score:          score,
		TotalQuestions: ex.TotalQuestions,
		Percentage:     percentage,
		MonthKey:       s.gate.CurrentMonthKey(),
	}

	attemptID, err := s.store.SaveAttempt(ctx, attempt, details)
	if err != nil {
		return nil, err
	}

	s.log.InfoContext(ctx, "exam submitted",
		"user_id", userID, "exam_id", examID, "attempt_id", attemptID, "score", score)

	return &Result{
		AttemptID:      attemptID,
		ExamTitle:      ex.Title,
		Score:          score,
		TotalQuestions: ex.TotalQuestions,
		Percentage:     percentage,
	}, nil
}

// AttemptDetails returns the review breakdown of the caller's attempt.
func (s *Service) AttemptDetails(ctx context.Context, userID, attemptID int64) ([]AnswerDetail, error) {
	return s.store.AttemptDetails(ctx, userID, attemptID)
}
