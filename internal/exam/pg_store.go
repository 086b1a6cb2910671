package exam

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/examforge/examforge/pkg/pg"
)

// PgStore persists exams, attempts and attempt details.
type PgStore struct {
	pool *pgxpool.Pool
}

func NewPgStore(pool *pgxpool.Pool) *PgStore {
	if pool == nil {
		panic("exam: pgx pool is required")
	}
	return &PgStore{pool: pool}
}

func (s *PgStore) ListExams(ctx context.Context) ([]Summary, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, title, description, total_questions
		  FROM exams
		 ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("failed to list exams: %w", err)
	}
	defer rows.Close()

	var summaries []Summary
	for rows.Next() {
		var sm Summary
		if err := rows.Scan(&sm.ID, &sm.Title, &sm.Description, &sm.TotalQuestions); err != nil {
			return nil, fmt.Errorf("failed to scan exam summary: %w", err)
		}
		summaries = append(summaries, sm)
	}
	return summaries, rows.Err()
}

func (s *PgStore) GetExam(ctx context.Context, examID int64) (*Exam, error) {
	var ex Exam
	var questionsJSON []byte
	err := s.pool.QueryRow(ctx, `
		SELECT id, title, description, questions, total_questions
		  FROM exams
		 WHERE id = $1`,
		examID,
	).Scan(&ex.ID, &ex.Title, &ex.Description, &questionsJSON, &ex.TotalQuestions)
	if err != nil {
		if pg.IsNotFoundError(err) {
			return nil, ErrExamNotFound
		}
		return nil, fmt.Errorf("failed to query exam: %w", err)
	}

	if err := json.Unmarshal(questionsJSON, &ex.Questions); err != nil {
		return nil, fmt.Errorf("failed to decode exam questions: %w", err)
	}
	return &ex, nil
}

// SaveAttempt records the attempt, its details, and the monthly usage
// increment atomically. A rollback leaves the usage counter untouched.
func (s *PgStore) SaveAttempt(ctx context.Context, attempt *Attempt, details []AnswerDetail) (int64, error) {
	detailsJSON, err := json.Marshal(details)
	if err != nil {
		return 0, fmt.Errorf("failed to encode attempt details: %w", err)
	}

	var attemptID int64
	err = pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		if err := tx.QueryRow(ctx, `
			INSERT INTO exam_attempts (user_id, exam_id, score, total_questions, percentage, month_year, created_at)
			VALUES ($1, $2, $3, $4, $5, $6, now())
			RETURNING id`,
			attempt.UserID, attempt.ExamID, attempt.Score,
			attempt.TotalQuestions, attempt.Percentage, attempt.MonthKey,
		).Scan(&attemptID); err != nil {
			return fmt.Errorf("failed to insert exam attempt: %w", err)
		}

		if _, err := tx.Exec(ctx, `
			INSERT INTO exam_attempt_details (attempt_id, detailed_results)
			VALUES ($1, $2)`,
			attemptID, detailsJSON,
		); err != nil {
			return fmt.Errorf("failed to insert attempt details: %w", err)
		}

		if _, err := tx.Exec(ctx, `
			INSERT INTO monthly_exam_usage (user_id, month_year, exams_taken, created_at, updated_at)
			VALUES ($1, $2, 1, now(), now())
			ON CONFLICT (user_id, month_year)
			DO UPDATE SET exams_taken = monthly_exam_usage.exams_taken + 1, updated_at = now()`,
			attempt.UserID, attempt.MonthKey,
		); err != nil {
			return fmt.Errorf("failed to increment monthly usage: %w", err)
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	return attemptID, nil
}

func (s *PgStore) AttemptDetails(ctx context.Context, userID, attemptID int64) ([]AnswerDetail, error) {
	var detailsJSON []byte
	err := s.pool.QueryRow(ctx, `
		SELECT d.detailed_results
		  FROM exam_attempt_details d
		  JOIN exam_attempts a ON a.id = d.attempt_id
		 WHERE d.attempt_id = $1
		   AND a.user_id = $2`,
		attemptID, userID,
	).Scan(&detailsJSON)
	if err != nil {
		if pg.IsNotFoundError(err) {
			return nil, ErrAttemptNotFound
		}
		return nil, fmt.Errorf("failed to query attempt details: %w", err)
	}

	var details []AnswerDetail
	if err := json.Unmarshal(detailsJSON, &details); err != nil {
		return nil, fmt.Errorf("failed to decode attempt details: %w", err)
	}
	return details, nil
}
