package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"attempt-runner/internal/domain"
	"github.com/jackc/pgx/v4/pgxpool"
)

// Journal records terminal attempt outcomes in the attempt_outcomes table.
type Journal struct {
	pool *pgxpool.Pool
}

func NewJournal(pool *pgxpool.Pool) *Journal {
	return &Journal{pool: pool}
}

func (j *Journal) Record(ctx context.Context, out domain.Outcome) error {
	var errText string
	if out.Err != nil {
		errText = out.Err.Error()
	}
	_, err := j.pool.Exec(ctx, `
		INSERT INTO attempt_outcomes
			(session_id, exam_id, user_id, attempt_id, trigger, state, notice, orphaned, error, finished_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		ON CONFLICT (session_id) DO NOTHING`,
		out.SessionID, out.ExamID.String(), out.UserID.String(), out.AttemptID.String(),
		string(out.Trigger), out.State.String(), string(out.Notice), out.Orphaned, errText, out.FinishedAt,
	)
	if err != nil {
		return fmt.Errorf("record outcome %s: %w", out.SessionID, err)
	}
	return nil
}

func (j *Journal) Orphans(ctx context.Context) ([]domain.Outcome, error) {
	rows, err := j.pool.Query(ctx, `
		SELECT session_id, exam_id, user_id, attempt_id, trigger, notice, error, finished_at
		FROM attempt_outcomes
		WHERE orphaned
		ORDER BY finished_at`)
	if err != nil {
		return nil, fmt.Errorf("query orphans: %w", err)
	}
	defer rows.Close()

	var outcomes []domain.Outcome
	for rows.Next() {
		var (
			out                       domain.Outcome
			examID, userID, attemptID string
			trigger, notice, errText  string
			finishedAt                time.Time
		)
		if err := rows.Scan(&out.SessionID, &examID, &userID, &attemptID, &trigger, &notice, &errText, &finishedAt); err != nil {
			return nil, fmt.Errorf("scan orphan: %w", err)
		}
		out.ExamID = domain.ID(examID)
		out.UserID = domain.ID(userID)
		out.AttemptID = domain.ID(attemptID)
		out.Trigger = domain.Trigger(trigger)
		out.State = domain.StateFailed
		out.Notice = domain.Notice(notice)
		out.Orphaned = true
		out.FinishedAt = finishedAt
		if errText != "" {
			out.Err = errors.New(errText)
		}
		outcomes = append(outcomes, out)
	}
	return outcomes, rows.Err()
}
