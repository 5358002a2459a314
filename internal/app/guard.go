package app

import (
	"context"
	"fmt"

	"attempt-runner/internal/auth"
	"attempt-runner/internal/domain"
)

// Guard checks the attempt quota before a session starts.
//
// The answer is advisory: another device may use the last slot between the check and the
// attempt creation, and only the backend's create call decides.
type Guard struct {
	exams    ExamRepository
	attempts AttemptCounter
}

func NewGuard(exams ExamRepository, attempts AttemptCounter) *Guard {
	return &Guard{exams: exams, attempts: attempts}
}

// Check returns how many attempts the user has left on the exam. When none are left it
// returns 0 and domain.ErrQuotaExhausted.
func (g *Guard) Check(ctx context.Context, creds auth.Credentials, examID domain.ID) (int, error) {
	if !creds.Valid() {
		return 0, domain.ErrUnauthenticated
	}
	ctx = auth.WithCredentials(ctx, creds)

	exam, err := g.exams.GetExam(ctx, examID)
	if err != nil {
		return 0, fmt.Errorf("check quota: %w", err)
	}
	used, err := g.attempts.CountAttempts(ctx, examID, creds.UserID)
	if err != nil {
		return 0, fmt.Errorf("count attempts: %w", err)
	}

	remaining := exam.Quota() - used
	if remaining <= 0 {
		return 0, domain.ErrQuotaExhausted
	}
	return remaining, nil
}
