package app

import (
	"context"

	"attempt-runner/internal/auth"
	"attempt-runner/internal/domain"
)

// ExamRepository returns exam definitions (from a cache or straight from the backend).
type ExamRepository interface {
	GetExam(ctx context.Context, examID domain.ID) (domain.ExamDefinition, error)
}

// AttemptCounter reports how many attempts the backend recorded for a user on an exam.
type AttemptCounter interface {
	CountAttempts(ctx context.Context, examID, userID domain.ID) (int, error)
}

// AttemptAPI creates attempts and submits their answers. Both calls are authoritative.
type AttemptAPI interface {
	CreateAttempt(ctx context.Context, examID domain.ID) (domain.ID, error)
	SubmitAnswers(ctx context.Context, attemptID domain.ID, answers []domain.AnswerEntry) error
}

// Backend is everything the attempt flow needs from the REST service besides exam content.
type Backend interface {
	AttemptCounter
	AttemptAPI
}

// SessionRepository tracks live attempt sessions (in-memory, Redis, etc).
type SessionRepository interface {
	// Add registers a session. It fails with domain.ErrSessionActive when the same user
	// already has a live session for the same exam.
	Add(session *AttemptSession) error
	Get(sessionID string) (*AttemptSession, bool)
	Remove(sessionID string)
}

// OutcomeJournal keeps a record of terminal session outcomes.
type OutcomeJournal interface {
	Record(ctx context.Context, outcome domain.Outcome) error
	// Orphans lists outcomes whose attempt was created but never received its answers.
	Orphans(ctx context.Context) ([]domain.Outcome, error)
}

// ExamView gives read access to the exam definition owned by a session.
type ExamView interface {
	Exam() domain.ExamDefinition
}

// SessionView is what the submission coordinator needs to know about its session.
type SessionView interface {
	ExamView
	ID() string
	Credentials() auth.Credentials
}

type staticExam domain.ExamDefinition

func (e staticExam) Exam() domain.ExamDefinition { return domain.ExamDefinition(e) }

// StaticExam wraps a definition that is not owned by a session.
func StaticExam(exam domain.ExamDefinition) ExamView {
	return staticExam(exam)
}
