package memory

import (
	"context"
	"fmt"
	"strconv"
	"sync"

	"attempt-runner/internal/auth"
	"attempt-runner/internal/domain"
)

// Submission is one answers payload received by a StaticBackend.
type Submission struct {
	AttemptID domain.ID
	Answers   []domain.AnswerEntry
}

// StaticBackend is an in-memory stand-in for the REST backend (useful for tests/demos).
// It records every call so tests can assert on what reached the backend.
type StaticBackend struct {
	mu          sync.Mutex
	exams       map[domain.ID]domain.ExamDefinition
	attempts    map[domain.ID]domain.ID // attempt -> exam
	owners      map[domain.ID]domain.ID // attempt -> user
	used        map[string]int          // exam|user -> recorded attempts
	submissions []Submission
	seq         int

	examLoads   int
	createCalls int
	submitCalls int

	// CreateErr and SubmitErr, when set, make the matching call fail.
	CreateErr error
	SubmitErr error
	// BeforeCreate runs inside CreateAttempt before the attempt is recorded.
	BeforeCreate func()
}

func NewStaticBackend(exams map[domain.ID]domain.ExamDefinition) *StaticBackend {
	return &StaticBackend{
		exams:    exams,
		attempts: make(map[domain.ID]domain.ID),
		owners:   make(map[domain.ID]domain.ID),
		used:     make(map[string]int),
	}
}

func (b *StaticBackend) LoadExam(_ context.Context, examID domain.ID) (domain.ExamDefinition, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.examLoads++
	if exam, ok := b.exams[examID]; ok {
		return exam, nil
	}
	return domain.ExamDefinition{}, domain.ErrExamNotFound
}

// SetUsedAttempts seeds the number of attempts already recorded for a user.
func (b *StaticBackend) SetUsedAttempts(examID, userID domain.ID, n int) {
	b.mu.Lock()
	b.used[usedKey(examID, userID)] = n
	b.mu.Unlock()
}

func (b *StaticBackend) CountAttempts(_ context.Context, examID, userID domain.ID) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.used[usedKey(examID, userID)], nil
}

func (b *StaticBackend) CreateAttempt(ctx context.Context, examID domain.ID) (domain.ID, error) {
	b.mu.Lock()
	b.createCalls++
	hook, failure := b.BeforeCreate, b.CreateErr
	b.mu.Unlock()

	if hook != nil {
		hook()
	}
	if failure != nil {
		return "", failure
	}
	if err := ctx.Err(); err != nil {
		return "", err
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	if _, ok := b.exams[examID]; !ok {
		return "", domain.ErrExamNotFound
	}
	b.seq++
	id := domain.ID("attempt-" + strconv.Itoa(b.seq))
	b.attempts[id] = examID
	if user := userFromContext(ctx); user != "" {
		b.owners[id] = user
		b.used[usedKey(examID, user)]++
	}
	return id, nil
}

func (b *StaticBackend) SubmitAnswers(ctx context.Context, attemptID domain.ID, answers []domain.AnswerEntry) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.submitCalls++
	if b.SubmitErr != nil {
		return b.SubmitErr
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	if _, ok := b.attempts[attemptID]; !ok {
		return fmt.Errorf("attempt %s not found", attemptID)
	}
	b.submissions = append(b.submissions, Submission{
		AttemptID: attemptID,
		Answers:   append([]domain.AnswerEntry(nil), answers...),
	})
	return nil
}

// Calls returns how many times each backend operation was invoked.
func (b *StaticBackend) Calls() (examLoads, creates, submits int) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.examLoads, b.createCalls, b.submitCalls
}

// Submissions returns the accepted answer payloads.
func (b *StaticBackend) Submissions() []Submission {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]Submission(nil), b.submissions...)
}

func usedKey(examID, userID domain.ID) string {
	return string(examID) + "|" + string(userID)
}

func userFromContext(ctx context.Context) domain.ID {
	creds, ok := auth.FromContext(ctx)
	if !ok {
		return ""
	}
	return creds.UserID
}
