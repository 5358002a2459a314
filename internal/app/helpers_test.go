package app_test

import (
	"io"
	"sync"
	"testing"
	"time"

	"attempt-runner/internal/app"
	"attempt-runner/internal/auth"
	"attempt-runner/internal/domain"
	"attempt-runner/internal/infra/memory"
	"github.com/rs/zerolog"
)

// fakeClock only moves when Advance is called; its tickers only fire on Fire.
type fakeClock struct {
	mu      sync.Mutex
	now     time.Time
	tickers []*fakeTicker
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func (c *fakeClock) NewTicker(time.Duration) app.Ticker {
	t := &fakeTicker{ch: make(chan time.Time, 1)}
	c.mu.Lock()
	c.tickers = append(c.tickers, t)
	c.mu.Unlock()
	return t
}

func (c *fakeClock) lastTicker(t *testing.T) *fakeTicker {
	t.Helper()
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.tickers) == 0 {
		t.Fatalf("no ticker created")
	}
	return c.tickers[len(c.tickers)-1]
}

type fakeTicker struct {
	ch      chan time.Time
	mu      sync.Mutex
	stopped bool
}

func (t *fakeTicker) C() <-chan time.Time { return t.ch }

func (t *fakeTicker) Stop() {
	t.mu.Lock()
	t.stopped = true
	t.mu.Unlock()
}

func (t *fakeTicker) Stopped() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.stopped
}

// Fire delivers a tick unless one is already pending.
func (t *fakeTicker) Fire() {
	select {
	case t.ch <- time.Now():
	default:
	}
}

var student = auth.Credentials{Token: "token-1", UserID: "user-1"}

// sampleExam is a two question exam: Q1 single choice, Q2 free response, one minute.
func sampleExam() domain.ExamDefinition {
	return domain.ExamDefinition{
		ID:    "exam-1",
		Title: "Geography",
		Questions: []domain.Question{
			{
				ID:     "Q1",
				Prompt: "Capital of France?",
				Type:   domain.SingleChoice,
				Alternatives: []domain.Alternative{
					{ID: "A1", Text: "Paris"},
					{ID: "A2", Text: "Berlin"},
				},
			},
			{ID: "Q2", Prompt: "Describe the Seine.", Type: domain.FreeResponse},
		},
		TimeLimitMinutes: 1,
		MaxAttempts:      2,
	}
}

type testEnv struct {
	service  *app.AttemptService
	backend  *memory.StaticBackend
	sessions *memory.SessionStore
	journal  *memory.Journal
	clock    *fakeClock
}

func newTestEnv(exams ...domain.ExamDefinition) *testEnv {
	if len(exams) == 0 {
		exams = []domain.ExamDefinition{sampleExam()}
	}
	byID := make(map[domain.ID]domain.ExamDefinition, len(exams))
	for _, e := range exams {
		byID[e.ID] = e
	}
	backend := memory.NewStaticBackend(byID)
	env := &testEnv{
		backend:  backend,
		sessions: memory.NewSessionStore(),
		journal:  memory.NewJournal(),
		clock:    newFakeClock(),
	}
	env.service = app.NewAttemptService(
		memory.NewExamRepository(backend, time.Minute),
		backend,
		env.sessions,
		env.journal,
		zerolog.New(io.Discard),
		app.WithClock(env.clock),
	)
	return env
}

func waitDone(t *testing.T, done <-chan struct{}) {
	t.Helper()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatalf("timed out waiting")
	}
}
