package app

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"attempt-runner/internal/auth"
	"attempt-runner/internal/domain"
)

// Coordinator turns the answer buffer into exactly one attempt on the backend.
//
// The state is a single atomic value. Entering submitting is a compare-and-swap from idle done
// before any network call, so a double click or a timer firing during a manual submission can
// never create a second attempt.
type Coordinator struct {
	api     AttemptAPI
	session SessionView
	answers *AnswerBuffer
	now     func() time.Time

	state        atomic.Int32
	onSubmitting func(domain.Trigger)

	done    chan struct{}
	mu      sync.Mutex
	outcome domain.Outcome
}

func NewCoordinator(api AttemptAPI, session SessionView, answers *AnswerBuffer) *Coordinator {
	return &Coordinator{
		api:     api,
		session: session,
		answers: answers,
		now:     time.Now,
		done:    make(chan struct{}),
	}
}

// OnSubmitting registers a hook run right after the coordinator wins the idle -> submitting
// transition. It must be set before the first Submit.
func (c *Coordinator) OnSubmitting(fn func(domain.Trigger)) {
	c.onSubmitting = fn
}

// Submit creates the attempt and sends the answers. Only the first trigger proceeds; every
// other caller gets domain.ErrAlreadySubmitting immediately. The network calls are detached
// from ctx cancellation: once started, a submission runs to completion.
//
// There is no retry. A failure leaves the coordinator in StateFailed and returns an error
// wrapping domain.ErrSubmission.
func (c *Coordinator) Submit(ctx context.Context, trigger domain.Trigger) (domain.Outcome, error) {
	if !c.state.CompareAndSwap(int32(domain.StateIdle), int32(domain.StateSubmitting)) {
		return domain.Outcome{}, domain.ErrAlreadySubmitting
	}
	if c.onSubmitting != nil {
		c.onSubmitting(trigger)
	}
	// Answers are frozen at the moment the submission wins.
	payload := c.answers.Payload()

	creds := c.session.Credentials()
	ctx = auth.WithCredentials(context.WithoutCancel(ctx), creds)
	exam := c.session.Exam()
	out := domain.Outcome{
		SessionID: c.session.ID(),
		ExamID:    exam.ID,
		UserID:    creds.UserID,
		Trigger:   trigger,
	}

	attemptID, err := c.api.CreateAttempt(ctx, exam.ID)
	if err != nil {
		return c.fail(out, fmt.Errorf("%w: create attempt: %w", domain.ErrSubmission, err))
	}
	out.AttemptID = attemptID

	if err := c.api.SubmitAnswers(ctx, attemptID, payload); err != nil {
		// The backend now holds an attempt without answers.
		out.Orphaned = true
		return c.fail(out, fmt.Errorf("%w: submit answers for attempt %s: %w", domain.ErrSubmission, attemptID, err))
	}

	c.answers.Discard()
	out.State = domain.StateSubmitted
	out.Notice = domain.NoticeSubmitted
	if trigger == domain.TriggerExpired {
		out.Notice = domain.NoticeTimeExpired
	}
	c.finish(out)
	return out, nil
}

func (c *Coordinator) fail(out domain.Outcome, err error) (domain.Outcome, error) {
	out.State = domain.StateFailed
	out.Notice = domain.NoticeFailed
	out.Err = err
	c.finish(out)
	return out, err
}

func (c *Coordinator) finish(out domain.Outcome) {
	out.FinishedAt = c.now()
	c.mu.Lock()
	c.outcome = out
	c.mu.Unlock()
	c.state.Store(int32(out.State))
	close(c.done)
}

// State returns the current submission state.
func (c *Coordinator) State() domain.SubmissionState {
	return domain.SubmissionState(c.state.Load())
}

// Done is closed once the coordinator reaches submitted or failed.
func (c *Coordinator) Done() <-chan struct{} {
	return c.done
}

// Outcome returns the terminal outcome. It is only meaningful after Done is closed.
func (c *Coordinator) Outcome() domain.Outcome {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.outcome
}
