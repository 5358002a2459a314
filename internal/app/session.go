package app

import (
	"sync"
	"time"

	"attempt-runner/internal/auth"
	"attempt-runner/internal/domain"
)

// AttemptSession is one student taking one exam: the loaded definition, its countdown, the
// answer buffer and the submission coordinator.
type AttemptSession struct {
	id        string
	creds     auth.Credentials
	exam      domain.ExamDefinition
	createdAt time.Time

	countdown   *Countdown
	answers     *AnswerBuffer
	coordinator *Coordinator

	mu          sync.Mutex
	left        bool
	subscribers map[chan domain.Snapshot]struct{}
}

// NewAttemptSession assembles a session whose countdown has not started and has no expiry
// hook. AttemptService.Start is the normal way to get a running one; infrastructure layers use
// this to seed stores.
func NewAttemptSession(id string, creds auth.Credentials, exam domain.ExamDefinition, api AttemptAPI) *AttemptSession {
	return newAttemptSession(id, creds, exam, api, SystemClock(), DefaultTickInterval, nil)
}

func newAttemptSession(id string, creds auth.Credentials, exam domain.ExamDefinition, api AttemptAPI, clock Clock, tick time.Duration, onExpire func(*AttemptSession)) *AttemptSession {
	s := &AttemptSession{
		id:          id,
		creds:       creds,
		exam:        exam,
		createdAt:   clock.Now(),
		subscribers: make(map[chan domain.Snapshot]struct{}),
	}
	s.answers = NewAnswerBuffer(s)
	s.coordinator = NewCoordinator(api, s, s.answers)
	s.coordinator.now = clock.Now
	s.countdown = NewCountdown(clock, exam.TimeLimit(), tick, func() {
		if onExpire != nil {
			onExpire(s)
		}
	})
	s.countdown.OnTick(func(int) { s.publish() })
	s.coordinator.OnSubmitting(func(domain.Trigger) { s.countdown.Cancel() })
	return s
}

func (s *AttemptSession) ID() string                    { return s.id }
func (s *AttemptSession) Credentials() auth.Credentials { return s.creds }
func (s *AttemptSession) UserID() domain.ID             { return s.creds.UserID }
func (s *AttemptSession) CreatedAt() time.Time          { return s.createdAt }

// Exam returns the definition owned by the session.
func (s *AttemptSession) Exam() domain.ExamDefinition { return s.exam }

// Answers is the session's answer buffer.
func (s *AttemptSession) Answers() *AnswerBuffer { return s.answers }

// Remaining is the countdown's last computed number of seconds.
func (s *AttemptSession) Remaining() int { return s.countdown.Remaining() }

// CountdownState exposes the countdown lifecycle.
func (s *AttemptSession) CountdownState() CountdownState { return s.countdown.State() }

// CountdownDone is closed once the countdown released its ticker.
func (s *AttemptSession) CountdownDone() <-chan struct{} { return s.countdown.Done() }

// State is the submission state.
func (s *AttemptSession) State() domain.SubmissionState { return s.coordinator.State() }

// Done is closed when the submission reaches a terminal state.
func (s *AttemptSession) Done() <-chan struct{} { return s.coordinator.Done() }

// Outcome is only meaningful after Done is closed.
func (s *AttemptSession) Outcome() domain.Outcome { return s.coordinator.Outcome() }

// Snapshot returns the current remaining time and submission state.
func (s *AttemptSession) Snapshot() domain.Snapshot {
	return domain.Snapshot{SessionID: s.id, Remaining: s.Remaining(), State: s.State()}
}

// Subscribe returns a channel receiving a snapshot on every tick and on the terminal
// transition. The caller must invoke the returned cancel function.
func (s *AttemptSession) Subscribe() (<-chan domain.Snapshot, func()) {
	ch := make(chan domain.Snapshot, 4)
	// Seeded before publish can see the channel, so this send never blocks.
	ch <- s.Snapshot()

	s.mu.Lock()
	s.subscribers[ch] = struct{}{}
	s.mu.Unlock()

	cancel := func() {
		s.mu.Lock()
		if _, ok := s.subscribers[ch]; ok {
			delete(s.subscribers, ch)
			close(ch)
		}
		s.mu.Unlock()
	}
	return ch, cancel
}

func (s *AttemptSession) publish() {
	snap := s.Snapshot()

	s.mu.Lock()
	defer s.mu.Unlock()
	for ch := range s.subscribers {
		select {
		case ch <- snap:
		default:
			// Slow reader: replace its oldest snapshot with the newest.
			select {
			case <-ch:
			default:
			}
			ch <- snap
		}
	}
}

// markLeft reports whether this call was the first to leave the session.
func (s *AttemptSession) markLeft() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.left {
		return false
	}
	s.left = true
	return true
}
