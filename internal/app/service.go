package app

import (
	"context"
	"errors"
	"fmt"
	"time"

	"attempt-runner/internal/auth"
	"attempt-runner/internal/domain"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// AttemptService runs timed attempts: quota guard, exam load, countdown and submission.
type AttemptService struct {
	guard    *Guard
	loader   *Loader
	api      AttemptAPI
	sessions SessionRepository
	journal  OutcomeJournal
	clock    Clock
	tick     time.Duration
	log      zerolog.Logger
}

// Option customizes an AttemptService.
type Option func(*AttemptService)

// WithClock replaces the wall clock used by countdowns.
func WithClock(clock Clock) Option {
	return func(s *AttemptService) { s.clock = clock }
}

// WithTickInterval changes how often countdowns recompute the remaining time.
func WithTickInterval(d time.Duration) Option {
	return func(s *AttemptService) {
		if d > 0 {
			s.tick = d
		}
	}
}

func NewAttemptService(exams ExamRepository, backend Backend, sessions SessionRepository, journal OutcomeJournal, log zerolog.Logger, opts ...Option) *AttemptService {
	s := &AttemptService{
		guard:    NewGuard(exams, backend),
		loader:   NewLoader(exams),
		api:      backend,
		sessions: sessions,
		journal:  journal,
		clock:    SystemClock(),
		tick:     DefaultTickInterval,
		log:      log,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// CheckQuota returns the attempts the user has left, or domain.ErrQuotaExhausted.
func (s *AttemptService) CheckQuota(ctx context.Context, creds auth.Credentials, examID domain.ID) (int, error) {
	return s.guard.Check(ctx, creds, examID)
}

// Start opens a session once the student confirmed: the quota is checked again, the exam is
// loaded and the countdown begins. When the countdown expires the session submits itself.
func (s *AttemptService) Start(ctx context.Context, creds auth.Credentials, examID domain.ID) (*AttemptSession, error) {
	if _, err := s.guard.Check(ctx, creds, examID); err != nil {
		return nil, err
	}
	exam, err := s.loader.Load(ctx, creds, examID)
	if err != nil {
		s.log.Warn().Err(err).Str("exam_id", examID.String()).Str("user_id", creds.UserID.String()).Msg("exam load failed")
		return nil, err
	}

	session := newAttemptSession(uuid.NewString(), creds, exam, s.api, s.clock, s.tick, func(expired *AttemptSession) {
		s.submit(context.Background(), expired, domain.TriggerExpired)
	})

	if err := s.sessions.Add(session); err != nil {
		return nil, err
	}
	// The countdown outlives the request that started it; Leave and submission stop it.
	if err := session.countdown.Start(context.Background()); err != nil {
		s.sessions.Remove(session.id)
		return nil, err
	}

	s.log.Info().
		Str("session_id", session.id).
		Str("exam_id", exam.ID.String()).
		Str("user_id", creds.UserID.String()).
		Dur("time_limit", exam.TimeLimit()).
		Msg("attempt session started")
	return session, nil
}

// Session returns a live session.
func (s *AttemptService) Session(sessionID string) (*AttemptSession, error) {
	session, ok := s.sessions.Get(sessionID)
	if !ok {
		return nil, domain.ErrSessionNotFound
	}
	return session, nil
}

// Answer records a response for a live session.
func (s *AttemptService) Answer(sessionID string, questionID domain.ID, value string) error {
	session, err := s.Session(sessionID)
	if err != nil {
		return err
	}
	return session.answers.Set(questionID, value)
}

// Choose records the chosen alternative for a live session.
func (s *AttemptService) Choose(sessionID string, questionID, alternativeID domain.ID) error {
	session, err := s.Session(sessionID)
	if err != nil {
		return err
	}
	return session.answers.Choose(questionID, alternativeID)
}

// Submit is the student's explicit submission. It returns domain.ErrAlreadySubmitting when a
// submission (manual or on expiry) is already under way.
func (s *AttemptService) Submit(ctx context.Context, sessionID string) (domain.Outcome, error) {
	session, err := s.Session(sessionID)
	if err != nil {
		return domain.Outcome{}, err
	}
	return s.submit(ctx, session, domain.TriggerManual)
}

func (s *AttemptService) submit(ctx context.Context, session *AttemptSession, trigger domain.Trigger) (domain.Outcome, error) {
	out, err := session.coordinator.Submit(ctx, trigger)
	if errors.Is(err, domain.ErrAlreadySubmitting) {
		s.log.Debug().Str("session_id", session.id).Str("trigger", string(trigger)).Msg("duplicate submit ignored")
		return out, err
	}

	// The session is over either way; a failed one keeps its answers until Leave.
	s.sessions.Remove(session.id)
	session.publish()

	event := s.log.Info()
	if err != nil {
		event = s.log.Error().Err(err).Bool("orphaned", out.Orphaned)
	}
	event.
		Str("session_id", session.id).
		Str("exam_id", out.ExamID.String()).
		Str("user_id", out.UserID.String()).
		Str("attempt_id", out.AttemptID.String()).
		Str("trigger", string(trigger)).
		Str("state", out.State.String()).
		Msg("attempt session finished")

	if jerr := s.journal.Record(context.WithoutCancel(ctx), out); jerr != nil {
		s.log.Warn().Err(jerr).Str("session_id", session.id).Msg("journal outcome")
	}
	return out, err
}

// Leave ends the student's presence in a session: the countdown stops and the answers are
// dropped. A submission already in flight keeps running and still reaches its outcome.
func (s *AttemptService) Leave(sessionID string) error {
	session, ok := s.sessions.Get(sessionID)
	if !ok {
		return fmt.Errorf("leave: %w", domain.ErrSessionNotFound)
	}
	s.leave(session)
	return nil
}

// LeaveSession is Leave for a session the caller already holds, including finished ones.
func (s *AttemptService) LeaveSession(session *AttemptSession) {
	s.leave(session)
}

func (s *AttemptService) leave(session *AttemptSession) {
	if !session.markLeft() {
		return
	}
	session.countdown.Cancel()
	if session.State() != domain.StateSubmitting {
		session.answers.Discard()
	}
	if session.State() == domain.StateIdle {
		s.sessions.Remove(session.id)
	}
	s.log.Info().Str("session_id", session.id).Str("state", session.State().String()).Msg("attempt session left")
}

// Orphans lists attempts created on the backend whose answers never arrived.
func (s *AttemptService) Orphans(ctx context.Context) ([]domain.Outcome, error) {
	return s.journal.Orphans(ctx)
}
