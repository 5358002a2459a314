package domain

import "time"

// DefaultTimeLimitMinutes is the time budget of an exam that does not declare one.
const DefaultTimeLimitMinutes = 60

// DefaultMaxAttempts is the attempt quota of an exam that does not declare one.
const DefaultMaxAttempts = 1

// QuestionType tells how a question is answered.
type QuestionType string

const (
	SingleChoice QuestionType = "single-choice"
	FreeResponse QuestionType = "free-response"
)

// Alternative is one option of a single-choice question. Correctness is not part of it.
type Alternative struct {
	ID   ID     `json:"id" validate:"required"`
	Text string `json:"text"`
}

// Question models a single exam question.
type Question struct {
	ID           ID            `json:"id" validate:"required"`
	Prompt       string        `json:"prompt"`
	Type         QuestionType  `json:"type" validate:"oneof=single-choice free-response"`
	Alternatives []Alternative `json:"alternatives,omitempty" validate:"dive"`
}

// Alternative returns the alternative with the given id.
func (q Question) Alternative(id ID) (Alternative, bool) {
	for _, alt := range q.Alternatives {
		if alt.ID == id {
			return alt, true
		}
	}
	return Alternative{}, false
}

// ExamDefinition is the immutable description of an exam for one attempt session.
type ExamDefinition struct {
	ID               ID         `json:"id" validate:"required"`
	Title            string     `json:"title"`
	Questions        []Question `json:"questions" validate:"dive"`
	TimeLimitMinutes int        `json:"timeLimitMinutes"`
	MaxAttempts      int        `json:"maxAttempts"`
}

// TimeLimit returns the time budget, falling back to DefaultTimeLimitMinutes.
func (e ExamDefinition) TimeLimit() time.Duration {
	minutes := e.TimeLimitMinutes
	if minutes <= 0 {
		minutes = DefaultTimeLimitMinutes
	}
	return time.Duration(minutes) * time.Minute
}

// Quota returns the maximum number of attempts, falling back to DefaultMaxAttempts.
func (e ExamDefinition) Quota() int {
	if e.MaxAttempts <= 0 {
		return DefaultMaxAttempts
	}
	return e.MaxAttempts
}

// Question returns the question with the given id.
func (e ExamDefinition) Question(id ID) (Question, bool) {
	for _, q := range e.Questions {
		if q.ID == id {
			return q, true
		}
	}
	return Question{}, false
}

// AnswerEntry is one answered question in a submission payload.
type AnswerEntry struct {
	QuestionID    ID     `json:"question_id"`
	StudentAnswer string `json:"student_answer"`
}

// SubmissionState is the lifecycle of a submission. It only moves forward.
type SubmissionState int32

const (
	StateIdle SubmissionState = iota
	StateSubmitting
	StateSubmitted
	StateFailed
)

func (s SubmissionState) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateSubmitting:
		return "submitting"
	case StateSubmitted:
		return "submitted"
	case StateFailed:
		return "failed"
	}
	return "unknown"
}

func (s SubmissionState) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// Terminal reports whether no further transition is possible.
func (s SubmissionState) Terminal() bool {
	return s == StateSubmitted || s == StateFailed
}

// Trigger is what started a submission.
type Trigger string

const (
	TriggerManual  Trigger = "manual"
	TriggerExpired Trigger = "expired"
)

// Notice is the user-facing message kind attached to an outcome.
type Notice string

const (
	NoticeSubmitted   Notice = "submitted"
	NoticeTimeExpired Notice = "time-expired"
	NoticeFailed      Notice = "failed"
)

// Outcome is the terminal result of one attempt session.
type Outcome struct {
	SessionID  string          `json:"sessionId"`
	ExamID     ID              `json:"examId"`
	UserID     ID              `json:"userId"`
	AttemptID  ID              `json:"attemptId,omitempty"`
	Trigger    Trigger         `json:"trigger"`
	State      SubmissionState `json:"state"`
	Notice     Notice          `json:"notice"`
	Orphaned   bool            `json:"orphaned"`
	Err        error           `json:"-"`
	FinishedAt time.Time       `json:"finishedAt"`
}

// Snapshot is what observers of a running session see on every tick.
type Snapshot struct {
	SessionID string          `json:"sessionId"`
	Remaining int             `json:"remaining"`
	State     SubmissionState `json:"state"`
}
