package app

import (
	"fmt"
	"sync"

	"attempt-runner/internal/domain"
)

// AnswerBuffer holds a student's in-progress responses, one per question.
type AnswerBuffer struct {
	exam ExamView

	mu        sync.RWMutex
	answers   map[domain.ID]string
	discarded bool
}

func NewAnswerBuffer(exam ExamView) *AnswerBuffer {
	return &AnswerBuffer{
		exam:    exam,
		answers: make(map[domain.ID]string),
	}
}

// Set records value as the response to questionID, replacing any earlier one.
// An empty value leaves the question blank.
func (b *AnswerBuffer) Set(questionID domain.ID, value string) error {
	if _, ok := b.exam.Exam().Question(questionID); !ok {
		return fmt.Errorf("%w: %s", domain.ErrQuestionNotFound, questionID)
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	if b.discarded {
		return domain.ErrSessionNotFound
	}
	b.answers[questionID] = value
	return nil
}

// Choose records the text of the chosen alternative as the response to a single-choice question.
func (b *AnswerBuffer) Choose(questionID, alternativeID domain.ID) error {
	question, ok := b.exam.Exam().Question(questionID)
	if !ok {
		return fmt.Errorf("%w: %s", domain.ErrQuestionNotFound, questionID)
	}
	alt, ok := question.Alternative(alternativeID)
	if !ok {
		return fmt.Errorf("%w: %s", domain.ErrAlternativeNotFound, alternativeID)
	}
	return b.Set(questionID, alt.Text)
}

// Get returns the current response, or "" when the question is blank.
func (b *AnswerBuffer) Get(questionID domain.ID) string {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.answers[questionID]
}

// Payload lists the answered questions in exam order. Blank questions are left out.
func (b *AnswerBuffer) Payload() []domain.AnswerEntry {
	exam := b.exam.Exam()

	b.mu.RLock()
	defer b.mu.RUnlock()

	payload := make([]domain.AnswerEntry, 0, len(b.answers))
	for _, q := range exam.Questions {
		value := b.answers[q.ID]
		if value == "" {
			continue
		}
		payload = append(payload, domain.AnswerEntry{QuestionID: q.ID, StudentAnswer: value})
	}
	return payload
}

// Len is the number of answered questions.
func (b *AnswerBuffer) Len() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	n := 0
	for _, v := range b.answers {
		if v != "" {
			n++
		}
	}
	return n
}

// Discard drops every response. Later writes fail.
func (b *AnswerBuffer) Discard() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.discarded = true
	b.answers = make(map[domain.ID]string)
}
