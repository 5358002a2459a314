package domain

import "errors"

var (
	// ErrLoad is returned when an exam definition cannot be fetched or is malformed.
	// The session ends; the student has to start again from the listing page.
	ErrLoad = errors.New("exam could not be loaded")
	// ErrQuotaExhausted is returned when the student has no attempts left for an exam.
	ErrQuotaExhausted = errors.New("attempt quota exhausted")
	// ErrSubmission is returned when creating the attempt or submitting its answers failed.
	ErrSubmission = errors.New("submission failed")
	// ErrAlreadySubmitting is returned to every submit trigger that lost the race.
	ErrAlreadySubmitting = errors.New("submission already started")
	// ErrSessionNotFound is returned when an attempt session is unknown or already left.
	ErrSessionNotFound = errors.New("attempt session not found")
	// ErrSessionActive is returned when the user already runs a session for the exam.
	ErrSessionActive = errors.New("attempt session already active")
	// ErrExamNotFound indicates the backend has no such exam.
	ErrExamNotFound = errors.New("exam not found")
	// ErrQuestionNotFound indicates an answer references a question outside the exam.
	ErrQuestionNotFound = errors.New("question not found")
	// ErrAlternativeNotFound indicates a chosen alternative is not part of the question.
	ErrAlternativeNotFound = errors.New("alternative not found")
	// ErrUnauthenticated is returned when no bearer credential is available.
	ErrUnauthenticated = errors.New("missing credentials")
)
