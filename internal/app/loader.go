package app

import (
	"context"
	"fmt"
	"reflect"
	"strings"

	"attempt-runner/internal/auth"
	"attempt-runner/internal/domain"
	"github.com/go-playground/validator/v10"
)

// Loader fetches the exam definition for one session. It never retries: a failed load ends
// the flow and the student starts over.
type Loader struct {
	exams    ExamRepository
	validate *validator.Validate
}

func NewLoader(exams ExamRepository) *Loader {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	return &Loader{exams: exams, validate: v}
}

// Load returns the exam definition or an error wrapping domain.ErrLoad.
// A missing time budget becomes domain.DefaultTimeLimitMinutes.
func (l *Loader) Load(ctx context.Context, creds auth.Credentials, examID domain.ID) (domain.ExamDefinition, error) {
	if !creds.Valid() {
		return domain.ExamDefinition{}, fmt.Errorf("%w: %w", domain.ErrLoad, domain.ErrUnauthenticated)
	}
	exam, err := l.exams.GetExam(auth.WithCredentials(ctx, creds), examID)
	if err != nil {
		return domain.ExamDefinition{}, fmt.Errorf("%w: %w", domain.ErrLoad, err)
	}
	if err := l.check(exam); err != nil {
		return domain.ExamDefinition{}, fmt.Errorf("%w: exam %s: %w", domain.ErrLoad, examID, err)
	}

	if exam.TimeLimitMinutes <= 0 {
		exam.TimeLimitMinutes = domain.DefaultTimeLimitMinutes
	}
	return exam, nil
}

func (l *Loader) check(exam domain.ExamDefinition) error {
	if err := l.validate.Struct(exam); err != nil {
		return err
	}
	seen := make(map[domain.ID]struct{}, len(exam.Questions))
	for _, q := range exam.Questions {
		if _, dup := seen[q.ID]; dup {
			return fmt.Errorf("duplicate question %s", q.ID)
		}
		seen[q.ID] = struct{}{}
		if q.Type == domain.SingleChoice && len(q.Alternatives) == 0 {
			return fmt.Errorf("question %s has no alternatives", q.ID)
		}
	}
	return nil
}
