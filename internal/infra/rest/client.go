package rest

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"attempt-runner/internal/auth"
	"attempt-runner/internal/domain"
)

// DefaultTimeout bounds every backend call when no other timeout is configured.
const DefaultTimeout = 15 * time.Second

// StatusError is a non-2xx answer from the backend.
type StatusError struct {
	Method string
	Path   string
	Status int
	Body   string
}

func (e *StatusError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("%s %s: HTTP %d", e.Method, e.Path, e.Status)
	}
	return fmt.Sprintf("%s %s: HTTP %d: %s", e.Method, e.Path, e.Status, e.Body)
}

// Client talks to the exam platform's REST API on behalf of the student whose credentials
// travel on the request context (see auth.WithCredentials).
type Client struct {
	baseURL    string
	httpClient *http.Client
}

// Option configures the client.
type Option func(*Client)

// WithHTTPClient replaces the underlying HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.httpClient = hc }
}

// WithTimeout sets the per-request timeout.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) {
		if d > 0 {
			c.httpClient.Timeout = d
		}
	}
}

func NewClient(baseURL string, opts ...Option) *Client {
	c := &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{Timeout: DefaultTimeout},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

type alternativeDTO struct {
	ID   domain.ID `json:"id"`
	Text string    `json:"text"`
	// The wire also carries "correct"; it is never decoded.
}

type questionDTO struct {
	ID           domain.ID        `json:"id"`
	Statement    string           `json:"statement"`
	QuestionType string           `json:"question_type"`
	Alternatives []alternativeDTO `json:"alternatives"`
}

type simulationDTO struct {
	ID          domain.ID     `json:"id"`
	Title       string        `json:"title"`
	TimeLimit   int           `json:"time_limit"`
	MaxAttempts int           `json:"max_attempts"`
	Questions   []questionDTO `json:"questions"`
}

type attemptDTO struct {
	ID domain.ID `json:"id"`
}

func (s simulationDTO) toDomain() domain.ExamDefinition {
	exam := domain.ExamDefinition{
		ID:               s.ID,
		Title:            s.Title,
		TimeLimitMinutes: s.TimeLimit,
		MaxAttempts:      s.MaxAttempts,
		Questions:        make([]domain.Question, 0, len(s.Questions)),
	}
	for _, q := range s.Questions {
		question := domain.Question{
			ID:     q.ID,
			Prompt: q.Statement,
			Type:   questionType(q.QuestionType),
		}
		for _, alt := range q.Alternatives {
			question.Alternatives = append(question.Alternatives, domain.Alternative{ID: alt.ID, Text: alt.Text})
		}
		exam.Questions = append(exam.Questions, question)
	}
	return exam
}

// questionType maps the platform's labels. Unknown labels pass through and fail validation.
func questionType(raw string) domain.QuestionType {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "objetiva", "single-choice", "multiple_choice":
		return domain.SingleChoice
	case "discursiva", "free-response", "essay":
		return domain.FreeResponse
	}
	return domain.QuestionType(raw)
}

// LoadExam fetches the exam definition. 404 maps to domain.ErrExamNotFound.
func (c *Client) LoadExam(ctx context.Context, examID domain.ID) (domain.ExamDefinition, error) {
	var dto simulationDTO
	if err := c.do(ctx, http.MethodGet, "/simulations/"+url.PathEscape(examID.String()), nil, &dto); err != nil {
		var status *StatusError
		if errors.As(err, &status) && status.Status == http.StatusNotFound {
			return domain.ExamDefinition{}, fmt.Errorf("%w: %s", domain.ErrExamNotFound, examID)
		}
		return domain.ExamDefinition{}, err
	}
	return dto.toDomain(), nil
}

// GetExam lets the client serve as an uncached exam repository.
func (c *Client) GetExam(ctx context.Context, examID domain.ID) (domain.ExamDefinition, error) {
	return c.LoadExam(ctx, examID)
}

// CountAttempts returns how many attempts the backend lists for the user on the exam.
func (c *Client) CountAttempts(ctx context.Context, examID, userID domain.ID) (int, error) {
	q := url.Values{}
	q.Set("simulation_id", examID.String())
	q.Set("user_id", userID.String())

	var attempts []json.RawMessage
	if err := c.do(ctx, http.MethodGet, "/attempts?"+q.Encode(), nil, &attempts); err != nil {
		return 0, err
	}
	return len(attempts), nil
}

// CreateAttempt registers a new attempt and returns its id.
func (c *Client) CreateAttempt(ctx context.Context, examID domain.ID) (domain.ID, error) {
	body := map[string]any{"attempt": map[string]any{"simulation_id": examID}}

	var created attemptDTO
	if err := c.do(ctx, http.MethodPost, "/attempts", body, &created); err != nil {
		return "", err
	}
	if created.ID == "" {
		return "", errors.New("create attempt: response carries no id")
	}
	return created.ID, nil
}

// SubmitAnswers sends the answer payload of an attempt.
func (c *Client) SubmitAnswers(ctx context.Context, attemptID domain.ID, answers []domain.AnswerEntry) error {
	if answers == nil {
		answers = []domain.AnswerEntry{}
	}
	body := map[string]any{"answers": answers}
	return c.do(ctx, http.MethodPost, "/attempts/"+url.PathEscape(attemptID.String())+"/submit_answers", body, nil)
}

func (c *Client) do(ctx context.Context, method, path string, in, out any) error {
	creds, ok := auth.FromContext(ctx)
	if !ok {
		return fmt.Errorf("%s %s: %w", method, path, domain.ErrUnauthenticated)
	}

	var body io.Reader
	if in != nil {
		raw, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("marshal request: %w", err)
		}
		body = bytes.NewReader(raw)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	creds.Authorize(req)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return &StatusError{Method: method, Path: path, Status: resp.StatusCode, Body: strings.TrimSpace(string(truncate(raw, 256)))}
	}
	if out == nil || len(bytes.TrimSpace(raw)) == 0 {
		return nil
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("decode %s %s: %w", method, path, err)
	}
	return nil
}

func truncate(b []byte, n int) []byte {
	if len(b) > n {
		return b[:n]
	}
	return b
}
