package redis

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"attempt-runner/internal/auth"
	"attempt-runner/internal/domain"
	"attempt-runner/internal/infra/memory"
	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func TestExamRepositoryCachesInRedis(t *testing.T) {
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("run miniredis: %v", err)
	}
	defer mr.Close()

	loader := newCountingLoader()
	repo := NewExamRepository(newClient(mr), loader, time.Minute)
	creds := auth.Credentials{Token: "token-1", UserID: "u1"}
	ctx := auth.WithCredentials(context.Background(), creds)
	key := "attempt:exam:exam-1:" + creds.Fingerprint()

	exam, err := repo.GetExam(ctx, "exam-1")
	if err != nil {
		t.Fatalf("get exam: %v", err)
	}
	if loader.count() != 1 {
		t.Fatalf("expected loader called once, got %d", loader.count())
	}
	if !mr.Exists(key) {
		t.Fatalf("expected exam cached under %s, keys %v", key, mr.Keys())
	}
	if ttl := mr.TTL(key); ttl < time.Minute || ttl > 66*time.Second {
		t.Fatalf("unexpected ttl %s", ttl)
	}

	cached, err := repo.GetExam(ctx, "exam-1")
	if err != nil {
		t.Fatalf("get exam 2: %v", err)
	}
	if loader.count() != 1 {
		t.Fatalf("expected cache hit, loader calls=%d", loader.count())
	}
	if cached.Title != exam.Title || len(cached.Questions) != 1 || cached.Questions[0].Alternatives[1].Text != "4" {
		t.Fatalf("cached exam differs: %+v", cached)
	}
}

func TestExamRepositoryScopesCacheToCredential(t *testing.T) {
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("run miniredis: %v", err)
	}
	defer mr.Close()

	loader := newCountingLoader()
	loader.allow = "teacher-token"
	client := newClient(mr)
	// Two instances sharing one redis behave like one cache.
	first := NewExamRepository(client, loader, time.Minute)
	second := NewExamRepository(client, loader, time.Minute)

	owner := auth.WithCredentials(context.Background(), auth.Credentials{Token: "teacher-token", UserID: "u1"})
	if _, err := first.GetExam(owner, "exam-1"); err != nil {
		t.Fatalf("authorized load: %v", err)
	}
	other := auth.WithCredentials(context.Background(), auth.Credentials{Token: "other-token", UserID: "u2"})
	if _, err := second.GetExam(other, "exam-1"); !errors.Is(err, domain.ErrUnauthenticated) {
		t.Fatalf("second student must reach the backend with its own token, got %v", err)
	}
	if got := loader.seen(); len(got) != 2 || got[0] != "teacher-token" || got[1] != "other-token" {
		t.Fatalf("expected one load per token, backend saw %v", got)
	}
	if keys := mr.Keys(); len(keys) != 1 {
		t.Fatalf("expected only the authorized view cached, got %v", keys)
	}
}

func TestExamRepositoryInvalidateDropsEveryView(t *testing.T) {
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("run miniredis: %v", err)
	}
	defer mr.Close()

	loader := newCountingLoader()
	repo := NewExamRepository(newClient(mr), loader, time.Minute)
	for _, token := range []string{"a", "b"} {
		ctx := auth.WithCredentials(context.Background(), auth.Credentials{Token: token, UserID: domain.ID(token)})
		if _, err := repo.GetExam(ctx, "exam-1"); err != nil {
			t.Fatalf("get exam as %s: %v", token, err)
		}
	}
	_ = mr.Set("attempt:exam:exam-10:x", "{}")

	if err := repo.Invalidate(context.Background(), "exam-1"); err != nil {
		t.Fatalf("invalidate: %v", err)
	}
	if keys := mr.Keys(); len(keys) != 1 || keys[0] != "attempt:exam:exam-10:x" {
		t.Fatalf("expected only the other exam left, got %v", keys)
	}
}

func TestExamRepositorySkipsCacheWithoutCredentials(t *testing.T) {
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("run miniredis: %v", err)
	}
	defer mr.Close()

	loader := newCountingLoader()
	repo := NewExamRepository(newClient(mr), loader, time.Minute)
	_, _ = repo.GetExam(context.Background(), "exam-1")
	_, _ = repo.GetExam(context.Background(), "exam-1")
	if loader.count() != 2 || len(mr.Keys()) != 0 {
		t.Fatalf("anonymous reads must not be cached: calls %d, keys %v", loader.count(), mr.Keys())
	}
}

func TestExamRepositoryIgnoresCorruptEntries(t *testing.T) {
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("run miniredis: %v", err)
	}
	defer mr.Close()

	creds := auth.Credentials{Token: "token-1", UserID: "u1"}
	_ = mr.Set("attempt:exam:exam-1:"+creds.Fingerprint(), "{not json")
	loader := newCountingLoader()
	repo := NewExamRepository(newClient(mr), loader, time.Minute)

	if _, err := repo.GetExam(auth.WithCredentials(context.Background(), creds), "exam-1"); err != nil {
		t.Fatalf("get exam: %v", err)
	}
	if loader.count() != 1 {
		t.Fatalf("expected loader fallback, calls=%d", loader.count())
	}
}

func TestExamRepositorySurvivesRedisOutage(t *testing.T) {
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("run miniredis: %v", err)
	}
	client := newClient(mr)
	mr.Close()

	repo := NewExamRepository(client, newCountingLoader(), time.Minute)
	ctx := auth.WithCredentials(context.Background(), auth.Credentials{Token: "token-1", UserID: "u1"})
	if _, err := repo.GetExam(ctx, "exam-1"); err != nil {
		t.Fatalf("expected loader result despite redis outage, got %v", err)
	}
}

// countingLoader records the token of every load; with allow set it refuses other tokens.
type countingLoader struct {
	ExamLoader
	allow string

	mu     sync.Mutex
	tokens []string
}

func newCountingLoader() *countingLoader {
	return &countingLoader{
		ExamLoader: memory.NewStaticBackend(map[domain.ID]domain.ExamDefinition{"exam-1": sampleExam()}),
	}
}

func (l *countingLoader) LoadExam(ctx context.Context, examID domain.ID) (domain.ExamDefinition, error) {
	creds, _ := auth.FromContext(ctx)
	l.mu.Lock()
	l.tokens = append(l.tokens, creds.Token)
	l.mu.Unlock()
	if l.allow != "" && creds.Token != l.allow {
		return domain.ExamDefinition{}, domain.ErrUnauthenticated
	}
	return l.ExamLoader.LoadExam(ctx, examID)
}

func (l *countingLoader) count() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.tokens)
}

func (l *countingLoader) seen() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]string(nil), l.tokens...)
}

func sampleExam() domain.ExamDefinition {
	return domain.ExamDefinition{
		ID:    "exam-1",
		Title: "Arithmetic",
		Questions: []domain.Question{
			{
				ID:     "q1",
				Prompt: "What is 2 + 2?",
				Type:   domain.SingleChoice,
				Alternatives: []domain.Alternative{
					{ID: "o1", Text: "3"},
					{ID: "o2", Text: "4"},
				},
			},
		},
		TimeLimitMinutes: 10,
		MaxAttempts:      2,
	}
}

func newClient(mr *miniredis.Miniredis) *redis.Client {
	return redis.NewClient(&redis.Options{
		Addr: mr.Addr(),
	})
}
