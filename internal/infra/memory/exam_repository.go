package memory

import (
	"context"
	"math/rand"
	"sync"
	"time"

	"attempt-runner/internal/auth"
	"attempt-runner/internal/domain"
	"golang.org/x/sync/singleflight"
)

// ExamLoader fetches exam definitions from the backend.
type ExamLoader interface {
	LoadExam(ctx context.Context, examID domain.ID) (domain.ExamDefinition, error)
}

// ExamRepository caches exam definitions per (exam, credential) so the quota check and the
// session load of one student share a single backend fetch. A definition fetched with one
// student's token is never served to another; calls without credentials bypass the cache.
type ExamRepository struct {
	loader ExamLoader
	ttl    time.Duration
	clock  func() time.Time
	flight singleflight.Group

	mu      sync.Mutex
	entries map[viewKey]cachedExam
}

type viewKey struct {
	examID domain.ID
	viewer string
}

func (k viewKey) String() string { return string(k.examID) + "|" + k.viewer }

type cachedExam struct {
	exam      domain.ExamDefinition
	expiresAt time.Time
}

func NewExamRepository(loader ExamLoader, ttl time.Duration) *ExamRepository {
	return &ExamRepository{
		loader:  loader,
		ttl:     ttl,
		clock:   time.Now,
		entries: make(map[viewKey]cachedExam),
	}
}

func (r *ExamRepository) GetExam(ctx context.Context, examID domain.ID) (domain.ExamDefinition, error) {
	creds, ok := auth.FromContext(ctx)
	if !ok || r.ttl <= 0 {
		return r.loader.LoadExam(ctx, examID)
	}
	key := viewKey{examID: examID, viewer: creds.Fingerprint()}
	if exam, hit := r.get(key); hit {
		return exam, nil
	}

	// Concurrent callers in one flight hold the same token, so sharing the fetch is safe.
	v, err, _ := r.flight.Do(key.String(), func() (interface{}, error) {
		if exam, hit := r.get(key); hit {
			return exam, nil
		}
		exam, err := r.loader.LoadExam(ctx, examID)
		if err != nil {
			return domain.ExamDefinition{}, err
		}
		r.put(key, exam)
		return exam, nil
	})
	if err != nil {
		return domain.ExamDefinition{}, err
	}
	return v.(domain.ExamDefinition), nil
}

// Invalidate drops every cached view of an exam.
func (r *ExamRepository) Invalidate(examID domain.ID) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for key := range r.entries {
		if key.examID == examID {
			delete(r.entries, key)
		}
	}
}

// Len is the number of cached views, expired ones included until the next store.
func (r *ExamRepository) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.entries)
}

func (r *ExamRepository) get(key viewKey) (domain.ExamDefinition, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	entry, ok := r.entries[key]
	if !ok || !r.clock().Before(entry.expiresAt) {
		return domain.ExamDefinition{}, false
	}
	return entry.exam, true
}

func (r *ExamRepository) put(key viewKey, exam domain.ExamDefinition) {
	now := r.clock()
	r.mu.Lock()
	defer r.mu.Unlock()
	// One entry per student adds up; sweep what has expired on every store.
	for k, e := range r.entries {
		if !now.Before(e.expiresAt) {
			delete(r.entries, k)
		}
	}
	// Up to 10% jitter so entries filled together do not expire together.
	jitter := time.Duration(rand.Int63n(int64(r.ttl)/10 + 1))
	r.entries[key] = cachedExam{exam: exam, expiresAt: now.Add(r.ttl + jitter)}
}
