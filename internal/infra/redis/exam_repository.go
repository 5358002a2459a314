package redis

import (
	"context"
	"encoding/json"
	"math/rand"
	"time"

	"attempt-runner/internal/auth"
	"attempt-runner/internal/domain"
	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/singleflight"
)

// ExamLoader fetches exam definitions from the backend.
type ExamLoader interface {
	LoadExam(ctx context.Context, examID domain.ID) (domain.ExamDefinition, error)
}

// ExamRepository caches exam definitions in Redis, one JSON value per exam and credential:
//
//	SET attempt:exam:{examID}:{tokenFingerprint} {json} EX ttl
//
// Instances share the cache but a student only ever reads entries filled with their own
// token. Calls without credentials go straight to the loader. A Redis failure only costs
// a backend fetch.
type ExamRepository struct {
	client *redis.Client
	loader ExamLoader
	ttl    time.Duration
	flight singleflight.Group
}

func NewExamRepository(client *redis.Client, loader ExamLoader, ttl time.Duration) *ExamRepository {
	return &ExamRepository{client: client, loader: loader, ttl: ttl}
}

func (r *ExamRepository) GetExam(ctx context.Context, examID domain.ID) (domain.ExamDefinition, error) {
	creds, ok := auth.FromContext(ctx)
	if !ok || r.ttl <= 0 {
		return r.loader.LoadExam(ctx, examID)
	}
	key := examKey(examID, creds.Fingerprint())
	if exam, hit := r.cached(ctx, key); hit {
		return exam, nil
	}

	result, err, _ := r.flight.Do(key, func() (interface{}, error) {
		// Another instance may have filled it meanwhile.
		if exam, hit := r.cached(ctx, key); hit {
			return exam, nil
		}
		exam, err := r.loader.LoadExam(ctx, examID)
		if err != nil {
			return domain.ExamDefinition{}, err
		}
		if raw, err := json.Marshal(exam); err == nil {
			_ = r.client.Set(ctx, key, raw, r.expiry()).Err()
		}
		return exam, nil
	})
	if err != nil {
		return domain.ExamDefinition{}, err
	}
	return result.(domain.ExamDefinition), nil
}

// Invalidate drops every cached copy of an exam, whichever credential filled it.
func (r *ExamRepository) Invalidate(ctx context.Context, examID domain.ID) error {
	iter := r.client.Scan(ctx, 0, examKey(examID, "*"), 100).Iterator()
	var keys []string
	for iter.Next(ctx) {
		keys = append(keys, iter.Val())
	}
	if err := iter.Err(); err != nil {
		return err
	}
	if len(keys) == 0 {
		return nil
	}
	return r.client.Del(ctx, keys...).Err()
}

func (r *ExamRepository) cached(ctx context.Context, key string) (domain.ExamDefinition, bool) {
	raw, err := r.client.Get(ctx, key).Bytes()
	if err != nil {
		return domain.ExamDefinition{}, false
	}
	var exam domain.ExamDefinition
	if err := json.Unmarshal(raw, &exam); err != nil {
		// Unreadable entry counts as a miss; the next fill overwrites it.
		return domain.ExamDefinition{}, false
	}
	return exam, true
}

// expiry adds up to 10% jitter to the ttl.
func (r *ExamRepository) expiry() time.Duration {
	return r.ttl + time.Duration(rand.Int63n(int64(r.ttl)/10+1))
}

func examKey(examID domain.ID, viewer string) string {
	return "attempt:exam:" + string(examID) + ":" + viewer
}
