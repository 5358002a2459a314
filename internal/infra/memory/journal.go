package memory

import (
	"context"
	"sync"

	"attempt-runner/internal/domain"
)

// Journal keeps session outcomes in memory, for tests and single-process deployments.
type Journal struct {
	mu       sync.RWMutex
	outcomes []domain.Outcome
}

func NewJournal() *Journal {
	return &Journal{}
}

func (j *Journal) Record(_ context.Context, outcome domain.Outcome) error {
	j.mu.Lock()
	j.outcomes = append(j.outcomes, outcome)
	j.mu.Unlock()
	return nil
}

func (j *Journal) Orphans(_ context.Context) ([]domain.Outcome, error) {
	j.mu.RLock()
	defer j.mu.RUnlock()
	var orphans []domain.Outcome
	for _, o := range j.outcomes {
		if o.Orphaned {
			orphans = append(orphans, o)
		}
	}
	return orphans, nil
}

// Outcomes returns every recorded outcome in recording order.
func (j *Journal) Outcomes() []domain.Outcome {
	j.mu.RLock()
	defer j.mu.RUnlock()
	return append([]domain.Outcome(nil), j.outcomes...)
}
