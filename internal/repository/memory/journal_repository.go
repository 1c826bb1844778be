// Package memory provides in-memory repository implementations for simulations and testing.
package memory

import (
	"context"
	"sync"

	"github.com/limiquantix/consolidator/internal/domain"
	"github.com/limiquantix/consolidator/internal/drs"
)

// Ensure JournalRepository implements drs.JournalRepository
var _ drs.JournalRepository = (*JournalRepository)(nil)

// JournalRepository is an in-memory, append-only pass journal.
type JournalRepository struct {
	mu         sync.RWMutex
	passes     []*domain.PassSummary
	migrations map[string][]domain.MigrationRecord
}

// NewJournalRepository creates a new in-memory journal.
func NewJournalRepository() *JournalRepository {
	return &JournalRepository{
		migrations: make(map[string][]domain.MigrationRecord),
	}
}

// RecordPass appends a pass and its migrations.
func (r *JournalRepository) RecordPass(ctx context.Context, summary *domain.PassSummary, migrations []domain.MigrationRecord) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.migrations[summary.ID]; ok {
		return domain.ErrAlreadyExists
	}

	// Clone to avoid external mutations
	r.passes = append(r.passes, clonePass(summary))
	r.migrations[summary.ID] = append([]domain.MigrationRecord(nil), migrations...)

	return nil
}

// ListPasses returns up to limit passes, newest first. A limit of zero or
// less returns every pass.
func (r *JournalRepository) ListPasses(ctx context.Context, limit int) ([]*domain.PassSummary, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	n := len(r.passes)
	if limit > 0 && limit < n {
		n = limit
	}

	result := make([]*domain.PassSummary, 0, n)
	for i := len(r.passes) - 1; i >= 0 && len(result) < n; i-- {
		result = append(result, clonePass(r.passes[i]))
	}
	return result, nil
}

// ListMigrations returns the migrations of a pass in commit order.
func (r *JournalRepository) ListMigrations(ctx context.Context, passID string) ([]domain.MigrationRecord, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	records, ok := r.migrations[passID]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return append([]domain.MigrationRecord(nil), records...), nil
}

// CountMigrations returns the number of migrations across all passes.
func (r *JournalRepository) CountMigrations(ctx context.Context) (int, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	total := 0
	for _, records := range r.migrations {
		total += len(records)
	}
	return total, nil
}

func clonePass(s *domain.PassSummary) *domain.PassSummary {
	clone := *s
	clone.SwitchedOff = append([]string(nil), s.SwitchedOff...)
	clone.SwitchedOn = append([]string(nil), s.SwitchedOn...)
	return &clone
}
