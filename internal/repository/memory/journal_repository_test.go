package memory

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/limiquantix/consolidator/internal/domain"
)

func TestJournalRepository(t *testing.T) {
	ctx := context.Background()
	repo := NewJournalRepository()

	first := &domain.PassSummary{ID: "pass-1", SwitchedOff: []string{"pm-1"}}
	require.NoError(t, repo.RecordPass(ctx, first, []domain.MigrationRecord{
		{PassID: "pass-1", Phase: domain.PhaseMinimize, VMID: "vm-1", SourceID: "pm-1", TargetID: "pm-2"},
		{PassID: "pass-1", Phase: domain.PhaseMinimize, VMID: "vm-2", SourceID: "pm-1", TargetID: "pm-2"},
	}))
	require.NoError(t, repo.RecordPass(ctx, &domain.PassSummary{ID: "pass-2"}, nil))

	assert.ErrorIs(t, repo.RecordPass(ctx, &domain.PassSummary{ID: "pass-1"}, nil), domain.ErrAlreadyExists)

	// Stored copies are isolated from the caller
	first.SwitchedOff[0] = "changed"

	passes, err := repo.ListPasses(ctx, 0)
	require.NoError(t, err)
	require.Len(t, passes, 2)
	assert.Equal(t, "pass-2", passes[0].ID)
	assert.Equal(t, []string{"pm-1"}, passes[1].SwitchedOff)

	passes, err = repo.ListPasses(ctx, 1)
	require.NoError(t, err)
	require.Len(t, passes, 1)
	assert.Equal(t, "pass-2", passes[0].ID)

	records, err := repo.ListMigrations(ctx, "pass-1")
	require.NoError(t, err)
	require.Len(t, records, 2)
	assert.Equal(t, "vm-1", records[0].VMID)

	records, err = repo.ListMigrations(ctx, "pass-2")
	require.NoError(t, err)
	assert.Empty(t, records)

	_, err = repo.ListMigrations(ctx, "pass-9")
	assert.ErrorIs(t, err, domain.ErrNotFound)

	count, err := repo.CountMigrations(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, count)
}
