package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"go.uber.org/zap"

	"github.com/limiquantix/consolidator/internal/domain"
	"github.com/limiquantix/consolidator/internal/drs"
)

// Ensure JournalRepository implements drs.JournalRepository
var _ drs.JournalRepository = (*JournalRepository)(nil)

// uniqueViolation is the PostgreSQL error code for duplicate keys.
const uniqueViolation = "23505"

// JournalRepository stores consolidation passes and their migrations.
type JournalRepository struct {
	db     *DB
	logger *zap.Logger
}

// NewJournalRepository creates a new PostgreSQL journal.
func NewJournalRepository(db *DB, logger *zap.Logger) *JournalRepository {
	return &JournalRepository{
		db:     db,
		logger: logger.With(zap.String("repository", "journal")),
	}
}

// RecordPass stores a pass and its migrations in one transaction.
func (r *JournalRepository) RecordPass(ctx context.Context, summary *domain.PassSummary, migrations []domain.MigrationRecord) error {
	err := r.db.InTx(ctx, func(tx pgx.Tx) error {
		query := `
			INSERT INTO consolidation_passes (
				id, consolidator, started_at, duration_ms, migrations,
				switched_off, switched_on, active_before, active_after, interrupted, error
			) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		`

		_, err := tx.Exec(ctx, query,
			summary.ID,
			summary.Consolidator,
			summary.StartedAt,
			summary.Duration.Milliseconds(),
			summary.Migrations,
			nonNil(summary.SwitchedOff),
			nonNil(summary.SwitchedOn),
			summary.ActiveBefore,
			summary.ActiveAfter,
			summary.Interrupted,
			nullString(summary.Error),
		)
		if err != nil {
			var pgErr *pgconn.PgError
			if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
				return domain.ErrAlreadyExists
			}
			return fmt.Errorf("failed to insert pass: %w", err)
		}

		if len(migrations) == 0 {
			return nil
		}
		batch := &pgx.Batch{}
		for i, m := range migrations {
			batch.Queue(`
				INSERT INTO migration_journal (pass_id, seq, phase, vm_id, source_id, target_id, created_at)
				VALUES ($1, $2, $3, $4, $5, $6, $7)
			`, m.PassID, i, string(m.Phase), m.VMID, m.SourceID, m.TargetID, m.CreatedAt)
		}
		if err := tx.SendBatch(ctx, batch).Close(); err != nil {
			return fmt.Errorf("failed to insert migrations: %w", err)
		}
		return nil
	})
	if err != nil {
		if !errors.Is(err, domain.ErrAlreadyExists) {
			r.logger.Error("Failed to record pass", zap.String("pass_id", summary.ID), zap.Error(err))
		}
		return err
	}

	r.logger.Debug("Recorded pass",
		zap.String("pass_id", summary.ID),
		zap.Int("migrations", len(migrations)),
	)
	return nil
}

// ListPasses returns up to limit passes, newest first. A limit of zero or
// less returns every pass.
func (r *JournalRepository) ListPasses(ctx context.Context, limit int) ([]*domain.PassSummary, error) {
	query := `
		SELECT id, consolidator, started_at, duration_ms, migrations,
		       switched_off, switched_on, active_before, active_after, interrupted, error
		FROM consolidation_passes
		ORDER BY started_at DESC
	`
	args := []interface{}{}
	if limit > 0 {
		query += " LIMIT $1"
		args = append(args, limit)
	}

	rows, err := r.db.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query passes: %w", err)
	}
	defer rows.Close()

	var passes []*domain.PassSummary
	for rows.Next() {
		var (
			s          domain.PassSummary
			durationMs int64
			errText    *string
		)
		if err := rows.Scan(
			&s.ID, &s.Consolidator, &s.StartedAt, &durationMs, &s.Migrations,
			&s.SwitchedOff, &s.SwitchedOn, &s.ActiveBefore, &s.ActiveAfter, &s.Interrupted, &errText,
		); err != nil {
			return nil, fmt.Errorf("failed to scan pass: %w", err)
		}
		s.Duration = time.Duration(durationMs) * time.Millisecond
		if errText != nil {
			s.Error = *errText
		}
		passes = append(passes, &s)
	}

	return passes, rows.Err()
}

// ListMigrations returns the migrations of a pass in commit order.
func (r *JournalRepository) ListMigrations(ctx context.Context, passID string) ([]domain.MigrationRecord, error) {
	var exists bool
	if err := r.db.pool.QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM consolidation_passes WHERE id = $1)`, passID,
	).Scan(&exists); err != nil {
		return nil, fmt.Errorf("failed to look up pass: %w", err)
	}
	if !exists {
		return nil, domain.ErrNotFound
	}

	query := `
		SELECT pass_id, phase, vm_id, source_id, target_id, created_at
		FROM migration_journal
		WHERE pass_id = $1
		ORDER BY seq
	`

	rows, err := r.db.pool.Query(ctx, query, passID)
	if err != nil {
		return nil, fmt.Errorf("failed to query migrations: %w", err)
	}
	defer rows.Close()

	var records []domain.MigrationRecord
	for rows.Next() {
		var (
			m     domain.MigrationRecord
			phase string
		)
		if err := rows.Scan(&m.PassID, &phase, &m.VMID, &m.SourceID, &m.TargetID, &m.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan migration: %w", err)
		}
		m.Phase = domain.ConsolidationPhase(phase)
		records = append(records, m)
	}

	return records, rows.Err()
}

// CountMigrations returns the number of migrations across all passes.
func (r *JournalRepository) CountMigrations(ctx context.Context) (int, error) {
	var count int
	if err := r.db.pool.QueryRow(ctx, `SELECT COUNT(*) FROM migration_journal`).Scan(&count); err != nil {
		return 0, fmt.Errorf("failed to count migrations: %w", err)
	}
	return count, nil
}

func nullString(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}
