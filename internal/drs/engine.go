// Package drs implements the periodic consolidation trigger. It runs
// consolidation passes on a schedule, serializes them across replicas and
// records their outcome.
package drs

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/limiquantix/consolidator/internal/config"
	"github.com/limiquantix/consolidator/internal/consolidation"
	"github.com/limiquantix/consolidator/internal/domain"
	"github.com/limiquantix/consolidator/internal/fleet"
)

// ErrNotLeader is returned by RunPass on a replica that does not hold leadership.
var ErrNotLeader = errors.New("not leader")

// Fleet is the placement state a pass operates on.
type Fleet interface {
	PhysicalMachines() []consolidation.PhysicalMachine
	ActiveCount() int
	Snapshot() []domain.MachineSnapshot
}

// JournalRepository defines the interface for pass and migration history.
type JournalRepository interface {
	RecordPass(ctx context.Context, summary *domain.PassSummary, migrations []domain.MigrationRecord) error
	ListPasses(ctx context.Context, limit int) ([]*domain.PassSummary, error)
	ListMigrations(ctx context.Context, passID string) ([]domain.MigrationRecord, error)
}

// PassCache publishes the latest pass outcome for readers outside the engine.
type PassCache interface {
	SetLastPass(ctx context.Context, summary *domain.PassSummary) error
	SetFleetSnapshot(ctx context.Context, snapshot []domain.MachineSnapshot) error
}

// PassLock serializes passes across replicas. Lock returns the function that
// releases the lock.
type PassLock interface {
	Lock(ctx context.Context) (func(context.Context) error, error)
}

// Admitter places new requests on the fleet.
type Admitter interface {
	Admit(ctx context.Context, req domain.Request) (*fleet.VM, error)
}

// LeaderChecker checks if this instance is the leader.
type LeaderChecker interface {
	IsLeader() bool
}

// Stats aggregates the passes run by an engine.
type Stats struct {
	Passes       int
	FailedPasses int
	Migrations   int
	TotalTime    time.Duration
}

// Engine runs consolidation passes on a schedule.
type Engine struct {
	config        config.ConsolidationConfig
	consolidator  consolidation.Consolidator
	fleet         Fleet
	journal       JournalRepository
	cache         PassCache
	lock          PassLock
	leaderChecker LeaderChecker
	admitter      Admitter
	logger        *zap.Logger

	// passMu serializes passes and admissions within the process.
	passMu sync.Mutex

	mu        sync.RWMutex
	isRunning bool
	lastPass  *domain.PassSummary
	stats     Stats
}

// NewEngine creates a new consolidation trigger.
func NewEngine(
	cfg config.ConsolidationConfig,
	consolidator consolidation.Consolidator,
	fleet Fleet,
	journal JournalRepository,
	logger *zap.Logger,
) *Engine {
	return &Engine{
		config:       cfg,
		consolidator: consolidator,
		fleet:        fleet,
		journal:      journal,
		logger:       logger.With(zap.String("component", "drs")),
	}
}

// SetLeaderChecker restricts passes to the elected leader.
func (e *Engine) SetLeaderChecker(checker LeaderChecker) {
	e.leaderChecker = checker
}

// SetPassLock installs a distributed lock taken around every pass.
func (e *Engine) SetPassLock(lock PassLock) {
	e.lock = lock
}

// SetCache installs a cache that receives every pass summary.
func (e *Engine) SetCache(cache PassCache) {
	e.cache = cache
}

// SetAdmitter installs the placement path used by Admit.
func (e *Engine) SetAdmitter(admitter Admitter) {
	e.admitter = admitter
}

// Admit places req through the installed admitter. It waits for a running
// pass to finish, so no placement lands on a machine while a pass is
// emptying it.
func (e *Engine) Admit(ctx context.Context, req domain.Request) (*fleet.VM, error) {
	if e.admitter == nil {
		return nil, fmt.Errorf("%w: no admitter configured", domain.ErrUnavailable)
	}

	e.passMu.Lock()
	defer e.passMu.Unlock()

	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return e.admitter.Admit(ctx, req)
}

// Start begins the consolidation loop. It blocks until ctx is done.
func (e *Engine) Start(ctx context.Context) {
	if !e.config.Enabled {
		e.logger.Info("Consolidation disabled")
		return
	}

	e.mu.Lock()
	if e.isRunning {
		e.mu.Unlock()
		return
	}
	e.isRunning = true
	e.mu.Unlock()

	e.logger.Info("Starting consolidation engine",
		zap.String("consolidator", e.consolidator.Name()),
		zap.Duration("interval", e.config.Interval),
		zap.Duration("pass_timeout", e.config.PassTimeout),
		zap.String("secure_selection", string(e.config.Engine.SecureSelection)),
		zap.String("release_policy", string(e.config.Engine.ReleasePolicy)),
	)

	ticker := time.NewTicker(e.config.Interval)
	defer ticker.Stop()

	// Run initial pass
	e.runScheduled(ctx)

	for {
		select {
		case <-ctx.Done():
			e.logger.Info("Consolidation engine stopped")
			e.mu.Lock()
			e.isRunning = false
			e.mu.Unlock()
			return
		case <-ticker.C:
			e.runScheduled(ctx)
		}
	}
}

func (e *Engine) runScheduled(ctx context.Context) {
	if _, err := e.RunPass(ctx); err != nil {
		if errors.Is(err, ErrNotLeader) {
			e.logger.Debug("Not leader, skipping consolidation pass")
			return
		}
		e.logger.Error("Consolidation pass failed", zap.Error(err))
	}
}

// RunPass runs a single consolidation pass and records its outcome. The
// returned summary is non-nil whenever the pass started, even on error.
func (e *Engine) RunPass(ctx context.Context) (*domain.PassSummary, error) {
	if e.leaderChecker != nil && !e.leaderChecker.IsLeader() {
		return nil, ErrNotLeader
	}

	e.passMu.Lock()
	defer e.passMu.Unlock()

	if e.lock != nil {
		unlock, err := e.lock.Lock(ctx)
		if err != nil {
			return nil, fmt.Errorf("%w: acquiring pass lock: %v", domain.ErrUnavailable, err)
		}
		defer func() {
			if err := unlock(context.WithoutCancel(ctx)); err != nil {
				e.logger.Warn("Failed to release pass lock", zap.Error(err))
			}
		}()
	}

	passCtx := ctx
	if e.config.PassTimeout > 0 {
		var cancel context.CancelFunc
		passCtx, cancel = context.WithTimeout(ctx, e.config.PassTimeout)
		defer cancel()
	}

	summary := &domain.PassSummary{
		ID:           uuid.New().String(),
		Consolidator: e.consolidator.Name(),
		StartedAt:    time.Now(),
		ActiveBefore: e.fleet.ActiveCount(),
	}
	logger := e.logger.With(zap.String("pass_id", summary.ID))
	logger.Debug("Running consolidation pass", zap.Int("active_pms", summary.ActiveBefore))

	result, passErr := e.consolidator.Reoptimize(passCtx, e.fleet.PhysicalMachines())
	if result == nil {
		result = &consolidation.PassResult{}
	}

	summary.Duration = time.Since(summary.StartedAt)
	summary.Migrations = len(result.Migrations)
	summary.SwitchedOff = result.SwitchedOff
	summary.SwitchedOn = result.SwitchedOn
	summary.Interrupted = result.Interrupted
	summary.ActiveAfter = e.fleet.ActiveCount()
	if passErr != nil {
		summary.Error = passErr.Error()
	}

	records := make([]domain.MigrationRecord, 0, len(result.Migrations))
	for _, m := range result.Migrations {
		records = append(records, domain.MigrationRecord{
			PassID:    summary.ID,
			Phase:     m.Phase,
			VMID:      m.VMID,
			SourceID:  m.SourceID,
			TargetID:  m.TargetID,
			CreatedAt: summary.StartedAt.Add(summary.Duration),
		})
	}

	e.observe(summary, passErr)

	// The fleet has already changed; record it even if the caller gave up.
	recordCtx := context.WithoutCancel(ctx)
	var err error
	if passErr != nil {
		err = fmt.Errorf("pass %s: %w", summary.ID, passErr)
	}
	if journalErr := e.journal.RecordPass(recordCtx, summary, records); journalErr != nil {
		logger.Error("Failed to record consolidation pass", zap.Error(journalErr))
		err = multierr.Append(err, fmt.Errorf("recording pass %s: %w", summary.ID, journalErr))
	}
	e.publish(recordCtx, logger, summary)

	if passErr != nil {
		logger.Error("Consolidation pass aborted",
			zap.Int("migrations", summary.Migrations),
			zap.Error(passErr),
		)
	} else {
		logger.Info("Consolidation pass complete",
			zap.Int("migrations", summary.Migrations),
			zap.Int("active_before", summary.ActiveBefore),
			zap.Int("active_after", summary.ActiveAfter),
			zap.Bool("interrupted", summary.Interrupted),
			zap.Duration("duration", summary.Duration),
		)
	}

	return summary, err
}

// observe updates stats and metrics for a finished pass.
func (e *Engine) observe(summary *domain.PassSummary, passErr error) {
	outcome := "completed"
	switch {
	case passErr != nil:
		outcome = "failed"
	case summary.Interrupted:
		outcome = "interrupted"
	}
	passesTotal.WithLabelValues(outcome).Inc()
	passDuration.Observe(summary.Duration.Seconds())
	activePMs.Set(float64(summary.ActiveAfter))

	e.mu.Lock()
	defer e.mu.Unlock()

	e.lastPass = summary
	e.stats.Passes++
	e.stats.Migrations += summary.Migrations
	e.stats.TotalTime += summary.Duration
	if passErr != nil {
		e.stats.FailedPasses++
	}
}

func (e *Engine) publish(ctx context.Context, logger *zap.Logger, summary *domain.PassSummary) {
	if e.cache == nil {
		return
	}
	if err := e.cache.SetLastPass(ctx, summary); err != nil {
		logger.Warn("Failed to cache pass summary", zap.Error(err))
	}
	if err := e.cache.SetFleetSnapshot(ctx, e.fleet.Snapshot()); err != nil {
		logger.Warn("Failed to cache fleet snapshot", zap.Error(err))
	}
}

// LastPass returns the summary of the most recent pass, or nil.
func (e *Engine) LastPass() *domain.PassSummary {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.lastPass
}

// Stats returns the accumulated pass statistics.
func (e *Engine) Stats() Stats {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.stats
}

// IsRunning returns true while the loop started by Start is active.
func (e *Engine) IsRunning() bool {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.isRunning
}
