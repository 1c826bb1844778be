package consolidation

import (
	"context"
	"fmt"

	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/limiquantix/consolidator/internal/domain"
)

// MultiTenantName is the strategy name of MultiTenantConsolidator.
const MultiTenantName = "multi-tenant"

// Ensure MultiTenantConsolidator implements Consolidator
var _ Consolidator = (*MultiTenantConsolidator)(nil)

// MultiTenantConsolidator is a consolidator which supports secure enclaves on
// physical machines. A pass runs three phases in order:
//
//  1. minimize the number of active machines by first-fit evacuation,
//  2. merge the load of two ordinary machines onto one secure machine,
//  3. release secure machines whose load no longer needs isolation.
//
// Each commit is one atomic unit: a full evacuation, or one merge.
type MultiTenantConsolidator struct {
	config Config
	logger *zap.Logger
}

// NewMultiTenantConsolidator creates a new secure-enclave-aware consolidator.
func NewMultiTenantConsolidator(cfg Config, logger *zap.Logger) (*MultiTenantConsolidator, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &MultiTenantConsolidator{
		config: cfg,
		logger: logger.With(zap.String("component", "consolidator")),
	}, nil
}

// Name returns the strategy name.
func (c *MultiTenantConsolidator) Name() string {
	return MultiTenantName
}

// Reoptimize runs the three phases over pms. Errors from the substrate end the
// pass; the returned result still lists what was committed before.
func (c *MultiTenantConsolidator) Reoptimize(ctx context.Context, pms []PhysicalMachine) (*PassResult, error) {
	result := &PassResult{}

	if err := c.minimizeActive(ctx, pms, result); err != nil {
		return result, fmt.Errorf("minimizing active pms: %w", err)
	}
	if err := c.mergeOntoSecure(ctx, pms, result); err != nil {
		return result, fmt.Errorf("merging onto secure pm: %w", err)
	}
	if err := c.releaseSecure(ctx, pms, result); err != nil {
		return result, fmt.Errorf("releasing secure pm: %w", err)
	}

	c.logger.Debug("Consolidation pass complete",
		zap.Int("pms", len(pms)),
		zap.Int("migrations", len(result.Migrations)),
		zap.Int("switched_off", len(result.SwitchedOff)),
		zap.Int("switched_on", len(result.SwitchedOn)),
		zap.Bool("interrupted", result.Interrupted),
	)

	return result, nil
}

// stopped reports whether the pass must end before its next unit.
func (c *MultiTenantConsolidator) stopped(ctx context.Context, result *PassResult) bool {
	if ctx.Err() == nil {
		return false
	}
	if !result.Interrupted {
		c.logger.Info("Consolidation pass interrupted", zap.Error(ctx.Err()))
	}
	result.Interrupted = true
	return true
}

// =============================================================================
// Phase 1: active PM minimization
// =============================================================================

func (c *MultiTenantConsolidator) minimizeActive(ctx context.Context, pms []PhysicalMachine, result *PassResult) error {
	for _, source := range pms {
		if c.stopped(ctx, result) {
			return nil
		}
		if !source.IsRunning() {
			continue
		}

		vms := source.HostedVMs()
		if len(vms) == 0 {
			if err := c.switchOff(ctx, source, domain.PhaseMinimize, result); err != nil {
				return err
			}
			continue
		}

		if err := c.evacuate(ctx, source, vms, pms, domain.PhaseMinimize, result, func(pm PhysicalMachine) bool {
			return true
		}); err != nil {
			return err
		}
	}
	return nil
}

// evacuate tries to move every VM of source onto the first running machine
// accepted by eligible that has room for it, then switches source off. When
// any VM has no target, every reservation is dropped and nothing moves.
func (c *MultiTenantConsolidator) evacuate(
	ctx context.Context,
	source PhysicalMachine,
	vms []VirtualMachine,
	pms []PhysicalMachine,
	phase domain.ConsolidationPhase,
	result *PassResult,
	eligible func(PhysicalMachine) bool,
) error {
	plan := newMigrationPlan(source)

	for _, vm := range vms {
		target := firstFit(vm, pms, func(pm PhysicalMachine) bool {
			return pm.ID() != source.ID() && pm.IsRunning() && eligible(pm)
		})
		if target == nil {
			break
		}
		if err := plan.add(vm, target); err != nil {
			return multierr.Append(err, plan.release())
		}
	}

	if !plan.covers(len(vms)) {
		abortedUnitsTotal.WithLabelValues(string(phase)).Inc()
		c.logger.Debug("PM cannot be fully evacuated",
			zap.String("phase", string(phase)),
			zap.String("pm_id", source.ID()),
			zap.Int("vms", len(vms)),
			zap.Int("placed", len(plan.moves)),
		)
		return plan.release()
	}

	commitCtx := context.WithoutCancel(ctx)
	moved, err := plan.commit(commitCtx)
	if err != nil {
		c.logger.Error("Evacuation failed",
			zap.String("phase", string(phase)),
			zap.String("pm_id", source.ID()),
			zap.Error(err),
		)
		return err
	}
	c.recordMoves(phase, source, moved, result)

	return c.switchOff(commitCtx, source, phase, result)
}

// firstFit returns the first machine in scan order accepted by eligible that
// can host vm's allocation.
func firstFit(vm VirtualMachine, pms []PhysicalMachine, eligible func(PhysicalMachine) bool) PhysicalMachine {
	for _, pm := range pms {
		if !eligible(pm) || !canHost(pm, vm) {
			continue
		}
		if pm.IsHostableRequest(vm.Allocation()) {
			return pm
		}
	}
	return nil
}

// =============================================================================
// Phase 2: secure PM consolidation
// =============================================================================

func (c *MultiTenantConsolidator) mergeOntoSecure(ctx context.Context, pms []PhysicalMachine, result *PassResult) error {
	rounds := c.config.MaxMergeRounds
	if rounds == 0 {
		rounds = len(pms)
	}

	for changed := true; changed && rounds > 0; rounds-- {
		changed = false
		if c.stopped(ctx, result) {
			return nil
		}

		securePm := c.config.selectSecure(pms)
		if securePm == nil {
			return nil
		}

		pm1, pm2 := c.findMergePair(securePm, pms)
		if pm1 == nil || pm2 == nil {
			return nil
		}

		c.logger.Info("Secure PM takes load from PMs",
			zap.String("secure_pm_id", securePm.ID()),
			zap.String("pm1_id", pm1.ID()),
			zap.String("pm2_id", pm2.ID()),
		)

		if err := c.merge(context.WithoutCancel(ctx), securePm, pm1, pm2, result); err != nil {
			c.logger.Error("Secure merge failed",
				zap.String("secure_pm_id", securePm.ID()),
				zap.String("pm1_id", pm1.ID()),
				zap.String("pm2_id", pm2.ID()),
				zap.Error(err),
			)
			return err
		}
		changed = true
	}
	return nil
}

// findMergePair scans all ordered pairs of distinct mergeable machines and
// returns the last pair whose summed occupied resources fit in securePm's
// headroom. The scan keeps overwriting its choice; it is not a best-fit search.
// Machines hosting a VM that securePm may not host are never chosen.
func (c *MultiTenantConsolidator) findMergePair(securePm PhysicalMachine, pms []PhysicalMachine) (PhysicalMachine, PhysicalMachine) {
	headroom := securePm.Free()

	var chosen1, chosen2 PhysicalMachine
	for _, pm1 := range pms {
		if !c.config.mergeable(pm1, securePm) || !hostsAll(securePm, pm1.HostedVMs()) {
			continue
		}
		for _, pm2 := range pms {
			if pm1.ID() == pm2.ID() || !c.config.mergeable(pm2, securePm) || !hostsAll(securePm, pm2.HostedVMs()) {
				continue
			}
			if pm1.Occupied().Add(pm2.Occupied()).FitsWithin(headroom) {
				chosen1, chosen2 = pm1, pm2
			}
		}
	}
	return chosen1, chosen2
}

// merge powers securePm on, moves all VMs of pm1 and pm2 onto it and powers
// both sources off. A failed migration sends moved VMs back to their source.
func (c *MultiTenantConsolidator) merge(ctx context.Context, securePm, pm1, pm2 PhysicalMachine, result *PassResult) error {
	turnedOn := false
	if !securePm.IsRunning() {
		if err := securePm.TurnOn(ctx); err != nil {
			return fmt.Errorf("turning on pm %s: %w", securePm.ID(), err)
		}
		turnedOn = true
	}

	type sourceMoves struct {
		source PhysicalMachine
		moved  []plannedMove
	}
	var done []sourceMoves

	undo := func(cause error) error {
		errs := cause
		for i := len(done) - 1; i >= 0; i-- {
			errs = multierr.Append(errs, moveBack(ctx, done[i].source, done[i].moved))
		}
		if turnedOn && len(securePm.HostedVMs()) == 0 {
			errs = multierr.Append(errs, securePm.SwitchOff(ctx))
		}
		return errs
	}

	for _, source := range []PhysicalMachine{pm1, pm2} {
		entry := sourceMoves{source: source}
		for _, vm := range source.HostedVMs() {
			if err := source.MigrateVM(ctx, vm, securePm); err != nil {
				done = append(done, entry)
				return undo(fmt.Errorf("migrating vm %s from pm %s to pm %s: %w", vm.ID(), source.ID(), securePm.ID(), err))
			}
			entry.moved = append(entry.moved, plannedMove{vm: vm, target: securePm})
		}
		done = append(done, entry)
	}

	if turnedOn {
		result.SwitchedOn = append(result.SwitchedOn, securePm.ID())
		switchedOnTotal.WithLabelValues(string(domain.PhaseSecure)).Inc()
	}
	for _, d := range done {
		c.recordMoves(domain.PhaseSecure, d.source, d.moved, result)
	}
	for _, source := range []PhysicalMachine{pm1, pm2} {
		if err := c.switchOff(ctx, source, domain.PhaseSecure, result); err != nil {
			return err
		}
	}
	return nil
}

// =============================================================================
// Phase 3: secure PM release
// =============================================================================

// releaseSecure moves the load of secure machines that no longer host any
// enclave-requiring VM onto ordinary machines, freeing the secure machine.
// Only running ordinary machines are targets, with the same all-or-nothing
// first-fit as phase 1, so a release never powers a machine on and always
// lowers the active count. Secure machines powered on by phase 2 of the same
// pass are left alone.
func (c *MultiTenantConsolidator) releaseSecure(ctx context.Context, pms []PhysicalMachine, result *PassResult) error {
	if c.config.ReleasePolicy == ReleaseNone {
		return nil
	}

	mergedThisPass := make(map[string]bool, len(result.SwitchedOn))
	for _, id := range result.SwitchedOn {
		mergedThisPass[id] = true
	}

	ordinary := func(target PhysicalMachine) bool {
		return !target.IsSecureEnclaveCapable()
	}

	for _, pm := range pms {
		if c.stopped(ctx, result) {
			return nil
		}
		if mergedThisPass[pm.ID()] || !c.config.releasable(pm) {
			continue
		}

		if err := c.evacuate(ctx, pm, pm.HostedVMs(), pms, domain.PhaseRelease, result, ordinary); err != nil {
			return err
		}
	}
	return nil
}

// =============================================================================
// Helpers
// =============================================================================

func (c *MultiTenantConsolidator) switchOff(ctx context.Context, pm PhysicalMachine, phase domain.ConsolidationPhase, result *PassResult) error {
	if err := pm.SwitchOff(ctx); err != nil {
		return fmt.Errorf("switching off pm %s: %w", pm.ID(), err)
	}
	result.SwitchedOff = append(result.SwitchedOff, pm.ID())
	switchedOffTotal.WithLabelValues(string(phase)).Inc()

	c.logger.Debug("PM switched off", zap.String("phase", string(phase)), zap.String("pm_id", pm.ID()))
	return nil
}

func (c *MultiTenantConsolidator) recordMoves(phase domain.ConsolidationPhase, source PhysicalMachine, moved []plannedMove, result *PassResult) {
	for _, m := range moved {
		result.Migrations = append(result.Migrations, Migration{
			Phase:    phase,
			VMID:     m.vm.ID(),
			SourceID: source.ID(),
			TargetID: m.target.ID(),
		})
	}
	migrationsTotal.WithLabelValues(string(phase)).Add(float64(len(moved)))
}
