// Package simulation replays a workload against the fleet on a simulated
// clock, running a consolidation pass every tick.
package simulation

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"go.uber.org/zap"

	"github.com/limiquantix/consolidator/internal/config"
	"github.com/limiquantix/consolidator/internal/domain"
	"github.com/limiquantix/consolidator/internal/fleet"
	"github.com/limiquantix/consolidator/internal/report"
)

// Fleet is the placement state the simulator observes and retires VMs from.
type Fleet interface {
	VMs() []*fleet.VM
	Remove(ctx context.Context, vmID string) error
	ActiveCount() int
	PowerDraw() float64
}

// Admitter places new requests.
type Admitter interface {
	Admit(ctx context.Context, req domain.Request) (*fleet.VM, error)
}

// PassRunner runs one consolidation pass.
type PassRunner interface {
	RunPass(ctx context.Context) (*domain.PassSummary, error)
}

// Result is the outcome of a simulation run.
type Result struct {
	Stats *report.Stats
	// Ticks is the number of simulated steps taken.
	Ticks int
	// Rejected counts requests no machine could host.
	Rejected int
	// Retired counts VMs removed after their duration elapsed.
	Retired int
}

// Simulator drives the fleet through a workload.
type Simulator struct {
	fleet     Fleet
	scheduler Admitter
	engine    PassRunner
	config    config.SimulationConfig
	logger    *zap.Logger
}

// New creates a simulator.
func New(f Fleet, scheduler Admitter, engine PassRunner, cfg config.SimulationConfig, logger *zap.Logger) (*Simulator, error) {
	if cfg.Tick <= 0 {
		return nil, fmt.Errorf("%w: tick must be positive", domain.ErrInvalidArgument)
	}
	if cfg.MaxTicks < 0 {
		return nil, fmt.Errorf("%w: max ticks must not be negative", domain.ErrInvalidArgument)
	}
	return &Simulator{
		fleet:     f,
		scheduler: scheduler,
		engine:    engine,
		config:    cfg,
		logger:    logger.With(zap.String("component", "simulation")),
	}, nil
}

// Run replays requests until every one of them has finished or MaxTicks is
// reached. Each tick retires expired VMs, admits due requests, runs one
// consolidation pass and samples the fleet.
func (s *Simulator) Run(ctx context.Context, requests []domain.Request) (*Result, error) {
	pending := make([]domain.Request, len(requests))
	copy(pending, requests)
	sort.SliceStable(pending, func(i, j int) bool {
		return pending[i].StartTime() < pending[j].StartTime()
	})

	result := &Result{Stats: &report.Stats{}}
	started := time.Now()
	defer func() {
		result.Stats.Elapsed = time.Since(started)
	}()

	s.logger.Info("Starting simulation",
		zap.Int("requests", len(pending)),
		zap.Float64("tick", s.config.Tick),
		zap.Int("max_ticks", s.config.MaxTicks),
	)

	next := 0
	for s.config.MaxTicks == 0 || result.Ticks < s.config.MaxTicks {
		if err := ctx.Err(); err != nil {
			return result, err
		}
		now := float64(result.Ticks) * s.config.Tick

		if err := s.retire(ctx, now, result); err != nil {
			return result, err
		}

		for next < len(pending) && pending[next].StartTime() <= now {
			if err := s.admit(ctx, pending[next], result); err != nil {
				return result, err
			}
			next++
		}

		summary, err := s.engine.RunPass(ctx)
		if summary != nil {
			result.Stats.AddPass(summary)
		}
		if err != nil {
			return result, fmt.Errorf("tick %d: %w", result.Ticks, err)
		}

		result.Stats.Sample(s.fleet.ActiveCount(), s.fleet.PowerDraw(), s.config.Tick)
		result.Ticks++

		if next == len(pending) && len(s.fleet.VMs()) == 0 {
			break
		}
	}

	s.logger.Info("Simulation finished",
		zap.Int("ticks", result.Ticks),
		zap.Int("vms", result.Stats.AmountOfVMs),
		zap.Int("rejected", result.Rejected),
		zap.Int("migrations", result.Stats.Migrations),
		zap.Float64("average_active_pms", result.Stats.AverageActivePMs()),
	)
	return result, nil
}

func (s *Simulator) retire(ctx context.Context, now float64, result *Result) error {
	for _, vm := range s.fleet.VMs() {
		if vm.EndTime() > now {
			continue
		}
		if err := s.fleet.Remove(ctx, vm.ID()); err != nil {
			return fmt.Errorf("retiring vm %s: %w", vm.ID(), err)
		}
		result.Retired++
	}
	return nil
}

func (s *Simulator) admit(ctx context.Context, req domain.Request, result *Result) error {
	vm, err := s.scheduler.Admit(ctx, req)
	if errors.Is(err, domain.ErrResourceExhausted) {
		s.logger.Warn("Request rejected",
			zap.String("tenant", req.Tenant()),
			zap.Stringer("requested", req.Resources()),
			zap.Error(err),
		)
		result.Rejected++
		return nil
	}
	if err != nil {
		return fmt.Errorf("admitting request of tenant %s: %w", req.Tenant(), err)
	}

	s.logger.Debug("Request admitted",
		zap.String("tenant", req.Tenant()),
		zap.String("vm_id", vm.ID()),
		zap.String("pm_id", vm.Host()),
	)
	result.Stats.AddVMs(1)
	return nil
}
