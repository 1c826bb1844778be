package scheduler

import (
	"context"
	"fmt"
	"sort"

	"go.uber.org/zap"

	"github.com/limiquantix/consolidator/internal/consolidation"
	"github.com/limiquantix/consolidator/internal/domain"
	"github.com/limiquantix/consolidator/internal/fleet"
)

// Scheduler determines which machine should run a new VM.
type Scheduler struct {
	fleet  Fleet
	config Config
	logger *zap.Logger
}

// New creates a new Scheduler instance.
func New(f Fleet, config Config, logger *zap.Logger) (*Scheduler, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}
	return &Scheduler{
		fleet:  f,
		config: config,
		logger: logger.With(zap.String("component", "scheduler")),
	}, nil
}

// ScheduleResult contains the scheduling decision.
type ScheduleResult struct {
	MachineID string
	Score     float64
	// PowerOn is set when the chosen machine is OFF and must be started first.
	PowerOn bool
	Reason  string
}

// Schedule finds the best machine for req without changing the fleet.
func (s *Scheduler) Schedule(ctx context.Context, req domain.Request) (*ScheduleResult, error) {
	logger := s.logger.With(
		zap.String("tenant", req.Tenant()),
		zap.Stringer("requested", req.Resources()),
		zap.Bool("secure_enclave", req.SupportsSecureEnclaves()),
	)

	machines := s.fleet.PhysicalMachines()
	if len(machines) == 0 {
		logger.Warn("No machines available")
		return nil, fmt.Errorf("%w: no machines in fleet", domain.ErrResourceExhausted)
	}

	// 1. Filter running machines by predicates (hard constraints)
	type scoredMachine struct {
		machine consolidation.PhysicalMachine
		score   float64
	}

	var feasible []scoredMachine
	for i, m := range machines {
		if !m.IsRunning() || !s.checkPredicates(m, req) {
			continue
		}
		feasible = append(feasible, scoredMachine{machine: m, score: s.scoreMachine(m, i, req)})
	}

	// 2. Rank by score, keeping fleet order among equal scores
	if len(feasible) > 0 {
		sort.SliceStable(feasible, func(i, j int) bool {
			return feasible[i].score > feasible[j].score
		})
		best := feasible[0]

		logger.Debug("Scheduled VM",
			zap.String("pm_id", best.machine.ID()),
			zap.Float64("score", best.score),
			zap.Int("feasible_machines", len(feasible)),
		)
		return &ScheduleResult{
			MachineID: best.machine.ID(),
			Score:     best.score,
			Reason:    fmt.Sprintf("Best score using %s strategy", s.config.PlacementStrategy),
		}, nil
	}

	// 3. Fall back to the first OFF machine that could take the request
	if s.config.PowerOnWhenFull {
		for _, m := range machines {
			if m.State() != domain.PowerStateOff || !s.checkPredicates(m, req) {
				continue
			}
			logger.Info("No running machine fits, powering on machine", zap.String("pm_id", m.ID()))
			return &ScheduleResult{
				MachineID: m.ID(),
				PowerOn:   true,
				Reason:    "No running machine satisfies requirements",
			}, nil
		}
	}

	logger.Warn("No machines satisfy scheduling requirements", zap.Int("total_machines", len(machines)))
	return nil, fmt.Errorf("%w: no machine satisfies %s (checked %d machines)",
		domain.ErrResourceExhausted, req.Resources(), len(machines))
}

// Admit schedules req, powers on the chosen machine if needed and places the VM.
func (s *Scheduler) Admit(ctx context.Context, req domain.Request) (*fleet.VM, error) {
	result, err := s.Schedule(ctx, req)
	if err != nil {
		return nil, err
	}

	if result.PowerOn {
		if err := s.turnOn(ctx, result.MachineID); err != nil {
			return nil, err
		}
	}

	vm, err := s.fleet.Place(ctx, req, result.MachineID)
	if err != nil {
		return nil, fmt.Errorf("placing request of tenant %s on pm %s: %w", req.Tenant(), result.MachineID, err)
	}
	return vm, nil
}

func (s *Scheduler) turnOn(ctx context.Context, machineID string) error {
	for _, m := range s.fleet.PhysicalMachines() {
		if m.ID() == machineID {
			if err := m.TurnOn(ctx); err != nil {
				return fmt.Errorf("turning on pm %s: %w", machineID, err)
			}
			return nil
		}
	}
	return fmt.Errorf("%w: machine %s: %v", domain.ErrManagement, machineID, domain.ErrNotFound)
}

// checkPredicates applies hard constraints to filter out unsuitable machines.
func (s *Scheduler) checkPredicates(m consolidation.PhysicalMachine, req domain.Request) bool {
	if req.SupportsSecureEnclaves() && !m.IsSecureEnclaveCapable() {
		s.logger.Debug("Machine has no secure enclave", zap.String("pm_id", m.ID()))
		return false
	}

	available := m.Free().Subtract(s.config.headroom())
	if !req.Resources().FitsWithin(available) {
		s.logger.Debug("Insufficient capacity",
			zap.String("pm_id", m.ID()),
			zap.Stringer("available", available),
			zap.Stringer("requested", req.Resources()),
		)
		return false
	}
	return true
}

// scoreMachine calculates a score for the machine based on the placement strategy.
func (s *Scheduler) scoreMachine(m consolidation.PhysicalMachine, index int, req domain.Request) float64 {
	var score float64

	switch s.config.PlacementStrategy {
	case StrategySpread:
		// Higher score for fewer VMs (max 100)
		score = 100.0 - float64(len(m.HostedVMs()))*5.0
		if score < 0 {
			score = 0
		}

	case StrategyPack:
		// Higher score for more VMs, but with diminishing returns
		score = float64(len(m.HostedVMs())) * 10.0
		if score > 100 {
			score = 100
		}

	case StrategyFirstFit:
		score = -float64(index)

	default:
		// Balance: consider remaining capacity, normalized to 0-100
		capacity := m.Capacities()
		free := m.Free()

		cpuScore := 0.0
		if capacity.ProcessingPower > 0 {
			cpuScore = (free.ProcessingPower / capacity.ProcessingPower) * 50
		}
		memScore := 0.0
		if capacity.Memory > 0 {
			memScore = (float64(free.Memory) / float64(capacity.Memory)) * 50
		}
		score = cpuScore + memScore
	}

	// Prefer ordinary machines for requests that need no enclave
	if s.config.PlacementStrategy != StrategyFirstFit && m.IsSecureEnclaveCapable() && !req.SupportsSecureEnclaves() {
		score -= 20.0
	}

	return score
}
