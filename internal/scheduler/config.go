// Package scheduler implements initial VM placement. It decides which machine
// of the fleet receives a newly admitted request, before any consolidation
// pass reshuffles the load.
package scheduler

import (
	"fmt"

	"github.com/limiquantix/consolidator/internal/domain"
)

// Placement strategies.
const (
	StrategySpread   = "spread"
	StrategyPack     = "pack"
	StrategyFirstFit = "first_fit"
	StrategyBalance  = "balance"
)

// Config holds the scheduler configuration.
type Config struct {
	// PlacementStrategy determines how VMs are distributed across machines.
	// - "spread": prefer machines with fewer VMs
	// - "pack": prefer machines with more VMs
	// - "first_fit": take the first feasible machine in fleet order
	// - "balance": prefer machines with the most remaining capacity
	PlacementStrategy string `mapstructure:"placement_strategy"`

	// ReservedProcessingPower is held back on every machine at admission time.
	ReservedProcessingPower float64 `mapstructure:"reserved_processing_power"`

	// ReservedMemory is held back on every machine at admission time.
	ReservedMemory int64 `mapstructure:"reserved_memory"`

	// PowerOnWhenFull allows powering on an OFF machine when no running
	// machine can take a request.
	PowerOnWhenFull bool `mapstructure:"power_on_when_full"`
}

// DefaultConfig returns the default scheduler configuration.
func DefaultConfig() Config {
	return Config{
		PlacementStrategy: StrategyFirstFit,
		PowerOnWhenFull:   true,
	}
}

// Validate checks the configuration.
func (c Config) Validate() error {
	switch c.PlacementStrategy {
	case StrategySpread, StrategyPack, StrategyFirstFit, StrategyBalance:
	default:
		return fmt.Errorf("%w: unknown placement strategy %q", domain.ErrInvalidArgument, c.PlacementStrategy)
	}
	if c.ReservedProcessingPower < 0 || c.ReservedMemory < 0 {
		return fmt.Errorf("%w: reserved headroom must not be negative", domain.ErrInvalidArgument)
	}
	return nil
}

func (c Config) headroom() domain.Resources {
	return domain.NewResources(c.ReservedProcessingPower, c.ReservedMemory)
}
