// Package consolidation implements fleet-wide VM consolidation passes.
// A pass re-examines every physical machine, migrates VMs and powers machines
// on or off to reduce the number of active machines while honoring capacity
// limits and secure enclave requirements.
package consolidation

import (
	"context"

	"github.com/limiquantix/consolidator/internal/domain"
)

// VirtualMachine is the engine's view of a VM.
type VirtualMachine interface {
	ID() string
	// Allocation returns the resources held by the VM. The engine never changes it.
	Allocation() domain.Resources
	// Host returns the ID of the machine currently hosting the VM.
	Host() string
	// RequiresSecureEnclave is true when the VM's tenant asked for hardware isolation.
	RequiresSecureEnclave() bool
}

// PhysicalMachine is the engine's view of a host, backed by the resource
// accounting substrate.
type PhysicalMachine interface {
	ID() string

	// HostedVMs returns the VMs currently placed on the machine.
	HostedVMs() []VirtualMachine

	// IsHostableRequest reports whether demand fits in the remaining headroom,
	// taking in-flight reservations into account.
	IsHostableRequest(demand domain.Resources) bool

	// Reserve holds demand against the headroom without placing anything.
	Reserve(demand domain.Resources) error

	// Release returns a reservation made with Reserve.
	Release(demand domain.Resources) error

	// MigrateVM moves vm from this machine onto target. It is atomic from the
	// caller's point of view.
	MigrateVM(ctx context.Context, vm VirtualMachine, target PhysicalMachine) error

	// SwitchOff powers the machine down. It fails on a machine still hosting VMs.
	SwitchOff(ctx context.Context) error

	// TurnOn powers the machine up.
	TurnOn(ctx context.Context) error

	Capacities() domain.Resources
	// Occupied returns the resources consumed by hosted VMs.
	Occupied() domain.Resources
	// Free returns capacity minus occupied minus reservations.
	Free() domain.Resources

	State() domain.PowerState
	IsRunning() bool
	IsSecureEnclaveCapable() bool
}

// Consolidator runs one consolidation pass over the current fleet. The
// periodic trigger holds this interface, not a concrete algorithm.
type Consolidator interface {
	// Name returns the strategy name.
	Name() string

	// Reoptimize computes and applies a new placement for pms. The order of pms
	// is the scan order used by first-fit decisions.
	Reoptimize(ctx context.Context, pms []PhysicalMachine) (*PassResult, error)
}

// Migration is a committed VM move.
type Migration struct {
	Phase    domain.ConsolidationPhase
	VMID     string
	SourceID string
	TargetID string
}

// PassResult collects the committed changes of a pass. On error it holds
// everything committed before the failing unit.
type PassResult struct {
	Migrations  []Migration
	SwitchedOff []string
	SwitchedOn  []string
	// Interrupted is set when the pass stopped early on its context.
	Interrupted bool
}

// Changed reports whether the pass altered the fleet.
func (r *PassResult) Changed() bool {
	return len(r.Migrations) > 0 || len(r.SwitchedOff) > 0 || len(r.SwitchedOn) > 0
}
