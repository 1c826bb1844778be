// Package fleet provides the in-memory resource accounting substrate that
// consolidation passes operate on. It tracks machine capacities, VM
// allocations, reservations and power states, and performs migrations.
package fleet

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/limiquantix/consolidator/internal/consolidation"
	"github.com/limiquantix/consolidator/internal/domain"
)

// MigrationFault decides whether a migration fails, simulating a network
// fault between source and target. It is called with the fleet locked and
// must not call back into the fleet.
type MigrationFault func(vmID, sourceID, targetID string) error

// Fleet is the set of physical machines and the VMs placed on them.
type Fleet struct {
	mu       sync.RWMutex
	order    []string
	machines map[string]*Machine
	vms      map[string]*VM
	fault    MigrationFault
	logger   *zap.Logger
}

// New creates an empty fleet.
func New(logger *zap.Logger) *Fleet {
	return &Fleet{
		machines: make(map[string]*Machine),
		vms:      make(map[string]*VM),
		logger:   logger.With(zap.String("component", "fleet")),
	}
}

// SetMigrationFault installs a fault injector. A nil fault disables injection.
func (f *Fleet) SetMigrationFault(fault MigrationFault) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.fault = fault
}

// AddMachine registers a physical machine. Machines keep registration order.
func (f *Fleet) AddMachine(spec domain.MachineSpec) (*Machine, error) {
	if spec.ID == "" {
		return nil, fmt.Errorf("%w: machine id is required", domain.ErrInvalidArgument)
	}
	if spec.Capacities.IsNegative() {
		return nil, fmt.Errorf("%w: machine %s has negative capacity", domain.ErrInvalidArgument, spec.ID)
	}

	state := spec.InitialState
	switch state {
	case "":
		state = domain.PowerStateOff
	case domain.PowerStateOff, domain.PowerStateRunning:
	default:
		return nil, fmt.Errorf("%w: machine %s cannot start in state %s", domain.ErrInvalidArgument, spec.ID, state)
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	if _, ok := f.machines[spec.ID]; ok {
		return nil, fmt.Errorf("machine %s: %w", spec.ID, domain.ErrAlreadyExists)
	}

	m := &Machine{
		fleet: f,
		spec:  spec,
		state: state,
		vms:   make(map[string]*VM),
	}
	f.machines[spec.ID] = m
	f.order = append(f.order, spec.ID)

	return m, nil
}

// Machine returns a machine by ID.
func (f *Fleet) Machine(id string) (*Machine, error) {
	f.mu.RLock()
	defer f.mu.RUnlock()

	m, ok := f.machines[id]
	if !ok {
		return nil, fmt.Errorf("machine %s: %w", id, domain.ErrNotFound)
	}
	return m, nil
}

// Machines returns all machines in registration order.
func (f *Fleet) Machines() []*Machine {
	f.mu.RLock()
	defer f.mu.RUnlock()

	result := make([]*Machine, 0, len(f.order))
	for _, id := range f.order {
		result = append(result, f.machines[id])
	}
	return result
}

// PhysicalMachines returns the fleet as the consolidation engine sees it.
func (f *Fleet) PhysicalMachines() []consolidation.PhysicalMachine {
	machines := f.Machines()
	result := make([]consolidation.PhysicalMachine, len(machines))
	for i, m := range machines {
		result[i] = m
	}
	return result
}

// Place creates a VM for req on the given machine.
func (f *Fleet) Place(ctx context.Context, req domain.Request, machineID string) (*VM, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	m, ok := f.machines[machineID]
	if !ok {
		return nil, fmt.Errorf("%w: machine %s: %v", domain.ErrManagement, machineID, domain.ErrNotFound)
	}
	if m.state != domain.PowerStateRunning {
		return nil, fmt.Errorf("%w: machine %s is %s", domain.ErrManagement, machineID, m.state)
	}
	if req.SupportsSecureEnclaves() && !m.spec.SecureEnclave {
		return nil, fmt.Errorf("%w: machine %s has no secure enclave", domain.ErrManagement, machineID)
	}
	if !req.Resources().FitsWithin(m.freeLocked()) {
		return nil, fmt.Errorf("%w: %s does not fit on machine %s (free %s)",
			domain.ErrResourceViolation, req.Resources(), machineID, m.freeLocked())
	}

	vm := &VM{
		fleet:      f,
		id:         uuid.New().String(),
		tenant:     req.Tenant(),
		allocation: req.Resources(),
		secure:     req.SupportsSecureEnclaves(),
		endTime:    req.EndTime(),
		host:       machineID,
	}
	f.vms[vm.id] = vm
	m.attach(vm)

	f.logger.Debug("VM placed",
		zap.String("vm_id", vm.id),
		zap.String("tenant", vm.tenant),
		zap.String("pm_id", machineID),
		zap.Stringer("allocation", vm.allocation),
	)
	return vm, nil
}

// Remove deletes a VM from its host.
func (f *Fleet) Remove(ctx context.Context, vmID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	vm, ok := f.vms[vmID]
	if !ok {
		return fmt.Errorf("vm %s: %w", vmID, domain.ErrNotFound)
	}
	if m, ok := f.machines[vm.host]; ok {
		m.detach(vm)
	}
	delete(f.vms, vmID)
	return nil
}

// VM returns a VM by ID.
func (f *Fleet) VM(id string) (*VM, error) {
	f.mu.RLock()
	defer f.mu.RUnlock()

	vm, ok := f.vms[id]
	if !ok {
		return nil, fmt.Errorf("vm %s: %w", id, domain.ErrNotFound)
	}
	return vm, nil
}

// VMs returns all VMs of the fleet.
func (f *Fleet) VMs() []*VM {
	f.mu.RLock()
	defer f.mu.RUnlock()

	result := make([]*VM, 0, len(f.vms))
	for _, id := range f.order {
		result = append(result, f.machines[id].vmsLocked()...)
	}
	return result
}

// ActiveCount returns the number of machines that are not OFF.
func (f *Fleet) ActiveCount() int {
	f.mu.RLock()
	defer f.mu.RUnlock()

	count := 0
	for _, m := range f.machines {
		if m.state != domain.PowerStateOff {
			count++
		}
	}
	return count
}

// PowerDraw returns the summed static draw of all running machines, in watts.
func (f *Fleet) PowerDraw() float64 {
	f.mu.RLock()
	defer f.mu.RUnlock()

	var watts float64
	for _, m := range f.machines {
		if m.state != domain.PowerStateOff {
			watts += m.spec.PowerWatts
		}
	}
	return watts
}

// Snapshot returns a copy of every machine's state in registration order.
func (f *Fleet) Snapshot() []domain.MachineSnapshot {
	f.mu.RLock()
	defer f.mu.RUnlock()

	result := make([]domain.MachineSnapshot, 0, len(f.order))
	for _, id := range f.order {
		m := f.machines[id]
		snap := domain.MachineSnapshot{
			ID:            m.spec.ID,
			State:         m.state,
			SecureEnclave: m.spec.SecureEnclave,
			Capacities:    m.spec.Capacities,
			Occupied:      m.occupied,
			Reserved:      m.reserved,
		}
		for _, vm := range m.vmsLocked() {
			snap.VMIDs = append(snap.VMIDs, vm.id)
		}
		result = append(result, snap)
	}
	return result
}

// migrate moves vm from source to target. Called with f.mu held.
func (f *Fleet) migrate(source *Machine, vm *VM, targetID string) error {
	if vm.host != source.spec.ID {
		return fmt.Errorf("%w: vm %s is not hosted on machine %s", domain.ErrManagement, vm.id, source.spec.ID)
	}
	target, ok := f.machines[targetID]
	if !ok {
		return fmt.Errorf("%w: machine %s: %v", domain.ErrManagement, targetID, domain.ErrNotFound)
	}
	if target == source {
		return fmt.Errorf("%w: vm %s already on machine %s", domain.ErrManagement, vm.id, targetID)
	}
	if target.state != domain.PowerStateRunning {
		return fmt.Errorf("%w: target machine %s is %s", domain.ErrManagement, targetID, target.state)
	}
	if vm.secure && !target.spec.SecureEnclave {
		return fmt.Errorf("%w: vm %s requires a secure enclave, machine %s has none", domain.ErrManagement, vm.id, targetID)
	}
	if !vm.allocation.FitsWithin(target.freeLocked()) {
		return fmt.Errorf("%w: vm %s %s does not fit on machine %s (free %s)",
			domain.ErrResourceViolation, vm.id, vm.allocation, targetID, target.freeLocked())
	}
	if f.fault != nil {
		if err := f.fault(vm.id, source.spec.ID, targetID); err != nil {
			return fmt.Errorf("%w: vm %s from %s to %s: %v", domain.ErrMigration, vm.id, source.spec.ID, targetID, err)
		}
	}

	source.detach(vm)
	target.attach(vm)
	vm.host = targetID
	return nil
}
