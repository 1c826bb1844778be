package fleet

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/limiquantix/consolidator/internal/consolidation"
	"github.com/limiquantix/consolidator/internal/domain"
)

// Ensure Machine implements consolidation.PhysicalMachine
var _ consolidation.PhysicalMachine = (*Machine)(nil)

// Machine is a physical machine of the fleet. All state is guarded by the
// owning fleet's lock.
type Machine struct {
	fleet *Fleet
	spec  domain.MachineSpec
	state domain.PowerState

	vms      map[string]*VM
	vmOrder  []string
	occupied domain.Resources
	reserved domain.Resources
}

// ID returns the machine ID.
func (m *Machine) ID() string {
	return m.spec.ID
}

// Spec returns the machine's static description.
func (m *Machine) Spec() domain.MachineSpec {
	return m.spec
}

// HostedVMs returns the VMs on the machine in placement order.
func (m *Machine) HostedVMs() []consolidation.VirtualMachine {
	m.fleet.mu.RLock()
	defer m.fleet.mu.RUnlock()

	vms := m.vmsLocked()
	result := make([]consolidation.VirtualMachine, len(vms))
	for i, vm := range vms {
		result[i] = vm
	}
	return result
}

// IsHostableRequest reports whether demand fits in the free capacity.
func (m *Machine) IsHostableRequest(demand domain.Resources) bool {
	m.fleet.mu.RLock()
	defer m.fleet.mu.RUnlock()

	return demand.FitsWithin(m.freeLocked())
}

// Reserve holds demand against the free capacity.
func (m *Machine) Reserve(demand domain.Resources) error {
	m.fleet.mu.Lock()
	defer m.fleet.mu.Unlock()

	if demand.IsNegative() {
		return fmt.Errorf("%w: negative reservation %s", domain.ErrInvalidArgument, demand)
	}
	if !demand.FitsWithin(m.freeLocked()) {
		return fmt.Errorf("%w: reservation %s exceeds free %s on machine %s",
			domain.ErrResourceViolation, demand, m.freeLocked(), m.spec.ID)
	}
	m.reserved = m.reserved.Add(demand)
	return nil
}

// Release returns a reservation.
func (m *Machine) Release(demand domain.Resources) error {
	m.fleet.mu.Lock()
	defer m.fleet.mu.Unlock()

	if !demand.FitsWithin(m.reserved) {
		return fmt.Errorf("%w: releasing %s but only %s reserved on machine %s",
			domain.ErrManagement, demand, m.reserved, m.spec.ID)
	}
	m.reserved = m.reserved.Subtract(demand)
	return nil
}

// MigrateVM moves vm from this machine onto target.
func (m *Machine) MigrateVM(ctx context.Context, vm consolidation.VirtualMachine, target consolidation.PhysicalMachine) error {
	m.fleet.mu.Lock()
	defer m.fleet.mu.Unlock()

	own, ok := m.fleet.vms[vm.ID()]
	if !ok {
		return fmt.Errorf("%w: vm %s: %v", domain.ErrManagement, vm.ID(), domain.ErrNotFound)
	}
	if err := m.fleet.migrate(m, own, target.ID()); err != nil {
		return err
	}

	m.fleet.logger.Debug("VM migrated",
		zap.String("vm_id", own.id),
		zap.String("source_pm_id", m.spec.ID),
		zap.String("target_pm_id", target.ID()),
	)
	return nil
}

// SwitchOff powers the machine down. The machine must be running, empty and
// free of reservations.
func (m *Machine) SwitchOff(ctx context.Context) error {
	m.fleet.mu.Lock()
	defer m.fleet.mu.Unlock()

	if m.state != domain.PowerStateRunning {
		return fmt.Errorf("%w: cannot switch off machine %s in state %s", domain.ErrManagement, m.spec.ID, m.state)
	}
	if len(m.vms) > 0 {
		return fmt.Errorf("%w: machine %s still hosts %d vms", domain.ErrManagement, m.spec.ID, len(m.vms))
	}
	if !m.reserved.IsZero() {
		return fmt.Errorf("%w: machine %s has pending reservations %s", domain.ErrManagement, m.spec.ID, m.reserved)
	}

	// Transitions complete immediately in the simulated substrate.
	m.state = domain.PowerStateOff
	return nil
}

// TurnOn powers the machine up.
func (m *Machine) TurnOn(ctx context.Context) error {
	m.fleet.mu.Lock()
	defer m.fleet.mu.Unlock()

	if m.state != domain.PowerStateOff {
		return fmt.Errorf("%w: cannot turn on machine %s in state %s", domain.ErrManagement, m.spec.ID, m.state)
	}
	m.state = domain.PowerStateRunning
	return nil
}

// Capacities returns the total capacity.
func (m *Machine) Capacities() domain.Resources {
	return m.spec.Capacities
}

// Occupied returns the resources allocated to hosted VMs.
func (m *Machine) Occupied() domain.Resources {
	m.fleet.mu.RLock()
	defer m.fleet.mu.RUnlock()
	return m.occupied
}

// Free returns capacity minus occupied minus reservations.
func (m *Machine) Free() domain.Resources {
	m.fleet.mu.RLock()
	defer m.fleet.mu.RUnlock()
	return m.freeLocked()
}

// Reserved returns the resources held by reservations.
func (m *Machine) Reserved() domain.Resources {
	m.fleet.mu.RLock()
	defer m.fleet.mu.RUnlock()
	return m.reserved
}

// State returns the power state.
func (m *Machine) State() domain.PowerState {
	m.fleet.mu.RLock()
	defer m.fleet.mu.RUnlock()
	return m.state
}

// IsRunning returns true if the machine is powered on.
func (m *Machine) IsRunning() bool {
	return m.State() == domain.PowerStateRunning
}

// IsSecureEnclaveCapable returns true if the machine offers secure enclaves.
func (m *Machine) IsSecureEnclaveCapable() bool {
	return m.spec.SecureEnclave
}

func (m *Machine) freeLocked() domain.Resources {
	return m.spec.Capacities.Subtract(m.occupied).Subtract(m.reserved)
}

func (m *Machine) vmsLocked() []*VM {
	result := make([]*VM, 0, len(m.vmOrder))
	for _, id := range m.vmOrder {
		result = append(result, m.vms[id])
	}
	return result
}

func (m *Machine) attach(vm *VM) {
	m.vms[vm.id] = vm
	m.vmOrder = append(m.vmOrder, vm.id)
	m.occupied = m.occupied.Add(vm.allocation)
}

func (m *Machine) detach(vm *VM) {
	if _, ok := m.vms[vm.id]; !ok {
		return
	}
	delete(m.vms, vm.id)
	for i, id := range m.vmOrder {
		if id == vm.id {
			m.vmOrder = append(m.vmOrder[:i], m.vmOrder[i+1:]...)
			break
		}
	}
	m.occupied = m.occupied.Subtract(vm.allocation)
}
