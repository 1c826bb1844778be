package fleet

import (
	"github.com/limiquantix/consolidator/internal/consolidation"
	"github.com/limiquantix/consolidator/internal/domain"
)

// Ensure VM implements consolidation.VirtualMachine
var _ consolidation.VirtualMachine = (*VM)(nil)

// VM is a virtual machine placed in the fleet.
type VM struct {
	fleet      *Fleet
	id         string
	tenant     string
	allocation domain.Resources
	secure     bool
	endTime    float64
	host       string
}

// ID returns the VM ID.
func (v *VM) ID() string {
	return v.id
}

// Tenant returns the owning tenant.
func (v *VM) Tenant() string {
	return v.tenant
}

// Allocation returns the resources held by the VM.
func (v *VM) Allocation() domain.Resources {
	return v.allocation
}

// Host returns the ID of the hosting machine.
func (v *VM) Host() string {
	v.fleet.mu.RLock()
	defer v.fleet.mu.RUnlock()
	return v.host
}

// RequiresSecureEnclave returns true if the VM must run on an enclave-capable machine.
func (v *VM) RequiresSecureEnclave() bool {
	return v.secure
}

// EndTime returns the simulated time at which the VM's request expires.
func (v *VM) EndTime() float64 {
	return v.endTime
}

// Snapshot returns a copy of the VM's state.
func (v *VM) Snapshot() domain.VMSnapshot {
	return domain.VMSnapshot{
		ID:                    v.id,
		Tenant:                v.tenant,
		Allocation:            v.allocation,
		HostID:                v.Host(),
		RequiresSecureEnclave: v.secure,
	}
}
