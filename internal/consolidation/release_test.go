package consolidation

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/limiquantix/consolidator/internal/domain"
)

func newReleaseConsolidator(t *testing.T, policy ReleasePolicy) *MultiTenantConsolidator {
	t.Helper()

	cfg := DefaultConfig()
	cfg.ReleasePolicy = policy
	c, err := NewMultiTenantConsolidator(cfg, zap.NewNop())
	require.NoError(t, err)
	return c
}

func TestReleaseSecure_MovesLoadOntoRunningOrdinaryPM(t *testing.T) {
	vm := &MockVM{id: "vm-1", alloc: domain.NewResources(2, 4)}
	securePm := &MockPM{id: "pm-sec", capacity: domain.NewResources(8, 16), secure: true,
		state: domain.PowerStateRunning, vms: []VirtualMachine{vm}}
	ordinary := &MockPM{id: "pm-r", capacity: domain.NewResources(4, 8), state: domain.PowerStateRunning,
		vms: []VirtualMachine{&MockVM{id: "vm-2", alloc: domain.NewResources(1, 2)}}}
	c := newReleaseConsolidator(t, ReleaseNoSecureTenants)

	result := &PassResult{}
	require.NoError(t, c.releaseSecure(context.Background(), []PhysicalMachine{securePm, ordinary}, result))

	assert.Equal(t, domain.PowerStateOff, securePm.State())
	assert.Empty(t, securePm.HostedVMs())
	assert.Len(t, ordinary.HostedVMs(), 2)
	assert.True(t, ordinary.reserved.IsZero())
	assert.Equal(t, []string{"pm-sec"}, result.SwitchedOff)
	assert.Empty(t, result.SwitchedOn)
	assert.Equal(t, []Migration{{
		Phase:    domain.PhaseRelease,
		VMID:     "vm-1",
		SourceID: "pm-sec",
		TargetID: "pm-r",
	}}, result.Migrations)
}

func TestReleaseSecure_LeavesLoadWithoutRunningTarget(t *testing.T) {
	securePm := &MockPM{id: "pm-sec", capacity: domain.NewResources(8, 16), secure: true,
		state: domain.PowerStateRunning, vms: []VirtualMachine{&MockVM{id: "vm-1", alloc: domain.NewResources(2, 4)}}}
	idle := &MockPM{id: "pm-o", capacity: domain.NewResources(8, 16), state: domain.PowerStateOff}
	otherSecure := &MockPM{id: "pm-sec2", capacity: domain.NewResources(8, 16), secure: true, state: domain.PowerStateRunning}
	c := newReleaseConsolidator(t, ReleaseNoSecureTenants)

	result := &PassResult{}
	require.NoError(t, c.releaseSecure(context.Background(), []PhysicalMachine{securePm, idle, otherSecure}, result))

	assert.False(t, result.Changed())
	assert.Equal(t, domain.PowerStateRunning, securePm.State())
	assert.Len(t, securePm.HostedVMs(), 1)
	assert.Equal(t, domain.PowerStateOff, idle.State())
	assert.Empty(t, otherSecure.HostedVMs())
	assert.True(t, idle.reserved.IsZero())
}

func TestReleaseSecure_SkipsMachinesNotReleasable(t *testing.T) {
	plain := &MockVM{id: "vm-1", alloc: domain.NewResources(1, 2)}
	enclave := &MockVM{id: "vm-2", alloc: domain.NewResources(1, 2), secure: true}

	tests := []struct {
		name     string
		policy   ReleasePolicy
		vms      []VirtualMachine
		switched []string
	}{
		{name: "enclave tenant", policy: ReleaseNoSecureTenants, vms: []VirtualMachine{plain, enclave}},
		{name: "policy none", policy: ReleaseNone, vms: []VirtualMachine{plain}},
		{name: "switched on this pass", policy: ReleaseNoSecureTenants, vms: []VirtualMachine{plain}, switched: []string{"pm-sec"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			securePm := &MockPM{id: "pm-sec", capacity: domain.NewResources(8, 16), secure: true,
				state: domain.PowerStateRunning, vms: append([]VirtualMachine(nil), tt.vms...)}
			ordinary := &MockPM{id: "pm-r", capacity: domain.NewResources(8, 16), state: domain.PowerStateRunning}
			c := newReleaseConsolidator(t, tt.policy)

			result := &PassResult{SwitchedOn: tt.switched}
			require.NoError(t, c.releaseSecure(context.Background(), []PhysicalMachine{securePm, ordinary}, result))

			assert.Empty(t, result.Migrations)
			assert.Empty(t, result.SwitchedOff)
			assert.Len(t, securePm.HostedVMs(), len(tt.vms))
		})
	}
}
