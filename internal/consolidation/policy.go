package consolidation

import (
	"fmt"

	"github.com/limiquantix/consolidator/internal/domain"
)

// SecureSelection decides which machine phase 2 merges load onto.
type SecureSelection string

const (
	// SecureSelectionIntended picks the first enclave-capable machine that is
	// powered off, and never merges enclave-capable machines away.
	SecureSelectionIntended SecureSelection = "intended"

	// SecureSelectionFirstPM picks the first machine of the fleet regardless of
	// enclave capability or power state, and considers every other machine for
	// merging. This is the legacy selection, kept for comparing results with
	// runs where the capability filter was never enabled.
	SecureSelectionFirstPM SecureSelection = "first_pm"
)

// ReleasePolicy decides whether phase 3 moves load off a secure machine.
type ReleasePolicy string

const (
	// ReleaseNoSecureTenants evacuates a running enclave-capable machine onto
	// ordinary machines when none of its VMs requires an enclave.
	ReleaseNoSecureTenants ReleasePolicy = "no_secure_tenants"

	// ReleaseNone disables phase 3.
	ReleaseNone ReleasePolicy = "none"
)

// Config holds the consolidation engine configuration.
type Config struct {
	// SecureSelection chooses the merge target of phase 2.
	SecureSelection SecureSelection `mapstructure:"secure_selection"`

	// ReleasePolicy chooses the phase 3 behaviour.
	ReleasePolicy ReleasePolicy `mapstructure:"release_policy"`

	// MaxMergeRounds bounds phase 2. Zero means one round per machine.
	MaxMergeRounds int `mapstructure:"max_merge_rounds"`
}

// DefaultConfig returns the default engine configuration.
func DefaultConfig() Config {
	return Config{
		SecureSelection: SecureSelectionIntended,
		ReleasePolicy:   ReleaseNoSecureTenants,
	}
}

// Validate checks the configured policy names.
func (c Config) Validate() error {
	switch c.SecureSelection {
	case SecureSelectionIntended, SecureSelectionFirstPM:
	default:
		return fmt.Errorf("%w: unknown secure selection %q", domain.ErrInvalidArgument, c.SecureSelection)
	}
	switch c.ReleasePolicy {
	case ReleaseNoSecureTenants, ReleaseNone:
	default:
		return fmt.Errorf("%w: unknown release policy %q", domain.ErrInvalidArgument, c.ReleasePolicy)
	}
	if c.MaxMergeRounds < 0 {
		return fmt.Errorf("%w: max merge rounds must not be negative", domain.ErrInvalidArgument)
	}
	return nil
}

// selectSecure returns the phase 2 merge target, or nil.
func (c Config) selectSecure(pms []PhysicalMachine) PhysicalMachine {
	for _, pm := range pms {
		if c.SecureSelection == SecureSelectionFirstPM {
			return pm
		}
		if pm.IsSecureEnclaveCapable() && pm.State() == domain.PowerStateOff {
			return pm
		}
	}
	return nil
}

// mergeable reports whether pm may be emptied onto securePm in phase 2.
func (c Config) mergeable(pm, securePm PhysicalMachine) bool {
	if pm.ID() == securePm.ID() || !pm.IsRunning() || len(pm.HostedVMs()) == 0 {
		return false
	}
	if c.SecureSelection == SecureSelectionIntended && pm.IsSecureEnclaveCapable() {
		return false
	}
	return true
}

// releasable reports whether a secure machine's load no longer needs isolation.
func (c Config) releasable(pm PhysicalMachine) bool {
	if c.ReleasePolicy != ReleaseNoSecureTenants {
		return false
	}
	if !pm.IsRunning() || !pm.IsSecureEnclaveCapable() {
		return false
	}
	vms := pm.HostedVMs()
	if len(vms) == 0 {
		return false
	}
	for _, vm := range vms {
		if vm.RequiresSecureEnclave() {
			return false
		}
	}
	return true
}

// canHost reports whether target may receive vm at all, ignoring capacity.
func canHost(target PhysicalMachine, vm VirtualMachine) bool {
	return !vm.RequiresSecureEnclave() || target.IsSecureEnclaveCapable()
}

// hostsAll reports whether target may receive every one of vms.
func hostsAll(target PhysicalMachine, vms []VirtualMachine) bool {
	for _, vm := range vms {
		if !canHost(target, vm) {
			return false
		}
	}
	return true
}
