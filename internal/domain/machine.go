package domain

// PowerState represents the run state of a physical machine.
type PowerState string

const (
	PowerStateOff          PowerState = "OFF"
	PowerStateSwitchingOn  PowerState = "SWITCHING_ON"
	PowerStateRunning      PowerState = "RUNNING"
	PowerStateSwitchingOff PowerState = "SWITCHING_OFF"
)

// MachineSpec describes a physical machine of the fleet.
type MachineSpec struct {
	ID            string     `json:"id" mapstructure:"id"`
	Capacities    Resources  `json:"capacities" mapstructure:"capacities"`
	SecureEnclave bool       `json:"secure_enclave" mapstructure:"secure_enclave"`
	InitialState  PowerState `json:"initial_state" mapstructure:"initial_state"`
	// PowerWatts is the static draw accounted while the machine runs.
	PowerWatts float64 `json:"power_watts" mapstructure:"power_watts"`
}

// MachineSnapshot is a point-in-time view of a physical machine.
type MachineSnapshot struct {
	ID            string     `json:"id"`
	State         PowerState `json:"state"`
	SecureEnclave bool       `json:"secure_enclave"`
	Capacities    Resources  `json:"capacities"`
	Occupied      Resources  `json:"occupied"`
	Reserved      Resources  `json:"reserved"`
	VMIDs         []string   `json:"vm_ids"`
}

// VMSnapshot is a point-in-time view of a virtual machine.
type VMSnapshot struct {
	ID                    string    `json:"id"`
	Tenant                string    `json:"tenant"`
	Allocation            Resources `json:"allocation"`
	HostID                string    `json:"host_id"`
	RequiresSecureEnclave bool      `json:"requires_secure_enclave"`
}
