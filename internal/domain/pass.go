package domain

import "time"

// ConsolidationPhase names a phase of a consolidation pass.
type ConsolidationPhase string

const (
	PhaseMinimize ConsolidationPhase = "MINIMIZE_ACTIVE"
	PhaseSecure   ConsolidationPhase = "SECURE_MERGE"
	PhaseRelease  ConsolidationPhase = "SECURE_RELEASE"
)

// MigrationRecord is one committed VM move.
type MigrationRecord struct {
	PassID    string             `json:"pass_id"`
	Phase     ConsolidationPhase `json:"phase"`
	VMID      string             `json:"vm_id"`
	SourceID  string             `json:"source_id"`
	TargetID  string             `json:"target_id"`
	CreatedAt time.Time          `json:"created_at"`
}

// PassSummary records the outcome of a consolidation pass.
type PassSummary struct {
	ID           string        `json:"id"`
	Consolidator string        `json:"consolidator"`
	StartedAt    time.Time     `json:"started_at"`
	Duration     time.Duration `json:"duration"`
	Migrations   int           `json:"migrations"`
	SwitchedOff  []string      `json:"switched_off,omitempty"`
	SwitchedOn   []string      `json:"switched_on,omitempty"`
	ActiveBefore int           `json:"active_before"`
	ActiveAfter  int           `json:"active_after"`
	Interrupted  bool          `json:"interrupted"`
	Error        string        `json:"error,omitempty"`
}
