package scheduler

import (
	"context"

	"github.com/limiquantix/consolidator/internal/consolidation"
	"github.com/limiquantix/consolidator/internal/domain"
	"github.com/limiquantix/consolidator/internal/fleet"
)

// Fleet defines the placement substrate the scheduler reads and writes.
type Fleet interface {
	// PhysicalMachines returns every machine in stable order.
	PhysicalMachines() []consolidation.PhysicalMachine

	// Place creates a VM for req on a running machine.
	Place(ctx context.Context, req domain.Request, machineID string) (*fleet.VM, error)
}

// Ensure the in-memory fleet satisfies Fleet
var _ Fleet = (*fleet.Fleet)(nil)
