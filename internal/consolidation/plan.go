package consolidation

import (
	"context"
	"fmt"

	"go.uber.org/multierr"
)

type plannedMove struct {
	vm     VirtualMachine
	target PhysicalMachine
}

// migrationPlan holds the tentative moves that would empty one machine. Every
// move reserves its demand on the target so later VMs of the same machine see
// the reduced headroom. A plan is either committed or discarded as a whole.
type migrationPlan struct {
	source   PhysicalMachine
	moves    []plannedMove
	reserved bool
}

func newMigrationPlan(source PhysicalMachine) *migrationPlan {
	return &migrationPlan{source: source, reserved: true}
}

// add reserves vm's allocation on target and records the move.
func (p *migrationPlan) add(vm VirtualMachine, target PhysicalMachine) error {
	if err := target.Reserve(vm.Allocation()); err != nil {
		return fmt.Errorf("reserving %s for vm %s on pm %s: %w", vm.Allocation(), vm.ID(), target.ID(), err)
	}
	p.moves = append(p.moves, plannedMove{vm: vm, target: target})
	return nil
}

// covers reports whether the plan has a target for each of n VMs.
func (p *migrationPlan) covers(n int) bool {
	return len(p.moves) == n
}

// release drops every reservation of the plan. It is safe to call twice.
func (p *migrationPlan) release() error {
	if !p.reserved {
		return nil
	}
	p.reserved = false

	var errs error
	for _, m := range p.moves {
		errs = multierr.Append(errs, m.target.Release(m.vm.Allocation()))
	}
	return errs
}

// commit turns the reservations into real migrations. If a migration fails,
// the VMs already moved are sent back so the source is left as it was.
func (p *migrationPlan) commit(ctx context.Context) ([]plannedMove, error) {
	if err := p.release(); err != nil {
		return nil, fmt.Errorf("releasing reservations of pm %s: %w", p.source.ID(), err)
	}

	moved := make([]plannedMove, 0, len(p.moves))
	for _, m := range p.moves {
		if err := p.source.MigrateVM(ctx, m.vm, m.target); err != nil {
			err = fmt.Errorf("migrating vm %s from pm %s to pm %s: %w", m.vm.ID(), p.source.ID(), m.target.ID(), err)
			return nil, multierr.Append(err, moveBack(ctx, p.source, moved))
		}
		moved = append(moved, m)
	}
	return moved, nil
}

// moveBack undoes moves, newest first.
func moveBack(ctx context.Context, origin PhysicalMachine, moved []plannedMove) error {
	var errs error
	for i := len(moved) - 1; i >= 0; i-- {
		m := moved[i]
		if err := m.target.MigrateVM(ctx, m.vm, origin); err != nil {
			errs = multierr.Append(errs, fmt.Errorf("rolling back vm %s to pm %s: %w", m.vm.ID(), origin.ID(), err))
		}
	}
	return errs
}
