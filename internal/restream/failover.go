package restream

import (
	"fmt"

	"github.com/e7canasta/dash-restreamer/internal/pipeline"
)

// inputSelector is the slice of the engine graph the failover
// controller acts on.
type inputSelector interface {
	SelectInput(pipeline.Input) error
}

// failover tracks which input feeds the output ladder. Which branch is
// wired (the binder's concern) and which branch is active are deliberately
// separate: the live decode chain can be built or torn down without ever
// interrupting output continuity.
//
// Not safe for concurrent use; the control loop owns it.
type failover struct {
	sel    inputSelector
	active pipeline.Input
}

func newFailover(sel inputSelector) *failover {
	return &failover{sel: sel, active: pipeline.InputFiller}
}

// Active returns the input currently feeding the outputs.
func (f *failover) Active() pipeline.Input { return f.active }

// Promote routes output to the live input. Returns whether the active
// input actually changed; promoting while already on live re-asserts
// the selection and reports no change.
func (f *failover) Promote() (bool, error) {
	return f.transition(pipeline.InputLive)
}

// Demote routes output to the filler input.
func (f *failover) Demote() (bool, error) {
	return f.transition(pipeline.InputFiller)
}

// transition re-asserts the selection even for self-transitions, which
// guards against duplicate or missed signals. The recorded state only
// moves once the engine accepted the selection.
func (f *failover) transition(to pipeline.Input) (bool, error) {
	if err := f.sel.SelectInput(to); err != nil {
		return false, fmt.Errorf("failed to select %s input: %w", to, err)
	}
	changed := f.active != to
	f.active = to
	return changed, nil
}
