package dispatcher

import (
	"context"
	"fmt"

	"github.com/jackhou/buildbot/remoteworker"
)

// SlotState is a WorkerSlot's position in the C1 state machine.
type SlotState int

const (
	StateAttaching SlotState = iota
	StateIdle
	StatePinging
	StateBuilding
	StateDetached
)

func (s SlotState) String() string {
	switch s {
	case StateAttaching:
		return "ATTACHING"
	case StateIdle:
		return "IDLE"
	case StatePinging:
		return "PINGING"
	case StateBuilding:
		return "BUILDING"
	case StateDetached:
		return "DETACHED"
	default:
		return "UNKNOWN"
	}
}

// WorkerSlot is this builder's view of one connected worker: C1 from the
// component design. It is mutated only under its owning Registry's lock;
// it carries no lock of its own.
type WorkerSlot struct {
	WorkerName string
	Worker     remoteworker.Worker
	State      SlotState
}

// Attach runs the handshake and transitions ATTACHING -> IDLE on success.
func (s *WorkerSlot) Attach(ctx context.Context) error {
	if err := s.Worker.Attach(ctx, s.WorkerName); err != nil {
		return fmt.Errorf("attach failed for worker %q: %w", s.WorkerName, err)
	}
	s.State = StateIdle
	return nil
}

// Prepare asks the worker to get ready for builderName. A transport error
// or a connection that has dropped since attach both count as "not ready".
func (s *WorkerSlot) Prepare(ctx context.Context, builderName string) (bool, error) {
	if !s.Connected() {
		return false, nil
	}
	if err := s.Worker.Prepare(ctx, builderName); err != nil {
		return false, err
	}
	return true, nil
}

// Ping transitions IDLE -> PINGING for the duration of the call, back to
// IDLE on success or on a failed ping over a live connection, or to
// DETACHED if the connection is found to be lost.
func (s *WorkerSlot) Ping(ctx context.Context) (bool, error) {
	s.State = StatePinging
	err := s.Worker.Ping(ctx)
	if !s.Connected() {
		s.State = StateDetached
		return false, err
	}
	s.State = StateIdle
	if err != nil {
		return false, err
	}
	return true, nil
}

// BuildStarted transitions IDLE -> BUILDING. It is an error to call this
// from any other state: the caller is expected to have just pinged
// successfully.
func (s *WorkerSlot) BuildStarted() error {
	if s.State != StateIdle {
		return fmt.Errorf("worker %q: buildStarted from state %s, want IDLE", s.WorkerName, s.State)
	}
	s.State = StateBuilding
	return nil
}

// BuildFinished transitions BUILDING -> IDLE, balancing BuildStarted (P4).
// Calling it from a state other than BUILDING is a no-op: a slot may have
// already moved to DETACHED via a lost connection.
func (s *WorkerSlot) BuildFinished() {
	if s.State == StateBuilding {
		s.State = StateIdle
	}
}

// Detach is idempotent: it always ends in DETACHED regardless of starting
// state.
func (s *WorkerSlot) Detach(ctx context.Context) error {
	if s.State == StateDetached {
		return nil
	}
	s.State = StateDetached
	if s.Worker == nil {
		return nil
	}
	if err := s.Worker.Detach(ctx); err != nil {
		return fmt.Errorf("detach worker %q: %w", s.WorkerName, err)
	}
	return nil
}

// Connected reports whether the slot's remote handle currently looks
// usable, without performing I/O.
func (s *WorkerSlot) Connected() bool {
	if s.Worker == nil {
		return false
	}
	return s.Worker.Connection().Connected
}
