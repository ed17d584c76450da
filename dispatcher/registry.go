package dispatcher

import (
	"context"
	"sync"

	"github.com/jackhou/buildbot/remoteworker"
	"github.com/jackhou/buildbot/statussink"
)

// RescheduleHint is invoked after a latent worker attaches, mirroring the
// original's `maybeStartBuildsForBuilder` nudge to the external scheduler.
// The dispatcher does not require it to be acted on synchronously.
type RescheduleHint func(builderName string)

// Registry is the per-builder collection of WorkerSlots: C2 from the
// component design. It is internally synchronized so that duplicate
// concurrent attaches (P5) collapse onto a single slot regardless of how
// the owning Builder schedules its own mutations.
type Registry struct {
	mu          sync.Mutex
	builderName string
	slots       map[string]*WorkerSlot
	sink        statussink.Sink
	hint        RescheduleHint
}

// NewRegistry returns an empty Registry for builderName.
func NewRegistry(builderName string, sink statussink.Sink, hint RescheduleHint) *Registry {
	return &Registry{
		builderName: builderName,
		slots:       make(map[string]*WorkerSlot),
		sink:        sink,
		hint:        hint,
	}
}

// Attached implements C2's attached(worker, commandTable). Duplicate
// attaches of an already-known worker name are no-ops (the remote
// re-announces on every config change).
func (r *Registry) Attached(ctx context.Context, workerName string, worker remoteworker.Worker) error {
	r.mu.Lock()
	if _, exists := r.slots[workerName]; exists {
		r.mu.Unlock()
		return nil
	}
	slot := &WorkerSlot{WorkerName: workerName, Worker: worker, State: StateAttaching}
	r.slots[workerName] = slot
	r.mu.Unlock()

	if err := slot.Attach(ctx); err != nil {
		r.mu.Lock()
		delete(r.slots, workerName)
		r.mu.Unlock()
		if r.sink != nil {
			r.sink.AddPointEvent(r.builderName, []string{"failed-connect"})
		}
		return err
	}

	if r.sink != nil {
		r.sink.AddPointEvent(r.builderName, []string{"connect"})
	}
	return nil
}

// Detached implements C2's detached(worker). It is a no-op if workerName
// is not currently registered.
func (r *Registry) Detached(ctx context.Context, workerName string) error {
	r.mu.Lock()
	slot, ok := r.slots[workerName]
	if ok {
		delete(r.slots, workerName)
	}
	r.mu.Unlock()
	if !ok {
		return nil
	}

	err := slot.Detach(ctx)
	if r.sink != nil {
		r.sink.AddPointEvent(r.builderName, []string{"disconnect"})
	}
	return err
}

// AddLatent allocates a slot for a latent worker if one doesn't already
// exist, then fires the reschedule hint.
func (r *Registry) AddLatent(ctx context.Context, workerName string, worker remoteworker.Worker) error {
	r.mu.Lock()
	_, exists := r.slots[workerName]
	r.mu.Unlock()
	if exists {
		return nil
	}

	if err := r.Attached(ctx, workerName, worker); err != nil {
		return err
	}
	if r.hint != nil {
		r.hint(r.builderName)
	}
	return nil
}

// AvailableWorkers returns slots currently in IDLE, the only state from
// which a build may be started.
func (r *Registry) AvailableWorkers() []*WorkerSlot {
	r.mu.Lock()
	defer r.mu.Unlock()

	var out []*WorkerSlot
	for _, s := range r.slots {
		if s.State == StateIdle {
			out = append(out, s)
		}
	}
	return out
}

// IsEmpty reports whether the registry has no slots at all, the OFFLINE
// condition for StatusAggregator.
func (r *Registry) IsEmpty() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.slots) == 0
}

// Slot returns the slot for workerName, if any, for callers (BuildStarter,
// tests) that already know which worker they want.
func (r *Registry) Slot(workerName string) (*WorkerSlot, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.slots[workerName]
	return s, ok
}

// All returns every known slot, for Ping and reconfigure pruning.
func (r *Registry) All() []*WorkerSlot {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]*WorkerSlot, 0, len(r.slots))
	for _, s := range r.slots {
		out = append(out, s)
	}
	return out
}

// Prune drops slots whose worker name is not in allowed, per reconfigure's
// worker allow-list, detaching each before removal.
func (r *Registry) Prune(ctx context.Context, allowed map[string]bool) {
	r.mu.Lock()
	var dropped []*WorkerSlot
	for name, slot := range r.slots {
		if !allowed[name] {
			dropped = append(dropped, slot)
			delete(r.slots, name)
		}
	}
	r.mu.Unlock()

	for _, slot := range dropped {
		_ = slot.Detach(ctx)
	}
}

// Names returns the worker names currently known, for status reporting.
func (r *Registry) Names() []string {
	r.mu.Lock()
	defer r.mu.Unlock()

	names := make([]string, 0, len(r.slots))
	for name := range r.slots {
		names = append(names, name)
	}
	return names
}
