package dispatcher

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/jackhou/buildbot/config"
	"github.com/jackhou/buildbot/expectations"
	"github.com/jackhou/buildbot/remoteworker"
	"github.com/jackhou/buildbot/types"
)

// CanStartBuild is the optional per-builder gate evaluated at BuildStarter's
// Gate step, generalized from the original's `enforceChosenSlave`. The
// default always returns true.
type CanStartBuild func(ctx context.Context, worker *WorkerSlot, requests []types.BuildRequest) (bool, error)

func defaultCanStartBuild(context.Context, *WorkerSlot, []types.BuildRequest) (bool, error) {
	return true, nil
}

// Builder is C7: it owns C1-C6 and exposes the outward contract consumed
// by the external scheduler.
type Builder struct {
	mu sync.Mutex

	name      string
	builderID int64
	haveID    bool

	config        config.BuilderConfig
	factory       BuildFactory
	canStartBuild CanStartBuild

	deps Dependencies

	workers     *Registry
	building    []*InFlightBuild
	oldBuilding map[int64]*InFlightBuild

	running bool

	reclaim *ReclaimTimer
	status  *StatusAggregator

	logger *slog.Logger
}

// NewBuilder constructs a Builder. It starts in the running state; call
// Start to begin its periodic timers.
func NewBuilder(name string, cfg config.BuilderConfig, factory BuildFactory, deps Dependencies, logger *slog.Logger) *Builder {
	if logger == nil {
		logger = slog.Default()
	}

	b := &Builder{
		name:          name,
		config:        cfg,
		factory:       factory,
		canStartBuild: defaultCanStartBuild,
		deps:          deps,
		oldBuilding:   make(map[int64]*InFlightBuild),
		running:       true,
		logger:        logger,
	}
	b.workers = NewRegistry(name, deps.Sink, b.rescheduleHint)

	b.reclaim = NewReclaimTimer(name, 10*time.Minute, deps.Clock, deps.RequestStore, b.inFlightRequestIDs, logger)
	b.status = NewStatusAggregator(name, deps.Sink, b.workers.IsEmpty, b.anyInFlight, deps.Clock, 30*time.Minute, logger)
	return b
}

// SetCanStartBuild overrides the default always-true gate.
func (b *Builder) SetCanStartBuild(fn CanStartBuild) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.canStartBuild = fn
}

// SetReclaimInterval overrides C3's default period; must be called before
// Start.
func (b *Builder) SetReclaimInterval(d time.Duration) {
	b.reclaim.interval = d
}

// SetStatusInterval overrides C4's default period; must be called before
// Start.
func (b *Builder) SetStatusInterval(d time.Duration) {
	b.status.interval = d
}

// Start begins the reclaim and status timers and announces the builder to
// the status sink.
func (b *Builder) Start() {
	b.deps.Sink.BuilderAdded(b.name, b.config.Category, b.config.Description)
	b.deps.Sink.SetWorkernames(b.name, b.workers.Names())
	b.reclaim.Start()
	b.status.Start()
	b.status.Refresh()
}

// Stop cancels the periodic timers. It does not affect running (see
// SetRunning) or in-flight builds.
func (b *Builder) Stop() {
	b.reclaim.Stop()
	b.status.Stop()
}

// SetRunning implements the shutdown half of I5/P6: once false, all
// subsequent MaybeStart calls return false without mutating state.
func (b *Builder) SetRunning(running bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.running = running
}

// Name returns the builder's configured name.
func (b *Builder) Name() string { return b.name }

// Reconfigure applies newConfig, locating this builder by name.
// Reconfiguring with no matching entry is a programming error and returns
// an error (§7: "abort reconfigure").
func (b *Builder) Reconfigure(ctx context.Context, newConfig *config.GlobalConfig) error {
	cfg, ok := newConfig.FindBuilder(b.name)
	if !ok {
		return fmt.Errorf("reconfigure: no config entry for builder %q", b.name)
	}

	b.mu.Lock()
	b.config = cfg
	b.mu.Unlock()

	allowed := make(map[string]bool, len(cfg.WorkerNames))
	for _, w := range cfg.WorkerNames {
		allowed[w] = true
	}
	b.workers.Prune(ctx, allowed)

	if !b.haveID {
		id, err := b.deps.Registry.FindBuilderID(ctx, b.name)
		if err != nil {
			return fmt.Errorf("resolve builder id for %q: %w", b.name, err)
		}
		b.mu.Lock()
		b.builderID = id
		b.haveID = true
		b.mu.Unlock()
	}

	b.deps.Sink.BuilderAdded(b.name, cfg.Category, cfg.Description)
	b.deps.Sink.SetWorkernames(b.name, b.workers.Names())
	b.status.Refresh()
	return nil
}

// Attached delegates to the WorkerRegistry and refreshes derived status.
func (b *Builder) Attached(ctx context.Context, workerName string, worker remoteworker.Worker) error {
	err := b.workers.Attached(ctx, workerName, worker)
	b.status.Refresh()
	return err
}

// Detached delegates to the WorkerRegistry and refreshes derived status.
// A detach mid-build does not abort the build; the Build observes the
// lost connection itself.
func (b *Builder) Detached(ctx context.Context, workerName string) error {
	err := b.workers.Detached(ctx, workerName)
	b.status.Refresh()
	return err
}

// AddLatent delegates to the WorkerRegistry.
func (b *Builder) AddLatent(ctx context.Context, workerName string, worker remoteworker.Worker) error {
	err := b.workers.AddLatent(ctx, workerName, worker)
	b.status.Refresh()
	return err
}

// Ping is the control-plane ping: it pings every known worker concurrently
// and succeeds only if all succeed. An empty registry fails immediately.
func (b *Builder) Ping(ctx context.Context) bool {
	slots := b.workers.All()
	if len(slots) == 0 {
		b.logger.Info("ping: no worker", "builder", b.name)
		return false
	}

	var wg sync.WaitGroup
	results := make([]bool, len(slots))
	for i, slot := range slots {
		wg.Add(1)
		go func(i int, slot *WorkerSlot) {
			defer wg.Done()
			ok, err := slot.Ping(ctx)
			if err != nil {
				b.logger.Warn("ping failed", "builder", b.name, "worker", slot.WorkerName, "error", err)
			}
			results[i] = ok
		}(i, slot)
	}
	wg.Wait()

	for _, ok := range results {
		if !ok {
			return false
		}
	}
	return true
}

// GetOldestRequestTime returns the minimum SubmittedAt among this
// builder's unclaimed requests, or nil if there are none.
func (b *Builder) GetOldestRequestTime(ctx context.Context) (*time.Time, error) {
	reqs, err := b.deps.RequestStore.GetBuildRequests(ctx, b.name, false)
	if err != nil {
		return nil, fmt.Errorf("get unclaimed requests for %q: %w", b.name, err)
	}
	if len(reqs) == 0 {
		return nil, nil
	}

	oldest := reqs[0].SubmittedAt
	for _, r := range reqs[1:] {
		if r.SubmittedAt.Before(oldest) {
			oldest = r.SubmittedAt
		}
	}
	return &oldest, nil
}

// GetBuild scans building and oldBuilding for a matching build number.
func (b *Builder) GetBuild(number int64) (*InFlightBuild, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()

	for _, ib := range b.building {
		if ib.Number == number {
			return ib, true
		}
	}
	for _, ib := range b.oldBuilding {
		if ib.Number == number {
			return ib, true
		}
	}
	return nil, false
}

// SetExpectations feeds a completed build's outcome into the expectations
// predictor, per §4.7/§4.8.
func (b *Builder) SetExpectations(sample expectations.Sample) {
	if b.deps.Expectations == nil {
		return
	}
	b.deps.Expectations.Update(sample)
}

func (b *Builder) rescheduleHint(builderName string) {
	// No-op by default: the external scheduler is expected to poll or
	// subscribe independently. Builder.Start callers may replace this by
	// wiring their own scheduler through a wrapped Dependencies.Bus
	// publish if they need a synchronous nudge.
	b.logger.Debug("reschedule hint", "builder", builderName)
}

func (b *Builder) anyInFlight() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.building) > 0
}

func (b *Builder) inFlightRequestIDs() []int64 {
	b.mu.Lock()
	defer b.mu.Unlock()

	seen := make(map[int64]bool)
	var ids []int64
	for _, ib := range b.building {
		for _, id := range requestIDs(ib.Requests) {
			if !seen[id] {
				seen[id] = true
				ids = append(ids, id)
			}
		}
	}
	for _, ib := range b.oldBuilding {
		for _, id := range requestIDs(ib.Requests) {
			if !seen[id] {
				seen[id] = true
				ids = append(ids, id)
			}
		}
	}
	return ids
}
