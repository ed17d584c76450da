package dispatcher

import (
	"context"
	"fmt"
	"time"

	"github.com/jackhou/buildbot/errors"
	"github.com/jackhou/buildbot/remoteworker"
	"github.com/jackhou/buildbot/store"
	"github.com/jackhou/buildbot/types"
)

// MaybeStart is C5, the transactional "start a build" protocol: prepare ->
// ping -> record -> handoff, with a cleanup stack. It returns true iff the
// build was successfully handed off to workerName; false means requests
// must be returned to the queue unchanged.
func (b *Builder) MaybeStart(ctx context.Context, workerName string, requests []types.BuildRequest) bool {
	if len(requests) == 0 {
		return false
	}

	// Step 1: gate.
	b.mu.Lock()
	running := b.running
	b.mu.Unlock()
	if !running {
		b.logger.Debug("maybeStart rejected", "builder", b.name,
			"error", errors.NewAPIError(errors.ErrCodeBuilderStopped, "builder is not running"))
		return false
	}

	slot, ok := b.workers.Slot(workerName)
	if !ok {
		return false
	}
	if !slot.Connected() {
		// Detach race: the connection dropped before we even started.
		b.logger.Debug("maybeStart rejected", "builder", b.name, "worker", workerName,
			"error", errors.NewAPIError(errors.ErrCodeWorkerDetachedRace, "worker disconnected before start"))
		return false
	}

	startOK, err := b.canStartBuild(ctx, slot, requests)
	if err != nil {
		b.logger.Error("canStartBuild failed", "builder", b.name, "error", err)
		return false
	}
	if !startOK {
		return false
	}

	// Step 2: resolve ids.
	builderID, err := b.resolveBuilderID(ctx)
	if err != nil {
		b.logger.Error("resolve builder id failed", "builder", b.name, "error", err)
		return false
	}
	workerID := slot.WorkerName

	// Step 3: construct the Build, binding locks/env/properties.
	props := mergeProperties(b.config.Properties, map[string]string{"buildername": b.name})
	build, err := b.factory(ctx, b.name, requests, b.config.Env, props)
	if err != nil {
		b.logger.Error("build factory failed", "builder", b.name, "error", err)
		return false
	}

	var releaseLocks func()
	if b.deps.Locks != nil && len(b.config.Locks) > 0 {
		releaseLocks = b.deps.Locks.Acquire(b.config.Locks)
	} else {
		releaseLocks = func() {}
	}

	var cleanup []func()
	runCleanup := func() {
		for i := len(cleanup) - 1; i >= 0; i-- {
			func() {
				defer func() {
					if r := recover(); r != nil {
						apiErr := errors.NewAPIError(errors.ErrCodeCleanupFailed, fmt.Sprintf("cleanup step panicked: %v", r))
						b.logger.Error("cleanup step failed", "builder", b.name, "error", apiErr)
					}
				}()
				cleanup[i]()
			}()
		}
	}
	cleanup = append(cleanup, releaseLocks)

	ib := &InFlightBuild{Requests: requests, Build: build, Worker: slot, ReleaseLocks: releaseLocks, StartedAt: time.Now()}

	// Step 4: reserve slot in building[].
	b.mu.Lock()
	b.building = append(b.building, ib)
	b.mu.Unlock()
	cleanup = append(cleanup, func() {
		b.mu.Lock()
		b.building = removeInFlight(b.building, ib)
		b.mu.Unlock()
	})

	// Step 5: status refresh, with inverse.
	b.status.Refresh()
	cleanup = append(cleanup, b.status.Refresh)

	// Step 6: prepare.
	ready, err := slot.Prepare(ctx, b.name)
	if err != nil {
		b.logger.Warn("prepare failed", "builder", b.name, "worker", workerID, "error", err)
	}
	if err != nil || !ready {
		runCleanup()
		return false
	}

	// Step 7: ping.
	pingOK, err := slot.Ping(ctx)
	if err != nil {
		b.logger.Warn("ping failed", "builder", b.name, "worker", workerID, "error", err)
	}
	if err != nil || !pingOK {
		runCleanup()
		return false
	}

	// Step 8: transition to BUILDING, with inverse.
	if err := slot.BuildStarted(); err != nil {
		b.logger.Error("buildStarted transition failed", "builder", b.name, "worker", workerID, "error", err)
		runCleanup()
		return false
	}
	cleanup = append(cleanup, slot.BuildFinished)

	// Step 9: issue remoteStartBuild.
	reply, err := slot.Worker.RemoteStartBuild(ctx, remoteworker.StartBuildArgs{
		BuilderName: b.name,
		Properties:  props,
		BuildDir:    b.config.BuildDir,
	})
	if err != nil {
		b.logger.Warn("remoteStartBuild failed", "builder", b.name, "worker", workerID, "error", err)
	}
	if err != nil || !reply.Accepted {
		runCleanup()
		return false
	}

	// Step 10: allocate status-side build number placeholder -- the
	// concrete number comes from the persist step below.

	// Step 11: persist build row, keyed on the last request in R.
	lastReq := requests[len(requests)-1]
	dbBuildID, number, err := b.deps.BuildStore.AddBuild(ctx, store.BuildRecord{
		BuilderID:      builderID,
		BuildRequestID: lastReq.ID,
		WorkerID:       workerID,
		MasterID:       b.deps.MasterID,
		StateStrings:   []string{"created"},
	})
	if err != nil {
		b.logger.Error("addBuild failed", "builder", b.name, "error", err)
		runCleanup()
		return false
	}
	ib.DBBuildID = dbBuildID
	ib.Number = number

	// Step 12: post-commit re-check, no suspension between 11 and here.
	if !slot.Connected() {
		b.logger.Warn("maybeStart aborted post-commit", "builder", b.name, "worker", workerID,
			"error", errors.NewAPIError(errors.ErrCodeWorkerDetachedRace, "worker disconnected after build record was persisted"))
		runCleanup()
		return false
	}

	if err := slot.Worker.BuildStarted(ctx, dbBuildID); err != nil {
		b.logger.Warn("worker-side buildStarted notification failed", "builder", b.name, "worker", workerID, "error", err)
	}

	// Step 13: publish build_started.
	b.deps.Sink.NewBuild(b.name, number)
	b.deps.Sink.BuildStarted(b.name, number, workerID)

	// Step 14: launch the Build asynchronously; ownership transfers to
	// CompletionHandler from here on, so the cleanup stack is abandoned.
	go b.launchBuild(ctx, ib)

	// Step 15.
	return true
}

func (b *Builder) launchBuild(ctx context.Context, ib *InFlightBuild) {
	defer func() {
		if r := recover(); r != nil {
			b.handleTerminal(ib, types.BuildOutcome{Results: types.ResultException, Error: fmt.Sprintf("panic: %v", r)})
		}
	}()

	err := ib.Build.Start(ctx, func(outcome types.BuildOutcome) {
		b.handleTerminal(ib, outcome)
	})
	if err != nil {
		b.handleTerminal(ib, types.BuildOutcome{Results: types.ResultException, Error: err.Error()})
	}
}

func (b *Builder) resolveBuilderID(ctx context.Context) (int64, error) {
	b.mu.Lock()
	if b.haveID {
		id := b.builderID
		b.mu.Unlock()
		return id, nil
	}
	b.mu.Unlock()

	id, err := b.deps.Registry.FindBuilderID(ctx, b.name)
	if err != nil {
		return 0, err
	}

	b.mu.Lock()
	b.builderID = id
	b.haveID = true
	b.mu.Unlock()
	return id, nil
}

func mergeProperties(configured, extra map[string]string) map[string]string {
	out := make(map[string]string, len(configured)+len(extra))
	for k, v := range configured {
		out[k] = v
	}
	for k, v := range extra {
		out[k] = v
	}
	return out
}

func removeInFlight(list []*InFlightBuild, target *InFlightBuild) []*InFlightBuild {
	out := list[:0]
	for _, ib := range list {
		if ib != target {
			out = append(out, ib)
		}
	}
	return out
}
