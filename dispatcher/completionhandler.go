package dispatcher

import (
	"context"
	"strconv"
	"time"

	"github.com/jackhou/buildbot/eventbus"
	"github.com/jackhou/buildbot/expectations"
	"github.com/jackhou/buildbot/types"
)

// handleTerminal is C6: invoked once per InFlightBuild with its terminal
// outcome. Every step's errors are logged, never propagated or allowed to
// skip a later step.
func (b *Builder) handleTerminal(ib *InFlightBuild, outcome types.BuildOutcome) {
	ctx := context.Background()

	// Step 2: persist finishBuild.
	if ib.DBBuildID != 0 {
		if err := b.deps.BuildStore.FinishBuild(ctx, ib.DBBuildID, outcome.Results); err != nil {
			b.logger.Error("finishBuild failed", "builder", b.name, "build_id", ib.DBBuildID, "error", err)
		}
	}

	// Step 3: remove from building[].
	b.mu.Lock()
	b.building = removeInFlight(b.building, ib)
	b.mu.Unlock()

	// Step 4: branch on results.
	ids := requestIDs(ib.Requests)
	if outcome.Results == types.ResultRetry {
		if err := b.deps.RequestStore.UnclaimBuildRequests(ctx, ids); err != nil {
			b.logger.Error("unclaimBuildRequests failed", "builder", b.name, "ids", ids, "error", err)
		}
		for _, req := range ib.Requests {
			b.publishUnclaimed(ctx, req)
		}
	} else {
		completeAt := time.Now()
		if err := b.deps.RequestStore.CompleteBuildRequests(ctx, ids, outcome.Results, completeAt); err != nil {
			b.logger.Error("completeBuildRequests failed", "builder", b.name, "ids", ids, "error", err)
		}

		seenBuildsets := make(map[int64]bool)
		for _, req := range ib.Requests {
			b.publishComplete(ctx, req, outcome.Results, completeAt)
			if !seenBuildsets[req.BuildsetID] {
				seenBuildsets[req.BuildsetID] = true
			}
		}
		if b.deps.MaybeBuildsetComplete != nil {
			for bsid := range seenBuildsets {
				b.deps.MaybeBuildsetComplete(ctx, bsid)
			}
		}
	}

	// Step 5: release worker locks, both our dispatcher-side LockSet and
	// any locks the worker itself holds for this build, and return the
	// slot from BUILDING to IDLE.
	if ib.ReleaseLocks != nil {
		ib.ReleaseLocks()
	}
	if ib.Worker != nil {
		ib.Worker.BuildFinished()
	}
	if ib.Worker != nil && ib.Worker.Worker != nil {
		if err := ib.Worker.Worker.ReleaseLocks(ctx, ib.DBBuildID); err != nil {
			b.logger.Warn("worker-side lock release failed", "builder", b.name, "build_id", ib.DBBuildID, "error", err)
		}
		if err := ib.Worker.Worker.BuildFinished(ctx, ib.DBBuildID); err != nil {
			b.logger.Warn("worker-side buildFinished notification failed", "builder", b.name, "build_id", ib.DBBuildID, "error", err)
		}
	}

	// Step 6: refresh status.
	b.status.Refresh()

	// Step 7: feed expectations, unless this was a RETRY.
	if outcome.Results != types.ResultRetry {
		b.SetExpectations(expectations.Sample{
			BuilderName: b.name,
			Duration:    outcome.Duration,
			Success:     outcome.Results == types.ResultSuccess || outcome.Results == types.ResultWarnings,
		})
	}
}

func (b *Builder) publishComplete(ctx context.Context, req types.BuildRequest, results types.Results, completeAt time.Time) {
	if b.deps.Bus == nil {
		return
	}

	key := eventbus.RoutingKey{
		"buildrequest",
		strconv.FormatInt(req.BuildsetID, 10),
		strconv.FormatInt(b.builderID, 10),
		strconv.FormatInt(req.ID, 10),
		"complete",
	}
	payload := map[string]interface{}{
		"brid":        req.ID,
		"bsid":        req.BuildsetID,
		"buildername": b.name,
		"builderid":   b.builderID,
		"complete_at": completeAt.Unix(),
		"results":     string(results),
	}
	if err := b.deps.Bus.Publish(ctx, eventbus.Event{Key: key, Payload: payload}); err != nil {
		b.logger.Error("publish complete event failed", "builder", b.name, "request_id", req.ID, "error", err)
	}
}

func (b *Builder) publishUnclaimed(ctx context.Context, req types.BuildRequest) {
	if b.deps.Bus == nil {
		return
	}

	key := eventbus.RoutingKey{
		"buildrequest",
		strconv.FormatInt(req.BuildsetID, 10),
		strconv.FormatInt(b.builderID, 10),
		strconv.FormatInt(req.ID, 10),
		"unclaimed",
	}
	payload := map[string]interface{}{
		"brid":        req.ID,
		"bsid":        req.BuildsetID,
		"buildername": b.name,
	}
	if err := b.deps.Bus.Publish(ctx, eventbus.Event{Key: key, Payload: payload}); err != nil {
		b.logger.Error("publish unclaimed event failed", "builder", b.name, "request_id", req.ID, "error", err)
	}
}
