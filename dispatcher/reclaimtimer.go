package dispatcher

import (
	"context"
	"log/slog"
	"time"

	"github.com/jackhou/buildbot/clock"
	"github.com/jackhou/buildbot/errors"
	"github.com/jackhou/buildbot/store"
)

// ReclaimTimer is C3: periodically re-asserts ownership of this builder's
// in-flight request ids against the request store.
type ReclaimTimer struct {
	builderName string
	interval    time.Duration
	clk         clock.Clock
	reqStore    store.RequestStore
	collectIDs  func() []int64
	logger      *slog.Logger

	stop func()
}

// NewReclaimTimer returns a ReclaimTimer that is not yet started.
// collectIDs must return the current union of request ids across
// building and oldBuilding.
func NewReclaimTimer(builderName string, interval time.Duration, clk clock.Clock, reqStore store.RequestStore, collectIDs func() []int64, logger *slog.Logger) *ReclaimTimer {
	if logger == nil {
		logger = slog.Default()
	}
	return &ReclaimTimer{
		builderName: builderName,
		interval:    interval,
		clk:         clk,
		reqStore:    reqStore,
		collectIDs:  collectIDs,
		logger:      logger,
	}
}

// Start begins the periodic schedule. Calling Start twice without an
// intervening Stop leaks the first timer.
func (t *ReclaimTimer) Start() {
	t.stop = clock.SchedulePeriodic(t.clk, t.interval, t.runOnce)
}

// Stop cancels the schedule. Safe to call even if Start was never called.
func (t *ReclaimTimer) Stop() {
	if t.stop != nil {
		t.stop()
	}
}

// runOnce performs a single reclaim pass. Errors are logged and swallowed:
// a reclaim failure must never propagate out of the timer.
func (t *ReclaimTimer) runOnce() {
	ids := t.collectIDs()
	if len(ids) == 0 {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := t.reqStore.ReclaimBuildRequests(ctx, ids); err != nil {
		apiErr := errors.NewAPIError(errors.ErrCodeReclaimFailed, err.Error()).WithDetail("builder", t.builderName)
		t.logger.Error("reclaim build requests failed", "builder", t.builderName, "ids", ids, "error", apiErr)
	}
}
