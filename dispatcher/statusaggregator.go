package dispatcher

import (
	"log/slog"
	"time"

	"github.com/jackhou/buildbot/clock"
	"github.com/jackhou/buildbot/statussink"
)

const (
	bigStateOffline  = "offline"
	bigStateIdle     = "idle"
	bigStateBuilding = "building"
)

// StatusAggregator is C4: derives a coarse builder state from the
// registry's emptiness and whether any build is in flight, and pushes it
// to the status sink.
type StatusAggregator struct {
	builderName  string
	sink         statussink.Sink
	registryIsEmpty func() bool
	anyInFlight  func() bool
	clk          clock.Clock
	interval     time.Duration
	logger       *slog.Logger

	stop func()
}

// NewStatusAggregator returns a StatusAggregator that is not yet started.
func NewStatusAggregator(builderName string, sink statussink.Sink, registryIsEmpty, anyInFlight func() bool, clk clock.Clock, interval time.Duration, logger *slog.Logger) *StatusAggregator {
	if logger == nil {
		logger = slog.Default()
	}
	return &StatusAggregator{
		builderName:     builderName,
		sink:            sink,
		registryIsEmpty: registryIsEmpty,
		anyInFlight:     anyInFlight,
		clk:             clk,
		interval:        interval,
		logger:          logger,
	}
}

// Refresh recomputes and pushes the current big-state. It recovers from
// any panic in the derivation: this path must never throw into a timer or
// into whatever attach/detach/start/finish call triggered it.
func (a *StatusAggregator) Refresh() {
	defer func() {
		if r := recover(); r != nil {
			a.logger.Error("status aggregator panic recovered", "builder", a.builderName, "panic", r)
		}
	}()

	state := bigStateIdle
	switch {
	case a.registryIsEmpty():
		state = bigStateOffline
	case a.anyInFlight():
		state = bigStateBuilding
	}

	a.sink.SetBigState(a.builderName, state)
}

// Start begins the periodic refresh schedule, in addition to the
// event-triggered calls to Refresh the Builder makes directly.
func (a *StatusAggregator) Start() {
	a.stop = clock.SchedulePeriodic(a.clk, a.interval, a.Refresh)
}

// Stop cancels the schedule.
func (a *StatusAggregator) Stop() {
	if a.stop != nil {
		a.stop()
	}
}
