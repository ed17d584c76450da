// Package clock wraps github.com/juju/clock so that ReclaimTimer and
// StatusAggregator depend on an injected clock rather than the wall clock
// directly, the way the Design Notes call for: "global reactor-supplied
// clock... abstract as an injected Clock with now() and schedulePeriodic".
package clock

import (
	"sync"
	"time"

	jujuclock "github.com/juju/clock"
)

// Clock is re-exported so callers only ever import this package.
type Clock = jujuclock.Clock

// WallClock is the production clock.
var WallClock Clock = jujuclock.WallClock

// PeriodicFunc is run on every tick of a periodic schedule.
type PeriodicFunc func()

// SchedulePeriodic runs fn every period on clk, until stop is closed. It
// returns immediately; fn runs on its own goroutine. fn is never invoked
// concurrently with itself.
func SchedulePeriodic(clk Clock, period time.Duration, fn PeriodicFunc) (stop func()) {
	stopCh := make(chan struct{})
	var once sync.Once

	go func() {
		timer := clk.NewTimer(period)
		defer timer.Stop()
		for {
			select {
			case <-stopCh:
				return
			case <-timer.Chan():
				fn()
				timer.Reset(period)
			}
		}
	}()

	return func() {
		once.Do(func() { close(stopCh) })
	}
}
