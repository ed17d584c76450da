package dispatcher

import (
	"testing"
	"time"

	"github.com/juju/clock/testclock"

	"github.com/jackhou/buildbot/statussink"
)

func TestStatusAggregatorDerivesOffline(t *testing.T) {
	sink := statussink.NewMemorySink()
	fake := testclock.NewClock(time.Unix(0, 0))
	agg := NewStatusAggregator("compile", sink, func() bool { return true }, func() bool { return false }, fake, time.Minute, nil)

	agg.Refresh()

	last, ok := sink.Last("SetBigState")
	if !ok || last.Args[0] != bigStateOffline {
		t.Fatalf("expected offline, got %+v", last)
	}
}

func TestStatusAggregatorDerivesBuilding(t *testing.T) {
	sink := statussink.NewMemorySink()
	fake := testclock.NewClock(time.Unix(0, 0))
	agg := NewStatusAggregator("compile", sink, func() bool { return false }, func() bool { return true }, fake, time.Minute, nil)

	agg.Refresh()

	last, ok := sink.Last("SetBigState")
	if !ok || last.Args[0] != bigStateBuilding {
		t.Fatalf("expected building, got %+v", last)
	}
}

func TestStatusAggregatorDerivesIdle(t *testing.T) {
	sink := statussink.NewMemorySink()
	fake := testclock.NewClock(time.Unix(0, 0))
	agg := NewStatusAggregator("compile", sink, func() bool { return false }, func() bool { return false }, fake, time.Minute, nil)

	agg.Refresh()

	last, ok := sink.Last("SetBigState")
	if !ok || last.Args[0] != bigStateIdle {
		t.Fatalf("expected idle, got %+v", last)
	}
}

func TestStatusAggregatorRecoversFromPanic(t *testing.T) {
	sink := statussink.NewMemorySink()
	fake := testclock.NewClock(time.Unix(0, 0))
	agg := NewStatusAggregator("compile", sink, func() bool { panic("boom") }, func() bool { return false }, fake, time.Minute, nil)

	agg.Refresh() // must not panic out of this call
}

func TestStatusAggregatorPeriodicRefresh(t *testing.T) {
	sink := statussink.NewMemorySink()
	fake := testclock.NewClock(time.Unix(0, 0))
	calls := 0
	agg := NewStatusAggregator("compile", sink, func() bool { calls++; return false }, func() bool { return false }, fake, time.Minute, nil)
	agg.Start()
	defer agg.Stop()

	fake.WaitAdvance(time.Minute, time.Second, 1)
	time.Sleep(10 * time.Millisecond)

	if calls == 0 {
		t.Fatal("expected at least one periodic refresh")
	}
}
