package dispatcher

import (
	"context"

	"github.com/jackhou/buildbot/types"
)

// fakeBuild is a controllable dispatcher.Build for tests. Start runs
// synchronously (within whatever goroutine calls it) and closes Done
// after invoking the terminal callback, so tests can wait on Done rather
// than sleep.
type fakeBuild struct {
	outcome  types.BuildOutcome
	startErr error
	Done     chan struct{}
}

func newFakeBuild(outcome types.BuildOutcome) *fakeBuild {
	return &fakeBuild{outcome: outcome, Done: make(chan struct{})}
}

func (f *fakeBuild) Start(_ context.Context, onTerminal func(types.BuildOutcome)) error {
	defer close(f.Done)
	if f.startErr != nil {
		return f.startErr
	}
	onTerminal(f.outcome)
	return nil
}
