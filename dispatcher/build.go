// Package dispatcher implements the per-builder build dispatcher: matching
// queued build requests to connected remote workers, the liveness handshake
// required to safely hand off a build, the durable record of a build's
// start, and completion handling with correct cleanup on every failure
// path. It also owns the worker-attachment state machine and the periodic
// reclaim of in-flight work.
package dispatcher

import (
	"context"
	"time"

	"github.com/jackhou/buildbot/types"
)

// Build is the abstraction this package consumes for an actually-running
// build; the step/log streaming engine inside it is out of scope here.
type Build interface {
	// Start runs the build; it may block until the build ends, since
	// BuildStarter calls it on a goroutine of its own. onTerminal is
	// invoked exactly once, from any
	// goroutine, with the build's terminal outcome. A Build that fails to
	// even start must still invoke onTerminal (with results=EXCEPTION)
	// rather than returning an error from Start for anything past initial
	// validation.
	Start(ctx context.Context, onTerminal func(types.BuildOutcome)) error
}

// BuildFactory constructs a Build bound to a builder for the given
// (merged) request set, with env and properties already resolved by the
// caller.
type BuildFactory func(ctx context.Context, builderName string, requests []types.BuildRequest, env, properties map[string]string) (Build, error)

// InFlightBuild is created by BuildStarter and tracks one dispatched build
// until CompletionHandler removes it.
type InFlightBuild struct {
	Requests     []types.BuildRequest
	Build        Build
	Worker       *WorkerSlot
	DBBuildID    int64
	Number       int64
	ReleaseLocks func()
	StartedAt    time.Time
}

func requestIDs(requests []types.BuildRequest) []int64 {
	ids := make([]int64, len(requests))
	for i, r := range requests {
		ids[i] = r.ID
	}
	return ids
}
