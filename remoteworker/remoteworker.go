// Package remoteworker defines the abstract remote-call interface the
// dispatcher uses to talk to a worker process, grounded on the teacher's
// net/rpc worker service. The dispatcher's core package depends only on
// the Worker interface; Client and the testserver subpackage are concrete
// bindings, not part of the dispatcher's public contract.
package remoteworker

import (
	"context"
	"time"
)

// StartBuildArgs is what BuildStarter hands a worker to begin a build.
type StartBuildArgs struct {
	BuildID     int64
	BuilderName string
	Properties  map[string]string
	BuildDir    string
}

// StartBuildReply is the worker's synchronous acknowledgement; the
// terminal result arrives later through the CompletionHandler callback
// path, not through this reply.
type StartBuildReply struct {
	Accepted bool
	Reason   string
}

// Worker is the abstract remote-call interface BuildStarter and
// CompletionHandler use, per spec §6 "Remote worker interface": Attach,
// Prepare, Ping, BuildStarted, BuildFinished, Detach, RemoteStartBuild,
// ReleaseLocks, Connection.
type Worker interface {
	// Attach is called by WorkerRegistry when a worker first connects.
	Attach(ctx context.Context, workerName string) error
	// Prepare asks the worker to get ready to build for builderName (e.g.
	// create a build directory), before a build is started on it.
	Prepare(ctx context.Context, builderName string) error
	// Ping round-trips a liveness check; callers time it out themselves.
	Ping(ctx context.Context) error
	// BuildStarted notifies the worker side that a build has begun.
	BuildStarted(ctx context.Context, buildID int64) error
	// RemoteStartBuild dispatches the actual build command.
	RemoteStartBuild(ctx context.Context, args StartBuildArgs) (StartBuildReply, error)
	// BuildFinished notifies the worker side that a build has ended,
	// letting it release any build-scoped resources.
	BuildFinished(ctx context.Context, buildID int64) error
	// ReleaseLocks releases any locks the worker was holding for a build,
	// called by CompletionHandler when that build ends.
	ReleaseLocks(ctx context.Context, buildID int64) error
	// Detach is called by WorkerRegistry when the connection drops.
	Detach(ctx context.Context) error
	// Connection reports whether the underlying transport is currently
	// usable, without doing network I/O.
	Connection() ConnectionState
}

// ConnectionState is a snapshot of a Worker's transport health.
type ConnectionState struct {
	Connected  bool
	LastActive time.Time
}
