// Package store defines the request/build persistence contracts the
// dispatcher consumes (spec §6: Request store, Build store, Registry) and
// provides two implementations: an in-memory fake for unit tests and a
// SQLite-backed store for real use.
package store

import (
	"context"
	"time"

	"github.com/jackhou/buildbot/types"
)

// BuildRecord is the row written by AddBuild, keyed exactly as §4.5 step 11
// describes: (builderID, buildRequestID = last request's id, workerID,
// masterID, initial state strings).
type BuildRecord struct {
	BuilderID      int64
	BuildRequestID int64
	WorkerID       string
	MasterID       string
	StateStrings   []string
}

// RequestStore is the request-store collaborator from spec §6.
type RequestStore interface {
	// GetBuildRequests returns requests for builderName, filtered by claim
	// status.
	GetBuildRequests(ctx context.Context, builderName string, claimed bool) ([]types.BuildRequest, error)
	// ReclaimBuildRequests re-asserts this master's ownership of ids.
	ReclaimBuildRequests(ctx context.Context, ids []int64) error
	// UnclaimBuildRequests releases ids back to the queue, e.g. on RETRY.
	UnclaimBuildRequests(ctx context.Context, ids []int64) error
	// CompleteBuildRequests marks ids as finished with results at completeAt.
	CompleteBuildRequests(ctx context.Context, ids []int64, results types.Results, completeAt time.Time) error
}

// BuildStore is the build-store collaborator from spec §6.
type BuildStore interface {
	// AddBuild persists the start of a build, returning its row id and the
	// builder-scoped build number.
	AddBuild(ctx context.Context, rec BuildRecord) (buildID int64, number int64, err error)
	// FinishBuild persists the terminal result of a build.
	FinishBuild(ctx context.Context, buildID int64, results types.Results) error
}

// BuilderRegistry is the "Registry" collaborator from spec §6: an idempotent
// name-to-id resolver.
type BuilderRegistry interface {
	FindBuilderID(ctx context.Context, name string) (int64, error)
}

// Store bundles the three collaborators the dispatcher needs; both
// implementations in this package satisfy it.
type Store interface {
	RequestStore
	BuildStore
	BuilderRegistry
}
