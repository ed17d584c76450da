package dispatcher

import (
	"context"

	"github.com/jackhou/buildbot/clock"
	"github.com/jackhou/buildbot/eventbus"
	"github.com/jackhou/buildbot/expectations"
	"github.com/jackhou/buildbot/statussink"
	"github.com/jackhou/buildbot/store"
)

// MaybeBuildsetComplete is the external scheduler's callback for "check
// whether every build request in this buildset has completed, and if so
// mark the buildset itself complete". It is out of the dispatcher's scope
// (§1 Non-goals) but CompletionHandler must invoke it once per distinct
// buildset id on every non-RETRY completion.
type MaybeBuildsetComplete func(ctx context.Context, buildsetID int64)

// Dependencies bundles the implicit singletons the original reaches for
// through `master.db` / `master.mq` / `master.status` / `master.data.
// updates`, injected here at Builder construction per the Design Notes.
type Dependencies struct {
	RequestStore store.RequestStore
	BuildStore   store.BuildStore
	Registry     store.BuilderRegistry
	Bus          eventbus.Bus
	Sink         statussink.Sink
	Locks        *LockSet
	Clock        clock.Clock
	Expectations *expectations.Tracker
	MasterID     string

	MaybeBuildsetComplete MaybeBuildsetComplete
}
