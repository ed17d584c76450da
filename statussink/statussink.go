// Package statussink is the status-sink collaborator from spec §6: the
// dispatcher reports derived state here, it never reads state back.
package statussink

// Sink receives the status notifications StatusAggregator and BuildStarter
// emit. Every method is fire-and-forget from the dispatcher's perspective:
// a slow or failing sink must never block build dispatch.
type Sink interface {
	BuilderAdded(name, category, description string)
	SetWorkernames(builderName string, names []string)
	SetCacheSize(builderName string, size int)
	NewBuild(builderName string, buildNumber int64)
	BuildStarted(builderName string, buildNumber int64, workerName string)
	SetBigState(builderName, state string)
	AddPointEvent(builderName string, tags []string)
}
