// Package types holds the data shapes shared across the dispatcher and its
// collaborators: build requests, terminal results, and the metrics a Build
// runner reports back.
package types

import "time"

// Results is the terminal outcome of a Build, as reported by the Build
// runner to CompletionHandler.
type Results string

const (
	ResultSuccess   Results = "SUCCESS"
	ResultWarnings  Results = "WARNINGS"
	ResultFailure   Results = "FAILURE"
	ResultSkipped   Results = "SKIPPED"
	ResultException Results = "EXCEPTION"
	ResultRetry     Results = "RETRY"
	ResultCancelled Results = "CANCELLED"
)

// Terminal reports whether a Results value ends the build (all of them do;
// RETRY is terminal for the Build but triggers re-dispatch rather than
// completion).
func (r Results) Terminal() bool {
	switch r {
	case ResultSuccess, ResultWarnings, ResultFailure, ResultSkipped, ResultException, ResultRetry, ResultCancelled:
		return true
	default:
		return false
	}
}

// BuildRequest is externally owned by the request queue / global scheduler.
// The dispatcher treats everything beyond ID, BuildsetID and BuilderName as
// opaque passthrough data for the Build factory.
type BuildRequest struct {
	ID          int64
	BuildsetID  int64
	BuilderName string
	Properties  map[string]string
	SubmittedAt time.Time
}

// BuildMetrics is what a Build runner reports alongside its terminal
// Results; the dispatcher neither persists nor forwards it. Expectations
// is fed only the outcome's Duration and Results.
type BuildMetrics struct {
	Steps         []BuildStep
	CacheHitRate  float64
	TestResults   TestResults
	ResourceUsage ResourceMetrics
}

// BuildStep is one named phase of a running build.
type BuildStep struct {
	Name     string
	Duration time.Duration
	CacheHit bool
}

// TestResults summarizes test execution within a build, when applicable.
type TestResults struct {
	TotalTests  int
	PassedTests int
	FailedTests int
}

// ResourceMetrics tracks coarse resource utilization during a build.
type ResourceMetrics struct {
	CPUPercent  float64
	MemoryBytes int64
}

// BuildOutcome is what a Build runner delivers to its terminal callback.
type BuildOutcome struct {
	Results   Results
	Duration  time.Duration
	Metrics   BuildMetrics
	Artifacts []string
	Error     string
}
