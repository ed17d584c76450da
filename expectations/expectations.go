// Package expectations tracks historical build duration and success rate
// per builder, generalized from the teacher's build-time predictor (a
// per-feature running average over successful build durations) away from
// Gradle-specific features to the generic {duration, success} samples the
// dispatcher's Build abstraction reports.
package expectations

import (
	"sync"
	"time"
)

// Sample is one build's observed outcome, as reported by CompletionHandler.
type Sample struct {
	BuilderName string
	Duration    time.Duration
	Success     bool
}

// Estimate is Tracker's opaque prediction for a builder: an expected
// duration (the mean of the retained samples) and a confidence in (0, 1]:
// the share of those samples that succeeded, or 0.1 when none did.
type Estimate struct {
	Duration   time.Duration
	Confidence float64
	Samples    int
}

// Tracker accumulates Samples and predicts future build duration, mirroring
// the teacher's running-average build time model but keyed only by builder
// name: the dispatcher has no notion of per-task features.
type Tracker struct {
	mu      sync.RWMutex
	history map[string][]Sample
	window  int
}

// NewTracker returns a Tracker that keeps at most window recent samples per
// builder (0 means unbounded).
func NewTracker(window int) *Tracker {
	return &Tracker{history: make(map[string][]Sample), window: window}
}

// Update records a completed build's outcome.
func (t *Tracker) Update(s Sample) {
	t.mu.Lock()
	defer t.mu.Unlock()

	h := append(t.history[s.BuilderName], s)
	if t.window > 0 && len(h) > t.window {
		h = h[len(h)-t.window:]
	}
	t.history[s.BuilderName] = h
}

// Predict returns the current duration estimate for builderName. With no
// history, it returns the zero Estimate and ok=false.
func (t *Tracker) Predict(builderName string) (Estimate, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()

	samples := t.history[builderName]
	if len(samples) == 0 {
		return Estimate{}, false
	}

	var total time.Duration
	successes := 0
	for _, s := range samples {
		total += s.Duration
		if s.Success {
			successes++
		}
	}

	avg := total / time.Duration(len(samples))
	confidence := float64(successes) / float64(len(samples))
	if confidence == 0 {
		// Even all-failing history is still signal; don't report zero
		// confidence, which would read as "no data".
		confidence = 0.1
	}

	return Estimate{Duration: avg, Confidence: confidence, Samples: len(samples)}, true
}

// PredictDuration is the duration-only view of Predict. Builder itself
// only feeds the Tracker through Update; it does not read predictions.
func (t *Tracker) PredictDuration(builderName string) (time.Duration, bool) {
	est, ok := t.Predict(builderName)
	return est.Duration, ok
}
