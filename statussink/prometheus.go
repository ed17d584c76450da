package statussink

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

// PrometheusSink implements Sink with metrics registered under the
// "dispatcher" namespace, following the teacher's CacheServer pattern of
// metric vectors labelled by builder/operation, held as fields of the sink.
type PrometheusSink struct {
	mu sync.RWMutex

	builderBigState  *prometheus.GaugeVec
	workerCount      *prometheus.GaugeVec
	cacheSize        *prometheus.GaugeVec
	buildsStarted    *prometheus.CounterVec
	buildNumberGauge *prometheus.GaugeVec
	pointEvents      *prometheus.CounterVec

	bigStateCode map[string]float64
}

// NewPrometheusSink builds a PrometheusSink and registers its collectors
// with reg. Pass prometheus.DefaultRegisterer in production.
func NewPrometheusSink(reg prometheus.Registerer) *PrometheusSink {
	s := &PrometheusSink{
		builderBigState: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "dispatcher",
			Name:      "builder_big_state",
			Help:      "Coarse builder state: 0=offline 1=idle 2=building.",
		}, []string{"builder"}),
		workerCount: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "dispatcher",
			Name:      "builder_worker_count",
			Help:      "Number of attached workers for a builder.",
		}, []string{"builder"}),
		cacheSize: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "dispatcher",
			Name:      "builder_cache_size",
			Help:      "Configured recent-builds cache size for a builder.",
		}, []string{"builder"}),
		buildsStarted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "dispatcher",
			Name:      "builds_started_total",
			Help:      "Total number of builds started, by builder and worker.",
		}, []string{"builder", "worker"}),
		buildNumberGauge: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "dispatcher",
			Name:      "builder_last_build_number",
			Help:      "Most recent build number observed for a builder.",
		}, []string{"builder"}),
		pointEvents: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "dispatcher",
			Name:      "point_events_total",
			Help:      "Count of discrete builder point events, by tag.",
		}, []string{"builder", "tag"}),
		bigStateCode: map[string]float64{"offline": 0, "idle": 1, "building": 2},
	}

	reg.MustRegister(s.builderBigState, s.workerCount, s.cacheSize, s.buildsStarted, s.buildNumberGauge, s.pointEvents)
	return s
}

func (s *PrometheusSink) BuilderAdded(name, _, _ string) {
	s.builderBigState.WithLabelValues(name).Set(s.bigStateCode["offline"])
}

func (s *PrometheusSink) SetWorkernames(builderName string, names []string) {
	s.workerCount.WithLabelValues(builderName).Set(float64(len(names)))
}

func (s *PrometheusSink) SetCacheSize(builderName string, size int) {
	s.cacheSize.WithLabelValues(builderName).Set(float64(size))
}

func (s *PrometheusSink) NewBuild(builderName string, buildNumber int64) {
	s.buildNumberGauge.WithLabelValues(builderName).Set(float64(buildNumber))
}

func (s *PrometheusSink) BuildStarted(builderName string, _ int64, workerName string) {
	s.buildsStarted.WithLabelValues(builderName, workerName).Inc()
}

func (s *PrometheusSink) SetBigState(builderName, state string) {
	s.mu.RLock()
	code, ok := s.bigStateCode[state]
	s.mu.RUnlock()
	if !ok {
		code = -1
	}
	s.builderBigState.WithLabelValues(builderName).Set(code)
}

func (s *PrometheusSink) AddPointEvent(builderName string, tags []string) {
	for _, tag := range tags {
		s.pointEvents.WithLabelValues(builderName, tag).Inc()
	}
}
