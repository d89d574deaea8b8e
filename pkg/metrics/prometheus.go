package metrics

import (
	"fmt"
	"net/http"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
)

// jobOutcomeKey identifies one (queue, outcome) label pair for the
// jobs-processed counter.
type jobOutcomeKey struct {
	queue   string
	outcome string
}

// Metrics tracks pipeline execution statistics for Prometheus export.
// Counters are safe for concurrent increment from Runner/Judge/Curator
// handlers running under the orchestrator's bounded concurrency groups.
type Metrics struct {
	mu                  sync.Mutex
	jobsProcessed       map[jobOutcomeKey]int64
	runsCompleted       map[string]int64 // keyed by model_id
	judgeParseFailures  int64            // atomic
	queueDepth          map[string]int64 // keyed by queue name, last observed value
}

// NewMetrics constructs an empty Metrics.
func NewMetrics() *Metrics {
	return &Metrics{
		jobsProcessed: make(map[jobOutcomeKey]int64),
		runsCompleted: make(map[string]int64),
		queueDepth:    make(map[string]int64),
	}
}

// IncJobsProcessed records one message processed off queue, with outcome
// one of "success" or "failure".
func (m *Metrics) IncJobsProcessed(queue, outcome string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.jobsProcessed[jobOutcomeKey{queue: queue, outcome: outcome}]++
}

// IncRunsCompleted records one Run reaching a terminal state for model.
func (m *Metrics) IncRunsCompleted(model string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.runsCompleted[model]++
}

// IncJudgeParseFailures records one rubric response that failed to parse.
func (m *Metrics) IncJudgeParseFailures() {
	atomic.AddInt64(&m.judgeParseFailures, 1)
}

// SetQueueDepth records the last observed depth of queue, a gauge
// overwritten on each call rather than accumulated. The "queue" CLI
// subcommand is its only caller.
func (m *Metrics) SetQueueDepth(queue string, depth int64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.queueDepth[queue] = depth
}

// PrometheusExporter exports Metrics in Prometheus text format.
type PrometheusExporter struct {
	metrics *Metrics
}

// NewPrometheusExporter creates a new Prometheus exporter.
func NewPrometheusExporter(m *Metrics) *PrometheusExporter {
	return &PrometheusExporter{
		metrics: m,
	}
}

// Export returns metrics in Prometheus text format.
func (e *PrometheusExporter) Export() string {
	var b strings.Builder

	e.metrics.mu.Lock()
	jobKeys := make([]jobOutcomeKey, 0, len(e.metrics.jobsProcessed))
	for k := range e.metrics.jobsProcessed {
		jobKeys = append(jobKeys, k)
	}
	sort.Slice(jobKeys, func(i, j int) bool {
		if jobKeys[i].queue != jobKeys[j].queue {
			return jobKeys[i].queue < jobKeys[j].queue
		}
		return jobKeys[i].outcome < jobKeys[j].outcome
	})
	for _, k := range jobKeys {
		fmt.Fprintf(&b, "tutorbench_jobs_processed_total{queue=%q,outcome=%q} %d\n", k.queue, k.outcome, e.metrics.jobsProcessed[k])
	}

	models := make([]string, 0, len(e.metrics.runsCompleted))
	for model := range e.metrics.runsCompleted {
		models = append(models, model)
	}
	sort.Strings(models)
	for _, model := range models {
		fmt.Fprintf(&b, "tutorbench_runs_completed_total{model=%q} %d\n", model, e.metrics.runsCompleted[model])
	}

	queues := make([]string, 0, len(e.metrics.queueDepth))
	for queue := range e.metrics.queueDepth {
		queues = append(queues, queue)
	}
	sort.Strings(queues)
	for _, queue := range queues {
		fmt.Fprintf(&b, "tutorbench_queue_depth{queue=%q} %d\n", queue, e.metrics.queueDepth[queue])
	}

	judgeParseFailures := atomic.LoadInt64(&e.metrics.judgeParseFailures)
	e.metrics.mu.Unlock()

	fmt.Fprintf(&b, "tutorbench_judge_parse_failures_total %d\n", judgeParseFailures)

	return b.String()
}

// Handler returns an HTTP handler for the /metrics endpoint.
func (e *PrometheusExporter) Handler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/plain; version=0.0.4; charset=utf-8")
		w.WriteHeader(http.StatusOK)
		fmt.Fprint(w, e.Export())
	})
}
