// Package metrics holds the orchestrator's counters and gauges. A Metrics
// value is injected into the worker and the API; Snapshot and Reset make it
// observable in tests, and Handler exposes it in Prometheus text format.
package metrics

import (
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "orchestrator"

// Snapshot is a point-in-time copy of every value.
type Snapshot struct {
	Dispatched       int64 `json:"dispatched"`
	Completed        int64 `json:"completed"`
	Failed           int64 `json:"failed"`
	Retried          int64 `json:"retried"`
	DeadLettered     int64 `json:"dead_lettered"`
	RateLimited      int64 `json:"rate_limited"`
	QueueDepth       int64 `json:"queue_depth"`
	TrackedTasks     int64 `json:"tracked_tasks"`
	ModelCalls       int64 `json:"model_calls"`
	PromptTokens     int64 `json:"prompt_tokens"`
	CompletionTokens int64 `json:"completion_tokens"`
	TotalTokens      int64 `json:"total_tokens"`
}

// Metrics is safe for concurrent use.
type Metrics struct {
	dispatched       atomic.Int64
	completed        atomic.Int64
	failed           atomic.Int64
	retried          atomic.Int64
	deadLettered     atomic.Int64
	rateLimited      atomic.Int64
	queueDepth       atomic.Int64
	trackedTasks     atomic.Int64
	modelCalls       atomic.Int64
	promptTokens     atomic.Int64
	completionTokens atomic.Int64
	totalTokens      atomic.Int64

	registry *prometheus.Registry
	mu       sync.RWMutex
	latency  prometheus.Histogram
}

// New creates a Metrics with its own registry, including Go runtime and
// process collectors.
func New() *Metrics {
	m := &Metrics{registry: prometheus.NewRegistry()}
	m.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	counter := func(name, help string, v *atomic.Int64) prometheus.Collector {
		return prometheus.NewCounterFunc(prometheus.CounterOpts{Namespace: namespace, Name: name, Help: help},
			func() float64 { return float64(v.Load()) })
	}
	gauge := func(name, help string, v *atomic.Int64) prometheus.Collector {
		return prometheus.NewGaugeFunc(prometheus.GaugeOpts{Namespace: namespace, Name: name, Help: help},
			func() float64 { return float64(v.Load()) })
	}
	m.registry.MustRegister(
		counter("tasks_dispatched_total", "Tasks dequeued and handed to an agent.", &m.dispatched),
		counter("tasks_completed_total", "Tasks that finished with a completed result.", &m.completed),
		counter("tasks_failed_total", "Tasks that ended failed, including dead-lettered ones.", &m.failed),
		counter("tasks_retried_total", "Retries scheduled after a generic or rate-limited failure.", &m.retried),
		counter("tasks_dead_lettered_total", "Tasks pushed to the dead-letter queue.", &m.deadLettered),
		counter("tasks_rate_limited_total", "Invocations rejected by a model rate limit.", &m.rateLimited),
		gauge("queue_depth", "Tasks waiting in the work queue.", &m.queueDepth),
		gauge("tracked_tasks", "Tasks held by the task store.", &m.trackedTasks),
		counter("model_calls_total", "Language model calls.", &m.modelCalls),
		counter("model_prompt_tokens_total", "Prompt tokens sent to language models.", &m.promptTokens),
		counter("model_completion_tokens_total", "Completion tokens received from language models.", &m.completionTokens),
		counter("model_tokens_total", "Total tokens reported by language models.", &m.totalTokens),
	)
	m.latency = newLatencyHistogram()
	m.registry.MustRegister(m.latency)
	return m
}

func newLatencyHistogram() prometheus.Histogram {
	return prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "model_latency_seconds",
		Help:      "Model latency per task invocation, summed across tool iterations.",
		Buckets:   []float64{0.25, 0.5, 1, 2, 5, 10, 20, 40, 80},
	})
}

// IncDispatched counts a task handed to an agent.
func (m *Metrics) IncDispatched() { m.dispatched.Add(1) }

// IncCompleted counts a completed task.
func (m *Metrics) IncCompleted() { m.completed.Add(1) }

// IncFailed counts a failed task.
func (m *Metrics) IncFailed() { m.failed.Add(1) }

// IncRetried counts a scheduled retry.
func (m *Metrics) IncRetried() { m.retried.Add(1) }

// IncDeadLettered counts a dead-lettered task.
func (m *Metrics) IncDeadLettered() { m.deadLettered.Add(1) }

// IncRateLimited counts a rate-limited invocation.
func (m *Metrics) IncRateLimited() { m.rateLimited.Add(1) }

// SetQueueDepth records the current queue depth.
func (m *Metrics) SetQueueDepth(n int) { m.queueDepth.Store(int64(n)) }

// SetTrackedTasks records how many tasks the store holds.
func (m *Metrics) SetTrackedTasks(n int) { m.trackedTasks.Store(int64(n)) }

// ObserveModel records usage for one task invocation.
func (m *Metrics) ObserveModel(calls int, latency time.Duration, prompt, completion, total int) {
	if calls <= 0 {
		return
	}
	m.modelCalls.Add(int64(calls))
	m.promptTokens.Add(int64(prompt))
	m.completionTokens.Add(int64(completion))
	m.totalTokens.Add(int64(total))

	m.mu.RLock()
	m.latency.Observe(latency.Seconds())
	m.mu.RUnlock()
}

// Snapshot copies the current values.
func (m *Metrics) Snapshot() Snapshot {
	return Snapshot{
		Dispatched:       m.dispatched.Load(),
		Completed:        m.completed.Load(),
		Failed:           m.failed.Load(),
		Retried:          m.retried.Load(),
		DeadLettered:     m.deadLettered.Load(),
		RateLimited:      m.rateLimited.Load(),
		QueueDepth:       m.queueDepth.Load(),
		TrackedTasks:     m.trackedTasks.Load(),
		ModelCalls:       m.modelCalls.Load(),
		PromptTokens:     m.promptTokens.Load(),
		CompletionTokens: m.completionTokens.Load(),
		TotalTokens:      m.totalTokens.Load(),
	}
}

// Reset zeroes every value and replaces the latency histogram.
func (m *Metrics) Reset() {
	for _, v := range []*atomic.Int64{
		&m.dispatched, &m.completed, &m.failed, &m.retried, &m.deadLettered, &m.rateLimited,
		&m.queueDepth, &m.trackedTasks, &m.modelCalls, &m.promptTokens, &m.completionTokens, &m.totalTokens,
	} {
		v.Store(0)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.registry.Unregister(m.latency)
	m.latency = newLatencyHistogram()
	m.registry.MustRegister(m.latency)
}

// Registry exposes the underlying registry for additional collectors.
func (m *Metrics) Registry() *prometheus.Registry { return m.registry }

// Handler serves the registry in Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}
