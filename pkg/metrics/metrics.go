// Package metrics provides Prometheus-based metrics recording for the actor
// runtime and the effect executors.
package metrics

import (
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Recorder holds the server's instruments. There is one set per process;
// promauto registers on the default registry and re-registration panics, so
// NewRecorder always hands out the same instance.
type Recorder struct {
	messagesProcessed *prometheus.CounterVec
	messageDuration   *prometheus.HistogramVec
	effectsTotal      *prometheus.CounterVec
	effectFailures    *prometheus.CounterVec
	queueDepth        prometheus.Gauge
	llmRequestsTotal  *prometheus.CounterVec
	llmTokensTotal    *prometheus.CounterVec
	toolRunsTotal     *prometheus.CounterVec
	wsClients         prometheus.Gauge
}

//nolint:gochecknoglobals // process-wide instrument set
var (
	recorder     *Recorder
	recorderOnce sync.Once
)

// NewRecorder returns the process-wide instrument set, creating it on first
// use.
func NewRecorder() *Recorder {
	recorderOnce.Do(func() {
		recorder = newRecorder()
	})
	return recorder
}

func newRecorder() *Recorder {
	return &Recorder{
		messagesProcessed: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "salon_messages_processed_total",
				Help: "Messages processed by the runtime, by actor kind and message kind",
			},
			[]string{"actor_kind", "msg_kind"},
		),
		messageDuration: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "salon_message_duration_seconds",
				Help:    "Interpreter time per message",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"actor_kind"},
		),
		effectsTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "salon_effects_total",
				Help: "Effects dispatched, by executor category",
			},
			[]string{"category"},
		),
		effectFailures: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "salon_effect_failures_total",
				Help: "Effects whose executor returned an error, by category",
			},
			[]string{"category"},
		),
		queueDepth: promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "salon_ready_queue_depth",
				Help: "Actors waiting in the ready queue",
			},
		),
		llmRequestsTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "salon_llm_requests_total",
				Help: "LLM calls by model and status",
			},
			[]string{"model", "status", "error_type"},
		),
		llmTokensTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "salon_llm_tokens_total",
				Help: "Token usage by model and direction",
			},
			[]string{"model", "type"},
		),
		toolRunsTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "salon_tool_runs_total",
				Help: "Tool executions by tool name and status",
			},
			[]string{"tool", "status"},
		),
		wsClients: promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "salon_ws_clients",
				Help: "Connected WebSocket clients",
			},
		),
	}
}

// ObserveMessage records one interpreter invocation.
func (r *Recorder) ObserveMessage(actorKind, msgKind string, d time.Duration) {
	r.messagesProcessed.WithLabelValues(actorKind, msgKind).Inc()
	r.messageDuration.WithLabelValues(actorKind).Observe(d.Seconds())
}

// ObserveEffect records one dispatched effect.
func (r *Recorder) ObserveEffect(category string, err error) {
	r.effectsTotal.WithLabelValues(category).Inc()
	if err != nil {
		r.effectFailures.WithLabelValues(category).Inc()
	}
}

// SetQueueDepth records the current ready-queue depth.
func (r *Recorder) SetQueueDepth(n int) {
	r.queueDepth.Set(float64(n))
}

// ObserveLLMRequest records one completed or failed LLM call.
func (r *Recorder) ObserveLLMRequest(model string, inputTokens, outputTokens int64, errorType string) {
	status := "success"
	if errorType != "" {
		status = "error"
	}
	r.llmRequestsTotal.WithLabelValues(model, status, errorType).Inc()
	if errorType == "" {
		r.llmTokensTotal.WithLabelValues(model, "input").Add(float64(inputTokens))
		r.llmTokensTotal.WithLabelValues(model, "output").Add(float64(outputTokens))
	}
}

// ObserveToolRun records one tool execution.
func (r *Recorder) ObserveToolRun(tool string, isError bool) {
	status := "success"
	if isError {
		status = "error"
	}
	r.toolRunsTotal.WithLabelValues(tool, status).Inc()
}

// SetWSClients records the connected client count.
func (r *Recorder) SetWSClients(n int) {
	r.wsClients.Set(float64(n))
}

// Handler serves the default registry for scraping.
func Handler() http.Handler {
	return promhttp.Handler()
}
