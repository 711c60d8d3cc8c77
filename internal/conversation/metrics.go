package conversation

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/linnemanlabs/medbridge/internal/llm"
	"github.com/linnemanlabs/medbridge/internal/redact"
)

// Metrics holds Prometheus metrics for the conversation subsystem.
type Metrics struct {
	TurnsTotal      *prometheus.CounterVec
	TurnDuration    prometheus.Histogram
	StageDuration   *prometheus.HistogramVec
	StageDegraded   *prometheus.CounterVec
	IntentsTotal    *prometheus.CounterVec
	EntitiesTotal   *prometheus.CounterVec
	SummariesTotal  *prometheus.CounterVec
	SessionsStarted prometheus.Counter
	SessionsEnded   prometheus.Counter
	LLMCallsTotal   *prometheus.CounterVec
	LLMTokensIn     prometheus.Counter
	LLMTokensOut    prometheus.Counter
	LLMDuration     *prometheus.HistogramVec
}

// NewMetrics registers and returns conversation metrics on the given registerer.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		TurnsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "medbridge_turns_total",
			Help: "Total processed turns by outcome.",
		}, []string{"outcome"}),
		TurnDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "medbridge_turn_duration_seconds",
			Help:    "End-to-end turn latency in seconds, summarization included.",
			Buckets: prometheus.ExponentialBuckets(0.25, 2, 10), // 0.25s .. ~128s
		}),
		StageDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "medbridge_stage_duration_seconds",
			Help:    "Duration of individual turn stages in seconds.",
			Buckets: prometheus.ExponentialBuckets(0.01, 2, 14), // 10ms .. ~82s
		}, []string{"stage"}),
		StageDegraded: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "medbridge_stage_degraded_total",
			Help: "Stages that fell back to a default value.",
		}, []string{"stage"}),
		IntentsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "medbridge_intent_decisions_total",
			Help: "Intent decisions by label.",
		}, []string{"label"}),
		EntitiesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "medbridge_redacted_entities_total",
			Help: "Redacted entities by type.",
		}, []string{"type"}),
		SummariesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "medbridge_summaries_total",
			Help: "Session summarizations by result.",
		}, []string{"result"}),
		SessionsStarted: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "medbridge_sessions_started_total",
			Help: "Total sessions started or reset.",
		}),
		SessionsEnded: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "medbridge_sessions_ended_total",
			Help: "Total sessions ended.",
		}),
		LLMCallsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "medbridge_llm_calls_total",
			Help: "Total LLM provider calls by status.",
		}, []string{"status"}),
		LLMTokensIn: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "medbridge_llm_tokens_input_total",
			Help: "Total LLM input tokens consumed.",
		}),
		LLMTokensOut: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "medbridge_llm_tokens_output_total",
			Help: "Total LLM output tokens consumed.",
		}),
		LLMDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "medbridge_llm_call_duration_seconds",
			Help:    "Duration of individual LLM calls in seconds.",
			Buckets: prometheus.ExponentialBuckets(0.25, 2, 10), // 0.25s .. ~128s
		}, []string{"model"}),
	}

	reg.MustRegister(
		m.TurnsTotal,
		m.TurnDuration,
		m.StageDuration,
		m.StageDegraded,
		m.IntentsTotal,
		m.EntitiesTotal,
		m.SummariesTotal,
		m.SessionsStarted,
		m.SessionsEnded,
		m.LLMCallsTotal,
		m.LLMTokensIn,
		m.LLMTokensOut,
		m.LLMDuration,
	)

	return m
}

// LLMHook returns a CallHook that records provider calls, for use with llm.Observe.
func (m *Metrics) LLMHook() llm.CallHook {
	return func(model string, usage llm.Usage, d time.Duration, err error) {
		status := "success"
		if err != nil {
			status = "error"
		}
		if model == "" {
			model = "default"
		}
		m.LLMCallsTotal.WithLabelValues(status).Inc()
		m.LLMTokensIn.Add(float64(usage.InputTokens))
		m.LLMTokensOut.Add(float64(usage.OutputTokens))
		m.LLMDuration.WithLabelValues(model).Observe(d.Seconds())
	}
}

// The observe helpers are nil-safe so a Service can run without metrics.

func (m *Metrics) observeStage(r StageResult) {
	if m == nil {
		return
	}
	m.StageDuration.WithLabelValues(string(r.Stage)).Observe(r.Duration)
	if r.Degraded {
		m.StageDegraded.WithLabelValues(string(r.Stage)).Inc()
	}
}

func (m *Metrics) observeTurn(outcome string, d time.Duration) {
	if m == nil {
		return
	}
	m.TurnsTotal.WithLabelValues(outcome).Inc()
	m.TurnDuration.Observe(d.Seconds())
}

func (m *Metrics) observeRedaction(entities []redact.Entity) {
	if m == nil {
		return
	}
	for _, e := range entities {
		m.EntitiesTotal.WithLabelValues(string(e.Type)).Inc()
	}
}

func (m *Metrics) observeIntent(label string) {
	if m == nil {
		return
	}
	m.IntentsTotal.WithLabelValues(label).Inc()
}

func (m *Metrics) observeSummary(err error) {
	if m == nil {
		return
	}
	result := "success"
	if err != nil {
		result = "error"
	}
	m.SummariesTotal.WithLabelValues(result).Inc()
}

func (m *Metrics) sessionStarted() {
	if m != nil {
		m.SessionsStarted.Inc()
	}
}

func (m *Metrics) sessionEnded() {
	if m != nil {
		m.SessionsEnded.Inc()
	}
}
