package observability

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Conversation metrics
	activeSessions = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "voicebridge_active_sessions",
		Help: "Number of active realtime conversation sessions",
	})

	totalSessions = promauto.NewCounter(prometheus.CounterOpts{
		Name: "voicebridge_sessions_total",
		Help: "Total number of conversation sessions started",
	})

	sessionDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "voicebridge_session_duration_seconds",
		Help:    "Duration of conversation sessions in seconds",
		Buckets: []float64{5, 15, 30, 60, 120, 300, 600, 1800},
	})

	sessionEvents = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "voicebridge_session_events_total",
		Help: "Inbound realtime session events by type",
	}, []string{"type"})

	// STT metrics
	sttCycles = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "voicebridge_stt_cycles_total",
		Help: "Total push-to-talk transcription cycles",
	}, []string{"status"})

	sttLatency = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "voicebridge_stt_latency_seconds",
		Help:    "Remote transcription call latency in seconds",
		Buckets: []float64{0.1, 0.25, 0.5, 1.0, 2.0, 5.0, 10.0},
	})

	// Tool metrics
	toolCalls = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "voicebridge_tool_calls_total",
		Help: "Total tool calls dispatched",
	}, []string{"tool", "status"})

	toolDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "voicebridge_tool_duration_seconds",
		Help:    "Tool execution duration in seconds",
		Buckets: []float64{0.5, 1, 5, 15, 30, 60, 120, 300},
	})

	// Text insertion metrics
	insertions = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "voicebridge_insertions_total",
		Help: "Text insertion attempts by method and status",
	}, []string{"method", "status"})

	// Error metrics
	errorsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "voicebridge_errors_total",
		Help: "Total number of errors",
	}, []string{"type", "component"})

	// Circuit breaker metrics
	circuitBreakerState = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "voicebridge_circuit_breaker_state",
		Help: "Circuit breaker state (0=closed, 1=open, 2=half-open)",
	}, []string{"service"})

	// Audio metrics
	audioBytesProcessed = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "voicebridge_audio_bytes_total",
		Help: "Total audio bytes processed",
	}, []string{"direction"}) // direction: "in" or "out"
)

// SessionMetrics tracks metrics for a single conversation session.
type SessionMetrics struct {
	mu        sync.Mutex
	startTime time.Time
	sttStart  time.Time
	toolStart time.Time
}

// NewSessionMetrics creates a metrics tracker for one session.
func NewSessionMetrics() *SessionMetrics {
	return &SessionMetrics{startTime: time.Now()}
}

// RecordSessionStart records the start of a conversation session.
func (m *SessionMetrics) RecordSessionStart() {
	activeSessions.Inc()
	totalSessions.Inc()
}

// RecordSessionEnd records the end of a conversation session.
func (m *SessionMetrics) RecordSessionEnd() {
	activeSessions.Dec()
	sessionDuration.Observe(time.Since(m.startTime).Seconds())
}

// RecordSessionEvent counts an inbound session event by type.
func (m *SessionMetrics) RecordSessionEvent(eventType string) {
	sessionEvents.WithLabelValues(eventType).Inc()
}

// RecordSTTStart marks the beginning of a remote transcription call.
func (m *SessionMetrics) RecordSTTStart() {
	m.mu.Lock()
	m.sttStart = time.Now()
	m.mu.Unlock()
}

// RecordSTTEnd records the outcome of a transcription cycle.
func (m *SessionMetrics) RecordSTTEnd(status string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.sttStart.IsZero() {
		sttLatency.Observe(time.Since(m.sttStart).Seconds())
		m.sttStart = time.Time{}
	}
	sttCycles.WithLabelValues(status).Inc()
}

// RecordToolStart marks the beginning of a tool execution.
func (m *SessionMetrics) RecordToolStart() {
	m.mu.Lock()
	m.toolStart = time.Now()
	m.mu.Unlock()
}

// RecordToolEnd records the outcome of a tool call.
func (m *SessionMetrics) RecordToolEnd(tool, status string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.toolStart.IsZero() {
		toolDuration.Observe(time.Since(m.toolStart).Seconds())
		m.toolStart = time.Time{}
	}
	toolCalls.WithLabelValues(tool, status).Inc()
}

// RecordAudioBytes records audio bytes processed in either direction.
func (m *SessionMetrics) RecordAudioBytes(direction string, bytes int64) {
	audioBytesProcessed.WithLabelValues(direction).Add(float64(bytes))
}

// RecordError records an error by type and component.
func (m *SessionMetrics) RecordError(errorType, component string) {
	errorsTotal.WithLabelValues(errorType, component).Inc()
}

// RecordInsertion records a text insertion attempt.
func RecordInsertion(method, status string) {
	insertions.WithLabelValues(method, status).Inc()
}

// UpdateCircuitBreakerState updates the circuit breaker state gauge.
func UpdateCircuitBreakerState(service string, state int) {
	circuitBreakerState.WithLabelValues(service).Set(float64(state))
}
