package metrics

import "github.com/prometheus/client_golang/prometheus"

// Metrics exposes counters/histograms for conversation turns and learning.
type Metrics struct {
	turnsTotal      *prometheus.CounterVec
	turnFailures    *prometheus.CounterVec
	importance      prometheus.Histogram
	knowledgeTotal  *prometheus.CounterVec
	fetchLatency    *prometheus.HistogramVec
	learningRunning prometheus.Gauge
}

func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		turnsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "may",
			Subsystem: "session",
			Name:      "turns_total",
			Help:      "Conversation turns processed",
		}, []string{"sentiment", "topic"}),
		turnFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "may",
			Subsystem: "session",
			Name:      "turn_failures_total",
			Help:      "Turns answered with the apology reply",
		}, []string{"stage"}),
		importance: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "may",
			Subsystem: "session",
			Name:      "turn_importance",
			Help:      "Importance assigned to stored turns",
			Buckets:   prometheus.LinearBuckets(1, 1, 10),
		}),
		knowledgeTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "may",
			Subsystem: "learning",
			Name:      "pages_total",
			Help:      "Fetched pages by outcome",
		}, []string{"outcome"}),
		fetchLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "may",
			Subsystem: "learning",
			Name:      "fetch_seconds",
			Help:      "Latency of trusted source fetches",
			Buckets:   prometheus.DefBuckets,
		}, []string{"domain"}),
		learningRunning: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "may",
			Subsystem: "learning",
			Name:      "active",
			Help:      "1 while a learning session runs",
		}),
	}
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	reg.MustRegister(m.turnsTotal, m.turnFailures, m.importance, m.knowledgeTotal, m.fetchLatency, m.learningRunning)
	return m
}

func (m *Metrics) ObserveTurn(sentiment, topic string) {
	if m == nil {
		return
	}
	m.turnsTotal.WithLabelValues(sentiment, topic).Inc()
}

func (m *Metrics) ObserveTurnFailure(stage string) {
	if m == nil {
		return
	}
	m.turnFailures.WithLabelValues(stage).Inc()
}

func (m *Metrics) ObserveImportance(score int) {
	if m == nil {
		return
	}
	m.importance.Observe(float64(score))
}

// ObserveKnowledge records a page outcome: stored, blocked, empty or error.
func (m *Metrics) ObserveKnowledge(outcome string) {
	if m == nil {
		return
	}
	m.knowledgeTotal.WithLabelValues(outcome).Inc()
}

func (m *Metrics) ObserveFetch(domain string, seconds float64) {
	if m == nil {
		return
	}
	m.fetchLatency.WithLabelValues(domain).Observe(seconds)
}

func (m *Metrics) SetLearning(active bool) {
	if m == nil {
		return
	}
	if active {
		m.learningRunning.Set(1)
		return
	}
	m.learningRunning.Set(0)
}
