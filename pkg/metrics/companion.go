package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// StatsSource reports sizes sampled at scrape time.
type StatsSource interface {
	CacheSizes() (embeddings, responses int)
	PendingWrites() int
	TotalUsers() int
}

func (m *Manager) initCompanionMetrics(cfg Config) {
	m.replies = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "replies_total",
			Help:      "Replies composed, by source (model, cache, fallback)",
		},
		[]string{"source"},
	)

	m.replyDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "reply_duration_seconds",
			Help:      "Time to compose a reply",
			Buckets:   cfg.ReplyDurationBuckets,
		},
		[]string{"source"},
	)

	m.embeddings = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "embedding_lookups_total",
			Help:      "Embedding cache lookups by outcome",
		},
		[]string{"outcome"},
	)

	m.memoryWrites = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "memory_writes_total",
			Help:      "Long-term memory writes by outcome",
		},
		[]string{"outcome"},
	)

	m.runningCost = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "running_cost",
			Help:      "Estimated generation cost since start",
		},
	)

	m.statsCollector = &statsCollector{
		embeddings: prometheus.NewDesc(namespace+"_cached_embeddings", "Entries in the embedding cache", nil, nil),
		responses:  prometheus.NewDesc(namespace+"_cached_responses", "Entries in the response cache", nil, nil),
		pending:    prometheus.NewDesc(namespace+"_pending_memory_writes", "Memory writes waiting for a worker", nil, nil),
		users:      prometheus.NewDesc(namespace+"_session_users", "Users held in session memory", nil, nil),
	}

	m.registry.MustRegister(m.replies)
	m.registry.MustRegister(m.replyDuration)
	m.registry.MustRegister(m.embeddings)
	m.registry.MustRegister(m.memoryWrites)
	m.registry.MustRegister(m.runningCost)
	m.registry.MustRegister(m.statsCollector)
}

// ObserveReply records one composed reply.
func (m *Manager) ObserveReply(source string, latency time.Duration) {
	if !m.enabled {
		return
	}
	m.replies.WithLabelValues(source).Inc()
	m.replyDuration.WithLabelValues(source).Observe(latency.Seconds())
}

// SetRunningCost records the running cost total.
func (m *Manager) SetRunningCost(total float64) {
	if !m.enabled {
		return
	}
	m.runningCost.Set(total)
}

// ObserveEmbedding records one embedding cache lookup.
func (m *Manager) ObserveEmbedding(outcome string) {
	if !m.enabled {
		return
	}
	m.embeddings.WithLabelValues(outcome).Inc()
}

// ObserveMemoryWrite records one long-term memory write.
func (m *Manager) ObserveMemoryWrite(outcome string) {
	if !m.enabled {
		return
	}
	m.memoryWrites.WithLabelValues(outcome).Inc()
}

// WatchStats samples src on every scrape. Only the last source is kept.
func (m *Manager) WatchStats(src StatsSource) {
	if !m.enabled {
		return
	}
	m.statsCollector.set(src)
}
