package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

type statsCollector struct {
	mu  sync.RWMutex
	src StatsSource

	embeddings *prometheus.Desc
	responses  *prometheus.Desc
	pending    *prometheus.Desc
	users      *prometheus.Desc
}

func (c *statsCollector) set(src StatsSource) {
	c.mu.Lock()
	c.src = src
	c.mu.Unlock()
}

func (c *statsCollector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.embeddings
	ch <- c.responses
	ch <- c.pending
	ch <- c.users
}

func (c *statsCollector) Collect(ch chan<- prometheus.Metric) {
	c.mu.RLock()
	src := c.src
	c.mu.RUnlock()
	if src == nil {
		return
	}

	embeddings, responses := src.CacheSizes()
	ch <- prometheus.MustNewConstMetric(c.embeddings, prometheus.GaugeValue, float64(embeddings))
	ch <- prometheus.MustNewConstMetric(c.responses, prometheus.GaugeValue, float64(responses))
	ch <- prometheus.MustNewConstMetric(c.pending, prometheus.GaugeValue, float64(src.PendingWrites()))
	ch <- prometheus.MustNewConstMetric(c.users, prometheus.GaugeValue, float64(src.TotalUsers()))
}
