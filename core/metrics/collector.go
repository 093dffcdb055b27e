// Package metrics exposes collection statistics as Prometheus metrics.
package metrics

import (
	"github.com/asaidimu/go-collections/core/persistence"
	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "collections"

// StatsSource reports statistics per collection id. *persistence.Registry satisfies it.
type StatsSource interface {
	Stats() map[string]persistence.Stats
}

// Collector is a prometheus.Collector that reads a StatsSource on every scrape.
type Collector struct {
	source StatsSource

	reads        *prometheus.Desc
	writes       *prometheus.Desc
	deletes      *prometheus.Desc
	cacheHits    *prometheus.Desc
	cacheMisses  *prometheus.Desc
	items        *prometheus.Desc
	transactions *prometheus.Desc
	queryTime    *prometheus.Desc
	lastWrite    *prometheus.Desc
}

var _ prometheus.Collector = (*Collector)(nil)

// NewCollector creates a Collector over source.
func NewCollector(source StatsSource) *Collector {
	desc := func(name, help string) *prometheus.Desc {
		return prometheus.NewDesc(prometheus.BuildFQName(namespace, "", name), help, []string{"collection"}, nil)
	}
	return &Collector{
		source:       source,
		reads:        desc("reads_total", "Single-item reads served."),
		writes:       desc("writes_total", "Creates and updates applied."),
		deletes:      desc("deletes_total", "Items deleted."),
		cacheHits:    desc("query_cache_hits_total", "Queries answered from the result cache."),
		cacheMisses:  desc("query_cache_misses_total", "Queries evaluated against the store."),
		items:        desc("items", "Items currently stored."),
		transactions: desc("active_transactions", "Transactions that are still pending."),
		queryTime:    desc("query_duration_avg_seconds", "Average query evaluation time."),
		lastWrite:    desc("last_write_timestamp_seconds", "Unix time of the last write, zero if none."),
	}
}

// Describe implements prometheus.Collector.
func (c *Collector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.reads
	ch <- c.writes
	ch <- c.deletes
	ch <- c.cacheHits
	ch <- c.cacheMisses
	ch <- c.items
	ch <- c.transactions
	ch <- c.queryTime
	ch <- c.lastWrite
}

// Collect implements prometheus.Collector.
func (c *Collector) Collect(ch chan<- prometheus.Metric) {
	for id, s := range c.source.Stats() {
		ch <- prometheus.MustNewConstMetric(c.reads, prometheus.CounterValue, float64(s.Reads), id)
		ch <- prometheus.MustNewConstMetric(c.writes, prometheus.CounterValue, float64(s.Writes), id)
		ch <- prometheus.MustNewConstMetric(c.deletes, prometheus.CounterValue, float64(s.Deletes), id)
		ch <- prometheus.MustNewConstMetric(c.cacheHits, prometheus.CounterValue, float64(s.CacheHits), id)
		ch <- prometheus.MustNewConstMetric(c.cacheMisses, prometheus.CounterValue, float64(s.CacheMisses), id)
		ch <- prometheus.MustNewConstMetric(c.items, prometheus.GaugeValue, float64(s.ItemCount), id)
		ch <- prometheus.MustNewConstMetric(c.transactions, prometheus.GaugeValue, float64(s.Transactions), id)
		ch <- prometheus.MustNewConstMetric(c.queryTime, prometheus.GaugeValue, s.AvgQueryTime.Seconds(), id)

		var lastWrite float64
		if !s.LastWriteTime.IsZero() {
			lastWrite = float64(s.LastWriteTime.UnixNano()) / 1e9
		}
		ch <- prometheus.MustNewConstMetric(c.lastWrite, prometheus.GaugeValue, lastWrite, id)
	}
}
