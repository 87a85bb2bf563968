// Package neighmetrics exports a neigh.Table's statistics counters as
// Prometheus metrics. It is deliberately kept outside the neigh package:
// the resolution cache itself has no notion of a metrics registry or
// scrape endpoint, only the plain counters in neigh.StatsSnapshot.
package neighmetrics

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/netresolve/neigh/neigh"
)

// Collector implements prometheus.Collector over a single *neigh.Table,
// pulling a fresh StatsSnapshot on every scrape rather than shadowing the
// table's counters with a second set of Prometheus-native ones.
type Collector struct {
	table *neigh.Table

	resFailed           *prometheus.Desc
	unresolvedDiscards  *prometheus.Desc
	forcedGCRuns        *prometheus.Desc
	forcedGCReclaimed   *prometheus.Desc
	periodicGCReclaimed *prometheus.Desc
	proxyDrops          *prometheus.Desc
	entries             *prometheus.Desc
}

// New constructs a Collector for table. Register it with a
// prometheus.Registerer to expose it on a /metrics endpoint.
func New(table *neigh.Table) *Collector {
	const ns, sub = "neigh", "table"
	return &Collector{
		table: table,
		resFailed: prometheus.NewDesc(
			prometheus.BuildFQName(ns, sub, "resolution_failures_total"),
			"Entries that exhausted resolution and transitioned to FAILED.", nil, nil),
		unresolvedDiscards: prometheus.NewDesc(
			prometheus.BuildFQName(ns, sub, "unresolved_discards_total"),
			"Frames dropped from a per-entry queue on overflow.", nil, nil),
		forcedGCRuns: prometheus.NewDesc(
			prometheus.BuildFQName(ns, sub, "forced_gc_runs_total"),
			"Synchronous forced-shrink GC passes triggered at create time.", nil, nil),
		forcedGCReclaimed: prometheus.NewDesc(
			prometheus.BuildFQName(ns, sub, "forced_gc_reclaimed_total"),
			"Entries reclaimed by forced-shrink GC.", nil, nil),
		periodicGCReclaimed: prometheus.NewDesc(
			prometheus.BuildFQName(ns, sub, "periodic_gc_reclaimed_total"),
			"Entries reclaimed by the periodic sweep.", nil, nil),
		proxyDrops: prometheus.NewDesc(
			prometheus.BuildFQName(ns, sub, "proxy_queue_drops_total"),
			"Delayed proxy replies dropped for queue overflow.", nil, nil),
		entries: prometheus.NewDesc(
			prometheus.BuildFQName(ns, sub, "entries"),
			"Current number of live entries in the table.", nil, nil),
	}
}

// Describe implements prometheus.Collector.
func (c *Collector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.resFailed
	ch <- c.unresolvedDiscards
	ch <- c.forcedGCRuns
	ch <- c.forcedGCReclaimed
	ch <- c.periodicGCReclaimed
	ch <- c.proxyDrops
	ch <- c.entries
}

// Collect implements prometheus.Collector.
func (c *Collector) Collect(ch chan<- prometheus.Metric) {
	s := c.table.Stats()
	ch <- prometheus.MustNewConstMetric(c.resFailed, prometheus.CounterValue, float64(s.ResFailed))
	ch <- prometheus.MustNewConstMetric(c.unresolvedDiscards, prometheus.CounterValue, float64(s.UnresolvedDiscards))
	ch <- prometheus.MustNewConstMetric(c.forcedGCRuns, prometheus.CounterValue, float64(s.ForcedGCRuns))
	ch <- prometheus.MustNewConstMetric(c.forcedGCReclaimed, prometheus.CounterValue, float64(s.ForcedGCReclaimed))
	ch <- prometheus.MustNewConstMetric(c.periodicGCReclaimed, prometheus.CounterValue, float64(s.PeriodicGCReclaimed))
	ch <- prometheus.MustNewConstMetric(c.proxyDrops, prometheus.CounterValue, float64(s.ProxyDrops))
	ch <- prometheus.MustNewConstMetric(c.entries, prometheus.GaugeValue, float64(len(c.table.Entries())))
}
