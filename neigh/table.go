package neigh

import (
	"context"
	"fmt"
	"math/rand"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"
)

// Default GC thresholds (spec §3, "Table").
const (
	DefaultGCThresh1 = 128
	DefaultGCThresh2 = 512
	DefaultGCThresh3 = 1024
)

// minForcedGCInterval gates how often forced (synchronous) GC may run,
// per spec §4.1 step 1 ("more than 5s since last forced shrink").
const minForcedGCInterval = 5 * time.Second

// TableOptions configures a new Table.
type TableOptions struct {
	Protocol Protocol

	GCThresh1, GCThresh2, GCThresh3 int

	Dispatcher Dispatcher
	Logger     *logrus.Logger

	// CreateOnProbe controls whether an inbound resolution request for
	// an address we have no entry for creates one (spec §4.5 step 4,
	// "create-if-missing only under controlled policy"). Defaults to
	// true.
	CreateOnProbe *bool
}

// Table is a hash-bucket container of Entries for a single resolution
// protocol (spec §3, "Table"). One Table exists per protocol, e.g. one
// ARP table for IPv4.
//
// Lock hierarchy (spec §5): Table.mu is acquired before any Entry.mu.
type Table struct {
	proto Protocol

	log *logrus.Entry

	mu      sync.RWMutex
	seed    uint32
	buckets []*Entry // bucket heads; power-of-two sized
	count   int32    // atomic; live entry count across all buckets

	gcThresh1, gcThresh2, gcThresh3 int
	lastForcedGC                    time.Time

	dispatcher Dispatcher
	stats      *Stats

	paramsMu      sync.Mutex
	paramsByIface map[NICID]*Parameters

	proxy *proxyTable

	create singleflight.Group

	group       *errgroup.Group
	groupCancel context.CancelFunc

	closed bool

	createOnProbe bool
}

// NewTable constructs a Table and starts its periodic GC and proxy-queue
// dispatch goroutines (spec §4.6, §4.9).
func NewTable(opts TableOptions) *Table {
	if opts.GCThresh1 <= 0 {
		opts.GCThresh1 = DefaultGCThresh1
	}
	if opts.GCThresh2 <= 0 {
		opts.GCThresh2 = DefaultGCThresh2
	}
	if opts.GCThresh3 <= 0 {
		opts.GCThresh3 = DefaultGCThresh3
	}
	if opts.Dispatcher == nil {
		opts.Dispatcher = nopDispatcher{}
	}
	logger := opts.Logger
	if logger == nil {
		logger = logrus.StandardLogger()
	}

	t := &Table{
		proto:         opts.Protocol,
		log:           logger.WithField("component", "neigh.Table"),
		seed:          rand.Uint32(),
		buckets:       make([]*Entry, 16),
		gcThresh1:     opts.GCThresh1,
		gcThresh2:     opts.GCThresh2,
		gcThresh3:     opts.GCThresh3,
		dispatcher:    opts.Dispatcher,
		stats:         newStats(),
		paramsByIface: make(map[NICID]*Parameters),
		createOnProbe: true,
	}
	if opts.CreateOnProbe != nil {
		t.createOnProbe = *opts.CreateOnProbe
	}
	t.proxy = newProxyTable(t)

	ctx, cancel := context.WithCancel(context.Background())
	g, ctx := errgroup.WithContext(ctx)
	t.group = g
	t.groupCancel = cancel
	g.Go(func() error { t.runPeriodicGC(ctx); return nil })
	g.Go(func() error { t.proxy.run(ctx); return nil })

	return t
}

// Close stops the background GC and proxy-dispatch goroutines. It does not
// remove any entries.
func (t *Table) Close() {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return
	}
	t.closed = true
	t.mu.Unlock()

	t.groupCancel()
	_ = t.group.Wait()
}

// Stats returns the table's live statistics counters.
func (t *Table) Stats() StatsSnapshot { return t.stats.snapshot() }

// SetParameters installs (or replaces) the Parameters used for entries
// created against nic. Existing entries keep their old Parameters
// reference until they themselves are removed.
func (t *Table) SetParameters(nic NICID, p *Parameters) {
	p.resetInvalidFields()
	t.paramsMu.Lock()
	defer t.paramsMu.Unlock()
	if old, ok := t.paramsByIface[nic]; ok {
		old.markDead()
	}
	t.paramsByIface[nic] = p
}

func (t *Table) paramsFor(nic NICID) *Parameters {
	t.paramsMu.Lock()
	defer t.paramsMu.Unlock()
	p, ok := t.paramsByIface[nic]
	if !ok {
		p = DefaultParameters()
		t.paramsByIface[nic] = p
	}
	return p
}

// hashLocked computes the bucket index for addr/nic under the table's current
// mask, using the protocol's keyed hash (spec §4.1).
func (t *Table) hashLocked(addr Address, nic NICID) uint32 {
	h := t.proto.Hash(addr, nic, t.seed)
	return h & uint32(len(t.buckets)-1)
}

// Lookup finds the entry for (addr, nic), incrementing its refcount on
// success (spec §4.1, "lookup"). Callers must Release the entry when done.
func (t *Table) Lookup(addr Address, nic Interface) (*Entry, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.lookupLocked(addr, nic)
}

func (t *Table) lookupLocked(addr Address, nic Interface) (*Entry, bool) {
	idx := t.hashLocked(addr, nic.ID())
	for e := t.buckets[idx]; e != nil; e = e.bucketNext {
		if e.addr == addr && e.nic.ID() == nic.ID() {
			return e.Acquire(), true
		}
	}
	return nil, false
}

// Create finds or creates the entry for (addr, nic), running the
// protocol's static-resolution constructor and the table's GC/resize
// bookkeeping (spec §4.1, "create"). localAddr is the protocol address
// solicitations will be sent on behalf of.
func (t *Table) Create(addr, localAddr Address, nic Interface) (*Entry, error) {
	if t.proto == nil {
		return nil, ErrProtocolUnspecified
	}

	if e, ok := t.Lookup(addr, nic); ok {
		return e, nil
	}

	key := fmt.Sprintf("%d\x00%s", nic.ID(), addr)
	v, err, _ := t.create.Do(key, func() (interface{}, error) {
		return t.createLocked(addr, localAddr, nic)
	})
	if err != nil {
		return nil, err
	}
	// createLocked returns the entry at its table-owned baseline refcount;
	// every caller collapsed onto this call (there may be several, via
	// singleflight) needs its own reference on top of that, matching
	// Lookup's contract: Release when done.
	return v.(*Entry).Acquire(), nil
}

func (t *Table) createLocked(addr, localAddr Address, nic Interface) (*Entry, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	// Re-check under the write lock: another creator may have already
	// inserted the entry while we waited (spec §4.1 step 5 covers the
	// symmetric race after unlocking briefly for GC; collapsing it here
	// via singleflight plus this re-check covers both).
	if e, ok := t.lookupLocked(addr, nic); ok {
		e.Release() // undo the lookup's Acquire; Create acquires once for the caller
		return e, nil
	}

	count := atomic.LoadInt32(&t.count)
	if int(count) >= t.gcThresh3 || (int(count) >= t.gcThresh2 && now().Sub(t.lastForcedGC) > minForcedGCInterval) {
		t.forcedShrinkLocked()
		if int(atomic.LoadInt32(&t.count)) >= t.gcThresh3 {
			return nil, ErrResourceExhausted
		}
	}

	params := t.paramsFor(nic.ID())
	if !params.incRef() {
		params = DefaultParameters()
		t.SetParameters(nic.ID(), params)
		params.incRef()
	}

	e := newEntry(t, addr, localAddr, nic, t.proto, params)

	if linkAddr, ok := t.proto.ResolveStatic(addr, nic); ok {
		e.linkAddr = linkAddr
		e.state = Noarp
		e.updated = now()
	}

	if int(atomic.LoadInt32(&t.count))+1 > len(t.buckets) {
		t.resizeLocked()
	}

	idx := t.hashLocked(addr, nic.ID())
	e.bucketNext = t.buckets[idx]
	t.buckets[idx] = e
	atomic.AddInt32(&t.count, 1)

	t.log.WithFields(logrus.Fields{"nic": nic.ID(), "state": e.state.String()}).Debug("neighbour entry created")
	return e, nil
}

// resizeLocked doubles the bucket array and rehashes every live entry into
// it (spec §4.7). t.mu must be held for writing.
func (t *Table) resizeLocked() {
	newBuckets := make([]*Entry, len(t.buckets)*2)
	mask := uint32(len(newBuckets) - 1)
	for _, head := range t.buckets {
		for e := head; e != nil; {
			next := e.bucketNext
			idx := t.proto.Hash(e.addr, e.nic.ID(), t.seed) & mask
			e.bucketNext = newBuckets[idx]
			newBuckets[idx] = e
			e = next
		}
	}
	t.buckets = newBuckets
}

// removeLocked unlinks entry from its bucket. t.mu must be held for
// writing and entry.mu for writing.
func (t *Table) removeLocked(entry *Entry) {
	idx := t.hashLocked(entry.addr, entry.nic.ID())
	prev := (*Entry)(nil)
	for e := t.buckets[idx]; e != nil; e = e.bucketNext {
		if e == entry {
			if prev == nil {
				t.buckets[idx] = e.bucketNext
			} else {
				prev.bucketNext = e.bucketNext
			}
			atomic.AddInt32(&t.count, -1)
			return
		}
		prev = e
	}
}

// Delete removes the entry for (addr, nic), if any (spec's admin `delete`).
func (t *Table) Delete(addr Address, nic Interface) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	e, ok := t.lookupLocked(addr, nic)
	if !ok {
		return ErrNotFound
	}
	e.Release() // undo the lookup's Acquire; we hold the table lock regardless

	e.mu.Lock()
	defer e.mu.Unlock()
	e.dead = true
	e.dispatchRemovedLocked()
	e.setStateLocked(None)
	e.notifyWaitersLocked()
	e.params.decRef()
	t.removeLocked(e)
	return nil
}

// Entries returns a snapshot of every live entry in the table.
func (t *Table) Entries() []Snapshot {
	t.mu.RLock()
	defer t.mu.RUnlock()
	out := make([]Snapshot, 0, atomic.LoadInt32(&t.count))
	for _, head := range t.buckets {
		for e := head; e != nil; e = e.bucketNext {
			out = append(out, e.Snapshot())
		}
	}
	return out
}

// flushQueuedFrames hands frames off to the interface now that an entry is
// resolved, falling back to ReportUnreachable if transmit fails.
func (t *Table) flushQueuedFrames(e *Entry, frames []*Frame) {
	for _, f := range frames {
		if err := e.nic.Transmit(f); err != nil {
			e.proto.ReportUnreachable(f, e.addr, e.nic)
		}
	}
}
