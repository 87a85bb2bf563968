package neigh

import (
	"sync"
	"sync/atomic"
	"time"
)

// headerTemplate is the cached outbound link-layer header built the first
// time a Connected entry successfully transmits (spec §4.2, "the resolve
// path is the only mutation site that may lazily construct the cached
// L2-header template"). It is read by the fast path without the entry's
// lock, guarded instead by seqCounter so concurrent writers can't hand back
// a torn header.
type headerTemplate struct {
	seq      seqCounter
	data     []byte
	linkAddr LinkAddress
}

// Entry is one L3-address -> L2-address binding together with its NUD
// state, timers and bounded frame queue (spec §3, "Entry").
//
// An Entry is exclusively owned by its Table but shared by reference
// (refcounted) with route caches, in-flight transmits, and its own armed
// timer. It is not physically destroyed until the refcount reaches zero
// and dead is set (spec §3, "Ownership"); in this implementation that
// means it simply becomes unreachable and the garbage collector reclaims
// it, but refs/dead are tracked explicitly so bucket removal and timer
// cancellation follow the same invariant the spec describes.
type Entry struct {
	// bucketNext links entries within a Table hash bucket. Only the
	// owning Table may mutate it, under the table lock.
	bucketNext *Entry

	table *Table // non-owning; outlives the entry by construction
	proto Protocol
	nic   Interface
	addr  Address
	// localAddr is the protocol address solicitations are sent on behalf
	// of; supplied by the caller that first resolved this neighbour.
	localAddr Address

	params  *Parameters // refcounted, shared across entries on nic
	variant variant

	refs int32 // atomic

	mu sync.RWMutex

	state    State
	linkAddr LinkAddress
	dead     bool

	confirmed time.Time
	used      time.Time
	updated   time.Time
	probes    int

	queue []*Frame

	// neverConfirmed is true until the first real reachability evidence
	// (a solicited reply or an upper-layer confirm) arrives. Broadcast
	// and app-assisted probes are only sent while this holds (spec §4.3).
	neverConfirmed bool

	hdr *headerTemplate

	// waiters are closed when resolution completes (success or Failed),
	// mirroring gvisor's entry.done/notifyWakersLocked. Optional; most
	// callers only consume the synchronous Outcome.
	waiters []chan struct{}

	timer *timer
}

func newEntry(t *Table, addr, localAddr Address, nic Interface, proto Protocol, params *Parameters) *Entry {
	e := &Entry{
		table:     t,
		proto:     proto,
		nic:       nic,
		addr:      addr,
		localAddr: localAddr,
		params:    params,
		state:     None,
		// confirmed is backdated so a first confirmation can transition
		// the entry quickly (spec §4.1 step 2).
		confirmed:      now().Add(-2 * params.BaseReachableTime),
		updated:        now(),
		refs:           1,
		neverConfirmed: true,
	}
	e.variant = selectVariant(nic.Capabilities())
	return e
}

// Acquire increments the entry's refcount, returning the entry for
// convenience. Call Release when done.
func (e *Entry) Acquire() *Entry {
	atomic.AddInt32(&e.refs, 1)
	return e
}

// Release decrements the entry's refcount. It does not itself destroy
// anything; physical removal is driven by the table holding the bucket
// lock. Forced and periodic GC check refs==1 before unlinking; explicit
// delete, flush and interface-down unlink regardless of the refcount.
func (e *Entry) Release() {
	atomic.AddInt32(&e.refs, -1)
}

func (e *Entry) refCount() int32 { return atomic.LoadInt32(&e.refs) }

// Snapshot is a point-in-time, lock-free-to-copy view of an Entry exposed
// to the admin surface and dispatcher.
type Snapshot struct {
	Addr      Address
	NIC       NICID
	LinkAddr  LinkAddress
	State     State
	Confirmed time.Time
	Used      time.Time
	Updated   time.Time
}

// Snapshot returns a copy of the entry's externally-visible state.
func (e *Entry) Snapshot() Snapshot {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return Snapshot{
		Addr:      e.addr,
		NIC:       e.nic.ID(),
		LinkAddr:  e.linkAddr,
		State:     e.state,
		Confirmed: e.confirmed,
		Used:      e.used,
		Updated:   e.updated,
	}
}

// addWaiterLocked registers ch to be closed the next time resolution
// completes or fails. e.mu must be held for writing.
func (e *Entry) addWaiterLocked(ch chan struct{}) {
	e.waiters = append(e.waiters, ch)
}

// notifyWaitersLocked closes and clears every registered waiter.
func (e *Entry) notifyWaitersLocked() {
	for _, ch := range e.waiters {
		close(ch)
	}
	e.waiters = nil
}

// enqueueLocked appends frame to the bounded per-entry queue, evicting the
// oldest frame on overflow (spec §4.2, "evicting the head on overflow").
// Returns true if a frame was evicted.
func (e *Entry) enqueueLocked(frame *Frame) bool {
	evicted := false
	if len(e.queue) >= e.params.QueueLen {
		e.queue = e.queue[1:]
		evicted = true
	}
	e.queue = append(e.queue, frame)
	return evicted
}

// drainLocked empties the queue, returning its former contents in FIFO
// order. Used both to flush successfully (transmit) and to report
// unreachability.
func (e *Entry) drainLocked() []*Frame {
	q := e.queue
	e.queue = nil
	return q
}

// buildHeaderLocked (re)builds the cached header template for linkAddr
// using the owning interface, publishing it via the sequence lock so
// concurrent fast-path readers never observe a torn header.
func (e *Entry) buildHeaderLocked(networkProtocol uint16) error {
	frame := &Frame{NetworkProtocol: networkProtocol}
	if err := e.nic.BuildHeader(frame, networkProtocol, e.linkAddr, e.nic.LinkAddress()); err != nil {
		return err
	}
	if e.hdr == nil {
		e.hdr = &headerTemplate{}
	}
	e.hdr.seq.writeBegin()
	e.hdr.data = frame.Data
	e.hdr.linkAddr = e.linkAddr
	e.hdr.seq.writeEnd()
	return nil
}

// readHeader returns a coherent copy of the cached header template plus
// the link address it reflects, retrying internally against concurrent
// writers (spec §5, "readers retry on concurrent write").
func (e *Entry) readHeader() ([]byte, LinkAddress, bool) {
	e.mu.RLock()
	hdr := e.hdr
	e.mu.RUnlock()
	if hdr == nil {
		return nil, "", false
	}
	for {
		start := hdr.seq.readBegin()
		data := hdr.data
		linkAddr := hdr.linkAddr
		if !hdr.seq.readRetry(start) {
			return data, linkAddr, true
		}
	}
}
