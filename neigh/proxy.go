package neigh

import (
	"context"
	"math/rand"
	"sync"
	"time"
)

// ProxyReplier sends a resolution reply on behalf of a proxy entry (spec
// §4.9's "table's proxy_redo hook"). It is protocol-specific, so the table
// only knows how to schedule the reply, not how to construct it.
type ProxyReplier interface {
	ReplyAsProxy(addr Address, nic Interface, requesterLinkAddr LinkAddress) error
}

type proxyKey struct {
	addr Address
	nic  NICID // zero means wildcard: matches any interface
}

type proxyQueueItem struct {
	addr              Address
	nic               Interface
	requesterLinkAddr LinkAddress
	due               time.Time
}

// proxyTable is the separate, bucketed pattern-match table for "answer on
// behalf of" entries, plus its single delayed-reply queue and timer (spec
// §4.9, "Proxy subsystem").
type proxyTable struct {
	t *Table

	mu      sync.Mutex
	entries map[proxyKey]struct{}
	queue   []*proxyQueueItem
	wake    chan struct{}

	replier ProxyReplier
}

func newProxyTable(t *Table) *proxyTable {
	return &proxyTable{
		t:       t,
		entries: make(map[proxyKey]struct{}),
		wake:    make(chan struct{}, 1),
	}
}

// SetProxyReplier installs the protocol-specific proxy_redo hook.
func (t *Table) SetProxyReplier(r ProxyReplier) { t.proxy.replier = r }

// AddProxy registers addr as an address this table will answer on behalf
// of. A nil nic matches requests arriving on any interface.
func (t *Table) AddProxy(addr Address, nic Interface) {
	key := proxyKey{addr: addr}
	if nic != nil {
		key.nic = nic.ID()
	}
	t.proxy.mu.Lock()
	t.proxy.entries[key] = struct{}{}
	t.proxy.mu.Unlock()
}

// RemoveProxy undoes AddProxy.
func (t *Table) RemoveProxy(addr Address, nic Interface) {
	key := proxyKey{addr: addr}
	if nic != nil {
		key.nic = nic.ID()
	}
	t.proxy.mu.Lock()
	delete(t.proxy.entries, key)
	t.proxy.mu.Unlock()
}

func (p *proxyTable) matches(addr Address, nic Interface) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	if _, ok := p.entries[proxyKey{addr: addr, nic: nic.ID()}]; ok {
		return true
	}
	_, ok := p.entries[proxyKey{addr: addr}]
	return ok
}

// HandleProxyRequest matches an inbound solicitation against the proxy
// table and, on a match, either replies immediately (when proxy_delay is
// zero) or schedules a delayed reply (spec §4.9: "to avoid reply storms").
// Reports whether the request matched a proxy entry at all.
func (t *Table) HandleProxyRequest(addr Address, nic Interface, requesterLinkAddr LinkAddress, proxyDelay time.Duration, proxyQLen int) bool {
	if !t.proxy.matches(addr, nic) {
		return false
	}
	if proxyDelay <= 0 {
		if t.proxy.replier != nil {
			_ = t.proxy.replier.ReplyAsProxy(addr, nic, requesterLinkAddr)
		}
		return true
	}

	due := now().Add(time.Duration(rand.Int63n(int64(proxyDelay) + 1)))
	item := &proxyQueueItem{addr: addr, nic: nic, requesterLinkAddr: requesterLinkAddr, due: due}

	t.proxy.mu.Lock()
	if len(t.proxy.queue) >= proxyQLen {
		t.proxy.queue = t.proxy.queue[1:]
		t.stats.proxyDrops.Add(1)
	}
	t.proxy.queue = append(t.proxy.queue, item)
	t.proxy.mu.Unlock()

	select {
	case t.proxy.wake <- struct{}{}:
	default:
	}
	return true
}

// run drives the proxy queue's single shared timer (spec §4.9: "A single
// table-wide timer is armed to the nearest pending reply").
func (p *proxyTable) run(ctx context.Context) {
	for {
		d := p.nextDelay()
		timer := time.NewTimer(d)
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-p.wake:
			timer.Stop()
		case <-timer.C:
			p.dispatchDue()
		}
	}
}

func (p *proxyTable) nextDelay() time.Duration {
	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.queue) == 0 {
		return time.Hour
	}
	nearest := p.queue[0].due
	for _, item := range p.queue[1:] {
		if item.due.Before(nearest) {
			nearest = item.due
		}
	}
	d := nearest.Sub(now())
	if d < 0 {
		return 0
	}
	return d
}

// dispatchDue re-dispatches every now-due queued reply through the
// protocol's proxy_redo hook and removes them from the queue.
func (p *proxyTable) dispatchDue() {
	p.mu.Lock()
	n := now()
	due := p.queue[:0:0]
	remaining := p.queue[:0:0]
	for _, item := range p.queue {
		if !item.due.After(n) {
			due = append(due, item)
		} else {
			remaining = append(remaining, item)
		}
	}
	p.queue = remaining
	replier := p.replier
	p.mu.Unlock()

	if replier == nil {
		return
	}
	for _, item := range due {
		_ = replier.ReplyAsProxy(item.addr, item.nic, item.requesterLinkAddr)
	}
}

// onInterfaceDown drops every proxy entry and queued reply belonging to
// nic (spec §4.8, "The proxy table is swept analogously and its proxy
// queue is drained").
func (p *proxyTable) onInterfaceDown(nic Interface) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for key := range p.entries {
		if key.nic == nic.ID() {
			delete(p.entries, key)
		}
	}
	kept := p.queue[:0:0]
	for _, item := range p.queue {
		if item.nic.ID() != nic.ID() {
			kept = append(kept, item)
		}
	}
	p.queue = kept
}
