package neigh

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

type fakeProxyReplier struct {
	mu    sync.Mutex
	calls []proxyKey
}

func (r *fakeProxyReplier) ReplyAsProxy(addr Address, nic Interface, requesterLinkAddr LinkAddress) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls = append(r.calls, proxyKey{addr: addr, nic: nic.ID()})
	return nil
}

func (r *fakeProxyReplier) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.calls)
}

func TestHandleProxyRequestNoMatchReturnsFalse(t *testing.T) {
	proto := newFakeProtocol()
	table := newTestTable(t, proto, nil)
	nic := newFakeInterface(1, "\x0a\x00\x00\x00\x00\x01")

	matched := table.HandleProxyRequest("10.0.0.9", nic, "", 0, 16)
	assert.False(t, matched)
}

func TestHandleProxyRequestZeroDelayRepliesImmediately(t *testing.T) {
	proto := newFakeProtocol()
	table := newTestTable(t, proto, nil)
	nic := newFakeInterface(1, "\x0a\x00\x00\x00\x00\x01")
	replier := &fakeProxyReplier{}
	table.SetProxyReplier(replier)

	table.AddProxy("10.0.0.9", nic)

	matched := table.HandleProxyRequest("10.0.0.9", nic, "\x0a\x00\x00\x00\x00\x02", 0, 16)
	assert.True(t, matched)
	assert.Equal(t, 1, replier.count())
}

func TestHandleProxyRequestDelayedIsDispatchedByQueue(t *testing.T) {
	proto := newFakeProtocol()
	table := newTestTable(t, proto, nil)
	nic := newFakeInterface(1, "\x0a\x00\x00\x00\x00\x01")
	replier := &fakeProxyReplier{}
	table.SetProxyReplier(replier)

	table.AddProxy("10.0.0.9", nic)

	matched := table.HandleProxyRequest("10.0.0.9", nic, "\x0a\x00\x00\x00\x00\x02", 10*time.Millisecond, 16)
	assert.True(t, matched)
	// Not dispatched synchronously: it's queued for the shared timer.
	assert.Equal(t, 0, replier.count())

	assert.Eventually(t, func() bool {
		return replier.count() == 1
	}, time.Second, 5*time.Millisecond)
}

func TestHandleProxyRequestWildcardInterfaceMatches(t *testing.T) {
	proto := newFakeProtocol()
	table := newTestTable(t, proto, nil)
	nic := newFakeInterface(1, "\x0a\x00\x00\x00\x00\x01")
	replier := &fakeProxyReplier{}
	table.SetProxyReplier(replier)

	table.AddProxy("10.0.0.9", nil)

	matched := table.HandleProxyRequest("10.0.0.9", nic, "", 0, 16)
	assert.True(t, matched)
}

func TestHandleProxyRequestQueueOverflowDropsOldestAndCountsStat(t *testing.T) {
	proto := newFakeProtocol()
	table := newTestTable(t, proto, nil)
	nic := newFakeInterface(1, "\x0a\x00\x00\x00\x00\x01")
	// No replier installed: requests queue but are never dispatched,
	// letting us inspect overflow behavior deterministically.
	table.AddProxy("10.0.0.9", nic)

	for i := 0; i < 3; i++ {
		table.HandleProxyRequest("10.0.0.9", nic, "", time.Hour, 2)
	}

	table.proxy.mu.Lock()
	qlen := len(table.proxy.queue)
	table.proxy.mu.Unlock()
	assert.Equal(t, 2, qlen)

	snap := table.Stats()
	assert.Equal(t, int64(1), snap.ProxyDrops)
}

func TestRemoveProxyUndoesAddProxy(t *testing.T) {
	proto := newFakeProtocol()
	table := newTestTable(t, proto, nil)
	nic := newFakeInterface(1, "\x0a\x00\x00\x00\x00\x01")

	table.AddProxy("10.0.0.9", nic)
	table.RemoveProxy("10.0.0.9", nic)

	matched := table.HandleProxyRequest("10.0.0.9", nic, "", 0, 16)
	assert.False(t, matched)
}

func TestOnInterfaceDownDrainsProxyEntriesAndQueue(t *testing.T) {
	proto := newFakeProtocol()
	table := newTestTable(t, proto, nil)
	nic := newFakeInterface(1, "\x0a\x00\x00\x00\x00\x01")
	// No replier: keep the delayed item queued so we can observe the
	// drain.
	table.AddProxy("10.0.0.9", nic)
	table.HandleProxyRequest("10.0.0.9", nic, "", time.Hour, 16)

	table.proxy.onInterfaceDown(nic)

	table.proxy.mu.Lock()
	defer table.proxy.mu.Unlock()
	assert.Empty(t, table.proxy.entries)
	assert.Empty(t, table.proxy.queue)
}
