package neigh

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSweepEntryReclaimsIdleStaleEntry(t *testing.T) {
	proto := newFakeProtocol()
	table := newTestTable(t, proto, nil)
	nic := newFakeInterface(1, "\x0a\x00\x00\x00\x00\x01")

	e, err := table.Create("10.0.0.2", "10.0.0.1", nic)
	require.NoError(t, err)
	e.Release() // refcount back to 1, the only remaining owner is the table

	realNow := now
	defer func() { now = realNow }()
	base := realNow()

	e.mu.Lock()
	e.state = Stale
	e.used = base.Add(-2 * e.params.GCStaleTime)
	e.confirmed = base.Add(-2 * e.params.GCStaleTime)
	e.mu.Unlock()

	now = func() time.Time { return base }

	reclaim := table.sweepEntryLocked(e)
	assert.True(t, reclaim)
}

func TestSweepEntrySkipsEntryInTimer(t *testing.T) {
	proto := newFakeProtocol()
	table := newTestTable(t, proto, nil)
	nic := newFakeInterface(1, "\x0a\x00\x00\x00\x00\x01")

	e, err := table.Create("10.0.0.2", "10.0.0.1", nic)
	require.NoError(t, err)
	e.Release()

	e.mu.Lock()
	e.state = Probe
	e.used = now().Add(-time.Hour)
	e.mu.Unlock()

	assert.False(t, table.sweepEntryLocked(e))
}

func TestSweepEntrySkipsPermanent(t *testing.T) {
	proto := newFakeProtocol()
	table := newTestTable(t, proto, nil)
	nic := newFakeInterface(1, "\x0a\x00\x00\x00\x00\x01")

	e, err := table.Create("10.0.0.2", "10.0.0.1", nic)
	require.NoError(t, err)
	e.Release()

	e.mu.Lock()
	e.state = Permanent
	e.used = now().Add(-time.Hour)
	e.mu.Unlock()

	assert.False(t, table.sweepEntryLocked(e))
}

func TestSweepEntrySkipsWhenStillReferenced(t *testing.T) {
	proto := newFakeProtocol()
	table := newTestTable(t, proto, nil)
	nic := newFakeInterface(1, "\x0a\x00\x00\x00\x00\x01")

	e, err := table.Create("10.0.0.2", "10.0.0.1", nic)
	require.NoError(t, err)
	defer e.Release() // keep refcount at 2 for the whole test

	e.mu.Lock()
	e.state = Stale
	e.used = now().Add(-time.Hour)
	e.mu.Unlock()

	assert.False(t, table.sweepEntryLocked(e))
}

func TestSweepEntryReclaimsFailedRegardlessOfIdleTime(t *testing.T) {
	proto := newFakeProtocol()
	table := newTestTable(t, proto, nil)
	nic := newFakeInterface(1, "\x0a\x00\x00\x00\x00\x01")

	e, err := table.Create("10.0.0.2", "10.0.0.1", nic)
	require.NoError(t, err)
	e.Release()

	e.mu.Lock()
	e.state = Failed
	e.used = now()
	e.mu.Unlock()

	assert.True(t, table.sweepEntryLocked(e))
}

func TestForcedShrinkReclaimsUnreferencedNonPermanentEntries(t *testing.T) {
	proto := newFakeProtocol()
	table := newTestTable(t, proto, nil)
	nic := newFakeInterface(1, "\x0a\x00\x00\x00\x00\x01")

	reclaimable, err := table.Create("10.0.0.2", "10.0.0.1", nic)
	require.NoError(t, err)
	reclaimable.Release()

	held, err := table.Create("10.0.0.3", "10.0.0.1", nic)
	require.NoError(t, err)
	held.Acquire()
	defer func() { held.Release(); held.Release() }()

	table.mu.Lock()
	table.forcedShrinkLocked()
	table.mu.Unlock()

	_, ok := table.Lookup("10.0.0.2", nic)
	assert.False(t, ok)

	_, ok = table.Lookup("10.0.0.3", nic)
	assert.True(t, ok)
	held.Release()

	snap := table.Stats()
	assert.Equal(t, int64(1), snap.ForcedGCReclaimed)
}

func TestResampleAllParametersUpdatesReachableTime(t *testing.T) {
	proto := newFakeProtocol()
	table := newTestTable(t, proto, nil)
	nic := newFakeInterface(1, "\x0a\x00\x00\x00\x00\x01")

	p := DefaultParameters()
	p.BaseReachableTime = time.Second
	table.SetParameters(nic.ID(), p)

	before := p.ReachableTime()
	table.resampleAllParameters()
	// resample draws uniformly from the same range; it may coincidentally
	// match, so just assert it stays within [base/2, 3*base/2] rather than
	// asserting inequality with before.
	after := p.ReachableTime()
	assert.GreaterOrEqual(t, after, p.BaseReachableTime/2)
	assert.LessOrEqual(t, after, p.BaseReachableTime*3/2)
	_ = before
}
