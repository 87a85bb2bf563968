package neigh

import (
	"math/rand"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// Parameters holds the tunables attached per (Table, Interface) pair, per
// spec §3. They are refcounted since every Entry on a given interface
// shares the same Parameters value.
type Parameters struct {
	mu   sync.Mutex
	refs int32
	dead bool

	BaseReachableTime time.Duration
	RetransTime       time.Duration
	GCStaleTime       time.Duration
	DelayProbeTime    time.Duration
	QueueLen          int
	UnicastProbes     int
	MulticastProbes   int
	AppProbes         int
	ProxyDelay        time.Duration
	ProxyQueueLen     int
	LockTime          time.Duration

	// reachableTime is the current randomized reachable timeout, resampled
	// every 300s by the periodic GC sweep (spec §4.6).
	reachableTime time.Duration

	// limiter bounds solicitation emission independent of the NUD probe
	// budget, so a burst of resolve calls against one Incomplete entry
	// cannot itself become a probe storm.
	limiter *rate.Limiter
}

// DefaultParameters returns a Parameters value with the defaults listed in
// spec §3's table.
func DefaultParameters() *Parameters {
	p := &Parameters{
		BaseReachableTime: 30 * time.Second,
		RetransTime:       1 * time.Second,
		GCStaleTime:       60 * time.Second,
		DelayProbeTime:    5 * time.Second,
		QueueLen:          3,
		UnicastProbes:     3,
		MulticastProbes:   3,
		AppProbes:         0,
		ProxyDelay:        800 * time.Millisecond,
		ProxyQueueLen:     64,
		LockTime:          1 * time.Second,
	}
	p.resample()
	p.limiter = rate.NewLimiter(rate.Limit(32), 32)
	return p
}

// resample draws a fresh reachableTime uniformly from [base/2, 3*base/2],
// per spec §3's `reachable_time` definition. Caller must hold p.mu.
func (p *Parameters) resample() {
	base := p.BaseReachableTime
	jitter := time.Duration(rand.Int63n(int64(base))) // [0, base)
	p.reachableTime = base/2 + jitter
}

// Resample recomputes reachableTime; called by the periodic GC sweep every
// 300s for every Parameters set attached to a table (spec §4.6).
func (p *Parameters) Resample() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.resample()
}

// ReachableTime returns the current randomized reachable timeout.
func (p *Parameters) ReachableTime() time.Duration {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.reachableTime
}

// resetInvalidFields clamps any non-positive duration/count fields back to
// their defaults, mirroring gvisor's NUDConfigurations.resetInvalidFields.
func (p *Parameters) resetInvalidFields() {
	d := DefaultParameters()
	if p.BaseReachableTime <= 0 {
		p.BaseReachableTime = d.BaseReachableTime
	}
	if p.RetransTime <= 0 {
		p.RetransTime = d.RetransTime
	}
	if p.GCStaleTime <= 0 {
		p.GCStaleTime = d.GCStaleTime
	}
	if p.DelayProbeTime <= 0 {
		p.DelayProbeTime = d.DelayProbeTime
	}
	if p.QueueLen <= 0 {
		p.QueueLen = d.QueueLen
	}
	if p.ProxyDelay <= 0 {
		p.ProxyDelay = d.ProxyDelay
	}
	if p.ProxyQueueLen <= 0 {
		p.ProxyQueueLen = d.ProxyQueueLen
	}
	if p.LockTime <= 0 {
		p.LockTime = d.LockTime
	}
}

// incRef increments the refcount, returning false if the parameters have
// already been marked dead.
func (p *Parameters) incRef() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.dead {
		return false
	}
	p.refs++
	return true
}

func (p *Parameters) decRef() {
	p.mu.Lock()
	p.refs--
	p.mu.Unlock()
}

// markDead prevents further entry creation against p; existing entries
// keep their reference until they are themselves destroyed.
func (p *Parameters) markDead() {
	p.mu.Lock()
	p.dead = true
	p.mu.Unlock()
}

// allowSolicit consults the token-bucket limiter guarding solicitation
// emission for this interface's parameters.
func (p *Parameters) allowSolicit() bool {
	return p.limiter.Allow()
}

// probeBudget returns the number of probes permitted in the given state,
// per spec §4.3: "in PROBE only ucast_probes apply; in INCOMPLETE the sum
// of unicast + broadcast + app probes applies." (Scenario 2 in spec §8
// confirms the INCOMPLETE budget is the full ucast+mcast+app sum with the
// defaults 3+3+0=6.)
func (p *Parameters) probeBudget(s State) int {
	switch s {
	case Probe:
		return p.UnicastProbes
	case Incomplete:
		return p.UnicastProbes + p.MulticastProbes + p.AppProbes
	default:
		return 0
	}
}

// resolutionPermitted implements the compound gate from spec §9's Open
// Question: initial resolution is permitted iff mcast_probes+app_probes>0,
// even though the two budgets are then deducted independently.
func (p *Parameters) resolutionPermitted() bool {
	return p.MulticastProbes+p.AppProbes > 0
}
