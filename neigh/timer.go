package neigh

import (
	"sync"
	"time"
)

// timer is the per-entry (or per-proxy-queue) scheduled action described in
// spec §9 ("every armed timer owns one strong reference, released on
// cancel or fire"). It mirrors the contract of gvisor's tcpip.Job: the
// callback always runs with the owner's lock held, and scheduling a new
// timer implicitly cancels any previous one.
//
// The source for tcpip.Job itself was not present in the retrieval pack
// (only its call sites and tests were); this is an original implementation
// of the same contract on top of time.AfterFunc, guarded by a mutex so a
// fire racing a Cancel can't run after cancellation.
type timer struct {
	mu sync.Mutex
	t  *time.Timer
	fn func()
	// release is invoked exactly once, on fire or on a Cancel that beat
	// the fire, to drop the strong reference the timer holds on its
	// owner.
	release func()
	done    bool
}

// newTimer creates an armed-on-Schedule timer. f runs with lock held once
// the timer fires; release drops the reference the timer holds on its
// owner and runs exactly once regardless of whether the timer fired or was
// canceled.
func newTimer(lock sync.Locker, f func(), release func()) *timer {
	j := &timer{release: release}
	j.fn = func() {
		lock.Lock()
		fired := !j.markDone()
		if fired {
			f()
		}
		lock.Unlock()
		if fired {
			release()
		}
	}
	return j
}

func (j *timer) markDone() bool {
	j.mu.Lock()
	defer j.mu.Unlock()
	already := j.done
	j.done = true
	return already
}

// Schedule arms the timer to fire after d, canceling any previous
// schedule.
func (j *timer) Schedule(d time.Duration) {
	j.mu.Lock()
	if j.t != nil {
		j.t.Stop()
	}
	j.done = false
	j.mu.Unlock()
	j.t = time.AfterFunc(d, j.fn)
}

// Cancel stops the timer if it hasn't already fired, releasing its strong
// reference. Safe to call multiple times.
func (j *timer) Cancel() {
	j.mu.Lock()
	already := j.done
	j.done = true
	if j.t != nil {
		j.t.Stop()
		j.t = nil
	}
	j.mu.Unlock()
	if !already {
		j.release()
	}
}
