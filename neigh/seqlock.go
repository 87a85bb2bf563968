package neigh

import "sync/atomic"

// seqCounter is a minimal sequence lock guarding the cached L2-header
// template (spec §5, "Sequence lock on cached L2-header templates").
// Writers serialize via an external mutex (the entry's mu) and bump the
// counter to odd/even around the update; readers on the fast path take no
// lock at all and simply retry if they observe a write in progress or in
// flight during their read.
//
// gvisor's equivalent (pkg/sync/seqatomic) is a code-generated, type-
// specific facility tied to their static lock-checking toolchain and isn't
// importable as a standalone library; this is a direct, small
// reimplementation of the same technique on top of sync/atomic.
type seqCounter struct {
	seq uint32
}

// writeBegin must be called with the owning entry's mu held for writing.
func (s *seqCounter) writeBegin() {
	atomic.AddUint32(&s.seq, 1)
}

// writeEnd must be called after the protected fields have been updated.
func (s *seqCounter) writeEnd() {
	atomic.AddUint32(&s.seq, 1)
}

// readBegin returns a counter snapshot; the read is valid only if readRetry
// returns false afterwards.
func (s *seqCounter) readBegin() uint32 {
	for {
		v := atomic.LoadUint32(&s.seq)
		if v&1 == 0 {
			return v
		}
		// A write is in progress; spin until it completes.
	}
}

// readRetry reports whether the data read under snapshot start is
// potentially torn and must be re-read.
func (s *seqCounter) readRetry(start uint32) bool {
	return atomic.LoadUint32(&s.seq) != start
}
