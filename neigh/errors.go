package neigh

// Error represents an error in the neighbour-cache error space. Using a
// distinct type keeps callers from accidentally matching on stdlib errors
// that happen to share a message.
type Error struct {
	msg string

	// ignoreStats marks errors that are a normal part of control flow
	// (e.g. "resolution pending") rather than a failure worth counting.
	ignoreStats bool
}

func (e *Error) Error() string {
	if e == nil {
		return "<nil>"
	}
	return e.msg
}

// IgnoreStats reports whether this error should be excluded from failure
// counters.
func (e *Error) IgnoreStats() bool {
	return e.ignoreStats
}

// Errors returned by the neighbour cache. See spec §7 (Error Handling
// Design) for the conditions under which each is produced.
var (
	// ErrWouldBlock is returned when a frame has been queued pending
	// address resolution; it is not a failure.
	ErrWouldBlock = &Error{msg: "address resolution in progress", ignoreStats: true}

	// ErrNoLinkAddress is returned when an entry has no resolvable link
	// address and none can be sought (e.g. no resolver registered).
	ErrNoLinkAddress = &Error{msg: "no link address available"}

	// ErrResourceExhausted is returned by Create when the table is at
	// gc_thresh3 and forced GC could not reclaim enough entries.
	ErrResourceExhausted = &Error{msg: "neighbour table full"}

	// ErrNotPermitted is returned when an administrative update would
	// overwrite a PERMANENT or NOARP entry without the admin flag set.
	ErrNotPermitted = &Error{msg: "update refused: entry is permanent", ignoreStats: true}

	// ErrNotFound is returned by lookup/delete operations that find no
	// matching entry.
	ErrNotFound = &Error{msg: "no matching neighbour entry", ignoreStats: true}

	// ErrInterfaceDown is surfaced to frames in flight when their
	// interface goes down; corresponds to ENETDOWN.
	ErrInterfaceDown = &Error{msg: "interface is down"}

	// ErrBadParameters is returned when a call argument is malformed, e.g.
	// a unicast solicitation without a known link address, or a link
	// address of the wrong length for the interface.
	ErrBadParameters = &Error{msg: "invalid neighbour parameters"}

	// ErrProtocolUnspecified is returned by Create when no Protocol was
	// supplied for a table that requires one.
	ErrProtocolUnspecified = &Error{msg: "no resolution protocol configured"}
)
