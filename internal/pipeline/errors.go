package pipeline

import "errors"

// Control-flow signals. These are deliberately distinct sentinel values from
// real failures: a worker must be able to tell "nothing to do right now"
// and "this packet is gone, move on" apart from "the pipeline is broken,"
// without parsing error strings.
var (
	// ErrNoData is returned by Module.Poll or Adapter.Recv when there is
	// nothing to process yet. Not an error condition.
	ErrNoData = errors.New("pipeline: no data available")

	// ErrDropped is returned by Module.Process when the module has
	// already deallocated the packet itself (malformed header, policy
	// deny, queue full) and the worker must not touch it again.
	ErrDropped = errors.New("pipeline: packet dropped")

	// ErrNop signals an idle iteration with no observable side effect;
	// kept distinct from ErrNoData so tests can tell "polled and found
	// nothing" apart from "had nothing to poll."
	ErrNop = errors.New("pipeline: no-op")
)

// Resource exhaustion, surfaced to callers rather than treated as fatal.
var ErrExhausted = errors.New("pipeline: pool exhausted")

// ErrMemoryExhausted is returned by Adapter.Send when its refill pool is dry.
var ErrMemoryExhausted = errors.New("pipeline: adapter memory exhausted")

// Configuration errors. These always precede packet flow and are fatal to
// the startup path, never the packet path.
var (
	ErrUnknownModule  = errors.New("pipeline: unknown module name")
	ErrUnknownAdapter = errors.New("pipeline: unknown adapter name")
	ErrUnknownNode    = errors.New("pipeline: unresolved link endpoint")
	ErrDuplicateEdge  = errors.New("pipeline: duplicate outgoing edge")
)

// ErrInvalidThreadID is returned when a MemoryPool operation is attempted
// with a thread-id that was never assigned by the Thread-ID Service.
var ErrInvalidThreadID = errors.New("pipeline: invalid thread id")

// ErrExternalIOVA is returned by Packet.IOVA for External-origin packets;
// the driver already knows the DMA address of its own descriptor.
var ErrExternalIOVA = errors.New("pipeline: iova not valid for external buffer")
