package pipeline

import "context"

// Capability flags tell the Worker what a Node can do without downcasting
// the Module interface.
type Capability uint8

const (
	// CapProcess is implied by every Module; listed for documentation.
	CapProcess Capability = 1 << iota
	// CapPoll marks a module as a packet source: the Worker calls its
	// Poll method once per outer loop iteration.
	CapPoll
)

// Has reports whether the capability set includes flag.
func (c Capability) Has(flag Capability) bool { return c&flag != 0 }

// Context is the short-lived handle passed to every Module/Adapter call. It
// carries no interior mutable state of its own — it's a read-only view onto
// per-worker services. Modules must not retain it beyond the call.
type Context struct {
	Ctx       context.Context
	CPU       int
	WorkerID  int
	ThreadID  uint32
	GraphID   int
	StackName string
	Pool      *PacketPool
}

// Module is the capability interface every graph node implements. Process
// is mandatory; Poll is only ever invoked on nodes whose Capability()
// includes CapPoll.
type Module interface {
	// Init is called once, before the worker's main loop starts.
	Init(ctx *Context) error

	// Process advances one packet by exactly one hop. Returning
	// ErrDropped means the module has already deallocated pkt.
	Process(ctx *Context, pkt *Packet) error

	// Capability reports what this module supports.
	Capability() Capability

	// Destroy is called exactly once, on every node, in insertion order,
	// when the worker observes STOP_FLAG.
	Destroy(ctx *Context)
}

// Poller is implemented by source modules (CapPoll). Kept as a separate
// interface rather than a method every Module must stub out, so graph nodes
// that never poll don't carry a dead method.
type Poller interface {
	// Poll ingests a fresh burst and returns the head of a Next-chained
	// list, or ErrNoData if nothing is ready.
	Poll(ctx *Context) (*Packet, error)
}

// MacAddr is a 6-byte hardware address returned by Adapter.Init.
type MacAddr [6]byte

// Adapter is the NIC driver contract every hardware or software backend
// must satisfy.
type Adapter interface {
	// Init performs per-(port,queue) setup; the first call for a given
	// port additionally performs port-wide configuration. Returns the
	// port's MAC address.
	Init(ctx *Context, nicIndex, port, numQueues, queue int) (MacAddr, error)

	// Start enables packet movement. Must only be called after every
	// queue on the port has completed Init.
	Start() error

	// Send attaches pkt's buffer as an external descriptor and stages it
	// for transmit, auto-flushing at BurstSize.
	Send(ctx *Context, pkt *Packet) error

	// Flush drains all staged tx descriptors and refills the staging
	// array from the adapter's private pool.
	Flush(ctx *Context) error

	// Recv burst-receives up to BurstSize packets, chained via Next, or
	// returns ErrNoData.
	Recv(ctx *Context) (*Packet, error)

	// Stop shuts the port down.
	Stop(ctx *Context)
}
