package pipeline

import (
	"sync/atomic"
	"unsafe"
)

// HeaderSpan records where one protocol layer's header lives inside a
// packet's buffer. Offset is relative to Packet.Data, not to Packet.Offset.
type HeaderSpan struct {
	Length int
	Offset int
}

// Valid reports whether the span has been stamped by an encoder/decoder.
func (h HeaderSpan) Valid() bool { return h.Length > 0 }

// OriginKind tags where a Packet's backing buffer came from.
type OriginKind uint8

const (
	// OriginLocal means the buffer is the Packet's own embedded buf.
	OriginLocal OriginKind = iota
	// OriginExternal means the buffer belongs to a driver descriptor
	// that must be released through Free when the packet is reclaimed.
	OriginExternal
)

// Origin is a tagged variant: Local carries no payload (the buffer is the
// Packet's own buf array); External carries the driver's descriptor handle
// and the callback that returns it.
type Origin struct {
	Kind OriginKind

	// Handle identifies the driver descriptor backing an External
	// packet (e.g. an AF_XDP frame index). Unused for Local.
	Handle uintptr

	// Free releases the External descriptor back to its driver. Called
	// exactly once, from deallocate, never from anywhere else — keeping
	// the NIC free-callback path and the ordinary deallocate path as one
	// function.
	Free func()
}

// Packet is the central value object flowing through a Graph: refcount,
// header spans, and dual buffer origin together track its whole lifecycle.
type Packet struct {
	// Len and Offset bound the occupied region [Offset, Len) of Data.
	Offset int
	Len    int

	L2Header HeaderSpan
	L3Header HeaderSpan
	L4Header HeaderSpan

	// EthSrc/EthDst and L4SrcPort/L4DstPort carry the addressing an Rx
	// module decoded out of the header bytes it just stripped — observable
	// proof that decode actually reproduces what a paired Tx module
	// encoded, not just that the cursor moved past the right length.
	EthSrc, EthDst       MacAddr
	L4SrcPort, L4DstPort uint16

	// Nic is the destination (send path) or source (receive path)
	// interface index.
	Nic int

	// Priority is the QoS class an Adapter's TrafficShaper (if any)
	// admits or queues this packet under, one of qos.PriorityP0..P3.
	// Defaults to DefaultPriority; protocol modules may override it.
	Priority int

	// Next chains a burst of packets returned from a single Poll/Recv
	// call. The Worker unlinks the chain before it pushes the packets as
	// tasks.
	Next *Packet

	// Data points at the start of the usable buffer, independent of
	// Offset. For OriginLocal it aliases buf[:]; for OriginExternal it
	// aliases the driver's descriptor memory.
	Data []byte

	origin Origin
	refcnt atomic.Int32

	// pool is the owning PacketPool, the Go-idiomatic equivalent of the
	// spec's embedded "trailer word": it lets Deallocate locate the
	// right pool from the pointer alone, with no out-of-band lookup.
	pool *PacketPool

	buf [PacketBufSize]byte
}

// resetForAllocation stamps a packet to its freshly-allocated state. Used as
// the MemoryPool init callback and, for Local packets, on every reuse.
func resetForAllocation(p *Packet) {
	p.Offset = DefaultOffset
	p.Len = DefaultOffset
	p.L2Header = HeaderSpan{}
	p.L3Header = HeaderSpan{}
	p.L4Header = HeaderSpan{}
	p.EthSrc = MacAddr{}
	p.EthDst = MacAddr{}
	p.L4SrcPort = 0
	p.L4DstPort = 0
	p.Nic = 0
	p.Priority = DefaultPriority
	p.Next = nil
	p.origin = Origin{Kind: OriginLocal}
	p.Data = p.buf[:]
	p.refcnt.Store(1)
}

// Length returns the number of occupied payload bytes.
func (p *Packet) Length() int { return p.Len - p.Offset }

// SetLen sets the packet's end cursor relative to the *current* Offset. Per
// spec, callers must finalize Offset before calling SetLen.
func (p *Packet) SetLen(n int) { p.Len = p.Offset + n }

// Payload returns the occupied byte range [Offset, Len).
func (p *Packet) Payload() []byte { return p.Data[p.Offset:p.Len] }

// RefCount returns the current outstanding-reference count.
func (p *Packet) RefCount() int32 { return p.refcnt.Load() }

// IsExternal reports whether the packet's buffer is driver-owned.
func (p *Packet) IsExternal() bool { return p.origin.Kind == OriginExternal }

// SetExternal marks the packet as wrapping a driver descriptor, with free
// invoked exactly once when the refcount reaches zero.
func (p *Packet) SetExternal(handle uintptr, data []byte, free func()) {
	p.origin = Origin{Kind: OriginExternal, Handle: handle, Free: free}
	p.Data = data
}

// IOVA returns the DMA-visible address of the packet's current data cursor.
// Only meaningful for OriginLocal packets — External buffers are already
// driver-resident and the driver tracks their own IOVA.
//
// There is no IOMMU in a user-space Go process, so this returns the Go
// runtime's virtual address of the cursor byte. None of the drivers in
// internal/driver call it: the software loopback copies frame bytes, and
// the XDP/AF_XDP adapters delegate to it.
func (p *Packet) IOVA() (uint64, error) {
	if p.origin.Kind != OriginLocal {
		return 0, ErrExternalIOVA
	}
	cursor := p.Data[p.Offset:]
	if len(cursor) == 0 {
		return uint64(uintptr(unsafe.Pointer(&p.buf[0]))), nil
	}
	return uint64(uintptr(unsafe.Pointer(&cursor[0]))), nil
}

// fanOut bumps the refcount by k-1 before the worker pushes k successor
// tasks for this packet.
func (p *Packet) fanOut(k int) {
	if k > 1 {
		p.refcnt.Add(int32(k - 1))
	}
}

// release drops one reference, deallocating (and releasing any External
// descriptor) exactly once when the count reaches zero. threadID routes the
// freed packet back into the right per-thread cache.
func (p *Packet) release(threadID uint32) {
	if p.refcnt.Add(-1) != 0 {
		return
	}
	if p.origin.Kind == OriginExternal && p.origin.Free != nil {
		p.origin.Free()
	}
	p.Next = nil
	p.origin = Origin{}
	if p.pool != nil {
		p.pool.put(p, threadID)
	}
}
