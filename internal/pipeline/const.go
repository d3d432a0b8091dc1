package pipeline

// Tunable constants, fixed at compile time rather than exposed as runtime
// knobs — nothing in this pipeline needs to retune them without a rebuild.
const (
	// CacheSize is the number of free objects held in a per-thread
	// MemoryPool cache before it refills from (or drains to) the shared
	// backing store.
	CacheSize = 256

	// BurstSize bounds how many packets a single poll/recv call or NIC
	// adapter send-staging array handles before a flush is forced.
	BurstSize = 64

	// TaskQueueSize is the capacity of a Worker's fixed LIFO task stack.
	// Graphs must be sized so TaskQueueSize >= BurstSize * max_fanout *
	// max_depth.
	TaskQueueSize = 2048

	// MaxThreadNum bounds the dense small integer thread-ids the
	// Thread-ID Service can hand out; it sizes every per-thread cache
	// array in the Memory Pool.
	MaxThreadNum = 128

	// DefaultOffset is the byte offset at which a freshly allocated,
	// Local-origin packet's payload starts, leaving room for the widest
	// combination of L2/L3/L4 headers to be prepended by encoders.
	DefaultOffset = 128

	// PacketBufSize is the size of the embedded Local buffer carried
	// inside every Packet record.
	PacketBufSize = 2048

	// StealBatch is the maximum number of tasks a work-stealing worker
	// takes from a peer's deque in one steal attempt.
	StealBatch = 8

	// DefaultPriority is the QoS priority a freshly allocated packet
	// carries until some module overrides Packet.Priority. It matches
	// internal/qos.PriorityP2 by value; pipeline can't import qos (qos
	// imports pipeline), so the level is repeated here as a plain int.
	DefaultPriority = 2
)
