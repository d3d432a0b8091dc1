// Package soft implements the default NIC adapter: an in-process loopback
// driver with no real hardware behind it. It is the stand-in every test and
// the reference Eth/IPv4/UDP graphs run against, modeling a driver's full
// lifecycle without touching real hardware.
package soft

import (
	"context"
	"fmt"
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/Aubrey-Liu/omnistack/internal/pipeline"
	"github.com/Aubrey-Liu/omnistack/internal/qos"
	"github.com/Aubrey-Liu/omnistack/internal/telemetry"
)

type staged struct {
	pkt      *pipeline.Packet
	pool     *pipeline.PacketPool
	threadID uint32
	frame    []byte
}

// Adapter stages transmitted packets exactly as a real burst NIC descriptor
// ring would, invoking the packet's free-callback equivalent (a
// PacketPool.Deallocate call) once a staged burst is actually flushed —
// never at Send time — and, when loopback is enabled, turns the flushed
// frame bytes into freshly pool-allocated packets for Recv, the same way a
// real NIC's rx ring hands the driver new descriptors independent of
// whatever it most recently transmitted.
type Adapter struct {
	mu sync.Mutex

	name     string
	nicIndex int
	mac      pipeline.MacAddr
	logger   *logrus.Logger
	loopback bool

	shaper  *qos.TrafficShaper
	metrics *telemetry.Metrics

	// shaperPool/shaperThread are captured at Init and used to deallocate
	// packets the shaper hands back asynchronously through Start's ticker,
	// which runs on its own goroutine with no Context of its own.
	shaperPool   *pipeline.PacketPool
	shaperThread uint32
	shaperCancel context.CancelFunc

	started    bool
	txStaged   []staged
	rxFrames   [][]byte
	sentFrames uint64
	recvFrames uint64
}

// NewAdapter creates a loopback adapter identified by name (used only for
// logging — soft adapters don't share state across instances). Loopback
// delivery is enabled by default so a graph with no paired receive NIC can
// still be driven end-to-end in tests.
func NewAdapter(name string, logger *logrus.Logger) *Adapter {
	return &Adapter{name: name, logger: logger, loopback: true}
}

// SetLoopback toggles whether flushed frames are re-delivered to Recv.
func (a *Adapter) SetLoopback(enabled bool) {
	a.mu.Lock()
	a.loopback = enabled
	a.mu.Unlock()
}

// SetQoS installs shaper as this adapter's per-NIC rate limiter and DSCP
// marker. Must be called before Start; a nil shaper (the default) leaves
// Send staging packets directly, exactly as before QoS existed.
func (a *Adapter) SetQoS(shaper *qos.TrafficShaper) {
	a.mu.Lock()
	a.shaper = shaper
	a.mu.Unlock()
}

// SetMetrics installs the process-wide Metrics instance this adapter's
// sent/received/flush counters record into.
func (a *Adapter) SetMetrics(m *telemetry.Metrics) {
	a.mu.Lock()
	a.metrics = m
	a.mu.Unlock()
}

// Init assigns a deterministic synthetic MAC so graphs built against this
// adapter behave identically across runs.
func (a *Adapter) Init(ctx *pipeline.Context, nicIndex, port, numQueues, queue int) (pipeline.MacAddr, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	a.nicIndex = nicIndex
	a.mac = pipeline.MacAddr{0x02, 0x00, 0x00, 0x00, byte(port), byte(queue)}
	a.shaperPool = ctx.Pool
	a.shaperThread = ctx.ThreadID
	a.logger.WithFields(logrus.Fields{
		"adapter": a.name, "nic": nicIndex, "port": port, "queue": queue, "queues": numQueues,
	}).Info("soft adapter initialized")
	return a.mac, nil
}

// Start marks the loopback active and, if a TrafficShaper is configured,
// launches its background queue drain. No hardware to enable.
func (a *Adapter) Start() error {
	a.mu.Lock()
	a.started = true
	shaper := a.shaper
	a.mu.Unlock()

	if shaper != nil {
		ctx, cancel := context.WithCancel(context.Background())
		a.mu.Lock()
		a.shaperCancel = cancel
		a.mu.Unlock()
		shaper.Start(ctx, a.sendShaped)
	}
	return nil
}

// Send runs pkt through this NIC's TrafficShaper (if any), then stages its
// frame for transmit, auto-flushing at pipeline.BurstSize. The packet
// itself is not deallocated here: ownership passes to the staging array,
// and the captured (pool, threadID) pair is what Flush later uses to
// release it, the same free-at-flush timing every Adapter implementation
// must honor.
//
// A shaped packet that isn't immediately admitted is parked inside the
// shaper's own priority queue instead of being staged: Start's background
// ticker drains it later through sendShaped. A shaper that reports the
// packet dropped (its queue is full) has not freed it, so Send does that
// here before returning pipeline.ErrDropped.
func (a *Adapter) Send(ctx *pipeline.Context, pkt *pipeline.Packet) error {
	a.mu.Lock()
	if !a.started {
		a.mu.Unlock()
		return fmt.Errorf("soft: adapter %s not started", a.name)
	}
	shaper := a.shaper
	a.mu.Unlock()

	if shaper != nil {
		ready, err := shaper.Shape(pkt, pkt.Priority)
		if err != nil {
			ctx.Pool.Deallocate(pkt, ctx.ThreadID)
			return fmt.Errorf("soft: qos shape: %w", err)
		}
		if !ready {
			return nil
		}
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	frame := make([]byte, pkt.Length())
	copy(frame, pkt.Payload())

	a.txStaged = append(a.txStaged, staged{pkt: pkt, pool: ctx.Pool, threadID: ctx.ThreadID, frame: frame})
	a.sentFrames++
	if a.metrics != nil {
		a.metrics.AdapterSent.WithLabelValues(a.name).Inc()
	}
	if len(a.txStaged) >= pipeline.BurstSize {
		a.flushLocked()
	}
	return nil
}

// sendShaped is the callback a configured TrafficShaper's Start drains
// ready packets through: it stages the frame exactly like Send, using the
// (pool, threadID) pair captured at Init since the ticker goroutine has no
// per-call Context of its own.
func (a *Adapter) sendShaped(pkt *pipeline.Packet) {
	a.mu.Lock()
	defer a.mu.Unlock()

	frame := make([]byte, pkt.Length())
	copy(frame, pkt.Payload())

	a.txStaged = append(a.txStaged, staged{pkt: pkt, pool: a.shaperPool, threadID: a.shaperThread, frame: frame})
	a.sentFrames++
	if a.metrics != nil {
		a.metrics.AdapterSent.WithLabelValues(a.name).Inc()
	}
	if len(a.txStaged) >= pipeline.BurstSize {
		a.flushLocked()
	}
}

// Flush drains all staged tx descriptors: each staged packet is deallocated
// (the free-callback moment) and, if loopback is enabled, its captured
// frame bytes are queued for Recv.
func (a *Adapter) Flush(ctx *pipeline.Context) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.flushLocked()
	return nil
}

func (a *Adapter) flushLocked() {
	for _, s := range a.txStaged {
		if a.loopback {
			a.rxFrames = append(a.rxFrames, s.frame)
		}
		s.pool.Deallocate(s.pkt, s.threadID)
	}
	a.txStaged = a.txStaged[:0]
	if a.metrics != nil {
		a.metrics.AdapterFlushes.WithLabelValues(a.name).Inc()
	}
}

// Recv allocates up to pipeline.BurstSize fresh packets from ctx.Pool, one
// per queued loopback frame, chained via Next, or returns
// pipeline.ErrNoData if nothing is queued.
func (a *Adapter) Recv(ctx *pipeline.Context) (*pipeline.Packet, error) {
	a.mu.Lock()
	n := pipeline.BurstSize
	if n > len(a.rxFrames) {
		n = len(a.rxFrames)
	}
	if n == 0 {
		a.mu.Unlock()
		return nil, pipeline.ErrNoData
	}
	frames := a.rxFrames[:n]
	a.rxFrames = a.rxFrames[n:]
	a.recvFrames += uint64(n)
	a.mu.Unlock()

	var head, tail *pipeline.Packet
	for _, frame := range frames {
		pkt, err := ctx.Pool.Allocate(ctx.ThreadID)
		if err != nil {
			break
		}
		copy(pkt.Data[pkt.Offset:], frame)
		pkt.SetLen(len(frame))
		pkt.Nic = a.nicIndex

		if head == nil {
			head = pkt
		} else {
			tail.Next = pkt
		}
		tail = pkt
	}
	if head == nil {
		return nil, pipeline.ErrNoData
	}

	a.mu.Lock()
	if a.metrics != nil {
		a.metrics.AdapterReceived.WithLabelValues(a.name).Add(float64(n))
	}
	a.mu.Unlock()
	return head, nil
}

// Stop idles the adapter and, if a TrafficShaper's background drain is
// running, cancels it.
func (a *Adapter) Stop(ctx *pipeline.Context) {
	a.mu.Lock()
	a.started = false
	if a.shaperCancel != nil {
		a.shaperCancel()
		a.shaperCancel = nil
	}
	a.mu.Unlock()
	a.logger.WithFields(logrus.Fields{
		"adapter": a.name, "sent": a.sentFrames, "received": a.recvFrames,
	}).Info("soft adapter stopped")
}

func init() {
	pipeline.Global().RegisterAdapter("soft", func() pipeline.Adapter {
		return NewAdapter("soft", logrus.StandardLogger())
	})
}
