// Package xdp loads and attaches a (possibly generated pass-through) XDP
// program to a real network interface for packet steering, while delegating
// the actual burst send/recv data path to an embedded soft.Adapter: program
// attachment is real (via cilium/ebpf + vishvananda/netlink), while packet
// movement is left to whatever ring the platform provides underneath.
package xdp

import (
	"fmt"
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/Aubrey-Liu/omnistack/internal/driver/soft"
	"github.com/Aubrey-Liu/omnistack/internal/pipeline"
	"github.com/Aubrey-Liu/omnistack/internal/qos"
	"github.com/Aubrey-Liu/omnistack/internal/telemetry"
)

// Adapter attaches an XDP program to a named device and proxies packet
// movement through an in-process loopback, since steering real NIC DMA
// rings from Go user space needs the platform-specific ring code
// internal/driver/afxdp approximates, not a generic interface.
type Adapter struct {
	mu sync.Mutex

	device  string
	logger  *logrus.Logger
	program *program
	inner   *soft.Adapter
}

// NewAdapter creates an adapter that will attach its XDP program to device
// on Start.
func NewAdapter(device string, logger *logrus.Logger) *Adapter {
	return &Adapter{
		device: device,
		logger: logger,
		inner:  soft.NewAdapter("xdp:"+device, logger),
	}
}

// Init delegates MAC assignment to the inner loopback adapter. The device
// the XDP program attaches to was recorded by NewAdapter.
func (a *Adapter) Init(ctx *pipeline.Context, nicIndex, port, numQueues, queue int) (pipeline.MacAddr, error) {
	return a.inner.Init(ctx, nicIndex, port, numQueues, queue)
}

// Start attaches the XDP program to the configured device, then starts the
// inner data path.
func (a *Adapter) Start() error {
	a.mu.Lock()
	prog := newProgram(a.device, a.logger)
	if err := prog.Load(""); err != nil {
		a.mu.Unlock()
		return fmt.Errorf("xdp: attaching program to %s: %w", a.device, err)
	}
	a.program = prog
	a.mu.Unlock()
	return a.inner.Start()
}

// SetQoS forwards to the inner data path's per-NIC TrafficShaper.
func (a *Adapter) SetQoS(shaper *qos.TrafficShaper) { a.inner.SetQoS(shaper) }

// SetMetrics forwards to the inner data path's Metrics instance.
func (a *Adapter) SetMetrics(m *telemetry.Metrics) { a.inner.SetMetrics(m) }

// Send forwards to the inner data path.
func (a *Adapter) Send(ctx *pipeline.Context, pkt *pipeline.Packet) error {
	return a.inner.Send(ctx, pkt)
}

// Flush forwards to the inner data path.
func (a *Adapter) Flush(ctx *pipeline.Context) error { return a.inner.Flush(ctx) }

// Recv forwards to the inner data path.
func (a *Adapter) Recv(ctx *pipeline.Context) (*pipeline.Packet, error) { return a.inner.Recv(ctx) }

// Stop detaches the XDP program and stops the inner data path.
func (a *Adapter) Stop(ctx *pipeline.Context) {
	a.mu.Lock()
	if a.program != nil {
		if err := a.program.Unload(); err != nil {
			a.logger.WithError(err).Warn("xdp: error detaching program")
		}
	}
	a.mu.Unlock()
	a.inner.Stop(ctx)
}

func init() {
	pipeline.Global().RegisterAdapter("xdp", func() pipeline.Adapter {
		return NewAdapter("eth0", logrus.StandardLogger())
	})
}
