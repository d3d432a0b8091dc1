package modules

import (
	"fmt"
	"sync/atomic"

	"github.com/Aubrey-Liu/omnistack/internal/pipeline"
)

// Io is the terminal sink module wired to one Adapter: Process hands the
// packet to the adapter's Send, which stages it for transmit and owns
// deallocation from that point on (the adapter's Flush call is where the
// packet's refcount actually drops to zero, per the driver contract in
// module.go). Io itself carries no outgoing links — it is always the last
// node in a transmit graph.
type Io struct {
	adapter pipeline.Adapter
}

// NewIo wraps adapter as a sink module.
func NewIo(adapter pipeline.Adapter) *Io {
	return &Io{adapter: adapter}
}

func (m *Io) Init(ctx *pipeline.Context) error { return nil }
func (m *Io) Capability() pipeline.Capability  { return pipeline.CapProcess }

func (m *Io) Process(ctx *pipeline.Context, pkt *pipeline.Packet) error {
	if m.adapter == nil {
		return fmt.Errorf("io: no adapter configured")
	}
	if err := m.adapter.Send(ctx, pkt); err != nil {
		return fmt.Errorf("io: adapter send: %w", err)
	}
	return nil
}

// Destroy flushes any packets still staged in the adapter so their
// references are released instead of leaking past worker shutdown.
func (m *Io) Destroy(ctx *pipeline.Context) {
	_ = m.adapter.Flush(ctx)
}

// defaultAdapter holds the process-wide adapter instance installed by
// SetAdapter during Engine startup. The Registry's ModuleFactory contract
// takes no arguments, so the "io" module's factory — like Ipv4Tx's routes
// or EthTx's endpoint — closes over this package-level default rather than
// threading per-node adapter config through Builder.
var defaultAdapter atomic.Pointer[pipeline.Adapter]

// SetAdapter installs the process-wide adapter the "io" module wraps. Call
// it after the adapter's Init/Start, before Builder.Build runs for any graph
// containing an "io" node. Each call replaces the previous adapter; the
// Engine calls it once per configured NIC, so the last NIC's adapter wins.
func SetAdapter(adapter pipeline.Adapter) { defaultAdapter.Store(&adapter) }

func init() {
	pipeline.Global().RegisterModule("io", func() pipeline.Module {
		ptr := defaultAdapter.Load()
		if ptr == nil {
			return NewIo(nil)
		}
		return NewIo(*ptr)
	})
}
