package pipeline

import (
	"sync/atomic"

	"github.com/Aubrey-Liu/omnistack/internal/telemetry"
)

// globalMetrics is the process-wide Metrics instance PacketPool records
// allocation/free counters into. Left nil (the zero value of
// atomic.Pointer[T].Load()) until SetMetrics is called, so pools used by
// tests and other callers that never install one stay metrics-free rather
// than panicking.
var globalMetrics atomic.Pointer[telemetry.Metrics]

// SetMetrics installs the process-wide Metrics instance. Engine calls this
// once, before building any PacketPool or starting any Worker.
func SetMetrics(m *telemetry.Metrics) { globalMetrics.Store(m) }

func metricsOrNil() *telemetry.Metrics { return globalMetrics.Load() }
