package numa

import (
	"fmt"

	"github.com/sirupsen/logrus"
)

// Manager resolves NUMA topology once at Engine startup and pins worker
// goroutines to the CPUs their StackConfig entry names.
type Manager struct {
	logger   *logrus.Logger
	topology *Topology
	enabled  bool
}

// NewManager creates a Manager that does nothing until Initialize succeeds.
func NewManager(logger *logrus.Logger) *Manager {
	return &Manager{logger: logger}
}

// Initialize detects topology. Detect reports a single pseudo-node when no
// NUMA hardware is visible, so the Manager is enabled in that case too; the
// non-NUMA branch below runs only if Detect returns an error.
func (m *Manager) Initialize() error {
	topology, err := Detect()
	if err != nil {
		m.logger.WithError(err).Warn("NUMA detection failed, running without NUMA awareness")
		return nil
	}
	m.topology = topology
	m.enabled = true
	m.logger.WithFields(logrus.Fields{
		"nodes":      topology.NodeCount,
		"total_cpus": topology.TotalCPUs,
	}).Info("NUMA topology detected")
	return nil
}

// IsEnabled reports whether Initialize obtained a topology from Detect,
// including the single pseudo-node fallback.
func (m *Manager) IsEnabled() bool { return m.enabled }

// Topology returns the detected topology, or nil if NUMA is disabled.
func (m *Manager) Topology() *Topology { return m.topology }

// SocketFor returns the NUMA node owning cpu, defaulting to socket 0 when
// NUMA isn't enabled — every PacketPool and Worker downstream treats socket
// 0 as "the only socket" in that case.
func (m *Manager) SocketFor(cpu int) int {
	if !m.enabled || m.topology == nil {
		return 0
	}
	node, err := m.topology.NodeOf(cpu)
	if err != nil {
		return 0
	}
	return node
}

// BindWorker pins the calling goroutine's OS thread to cpu. Must be called
// from the goroutine that will run the Worker loop, before Worker.Run.
func (m *Manager) BindWorker(cpu int) error {
	if !m.enabled {
		return nil
	}
	if err := BindCurrentThread([]int{cpu}); err != nil {
		return fmt.Errorf("numa: binding worker to cpu %d: %w", cpu, err)
	}
	return nil
}

// Stats returns a JSON-friendly snapshot for the /status endpoint.
func (m *Manager) Stats() map[string]any {
	stats := map[string]any{"enabled": m.enabled}
	if m.enabled && m.topology != nil {
		stats["nodes"] = m.topology.NodeCount
		stats["total_cpus"] = m.topology.TotalCPUs
	}
	return stats
}
