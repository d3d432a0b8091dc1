//go:build !linux

package numa

import "runtime"

// SetCPUAffinity is a no-op on platforms without a pthread/sched affinity
// API exposed to Go (macOS, Windows): worker placement still happens via
// Topology/Manager, it just isn't OS-enforced there.
func SetCPUAffinity(cpus []int) error { return nil }

// BindCurrentThread locks the goroutine to its OS thread; no further
// affinity is applied outside Linux.
func BindCurrentThread(cpus []int) error {
	runtime.LockOSThread()
	return nil
}
