//go:build linux

package numa

import (
	"fmt"
	"runtime"

	"golang.org/x/sys/unix"
)

// SetCPUAffinity pins the calling OS thread to cpus. Callers must have
// already called runtime.LockOSThread, otherwise the Go scheduler is free
// to migrate the calling goroutine to an unpinned thread on its next
// preemption point.
func SetCPUAffinity(cpus []int) error {
	var set unix.CPUSet
	set.Zero()
	for _, cpu := range cpus {
		set.Set(cpu)
	}
	if err := unix.SchedSetaffinity(0, &set); err != nil {
		return fmt.Errorf("numa: sched_setaffinity: %w", err)
	}
	return nil
}

// BindCurrentThread locks the calling goroutine to its current OS thread and
// restricts that thread to cpus.
func BindCurrentThread(cpus []int) error {
	runtime.LockOSThread()
	if err := SetCPUAffinity(cpus); err != nil {
		runtime.UnlockOSThread()
		return err
	}
	return nil
}
