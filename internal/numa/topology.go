// Package numa detects NUMA topology and pins worker goroutines to CPUs, so
// each Worker's PacketPool thread-cache and Graph replica stay local to one
// socket instead of bouncing cache lines across the fabric.
package numa

import (
	"fmt"
	"os"
	"runtime"
	"strconv"
	"strings"
)

// Topology describes the NUMA nodes visible to this process and which CPUs
// belong to each.
type Topology struct {
	NodeCount   int
	CPUsPerNode map[int][]int
	TotalCPUs   int
}

// Detect probes the host for NUMA topology, falling back to a single
// pseudo-node covering every logical CPU on platforms (or sandboxes)
// without a NUMA-aware kernel interface.
func Detect() (*Topology, error) {
	if runtime.GOOS == "linux" {
		if t, err := detectLinux(); err == nil {
			return t, nil
		}
	}
	return singleNodeFallback(), nil
}

func detectLinux() (*Topology, error) {
	const sysNode = "/sys/devices/system/node"
	if _, err := os.Stat(sysNode); os.IsNotExist(err) {
		return nil, fmt.Errorf("numa: %s not present", sysNode)
	}

	entries, err := os.ReadDir(sysNode)
	if err != nil {
		return nil, fmt.Errorf("numa: reading %s: %w", sysNode, err)
	}

	t := &Topology{CPUsPerNode: make(map[int][]int)}

	for _, entry := range entries {
		if !entry.IsDir() || !strings.HasPrefix(entry.Name(), "node") {
			continue
		}
		nodeID, err := strconv.Atoi(strings.TrimPrefix(entry.Name(), "node"))
		if err != nil {
			continue
		}

		cpuListPath := fmt.Sprintf("%s/%s/cpulist", sysNode, entry.Name())
		raw, err := os.ReadFile(cpuListPath)
		if err != nil {
			continue
		}

		cpus, err := parseCPUList(strings.TrimSpace(string(raw)))
		if err != nil || len(cpus) == 0 {
			continue
		}

		t.CPUsPerNode[nodeID] = cpus
		t.NodeCount++
		t.TotalCPUs += len(cpus)
	}

	if t.NodeCount == 0 {
		return nil, fmt.Errorf("numa: no nodes discovered under %s", sysNode)
	}
	return t, nil
}

// singleNodeFallback treats every logical CPU as node 0 — the right answer
// on macOS/Windows and on any Linux sandbox without /sys/devices/system/node
// mounted.
func singleNodeFallback() *Topology {
	n := runtime.NumCPU()
	cpus := make([]int, n)
	for i := range cpus {
		cpus[i] = i
	}
	return &Topology{
		NodeCount:   1,
		TotalCPUs:   n,
		CPUsPerNode: map[int][]int{0: cpus},
	}
}

// parseCPUList parses a Linux cpulist like "0-3,8,10-11".
func parseCPUList(list string) ([]int, error) {
	var cpus []int
	for _, part := range strings.Split(list, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		if lo, hi, ok := strings.Cut(part, "-"); ok {
			start, err := strconv.Atoi(lo)
			if err != nil {
				return nil, fmt.Errorf("numa: bad range start %q", lo)
			}
			end, err := strconv.Atoi(hi)
			if err != nil {
				return nil, fmt.Errorf("numa: bad range end %q", hi)
			}
			for cpu := start; cpu <= end; cpu++ {
				cpus = append(cpus, cpu)
			}
		} else {
			cpu, err := strconv.Atoi(part)
			if err != nil {
				return nil, fmt.Errorf("numa: bad cpu id %q", part)
			}
			cpus = append(cpus, cpu)
		}
	}
	return cpus, nil
}

// NodeCPUs returns the CPU ids belonging to nodeID.
func (t *Topology) NodeCPUs(nodeID int) ([]int, error) {
	cpus, ok := t.CPUsPerNode[nodeID]
	if !ok {
		return nil, fmt.Errorf("numa: node %d not found", nodeID)
	}
	return cpus, nil
}

// NodeOf returns which NUMA node owns cpuID.
func (t *Topology) NodeOf(cpuID int) (int, error) {
	for node, cpus := range t.CPUsPerNode {
		for _, cpu := range cpus {
			if cpu == cpuID {
				return node, nil
			}
		}
	}
	return -1, fmt.Errorf("numa: cpu %d not in any node", cpuID)
}
