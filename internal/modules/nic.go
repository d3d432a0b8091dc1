package modules

import (
	"net"
	"sync"
	"sync/atomic"

	"github.com/Aubrey-Liu/omnistack/internal/pipeline"
)

// defaultNics mirrors defaultRoutes: the process-wide nic table installed by
// SetNics during Engine startup, consulted by no-arg module factories.
var defaultNics atomic.Pointer[NicTable]

// SetNics installs the process-wide nic table. Must be called exactly once,
// before Builder.Build runs for any graph that references a nic-aware
// module.
func SetNics(nt *NicTable) { defaultNics.Store(nt) }

// Nics returns the process-wide nic table, or an empty table if SetNics was
// never called.
func Nics() *NicTable {
	if nt := defaultNics.Load(); nt != nil {
		return nt
	}
	return NewNicTable(nil)
}

// NicInfo describes one configured local interface: the address and MAC
// stamped into outbound frames, and the name of the adapter configured for
// it. The Io module does not look the name up; it uses the adapter
// installed by SetAdapter.
type NicInfo struct {
	IPv4    net.IP
	MAC     pipeline.MacAddr
	Adapter string
}

// NicTable maps nic index to its NicInfo. Like RouteTable, it is built once
// at startup from StackConfig and never mutated afterward, so lookups need
// no more than a read lock.
type NicTable struct {
	mu    sync.RWMutex
	table map[int]NicInfo
}

// NewNicTable builds a table from the given index->info mapping.
func NewNicTable(entries map[int]NicInfo) *NicTable {
	cp := make(map[int]NicInfo, len(entries))
	for k, v := range entries {
		cp[k] = v
	}
	return &NicTable{table: cp}
}

// Get returns the NicInfo for nic, and false if unconfigured.
func (nt *NicTable) Get(nic int) (NicInfo, bool) {
	nt.mu.RLock()
	defer nt.mu.RUnlock()
	info, ok := nt.table[nic]
	return info, ok
}
