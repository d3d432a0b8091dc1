package pipeline

import (
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/sirupsen/logrus"
)

// PacketPool is a fixed-capacity, NUMA-local object pool specialized for
// Packet records. It is deliberately not a generic
// MemoryPool[T]: Packet is the only object this pipeline ever pools, and a
// type parameter with no second instantiation just adds ceremony — see
// DESIGN.md for the tradeoff.
//
// Allocation draws from the calling thread's cache first; a miss refills
// the cache from the shared backing store under a single short-held lock —
// a "local cache, lock only on miss" shape.
type PacketPool struct {
	name     string
	socket   int
	capacity int

	mu     sync.Mutex
	backing []*Packet // preallocated contiguous backing store
	global  []*Packet // free stack drawn from / returned to on cache miss/overflow

	caches [MaxThreadNum]*threadCache

	live atomic.Int64 // backing-store elements currently outstanding
}

type threadCache struct {
	mu    sync.Mutex
	free  []*Packet
	limit int
}

var (
	registryMu sync.Mutex
	registries = map[string]*PacketPool{}
)

// GetOrCreatePacketPool returns the PacketPool for socket, creating it (and
// its backing store of capacity elements) on first call. Idempotent by
// (name, socket); threadID's cache is created if it does not already exist —
// the first caller on a given thread creates that thread's per-thread cache.
func GetOrCreatePacketPool(socket int, capacity int, threadID uint32) (*PacketPool, error) {
	key := fmt.Sprintf("packet-pool/socket-%d", socket)

	registryMu.Lock()
	p, ok := registries[key]
	if !ok {
		p = newPacketPool(key, socket, capacity)
		registries[key] = p
	}
	registryMu.Unlock()

	if err := p.CreateCache(CacheSize, threadID); err != nil {
		return nil, err
	}
	return p, nil
}

func newPacketPool(name string, socket, capacity int) *PacketPool {
	backing := make([]*Packet, capacity)
	global := make([]*Packet, capacity)
	for i := range backing {
		pkt := &Packet{}
		resetForAllocation(pkt)
		backing[i] = pkt
		global[i] = pkt
	}

	return &PacketPool{
		name:     name,
		socket:   socket,
		capacity: capacity,
		backing:  backing,
		global:   global,
	}
}

// CreateCache allocates a bounded per-thread cache for threadID. Safe to
// call more than once; later calls are no-ops so a worker restarting on the
// same thread-id doesn't leak a second cache.
func (p *PacketPool) CreateCache(cacheSize int, threadID uint32) error {
	if threadID >= MaxThreadNum {
		return ErrInvalidThreadID
	}
	if p.caches[threadID] != nil {
		return nil
	}
	p.caches[threadID] = &threadCache{
		free:  make([]*Packet, 0, cacheSize),
		limit: cacheSize,
	}
	return nil
}

// Allocate returns one freshly-reset Packet, or ErrExhausted if both the
// calling thread's cache and the shared backing store are empty. Never
// blocks and never touches the Go heap allocator on the fast path.
func (p *PacketPool) Allocate(threadID uint32) (*Packet, error) {
	cache, err := p.cache(threadID)
	if err != nil {
		return nil, err
	}

	pkt := cache.pop()
	if pkt == nil {
		if !p.refill(cache) {
			if m := metricsOrNil(); m != nil {
				m.PoolExhausted.Inc()
			}
			return nil, ErrExhausted
		}
		pkt = cache.pop()
		if pkt == nil {
			if m := metricsOrNil(); m != nil {
				m.PoolExhausted.Inc()
			}
			return nil, ErrExhausted
		}
	}

	resetForAllocation(pkt)
	pkt.pool = p
	p.live.Add(1)
	if m := metricsOrNil(); m != nil {
		m.PacketsAllocated.Inc()
		m.PoolLive.WithLabelValues(p.name).Set(float64(p.live.Load()))
	}
	return pkt, nil
}

// AllocateMany fills out[:n] with freshly allocated packets, returning the
// number actually filled; a short count means the pool ran dry partway
// through and no partial packet is left dangling.
func (p *PacketPool) AllocateMany(n int, out []*Packet) int {
	filled := 0
	for filled < n && filled < len(out) {
		pkt, err := p.Allocate(0)
		if err != nil {
			break
		}
		out[filled] = pkt
		filled++
	}
	return filled
}

// put returns pkt to threadID's cache, spilling to the shared backing store
// if the cache is already full. Called only from Packet.release, which has
// already dropped the refcount to zero and released any External resource.
func (p *PacketPool) put(pkt *Packet, threadID uint32) {
	p.live.Add(-1)

	cache, err := p.cache(threadID)
	if err != nil || !cache.push(pkt) {
		p.mu.Lock()
		p.global = append(p.global, pkt)
		p.mu.Unlock()
	}
	if m := metricsOrNil(); m != nil {
		m.PacketsFreed.Inc()
		m.PoolLive.WithLabelValues(p.name).Set(float64(p.live.Load()))
	}
}

// refill moves a batch of free objects from the shared backing store into
// the calling thread's cache. Returns false if the store was empty.
func (p *PacketPool) refill(cache *threadCache) bool {
	p.mu.Lock()
	defer p.mu.Unlock()

	if len(p.global) == 0 {
		return false
	}

	want := cache.limit
	if want > len(p.global) {
		want = len(p.global)
	}
	batch := p.global[len(p.global)-want:]
	p.global = p.global[:len(p.global)-want]

	cache.mu.Lock()
	cache.free = append(cache.free, batch...)
	cache.mu.Unlock()
	return true
}

func (p *PacketPool) cache(threadID uint32) (*threadCache, error) {
	if threadID >= MaxThreadNum {
		return nil, ErrInvalidThreadID
	}
	c := p.caches[threadID]
	if c == nil {
		return nil, ErrInvalidThreadID
	}
	return c, nil
}

// Deallocate decrements pkt's refcount, freeing it (and any External
// descriptor) back to the pool exactly when the count reaches zero. A
// refcount of zero on entry is a programming error: Deallocate logs a
// warning and ignores the call rather than releasing the packet twice.
func (p *PacketPool) Deallocate(pkt *Packet, threadID uint32) {
	if pkt.RefCount() <= 0 {
		logrus.StandardLogger().WithField("thread_id", threadID).
			Warn("pipeline: deallocate of a packet whose refcount is already zero; ignored")
		return
	}
	pkt.release(threadID)
}

// Capacity returns the pool's fixed element count.
func (p *PacketPool) Capacity() int { return p.capacity }

// LiveCount returns the number of currently outstanding (allocated, not yet
// freed) packets.
func (p *PacketPool) LiveCount() int64 { return p.live.Load() }

// FreeCount returns the number of packets available across the shared store
// and every per-thread cache — useful for asserting that a pool returns to
// its initial free count after a burst of allocate/release cycles.
func (p *PacketPool) FreeCount() int {
	p.mu.Lock()
	n := len(p.global)
	p.mu.Unlock()

	for _, c := range p.caches {
		if c == nil {
			continue
		}
		c.mu.Lock()
		n += len(c.free)
		c.mu.Unlock()
	}
	return n
}

func (c *threadCache) pop() *Packet {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := len(c.free)
	if n == 0 {
		return nil
	}
	pkt := c.free[n-1]
	c.free = c.free[:n-1]
	return pkt
}

func (c *threadCache) push(pkt *Packet) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.free) >= c.limit {
		return false
	}
	c.free = append(c.free, pkt)
	return true
}
