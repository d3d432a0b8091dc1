package qos

import (
	"fmt"
	"sync"

	"github.com/Aubrey-Liu/omnistack/internal/pipeline"
)

// PriorityQueue holds packets awaiting bandwidth at one priority level.
type PriorityQueue struct {
	mu sync.Mutex

	packets  []*pipeline.Packet
	capacity int
	priority int
}

// NewPriorityQueue creates a queue bounded to capacity entries.
func NewPriorityQueue(capacity, priority int) *PriorityQueue {
	return &PriorityQueue{
		packets:  make([]*pipeline.Packet, 0, capacity),
		capacity: capacity,
		priority: priority,
	}
}

// Enqueue appends pkt, failing if the queue is at capacity.
func (pq *PriorityQueue) Enqueue(pkt *pipeline.Packet) error {
	pq.mu.Lock()
	defer pq.mu.Unlock()

	if len(pq.packets) >= pq.capacity {
		return fmt.Errorf("qos: priority %d queue full", pq.priority)
	}
	pq.packets = append(pq.packets, pkt)
	return nil
}

// Dequeue removes and returns the head packet, or nil if empty.
func (pq *PriorityQueue) Dequeue() *pipeline.Packet {
	pq.mu.Lock()
	defer pq.mu.Unlock()

	if len(pq.packets) == 0 {
		return nil
	}
	pkt := pq.packets[0]
	pq.packets = pq.packets[1:]
	return pkt
}

// Peek returns the head packet without removing it.
func (pq *PriorityQueue) Peek() *pipeline.Packet {
	pq.mu.Lock()
	defer pq.mu.Unlock()

	if len(pq.packets) == 0 {
		return nil
	}
	return pq.packets[0]
}

// Depth returns the current queue length.
func (pq *PriorityQueue) Depth() int {
	pq.mu.Lock()
	defer pq.mu.Unlock()
	return len(pq.packets)
}

// IsFull reports whether the queue is at capacity.
func (pq *PriorityQueue) IsFull() bool {
	pq.mu.Lock()
	defer pq.mu.Unlock()
	return len(pq.packets) >= pq.capacity
}

// IsEmpty reports whether the queue holds no packets.
func (pq *PriorityQueue) IsEmpty() bool {
	pq.mu.Lock()
	defer pq.mu.Unlock()
	return len(pq.packets) == 0
}

// Clear drops every queued packet. Callers are responsible for deallocating
// them first; Clear does not free anything.
func (pq *PriorityQueue) Clear() {
	pq.mu.Lock()
	defer pq.mu.Unlock()
	pq.packets = make([]*pipeline.Packet, 0, pq.capacity)
}
