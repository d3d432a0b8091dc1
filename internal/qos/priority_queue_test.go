package qos

import (
	"testing"

	"github.com/Aubrey-Liu/omnistack/internal/pipeline"
)

func TestPriorityQueueEnqueueDequeueOrder(t *testing.T) {
	pq := NewPriorityQueue(4, PriorityP1)
	a := &pipeline.Packet{}
	b := &pipeline.Packet{}

	if err := pq.Enqueue(a); err != nil {
		t.Fatalf("Enqueue a: %v", err)
	}
	if err := pq.Enqueue(b); err != nil {
		t.Fatalf("Enqueue b: %v", err)
	}
	if got := pq.Dequeue(); got != a {
		t.Fatal("expected FIFO order, got b before a")
	}
	if got := pq.Dequeue(); got != b {
		t.Fatal("expected b after a")
	}
}

func TestPriorityQueueEnqueueRejectsAtCapacity(t *testing.T) {
	pq := NewPriorityQueue(1, PriorityP0)
	if err := pq.Enqueue(&pipeline.Packet{}); err != nil {
		t.Fatalf("Enqueue: %v", err)
	}
	if err := pq.Enqueue(&pipeline.Packet{}); err == nil {
		t.Fatal("expected the second Enqueue to fail once at capacity")
	}
}

func TestPriorityQueuePeekDoesNotRemove(t *testing.T) {
	pq := NewPriorityQueue(2, PriorityP0)
	pkt := &pipeline.Packet{}
	pq.Enqueue(pkt)

	if got := pq.Peek(); got != pkt {
		t.Fatal("Peek returned wrong packet")
	}
	if got := pq.Depth(); got != 1 {
		t.Fatalf("Depth() after Peek = %d, want 1", got)
	}
}

func TestPriorityQueueDequeueEmptyReturnsNil(t *testing.T) {
	pq := NewPriorityQueue(2, PriorityP0)
	if got := pq.Dequeue(); got != nil {
		t.Fatal("expected nil from an empty queue")
	}
}

func TestPriorityQueueIsFullAndIsEmpty(t *testing.T) {
	pq := NewPriorityQueue(1, PriorityP0)
	if !pq.IsEmpty() {
		t.Fatal("expected a fresh queue to be empty")
	}
	pq.Enqueue(&pipeline.Packet{})
	if !pq.IsFull() {
		t.Fatal("expected the queue to be full at capacity")
	}
	if pq.IsEmpty() {
		t.Fatal("queue holding one packet must not be empty")
	}
}

func TestPriorityQueueClear(t *testing.T) {
	pq := NewPriorityQueue(4, PriorityP0)
	pq.Enqueue(&pipeline.Packet{})
	pq.Enqueue(&pipeline.Packet{})
	pq.Clear()
	if got := pq.Depth(); got != 0 {
		t.Fatalf("Depth() after Clear = %d, want 0", got)
	}
}
