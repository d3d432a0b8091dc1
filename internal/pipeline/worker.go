package pipeline

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"

	"github.com/sirupsen/logrus"
)

// StopFlag is the single process-wide shutdown signal. The writer is
// whatever installs the ctrl-c handler (Engine); every Worker reads it once
// per outer loop iteration. A plain atomic.Bool gives release/acquire
// ordering without a lock, and flipping it from a signal-adjacent goroutine
// allocates nothing.
var StopFlag atomic.Bool

// WorkerState is a worker's per-instance lifecycle state. Transitions are
// only ever made by the worker's own goroutine; StopFlag is the single
// external input that nudges Running towards Stopping.
type WorkerState int32

const (
	StateInit WorkerState = iota
	StateRunning
	StateStopping
	StateStopped
)

// Worker drives one Graph replica on one (nominally pinned) goroutine.
type Worker struct {
	ID        int
	CPU       int
	ThreadID  uint32
	Graph     *Graph
	Pool      *PacketPool
	StackName string

	state atomic.Int32
	stack taskStack

	// peers enables work-stealing; populated by the Engine only when
	// Settings.EnableWorkStealing is set, and then only with the other
	// replicas of the same stack graph entry whose graph is SameShape with
	// this worker's graph.
	peers []*Worker

	logger *logrus.Logger
	ctx    *Context
}

// NewWorker builds a Worker for graph, owning threadID's PacketPool cache.
func NewWorker(id int, graph *Graph, pool *PacketPool, threadID uint32, stackName string, logger *logrus.Logger) *Worker {
	w := &Worker{
		ID:        id,
		CPU:       graph.CPU,
		ThreadID:  threadID,
		Graph:     graph,
		Pool:      pool,
		StackName: stackName,
		logger:    logger,
	}
	w.ctx = &Context{
		CPU:       graph.CPU,
		WorkerID:  id,
		ThreadID:  threadID,
		GraphID:   graph.ID,
		StackName: stackName,
		Pool:      pool,
	}
	return w
}

// State returns the worker's current lifecycle state.
func (w *Worker) State() WorkerState { return WorkerState(w.state.Load()) }

// SetPeers wires this worker into a work-stealing group. Callers must only
// do this when every peer's Graph is SameShape with w.Graph — stealing a
// task whose NodeID doesn't line up across heterogeneous graphs would hand
// the packet to the wrong module, so Engine enforces this invariant before
// SetPeers is ever called.
func (w *Worker) SetPeers(peers []*Worker) { w.peers = peers }

// StealBatch removes up to n tasks from the bottom of this worker's local
// stack for a peer to run. Only ever called by a peer worker on an empty
// stack of its own.
func (w *Worker) StealBatch(n int) []Task { return w.stack.drainBatch(n) }

// Run executes the worker's Init → Running → (Stopping → Stopped) lifecycle.
// It returns nil on a clean StopFlag-triggered shutdown, or a non-nil error
// if any module's Poll/Process returns something other than the
// ErrNoData/ErrDropped control-flow signals — a fatal error terminates only
// this worker; siblings keep running until they each observe StopFlag.
func (w *Worker) Run(parent context.Context) error {
	w.ctx.Ctx = parent
	w.state.Store(int32(StateInit))

	for _, n := range w.Graph.Nodes {
		if err := n.Module.Init(w.ctx); err != nil {
			return fmt.Errorf("worker %d: node %q init: %w", w.ID, n.Name, err)
		}
	}

	w.state.Store(int32(StateRunning))

	for {
		if err := w.pollPhase(); err != nil {
			return err
		}
		if err := w.processPhase(); err != nil {
			return err
		}

		if StopFlag.Load() {
			w.state.Store(int32(StateStopping))
			for _, n := range w.Graph.Nodes {
				n.Module.Destroy(w.ctx)
			}
			w.state.Store(int32(StateStopped))
			return nil
		}

		if w.stack.len() == 0 && len(w.peers) > 0 {
			w.tryStealFromPeers()
		}
	}
}

func (w *Worker) pollPhase() error {
	for _, nid := range w.Graph.Pollable() {
		node := w.Graph.Nodes[nid]
		poller, ok := node.Module.(Poller)
		if !ok {
			continue
		}

		head, err := poller.Poll(w.ctx)
		if err != nil {
			if errors.Is(err, ErrNoData) {
				continue
			}
			return fmt.Errorf("worker %d: node %q poll: %w", w.ID, node.Name, err)
		}

		pkts := chainToSlice(head)
		// Push in reverse chain order so the head packet ends up on top
		// of the LIFO stack and is processed first.
		for i := len(pkts) - 1; i >= 0; i-- {
			w.fanOutPush(node, pkts[i])
		}
	}
	return nil
}

func (w *Worker) processPhase() error {
	for {
		t, ok := w.stack.pop()
		if !ok {
			return nil
		}

		node := w.Graph.Nodes[t.Node]
		err := node.Module.Process(w.ctx, t.Pkt)
		if err != nil {
			if errors.Is(err, ErrDropped) {
				continue
			}
			return fmt.Errorf("worker %d: node %q process: %w", w.ID, node.Name, err)
		}

		w.fanOutPush(node, t.Pkt)
	}
}

// fanOutPush bumps pkt's refcount by (len(node.LinksTo)-1) and pushes one
// task per outgoing edge. A node with zero outgoing links pushes nothing —
// the module that just processed (or polled) this packet is required to
// have already deallocated it.
func (w *Worker) fanOutPush(node *Node, pkt *Packet) {
	k := len(node.LinksTo)
	if k == 0 {
		return
	}
	pkt.fanOut(k)
	for _, link := range node.LinksTo {
		w.stack.push(Task{Node: link.To, Pkt: pkt})
	}
}

func (w *Worker) tryStealFromPeers() {
	for _, peer := range w.peers {
		batch := peer.StealBatch(StealBatch)
		if len(batch) == 0 {
			continue
		}
		for _, t := range batch {
			w.stack.push(t)
		}
		return
	}
}

// chainToSlice walks a Next-linked burst into a slice, severing Next on
// each element so downstream processing doesn't see stale chain pointers.
func chainToSlice(head *Packet) []*Packet {
	var out []*Packet
	for p := head; p != nil; {
		next := p.Next
		p.Next = nil
		out = append(out, p)
		p = next
	}
	return out
}
