package modules

import (
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/Aubrey-Liu/omnistack/internal/pipeline"
)

// pendingPacket is one user-submitted payload awaiting a Poll call.
type pendingPacket struct {
	nic     int
	payload []byte
}

// UserSource is a CapPoll module that turns externally enqueued payloads
// into packets at the head of a graph — the stand-in for a real ingress
// source (a socket, a ring) in the illustrative Eth/IPv4/UDP graphs. Like
// other poll-phase source modules, it drains an internal queue rather than
// touching real hardware directly.
type UserSource struct {
	mu      sync.Mutex
	pending []pendingPacket
	logger  *logrus.Logger
}

// NewUserSource creates an empty source.
func NewUserSource(logger *logrus.Logger) *UserSource {
	return &UserSource{logger: logger}
}

// Enqueue stages payload for delivery out of nic on the next Poll. Safe to
// call concurrently with Poll, including from outside the worker's own
// goroutine (e.g. a test driving the graph, or a control-plane handler).
func (s *UserSource) Enqueue(nic int, payload []byte) {
	cp := make([]byte, len(payload))
	copy(cp, payload)
	s.mu.Lock()
	s.pending = append(s.pending, pendingPacket{nic: nic, payload: cp})
	s.mu.Unlock()
}

func (s *UserSource) Init(ctx *pipeline.Context) error { return nil }

func (s *UserSource) Capability() pipeline.Capability { return pipeline.CapPoll }

// Process is never invoked: UserSource is a pure source and has no
// incoming edges that would route packets into it.
func (s *UserSource) Process(ctx *pipeline.Context, pkt *pipeline.Packet) error {
	return pipeline.ErrNop
}

func (s *UserSource) Destroy(ctx *pipeline.Context) {}

// Poll drains up to pipeline.BurstSize pending payloads into freshly
// allocated packets, chained via Next.
func (s *UserSource) Poll(ctx *pipeline.Context) (*pipeline.Packet, error) {
	s.mu.Lock()
	n := pipeline.BurstSize
	if n > len(s.pending) {
		n = len(s.pending)
	}
	if n == 0 {
		s.mu.Unlock()
		return nil, pipeline.ErrNoData
	}
	batch := s.pending[:n]
	s.pending = s.pending[n:]
	s.mu.Unlock()

	var head, tail *pipeline.Packet
	for _, p := range batch {
		pkt, err := ctx.Pool.Allocate(ctx.ThreadID)
		if err != nil {
			s.logger.WithError(err).Warn("user source: pool exhausted, dropping remaining batch")
			break
		}
		copy(pkt.Data[pkt.Offset:], p.payload)
		pkt.SetLen(len(p.payload))
		pkt.Nic = p.nic

		if head == nil {
			head = pkt
		} else {
			tail.Next = pkt
		}
		tail = pkt
	}
	if head == nil {
		return nil, pipeline.ErrNoData
	}
	return head, nil
}

func init() {
	pipeline.Global().RegisterModule("user_source", func() pipeline.Module {
		return NewUserSource(logrus.StandardLogger())
	})
}
