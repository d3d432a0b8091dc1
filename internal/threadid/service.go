// Package threadid implements the control-socket service that hands out
// dense small integer thread-ids to pinned worker threads, so the memory
// pool's per-thread cache array stays compact (pipeline.MaxThreadNum wide).
// Requests and responses travel as length-delimited JSON over a UNIX
// socket, accepted on a dedicated listener goroutine.
package threadid

import (
	"bufio"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"os"
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/Aubrey-Liu/omnistack/internal/pipeline"
)

// request is the wire shape of ThreadEnter / ThreadExit.
type request struct {
	Op       string  `json:"op"`
	ThreadID *uint32 `json:"thread_id,omitempty"`
}

// response is the wire shape of the service's reply.
type response struct {
	ThreadID *uint32 `json:"thread_id,omitempty"`
	Error    string  `json:"error,omitempty"`
}

// Service assigns and reclaims thread-ids over a UNIX socket. Exactly one
// Service runs per stack process, launched on a non-pinned helper thread.
type Service struct {
	socketPath string
	logger     *logrus.Logger
	listener   net.Listener

	mu       sync.Mutex
	free     []uint32 // stack of reclaimed ids, most-recently-freed first
	next     uint32   // next never-yet-issued id
	capacity uint32

	ready chan struct{}
	done  chan struct{}
}

// NewService creates a Service bounded to pipeline.MaxThreadNum ids.
func NewService(socketPath string, logger *logrus.Logger) *Service {
	return &Service{
		socketPath: socketPath,
		logger:     logger,
		capacity:   pipeline.MaxThreadNum,
		ready:      make(chan struct{}),
		done:       make(chan struct{}),
	}
}

// Start binds the UNIX socket and begins serving in a background goroutine.
// It blocks until the listener is bound (step 5 of engine startup: "wait for
// it to report ready").
func (s *Service) Start() error {
	_ = os.Remove(s.socketPath)
	ln, err := net.Listen("unix", s.socketPath)
	if err != nil {
		return fmt.Errorf("threadid: binding %s: %w", s.socketPath, err)
	}
	s.listener = ln
	close(s.ready)

	go s.serve()
	return nil
}

// Ready is closed once the socket is bound and accepting connections.
func (s *Service) Ready() <-chan struct{} { return s.ready }

func (s *Service) serve() {
	defer close(s.done)
	for {
		conn, err := s.listener.Accept()
		if err != nil {
			return
		}
		go s.handleConn(conn)
	}
}

func (s *Service) handleConn(conn net.Conn) {
	defer conn.Close()
	r := bufio.NewReader(conn)
	for {
		req, err := readFrame(r)
		if err != nil {
			if err != io.EOF {
				s.logger.WithError(err).Debug("threadid: frame read error")
			}
			return
		}

		var resp response
		switch req.Op {
		case "ThreadEnter":
			id, err := s.enter()
			if err != nil {
				resp.Error = err.Error()
			} else {
				resp.ThreadID = &id
			}
		case "ThreadExit":
			if req.ThreadID == nil {
				resp.Error = pipeline.ErrInvalidThreadID.Error()
			} else if err := s.exit(*req.ThreadID); err != nil {
				resp.Error = err.Error()
			}
		default:
			resp.Error = fmt.Sprintf("threadid: unknown op %q", req.Op)
		}

		if err := writeFrame(conn, resp); err != nil {
			s.logger.WithError(err).Debug("threadid: frame write error")
			return
		}
	}
}

// EnterLocal assigns a thread-id directly, without a socket round trip —
// used by the Engine process that also hosts this Service, for its own
// worker and adapter-init threads.
func (s *Service) EnterLocal() (uint32, error) { return s.enter() }

// ExitLocal reclaims a thread-id assigned by EnterLocal.
func (s *Service) ExitLocal(id uint32) error { return s.exit(id) }

func (s *Service) enter() (uint32, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if n := len(s.free); n > 0 {
		id := s.free[n-1]
		s.free = s.free[:n-1]
		return id, nil
	}
	if s.next >= s.capacity {
		return 0, fmt.Errorf("threadid: exhausted %d ids", s.capacity)
	}
	id := s.next
	s.next++
	return id, nil
}

func (s *Service) exit(id uint32) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if id >= s.capacity {
		return pipeline.ErrInvalidThreadID
	}
	s.free = append(s.free, id)
	return nil
}

// Stop closes the listener, waits for the accept loop to exit, and removes
// the socket file.
func (s *Service) Stop() error {
	if s.listener == nil {
		return nil
	}
	err := s.listener.Close()
	<-s.done
	_ = os.Remove(s.socketPath)
	return err
}

// readRawFrame reads one length-delimited frame's body.
func readRawFrame(r *bufio.Reader) ([]byte, error) {
	var lenBuf [4]byte
	if _, err := io.ReadFull(r, lenBuf[:]); err != nil {
		return nil, err
	}
	n := binary.BigEndian.Uint32(lenBuf[:])
	body := make([]byte, n)
	if _, err := io.ReadFull(r, body); err != nil {
		return nil, err
	}
	return body, nil
}

// writeRawFrame writes body as one length-delimited frame.
func writeRawFrame(w io.Writer, body []byte) error {
	var lenBuf [4]byte
	binary.BigEndian.PutUint32(lenBuf[:], uint32(len(body)))
	if _, err := w.Write(lenBuf[:]); err != nil {
		return err
	}
	_, err := w.Write(body)
	return err
}

func readFrame(r *bufio.Reader) (request, error) {
	var req request
	body, err := readRawFrame(r)
	if err != nil {
		return req, err
	}
	if err := json.Unmarshal(body, &req); err != nil {
		return req, fmt.Errorf("threadid: decoding request: %w", err)
	}
	return req, nil
}

func writeFrame(w io.Writer, resp response) error {
	body, err := json.Marshal(resp)
	if err != nil {
		return fmt.Errorf("threadid: encoding response: %w", err)
	}
	return writeRawFrame(w, body)
}
