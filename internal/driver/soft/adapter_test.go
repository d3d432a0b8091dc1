package soft

import (
	"context"
	"io"
	"testing"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/Aubrey-Liu/omnistack/internal/pipeline"
	"github.com/Aubrey-Liu/omnistack/internal/qos"
)

func testLogger() *logrus.Logger {
	l := logrus.New()
	l.SetOutput(io.Discard)
	return l
}

var testSocketCounter int

func newTestContext(t *testing.T) *pipeline.Context {
	t.Helper()
	testSocketCounter++
	pool, err := pipeline.GetOrCreatePacketPool(testSocketCounter, 256, 0)
	if err != nil {
		t.Fatalf("GetOrCreatePacketPool: %v", err)
	}
	return &pipeline.Context{Ctx: context.Background(), ThreadID: 0, Pool: pool}
}

func TestSendDoesNotDeallocateUntilFlush(t *testing.T) {
	ctx := newTestContext(t)
	a := NewAdapter("test", testLogger())
	if _, err := a.Init(ctx, 0, 0, 1, 0); err != nil {
		t.Fatalf("Init: %v", err)
	}
	if err := a.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}

	pkt, err := ctx.Pool.Allocate(ctx.ThreadID)
	if err != nil {
		t.Fatalf("Allocate: %v", err)
	}
	before := ctx.Pool.LiveCount()

	if err := a.Send(ctx, pkt); err != nil {
		t.Fatalf("Send: %v", err)
	}
	if got := ctx.Pool.LiveCount(); got != before {
		t.Fatalf("Send must not deallocate: live count = %d, want %d", got, before)
	}

	if err := a.Flush(ctx); err != nil {
		t.Fatalf("Flush: %v", err)
	}
	if got := ctx.Pool.LiveCount(); got != before-1 {
		t.Fatalf("Flush must deallocate the staged packet: live count = %d, want %d", got, before-1)
	}
}

func TestLoopbackDeliversSentFrameToRecv(t *testing.T) {
	ctx := newTestContext(t)
	a := NewAdapter("test", testLogger())
	if _, err := a.Init(ctx, 0, 0, 1, 0); err != nil {
		t.Fatalf("Init: %v", err)
	}
	if err := a.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}

	pkt, err := ctx.Pool.Allocate(ctx.ThreadID)
	if err != nil {
		t.Fatalf("Allocate: %v", err)
	}
	payload := []byte("loopback-payload")
	copy(pkt.Data[pkt.Offset:], payload)
	pkt.SetLen(len(payload))

	if err := a.Send(ctx, pkt); err != nil {
		t.Fatalf("Send: %v", err)
	}
	if err := a.Flush(ctx); err != nil {
		t.Fatalf("Flush: %v", err)
	}

	recvd, err := a.Recv(ctx)
	if err != nil {
		t.Fatalf("Recv: %v", err)
	}
	if string(recvd.Payload()) != string(payload) {
		t.Fatalf("recv payload = %q, want %q", recvd.Payload(), payload)
	}
}

func TestRecvNoDataWhenLoopbackDisabled(t *testing.T) {
	ctx := newTestContext(t)
	a := NewAdapter("test", testLogger())
	a.SetLoopback(false)
	if _, err := a.Init(ctx, 0, 0, 1, 0); err != nil {
		t.Fatalf("Init: %v", err)
	}
	if err := a.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}

	pkt, err := ctx.Pool.Allocate(ctx.ThreadID)
	if err != nil {
		t.Fatalf("Allocate: %v", err)
	}
	if err := a.Send(ctx, pkt); err != nil {
		t.Fatalf("Send: %v", err)
	}
	if err := a.Flush(ctx); err != nil {
		t.Fatalf("Flush: %v", err)
	}

	if _, err := a.Recv(ctx); err != pipeline.ErrNoData {
		t.Fatalf("Recv err = %v, want ErrNoData", err)
	}
}

func TestSendAutoFlushesAtBurstSize(t *testing.T) {
	ctx := newTestContext(t)
	a := NewAdapter("test", testLogger())
	if _, err := a.Init(ctx, 0, 0, 1, 0); err != nil {
		t.Fatalf("Init: %v", err)
	}
	if err := a.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}

	for i := 0; i < pipeline.BurstSize; i++ {
		pkt, err := ctx.Pool.Allocate(ctx.ThreadID)
		if err != nil {
			t.Fatalf("Allocate %d: %v", i, err)
		}
		if err := a.Send(ctx, pkt); err != nil {
			t.Fatalf("Send %d: %v", i, err)
		}
	}

	if len(a.txStaged) != 0 {
		t.Fatalf("expected auto-flush at BurstSize, %d packets still staged", len(a.txStaged))
	}
}

func TestSendMarksDSCPWhenQoSConfigured(t *testing.T) {
	ctx := newTestContext(t)
	a := NewAdapter("test", testLogger())
	a.SetQoS(qos.NewTrafficShaper("test", 1_000_000, 1_000_000, 10, nil, nil, testLogger()))
	if _, err := a.Init(ctx, 0, 0, 1, 0); err != nil {
		t.Fatalf("Init: %v", err)
	}
	if err := a.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}

	pkt, err := ctx.Pool.Allocate(ctx.ThreadID)
	if err != nil {
		t.Fatalf("Allocate: %v", err)
	}
	pkt.L3Header = pipeline.HeaderSpan{Offset: pkt.Offset, Length: 20}
	pkt.SetLen(20)
	pkt.Priority = qos.PriorityP0

	if err := a.Send(ctx, pkt); err != nil {
		t.Fatalf("Send: %v", err)
	}
	if err := a.Flush(ctx); err != nil {
		t.Fatalf("Flush: %v", err)
	}

	tosByte := pkt.Data[pkt.L3Header.Offset+1]
	if dscp := tosByte >> 2; dscp != qos.DSCP_EF {
		t.Fatalf("tos byte DSCP = %d, want %d (P0 -> EF)", dscp, qos.DSCP_EF)
	}
}

func TestSendQueuesThroughShaperWhenBandwidthExhausted(t *testing.T) {
	ctx := newTestContext(t)
	a := NewAdapter("test", testLogger())
	payload := []byte("queued-through-shaper")
	// The burst holds exactly one payload; at 1 B/s the default priority's
	// share rounds to 0 B/s, so nothing refills until UpdateBandwidth.
	shaper := qos.NewTrafficShaper("test", 1, int64(len(payload)), 10, nil, nil, testLogger())
	a.SetQoS(shaper)
	if _, err := a.Init(ctx, 0, 0, 1, 0); err != nil {
		t.Fatalf("Init: %v", err)
	}
	if err := a.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}

	// The first packet is admitted and uses up the whole burst.
	filler, err := ctx.Pool.Allocate(ctx.ThreadID)
	if err != nil {
		t.Fatalf("Allocate: %v", err)
	}
	filler.SetLen(len(payload))
	if err := a.Send(ctx, filler); err != nil {
		t.Fatalf("Send filler: %v", err)
	}

	pkt, err := ctx.Pool.Allocate(ctx.ThreadID)
	if err != nil {
		t.Fatalf("Allocate: %v", err)
	}
	copy(pkt.Data[pkt.Offset:], payload)
	pkt.SetLen(len(payload))

	before := ctx.Pool.LiveCount()
	if err := a.Send(ctx, pkt); err != nil {
		t.Fatalf("Send: %v", err)
	}
	// Bandwidth was exhausted, so Send must have parked pkt in the shaper's
	// queue rather than staging it; it is still live.
	if got := ctx.Pool.LiveCount(); got != before {
		t.Fatalf("live count after queued Send = %d, want %d (not yet deallocated)", got, before)
	}

	for p := qos.PriorityP0; p <= qos.PriorityP3; p++ {
		if err := shaper.UpdateBandwidth(p, 1_000_000); err != nil {
			t.Fatalf("UpdateBandwidth(%d): %v", p, err)
		}
	}

	// A drained packet is staged next to the filler; nothing flushes it.
	deadline := time.After(time.Second)
	for {
		a.mu.Lock()
		drained := len(a.txStaged) == 2
		a.mu.Unlock()
		if drained {
			break
		}
		select {
		case <-deadline:
			t.Fatal("timed out waiting for shaper to drain the queued packet")
		case <-time.After(5 * time.Millisecond):
		}
	}
}
