package qos

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/Aubrey-Liu/omnistack/internal/pipeline"
	"github.com/Aubrey-Liu/omnistack/internal/telemetry"
)

// Stats tracks per-priority counters mirrored into telemetry.Metrics.
type Stats struct {
	mu sync.RWMutex

	BytesProcessed   map[int]uint64
	PacketsProcessed map[int]uint64
	PacketsDropped   map[int]uint64
}

// TrafficShaper rate-limits and DSCP-remarks packets on a NIC's send path,
// bucketing them into four fixed priority classes and reporting through an
// injected *telemetry.Metrics so every NIC's shaper shares one registry.
type TrafficShaper struct {
	mu sync.RWMutex

	buckets map[int]*TokenBucket
	queues  map[int]*PriorityQueue

	dscpMarker *DSCPMarker

	defaultBandwidth int64
	burstSize        int64
	queueDepth       int

	adapterName string
	stats       *Stats
	metrics     *telemetry.Metrics
	logger      *logrus.Logger
}

// NewTrafficShaper builds a shaper for one NIC adapter (adapterName labels
// its metrics), splitting defaultBandwidth across P0..P3 in a 4:3:2:1 ratio
// so higher priority traffic is never starved by lower.
func NewTrafficShaper(adapterName string, defaultBandwidth, burstSize int64, queueDepth int, dscpMapping map[string]uint8, metrics *telemetry.Metrics, logger *logrus.Logger) *TrafficShaper {
	ts := &TrafficShaper{
		buckets:          make(map[int]*TokenBucket),
		queues:           make(map[int]*PriorityQueue),
		defaultBandwidth: defaultBandwidth,
		burstSize:        burstSize,
		queueDepth:       queueDepth,
		adapterName:      adapterName,
		metrics:          metrics,
		logger:           logger,
		stats: &Stats{
			BytesProcessed:   make(map[int]uint64),
			PacketsProcessed: make(map[int]uint64),
			PacketsDropped:   make(map[int]uint64),
		},
	}

	for i := PriorityP0; i <= PriorityP3; i++ {
		weight := float64(4 - i)
		bandwidth := int64(float64(defaultBandwidth) * weight / 10.0)
		ts.buckets[i] = NewTokenBucket(bandwidth, burstSize)
		ts.queues[i] = NewPriorityQueue(queueDepth, i)
	}
	ts.dscpMarker = NewDSCPMarker(dscpMapping)

	logger.WithFields(logrus.Fields{
		"adapter":           adapterName,
		"default_bandwidth": defaultBandwidth,
		"burst_size":        burstSize,
		"queue_depth":       queueDepth,
	}).Info("qos traffic shaper initialized")

	return ts
}

// Shape admits pkt at the given priority: if the priority's bucket has
// capacity, it DSCP-marks pkt and returns (true, nil) so the caller can send
// it immediately; otherwise it enqueues pkt for ProcessQueues/Start to drain
// later and returns (false, nil), or reports pipeline.ErrDropped if that
// priority's queue is also full (the caller owns deallocating pkt in that
// case, exactly as any other Module.Process-returns-ErrDropped path does).
func (ts *TrafficShaper) Shape(pkt *pipeline.Packet, priority int) (bool, error) {
	ts.mu.Lock()
	defer ts.mu.Unlock()

	size := int64(pkt.Length())
	bucket := ts.buckets[priority]

	if !bucket.TryConsume(size) {
		queue := ts.queues[priority]
		if err := queue.Enqueue(pkt); err != nil {
			ts.recordDrop(priority, "queue_full")
			return false, pipeline.ErrDropped
		}
		return false, nil
	}

	if err := ts.dscpMarker.Mark(pkt, priority); err != nil {
		ts.logger.WithError(err).Warn("qos: DSCP mark failed")
	}
	ts.recordProcessed(priority, size)
	return true, nil
}

// ProcessQueues drains as many queued packets as current bandwidth allows,
// in strict priority order, returning a slice ready for immediate send.
func (ts *TrafficShaper) ProcessQueues() []*pipeline.Packet {
	ts.mu.Lock()
	defer ts.mu.Unlock()

	var ready []*pipeline.Packet
	for priority := PriorityP0; priority <= PriorityP3; priority++ {
		queue := ts.queues[priority]
		bucket := ts.buckets[priority]
		for {
			pkt := queue.Peek()
			if pkt == nil {
				break
			}
			size := int64(pkt.Length())
			if !bucket.TryConsume(size) {
				break
			}
			queue.Dequeue()
			if err := ts.dscpMarker.Mark(pkt, priority); err != nil {
				ts.logger.WithError(err).Warn("qos: DSCP mark failed")
			}
			ts.recordProcessed(priority, size)
			ready = append(ready, pkt)
		}
	}
	return ready
}

// UpdateBandwidth changes the refill rate for one priority's bucket.
func (ts *TrafficShaper) UpdateBandwidth(priority int, bandwidth int64) error {
	ts.mu.Lock()
	defer ts.mu.Unlock()

	bucket, ok := ts.buckets[priority]
	if !ok {
		return fmt.Errorf("qos: invalid priority %d", priority)
	}
	bucket.SetRate(bandwidth)
	ts.logger.WithFields(logrus.Fields{"priority": priority, "bandwidth": bandwidth}).Info("qos bandwidth updated")
	return nil
}

// GetStats returns a JSON-friendly snapshot of per-priority counters.
func (ts *TrafficShaper) GetStats() map[string]any {
	ts.stats.mu.RLock()
	defer ts.stats.mu.RUnlock()

	stats := make(map[string]any, 4)
	for priority := PriorityP0; priority <= PriorityP3; priority++ {
		name := fmt.Sprintf("P%d", priority)
		stats[name] = map[string]any{
			"bytes_processed":   ts.stats.BytesProcessed[priority],
			"packets_processed": ts.stats.PacketsProcessed[priority],
			"packets_dropped":   ts.stats.PacketsDropped[priority],
			"queue_depth":       ts.queues[priority].Depth(),
		}
	}
	return stats
}

func (ts *TrafficShaper) recordProcessed(priority int, size int64) {
	ts.stats.mu.Lock()
	ts.stats.BytesProcessed[priority] += uint64(size)
	ts.stats.PacketsProcessed[priority]++
	ts.stats.mu.Unlock()

	name := fmt.Sprintf("P%d", priority)
	if ts.metrics != nil {
		ts.metrics.QoSBytesProcessed.WithLabelValues(name).Add(float64(size))
		ts.metrics.QoSQueueDepth.WithLabelValues(name).Set(float64(ts.queues[priority].Depth()))
	}
}

func (ts *TrafficShaper) recordDrop(priority int, reason string) {
	ts.stats.mu.Lock()
	ts.stats.PacketsDropped[priority]++
	ts.stats.mu.Unlock()

	name := fmt.Sprintf("P%d", priority)
	if ts.metrics != nil {
		ts.metrics.QoSPacketsDropped.WithLabelValues(name, reason).Inc()
	}
}

// Start runs ProcessQueues on a fixed tick until ctx is cancelled, pushing
// drained packets to send via the supplied callback.
func (ts *TrafficShaper) Start(ctx context.Context, send func(*pipeline.Packet)) {
	go func() {
		ticker := time.NewTicker(10 * time.Millisecond)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				for _, pkt := range ts.ProcessQueues() {
					send(pkt)
				}
			}
		}
	}()
	ts.logger.WithField("adapter", ts.adapterName).Info("qos traffic shaper started")
}
