package telemetry

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds every Prometheus series the pipeline exposes: pool
// pressure, fan-out, worker state, and adapter burst counters, one
// field per series.
type Metrics struct {
	PacketsAllocated prometheus.Counter
	PacketsFreed     prometheus.Counter
	PoolExhausted    prometheus.Counter
	PoolLive         *prometheus.GaugeVec

	TasksPushed  prometheus.Counter
	TasksDropped prometheus.Counter
	WorkerErrors *prometheus.CounterVec

	AdapterSent     *prometheus.CounterVec
	AdapterReceived *prometheus.CounterVec
	AdapterFlushes  *prometheus.CounterVec

	QoSBytesProcessed *prometheus.CounterVec
	QoSPacketsDropped *prometheus.CounterVec
	QoSQueueDepth     *prometheus.GaugeVec

	NumaWorkers     prometheus.Gauge
	NumaNodesActive prometheus.Gauge
}

// NewMetrics registers and returns the process's Metrics under namespace.
func NewMetrics(namespace string) *Metrics {
	return &Metrics{
		PacketsAllocated: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Name: "packets_allocated_total", Help: "Total packets allocated from a PacketPool.",
		}),
		PacketsFreed: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Name: "packets_freed_total", Help: "Total packets returned to a PacketPool.",
		}),
		PoolExhausted: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Name: "pool_exhausted_total", Help: "Total PacketPool allocation attempts that found no free packets.",
		}),
		PoolLive: promauto.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace, Name: "pool_live_packets", Help: "Packets currently allocated (not yet freed) per pool.",
		}, []string{"pool"}),
		TasksPushed: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Name: "tasks_pushed_total", Help: "Total tasks pushed onto a worker's task stack.",
		}),
		TasksDropped: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Name: "tasks_dropped_total", Help: "Total packets dropped (ErrDropped) during processing.",
		}),
		WorkerErrors: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "worker_errors_total", Help: "Fatal worker errors by graph name.",
		}, []string{"graph"}),
		AdapterSent: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "adapter_packets_sent_total", Help: "Packets staged for transmit by NIC adapter.",
		}, []string{"adapter"}),
		AdapterReceived: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "adapter_packets_received_total", Help: "Packets received by NIC adapter.",
		}, []string{"adapter"}),
		AdapterFlushes: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "adapter_flushes_total", Help: "Total tx descriptor flushes by NIC adapter.",
		}, []string{"adapter"}),
		QoSBytesProcessed: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "qos_bytes_processed_total", Help: "Bytes processed by QoS shaping, per priority.",
		}, []string{"priority"}),
		QoSPacketsDropped: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "qos_packets_dropped_total", Help: "Packets dropped by QoS shaping, per priority/reason.",
		}, []string{"priority", "reason"}),
		QoSQueueDepth: promauto.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace, Name: "qos_queue_depth", Help: "Current QoS priority queue depth.",
		}, []string{"priority"}),
		NumaWorkers: promauto.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace, Name: "numa_workers", Help: "Number of workers launched across NUMA nodes.",
		}),
		NumaNodesActive: promauto.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace, Name: "numa_nodes_active", Help: "Number of NUMA nodes workers are spread across.",
		}),
	}
}
