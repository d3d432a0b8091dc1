package config

import (
	"fmt"
	"time"

	"github.com/spf13/viper"
)

// Settings holds the ambient runtime toggles that sit outside the
// Graph/Stack JSON contract: logging level, NUMA/QoS/acceleration/tracing
// feature flags.
type Settings struct {
	LoggingLevel string `mapstructure:"logging_level"`

	EnableNUMA         bool `mapstructure:"enable_numa"`
	WorkerThreads      int  `mapstructure:"worker_threads"`
	EnableWorkStealing bool `mapstructure:"enable_work_stealing"`
	PacketPoolCapacity int  `mapstructure:"packet_pool_capacity"`

	EnableQoS          bool             `mapstructure:"enable_qos"`
	DefaultBandwidth   int64            `mapstructure:"default_bandwidth"`
	BurstSize          int64            `mapstructure:"burst_size"`
	PriorityQueueDepth int              `mapstructure:"priority_queue_depth"`
	DSCPMarking        map[string]uint8 `mapstructure:"dscp_marking"`

	EnableTracing    bool    `mapstructure:"enable_tracing"`
	JaegerEndpoint   string  `mapstructure:"jaeger_endpoint"`
	TraceSampleRate  float64 `mapstructure:"trace_sample_rate"`
	MetricsNamespace string  `mapstructure:"metrics_namespace"`
	MetricsAddr      string  `mapstructure:"metrics_addr"`

	EnableAcceleration bool   `mapstructure:"enable_acceleration"`
	AccelerationMode   string `mapstructure:"acceleration_mode"`
	XDPDevice          string `mapstructure:"xdp_device"`
	AFXDPQueueCount    int    `mapstructure:"afxdp_queue_count"`

	ControlSocketPath string `mapstructure:"control_socket_path"`

	PolicyBundlePath string        `mapstructure:"policy_bundle_path"`
	PolicyTimeout    time.Duration `mapstructure:"policy_timeout"`
}

// LoadSettings loads ambient settings from an optional file plus
// environment variables (OMNISTACK_* prefix), falling back to the defaults
// a single-box deployment needs to "just work".
func LoadSettings(path string) (*Settings, error) {
	v := viper.New()

	v.SetDefault("logging_level", "info")
	v.SetDefault("enable_numa", false)
	v.SetDefault("worker_threads", 0) // 0 = one worker per configured CPU
	v.SetDefault("enable_work_stealing", false)
	v.SetDefault("packet_pool_capacity", 8192)
	v.SetDefault("enable_qos", false)
	v.SetDefault("default_bandwidth", int64(1_000_000_000)) // 1 Gbps
	v.SetDefault("burst_size", int64(100_000_000))          // 100 MB
	v.SetDefault("priority_queue_depth", 1000)
	v.SetDefault("dscp_marking", map[string]uint8{
		"P0": 46, // EF
		"P1": 34, // AF41
		"P2": 18, // AF21
		"P3": 0,  // BE
	})
	v.SetDefault("enable_tracing", false)
	v.SetDefault("trace_sample_rate", 0.1)
	v.SetDefault("metrics_namespace", "omnistack")
	v.SetDefault("metrics_addr", ":9090")
	v.SetDefault("enable_acceleration", false)
	v.SetDefault("acceleration_mode", "standard")
	v.SetDefault("afxdp_queue_count", 4)
	v.SetDefault("control_socket_path", "/var/run/omnistack.sock")
	v.SetDefault("policy_timeout", 2*time.Second)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("reading settings file: %w", err)
		}
	}

	v.AutomaticEnv()
	v.SetEnvPrefix("OMNISTACK")

	var s Settings
	if err := v.Unmarshal(&s); err != nil {
		return nil, fmt.Errorf("unmarshaling settings: %w", err)
	}
	return &s, nil
}
