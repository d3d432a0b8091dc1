// Package engine wires every collaborator together: it loads a stack's
// configuration, builds one Graph replica per configured CPU, boots the
// Thread-ID Service, initializes NIC adapters, and drives the per-CPU
// Worker goroutines to completion, following the usual config-load ->
// telemetry -> server -> signal-handler -> graceful-shutdown bootstrap
// sequence.
package engine

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"

	"github.com/Aubrey-Liu/omnistack/internal/config"
	"github.com/Aubrey-Liu/omnistack/internal/driver/afxdp"
	"github.com/Aubrey-Liu/omnistack/internal/driver/soft"
	"github.com/Aubrey-Liu/omnistack/internal/driver/xdp"
	"github.com/Aubrey-Liu/omnistack/internal/modules"
	"github.com/Aubrey-Liu/omnistack/internal/numa"
	"github.com/Aubrey-Liu/omnistack/internal/pipeline"
	"github.com/Aubrey-Liu/omnistack/internal/policy"
	"github.com/Aubrey-Liu/omnistack/internal/qos"
	"github.com/Aubrey-Liu/omnistack/internal/telemetry"
	"github.com/Aubrey-Liu/omnistack/internal/threadid"
)

// qosCapable is implemented by every pipeline.Adapter this engine can build;
// soft.Adapter and the xdp/afxdp wrappers delegating to it all satisfy it, so
// a single type assertion in buildAdapter covers every adapter kind.
type qosCapable interface {
	SetQoS(*qos.TrafficShaper)
	SetMetrics(*telemetry.Metrics)
}

// Engine owns one stack's full runtime: its graphs, workers, adapters, and
// the ambient services (NUMA, telemetry, policy, thread-id) they share.
type Engine struct {
	stackName  string
	configDir  string
	settings   *config.Settings
	logger     *logrus.Logger
	metrics    *telemetry.Metrics
	tracer     *telemetry.Tracer
	audit      *telemetry.AuditLogger
	numaMgr    *numa.Manager
	tidService *threadid.Service
	// checker is a pipeline.PolicyChecker, not *policy.Checker: kept as the
	// interface type so leaving policy disabled holds a genuine nil rather
	// than a non-nil interface wrapping a nil *policy.Checker, which would
	// make Builder's "if b.policy != nil" check true when it shouldn't be.
	checker pipeline.PolicyChecker

	workers []*pipeline.Worker
	graphs  []*pipeline.Graph

	startTime time.Time
	shapers   map[string]*qos.TrafficShaper
}

// New constructs an Engine for stackName, reading configuration from
// configDir and ambient settings from settingsPath.
func New(stackName, configDir, settingsPath string) (*Engine, error) {
	settings, err := config.LoadSettings(settingsPath)
	if err != nil {
		return nil, fmt.Errorf("engine: loading settings: %w", err)
	}

	logger := telemetry.NewLogger(settings.LoggingLevel)
	metrics := telemetry.NewMetrics(settings.MetricsNamespace)
	pipeline.SetMetrics(metrics)

	e := &Engine{
		stackName: stackName,
		configDir: configDir,
		settings:  settings,
		logger:    logger,
		metrics:   metrics,
		numaMgr:   numa.NewManager(logger),
		shapers:   make(map[string]*qos.TrafficShaper),
		startTime: time.Now(),
	}
	return e, nil
}

// Run performs the full bootstrap sequence and blocks until every worker
// has exited. A worker that returns an error stops alone; Run keeps waiting
// for the others and then returns the first such error.
func (e *Engine) Run(ctx context.Context) error {
	if err := e.numaMgr.Initialize(); err != nil {
		return fmt.Errorf("engine: numa init: %w", err)
	}

	if e.settings.EnableTracing {
		tracer, err := telemetry.NewTracer(e.stackName, e.settings.JaegerEndpoint, e.settings.TraceSampleRate, e.logger)
		if err != nil {
			e.logger.WithError(err).Warn("tracing disabled: exporter dial failed")
		} else {
			e.tracer = tracer
		}
	}

	e.startMetricsServer()

	audit, err := telemetry.NewAuditLogger(e.settings.ControlSocketPath+".audit", e.logger)
	if err != nil {
		return fmt.Errorf("engine: audit log: %w", err)
	}
	e.audit = audit

	if e.settings.PolicyBundlePath != "" {
		bundle, err := os.ReadFile(e.settings.PolicyBundlePath)
		if err != nil {
			return fmt.Errorf("engine: reading policy bundle: %w", err)
		}
		checker, err := policy.NewChecker(e.stackName, string(bundle), e.logger)
		if err != nil {
			return fmt.Errorf("engine: compiling policy: %w", err)
		}
		e.checker = checker
	}

	src, err := config.Load(e.configDir, e.logger)
	if err != nil {
		return fmt.Errorf("engine: loading graph/stack configs: %w", err)
	}
	stackCfg, err := src.Stack(e.stackName)
	if err != nil {
		return err
	}

	e.tidService = threadid.NewService(e.settings.ControlSocketPath, e.logger)
	if err := e.tidService.Start(); err != nil {
		return fmt.Errorf("engine: starting thread-id service: %w", err)
	}
	defer e.tidService.Stop()

	if err := e.configureNicsAndRoutes(ctx, stackCfg); err != nil {
		return err
	}

	registry := pipeline.Global()
	builder := pipeline.NewBuilder(registry, e.checker)

	var workStealingGroups [][]*pipeline.Worker

	for _, entry := range stackCfg.Graphs {
		graphCfg, err := src.Graph(entry.Name)
		if err != nil {
			return err
		}
		spec := pipeline.GraphSpec{Name: graphCfg.Name, Modules: graphCfg.Modules, Links: graphCfg.Links}

		graphs, err := builder.BuildReplicas(spec, len(e.graphs), entry.CPUs)
		if err != nil {
			return fmt.Errorf("engine: building graph %q: %w", entry.Name, err)
		}
		e.graphs = append(e.graphs, graphs...)

		group := make([]*pipeline.Worker, 0, len(graphs))
		for _, g := range graphs {
			socket := e.numaMgr.SocketFor(g.CPU)
			threadID, err := e.tidService.EnterLocal()
			if err != nil {
				return fmt.Errorf("engine: thread-id exhausted: %w", err)
			}
			pool, err := pipeline.GetOrCreatePacketPool(socket, e.settings.PacketPoolCapacity, threadID)
			if err != nil {
				return fmt.Errorf("engine: creating packet pool: %w", err)
			}
			w := pipeline.NewWorker(len(e.workers), g, pool, threadID, e.stackName, e.logger)
			e.workers = append(e.workers, w)
			group = append(group, w)
		}
		workStealingGroups = append(workStealingGroups, group)
	}

	if e.settings.EnableWorkStealing {
		e.wireWorkStealing(workStealingGroups)
	}

	e.metrics.NumaWorkers.Set(float64(len(e.workers)))
	if e.numaMgr.IsEnabled() {
		if topo := e.numaMgr.Topology(); topo != nil {
			e.metrics.NumaNodesActive.Set(float64(topo.NodeCount))
		}
	} else {
		e.metrics.NumaNodesActive.Set(1)
	}

	e.logEvent("engine_start", "", -1, fmt.Sprintf("%d workers across %d graphs", len(e.workers), len(e.graphs)))

	e.installSignalHandler()

	return e.runWorkers(ctx)
}

// wireWorkStealing groups workers by graph-shape compatibility within each
// named graph's replica set, honoring the SameShape precondition.
func (e *Engine) wireWorkStealing(groups [][]*pipeline.Worker) {
	for _, group := range groups {
		if len(group) < 2 {
			continue
		}
		for i, w := range group {
			peers := make([]*pipeline.Worker, 0, len(group)-1)
			for j, peer := range group {
				if i == j {
					continue
				}
				if !pipeline.SameShape(w.Graph, peer.Graph) {
					continue
				}
				peers = append(peers, peer)
			}
			w.SetPeers(peers)
		}
	}
}

// configureNicsAndRoutes installs the process-wide nic/route/endpoint/
// adapter tables the "illustrative modules" package's no-arg registry
// factories close over, and starts every configured NIC adapter.
func (e *Engine) configureNicsAndRoutes(ctx context.Context, stackCfg config.StackConfig) error {
	nics := make(map[int]modules.NicInfo, len(stackCfg.Nics))
	for i, n := range stackCfg.Nics {
		adapter, err := e.buildAdapter(n)
		if err != nil {
			return err
		}
		threadID, err := e.tidService.EnterLocal()
		if err != nil {
			return fmt.Errorf("engine: thread-id for nic init: %w", err)
		}
		pctx := &pipeline.Context{Ctx: ctx, ThreadID: threadID}
		mac, err := adapter.Init(pctx, i, n.Port, 1, 0)
		if err != nil {
			return fmt.Errorf("engine: initializing nic %d: %w", i, err)
		}
		if err := adapter.Start(); err != nil {
			return fmt.Errorf("engine: starting nic %d: %w", i, err)
		}

		nics[i] = modules.NicInfo{IPv4: parseIP(n.IPv4), MAC: mac, Adapter: n.AdapterName}
		modules.SetAdapter(adapter)
	}
	modules.SetNics(modules.NewNicTable(nics))

	routes := make([]modules.Route, 0, len(stackCfg.Routes))
	for _, r := range stackCfg.Routes {
		routes = append(routes, modules.Route{Network: parseIP(r.IPv4), CIDR: r.CIDR, Nic: r.Nic})
	}
	modules.SetRoutes(modules.NewRouteTable(routes))

	modules.SetEndpoint(modules.Endpoint{
		MAC:  parseMAC(stackCfg.Endpoint.MAC),
		IP:   parseIP(stackCfg.Endpoint.IPv4),
		Port: stackCfg.Endpoint.Port,
	})

	return nil
}

func (e *Engine) buildAdapter(n config.NicConfig) (pipeline.Adapter, error) {
	name := fmt.Sprintf("nic%d", n.Port)

	var adapter pipeline.Adapter
	switch n.AdapterName {
	case "xdp":
		adapter = xdp.NewAdapter(e.settings.XDPDevice, e.logger)
	case "afxdp":
		adapter = afxdp.NewAdapter(e.settings.XDPDevice, n.Port, e.logger)
	case "soft", "":
		adapter = soft.NewAdapter(name, e.logger)
	default:
		return nil, fmt.Errorf("engine: unknown adapter %q", n.AdapterName)
	}

	capable, ok := adapter.(qosCapable)
	if !ok {
		return adapter, nil
	}
	capable.SetMetrics(e.metrics)
	if e.settings.EnableQoS {
		shaper := qos.NewTrafficShaper(name, e.settings.DefaultBandwidth, e.settings.BurstSize,
			e.settings.PriorityQueueDepth, e.settings.DSCPMarking, e.metrics, e.logger)
		capable.SetQoS(shaper)
		e.shapers[name] = shaper
	}
	return adapter, nil
}

// installSignalHandler flips pipeline.StopFlag on SIGINT/SIGTERM, the
// single external input every Worker polls once per outer-loop iteration.
func (e *Engine) installSignalHandler() {
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		e.logger.WithField("signal", sig.String()).Info("shutdown signal received")
		e.logEvent("shutdown_signal", "", -1, sig.String())
		pipeline.StopFlag.Store(true)
	}()
}

// runWorkers launches one goroutine per Worker, pins it to its graph's CPU
// via the NUMA manager, and waits for every worker to return.
func (e *Engine) runWorkers(ctx context.Context) error {
	var wg sync.WaitGroup
	errs := make(chan error, len(e.workers))

	for _, w := range e.workers {
		wg.Add(1)
		go func(w *pipeline.Worker) {
			defer wg.Done()
			if err := e.numaMgr.BindWorker(w.CPU); err != nil {
				e.logger.WithError(err).Warn("failed to pin worker to cpu")
			}
			e.logEvent("worker_start", w.Graph.Name, w.CPU, "")
			if err := w.Run(ctx); err != nil {
				e.logEvent("worker_error", w.Graph.Name, w.CPU, err.Error())
				errs <- fmt.Errorf("worker %d (graph %q, cpu %d): %w", w.ID, w.Graph.Name, w.CPU, err)
				return
			}
			e.logEvent("worker_stop", w.Graph.Name, w.CPU, "")
		}(w)
	}

	wg.Wait()
	close(errs)

	for err := range errs {
		return err
	}
	return nil
}

func (e *Engine) logEvent(eventType, graph string, cpu int, detail string) {
	if e.audit == nil {
		return
	}
	_ = e.audit.LogEvent(&telemetry.AuditEvent{
		EventType: eventType,
		Stack:     e.stackName,
		Graph:     graph,
		CPU:       cpu,
		Detail:    detail,
	})
}

func parseIP(s string) net.IP {
	return net.ParseIP(s)
}

func parseMAC(s string) pipeline.MacAddr {
	var mac pipeline.MacAddr
	hw, err := net.ParseMAC(s)
	if err != nil || len(hw) != 6 {
		return mac
	}
	copy(mac[:], hw)
	return mac
}

// startMetricsServer exposes the process's Prometheus series, a liveness
// probe, and a JSON status snapshot on a background HTTP listener. A bind
// failure is logged, not fatal — packet processing must not depend on a
// diagnostics endpoint being reachable.
func (e *Engine) startMetricsServer() {
	if e.settings.MetricsAddr == "" {
		return
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/healthz", e.handleHealthz)
	mux.HandleFunc("/status", e.handleStatus)
	go func() {
		if err := http.ListenAndServe(e.settings.MetricsAddr, mux); err != nil {
			e.logger.WithError(err).Warn("metrics server stopped")
		}
	}()
	e.logger.WithField("addr", e.settings.MetricsAddr).Info("metrics server listening")
}

// handleHealthz reports process liveness only: it never touches worker or
// NIC state, so it stays reachable even if a graph has stalled.
func (e *Engine) handleHealthz(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

// handleStatus reports a JSON snapshot of runtime state: uptime, NUMA
// topology, and per-NIC QoS counters, mirroring what an operator would poll
// a running stack for.
func (e *Engine) handleStatus(w http.ResponseWriter, r *http.Request) {
	qosStats := make(map[string]any, len(e.shapers))
	for name, shaper := range e.shapers {
		qosStats[name] = shaper.GetStats()
	}

	status := map[string]any{
		"stack":       e.stackName,
		"uptime_sec":  time.Since(e.startTime).Seconds(),
		"workers":     len(e.workers),
		"graphs":      len(e.graphs),
		"qos_enabled": e.settings.EnableQoS,
		"numa_stats":  e.numaMgr.Stats(),
		"qos_stats":   qosStats,
	}

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(status); err != nil {
		e.logger.WithError(err).Warn("status handler: encoding response")
	}
}
