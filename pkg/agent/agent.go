package agent

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/hivemesh/hive/pkg/catalog"
	"github.com/hivemesh/hive/pkg/client"
	"github.com/hivemesh/hive/pkg/dht"
	"github.com/hivemesh/hive/pkg/launcher"
	"github.com/hivemesh/hive/pkg/log"
	"github.com/hivemesh/hive/pkg/router"
	"github.com/hivemesh/hive/pkg/types"
)

// Sentinel errors mapped to CLI exit codes.
var (
	// ErrConfig marks a fatal configuration problem.
	ErrConfig = errors.New("configuration error")

	// ErrTunnel marks a permanently failed tunnel bring-up.
	ErrTunnel = errors.New("tunnel bring-up failed")

	// ErrRegistrationBudget marks registration failing past its budget
	// even after reseeding coordinators from the edge router.
	ErrRegistrationBudget = errors.New("registration budget exceeded")
)

// registrationBudget is how long registration may fail before the
// agent reseeds its coordinator list from the edge router.
const registrationBudget = 5 * time.Minute

// tunnelAttempts bounds tunnel bring-up retries before the failure is
// treated as permanent.
const tunnelAttempts = 3

// Config holds worker agent settings.
type Config struct {
	// CoordinatorURL is where the agent registers. An edge router URL
	// in practice; its catch-all proxy reaches a coordinator.
	CoordinatorURL string

	// WorkerID is the requested id. The coordinator's answer is
	// authoritative and may differ.
	WorkerID string

	// WorkerType is the declared tier, or "auto" to detect one.
	WorkerType types.WorkerType

	// ListenAddr is the agent's local HTTP bind address
	// (default ":7000").
	ListenAddr string

	// MeshIP is this host's overlay address, when joined to one.
	MeshIP string

	// TunnelMode is named, ephemeral, or none.
	TunnelMode TunnelMode

	// TunnelBinary is the tunnel client executable
	// (default "cloudflared").
	TunnelBinary string

	// TunnelName is the pre-provisioned tunnel for named mode.
	TunnelName string

	// TunnelURL is the public URL: required for none mode, the known
	// hostname for named mode.
	TunnelURL string

	// ServiceReadyTimeout bounds each launched service's readiness
	// poll (default 120s).
	ServiceReadyTimeout time.Duration
}

func (c *Config) applyDefaults() {
	if c.WorkerType == "" {
		c.WorkerType = types.WorkerTypeAuto
	}
	if c.ListenAddr == "" {
		c.ListenAddr = ":7000"
	}
	if c.TunnelMode == "" {
		c.TunnelMode = TunnelEphemeral
	}
	if c.TunnelBinary == "" {
		c.TunnelBinary = "cloudflared"
	}
}

// Agent is one worker: it detects its hardware, exposes itself through
// a tunnel, registers with a coordinator, launches its assigned
// services, and heartbeats until shut down.
type Agent struct {
	cfg      Config
	cat      *catalog.Catalog
	client   *client.Client
	launcher *launcher.Launcher
	router   *router.Router
	logger   zerolog.Logger
	started  time.Time

	mu                sync.Mutex
	workerID          string
	assigned          []string
	heartbeatInterval time.Duration
	tunnelURL         string
}

// New creates an agent. The runtime starts service containers; pass
// an ExecRuntime on hosts without containerd.
func New(cfg Config, cat *catalog.Catalog, rt launcher.Runtime) *Agent {
	cfg.applyDefaults()

	a := &Agent{
		cfg:     cfg,
		cat:     cat,
		client:  client.New(cfg.CoordinatorURL),
		logger:  log.WithComponent("agent"),
		started: time.Now(),
	}
	a.launcher = launcher.New(rt, cat, launcher.Config{ReadyTimeout: cfg.ServiceReadyTimeout})
	a.router = router.New(router.Config{
		CoordinatorURL: cfg.CoordinatorURL,
		Assigned:       a.AssignedServices,
	}, cat)
	return a
}

// WorkerID returns the coordinator-assigned id, empty before the first
// successful registration.
func (a *Agent) WorkerID() string {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.workerID
}

// AssignedServices returns the current assignment set.
func (a *Agent) AssignedServices() []string {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make([]string, len(a.assigned))
	copy(out, a.assigned)
	return out
}

// Run drives the agent's lifecycle until ctx is cancelled. Returned
// errors wrap ErrConfig, ErrTunnel, or ErrRegistrationBudget so the
// CLI can map them to exit codes.
func (a *Agent) Run(ctx context.Context) error {
	if a.cfg.CoordinatorURL == "" {
		return fmt.Errorf("%w: coordinator url is required", ErrConfig)
	}
	if !a.cfg.WorkerType.Valid() {
		return fmt.Errorf("%w: unrecognized worker_type %q", ErrConfig, a.cfg.WorkerType)
	}

	caps := detectCapabilities(a.cfg.WorkerType)
	a.logger.Info().
		Str("worker_type", string(caps.WorkerType)).
		Bool("has_gpu", caps.HasGPU).
		Int("cpu_cores", caps.CPUCores).
		Int("ram_gb", caps.RAMGB).
		Int("storage_gb", caps.StorageGB).
		Msg("capabilities detected")

	// The local HTTP surface must be up before the tunnel exposes it.
	ln, err := net.Listen("tcp", a.cfg.ListenAddr)
	if err != nil {
		return fmt.Errorf("%w: listen on %s: %v", ErrConfig, a.cfg.ListenAddr, err)
	}
	httpServer := &http.Server{Handler: a.Handler()}
	go func() { _ = httpServer.Serve(ln) }()
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = httpServer.Shutdown(shutdownCtx)
	}()

	tun, err := a.bringUpTunnel(ctx, listenerPort(ln))
	if err != nil {
		return err
	}
	defer tun.stop()
	a.mu.Lock()
	a.tunnelURL = tun.URL
	a.mu.Unlock()
	a.logger.Info().Str("tunnel_url", tun.URL).Msg("tunnel up")

	if err := a.register(ctx, caps); err != nil {
		return err
	}

	a.launcher.LaunchAll(ctx, a.AssignedServices())

	err = a.heartbeatLoop(ctx, caps)

	// Orderly exit: release the record and stop the services.
	deregCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if id := a.WorkerID(); id != "" {
		_ = a.client.Deregister(deregCtx, id)
	}
	a.launcher.StopAll(deregCtx)

	return err
}

// bringUpTunnel retries tunnel bring-up with backoff before declaring
// the failure permanent.
func (a *Agent) bringUpTunnel(ctx context.Context, localPort int) (*tunnel, error) {
	bo := newBackoff()
	var lastErr error
	for attempt := 0; attempt < tunnelAttempts; attempt++ {
		tun, err := startTunnel(ctx, a.cfg, localPort)
		if err == nil {
			return tun, nil
		}
		lastErr = err
		a.logger.Warn().Err(err).Int("attempt", attempt+1).Msg("tunnel bring-up failed")

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(bo.next()):
		}
	}
	return nil, fmt.Errorf("%w: %v", ErrTunnel, lastErr)
}

// register retries registration with backoff. Once the budget is
// exhausted it reseeds coordinators from the edge router and tries
// each directly; if all fail the budget error surfaces.
func (a *Agent) register(ctx context.Context, caps types.Capabilities) error {
	req := types.RegisterRequest{
		WorkerID:     a.cfg.WorkerID,
		TunnelURL:    a.tunnelURLSnapshot(),
		MeshIP:       a.cfg.MeshIP,
		Capabilities: caps,
	}
	// Keep the id across re-registrations within one run.
	if id := a.WorkerID(); id != "" {
		req.WorkerID = id
	}

	bo := newBackoff()
	deadline := time.Now().Add(registrationBudget)

	for time.Now().Before(deadline) {
		resp, err := a.client.Register(ctx, req)
		if err == nil {
			a.adopt(resp)
			return nil
		}
		a.logger.Warn().Err(err).Msg("registration failed")

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(bo.next()):
		}
	}

	a.logger.Warn().Msg("registration budget exhausted, reseeding from edge router")
	coordinators, err := a.client.ListCoordinators(ctx)
	if err != nil {
		return fmt.Errorf("%w: reseed failed: %v", ErrRegistrationBudget, err)
	}
	for _, coord := range coordinators {
		resp, err := client.New(coord.TunnelURL).Register(ctx, req)
		if err != nil {
			a.logger.Warn().Str("coordinator_id", coord.ID).Err(err).Msg("direct registration failed")
			continue
		}
		a.client = client.New(coord.TunnelURL)
		a.adopt(resp)
		return nil
	}
	return fmt.Errorf("%w: no coordinator accepted the registration", ErrRegistrationBudget)
}

// adopt takes the coordinator's answer as authoritative, including a
// rewritten worker id.
func (a *Agent) adopt(resp *types.RegisterResponse) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.workerID != "" && a.workerID != resp.WorkerID {
		a.logger.Info().
			Str("old", a.workerID).
			Str("new", resp.WorkerID).
			Msg("coordinator renamed this worker")
	}
	a.workerID = resp.WorkerID
	a.assigned = resp.AssignedServices
	a.heartbeatInterval = time.Duration(resp.HeartbeatInterval) * time.Second
	if a.heartbeatInterval <= 0 {
		a.heartbeatInterval = 30 * time.Second
	}

	a.logger.Info().
		Str("worker_id", resp.WorkerID).
		Str("coordinator_id", resp.CoordinatorID).
		Strs("assigned_services", resp.AssignedServices).
		Msg("registered")
}

// heartbeatLoop reports liveness every interval until ctx is
// cancelled. A rejected heartbeat triggers re-registration and a
// relaunch of whatever the new assignment adds or drops. Degraded
// services trigger one reassignment request per degraded set, so the
// coordinator can route the work elsewhere.
func (a *Agent) heartbeatLoop(ctx context.Context, caps types.Capabilities) error {
	ticker := time.NewTicker(a.interval())
	defer ticker.Stop()

	var lastDegraded string
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}

		stats := a.router.Stats()
		load := currentLoad()
		tasks := stats.LocalRequests + stats.ForwardedRequests
		degraded := a.launcher.Degraded()
		status := "healthy"
		if len(degraded) > 0 {
			status = "degraded"
		}

		resp, err := a.client.Heartbeat(ctx, types.HeartbeatRequest{
			WorkerID:       a.WorkerID(),
			Load:           &load,
			TasksCompleted: &tasks,
			Status:         status,
		})
		if err != nil {
			a.logger.Warn().Err(err).Msg("heartbeat failed")
			continue
		}

		if resp.OK {
			key := strings.Join(degraded, ",")
			if key == lastDegraded {
				continue
			}
			lastDegraded = key
			if key == "" {
				continue
			}
			a.logger.Warn().
				Strs("services", degraded).
				Msg("services degraded, requesting reassignment")
		} else {
			a.logger.Info().Msg("coordinator lost this worker, re-registering")
		}

		previous := a.AssignedServices()
		if err := a.register(ctx, caps); err != nil {
			return err
		}
		a.relaunch(ctx, previous, a.AssignedServices())
		ticker.Reset(a.interval())
	}
}

// relaunch reconciles the running services with a new assignment.
func (a *Agent) relaunch(ctx context.Context, previous, current []string) {
	prev := make(map[string]bool, len(previous))
	for _, s := range previous {
		prev[s] = true
	}
	cur := make(map[string]bool, len(current))
	for _, s := range current {
		cur[s] = true
	}

	var added []string
	for _, s := range current {
		if !prev[s] {
			added = append(added, s)
		}
	}
	for _, s := range previous {
		if !cur[s] {
			a.launcher.Stop(ctx, s)
		}
	}
	if len(added) > 0 {
		a.launcher.LaunchAll(ctx, added)
	}
}

func (a *Agent) interval() time.Duration {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.heartbeatInterval <= 0 {
		return 30 * time.Second
	}
	return a.heartbeatInterval
}

func (a *Agent) tunnelURLSnapshot() string {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.tunnelURL
}

// SeedSource returns a bootstrap seed client against the configured
// edge router, for wiring an optional discovery resolver.
func (a *Agent) SeedSource() *dht.SeedSource {
	return dht.NewSeedSource(a.cfg.CoordinatorURL)
}

func listenerPort(ln net.Listener) int {
	if addr, ok := ln.Addr().(*net.TCPAddr); ok {
		return addr.Port
	}
	_, portStr, err := net.SplitHostPort(ln.Addr().String())
	if err != nil {
		return 0
	}
	port, _ := strconv.Atoi(portStr)
	return port
}
