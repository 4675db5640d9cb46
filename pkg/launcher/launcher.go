package launcher

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/hivemesh/hive/pkg/catalog"
	"github.com/hivemesh/hive/pkg/health"
	"github.com/hivemesh/hive/pkg/log"
	"github.com/hivemesh/hive/pkg/types"
)

// DefaultReadyTimeout bounds how long a launched service may take to
// answer its local health check.
const DefaultReadyTimeout = 120 * time.Second

// stopTimeout is the grace period before a container is force-killed.
const stopTimeout = 10 * time.Second

// Config holds launcher settings.
type Config struct {
	// ReadyTimeout overrides the 120s per-service readiness deadline.
	ReadyTimeout time.Duration

	// LocalHost is where launched services answer health checks
	// (default "127.0.0.1").
	LocalHost string
}

// Launcher brings assigned services up on the worker host and tracks
// their states. Services that fail to become ready are marked degraded
// and surface on the next heartbeat.
type Launcher struct {
	cfg    Config
	rt     Runtime
	cat    *catalog.Catalog
	logger zerolog.Logger

	mu     sync.Mutex
	states map[string]types.ServiceState
}

// New creates a launcher over a runtime and catalog.
func New(rt Runtime, cat *catalog.Catalog, cfg Config) *Launcher {
	if cfg.ReadyTimeout <= 0 {
		cfg.ReadyTimeout = DefaultReadyTimeout
	}
	if cfg.LocalHost == "" {
		cfg.LocalHost = "127.0.0.1"
	}
	return &Launcher{
		cfg:    cfg,
		rt:     rt,
		cat:    cat,
		logger: log.WithComponent("launcher"),
		states: make(map[string]types.ServiceState),
	}
}

// ContainerID returns the container id used for a service.
func ContainerID(service string) string {
	return "hive-" + service
}

// LaunchAll starts every named service concurrently and waits for all
// of them to become ready or degraded.
func (l *Launcher) LaunchAll(ctx context.Context, services []string) {
	var wg sync.WaitGroup
	for _, service := range services {
		wg.Add(1)
		go func(service string) {
			defer wg.Done()
			l.Launch(ctx, service)
		}(service)
	}
	wg.Wait()
}

// Launch starts one service and polls its local health endpoint until
// ready or the deadline expires.
func (l *Launcher) Launch(ctx context.Context, service string) {
	logger := l.logger.With().Str("service", service).Logger()

	svc, err := l.cat.Get(service)
	if err != nil {
		logger.Error().Err(err).Msg("assigned service not in catalog")
		l.setState(service, types.ServiceStateDegraded)
		return
	}

	l.setState(service, types.ServiceStateStarting)

	id := ContainerID(service)
	env := []string{
		fmt.Sprintf("PORT=%d", svc.Port),
		fmt.Sprintf("SERVICE_NAME=%s", service),
	}

	if err := l.rt.Pull(ctx, svc.Image); err != nil {
		logger.Error().Err(err).Msg("image pull failed")
		l.setState(service, types.ServiceStateDegraded)
		return
	}
	if err := l.rt.Start(ctx, id, svc.Image, env); err != nil {
		logger.Error().Err(err).Msg("container start failed")
		l.setState(service, types.ServiceStateDegraded)
		return
	}

	readyCtx, cancel := context.WithTimeout(ctx, l.cfg.ReadyTimeout)
	defer cancel()

	checker := health.NewHTTPChecker(fmt.Sprintf("http://%s:%d/health", l.cfg.LocalHost, svc.Port))
	if err := health.WaitReady(readyCtx, checker, 2*time.Second); err != nil {
		logger.Warn().Err(err).Msg("service did not become ready")
		l.setState(service, types.ServiceStateDegraded)
		return
	}

	logger.Info().Int("port", svc.Port).Msg("service ready")
	l.setState(service, types.ServiceStateReady)
}

// Stop stops one service.
func (l *Launcher) Stop(ctx context.Context, service string) {
	if err := l.rt.Stop(ctx, ContainerID(service), stopTimeout); err != nil {
		l.logger.Warn().Str("service", service).Err(err).Msg("stop failed")
	}
	l.setState(service, types.ServiceStateStopped)
}

// StopAll stops every launched service.
func (l *Launcher) StopAll(ctx context.Context) {
	l.mu.Lock()
	services := make([]string, 0, len(l.states))
	for service := range l.states {
		services = append(services, service)
	}
	l.mu.Unlock()

	for _, service := range services {
		if err := l.rt.Stop(ctx, ContainerID(service), stopTimeout); err != nil {
			l.logger.Warn().Str("service", service).Err(err).Msg("stop failed")
		}
		l.setState(service, types.ServiceStateStopped)
	}
}

// States returns a copy of the per-service launch states.
func (l *Launcher) States() map[string]types.ServiceState {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make(map[string]types.ServiceState, len(l.states))
	for k, v := range l.states {
		out[k] = v
	}
	return out
}

// Degraded returns the services that failed to come up.
func (l *Launcher) Degraded() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	var out []string
	for service, state := range l.states {
		if state == types.ServiceStateDegraded {
			out = append(out, service)
		}
	}
	return out
}

// Healthy reports whether no launched service is degraded.
func (l *Launcher) Healthy() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	for _, state := range l.states {
		if state == types.ServiceStateDegraded {
			return false
		}
	}
	return true
}

func (l *Launcher) setState(service string, state types.ServiceState) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.states[service] = state
}
