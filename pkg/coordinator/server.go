package coordinator

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/hivemesh/hive/pkg/catalog"
	"github.com/hivemesh/hive/pkg/log"
	"github.com/hivemesh/hive/pkg/metrics"
	"github.com/hivemesh/hive/pkg/registry"
	"github.com/hivemesh/hive/pkg/types"
)

// Config holds coordinator settings.
type Config struct {
	// ID identifies this coordinator to workers and the edge router.
	// Generated when empty.
	ID string

	// ListenAddr is the HTTP bind address (default ":9000").
	ListenAddr string

	// HeartbeatInterval is the interval workers are told to heartbeat
	// at (default 30s). The TTL purger runs on the same interval.
	HeartbeatInterval time.Duration

	// WorkerTTL overrides the default 5x heartbeat interval.
	WorkerTTL time.Duration

	// EdgeRouterURL, when set, makes the coordinator register itself
	// with the edge router and heartbeat once a minute.
	EdgeRouterURL string

	// TunnelURL is the public URL the edge router forwards through to
	// reach this coordinator. Falls back to the listen address.
	TunnelURL string

	// Location is an optional placement hint passed to the edge router.
	Location string

	// DHTPort, when non-zero, is advertised to the edge router as this
	// coordinator's peer-discovery port.
	DHTPort int

	// DHTSeeds are handed to registering workers.
	DHTSeeds []string

	// RateLimit is the per-client-IP request rate (0 disables limiting).
	RateLimit float64
	RateBurst int
}

func (c *Config) applyDefaults() {
	if c.ID == "" {
		c.ID = "coord-" + uuid.NewString()[:8]
	}
	if c.ListenAddr == "" {
		c.ListenAddr = ":9000"
	}
	if c.HeartbeatInterval <= 0 {
		c.HeartbeatInterval = 30 * time.Second
	}
	if c.RateLimit > 0 && c.RateBurst <= 0 {
		c.RateBurst = int(c.RateLimit * 2)
	}
}

// Server is the coordinator: worker registry, admin API, and the
// reverse proxy fronting every worker-hosted service.
type Server struct {
	cfg     Config
	cat     *catalog.Catalog
	reg     *registry.Registry
	proxy   *proxy
	mw      *middleware
	started time.Time
	logger  zerolog.Logger

	httpServer *http.Server
}

// NewServer creates a coordinator over the given catalog.
func NewServer(cfg Config, cat *catalog.Catalog) *Server {
	cfg.applyDefaults()

	reg := registry.New(cat, registry.Config{
		HeartbeatInterval: cfg.HeartbeatInterval,
		WorkerTTL:         cfg.WorkerTTL,
	})

	return &Server{
		cfg:     cfg,
		cat:     cat,
		reg:     reg,
		proxy:   newProxy(reg, cat),
		mw:      newMiddleware(cfg.RateLimit, cfg.RateBurst),
		started: time.Now(),
		logger:  log.WithComponent("coordinator"),
	}
}

// ID returns the coordinator's id.
func (s *Server) ID() string {
	return s.cfg.ID
}

// Registry exposes the worker registry for tests and embedding.
func (s *Server) Registry() *registry.Registry {
	return s.reg
}

// Handler returns the full HTTP handler, CORS and rate limiting applied.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /health", s.handleHealth)

	mux.HandleFunc("POST /api/worker/register", s.handleRegister)
	mux.HandleFunc("POST /api/worker/heartbeat", s.handleHeartbeat)
	mux.HandleFunc("POST /api/worker/deregister", s.handleDeregister)

	mux.HandleFunc("GET /api/admin/workers", s.handleAdminWorkers)
	mux.HandleFunc("GET /api/admin/services", s.handleAdminServices)
	mux.HandleFunc("GET /api/admin/gaps", s.handleAdminGaps)
	mux.HandleFunc("GET /api/admin/stats", s.handleAdminStats)

	mux.HandleFunc("GET /api/services/list", s.handleServicesList)
	mux.HandleFunc("GET /api/services/discover/{service}", s.handleDiscover)

	mux.HandleFunc("/service/{service}", s.handleProxy)
	mux.HandleFunc("/service/{service}/{rest...}", s.handleProxy)

	mux.Handle("GET /metrics", metrics.Handler())

	return s.mw.wrap(mux)
}

// Start runs the HTTP server and background loops until ctx is
// cancelled, then drains in-flight requests.
func (s *Server) Start(ctx context.Context) error {
	s.httpServer = &http.Server{
		Addr:        s.cfg.ListenAddr,
		Handler:     s.Handler(),
		IdleTimeout: 120 * time.Second,
	}

	ln, err := net.Listen("tcp", s.cfg.ListenAddr)
	if err != nil {
		return fmt.Errorf("listen on %s: %w", s.cfg.ListenAddr, err)
	}

	s.logger.Info().
		Str("coordinator_id", s.cfg.ID).
		Str("addr", s.cfg.ListenAddr).
		Dur("heartbeat_interval", s.cfg.HeartbeatInterval).
		Msg("coordinator listening")

	errCh := make(chan error, 1)
	go func() {
		if err := s.httpServer.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	go s.purgeLoop(ctx)
	if s.cfg.EdgeRouterURL != "" {
		go s.edgeLoop(ctx)
	}

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	s.logger.Info().Msg("shutting down coordinator")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return s.httpServer.Shutdown(shutdownCtx)
}

// purgeLoop evicts long-dead worker records and refreshes the
// registry gauges once per heartbeat interval.
func (s *Server) purgeLoop(ctx context.Context) {
	ticker := time.NewTicker(s.cfg.HeartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n := s.reg.PurgeStale(); n > 0 {
				s.logger.Info().Int("purged", n).Msg("purged dead workers")
			}
			s.updateGauges()
		}
	}
}

func (s *Server) updateGauges() {
	byTier := make(map[string]int)
	for _, w := range s.reg.ListWorkers() {
		byTier[string(w.Capabilities.WorkerType)]++
	}
	metrics.WorkersTotal.Reset()
	for tier, n := range byTier {
		metrics.WorkersTotal.WithLabelValues(tier).Set(float64(n))
	}
	metrics.ServiceWorkers.Reset()
	for _, svc := range s.cat.List() {
		metrics.ServiceWorkers.WithLabelValues(svc.Name).Set(float64(len(s.reg.FindByService(svc.Name))))
	}
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":              "healthy",
		"coordinator_id":      s.cfg.ID,
		"workers":             s.reg.Count(),
		"services_registered": len(s.reg.ServicesWithWorkers()),
		"uptime":              int(time.Since(s.started).Seconds()),
	})
}

func (s *Server) handleRegister(w http.ResponseWriter, r *http.Request) {
	var req types.RegisterRequest
	if err := decodeJSON(r, &req); err != nil {
		metrics.RegistrationsTotal.WithLabelValues("invalid").Inc()
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	worker, err := s.reg.Register(req)
	switch {
	case errors.Is(err, registry.ErrIDConflict):
		metrics.RegistrationsTotal.WithLabelValues("conflict").Inc()
		writeError(w, http.StatusConflict, fmt.Sprintf("worker id %q is in use by a live worker", req.WorkerID))
		return
	case err != nil:
		metrics.RegistrationsTotal.WithLabelValues("invalid").Inc()
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	metrics.RegistrationsTotal.WithLabelValues("ok").Inc()
	s.logger.Info().
		Str("worker_id", worker.ID).
		Str("worker_type", string(worker.Capabilities.WorkerType)).
		Strs("assigned_services", worker.AssignedServices).
		Msg("worker registered")

	writeJSON(w, http.StatusOK, types.RegisterResponse{
		WorkerID:          worker.ID,
		AssignedServices:  worker.AssignedServices,
		HeartbeatInterval: int(s.cfg.HeartbeatInterval.Seconds()),
		CoordinatorID:     s.cfg.ID,
		DHTSeeds:          s.cfg.DHTSeeds,
	})
}

// handleHeartbeat never answers 5xx. An unknown or stale id gets a
// structured re-register instruction instead of an error.
func (s *Server) handleHeartbeat(w http.ResponseWriter, r *http.Request) {
	var req types.HeartbeatRequest
	if err := decodeJSON(r, &req); err != nil {
		metrics.HeartbeatsTotal.WithLabelValues("invalid").Inc()
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	if err := s.reg.Heartbeat(req); err != nil {
		metrics.HeartbeatsTotal.WithLabelValues("unknown").Inc()
		writeJSON(w, http.StatusOK, types.HeartbeatResponse{OK: false, Action: "re-register"})
		return
	}

	metrics.HeartbeatsTotal.WithLabelValues("ok").Inc()
	writeJSON(w, http.StatusOK, types.HeartbeatResponse{OK: true})
}

func (s *Server) handleDeregister(w http.ResponseWriter, r *http.Request) {
	var req types.DeregisterRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if req.WorkerID == "" {
		writeError(w, http.StatusBadRequest, "worker_id is required")
		return
	}

	s.reg.Deregister(req.WorkerID)
	s.logger.Info().Str("worker_id", req.WorkerID).Msg("worker deregistered")
	writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
}

func (s *Server) handleAdminWorkers(w http.ResponseWriter, r *http.Request) {
	workers := s.reg.ListWorkers()
	writeJSON(w, http.StatusOK, map[string]any{
		"workers": workers,
		"count":   len(workers),
	})
}

func (s *Server) handleAdminServices(w http.ResponseWriter, r *http.Request) {
	out := make(map[string]any, len(s.cat.List()))
	for _, svc := range s.cat.List() {
		out[svc.Name] = map[string]any{
			"healthy_workers": len(s.reg.FindByService(svc.Name)),
			"tier":            int(svc.Tier),
			"priority":        svc.Priority,
			"requires":        string(svc.Requires),
		}
	}
	writeJSON(w, http.StatusOK, map[string]any{"services": out})
}

func (s *Server) handleAdminGaps(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"gaps": s.reg.Gaps()})
}

func (s *Server) handleAdminStats(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"coordinator_id": s.cfg.ID,
		"uptime":         int(time.Since(s.started).Seconds()),
		"workers":        s.reg.Count(),
		"proxy":          s.proxy.statsSnapshot(),
	})
}

func (s *Server) handleServicesList(w http.ResponseWriter, r *http.Request) {
	services := s.reg.ServicesWithWorkers()
	if services == nil {
		services = []string{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"services": services})
}

func (s *Server) handleDiscover(w http.ResponseWriter, r *http.Request) {
	service := r.PathValue("service")
	if !s.cat.Has(service) {
		writeError(w, http.StatusNotFound, fmt.Sprintf("unknown service %q", service))
		return
	}

	workers := s.reg.FindByService(service)
	if len(workers) == 0 {
		writeJSON(w, http.StatusServiceUnavailable, types.ErrorResponse{
			Error:             fmt.Sprintf("no healthy workers for %q", service),
			AvailableServices: s.reg.ServicesWithWorkers(),
		})
		return
	}

	// Recommend the least-loaded worker.
	recommended := workers[0]
	for _, cand := range workers[1:] {
		if cand.Load < recommended.Load {
			recommended = cand
		}
	}

	writeJSON(w, http.StatusOK, types.DiscoverResponse{
		Service:     service,
		Workers:     workers,
		Recommended: recommended.ID,
	})
}

func (s *Server) handleProxy(w http.ResponseWriter, r *http.Request) {
	s.proxy.handle(w, r, r.PathValue("service"), r.PathValue("rest"))
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, types.ErrorResponse{Error: msg})
}

// decodeJSON rejects unknown fields so capability typos surface as 400s
// instead of silently dropping data.
func decodeJSON(r *http.Request, out any) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(out); err != nil {
		return fmt.Errorf("invalid request body: %w", err)
	}
	return nil
}
