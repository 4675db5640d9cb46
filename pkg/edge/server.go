package edge

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/hivemesh/hive/pkg/log"
	"github.com/hivemesh/hive/pkg/metrics"
	"github.com/hivemesh/hive/pkg/storage"
	"github.com/hivemesh/hive/pkg/types"
)

// coordinatorHeartbeatInterval is what registering coordinators are
// told to heartbeat at.
const coordinatorHeartbeatInterval = time.Minute

// Config holds edge router settings.
type Config struct {
	// ListenAddr is the HTTP bind address (default ":8080").
	ListenAddr string

	// CoordinatorTTL is how long a coordinator stays live without a
	// heartbeat (default 300s).
	CoordinatorTTL time.Duration
}

func (c *Config) applyDefaults() {
	if c.ListenAddr == "" {
		c.ListenAddr = ":8080"
	}
	if c.CoordinatorTTL <= 0 {
		c.CoordinatorTTL = 300 * time.Second
	}
}

// Server is the persistent front door: it tracks coordinators with
// TTL-based liveness and forwards everything else to one of them.
//
// Coordinator records are the only durable state in the fabric. Worker
// heartbeats never reach this process.
type Server struct {
	cfg    Config
	store  storage.Store
	proxy  *proxy
	logger zerolog.Logger

	started time.Time
	now     func() time.Time

	httpServer *http.Server
}

// NewServer creates an edge router over a coordinator store.
func NewServer(cfg Config, store storage.Store) *Server {
	cfg.applyDefaults()
	s := &Server{
		cfg:     cfg,
		store:   store,
		logger:  log.WithComponent("edge"),
		started: time.Now(),
		now:     time.Now,
	}
	s.proxy = newProxy(s.liveCoordinators)
	return s
}

// Handler returns the full HTTP handler.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /health", s.handleHealth)
	mux.HandleFunc("POST /api/coordinator/register", s.handleRegister)
	mux.HandleFunc("POST /api/coordinator/heartbeat", s.handleHeartbeat)
	mux.HandleFunc("GET /api/coordinators", s.handleList)
	mux.HandleFunc("GET /api/dht/bootstrap", s.handleBootstrap)
	mux.Handle("GET /metrics", metrics.Handler())

	// Everything else forwards to a live coordinator.
	mux.HandleFunc("/", s.proxy.handle)

	return withCORS(mux)
}

// Start runs the HTTP server until ctx is cancelled.
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
		Str("addr", s.cfg.ListenAddr).
		Dur("coordinator_ttl", s.cfg.CoordinatorTTL).
		Msg("edge router listening")

	errCh := make(chan error, 1)
	go func() {
		if err := s.httpServer.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	s.logger.Info().Msg("shutting down edge router")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return s.httpServer.Shutdown(shutdownCtx)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":       "healthy",
		"coordinators": len(s.liveCoordinators()),
		"uptime":       int(time.Since(s.started).Seconds()),
	})
}

func (s *Server) handleRegister(w http.ResponseWriter, r *http.Request) {
	var req types.CoordinatorRegisterRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid request body: %v", err))
		return
	}
	if req.TunnelURL == "" {
		writeError(w, http.StatusBadRequest, "tunnel_url is required")
		return
	}

	now := s.now()
	id := req.CoordinatorID
	if id == "" {
		id = "coord-" + uuid.NewString()[:8]
	}

	record := &types.Coordinator{
		ID:            id,
		TunnelURL:     req.TunnelURL,
		Location:      req.Location,
		DHTPort:       req.DHTPort,
		RegisteredAt:  now,
		LastHeartbeat: now,
	}
	if prev, err := s.store.GetCoordinator(id); err == nil {
		record.RegisteredAt = prev.RegisteredAt
	}

	if err := s.store.PutCoordinator(record); err != nil {
		s.logger.Error().Err(err).Str("coordinator_id", id).Msg("store write failed")
		writeError(w, http.StatusInternalServerError, "storage failure")
		return
	}

	s.purgeDead()
	s.logger.Info().Str("coordinator_id", id).Str("tunnel_url", req.TunnelURL).Msg("coordinator registered")
	writeJSON(w, http.StatusOK, types.CoordinatorRegisterResponse{
		CoordinatorID:     id,
		HeartbeatInterval: int(coordinatorHeartbeatInterval.Seconds()),
	})
}

// handleHeartbeat refreshes a coordinator's TTL. Unknown or long-dead
// ids get a re-register instruction, never a 5xx.
func (s *Server) handleHeartbeat(w http.ResponseWriter, r *http.Request) {
	var req types.CoordinatorHeartbeatRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid request body: %v", err))
		return
	}

	record, err := s.store.GetCoordinator(req.CoordinatorID)
	if err != nil {
		writeJSON(w, http.StatusOK, types.HeartbeatResponse{OK: false, Action: "re-register"})
		return
	}

	record.LastHeartbeat = s.now()
	if err := s.store.PutCoordinator(record); err != nil {
		s.logger.Error().Err(err).Str("coordinator_id", req.CoordinatorID).Msg("store write failed")
		writeJSON(w, http.StatusOK, types.HeartbeatResponse{OK: false, Action: "re-register"})
		return
	}
	writeJSON(w, http.StatusOK, types.HeartbeatResponse{OK: true})
}

func (s *Server) handleList(w http.ResponseWriter, r *http.Request) {
	live := s.liveCoordinators()
	metrics.CoordinatorsLive.Set(float64(len(live)))
	writeJSON(w, http.StatusOK, map[string]any{
		"coordinators": live,
		"count":        len(live),
	})
}

// handleBootstrap returns peer-discovery seeds derived from live
// coordinators that advertise a discovery port.
func (s *Server) handleBootstrap(w http.ResponseWriter, r *http.Request) {
	seeds := []string{}
	for _, c := range s.liveCoordinators() {
		if c.DHTPort == 0 {
			continue
		}
		if u, err := url.Parse(c.TunnelURL); err == nil && u.Hostname() != "" {
			seeds = append(seeds, fmt.Sprintf("%s:%d", u.Hostname(), c.DHTPort))
		}
	}
	writeJSON(w, http.StatusOK, types.BootstrapResponse{Seeds: seeds, TTL: 300})
}

// liveCoordinators reads the store and filters out stale records.
func (s *Server) liveCoordinators() []*types.Coordinator {
	all, err := s.store.ListCoordinators()
	if err != nil {
		s.logger.Error().Err(err).Msg("store read failed")
		return nil
	}

	now := s.now()
	live := make([]*types.Coordinator, 0, len(all))
	for _, c := range all {
		if !c.Stale(now, s.cfg.CoordinatorTTL) {
			live = append(live, c)
		}
	}
	return live
}

// purgeDead lazily deletes records dead for over twice the TTL.
// Runs on registration, the lowest-rate write path.
func (s *Server) purgeDead() {
	all, err := s.store.ListCoordinators()
	if err != nil {
		return
	}
	now := s.now()
	for _, c := range all {
		if now.Sub(c.LastHeartbeat) > 2*s.cfg.CoordinatorTTL {
			if err := s.store.DeleteCoordinator(c.ID); err == nil {
				s.logger.Info().Str("coordinator_id", c.ID).Msg("purged dead coordinator")
			}
		}
	}
}

func withCORS(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		h := w.Header()
		h.Set("Access-Control-Allow-Origin", "*")
		h.Set("Access-Control-Allow-Methods", "GET, POST, PUT, PATCH, DELETE, OPTIONS")
		h.Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, types.ErrorResponse{Error: msg})
}
