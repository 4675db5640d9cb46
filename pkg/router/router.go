package router

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"github.com/hivemesh/hive/pkg/catalog"
	"github.com/hivemesh/hive/pkg/client"
	"github.com/hivemesh/hive/pkg/dht"
	"github.com/hivemesh/hive/pkg/log"
	"github.com/hivemesh/hive/pkg/metrics"
	"github.com/hivemesh/hive/pkg/types"
)

// defaultCacheTTL bounds how long a cached peer is trusted without
// re-discovery.
const defaultCacheTTL = 60 * time.Second

// forwardBodyLimit is the largest request body held for replay across
// the cache/dht/http fallback chain.
const forwardBodyLimit = 4 << 20

// ErrNoWorkers signals that discovery found no live worker for a
// service anywhere on the fabric.
var ErrNoWorkers = errors.New("no workers available")

// Config holds router settings.
type Config struct {
	// CoordinatorURL is the discovery endpoint (edge router URL in
	// practice).
	CoordinatorURL string

	// Assigned reports the services running locally. Consulted per
	// request so reassignment takes effect without a restart.
	Assigned func() []string

	// LocalHost is where local service containers listen
	// (default "127.0.0.1").
	LocalHost string

	// Resolver is the optional peer-discovery accelerator.
	Resolver dht.Resolver

	// CacheTTL overrides the 60s finger-cache TTL.
	CacheTTL time.Duration
}

// Router dispatches service requests: locally when the service runs on
// this worker, otherwise to a peer found through the finger cache, the
// optional resolver, or coordinator HTTP discovery.
type Router struct {
	cfg       Config
	cat       *catalog.Catalog
	discover  *client.Client
	transport http.RoundTripper
	logger    zerolog.Logger

	mu    sync.Mutex
	cache map[string]*cacheEntry
	now   func() time.Time

	localRequests     atomic.Int64
	forwardedRequests atomic.Int64
	cacheHits         atomic.Int64
	cacheMisses       atomic.Int64
	dhtLookups        atomic.Int64
	httpLookups       atomic.Int64
	failedRequests    atomic.Int64
}

type cacheEntry struct {
	worker   *types.Worker
	cachedAt time.Time
}

// New creates a router over the given catalog.
func New(cfg Config, cat *catalog.Catalog) *Router {
	if cfg.LocalHost == "" {
		cfg.LocalHost = "127.0.0.1"
	}
	if cfg.CacheTTL <= 0 {
		cfg.CacheTTL = defaultCacheTTL
	}
	if cfg.Assigned == nil {
		cfg.Assigned = func() []string { return nil }
	}
	return &Router{
		cfg:       cfg,
		cat:       cat,
		discover:  client.New(cfg.CoordinatorURL),
		transport: http.DefaultTransport,
		logger:    log.WithComponent("router"),
		cache:     make(map[string]*cacheEntry),
		now:       time.Now,
	}
}

// Handle dispatches one request for a service.
func (rt *Router) Handle(w http.ResponseWriter, r *http.Request, service string) {
	if !rt.cat.Has(service) {
		writeError(w, http.StatusNotFound, fmt.Sprintf("unknown service %q", service))
		return
	}

	body, err := io.ReadAll(io.LimitReader(r.Body, forwardBodyLimit+1))
	if err != nil {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("reading request body: %v", err))
		return
	}
	if len(body) > forwardBodyLimit {
		writeError(w, http.StatusRequestEntityTooLarge, "request body too large")
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), rt.cat.ProxyTimeout(service))
	defer cancel()

	// Local short-circuit.
	if rt.runsLocally(service) {
		rt.localRequests.Add(1)
		metrics.RouterDispatchTotal.WithLabelValues("local").Inc()
		rt.forwardLocal(ctx, w, r, service, body)
		return
	}

	// Finger cache.
	if peer := rt.cachedPeer(service); peer != nil {
		rt.cacheHits.Add(1)
		if rt.forwardPeer(ctx, w, r, service, peer, body) {
			metrics.RouterDispatchTotal.WithLabelValues("cache").Inc()
			return
		}
		// Peer gone; drop the entry and re-discover.
		rt.invalidate(service)
	} else {
		rt.cacheMisses.Add(1)
	}

	// Optional resolver, then mandatory HTTP discovery.
	if peer := rt.resolverLookup(ctx, service); peer != nil {
		rt.cachePeer(service, peer)
		if rt.forwardPeer(ctx, w, r, service, peer, body) {
			metrics.RouterDispatchTotal.WithLabelValues("dht").Inc()
			return
		}
		rt.invalidate(service)
	}

	peer, available, err := rt.discoverPeer(ctx, service)
	if err != nil {
		rt.failedRequests.Add(1)
		metrics.RouterDispatchTotal.WithLabelValues("failed").Inc()
		if errors.Is(err, ErrNoWorkers) {
			writeJSON(w, http.StatusServiceUnavailable, types.ErrorResponse{
				Error:             fmt.Sprintf("no workers available for %q", service),
				AvailableServices: available,
			})
			return
		}
		writeError(w, http.StatusBadGateway, fmt.Sprintf("discovery failed: %v", err))
		return
	}

	rt.cachePeer(service, peer)
	if rt.forwardPeer(ctx, w, r, service, peer, body) {
		metrics.RouterDispatchTotal.WithLabelValues("http").Inc()
		return
	}

	rt.invalidate(service)
	rt.failedRequests.Add(1)
	metrics.RouterDispatchTotal.WithLabelValues("failed").Inc()
	writeError(w, http.StatusBadGateway, fmt.Sprintf("worker %s unreachable for %q", peer.ID, service))
}

// Stats returns a snapshot of the routing counters.
func (rt *Router) Stats() types.RouterStats {
	rt.mu.Lock()
	size := len(rt.cache)
	rt.mu.Unlock()

	hits := rt.cacheHits.Load()
	misses := rt.cacheMisses.Load()
	rate := 0.0
	if hits+misses > 0 {
		rate = float64(hits) / float64(hits+misses)
	}

	return types.RouterStats{
		LocalRequests:     rt.localRequests.Load(),
		ForwardedRequests: rt.forwardedRequests.Load(),
		CacheHits:         hits,
		CacheMisses:       misses,
		DHTLookups:        rt.dhtLookups.Load(),
		HTTPLookups:       rt.httpLookups.Load(),
		FailedRequests:    rt.failedRequests.Load(),
		CacheSize:         size,
		CacheHitRate:      rate,
	}
}

func (rt *Router) runsLocally(service string) bool {
	for _, s := range rt.cfg.Assigned() {
		if s == service {
			return true
		}
	}
	return false
}

func (rt *Router) cachedPeer(service string) *types.Worker {
	rt.mu.Lock()
	defer rt.mu.Unlock()

	entry, ok := rt.cache[service]
	if !ok {
		return nil
	}
	if rt.now().Sub(entry.cachedAt) >= rt.cfg.CacheTTL {
		delete(rt.cache, service)
		return nil
	}
	return entry.worker
}

func (rt *Router) cachePeer(service string, peer *types.Worker) {
	rt.mu.Lock()
	defer rt.mu.Unlock()
	rt.cache[service] = &cacheEntry{worker: peer, cachedAt: rt.now()}
}

func (rt *Router) invalidate(service string) {
	rt.mu.Lock()
	defer rt.mu.Unlock()
	delete(rt.cache, service)
}

// discoverPeer asks the coordinator which workers serve the service
// and picks one. On ErrNoWorkers the second return carries the
// coordinator's list of services that do have workers, for the error
// reply.
func (rt *Router) discoverPeer(ctx context.Context, service string) (*types.Worker, []string, error) {
	rt.httpLookups.Add(1)
	resp, err := rt.discover.Discover(ctx, service)
	if err != nil {
		if client.IsNotFound(err) {
			var se *client.StatusError
			if errors.As(err, &se) {
				return nil, se.Body.AvailableServices, ErrNoWorkers
			}
			return nil, nil, ErrNoWorkers
		}
		return nil, nil, err
	}

	peer := SelectPeer(resp.Workers)
	if peer == nil {
		return nil, nil, ErrNoWorkers
	}
	return peer, nil, nil
}

func (rt *Router) resolverLookup(ctx context.Context, service string) *types.Worker {
	res := rt.cfg.Resolver
	if res == nil || !res.Connected() {
		return nil
	}
	rt.dhtLookups.Add(1)
	workers, err := res.Lookup(ctx, service)
	if err != nil {
		rt.logger.Debug().Str("service", service).Err(err).Msg("resolver lookup failed")
		return nil
	}
	return SelectPeer(workers)
}

// forwardLocal hands the request to the local service container on its
// cataloged port.
func (rt *Router) forwardLocal(ctx context.Context, w http.ResponseWriter, r *http.Request, service string, body []byte) {
	svc, err := rt.cat.Get(service)
	if err != nil {
		writeError(w, http.StatusNotFound, err.Error())
		return
	}
	target := fmt.Sprintf("http://%s:%d/", rt.cfg.LocalHost, svc.Port)
	if !rt.forward(ctx, w, r, target, body) {
		rt.failedRequests.Add(1)
		writeError(w, http.StatusBadGateway, fmt.Sprintf("local service %q unreachable", service))
	}
}

// forwardPeer sends the request to a remote worker, preferring its
// mesh address over the public tunnel. Reports whether a response was
// relayed.
func (rt *Router) forwardPeer(ctx context.Context, w http.ResponseWriter, r *http.Request, service string, peer *types.Worker, body []byte) bool {
	target := peerURL(peer, rt.cat, service)
	if target == "" {
		return false
	}
	if rt.forward(ctx, w, r, target, body) {
		rt.forwardedRequests.Add(1)
		return true
	}
	return false
}

// forward relays r to target. Reports false on connect failure or a
// 5xx upstream status so the caller can fall through to the next
// lookup layer.
func (rt *Router) forward(ctx context.Context, w http.ResponseWriter, r *http.Request, target string, body []byte) bool {
	u, err := url.Parse(target)
	if err != nil {
		return false
	}

	out, err := http.NewRequestWithContext(ctx, r.Method, u.String(), bytes.NewReader(body))
	if err != nil {
		return false
	}
	copyHeaders(out.Header, r.Header)
	out.ContentLength = int64(len(body))

	resp, err := rt.transport.RoundTrip(out)
	if err != nil {
		rt.logger.Debug().Str("target", target).Err(err).Msg("forward failed")
		return false
	}
	if resp.StatusCode >= 500 {
		resp.Body.Close()
		return false
	}
	defer resp.Body.Close()

	for k, vv := range resp.Header {
		for _, v := range vv {
			w.Header().Add(k, v)
		}
	}
	w.WriteHeader(resp.StatusCode)
	_, _ = io.Copy(w, resp.Body)
	return true
}

// peerURL builds the forwarding target for a peer: the mesh address on
// the service's cataloged port when present, the public tunnel
// otherwise.
func peerURL(peer *types.Worker, cat *catalog.Catalog, service string) string {
	if peer.MeshIP != "" {
		if svc, err := cat.Get(service); err == nil {
			return fmt.Sprintf("http://%s:%d/", peer.MeshIP, svc.Port)
		}
	}
	if peer.TunnelURL == "" {
		return ""
	}
	return strings.TrimRight(peer.TunnelURL, "/") + "/"
}

var hopHeaders = []string{
	"Connection",
	"Proxy-Connection",
	"Keep-Alive",
	"Proxy-Authenticate",
	"Proxy-Authorization",
	"Te",
	"Trailer",
	"Transfer-Encoding",
	"Upgrade",
}

func copyHeaders(dst, src http.Header) {
	for k, vv := range src {
		for _, v := range vv {
			dst.Add(k, v)
		}
	}
	for _, h := range hopHeaders {
		dst.Del(h)
	}
	dst.Del("Host")
}
