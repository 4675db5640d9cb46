package coordinator

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/hivemesh/hive/pkg/catalog"
	"github.com/hivemesh/hive/pkg/log"
	"github.com/hivemesh/hive/pkg/metrics"
	"github.com/hivemesh/hive/pkg/registry"
	"github.com/hivemesh/hive/pkg/types"
)

// retryBodyLimit is the largest request body buffered for replay across
// failover attempts. Bigger bodies stream to a single worker with no
// retry.
const retryBodyLimit = 1 << 20

// maxAttempts bounds failover: the chosen worker plus two others.
const maxAttempts = 3

// hopHeaders are stripped before forwarding in either direction.
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

// workerStats counts proxy attempts against one worker.
type workerStats struct {
	Success int64 `json:"success"`
	Failure int64 `json:"failure"`
}

// proxy is the streaming reverse proxy fronting worker services.
// Worker selection is round-robin with a per-service cursor; a worker
// that fails is skipped for this request only, never pinned out.
type proxy struct {
	reg       *registry.Registry
	cat       *catalog.Catalog
	transport http.RoundTripper

	mu      sync.Mutex
	cursors map[string]int
	stats   map[string]*workerStats
}

func newProxy(reg *registry.Registry, cat *catalog.Catalog) *proxy {
	return &proxy{
		reg:       reg,
		cat:       cat,
		transport: http.DefaultTransport,
		cursors:   make(map[string]int),
		stats:     make(map[string]*workerStats),
	}
}

// handle proxies one request to a worker assigned the service,
// streaming both directions and failing over on connect errors or 5xx.
func (p *proxy) handle(w http.ResponseWriter, r *http.Request, service, rest string) {
	start := time.Now()

	if !p.cat.Has(service) {
		metrics.ProxyRequestsTotal.WithLabelValues(service, "unknown").Inc()
		writeError(w, http.StatusNotFound, fmt.Sprintf("unknown service %q", service))
		return
	}

	workers := p.reg.FindByService(service)
	if len(workers) == 0 {
		metrics.ProxyRequestsTotal.WithLabelValues(service, "no_workers").Inc()
		writeJSON(w, http.StatusServiceUnavailable, types.ErrorResponse{
			Error:             fmt.Sprintf("no healthy workers for %q", service),
			AvailableServices: p.reg.ServicesWithWorkers(),
		})
		return
	}

	// Small bodies are buffered so failover can replay them; anything
	// larger streams to a single worker.
	body, replayable, err := bufferBody(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("reading request body: %v", err))
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), p.cat.ProxyTimeout(service))
	defer cancel()

	attempts := maxAttempts
	if attempts > len(workers) {
		attempts = len(workers)
	}
	if !replayable {
		attempts = 1
	}
	cursor := p.advance(service)

	var lastErr error
	for i := 0; i < attempts; i++ {
		worker := workers[(cursor+i)%len(workers)]

		out, err := p.buildRequest(r, worker, rest, body, ctx)
		if err != nil {
			lastErr = err
			continue
		}

		resp, err := p.transport.RoundTrip(out)
		if err != nil {
			p.record(worker.ID, false)
			lastErr = fmt.Errorf("worker %s: %w", worker.ID, err)
			logger := log.WithService(service)
			logger.Warn().
				Str("worker_id", worker.ID).
				Err(err).
				Msg("proxy attempt failed")
			continue
		}
		if resp.StatusCode >= 500 {
			p.record(worker.ID, false)
			lastErr = fmt.Errorf("worker %s: upstream status %d", worker.ID, resp.StatusCode)
			resp.Body.Close()
			continue
		}

		p.record(worker.ID, true)
		metrics.ProxyRequestsTotal.WithLabelValues(service, "ok").Inc()
		metrics.ProxyDuration.WithLabelValues(service).Observe(time.Since(start).Seconds())
		copyResponse(w, resp)
		return
	}

	metrics.ProxyRequestsTotal.WithLabelValues(service, "failed").Inc()
	writeError(w, http.StatusBadGateway, fmt.Sprintf("all workers failed for %q: %v", service, lastErr))
}

// buildRequest clones the inbound request toward one worker's tunnel,
// rewriting the URL and stripping hop-by-hop headers.
func (p *proxy) buildRequest(r *http.Request, worker *types.Worker, rest string, body []byte, ctx context.Context) (*http.Request, error) {
	target, err := url.Parse(worker.TunnelURL)
	if err != nil {
		return nil, fmt.Errorf("worker %s: bad tunnel url: %w", worker.ID, err)
	}

	out := r.Clone(ctx)
	out.URL.Scheme = target.Scheme
	out.URL.Host = target.Host
	out.URL.Path = singleJoin(target.Path, rest)
	out.URL.RawQuery = r.URL.RawQuery
	out.Host = target.Host
	out.RequestURI = ""

	for _, h := range hopHeaders {
		out.Header.Del(h)
	}
	if clientIP := clientAddr(r); clientIP != "" {
		appendForwarded(out.Header, clientIP)
	}

	if body != nil {
		out.Body = io.NopCloser(bytes.NewReader(body))
		out.ContentLength = int64(len(body))
	}
	return out, nil
}

// advance returns and bumps the round-robin cursor for a service.
func (p *proxy) advance(service string) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	c := p.cursors[service]
	p.cursors[service] = c + 1
	return c
}

func (p *proxy) record(workerID string, ok bool) {
	outcome := "failure"
	if ok {
		outcome = "success"
	}
	metrics.ProxyAttemptsTotal.WithLabelValues(workerID, outcome).Inc()

	p.mu.Lock()
	defer p.mu.Unlock()
	st, found := p.stats[workerID]
	if !found {
		st = &workerStats{}
		p.stats[workerID] = st
	}
	if ok {
		st.Success++
	} else {
		st.Failure++
	}
}

// statsSnapshot returns per-worker attempt counters.
func (p *proxy) statsSnapshot() map[string]workerStats {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make(map[string]workerStats, len(p.stats))
	for id, st := range p.stats {
		out[id] = *st
	}
	return out
}

// bufferBody reads up to retryBodyLimit bytes of the request body.
// Returns (body, true) when the whole body fit and can be replayed, or
// (nil, false) after splicing the read prefix back for streaming.
func bufferBody(r *http.Request) ([]byte, bool, error) {
	if r.Body == nil || r.Body == http.NoBody {
		return nil, true, nil
	}

	buf := make([]byte, 0, 32*1024)
	tmp := make([]byte, 32*1024)
	for len(buf) <= retryBodyLimit {
		n, err := r.Body.Read(tmp)
		buf = append(buf, tmp[:n]...)
		if err == io.EOF {
			return buf, true, nil
		}
		if err != nil {
			return nil, false, err
		}
	}

	// Too large to replay; stitch the prefix back onto the stream.
	r.Body = struct {
		io.Reader
		io.Closer
	}{io.MultiReader(bytes.NewReader(buf), r.Body), r.Body}
	return nil, false, nil
}

func copyResponse(w http.ResponseWriter, resp *http.Response) {
	defer resp.Body.Close()

	for _, h := range hopHeaders {
		resp.Header.Del(h)
	}
	for k, vv := range resp.Header {
		for _, v := range vv {
			w.Header().Add(k, v)
		}
	}
	w.WriteHeader(resp.StatusCode)
	_, _ = io.Copy(w, resp.Body)
}

func singleJoin(base, rest string) string {
	base = strings.TrimSuffix(base, "/")
	if rest == "" {
		if base == "" {
			return "/"
		}
		return base
	}
	return base + "/" + rest
}
