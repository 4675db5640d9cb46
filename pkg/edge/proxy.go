package edge

import (
	"bytes"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"

	"github.com/hivemesh/hive/pkg/log"
	"github.com/hivemesh/hive/pkg/metrics"
	"github.com/hivemesh/hive/pkg/types"
)

// retryBodyLimit bounds how much of a request body is buffered so it
// can be replayed against another coordinator.
const retryBodyLimit = 1 << 20

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

// proxy forwards requests verbatim to a live coordinator, round-robin
// with failover.
type proxy struct {
	live      func() []*types.Coordinator
	transport http.RoundTripper

	mu     sync.Mutex
	cursor int
}

func newProxy(live func() []*types.Coordinator) *proxy {
	return &proxy{
		live:      live,
		transport: http.DefaultTransport,
	}
}

func (p *proxy) handle(w http.ResponseWriter, r *http.Request) {
	coordinators := p.live()
	if len(coordinators) == 0 {
		metrics.EdgeForwardsTotal.WithLabelValues("no_coordinators").Inc()
		writeError(w, http.StatusServiceUnavailable, "no live coordinators")
		return
	}

	body, replayable, err := readBody(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("reading request body: %v", err))
		return
	}

	attempts := 3
	if attempts > len(coordinators) {
		attempts = len(coordinators)
	}
	if !replayable {
		attempts = 1
	}

	p.mu.Lock()
	start := p.cursor
	p.cursor++
	p.mu.Unlock()

	var lastErr error
	for i := 0; i < attempts; i++ {
		coord := coordinators[(start+i)%len(coordinators)]

		resp, err := p.forward(r, coord, body)
		if err != nil {
			lastErr = fmt.Errorf("coordinator %s: %w", coord.ID, err)
			logger := log.WithComponent("edge")
			logger.Warn().
				Str("coordinator_id", coord.ID).
				Err(err).
				Msg("forward attempt failed")
			continue
		}

		metrics.EdgeForwardsTotal.WithLabelValues("ok").Inc()
		relay(w, resp)
		return
	}

	metrics.EdgeForwardsTotal.WithLabelValues("failed").Inc()
	writeError(w, http.StatusBadGateway, fmt.Sprintf("all coordinators failed: %v", lastErr))
}

// forward sends the request to one coordinator. Transport errors and
// 500/502/504 count as failures so the next coordinator is tried; any
// other status, a coordinator's own 503 included, is relayed verbatim.
func (p *proxy) forward(r *http.Request, coord *types.Coordinator, body []byte) (*http.Response, error) {
	target, err := url.Parse(coord.TunnelURL)
	if err != nil {
		return nil, fmt.Errorf("bad tunnel url: %w", err)
	}

	out := r.Clone(r.Context())
	out.URL.Scheme = target.Scheme
	out.URL.Host = target.Host
	out.URL.Path = singleJoin(target.Path, strings.TrimPrefix(r.URL.Path, "/"))
	out.Host = target.Host
	out.RequestURI = ""
	for _, h := range hopHeaders {
		out.Header.Del(h)
	}
	if body != nil {
		out.Body = io.NopCloser(bytes.NewReader(body))
		out.ContentLength = int64(len(body))
	}

	resp, err := p.transport.RoundTrip(out)
	if err != nil {
		return nil, err
	}
	switch resp.StatusCode {
	case http.StatusInternalServerError, http.StatusBadGateway, http.StatusGatewayTimeout:
		resp.Body.Close()
		return nil, fmt.Errorf("upstream status %d", resp.StatusCode)
	}
	return resp, nil
}

func relay(w http.ResponseWriter, resp *http.Response) {
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

func readBody(r *http.Request) ([]byte, bool, error) {
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

	r.Body = struct {
		io.Reader
		io.Closer
	}{io.MultiReader(bytes.NewReader(buf), r.Body), r.Body}
	return nil, false, nil
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
