package router

import (
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hivemesh/hive/pkg/catalog"
	"github.com/hivemesh/hive/pkg/types"
)

func testCatalog(port int) *catalog.Catalog {
	return catalog.New([]*catalog.Service{
		{Name: "llm-inference", Tier: types.TierGPU, Requires: types.WorkerTypeGPU, Priority: 1, Port: port, ProxyTimeout: 5 * time.Second},
		{Name: "doc-extract", Tier: types.TierCPU, Requires: types.WorkerTypeCPU, Priority: 2, Port: port, ProxyTimeout: 5 * time.Second},
	})
}

// fakeCoordinator serves discovery responses and counts lookups.
func fakeCoordinator(t *testing.T, workers map[string][]*types.Worker, calls *atomic.Int64) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		service := strings.TrimPrefix(r.URL.Path, "/api/services/discover/")
		calls.Add(1)
		list := workers[service]
		if len(list) == 0 {
			available := make([]string, 0, len(workers))
			for name, l := range workers {
				if len(l) > 0 {
					available = append(available, name)
				}
			}
			sort.Strings(available)
			w.WriteHeader(http.StatusServiceUnavailable)
			json.NewEncoder(w).Encode(types.ErrorResponse{Error: "no workers", AvailableServices: available})
			return
		}
		json.NewEncoder(w).Encode(types.DiscoverResponse{Service: service, Workers: list})
	}))
	t.Cleanup(srv.Close)
	return srv
}

func serverPort(t *testing.T, srv *httptest.Server) int {
	t.Helper()
	u, err := url.Parse(srv.URL)
	require.NoError(t, err)
	port, err := strconv.Atoi(u.Port())
	require.NoError(t, err)
	return port
}

func dispatch(t *testing.T, rt *Router, service, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, "/service/"+service, strings.NewReader(body))
	rec := httptest.NewRecorder()
	rt.Handle(rec, req, service)
	return rec
}

func TestLocalShortCircuit(t *testing.T) {
	local := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		assert.Equal(t, `{"text":"x"}`, string(body))
		w.Write([]byte("extracted"))
	}))
	defer local.Close()

	rt := New(Config{
		CoordinatorURL: "http://unused.invalid",
		Assigned:       func() []string { return []string{"doc-extract"} },
	}, testCatalog(serverPort(t, local)))

	rec := dispatch(t, rt, "doc-extract", `{"text":"x"}`)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "extracted", rec.Body.String())

	stats := rt.Stats()
	assert.EqualValues(t, 1, stats.LocalRequests)
	assert.Zero(t, stats.HTTPLookups)
}

func TestForwardViaDiscoveryThenCache(t *testing.T) {
	peer := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("inferred"))
	}))
	defer peer.Close()

	var discoverCalls atomic.Int64
	coord := fakeCoordinator(t, map[string][]*types.Worker{
		"llm-inference": {{ID: "gpu-1", TunnelURL: peer.URL}},
	}, &discoverCalls)

	rt := New(Config{CoordinatorURL: coord.URL}, testCatalog(9999))

	// First call: cache miss, HTTP lookup, forward.
	rec := dispatch(t, rt, "llm-inference", `{"prompt":"hi"}`)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "inferred", rec.Body.String())

	// Second call inside the TTL: served from the finger cache.
	rec = dispatch(t, rt, "llm-inference", `{"prompt":"again"}`)
	require.Equal(t, http.StatusOK, rec.Code)

	stats := rt.Stats()
	assert.EqualValues(t, 1, stats.CacheHits)
	assert.EqualValues(t, 1, stats.CacheMisses)
	assert.EqualValues(t, 1, stats.HTTPLookups)
	assert.EqualValues(t, 2, stats.ForwardedRequests)
	assert.EqualValues(t, 1, discoverCalls.Load())
	assert.Equal(t, 1, stats.CacheSize)
}

func TestCacheEntryExpires(t *testing.T) {
	peer := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer peer.Close()

	var discoverCalls atomic.Int64
	coord := fakeCoordinator(t, map[string][]*types.Worker{
		"llm-inference": {{ID: "gpu-1", TunnelURL: peer.URL}},
	}, &discoverCalls)

	rt := New(Config{CoordinatorURL: coord.URL}, testCatalog(9999))

	base := time.Now()
	rt.now = func() time.Time { return base }
	dispatch(t, rt, "llm-inference", "{}")

	// 61s later the entry is dead and a fresh lookup happens.
	rt.now = func() time.Time { return base.Add(61 * time.Second) }
	dispatch(t, rt, "llm-inference", "{}")

	assert.EqualValues(t, 2, discoverCalls.Load())
	assert.EqualValues(t, 0, rt.Stats().CacheHits)
}

func TestDeadCachedPeerFallsThrough(t *testing.T) {
	dead := httptest.NewServer(http.NotFoundHandler())
	deadURL := dead.URL
	dead.Close()

	live := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("from-live"))
	}))
	defer live.Close()

	var discoverCalls atomic.Int64
	coord := fakeCoordinator(t, map[string][]*types.Worker{
		"llm-inference": {{ID: "gpu-2", TunnelURL: live.URL}},
	}, &discoverCalls)

	rt := New(Config{CoordinatorURL: coord.URL}, testCatalog(9999))
	rt.cachePeer("llm-inference", &types.Worker{ID: "gpu-1", TunnelURL: deadURL})

	rec := dispatch(t, rt, "llm-inference", "{}")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "from-live", rec.Body.String())
	assert.EqualValues(t, 1, discoverCalls.Load())
}

func TestNoWorkersAnywhere(t *testing.T) {
	var discoverCalls atomic.Int64
	coord := fakeCoordinator(t, map[string][]*types.Worker{
		"doc-extract": {{ID: "cpu-1", TunnelURL: "https://cpu-1.example.com"}},
	}, &discoverCalls)

	rt := New(Config{CoordinatorURL: coord.URL}, testCatalog(9999))

	rec := dispatch(t, rt, "llm-inference", "{}")
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.EqualValues(t, 1, rt.Stats().FailedRequests)

	// The reply names the services that do have workers.
	var body types.ErrorResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Contains(t, body.Error, "llm-inference")
	assert.Equal(t, []string{"doc-extract"}, body.AvailableServices)
}

func TestUnknownService(t *testing.T) {
	rt := New(Config{CoordinatorURL: "http://unused.invalid"}, testCatalog(9999))
	rec := dispatch(t, rt, "no-such-service", "{}")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestSelectPeer(t *testing.T) {
	t.Run("empty", func(t *testing.T) {
		assert.Nil(t, SelectPeer(nil))
		assert.Nil(t, SelectPeer([]*types.Worker{{ID: "x"}}))
	})

	t.Run("prefers mesh ip", func(t *testing.T) {
		workers := []*types.Worker{
			{ID: "a", TunnelURL: "https://a.example.com", Load: 0.1},
			{ID: "b", TunnelURL: "https://b.example.com", MeshIP: "10.0.0.2", Load: 0.9},
		}
		for i := 0; i < 20; i++ {
			assert.Equal(t, "b", SelectPeer(workers).ID)
		}
	})

	t.Run("picks among lowest loaded three", func(t *testing.T) {
		workers := []*types.Worker{
			{ID: "a", TunnelURL: "u", Load: 0.1},
			{ID: "b", TunnelURL: "u", Load: 0.2},
			{ID: "c", TunnelURL: "u", Load: 0.3},
			{ID: "d", TunnelURL: "u", Load: 0.9},
		}
		for i := 0; i < 50; i++ {
			got := SelectPeer(workers).ID
			assert.NotEqual(t, "d", got)
		}
	})
}
