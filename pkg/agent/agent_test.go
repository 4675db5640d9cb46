package agent

import (
	"context"
	"encoding/json"
	"net"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strconv"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hivemesh/hive/pkg/catalog"
	"github.com/hivemesh/hive/pkg/launcher"
	"github.com/hivemesh/hive/pkg/types"
)

type stubRuntime struct {
	started []string
	stopped []string
}

func (s *stubRuntime) Pull(ctx context.Context, image string) error { return nil }
func (s *stubRuntime) Start(ctx context.Context, id, image string, env []string) error {
	s.started = append(s.started, id)
	return nil
}
func (s *stubRuntime) Stop(ctx context.Context, id string, timeout time.Duration) error {
	s.stopped = append(s.stopped, id)
	return nil
}
func (s *stubRuntime) Running(ctx context.Context, id string) bool { return true }
func (s *stubRuntime) Close() error                                { return nil }

var _ launcher.Runtime = (*stubRuntime)(nil)

func TestChooseWorkerType(t *testing.T) {
	tests := []struct {
		name string
		caps types.Capabilities
		want types.WorkerType
	}{
		{"gpu present", types.Capabilities{HasGPU: true, CPUCores: 2}, types.WorkerTypeGPU},
		{"big cpu host", types.Capabilities{CPUCores: 16, RAMGB: 64}, types.WorkerTypeCPU},
		{"ram too small for cpu tier", types.Capabilities{CPUCores: 16, RAMGB: 8}, types.WorkerTypeCPU},
		{"disk heavy low compute", types.Capabilities{CPUCores: 2, RAMGB: 4, StorageGB: 2000}, types.WorkerTypeStorage},
		{"small generic host", types.Capabilities{CPUCores: 4, RAMGB: 8}, types.WorkerTypeCPU},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, chooseWorkerType(tt.caps))
		})
	}
}

func TestDetectHonorsRequestedType(t *testing.T) {
	caps := detectCapabilities(types.WorkerTypeStorage)
	assert.Equal(t, types.WorkerTypeStorage, caps.WorkerType)
	assert.Greater(t, caps.CPUCores, 0)
}

func TestBackoffBounds(t *testing.T) {
	bo := newBackoff()

	expected := []time.Duration{time.Second, 2 * time.Second, 4 * time.Second, 8 * time.Second}
	for _, want := range expected {
		got := bo.next()
		assert.GreaterOrEqual(t, got, time.Duration(float64(want)*0.8))
		assert.LessOrEqual(t, got, time.Duration(float64(want)*1.2))
	}

	// The progression caps at 60s.
	for i := 0; i < 20; i++ {
		got := bo.next()
		assert.LessOrEqual(t, got, time.Duration(float64(60*time.Second)*1.2))
	}

	bo.reset()
	got := bo.next()
	assert.LessOrEqual(t, got, time.Duration(float64(time.Second)*1.2))
}

func TestStartTunnelNone(t *testing.T) {
	tun, err := startTunnel(context.Background(), Config{
		TunnelMode: TunnelNone,
		TunnelURL:  "https://worker.example.com",
	}, 7000)
	require.NoError(t, err)
	assert.Equal(t, "https://worker.example.com", tun.URL)

	_, err = startTunnel(context.Background(), Config{TunnelMode: TunnelNone}, 7000)
	assert.Error(t, err)

	_, err = startTunnel(context.Background(), Config{TunnelMode: "carrier-pigeon"}, 7000)
	assert.Error(t, err)
}

func TestRunConfigErrors(t *testing.T) {
	a := New(Config{}, catalog.Default(), &stubRuntime{})
	err := a.Run(context.Background())
	assert.ErrorIs(t, err, ErrConfig)

	a = New(Config{CoordinatorURL: "http://edge.example.com", WorkerType: "quantum"}, catalog.Default(), &stubRuntime{})
	err = a.Run(context.Background())
	assert.ErrorIs(t, err, ErrConfig)
}

// fakeCoordinator answers registrations with a fixed response.
func fakeCoordinator(t *testing.T, resp types.RegisterResponse) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/api/worker/register", r.URL.Path)
		var req types.RegisterRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.NotEmpty(t, req.TunnelURL)
		json.NewEncoder(w).Encode(resp)
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestRegisterAdoptsAuthoritativeID(t *testing.T) {
	coord := fakeCoordinator(t, types.RegisterResponse{
		WorkerID:          "gpu-7",
		AssignedServices:  []string{"llm-inference"},
		HeartbeatInterval: 30,
		CoordinatorID:     "coord-1",
	})

	a := New(Config{
		CoordinatorURL: coord.URL,
		WorkerID:       "my-preferred-id",
		TunnelMode:     TunnelNone,
		TunnelURL:      "https://w.example.com",
	}, catalog.Default(), &stubRuntime{})
	a.tunnelURL = "https://w.example.com"

	require.NoError(t, a.register(context.Background(), types.Capabilities{
		WorkerType: types.WorkerTypeGPU,
		HasGPU:     true,
	}))

	assert.Equal(t, "gpu-7", a.WorkerID())
	assert.Equal(t, []string{"llm-inference"}, a.AssignedServices())
	assert.Equal(t, 30*time.Second, a.interval())
}

func TestRelaunchReconcilesAssignment(t *testing.T) {
	backend := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer backend.Close()
	u, err := url.Parse(backend.URL)
	require.NoError(t, err)
	port, err := strconv.Atoi(u.Port())
	require.NoError(t, err)

	cat := catalog.New([]*catalog.Service{
		{Name: "doc-extract", Tier: types.TierCPU, Requires: types.WorkerTypeCPU, Priority: 2, Port: port},
		{Name: "ner-service", Tier: types.TierCPU, Requires: types.WorkerTypeCPU, Priority: 3, Port: port},
	})

	rt := &stubRuntime{}
	a := New(Config{
		CoordinatorURL:      "http://edge.example.com",
		ServiceReadyTimeout: 2 * time.Second,
	}, cat, rt)

	a.relaunch(context.Background(), []string{"doc-extract"}, []string{"ner-service"})

	assert.Equal(t, []string{"hive-doc-extract"}, rt.stopped)
	assert.Equal(t, []string{"hive-ner-service"}, rt.started)
}

// A service stuck degraded is reported on the heartbeat and triggers
// exactly one re-registration per degraded set, so the coordinator can
// rerun assignment.
func TestDegradedServicesRequestReassignment(t *testing.T) {
	var heartbeats, registers, degradedReports atomic.Int64
	coord := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/api/worker/heartbeat":
			heartbeats.Add(1)
			var req types.HeartbeatRequest
			require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
			if req.Status == "degraded" {
				degradedReports.Add(1)
			}
			json.NewEncoder(w).Encode(types.HeartbeatResponse{OK: true})
		case "/api/worker/register":
			registers.Add(1)
			json.NewEncoder(w).Encode(types.RegisterResponse{
				WorkerID:          "cpu-1",
				AssignedServices:  []string{"doc-extract"},
				HeartbeatInterval: 60,
			})
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	defer coord.Close()

	// A port nothing listens on, so readiness polling fails fast.
	l, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	port := l.Addr().(*net.TCPAddr).Port
	require.NoError(t, l.Close())

	cat := catalog.New([]*catalog.Service{
		{Name: "doc-extract", Tier: types.TierCPU, Requires: types.WorkerTypeCPU, Priority: 2, Port: port},
	})

	a := New(Config{
		CoordinatorURL:      coord.URL,
		TunnelMode:          TunnelNone,
		TunnelURL:           "https://w.example.com",
		ServiceReadyTimeout: 50 * time.Millisecond,
	}, cat, &stubRuntime{})
	a.tunnelURL = "https://w.example.com"
	a.mu.Lock()
	a.workerID = "cpu-1"
	a.assigned = []string{"doc-extract"}
	a.heartbeatInterval = 25 * time.Millisecond
	a.mu.Unlock()

	a.launcher.LaunchAll(context.Background(), []string{"doc-extract"})
	require.NotEmpty(t, a.launcher.Degraded())

	ctx, cancel := context.WithTimeout(context.Background(), 300*time.Millisecond)
	defer cancel()
	require.NoError(t, a.heartbeatLoop(ctx, types.Capabilities{
		WorkerType: types.WorkerTypeCPU, CPUCores: 4,
	}))

	assert.GreaterOrEqual(t, heartbeats.Load(), int64(1))
	assert.GreaterOrEqual(t, degradedReports.Load(), int64(1))
	assert.Equal(t, int64(1), registers.Load(), "same degraded set re-registers once")
}

func TestAgentHTTPSurface(t *testing.T) {
	a := New(Config{CoordinatorURL: "http://edge.example.com"}, catalog.Default(), &stubRuntime{})
	ts := httptest.NewServer(a.Handler())
	defer ts.Close()

	resp, err := http.Get(ts.URL + "/health")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var health map[string]any
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&health))
	assert.Equal(t, "healthy", health["status"])

	resp, err = http.Get(ts.URL + "/stats")
	require.NoError(t, err)
	defer resp.Body.Close()
	var stats struct {
		Routing types.RouterStats `json:"routing"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&stats))
	assert.Zero(t, stats.Routing.LocalRequests)

	// Dispatch for a service nobody runs: router answers, not a 404
	// from the mux.
	resp, err = http.Post(ts.URL+"/service/no-such-service", "application/json", nil)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}
