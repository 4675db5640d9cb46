package launcher

import (
	"context"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hivemesh/hive/pkg/catalog"
	"github.com/hivemesh/hive/pkg/types"
)

// fakeRuntime records calls without touching containerd.
type fakeRuntime struct {
	mu      sync.Mutex
	pulled  []string
	started []string
	stopped []string
	failOn  map[string]bool
}

func newFakeRuntime() *fakeRuntime {
	return &fakeRuntime{failOn: make(map[string]bool)}
}

func (f *fakeRuntime) Pull(ctx context.Context, image string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.pulled = append(f.pulled, image)
	return nil
}

func (f *fakeRuntime) Start(ctx context.Context, id, image string, env []string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failOn[id] {
		return assert.AnError
	}
	f.started = append(f.started, id)
	return nil
}

func (f *fakeRuntime) Stop(ctx context.Context, id string, timeout time.Duration) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.stopped = append(f.stopped, id)
	return nil
}

func (f *fakeRuntime) Running(ctx context.Context, id string) bool { return true }
func (f *fakeRuntime) Close() error                                { return nil }

func healthyBackend(t *testing.T) int {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	t.Cleanup(srv.Close)
	u, err := url.Parse(srv.URL)
	require.NoError(t, err)
	port, err := strconv.Atoi(u.Port())
	require.NoError(t, err)
	return port
}

func launcherCatalog(port int) *catalog.Catalog {
	return catalog.New([]*catalog.Service{
		{Name: "doc-extract", Tier: types.TierCPU, Requires: types.WorkerTypeCPU, Priority: 2, Port: port, Image: "ghcr.io/hivemesh/doc-extract:latest"},
	})
}

func TestLaunchReady(t *testing.T) {
	port := healthyBackend(t)
	rt := newFakeRuntime()
	l := New(rt, launcherCatalog(port), Config{ReadyTimeout: 5 * time.Second})

	l.LaunchAll(context.Background(), []string{"doc-extract"})

	assert.Equal(t, types.ServiceStateReady, l.States()["doc-extract"])
	assert.Equal(t, []string{"ghcr.io/hivemesh/doc-extract:latest"}, rt.pulled)
	assert.Equal(t, []string{"hive-doc-extract"}, rt.started)
	assert.True(t, l.Healthy())
	assert.Empty(t, l.Degraded())
}

func TestLaunchDegradedWhenNeverReady(t *testing.T) {
	// Port 1 refuses connections; the readiness poll can never pass.
	rt := newFakeRuntime()
	l := New(rt, launcherCatalog(1), Config{ReadyTimeout: 300 * time.Millisecond})

	l.LaunchAll(context.Background(), []string{"doc-extract"})

	assert.Equal(t, types.ServiceStateDegraded, l.States()["doc-extract"])
	assert.False(t, l.Healthy())
	assert.Equal(t, []string{"doc-extract"}, l.Degraded())
}

func TestLaunchDegradedOnStartFailure(t *testing.T) {
	rt := newFakeRuntime()
	rt.failOn["hive-doc-extract"] = true
	l := New(rt, launcherCatalog(1), Config{ReadyTimeout: time.Second})

	l.Launch(context.Background(), "doc-extract")

	assert.Equal(t, types.ServiceStateDegraded, l.States()["doc-extract"])
}

func TestLaunchUnknownService(t *testing.T) {
	rt := newFakeRuntime()
	l := New(rt, launcherCatalog(1), Config{})

	l.Launch(context.Background(), "no-such-service")

	assert.Equal(t, types.ServiceStateDegraded, l.States()["no-such-service"])
	assert.Empty(t, rt.started)
}

func TestStopAll(t *testing.T) {
	port := healthyBackend(t)
	rt := newFakeRuntime()
	l := New(rt, launcherCatalog(port), Config{ReadyTimeout: 5 * time.Second})

	l.LaunchAll(context.Background(), []string{"doc-extract"})
	l.StopAll(context.Background())

	assert.Equal(t, []string{"hive-doc-extract"}, rt.stopped)
	assert.Equal(t, types.ServiceStateStopped, l.States()["doc-extract"])
}
