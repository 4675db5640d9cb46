package dht

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hivemesh/hive/pkg/types"
)

func TestSeedsCachedUntilTTL(t *testing.T) {
	var calls int
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/api/dht/bootstrap", r.URL.Path)
		calls++
		json.NewEncoder(w).Encode(types.BootstrapResponse{
			Seeds: []string{"coord-a.example.com:4001"},
			TTL:   300,
		})
	}))
	defer srv.Close()

	base := time.Now()
	s := NewSeedSource(srv.URL)
	s.now = func() time.Time { return base }

	assert.Equal(t, []string{"coord-a.example.com:4001"}, s.Seeds(context.Background()))
	assert.Equal(t, []string{"coord-a.example.com:4001"}, s.Seeds(context.Background()))
	assert.Equal(t, 1, calls)

	base = base.Add(301 * time.Second)
	s.Seeds(context.Background())
	assert.Equal(t, 2, calls)
}

func TestSeedsKeepsStaleListOnFetchFailure(t *testing.T) {
	healthy := true
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !healthy {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		json.NewEncoder(w).Encode(types.BootstrapResponse{Seeds: []string{"a:4001"}, TTL: 60})
	}))
	defer srv.Close()

	base := time.Now()
	s := NewSeedSource(srv.URL)
	s.now = func() time.Time { return base }

	require.Equal(t, []string{"a:4001"}, s.Seeds(context.Background()))

	healthy = false
	base = base.Add(61 * time.Second)
	assert.Equal(t, []string{"a:4001"}, s.Seeds(context.Background()))
}

func TestSeedsEmptyWhenNeverFetched(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	s := NewSeedSource(srv.URL)
	assert.Empty(t, s.Seeds(context.Background()))
}
