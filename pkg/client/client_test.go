package client

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hivemesh/hive/pkg/types"
)

func TestRegisterRoundTrip(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodPost, r.Method)
		require.Equal(t, "/api/worker/register", r.URL.Path)
		require.Equal(t, "application/json", r.Header.Get("Content-Type"))

		var req types.RegisterRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "https://w.example.com", req.TunnelURL)

		json.NewEncoder(w).Encode(types.RegisterResponse{
			WorkerID:          "gpu-1",
			AssignedServices:  []string{"llm-inference"},
			HeartbeatInterval: 30,
		})
	}))
	defer srv.Close()

	resp, err := New(srv.URL).Register(context.Background(), types.RegisterRequest{
		TunnelURL:    "https://w.example.com",
		Capabilities: types.Capabilities{WorkerType: types.WorkerTypeGPU, HasGPU: true},
	})
	require.NoError(t, err)
	assert.Equal(t, "gpu-1", resp.WorkerID)
	assert.Equal(t, []string{"llm-inference"}, resp.AssignedServices)
}

func TestHeartbeatReRegisterIsNotAnError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(types.HeartbeatResponse{OK: false, Action: "re-register"})
	}))
	defer srv.Close()

	resp, err := New(srv.URL).Heartbeat(context.Background(), types.HeartbeatRequest{WorkerID: "gpu-1"})
	require.NoError(t, err)
	assert.False(t, resp.OK)
	assert.Equal(t, "re-register", resp.Action)
}

func TestStatusErrorCarriesBody(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
		json.NewEncoder(w).Encode(types.ErrorResponse{
			Error:             "no workers available for service",
			AvailableServices: []string{"doc-extract"},
		})
	}))
	defer srv.Close()

	_, err := New(srv.URL).Discover(context.Background(), "llm-inference")
	require.Error(t, err)

	var se *StatusError
	require.True(t, errors.As(err, &se))
	assert.Equal(t, http.StatusServiceUnavailable, se.StatusCode)
	assert.Equal(t, []string{"doc-extract"}, se.Body.AvailableServices)
	assert.True(t, IsNotFound(err))
}

func TestIsNotFound(t *testing.T) {
	assert.True(t, IsNotFound(&StatusError{StatusCode: http.StatusNotFound}))
	assert.True(t, IsNotFound(&StatusError{StatusCode: http.StatusServiceUnavailable}))
	assert.False(t, IsNotFound(&StatusError{StatusCode: http.StatusBadRequest}))
	assert.False(t, IsNotFound(errors.New("plain")))
}

func TestBaseURLTrimsTrailingSlash(t *testing.T) {
	assert.Equal(t, "http://edge.example.com", New("http://edge.example.com/").BaseURL())
}
