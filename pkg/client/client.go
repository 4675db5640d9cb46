package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/hivemesh/hive/pkg/types"
)

// Client is a JSON HTTP client for the coordinator and edge router APIs.
// The base URL is an edge router in practice; every path below is
// forwarded verbatim to a live coordinator by the edge router's
// catch-all proxy.
type Client struct {
	baseURL    string
	httpClient *http.Client
}

// New creates a client for the API rooted at baseURL.
// Control-plane calls carry a short 5s timeout; callers retry with
// backoff on failure.
func New(baseURL string) *Client {
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{
			Timeout: 5 * time.Second,
		},
	}
}

// BaseURL returns the configured API root.
func (c *Client) BaseURL() string {
	return c.baseURL
}

// Register registers a worker and returns the coordinator's response.
// The returned worker id is authoritative.
func (c *Client) Register(ctx context.Context, req types.RegisterRequest) (*types.RegisterResponse, error) {
	var resp types.RegisterResponse
	if err := c.postJSON(ctx, "/api/worker/register", req, &resp); err != nil {
		return nil, fmt.Errorf("register: %w", err)
	}
	return &resp, nil
}

// Heartbeat sends a worker heartbeat. A response with OK false and
// action "re-register" is not an error; the caller inspects it.
func (c *Client) Heartbeat(ctx context.Context, req types.HeartbeatRequest) (*types.HeartbeatResponse, error) {
	var resp types.HeartbeatResponse
	if err := c.postJSON(ctx, "/api/worker/heartbeat", req, &resp); err != nil {
		return nil, fmt.Errorf("heartbeat: %w", err)
	}
	return &resp, nil
}

// Deregister removes a worker record immediately.
func (c *Client) Deregister(ctx context.Context, workerID string) error {
	return c.postJSON(ctx, "/api/worker/deregister", types.DeregisterRequest{WorkerID: workerID}, nil)
}

// Discover asks for the healthy workers serving a service.
// When no worker serves it, the returned error satisfies IsNotFound.
func (c *Client) Discover(ctx context.Context, service string) (*types.DiscoverResponse, error) {
	var resp types.DiscoverResponse
	if err := c.getJSON(ctx, "/api/services/discover/"+service, &resp); err != nil {
		return nil, fmt.Errorf("discover %s: %w", service, err)
	}
	return &resp, nil
}

// ListServices returns the services with at least one healthy worker.
func (c *Client) ListServices(ctx context.Context) ([]string, error) {
	var resp struct {
		Services []string `json:"services"`
	}
	if err := c.getJSON(ctx, "/api/services/list", &resp); err != nil {
		return nil, fmt.Errorf("list services: %w", err)
	}
	return resp.Services, nil
}

// RegisterCoordinator registers a coordinator with the edge router.
func (c *Client) RegisterCoordinator(ctx context.Context, req types.CoordinatorRegisterRequest) (*types.CoordinatorRegisterResponse, error) {
	var resp types.CoordinatorRegisterResponse
	if err := c.postJSON(ctx, "/api/coordinator/register", req, &resp); err != nil {
		return nil, fmt.Errorf("register coordinator: %w", err)
	}
	return &resp, nil
}

// HeartbeatCoordinator refreshes a coordinator's TTL at the edge router.
func (c *Client) HeartbeatCoordinator(ctx context.Context, coordinatorID string) (*types.HeartbeatResponse, error) {
	var resp types.HeartbeatResponse
	req := types.CoordinatorHeartbeatRequest{CoordinatorID: coordinatorID}
	if err := c.postJSON(ctx, "/api/coordinator/heartbeat", req, &resp); err != nil {
		return nil, fmt.Errorf("coordinator heartbeat: %w", err)
	}
	return &resp, nil
}

// ListCoordinators returns the live coordinators known to the edge router.
func (c *Client) ListCoordinators(ctx context.Context) ([]*types.Coordinator, error) {
	var resp struct {
		Coordinators []*types.Coordinator `json:"coordinators"`
	}
	if err := c.getJSON(ctx, "/api/coordinators", &resp); err != nil {
		return nil, fmt.Errorf("list coordinators: %w", err)
	}
	return resp.Coordinators, nil
}

// Bootstrap fetches DHT seed addresses from the edge router.
func (c *Client) Bootstrap(ctx context.Context) (*types.BootstrapResponse, error) {
	var resp types.BootstrapResponse
	if err := c.getJSON(ctx, "/api/dht/bootstrap", &resp); err != nil {
		return nil, fmt.Errorf("bootstrap: %w", err)
	}
	return &resp, nil
}

// StatusError carries a non-2xx API reply.
type StatusError struct {
	StatusCode int
	Body       types.ErrorResponse
}

func (e *StatusError) Error() string {
	if e.Body.Error != "" {
		return fmt.Sprintf("http %d: %s", e.StatusCode, e.Body.Error)
	}
	return fmt.Sprintf("http %d", e.StatusCode)
}

// IsNotFound reports whether err is a 503/404 "no workers" reply.
func IsNotFound(err error) bool {
	var se *StatusError
	if !errors.As(err, &se) {
		return false
	}
	return se.StatusCode == http.StatusServiceUnavailable || se.StatusCode == http.StatusNotFound
}

func (c *Client) postJSON(ctx context.Context, path string, body, out any) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(payload))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	return c.do(req, out)
}

func (c *Client) getJSON(ctx context.Context, path string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return err
	}
	return c.do(req, out)
}

func (c *Client) do(req *http.Request, out any) error {
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		se := &StatusError{StatusCode: resp.StatusCode}
		_ = json.NewDecoder(resp.Body).Decode(&se.Body)
		return se
	}
	if out == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}
