package types

import (
	"time"
)

// WorkerType classifies a worker host by its dominant capability.
type WorkerType string

const (
	WorkerTypeGPU     WorkerType = "gpu"
	WorkerTypeCPU     WorkerType = "cpu"
	WorkerTypeStorage WorkerType = "storage"
	WorkerTypeEdge    WorkerType = "edge"
	WorkerTypeAuto    WorkerType = "auto"
)

// Valid reports whether t is a recognized worker type.
func (t WorkerType) Valid() bool {
	switch t {
	case WorkerTypeGPU, WorkerTypeCPU, WorkerTypeStorage, WorkerTypeEdge, WorkerTypeAuto:
		return true
	}
	return false
}

// Tier is the coarse service class a service belongs to.
type Tier int

const (
	TierGPU     Tier = 1
	TierCPU     Tier = 2
	TierStorage Tier = 3
	TierEdge    Tier = 4
)

// RequiredType returns the worker type a tier natively requires.
func (t Tier) RequiredType() WorkerType {
	switch t {
	case TierGPU:
		return WorkerTypeGPU
	case TierCPU:
		return WorkerTypeCPU
	case TierStorage:
		return WorkerTypeStorage
	case TierEdge:
		return WorkerTypeEdge
	}
	return WorkerTypeCPU
}

// Capabilities describes the hardware of a worker host.
// Unknown JSON fields are rejected on input; forward-compatible
// extensions go through the Extra bucket.
type Capabilities struct {
	WorkerType WorkerType        `json:"worker_type"`
	HasGPU     bool              `json:"has_gpu"`
	GPUType    string            `json:"gpu_type,omitempty"`
	CPUCores   int               `json:"cpu_cores,omitempty"`
	RAMGB      int               `json:"ram_gb,omitempty"`
	StorageGB  int               `json:"storage_gb,omitempty"`
	PublicIP   string            `json:"public_ip,omitempty"`
	Extra      map[string]string `json:"extra,omitempty"`
}

// WorkerStatus is derived from heartbeat age, never stored.
type WorkerStatus string

const (
	WorkerStatusHealthy WorkerStatus = "healthy"
	WorkerStatusStale   WorkerStatus = "stale"
	WorkerStatusDead    WorkerStatus = "dead"
)

// Worker is a registered worker as tracked by a coordinator.
type Worker struct {
	ID               string       `json:"worker_id"`
	TunnelURL        string       `json:"tunnel_url"`
	MeshIP           string       `json:"mesh_ip,omitempty"`
	Capabilities     Capabilities `json:"capabilities"`
	AssignedServices []string     `json:"assigned_services"`
	Load             float64      `json:"load"`
	TasksCompleted   int64        `json:"tasks_completed"`
	RegisteredAt     time.Time    `json:"registered_at"`
	LastHeartbeat    time.Time    `json:"last_heartbeat"`
}

// HasService reports whether the worker is assigned the named service.
func (w *Worker) HasService(name string) bool {
	for _, s := range w.AssignedServices {
		if s == name {
			return true
		}
	}
	return false
}

// Status derives the worker's liveness from its last heartbeat.
func (w *Worker) Status(now time.Time, ttl time.Duration) WorkerStatus {
	age := now.Sub(w.LastHeartbeat)
	switch {
	case age <= ttl:
		return WorkerStatusHealthy
	case age <= 2*ttl:
		return WorkerStatusStale
	}
	return WorkerStatusDead
}

// Stale reports whether the worker's heartbeat is older than ttl.
func (w *Worker) Stale(now time.Time, ttl time.Duration) bool {
	return now.Sub(w.LastHeartbeat) > ttl
}

// Clone returns a deep copy safe to hand outside the registry lock.
func (w *Worker) Clone() *Worker {
	out := *w
	out.AssignedServices = append([]string(nil), w.AssignedServices...)
	if w.Capabilities.Extra != nil {
		out.Capabilities.Extra = make(map[string]string, len(w.Capabilities.Extra))
		for k, v := range w.Capabilities.Extra {
			out.Capabilities.Extra[k] = v
		}
	}
	return &out
}

// Coordinator is a registered coordinator as tracked by the edge router.
type Coordinator struct {
	ID            string    `json:"coordinator_id"`
	TunnelURL     string    `json:"tunnel_url"`
	Location      string    `json:"location,omitempty"`
	DHTPort       int       `json:"dht_port,omitempty"`
	RegisteredAt  time.Time `json:"registered_at"`
	LastHeartbeat time.Time `json:"last_heartbeat"`
}

// Stale reports whether the coordinator's heartbeat is older than ttl.
func (c *Coordinator) Stale(now time.Time, ttl time.Duration) bool {
	return now.Sub(c.LastHeartbeat) > ttl
}

// ServiceState tracks a launched service on a worker.
type ServiceState string

const (
	ServiceStatePending  ServiceState = "pending"
	ServiceStateStarting ServiceState = "starting"
	ServiceStateReady    ServiceState = "ready"
	ServiceStateDegraded ServiceState = "degraded"
	ServiceStateStopped  ServiceState = "stopped"
)

// RegisterRequest is the body of POST /api/worker/register.
type RegisterRequest struct {
	WorkerID     string       `json:"worker_id,omitempty"`
	TunnelURL    string       `json:"tunnel_url"`
	MeshIP       string       `json:"mesh_ip,omitempty"`
	Capabilities Capabilities `json:"capabilities"`
}

// RegisterResponse is the coordinator's answer to a registration.
// WorkerID is authoritative; it may differ from the requested one.
type RegisterResponse struct {
	WorkerID          string   `json:"worker_id"`
	AssignedServices  []string `json:"assigned_services"`
	HeartbeatInterval int      `json:"heartbeat_interval"`
	CoordinatorID     string   `json:"coordinator_id"`
	DHTSeeds          []string `json:"dht_seeds,omitempty"`
}

// HeartbeatRequest is the body of POST /api/worker/heartbeat.
// Load and TasksCompleted are optional; not every agent variant
// reports them.
type HeartbeatRequest struct {
	WorkerID       string   `json:"worker_id"`
	Load           *float64 `json:"load,omitempty"`
	TasksCompleted *int64   `json:"tasks_completed,omitempty"`
	Status         string   `json:"status,omitempty"`
}

// HeartbeatResponse tells a worker whether it is still known.
// Action is "re-register" when the coordinator has no live record.
type HeartbeatResponse struct {
	OK     bool   `json:"ok"`
	Action string `json:"action,omitempty"`
}

// DeregisterRequest is the body of POST /api/worker/deregister.
type DeregisterRequest struct {
	WorkerID string `json:"worker_id"`
}

// CoordinatorRegisterRequest registers a coordinator with the edge router.
type CoordinatorRegisterRequest struct {
	CoordinatorID string `json:"coordinator_id,omitempty"`
	TunnelURL     string `json:"tunnel_url"`
	Location      string `json:"location,omitempty"`
	DHTPort       int    `json:"dht_port,omitempty"`
}

// CoordinatorRegisterResponse is the edge router's answer.
type CoordinatorRegisterResponse struct {
	CoordinatorID     string `json:"coordinator_id"`
	HeartbeatInterval int    `json:"heartbeat_interval"`
}

// CoordinatorHeartbeatRequest refreshes a coordinator's TTL.
type CoordinatorHeartbeatRequest struct {
	CoordinatorID string `json:"coordinator_id"`
}

// DiscoverResponse is the body of GET /api/services/discover/{service}.
type DiscoverResponse struct {
	Service     string    `json:"service"`
	Workers     []*Worker `json:"workers"`
	Recommended string    `json:"recommended,omitempty"`
}

// BootstrapResponse is the body of GET /api/dht/bootstrap.
type BootstrapResponse struct {
	Seeds []string `json:"seeds"`
	TTL   int      `json:"ttl"`
}

// ErrorResponse is the JSON body of every non-2xx reply.
type ErrorResponse struct {
	Error             string   `json:"error"`
	AvailableServices []string `json:"available_services,omitempty"`
}

// Gap describes a service whose healthy-worker count is below target.
type Gap struct {
	Service        string `json:"service"`
	Priority       int    `json:"priority"`
	CurrentWorkers int    `json:"current_workers"`
	Status         string `json:"status"` // "critical", "warning", "ok"
}

// RouterStats are the finger-cache router counters exposed via /stats.
type RouterStats struct {
	LocalRequests     int64   `json:"local_requests"`
	ForwardedRequests int64   `json:"forwarded_requests"`
	CacheHits         int64   `json:"cache_hits"`
	CacheMisses       int64   `json:"cache_misses"`
	DHTLookups        int64   `json:"dht_lookups"`
	HTTPLookups       int64   `json:"http_lookups"`
	FailedRequests    int64   `json:"failed_requests"`
	CacheSize         int     `json:"cache_size"`
	CacheHitRate      float64 `json:"cache_hit_rate"`
}
