package registry

import (
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/hivemesh/hive/pkg/assign"
	"github.com/hivemesh/hive/pkg/catalog"
	"github.com/hivemesh/hive/pkg/log"
	"github.com/hivemesh/hive/pkg/types"
)

var (
	// ErrUnknownWorker is returned when a heartbeat or lookup names a
	// worker id with no live record. The worker should re-register.
	ErrUnknownWorker = errors.New("unknown worker")

	// ErrIDConflict is returned when a registration claims a worker id
	// that another live worker is actively using.
	ErrIDConflict = errors.New("worker id conflict")
)

// Config holds registry timing parameters.
type Config struct {
	// HeartbeatInterval is the interval workers are told to heartbeat at.
	HeartbeatInterval time.Duration

	// WorkerTTL is how long a record stays live without a heartbeat.
	// Defaults to 5x the heartbeat interval.
	WorkerTTL time.Duration
}

func (c *Config) applyDefaults() {
	if c.HeartbeatInterval <= 0 {
		c.HeartbeatInterval = 30 * time.Second
	}
	if c.WorkerTTL <= 0 {
		c.WorkerTTL = 5 * c.HeartbeatInterval
	}
}

// record is the registry's internal view of a worker.
type record struct {
	worker       *types.Worker
	lastRegister time.Time
}

// Registry is the in-memory worker registry for one coordinator.
//
// The primary map is authoritative; the service index is derived and
// rebuilt from the primary map whenever an inconsistency is detected.
// Mutations hold the lock only across map updates, never across I/O.
type Registry struct {
	mu      sync.RWMutex
	cfg     Config
	cat     *catalog.Catalog
	workers map[string]*record
	index   map[string]map[string]bool // service -> set of worker ids
	tierSeq map[types.WorkerType]int   // id allocation cursors, never reused

	// now is swapped in tests to drive TTL expiry.
	now func() time.Time
}

// New creates a registry over the given catalog.
func New(cat *catalog.Catalog, cfg Config) *Registry {
	cfg.applyDefaults()
	return &Registry{
		cfg:     cfg,
		cat:     cat,
		workers: make(map[string]*record),
		index:   make(map[string]map[string]bool),
		tierSeq: make(map[types.WorkerType]int),
		now:     time.Now,
	}
}

// HeartbeatInterval returns the interval workers are told to use.
func (r *Registry) HeartbeatInterval() time.Duration {
	return r.cfg.HeartbeatInterval
}

// WorkerTTL returns the liveness TTL.
func (r *Registry) WorkerTTL() time.Duration {
	return r.cfg.WorkerTTL
}

// Register inserts or refreshes a worker record and runs the assignment
// policy on the resulting snapshot. The returned worker id is
// authoritative and may differ from the requested one.
//
// An identical re-registration (same id, tunnel URL, and capabilities)
// within two heartbeat intervals touches the existing record without
// reassigning, so retries do not thrash assignments.
func (r *Registry) Register(req types.RegisterRequest) (*types.Worker, error) {
	if req.TunnelURL == "" {
		return nil, fmt.Errorf("tunnel_url is required")
	}
	if !req.Capabilities.WorkerType.Valid() || req.Capabilities.WorkerType == types.WorkerTypeAuto {
		return nil, fmt.Errorf("unrecognized worker_type %q", req.Capabilities.WorkerType)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	now := r.now()
	r.purgeLocked(now)

	id := req.WorkerID
	if rec, ok := r.workers[id]; ok && id != "" {
		switch {
		// Same machine retrying: touch, keep assignments.
		case rec.worker.TunnelURL == req.TunnelURL &&
			capsEqual(rec.worker.Capabilities, req.Capabilities) &&
			now.Sub(rec.lastRegister) <= 2*r.cfg.HeartbeatInterval:
			rec.worker.LastHeartbeat = now
			rec.lastRegister = now
			return rec.worker.Clone(), nil

		// A different machine claiming an id whose record is still live.
		case rec.worker.TunnelURL != req.TunnelURL &&
			!rec.worker.Stale(now, r.cfg.WorkerTTL):
			return nil, ErrIDConflict

		// A stale id is never reused; the stray record ages out.
		case rec.worker.Stale(now, r.cfg.WorkerTTL):
			id = r.allocateIDLocked(req.Capabilities.WorkerType)
		}
		// Otherwise: re-registration of a live worker. Overwrite below
		// and rerun the assignment policy.
	} else if id == "" {
		id = r.allocateIDLocked(req.Capabilities.WorkerType)
	}

	peers := r.snapshotLocked(now, id)
	assigned := assign.Assign(req.Capabilities, peers, r.cat)

	w := &types.Worker{
		ID:               id,
		TunnelURL:        req.TunnelURL,
		MeshIP:           req.MeshIP,
		Capabilities:     req.Capabilities,
		AssignedServices: assigned,
		RegisteredAt:     now,
		LastHeartbeat:    now,
	}
	if prev, ok := r.workers[id]; ok {
		w.RegisteredAt = prev.worker.RegisteredAt
		w.TasksCompleted = prev.worker.TasksCompleted
		r.dropFromIndexLocked(prev.worker)
	}
	r.workers[id] = &record{worker: w, lastRegister: now}
	r.addToIndexLocked(w)

	return w.Clone(), nil
}

// Heartbeat refreshes a worker's liveness and reported counters.
// Returns ErrUnknownWorker when the id is absent or stale, signaling
// the worker to re-register. Assignments never change here.
func (r *Registry) Heartbeat(req types.HeartbeatRequest) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := r.now()
	rec, ok := r.workers[req.WorkerID]
	if !ok || rec.worker.Stale(now, r.cfg.WorkerTTL) {
		return ErrUnknownWorker
	}

	rec.worker.LastHeartbeat = now
	if req.Load != nil {
		rec.worker.Load = clamp01(*req.Load)
	}
	if req.TasksCompleted != nil {
		rec.worker.TasksCompleted = *req.TasksCompleted
	}
	return nil
}

// Deregister removes a worker record immediately.
func (r *Registry) Deregister(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if rec, ok := r.workers[id]; ok {
		r.dropFromIndexLocked(rec.worker)
		delete(r.workers, id)
	}
}

// ListWorkers returns clones of all non-stale worker records.
func (r *Registry) ListWorkers() []*types.Worker {
	r.mu.RLock()
	defer r.mu.RUnlock()

	now := r.now()
	out := make([]*types.Worker, 0, len(r.workers))
	for _, rec := range r.workers {
		if !rec.worker.Stale(now, r.cfg.WorkerTTL) {
			out = append(out, rec.worker.Clone())
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Get returns a clone of one non-stale worker record.
func (r *Registry) Get(id string) (*types.Worker, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	rec, ok := r.workers[id]
	if !ok || rec.worker.Stale(r.now(), r.cfg.WorkerTTL) {
		return nil, ErrUnknownWorker
	}
	return rec.worker.Clone(), nil
}

// FindByService returns the non-stale workers assigned the service,
// sorted by id for stable round-robin cursors.
func (r *Registry) FindByService(service string) []*types.Worker {
	r.mu.RLock()
	ids := r.index[service]
	now := r.now()

	out := make([]*types.Worker, 0, len(ids))
	inconsistent := false
	for id := range ids {
		rec, ok := r.workers[id]
		if !ok {
			inconsistent = true
			continue
		}
		if rec.worker.Stale(now, r.cfg.WorkerTTL) || !rec.worker.HasService(service) {
			if !rec.worker.HasService(service) {
				inconsistent = true
			}
			continue
		}
		out = append(out, rec.worker.Clone())
	}
	r.mu.RUnlock()

	if inconsistent {
		// Index drifted from the primary map; rebuild it.
		logger := log.WithComponent("registry")
		logger.Warn().Str("service", service).Msg("service index out of sync, rebuilding")
		r.mu.Lock()
		r.rebuildIndexLocked()
		r.mu.Unlock()
	}

	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Gaps returns per-service coverage, sorted by (current workers asc,
// priority asc, name). Status is "critical" for zero workers,
// "warning" for a single worker on a priority-1 service, "ok" otherwise.
func (r *Registry) Gaps() []types.Gap {
	counts := make(map[string]int)
	for _, svc := range r.cat.List() {
		counts[svc.Name] = len(r.FindByService(svc.Name))
	}

	gaps := make([]types.Gap, 0, len(counts))
	for _, svc := range r.cat.List() {
		n := counts[svc.Name]
		status := "ok"
		switch {
		case n == 0:
			status = "critical"
		case n == 1 && svc.Priority == 1:
			status = "warning"
		}
		gaps = append(gaps, types.Gap{
			Service:        svc.Name,
			Priority:       svc.Priority,
			CurrentWorkers: n,
			Status:         status,
		})
	}
	sort.Slice(gaps, func(i, j int) bool {
		a, b := gaps[i], gaps[j]
		if a.CurrentWorkers != b.CurrentWorkers {
			return a.CurrentWorkers < b.CurrentWorkers
		}
		if a.Priority != b.Priority {
			return a.Priority < b.Priority
		}
		return a.Service < b.Service
	})
	return gaps
}

// PurgeStale evicts records past twice the TTL and returns the count.
// Records between one and two TTLs stay in the map (invisible to all
// lookups) so their ids are not reallocated while potentially live.
func (r *Registry) PurgeStale() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.purgeLocked(r.now())
}

// Count returns the number of non-stale workers.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()

	now := r.now()
	n := 0
	for _, rec := range r.workers {
		if !rec.worker.Stale(now, r.cfg.WorkerTTL) {
			n++
		}
	}
	return n
}

// ServicesWithWorkers returns the names of services that have at least
// one non-stale worker, sorted.
func (r *Registry) ServicesWithWorkers() []string {
	var out []string
	for _, svc := range r.cat.List() {
		if len(r.FindByService(svc.Name)) > 0 {
			out = append(out, svc.Name)
		}
	}
	return out
}

func (r *Registry) purgeLocked(now time.Time) int {
	purged := 0
	for id, rec := range r.workers {
		if now.Sub(rec.worker.LastHeartbeat) > 2*r.cfg.WorkerTTL {
			r.dropFromIndexLocked(rec.worker)
			delete(r.workers, id)
			purged++
		}
	}
	return purged
}

func (r *Registry) snapshotLocked(now time.Time, excludeID string) []*types.Worker {
	out := make([]*types.Worker, 0, len(r.workers))
	for id, rec := range r.workers {
		if id == excludeID {
			continue
		}
		if !rec.worker.Stale(now, r.cfg.WorkerTTL) {
			out = append(out, rec.worker)
		}
	}
	return out
}

func (r *Registry) allocateIDLocked(wt types.WorkerType) string {
	r.tierSeq[wt]++
	return fmt.Sprintf("%s-%d", wt, r.tierSeq[wt])
}

func (r *Registry) addToIndexLocked(w *types.Worker) {
	for _, s := range w.AssignedServices {
		if r.index[s] == nil {
			r.index[s] = make(map[string]bool)
		}
		r.index[s][w.ID] = true
	}
}

func (r *Registry) dropFromIndexLocked(w *types.Worker) {
	for _, s := range w.AssignedServices {
		delete(r.index[s], w.ID)
		if len(r.index[s]) == 0 {
			delete(r.index, s)
		}
	}
}

func (r *Registry) rebuildIndexLocked() {
	r.index = make(map[string]map[string]bool)
	for _, rec := range r.workers {
		r.addToIndexLocked(rec.worker)
	}
}

// capsEqual compares capabilities for the idempotency check. The Extra
// bucket is ignored; two requests differing only in Extra are still
// the same machine.
func capsEqual(a, b types.Capabilities) bool {
	return a.WorkerType == b.WorkerType &&
		a.HasGPU == b.HasGPU &&
		a.GPUType == b.GPUType &&
		a.CPUCores == b.CPUCores &&
		a.RAMGB == b.RAMGB &&
		a.StorageGB == b.StorageGB &&
		a.PublicIP == b.PublicIP
}

func clamp01(f float64) float64 {
	if f < 0 {
		return 0
	}
	if f > 1 {
		return 1
	}
	return f
}
