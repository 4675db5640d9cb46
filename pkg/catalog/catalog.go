package catalog

import (
	"errors"
	"sort"
	"time"

	"github.com/hivemesh/hive/pkg/types"
)

// ErrUnknownService is returned when a service name is not in the catalog.
var ErrUnknownService = errors.New("unknown service")

// Service is the static descriptor for one fabric service.
type Service struct {
	Name         string
	Tier         types.Tier
	Requires     types.WorkerType
	Priority     int // 1 = critical; lower is more important
	Port         int // internal TCP port the service container listens on
	Image        string
	ProxyTimeout time.Duration
}

// Catalog is the static service table. Read-only at runtime; any
// change requires a restart.
type Catalog struct {
	services map[string]*Service
	ordered  []*Service
}

// Default returns the baked-in catalog covering all service classes.
func Default() *Catalog {
	return New([]*Service{
		{Name: "llm-inference", Tier: types.TierGPU, Requires: types.WorkerTypeGPU, Priority: 1, Port: 8001, Image: "ghcr.io/hivemesh/llm-inference:latest", ProxyTimeout: 300 * time.Second},
		{Name: "vision-ocr", Tier: types.TierGPU, Requires: types.WorkerTypeGPU, Priority: 1, Port: 8002, Image: "ghcr.io/hivemesh/vision-ocr:latest", ProxyTimeout: 120 * time.Second},
		{Name: "rag-embeddings", Tier: types.TierGPU, Requires: types.WorkerTypeGPU, Priority: 2, Port: 8003, Image: "ghcr.io/hivemesh/rag-embeddings:latest", ProxyTimeout: 60 * time.Second},
		{Name: "doc-extract", Tier: types.TierCPU, Requires: types.WorkerTypeCPU, Priority: 2, Port: 8004, Image: "ghcr.io/hivemesh/doc-extract:latest", ProxyTimeout: 60 * time.Second},
		{Name: "notes-coa", Tier: types.TierCPU, Requires: types.WorkerTypeCPU, Priority: 1, Port: 8005, Image: "ghcr.io/hivemesh/notes-coa:latest", ProxyTimeout: 120 * time.Second},
		{Name: "ner-service", Tier: types.TierCPU, Requires: types.WorkerTypeCPU, Priority: 3, Port: 8006, Image: "ghcr.io/hivemesh/ner-service:latest", ProxyTimeout: 30 * time.Second},
		{Name: "vector-store", Tier: types.TierStorage, Requires: types.WorkerTypeStorage, Priority: 1, Port: 8010, Image: "ghcr.io/hivemesh/vector-store:latest", ProxyTimeout: 30 * time.Second},
		{Name: "graph-store", Tier: types.TierStorage, Requires: types.WorkerTypeStorage, Priority: 2, Port: 8011, Image: "ghcr.io/hivemesh/graph-store:latest", ProxyTimeout: 30 * time.Second},
		{Name: "edge-relay", Tier: types.TierEdge, Requires: types.WorkerTypeEdge, Priority: 1, Port: 8021, Image: "ghcr.io/hivemesh/edge-relay:latest", ProxyTimeout: 30 * time.Second},
		{Name: "edge-cache", Tier: types.TierEdge, Requires: types.WorkerTypeEdge, Priority: 2, Port: 8020, Image: "ghcr.io/hivemesh/edge-cache:latest", ProxyTimeout: 30 * time.Second},
	})
}

// New builds a catalog from a descriptor list. Names must be unique.
func New(services []*Service) *Catalog {
	c := &Catalog{
		services: make(map[string]*Service, len(services)),
		ordered:  make([]*Service, 0, len(services)),
	}
	for _, s := range services {
		if _, ok := c.services[s.Name]; ok {
			continue
		}
		c.services[s.Name] = s
		c.ordered = append(c.ordered, s)
	}
	sort.Slice(c.ordered, func(i, j int) bool {
		return c.ordered[i].Name < c.ordered[j].Name
	})
	return c
}

// Get returns the descriptor for a service name.
func (c *Catalog) Get(name string) (*Service, error) {
	s, ok := c.services[name]
	if !ok {
		return nil, ErrUnknownService
	}
	return s, nil
}

// Has reports whether name is a cataloged service.
func (c *Catalog) Has(name string) bool {
	_, ok := c.services[name]
	return ok
}

// List returns all descriptors sorted by name.
func (c *Catalog) List() []*Service {
	out := make([]*Service, len(c.ordered))
	copy(out, c.ordered)
	return out
}

// Names returns all service names sorted.
func (c *Catalog) Names() []string {
	names := make([]string, 0, len(c.ordered))
	for _, s := range c.ordered {
		names = append(names, s.Name)
	}
	return names
}

// ProxyTimeout returns the per-service forwarding deadline, falling
// back to 30s for unknown services.
func (c *Catalog) ProxyTimeout(name string) time.Duration {
	if s, ok := c.services[name]; ok && s.ProxyTimeout > 0 {
		return s.ProxyTimeout
	}
	return 30 * time.Second
}

// Eligible returns the services a worker with the given capabilities
// may run. A GPU worker's set additionally includes all CPU services.
// Edge workers are eligible for edge services.
func (c *Catalog) Eligible(caps types.Capabilities) []*Service {
	var out []*Service
	for _, s := range c.ordered {
		if eligible(s, caps) {
			out = append(out, s)
		}
	}
	return out
}

func eligible(s *Service, caps types.Capabilities) bool {
	switch caps.WorkerType {
	case types.WorkerTypeGPU:
		return s.Requires == types.WorkerTypeGPU || s.Requires == types.WorkerTypeCPU
	case types.WorkerTypeCPU:
		return s.Requires == types.WorkerTypeCPU
	case types.WorkerTypeStorage:
		return s.Requires == types.WorkerTypeStorage
	case types.WorkerTypeEdge:
		return s.Requires == types.WorkerTypeEdge
	}
	return false
}
