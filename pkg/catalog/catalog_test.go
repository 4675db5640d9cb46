package catalog

import (
	"testing"
	"time"

	"github.com/hivemesh/hive/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultCatalog(t *testing.T) {
	c := Default()

	t.Run("mandatory services present", func(t *testing.T) {
		for _, name := range []string{
			"llm-inference", "vision-ocr", "rag-embeddings",
			"doc-extract", "notes-coa", "ner-service",
			"vector-store", "graph-store", "edge-relay", "edge-cache",
		} {
			assert.True(t, c.Has(name), "catalog should contain %s", name)
		}
	})

	t.Run("critical services are priority 1", func(t *testing.T) {
		for _, name := range []string{"llm-inference", "vision-ocr", "notes-coa", "vector-store", "edge-relay"} {
			svc, err := c.Get(name)
			require.NoError(t, err)
			assert.Equal(t, 1, svc.Priority, name)
		}
	})

	t.Run("tiers match required worker types", func(t *testing.T) {
		for _, svc := range c.List() {
			assert.Equal(t, svc.Tier.RequiredType(), svc.Requires, svc.Name)
		}
	})

	t.Run("unknown service", func(t *testing.T) {
		_, err := c.Get("no-such-service")
		assert.ErrorIs(t, err, ErrUnknownService)
	})
}

func TestEligible(t *testing.T) {
	c := Default()

	tests := []struct {
		name       string
		caps       types.Capabilities
		contains   []string
		excludes   []string
	}{
		{
			name:     "gpu worker gets gpu and cpu services",
			caps:     types.Capabilities{WorkerType: types.WorkerTypeGPU, HasGPU: true},
			contains: []string{"llm-inference", "vision-ocr", "notes-coa", "doc-extract"},
			excludes: []string{"vector-store", "edge-relay"},
		},
		{
			name:     "cpu worker gets only cpu services",
			caps:     types.Capabilities{WorkerType: types.WorkerTypeCPU},
			contains: []string{"notes-coa", "doc-extract", "ner-service"},
			excludes: []string{"llm-inference", "vision-ocr", "vector-store", "edge-cache"},
		},
		{
			name:     "storage worker gets storage services",
			caps:     types.Capabilities{WorkerType: types.WorkerTypeStorage},
			contains: []string{"vector-store", "graph-store"},
			excludes: []string{"llm-inference", "notes-coa"},
		},
		{
			name:     "edge worker gets edge services",
			caps:     types.Capabilities{WorkerType: types.WorkerTypeEdge, PublicIP: "203.0.113.7"},
			contains: []string{"edge-relay", "edge-cache"},
			excludes: []string{"llm-inference", "vector-store"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := c.Eligible(tt.caps)
			names := make(map[string]bool, len(got))
			for _, s := range got {
				names[s.Name] = true
			}
			for _, want := range tt.contains {
				assert.True(t, names[want], "expected %s eligible", want)
			}
			for _, not := range tt.excludes {
				assert.False(t, names[not], "expected %s ineligible", not)
			}
		})
	}
}

func TestProxyTimeout(t *testing.T) {
	c := Default()
	assert.Equal(t, 300*time.Second, c.ProxyTimeout("llm-inference"))
	assert.Equal(t, 60*time.Second, c.ProxyTimeout("rag-embeddings"))
	assert.Equal(t, 30*time.Second, c.ProxyTimeout("no-such-service"))
}

func TestNewDropsDuplicates(t *testing.T) {
	c := New([]*Service{
		{Name: "a", Tier: types.TierCPU, Requires: types.WorkerTypeCPU, Priority: 1, Port: 9000},
		{Name: "a", Tier: types.TierGPU, Requires: types.WorkerTypeGPU, Priority: 2, Port: 9001},
	})
	svc, err := c.Get("a")
	require.NoError(t, err)
	assert.Equal(t, 9000, svc.Port, "first entry wins")
	assert.Len(t, c.List(), 1)
}
