package assign

import (
	"testing"

	"github.com/hivemesh/hive/pkg/catalog"
	"github.com/hivemesh/hive/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func gpuCaps() types.Capabilities {
	return types.Capabilities{WorkerType: types.WorkerTypeGPU, HasGPU: true, GPUType: "rtx-4090"}
}

func cpuCaps() types.Capabilities {
	return types.Capabilities{WorkerType: types.WorkerTypeCPU, CPUCores: 16, RAMGB: 64}
}

func worker(id string, wt types.WorkerType, services ...string) *types.Worker {
	return &types.Worker{
		ID:               id,
		Capabilities:     types.Capabilities{WorkerType: wt},
		AssignedServices: services,
	}
}

// First GPU worker on an empty registry fills every gap it can reach,
// GPU and CPU tiers included.
func TestFirstGPUWorkerFillsAllCriticalGaps(t *testing.T) {
	cat := catalog.Default()

	got := Assign(gpuCaps(), nil, cat)

	assert.Contains(t, got, "llm-inference")
	assert.Contains(t, got, "vision-ocr")
	assert.Contains(t, got, "notes-coa")
	// All uncovered eligible services, not just priority 1.
	assert.Contains(t, got, "rag-embeddings")
	assert.Contains(t, got, "doc-extract")
	assert.NotContains(t, got, "vector-store")
	assert.NotContains(t, got, "edge-relay")
}

// With every eligible service already covered, a second GPU worker
// specializes in exactly one service: lowest coverage, then priority,
// then name.
func TestSecondGPUWorkerSpecializes(t *testing.T) {
	cat := catalog.Default()
	peers := []*types.Worker{
		worker("gpu-1", types.WorkerTypeGPU, "llm-inference", "vision-ocr", "rag-embeddings"),
		worker("cpu-1", types.WorkerTypeCPU, "doc-extract", "notes-coa", "ner-service"),
	}

	got := Assign(gpuCaps(), peers, cat)

	require.Len(t, got, 1)
	// Everything at coverage 1; tie-break by priority then name.
	assert.Equal(t, "llm-inference", got[0])
}

func TestCPUWorkerNeverGetsGPUServices(t *testing.T) {
	cat := catalog.Default()

	got := Assign(cpuCaps(), nil, cat)

	require.NotEmpty(t, got)
	for _, name := range got {
		svc, err := cat.Get(name)
		require.NoError(t, err)
		assert.Equal(t, types.WorkerTypeCPU, svc.Requires, name)
	}
}

func TestMultiplicityByTierPopulation(t *testing.T) {
	cat := catalog.Default()

	tests := []struct {
		name  string
		peers []*types.Worker
		want  int
	}{
		{
			name:  "empty tier bootstraps with three",
			peers: nil,
			want:  3,
		},
		{
			name: "sparse tier takes two",
			peers: []*types.Worker{
				worker("cpu-1", types.WorkerTypeCPU, "notes-coa"),
				worker("cpu-2", types.WorkerTypeCPU, "doc-extract"),
			},
			want: 2,
		},
		{
			name: "populated tier specializes",
			peers: []*types.Worker{
				worker("cpu-1", types.WorkerTypeCPU, "notes-coa"),
				worker("cpu-2", types.WorkerTypeCPU, "doc-extract"),
				worker("cpu-3", types.WorkerTypeCPU, "ner-service"),
			},
			want: 1,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Assign(cpuCaps(), tt.peers, cat)
			assert.Len(t, got, tt.want)
		})
	}
}

func TestLowestCoverageWinsForCPUWorker(t *testing.T) {
	cat := catalog.Default()
	peers := []*types.Worker{
		worker("cpu-1", types.WorkerTypeCPU, "notes-coa", "doc-extract"),
		worker("cpu-2", types.WorkerTypeCPU, "notes-coa", "doc-extract"),
		worker("cpu-3", types.WorkerTypeCPU, "notes-coa"),
	}

	got := Assign(cpuCaps(), peers, cat)

	require.Len(t, got, 1)
	// ner-service has coverage 0, everything else is covered.
	assert.Equal(t, "ner-service", got[0])
}

// Running the policy twice on the same snapshot yields the same set.
func TestAssignDeterministic(t *testing.T) {
	cat := catalog.Default()
	peers := []*types.Worker{
		worker("gpu-1", types.WorkerTypeGPU, "llm-inference"),
		worker("cpu-1", types.WorkerTypeCPU, "doc-extract"),
	}

	first := Assign(gpuCaps(), peers, cat)
	second := Assign(gpuCaps(), peers, cat)

	assert.Equal(t, first, second)
}

func TestStorageAndEdgeWorkers(t *testing.T) {
	cat := catalog.Default()

	storage := Assign(types.Capabilities{WorkerType: types.WorkerTypeStorage, StorageGB: 2000}, nil, cat)
	assert.ElementsMatch(t, []string{"vector-store", "graph-store"}, storage)

	edge := Assign(types.Capabilities{WorkerType: types.WorkerTypeEdge, PublicIP: "203.0.113.7"}, nil, cat)
	assert.ElementsMatch(t, []string{"edge-relay", "edge-cache"}, edge)
}

func TestAutoTypeGetsNothing(t *testing.T) {
	// "auto" must be resolved by detection before registration.
	cat := catalog.Default()
	got := Assign(types.Capabilities{WorkerType: types.WorkerTypeAuto}, nil, cat)
	assert.Empty(t, got)
}
