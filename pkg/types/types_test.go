package types

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestWorkerTypeValid(t *testing.T) {
	assert.True(t, WorkerTypeGPU.Valid())
	assert.True(t, WorkerTypeAuto.Valid())
	assert.False(t, WorkerType("quantum").Valid())
	assert.False(t, WorkerType("").Valid())
}

func TestTierRequiredType(t *testing.T) {
	assert.Equal(t, WorkerTypeGPU, TierGPU.RequiredType())
	assert.Equal(t, WorkerTypeStorage, TierStorage.RequiredType())
	assert.Equal(t, WorkerTypeEdge, TierEdge.RequiredType())
}

func TestWorkerStatus(t *testing.T) {
	ttl := 150 * time.Second
	base := time.Now()
	w := &Worker{LastHeartbeat: base}

	tests := []struct {
		name string
		age  time.Duration
		want WorkerStatus
	}{
		{"fresh", 0, WorkerStatusHealthy},
		{"at ttl", ttl, WorkerStatusHealthy},
		{"past ttl", ttl + time.Second, WorkerStatusStale},
		{"at double ttl", 2 * ttl, WorkerStatusStale},
		{"past double ttl", 2*ttl + time.Second, WorkerStatusDead},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, w.Status(base.Add(tt.age), ttl))
		})
	}
}

func TestWorkerHasService(t *testing.T) {
	w := &Worker{AssignedServices: []string{"llm-inference", "vision-ocr"}}
	assert.True(t, w.HasService("vision-ocr"))
	assert.False(t, w.HasService("doc-extract"))
}

func TestWorkerClone(t *testing.T) {
	w := &Worker{
		ID:               "gpu-1",
		AssignedServices: []string{"llm-inference"},
		Capabilities:     Capabilities{Extra: map[string]string{"zone": "a"}},
	}

	c := w.Clone()
	c.AssignedServices[0] = "mutated"
	c.Capabilities.Extra["zone"] = "b"

	assert.Equal(t, "llm-inference", w.AssignedServices[0])
	assert.Equal(t, "a", w.Capabilities.Extra["zone"])
}
