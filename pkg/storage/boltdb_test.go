package storage

import (
	"testing"
	"time"

	"github.com/hivemesh/hive/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) *BoltStore {
	t.Helper()
	store, err := NewBoltStore(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return store
}

func TestCoordinatorCRUD(t *testing.T) {
	store := newTestStore(t)

	c := &types.Coordinator{
		ID:            "coord-alpha",
		TunnelURL:     "https://alpha.example.com",
		Location:      "eu-west",
		DHTPort:       4001,
		RegisteredAt:  time.Now().UTC().Truncate(time.Second),
		LastHeartbeat: time.Now().UTC().Truncate(time.Second),
	}
	require.NoError(t, store.PutCoordinator(c))

	got, err := store.GetCoordinator("coord-alpha")
	require.NoError(t, err)
	assert.Equal(t, c.TunnelURL, got.TunnelURL)
	assert.Equal(t, c.Location, got.Location)
	assert.Equal(t, c.DHTPort, got.DHTPort)

	// Upsert overwrites.
	c.TunnelURL = "https://alpha-2.example.com"
	require.NoError(t, store.PutCoordinator(c))
	got, err = store.GetCoordinator("coord-alpha")
	require.NoError(t, err)
	assert.Equal(t, "https://alpha-2.example.com", got.TunnelURL)

	all, err := store.ListCoordinators()
	require.NoError(t, err)
	assert.Len(t, all, 1)

	require.NoError(t, store.DeleteCoordinator("coord-alpha"))
	_, err = store.GetCoordinator("coord-alpha")
	assert.Error(t, err)

	// Idempotent delete.
	assert.NoError(t, store.DeleteCoordinator("coord-alpha"))
}

func TestListEmptyStore(t *testing.T) {
	store := newTestStore(t)
	all, err := store.ListCoordinators()
	require.NoError(t, err)
	assert.Empty(t, all)
}

func TestStoreSurvivesReopen(t *testing.T) {
	dir := t.TempDir()

	store, err := NewBoltStore(dir)
	require.NoError(t, err)
	require.NoError(t, store.PutCoordinator(&types.Coordinator{
		ID:        "coord-1",
		TunnelURL: "https://c1.example.com",
	}))
	require.NoError(t, store.Close())

	reopened, err := NewBoltStore(dir)
	require.NoError(t, err)
	defer reopened.Close()

	got, err := reopened.GetCoordinator("coord-1")
	require.NoError(t, err)
	assert.Equal(t, "https://c1.example.com", got.TunnelURL)
}
