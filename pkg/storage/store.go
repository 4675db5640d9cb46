package storage

import (
	"github.com/hivemesh/hive/pkg/types"
)

// Store is the edge router's persistent coordinator registry.
//
// Only coordinator records land here; worker heartbeats are in-process
// coordinator state and must never touch durable storage.
type Store interface {
	PutCoordinator(c *types.Coordinator) error
	GetCoordinator(id string) (*types.Coordinator, error)
	ListCoordinators() ([]*types.Coordinator, error)
	DeleteCoordinator(id string) error

	Close() error
}
