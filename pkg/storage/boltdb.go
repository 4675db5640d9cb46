package storage

import (
	"encoding/json"
	"fmt"
	"path/filepath"

	"github.com/hivemesh/hive/pkg/types"
	bolt "go.etcd.io/bbolt"
)

var (
	// Bucket names
	bucketCoordinators = []byte("coordinators")
)

// BoltStore implements Store using BoltDB
type BoltStore struct {
	db *bolt.DB
}

// NewBoltStore creates a BoltDB-backed store under dataDir
func NewBoltStore(dataDir string) (*BoltStore, error) {
	dbPath := filepath.Join(dataDir, "hive-edge.db")

	db, err := bolt.Open(dbPath, 0600, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	err = db.Update(func(tx *bolt.Tx) error {
		if _, err := tx.CreateBucketIfNotExists(bucketCoordinators); err != nil {
			return fmt.Errorf("failed to create bucket %s: %w", bucketCoordinators, err)
		}
		return nil
	})
	if err != nil {
		db.Close()
		return nil, err
	}

	return &BoltStore{db: db}, nil
}

// Close closes the database
func (s *BoltStore) Close() error {
	return s.db.Close()
}

// PutCoordinator upserts a coordinator record with a durable write
func (s *BoltStore) PutCoordinator(c *types.Coordinator) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketCoordinators)
		data, err := json.Marshal(c)
		if err != nil {
			return err
		}
		return b.Put([]byte(c.ID), data)
	})
}

// GetCoordinator looks up a coordinator by id
func (s *BoltStore) GetCoordinator(id string) (*types.Coordinator, error) {
	var c types.Coordinator
	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketCoordinators)
		data := b.Get([]byte(id))
		if data == nil {
			return fmt.Errorf("coordinator not found: %s", id)
		}
		return json.Unmarshal(data, &c)
	})
	if err != nil {
		return nil, err
	}
	return &c, nil
}

// ListCoordinators returns all stored coordinator records
func (s *BoltStore) ListCoordinators() ([]*types.Coordinator, error) {
	var out []*types.Coordinator
	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketCoordinators)
		return b.ForEach(func(k, v []byte) error {
			var c types.Coordinator
			if err := json.Unmarshal(v, &c); err != nil {
				return err
			}
			out = append(out, &c)
			return nil
		})
	})
	return out, err
}

// DeleteCoordinator removes a coordinator record (idempotent)
func (s *BoltStore) DeleteCoordinator(id string) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketCoordinators)
		return b.Delete([]byte(id))
	})
}
