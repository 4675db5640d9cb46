package dht

import (
	"context"
	"time"

	"github.com/hivemesh/hive/pkg/client"
	"github.com/hivemesh/hive/pkg/log"
)

// SeedSource fetches peer-discovery seed addresses from the edge
// router's bootstrap endpoint, caching them for the advertised TTL.
type SeedSource struct {
	c *client.Client

	seeds     []string
	expiresAt time.Time
	now       func() time.Time
}

// NewSeedSource creates a seed source backed by the edge router at
// edgeURL.
func NewSeedSource(edgeURL string) *SeedSource {
	return &SeedSource{
		c:   client.New(edgeURL),
		now: time.Now,
	}
}

// Seeds returns the current seed list, refreshing it from the edge
// router when the cached copy has expired. A failed refresh returns
// the previous list; bootstrap is best-effort.
func (s *SeedSource) Seeds(ctx context.Context) []string {
	if s.now().Before(s.expiresAt) {
		return s.seeds
	}

	resp, err := s.c.Bootstrap(ctx)
	if err != nil {
		logger := log.WithComponent("dht")
		logger.Debug().Err(err).Msg("bootstrap fetch failed")
		return s.seeds
	}

	ttl := time.Duration(resp.TTL) * time.Second
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	s.seeds = resp.Seeds
	s.expiresAt = s.now().Add(ttl)
	return s.seeds
}
