package coordinator

import (
	"context"
	"time"

	"github.com/hivemesh/hive/pkg/client"
	"github.com/hivemesh/hive/pkg/types"
)

// edgeHeartbeatInterval is how often the coordinator refreshes its
// record at the edge router. One beat per coordinator per minute keeps
// edge storage writes trivial.
const edgeHeartbeatInterval = time.Minute

// edgeLoop keeps this coordinator registered with the edge router.
// A rejected heartbeat triggers an immediate re-registration; transient
// failures wait for the next tick.
func (s *Server) edgeLoop(ctx context.Context) {
	c := client.New(s.cfg.EdgeRouterURL)
	logger := s.logger.With().Str("edge_router", s.cfg.EdgeRouterURL).Logger()

	register := func() bool {
		_, err := c.RegisterCoordinator(ctx, types.CoordinatorRegisterRequest{
			CoordinatorID: s.cfg.ID,
			TunnelURL:     s.cfg.AdvertiseURL(),
			Location:      s.cfg.Location,
			DHTPort:       s.cfg.DHTPort,
		})
		if err != nil {
			logger.Warn().Err(err).Msg("edge registration failed")
			return false
		}
		logger.Info().Msg("registered with edge router")
		return true
	}

	registered := register()

	ticker := time.NewTicker(edgeHeartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if !registered {
				registered = register()
				continue
			}
			resp, err := c.HeartbeatCoordinator(ctx, s.cfg.ID)
			switch {
			case err != nil:
				logger.Warn().Err(err).Msg("edge heartbeat failed")
			case !resp.OK:
				registered = register()
			}
		}
	}
}

// AdvertiseURL is the URL the edge router should forward through to
// reach this coordinator. Defaults to the listen address when no
// tunnel URL was configured.
func (c *Config) AdvertiseURL() string {
	if c.TunnelURL != "" {
		return c.TunnelURL
	}
	return "http://" + hostportOrLocal(c.ListenAddr)
}

func hostportOrLocal(addr string) string {
	if len(addr) > 0 && addr[0] == ':' {
		return "127.0.0.1" + addr
	}
	return addr
}
