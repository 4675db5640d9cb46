package main

import (
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"github.com/hivemesh/hive/pkg/catalog"
	"github.com/hivemesh/hive/pkg/coordinator"
)

var (
	coordFlagID            string
	coordFlagListenAddr    string
	coordFlagHeartbeat     int
	coordFlagWorkerTTL     int
	coordFlagEdgeRouterURL string
	coordFlagTunnelURL     string
	coordFlagLocation      string
	coordFlagDHTPort       int
	coordFlagRateLimit     float64
)

var coordinatorCmd = &cobra.Command{
	Use:   "coordinator",
	Short: "Run a coordinator",
	Long: `Run a coordinator: the worker registry, assignment policy, and
reverse proxy for one region of the fabric. Worker state lives
in-process; workers re-register after a restart.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		file, err := loadFileConfig(flagConfig)
		if err != nil {
			return err
		}

		cfg := coordinator.Config{
			ID:                pick(coordFlagID, file.Coordinator.ID),
			ListenAddr:        pick(coordFlagListenAddr, file.Coordinator.ListenAddr),
			HeartbeatInterval: time.Duration(pickInt(coordFlagHeartbeat, file.Coordinator.HeartbeatInterval)) * time.Second,
			WorkerTTL:         time.Duration(pickInt(coordFlagWorkerTTL, file.Coordinator.WorkerTTL)) * time.Second,
			EdgeRouterURL:     pick(coordFlagEdgeRouterURL, file.Coordinator.EdgeRouterURL),
			TunnelURL:         pick(coordFlagTunnelURL, file.Coordinator.TunnelURL),
			Location:          pick(coordFlagLocation, file.Coordinator.Location),
			DHTPort:           pickInt(coordFlagDHTPort, file.Coordinator.DHTPort),
			RateLimit:         coordFlagRateLimit,
		}
		if cfg.RateLimit == 0 {
			cfg.RateLimit = file.Coordinator.RateLimit
		}

		ctx, cancel := signalContext()
		defer cancel()

		srv := coordinator.NewServer(cfg, catalog.Default())
		return srv.Start(ctx)
	},
}

func init() {
	f := coordinatorCmd.Flags()
	f.StringVar(&coordFlagID, "id", envOr("HIVE_COORDINATOR_ID", ""), "coordinator id (generated when empty)")
	f.StringVar(&coordFlagListenAddr, "listen-addr", envOr("HIVE_LISTEN_ADDR", ""), "HTTP bind address (default :9000)")
	f.IntVar(&coordFlagHeartbeat, "heartbeat-interval", envInt("HIVE_HEARTBEAT_INTERVAL"), "worker heartbeat interval in seconds (default 30)")
	f.IntVar(&coordFlagWorkerTTL, "worker-ttl", envInt("HIVE_WORKER_TTL"), "worker liveness TTL in seconds (default 5x heartbeat)")
	f.StringVar(&coordFlagEdgeRouterURL, "edge-router-url", envOr("HIVE_EDGE_ROUTER_URL", ""), "edge router to register with")
	f.StringVar(&coordFlagTunnelURL, "tunnel-url", envOr("HIVE_TUNNEL_URL", ""), "public URL advertised to the edge router")
	f.StringVar(&coordFlagLocation, "location", envOr("HIVE_LOCATION", ""), "placement hint passed to the edge router")
	f.IntVar(&coordFlagDHTPort, "dht-port", envInt("HIVE_DHT_PORT"), "peer-discovery port advertised to the edge router")
	f.Float64Var(&coordFlagRateLimit, "rate-limit", 0, "per-client requests per second (0 disables)")
}

// envInt parses an integer environment variable, 0 when unset or bad.
func envInt(key string) int {
	v, err := strconv.Atoi(envOr(key, "0"))
	if err != nil {
		return 0
	}
	return v
}
