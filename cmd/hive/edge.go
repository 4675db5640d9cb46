package main

import (
	"time"

	"github.com/spf13/cobra"

	"github.com/hivemesh/hive/pkg/edge"
	"github.com/hivemesh/hive/pkg/storage"
)

var (
	edgeFlagListenAddr     string
	edgeFlagCoordinatorTTL int
	edgeFlagDataDir        string
)

var edgeCmd = &cobra.Command{
	Use:   "edge",
	Short: "Run the edge router",
	Long: `Run the edge router: the persistent front door that tracks
coordinators and forwards every other request to a live one.
Coordinator records survive restarts in a local database.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		file, err := loadFileConfig(flagConfig)
		if err != nil {
			return err
		}

		dataDir := pick(edgeFlagDataDir, file.Edge.DataDir, "/var/lib/hive")
		store, err := storage.NewBoltStore(dataDir)
		if err != nil {
			return err
		}
		defer store.Close()

		cfg := edge.Config{
			ListenAddr:     pick(edgeFlagListenAddr, file.Edge.ListenAddr),
			CoordinatorTTL: time.Duration(pickInt(edgeFlagCoordinatorTTL, file.Edge.CoordinatorTTL)) * time.Second,
		}

		ctx, cancel := signalContext()
		defer cancel()

		return edge.NewServer(cfg, store).Start(ctx)
	},
}

func init() {
	f := edgeCmd.Flags()
	f.StringVar(&edgeFlagListenAddr, "listen-addr", envOr("HIVE_LISTEN_ADDR", ""), "HTTP bind address (default :8080)")
	f.IntVar(&edgeFlagCoordinatorTTL, "coordinator-ttl", envInt("HIVE_COORDINATOR_TTL"), "coordinator liveness TTL in seconds (default 300)")
	f.StringVar(&edgeFlagDataDir, "data-dir", envOr("HIVE_DATA_DIR", ""), "directory for the coordinator database (default /var/lib/hive)")
}
