package main

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/hivemesh/hive/pkg/agent"
	"github.com/hivemesh/hive/pkg/catalog"
	"github.com/hivemesh/hive/pkg/launcher"
	"github.com/hivemesh/hive/pkg/types"
)

var (
	agentFlagCoordinatorURL string
	agentFlagWorkerID       string
	agentFlagWorkerType     string
	agentFlagListenAddr     string
	agentFlagMeshIP         string
	agentFlagTunnelMode     string
	agentFlagTunnelBinary   string
	agentFlagTunnelName     string
	agentFlagTunnelURL      string
	agentFlagReadyTimeout   int
	agentFlagContainerdSock string
)

var agentCmd = &cobra.Command{
	Use:   "agent",
	Short: "Run a worker agent",
	Long: `Run a worker agent: detect this host's capabilities, open a tunnel,
register with a coordinator, launch assigned services, and heartbeat
until shut down.

Exit codes: 0 clean shutdown, 1 configuration error, 2 tunnel
bring-up failure, 3 registration budget exceeded.`,
	Run: func(cmd *cobra.Command, args []string) {
		file, err := loadFileConfig(flagConfig)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}

		cfg := agent.Config{
			CoordinatorURL:      pick(agentFlagCoordinatorURL, file.Agent.CoordinatorURL),
			WorkerID:            pick(agentFlagWorkerID, file.Agent.WorkerID),
			WorkerType:          types.WorkerType(pick(agentFlagWorkerType, file.Agent.WorkerType)),
			ListenAddr:          pick(agentFlagListenAddr, file.Agent.ListenAddr),
			MeshIP:              pick(agentFlagMeshIP, file.Agent.MeshIP),
			TunnelMode:          agent.TunnelMode(pick(agentFlagTunnelMode, file.Agent.TunnelMode)),
			TunnelBinary:        pick(agentFlagTunnelBinary, file.Agent.TunnelBinary),
			TunnelName:          pick(agentFlagTunnelName, file.Agent.TunnelName),
			TunnelURL:           pick(agentFlagTunnelURL, file.Agent.TunnelURL),
			ServiceReadyTimeout: time.Duration(pickInt(agentFlagReadyTimeout, file.Agent.ServiceReadyTimeout)) * time.Second,
		}

		rt := buildRuntime(pick(agentFlagContainerdSock, file.Agent.ContainerdSocket))
		defer rt.Close()

		ctx, cancel := signalContext()
		defer cancel()

		a := agent.New(cfg, catalog.Default(), rt)
		if err := a.Run(ctx); err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(agentExitCode(err))
		}
	},
}

// buildRuntime connects to containerd, falling back to bare processes
// on hosts without it.
func buildRuntime(socket string) launcher.Runtime {
	rt, err := launcher.NewContainerdRuntime(socket)
	if err != nil {
		fmt.Fprintf(os.Stderr, "containerd unavailable (%v); using process runtime\n", err)
		return launcher.NewExecRuntime(nil)
	}
	return rt
}

func agentExitCode(err error) int {
	switch {
	case errors.Is(err, agent.ErrConfig):
		return 1
	case errors.Is(err, agent.ErrTunnel):
		return 2
	case errors.Is(err, agent.ErrRegistrationBudget):
		return 3
	}
	return 1
}

func init() {
	f := agentCmd.Flags()
	f.StringVar(&agentFlagCoordinatorURL, "coordinator-url", envOr("HIVE_COORDINATOR_URL", ""), "coordinator or edge router URL to register with")
	f.StringVar(&agentFlagWorkerID, "worker-id", envOr("HIVE_WORKER_ID", ""), "requested worker id (coordinator may assign another)")
	f.StringVar(&agentFlagWorkerType, "worker-type", envOr("HIVE_WORKER_TYPE", ""), "worker tier: gpu|cpu|storage|edge|auto (default auto)")
	f.StringVar(&agentFlagListenAddr, "listen-addr", envOr("HIVE_LISTEN_ADDR", ""), "local HTTP bind address (default :7000)")
	f.StringVar(&agentFlagMeshIP, "mesh-ip", envOr("HIVE_MESH_IP", ""), "overlay network address of this host")
	f.StringVar(&agentFlagTunnelMode, "tunnel-mode", envOr("HIVE_TUNNEL_MODE", ""), "tunnel mode: named|ephemeral|none (default ephemeral)")
	f.StringVar(&agentFlagTunnelBinary, "tunnel-binary", envOr("HIVE_TUNNEL_BINARY", ""), "tunnel client executable (default cloudflared)")
	f.StringVar(&agentFlagTunnelName, "tunnel-name", envOr("HIVE_TUNNEL_NAME", ""), "pre-provisioned tunnel name for named mode")
	f.StringVar(&agentFlagTunnelURL, "tunnel-url", envOr("HIVE_TUNNEL_URL", ""), "public URL (required for none mode)")
	f.IntVar(&agentFlagReadyTimeout, "service-ready-timeout", envInt("HIVE_SERVICE_READY_TIMEOUT"), "seconds to wait for each launched service (default 120)")
	f.StringVar(&agentFlagContainerdSock, "containerd-socket", envOr("HIVE_CONTAINERD_SOCKET", ""), "containerd socket path")
}
