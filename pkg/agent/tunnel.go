package agent

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os/exec"
	"regexp"
	"syscall"
	"time"
)

// TunnelMode selects how the agent exposes its HTTP surface.
type TunnelMode string

const (
	// TunnelNamed runs a pre-provisioned tunnel with a stable hostname.
	TunnelNamed TunnelMode = "named"

	// TunnelEphemeral runs a quick tunnel with a generated hostname.
	TunnelEphemeral TunnelMode = "ephemeral"

	// TunnelNone uses a preconfigured URL; no tunnel process is run.
	TunnelNone TunnelMode = "none"
)

// tunnelURLPattern matches the public URL the tunnel binary prints
// once the tunnel is up.
var tunnelURLPattern = regexp.MustCompile(`https://[a-zA-Z0-9.-]+\.[a-zA-Z]{2,}`)

// tunnelStartTimeout bounds how long one bring-up attempt may take to
// print its URL.
const tunnelStartTimeout = 30 * time.Second

// tunnel is an outbound HTTPS tunnel exposing the agent's local HTTP
// surface under a public URL.
type tunnel struct {
	URL string
	cmd *exec.Cmd
}

// startTunnel brings the tunnel up and captures its public URL.
func startTunnel(ctx context.Context, cfg Config, localPort int) (*tunnel, error) {
	switch cfg.TunnelMode {
	case TunnelNone:
		if cfg.TunnelURL == "" {
			return nil, fmt.Errorf("tunnel_mode none requires a tunnel url")
		}
		return &tunnel{URL: cfg.TunnelURL}, nil
	case TunnelNamed:
		return startNamedTunnel(ctx, cfg)
	case TunnelEphemeral:
		return startEphemeralTunnel(ctx, cfg, localPort)
	}
	return nil, fmt.Errorf("unrecognized tunnel_mode %q", cfg.TunnelMode)
}

// startNamedTunnel runs a pre-provisioned tunnel. The public hostname
// is fixed by the tunnel's configuration, so it must be supplied.
func startNamedTunnel(ctx context.Context, cfg Config) (*tunnel, error) {
	if cfg.TunnelName == "" || cfg.TunnelURL == "" {
		return nil, fmt.Errorf("tunnel_mode named requires a tunnel name and its public url")
	}

	cmd := exec.CommandContext(ctx, cfg.TunnelBinary, "tunnel", "run", cfg.TunnelName)
	cmd.Stdout = io.Discard
	cmd.Stderr = io.Discard
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("starting %s: %w", cfg.TunnelBinary, err)
	}
	return &tunnel{URL: cfg.TunnelURL, cmd: cmd}, nil
}

// startEphemeralTunnel runs a quick tunnel and scans the process
// output for the generated public URL.
func startEphemeralTunnel(ctx context.Context, cfg Config, localPort int) (*tunnel, error) {
	cmd := exec.CommandContext(ctx, cfg.TunnelBinary,
		"tunnel", "--no-autoupdate",
		"--url", fmt.Sprintf("http://127.0.0.1:%d", localPort),
	)
	// The URL is printed on stderr.
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return nil, err
	}
	cmd.Stdout = io.Discard
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("starting %s: %w", cfg.TunnelBinary, err)
	}

	urlCh := make(chan string, 1)
	go func() {
		scanner := bufio.NewScanner(stderr)
		for scanner.Scan() {
			if u := tunnelURLPattern.FindString(scanner.Text()); u != "" {
				urlCh <- u
				break
			}
		}
		// Drain so the child never blocks on a full pipe.
		_, _ = io.Copy(io.Discard, stderr)
	}()

	select {
	case u := <-urlCh:
		return &tunnel{URL: u, cmd: cmd}, nil
	case <-time.After(tunnelStartTimeout):
		_ = cmd.Process.Kill()
		return nil, fmt.Errorf("tunnel did not report a url within %s", tunnelStartTimeout)
	case <-ctx.Done():
		_ = cmd.Process.Kill()
		return nil, ctx.Err()
	}
}

// stop terminates the tunnel process.
func (t *tunnel) stop() {
	if t.cmd == nil || t.cmd.Process == nil {
		return
	}
	_ = t.cmd.Process.Signal(syscall.SIGTERM)
	go func() { _ = t.cmd.Wait() }()
}
