package launcher

import (
	"context"
	"fmt"
	"os/exec"
	"sync"
	"syscall"
	"time"
)

// ExecRuntime runs services as host processes instead of containers.
// Used on hosts without containerd; each service maps to a command
// line supplied by configuration.
type ExecRuntime struct {
	// Commands maps a container id (hive-<service>) to the argv that
	// starts the service.
	Commands map[string][]string

	mu    sync.Mutex
	procs map[string]*exec.Cmd
}

// NewExecRuntime creates an exec runtime from a command table.
func NewExecRuntime(commands map[string][]string) *ExecRuntime {
	return &ExecRuntime{
		Commands: commands,
		procs:    make(map[string]*exec.Cmd),
	}
}

// Pull is a no-op; processes have no image to fetch.
func (r *ExecRuntime) Pull(ctx context.Context, image string) error {
	return nil
}

// Start launches the configured command for the id.
func (r *ExecRuntime) Start(ctx context.Context, id, image string, env []string) error {
	argv, ok := r.Commands[id]
	if !ok || len(argv) == 0 {
		return fmt.Errorf("no command configured for %s", id)
	}

	cmd := exec.Command(argv[0], argv[1:]...)
	cmd.Env = env
	if err := cmd.Start(); err != nil {
		return fmt.Errorf("failed to start %s: %w", id, err)
	}

	r.mu.Lock()
	r.procs[id] = cmd
	r.mu.Unlock()

	// Reap on exit so stopped processes do not linger as zombies.
	go func() { _ = cmd.Wait() }()
	return nil
}

// Stop terminates the process, escalating to SIGKILL after the timeout.
func (r *ExecRuntime) Stop(ctx context.Context, id string, timeout time.Duration) error {
	r.mu.Lock()
	cmd, ok := r.procs[id]
	delete(r.procs, id)
	r.mu.Unlock()
	if !ok || cmd.Process == nil {
		return nil
	}

	_ = cmd.Process.Signal(syscall.SIGTERM)

	done := make(chan struct{})
	go func() {
		for cmd.ProcessState == nil {
			time.Sleep(100 * time.Millisecond)
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(timeout):
		_ = cmd.Process.Kill()
	case <-ctx.Done():
		_ = cmd.Process.Kill()
	}
	return nil
}

// Running reports whether the process is alive.
func (r *ExecRuntime) Running(ctx context.Context, id string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	cmd, ok := r.procs[id]
	return ok && cmd.ProcessState == nil
}

// Close is a no-op.
func (r *ExecRuntime) Close() error {
	return nil
}
