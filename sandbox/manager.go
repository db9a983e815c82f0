package sandbox

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/filters"
	"github.com/docker/docker/client"
	"github.com/docker/docker/pkg/stdcopy"
	"github.com/google/uuid"
)

// ErrNotRunning is returned by Exec and file operations when the sandbox
// is not in the running state (or does not exist).
var ErrNotRunning = errors.New("sandbox: not running")

// labelKey marks containers owned by this process family so orphan
// cleanup can find sandboxes that outlived a crashed run.
const labelKey = "stupidmeter.sandbox"

// box is the manager's in-memory record for one sandbox.
type box struct {
	id          string
	containerID string
	status      Status
	workingDir  string
	createdAt   time.Time
	cfg         Config
}

// ManagerOption configures a Manager.
type ManagerOption func(*Manager)

// WithLogger sets a structured logger for sandbox lifecycle events.
func WithLogger(l *slog.Logger) ManagerOption {
	return func(m *Manager) { m.logger = l }
}

// WithDefaultImage sets the image used when a Config leaves Image empty.
func WithDefaultImage(img string) ManagerOption {
	return func(m *Manager) { m.defaultImage = img }
}

// Manager owns the map of live sandboxes. All map mutations and per-id
// state transitions are serialized under one mutex; Docker API calls run
// outside the lock.
type Manager struct {
	cli          client.APIClient
	mu           sync.Mutex
	boxes        map[string]*box
	logger       *slog.Logger
	now          func() time.Time
	defaultImage string
}

// NewManager creates a Manager talking to the local Docker daemon using
// environment configuration (DOCKER_HOST etc.).
func NewManager(opts ...ManagerOption) (*Manager, error) {
	cli, err := client.NewClientWithOpts(client.FromEnv, client.WithAPIVersionNegotiation())
	if err != nil {
		return nil, fmt.Errorf("sandbox: docker client: %w", err)
	}
	return newManager(cli, opts...), nil
}

// newManager wires a Manager around any API client. Split from NewManager
// so tests can inject a fake.
func newManager(cli client.APIClient, opts ...ManagerOption) *Manager {
	m := &Manager{
		cli:    cli,
		boxes:  make(map[string]*box),
		logger: slog.New(slog.NewTextHandler(io.Discard, nil)),
		now:    time.Now,
	}
	for _, o := range opts {
		o(m)
	}
	return m
}

// Create provisions a sandbox and starts it. Returns the sandbox id.
func (m *Manager) Create(ctx context.Context, cfg Config) (string, error) {
	if cfg.Image == "" && m.defaultImage != "" {
		cfg.Image = m.defaultImage
	}
	cfg = cfg.withDefaults()
	id := uuid.NewString()

	b := &box{
		id:         id,
		status:     StatusCreating,
		workingDir: cfg.WorkingDir,
		createdAt:  m.now(),
		cfg:        cfg,
	}
	m.mu.Lock()
	m.boxes[id] = b
	m.mu.Unlock()

	env := make([]string, 0, len(cfg.Environment))
	for k, v := range cfg.Environment {
		env = append(env, k+"="+v)
	}

	tmpfs := map[string]string{cfg.WorkingDir: "rw,exec,size=128m"}
	for _, p := range cfg.MountPaths {
		tmpfs[p] = "rw,size=64m"
	}

	networkMode := container.NetworkMode("none")
	if cfg.NetworkAccess {
		networkMode = container.NetworkMode("bridge")
	}

	created, err := m.cli.ContainerCreate(ctx,
		&container.Config{
			Image:      cfg.Image,
			WorkingDir: cfg.WorkingDir,
			Cmd:        []string{"sleep", "infinity"},
			Env:        env,
			Labels: map[string]string{
				labelKey:         "1",
				labelKey + ".id": id,
			},
		},
		&container.HostConfig{
			ReadonlyRootfs: true,
			CapDrop:        []string{"ALL"},
			SecurityOpt:    []string{"no-new-privileges"},
			NetworkMode:    networkMode,
			Tmpfs:          tmpfs,
			Resources: container.Resources{
				Memory:   cfg.MemoryLimitMB << 20,
				NanoCPUs: int64(cfg.CPULimit * 1e9),
			},
		},
		nil, nil, "stupidmeter-"+id[:8])
	if err != nil {
		m.setStatus(id, StatusError, "")
		return "", fmt.Errorf("sandbox: create container: %w", err)
	}

	if err := m.cli.ContainerStart(ctx, created.ID, container.StartOptions{}); err != nil {
		m.setStatus(id, StatusError, created.ID)
		_ = m.cli.ContainerRemove(context.WithoutCancel(ctx), created.ID, container.RemoveOptions{Force: true})
		return "", fmt.Errorf("sandbox: start container: %w", err)
	}

	m.setStatus(id, StatusRunning, created.ID)
	m.logger.Debug("sandbox created", "id", id, "image", cfg.Image, "network", cfg.NetworkAccess)
	return id, nil
}

// setStatus updates a box's status (and container id, when non-empty)
// under the lock. A box already removed is a no-op.
func (m *Manager) setStatus(id string, st Status, containerID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	b, ok := m.boxes[id]
	if !ok {
		return
	}
	b.status = st
	if containerID != "" {
		b.containerID = containerID
	}
}

// lookupRunning returns the container id for a running sandbox.
func (m *Manager) lookupRunning(id string) (string, Config, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	b, ok := m.boxes[id]
	if !ok || b.status != StatusRunning {
		return "", Config{}, ErrNotRunning
	}
	return b.containerID, b.cfg, nil
}

// Exec runs argv inside the sandbox and returns its output. The call is
// bounded by min(opts.TimeoutMs, sandbox timeout); on expiry the exec's
// context is cancelled and the error wraps context.DeadlineExceeded.
func (m *Manager) Exec(ctx context.Context, id string, argv []string, opts ExecOptions) (ExecResult, error) {
	containerID, cfg, err := m.lookupRunning(id)
	if err != nil {
		return ExecResult{}, err
	}

	timeout := cfg.TimeoutMs
	if opts.TimeoutMs > 0 && opts.TimeoutMs < timeout {
		timeout = opts.TimeoutMs
	}
	execCtx, cancel := context.WithTimeout(ctx, time.Duration(timeout)*time.Millisecond)
	defer cancel()

	workingDir := cfg.WorkingDir
	if opts.WorkingDir != "" {
		workingDir = opts.WorkingDir
	}

	execResp, err := m.cli.ContainerExecCreate(execCtx, containerID, container.ExecOptions{
		Cmd:          argv,
		WorkingDir:   workingDir,
		AttachStdout: true,
		AttachStderr: true,
	})
	if err != nil {
		return ExecResult{}, fmt.Errorf("sandbox: exec create: %w", err)
	}

	attach, err := m.cli.ContainerExecAttach(execCtx, execResp.ID, container.ExecStartOptions{})
	if err != nil {
		return ExecResult{}, fmt.Errorf("sandbox: exec attach: %w", err)
	}
	defer attach.Close()

	var stdout, stderr bytes.Buffer
	copyDone := make(chan error, 1)
	go func() {
		_, cpErr := stdcopy.StdCopy(&stdout, &stderr, attach.Reader)
		copyDone <- cpErr
	}()

	select {
	case cpErr := <-copyDone:
		if cpErr != nil {
			return ExecResult{}, fmt.Errorf("sandbox: exec read: %w", cpErr)
		}
	case <-execCtx.Done():
		// The exec'd process outlived its deadline. Kill the whole
		// container; the sandbox is single-use and its owner destroys
		// it on every exit path anyway.
		_ = m.cli.ContainerKill(context.WithoutCancel(ctx), containerID, "SIGKILL")
		return ExecResult{}, fmt.Errorf("sandbox: exec timed out after %dms: %w", timeout, execCtx.Err())
	}

	inspect, err := m.cli.ContainerExecInspect(execCtx, execResp.ID)
	if err != nil {
		return ExecResult{}, fmt.Errorf("sandbox: exec inspect: %w", err)
	}

	return ExecResult{
		Stdout:   stdout.String(),
		Stderr:   stderr.String(),
		ExitCode: inspect.ExitCode,
	}, nil
}

// WriteFile writes verbatim content to path inside the sandbox using a
// here-document, avoiding shell-escaping pitfalls with quotes and
// backslashes in model-generated content.
func (m *Manager) WriteFile(ctx context.Context, id, path, content string) error {
	delim := "EOF_" + strings.ReplaceAll(uuid.NewString(), "-", "")
	// A randomized delimiter cannot collide with file content in practice.
	// The here-doc terminates every line with a newline, so newline-ending
	// content drops its final newline before formatting and gets it back
	// from the delimiter line. Content without one is routed through
	// command substitution, which strips the newline the here-doc adds.
	var script string
	if body, ok := strings.CutSuffix(content, "\n"); ok {
		script = fmt.Sprintf("cat > %s << '%s'\n%s\n%s", shellQuote(path), delim, body, delim)
	} else {
		script = fmt.Sprintf("printf %%s \"$(cat << '%s'\n%s\n%s\n)\" > %s", delim, content, delim, shellQuote(path))
	}
	res, err := m.Exec(ctx, id, []string{"/bin/sh", "-c", script}, ExecOptions{})
	if err != nil {
		return err
	}
	if res.ExitCode != 0 {
		return fmt.Errorf("sandbox: write %s: exit %d: %s", path, res.ExitCode, res.Stderr)
	}
	return nil
}

// ReadFile streams file content back via a cat exec; no host bind mounts.
func (m *Manager) ReadFile(ctx context.Context, id, path string) (string, error) {
	res, err := m.Exec(ctx, id, []string{"cat", path}, ExecOptions{})
	if err != nil {
		return "", err
	}
	if res.ExitCode != 0 {
		return "", fmt.Errorf("sandbox: read %s: exit %d: %s", path, res.ExitCode, res.Stderr)
	}
	return res.Stdout, nil
}

// Destroy tears a sandbox down. Idempotent: destroying an unknown or
// already-destroyed sandbox succeeds, and a vanished container is not an
// error.
func (m *Manager) Destroy(ctx context.Context, id string) error {
	m.mu.Lock()
	b, ok := m.boxes[id]
	if ok {
		delete(m.boxes, id)
	}
	m.mu.Unlock()
	if !ok || b.containerID == "" {
		return nil
	}

	err := m.cli.ContainerRemove(context.WithoutCancel(ctx), b.containerID, container.RemoveOptions{Force: true})
	if err != nil && !client.IsErrNotFound(err) {
		return fmt.Errorf("sandbox: remove container: %w", err)
	}
	m.logger.Debug("sandbox destroyed", "id", id)
	return nil
}

// CleanupExpired destroys every tracked sandbox older than MaxAge, then
// sweeps the daemon for labeled orphans left behind by crashed processes.
func (m *Manager) CleanupExpired(ctx context.Context) error {
	cutoff := m.now().Add(-MaxAge)

	m.mu.Lock()
	var expired []string
	for id, b := range m.boxes {
		if b.createdAt.Before(cutoff) {
			expired = append(expired, id)
		}
	}
	m.mu.Unlock()

	var errs []error
	for _, id := range expired {
		m.logger.Warn("destroying expired sandbox", "id", id)
		if err := m.Destroy(ctx, id); err != nil {
			errs = append(errs, err)
		}
	}

	// Orphans from previous processes carry our label but are unknown to
	// this manager's map.
	listed, err := m.cli.ContainerList(ctx, container.ListOptions{
		All:     true,
		Filters: filters.NewArgs(filters.Arg("label", labelKey+"=1")),
	})
	if err != nil {
		errs = append(errs, fmt.Errorf("sandbox: list orphans: %w", err))
		return errors.Join(errs...)
	}
	m.mu.Lock()
	tracked := make(map[string]bool, len(m.boxes))
	for _, b := range m.boxes {
		tracked[b.containerID] = true
	}
	m.mu.Unlock()
	for _, c := range listed {
		if tracked[c.ID] {
			continue
		}
		if m.now().Sub(time.Unix(c.Created, 0)) < MaxAge {
			continue
		}
		m.logger.Warn("removing orphan sandbox container", "container", c.ID[:12])
		if rmErr := m.cli.ContainerRemove(ctx, c.ID, container.RemoveOptions{Force: true}); rmErr != nil && !client.IsErrNotFound(rmErr) {
			errs = append(errs, rmErr)
		}
	}
	return errors.Join(errs...)
}

// Snapshot returns point-in-time records for all tracked sandboxes.
func (m *Manager) Snapshot() []Info {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Info, 0, len(m.boxes))
	for _, b := range m.boxes {
		out = append(out, Info{
			ID:         b.id,
			Status:     b.status,
			WorkingDir: b.workingDir,
			CreatedAt:  b.createdAt,
			Config:     b.cfg,
		})
	}
	return out
}

// shellQuote single-quotes s for /bin/sh, escaping embedded quotes.
func shellQuote(s string) string {
	return "'" + strings.ReplaceAll(s, "'", `'\''`) + "'"
}
