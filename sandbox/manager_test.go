package sandbox

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/docker/docker/api/types"
	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/network"
	"github.com/docker/docker/client"
	"github.com/docker/docker/pkg/stdcopy"
	ocispec "github.com/opencontainers/image-spec/specs-go/v1"
)

// nopConn satisfies the hijacked connection; only Close is ever called.
type nopConn struct{ net.Conn }

func (nopConn) Close() error { return nil }

type fakeExec struct {
	output bytes.Buffer // stdcopy-multiplexed
	exit   int
}

// fakeDocker implements the slice of the Docker API the manager touches;
// the embedded interface covers the rest and panics on use. Exec'd
// commands run on the host via the real shell, so generated scripts are
// exercised exactly as a container would see them.
type fakeDocker struct {
	client.APIClient

	mu        sync.Mutex
	nextExec  int
	execs     map[string]*fakeExec
	createCfg *container.Config
	hostCfg   *container.HostConfig
	removed   []string
	listed    []types.Container
}

func newFakeDocker() *fakeDocker {
	return &fakeDocker{execs: make(map[string]*fakeExec)}
}

func (f *fakeDocker) ContainerCreate(ctx context.Context, config *container.Config, hostConfig *container.HostConfig, networkingConfig *network.NetworkingConfig, platform *ocispec.Platform, containerName string) (container.CreateResponse, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.createCfg = config
	f.hostCfg = hostConfig
	return container.CreateResponse{ID: "ctr-" + containerName}, nil
}

func (f *fakeDocker) ContainerStart(ctx context.Context, containerID string, options container.StartOptions) error {
	return nil
}

func (f *fakeDocker) ContainerRemove(ctx context.Context, containerID string, options container.RemoveOptions) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.removed = append(f.removed, containerID)
	return nil
}

func (f *fakeDocker) ContainerKill(ctx context.Context, containerID, signal string) error {
	return nil
}

func (f *fakeDocker) ContainerList(ctx context.Context, options container.ListOptions) ([]types.Container, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]types.Container(nil), f.listed...), nil
}

func (f *fakeDocker) ContainerExecCreate(ctx context.Context, containerID string, options container.ExecOptions) (types.IDResponse, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.nextExec++
	id := fmt.Sprintf("exec-%d", f.nextExec)

	fe := &fakeExec{}
	cmd := exec.Command(options.Cmd[0], options.Cmd[1:]...)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		var exitErr *exec.ExitError
		if !errors.As(err, &exitErr) {
			return types.IDResponse{}, err
		}
		fe.exit = exitErr.ExitCode()
	}
	_, _ = stdcopy.NewStdWriter(&fe.output, stdcopy.Stdout).Write(stdout.Bytes())
	_, _ = stdcopy.NewStdWriter(&fe.output, stdcopy.Stderr).Write(stderr.Bytes())
	f.execs[id] = fe
	return types.IDResponse{ID: id}, nil
}

func (f *fakeDocker) ContainerExecAttach(ctx context.Context, execID string, config container.ExecAttachOptions) (types.HijackedResponse, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	fe, ok := f.execs[execID]
	if !ok {
		return types.HijackedResponse{}, fmt.Errorf("unknown exec %s", execID)
	}
	return types.HijackedResponse{Conn: nopConn{}, Reader: bufio.NewReader(&fe.output)}, nil
}

func (f *fakeDocker) ContainerExecInspect(ctx context.Context, execID string) (container.ExecInspect, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	fe, ok := f.execs[execID]
	if !ok {
		return container.ExecInspect{}, fmt.Errorf("unknown exec %s", execID)
	}
	return container.ExecInspect{ExitCode: fe.exit}, nil
}

func testManager(t *testing.T, opts ...ManagerOption) (*Manager, *fakeDocker) {
	t.Helper()
	fd := newFakeDocker()
	return newManager(fd, opts...), fd
}

func createSandbox(t *testing.T, m *Manager, cfg Config) string {
	t.Helper()
	id, err := m.Create(context.Background(), cfg)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	return id
}

func TestWriteFileRoundTrip(t *testing.T) {
	cases := []struct {
		name    string
		content string
	}{
		{"newline terminated", "id,name\n1,alpha\n2,beta\n3,gamma\n"},
		{"no trailing newline", "def f():\n    return 1"},
		{"blank lines and double trailing newline", "a\n\nb\n\n"},
		{"shell metacharacters", "x='$(touch pwned)' \"quoted\" \\backslash `tick`\n"},
		{"single line no newline", "42"},
		{"empty", ""},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			m, _ := testManager(t)
			id := createSandbox(t, m, Config{})
			path := filepath.Join(t.TempDir(), "out.txt")

			if err := m.WriteFile(context.Background(), id, path, tc.content); err != nil {
				t.Fatalf("WriteFile: %v", err)
			}
			got, err := os.ReadFile(path)
			if err != nil {
				t.Fatalf("ReadFile: %v", err)
			}
			if string(got) != tc.content {
				t.Errorf("wrote %q, want %q", got, tc.content)
			}
		})
	}
}

func TestWriteFileSeedLineCount(t *testing.T) {
	// A 4-line seed must count as 4 lines inside the sandbox; an extra
	// blank line from the write path breaks every wc-based task check.
	m, _ := testManager(t)
	id := createSandbox(t, m, Config{})
	path := filepath.Join(t.TempDir(), "data.csv")

	if err := m.WriteFile(context.Background(), id, path, "id,name\n1,alpha\n2,beta\n3,gamma\n"); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	res, err := m.Exec(context.Background(), id, []string{"/bin/sh", "-c", "wc -l < " + shellQuote(path)}, ExecOptions{})
	if err != nil {
		t.Fatalf("Exec: %v", err)
	}
	if got := strings.TrimSpace(res.Stdout); got != "4" {
		t.Errorf("wc -l = %q, want 4", got)
	}
}

func TestReadFileRoundTrip(t *testing.T) {
	m, _ := testManager(t)
	id := createSandbox(t, m, Config{})
	path := filepath.Join(t.TempDir(), "hello.txt")
	content := "hello\nsandbox\n"

	if err := m.WriteFile(context.Background(), id, path, content); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	got, err := m.ReadFile(context.Background(), id, path)
	if err != nil {
		t.Fatalf("ReadFile: %v", err)
	}
	if got != content {
		t.Errorf("ReadFile = %q, want %q", got, content)
	}
}

func TestCreateSecurityDefaults(t *testing.T) {
	m, fd := testManager(t, WithDefaultImage("bench:latest"))
	createSandbox(t, m, Config{})

	if fd.createCfg.Image != "bench:latest" {
		t.Errorf("image = %q, want manager default", fd.createCfg.Image)
	}
	hc := fd.hostCfg
	if !hc.ReadonlyRootfs {
		t.Error("root filesystem not read-only")
	}
	if len(hc.CapDrop) != 1 || hc.CapDrop[0] != "ALL" {
		t.Errorf("CapDrop = %v, want [ALL]", hc.CapDrop)
	}
	if hc.NetworkMode != "none" {
		t.Errorf("NetworkMode = %q, want none", hc.NetworkMode)
	}
	if _, ok := hc.Tmpfs[DefaultWorkingDir]; !ok {
		t.Errorf("Tmpfs = %v, want writable working dir", hc.Tmpfs)
	}
	if hc.Resources.Memory != DefaultMemoryMB<<20 {
		t.Errorf("Memory = %d, want %d", hc.Resources.Memory, DefaultMemoryMB<<20)
	}
}

func TestDestroyIdempotent(t *testing.T) {
	m, fd := testManager(t)
	id := createSandbox(t, m, Config{})

	if err := m.Destroy(context.Background(), id); err != nil {
		t.Fatalf("first Destroy: %v", err)
	}
	if err := m.Destroy(context.Background(), id); err != nil {
		t.Fatalf("second Destroy: %v", err)
	}
	if err := m.Destroy(context.Background(), "never-existed"); err != nil {
		t.Fatalf("Destroy unknown: %v", err)
	}
	if len(fd.removed) != 1 {
		t.Errorf("removed containers = %d, want 1", len(fd.removed))
	}
}

func TestExecAfterDestroy(t *testing.T) {
	m, _ := testManager(t)
	id := createSandbox(t, m, Config{})
	if err := m.Destroy(context.Background(), id); err != nil {
		t.Fatal(err)
	}

	if _, err := m.Exec(context.Background(), id, []string{"true"}, ExecOptions{}); !errors.Is(err, ErrNotRunning) {
		t.Errorf("Exec err = %v, want ErrNotRunning", err)
	}
	if err := m.WriteFile(context.Background(), id, "/tmp/x", "y"); !errors.Is(err, ErrNotRunning) {
		t.Errorf("WriteFile err = %v, want ErrNotRunning", err)
	}
}

func TestCleanupExpired(t *testing.T) {
	now := time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)
	m, fd := testManager(t)
	m.now = func() time.Time { return now }

	id := createSandbox(t, m, Config{})
	now = now.Add(MaxAge + time.Minute)
	// An untracked labeled container from a crashed process, old enough
	// to sweep, plus a fresh one that must survive.
	fd.listed = []types.Container{
		{ID: "orphan-old", Created: now.Add(-2 * time.Hour).Unix()},
		{ID: "orphan-new", Created: now.Add(-5 * time.Minute).Unix()},
	}
	if err := m.CleanupExpired(context.Background()); err != nil {
		t.Fatalf("CleanupExpired: %v", err)
	}

	if _, err := m.Exec(context.Background(), id, []string{"true"}, ExecOptions{}); !errors.Is(err, ErrNotRunning) {
		t.Errorf("expired sandbox still running: %v", err)
	}
	removed := strings.Join(fd.removed, ",")
	if !strings.Contains(removed, "orphan-old") {
		t.Errorf("removed = %q, want the old orphan swept", removed)
	}
	if strings.Contains(removed, "orphan-new") {
		t.Errorf("removed = %q, fresh orphan must survive", removed)
	}
}
