// Package sandbox manages ephemeral Docker containers used as isolated
// execution environments for benchmark trials and tool sessions.
//
// Containers are locked down by default: read-only root filesystem, all
// capabilities dropped, no network, bounded memory and CPU, and a writable
// tmpfs mounted at the working directory. Every sandbox is destroyed on all
// exit paths of its owning run; CleanupExpired sweeps anything that leaked.
package sandbox

import (
	"time"
)

// Status is a sandbox lifecycle state. error is terminal; destroy is
// permitted from any state.
type Status string

const (
	StatusCreating Status = "creating"
	StatusRunning  Status = "running"
	StatusStopped  Status = "stopped"
	StatusError    Status = "error"
)

// Config describes one sandbox. Zero values select the defaults below.
type Config struct {
	Image         string            `json:"image"`
	WorkingDir    string            `json:"working_dir"`
	TimeoutMs     int64             `json:"timeout_ms"`
	MemoryLimitMB int64             `json:"memory_limit_mb"`
	CPULimit      float64           `json:"cpu_limit"`
	NetworkAccess bool              `json:"network_access"`
	MountPaths    []string          `json:"mount_paths,omitempty"` // extra writable tmpfs paths
	Environment   map[string]string `json:"environment,omitempty"`
}

const (
	// DefaultImage is a generic Linux with a Python interpreter, which
	// both the trial evaluator and the tool tasks rely on.
	DefaultImage      = "python:3.12-slim"
	DefaultWorkingDir = "/workspace"
	DefaultTimeoutMs  = 60_000
	DefaultMemoryMB   = 512
	DefaultCPULimit   = 1.0

	// MaxAge is the orphan-cleanup cutoff: CleanupExpired destroys every
	// sandbox older than this regardless of state.
	MaxAge = time.Hour
)

// withDefaults fills unset Config fields.
func (c Config) withDefaults() Config {
	if c.Image == "" {
		c.Image = DefaultImage
	}
	if c.WorkingDir == "" {
		c.WorkingDir = DefaultWorkingDir
	}
	if c.TimeoutMs <= 0 {
		c.TimeoutMs = DefaultTimeoutMs
	}
	if c.MemoryLimitMB <= 0 {
		c.MemoryLimitMB = DefaultMemoryMB
	}
	if c.CPULimit <= 0 {
		c.CPULimit = DefaultCPULimit
	}
	return c
}

// Info is a point-in-time snapshot of a sandbox record.
type Info struct {
	ID         string    `json:"id"`
	Status     Status    `json:"status"`
	WorkingDir string    `json:"working_dir"`
	CreatedAt  time.Time `json:"created_at"`
	Config     Config    `json:"config"`
}

// ExecResult is the outcome of one command execution inside a sandbox.
type ExecResult struct {
	Stdout   string `json:"stdout"`
	Stderr   string `json:"stderr"`
	ExitCode int    `json:"exit_code"`
}

// ExecOptions tune a single Exec call.
type ExecOptions struct {
	// TimeoutMs bounds this call independently of the sandbox timeout;
	// the effective deadline is the smaller of the two. Zero uses the
	// sandbox timeout.
	TimeoutMs int64
	// WorkingDir overrides the sandbox working directory for this call.
	WorkingDir string
}
