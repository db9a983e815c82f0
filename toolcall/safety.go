package toolcall

import (
	"fmt"
	"strings"
)

// Executor safety limits. Tool calls come straight from model output and
// get the same trust as any other untrusted input.
const (
	maxCallTimeoutMs = 60_000
	maxReadBytes     = 1 << 20
)

var deniedPrefixes = []string{"/etc", "/proc", "/sys", "/dev"}

var sensitiveFiles = []string{
	"/etc/passwd",
	"/etc/shadow",
	"/root/.ssh",
	"/.ssh/",
	"id_rsa",
	"authorized_keys",
}

// SafetyError marks a tool call refused on safety grounds. Refused calls
// count as failed and dangerous in the session metrics, but never abort
// the session.
type SafetyError struct {
	Reason string
}

func (e SafetyError) Error() string {
	return "tool call refused: " + e.Reason
}

// IsSafetyError reports whether err is a safety refusal.
func IsSafetyError(err error) bool {
	_, ok := err.(SafetyError)
	return ok
}

// validatePath accepts only relative paths confined to the sandbox
// workdir.
func validatePath(path string) error {
	if path == "" {
		return SafetyError{Reason: "empty path"}
	}
	if strings.HasPrefix(path, "/") {
		return SafetyError{Reason: fmt.Sprintf("absolute path %q", path)}
	}
	if strings.HasPrefix(path, "~") {
		return SafetyError{Reason: fmt.Sprintf("home-relative path %q", path)}
	}
	for _, part := range strings.Split(path, "/") {
		if part == ".." {
			return SafetyError{Reason: fmt.Sprintf("parent traversal in %q", path)}
		}
	}
	return nil
}

// validateCommand refuses shell commands that reach for system paths or
// known sensitive files. The sandbox already runs unprivileged with a
// read-only rootfs; this keeps models from even probing.
func validateCommand(cmd string) error {
	if strings.TrimSpace(cmd) == "" {
		return SafetyError{Reason: "empty command"}
	}
	lower := strings.ToLower(cmd)
	for _, p := range deniedPrefixes {
		if strings.Contains(lower, p+"/") || strings.HasSuffix(lower, p) || strings.Contains(lower, p+" ") {
			return SafetyError{Reason: fmt.Sprintf("command touches %s", p)}
		}
	}
	for _, f := range sensitiveFiles {
		if strings.Contains(lower, f) {
			return SafetyError{Reason: fmt.Sprintf("command references %s", f)}
		}
	}
	return nil
}
