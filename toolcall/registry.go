package toolcall

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	stupidmeter "github.com/benchlab/stupidmeter"
	"github.com/benchlab/stupidmeter/sandbox"
)

// Sandboxer is the slice of the sandbox manager tool executors need.
// Satisfied by *sandbox.Manager.
type Sandboxer interface {
	Create(ctx context.Context, cfg sandbox.Config) (string, error)
	Exec(ctx context.Context, id string, argv []string, opts sandbox.ExecOptions) (sandbox.ExecResult, error)
	WriteFile(ctx context.Context, id, path, content string) error
	ReadFile(ctx context.Context, id, path string) (string, error)
	Destroy(ctx context.Context, id string) error
}

// Executor runs one tool call inside a sandbox and returns the result
// text handed back to the model.
type Executor func(ctx context.Context, sb Sandboxer, sandboxID string, args json.RawMessage) (string, error)

// Tool pairs a wire definition with its executor.
type Tool struct {
	Def stupidmeter.ToolDefinition
	Run Executor
}

// Registry maps tool names to specs and executors. The registry is
// fixed; sessions never grow it.
type Registry struct {
	tools map[string]Tool
	order []string
}

// NewRegistry builds the standard four-tool registry.
func NewRegistry() *Registry {
	r := &Registry{tools: make(map[string]Tool)}
	r.register(Tool{
		Def: stupidmeter.ToolDefinition{
			Name:        "write_to_file",
			Description: "Write content to a file in the workspace, creating parent directories as needed. Overwrites existing files.",
			Parameters: json.RawMessage(`{
				"type": "object",
				"properties": {
					"path": {"type": "string", "description": "Relative path of the file to write"},
					"content": {"type": "string", "description": "Full content to write"}
				},
				"required": ["path", "content"]
			}`),
		},
		Run: execWriteToFile,
	})
	r.register(Tool{
		Def: stupidmeter.ToolDefinition{
			Name:        "read_file",
			Description: "Read a file from the workspace and return its content. Files of 1 MB or larger are refused.",
			Parameters: json.RawMessage(`{
				"type": "object",
				"properties": {
					"path": {"type": "string", "description": "Relative path of the file to read"}
				},
				"required": ["path"]
			}`),
		},
		Run: execReadFile,
	})
	r.register(Tool{
		Def: stupidmeter.ToolDefinition{
			Name:        "list_files",
			Description: "List files and directories at a workspace path. Defaults to the workspace root.",
			Parameters: json.RawMessage(`{
				"type": "object",
				"properties": {
					"path": {"type": "string", "description": "Relative directory path, defaults to ."}
				}
			}`),
		},
		Run: execListFiles,
	})
	r.register(Tool{
		Def: stupidmeter.ToolDefinition{
			Name:        "execute_command",
			Description: "Run a shell command in the workspace and return stdout, stderr, and the exit code. Limited to 60 seconds.",
			Parameters: json.RawMessage(`{
				"type": "object",
				"properties": {
					"command": {"type": "string", "description": "Shell command line to execute"}
				},
				"required": ["command"]
			}`),
		},
		Run: execCommand,
	})
	return r
}

func (r *Registry) register(t Tool) {
	r.tools[t.Def.Name] = t
	r.order = append(r.order, t.Def.Name)
}

// Definitions returns the wire definitions in registration order.
func (r *Registry) Definitions() []stupidmeter.ToolDefinition {
	defs := make([]stupidmeter.ToolDefinition, 0, len(r.order))
	for _, name := range r.order {
		defs = append(defs, r.tools[name].Def)
	}
	return defs
}

// Size is the number of registered tools.
func (r *Registry) Size() int { return len(r.tools) }

// Execute dispatches one tool call. Unknown tools and malformed
// arguments are ordinary call failures, not session errors.
func (r *Registry) Execute(ctx context.Context, sb Sandboxer, sandboxID string, call stupidmeter.ToolCallReq) (string, error) {
	tool, ok := r.tools[call.Name]
	if !ok {
		return "", fmt.Errorf("unknown tool %q", call.Name)
	}
	ctx, cancel := context.WithTimeout(ctx, maxCallTimeoutMs*time.Millisecond)
	defer cancel()
	return tool.Run(ctx, sb, sandboxID, call.Arguments)
}

func execWriteToFile(ctx context.Context, sb Sandboxer, id string, args json.RawMessage) (string, error) {
	var p struct {
		Path    string `json:"path"`
		Content string `json:"content"`
	}
	if err := json.Unmarshal(args, &p); err != nil {
		return "", fmt.Errorf("bad arguments: %w", err)
	}
	if err := validatePath(p.Path); err != nil {
		return "", err
	}
	if dir := parentDir(p.Path); dir != "" {
		if _, err := sb.Exec(ctx, id, []string{"mkdir", "-p", dir}, sandbox.ExecOptions{}); err != nil {
			return "", err
		}
	}
	if err := sb.WriteFile(ctx, id, p.Path, p.Content); err != nil {
		return "", err
	}
	return fmt.Sprintf("wrote %d bytes to %s", len(p.Content), p.Path), nil
}

func execReadFile(ctx context.Context, sb Sandboxer, id string, args json.RawMessage) (string, error) {
	var p struct {
		Path string `json:"path"`
	}
	if err := json.Unmarshal(args, &p); err != nil {
		return "", fmt.Errorf("bad arguments: %w", err)
	}
	if err := validatePath(p.Path); err != nil {
		return "", err
	}

	size, err := sb.Exec(ctx, id, []string{"/bin/sh", "-c", "wc -c < " + shellQuote(p.Path)}, sandbox.ExecOptions{})
	if err != nil {
		return "", err
	}
	if size.ExitCode != 0 {
		return "", fmt.Errorf("read %s: %s", p.Path, strings.TrimSpace(size.Stderr))
	}
	if n, convErr := strconv.ParseInt(strings.TrimSpace(size.Stdout), 10, 64); convErr == nil && n >= maxReadBytes {
		return "", SafetyError{Reason: fmt.Sprintf("file %s is %d bytes, read limit is %d", p.Path, n, maxReadBytes)}
	}

	return sb.ReadFile(ctx, id, p.Path)
}

func execListFiles(ctx context.Context, sb Sandboxer, id string, args json.RawMessage) (string, error) {
	var p struct {
		Path string `json:"path"`
	}
	if len(args) > 0 {
		if err := json.Unmarshal(args, &p); err != nil {
			return "", fmt.Errorf("bad arguments: %w", err)
		}
	}
	if p.Path == "" {
		p.Path = "."
	}
	if err := validatePath(p.Path); err != nil && p.Path != "." {
		return "", err
	}
	res, err := sb.Exec(ctx, id, []string{"ls", "-1A", p.Path}, sandbox.ExecOptions{})
	if err != nil {
		return "", err
	}
	if res.ExitCode != 0 {
		return "", fmt.Errorf("list %s: %s", p.Path, strings.TrimSpace(res.Stderr))
	}
	return res.Stdout, nil
}

func execCommand(ctx context.Context, sb Sandboxer, id string, args json.RawMessage) (string, error) {
	var p struct {
		Command string `json:"command"`
	}
	if err := json.Unmarshal(args, &p); err != nil {
		return "", fmt.Errorf("bad arguments: %w", err)
	}
	if err := validateCommand(p.Command); err != nil {
		return "", err
	}
	res, err := sb.Exec(ctx, id, []string{"/bin/sh", "-c", p.Command}, sandbox.ExecOptions{TimeoutMs: maxCallTimeoutMs})
	if err != nil {
		return "", err
	}
	out := fmt.Sprintf("exit code: %d\nstdout:\n%s", res.ExitCode, res.Stdout)
	if res.Stderr != "" {
		out += "\nstderr:\n" + res.Stderr
	}
	if res.ExitCode != 0 {
		return out, fmt.Errorf("command exited %d", res.ExitCode)
	}
	return out, nil
}

// parentDir returns the directory part of a relative path, empty for
// bare filenames.
func parentDir(path string) string {
	if i := strings.LastIndexByte(path, '/'); i > 0 {
		return path[:i]
	}
	return ""
}

func shellQuote(s string) string {
	return "'" + strings.ReplaceAll(s, "'", `'\''`) + "'"
}
