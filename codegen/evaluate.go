package codegen

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"strings"

	"github.com/benchlab/stupidmeter/sandbox"
	"github.com/benchlab/stupidmeter/tasks"
)

// Sandboxer is the slice of the sandbox manager the evaluator needs.
// Satisfied by *sandbox.Manager; tests substitute a fake.
type Sandboxer interface {
	Create(ctx context.Context, cfg sandbox.Config) (string, error)
	Exec(ctx context.Context, id string, argv []string, opts sandbox.ExecOptions) (sandbox.ExecResult, error)
	WriteFile(ctx context.Context, id, path, content string) error
	Destroy(ctx context.Context, id string) error
}

// EvalResult is the outcome of evaluating one extracted solution.
type EvalResult struct {
	SyntaxOK bool
	SymbolOK bool
	Passed   int
	Total    int
	// Failure carries the first diagnostic when evaluation stopped early
	// (syntax error, missing symbol, runner crash).
	Failure string
}

// Correctness is the fraction of test cases passed, zero when the
// solution never reached the runner.
func (r EvalResult) Correctness() float64 {
	if r.Total == 0 {
		return 0
	}
	return float64(r.Passed) / float64(r.Total)
}

// Evaluator runs extracted solutions inside throwaway sandboxes. Each
// Evaluate call creates one sandbox, writes the solution plus two check
// scripts, runs them, and destroys the sandbox on every exit path.
type Evaluator struct {
	sb     Sandboxer
	logger *slog.Logger
}

// NewEvaluator wires an Evaluator over a sandbox manager.
func NewEvaluator(sb Sandboxer, logger *slog.Logger) *Evaluator {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Evaluator{sb: sb, logger: logger}
}

// Evaluate runs the two evaluation passes for a code task. Pass one
// parses the solution and checks the expected symbol exists; pass two
// executes the generated test runner. Infrastructure failures (sandbox
// unavailable, exec errors) return a non-nil error; the solution merely
// being wrong does not.
func (e *Evaluator) Evaluate(ctx context.Context, code string, task tasks.CodeTask) (EvalResult, error) {
	res := EvalResult{Total: len(task.TestCases)}

	id, err := e.sb.Create(ctx, sandbox.Config{})
	if err != nil {
		return res, fmt.Errorf("codegen: evaluate %s: %w", task.ID, err)
	}
	defer func() {
		if dErr := e.sb.Destroy(context.WithoutCancel(ctx), id); dErr != nil {
			e.logger.Warn("sandbox destroy failed", "task", task.ID, "error", dErr)
		}
	}()

	if err := e.sb.WriteFile(ctx, id, "solution.py", code); err != nil {
		return res, fmt.Errorf("codegen: write solution: %w", err)
	}
	if err := e.sb.WriteFile(ctx, id, "check.py", checkScript(task.ExpectedSymbol)); err != nil {
		return res, fmt.Errorf("codegen: write check script: %w", err)
	}

	check, err := e.sb.Exec(ctx, id, []string{"python3", "check.py"}, sandbox.ExecOptions{TimeoutMs: 10_000})
	if err != nil {
		return res, fmt.Errorf("codegen: symbol check: %w", err)
	}
	switch verdict := strings.TrimSpace(check.Stdout); verdict {
	case "OK":
		res.SyntaxOK, res.SymbolOK = true, true
	case "NO_SYMBOL":
		res.SyntaxOK = true
		res.Failure = "symbol " + task.ExpectedSymbol + " not defined"
		return res, nil
	default:
		res.Failure = firstLine(verdict)
		if res.Failure == "" {
			res.Failure = firstLine(check.Stderr)
		}
		return res, nil
	}

	if err := e.sb.WriteFile(ctx, id, "runner.py", runnerScript(task)); err != nil {
		return res, fmt.Errorf("codegen: write runner: %w", err)
	}
	run, err := e.sb.Exec(ctx, id, []string{"python3", "runner.py"}, sandbox.ExecOptions{TimeoutMs: 30_000})
	if err != nil {
		return res, fmt.Errorf("codegen: run tests: %w", err)
	}
	passed, total, ok := parseRunnerOutput(run.Stdout)
	if !ok {
		res.Failure = "runner produced no verdict: " + firstLine(run.Stderr)
		return res, nil
	}
	res.Passed, res.Total = passed, total
	return res, nil
}

// checkScript generates the pass-one script: parse the solution, report
// a syntax error verbatim or whether the expected symbol is defined at
// module scope.
func checkScript(symbol string) string {
	return fmt.Sprintf(`import ast, sys
try:
    src = open("solution.py").read()
    tree = ast.parse(src)
except SyntaxError as e:
    print("SyntaxError: line %%d: %%s" %% (e.lineno or 0, e.msg))
    sys.exit(0)
names = set()
for node in tree.body:
    if isinstance(node, (ast.FunctionDef, ast.AsyncFunctionDef, ast.ClassDef)):
        names.add(node.name)
print("OK" if %q in names else "NO_SYMBOL")
`, symbol)
}

// runnerScript generates the pass-two script. The runner locks the
// process down before touching the solution: CPU and address-space
// rlimits, a wall-clock alarm, an import deny-list, and an open() guard
// refusing writes and absolute paths outside /tmp. Test inputs and
// expected values travel as literal expressions and are compared with
// ==, so 1 == 1.0 and list/tuple mismatches behave the way the
// interpreter defines.
func runnerScript(task tasks.CodeTask) string {
	var b strings.Builder
	b.WriteString(`import ast, builtins, signal, sys
try:
    import resource
    resource.setrlimit(resource.RLIMIT_CPU, (2, 2))
    resource.setrlimit(resource.RLIMIT_AS, (512 << 20, 512 << 20))
except Exception:
    pass
signal.alarm(5)

DENY = {"os", "subprocess", "socket", "urllib", "requests", "http", "ftplib", "smtplib", "shutil", "pathlib"}
_real_import = builtins.__import__
def _guarded_import(name, *args, **kwargs):
    if name.split(".")[0] in DENY:
        raise ImportError("import blocked: " + name)
    return _real_import(name, *args, **kwargs)
builtins.__import__ = _guarded_import

_real_open = builtins.open
def _guarded_open(file, mode="r", *args, **kwargs):
    path = str(file)
    if any(c in str(mode) for c in "wax+"):
        raise PermissionError("write blocked: " + path)
    if path.startswith("/") and not path.startswith("/tmp"):
        raise PermissionError("path blocked: " + path)
    return _real_open(file, mode, *args, **kwargs)

src = open("solution.py").read()
builtins.open = _guarded_open

`)
	b.WriteString("CASES = [\n")
	for _, tc := range task.TestCases {
		fmt.Fprintf(&b, "    (%q, %q),\n", tc.InputExpression, tc.ExpectedExpression)
	}
	b.WriteString(`]

ns = {}
try:
    exec(compile(src, "solution.py", "exec"), ns)
except Exception:
    print("0/%d" % len(CASES))
    sys.exit(0)
`)
	fmt.Fprintf(&b, "fn = ns.get(%q)\n", task.ExpectedSymbol)
	b.WriteString(`passed = 0
for raw_in, raw_exp in CASES:
    try:
        args = ast.literal_eval(raw_in)
        if not isinstance(args, tuple):
            args = (args,)
        expected = ast.literal_eval(raw_exp)
        if fn(*args) == expected:
            passed += 1
    except Exception:
        pass
print("%d/%d" % (passed, len(CASES)))
`)
	return b.String()
}

// parseRunnerOutput finds the final "passed/total" line in the runner's
// stdout, ignoring anything the solution itself printed.
func parseRunnerOutput(out string) (passed, total int, ok bool) {
	lines := strings.Split(strings.TrimSpace(out), "\n")
	for i := len(lines) - 1; i >= 0; i-- {
		var p, t int
		if n, err := fmt.Sscanf(strings.TrimSpace(lines[i]), "%d/%d", &p, &t); err == nil && n == 2 && t > 0 {
			return p, t, true
		}
	}
	return 0, 0, false
}

func firstLine(s string) string {
	s = strings.TrimSpace(s)
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		s = s[:i]
	}
	return s
}
