package codegen

import (
	"context"
	"strings"
	"testing"

	"github.com/benchlab/stupidmeter/tasks"
)

func palindromeTask(t *testing.T) tasks.CodeTask {
	t.Helper()
	task, ok := tasks.CodeTaskByID("py/is_palindrome")
	if !ok {
		t.Fatal("py/is_palindrome missing from catalog")
	}
	return task
}

func TestEvaluateAllPass(t *testing.T) {
	sb := newFakeSandbox("OK\n", "4/4\n")
	ev := NewEvaluator(sb, nil)

	res, err := ev.Evaluate(context.Background(), "def is_palindrome(s): return True", palindromeTask(t))
	if err != nil {
		t.Fatal(err)
	}
	if !res.SyntaxOK || !res.SymbolOK {
		t.Errorf("SyntaxOK=%v SymbolOK=%v, want both true", res.SyntaxOK, res.SymbolOK)
	}
	if res.Passed != 4 || res.Total != 4 {
		t.Errorf("Passed/Total = %d/%d, want 4/4", res.Passed, res.Total)
	}
	if c := res.Correctness(); c != 1.0 {
		t.Errorf("Correctness = %v, want 1.0", c)
	}
	if sb.destroyed != 1 {
		t.Errorf("destroyed = %d, want 1", sb.destroyed)
	}
}

func TestEvaluateSyntaxError(t *testing.T) {
	sb := newFakeSandbox("SyntaxError: line 1: invalid syntax\n", "")
	ev := NewEvaluator(sb, nil)

	res, err := ev.Evaluate(context.Background(), "def broken(", palindromeTask(t))
	if err != nil {
		t.Fatal(err)
	}
	if res.SyntaxOK {
		t.Error("SyntaxOK = true, want false")
	}
	if res.Correctness() != 0 {
		t.Errorf("Correctness = %v, want 0", res.Correctness())
	}
	if !strings.Contains(res.Failure, "SyntaxError") {
		t.Errorf("Failure = %q, want the parser diagnostic", res.Failure)
	}
	if sb.destroyed != 1 {
		t.Errorf("destroyed = %d, want 1 even on early return", sb.destroyed)
	}
}

func TestEvaluateMissingSymbol(t *testing.T) {
	sb := newFakeSandbox("NO_SYMBOL\n", "")
	ev := NewEvaluator(sb, nil)

	res, err := ev.Evaluate(context.Background(), "def wrong_name(s): pass", palindromeTask(t))
	if err != nil {
		t.Fatal(err)
	}
	if !res.SyntaxOK || res.SymbolOK {
		t.Errorf("SyntaxOK=%v SymbolOK=%v, want true/false", res.SyntaxOK, res.SymbolOK)
	}
	if !strings.Contains(res.Failure, "is_palindrome") {
		t.Errorf("Failure = %q, want to name the missing symbol", res.Failure)
	}
}

func TestEvaluatePartialPass(t *testing.T) {
	sb := newFakeSandbox("OK\n", "some stray print\n3/4\n")
	ev := NewEvaluator(sb, nil)

	res, err := ev.Evaluate(context.Background(), "def is_palindrome(s): return False", palindromeTask(t))
	if err != nil {
		t.Fatal(err)
	}
	if res.Passed != 3 || res.Total != 4 {
		t.Errorf("Passed/Total = %d/%d, want 3/4", res.Passed, res.Total)
	}
}

func TestRunnerScriptContent(t *testing.T) {
	task := palindromeTask(t)
	script := runnerScript(task)

	for _, want := range []string{
		"RLIMIT_CPU", "RLIMIT_AS", "signal.alarm(5)",
		`"subprocess"`, "_guarded_import", "_guarded_open",
		"ast.literal_eval", task.ExpectedSymbol,
	} {
		if !strings.Contains(script, want) {
			t.Errorf("runner script missing %q", want)
		}
	}
	for _, tc := range task.TestCases {
		if !strings.Contains(script, tc.ExpectedExpression) {
			t.Errorf("runner script missing test case %q", tc.ExpectedExpression)
		}
	}
}

func TestParseRunnerOutput(t *testing.T) {
	cases := []struct {
		in     string
		passed int
		total  int
		ok     bool
	}{
		{"4/4\n", 4, 4, true},
		{"debug noise\n2/4\n", 2, 4, true},
		{"0/4", 0, 4, true},
		{"", 0, 0, false},
		{"no verdict here", 0, 0, false},
	}
	for _, c := range cases {
		p, tot, ok := parseRunnerOutput(c.in)
		if p != c.passed || tot != c.total || ok != c.ok {
			t.Errorf("parseRunnerOutput(%q) = %d/%d %v, want %d/%d %v", c.in, p, tot, ok, c.passed, c.total, c.ok)
		}
	}
}
