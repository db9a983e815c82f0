// Package tasks is the static benchmark catalog: short Python
// code-generation tasks scored on the seven-axis rubric, and multi-turn
// tool-calling tasks executed against sandboxed tool registries.
//
// Tasks are effectively immutable — seeded once, referenced by id/slug
// from persisted runs and sessions.
package tasks

import "github.com/benchlab/stupidmeter/sandbox"

// Difficulty buckets drive the complexity axis of the scoring rubric.
type Difficulty string

const (
	Easy   Difficulty = "easy"
	Medium Difficulty = "medium"
	Hard   Difficulty = "hard"
)

// TestCase is one assertion for a code task. Both expressions are in the
// target interpreter's literal syntax: InputExpression parses as an
// argument tuple, ExpectedExpression as the expected return value.
type TestCase struct {
	InputExpression    string `json:"input"`
	ExpectedExpression string `json:"expected"`
}

// CodeTask is a short code-generation task.
type CodeTask struct {
	ID             string     `json:"id"`
	Slug           string     `json:"slug"`
	Language       string     `json:"language"`
	Difficulty     Difficulty `json:"difficulty"`
	Prompt         string     `json:"prompt"`
	ExpectedSymbol string     `json:"expected_symbol"`
	MaxTokens      int        `json:"max_tokens"`
	TestCases      []TestCase `json:"test_cases"`
	// Tags refine scoring: tasks tagged "debug" score the debugging
	// axis strictly from correctness.
	Tags []string `json:"tags,omitempty"`
}

// HasTag reports whether the task carries the given tag.
func (t CodeTask) HasTag(tag string) bool {
	for _, s := range t.Tags {
		if s == tag {
			return true
		}
	}
	return false
}

// CriteriaKind discriminates the SuccessCriteria variant.
type CriteriaKind string

const (
	CriteriaFileExists    CriteriaKind = "fileExists"
	CriteriaFileContent   CriteriaKind = "fileContent"
	CriteriaCommandOutput CriteriaKind = "commandOutput"
	CriteriaMulti         CriteriaKind = "multiCriteria"
)

// SuccessCriteria is a tagged variant evaluated deterministically against
// the sandbox filesystem or command output — never against the model's
// own messages.
type SuccessCriteria struct {
	Kind CriteriaKind `json:"kind"`

	// fileExists / fileContent
	Path string `json:"path,omitempty"`
	// fileContent: exact match when ExpectedContent is set, otherwise
	// every ContainsText entry must appear.
	ExpectedContent string   `json:"expected_content,omitempty"`
	ContainsText    []string `json:"contains_text,omitempty"`

	// commandOutput: command must exit 0 and stdout must contain every
	// ExpectedInOutput entry.
	Command          string   `json:"command,omitempty"`
	ExpectedInOutput []string `json:"expected_in_output,omitempty"`

	// multiCriteria: all sub-criteria must pass.
	All []SuccessCriteria `json:"all,omitempty"`
}

// ToolTask is a multi-turn tool-calling task.
type ToolTask struct {
	Slug           string            `json:"slug"`
	Name           string            `json:"name"`
	Difficulty     Difficulty        `json:"difficulty"`
	Category       string            `json:"category"`
	SystemPrompt   string            `json:"system_prompt"`
	InitialMessage string            `json:"initial_message"`
	Success        SuccessCriteria   `json:"success_criteria"`
	MaxTurns       int               `json:"max_turns"`
	TimeoutMs      int64             `json:"timeout_ms"`
	Sandbox        sandbox.Config    `json:"sandbox_config"`
	ExpectedTools  []string          `json:"expected_tools"`
	InitialFiles   map[string]string `json:"initial_files,omitempty"`
}
