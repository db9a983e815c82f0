package toolcall

import (
	"context"
	"fmt"
	"strings"

	"github.com/benchlab/stupidmeter/sandbox"
	"github.com/benchlab/stupidmeter/tasks"
)

// CheckSuccess evaluates a task's success criteria against the live
// sandbox. Evidence comes from the filesystem and command output only,
// never from what the model claims in its messages.
func CheckSuccess(ctx context.Context, sb Sandboxer, sandboxID string, c tasks.SuccessCriteria) (bool, error) {
	switch c.Kind {
	case tasks.CriteriaFileExists:
		res, err := sb.Exec(ctx, sandboxID, []string{"test", "-e", c.Path}, sandbox.ExecOptions{})
		if err != nil {
			return false, err
		}
		return res.ExitCode == 0, nil

	case tasks.CriteriaFileContent:
		content, err := sb.ReadFile(ctx, sandboxID, c.Path)
		if err != nil {
			// A missing file is a failed criterion, not an engine error.
			return false, nil
		}
		if c.ExpectedContent != "" {
			return strings.TrimSpace(content) == strings.TrimSpace(c.ExpectedContent), nil
		}
		for _, want := range c.ContainsText {
			if !strings.Contains(content, want) {
				return false, nil
			}
		}
		return true, nil

	case tasks.CriteriaCommandOutput:
		res, err := sb.Exec(ctx, sandboxID, []string{"/bin/sh", "-c", c.Command}, sandbox.ExecOptions{})
		if err != nil {
			return false, err
		}
		if res.ExitCode != 0 {
			return false, nil
		}
		for _, want := range c.ExpectedInOutput {
			if !strings.Contains(res.Stdout, want) {
				return false, nil
			}
		}
		return true, nil

	case tasks.CriteriaMulti:
		for _, sub := range c.All {
			ok, err := CheckSuccess(ctx, sb, sandboxID, sub)
			if err != nil || !ok {
				return false, err
			}
		}
		return true, nil

	default:
		return false, fmt.Errorf("toolcall: unknown criteria kind %q", c.Kind)
	}
}
