package toolcall

import (
	"context"
	"testing"

	"github.com/benchlab/stupidmeter/tasks"
)

func seededSandbox(t *testing.T, files map[string]string) (*fakeSandbox, string) {
	t.Helper()
	sb := newFakeSandbox()
	id, err := sb.Create(context.Background(), testSandboxConfig())
	if err != nil {
		t.Fatal(err)
	}
	for path, content := range files {
		if err := sb.WriteFile(context.Background(), id, path, content); err != nil {
			t.Fatal(err)
		}
	}
	return sb, id
}

func TestCheckSuccessFileExists(t *testing.T) {
	sb, id := seededSandbox(t, map[string]string{"archive/notes.txt": "x"})

	ok, err := CheckSuccess(context.Background(), sb, id, tasks.SuccessCriteria{
		Kind: tasks.CriteriaFileExists, Path: "archive/notes.txt",
	})
	if err != nil || !ok {
		t.Errorf("existing file: ok=%v err=%v, want true", ok, err)
	}

	ok, err = CheckSuccess(context.Background(), sb, id, tasks.SuccessCriteria{
		Kind: tasks.CriteriaFileExists, Path: "missing.txt",
	})
	if err != nil || ok {
		t.Errorf("missing file: ok=%v err=%v, want false", ok, err)
	}
}

func TestCheckSuccessFileContent(t *testing.T) {
	sb, id := seededSandbox(t, map[string]string{"hello.txt": "Hello, World!\n"})

	ok, err := CheckSuccess(context.Background(), sb, id, tasks.SuccessCriteria{
		Kind: tasks.CriteriaFileContent, Path: "hello.txt", ContainsText: []string{"Hello, World!"},
	})
	if err != nil || !ok {
		t.Errorf("contains: ok=%v err=%v, want true", ok, err)
	}

	ok, err = CheckSuccess(context.Background(), sb, id, tasks.SuccessCriteria{
		Kind: tasks.CriteriaFileContent, Path: "hello.txt", ExpectedContent: "Hello, World!",
	})
	if err != nil || !ok {
		t.Errorf("exact (whitespace-trimmed): ok=%v err=%v, want true", ok, err)
	}

	ok, err = CheckSuccess(context.Background(), sb, id, tasks.SuccessCriteria{
		Kind: tasks.CriteriaFileContent, Path: "hello.txt", ContainsText: []string{"Goodbye"},
	})
	if err != nil || ok {
		t.Errorf("wrong text: ok=%v err=%v, want false", ok, err)
	}

	ok, err = CheckSuccess(context.Background(), sb, id, tasks.SuccessCriteria{
		Kind: tasks.CriteriaFileContent, Path: "absent.txt", ContainsText: []string{"x"},
	})
	if err != nil || ok {
		t.Errorf("absent file: ok=%v err=%v, want false without error", ok, err)
	}
}

func TestCheckSuccessCommandOutput(t *testing.T) {
	sb, id := seededSandbox(t, map[string]string{"count.txt": "4\n"})

	ok, err := CheckSuccess(context.Background(), sb, id, tasks.SuccessCriteria{
		Kind: tasks.CriteriaCommandOutput, Command: "cat count.txt", ExpectedInOutput: []string{"4"},
	})
	if err != nil || !ok {
		t.Errorf("ok=%v err=%v, want true", ok, err)
	}

	ok, err = CheckSuccess(context.Background(), sb, id, tasks.SuccessCriteria{
		Kind: tasks.CriteriaCommandOutput, Command: "cat nope.txt", ExpectedInOutput: []string{"4"},
	})
	if err != nil || ok {
		t.Errorf("nonzero exit: ok=%v err=%v, want false", ok, err)
	}
}

func TestCheckSuccessMulti(t *testing.T) {
	sb, id := seededSandbox(t, map[string]string{
		"archive/notes.txt": "meeting at noon\n",
		"notes.txt":         "meeting at noon\narchived\n",
	})

	crit := tasks.SuccessCriteria{
		Kind: tasks.CriteriaMulti,
		All: []tasks.SuccessCriteria{
			{Kind: tasks.CriteriaFileExists, Path: "archive/notes.txt"},
			{Kind: tasks.CriteriaFileContent, Path: "notes.txt", ContainsText: []string{"meeting at noon", "archived"}},
		},
	}
	ok, err := CheckSuccess(context.Background(), sb, id, crit)
	if err != nil || !ok {
		t.Errorf("ok=%v err=%v, want true", ok, err)
	}

	crit.All = append(crit.All, tasks.SuccessCriteria{Kind: tasks.CriteriaFileExists, Path: "missing"})
	ok, err = CheckSuccess(context.Background(), sb, id, crit)
	if err != nil || ok {
		t.Errorf("one failing sub-criterion: ok=%v err=%v, want false", ok, err)
	}
}

func TestCheckSuccessUnknownKind(t *testing.T) {
	sb, id := seededSandbox(t, nil)
	if _, err := CheckSuccess(context.Background(), sb, id, tasks.SuccessCriteria{Kind: "telepathy"}); err == nil {
		t.Error("want an error for an unknown criteria kind")
	}
}
