package tasks

import "github.com/benchlab/stupidmeter/sandbox"

// toolSystemPrompt is shared by the tool-calling tasks: the task-specific
// framing lives in InitialMessage, not here.
const toolSystemPrompt = "You are an assistant operating inside an isolated Linux workspace. " +
	"Use the available tools to complete the user's request. " +
	"Call tools rather than describing what you would do. " +
	"When the task is complete, reply without calling any more tools."

// ToolTasks returns the tool-calling catalog.
func ToolTasks() []ToolTask {
	return []ToolTask{
		{
			Slug:           "file_operations_easy",
			Name:           "Create and verify a file",
			Difficulty:     Easy,
			Category:       "files",
			SystemPrompt:   toolSystemPrompt,
			InitialMessage: `Please create a file called "hello.txt" with the content "Hello, World!" and then read it back to verify.`,
			Success: SuccessCriteria{
				Kind:         CriteriaFileContent,
				Path:         "hello.txt",
				ContainsText: []string{"Hello, World!"},
			},
			MaxTurns:      6,
			TimeoutMs:     120_000,
			Sandbox:       sandbox.Config{},
			ExpectedTools: []string{"write_to_file", "read_file"},
		},
		{
			Slug:           "file_operations_medium",
			Name:           "Reorganize workspace files",
			Difficulty:     Medium,
			Category:       "files",
			SystemPrompt:   toolSystemPrompt,
			InitialMessage: `The workspace contains notes.txt. Create a directory called "archive", copy notes.txt into archive/notes.txt, then append the line "archived" to the original notes.txt.`,
			Success: SuccessCriteria{
				Kind: CriteriaMulti,
				All: []SuccessCriteria{
					{Kind: CriteriaFileExists, Path: "archive/notes.txt"},
					{Kind: CriteriaFileContent, Path: "notes.txt", ContainsText: []string{"meeting at noon", "archived"}},
				},
			},
			MaxTurns:      8,
			TimeoutMs:     180_000,
			Sandbox:       sandbox.Config{},
			ExpectedTools: []string{"read_file", "write_to_file", "execute_command"},
			InitialFiles: map[string]string{
				"notes.txt": "meeting at noon\n",
			},
		},
		{
			Slug:           "command_execution_easy",
			Name:           "Count lines with shell tools",
			Difficulty:     Easy,
			Category:       "shell",
			SystemPrompt:   toolSystemPrompt,
			InitialMessage: `The workspace contains data.csv. Use a shell command to count its lines and write just the number to a file called "count.txt".`,
			Success: SuccessCriteria{
				Kind:             CriteriaCommandOutput,
				Command:          "cat count.txt",
				ExpectedInOutput: []string{"4"},
			},
			MaxTurns:      6,
			TimeoutMs:     120_000,
			Sandbox:       sandbox.Config{},
			ExpectedTools: []string{"execute_command"},
			InitialFiles: map[string]string{
				"data.csv": "id,name\n1,alpha\n2,beta\n3,gamma\n",
			},
		},
		{
			Slug:           "data_processing_hard",
			Name:           "Filter and summarize records",
			Difficulty:     Hard,
			Category:       "data",
			SystemPrompt:   toolSystemPrompt,
			InitialMessage: `The workspace contains records.json, a JSON array of objects with "name" and "score" fields. Write a file called "summary.txt" containing the names of all records with score >= 80, one per line, sorted alphabetically.`,
			Success: SuccessCriteria{
				Kind:         CriteriaFileContent,
				Path:         "summary.txt",
				ContainsText: []string{"ada", "grace"},
			},
			MaxTurns:      10,
			TimeoutMs:     240_000,
			Sandbox:       sandbox.Config{},
			ExpectedTools: []string{"read_file", "write_to_file"},
			InitialFiles: map[string]string{
				"records.json": `[{"name":"grace","score":91},{"name":"bob","score":55},{"name":"ada","score":88}]`,
			},
		},
		{
			Slug:           "directory_listing_easy",
			Name:           "Inventory the workspace",
			Difficulty:     Easy,
			Category:       "files",
			SystemPrompt:   toolSystemPrompt,
			InitialMessage: `List the files in the workspace and write their names, one per line, to a file called "inventory.txt".`,
			Success: SuccessCriteria{
				Kind:         CriteriaFileContent,
				Path:         "inventory.txt",
				ContainsText: []string{"a.txt", "b.txt"},
			},
			MaxTurns:      6,
			TimeoutMs:     120_000,
			Sandbox:       sandbox.Config{},
			ExpectedTools: []string{"list_files", "write_to_file"},
			InitialFiles: map[string]string{
				"a.txt": "alpha\n",
				"b.txt": "beta\n",
			},
		},
	}
}

// ToolTaskBySlug returns the tool task with the given slug, if present.
func ToolTaskBySlug(slug string) (ToolTask, bool) {
	for _, t := range ToolTasks() {
		if t.Slug == slug {
			return t, true
		}
	}
	return ToolTask{}, false
}
