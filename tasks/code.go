package tasks

// CodeTasks returns the code-generation catalog. Prompts are short and
// closed-form on purpose: the suite measures whether a model can still do
// the basics, not whether it can do research.
func CodeTasks() []CodeTask {
	return []CodeTask{
		{
			ID:             "py/is_palindrome",
			Slug:           "is_palindrome",
			Language:       "python",
			Difficulty:     Easy,
			Prompt:         "Write a Python function is_palindrome(s) that returns True if the string s is a palindrome, ignoring case and non-alphanumeric characters, and False otherwise.",
			ExpectedSymbol: "is_palindrome",
			MaxTokens:      600,
			TestCases: []TestCase{
				{InputExpression: "('A man, a plan, a canal: Panama',)", ExpectedExpression: "True"},
				{InputExpression: "('race a car',)", ExpectedExpression: "False"},
				{InputExpression: "('',)", ExpectedExpression: "True"},
				{InputExpression: "('No lemon, no melon',)", ExpectedExpression: "True"},
			},
		},
		{
			ID:             "py/fizzbuzz_list",
			Slug:           "fizzbuzz_list",
			Language:       "python",
			Difficulty:     Easy,
			Prompt:         "Write a Python function fizzbuzz(n) that returns a list of strings for 1..n where multiples of 3 are 'Fizz', multiples of 5 are 'Buzz', multiples of both are 'FizzBuzz', and other numbers are their decimal string.",
			ExpectedSymbol: "fizzbuzz",
			MaxTokens:      600,
			TestCases: []TestCase{
				{InputExpression: "(5,)", ExpectedExpression: "['1', '2', 'Fizz', '4', 'Buzz']"},
				{InputExpression: "(15,)", ExpectedExpression: "['1', '2', 'Fizz', '4', 'Buzz', 'Fizz', '7', '8', 'Fizz', 'Buzz', '11', 'Fizz', '13', '14', 'FizzBuzz']"},
				{InputExpression: "(1,)", ExpectedExpression: "['1']"},
				{InputExpression: "(0,)", ExpectedExpression: "[]"},
			},
		},
		{
			ID:             "py/two_sum",
			Slug:           "two_sum",
			Language:       "python",
			Difficulty:     Easy,
			Prompt:         "Write a Python function two_sum(nums, target) that returns the indices of the two numbers in nums that add up to target, as a list [i, j] with i < j. Exactly one solution exists.",
			ExpectedSymbol: "two_sum",
			MaxTokens:      600,
			TestCases: []TestCase{
				{InputExpression: "([2, 7, 11, 15], 9)", ExpectedExpression: "[0, 1]"},
				{InputExpression: "([3, 2, 4], 6)", ExpectedExpression: "[1, 2]"},
				{InputExpression: "([3, 3], 6)", ExpectedExpression: "[0, 1]"},
			},
		},
		{
			ID:             "py/merge_intervals",
			Slug:           "merge_intervals",
			Language:       "python",
			Difficulty:     Medium,
			Prompt:         "Write a Python function merge_intervals(intervals) that merges overlapping intervals. intervals is a list of [start, end] pairs; return the merged list sorted by start.",
			ExpectedSymbol: "merge_intervals",
			MaxTokens:      800,
			TestCases: []TestCase{
				{InputExpression: "([[1, 3], [2, 6], [8, 10], [15, 18]],)", ExpectedExpression: "[[1, 6], [8, 10], [15, 18]]"},
				{InputExpression: "([[1, 4], [4, 5]],)", ExpectedExpression: "[[1, 5]]"},
				{InputExpression: "([],)", ExpectedExpression: "[]"},
				{InputExpression: "([[5, 7], [1, 3]],)", ExpectedExpression: "[[1, 3], [5, 7]]"},
			},
		},
		{
			ID:             "py/roman_to_int",
			Slug:           "roman_to_int",
			Language:       "python",
			Difficulty:     Medium,
			Prompt:         "Write a Python function roman_to_int(s) that converts a Roman numeral string to an integer. Input is a valid numeral in the range 1..3999.",
			ExpectedSymbol: "roman_to_int",
			MaxTokens:      800,
			TestCases: []TestCase{
				{InputExpression: "('III',)", ExpectedExpression: "3"},
				{InputExpression: "('LVIII',)", ExpectedExpression: "58"},
				{InputExpression: "('MCMXCIV',)", ExpectedExpression: "1994"},
				{InputExpression: "('IX',)", ExpectedExpression: "9"},
			},
		},
		{
			ID:             "py/group_anagrams",
			Slug:           "group_anagrams",
			Language:       "python",
			Difficulty:     Medium,
			Prompt:         "Write a Python function group_anagrams(words) that groups anagrams together. Return a list of groups; within each group keep input order, and sort groups by their first element.",
			ExpectedSymbol: "group_anagrams",
			MaxTokens:      900,
			TestCases: []TestCase{
				{InputExpression: "(['eat', 'tea', 'tan', 'ate', 'nat', 'bat'],)", ExpectedExpression: "[['bat'], ['eat', 'tea', 'ate'], ['tan', 'nat']]"},
				{InputExpression: "([''],)", ExpectedExpression: "[['']]"},
				{InputExpression: "(['a'],)", ExpectedExpression: "[['a']]"},
			},
		},
		{
			ID:             "py/edit_distance",
			Slug:           "edit_distance",
			Language:       "python",
			Difficulty:     Hard,
			Prompt:         "Write a Python function edit_distance(a, b) that returns the Levenshtein distance between strings a and b (minimum number of single-character insertions, deletions, or substitutions).",
			ExpectedSymbol: "edit_distance",
			MaxTokens:      1200,
			TestCases: []TestCase{
				{InputExpression: "('horse', 'ros')", ExpectedExpression: "3"},
				{InputExpression: "('intention', 'execution')", ExpectedExpression: "5"},
				{InputExpression: "('', 'abc')", ExpectedExpression: "3"},
				{InputExpression: "('same', 'same')", ExpectedExpression: "0"},
			},
		},
		{
			ID:             "py/word_ladder_length",
			Slug:           "word_ladder_length",
			Language:       "python",
			Difficulty:     Hard,
			Prompt:         "Write a Python function ladder_length(begin, end, words) returning the number of words in the shortest transformation sequence from begin to end changing one letter at a time, where every intermediate word is in words. Return 0 if no sequence exists.",
			ExpectedSymbol: "ladder_length",
			MaxTokens:      1200,
			TestCases: []TestCase{
				{InputExpression: "('hit', 'cog', ['hot', 'dot', 'dog', 'lot', 'log', 'cog'])", ExpectedExpression: "5"},
				{InputExpression: "('hit', 'cog', ['hot', 'dot', 'dog', 'lot', 'log'])", ExpectedExpression: "0"},
			},
		},
		{
			ID:             "py/fix_off_by_one",
			Slug:           "fix_off_by_one",
			Language:       "python",
			Difficulty:     Medium,
			Prompt:         "The following Python function is supposed to return the sum of the first n positive integers but has a bug:\n\ndef sum_to_n(n):\n    total = 0\n    for i in range(n):\n        total += i\n    return total\n\nWrite a corrected version named sum_to_n.",
			ExpectedSymbol: "sum_to_n",
			MaxTokens:      600,
			Tags:           []string{"debug"},
			TestCases: []TestCase{
				{InputExpression: "(5,)", ExpectedExpression: "15"},
				{InputExpression: "(1,)", ExpectedExpression: "1"},
				{InputExpression: "(100,)", ExpectedExpression: "5050"},
			},
		},
		{
			ID:             "py/balanced_brackets",
			Slug:           "balanced_brackets",
			Language:       "python",
			Difficulty:     Easy,
			Prompt:         "Write a Python function is_balanced(s) that returns True if every bracket in s — (), [], {} — is closed in the correct order, and False otherwise. Non-bracket characters are ignored.",
			ExpectedSymbol: "is_balanced",
			MaxTokens:      600,
			TestCases: []TestCase{
				{InputExpression: "('()[]{}',)", ExpectedExpression: "True"},
				{InputExpression: "('(]',)", ExpectedExpression: "False"},
				{InputExpression: "('a(b[c]{d}e)f',)", ExpectedExpression: "True"},
				{InputExpression: "('(',)", ExpectedExpression: "False"},
			},
		},
	}
}

// CodeTaskByID returns the code task with the given id, if present.
func CodeTaskByID(id string) (CodeTask, bool) {
	for _, t := range CodeTasks() {
		if t.ID == id {
			return t, true
		}
	}
	return CodeTask{}, false
}
