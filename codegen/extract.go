package codegen

import (
	"regexp"
	"strings"

	"golang.org/x/text/unicode/norm"
)

var fencedBlockRe = regexp.MustCompile("(?s)```([a-zA-Z0-9_+-]*)[ \t]*\n(.*?)```")

// ExtractCode pulls source code out of a model response. Preference
// order: the longest fenced block tagged with the language, then the
// longest fenced block of any tag, then the raw text with boilerplate
// leading lines stripped and trimmed to the first def/class. The response
// is NFC-normalized first — models occasionally emit decomposed unicode
// that breaks the interpreter on identifiers.
func ExtractCode(text, language string) string {
	text = norm.NFC.String(text)

	matches := fencedBlockRe.FindAllStringSubmatch(text, -1)
	var best, bestAny string
	for _, m := range matches {
		tag, body := strings.ToLower(m[1]), m[2]
		if tag == strings.ToLower(language) && len(body) > len(best) {
			best = body
		}
		if len(body) > len(bestAny) {
			bestAny = body
		}
	}
	if best != "" {
		return strings.TrimSpace(best)
	}
	if bestAny != "" {
		return strings.TrimSpace(bestAny)
	}

	return strings.TrimSpace(stripBoilerplate(text))
}

// stripBoilerplate removes leading prose lines from an unfenced response
// and trims to the first def/class line when one exists. If the expected
// symbol never appears the caller keeps the code anyway; the evaluator
// reports the missing symbol.
func stripBoilerplate(text string) string {
	lines := strings.Split(text, "\n")
	start := -1
	for i, line := range lines {
		trimmed := strings.TrimSpace(line)
		if strings.HasPrefix(trimmed, "def ") || strings.HasPrefix(trimmed, "class ") ||
			strings.HasPrefix(trimmed, "import ") || strings.HasPrefix(trimmed, "from ") {
			start = i
			break
		}
	}
	if start < 0 {
		return text
	}
	return strings.Join(lines[start:], "\n")
}
