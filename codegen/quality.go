package codegen

import (
	"regexp"
	"strings"
)

// Static quality heuristics over the cleaned source. The ceiling is 0.75:
// heuristics can recognize decent code but never certify excellence.

var (
	bannedCallRe = regexp.MustCompile(`\b(eval|exec|__import__|compile)\s*\(|os\.system|subprocess\.`)
	defClassRe   = regexp.MustCompile(`(?m)^\s*(def|class)\s+\w`)
	controlRe    = regexp.MustCompile(`(?m)^\s*(if|for|while|try)\b`)
	docstringRe  = regexp.MustCompile(`(?s)(def|class)[^\n]*\n\s*("""|''')`)
	typeHintRe   = regexp.MustCompile(`->\s*\w|\w+\s*:\s*(int|str|float|bool|list|dict|tuple|set|List|Dict|Optional)`)
	commentRe    = regexp.MustCompile(`(?m)#\s*\S+(\s+\S+){2,}`)
	returnRe     = regexp.MustCompile(`(?m)^\s*return\b`)
	globalRe     = regexp.MustCompile(`(?m)^\s*global\s`)
	lambdaRe     = regexp.MustCompile(`\blambda\b`)
)

const (
	qualityMinSize = 20
	qualityMaxSize = 2000
	qualityCeiling = 0.75
)

// CodeQuality scores the cleaned source in [0, 0.75].
func CodeQuality(code string) float64 {
	code = strings.TrimSpace(code)
	if code == "" {
		return 0
	}

	var q float64
	if len(code) >= qualityMinSize && len(code) <= qualityMaxSize {
		q += 0.10
	}
	if !bannedCallRe.MatchString(code) {
		q += 0.10
	}
	if defClassRe.MatchString(code) {
		q += 0.10
	}
	if controlRe.MatchString(code) {
		q += 0.10
	}
	if docstringRe.MatchString(code) {
		q += 0.10
	}
	if typeHintRe.MatchString(code) {
		q += 0.05
	}
	if commentRe.MatchString(code) {
		q += 0.05
	}
	if returnRe.MatchString(code) {
		q += 0.10
	}

	if globalRe.MatchString(code) {
		q -= 0.05
	}
	if lambdaRe.MatchString(code) {
		q -= 0.05
	}
	if len(code) > qualityMaxSize {
		q -= 0.10
	}

	if q < 0 {
		return 0
	}
	if q > qualityCeiling {
		return qualityCeiling
	}
	return q
}
