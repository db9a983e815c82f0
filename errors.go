package stupidmeter

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// ErrLLM is a provider-level failure that carries no HTTP status
// (marshalling, transport setup, malformed response body).
type ErrLLM struct {
	Provider string
	Message  string
}

func (e *ErrLLM) Error() string {
	return fmt.Sprintf("%s: %s", e.Provider, e.Message)
}

// ErrHTTP is a non-2xx provider response. RetryAfter is parsed from the
// Retry-After header when the provider sent one (429/503).
type ErrHTTP struct {
	Status     int
	Body       string
	RetryAfter time.Duration
}

func (e *ErrHTTP) Error() string {
	return fmt.Sprintf("http %d: %s", e.Status, e.Body)
}

// ErrNoAPIKey means the vendor's API key env var is not set. The
// aggregator converts it to the -999 sentinel at the storage boundary.
type ErrNoAPIKey struct {
	Vendor Vendor
}

func (e *ErrNoAPIKey) Error() string {
	return fmt.Sprintf("no API key configured for vendor %s", e.Vendor)
}

// ErrCreditExhausted is an adapter-reported billing failure. It propagates
// out of the tool-session engine so the scheduler can record a marker
// session and move on instead of burning the rest of the tick.
type ErrCreditExhausted struct {
	Vendor  Vendor
	Message string
}

func (e *ErrCreditExhausted) Error() string {
	return fmt.Sprintf("%s: credits exhausted: %s", e.Vendor, e.Message)
}

// ErrTrialFailed is a single non-retryable trial failure. The task
// continues with its remaining trials.
type ErrTrialFailed struct {
	Task   string
	Reason string
}

func (e *ErrTrialFailed) Error() string {
	return fmt.Sprintf("trial failed for %s: %s", e.Task, e.Reason)
}

// ParseRetryAfter parses a Retry-After header value: either delta-seconds
// or an HTTP date. Returns 0 when absent or unparseable.
func ParseRetryAfter(v string) time.Duration {
	v = strings.TrimSpace(v)
	if v == "" {
		return 0
	}
	if secs, err := strconv.Atoi(v); err == nil && secs >= 0 {
		return time.Duration(secs) * time.Second
	}
	if t, err := time.Parse(time.RFC1123, v); err == nil {
		if d := time.Until(t); d > 0 {
			return d
		}
	}
	return 0
}
