package stupidmeter

import (
	"testing"
	"time"
)

func TestParseRetryAfter(t *testing.T) {
	cases := []struct {
		in   string
		want time.Duration
	}{
		{"", 0},
		{"7", 7 * time.Second},
		{" 30 ", 30 * time.Second},
		{"0", 0},
		{"-5", 0},
		{"soon", 0},
	}
	for _, tc := range cases {
		if got := ParseRetryAfter(tc.in); got != tc.want {
			t.Errorf("ParseRetryAfter(%q) = %v, want %v", tc.in, got, tc.want)
		}
	}
}

func TestParseRetryAfterHTTPDate(t *testing.T) {
	future := time.Now().Add(90 * time.Second).UTC().Format(time.RFC1123)
	got := ParseRetryAfter(future)
	if got < 80*time.Second || got > 90*time.Second {
		t.Errorf("ParseRetryAfter(future date) = %v", got)
	}

	past := time.Now().Add(-time.Hour).UTC().Format(time.RFC1123)
	if got := ParseRetryAfter(past); got != 0 {
		t.Errorf("ParseRetryAfter(past date) = %v, want 0", got)
	}
}

func TestErrorStrings(t *testing.T) {
	cases := []struct {
		err  error
		want string
	}{
		{&ErrLLM{Provider: "google", Message: "bad json"}, "google: bad json"},
		{&ErrHTTP{Status: 429, Body: "slow down"}, "http 429: slow down"},
		{&ErrNoAPIKey{Vendor: VendorXAI}, "no API key configured for vendor xai"},
		{&ErrCreditExhausted{Vendor: VendorGLM, Message: "balance"}, "glm: credits exhausted: balance"},
		{&ErrTrialFailed{Task: "py/is_palindrome", Reason: "no code block"}, "trial failed for py/is_palindrome: no code block"},
	}
	for _, tc := range cases {
		if got := tc.err.Error(); got != tc.want {
			t.Errorf("Error() = %q, want %q", got, tc.want)
		}
	}
}
