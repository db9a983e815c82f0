package cache

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	stupidmeter "github.com/benchlab/stupidmeter"
)

type payload struct {
	Rankings []string `json:"rankings"`
	Tick     int      `json:"tick"`
}

func newTestCache(t *testing.T, opts ...Option) *Cache {
	t.Helper()
	c, err := New(t.TempDir(), "build-1", opts...)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return c
}

func testKey() Key {
	return Key{Period: "7d", SortBy: "score", AnalyticsPeriod: "24h"}
}

func TestGetOrFillMissThenHit(t *testing.T) {
	c := newTestCache(t)
	fills := 0
	fill := func() (any, error) {
		fills++
		return payload{Rankings: []string{"gpt-test"}, Tick: fills}, nil
	}

	first, cached, err := c.GetOrFill(testKey(), fill)
	if err != nil {
		t.Fatal(err)
	}
	if cached {
		t.Error("first call reported cached = true")
	}

	second, cached, err := c.GetOrFill(testKey(), fill)
	if err != nil {
		t.Fatal(err)
	}
	if !cached {
		t.Error("second call reported cached = false")
	}
	if fills != 1 {
		t.Errorf("fills = %d, want 1", fills)
	}
	if !bytes.Equal(first, second) {
		t.Errorf("cached payload differs: %s vs %s", first, second)
	}
}

func TestFileTierSurvivesMemoryLoss(t *testing.T) {
	dir := t.TempDir()
	c1, err := New(dir, "build-1")
	if err != nil {
		t.Fatal(err)
	}
	if _, _, err := c1.GetOrFill(testKey(), func() (any, error) {
		return payload{Tick: 7}, nil
	}); err != nil {
		t.Fatal(err)
	}

	// Fresh cache over the same dir simulates a process restart.
	c2, err := New(dir, "build-1")
	if err != nil {
		t.Fatal(err)
	}
	data, cached, err := c2.GetOrFill(testKey(), func() (any, error) {
		t.Fatal("fill called despite a valid file entry")
		return nil, nil
	})
	if err != nil {
		t.Fatal(err)
	}
	if !cached {
		t.Error("cached = false, want file-tier hit")
	}
	var p payload
	if err := json.Unmarshal(data, &p); err != nil || p.Tick != 7 {
		t.Errorf("payload = %s (err %v), want tick 7", data, err)
	}
}

func TestBuildMismatchRejected(t *testing.T) {
	dir := t.TempDir()
	c1, err := New(dir, "build-1")
	if err != nil {
		t.Fatal(err)
	}
	if _, _, err := c1.GetOrFill(testKey(), func() (any, error) {
		return payload{Tick: 1}, nil
	}); err != nil {
		t.Fatal(err)
	}

	c2, err := New(dir, "build-2")
	if err != nil {
		t.Fatal(err)
	}
	_, cached, err := c2.GetOrFill(testKey(), func() (any, error) {
		return payload{Tick: 2}, nil
	})
	if err != nil {
		t.Fatal(err)
	}
	if cached {
		t.Error("entry from another build served as a hit")
	}
}

func TestTTLExpiry(t *testing.T) {
	now := time.Date(2026, 8, 24, 12, 0, 0, 0, time.UTC)
	clock := func() time.Time { return now }
	c := newTestCache(t, withClock(clock))

	if _, _, err := c.GetOrFill(testKey(), func() (any, error) {
		return payload{Tick: 1}, nil
	}); err != nil {
		t.Fatal(err)
	}

	now = now.Add(DefaultTTL - time.Second)
	if _, cached, _ := c.GetOrFill(testKey(), func() (any, error) {
		return payload{Tick: 2}, nil
	}); !cached {
		t.Error("entry expired before its TTL")
	}

	now = now.Add(2 * time.Second)
	if _, cached, _ := c.GetOrFill(testKey(), func() (any, error) {
		return payload{Tick: 3}, nil
	}); cached {
		t.Error("entry served past its TTL")
	}
}

func TestPurgeIsTotal(t *testing.T) {
	dir := t.TempDir()
	c, err := New(dir, "build-1")
	if err != nil {
		t.Fatal(err)
	}
	keys := []Key{
		{Period: "7d", SortBy: "score", AnalyticsPeriod: "24h"},
		{Period: "30d", SortBy: "name", AnalyticsPeriod: "7d"},
	}
	for i, k := range keys {
		if _, _, err := c.GetOrFill(k, func() (any, error) {
			return payload{Tick: i}, nil
		}); err != nil {
			t.Fatal(err)
		}
	}

	if err := c.InvalidateSuite(stupidmeter.SuiteHourly); err != nil {
		t.Fatal(err)
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 0 {
		t.Errorf("files left after purge: %d", len(entries))
	}
	for _, k := range keys {
		if _, cached, _ := c.GetOrFill(k, func() (any, error) {
			return payload{}, nil
		}); cached {
			t.Errorf("key %s survived the purge", k)
		}
	}
}

func TestFileNamesAreASCIISafe(t *testing.T) {
	dir := t.TempDir()
	c, err := New(dir, "v1.2+dirty")
	if err != nil {
		t.Fatal(err)
	}
	key := Key{Period: "7 days", SortBy: "score/desc", AnalyticsPeriod: "24h"}
	if _, _, err := c.GetOrFill(key, func() (any, error) {
		return payload{}, nil
	}); err != nil {
		t.Fatal(err)
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 1 {
		t.Fatalf("files = %d, want 1", len(entries))
	}
	name := entries[0].Name()
	for _, ch := range name {
		safe := ch >= 'a' && ch <= 'z' || ch >= 'A' && ch <= 'Z' ||
			ch >= '0' && ch <= '9' || ch == '_' || ch == '-' || ch == '.'
		if !safe {
			t.Fatalf("unsafe character %q in file name %q", ch, name)
		}
	}
	if !strings.Contains(name, "7_days") || !strings.Contains(name, "score_desc") {
		t.Errorf("sanitized fields missing from %q", name)
	}
}

func TestDistinctKeysDistinctFiles(t *testing.T) {
	c := newTestCache(t)
	// These sanitize to the same field strings; the digest keeps them apart.
	a := Key{Period: "7d", SortBy: "score desc", AnalyticsPeriod: "24h"}
	b := Key{Period: "7d", SortBy: "score/desc", AnalyticsPeriod: "24h"}
	if c.filePath(a) == c.filePath(b) {
		t.Error("colliding file paths for distinct keys")
	}
}

func TestFileEntryShape(t *testing.T) {
	dir := t.TempDir()
	c, err := New(dir, "build-1")
	if err != nil {
		t.Fatal(err)
	}
	if _, _, err := c.GetOrFill(testKey(), func() (any, error) {
		return payload{Tick: 9}, nil
	}); err != nil {
		t.Fatal(err)
	}

	entries, err := os.ReadDir(dir)
	if err != nil || len(entries) != 1 {
		t.Fatalf("entries = %v, err = %v", entries, err)
	}
	raw, err := os.ReadFile(filepath.Join(dir, entries[0].Name()))
	if err != nil {
		t.Fatal(err)
	}
	var entry fileEntry
	if err := json.Unmarshal(raw, &entry); err != nil {
		t.Fatalf("file not valid JSON: %v", err)
	}
	if entry.Meta.Schema != Schema || entry.Meta.Build != "build-1" {
		t.Errorf("meta = %+v", entry.Meta)
	}
	if entry.Meta.TTLSec != int(DefaultTTL/time.Second) {
		t.Errorf("TTLSec = %d, want %d", entry.Meta.TTLSec, int(DefaultTTL/time.Second))
	}
	if entry.Meta.Key != testKey() {
		t.Errorf("key = %+v, want %+v", entry.Meta.Key, testKey())
	}
}

func TestConcurrentGetOrFill(t *testing.T) {
	c := newTestCache(t)
	done := make(chan error, 16)
	for i := 0; i < 16; i++ {
		go func(i int) {
			_, _, err := c.GetOrFill(Key{Period: fmt.Sprintf("%dd", i%4), SortBy: "score", AnalyticsPeriod: "24h"},
				func() (any, error) { return payload{Tick: i}, nil })
			done <- err
		}(i)
	}
	for i := 0; i < 16; i++ {
		if err := <-done; err != nil {
			t.Fatal(err)
		}
	}
}
