// Package cache is the two-tier dashboard cache: an in-process memory
// map in front of JSON files written with atomic tmp-rename. Entries are
// tagged with a schema version and a build id; a mismatch on either is
// treated as a miss so stale files never survive a deploy.
package cache

import (
	"crypto/sha1"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	stupidmeter "github.com/benchlab/stupidmeter"
)

// Schema is bumped whenever the cached payload shape changes.
const Schema = 2

// DefaultTTL is how long an entry stays fresh in both tiers.
const DefaultTTL = 300 * time.Second

// Key identifies one dashboard view. All three fields participate in the
// canonical key string and its digest.
type Key struct {
	Period          string `json:"period"`
	SortBy          string `json:"sortBy"`
	AnalyticsPeriod string `json:"analyticsPeriod"`
}

// String renders the canonical key form used by the memory tier.
func (k Key) String() string {
	return fmt.Sprintf("%s|%s|%s", k.Period, k.SortBy, k.AnalyticsPeriod)
}

// Option configures a Cache.
type Option func(*Cache)

// WithLogger sets a structured logger.
func WithLogger(l *slog.Logger) Option {
	return func(c *Cache) { c.logger = l }
}

// WithTTL overrides the default entry lifetime.
func WithTTL(ttl time.Duration) Option {
	return func(c *Cache) { c.ttl = ttl }
}

// withClock overrides the time source. Test hook.
func withClock(now func() time.Time) Option {
	return func(c *Cache) { c.now = now }
}

// Cache is safe for concurrent use. The memory tier is a single map
// under a mutex; the file tier relies on rename atomicity, so readers
// never observe a partial write.
type Cache struct {
	dir    string
	build  string
	ttl    time.Duration
	logger *slog.Logger
	now    func() time.Time

	mu  sync.Mutex
	mem map[string]memEntry
}

type memEntry struct {
	data      json.RawMessage
	createdAt time.Time
}

// fileEntry is the on-disk shape: payload wrapped in versioning metadata.
type fileEntry struct {
	Meta fileMeta        `json:"meta"`
	Data json.RawMessage `json:"data"`
}

type fileMeta struct {
	Schema    int    `json:"schema"`
	Build     string `json:"build"`
	CreatedAt int64  `json:"createdAt"` // unix seconds
	TTLSec    int    `json:"ttlSec"`
	Key       Key    `json:"key"`
}

var _ stupidmeter.CacheInvalidator = (*Cache)(nil)

// New creates a Cache rooted at dir, creating the directory if needed.
// build distinguishes deployments; entries written by another build are
// rejected on read.
func New(dir, build string, opts ...Option) (*Cache, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create cache dir: %w", err)
	}
	c := &Cache{
		dir:    dir,
		build:  build,
		ttl:    DefaultTTL,
		logger: slog.New(slog.NewTextHandler(io.Discard, nil)),
		now:    time.Now,
		mem:    make(map[string]memEntry),
	}
	for _, o := range opts {
		o(c)
	}
	return c, nil
}

// GetOrFill returns the cached payload for key, computing it via fill on
// a miss and populating both tiers. The boolean reports whether the
// payload came from cache.
func (c *Cache) GetOrFill(key Key, fill func() (any, error)) (json.RawMessage, bool, error) {
	if data, ok := c.get(key); ok {
		return data, true, nil
	}

	value, err := fill()
	if err != nil {
		return nil, false, err
	}
	data, err := json.Marshal(value)
	if err != nil {
		return nil, false, fmt.Errorf("marshal cache payload: %w", err)
	}
	c.put(key, data)
	return data, false, nil
}

// get checks the memory tier, then the file tier. A file hit refills the
// memory tier.
func (c *Cache) get(key Key) (json.RawMessage, bool) {
	canonical := key.String()

	c.mu.Lock()
	entry, ok := c.mem[canonical]
	c.mu.Unlock()
	if ok && c.now().Sub(entry.createdAt) < c.ttl {
		return entry.data, true
	}

	data, createdAt, ok := c.readFile(key)
	if !ok {
		return nil, false
	}
	c.mu.Lock()
	c.mem[canonical] = memEntry{data: data, createdAt: createdAt}
	c.mu.Unlock()
	return data, true
}

// put fills both tiers. File-tier failures are logged and swallowed; the
// memory tier alone still serves until the next restart.
func (c *Cache) put(key Key, data json.RawMessage) {
	now := c.now()
	c.mu.Lock()
	c.mem[key.String()] = memEntry{data: data, createdAt: now}
	c.mu.Unlock()

	if err := c.writeFile(key, data, now); err != nil {
		c.logger.Warn("cache file write failed", "key", key.String(), "error", err)
	}
}

// readFile loads and validates the file-tier entry for key.
func (c *Cache) readFile(key Key) (json.RawMessage, time.Time, bool) {
	raw, err := os.ReadFile(c.filePath(key))
	if err != nil {
		return nil, time.Time{}, false
	}
	var entry fileEntry
	if err := json.Unmarshal(raw, &entry); err != nil {
		return nil, time.Time{}, false
	}
	if entry.Meta.Schema != Schema || entry.Meta.Build != c.build {
		return nil, time.Time{}, false
	}
	createdAt := time.Unix(entry.Meta.CreatedAt, 0)
	if c.now().Sub(createdAt) >= time.Duration(entry.Meta.TTLSec)*time.Second {
		return nil, time.Time{}, false
	}
	return entry.Data, createdAt, true
}

// writeFile persists the entry via tmp-rename so concurrent readers see
// either the old file or the new one, never a torn write.
func (c *Cache) writeFile(key Key, data json.RawMessage, now time.Time) error {
	entry := fileEntry{
		Meta: fileMeta{
			Schema:    Schema,
			Build:     c.build,
			CreatedAt: now.Unix(),
			TTLSec:    int(c.ttl / time.Second),
			Key:       key,
		},
		Data: data,
	}
	raw, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("marshal cache file: %w", err)
	}

	path := c.filePath(key)
	tmp, err := os.CreateTemp(c.dir, "."+filepath.Base(path)+".tmp-*")
	if err != nil {
		return fmt.Errorf("create tmp file: %w", err)
	}
	if _, err := tmp.Write(raw); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return fmt.Errorf("write tmp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("close tmp file: %w", err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("rename cache file: %w", err)
	}
	return nil
}

// filePath derives the file-tier path for key: sanitized tuple fields,
// schema, build, and a short SHA-1 digest of the canonical key so
// sanitization collisions stay distinct.
func (c *Cache) filePath(key Key) string {
	sum := sha1.Sum([]byte(key.String()))
	digest := hex.EncodeToString(sum[:])[:8]
	name := fmt.Sprintf("dash_%s_%s_%s_s%d_%s_%s.json",
		sanitize(key.Period), sanitize(key.SortBy), sanitize(key.AnalyticsPeriod),
		Schema, sanitize(c.build), digest)
	return filepath.Join(c.dir, name)
}

// InvalidateSuite drops every entry. Dashboard views aggregate across
// suites, so any completed tick can change any view; a total purge is
// the only correct granularity.
func (c *Cache) InvalidateSuite(suite stupidmeter.Suite) error {
	return c.Purge()
}

// Purge clears the memory tier and deletes every file under the cache
// directory.
func (c *Cache) Purge() error {
	c.mu.Lock()
	c.mem = make(map[string]memEntry)
	c.mu.Unlock()

	entries, err := os.ReadDir(c.dir)
	if err != nil {
		return fmt.Errorf("read cache dir: %w", err)
	}
	var firstErr error
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		if err := os.Remove(filepath.Join(c.dir, e.Name())); err != nil && firstErr == nil {
			firstErr = fmt.Errorf("remove %s: %w", e.Name(), err)
		}
	}
	return firstErr
}

// sanitize replaces every character outside [A-Za-z0-9_-] with '_' so
// key fields always yield portable file names.
func sanitize(s string) string {
	if s == "" {
		return "none"
	}
	out := []byte(s)
	for i, ch := range out {
		switch {
		case ch >= 'a' && ch <= 'z', ch >= 'A' && ch <= 'Z', ch >= '0' && ch <= '9', ch == '_', ch == '-':
		default:
			out[i] = '_'
		}
	}
	return string(out)
}
