package config

import (
	"os"

	"github.com/BurntSushi/toml"

	stupidmeter "github.com/benchlab/stupidmeter"
)

type Config struct {
	Providers ProvidersConfig `toml:"providers"`
	Database  DatabaseConfig  `toml:"database"`
	Scheduler SchedulerConfig `toml:"scheduler"`
	Sandbox   SandboxConfig   `toml:"sandbox"`
	Cache     CacheConfig     `toml:"cache"`
	Observer  ObserverConfig  `toml:"observer"`
	Logging   LoggingConfig   `toml:"logging"`
}

// ProvidersConfig holds one API key per vendor. A missing key does not
// stop the daemon; models on that vendor record a no-key sentinel.
type ProvidersConfig struct {
	OpenAI    string `toml:"openai"`
	XAI       string `toml:"xai"`
	Anthropic string `toml:"anthropic"`
	Google    string `toml:"google"`
	DeepSeek  string `toml:"deepseek"`
	GLM       string `toml:"glm"`
}

// APIKey returns the configured key for a vendor, empty when unset.
func (p ProvidersConfig) APIKey(vendor stupidmeter.Vendor) string {
	switch vendor {
	case stupidmeter.VendorOpenAI:
		return p.OpenAI
	case stupidmeter.VendorXAI:
		return p.XAI
	case stupidmeter.VendorAnthropic:
		return p.Anthropic
	case stupidmeter.VendorGoogle:
		return p.Google
	case stupidmeter.VendorDeepSeek:
		return p.DeepSeek
	case stupidmeter.VendorGLM:
		return p.GLM
	}
	return ""
}

type DatabaseConfig struct {
	// Backend selects "sqlite" or "postgres".
	Backend string `toml:"backend"`
	Path    string `toml:"path"`
	URL     string `toml:"url"`
}

type SchedulerConfig struct {
	TimezoneOffset int `toml:"timezone_offset"`
}

type SandboxConfig struct {
	Image string `toml:"image"`
}

type CacheConfig struct {
	Dir     string `toml:"dir"`
	BuildID string `toml:"build_id"`
}

type ObserverConfig struct {
	Enabled bool `toml:"enabled"`
}

type LoggingConfig struct {
	// Perf enables debug-level timing logs on hot paths.
	Perf bool `toml:"perf"`
}

// Default returns a Config with all defaults applied.
func Default() Config {
	return Config{
		Database: DatabaseConfig{Backend: "sqlite", Path: "stupidmeter.db"},
		Sandbox:  SandboxConfig{Image: "python:3.12-slim"},
		Cache:    CacheConfig{Dir: "cache", BuildID: "dev"},
	}
}

// Load reads config: defaults -> TOML file -> env vars (env wins).
func Load(path string) Config {
	cfg := Default()

	if path == "" {
		path = "stupidmeter.toml"
	}

	if data, err := os.ReadFile(path); err == nil {
		_ = toml.Unmarshal(data, &cfg)
	}

	// Env overrides
	if v := os.Getenv("OPENAI_API_KEY"); v != "" {
		cfg.Providers.OpenAI = v
	}
	if v := os.Getenv("XAI_API_KEY"); v != "" {
		cfg.Providers.XAI = v
	}
	if v := os.Getenv("ANTHROPIC_API_KEY"); v != "" {
		cfg.Providers.Anthropic = v
	}
	if v := os.Getenv("GEMINI_API_KEY"); v != "" {
		cfg.Providers.Google = v
	}
	if v := os.Getenv("DEEPSEEK_API_KEY"); v != "" {
		cfg.Providers.DeepSeek = v
	}
	if v := os.Getenv("GLM_API_KEY"); v != "" {
		cfg.Providers.GLM = v
	}
	if v := os.Getenv("STUPIDMETER_DATABASE_URL"); v != "" {
		cfg.Database.Backend = "postgres"
		cfg.Database.URL = v
	}
	if v := os.Getenv("STUPIDMETER_CACHE_DIR"); v != "" {
		cfg.Cache.Dir = v
	}
	if v := os.Getenv("STUPIDMETER_BUILD_ID"); v != "" {
		cfg.Cache.BuildID = v
	}
	if v := os.Getenv("STUPIDMETER_OBSERVER_ENABLED"); v == "true" || v == "1" {
		cfg.Observer.Enabled = true
	}
	if v := os.Getenv("STUPIDMETER_PERF_LOG"); v == "true" || v == "1" {
		cfg.Logging.Perf = true
	}

	return cfg
}
