package app

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	yaml "gopkg.in/yaml.v3"

	"github.com/hyperifyio/d2snap/internal/adaptive"
	"github.com/hyperifyio/d2snap/internal/budget"
	"github.com/hyperifyio/d2snap/internal/snapshot"
)

// FileConfig represents the single-file configuration schema.
// Nested sections map onto the dotted flag names.
type FileConfig struct {
	Inputs      []string `yaml:"inputs" json:"inputs"`
	Output      string   `yaml:"output" json:"output"`
	Format      string   `yaml:"format" json:"format"`
	Concurrency int      `yaml:"concurrency" json:"concurrency"`
	Verbose     bool     `yaml:"verbose" json:"verbose"`
	Sanitize    bool     `yaml:"sanitize" json:"sanitize"`

	Snapshot struct {
		K                   *snapshot.MergeMode `yaml:"k" json:"k"`
		L                   *float64            `yaml:"l" json:"l"`
		M                   *float64            `yaml:"m" json:"m"`
		Debug               bool                `yaml:"debug" json:"debug"`
		AssignUniqueIDs     bool                `yaml:"assignUniqueIDs" json:"assignUniqueIDs"`
		KeepUnknownElements bool                `yaml:"keepUnknownElements" json:"keepUnknownElements"`
	} `yaml:"snapshot" json:"snapshot"`

	Adaptive struct {
		Enable      bool   `yaml:"enable" json:"enable"`
		MaxTokens   int    `yaml:"maxTokens" json:"maxTokens"`
		MaxAttempts int    `yaml:"maxAttempts" json:"maxAttempts"`
		Model       string `yaml:"model" json:"model"`
		Reserve     int    `yaml:"reserve" json:"reserve"`
	} `yaml:"adaptive" json:"adaptive"`

	Fetch struct {
		UserAgent         string        `yaml:"userAgent" json:"userAgent"`
		Timeout           time.Duration `yaml:"timeout" json:"timeout"`
		Rate              float64       `yaml:"rate" json:"rate"`
		MaxBodyBytes      int64         `yaml:"maxBodyBytes" json:"maxBodyBytes"`
		AllowPrivateHosts *bool         `yaml:"allowPrivateHosts" json:"allowPrivateHosts"`
		Robots            bool          `yaml:"robots" json:"robots"`
	} `yaml:"fetch" json:"fetch"`

	Render struct {
		Enable     bool   `yaml:"enable" json:"enable"`
		BrowserURL string `yaml:"browserURL" json:"browserURL"`
	} `yaml:"render" json:"render"`

	Cache struct {
		Dir         string        `yaml:"dir" json:"dir"`
		MaxAge      time.Duration `yaml:"maxAge" json:"maxAge"`
		MaxBytes    int64         `yaml:"maxBytes" json:"maxBytes"`
		MaxCount    int           `yaml:"maxCount" json:"maxCount"`
		Clear       bool          `yaml:"clear" json:"clear"`
		StrictPerms bool          `yaml:"strictPerms" json:"strictPerms"`
		Disable     bool          `yaml:"disable" json:"disable"`
	} `yaml:"cache" json:"cache"`
}

// LoadConfigFile reads YAML or JSON into FileConfig.
func LoadConfigFile(path string) (FileConfig, error) {
	var fc FileConfig
	b, err := os.ReadFile(path)
	if err != nil {
		return fc, err
	}
	switch ext := strings.ToLower(filepath.Ext(path)); ext {
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(b, &fc); err != nil {
			return fc, fmt.Errorf("parse yaml: %w", err)
		}
	case ".json":
		if err := json.Unmarshal(b, &fc); err != nil {
			return fc, fmt.Errorf("parse json: %w", err)
		}
	default:
		// Try YAML then JSON
		if err := yaml.Unmarshal(b, &fc); err != nil {
			if jerr := json.Unmarshal(b, &fc); jerr != nil {
				return fc, fmt.Errorf("parse config: %v (yaml) / %v (json)", err, jerr)
			}
		}
	}
	return fc, nil
}

// ApplyFileConfig overlays every value the file sets onto cfg. It runs on top
// of DefaultConfig, before the environment and explicit flags.
func ApplyFileConfig(cfg *Config, fc FileConfig) {
	if cfg == nil {
		return
	}
	if len(fc.Inputs) > 0 {
		cfg.Inputs = append([]string{}, fc.Inputs...)
	}
	if fc.Output != "" {
		cfg.OutputPath = fc.Output
	}
	if fc.Format != "" {
		cfg.Format = fc.Format
	}
	if fc.Concurrency > 0 {
		cfg.Concurrency = fc.Concurrency
	}
	cfg.Verbose = cfg.Verbose || fc.Verbose
	cfg.Sanitize = cfg.Sanitize || fc.Sanitize

	if fc.Snapshot.K != nil {
		cfg.Parameters.K = *fc.Snapshot.K
	}
	if fc.Snapshot.L != nil {
		cfg.Parameters.L = *fc.Snapshot.L
	}
	if fc.Snapshot.M != nil {
		cfg.Parameters.M = *fc.Snapshot.M
	}
	cfg.Options.Debug = cfg.Options.Debug || fc.Snapshot.Debug
	cfg.Options.AssignUniqueIDs = cfg.Options.AssignUniqueIDs || fc.Snapshot.AssignUniqueIDs
	cfg.Options.KeepUnknownElements = cfg.Options.KeepUnknownElements || fc.Snapshot.KeepUnknownElements

	cfg.Adaptive = cfg.Adaptive || fc.Adaptive.Enable
	if fc.Adaptive.MaxTokens > 0 {
		cfg.MaxTokens = fc.Adaptive.MaxTokens
	}
	if fc.Adaptive.MaxAttempts > 0 {
		cfg.MaxAttempts = fc.Adaptive.MaxAttempts
	}
	if fc.Adaptive.Model != "" {
		cfg.Model = fc.Adaptive.Model
	}
	if fc.Adaptive.Reserve > 0 {
		cfg.ReserveTokens = fc.Adaptive.Reserve
	}

	if fc.Fetch.UserAgent != "" {
		cfg.UserAgent = fc.Fetch.UserAgent
	}
	if fc.Fetch.Timeout > 0 {
		cfg.Timeout = fc.Fetch.Timeout
	}
	if fc.Fetch.Rate > 0 {
		cfg.RatePerSecond = fc.Fetch.Rate
	}
	if fc.Fetch.MaxBodyBytes > 0 {
		cfg.MaxBodyBytes = fc.Fetch.MaxBodyBytes
	}
	if fc.Fetch.AllowPrivateHosts != nil {
		cfg.AllowPrivateHosts = *fc.Fetch.AllowPrivateHosts
	}
	cfg.Robots = cfg.Robots || fc.Fetch.Robots

	cfg.Render = cfg.Render || fc.Render.Enable
	if fc.Render.BrowserURL != "" {
		cfg.BrowserURL = fc.Render.BrowserURL
	}

	if fc.Cache.Dir != "" {
		cfg.CacheDir = fc.Cache.Dir
	}
	if fc.Cache.MaxAge > 0 {
		cfg.CacheMaxAge = fc.Cache.MaxAge
	}
	if fc.Cache.MaxBytes > 0 {
		cfg.CacheMaxBytes = fc.Cache.MaxBytes
	}
	if fc.Cache.MaxCount > 0 {
		cfg.CacheMaxCount = fc.Cache.MaxCount
	}
	cfg.CacheClear = cfg.CacheClear || fc.Cache.Clear
	cfg.CacheStrictPerms = cfg.CacheStrictPerms || fc.Cache.StrictPerms
	cfg.NoCache = cfg.NoCache || fc.Cache.Disable
}

// ValidateConfig rejects settings no run could succeed with.
func ValidateConfig(cfg Config) error {
	if err := cfg.Parameters.Validate(); err != nil {
		return fmt.Errorf("config: %w", err)
	}
	switch cfg.Format {
	case FormatHTML, FormatJSON:
	default:
		return fmt.Errorf("config: unknown output format %q (want html or json)", cfg.Format)
	}
	if cfg.MaxTokens < 0 || cfg.MaxAttempts < 0 || cfg.ReserveTokens < 0 || cfg.Concurrency < 0 {
		return errors.New("config: negative limits are not allowed")
	}
	if cfg.RatePerSecond < 0 || cfg.MaxBodyBytes < 0 || cfg.Timeout < 0 {
		return errors.New("config: negative fetch limits are not allowed")
	}
	if cfg.CacheMaxAge < 0 || cfg.CacheMaxBytes < 0 || cfg.CacheMaxCount < 0 {
		return errors.New("config: negative cache limits are not allowed")
	}
	// a model budget is only derived when no explicit token budget is set
	if cfg.Adaptive && cfg.MaxTokens == 0 && cfg.Model != "" {
		headroom := budget.HeadroomTokens(cfg.Model)
		if !budget.FitsInContext(cfg.Model, cfg.ReserveTokens+headroom, 0) {
			return fmt.Errorf("config: reserve of %d tokens plus %d headroom leaves no snapshot budget in the %s context: %w",
				cfg.ReserveTokens, headroom, cfg.Model, adaptive.ErrBudgetUnreachable)
		}
	}
	return nil
}
