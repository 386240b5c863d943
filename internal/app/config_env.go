package app

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/hyperifyio/d2snap/internal/snapshot"
)

const envPrefix = "D2SNAP_"

// ApplyEnvToConfig overlays D2SNAP_* environment variables onto cfg. Only
// variables that are set and non-empty are applied, so call it after the
// config file and before explicit flags. Malformed values are reported
// together and leave the field untouched.
func ApplyEnvToConfig(cfg *Config) error {
	if cfg == nil {
		return nil
	}
	var errs []error
	str := func(dst *string, key string) {
		if v := lookup(key); v != "" {
			*dst = v
		}
	}
	integer := func(dst *int, key string) {
		if v := lookup(key); v != "" {
			n, err := strconv.Atoi(v)
			if err != nil {
				errs = append(errs, fmt.Errorf("%s%s: %w", envPrefix, key, err))
				return
			}
			*dst = n
		}
	}
	float := func(dst *float64, key string) {
		if v := lookup(key); v != "" {
			f, err := strconv.ParseFloat(v, 64)
			if err != nil {
				errs = append(errs, fmt.Errorf("%s%s: %w", envPrefix, key, err))
				return
			}
			*dst = f
		}
	}
	duration := func(dst *time.Duration, key string) {
		if v := lookup(key); v != "" {
			d, err := time.ParseDuration(v)
			if err != nil {
				errs = append(errs, fmt.Errorf("%s%s: %w", envPrefix, key, err))
				return
			}
			*dst = d
		}
	}
	boolean := func(dst *bool, key string) {
		switch strings.ToLower(lookup(key)) {
		case "":
		case "1", "true", "yes", "on":
			*dst = true
		case "0", "false", "no", "off":
			*dst = false
		default:
			errs = append(errs, fmt.Errorf("%s%s: invalid boolean %q", envPrefix, key, lookup(key)))
		}
	}

	if v := lookup("K"); v != "" {
		k, err := snapshot.ParseMergeMode(v)
		if err != nil {
			errs = append(errs, fmt.Errorf("%sK: %w", envPrefix, err))
		} else {
			cfg.Parameters.K = k
		}
	}
	float(&cfg.Parameters.L, "L")
	float(&cfg.Parameters.M, "M")

	integer(&cfg.MaxTokens, "MAX_TOKENS")
	integer(&cfg.MaxAttempts, "MAX_ATTEMPTS")
	str(&cfg.Model, "MODEL")
	integer(&cfg.ReserveTokens, "RESERVE")
	integer(&cfg.Concurrency, "CONCURRENCY")
	str(&cfg.Format, "FORMAT")

	str(&cfg.UserAgent, "USER_AGENT")
	duration(&cfg.Timeout, "TIMEOUT")
	float(&cfg.RatePerSecond, "RATE")
	str(&cfg.BrowserURL, "BROWSER_URL")

	str(&cfg.CacheDir, "CACHE_DIR")
	duration(&cfg.CacheMaxAge, "CACHE_MAX_AGE")

	boolean(&cfg.Verbose, "VERBOSE")
	boolean(&cfg.Options.Debug, "DEBUG")
	boolean(&cfg.Options.AssignUniqueIDs, "ASSIGN_IDS")
	boolean(&cfg.Options.KeepUnknownElements, "KEEP_UNKNOWN")
	boolean(&cfg.Render, "RENDER")
	boolean(&cfg.Sanitize, "SANITIZE")
	boolean(&cfg.Robots, "ROBOTS")
	boolean(&cfg.AllowPrivateHosts, "ALLOW_PRIVATE_HOSTS")
	boolean(&cfg.CacheStrictPerms, "CACHE_STRICT_PERMS")
	boolean(&cfg.NoCache, "NO_CACHE")

	return errors.Join(errs...)
}

func lookup(key string) string {
	return strings.TrimSpace(os.Getenv(envPrefix + key))
}
