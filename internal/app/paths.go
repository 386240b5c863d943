package app

import (
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/hyperifyio/d2snap/internal/cache"
)

// The cache root holds fetched pages and finished snapshots side by side.
func httpCacheDir(root string) string     { return filepath.Join(root, "http") }
func snapshotCacheDir(root string) string { return filepath.Join(root, "snapshots") }

// maintainCache applies the configured clear, age and size policies before a
// run. Failures are logged and never abort the run.
func (a *App) maintainCache() {
	cfg := a.cfg
	if cfg.CacheClear {
		if err := ClearCache(cfg.CacheDir); err != nil {
			log.Warn().Err(err).Str("dir", cfg.CacheDir).Msg("cache clear failed")
		}
		return
	}
	if cfg.CacheMaxAge > 0 {
		if n, err := PurgeCache(cfg.CacheDir, cfg.CacheMaxAge); err != nil {
			log.Warn().Err(err).Msg("cache purge failed")
		} else if n > 0 {
			log.Debug().Int("removed", n).Dur("maxAge", cfg.CacheMaxAge).Msg("purged stale cache entries")
		}
	}
	if cfg.CacheMaxBytes > 0 || cfg.CacheMaxCount > 0 {
		if _, err := cache.EnforceHTTPCacheLimits(httpCacheDir(cfg.CacheDir), cfg.CacheMaxBytes, cfg.CacheMaxCount); err != nil {
			log.Warn().Err(err).Msg("http cache limits failed")
		}
		if _, err := cache.EnforceSnapshotCacheLimits(snapshotCacheDir(cfg.CacheDir), cfg.CacheMaxBytes, cfg.CacheMaxCount); err != nil {
			log.Warn().Err(err).Msg("snapshot cache limits failed")
		}
	}
}

// ClearCache removes every cached page and snapshot under root.
func ClearCache(root string) error {
	if strings.TrimSpace(root) == "" {
		return fmt.Errorf("cache dir not set")
	}
	return cache.ClearDir(root)
}

// PurgeCache removes cache entries older than maxAge and reports how many
// were removed.
func PurgeCache(root string, maxAge time.Duration) (int, error) {
	if strings.TrimSpace(root) == "" {
		return 0, fmt.Errorf("cache dir not set")
	}
	n, err := cache.PurgeHTTPCacheByAge(httpCacheDir(root), maxAge)
	if err != nil {
		return n, err
	}
	m, err := cache.PurgeSnapshotCacheByAge(snapshotCacheDir(root), maxAge)
	return n + m, err
}
