package app

import (
	"io"
	"time"

	"github.com/hyperifyio/d2snap/internal/snapshot"
)

const (
	FormatHTML = "html"
	FormatJSON = "json"

	defaultUserAgent   = "d2snap/1.0 (+https://github.com/hyperifyio/d2snap)"
	defaultCacheDir    = ".d2snap-cache"
	defaultConcurrency = 4
	defaultReserve     = 1024
	defaultTimeout     = 15 * time.Second
)

// Config holds runtime configuration for the application.
type Config struct {
	Inputs     []string
	OutputPath string
	Format     string

	// Snapshot
	Adaptive   bool
	Parameters snapshot.Parameters
	Options    snapshot.Options

	// Adaptive budget. MaxTokens wins over Model.
	MaxTokens     int
	MaxAttempts   int
	Model         string
	ReserveTokens int

	Concurrency int

	// Input acquisition
	UserAgent         string
	Timeout           time.Duration
	RatePerSecond     float64
	MaxBodyBytes      int64
	AllowPrivateHosts bool
	Robots            bool
	Render            bool
	BrowserURL        string
	Sanitize          bool

	// Cache
	CacheDir         string
	CacheMaxAge      time.Duration
	CacheMaxBytes    int64
	CacheMaxCount    int
	CacheClear       bool
	CacheStrictPerms bool
	NoCache          bool

	Verbose bool

	// Stdout receives output when OutputPath is empty or "-".
	Stdout io.Writer
	// Stdin backs the "-" input. Nil means os.Stdin.
	Stdin io.Reader
}

// DefaultConfig returns the configuration used when nothing else is set.
func DefaultConfig() Config {
	return Config{
		Format:            FormatHTML,
		Parameters:        snapshot.DefaultParameters(),
		ReserveTokens:     defaultReserve,
		Concurrency:       defaultConcurrency,
		UserAgent:         defaultUserAgent,
		Timeout:           defaultTimeout,
		AllowPrivateHosts: true,
		CacheDir:          defaultCacheDir,
	}
}
