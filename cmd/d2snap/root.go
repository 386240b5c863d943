package main

import (
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/hyperifyio/d2snap/internal/app"
	"github.com/hyperifyio/d2snap/internal/snapshot"
)

// cliFlags holds every flag value. Only flags the user changed are applied
// on top of the file and environment configuration.
type cliFlags struct {
	configPath string
	envFile    string
	verbose    bool

	format      string
	output      string
	concurrency int

	debug       bool
	assignIDs   bool
	keepUnknown bool

	k snapshot.MergeMode
	l float64
	m float64

	maxTokens   int
	maxAttempts int
	model       string
	reserve     int

	userAgent         string
	timeout           time.Duration
	rate              float64
	maxBodyBytes      int64
	allowPrivateHosts bool
	robots            bool
	render            bool
	browserURL        string
	sanitize          bool

	cacheDir      string
	cacheMaxAge   time.Duration
	cacheMaxBytes int64
	cacheMaxCount int
	cacheClear    bool
	cacheStrict   bool
	noCache       bool
}

func newRootCmd() *cobra.Command {
	f := &cliFlags{}
	defaults := app.DefaultConfig()

	root := &cobra.Command{
		Use:   "d2snap",
		Short: "Downsample HTML pages into compact snapshots",
		Long: `d2snap turns web pages into compact snapshots that keep the structure,
text and attributes a language model agent needs to act on the page.

Examples:
  # Snapshot a saved page with the default parameters
  d2snap snapshot page.html

  # Fit a live page into a 2000 token budget
  d2snap adaptive --max-tokens 2000 https://example.com/

  # Serve the snapshot tools to an MCP client over stdio
  d2snap serve`,
		Version:       app.BuildVersion,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	pf := root.PersistentFlags()
	pf.StringVar(&f.configPath, "config", "", "Path to a YAML or JSON config file")
	pf.StringVar(&f.envFile, "env-file", "", "Additional dotenv file loaded after .env")
	pf.BoolVarP(&f.verbose, "verbose", "v", false, "Verbose logging")
	pf.StringVar(&f.format, "format", defaults.Format, "Output format: html or json")
	pf.StringVarP(&f.output, "output", "o", "", "Write output to this file instead of stdout")
	pf.IntVar(&f.concurrency, "concurrency", defaults.Concurrency, "Inputs processed in parallel")
	pf.BoolVar(&f.debug, "debug", false, "Pretty-print snapshots")
	pf.BoolVar(&f.assignIDs, "assign-ids", false, "Stamp data-uid on container and interactive elements")
	pf.BoolVar(&f.keepUnknown, "keep-unknown", false, "Keep elements that have no rating")
	pf.StringVar(&f.userAgent, "user-agent", defaults.UserAgent, "User-Agent for page and robots.txt requests")
	pf.DurationVar(&f.timeout, "timeout", defaults.Timeout, "Per-request fetch timeout")
	pf.Float64Var(&f.rate, "rate", 0, "Maximum fetches per second; 0 disables")
	pf.Int64Var(&f.maxBodyBytes, "max-body-bytes", 0, "Largest page accepted in bytes; 0 disables")
	pf.BoolVar(&f.allowPrivateHosts, "allow-private-hosts", defaults.AllowPrivateHosts, "Allow fetching loopback and private network hosts")
	pf.BoolVar(&f.robots, "robots", false, "Honor robots.txt and its crawl delay")
	pf.BoolVar(&f.render, "render", false, "Render URLs in headless Chrome before snapshotting")
	pf.StringVar(&f.browserURL, "browser-url", "", "DevTools URL of a running Chrome; empty launches one")
	pf.BoolVar(&f.sanitize, "sanitize", false, "Strip scripts, handlers and unrated attributes before parsing")
	pf.StringVar(&f.cacheDir, "cache.dir", defaults.CacheDir, "Cache directory path")
	pf.DurationVar(&f.cacheMaxAge, "cache.maxAge", 0, "Max age for cache entries before purge (e.g. 24h); 0 disables")
	pf.Int64Var(&f.cacheMaxBytes, "cache.maxBytes", 0, "Evict least recently used entries above this size; 0 disables")
	pf.IntVar(&f.cacheMaxCount, "cache.maxCount", 0, "Evict least recently used entries above this count; 0 disables")
	pf.BoolVar(&f.cacheClear, "cache.clear", false, "Clear cache directory before run")
	pf.BoolVar(&f.cacheStrict, "cache.strictPerms", false, "Restrict cache permissions (0700 dirs, 0600 files)")
	pf.BoolVar(&f.noCache, "no-cache", false, "Disable the page and snapshot caches")

	root.SetVersionTemplate("{{.Version}}\n")
	root.AddCommand(
		newSnapshotCmd(f),
		newAdaptiveCmd(f),
		newServeCmd(f),
		newCacheCmd(f),
		newVersionCmd(),
	)
	return root
}

// resolveConfig builds the run configuration: defaults, then the config
// file, then D2SNAP_* variables, then flags the user set explicitly.
func resolveConfig(cmd *cobra.Command, f *cliFlags, inputs []string) (app.Config, error) {
	if err := app.LoadEnvFiles(".env", f.envFile); err != nil {
		return app.Config{}, fmt.Errorf("load env: %w", err)
	}
	cfg := app.DefaultConfig()
	if f.configPath != "" {
		fc, err := app.LoadConfigFile(f.configPath)
		if err != nil {
			return app.Config{}, fmt.Errorf("load config: %w", err)
		}
		app.ApplyFileConfig(&cfg, fc)
	}
	if err := app.ApplyEnvToConfig(&cfg); err != nil {
		return app.Config{}, fmt.Errorf("environment: %w", err)
	}
	applyFlags(cmd, f, &cfg)

	if len(inputs) > 0 {
		cfg.Inputs = inputs
	}
	if len(cfg.Inputs) == 0 {
		cfg.Inputs = []string{"-"}
	}
	cfg.Stdout = cmd.OutOrStdout()
	cfg.Stdin = cmd.InOrStdin()

	if cfg.Verbose {
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
	}
	return cfg, nil
}

func applyFlags(cmd *cobra.Command, f *cliFlags, cfg *app.Config) {
	changed := cmd.Flags().Changed
	set := func(name string, apply func()) {
		if changed(name) {
			apply()
		}
	}
	set("verbose", func() { cfg.Verbose = f.verbose })
	set("format", func() { cfg.Format = f.format })
	set("output", func() { cfg.OutputPath = f.output })
	set("concurrency", func() { cfg.Concurrency = f.concurrency })
	set("debug", func() { cfg.Options.Debug = f.debug })
	set("assign-ids", func() { cfg.Options.AssignUniqueIDs = f.assignIDs })
	set("keep-unknown", func() { cfg.Options.KeepUnknownElements = f.keepUnknown })
	set("k", func() { cfg.Parameters.K = f.k })
	set("l", func() { cfg.Parameters.L = f.l })
	set("m", func() { cfg.Parameters.M = f.m })
	set("max-tokens", func() { cfg.MaxTokens = f.maxTokens })
	set("max-attempts", func() { cfg.MaxAttempts = f.maxAttempts })
	set("model", func() { cfg.Model = f.model })
	set("reserve", func() { cfg.ReserveTokens = f.reserve })
	set("user-agent", func() { cfg.UserAgent = f.userAgent })
	set("timeout", func() { cfg.Timeout = f.timeout })
	set("rate", func() { cfg.RatePerSecond = f.rate })
	set("max-body-bytes", func() { cfg.MaxBodyBytes = f.maxBodyBytes })
	set("allow-private-hosts", func() { cfg.AllowPrivateHosts = f.allowPrivateHosts })
	set("robots", func() { cfg.Robots = f.robots })
	set("render", func() { cfg.Render = f.render })
	set("browser-url", func() { cfg.BrowserURL = f.browserURL })
	set("sanitize", func() { cfg.Sanitize = f.sanitize })
	set("cache.dir", func() { cfg.CacheDir = f.cacheDir })
	set("cache.maxAge", func() { cfg.CacheMaxAge = f.cacheMaxAge })
	set("cache.maxBytes", func() { cfg.CacheMaxBytes = f.cacheMaxBytes })
	set("cache.maxCount", func() { cfg.CacheMaxCount = f.cacheMaxCount })
	set("cache.clear", func() { cfg.CacheClear = f.cacheClear })
	set("cache.strictPerms", func() { cfg.CacheStrictPerms = f.cacheStrict })
	set("no-cache", func() { cfg.NoCache = f.noCache })
}
