package main

import (
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/hyperifyio/d2snap/internal/app"
	"github.com/hyperifyio/d2snap/internal/mcpserver"
	"github.com/hyperifyio/d2snap/internal/snapshot"
)

func newSnapshotCmd(f *cliFlags) *cobra.Command {
	defaults := snapshot.DefaultParameters()
	f.k = defaults.K
	cmd := &cobra.Command{
		Use:   "snapshot [inputs...]",
		Short: "Snapshot pages with fixed k, l and m parameters",
		Long: `Snapshot files, URLs or stdin ("-") with fixed downsampling parameters.

Examples:
  # Default parameters (k=0.4 l=0.5 m=0.6)
  d2snap snapshot page.html

  # Flatten every container and keep only the most important attributes
  d2snap snapshot --k linearize --m 0.9 https://example.com/

  # JSON lines with size metadata for several inputs
  d2snap snapshot --format json a.html b.html`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := resolveConfig(cmd, f, args)
			if err != nil {
				return err
			}
			cfg.Adaptive = false
			return run(cmd.Context(), cfg)
		},
	}
	fl := cmd.Flags()
	fl.Var(&f.k, "k", "Structural merge ratio in [0, 1] or linearize")
	fl.Float64Var(&f.l, "l", defaults.L, "Share of text sentences dropped, in [0, 1]")
	fl.Float64Var(&f.m, "m", defaults.M, "Attribute importance threshold, in [0, 1]")
	return cmd
}

func newAdaptiveCmd(f *cliFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "adaptive [inputs...]",
		Short: "Snapshot pages until each fits a token budget",
		Long: `Search downsampling parameters until the snapshot fits a token budget.

The budget is --max-tokens, or the context window of --model minus --reserve.
Exits with status 2 when no snapshot fits within --max-attempts runs.

Examples:
  d2snap adaptive --max-tokens 2000 page.html
  d2snap adaptive --model gpt-4o --reserve 4096 https://example.com/`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := resolveConfig(cmd, f, args)
			if err != nil {
				return err
			}
			cfg.Adaptive = true
			return run(cmd.Context(), cfg)
		},
	}
	defaults := app.DefaultConfig()
	fl := cmd.Flags()
	fl.IntVar(&f.maxTokens, "max-tokens", 0, "Token budget; 0 uses --model or 4096")
	fl.IntVar(&f.maxAttempts, "max-attempts", 0, "Maximum downsampling runs; 0 uses 5")
	fl.StringVar(&f.model, "model", "", "Derive the budget from this model's context window")
	fl.IntVar(&f.reserve, "reserve", defaults.ReserveTokens, "Tokens kept free for the prompt and answer when using --model")
	return cmd
}

func newServeCmd(f *cliFlags) *cobra.Command {
	var addr string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve snapshot tools over the Model Context Protocol",
		Long: `Serve the snapshot and adaptive_snapshot tools to MCP clients.

Without --http the server speaks MCP over stdio. The url argument may not
name loopback or private network hosts unless --allow-private-hosts is given.

Examples:
  d2snap serve
  d2snap serve --http 127.0.0.1:8931`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := resolveConfig(cmd, f, nil)
			if err != nil {
				return err
			}
			cfg.AllowPrivateHosts = privateHostsOptIn(cmd)
			a, err := app.New(cfg)
			if err != nil {
				return fmt.Errorf("init app: %w", err)
			}
			defer a.Close()
			srv, err := mcpserver.New(a, app.BuildVersion, &mcpserver.Options{AllowPrivateHosts: cfg.AllowPrivateHosts})
			if err != nil {
				return err
			}
			if addr != "" {
				return srv.RunHTTP(cmd.Context(), addr)
			}
			return srv.Run(cmd.Context())
		},
	}
	cmd.Flags().StringVar(&addr, "http", "", "Serve streamable HTTP on this address instead of stdio")
	return cmd
}

// privateHostsOptIn reports whether --allow-private-hosts was given on the
// command line. Tool callers choose the url, so serve ignores the default and
// any config file or environment setting.
func privateHostsOptIn(cmd *cobra.Command) bool {
	if !cmd.Flags().Changed("allow-private-hosts") {
		return false
	}
	allow, err := cmd.Flags().GetBool("allow-private-hosts")
	return err == nil && allow
}

func newCacheCmd(f *cliFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "cache",
		Short: "Maintain the page and snapshot cache",
	}
	clearCmd := &cobra.Command{
		Use:   "clear",
		Short: "Remove every cached page and snapshot",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := resolveConfig(cmd, f, nil)
			if err != nil {
				return err
			}
			if err := app.ClearCache(cfg.CacheDir); err != nil {
				return fmt.Errorf("clear cache: %w", err)
			}
			log.Info().Str("dir", cfg.CacheDir).Msg("cache cleared")
			return nil
		},
	}
	var maxAge time.Duration
	purgeCmd := &cobra.Command{
		Use:   "purge",
		Short: "Remove cache entries older than --max-age",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := resolveConfig(cmd, f, nil)
			if err != nil {
				return err
			}
			age := maxAge
			if age <= 0 {
				age = cfg.CacheMaxAge
			}
			if age <= 0 {
				return errors.New("purge needs --max-age or --cache.maxAge")
			}
			n, err := app.PurgeCache(cfg.CacheDir, age)
			if err != nil {
				return fmt.Errorf("purge cache: %w", err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "removed %d entries\n", n)
			return nil
		},
	}
	purgeCmd.Flags().DurationVar(&maxAge, "max-age", 0, "Remove entries older than this (e.g. 72h)")
	cmd.AddCommand(clearCmd, purgeCmd)
	return cmd
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print build information",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, _ []string) {
			fmt.Fprintln(cmd.OutOrStdout(), app.VersionString())
		},
	}
}
