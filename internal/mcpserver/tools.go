package mcpserver

import (
	"context"
	"errors"
	"fmt"
	neturl "net/url"
	"strings"

	"github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/rs/zerolog/log"

	"github.com/hyperifyio/d2snap/internal/app"
	"github.com/hyperifyio/d2snap/internal/robots"
	"github.com/hyperifyio/d2snap/internal/snapshot"
	"github.com/hyperifyio/d2snap/internal/source"
)

// ErrNoInput is returned when a call names neither html nor url, or both.
var ErrNoInput = errors.New("exactly one of html or url is required")

// SnapshotInput is the input schema for the snapshot tool.
type SnapshotInput struct {
	HTML                string   `json:"html,omitempty" jsonschema:"the page markup to downsample"`
	URL                 string   `json:"url,omitempty" jsonschema:"an http or https page to fetch and downsample"`
	K                   string   `json:"k,omitempty" jsonschema:"structural merge ratio in [0, 1] or linearize"`
	L                   *float64 `json:"l,omitempty" jsonschema:"share of text sentences dropped, in [0, 1]"`
	M                   *float64 `json:"m,omitempty" jsonschema:"attribute importance threshold in [0, 1]"`
	Debug               bool     `json:"debug,omitempty" jsonschema:"pretty-print the snapshot"`
	AssignUniqueIDs     bool     `json:"assign_unique_ids,omitempty" jsonschema:"stamp data-uid on containers and interactive elements"`
	KeepUnknownElements bool     `json:"keep_unknown_elements,omitempty" jsonschema:"keep elements that have no rating"`
}

// AdaptiveInput is the input schema for the adaptive_snapshot tool.
type AdaptiveInput struct {
	HTML                string `json:"html,omitempty" jsonschema:"the page markup to downsample"`
	URL                 string `json:"url,omitempty" jsonschema:"an http or https page to fetch and downsample"`
	MaxTokens           int    `json:"max_tokens,omitempty" jsonschema:"token budget for the snapshot"`
	MaxAttempts         int    `json:"max_attempts,omitempty" jsonschema:"maximum number of downsampling runs"`
	Debug               bool   `json:"debug,omitempty" jsonschema:"pretty-print the snapshot"`
	AssignUniqueIDs     bool   `json:"assign_unique_ids,omitempty" jsonschema:"stamp data-uid on containers and interactive elements"`
	KeepUnknownElements bool   `json:"keep_unknown_elements,omitempty" jsonschema:"keep elements that have no rating"`
}

// ParametersOutput reports the parameters a snapshot was taken with.
type ParametersOutput struct {
	K string  `json:"k"`
	L float64 `json:"l"`
	M float64 `json:"m"`
}

// SnapshotOutput is the structured result of both tools.
type SnapshotOutput struct {
	Source     string           `json:"source"`
	HTML       string           `json:"html"`
	Meta       snapshot.Meta    `json:"meta"`
	Parameters ParametersOutput `json:"parameters"`
	Attempts   int              `json:"attempts,omitempty"`
	Cached     bool             `json:"cached,omitempty"`
}

func (s *Server) registerTools() {
	mcp.AddTool(s.server, &mcp.Tool{
		Name:        "snapshot",
		Description: "Downsample an HTML page into a compact snapshot with fixed k, l and m parameters",
	}, s.handleSnapshot)
	mcp.AddTool(s.server, &mcp.Tool{
		Name:        "adaptive_snapshot",
		Description: "Downsample an HTML page until its snapshot fits a token budget",
	}, s.handleAdaptive)
}

func (s *Server) handleSnapshot(ctx context.Context, _ *mcp.CallToolRequest, in SnapshotInput) (*mcp.CallToolResult, SnapshotOutput, error) {
	req := s.snap.DefaultRequest()
	req.Adaptive = false
	if k := strings.TrimSpace(in.K); k != "" {
		mode, err := snapshot.ParseMergeMode(k)
		if err != nil {
			return nil, SnapshotOutput{}, err
		}
		req.Parameters.K = mode
	}
	if in.L != nil {
		req.Parameters.L = *in.L
	}
	if in.M != nil {
		req.Parameters.M = *in.M
	}
	if err := req.Parameters.Validate(); err != nil {
		return nil, SnapshotOutput{}, err
	}
	req.Options = snapshot.Options{Debug: in.Debug, AssignUniqueIDs: in.AssignUniqueIDs, KeepUnknownElements: in.KeepUnknownElements}
	return s.run(ctx, "snapshot", in.HTML, in.URL, req)
}

func (s *Server) handleAdaptive(ctx context.Context, _ *mcp.CallToolRequest, in AdaptiveInput) (*mcp.CallToolResult, SnapshotOutput, error) {
	req := s.snap.DefaultRequest()
	req.Adaptive = true
	if in.MaxTokens > 0 {
		req.MaxTokens = in.MaxTokens
	}
	if in.MaxAttempts > 0 {
		req.MaxAttempts = in.MaxAttempts
	}
	req.Options = snapshot.Options{Debug: in.Debug, AssignUniqueIDs: in.AssignUniqueIDs, KeepUnknownElements: in.KeepUnknownElements}
	return s.run(ctx, "adaptive_snapshot", in.HTML, in.URL, req)
}

func (s *Server) run(ctx context.Context, tool, markup, url string, req app.Request) (*mcp.CallToolResult, SnapshotOutput, error) {
	doc, err := s.document(ctx, markup, url)
	if err != nil {
		return nil, SnapshotOutput{}, err
	}
	out, err := s.snap.Snapshot(ctx, doc, req)
	if err != nil {
		log.Debug().Err(err).Str("tool", tool).Str("source", doc.Ref).Msg("snapshot failed")
		return nil, SnapshotOutput{}, err
	}
	res := &mcp.CallToolResult{Content: []mcp.Content{&mcp.TextContent{Text: out.HTML}}}
	return res, toOutput(out), nil
}

func (s *Server) document(ctx context.Context, markup, url string) (*source.Document, error) {
	hasHTML := strings.TrimSpace(markup) != ""
	hasURL := strings.TrimSpace(url) != ""
	switch {
	case hasHTML == hasURL:
		return nil, ErrNoInput
	case hasHTML:
		return s.snap.Parse("inline", markup)
	case !source.IsURL(url):
		return nil, fmt.Errorf("url %q: only http and https are supported", url)
	}
	url = strings.TrimSpace(url)
	if !s.allowPrivate {
		u, err := neturl.Parse(url)
		if err != nil {
			return nil, fmt.Errorf("url %q: %w", url, err)
		}
		if robots.IsLocalOrPrivateHost(u.Hostname()) {
			return nil, fmt.Errorf("url %q: %w", url, robots.ErrPrivateHost)
		}
	}
	return s.snap.Load(ctx, url)
}

func toOutput(out app.Output) SnapshotOutput {
	so := SnapshotOutput{
		Source:   out.Source,
		HTML:     out.HTML,
		Meta:     out.Meta,
		Attempts: out.Attempts,
		Cached:   out.Cached,
	}
	if p := out.Parameters; p != nil {
		so.Parameters = ParametersOutput{K: p.K.String(), L: p.L, M: p.M}
	}
	return so
}
