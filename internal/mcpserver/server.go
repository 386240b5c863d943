// Package mcpserver exposes snapshots as Model Context Protocol tools, so an
// agent can ask for a downsampled page in the middle of a conversation.
package mcpserver

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/rs/zerolog/log"

	"github.com/hyperifyio/d2snap/internal/app"
	"github.com/hyperifyio/d2snap/internal/source"
)

// Snapshotter is the part of *app.App the tools call into.
type Snapshotter interface {
	DefaultRequest() app.Request
	Load(ctx context.Context, ref string) (*source.Document, error)
	Parse(ref, markup string) (*source.Document, error)
	Snapshot(ctx context.Context, doc *source.Document, req app.Request) (app.Output, error)
}

// Options configures a Server. A nil *Options is the same as the zero value.
type Options struct {
	// AllowPrivateHosts lets the url argument name loopback and private
	// network hosts. Off by default since any client can pick the url.
	AllowPrivateHosts bool
}

// Server is the MCP server for d2snap.
type Server struct {
	snap         Snapshotter
	server       *mcp.Server
	allowPrivate bool
}

// New registers the snapshot tools on a fresh MCP server.
func New(snap Snapshotter, version string, opts *Options) (*Server, error) {
	if snap == nil {
		return nil, errors.New("mcpserver: nil snapshotter")
	}
	if opts == nil {
		opts = &Options{}
	}
	s := &Server{
		snap:         snap,
		server:       mcp.NewServer(&mcp.Implementation{Name: "d2snap", Version: version}, nil),
		allowPrivate: opts.AllowPrivateHosts,
	}
	s.registerTools()
	return s, nil
}

// Run serves over stdio until ctx is cancelled or the client disconnects.
func (s *Server) Run(ctx context.Context) error {
	return s.server.Run(ctx, &mcp.StdioTransport{})
}

// Connect serves a single session over t.
func (s *Server) Connect(ctx context.Context, t mcp.Transport) (*mcp.ServerSession, error) {
	return s.server.Connect(ctx, t, nil)
}

// Handler returns the streamable HTTP handler for the server.
func (s *Server) Handler() http.Handler {
	return mcp.NewStreamableHTTPHandler(func(*http.Request) *mcp.Server {
		return s.server
	}, nil)
}

// RunHTTP serves the streamable HTTP transport on addr until ctx is done.
func (s *Server) RunHTTP(ctx context.Context, addr string) error {
	httpServer := &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-done:
			return
		case <-ctx.Done():
		}
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			log.Warn().Err(err).Msg("mcp http shutdown")
		}
	}()
	log.Info().Str("addr", addr).Msg("serving mcp over http")
	err := httpServer.ListenAndServe()
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("mcp http: %w", err)
	}
	return nil
}
