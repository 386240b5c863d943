// Package source turns an input reference (file path, "-" for stdin, or an
// http(s) URL) into a parsed document ready for snapshotting.
package source

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/microcosm-cc/bluemonday"
	"golang.org/x/net/html"
	"golang.org/x/net/html/charset"

	"github.com/hyperifyio/d2snap/internal/dom"
	"github.com/hyperifyio/d2snap/internal/rating"
)

var (
	// ErrNoFetcher is returned for URL inputs when no Fetcher is configured.
	ErrNoFetcher = errors.New("no fetcher configured for URL input")
	// ErrNoRenderer is returned when rendering is requested without a Renderer.
	ErrNoRenderer = errors.New("no renderer configured")
	// ErrEmptyInput is returned for inputs without any markup.
	ErrEmptyInput = errors.New("empty input")
)

// Fetcher downloads a page and reports its content type.
type Fetcher interface {
	Get(ctx context.Context, url string) ([]byte, string, error)
}

// Renderer returns the serialized DOM of a page after scripts ran.
type Renderer interface {
	Render(ctx context.Context, url string) (string, error)
}

// Document is a loaded input.
type Document struct {
	Ref  string
	HTML string
	Root *html.Node
}

// Loader resolves input references. The zero value reads files and stdin.
type Loader struct {
	Fetcher  Fetcher
	Renderer Renderer
	// Render sends URL inputs through Renderer instead of Fetcher.
	Render bool
	// Sanitize runs the markup through Policy before parsing.
	Sanitize bool
	// Policy defaults to PolicyFor(rating.Default()).
	Policy *bluemonday.Policy
	// Stdin is read for the "-" reference. Defaults to os.Stdin.
	Stdin io.Reader
}

// IsURL reports whether ref is an http(s) URL.
func IsURL(ref string) bool {
	r := strings.ToLower(strings.TrimSpace(ref))
	return strings.HasPrefix(r, "http://") || strings.HasPrefix(r, "https://")
}

// Load reads, decodes, optionally sanitizes, and parses ref.
func (l *Loader) Load(ctx context.Context, ref string) (*Document, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	markup, err := l.read(ctx, ref)
	if err != nil {
		return nil, err
	}
	return l.Parse(ref, markup)
}

// Parse sanitizes, when enabled, and parses markup that is already in
// memory. ref only names the document.
func (l *Loader) Parse(ref, markup string) (*Document, error) {
	if strings.TrimSpace(markup) == "" {
		return nil, fmt.Errorf("%w: %s", ErrEmptyInput, ref)
	}
	if l.Sanitize {
		p := l.Policy
		if p == nil {
			p = PolicyFor(rating.Default())
		}
		markup = p.Sanitize(markup)
	}
	root, err := dom.ParseString(markup)
	if err != nil {
		return nil, fmt.Errorf("parse %s: %w", ref, err)
	}
	return &Document{Ref: ref, HTML: markup, Root: root}, nil
}

func (l *Loader) read(ctx context.Context, ref string) (string, error) {
	switch {
	case ref == "-":
		in := l.Stdin
		if in == nil {
			in = os.Stdin
		}
		b, err := io.ReadAll(in)
		if err != nil {
			return "", fmt.Errorf("read stdin: %w", err)
		}
		return decode(b, "")
	case IsURL(ref) && l.Render:
		if l.Renderer == nil {
			return "", ErrNoRenderer
		}
		return l.Renderer.Render(ctx, ref)
	case IsURL(ref):
		if l.Fetcher == nil {
			return "", ErrNoFetcher
		}
		b, contentType, err := l.Fetcher.Get(ctx, ref)
		if err != nil {
			return "", fmt.Errorf("fetch %s: %w", ref, err)
		}
		return decode(b, contentType)
	default:
		b, err := os.ReadFile(ref)
		if err != nil {
			return "", fmt.Errorf("read %s: %w", ref, err)
		}
		return decode(b, "")
	}
}

// decode converts b to UTF-8 using the content type, a BOM or a meta
// charset declaration.
func decode(b []byte, contentType string) (string, error) {
	r, err := charset.NewReader(bytes.NewReader(b), contentType)
	if err != nil {
		return "", fmt.Errorf("decode charset: %w", err)
	}
	out, err := io.ReadAll(r)
	if err != nil {
		return "", fmt.Errorf("decode charset: %w", err)
	}
	return string(out), nil
}
