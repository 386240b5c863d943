// Package cache keeps fetched pages and computed snapshots on disk so that
// repeated runs over the same input skip the network and the engine.
package cache

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"
)

// ErrNotConfigured is returned by caches without a directory.
var ErrNotConfigured = errors.New("cache dir not configured")

// HTTPEntry captures enough metadata to support conditional revalidation and
// to return content without hitting the network when valid.
type HTTPEntry struct {
	URL          string    `json:"url"`
	ContentType  string    `json:"content_type"`
	ETag         string    `json:"etag"`
	LastModified string    `json:"last_modified"`
	SavedAt      time.Time `json:"saved_at"`
}

// HTTPCache stores responses on disk as <key>.meta.json and <key>.body where
// key is sha256(url).
type HTTPCache struct {
	Dir string
	// StrictPerms, when true, enforces 0700 on the cache directory and 0600
	// on files.
	StrictPerms bool
}

func (c *HTTPCache) ensureDir() error {
	if c == nil || c.Dir == "" {
		return ErrNotConfigured
	}
	return ensureDir(c.Dir, c.StrictPerms)
}

// paths returns the metadata and body files for url.
func (c *HTTPCache) paths(url string) (meta, body string) {
	sum := sha256.Sum256([]byte(url))
	base := filepath.Join(c.Dir, hex.EncodeToString(sum[:]))
	return base + ".meta.json", base + ".body"
}

// LoadMeta returns the stored metadata for url. A miss is an fs.ErrNotExist.
func (c *HTTPCache) LoadMeta(_ context.Context, url string) (*HTTPEntry, error) {
	if err := c.ensureDir(); err != nil {
		return nil, err
	}
	metaPath, _ := c.paths(url)
	b, err := os.ReadFile(metaPath)
	if err != nil {
		return nil, err
	}
	var e HTTPEntry
	if err := json.Unmarshal(b, &e); err != nil {
		return nil, fmt.Errorf("decode %s: %w", filepath.Base(metaPath), err)
	}
	return &e, nil
}

// LoadBody returns the stored body for url and marks it recently used.
func (c *HTTPCache) LoadBody(_ context.Context, url string) ([]byte, error) {
	if err := c.ensureDir(); err != nil {
		return nil, err
	}
	_, bodyPath := c.paths(url)
	b, err := os.ReadFile(bodyPath)
	if err != nil {
		return nil, err
	}
	touch(bodyPath)
	return b, nil
}

// Save writes the body first so that metadata never points at a missing body.
func (c *HTTPCache) Save(_ context.Context, url string, contentType string, etag string, lastModified string, body []byte) error {
	if err := c.ensureDir(); err != nil {
		return err
	}
	metaPath, bodyPath := c.paths(url)
	mode := fileMode(c.StrictPerms)
	if err := writeAtomic(bodyPath, body, mode); err != nil {
		return fmt.Errorf("write body: %w", err)
	}
	meta, err := json.Marshal(HTTPEntry{
		URL:          url,
		ContentType:  contentType,
		ETag:         etag,
		LastModified: lastModified,
		SavedAt:      time.Now().UTC(),
	})
	if err != nil {
		return fmt.Errorf("encode meta: %w", err)
	}
	if err := writeAtomic(metaPath, meta, mode); err != nil {
		return fmt.Errorf("write meta: %w", err)
	}
	return nil
}

// writeAtomic replaces path through a temp file in the same directory so
// concurrent readers never see a partial entry.
func writeAtomic(path string, data []byte, mode os.FileMode) error {
	f, err := os.CreateTemp(filepath.Dir(path), ".tmp-*")
	if err != nil {
		return err
	}
	tmp := f.Name()
	_, werr := f.Write(data)
	cerr := f.Close()
	if err := errors.Join(werr, cerr, os.Chmod(tmp, mode)); err != nil {
		_ = os.Remove(tmp)
		return err
	}
	if err := os.Rename(tmp, path); err != nil {
		_ = os.Remove(tmp)
		return err
	}
	return nil
}

func ensureDir(dir string, strict bool) error {
	if !strict {
		return os.MkdirAll(dir, 0o755)
	}
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return err
	}
	info, err := os.Stat(dir)
	if err != nil {
		return err
	}
	if info.Mode().Perm() != 0o700 {
		return os.Chmod(dir, 0o700)
	}
	return nil
}

func fileMode(strict bool) os.FileMode {
	if strict {
		return 0o600
	}
	return 0o644
}

func touch(path string) {
	now := time.Now()
	_ = os.Chtimes(path, now, now)
}
