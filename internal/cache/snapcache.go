package cache

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"os"
	"path/filepath"
)

// SnapshotCache stores serialized snapshot results keyed by a digest of the
// input markup and everything that influences the engine output.
type SnapshotCache struct {
	Dir string
	// StrictPerms, when true, enforces 0700 on cache directories and 0600 on
	// files.
	StrictPerms bool
}

func (c *SnapshotCache) ensureDir() error {
	if c == nil || c.Dir == "" {
		return ErrNotConfigured
	}
	return ensureDir(c.Dir, c.StrictPerms)
}

// KeyFrom builds a cache key from a descriptor of the run (mode, parameters,
// options) and the input markup.
func KeyFrom(descriptor string, markup string) string {
	h := sha256.Sum256([]byte(descriptor + "\n\n" + markup))
	return hex.EncodeToString(h[:])
}

func (c *SnapshotCache) pathFor(key string) string {
	return filepath.Join(c.Dir, key+".json")
}

// Get returns cached bytes if present. A miss is not an error.
func (c *SnapshotCache) Get(_ context.Context, key string) ([]byte, bool, error) {
	if err := c.ensureDir(); err != nil {
		return nil, false, err
	}
	p := c.pathFor(key)
	b, err := os.ReadFile(p)
	if err != nil {
		return nil, false, nil
	}
	touch(p)
	return b, true, nil
}

// Save writes bytes to cache.
func (c *SnapshotCache) Save(_ context.Context, key string, data []byte) error {
	if err := c.ensureDir(); err != nil {
		return err
	}
	return writeAtomic(c.pathFor(key), data, fileMode(c.StrictPerms))
}
