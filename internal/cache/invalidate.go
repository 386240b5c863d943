package cache

import (
	"encoding/json"
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"
)

// ClearDir removes the directory and all contents. It recreates the directory
// afterwards to leave a valid empty cache location.
func ClearDir(dir string) error {
	if strings.TrimSpace(dir) == "" {
		return errors.New("empty dir")
	}
	if err := os.RemoveAll(dir); err != nil {
		return err
	}
	return os.MkdirAll(dir, 0o755)
}

// PurgeHTTPCacheByAge removes HTTP cache entries older than maxAge.
// It inspects <key>.meta.json for SavedAt timestamp and deletes both meta and
// corresponding <key>.body when expired.
func PurgeHTTPCacheByAge(dir string, maxAge time.Duration) (int, error) {
	if maxAge <= 0 {
		return 0, nil
	}
	now := time.Now().UTC()
	removed := 0
	err := walkFiles(dir, func(path string, d fs.DirEntry) {
		if !strings.HasSuffix(d.Name(), ".meta.json") {
			return
		}
		b, err := os.ReadFile(path)
		if err != nil {
			return // skip unreadable
		}
		var e HTTPEntry
		if err := json.Unmarshal(b, &e); err != nil {
			return // skip malformed
		}
		if now.Sub(e.SavedAt) <= maxAge {
			return
		}
		removed++
		_ = os.Remove(path)
		_ = os.Remove(strings.TrimSuffix(path, ".meta.json") + ".body")
	})
	return removed, err
}

// PurgeSnapshotCacheByAge removes snapshot entries older than maxAge based on
// file modification time.
func PurgeSnapshotCacheByAge(dir string, maxAge time.Duration) (int, error) {
	if maxAge <= 0 {
		return 0, nil
	}
	now := time.Now().UTC()
	removed := 0
	err := walkFiles(dir, func(path string, d fs.DirEntry) {
		if !isSnapshotFile(d.Name()) {
			return
		}
		info, err := d.Info()
		if err != nil {
			return
		}
		if now.Sub(info.ModTime().UTC()) <= maxAge {
			return
		}
		removed++
		_ = os.Remove(path)
	})
	return removed, err
}

// EnforceHTTPCacheLimits evicts least recently used HTTP entries until the
// cache holds at most maxCount entries and maxBytes of bodies. Zero disables
// a limit. Recency is the body modification time, refreshed on LoadBody.
func EnforceHTTPCacheLimits(dir string, maxBytes int64, maxCount int) (int, error) {
	var entries []lruEntry
	err := walkFiles(dir, func(path string, d fs.DirEntry) {
		if !strings.HasSuffix(d.Name(), ".body") {
			return
		}
		info, err := d.Info()
		if err != nil {
			return
		}
		base := strings.TrimSuffix(path, ".body")
		entries = append(entries, lruEntry{
			paths: []string{path, base + ".meta.json"},
			size:  info.Size(),
			used:  info.ModTime(),
		})
	})
	if err != nil {
		return 0, err
	}
	return evict(entries, maxBytes, maxCount), nil
}

// EnforceSnapshotCacheLimits is EnforceHTTPCacheLimits for snapshot entries.
func EnforceSnapshotCacheLimits(dir string, maxBytes int64, maxCount int) (int, error) {
	var entries []lruEntry
	err := walkFiles(dir, func(path string, d fs.DirEntry) {
		if !isSnapshotFile(d.Name()) {
			return
		}
		info, err := d.Info()
		if err != nil {
			return
		}
		entries = append(entries, lruEntry{paths: []string{path}, size: info.Size(), used: info.ModTime()})
	})
	if err != nil {
		return 0, err
	}
	return evict(entries, maxBytes, maxCount), nil
}

type lruEntry struct {
	paths []string
	size  int64
	used  time.Time
}

// evict removes the oldest entries until both limits hold.
func evict(entries []lruEntry, maxBytes int64, maxCount int) int {
	if maxBytes <= 0 && maxCount <= 0 {
		return 0
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].used.Before(entries[j].used) })
	var total int64
	for _, e := range entries {
		total += e.size
	}
	count := len(entries)
	removed := 0
	for _, e := range entries {
		overCount := maxCount > 0 && count > maxCount
		overBytes := maxBytes > 0 && total > maxBytes
		if !overCount && !overBytes {
			break
		}
		for _, p := range e.paths {
			_ = os.Remove(p)
		}
		count--
		total -= e.size
		removed++
	}
	return removed
}

func isSnapshotFile(name string) bool {
	return strings.HasSuffix(name, ".json") && !strings.HasSuffix(name, ".meta.json")
}

// walkFiles calls fn for every regular file below dir. A missing dir is
// treated as empty.
func walkFiles(dir string, fn func(path string, d fs.DirEntry)) error {
	err := filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		fn(path, d)
		return nil
	})
	if errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	return err
}
