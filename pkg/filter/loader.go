package filter

import (
	"errors"
	"io/fs"
	"log/slog"
	"os"
	"path"
	"path/filepath"
	"sync"
	"syscall"
	"unicode/utf8"
)

// MaxRuleFileSize bounds the size of a single rule file.
const MaxRuleFileSize = 1 << 20

// Source returns the rules that apply at a URL directory.
type Source interface {
	// Rules returns the rules of the file in dir, in file order. A missing
	// or broken file yields no rules.
	Rules(dir string) []*Rule
}

// Join maps a URL path below root to a filesystem path. The URL path is
// cleaned as if it were absolute, so ".." never leaves root.
func Join(root string, elem ...string) string {
	p := path.Join(append([]string{"/"}, elem...)...)
	return filepath.Join(root, filepath.FromSlash(p))
}

// DiskSource reads rule files from the serving root on every call.
type DiskSource struct {
	root     string
	fileName string
	logger   *slog.Logger
}

// NewDiskSource creates a source reading fileName in every directory below
// root.
func NewDiskSource(root, fileName string, logger *slog.Logger) *DiskSource {
	if logger == nil {
		logger = slog.Default()
	}
	return &DiskSource{root: root, fileName: fileName, logger: logger}
}

// Rules implements Source.
func (s *DiskSource) Rules(dir string) []*Rule {
	rules, err := s.Load(dir)
	if err != nil {
		if !errors.Is(err, fs.ErrNotExist) && !errors.Is(err, syscall.ENOTDIR) {
			s.logger.Debug("ignoring rule file", "dir", dir, "error", err)
		}
		return nil
	}
	return rules
}

// Load reads and parses the rule file in dir. A missing file returns an
// error wrapping fs.ErrNotExist.
func (s *DiskSource) Load(dir string) ([]*Rule, error) {
	filePath := Join(s.root, dir, s.fileName)

	info, err := os.Stat(filePath)
	if err != nil {
		return nil, &LoadError{FilePath: filePath, Message: "failed to access file", Cause: err}
	}
	if !info.Mode().IsRegular() {
		return nil, &LoadError{FilePath: filePath, Message: "not a regular file"}
	}
	if info.Size() > MaxRuleFileSize {
		return nil, &LoadError{FilePath: filePath, Message: "file exceeds maximum size"}
	}

	data, err := os.ReadFile(filePath)
	if err != nil {
		return nil, &LoadError{FilePath: filePath, Message: "failed to read file", Cause: err}
	}
	if !utf8.Valid(data) {
		return nil, &LoadError{FilePath: filePath, Message: "file contains invalid UTF-8 encoding"}
	}

	return ParseRules(filePath, data, dir)
}

// CachedSource memoizes another source per directory. Entries stay until
// invalidated, usually by a Watcher.
type CachedSource struct {
	inner Source

	mu      sync.RWMutex
	entries map[string][]*Rule
	gen     uint64
}

// NewCachedSource wraps inner with a cache.
func NewCachedSource(inner Source) *CachedSource {
	return &CachedSource{inner: inner, entries: make(map[string][]*Rule)}
}

// Rules implements Source.
func (c *CachedSource) Rules(dir string) []*Rule {
	c.mu.RLock()
	rules, ok := c.entries[dir]
	gen := c.gen
	c.mu.RUnlock()
	if ok {
		return rules
	}

	rules = c.inner.Rules(dir)

	// An invalidation that raced the load must not be overwritten.
	c.mu.Lock()
	if c.gen == gen {
		c.entries[dir] = rules
	}
	c.mu.Unlock()
	return rules
}

// Invalidate drops the cached rules of dir.
func (c *CachedSource) Invalidate(dir string) {
	c.mu.Lock()
	delete(c.entries, dir)
	c.gen++
	c.mu.Unlock()
}

// InvalidateAll empties the cache.
func (c *CachedSource) InvalidateAll() {
	c.mu.Lock()
	c.entries = make(map[string][]*Rule)
	c.gen++
	c.mu.Unlock()
}

// Len returns the number of cached directories.
func (c *CachedSource) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}
