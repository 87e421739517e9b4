package filter

import (
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
)

func TestJoin(t *testing.T) {
	root := filepath.Join("srv", "www")
	tests := []struct {
		elem []string
		want string
	}{
		{[]string{"/a/b.html"}, filepath.Join(root, "a", "b.html")},
		{[]string{"/../../etc/passwd"}, filepath.Join(root, "etc", "passwd")},
		{[]string{"", ".passfilter"}, filepath.Join(root, ".passfilter")},
		{[]string{"/a", "..", "..", "x"}, filepath.Join(root, "x")},
	}

	for _, tt := range tests {
		if got := Join(root, tt.elem...); got != tt.want {
			t.Errorf("Join(%q) = %q, want %q", tt.elem, got, tt.want)
		}
	}
}

func TestDiskSource_Load(t *testing.T) {
	root := writeTree(t, map[string]string{
		"a/.passfilter": `[{"action":"deny","includes":["x"]}]`,
		"b/.passfilter": `nope`,
	})
	src := NewDiskSource(root, ".passfilter", nil)

	rules, err := src.Load("/a")
	if err != nil || len(rules) != 1 {
		t.Fatalf("Load(/a) = %v, %v", rules, err)
	}
	if rules[0].Root != "/a" {
		t.Errorf("Root = %q, want /a", rules[0].Root)
	}

	_, err = src.Load("/missing")
	if !errors.Is(err, fs.ErrNotExist) {
		t.Errorf("expected ErrNotExist, got %v", err)
	}

	_, err = src.Load("/b")
	var pe *ParseError
	if !errors.As(err, &pe) {
		t.Errorf("expected ParseError, got %v", err)
	}

	if got := src.Rules("/b"); got != nil {
		t.Errorf("broken file should yield no rules, got %v", got)
	}
}

func TestDiskSource_RejectsOversized(t *testing.T) {
	root := t.TempDir()
	big := make([]byte, MaxRuleFileSize+1)
	if err := os.WriteFile(filepath.Join(root, ".passfilter"), big, 0o644); err != nil {
		t.Fatal(err)
	}

	var le *LoadError
	if _, err := NewDiskSource(root, ".passfilter", nil).Load(""); !errors.As(err, &le) {
		t.Errorf("expected LoadError, got %v", err)
	}
}

type countingSource struct {
	calls atomic.Int32
	rules []*Rule
}

func (c *countingSource) Rules(string) []*Rule {
	c.calls.Add(1)
	return c.rules
}

func TestCachedSource(t *testing.T) {
	inner := &countingSource{rules: []*Rule{{Action: ActionPass}}}
	cache := NewCachedSource(inner)

	cache.Rules("/a")
	cache.Rules("/a")
	cache.Rules("/b")
	if inner.calls.Load() != 2 {
		t.Errorf("inner called %d times, want 2", inner.calls.Load())
	}
	if cache.Len() != 2 {
		t.Errorf("Len = %d, want 2", cache.Len())
	}

	cache.Invalidate("/a")
	cache.Rules("/a")
	if inner.calls.Load() != 3 {
		t.Errorf("expected reload after Invalidate, calls = %d", inner.calls.Load())
	}

	cache.InvalidateAll()
	if cache.Len() != 0 {
		t.Errorf("Len = %d after InvalidateAll", cache.Len())
	}
}

func TestCachedSource_CachesMissingFiles(t *testing.T) {
	root := t.TempDir()
	cache := NewCachedSource(NewDiskSource(root, ".passfilter", nil))

	if rules := cache.Rules(""); rules != nil {
		t.Fatalf("expected no rules, got %v", rules)
	}

	os.WriteFile(filepath.Join(root, ".passfilter"), []byte(`[{"action":"pass","includes":["x"]}]`), 0o644)
	if rules := cache.Rules(""); rules != nil {
		t.Error("cache should keep serving the stale empty entry until invalidated")
	}

	cache.Invalidate("")
	if rules := cache.Rules(""); len(rules) != 1 {
		t.Errorf("expected fresh rules after invalidation, got %v", rules)
	}
}
