package filter

import (
	"os"
	"path/filepath"
	"reflect"
	"testing"
)

// writeTree creates files below a temporary root. Keys are slash separated
// paths, values the file contents.
func writeTree(t *testing.T, files map[string]string) string {
	t.Helper()
	root := t.TempDir()
	for name, content := range files {
		p := filepath.Join(root, filepath.FromSlash(name))
		if err := os.MkdirAll(filepath.Dir(p), 0o755); err != nil {
			t.Fatal(err)
		}
		if err := os.WriteFile(p, []byte(content), 0o644); err != nil {
			t.Fatal(err)
		}
	}
	return root
}

func newEngine(root string) *Engine {
	return NewEngine(root, NewDiskSource(root, ".passfilter", nil), []string{"index.lua", "index.html"}, nil)
}

func TestLevels(t *testing.T) {
	tests := []struct {
		path string
		want []string
	}{
		{"/a/b/c", []string{"/a/b/c", "/a/b", "/a", ""}},
		{"/a/b/", []string{"/a/b", "/a", ""}},
		{"/", []string{""}},
		{"/x.html", []string{"/x.html", ""}},
	}

	for _, tt := range tests {
		if got := Levels(tt.path); !reflect.DeepEqual(got, tt.want) {
			t.Errorf("Levels(%q) = %q, want %q", tt.path, got, tt.want)
		}
	}
}

func TestRelative(t *testing.T) {
	tests := []struct {
		path, root string
		want       []string
	}{
		{"/a/b/c", "/a", []string{"b", "c"}},
		{"/a/b/c", "", []string{"a", "b", "c"}},
		{"/a/", "/a", []string{""}},
		{"/a", "/a", []string{""}},
	}

	for _, tt := range tests {
		if got := Relative(tt.path, tt.root); !reflect.DeepEqual(got, tt.want) {
			t.Errorf("Relative(%q, %q) = %q, want %q", tt.path, tt.root, got, tt.want)
		}
	}
}

func TestEngine_DenyWithoutTarget(t *testing.T) {
	root := writeTree(t, map[string]string{
		".passfilter":        `[{"action":"deny","includes":["/secret"]}]`,
		"secret/data.html":   "x",
		"public/secret.html": "y",
	})
	e := newEngine(root)

	v := e.Evaluate("/secret/data.html")
	if !v.Terminal() || v.Status != 403 {
		t.Fatalf("expected 403, got %+v", v)
	}
	if v.Action() != ActionDeny || v.Token != "/secret" {
		t.Errorf("unexpected rule attribution: action %q token %q", v.Action(), v.Token)
	}

	// Fixed tokens only look at the first relative segment.
	if v := e.Evaluate("/public/secret.html"); v.Terminal() {
		t.Errorf("fixed token matched a later segment: %+v", v)
	}
}

func TestEngine_ForwardDefaultsTo500(t *testing.T) {
	root := writeTree(t, map[string]string{
		".passfilter": `[{"action":"forward","includes":["broken"]}]`,
	})

	if v := newEngine(root).Evaluate("/very/broken/thing"); v.Status != 500 {
		t.Errorf("Status = %d, want 500", v.Status)
	}
}

func TestEngine_NumericTarget(t *testing.T) {
	root := writeTree(t, map[string]string{
		".passfilter": `[{"action":"deny","includes":["/admin"],"to":404}]`,
	})

	if v := newEngine(root).Evaluate("/admin/"); v.Status != 404 {
		t.Errorf("Status = %d, want 404", v.Status)
	}
}

func TestEngine_RewriteRelativeToRuleRoot(t *testing.T) {
	root := writeTree(t, map[string]string{
		"shop/.passfilter":   `[{"action":"forward","includes":["legacy*"],"to":"current/index.html"}]`,
		"shop/legacy-a.html": "old",
	})

	v := newEngine(root).Evaluate("/shop/legacy-a.html")
	if v.Terminal() {
		t.Fatalf("expected rewrite, got status %d", v.Status)
	}
	if !v.Rewritten || v.Path != "/shop/current/index.html" {
		t.Errorf("Path = %q rewritten=%v, want /shop/current/index.html", v.Path, v.Rewritten)
	}
}

func TestEngine_RewriteCannotEscapeRoot(t *testing.T) {
	root := writeTree(t, map[string]string{
		"a/.passfilter": `[{"action":"deny","includes":["x"],"to":"../../../etc/passwd"}]`,
	})

	v := newEngine(root).Evaluate("/a/x")
	if v.Path != "/etc/passwd" {
		t.Errorf("Path = %q, want clamped /etc/passwd", v.Path)
	}
	if got := Join(root, v.Path); got != filepath.Join(root, "etc", "passwd") {
		t.Errorf("Join escaped root: %s", got)
	}
}

func TestEngine_DeepestFirstAndPassStops(t *testing.T) {
	root := writeTree(t, map[string]string{
		".passfilter":       `[{"action":"deny","includes":["docs"]}]`,
		"docs/.passfilter":  `[{"action":"pass","includes":["*.html"]}]`,
		"docs/guide.html":   "g",
		"docs/notes.txt":    "n",
		"other/.passfilter": `[]`,
	})
	e := newEngine(root)

	// The deeper pass rule wins over the root deny.
	if v := e.Evaluate("/docs/guide.html"); v.Terminal() || v.Action() != ActionPass {
		t.Errorf("expected pass, got %+v", v)
	}

	// No rule in docs matches, so the root rule applies.
	if v := e.Evaluate("/docs/notes.txt"); v.Status != 403 {
		t.Errorf("expected 403 from root rule, got %+v", v)
	}
}

func TestEngine_FileOrderBreaksTies(t *testing.T) {
	root := writeTree(t, map[string]string{
		".passfilter": `[
			{"action":"deny","includes":["page"],"to":410},
			{"action":"deny","includes":["page"],"to":409}
		]`,
	})

	if v := newEngine(root).Evaluate("/page"); v.Status != 410 {
		t.Errorf("Status = %d, want 410 from first rule", v.Status)
	}
}

func TestEngine_NoRulesPassesThrough(t *testing.T) {
	root := writeTree(t, map[string]string{"index.html": "hi"})

	v := newEngine(root).Evaluate("/index.html")
	if v.Terminal() || v.Rewritten || v.Rule != nil || v.Path != "/index.html" {
		t.Errorf("expected untouched verdict, got %+v", v)
	}
}

func TestEngine_BrokenRuleFileIgnored(t *testing.T) {
	root := writeTree(t, map[string]string{
		".passfilter":     `[{"action":"deny","includes":["x"]}]`,
		"sub/.passfilter": `{not json`,
	})

	if v := newEngine(root).Evaluate("/sub/x"); v.Status != 403 {
		t.Errorf("broken nested file should be skipped, got %+v", v)
	}
}

func TestEngine_InertRulesSkipped(t *testing.T) {
	root := writeTree(t, map[string]string{
		".passfilter": `[
			{"includes":["x"]},
			{"action":"deny"},
			{"action":"deny","includes":["x"],"to":451}
		]`,
	})

	// Unsupported codes are kept here and downgraded when the response is
	// written.
	if v := newEngine(root).Evaluate("/x"); v.Status != 451 {
		t.Errorf("expected third rule to fire, got %+v", v)
	}
}

func TestEngine_DefaultDocumentFallback(t *testing.T) {
	root := writeTree(t, map[string]string{
		".passfilter":     `[{"action":"deny","includes":["*.lua"]}]`,
		"app/index.lua":   "function main(req, res) end",
		"site/index.html": "<p>",
	})
	e := newEngine(root)

	// The directory itself does not match *.lua, its default document does.
	if v := e.Evaluate("/app/"); v.Status != 403 {
		t.Errorf("expected default document to trigger deny, got %+v", v)
	}
	if v := e.Evaluate("/site/"); v.Terminal() {
		t.Errorf("html default document should not match, got %+v", v)
	}
}

func TestEngine_DefaultDocumentFallbackSkippedForFiles(t *testing.T) {
	root := writeTree(t, map[string]string{
		".passfilter": `[{"action":"deny","includes":["index"]}]`,
		"readme.txt":  "r",
	})

	if v := newEngine(root).Evaluate("/readme.txt"); v.Terminal() {
		t.Errorf("existing file must not consult default documents, got %+v", v)
	}
}

func TestEngine_FixedTokenSkipsDefaultDocuments(t *testing.T) {
	root := writeTree(t, map[string]string{
		".passfilter":   `[{"action":"deny","includes":["/index.lua"]}]`,
		"app/index.lua": "",
	})

	if v := newEngine(root).Evaluate("/app/"); v.Terminal() {
		t.Errorf("fixed token must not use the default document fallback, got %+v", v)
	}
}
