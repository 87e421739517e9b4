package server

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"mercator-hq/callisto/pkg/config"
	"mercator-hq/callisto/pkg/dispatch"
	"mercator-hq/callisto/pkg/filter"
	"mercator-hq/callisto/pkg/journal"
	"mercator-hq/callisto/pkg/limits/ratelimit"
	"mercator-hq/callisto/pkg/sandbox"
	"mercator-hq/callisto/pkg/telemetry/health"
	"mercator-hq/callisto/pkg/telemetry/metrics"
)

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

func testConfig(root string) *config.ServerConfig {
	return &config.ServerConfig{
		Root:            root,
		ListenAddress:   "127.0.0.1:0",
		MaxPacketSize:   1024,
		ReadTimeout:     2 * time.Second,
		ShutdownTimeout: time.Second,
		ChunkSize:       4,
	}
}

// startServer serves root on a loopback listener until the test ends.
func startServer(t *testing.T, root string, opts ...Option) *Server {
	t.Helper()
	return startServerWithConfig(t, testConfig(root), opts...)
}

func startServerWithConfig(t *testing.T, cfg *config.ServerConfig, opts ...Option) *Server {
	t.Helper()
	docs := []string{"index.lua", "index.html"}
	engine := filter.NewEngine(cfg.Root, filter.NewDiskSource(cfg.Root, ".passfilter", nil), docs, nil)
	resolver := dispatch.NewResolver(cfg.Root, docs, ".lua")
	srv := NewServer(cfg, engine, resolver, opts...)

	ln, err := net.Listen("tcp", cfg.ListenAddress)
	if err != nil {
		t.Fatal(err)
	}

	errCh := make(chan error, 1)
	go func() { errCh <- srv.Serve(context.Background(), ln) }()

	t.Cleanup(func() {
		srv.Shutdown(context.Background())
		if err := <-errCh; err != ErrServerClosed {
			t.Errorf("Serve() returned %v, want ErrServerClosed", err)
		}
	})
	return srv
}

type client struct {
	t  *testing.T
	nc net.Conn
	br *bufio.Reader
}

func dial(t *testing.T, srv *Server) *client {
	t.Helper()
	nc, err := net.Dial("tcp", srv.Addr().String())
	if err != nil {
		t.Fatal(err)
	}
	nc.SetDeadline(time.Now().Add(5 * time.Second))
	t.Cleanup(func() { nc.Close() })
	return &client{t: t, nc: nc, br: bufio.NewReader(nc)}
}

func (c *client) send(raw string) {
	c.t.Helper()
	if _, err := io.WriteString(c.nc, raw); err != nil {
		c.t.Fatalf("write: %v", err)
	}
}

// roundTrip sends raw and reads one response. The body is read in full.
func (c *client) roundTrip(raw string) (*http.Response, string) {
	c.t.Helper()
	c.send(raw)
	return c.read(strings.HasPrefix(raw, "HEAD "))
}

func (c *client) read(head bool) (*http.Response, string) {
	c.t.Helper()
	var req *http.Request
	if head {
		req = &http.Request{Method: http.MethodHead}
	}
	resp, err := http.ReadResponse(c.br, req)
	if err != nil {
		c.t.Fatalf("read response: %v", err)
	}
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		c.t.Fatalf("read body: %v", err)
	}
	resp.Body.Close()
	return resp, string(body)
}

// expectClosed asserts that the server closed the connection.
func (c *client) expectClosed() {
	c.t.Helper()
	if _, err := c.br.ReadByte(); err != io.EOF {
		c.t.Errorf("expected connection to be closed, got %v", err)
	}
}

func get(path string) string {
	return "GET " + path + " HTTP/1.1\r\nHost: test\r\n\r\n"
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatal("condition not met before deadline")
		}
		time.Sleep(5 * time.Millisecond)
	}
}

type memJournal struct {
	mu      sync.Mutex
	entries []journal.Entry
}

func (m *memJournal) Record(_ context.Context, e *journal.Entry) error {
	m.mu.Lock()
	m.entries = append(m.entries, *e)
	m.mu.Unlock()
	return nil
}

func (m *memJournal) snapshot() []journal.Entry {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]journal.Entry(nil), m.entries...)
}

// fakeExecutor answers scripts in-process.
type fakeExecutor struct {
	mu    sync.Mutex
	calls []string
	raw   []string
	body  string
	reuse bool
}

func (f *fakeExecutor) Execute(_ context.Context, clientID, filePath string, conn net.Conn, raw []byte) sandbox.Outcome {
	f.mu.Lock()
	f.calls = append(f.calls, filePath)
	f.raw = append(f.raw, string(raw))
	f.mu.Unlock()

	fmt.Fprintf(conn, "HTTP/1.1 200 OK\r\nContent-Length: %d\r\n\r\n%s", len(f.body), f.body)
	return sandbox.Outcome{
		Job:      sandbox.Job{WorkerID: "w-1", ClientID: clientID, FilePath: filePath},
		State:    sandbox.StateCompletedOk,
		Reusable: f.reuse,
	}
}

func (f *fakeExecutor) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

func TestServer_StaticReuseWithoutResidue(t *testing.T) {
	root := writeTree(t, map[string]string{
		"index.html": "<h1>home</h1>",
		"notes.txt":  "plain text",
	})

	var (
		mu    sync.Mutex
		trail []State
	)
	srv := startServer(t, root)
	srv.onTransition = func(_ *conn, _, to State) {
		mu.Lock()
		trail = append(trail, to)
		mu.Unlock()
	}

	c := dial(t, srv)

	resp, body := c.roundTrip(get("/index.html"))
	if resp.StatusCode != 200 || body != "<h1>home</h1>" {
		t.Fatalf("first response %d %q", resp.StatusCode, body)
	}
	if ct := resp.Header.Get("Content-Type"); !strings.HasPrefix(ct, "text/html") {
		t.Errorf("Content-Type = %q", ct)
	}

	resp, body = c.roundTrip(get("/notes.txt"))
	if resp.StatusCode != 200 || body != "plain text" {
		t.Fatalf("second response %d %q", resp.StatusCode, body)
	}

	waitFor(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(trail) >= 8
	})

	want := []State{StateReading, StateDispatching, StateResponding, StateIdle}
	mu.Lock()
	defer mu.Unlock()
	for i, s := range trail[:8] {
		if s != want[i%4] {
			t.Fatalf("transition %d = %s, want %s (trail %v)", i, s, want[i%4], trail)
		}
	}
}

func TestServer_SplitHeadAcrossWrites(t *testing.T) {
	root := writeTree(t, map[string]string{"a.txt": "A"})
	c := dial(t, startServer(t, root))

	c.send("GET /a.t")
	time.Sleep(20 * time.Millisecond)
	c.send("xt HTTP/1.1\r\nHost: x\r\n")
	time.Sleep(20 * time.Millisecond)

	resp, body := c.roundTrip("\r\n")
	if resp.StatusCode != 200 || body != "A" {
		t.Errorf("got %d %q", resp.StatusCode, body)
	}
}

func TestServer_Head(t *testing.T) {
	root := writeTree(t, map[string]string{"index.html": "0123456789"})
	c := dial(t, startServer(t, root))

	resp, body := c.roundTrip("HEAD /index.html HTTP/1.1\r\n\r\n")
	if resp.StatusCode != 200 || resp.ContentLength != 10 || body != "" {
		t.Fatalf("HEAD = %d len %d body %q", resp.StatusCode, resp.ContentLength, body)
	}

	// A body sent after HEAD would corrupt this response.
	resp, body = c.roundTrip(get("/index.html"))
	if resp.StatusCode != 200 || body != "0123456789" {
		t.Errorf("GET after HEAD = %d %q", resp.StatusCode, body)
	}
}

func TestServer_RedirectToSlash(t *testing.T) {
	root := writeTree(t, map[string]string{"a/b/index.html": "deep"})
	c := dial(t, startServer(t, root))

	resp, _ := c.roundTrip(get("/a/b"))
	if resp.StatusCode != 301 || resp.Header.Get("Location") != "/a/b/" {
		t.Fatalf("got %d Location %q", resp.StatusCode, resp.Header.Get("Location"))
	}

	resp, _ = c.roundTrip(get("/a/b?x=1"))
	if resp.Header.Get("Location") != "/a/b/?x=1" {
		t.Errorf("query lost: Location %q", resp.Header.Get("Location"))
	}

	resp, body := c.roundTrip(get("/a/b/"))
	if resp.StatusCode != 200 || body != "deep" {
		t.Errorf("slashed request = %d %q", resp.StatusCode, body)
	}
}

func TestServer_StatusResponsesClose(t *testing.T) {
	root := writeTree(t, map[string]string{
		".passfilter": `[{"action":"deny","includes":["/private"]}]`,
		"private/x":   "x",
	})
	srv := startServer(t, root)

	tests := []struct {
		name string
		raw  string
		want int
	}{
		{"missing file", get("/nope.html"), 404},
		{"denied", get("/private/x"), 403},
		{"malformed request line", "GARBAGE\r\n\r\n", 418},
		{"unknown method", "BREW /pot HTTP/1.1\r\n\r\n", 405},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := dial(t, srv)
			resp, _ := c.roundTrip(tt.raw)
			if resp.StatusCode != tt.want {
				t.Errorf("status = %d, want %d", resp.StatusCode, tt.want)
			}
			c.expectClosed()
		})
	}
}

func TestServer_OversizedHead(t *testing.T) {
	c := dial(t, startServer(t, t.TempDir()))

	c.send("GET / HTTP/1.1\r\nX-Fill: " + strings.Repeat("a", 2000))
	resp, _ := c.read(false)
	if resp.StatusCode != 431 {
		t.Errorf("status = %d, want 431", resp.StatusCode)
	}
	c.expectClosed()
}

func TestServer_DenyRuleSkipsSandbox(t *testing.T) {
	root := writeTree(t, map[string]string{
		".passfilter": `[{"action":"deny","includes":["*.lua"],"to":403}]`,
		"app.lua":     "function main(req, res) end",
	})
	exec := &fakeExecutor{}
	c := dial(t, startServer(t, root, WithExecutor(exec)))

	resp, _ := c.roundTrip(get("/app.lua"))
	if resp.StatusCode != 403 {
		t.Errorf("status = %d, want 403", resp.StatusCode)
	}
	if exec.count() != 0 {
		t.Errorf("sandbox ran %d times for a denied script", exec.count())
	}
}

func TestServer_ScriptDispatch(t *testing.T) {
	root := writeTree(t, map[string]string{"app/index.lua": "function main(req, res) end"})
	exec := &fakeExecutor{body: "from script", reuse: true}
	c := dial(t, startServer(t, root, WithExecutor(exec)))

	raw := "POST /app/ HTTP/1.1\r\nContent-Length: 3\r\n\r\nabc"
	resp, body := c.roundTrip(raw)
	if resp.StatusCode != 200 || body != "from script" {
		t.Fatalf("got %d %q", resp.StatusCode, body)
	}

	exec.mu.Lock()
	if exec.calls[0] != filepath.Join(root, "app", "index.lua") || !strings.HasPrefix(exec.raw[0], "POST /app/ HTTP/1.1\r\n") {
		t.Errorf("executor got file %q raw %q", exec.calls[0], exec.raw[0])
	}
	exec.mu.Unlock()

	// Clean worker exit returns the connection to the pool.
	resp, _ = c.roundTrip(get("/app/"))
	if resp.StatusCode != 200 || exec.count() != 2 {
		t.Errorf("reuse after script: status %d, calls %d", resp.StatusCode, exec.count())
	}
}

func TestServer_ScriptNotReusable(t *testing.T) {
	root := writeTree(t, map[string]string{"run.lua": ""})
	c := dial(t, startServer(t, root, WithExecutor(&fakeExecutor{body: "x"})))

	c.roundTrip(get("/run.lua"))
	c.expectClosed()
}

func TestServer_ScriptWithoutExecutor(t *testing.T) {
	root := writeTree(t, map[string]string{"run.lua": ""})
	c := dial(t, startServer(t, root))

	resp, _ := c.roundTrip(get("/run.lua"))
	if resp.StatusCode != 500 {
		t.Errorf("status = %d, want 500", resp.StatusCode)
	}
}

func TestServer_UnreadBodyDiscarded(t *testing.T) {
	root := writeTree(t, map[string]string{"a.txt": "A", "b.txt": "B"})
	c := dial(t, startServer(t, root))

	// Four of ten body bytes arrive with the head.
	resp, body := c.roundTrip("POST /a.txt HTTP/1.1\r\nContent-Length: 10\r\n\r\n0123")
	if resp.StatusCode != 200 || body != "A" {
		t.Fatalf("first = %d %q", resp.StatusCode, body)
	}

	// The rest of the body must not be parsed as the next request.
	resp, body = c.roundTrip("456789" + get("/b.txt"))
	if resp.StatusCode != 200 || body != "B" {
		t.Errorf("second = %d %q", resp.StatusCode, body)
	}
}

func TestServer_JournalEntries(t *testing.T) {
	root := writeTree(t, map[string]string{
		".passfilter": `[{"action":"forward","includes":["old*"],"to":"new.html"}]`,
		"new.html":    "fresh",
	})
	j := &memJournal{}
	c := dial(t, startServer(t, root, WithJournal(j)))

	resp, body := c.roundTrip("GET /old-page HTTP/1.1\r\nX-Forwarded-For: 203.0.113.9, 10.0.0.1\r\n\r\n")
	if resp.StatusCode != 200 || body != "fresh" {
		t.Fatalf("got %d %q", resp.StatusCode, body)
	}

	waitFor(t, func() bool { return len(j.snapshot()) == 1 })
	e := j.snapshot()[0]

	if e.ClientID != "203.0.113.9" {
		t.Errorf("ClientID = %q, want first forwarded address", e.ClientID)
	}
	if e.RuleAction != "forward" || e.RuleToken != "old*" || e.Target != "new.html" {
		t.Errorf("rule attribution %q %q target %q", e.RuleAction, e.RuleToken, e.Target)
	}
	if e.Kind != "static" || e.Status != 200 || e.Sequence != 1 || e.ConnectionID == "" || e.ID == "" {
		t.Errorf("unexpected entry %+v", e)
	}
	if e.Bytes <= int64(len("fresh")) {
		t.Errorf("Bytes = %d, want head and body counted", e.Bytes)
	}
}

func TestServer_ShutdownClosesIdle(t *testing.T) {
	root := writeTree(t, map[string]string{"a.txt": "A"})
	cfg := testConfig(root)
	cfg.ShutdownTimeout = 2 * time.Second
	srv := startServerWithConfig(t, cfg)

	c := dial(t, srv)
	c.roundTrip(get("/a.txt"))
	waitFor(t, func() bool { return srv.Connections() == 1 })

	start := time.Now()
	if err := srv.Shutdown(context.Background()); err != nil {
		t.Fatalf("Shutdown() error = %v", err)
	}
	if time.Since(start) > time.Second {
		t.Error("shutdown waited on an idle connection")
	}
	c.expectClosed()

	if srv.Serving() {
		t.Error("Serving() true after shutdown")
	}
	if _, err := net.Dial("tcp", srv.Addr().String()); err == nil {
		t.Error("listener still accepting after shutdown")
	}
}

func TestServer_ReadTimeoutClosesConnection(t *testing.T) {
	cfg := testConfig(t.TempDir())
	cfg.ReadTimeout = 100 * time.Millisecond
	srv := startServerWithConfig(t, cfg)

	c := dial(t, srv)
	c.send("GET / HT")
	c.expectClosed()
}

func TestCanTransition(t *testing.T) {
	tests := []struct {
		from, to State
		want     bool
	}{
		{StateIdle, StateReading, true},
		{StateReading, StateDispatching, true},
		{StateReading, StateResponding, true},
		{StateDispatching, StateAwaitingSandbox, true},
		{StateAwaitingSandbox, StateIdle, true},
		{StateResponding, StateIdle, true},
		{StateIdle, StateDispatching, false},
		{StateAwaitingSandbox, StateResponding, false},
		{StateDispatching, StateClosed, true},
		{StateClosed, StateClosed, false},
		{StateClosed, StateIdle, false},
	}

	for _, tt := range tests {
		if got := canTransition(tt.from, tt.to); got != tt.want {
			t.Errorf("canTransition(%s, %s) = %v, want %v", tt.from, tt.to, got, tt.want)
		}
	}
}

func TestServer_RateLimitBans(t *testing.T) {
	root := writeTree(t, map[string]string{"a.txt": "A"})
	limiter := ratelimit.NewBanLimiter(ratelimit.Config{
		Threshold:   100,
		Window:      time.Minute,
		BanDuration: 30 * time.Second,
		MaxClients:  16,
		Shards:      1,
	})
	defer limiter.Close()

	c := dial(t, startServer(t, root, WithAdmitter(limiter)))
	for i := 0; i < 100; i++ {
		if resp, _ := c.roundTrip(get("/a.txt")); resp.StatusCode != 200 {
			t.Fatalf("request %d: status %d", i+1, resp.StatusCode)
		}
	}

	resp, _ := c.roundTrip(get("/a.txt"))
	if resp.StatusCode != 429 {
		t.Fatalf("request 101: status %d, want 429", resp.StatusCode)
	}
	if ra := resp.Header.Get("Retry-After"); ra != "30" {
		t.Errorf("Retry-After = %q, want 30", ra)
	}
	c.expectClosed()
}

func TestServer_MetricsAndHealth(t *testing.T) {
	root := writeTree(t, map[string]string{"a.txt": "A"})
	collector := metrics.NewCollector(&config.MetricsConfig{Enabled: true}, nil)
	checker := health.New(time.Second)

	srv := startServer(t, root, WithMetrics(collector), WithHealth(checker))
	checker.RegisterCheck("serving", health.ServingCheck(srv.Serving))

	c := dial(t, srv)
	c.roundTrip(get("/a.txt"))
	c.roundTrip(get("/missing"))

	admin := NewAdminServer(&config.TelemetryConfig{
		Metrics: config.MetricsConfig{Enabled: true, Path: "/metrics"},
		Health:  config.HealthConfig{Enabled: true, LivenessPath: "/health", ReadinessPath: "/ready"},
	}, collector, checker, health.VersionInfo{Version: "test"})

	scrape := func() string {
		rec := httptest.NewRecorder()
		admin.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
		return rec.Body.String()
	}
	waitFor(t, func() bool {
		body := scrape()
		return strings.Contains(body, `callisto_frontend_requests_total{kind="static",status="200"} 1`) &&
			strings.Contains(body, `callisto_frontend_requests_total{kind="status",status="404"} 1`)
	})

	probe := func(path string) int {
		rec := httptest.NewRecorder()
		admin.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
		return rec.Code
	}
	if code := probe("/ready"); code != http.StatusOK {
		t.Errorf("/ready = %d before shutdown", code)
	}

	srv.Shutdown(context.Background())

	if code := probe("/ready"); code != http.StatusServiceUnavailable {
		t.Errorf("/ready = %d while draining, want 503", code)
	}
	if code := probe("/health"); code != http.StatusOK {
		t.Errorf("/health = %d, liveness should survive shutdown", code)
	}
}
