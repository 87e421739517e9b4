package script

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"mercator-hq/callisto/pkg/httpwire"
)

func writeScript(t *testing.T, src string) string {
	t.Helper()
	p := filepath.Join(t.TempDir(), "page.lua")
	if err := os.WriteFile(p, []byte(src), 0o644); err != nil {
		t.Fatal(err)
	}
	return p
}

func TestEngine_Run(t *testing.T) {
	file := writeScript(t, `
function main(req, res)
    res.status(201)
    res:header("X-Method", req.method)
    res.write(req.path .. "?" .. req.query)
    res.write("|" .. req.headers["x-token"] .. "|" .. req.body .. "|" .. req.client_ip)
end
`)

	e := &Engine{}
	resp, err := e.Run(context.Background(), file, &Request{
		Method:   "POST",
		Path:     "/api/hello.lua",
		Query:    "a=1",
		Headers:  map[string]string{"X-Token": "t"},
		Body:     []byte("payload"),
		ClientIP: "192.0.2.1",
	})
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}

	if resp.Status != 201 {
		t.Errorf("Status = %d, want 201", resp.Status)
	}
	if want := "/api/hello.lua?a=1|t|payload|192.0.2.1"; string(resp.Body) != want {
		t.Errorf("Body = %q, want %q", resp.Body, want)
	}
	if len(resp.Header) != 1 || resp.Header[0].Key != "X-Method" || resp.Header[0].Value != "POST" {
		t.Errorf("Header = %+v", resp.Header)
	}
}

func TestEngine_RuntimeError(t *testing.T) {
	file := writeScript(t, `function main(req, res) error("boom") end`)

	_, err := (&Engine{}).Run(context.Background(), file, &Request{})
	var se *Error
	if !errors.As(err, &se) {
		t.Fatalf("expected *Error, got %T %v", err, err)
	}
	if se.Name != "RuntimeError" || !strings.Contains(se.Message, "boom") {
		t.Errorf("unexpected error %+v", se)
	}
	if se.Stack == "" {
		t.Error("expected a stack trace")
	}
}

func TestEngine_SyntaxError(t *testing.T) {
	file := writeScript(t, `function main(req, res`)

	_, err := (&Engine{}).Run(context.Background(), file, &Request{})
	var se *Error
	if !errors.As(err, &se) || se.Name != "SyntaxError" {
		t.Fatalf("expected SyntaxError, got %v", err)
	}
}

func TestEngine_MissingEntryPoint(t *testing.T) {
	file := writeScript(t, `x = 1`)

	_, err := (&Engine{}).Run(context.Background(), file, &Request{})
	var se *Error
	if !errors.As(err, &se) || se.Name != "TypeError" {
		t.Fatalf("expected TypeError, got %v", err)
	}
}

func TestEngine_ContextCancelsInfiniteLoop(t *testing.T) {
	file := writeScript(t, `function main(req, res) while true do end end`)

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()

	_, err := (&Engine{}).Run(ctx, file, &Request{})
	var se *Error
	if !errors.As(err, &se) || se.Code != "ETIMEDOUT" {
		t.Fatalf("expected timeout error, got %v", err)
	}
}

func TestEngine_MemoryLimit(t *testing.T) {
	const limit = 32 << 20

	tests := []struct {
		name     string
		src      string
		wantCode string
	}{
		{
			name: "within limit",
			src: `function main(req, res)
    local s = string.rep("x", 1024)
    res.write(tostring(#s))
end`,
		},
		{
			name: "retained strings",
			src: `function main(req, res)
    local keep = {}
    for i = 1, 400 do
        keep[i] = string.rep("x", 1048576) .. i
    end
    res.write(tostring(#keep))
end`,
			wantCode: "ENOMEM",
		},
		{
			name:     "single oversized rep",
			src:      `function main(req, res) res.write(string.rep("x", 1073741824)) end`,
			wantCode: "ERUNTIME",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			file := writeScript(t, tt.src)
			_, err := (&Engine{MemoryLimit: limit}).Run(context.Background(), file, &Request{})

			if tt.wantCode == "" {
				if err != nil {
					t.Fatalf("Run() error = %v", err)
				}
				return
			}
			var se *Error
			if !errors.As(err, &se) {
				t.Fatalf("Run() error = %v, want *Error", err)
			}
			if se.Code != tt.wantCode {
				t.Errorf("Code = %q (%s), want %q", se.Code, se.Message, tt.wantCode)
			}
		})
	}
}

func TestEngine_NoFilesystemAccess(t *testing.T) {
	file := writeScript(t, `function main(req, res) res.write(type(io) .. type(os) .. type(dofile)) end`)

	resp, err := (&Engine{}).Run(context.Background(), file, &Request{})
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if string(resp.Body) != "nilnilnil" {
		t.Errorf("Body = %q, want nilnilnil", resp.Body)
	}
}

func TestEngine_MaxBody(t *testing.T) {
	file := writeScript(t, `function main(req, res) res.write(string.rep("x", 64)) end`)

	if _, err := (&Engine{MaxBody: 10}).Run(context.Background(), file, &Request{}); err == nil {
		t.Error("expected error for oversized body")
	}
}

func TestResponse_HTTP(t *testing.T) {
	tests := []struct {
		name string
		resp Response
		want string
	}{
		{
			name: "empty body declares zero length",
			resp: Response{Status: 204},
			want: "HTTP/1.1 204 No Content\r\nContent-Type: text/html; charset=utf-8\r\nContent-Length: 0\r\n\r\n",
		},
		{
			name: "script length and connection headers are dropped",
			resp: Response{
				Status: 200,
				Header: []httpwire.Field{{Key: "Content-Type", Value: "text/plain"}, {Key: "Content-Length", Value: "99"}, {Key: "Connection", Value: "close"}},
				Body:   []byte("hi"),
			},
			want: "HTTP/1.1 200 OK\r\nContent-Type: text/plain\r\nContent-Length: 2\r\n\r\nhi",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var buf bytes.Buffer
			if _, err := tt.resp.HTTP().WriteTo(&buf); err != nil {
				t.Fatal(err)
			}
			if buf.String() != tt.want {
				t.Errorf("got %q, want %q", buf.String(), tt.want)
			}
		})
	}
}
