package httpwire

import (
	"bytes"
	"testing"
)

func TestStatusText(t *testing.T) {
	tests := []struct {
		in       int
		wantCode int
		wantText string
	}{
		{404, 404, "Not Found"},
		{418, 418, "I'm a teapot"},
		{431, 431, "Request Header Fields Too Large"},
		{504, 504, "Gateway Timeout"},
		{299, 500, "Internal Server Error"},
		{0, 500, "Internal Server Error"},
	}

	for _, tt := range tests {
		code, text := StatusText(tt.in)
		if code != tt.wantCode || text != tt.wantText {
			t.Errorf("StatusText(%d) = %d %q, want %d %q", tt.in, code, text, tt.wantCode, tt.wantText)
		}
	}
}

func TestResponse_WriteTo(t *testing.T) {
	tests := []struct {
		name string
		resp *Response
		want string
	}{
		{
			name: "no body",
			resp: Status(404, ""),
			want: "HTTP/1.1 404 Not Found\r\n\r\n",
		},
		{
			name: "redirect header",
			resp: Status(301, "", Field{Key: "Location", Value: "/a/"}),
			want: "HTTP/1.1 301 Moved Permanently\r\nLocation: /a/\r\n\r\n",
		},
		{
			name: "body adds length",
			resp: Status(500, "boom"),
			want: "HTTP/1.1 500 Internal Server Error\r\nContent-Length: 4\r\n\r\nboom",
		},
		{
			name: "unknown status",
			resp: Status(299, ""),
			want: "HTTP/1.1 500 Internal Server Error\r\n\r\n",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var buf bytes.Buffer
			n, err := tt.resp.WriteTo(&buf)
			if err != nil {
				t.Fatalf("WriteTo() error = %v", err)
			}
			if buf.String() != tt.want {
				t.Errorf("WriteTo() wrote %q, want %q", buf.String(), tt.want)
			}
			if n != int64(buf.Len()) {
				t.Errorf("WriteTo() = %d, wrote %d bytes", n, buf.Len())
			}
		})
	}
}

func TestResponse_WriteToDoesNotMutateHeader(t *testing.T) {
	resp := &Response{Status: 200, Header: make([]Field, 0, 4), Body: []byte("x")}
	resp.Set("Content-Type", "text/plain")

	var buf bytes.Buffer
	resp.WriteTo(&buf)
	resp.WriteTo(&buf)

	if len(resp.Header) != 1 {
		t.Errorf("expected header slice to stay at 1 field, got %d", len(resp.Header))
	}
}

func TestContentType(t *testing.T) {
	tests := map[string]string{
		"/index.html":  "text/html; charset=utf-8",
		"/a/STYLE.CSS": "text/css; charset=utf-8",
		"/m.wasm":      "application/wasm",
		"/noext":       DefaultContentType,
		"/archive.tar": DefaultContentType,
		"/photo.jpg":   "image/jpeg",
		"/script.lua":  DefaultContentType,
	}

	for name, want := range tests {
		if got := ContentType(name); got != want {
			t.Errorf("ContentType(%q) = %q, want %q", name, got, want)
		}
	}
}
