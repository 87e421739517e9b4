package httpwire

import (
	"bytes"
	"net"
	"net/http"
	"net/textproto"
	"regexp"
	"strings"
)

// Methods is the allow list of request methods.
var Methods = map[string]bool{
	http.MethodGet:     true,
	http.MethodPost:    true,
	http.MethodHead:    true,
	http.MethodPut:     true,
	http.MethodDelete:  true,
	http.MethodConnect: true,
	http.MethodOptions: true,
	http.MethodTrace:   true,
	http.MethodPatch:   true,
}

// ClientIPHeaders are consulted in order to derive the client address.
var ClientIPHeaders = []string{"Cf-Connecting-Ip", "X-Forwarded-For"}

var slashRun = regexp.MustCompile(`/{2,}`)

// Header maps canonical MIME header keys to values, so lines that differ
// only in case share a key. Duplicate header lines overwrite earlier ones.
type Header map[string]string

// Get returns the value for key, matched case-insensitively.
func (h Header) Get(key string) string {
	return h[textproto.CanonicalMIMEHeaderKey(key)]
}

// Has reports whether key is present.
func (h Header) Has(key string) bool {
	_, ok := h[textproto.CanonicalMIMEHeaderKey(key)]
	return ok
}

// Head is a request whose header block has been received but whose request
// line has not been validated yet. Admission control runs on a Head so that
// malformed requests still count against their client.
type Head struct {
	// RequestLine is the first line without its line terminator.
	RequestLine string

	// Header holds the parsed header lines.
	Header Header

	// ClientIP is the first of ClientIPHeaders present, else the peer host.
	ClientIP string

	// Raw is every byte accumulated for this request, including body bytes
	// that arrived with the head.
	Raw []byte

	// HeadLen is the length of the head within Raw, terminator included.
	HeadLen int
}

// ParseHead parses an accumulated buffer containing a complete head.
// Header lines without a colon are skipped. peer is the socket's remote
// address and is used when no forwarding header names the client.
func ParseHead(raw []byte, peer net.Addr) (*Head, error) {
	end := bytes.Index(raw, headTerminator)
	if end < 0 {
		return nil, ErrIncompleteHead
	}

	lines := strings.Split(string(raw[:end]), "\n")
	h := &Head{
		RequestLine: strings.TrimRight(lines[0], "\r"),
		Header:      make(Header, len(lines)-1),
		Raw:         raw,
		HeadLen:     end + len(headTerminator),
	}

	for _, line := range lines[1:] {
		key, value, ok := strings.Cut(strings.TrimSpace(line), ":")
		if !ok {
			continue
		}
		key = strings.TrimSpace(key)
		if key == "" {
			continue
		}
		h.Header[textproto.CanonicalMIMEHeaderKey(key)] = strings.TrimSpace(value)
	}

	h.ClientIP = clientIP(h.Header, peer)
	return h, nil
}

func clientIP(h Header, peer net.Addr) string {
	for _, key := range ClientIPHeaders {
		if v := h.Get(key); v != "" {
			first, _, _ := strings.Cut(v, ",")
			if first = strings.TrimSpace(first); first != "" {
				return first
			}
		}
	}
	if peer == nil {
		return ""
	}
	host, _, err := net.SplitHostPort(peer.String())
	if err != nil {
		return peer.String()
	}
	return host
}

// Request is a validated request. It is immutable once built.
type Request struct {
	Method   string
	Target   string
	Proto    string
	Path     string
	Query    string
	HasQuery bool
	Slashed  bool
	Header   Header
	ClientIP string
	Raw      []byte
	HeadLen  int
}

// Request validates the request line and builds a Request. The line must be
// three tokens separated by single spaces. The errors carry status 418 for a
// malformed line and 405 for a method outside Methods.
func (h *Head) Request() (*Request, error) {
	tokens := strings.Split(h.RequestLine, " ")
	if len(tokens) != 3 || tokens[0] == "" || tokens[1] == "" || tokens[2] == "" {
		return nil, WithStatus(http.StatusTeapot, ErrMalformedRequestLine)
	}
	if !Methods[tokens[0]] {
		return nil, WithStatus(http.StatusMethodNotAllowed, ErrUnsupportedMethod)
	}

	path, query, hasQuery := strings.Cut(tokens[1], "?")
	path = NormalizePath(path)

	return &Request{
		Method:   tokens[0],
		Target:   tokens[1],
		Proto:    tokens[2],
		Path:     path,
		Query:    query,
		HasQuery: hasQuery,
		Slashed:  strings.HasSuffix(path, "/"),
		Header:   h.Header,
		ClientIP: h.ClientIP,
		Raw:      h.Raw,
		HeadLen:  h.HeadLen,
	}, nil
}

// NormalizePath collapses runs of slashes into one.
func NormalizePath(p string) string {
	return slashRun.ReplaceAllString(p, "/")
}

// RedirectLocation returns the location used to redirect a directory request
// to its slashed form, keeping the query string.
func (r *Request) RedirectLocation() string {
	loc := r.Path + "/"
	if r.HasQuery && r.Query != "" {
		loc += "?" + r.Query
	}
	return loc
}

// Body returns the body bytes that arrived together with the head.
func (r *Request) Body() []byte {
	return r.Raw[r.HeadLen:]
}
