package httpwire

import (
	"bufio"
	"io"
	"strconv"
)

// statusText is the set of statuses this server emits. Anything else is
// answered as 500.
var statusText = map[int]string{
	200: "OK",
	201: "Created",
	204: "No Content",
	301: "Moved Permanently",
	302: "Found",
	304: "Not Modified",
	400: "Bad Request",
	401: "Unauthorized",
	403: "Forbidden",
	404: "Not Found",
	405: "Method Not Allowed",
	409: "Conflict",
	418: "I'm a teapot",
	422: "Unprocessable Entity",
	429: "Too Many Requests",
	431: "Request Header Fields Too Large",
	500: "Internal Server Error",
	502: "Bad Gateway",
	503: "Service Unavailable",
	504: "Gateway Timeout",
}

// StatusText normalizes code to a supported status and returns its reason
// phrase.
func StatusText(code int) (int, string) {
	if text, ok := statusText[code]; ok {
		return code, text
	}
	return 500, statusText[500]
}

// Field is a single response header line.
type Field struct {
	Key   string
	Value string
}

// Response is a hand assembled HTTP/1.1 response. Headers are written in
// the order given.
type Response struct {
	Status int
	Header []Field
	Body   []byte
}

// Set appends a header field.
func (r *Response) Set(key, value string) {
	r.Header = append(r.Header, Field{Key: key, Value: value})
}

// WriteHead writes the status line and headers followed by the blank line.
func WriteHead(w io.Writer, status int, header []Field) error {
	bw := bufio.NewWriter(w)
	writeHead(bw, status, header)
	return bw.Flush()
}

func writeHead(bw *bufio.Writer, status int, header []Field) {
	code, text := StatusText(status)
	bw.WriteString("HTTP/1.1 ")
	bw.WriteString(strconv.Itoa(code))
	bw.WriteByte(' ')
	bw.WriteString(text)
	for _, f := range header {
		bw.WriteString("\r\n")
		bw.WriteString(f.Key)
		bw.WriteString(": ")
		bw.WriteString(f.Value)
	}
	bw.WriteString("\r\n\r\n")
}

// WriteTo writes the complete response. A Content-Length field is added
// when a body is present.
func (r *Response) WriteTo(w io.Writer) (int64, error) {
	header := r.Header
	if len(r.Body) > 0 {
		header = append(header[:len(header):len(header)], Field{Key: "Content-Length", Value: strconv.Itoa(len(r.Body))})
	}

	cw := &countingWriter{w: w}
	bw := bufio.NewWriter(cw)
	writeHead(bw, r.Status, header)
	bw.Write(r.Body)
	err := bw.Flush()
	return cw.n, err
}

// Status builds a body-less response, optionally carrying detail as the body.
func Status(code int, detail string, header ...Field) *Response {
	return &Response{Status: code, Header: header, Body: []byte(detail)}
}

type countingWriter struct {
	w io.Writer
	n int64
}

func (c *countingWriter) Write(p []byte) (int, error) {
	n, err := c.w.Write(p)
	c.n += int64(n)
	return n, err
}
