package httpwire

import (
	"bytes"
	"net/http"
)

// headTerminator separates the request head from the body.
var headTerminator = []byte("\r\n\r\n")

// Accumulator collects raw bytes for a single request until the head is
// complete. It is not safe for concurrent use; each connection owns one.
type Accumulator struct {
	buf []byte
	max int
}

// NewAccumulator creates an accumulator that rejects more than max bytes.
// A max of zero or less disables the limit.
func NewAccumulator(max int) *Accumulator {
	return &Accumulator{max: max}
}

// Write appends p. Once the total exceeds the configured maximum it returns
// ErrOversizedRequest wrapped with status 431; the bytes are still retained
// so the caller can log the size.
func (a *Accumulator) Write(p []byte) (int, error) {
	a.buf = append(a.buf, p...)
	if a.max > 0 && len(a.buf) > a.max {
		return len(p), WithStatus(http.StatusRequestHeaderFieldsTooLarge, ErrOversizedRequest)
	}
	return len(p), nil
}

// Complete reports whether the header terminator has been received.
func (a *Accumulator) Complete() bool {
	return a.HeadLen() >= 0
}

// HeadLen returns the length of the head including the terminator, or -1
// while the head is incomplete.
func (a *Accumulator) HeadLen() int {
	i := bytes.Index(a.buf, headTerminator)
	if i < 0 {
		return -1
	}
	return i + len(headTerminator)
}

// Bytes returns everything accumulated so far, including body bytes that
// arrived together with the head.
func (a *Accumulator) Bytes() []byte {
	return a.buf
}

// Len returns the number of accumulated bytes.
func (a *Accumulator) Len() int {
	return len(a.buf)
}

// Reset drops all accumulated bytes.
func (a *Accumulator) Reset() {
	a.buf = nil
}
