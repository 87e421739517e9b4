package server

import (
	"context"
	"errors"
	"io"
	"net"
	"os"
	"path/filepath"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"mercator-hq/callisto/pkg/dispatch"
	"mercator-hq/callisto/pkg/httpwire"
	"mercator-hq/callisto/pkg/journal"
	"mercator-hq/callisto/pkg/limits/ratelimit"
	"mercator-hq/callisto/pkg/telemetry/logging"
	"mercator-hq/callisto/pkg/telemetry/tracing"
)

const readBufferSize = 32 << 10

// conn is one accepted socket. It is owned by its serve goroutine; only
// state is read from other goroutines.
type conn struct {
	srv      *Server
	nc       net.Conn
	id       string
	acc      *httpwire.Accumulator
	state    atomic.Int32
	requests int
}

// exchange collects what is known about one request as it moves through
// the pipeline. It becomes the journal entry.
type exchange struct {
	journal.Entry
}

func (s *Server) newConn(nc net.Conn) *conn {
	c := &conn{
		srv: s,
		nc:  nc,
		id:  uuid.NewString(),
		acc: httpwire.NewAccumulator(s.config.MaxPacketSize),
	}
	c.state.Store(int32(StateIdle))
	return c
}

func (c *conn) getState() State {
	return State(c.state.Load())
}

func (c *conn) setState(to State) {
	from := State(c.state.Swap(int32(to)))
	if from == to {
		return
	}
	if !canTransition(from, to) {
		c.srv.logger.Warn("unexpected connection state transition",
			"connection_id", c.id,
			"from", from.String(),
			"to", to.String(),
		)
	}
	if c.srv.onTransition != nil {
		c.srv.onTransition(c, from, to)
	}
}

// serve runs request cycles until the connection cannot be reused.
func (c *conn) serve(ctx context.Context) {
	ctx = logging.WithConnectionID(ctx, c.id)
	c.srv.metrics.ConnectionOpened()

	defer func() {
		if r := recover(); r != nil {
			c.srv.logger.ErrorContext(ctx, "panic serving connection", "panic", r)
		}
		c.close()
	}()

	buf := make([]byte, readBufferSize)
	for {
		if c.srv.closing.Load() {
			return
		}
		if !c.readRequest(ctx, buf) {
			return
		}
		if !c.handle(ctx) || c.srv.closing.Load() {
			return
		}
		c.reuse()
	}
}

// readRequest reads until the accumulator holds a complete head. It
// answers 431 itself and returns false when the connection is done.
func (c *conn) readRequest(ctx context.Context, buf []byte) bool {
	if t := c.srv.config.ReadTimeout; t > 0 {
		c.nc.SetReadDeadline(time.Now().Add(t))
	}

	for {
		n, err := c.nc.Read(buf)
		if n > 0 {
			if c.getState() == StateIdle {
				c.setState(StateReading)
			}
			if _, werr := c.acc.Write(buf[:n]); werr != nil {
				c.requests++
				c.reject(ctx, werr)
				return false
			}
			if c.acc.Complete() {
				return true
			}
		}
		if err != nil {
			c.logReadError(ctx, err)
			return false
		}
	}
}

func (c *conn) logReadError(ctx context.Context, err error) {
	var ne net.Error
	switch {
	case errors.Is(err, io.EOF), errors.Is(err, net.ErrClosed):
	case errors.As(err, &ne) && ne.Timeout():
		c.srv.logger.DebugContext(ctx, "read timeout", "state", c.getState().String(), "buffered", c.acc.Len())
	default:
		c.srv.logger.DebugContext(ctx, "read failed", "error", err)
	}
}

// reject answers a request that never got a parsed head.
func (c *conn) reject(ctx context.Context, err error) {
	start := time.Now()
	ex := &exchange{Entry: journal.Entry{
		ID:           uuid.NewString(),
		ConnectionID: c.id,
		Sequence:     c.requests,
		Time:         start,
		ClientID:     c.peerHost(),
		Admission:    ratelimit.Allowed.String(),
		Kind:         dispatch.KindStatus.String(),
	}}
	c.setState(StateResponding)
	c.respondStatus(ex, httpwire.StatusOf(err))
	c.srv.logger.InfoContext(ctx, "request rejected", "error", err, "status", ex.Status, "buffered", c.acc.Len())
	c.finish(ctx, nil, ex, start)
}

// handle answers the buffered request and reports whether the connection
// may be reused.
func (c *conn) handle(ctx context.Context) bool {
	start := time.Now()
	c.requests++
	c.setState(StateDispatching)

	raw := c.acc.Bytes()
	head, err := httpwire.ParseHead(raw, c.nc.RemoteAddr())
	if err != nil {
		c.reject(ctx, err)
		return false
	}

	ex := &exchange{Entry: journal.Entry{
		ID:           uuid.NewString(),
		ConnectionID: c.id,
		Sequence:     c.requests,
		Time:         start,
		ClientID:     head.ClientIP,
		Admission:    ratelimit.Allowed.String(),
		Kind:         dispatch.KindStatus.String(),
	}}

	ctx = tracing.Extract(ctx, head.Header)
	ctx, span := c.srv.tracer.Start(ctx, "request", trace.WithSpanKind(trace.SpanKindServer))
	ctx = logging.WithRequestID(ctx, ex.ID)
	ctx = logging.WithClient(ctx, head.ClientIP)
	defer c.finish(ctx, span, ex, start)

	if res, ok := c.admit(head.ClientIP, start); !ok {
		ex.Admission = res.Decision.String()
		header := []httpwire.Field{{Key: "Retry-After", Value: strconv.Itoa(retryAfterSeconds(res.RetryAfter))}}
		c.setState(StateResponding)
		c.respondStatus(ex, 429, header...)
		return false
	}

	req, err := head.Request()
	if err != nil {
		c.setState(StateResponding)
		c.respondStatus(ex, httpwire.StatusOf(err))
		return false
	}
	ex.Method = req.Method
	ex.Path = req.Path
	tracing.SetRequestAttributes(span, req.Method, req.Path, req.ClientIP)

	evalStart := time.Now()
	verdict := c.srv.engine.Evaluate(req.Path)
	if verdict.Rule != nil {
		ex.RuleAction = string(verdict.Rule.Action)
		ex.RuleRoot = verdict.Rule.Root
		ex.RuleToken = verdict.Token
		tracing.SetRuleAttributes(span, ex.RuleAction, ex.RuleRoot, ex.RuleToken)
	}
	c.srv.metrics.RecordVerdict(ex.RuleAction, ex.RuleRoot, time.Since(evalStart))

	target := c.srv.resolver.Resolve(verdict, req)
	ex.Kind = target.Kind.String()
	if target.File != "" {
		ex.Target = c.relative(target.File)
	}

	switch target.Kind {
	case dispatch.KindRedirect:
		c.setState(StateResponding)
		ok := c.respond(ex, httpwire.Status(target.Status, "",
			httpwire.Field{Key: "Location", Value: target.Location},
			httpwire.Field{Key: "Content-Length", Value: "0"},
		))
		return ok && c.discardBody(ctx, req)

	case dispatch.KindStatic:
		c.setState(StateResponding)
		if !c.serveStatic(ctx, ex, req, target) {
			return false
		}
		return c.discardBody(ctx, req)

	case dispatch.KindScript:
		if c.srv.executor == nil {
			c.srv.logger.ErrorContext(ctx, "script requested but no sandbox is configured", "file", ex.Target)
			c.setState(StateResponding)
			c.respondStatus(ex, 500)
			return false
		}

		c.setState(StateAwaitingSandbox)
		out := c.srv.executor.Execute(ctx, head.ClientIP, target.File, c.nc, raw)
		ex.Status = out.Status
		ex.WorkerID = out.Job.WorkerID
		ex.WorkerExit = out.ExitCode
		if out.Err != nil {
			ex.Error = out.Err.Error()
		}
		c.srv.metrics.RecordSandboxJob(out.State.String(), out.Duration)
		return out.Reusable

	default:
		c.setState(StateResponding)
		c.respondStatus(ex, target.Status)
		return false
	}
}

func (c *conn) admit(clientID string, now time.Time) (ratelimit.Result, bool) {
	if c.srv.admitter == nil {
		return ratelimit.Result{Decision: ratelimit.Allowed}, true
	}

	res := c.srv.admitter.Admit(clientID, now)
	c.srv.metrics.RecordAdmission(res.Decision.String(), res.NewBan)
	if res.NewBan {
		c.srv.logger.Warn("client banned",
			"client", clientID,
			"requests", res.Count,
			"until", res.BannedUntil,
		)
	}
	return res, res.Decision != ratelimit.Banned
}

// respondStatus writes a bare status response that ends the connection.
func (c *conn) respondStatus(ex *exchange, status int, header ...httpwire.Field) {
	header = append(header, httpwire.Field{Key: "Connection", Value: "close"})
	c.respond(ex, httpwire.Status(status, "", header...))
}

// respond writes resp and reports whether the write succeeded.
func (c *conn) respond(ex *exchange, resp *httpwire.Response) bool {
	ex.Status, _ = httpwire.StatusText(resp.Status)
	n, err := resp.WriteTo(c.nc)
	ex.Bytes += n
	if err != nil {
		c.srv.logger.Debug("failed to write response", "connection_id", c.id, "status", ex.Status, "error", err)
		return false
	}
	return true
}

// serveStatic streams target in ChunkSize pieces. A failure before the
// head is written is answered with 500. It reports whether the full
// response was written.
func (c *conn) serveStatic(ctx context.Context, ex *exchange, req *httpwire.Request, target dispatch.Target) bool {
	f, err := os.Open(target.File)
	if err != nil {
		c.srv.logger.ErrorContext(ctx, "failed to open static file", "file", ex.Target, "error", err)
		c.respondStatus(ex, 500)
		return false
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		c.srv.logger.ErrorContext(ctx, "failed to stat static file", "file", ex.Target, "error", err)
		c.respondStatus(ex, 500)
		return false
	}

	ex.Status = 200
	cw := &countingWriter{w: c.nc}
	defer func() { ex.Bytes += cw.n }()

	err = httpwire.WriteHead(cw, 200, []httpwire.Field{
		{Key: "Content-Type", Value: httpwire.ContentType(target.File)},
		{Key: "Content-Length", Value: strconv.FormatInt(info.Size(), 10)},
	})
	if err != nil {
		return false
	}
	if req.Method == "HEAD" {
		return true
	}

	chunk := c.srv.config.ChunkSize
	if chunk <= 0 {
		chunk = 1 << 20
	}
	buf := make([]byte, chunk)

	var sent int64
	for {
		n, rerr := f.Read(buf)
		if n > 0 {
			if _, werr := cw.Write(buf[:n]); werr != nil {
				return false
			}
			sent += int64(n)
		}
		if rerr == io.EOF {
			break
		}
		if rerr != nil {
			c.srv.logger.WarnContext(ctx, "static stream aborted", "file", ex.Target, "sent", sent, "error", rerr)
			return false
		}
	}

	if sent != info.Size() {
		c.srv.logger.WarnContext(ctx, "static file changed while streaming", "file", ex.Target, "sent", sent, "size", info.Size())
		return false
	}
	return true
}

// discardBody drains request body bytes that are still on the socket so
// the next request starts clean. Bytes beyond Content-Length that were
// already buffered are dropped with the accumulator.
func (c *conn) discardBody(ctx context.Context, req *httpwire.Request) bool {
	cl := req.Header.Get("Content-Length")
	if cl == "" {
		return true
	}
	length, err := strconv.ParseInt(cl, 10, 64)
	if err != nil || length < 0 {
		return false
	}

	remaining := length - int64(len(req.Body()))
	if remaining <= 0 {
		return true
	}
	if remaining > int64(c.srv.config.MaxPacketSize) {
		c.srv.logger.DebugContext(ctx, "unread body too large to discard", "remaining", remaining)
		return false
	}

	if t := c.srv.config.ReadTimeout; t > 0 {
		c.nc.SetReadDeadline(time.Now().Add(t))
	}
	_, err = io.CopyN(io.Discard, c.nc, remaining)
	return err == nil
}

// reuse returns the connection to StateIdle with no trace of the previous
// request.
func (c *conn) reuse() {
	c.nc.SetDeadline(time.Time{})
	c.acc.Reset()
	c.setState(StateIdle)
}

func (c *conn) close() {
	c.setState(StateClosed)
	c.nc.Close()
	c.srv.metrics.ConnectionClosed(c.requests)
	c.srv.untrack(c)
}

// finish records the exchange in metrics, the span, the journal and the log.
func (c *conn) finish(ctx context.Context, span trace.Span, ex *exchange, start time.Time) {
	ex.Duration = time.Since(start)

	c.srv.metrics.RecordRequest(ex.Kind, ex.Status, ex.Duration, ex.Bytes)

	if span != nil {
		tracing.SetResponseAttributes(span, ex.Kind, ex.Status)
		if ex.Status >= 500 {
			span.SetStatus(codes.Error, strconv.Itoa(ex.Status))
		}
		span.End()
	}

	if c.srv.journal != nil {
		if err := c.srv.journal.Record(ctx, &ex.Entry); err != nil {
			c.srv.logger.DebugContext(ctx, "journal entry dropped", "error", err)
		}
	}

	c.srv.logger.DebugContext(ctx, "request answered",
		"sequence", ex.Sequence,
		"method", ex.Method,
		"path", ex.Path,
		"kind", ex.Kind,
		"status", ex.Status,
		"rule_action", ex.RuleAction,
		"bytes", ex.Bytes,
		"duration_ms", ex.Duration.Milliseconds(),
	)
}

func (c *conn) peerHost() string {
	addr := c.nc.RemoteAddr()
	if addr == nil {
		return ""
	}
	host, _, err := net.SplitHostPort(addr.String())
	if err != nil {
		return addr.String()
	}
	return host
}

func (c *conn) relative(file string) string {
	rel, err := filepath.Rel(c.srv.config.Root, file)
	if err != nil {
		return file
	}
	return filepath.ToSlash(rel)
}

func retryAfterSeconds(d time.Duration) int {
	secs := int((d + time.Second - 1) / time.Second)
	if secs < 1 {
		secs = 1
	}
	return secs
}

type countingWriter struct {
	w io.Writer
	n int64
}

func (cw *countingWriter) Write(p []byte) (int, error) {
	n, err := cw.w.Write(p)
	cw.n += int64(n)
	return n, err
}
