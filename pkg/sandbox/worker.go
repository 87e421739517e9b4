package sandbox

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"os"
	"strconv"
	"time"

	"golang.org/x/sys/unix"

	"mercator-hq/callisto/pkg/httpwire"
	"mercator-hq/callisto/pkg/script"
)

// Worker exit codes.
const (
	ExitOK          = 0
	ExitScriptError = 1
	ExitProtocol    = 2
	ExitWrite       = 3
)

// WorkerOptions configures the worker side.
type WorkerOptions struct {
	// Engine runs the script.
	Engine *script.Engine

	// MaxBody bounds the request body read from the socket.
	MaxBody int64

	// BodyTimeout bounds reading the rest of the request body.
	BodyTimeout time.Duration

	Logger *slog.Logger
}

// ServeWorker runs the worker side of one job on the channel in f and
// returns the process exit code.
func ServeWorker(ctx context.Context, f *os.File, opts WorkerOptions) int {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	if opts.Engine == nil {
		opts.Engine = &script.Engine{}
	}
	if opts.MaxBody <= 0 {
		opts.MaxBody = script.DefaultMaxBody
	}

	ch, err := fileChannel(f)
	if err != nil {
		logger.Error("failed to open channel", "error", err)
		return ExitProtocol
	}
	defer ch.close()

	if err := ch.send(ReportMessage{Status: StatusReady}, -1); err != nil {
		logger.Error("failed to announce readiness", "error", err)
		return ExitProtocol
	}

	var msg RequestMessage
	fds, err := ch.recv(&msg)
	if err != nil {
		closeAll(fds)
		logger.Error("failed to receive request", "error", err)
		return ExitProtocol
	}
	if len(fds) != 1 {
		closeAll(fds)
		logger.Error("expected exactly one socket", "received", len(fds))
		return ExitProtocol
	}
	logger = logger.With("worker_id", msg.WorkerID, "file", msg.FilePath)

	conn, err := socketConn(fds[0])
	if err != nil {
		logger.Error("failed to adopt socket", "error", err)
		return ExitProtocol
	}
	defer conn.Close()

	req, method, err := buildRequest(conn, &msg, opts)
	if err != nil {
		return report(ch, logger, &script.Error{Name: "ProtocolError", Message: err.Error(), Code: "EPROTO"})
	}

	resp, err := opts.Engine.Run(ctx, msg.FilePath, req)
	if err != nil {
		var se *script.Error
		if !errors.As(err, &se) {
			se = &script.Error{Name: "Error", Message: err.Error()}
		}
		return report(ch, logger, se)
	}

	out := resp.HTTP()
	if method == "HEAD" && len(out.Body) > 0 {
		out.Set("Content-Length", strconv.Itoa(len(out.Body)))
		out.Body = nil
	}

	// Past this point the manager must not answer for the worker.
	if err := ch.send(ReportMessage{Status: StatusWriting}, -1); err != nil {
		logger.Error("failed to announce response", "error", err)
		return ExitProtocol
	}

	n, err := out.WriteTo(conn)
	if err != nil {
		logger.Debug("client went away", "error", err)
		return ExitWrite
	}

	if err := ch.send(ReportMessage{Status: StatusDone, Bytes: n}, -1); err != nil {
		logger.Debug("failed to report completion", "error", err)
	}
	return ExitOK
}

func report(ch *channel, logger *slog.Logger, se *script.Error) int {
	logger.Info("script failed", "name", se.Name, "message", se.Message)
	if err := ch.send(ReportMessage{Status: StatusError, Error: se}, -1); err != nil {
		logger.Error("failed to report error", "error", err)
	}
	return ExitScriptError
}

// buildRequest decodes the forwarded bytes and reads whatever part of the
// body has not arrived yet, exactly up to Content-Length.
func buildRequest(conn net.Conn, msg *RequestMessage, opts WorkerOptions) (*script.Request, string, error) {
	raw, err := base64.StdEncoding.DecodeString(msg.RequestBase64)
	if err != nil {
		return nil, "", fmt.Errorf("decode request: %w", err)
	}

	head, err := httpwire.ParseHead(raw, nil)
	if err != nil {
		return nil, "", err
	}
	r, err := head.Request()
	if err != nil {
		return nil, "", err
	}

	body := r.Body()
	if cl := head.Header.Get("Content-Length"); cl != "" {
		n, err := strconv.ParseInt(cl, 10, 64)
		if err != nil || n < 0 {
			return nil, "", fmt.Errorf("invalid Content-Length %q", cl)
		}
		if n > opts.MaxBody {
			return nil, "", fmt.Errorf("request body of %d bytes exceeds %d", n, opts.MaxBody)
		}
		if int64(len(body)) > n {
			body = body[:n]
		} else if missing := n - int64(len(body)); missing > 0 {
			if opts.BodyTimeout > 0 {
				conn.SetReadDeadline(time.Now().Add(opts.BodyTimeout))
				defer conn.SetReadDeadline(time.Time{})
			}
			rest := make([]byte, missing)
			if _, err := io.ReadFull(conn, rest); err != nil {
				return nil, "", fmt.Errorf("read body: %w", err)
			}
			body = append(body[:len(body):len(body)], rest...)
		}
	}

	clientIP := msg.ClientIP
	if clientIP == "" {
		clientIP = head.ClientIP
	}

	return &script.Request{
		Method:   r.Method,
		Path:     r.Path,
		Query:    r.Query,
		Headers:  r.Header,
		Body:     body,
		ClientIP: clientIP,
	}, r.Method, nil
}

func socketConn(fd int) (net.Conn, error) {
	f := os.NewFile(uintptr(fd), "client")
	defer f.Close()
	return net.FileConn(f)
}

func closeAll(fds []int) {
	for _, fd := range fds {
		unix.Close(fd)
	}
}
