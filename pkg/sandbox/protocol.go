package sandbox

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"syscall"

	"golang.org/x/sys/unix"

	"mercator-hq/callisto/pkg/script"
)

// ChannelFD is the descriptor number the worker finds its channel on.
const ChannelFD = 3

// Message statuses sent by the worker.
const (
	StatusReady   = "ready"
	StatusWriting = "writing"
	StatusError   = "Error"
	StatusDone    = "Done"
)

// maxMessageSize bounds a single channel message.
const maxMessageSize = 64 << 20

// RequestMessage is the one message a worker receives. The client socket
// travels with it as an SCM_RIGHTS attachment.
type RequestMessage struct {
	WorkerID      string `json:"workerId"`
	RequestBase64 string `json:"requestBase64"`
	FilePath      string `json:"filePath"`
	ClientIP      string `json:"clientIp"`
}

// ReportMessage is what a worker sends back: first ready, then either
// Error, or writing followed by Done once the answer is on the socket.
type ReportMessage struct {
	Status string        `json:"status"`
	Error  *script.Error `json:"error,omitempty"`
	Bytes  int64         `json:"bytes,omitempty"`
}

// channel is a newline delimited JSON stream over a unix socket that can
// carry file descriptors.
type channel struct {
	conn *net.UnixConn
	buf  []byte
	fds  []int
}

// newPair creates a connected channel for the parent and the file to hand to
// the worker as ChannelFD.
func newPair() (*channel, *os.File, error) {
	fds, err := unix.Socketpair(unix.AF_UNIX, unix.SOCK_STREAM, 0)
	if err != nil {
		return nil, nil, fmt.Errorf("socketpair: %w", err)
	}
	unix.CloseOnExec(fds[0])
	unix.CloseOnExec(fds[1])

	parent, err := fileChannel(os.NewFile(uintptr(fds[0]), "sandbox-parent"))
	if err != nil {
		unix.Close(fds[1])
		return nil, nil, err
	}
	return parent, os.NewFile(uintptr(fds[1]), "sandbox-child"), nil
}

// fileChannel wraps f, which is closed; the channel owns a duplicate.
func fileChannel(f *os.File) (*channel, error) {
	defer f.Close()

	c, err := net.FileConn(f)
	if err != nil {
		return nil, fmt.Errorf("channel: %w", err)
	}
	uc, ok := c.(*net.UnixConn)
	if !ok {
		c.Close()
		return nil, fmt.Errorf("channel: %T is not a unix socket", c)
	}
	return &channel{conn: uc}, nil
}

// send writes v as one line. A non-negative fd is attached to the first
// bytes of the message.
func (c *channel) send(v any, fd int) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	data = append(data, '\n')

	if fd < 0 {
		_, err = c.conn.Write(data)
		return err
	}

	n, _, err := c.conn.WriteMsgUnix(data, unix.UnixRights(fd), nil)
	if err != nil {
		return err
	}
	if n < len(data) {
		_, err = c.conn.Write(data[n:])
	}
	return err
}

// recv reads the next line into v. Descriptors received since the previous
// call are returned and become owned by the caller.
func (c *channel) recv(v any) ([]int, error) {
	chunk := make([]byte, 64<<10)
	oob := make([]byte, unix.CmsgSpace(4*4))

	for {
		if i := bytes.IndexByte(c.buf, '\n'); i >= 0 {
			line := c.buf[:i]
			c.buf = c.buf[i+1:]
			fds := c.fds
			c.fds = nil
			if err := json.Unmarshal(line, v); err != nil {
				return fds, fmt.Errorf("decode message: %w", err)
			}
			return fds, nil
		}
		if len(c.buf) > maxMessageSize {
			return nil, errors.New("channel message too large")
		}

		n, oobn, _, _, err := c.conn.ReadMsgUnix(chunk, oob)
		if oobn > 0 {
			c.fds = append(c.fds, parseRights(oob[:oobn])...)
		}
		c.buf = append(c.buf, chunk[:n]...)
		if err != nil {
			return nil, err
		}
		if n == 0 && oobn == 0 {
			return nil, io.EOF
		}
	}
}

func (c *channel) close() error {
	for _, fd := range c.fds {
		unix.Close(fd)
	}
	c.fds = nil
	return c.conn.Close()
}

func parseRights(oob []byte) []int {
	msgs, err := unix.ParseSocketControlMessage(oob)
	if err != nil {
		return nil
	}
	var fds []int
	for i := range msgs {
		rights, err := unix.ParseUnixRights(&msgs[i])
		if err != nil {
			continue
		}
		fds = append(fds, rights...)
	}
	return fds
}

// sendConn sends v with the descriptor of conn attached. The parent keeps
// its own descriptor open.
func (c *channel) sendConn(v any, conn net.Conn) error {
	sc, ok := conn.(syscall.Conn)
	if !ok {
		return fmt.Errorf("connection %T cannot pass its descriptor", conn)
	}
	raw, err := sc.SyscallConn()
	if err != nil {
		return err
	}

	var sendErr error
	if err := raw.Control(func(fd uintptr) {
		sendErr = c.send(v, int(fd))
	}); err != nil {
		return err
	}
	return sendErr
}
