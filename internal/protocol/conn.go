package protocol

import (
	"bufio"
	"context"
	"io"
	"net"
	"strings"
	"sync"
	"time"

	"ftsession/internal/config"
	"ftsession/internal/errors"
)

// ControlConn frames the control channel as newline-terminated lines.
// It is used by one goroutine at a time; only Close may be called
// concurrently.
type ControlConn struct {
	conn         net.Conn
	reader       *bufio.Reader
	writer       *bufio.Writer
	writeTimeout time.Duration

	closeOnce sync.Once
	closeErr  error
}

// NewControlConn wraps conn. A positive writeTimeout bounds every write.
func NewControlConn(conn net.Conn, writeTimeout time.Duration) *ControlConn {
	return &ControlConn{
		conn:         conn,
		reader:       bufio.NewReaderSize(conn, config.MaxControlLineLength),
		writer:       bufio.NewWriterSize(conn, config.MaxControlLineLength),
		writeTimeout: writeTimeout,
	}
}

// RemoteAddr returns the peer address of the control connection
func (c *ControlConn) RemoteAddr() net.Addr {
	return c.conn.RemoteAddr()
}

// LocalAddr returns the local address of the control connection
func (c *ControlConn) LocalAddr() net.Addr {
	return c.conn.LocalAddr()
}

// ReadLine reads one line without its terminator. A zero timeout waits
// until ctx ends. Peer close surfaces as an error wrapping io.EOF, and an
// expired timeout as one wrapping os.ErrDeadlineExceeded.
func (c *ControlConn) ReadLine(ctx context.Context, timeout time.Duration) (string, error) {
	addr := c.conn.RemoteAddr().String()

	deadline := time.Time{}
	if timeout > 0 {
		deadline = time.Now().Add(timeout)
	}
	if err := c.conn.SetReadDeadline(deadline); err != nil {
		return "", errors.NewNetworkError("set_deadline", addr, err)
	}

	stop := context.AfterFunc(ctx, func() {
		c.conn.SetReadDeadline(time.Unix(1, 0))
	})
	defer stop()

	raw, err := c.reader.ReadSlice('\n')
	if err != nil {
		switch {
		case ctx.Err() != nil:
			return "", errors.NewNetworkError("read_line", addr, ctx.Err())
		case err == bufio.ErrBufferFull:
			return "", errors.NewProtocolError("read_line", "line too long", err)
		case err == io.EOF && len(raw) > 0:
			return "", errors.NewProtocolError("read_line", "unterminated line", io.ErrUnexpectedEOF)
		default:
			return "", errors.NewNetworkError("read_line", addr, err)
		}
	}

	line := strings.TrimRight(string(raw), "\r\n")
	return line, nil
}

// WriteLine sends one line and flushes it
func (c *ControlConn) WriteLine(line string) error {
	if strings.ContainsAny(line, "\r\n") {
		return errors.NewProtocolError("write_line", "line contains a line break", nil)
	}
	if len(line)+1 > config.MaxControlLineLength {
		return errors.NewProtocolError("write_line", "line too long", nil)
	}

	addr := c.conn.RemoteAddr().String()
	if c.writeTimeout > 0 {
		if err := c.conn.SetWriteDeadline(time.Now().Add(c.writeTimeout)); err != nil {
			return errors.NewNetworkError("set_deadline", addr, err)
		}
	}

	if _, err := c.writer.WriteString(line + "\n"); err != nil {
		return errors.NewNetworkError("write_line", addr, err)
	}
	if err := c.writer.Flush(); err != nil {
		return errors.NewNetworkError("flush", addr, err)
	}
	return nil
}

// SendGreeting opens the session from the server side
func (c *ControlConn) SendGreeting() error {
	return c.WriteLine(Greeting)
}

// ExpectGreeting requires the exact greeting as the first line
func (c *ControlConn) ExpectGreeting(ctx context.Context, timeout time.Duration) error {
	line, err := c.ReadLine(ctx, timeout)
	if err != nil {
		return errors.NewProtocolError("handshake", "no greeting", err)
	}
	if line != Greeting {
		return errors.NewProtocolError("handshake", "unexpected greeting "+quote(line), nil)
	}
	return nil
}

// SendRequest writes a client request
func (c *ControlConn) SendRequest(req Request) error {
	return c.WriteLine(req.String())
}

// SendResponse writes a server status line
func (c *ControlConn) SendResponse(resp Response) error {
	return c.WriteLine(string(resp))
}

// ReadRequest reads and parses a client line. A line that arrives intact
// but does not parse yields an error matching errors.ErrMalformedRequest;
// any other error means the connection is no longer usable.
func (c *ControlConn) ReadRequest(ctx context.Context, timeout time.Duration) (Request, error) {
	line, err := c.ReadLine(ctx, timeout)
	if err != nil {
		return Request{}, err
	}
	return ParseRequest(line)
}

// ReadResponse reads and parses a server status line
func (c *ControlConn) ReadResponse(ctx context.Context, timeout time.Duration) (Response, error) {
	line, err := c.ReadLine(ctx, timeout)
	if err != nil {
		return "", err
	}
	return ParseResponse(line)
}

// Close closes the connection once; later calls return the first result
func (c *ControlConn) Close() error {
	c.closeOnce.Do(func() {
		c.closeErr = c.conn.Close()
	})
	return c.closeErr
}

func quote(s string) string {
	const maxShown = 32
	if len(s) > maxShown {
		s = s[:maxShown] + "..."
	}
	return "\"" + s + "\""
}
