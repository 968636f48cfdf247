package network

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"os"
	"strconv"
	"sync"
	"time"

	"ftsession/internal/errors"
)

// DataListener is the receiving side of a data-channel rendezvous. It is
// bound before its port is announced and yields at most one connection.
type DataListener struct {
	ln   *net.TCPListener
	port int

	closeOnce sync.Once
	closeErr  error
}

// OpenDataChannel binds and listens on bindAddress ("host:port", port 0
// for an ephemeral one). The returned listener is already accepting into
// the kernel backlog, so the port may be announced right away.
func OpenDataChannel(ctx context.Context, bindAddress string) (*DataListener, error) {
	lc := net.ListenConfig{Control: reuseAddrControl}
	ln, err := lc.Listen(ctx, "tcp", bindAddress)
	if err != nil {
		return nil, errors.NewNetworkError("listen_data", bindAddress, err)
	}

	tcpLn, ok := ln.(*net.TCPListener)
	if !ok {
		ln.Close()
		return nil, errors.NewNetworkError("listen_data", bindAddress, fmt.Errorf("unexpected listener %T", ln))
	}

	return &DataListener{
		ln:   tcpLn,
		port: tcpLn.Addr().(*net.TCPAddr).Port,
	}, nil
}

// Port returns the bound port to announce
func (d *DataListener) Port() int {
	return d.port
}

// Addr returns the bound address
func (d *DataListener) Addr() net.Addr {
	return d.ln.Addr()
}

// Accept waits up to timeout for the sender's connection and closes the
// listener before returning, whatever the outcome. When expectPeer is set,
// connections from any other address are closed and the wait goes on.
// Running out of time yields an error matching errors.ErrTimeout.
func (d *DataListener) Accept(ctx context.Context, timeout time.Duration, expectPeer net.IP) (net.Conn, error) {
	defer d.Close()

	addr := d.ln.Addr().String()
	if err := d.ln.SetDeadline(time.Now().Add(timeout)); err != nil {
		return nil, errors.NewNetworkError("accept_data", addr, err)
	}

	stop := context.AfterFunc(ctx, func() {
		d.ln.SetDeadline(time.Unix(1, 0))
	})
	defer stop()

	for {
		conn, err := d.ln.AcceptTCP()
		if err != nil {
			switch {
			case ctx.Err() != nil:
				return nil, errors.NewNetworkError("accept_data", addr, ctx.Err())
			case errors.Is(err, os.ErrDeadlineExceeded):
				return nil, errors.NewNetworkError("accept_data", addr,
					fmt.Errorf("%w: no data connection within %s", errors.ErrTimeout, timeout))
			default:
				return nil, errors.NewNetworkError("accept_data", addr, err)
			}
		}

		if expectPeer != nil && !SamePeer(conn.RemoteAddr(), expectPeer) {
			slog.Warn("Rejected data connection from unexpected peer",
				"remote_addr", conn.RemoteAddr().String(),
				"expected_peer", expectPeer.String())
			conn.Close()
			continue
		}

		if err := OptimizeTCPConnection(conn); err != nil {
			slog.Warn("Failed to optimize data connection", "error", err)
		}
		return conn, nil
	}
}

// Close closes the listener once; later calls return the first result
func (d *DataListener) Close() error {
	d.closeOnce.Do(func() {
		d.closeErr = d.ln.Close()
	})
	return d.closeErr
}

// DialDataChannel is the sending side of the rendezvous: one outbound
// connection to the announced port.
func DialDataChannel(ctx context.Context, host string, port int, timeout time.Duration) (net.Conn, error) {
	address := net.JoinHostPort(host, strconv.Itoa(port))

	dialer := net.Dialer{Timeout: timeout}
	conn, err := dialer.DialContext(ctx, "tcp", address)
	if err != nil {
		return nil, errors.NewNetworkError("dial_data", address, err)
	}

	if err := OptimizeTCPConnection(conn); err != nil {
		slog.Warn("Failed to optimize data connection", "error", err)
	}
	return conn, nil
}

// Listen opens the server's control listener with address reuse, so a
// restarted server can rebind while old sessions sit in TIME_WAIT.
func Listen(ctx context.Context, address string) (net.Listener, error) {
	lc := net.ListenConfig{Control: reuseAddrControl}
	ln, err := lc.Listen(ctx, "tcp", address)
	if err != nil {
		return nil, errors.NewNetworkError("listen", address, err)
	}
	return ln, nil
}

// PeerIP extracts the IP of a TCP address, or nil
func PeerIP(addr net.Addr) net.IP {
	if tcpAddr, ok := addr.(*net.TCPAddr); ok {
		return tcpAddr.IP
	}
	host, _, err := net.SplitHostPort(addr.String())
	if err != nil {
		return nil
	}
	return net.ParseIP(host)
}

// SamePeer reports whether addr belongs to ip. IPv4 and its IPv4-mapped
// IPv6 form compare equal.
func SamePeer(addr net.Addr, ip net.IP) bool {
	peer := PeerIP(addr)
	return peer != nil && peer.Equal(ip)
}

// OptimizeTCPConnection applies TCP optimizations to a connection
func OptimizeTCPConnection(conn net.Conn) error {
	tcpConn, isTCP := conn.(*net.TCPConn)
	if !isTCP {
		return nil // Not a TCP connection, skip optimizations
	}

	// Enable keep-alive to detect dead connections
	if err := tcpConn.SetKeepAlive(true); err != nil {
		return errors.NewNetworkError("set_keepalive", conn.RemoteAddr().String(), err)
	}

	if err := tcpConn.SetKeepAlivePeriod(30 * time.Second); err != nil {
		slog.Warn("Failed to set TCP keepalive period", "error", err)
	}

	// Control lines are tiny; do not hold them back for coalescing
	if err := tcpConn.SetNoDelay(true); err != nil {
		slog.Warn("Failed to disable Nagle's algorithm", "error", err)
	}

	return nil
}
