package network

import (
	"context"
	"io"
	"net"
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ftsession/internal/errors"
)

var loopback = net.ParseIP("127.0.0.1")

func TestOpenDataChannelAcceptsOnce(t *testing.T) {
	dl, err := OpenDataChannel(context.Background(), "127.0.0.1:0")
	require.NoError(t, err)
	require.NotZero(t, dl.Port())

	// Sender connects before Accept is called; the backlog holds it
	sender, err := DialDataChannel(context.Background(), "127.0.0.1", dl.Port(), time.Second)
	require.NoError(t, err)
	defer sender.Close()

	conn, err := dl.Accept(context.Background(), time.Second, loopback)
	require.NoError(t, err)
	defer conn.Close()

	_, err = sender.Write([]byte("payload"))
	require.NoError(t, err)
	sender.Close()

	data, err := io.ReadAll(conn)
	require.NoError(t, err)
	assert.Equal(t, "payload", string(data))

	// The listener is gone after the single accept
	_, err = net.DialTimeout("tcp", net.JoinHostPort("127.0.0.1", strconv.Itoa(dl.Port())), 200*time.Millisecond)
	assert.Error(t, err)
	assert.NoError(t, dl.Close())
}

func TestAcceptTimesOut(t *testing.T) {
	dl, err := OpenDataChannel(context.Background(), "127.0.0.1:0")
	require.NoError(t, err)

	start := time.Now()
	_, err = dl.Accept(context.Background(), 50*time.Millisecond, nil)
	require.Error(t, err)
	assert.True(t, errors.Is(err, errors.ErrTimeout))
	assert.True(t, errors.Is(err, errors.ErrNetwork))
	assert.GreaterOrEqual(t, time.Since(start), 50*time.Millisecond)

	_, err = net.DialTimeout("tcp", dl.Addr().String(), 200*time.Millisecond)
	assert.Error(t, err)
}

func TestAcceptStopsOnContextCancel(t *testing.T) {
	dl, err := OpenDataChannel(context.Background(), "127.0.0.1:0")
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	time.AfterFunc(20*time.Millisecond, cancel)

	_, err = dl.Accept(ctx, 5*time.Second, nil)
	require.Error(t, err)
	assert.True(t, errors.Is(err, context.Canceled))
}

func TestAcceptRejectsUnexpectedPeer(t *testing.T) {
	dl, err := OpenDataChannel(context.Background(), "127.0.0.1:0")
	require.NoError(t, err)

	conn, err := net.Dial("tcp", dl.Addr().String())
	require.NoError(t, err)
	defer conn.Close()

	_, err = dl.Accept(context.Background(), 100*time.Millisecond, net.ParseIP("192.0.2.10"))
	require.Error(t, err)
	assert.True(t, errors.Is(err, errors.ErrTimeout))

	// The rejected connection was closed by the listener side
	conn.SetReadDeadline(time.Now().Add(time.Second))
	_, err = conn.Read(make([]byte, 1))
	assert.Error(t, err)
}

func TestAcceptSkipsForeignPeerThenTakesExpected(t *testing.T) {
	dl, err := OpenDataChannel(context.Background(), "127.0.0.1:0")
	require.NoError(t, err)

	foreign := net.Dialer{LocalAddr: &net.TCPAddr{IP: net.ParseIP("127.0.0.2")}}
	intruder, err := foreign.Dial("tcp", dl.Addr().String())
	if err != nil {
		dl.Close()
		t.Skip("127.0.0.2 is not routable on this host")
	}
	defer intruder.Close()

	sender, err := DialDataChannel(context.Background(), "127.0.0.1", dl.Port(), time.Second)
	require.NoError(t, err)
	defer sender.Close()

	conn, err := dl.Accept(context.Background(), time.Second, loopback)
	require.NoError(t, err)
	defer conn.Close()

	assert.True(t, SamePeer(conn.RemoteAddr(), loopback))
	assert.Equal(t, sender.LocalAddr().String(), conn.RemoteAddr().String())
}

func TestDialDataChannelRefused(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	port := ln.Addr().(*net.TCPAddr).Port
	ln.Close()

	_, err = DialDataChannel(context.Background(), "127.0.0.1", port, 200*time.Millisecond)
	require.Error(t, err)
	assert.True(t, errors.Is(err, errors.ErrNetwork))
	assert.Contains(t, err.Error(), "dial_data")
}

func TestListenRebindsSamePort(t *testing.T) {
	ln, err := Listen(context.Background(), "127.0.0.1:0")
	require.NoError(t, err)
	addr := ln.Addr().String()

	// Leave a connection behind so the port has history
	go func() {
		if c, err := ln.Accept(); err == nil {
			c.Close()
		}
	}()
	c, err := net.Dial("tcp", addr)
	require.NoError(t, err)
	io.Copy(io.Discard, c)
	c.Close()
	require.NoError(t, ln.Close())

	ln2, err := Listen(context.Background(), addr)
	require.NoError(t, err)
	assert.NoError(t, ln2.Close())
}

func TestSamePeer(t *testing.T) {
	v4 := &net.TCPAddr{IP: net.ParseIP("10.0.0.1"), Port: 1}
	mapped := &net.TCPAddr{IP: net.ParseIP("::ffff:10.0.0.1"), Port: 2}

	assert.True(t, SamePeer(v4, net.ParseIP("10.0.0.1")))
	assert.True(t, SamePeer(mapped, net.ParseIP("10.0.0.1")))
	assert.False(t, SamePeer(v4, net.ParseIP("10.0.0.2")))

	assert.Equal(t, "10.0.0.1", PeerIP(v4).String())
	assert.Nil(t, PeerIP(&net.UnixAddr{Name: "sock", Net: "unix"}))
}

func TestOptimizeTCPConnectionSkipsNonTCP(t *testing.T) {
	a, b := net.Pipe()
	defer a.Close()
	defer b.Close()

	assert.NoError(t, OptimizeTCPConnection(a))
}
