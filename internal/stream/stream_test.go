package stream

import (
	"bytes"
	"context"
	"errors"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ftsession/internal/progress"
)

const (
	shortWindow = 50 * time.Millisecond
	longWindow  = 5 * time.Second
)

// tcpPair returns both ends of a loopback TCP connection
func tcpPair(t *testing.T) (client, server net.Conn) {
	t.Helper()

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer ln.Close()

	accepted := make(chan net.Conn, 1)
	go func() {
		conn, err := ln.Accept()
		if err != nil {
			close(accepted)
			return
		}
		accepted <- conn
	}()

	client, err = net.Dial("tcp", ln.Addr().String())
	require.NoError(t, err)

	server = <-accepted
	require.NotNil(t, server)

	t.Cleanup(func() {
		client.Close()
		server.Close()
	})
	return client, server
}

func TestReadUntilSenderCloses(t *testing.T) {
	const chunk = 16

	sizes := []struct {
		name string
		size int
	}{
		{"empty", 0},
		{"one byte", 1},
		{"exactly one chunk", chunk},
		{"chunk plus one", chunk + 1},
		{"several chunks", 7 * chunk},
		{"many chunks", 1000*chunk + 3},
	}

	for _, tt := range sizes {
		t.Run(tt.name, func(t *testing.T) {
			recv, send := tcpPair(t)
			payload := bytes.Repeat([]byte{0xA5, 0x01, 0x7F}, tt.size/3+1)[:tt.size]

			go func() {
				send.Write(payload)
				send.Close()
			}()

			stats := progress.NewStats("payload")
			r := Reader{ChunkSize: chunk, InitialTimeout: longWindow, MaxSilence: longWindow, Stats: stats}
			result := r.Read(context.Background(), recv)

			assert.Equal(t, StatusComplete, result.Status)
			assert.False(t, result.PossiblyIncomplete)
			assert.False(t, result.Failed())
			assert.NoError(t, result.ReadErr)
			assert.Equal(t, len(payload), len(result.Data))
			assert.True(t, bytes.Equal(payload, result.Data))
			assert.Equal(t, int64(tt.size), stats.GetTransferred())
		})
	}
}

func TestReadEndsOnQuiescence(t *testing.T) {
	recv, send := net.Pipe()
	defer recv.Close()
	defer send.Close()

	go send.Write([]byte("listing without close"))

	result := ReadUntilIdle(context.Background(), recv, longWindow, shortWindow)

	assert.Equal(t, StatusIdle, result.Status)
	assert.True(t, result.PossiblyIncomplete)
	assert.False(t, result.Failed())
	assert.Equal(t, "listing without close", string(result.Data))
	assert.Less(t, result.Duration, longWindow)
}

func TestReadTimesOutWithoutData(t *testing.T) {
	recv, send := net.Pipe()
	defer recv.Close()
	defer send.Close()

	start := time.Now()
	result := ReadUntilIdle(context.Background(), recv, shortWindow, longWindow)

	assert.Equal(t, StatusNoData, result.Status)
	assert.Equal(t, "TIMEOUT_NO_DATA", result.Status.String())
	assert.True(t, result.PossiblyIncomplete)
	assert.True(t, result.Failed())
	assert.Empty(t, result.Data)
	assert.GreaterOrEqual(t, time.Since(start), shortWindow)
}

func TestSenderPauseTruncatesPayload(t *testing.T) {
	recv, send := net.Pipe()
	defer recv.Close()

	go func() {
		send.Write([]byte("first half"))
		time.Sleep(4 * shortWindow)
		send.Write([]byte("second half"))
		send.Close()
	}()

	result := ReadUntilIdle(context.Background(), recv, longWindow, shortWindow)

	assert.Equal(t, StatusIdle, result.Status)
	assert.True(t, result.PossiblyIncomplete)
	assert.Equal(t, "first half", string(result.Data))
}

func TestReadStopsOnContextCancel(t *testing.T) {
	recv, send := net.Pipe()
	defer recv.Close()
	defer send.Close()

	ctx, cancel := context.WithCancel(context.Background())
	time.AfterFunc(shortWindow, cancel)

	result := ReadUntilIdle(ctx, recv, longWindow, longWindow)

	assert.Equal(t, StatusReadError, result.Status)
	assert.True(t, errors.Is(result.ReadErr, context.Canceled))
	assert.True(t, result.Failed())
	assert.Less(t, result.Duration, longWindow)
}

type failingConn struct {
	data []byte
	err  error
}

func (c *failingConn) Read(p []byte) (int, error) {
	if len(c.data) > 0 {
		n := copy(p, c.data)
		c.data = c.data[n:]
		return n, nil
	}
	return 0, c.err
}

func (c *failingConn) SetReadDeadline(time.Time) error { return nil }

func TestReadKeepsBytesOnAbnormalClose(t *testing.T) {
	reset := errors.New("connection reset by peer")
	conn := &failingConn{data: []byte("partial"), err: reset}

	result := ReadUntilIdle(context.Background(), conn, longWindow, longWindow)

	assert.Equal(t, StatusReadError, result.Status)
	assert.Equal(t, "partial", string(result.Data))
	assert.True(t, errors.Is(result.ReadErr, reset))
	assert.True(t, result.PossiblyIncomplete)
}

func TestStatusString(t *testing.T) {
	assert.Equal(t, "COMPLETE", StatusComplete.String())
	assert.Equal(t, "IDLE", StatusIdle.String())
	assert.Equal(t, "READ_ERROR", StatusReadError.String())
	assert.Equal(t, "Status(9)", Status(9).String())
}
