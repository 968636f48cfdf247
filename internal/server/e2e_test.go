package server_test

import (
	"bytes"
	"context"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ftsession/internal/client"
	"ftsession/internal/config"
	"ftsession/internal/errors"
	"ftsession/internal/filesystem"
	"ftsession/internal/server"
	"ftsession/internal/stream"
)

// startServer runs a real server over root and returns a matching client config
func startServer(t *testing.T, root string) *config.Config {
	t.Helper()

	scfg := config.DefaultServerConfig()
	scfg.RootDir = root
	scfg.DialTimeout = time.Second

	store, err := filesystem.NewDirStore(root)
	require.NoError(t, err)

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		done <- server.New(scfg, store).Serve(ctx, ln)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})

	ccfg := config.DefaultClientConfig()
	ccfg.ServerHost = "127.0.0.1"
	ccfg.ServerPort = ln.Addr().(*net.TCPAddr).Port
	ccfg.DataPort = 0
	ccfg.DataBindAddress = "127.0.0.1"
	ccfg.ReadChunkSize = 1024
	return ccfg
}

func TestGetByteForByte(t *testing.T) {
	const chunk = 1024
	root := t.TempDir()

	sizes := []int{0, 1, chunk - 1, chunk, chunk + 1, 64 * chunk, 3*1024*chunk + 7}
	for _, size := range sizes {
		payload := make([]byte, size)
		for i := range payload {
			payload[i] = byte(i*31 + i/chunk)
		}
		require.NoError(t, os.WriteFile(filepath.Join(root, fmt.Sprintf("file-%d.bin", size)), payload, 0644))
	}

	cfg := startServer(t, root)
	session, err := client.Dial(context.Background(), cfg)
	require.NoError(t, err)
	defer session.Close()

	for _, size := range sizes {
		name := fmt.Sprintf("file-%d.bin", size)
		t.Run(name, func(t *testing.T) {
			expected, err := os.ReadFile(filepath.Join(root, name))
			require.NoError(t, err)

			result, err := session.Get(context.Background(), name)
			require.NoError(t, err)

			assert.Equal(t, stream.StatusComplete, result.Status)
			assert.False(t, result.PossiblyIncomplete)
			assert.Equal(t, int64(size), result.Bytes)
			assert.True(t, bytes.Equal(expected, result.Data))
			digest, err := filesystem.DigestBytes(expected, filesystem.HashBLAKE2b)
			require.NoError(t, err)
			assert.Equal(t, digest, result.Digest)
		})
	}
}

func TestListMatchesDirectory(t *testing.T) {
	root := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(root, "a.txt"), []byte("abc"), 0644))
	require.NoError(t, os.WriteFile(filepath.Join(root, "b.txt"), []byte("hello"), 0644))

	store, err := filesystem.NewDirStore(root)
	require.NoError(t, err)
	expected, err := store.List(context.Background())
	require.NoError(t, err)

	cfg := startServer(t, root)
	session, err := client.Dial(context.Background(), cfg)
	require.NoError(t, err)
	defer session.Close()

	result, err := session.List(context.Background())
	require.NoError(t, err)
	assert.Equal(t, expected, string(result.Data))
	assert.Equal(t, "3\ta.txt\n5\tb.txt\n", string(result.Data))
}

func TestMissingFileThenNewSession(t *testing.T) {
	root := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(root, "a.txt"), []byte("abc"), 0644))
	cfg := startServer(t, root)

	session, err := client.Dial(context.Background(), cfg)
	require.NoError(t, err)

	_, err = session.Get(context.Background(), "missing.txt")
	require.Error(t, err)
	kind, ok := errors.KindOf(err)
	require.True(t, ok)
	assert.Equal(t, errors.KindFileNotFound, kind)
	assert.True(t, kind.Recoverable())
	require.NoError(t, session.Close())

	// The server is still healthy for the next session
	session, err = client.Dial(context.Background(), cfg)
	require.NoError(t, err)
	defer session.Close()

	result, err := session.Get(context.Background(), "a.txt")
	require.NoError(t, err)
	assert.Equal(t, "abc", string(result.Data))
}

func TestUnreachableDataListenerIsDataChannelTimeout(t *testing.T) {
	root := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(root, "a.txt"), []byte("abc"), 0644))
	cfg := startServer(t, root)

	// The server dials back to the control peer, 127.0.0.1, where nothing
	// listens on the port bound here.
	ln, err := net.Listen("tcp", "127.0.0.2:0")
	if err != nil {
		t.Skipf("127.0.0.2 not available: %v", err)
	}
	ln.Close()
	cfg.DataBindAddress = "127.0.0.2"
	cfg.AcceptTimeout = 5 * time.Second

	session, err := client.Dial(context.Background(), cfg)
	require.NoError(t, err)
	defer session.Close()

	start := time.Now()
	_, err = session.Get(context.Background(), "a.txt")
	require.Error(t, err)
	assert.True(t, errors.Is(err, errors.ErrDataChannelTimeout))
	assert.Contains(t, err.Error(), "ERROR_GENERIC")
	assert.Equal(t, client.StateFailed, session.State())
	// Released by the server's ERROR_GENERIC, not by the accept bound
	assert.Less(t, time.Since(start), cfg.AcceptTimeout)
}

func TestConcurrentSessionsDoNotCrossTalk(t *testing.T) {
	root := t.TempDir()
	const sessions = 8
	for i := 0; i < sessions; i++ {
		data := bytes.Repeat([]byte{byte('a' + i)}, 50_000+i)
		require.NoError(t, os.WriteFile(filepath.Join(root, fmt.Sprintf("f%d", i)), data, 0644))
	}
	cfg := startServer(t, root)

	var wg sync.WaitGroup
	for i := 0; i < sessions; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()

			session, err := client.Dial(context.Background(), cfg)
			if !assert.NoError(t, err) {
				return
			}
			defer session.Close()

			result, err := session.Get(context.Background(), fmt.Sprintf("f%d", i))
			if !assert.NoError(t, err) {
				return
			}
			assert.Equal(t, bytes.Repeat([]byte{byte('a' + i)}, 50_000+i), result.Data)
		}(i)
	}
	wg.Wait()
}
