package server

import (
	"context"
	"encoding/hex"
	"io"
	"io/fs"
	"log/slog"
	"net"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"ftsession/internal/config"
	"ftsession/internal/errors"
	"ftsession/internal/filesystem"
	"ftsession/internal/logging"
	"ftsession/internal/network"
	"ftsession/internal/protocol"
	"ftsession/internal/stream"
)

// Run starts the server with the given configuration
func Run(ctx context.Context, cfg *config.Config) error {
	slog.Info("Starting server", "address", cfg.ListenAddress, "root", cfg.RootDir)

	store, err := filesystem.NewDirStore(cfg.RootDir)
	if err != nil {
		return err
	}

	listener, err := network.Listen(ctx, cfg.ListenAddress)
	if err != nil {
		return err
	}

	return New(cfg, store).Serve(ctx, listener)
}

// Server answers control sessions, one goroutine per connection
type Server struct {
	cfg   *config.Config
	store filesystem.Store
	wg    sync.WaitGroup
}

// New creates a server that serves payloads from store
func New(cfg *config.Config, store filesystem.Store) *Server {
	return &Server{cfg: cfg, store: store}
}

// Serve accepts connections until ctx ends, then waits for open sessions
// to wind down. The listener is closed on return.
func (s *Server) Serve(ctx context.Context, listener net.Listener) error {
	stop := context.AfterFunc(ctx, func() {
		listener.Close()
	})
	defer stop()
	defer s.wg.Wait()
	defer listener.Close()

	slog.Info("Server ready to accept connections", "address", listener.Addr().String())

	for {
		conn, err := listener.Accept()
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, net.ErrClosed) {
				slog.Info("Server stopped accepting connections")
				return nil
			}
			slog.Error("Failed to accept connection", "error", err)
			continue
		}

		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			s.handleConnection(ctx, conn)
		}()
	}
}

// session is the per-connection state. The data port is good for one
// LIST or GET and is cleared afterwards.
type session struct {
	id       string
	control  *protocol.ControlConn
	peer     net.IP
	dataPort int
}

// handleConnection handles a single client connection
func (s *Server) handleConnection(ctx context.Context, conn net.Conn) {
	if err := network.OptimizeTCPConnection(conn); err != nil {
		slog.Warn("Failed to optimize TCP connection", "error", err)
	}

	sess := &session{
		id:      uuid.NewString(),
		control: protocol.NewControlConn(conn, s.cfg.DialTimeout),
		peer:    network.PeerIP(conn.RemoteAddr()),
	}
	defer sess.control.Close()

	started := time.Now()
	state, reason := "DONE", "client exit"
	logging.LogSessionStart("server", sess.id, conn.RemoteAddr().String())
	defer func() {
		logging.LogSessionEnd("server", sess.id, state, reason, time.Since(started))
	}()

	if err := sess.control.SendGreeting(); err != nil {
		logging.LogError(err, "send greeting")
		state, reason = "FAILED", "greeting failed"
		return
	}

	for {
		req, err := sess.control.ReadRequest(ctx, s.cfg.IdleTimeout)
		if errors.Is(err, errors.ErrMalformedRequest) {
			slog.Warn("Rejected request", "session_id", sess.id, "error", err)
			if err := sess.control.SendResponse(protocol.ResponseGeneric); err != nil {
				state, reason = "FAILED", "write error"
				return
			}
			continue
		}
		if err != nil {
			state = "FAILED"
			switch {
			case ctx.Err() != nil:
				reason = "shutdown"
			case errors.Is(err, io.EOF):
				state, reason = "DONE", "client closed"
			case errors.Is(err, os.ErrDeadlineExceeded):
				reason = "idle timeout"
			case errors.Is(err, errors.ErrProtocol):
				// Framing is lost, the rest of the stream cannot be trusted
				logging.LogError(err, "read request")
				sess.control.SendResponse(protocol.ResponseGeneric)
				reason = "protocol error"
			default:
				logging.LogError(err, "read request")
				reason = "read error"
			}
			return
		}

		slog.Debug("Request received", "session_id", sess.id, "request", req.String())

		switch req.Verb {
		case protocol.VerbExit:
			return

		case protocol.VerbDataPort:
			sess.dataPort = req.Port
			if err := sess.control.SendResponse(protocol.ResponseOK); err != nil {
				state, reason = "FAILED", "write error"
				return
			}

		case protocol.VerbList, protocol.VerbGet:
			if err := s.serveCommand(ctx, sess, req); err != nil {
				logging.LogError(err, "send response")
				state, reason = "FAILED", "write error"
				return
			}
		}
	}
}

// serveCommand answers LIST or GET. OK goes out before the dial so the
// client is already waiting on its accept; if the dial then fails an
// ERROR_GENERIC follows to release it. A returned error means the control
// connection is unusable.
func (s *Server) serveCommand(ctx context.Context, sess *session, req protocol.Request) error {
	port := sess.dataPort
	sess.dataPort = 0

	if port == 0 {
		slog.Warn("Command without an announced data port", "session_id", sess.id, "request", req.String())
		return sess.control.SendResponse(protocol.ResponseGeneric)
	}

	payload, size, err := s.open(ctx, req)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			slog.Info("Requested file not found", "session_id", sess.id, "file", req.Filename)
			return sess.control.SendResponse(protocol.ResponseFileNotFound)
		}
		logging.LogError(err, "open payload")
		return sess.control.SendResponse(protocol.ResponseGeneric)
	}
	defer payload.Close()

	hasher, err := filesystem.NewHasher(filesystem.HashAlgorithm(s.cfg.DigestAlgorithm))
	if err != nil {
		logging.LogError(err, "select digest")
		return sess.control.SendResponse(protocol.ResponseGeneric)
	}

	if err := sess.control.SendResponse(protocol.ResponseOK); err != nil {
		return err
	}

	dataConn, err := network.DialDataChannel(ctx, sess.peer.String(), port, s.cfg.DialTimeout)
	if err != nil {
		logging.LogError(err, "dial data channel")
		return sess.control.SendResponse(protocol.ResponseGeneric)
	}
	defer dataConn.Close()

	slog.Debug("Sending payload", "session_id", sess.id, "request", req.String(), "size", size)

	start := time.Now()
	buf := make([]byte, config.SendBufferSize)
	written, err := io.CopyBuffer(dataConn, io.TeeReader(payload, hasher), buf)
	if err != nil {
		// The client sees a short stream; the session itself goes on
		logging.LogError(errors.NewNetworkError("send_payload", dataConn.RemoteAddr().String(), err), "send payload")
		return nil
	}

	logging.LogTransferComplete(sess.id, req.String(), written, time.Since(start),
		stream.StatusComplete.String(), false, hex.EncodeToString(hasher.Sum(nil)))
	return nil
}

func (s *Server) open(ctx context.Context, req protocol.Request) (io.ReadCloser, int64, error) {
	if req.Verb == protocol.VerbList {
		listing, err := s.store.List(ctx)
		if err != nil {
			return nil, 0, err
		}
		return io.NopCloser(strings.NewReader(listing)), int64(len(listing)), nil
	}
	return s.store.Open(ctx, req.Filename)
}
