package client

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net"
	"sync"
	"time"

	"github.com/google/uuid"

	"ftsession/internal/config"
	"ftsession/internal/errors"
	"ftsession/internal/filesystem"
	"ftsession/internal/logging"
	"ftsession/internal/network"
	"ftsession/internal/progress"
	"ftsession/internal/protocol"
	"ftsession/internal/stream"
)

// State is a step of the client session lifecycle
type State int

const (
	StateConnecting State = iota
	StateHandshakeWait
	StateHandshakeOK
	StateDataPortAnnounced
	StateAwaitingDataConnection
	StateTransferring
	StateDone
	StateFailed
)

var stateNames = [...]string{
	StateConnecting:             "CONNECTING",
	StateHandshakeWait:          "HANDSHAKE_WAIT",
	StateHandshakeOK:            "HANDSHAKE_OK",
	StateDataPortAnnounced:      "DATA_PORT_ANNOUNCED",
	StateAwaitingDataConnection: "AWAITING_DATA_CONNECTION",
	StateTransferring:           "TRANSFERRING",
	StateDone:                   "DONE",
	StateFailed:                 "FAILED",
}

func (s State) String() string {
	if s >= 0 && int(s) < len(stateNames) {
		return stateNames[s]
	}
	return fmt.Sprintf("State(%d)", int(s))
}

// Result is the payload of one command and how its stream ended
type Result struct {
	Command            string
	Data               []byte
	Status             stream.Status
	PossiblyIncomplete bool
	Bytes              int64
	Duration           time.Duration
	Digest             string
}

// Session is one control connection to a server. Commands run one at a
// time from a single goroutine; Close may be called from anywhere.
type Session struct {
	id      string
	cfg     *config.Config
	control *protocol.ControlConn
	peer    net.IP
	started time.Time

	mu       sync.Mutex
	state    State
	dataPort int

	progressOut io.Writer

	closeOnce sync.Once
	closeErr  error
}

// Dial connects to the server and waits for its greeting. Nothing is sent
// before the greeting has been read and matched.
func Dial(ctx context.Context, cfg *config.Config) (*Session, error) {
	s := &Session{
		id:      uuid.NewString(),
		cfg:     cfg,
		started: time.Now(),
		state:   StateConnecting,
	}

	address := cfg.ServerAddress()
	dialer := net.Dialer{Timeout: cfg.HandshakeTimeout}
	conn, err := dialer.DialContext(ctx, "tcp", address)
	if err != nil {
		s.setState(StateFailed)
		return nil, errors.NewNetworkError("dial", address, err)
	}

	if err := network.OptimizeTCPConnection(conn); err != nil {
		slog.Warn("Failed to optimize TCP connection", "error", err)
	}

	s.control = protocol.NewControlConn(conn, cfg.HandshakeTimeout)
	s.peer = network.PeerIP(conn.RemoteAddr())
	logging.LogSessionStart("client", s.id, conn.RemoteAddr().String())

	s.setState(StateHandshakeWait)
	if err := s.control.ExpectGreeting(ctx, cfg.HandshakeTimeout); err != nil {
		failure := s.fail(errors.KindBadHandshake, err)
		s.Close()
		return nil, failure
	}

	s.setState(StateHandshakeOK)
	return s, nil
}

// ID returns the session identifier used in logs
func (s *Session) ID() string {
	return s.id
}

// State returns the current lifecycle state
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// DataPort returns the port announced for the most recent command
func (s *Session) DataPort() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.dataPort
}

// SetProgressOutput enables console progress for GET on w
func (s *Session) SetProgressOutput(w io.Writer) {
	s.progressOut = w
}

// List fetches the server's directory listing over a fresh data channel
func (s *Session) List(ctx context.Context) (*Result, error) {
	return s.transfer(ctx, protocol.ListRequest(), s.cfg.ListInitialTimeout, s.cfg.ListMaxSilence)
}

// Get fetches one file. A failed stream still returns what arrived,
// alongside an INCOMPLETE_TRANSFER error.
func (s *Session) Get(ctx context.Context, filename string) (*Result, error) {
	if err := filesystem.ValidateFileName(filename); err != nil {
		return nil, err
	}
	return s.transfer(ctx, protocol.GetRequest(filename), s.cfg.GetInitialTimeout, s.cfg.GetMaxSilence)
}

func (s *Session) transfer(ctx context.Context, req protocol.Request, initial, silence time.Duration) (*Result, error) {
	if state := s.State(); state != StateHandshakeOK && state != StateDone {
		return nil, errors.NewValidationError("state", state.String(), "session cannot start a command")
	}

	// The listener exists before its port is announced, so the server can
	// never dial a port nobody is bound to.
	dl, err := network.OpenDataChannel(ctx, s.cfg.DataAddress())
	if err != nil {
		s.setState(StateFailed)
		return nil, err
	}
	defer dl.Close()

	s.mu.Lock()
	s.dataPort = dl.Port()
	s.mu.Unlock()

	if err := s.control.SendRequest(protocol.DataPortRequest(dl.Port())); err != nil {
		return nil, s.fail(errors.KindGenericServer, err)
	}
	s.setState(StateDataPortAnnounced)
	slog.Debug("Data port announced", "session_id", s.id, "data_port", dl.Port())
	if err := s.expectOK(ctx); err != nil {
		return nil, err
	}

	if err := s.control.SendRequest(req); err != nil {
		return nil, s.fail(errors.KindGenericServer, err)
	}
	if err := s.expectOK(ctx); err != nil {
		return nil, err
	}

	s.setState(StateAwaitingDataConnection)

	// From here the server has nothing more to say unless something goes
	// wrong, so any line or hangup on the control channel is news.
	acceptCtx, abortAccept := context.WithCancel(ctx)
	defer abortAccept()
	watch := s.watchControl(ctx, abortAccept)
	defer watch.stop()

	var expectPeer net.IP
	if s.cfg.VerifyDataPeer {
		expectPeer = s.peer
	}
	conn, err := dl.Accept(acceptCtx, s.cfg.AcceptTimeout, expectPeer)
	if err != nil {
		watch.stop()
		return nil, s.acceptFailure(watch, err)
	}
	// Deferred after dl.Close, so the data connection closes first
	defer conn.Close()

	s.setState(StateTransferring)

	stats := progress.NewStats(req.Filename)
	if req.Verb == protocol.VerbGet && s.progressOut != nil {
		reporter := progress.NewReporter(stats, true)
		reporter.SetOutput(s.progressOut)
		reporter.Start()
		defer reporter.Stop()
	}

	reader := stream.Reader{
		ChunkSize:      s.cfg.ReadChunkSize,
		InitialTimeout: initial,
		MaxSilence:     silence,
		Stats:          stats,
	}
	// A lost control connection does not cut the read short; the data
	// channel is drained first and the session fails afterwards.
	sr := reader.Read(ctx, conn)
	watch.stop()

	digest, err := filesystem.DigestBytes(sr.Data, filesystem.HashAlgorithm(s.cfg.DigestAlgorithm))
	if err != nil {
		return nil, s.fail(errors.KindIncompleteTransfer, err)
	}

	result := &Result{
		Command:            req.String(),
		Data:               sr.Data,
		Status:             sr.Status,
		PossiblyIncomplete: sr.PossiblyIncomplete,
		Bytes:              int64(len(sr.Data)),
		Duration:           sr.Duration,
		Digest:             digest,
	}
	logging.LogTransferComplete(s.id, result.Command, result.Bytes, result.Duration,
		sr.Status.String(), sr.PossiblyIncomplete, result.Digest)

	if sr.Failed() {
		cause := sr.ReadErr
		if cause == nil {
			cause = fmt.Errorf("%s after %s", sr.Status, initial)
		}
		return result, s.fail(errors.KindIncompleteTransfer, cause)
	}

	if watch.fired {
		return result, s.fail(errors.KindGenericServer, watch.cause())
	}

	s.setState(StateDone)
	return result, nil
}

// acceptFailure classifies a failed data-channel accept. An ERROR_GENERIC
// from the server means it could not dial us, which is still a data
// channel timeout from the client's point of view.
func (s *Session) acceptFailure(watch *controlWatch, err error) error {
	if !watch.fired {
		return s.fail(errors.KindDataChannelTimeout, err)
	}
	if watch.err == nil {
		if resp, perr := protocol.ParseResponse(watch.line); perr == nil && resp == protocol.ResponseGeneric {
			return s.fail(errors.KindDataChannelTimeout,
				fmt.Errorf("server could not open the data channel (%s): %w", resp, err))
		}
	}
	return s.fail(errors.KindGenericServer, watch.cause())
}

// controlWatch reads the control channel while a data channel is pending
// or open. The first line or error it sees is kept and onFire is called.
type controlWatch struct {
	cancel context.CancelFunc
	done   chan struct{}
	once   sync.Once

	// Written by the watching goroutine, read only after stop
	fired bool
	line  string
	err   error
}

func (s *Session) watchControl(ctx context.Context, onFire func()) *controlWatch {
	wctx, cancel := context.WithCancel(ctx)
	w := &controlWatch{cancel: cancel, done: make(chan struct{})}

	go func() {
		defer close(w.done)
		line, err := s.control.ReadLine(wctx, 0)
		if wctx.Err() != nil {
			return
		}
		w.fired, w.line, w.err = true, line, err
		slog.Debug("Control channel activity during data transfer",
			"session_id", s.id, "line", line, "error", err)
		onFire()
	}()
	return w
}

// stop ends the watch and waits for the reader to let go of the control
// connection. It is safe to call more than once.
func (w *controlWatch) stop() {
	w.once.Do(func() {
		w.cancel()
		<-w.done
	})
}

func (w *controlWatch) cause() error {
	if w.err != nil {
		return fmt.Errorf("control connection lost: %w", w.err)
	}
	return fmt.Errorf("unexpected control line %q", w.line)
}

// expectOK reads one status line and maps anything but OK to a failure
func (s *Session) expectOK(ctx context.Context) error {
	resp, err := s.control.ReadResponse(ctx, s.cfg.ResponseTimeout)
	if err != nil {
		return s.fail(errors.KindGenericServer, err)
	}

	switch resp {
	case protocol.ResponseOK:
		return nil
	case protocol.ResponseFileNotFound:
		return s.fail(errors.KindFileNotFound, nil)
	default:
		return s.fail(errors.KindGenericServer, fmt.Errorf("server replied %s", resp))
	}
}

// Close ends the session: EXIT is sent once and the control connection is
// closed once, whatever state the session is in.
func (s *Session) Close() error {
	s.closeOnce.Do(func() {
		if s.control == nil {
			return
		}
		if err := s.control.SendRequest(protocol.ExitRequest()); err != nil {
			slog.Debug("Failed to send EXIT", "session_id", s.id, "error", err)
		}
		s.closeErr = s.control.Close()
		logging.LogSessionEnd("client", s.id, s.State().String(), "client close", time.Since(s.started))
	})
	return s.closeErr
}

func (s *Session) setState(next State) {
	s.mu.Lock()
	prev := s.state
	s.state = next
	s.mu.Unlock()

	slog.Debug("Session state changed", "session_id", s.id, "from", prev.String(), "to", next.String())
}

func (s *Session) fail(kind errors.Kind, err error) error {
	failure := errors.NewSessionError(kind, s.State().String(), err)
	s.setState(StateFailed)
	return failure
}
