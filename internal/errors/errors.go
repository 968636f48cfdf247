package errors

import (
	"errors"
	"fmt"
)

// Error types for different categories of failures
var (
	ErrNetwork    = errors.New("network error")
	ErrFileSystem = errors.New("file system error")
	ErrProtocol   = errors.New("protocol error")
	ErrValidation = errors.New("validation error")
	ErrTimeout    = errors.New("timeout error")
	ErrCancelled  = errors.New("operation cancelled")

	// ErrMalformedRequest marks a well-framed line that is not a valid
	// request. The connection itself is still usable.
	ErrMalformedRequest = errors.New("malformed request")
)

// Session failure kinds. A SessionError matches the sentinel of its kind.
var (
	ErrBadHandshake       = errors.New("bad handshake")
	ErrDataChannelTimeout = errors.New("data channel timeout")
	ErrFileNotFound       = errors.New("file not found")
	ErrGenericServer      = errors.New("generic server error")
	ErrIncompleteTransfer = errors.New("incomplete transfer")
)

// Kind identifies why a session failed.
type Kind int

const (
	KindBadHandshake Kind = iota + 1
	KindDataChannelTimeout
	KindFileNotFound
	KindGenericServer
	KindIncompleteTransfer
)

var kindNames = map[Kind]string{
	KindBadHandshake:       "BAD_HANDSHAKE",
	KindDataChannelTimeout: "DATA_CHANNEL_TIMEOUT",
	KindFileNotFound:       "FILE_NOT_FOUND",
	KindGenericServer:      "GENERIC_SERVER_ERROR",
	KindIncompleteTransfer: "INCOMPLETE_TRANSFER",
}

var kindSentinels = map[Kind]error{
	KindBadHandshake:       ErrBadHandshake,
	KindDataChannelTimeout: ErrDataChannelTimeout,
	KindFileNotFound:       ErrFileNotFound,
	KindGenericServer:      ErrGenericServer,
	KindIncompleteTransfer: ErrIncompleteTransfer,
}

func (k Kind) String() string {
	if name, ok := kindNames[k]; ok {
		return name
	}
	return fmt.Sprintf("Kind(%d)", int(k))
}

// Recoverable reports whether the kind ends only the current command.
// The other kinds carry a partial result the caller must inspect.
func (k Kind) Recoverable() bool {
	switch k {
	case KindBadHandshake, KindFileNotFound, KindGenericServer:
		return true
	}
	return false
}

// NetworkError represents network-related errors
type NetworkError struct {
	Op   string
	Addr string
	Err  error
}

func (e *NetworkError) Error() string {
	return fmt.Sprintf("network error during %s to %s: %v", e.Op, e.Addr, e.Err)
}

func (e *NetworkError) Unwrap() error {
	return e.Err
}

func (e *NetworkError) Is(target error) bool {
	return target == ErrNetwork
}

// FileSystemError represents file system-related errors
type FileSystemError struct {
	Op   string
	Path string
	Err  error
}

func (e *FileSystemError) Error() string {
	return fmt.Sprintf("file system error during %s on %s: %v", e.Op, e.Path, e.Err)
}

func (e *FileSystemError) Unwrap() error {
	return e.Err
}

func (e *FileSystemError) Is(target error) bool {
	return target == ErrFileSystem
}

// ProtocolError represents protocol-related errors
type ProtocolError struct {
	Op      string
	Message string
	Err     error
}

func (e *ProtocolError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("protocol error during %s: %s: %v", e.Op, e.Message, e.Err)
	}
	return fmt.Sprintf("protocol error during %s: %s", e.Op, e.Message)
}

func (e *ProtocolError) Unwrap() error {
	return e.Err
}

func (e *ProtocolError) Is(target error) bool {
	return target == ErrProtocol
}

// ValidationError represents validation errors
type ValidationError struct {
	Field   string
	Value   interface{}
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation error for %s='%v': %s", e.Field, e.Value, e.Message)
}

func (e *ValidationError) Is(target error) bool {
	return target == ErrValidation
}

// SessionError is the terminal error of a file-transfer session.
// State is the session state the failure was observed in.
type SessionError struct {
	Kind  Kind
	State string
	Err   error
}

func (e *SessionError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("session failed with %s in state %s: %v", e.Kind, e.State, e.Err)
	}
	return fmt.Sprintf("session failed with %s in state %s", e.Kind, e.State)
}

func (e *SessionError) Unwrap() error {
	return e.Err
}

func (e *SessionError) Is(target error) bool {
	return target == kindSentinels[e.Kind]
}

// Helper functions for creating errors

func NewNetworkError(op, addr string, err error) error {
	return &NetworkError{Op: op, Addr: addr, Err: err}
}

func NewFileSystemError(op, path string, err error) error {
	return &FileSystemError{Op: op, Path: path, Err: err}
}

func NewProtocolError(op, message string, err error) error {
	return &ProtocolError{Op: op, Message: message, Err: err}
}

func NewValidationError(field string, value interface{}, message string) error {
	return &ValidationError{Field: field, Value: value, Message: message}
}

func NewSessionError(kind Kind, state string, err error) error {
	return &SessionError{Kind: kind, State: state, Err: err}
}

// KindOf returns the session failure kind carried by err, if any.
func KindOf(err error) (Kind, bool) {
	var se *SessionError
	if errors.As(err, &se) {
		return se.Kind, true
	}
	return 0, false
}

// Is and As re-export the standard helpers so callers importing this
// package under the name errors keep access to them.
func Is(err, target error) bool {
	return errors.Is(err, target)
}

func As(err error, target any) bool {
	return errors.As(err, target)
}
