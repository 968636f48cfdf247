// Package stream drains an unframed byte stream and decides when it has
// ended. The data channel carries no length and no terminator, so the end
// is either the sender closing the connection or a quiescence window with
// no new bytes. The second case is a guess and is reported as such.
package stream

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"ftsession/internal/config"
	"ftsession/internal/progress"
)

// Status says how a read ended
type Status int

const (
	// StatusComplete means the sender closed the connection.
	StatusComplete Status = iota
	// StatusIdle means bytes arrived and then stopped for MaxSilence.
	StatusIdle
	// StatusNoData means nothing arrived within InitialTimeout.
	StatusNoData
	// StatusReadError means the connection failed or the context ended.
	StatusReadError
)

func (s Status) String() string {
	switch s {
	case StatusComplete:
		return "COMPLETE"
	case StatusIdle:
		return "IDLE"
	case StatusNoData:
		return "TIMEOUT_NO_DATA"
	case StatusReadError:
		return "READ_ERROR"
	default:
		return fmt.Sprintf("Status(%d)", int(s))
	}
}

// Conn is the part of net.Conn the reader needs
type Conn interface {
	io.Reader
	SetReadDeadline(t time.Time) error
}

// Result is everything collected plus how collection ended
type Result struct {
	Data               []byte
	Status             Status
	PossiblyIncomplete bool
	ReadErr            error
	Duration           time.Duration
}

// Failed reports whether the stream cannot be treated as a transfer,
// even a possibly truncated one.
func (r *Result) Failed() bool {
	return r.Status == StatusNoData || r.Status == StatusReadError
}

// Reader reads until EOF or quiescence
type Reader struct {
	ChunkSize      int
	InitialTimeout time.Duration
	MaxSilence     time.Duration

	// Stats, when set, is advanced as bytes arrive.
	Stats *progress.Stats
}

// ReadUntilIdle reads conn with the default chunk size
func ReadUntilIdle(ctx context.Context, conn Conn, initialTimeout, maxSilence time.Duration) Result {
	r := Reader{InitialTimeout: initialTimeout, MaxSilence: maxSilence}
	return r.Read(ctx, conn)
}

// Read drains conn. Each read is armed with a deadline, so waiting is done
// by the runtime poller rather than a polling loop. It never returns an
// error on its own; failures are reported through Result.Status.
func (r *Reader) Read(ctx context.Context, conn Conn) Result {
	start := time.Now()

	chunkSize := r.ChunkSize
	if chunkSize <= 0 {
		chunkSize = config.DefaultReadChunkSize
	}
	buf := make([]byte, chunkSize)

	var data bytes.Buffer
	received := false

	finish := func(status Status, err error) Result {
		// Leave the connection without a stale deadline
		conn.SetReadDeadline(time.Time{})
		return Result{
			Data:               data.Bytes(),
			Status:             status,
			PossiblyIncomplete: status != StatusComplete,
			ReadErr:            err,
			Duration:           time.Since(start),
		}
	}

	// Cancelling ctx expires the pending read
	stop := context.AfterFunc(ctx, func() {
		conn.SetReadDeadline(time.Unix(1, 0))
	})
	defer stop()

	for {
		if err := ctx.Err(); err != nil {
			return finish(StatusReadError, err)
		}

		window := r.InitialTimeout
		if received {
			window = r.MaxSilence
		}
		if err := conn.SetReadDeadline(time.Now().Add(window)); err != nil {
			return finish(StatusReadError, err)
		}

		n, err := conn.Read(buf)
		if n > 0 {
			data.Write(buf[:n])
			received = true
			if r.Stats != nil {
				r.Stats.UpdateTransferred(int64(n))
			}
		}
		if err == nil {
			continue
		}

		switch {
		case errors.Is(err, io.EOF):
			return finish(StatusComplete, nil)
		case ctx.Err() != nil:
			return finish(StatusReadError, ctx.Err())
		case errors.Is(err, os.ErrDeadlineExceeded):
			if received {
				return finish(StatusIdle, nil)
			}
			return finish(StatusNoData, nil)
		default:
			return finish(StatusReadError, err)
		}
	}
}
