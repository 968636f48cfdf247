package logging

import (
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"ftsession/internal/config"
	"ftsession/internal/errors"
	"ftsession/internal/filesystem"
)

// SetupLogger initializes structured logging with file and console output.
// The prefix names the program ("ftclient", "ftserver") in the log file name.
func SetupLogger(logDir, prefix string, verbose bool) error {
	level := slog.LevelInfo
	if verbose {
		level = slog.LevelDebug
	}

	opts := &slog.HandlerOptions{
		Level:     level,
		AddSource: false,
	}

	// Log to stderr so stdout stays clean for listings
	var out io.Writer = os.Stderr

	if logDir != "" {
		if err := filesystem.EnsureDirectoryExists(logDir); err != nil {
			return err
		}

		logFileName := filepath.Join(logDir,
			prefix+"_"+time.Now().Format("20060102_150405")+".log")

		logFile, err := os.Create(logFileName)
		if err != nil {
			// Continue with console logging only
			slog.Warn("Failed to create log file, using console only", "error", err)
		} else {
			out = io.MultiWriter(os.Stderr, logFile)
		}
	}

	slog.SetDefault(slog.New(slog.NewTextHandler(out, opts)))

	slog.Debug("Logging initialized", "session_id", time.Now().Format("20060102_150405"))
	return nil
}

// LogConfig logs the current configuration
func LogConfig(cfg *config.Config) {
	if cfg.IsServer {
		slog.Info("Server configuration",
			"listen_address", cfg.ListenAddress,
			"root_dir", cfg.RootDir,
			"idle_timeout_seconds", int(cfg.IdleTimeout.Seconds()),
			"dial_timeout_ms", cfg.DialTimeout.Milliseconds())
		return
	}

	slog.Info("Client configuration",
		"server_address", cfg.ServerAddress(),
		"data_port", cfg.DataPort,
		"command", cfg.Command,
		"accept_timeout_ms", cfg.AcceptTimeout.Milliseconds(),
		"list_window_ms", cfg.ListMaxSilence.Milliseconds(),
		"get_window_ms", cfg.GetMaxSilence.Milliseconds(),
		"read_chunk_kb", float64(cfg.ReadChunkSize)/1024)
}

// LogError logs an error with appropriate context
func LogError(err error, context string) {
	var se *errors.SessionError
	if errors.As(err, &se) {
		slog.Error("Session failed",
			"context", context,
			"kind", se.Kind.String(),
			"state", se.State,
			"recoverable", se.Kind.Recoverable(),
			"error", se.Err,
			"error_type", "session")
		return
	}

	switch e := err.(type) {
	case *errors.NetworkError:
		slog.Error("Network error",
			"context", context,
			"operation", e.Op,
			"address", e.Addr,
			"error", e.Err,
			"error_type", "network")
	case *errors.FileSystemError:
		slog.Error("File system error",
			"context", context,
			"operation", e.Op,
			"error", e.Err,
			"error_type", "filesystem")
	case *errors.ProtocolError:
		slog.Error("Protocol error",
			"context", context,
			"operation", e.Op,
			"message", e.Message,
			"error_type", "protocol")
	case *errors.ValidationError:
		slog.Error("Validation error",
			"context", context,
			"field", e.Field,
			"message", e.Message,
			"error_type", "validation")
	default:
		slog.Error("Unhandled error",
			"context", context,
			"error", err,
			"error_type", "unknown")
	}
}

// LogTransferProgress logs transfer progress information. A zero total
// means the payload length is unknown.
func LogTransferProgress(filename string, transferred, total int64, rate float64) {
	if total <= 0 {
		slog.Info("Transfer progress",
			"file", filename,
			"transferred_mb", float64(transferred)/(1024*1024),
			"transfer_rate_mbps", rate)
		return
	}

	slog.Info("Transfer progress",
		"file", filename,
		"transferred_mb", float64(transferred)/(1024*1024),
		"total_mb", float64(total)/(1024*1024),
		"percent_complete", float64(transferred)/float64(total)*100,
		"transfer_rate_mbps", rate)
}

// LogTransferComplete logs the end of a payload transfer
func LogTransferComplete(sessionID, command string, size int64, duration time.Duration, status string, possiblyIncomplete bool, digest string) {
	rate := 0.0
	if duration > 0 {
		rate = float64(size) / (1024 * 1024) / duration.Seconds()
	}

	attrs := []any{
		"session_id", sessionID,
		"command", command,
		"total_bytes", size,
		"duration_ms", duration.Milliseconds(),
		"average_rate_mbps", rate,
		"stream_status", status,
		"digest", digest,
	}

	if possiblyIncomplete {
		slog.Warn("Transfer ended by quiescence, payload may be incomplete", attrs...)
		return
	}
	slog.Info("Transfer completed", attrs...)
}

// LogSessionStart logs the start of a session
func LogSessionStart(role, sessionID, remoteAddr string) {
	slog.Info("Session started",
		"role", role,
		"session_id", sessionID,
		"remote_addr", remoteAddr,
		"session_start", time.Now().Format("15:04:05"))
}

// LogSessionEnd logs the end of a session. finalState is the session
// state (DONE or FAILED), reason says what ended it.
func LogSessionEnd(role, sessionID, finalState, reason string, duration time.Duration) {
	slog.Info("Session ended",
		"role", role,
		"session_id", sessionID,
		"state", finalState,
		"reason", reason,
		"session_duration_ms", duration.Milliseconds(),
		"session_end", time.Now().Format("15:04:05"))
}
