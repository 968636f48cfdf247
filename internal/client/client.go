package client

import (
	"context"
	"io"
	"log/slog"
	"os"

	"ftsession/internal/config"
	"ftsession/internal/errors"
	"ftsession/internal/filesystem"
)

// Run starts the client with the given configuration
func Run(ctx context.Context, cfg *config.Config) error {
	var progressOut io.Writer
	if cfg.ShowProgress && filesystem.IsInteractive(os.Stdout) {
		progressOut = os.Stdout
	}
	return run(ctx, cfg, os.Stdin, os.Stdout, filesystem.IsInteractive(os.Stdin), progressOut)
}

func run(ctx context.Context, cfg *config.Config, in io.Reader, out io.Writer, interactive bool, progressOut io.Writer) error {
	slog.Info("Starting client", "server", cfg.ServerAddress(), "command", cfg.Command)

	// Settle the overwrite question before any byte is requested
	var outputPath string
	if cfg.Command == config.CommandGet {
		path, err := filesystem.OutputPath(cfg.OutputDir, cfg.Filename)
		if err != nil {
			return err
		}
		ok, err := filesystem.ConfirmOverwrite(path, in, out, interactive, cfg.Force)
		if err != nil {
			return err
		}
		if !ok {
			slog.Info("Operation cancelled, existing file kept", "path", path)
			return nil
		}
		outputPath = path
	}

	session, err := Dial(ctx, cfg)
	if err != nil {
		return err
	}
	defer session.Close()
	session.SetProgressOutput(progressOut)

	switch cfg.Command {
	case config.CommandList:
		result, err := session.List(ctx)
		if result != nil {
			if _, werr := out.Write(result.Data); werr != nil {
				return errors.NewFileSystemError("write", "stdout", werr)
			}
		}
		return err

	case config.CommandGet:
		result, err := session.Get(ctx, cfg.Filename)
		if err != nil {
			if result != nil {
				slog.Warn("Discarding partial payload",
					"file", cfg.Filename,
					"bytes", result.Bytes,
					"stream_status", result.Status.String())
			}
			return err
		}

		if err := filesystem.WriteOutputFile(outputPath, result.Data); err != nil {
			return err
		}
		// Read back what landed on disk against the digest of what arrived
		if err := filesystem.VerifyFileDigest(outputPath, filesystem.HashAlgorithm(cfg.DigestAlgorithm), result.Digest); err != nil {
			return err
		}
		if result.PossiblyIncomplete {
			slog.Warn("File saved, but the stream ended by quiescence and may be truncated",
				"path", outputPath, "bytes", result.Bytes)
		}
		slog.Info("File saved", "path", outputPath, "bytes", result.Bytes, "digest", result.Digest)
		return nil

	default:
		return errors.NewValidationError("command", cfg.Command, "unknown command")
	}
}
