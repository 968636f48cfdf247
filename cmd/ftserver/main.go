/*
Copyright 2025 Yousaf Gill. All rights reserved.
Use of this source code is governed by the MIT license
that can be found in the LICENSE file.

ftserver serves one directory to ftclient sessions.

Every control connection gets its own goroutine. The server greets the
client, records the announced data port, and for each LIST or GET dials
back to that port, streams the payload and closes the data connection.
It runs until interrupted.

Usage:

	ftserver <port> [--root DIR]
*/
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"ftsession/internal/config"
	"ftsession/internal/logging"
	"ftsession/internal/server"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	cfg := config.DefaultServerConfig()

	cmd := &cobra.Command{
		Use:           "ftserver <port>",
		Short:         "Serve a directory to ftclient sessions",
		Args:          usageOnError(cobra.ExactArgs(1)),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			port, err := config.ParsePort("port", args[0])
			if err != nil {
				cmd.PrintErrln("Error:", err)
				cmd.PrintErrln(cmd.UsageString())
				return err
			}
			cfg.ListenAddress = fmt.Sprintf(":%d", port)

			if err := cfg.Validate(); err != nil {
				cmd.PrintErrln("Error:", err)
				return err
			}

			// Set up structured logging
			if err := logging.SetupLogger(cfg.LogDir, "ftserver", cfg.Verbose); err != nil {
				fmt.Fprintln(os.Stderr, "Failed to setup logging:", err)
				return err
			}
			logging.LogConfig(cfg)

			// Stop accepting and drain sessions on SIGINT or SIGTERM
			ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			if err := server.Run(ctx, cfg); err != nil {
				logging.LogError(err, "server")
				return err
			}
			slog.Info("Server shut down gracefully")
			return nil
		},
	}

	cmd.SetFlagErrorFunc(func(c *cobra.Command, err error) error {
		c.PrintErrln("Error:", err)
		c.PrintErrln(c.UsageString())
		return err
	})

	flags := cmd.Flags()
	flags.StringVar(&cfg.RootDir, "root", cfg.RootDir, "directory to serve")
	flags.DurationVar(&cfg.IdleTimeout, "idle-timeout", cfg.IdleTimeout, "close sessions idle for this long")
	flags.DurationVar(&cfg.DialTimeout, "dial-timeout", cfg.DialTimeout, "time allowed for connecting to a client's data port")
	flags.StringVar(&cfg.DigestAlgorithm, "digest", cfg.DigestAlgorithm, "digest logged for each payload sent (md5, sha256, blake2b)")
	flags.StringVar(&cfg.LogDir, "log-dir", cfg.LogDir, "directory for log files (empty for console only)")
	flags.BoolVarP(&cfg.Verbose, "verbose", "v", false, "enable debug logging")

	return cmd
}

func usageOnError(check cobra.PositionalArgs) cobra.PositionalArgs {
	return func(cmd *cobra.Command, args []string) error {
		if err := check(cmd, args); err != nil {
			cmd.PrintErrln("Error:", err)
			cmd.PrintErrln(cmd.UsageString())
			return err
		}
		return nil
	}
}
