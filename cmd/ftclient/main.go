/*
Copyright 2025 Yousaf Gill. All rights reserved.
Use of this source code is governed by the MIT license
that can be found in the LICENSE file.

ftclient fetches a directory listing or a single file from an ftserver.

Each command runs over two connections:

1. Control: the client connects to the server, waits for the greeting and
   sends one-line commands.

2. Data: the client listens on a data port, announces it, and the server
   connects back to stream the payload. The stream has no length; it ends
   when the server closes the connection or goes quiet.

Usage:

	ftclient <host> <port> -l <dataPort>
	ftclient <host> <port> -g <filename> <dataPort>
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

	"ftsession/internal/client"
	"ftsession/internal/config"
	"ftsession/internal/logging"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	cfg := config.DefaultClientConfig()

	var (
		list bool
		get  string
	)

	cmd := &cobra.Command{
		Use:   "ftclient <host> <port> (-l | -g <filename>) <dataPort>",
		Short: "Fetch a listing or a file from an ftserver",
		Example: "  ftclient flip1 30021 -l 30020\n" +
			"  ftclient flip1 30021 -g notes.txt 30020",
		Args:          usageOnError(cobra.ExactArgs(3)),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := applyArgs(cfg, args, list, get); err != nil {
				cmd.PrintErrln("Error:", err)
				cmd.PrintErrln(cmd.UsageString())
				return err
			}

			// Set up structured logging
			if err := logging.SetupLogger(cfg.LogDir, "ftclient", cfg.Verbose); err != nil {
				fmt.Fprintln(os.Stderr, "Failed to setup logging:", err)
				return err
			}
			logging.LogConfig(cfg)

			// Set up signal handling for graceful shutdown
			ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			if err := client.Run(ctx, cfg); err != nil {
				logging.LogError(err, "client")
				return err
			}
			slog.Debug("Client finished")
			return nil
		},
	}

	cmd.SetFlagErrorFunc(func(c *cobra.Command, err error) error {
		c.PrintErrln("Error:", err)
		c.PrintErrln(c.UsageString())
		return err
	})

	flags := cmd.Flags()
	flags.BoolVarP(&list, "list", "l", false, "request the server's directory listing")
	flags.StringVarP(&get, "get", "g", "", "request the named file")
	flags.StringVar(&cfg.OutputDir, "output", cfg.OutputDir, "directory to save fetched files in")
	flags.BoolVar(&cfg.Force, "force", false, "overwrite an existing file without asking")
	flags.StringVar(&cfg.DataBindAddress, "bind", cfg.DataBindAddress, "local address for the data listener (empty for all interfaces)")
	flags.DurationVar(&cfg.HandshakeTimeout, "handshake-timeout", cfg.HandshakeTimeout, "time allowed for connecting and the server greeting")
	flags.DurationVar(&cfg.ResponseTimeout, "response-timeout", cfg.ResponseTimeout, "time allowed for each server reply")
	flags.DurationVar(&cfg.AcceptTimeout, "accept-timeout", cfg.AcceptTimeout, "time allowed for the server to open the data connection")
	flags.DurationVar(&cfg.ListInitialTimeout, "list-initial", cfg.ListInitialTimeout, "wait for the first listing byte")
	flags.DurationVar(&cfg.ListMaxSilence, "list-silence", cfg.ListMaxSilence, "silence that ends a listing")
	flags.DurationVar(&cfg.GetInitialTimeout, "get-initial", cfg.GetInitialTimeout, "wait for the first file byte")
	flags.DurationVar(&cfg.GetMaxSilence, "get-silence", cfg.GetMaxSilence, "silence that ends a file")
	flags.BoolVar(&cfg.VerifyDataPeer, "verify-peer", cfg.VerifyDataPeer, "accept data connections only from the server's address")
	flags.IntVar(&cfg.ReadChunkSize, "chunk", cfg.ReadChunkSize, "data channel read size in bytes")
	flags.StringVar(&cfg.DigestAlgorithm, "digest", cfg.DigestAlgorithm, "digest for verifying saved files (md5, sha256, blake2b)")
	flags.BoolVar(&cfg.ShowProgress, "progress", cfg.ShowProgress, "show transfer progress on a terminal")
	flags.StringVar(&cfg.LogDir, "log-dir", cfg.LogDir, "directory for log files (empty for console only)")
	flags.BoolVarP(&cfg.Verbose, "verbose", "v", false, "enable debug logging")

	return cmd
}

// applyArgs fills the positional arguments and command into cfg
func applyArgs(cfg *config.Config, args []string, list bool, get string) error {
	if list == (get != "") {
		return fmt.Errorf("exactly one of -l or -g <filename> is required")
	}

	cfg.ServerHost = args[0]

	port, err := config.ParsePort("server port", args[1])
	if err != nil {
		return err
	}
	cfg.ServerPort = port

	dataPort, err := config.ParsePort("data port", args[2])
	if err != nil {
		return err
	}
	cfg.DataPort = dataPort

	if list {
		cfg.Command = config.CommandList
	} else {
		cfg.Command = config.CommandGet
		cfg.Filename = get
	}

	return cfg.Validate()
}

// usageOnError prints the usage text when the positional arguments are wrong
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
