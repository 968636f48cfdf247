package config

import (
	"fmt"
	"net"
	"strconv"
	"time"
)

// Constants for default values
const (
	DefaultHandshakeTimeout = 5 * time.Second
	DefaultAcceptTimeout    = 10 * time.Second
	DefaultResponseTimeout  = 15 * time.Second
	DefaultDialTimeout      = 5 * time.Second
	DefaultIdleTimeout      = 5 * time.Minute
	DefaultDataBindAddress  = ""
	DefaultRootDir          = "."
	DefaultOutputDir        = "."
	DefaultLogDir           = "logs"
	DefaultDigestAlgorithm  = "blake2b"

	// Completion windows. "No data at all" waits twice the silence window.
	DefaultListMaxSilence     = 1 * time.Second
	DefaultListInitialTimeout = 2 * DefaultListMaxSilence
	DefaultGetMaxSilence      = 2 * time.Second
	DefaultGetInitialTimeout  = 2 * DefaultGetMaxSilence

	// Buffer size constants
	DefaultReadChunkSize = 8 * 1024    // 8KB
	MaxReadChunkSize     = 1024 * 1024 // 1MB
	SendBufferSize       = 64 * 1024   // 64KB

	// Control channel constants
	MaxControlLineLength = 256

	// File system constants
	LogDirPerms     = 0755
	OutputFilePerms = 0644
)

// Commands a client session can run.
const (
	CommandList = "list"
	CommandGet  = "get"
)

// Config holds all configuration parameters for the application
type Config struct {
	// Server mode settings
	IsServer      bool
	ListenAddress string
	RootDir       string
	IdleTimeout   time.Duration
	DialTimeout   time.Duration

	// Client mode settings
	ServerHost       string
	ServerPort       int
	DataPort         int
	DataBindAddress  string
	Command          string
	Filename         string
	OutputDir        string
	Force            bool
	HandshakeTimeout time.Duration
	AcceptTimeout    time.Duration
	ResponseTimeout  time.Duration
	VerifyDataPeer   bool

	// Stream reader windows, one pair per command
	ListInitialTimeout time.Duration
	ListMaxSilence     time.Duration
	GetInitialTimeout  time.Duration
	GetMaxSilence      time.Duration

	// Common parameters
	ReadChunkSize   int
	DigestAlgorithm string
	ShowProgress    bool
	LogDir          string
	Verbose         bool
}

// DefaultClientConfig returns a client configuration with every tunable set
func DefaultClientConfig() *Config {
	return &Config{
		DataBindAddress:    DefaultDataBindAddress,
		OutputDir:          DefaultOutputDir,
		HandshakeTimeout:   DefaultHandshakeTimeout,
		AcceptTimeout:      DefaultAcceptTimeout,
		ResponseTimeout:    DefaultResponseTimeout,
		VerifyDataPeer:     true,
		ListInitialTimeout: DefaultListInitialTimeout,
		ListMaxSilence:     DefaultListMaxSilence,
		GetInitialTimeout:  DefaultGetInitialTimeout,
		GetMaxSilence:      DefaultGetMaxSilence,
		ReadChunkSize:      DefaultReadChunkSize,
		DigestAlgorithm:    DefaultDigestAlgorithm,
		ShowProgress:       true,
		LogDir:             DefaultLogDir,
	}
}

// DefaultServerConfig returns a server configuration with every tunable set
func DefaultServerConfig() *Config {
	return &Config{
		IsServer:        true,
		RootDir:         DefaultRootDir,
		IdleTimeout:     DefaultIdleTimeout,
		DialTimeout:     DefaultDialTimeout,
		ReadChunkSize:   DefaultReadChunkSize,
		DigestAlgorithm: DefaultDigestAlgorithm,
		LogDir:          DefaultLogDir,
	}
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	if c.ReadChunkSize <= 0 || c.ReadChunkSize > MaxReadChunkSize {
		return fmt.Errorf("read chunk size must be between 1 and %d", MaxReadChunkSize)
	}

	switch c.DigestAlgorithm {
	case "md5", "sha256", "blake2b":
	default:
		return fmt.Errorf("unknown digest algorithm %q", c.DigestAlgorithm)
	}

	if c.IsServer {
		return c.validateServer()
	}
	return c.validateClient()
}

func (c *Config) validateServer() error {
	if c.ListenAddress == "" {
		return fmt.Errorf("listen address is required in server mode")
	}
	if c.RootDir == "" {
		return fmt.Errorf("root directory is required in server mode")
	}
	if c.IdleTimeout <= 0 {
		return fmt.Errorf("idle timeout must be positive")
	}
	if c.DialTimeout <= 0 {
		return fmt.Errorf("dial timeout must be positive")
	}
	return nil
}

func (c *Config) validateClient() error {
	if c.ServerHost == "" {
		return fmt.Errorf("server host is required in client mode")
	}
	if err := validatePort("server port", c.ServerPort, false); err != nil {
		return err
	}
	if err := validatePort("data port", c.DataPort, true); err != nil {
		return err
	}
	if c.HandshakeTimeout <= 0 {
		return fmt.Errorf("handshake timeout must be positive")
	}
	if c.AcceptTimeout <= 0 {
		return fmt.Errorf("accept timeout must be positive")
	}
	if c.ResponseTimeout <= 0 {
		return fmt.Errorf("response timeout must be positive")
	}
	if c.ListInitialTimeout <= 0 || c.ListMaxSilence <= 0 {
		return fmt.Errorf("list timeouts must be positive")
	}
	if c.GetInitialTimeout <= 0 || c.GetMaxSilence <= 0 {
		return fmt.Errorf("get timeouts must be positive")
	}

	switch c.Command {
	case CommandList:
	case CommandGet:
		if c.Filename == "" {
			return fmt.Errorf("filename is required for get")
		}
	default:
		return fmt.Errorf("unknown command %q", c.Command)
	}

	return nil
}

// validatePort checks a TCP port; zero asks the kernel for an ephemeral port
func validatePort(name string, port int, allowZero bool) error {
	if port == 0 && allowZero {
		return nil
	}
	if port < 1 || port > 65535 {
		return fmt.Errorf("%s must be between 1 and 65535", name)
	}
	return nil
}

// ParsePort parses a decimal TCP port argument
func ParsePort(name, value string) (int, error) {
	port, err := strconv.Atoi(value)
	if err != nil {
		return 0, fmt.Errorf("invalid %s %q: %w", name, value, err)
	}
	if err := validatePort(name, port, false); err != nil {
		return 0, err
	}
	return port, nil
}

// ServerAddress returns the host:port of the control channel
func (c *Config) ServerAddress() string {
	return net.JoinHostPort(c.ServerHost, strconv.Itoa(c.ServerPort))
}

// DataAddress returns the local address the data listener binds to
func (c *Config) DataAddress() string {
	return net.JoinHostPort(c.DataBindAddress, strconv.Itoa(c.DataPort))
}

// String returns a string representation of the config for logging
func (c *Config) String() string {
	if c.IsServer {
		return fmt.Sprintf("Config{Mode: Server, Listen: %s, Root: %s, DialTimeout: %s}",
			c.ListenAddress, c.RootDir, c.DialTimeout)
	}

	return fmt.Sprintf("Config{Mode: Client, Server: %s, DataPort: %d, Command: %s}",
		c.ServerAddress(), c.DataPort, c.Command)
}
