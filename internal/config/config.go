package config

import (
	"errors"
	"flag"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/sheerbytes/peerlink/internal/netinfo"
	"github.com/sheerbytes/peerlink/internal/transport"
	"github.com/sheerbytes/peerlink/pkg/protocol"
)

const envPrefix = "PEERLINK_"

// PeerConfig holds configuration for the peerlink binary.
type PeerConfig struct {
	Bind          string // advertised/local address; empty means auto-detect
	ChatPort      int
	FilePort      int
	RecvDir       string
	ChunkSize     int
	SecretBytes   int
	FileTransport transport.Kind
	StunServers   []string
	Tunnel        bool
	LogLevel      string
	Args          []string // positional arguments left after flags
}

// Defaults returns the built-in configuration.
func Defaults() PeerConfig {
	return PeerConfig{
		ChatPort:      5000,
		FilePort:      5001,
		RecvDir:       "received_files",
		ChunkSize:     protocol.DefaultChunkSize,
		SecretBytes:   4,
		FileTransport: transport.KindTCP,
		StunServers:   append([]string(nil), netinfo.DefaultStunServers...),
		LogLevel:      "error",
	}
}

// ParsePeerConfig parses configuration for a subcommand from environment
// variables and args. Flags take precedence over environment variables.
func ParsePeerConfig(name string, args []string) (PeerConfig, error) {
	fs := flag.NewFlagSet(name, flag.ContinueOnError)
	return parsePeerConfigWithFlagSet(fs, args)
}

// parsePeerConfigWithFlagSet is an internal helper for testing with isolated flag sets.
func parsePeerConfigWithFlagSet(fs *flag.FlagSet, args []string) (PeerConfig, error) {
	cfg := Defaults()

	// Read from environment first
	var errs []error
	if v := env("BIND"); v != "" {
		cfg.Bind = v
	}
	if v := env("PORT"); v != "" {
		errs = append(errs, setInt(&cfg.ChatPort, "PORT", v))
	}
	if v := env("FILE_PORT"); v != "" {
		errs = append(errs, setInt(&cfg.FilePort, "FILE_PORT", v))
	}
	if v := env("RECV_DIR"); v != "" {
		cfg.RecvDir = v
	}
	if v := env("CHUNK_SIZE"); v != "" {
		errs = append(errs, setInt(&cfg.ChunkSize, "CHUNK_SIZE", v))
	}
	if v := env("SECRET_BYTES"); v != "" {
		errs = append(errs, setInt(&cfg.SecretBytes, "SECRET_BYTES", v))
	}
	if v := env("FILE_TRANSPORT"); v != "" {
		cfg.FileTransport = transport.Kind(v)
	}
	if v := env("STUN_SERVERS"); v != "" {
		cfg.StunServers = splitList(v)
	}
	if v := env("LOG_LEVEL"); v != "" {
		cfg.LogLevel = v
	}
	if err := errors.Join(errs...); err != nil {
		return cfg, err
	}

	// Flags override environment
	transportName := string(cfg.FileTransport)
	stun := make([]string, 0)
	fs.StringVar(&cfg.Bind, "bind", cfg.Bind, "local address to advertise (default: auto-detect)")
	fs.IntVar(&cfg.ChatPort, "port", cfg.ChatPort, "chat port")
	fs.IntVar(&cfg.FilePort, "file-port", cfg.FilePort, "file transfer port")
	fs.StringVar(&cfg.RecvDir, "recv-dir", cfg.RecvDir, "directory for received files")
	fs.IntVar(&cfg.ChunkSize, "chunk-size", cfg.ChunkSize, "chunk size in bytes for file transfer")
	fs.IntVar(&cfg.SecretBytes, "secret-bytes", cfg.SecretBytes, "random bytes in the generated secret")
	fs.StringVar(&transportName, "file-transport", transportName, "file transport (tcp, quic)")
	fs.Var((*stringSlice)(&stun), "stun-server", "STUN server host:port (repeatable)")
	fs.BoolVar(&cfg.Tunnel, "tunnel", cfg.Tunnel, "print a serveo reverse tunnel command when hosting")
	fs.StringVar(&cfg.LogLevel, "log-level", cfg.LogLevel, "log level (debug, info, warn, error)")
	if err := fs.Parse(args); err != nil {
		return cfg, err
	}
	cfg.Args = fs.Args()
	cfg.FileTransport = transport.Kind(transportName)
	if len(stun) > 0 {
		cfg.StunServers = stun
	}

	return cfg, cfg.Validate()
}

// Validate checks ranges and enumerations.
func (c PeerConfig) Validate() error {
	var errs []error
	for _, p := range []struct {
		name string
		port int
	}{{"port", c.ChatPort}, {"file-port", c.FilePort}} {
		if p.port < 0 || p.port > 65535 {
			errs = append(errs, fmt.Errorf("%s %d out of range", p.name, p.port))
		}
	}
	if c.ChatPort != 0 && c.ChatPort == c.FilePort {
		errs = append(errs, fmt.Errorf("port and file-port must differ (both %d)", c.ChatPort))
	}
	if c.ChunkSize <= 0 {
		errs = append(errs, fmt.Errorf("chunk-size must be positive, got %d", c.ChunkSize))
	}
	if c.SecretBytes < 1 || c.SecretBytes > 64 {
		errs = append(errs, fmt.Errorf("secret-bytes must be 1..64, got %d", c.SecretBytes))
	}
	if _, err := transport.ParseKind(string(c.FileTransport)); err != nil {
		errs = append(errs, err)
	}
	if c.RecvDir == "" {
		errs = append(errs, errors.New("recv-dir must not be empty"))
	}
	return errors.Join(errs...)
}

func env(key string) string {
	return strings.TrimSpace(os.Getenv(envPrefix + key))
}

func setInt(dst *int, key, v string) error {
	n, err := strconv.Atoi(v)
	if err != nil {
		return fmt.Errorf("%s%s: %w", envPrefix, key, err)
	}
	*dst = n
	return nil
}

func splitList(v string) []string {
	var out []string
	for _, part := range strings.Split(v, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

// stringSlice implements flag.Value for repeatable string flags.
type stringSlice []string

func (s *stringSlice) String() string {
	if s == nil {
		return ""
	}
	return strings.Join(*s, ",")
}

func (s *stringSlice) Set(value string) error {
	*s = append(*s, value)
	return nil
}

func (s *stringSlice) Get() interface{} {
	return []string(*s)
}

var _ flag.Value = (*stringSlice)(nil)
var _ flag.Getter = (*stringSlice)(nil)
