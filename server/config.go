package server

import (
	"fmt"
	"log/slog"
	"net"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the complete server configuration.
// Zero values fall back to defaults.
type Config struct {
	Listen  ListenConfig  `yaml:"listen"`
	TLS     TLSConfig     `yaml:"tls"`
	Stream  StreamConfig  `yaml:"stream"`
	Engine  EngineConfig  `yaml:"engine"`
	Egress  EgressConfig  `yaml:"egress"`
	Metrics MetricsConfig `yaml:"metrics"`
	Logging LoggingConfig `yaml:"logging"`
}

// ListenConfig contains the UDP socket configuration.
type ListenConfig struct {
	Address string `yaml:"address"`
	Port    int    `yaml:"port"`

	// Shards is the number of loops sharing the port.
	// If zero, one per CPU where the port can be shared, otherwise one.
	Shards int `yaml:"shards"`
}

// TLSConfig names the certificate to serve.
// Without a certificate a self-signed one is generated for SelfSignedOrg.
type TLSConfig struct {
	CertFile      string `yaml:"cert_file"`
	KeyFile       string `yaml:"key_file"`
	SelfSignedOrg string `yaml:"self_signed_org"`
}

// StreamConfig contains the stream payload configuration.
type StreamConfig struct {
	// MaxBytesPerStream is the number of bytes after which a stream is
	// finished and its connection closed.
	MaxBytesPerStream int64 `yaml:"max_bytes_per_stream"`

	// FillChunk is the number of bytes produced per received datagram.
	FillChunk int `yaml:"fill_chunk"`

	// FillByte is the byte the payload is made of.
	FillByte string `yaml:"fill_byte"`
}

// EngineConfig contains the QUIC engine configuration.
type EngineConfig struct {
	// ClockGranularity is the minimum delay the timer is armed with.
	ClockGranularity time.Duration `yaml:"clock_granularity"`

	SendWindow     int           `yaml:"send_window"`
	ReceiveQueue   int           `yaml:"receive_queue"`
	Linger         time.Duration `yaml:"linger"`
	MaxIdleTimeout time.Duration `yaml:"max_idle_timeout"`
	QLog           bool          `yaml:"qlog"`
}

// EgressConfig contains the send queue configuration.
type EgressConfig struct {
	QueueSize int `yaml:"queue_size"`
}

// MetricsConfig contains the Prometheus endpoint configuration.
type MetricsConfig struct {
	Enabled bool   `yaml:"enabled"`
	Address string `yaml:"address"`
}

// LoggingConfig contains the logging configuration.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// LoadConfig reads and validates the YAML configuration at path.
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
	}

	var config Config
	if err := yaml.Unmarshal(data, &config); err != nil {
		return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
	}

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return &config, nil
}

// Validate checks every section of the configuration.
func (c *Config) Validate() error {
	if err := c.Listen.Validate(); err != nil {
		return fmt.Errorf("listen config: %w", err)
	}
	if err := c.TLS.Validate(); err != nil {
		return fmt.Errorf("tls config: %w", err)
	}
	if err := c.Stream.Validate(); err != nil {
		return fmt.Errorf("stream config: %w", err)
	}
	if err := c.Engine.Validate(); err != nil {
		return fmt.Errorf("engine config: %w", err)
	}
	if err := c.Egress.Validate(); err != nil {
		return fmt.Errorf("egress config: %w", err)
	}
	if err := c.Logging.Validate(); err != nil {
		return fmt.Errorf("logging config: %w", err)
	}
	return nil
}

func (l *ListenConfig) Validate() error {
	if l.Port < 0 || l.Port > 65535 {
		return fmt.Errorf("port must be between 0 and 65535, got %d", l.Port)
	}
	if l.Shards < 0 {
		return fmt.Errorf("shards cannot be negative, got %d", l.Shards)
	}
	return nil
}

// Addr returns the host:port to listen on.
func (l *ListenConfig) Addr() string {
	return net.JoinHostPort(l.Address, strconv.Itoa(l.Port))
}

func (t *TLSConfig) Validate() error {
	if (t.CertFile == "") != (t.KeyFile == "") {
		return fmt.Errorf("cert_file and key_file must be set together")
	}
	return nil
}

// SelfSigned reports whether a certificate has to be generated.
func (t *TLSConfig) SelfSigned() bool {
	return t.CertFile == ""
}

// Organization returns the subject organization of a generated certificate.
func (t *TLSConfig) Organization() string {
	if t.SelfSignedOrg != "" {
		return t.SelfSignedOrg
	}
	return "quicfeed"
}

func (s *StreamConfig) Validate() error {
	if s.MaxBytesPerStream < 0 {
		return fmt.Errorf("max_bytes_per_stream cannot be negative, got %d", s.MaxBytesPerStream)
	}
	if s.FillChunk < 0 {
		return fmt.Errorf("fill_chunk cannot be negative, got %d", s.FillChunk)
	}
	if len(s.FillByte) > 1 {
		return fmt.Errorf("fill_byte must be a single byte, got %q", s.FillByte)
	}
	return nil
}

func (s *StreamConfig) maxBytesPerStream() int64 {
	if s != nil && s.MaxBytesPerStream > 0 {
		return s.MaxBytesPerStream
	}
	return 1e8
}

func (s *StreamConfig) fillChunk() int {
	if s != nil && s.FillChunk > 0 {
		return s.FillChunk
	}
	return 0x1000
}

func (s *StreamConfig) fillByte() byte {
	if s != nil && len(s.FillByte) == 1 {
		return s.FillByte[0]
	}
	return 'A'
}

func (e *EngineConfig) Validate() error {
	if e.ClockGranularity < 0 {
		return fmt.Errorf("clock_granularity cannot be negative, got %s", e.ClockGranularity)
	}
	if e.SendWindow < 0 {
		return fmt.Errorf("send_window cannot be negative, got %d", e.SendWindow)
	}
	if e.ReceiveQueue < 0 {
		return fmt.Errorf("receive_queue cannot be negative, got %d", e.ReceiveQueue)
	}
	if e.Linger < 0 {
		return fmt.Errorf("linger cannot be negative, got %s", e.Linger)
	}
	if e.MaxIdleTimeout < 0 {
		return fmt.Errorf("max_idle_timeout cannot be negative, got %s", e.MaxIdleTimeout)
	}
	return nil
}

func (e *EngineConfig) clockGranularity() time.Duration {
	if e != nil && e.ClockGranularity > 0 {
		return e.ClockGranularity
	}
	return time.Millisecond
}

func (e *EgressConfig) Validate() error {
	if e.QueueSize < 0 {
		return fmt.Errorf("queue_size cannot be negative, got %d", e.QueueSize)
	}
	return nil
}

func (e *EgressConfig) queueSize() int {
	if e != nil && e.QueueSize > 0 {
		return e.QueueSize
	}
	return 1 << 10
}

// ListenAddr returns the address of the metrics endpoint.
func (m *MetricsConfig) ListenAddr() string {
	if m.Address != "" {
		return m.Address
	}
	return ":9090"
}

func (l *LoggingConfig) Validate() error {
	switch l.Level {
	case "", "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("level must be one of [debug, info, warn, error], got '%s'", l.Level)
	}

	switch l.Format {
	case "", "text", "json":
	default:
		return fmt.Errorf("format must be 'json' or 'text', got '%s'", l.Format)
	}

	return nil
}

// SlogLevel returns the configured level, info by default.
func (l *LoggingConfig) SlogLevel() slog.Level {
	switch l.Level {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
