package quicgo

import (
	"time"

	quicgo_quicgo "github.com/quic-go/quic-go"
	"github.com/quic-go/quic-go/qlog"
)

// QUICConfig contains configuration options passed to quic-go.
// See github.com/quic-go/quic-go.Config for available options.
type QUICConfig = quicgo_quicgo.Config

// Config contains configuration options for the quic-go engine adapter.
type Config struct {
	// QUICConfig is handed to quic-go. If nil, quic-go's defaults are used.
	QUICConfig *QUICConfig

	// SendWindow is the number of bytes a stream accepts from Write before
	// the background writer has handed them to quic-go.
	// If zero, 64 KiB is used.
	SendWindow int

	// ReceiveQueue is the number of datagrams PacketIn buffers for quic-go.
	// If zero, 1024 is used.
	ReceiveQueue int

	// Linger bounds how long a closing connection waits for stream data to
	// flush and for the peer to close first.
	// If zero, 5 seconds is used.
	Linger time.Duration

	// QLog enables qlog tracing into the directory named by QLOGDIR.
	QLog bool
}

func (c *Config) sendWindow() int {
	if c != nil && c.SendWindow > 0 {
		return c.SendWindow
	}
	return 64 << 10
}

func (c *Config) receiveQueue() int {
	if c != nil && c.ReceiveQueue > 0 {
		return c.ReceiveQueue
	}
	return 1 << 10
}

func (c *Config) linger() time.Duration {
	if c != nil && c.Linger > 0 {
		return c.Linger
	}
	return 5 * time.Second
}

// quicConfig returns the quic-go configuration to listen with.
func (c *Config) quicConfig() *QUICConfig {
	var conf *QUICConfig
	if c != nil && c.QUICConfig != nil {
		conf = c.QUICConfig.Clone()
	} else {
		conf = &QUICConfig{}
	}

	if c != nil && c.QLog && conf.Tracer == nil {
		conf.Tracer = qlog.DefaultConnectionTracer
	}

	return conf
}

// Clone creates a copy of the Config.
func (c *Config) Clone() *Config {
	if c == nil {
		return nil
	}

	clone := *c
	if c.QUICConfig != nil {
		clone.QUICConfig = c.QUICConfig.Clone()
	}
	return &clone
}
