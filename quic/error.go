package quic

import (
	"crypto/tls"
	"errors"
	"net"
)

var (
	// ErrWouldBlock is returned by Stream.Read when no data is available yet.
	ErrWouldBlock = errors.New("quic: operation would block")

	// ErrEngineClosed is returned by an Engine after Close.
	ErrEngineClosed = errors.New("quic: engine closed")

	// ErrWriteShutdown is returned by Stream.Write after the write side was shut down.
	ErrWriteShutdown = errors.New("quic: write side shut down")
)

// Application error codes used when closing connections.
type ApplicationErrorCode uint64

const (
	NoError       ApplicationErrorCode = 0x0
	InternalError ApplicationErrorCode = 0x1
)

// TLSProvider supplies the TLS configuration the engine uses for
// connections arriving on a local address.
type TLSProvider interface {
	TLSConfig(local net.Addr) (*tls.Config, error)
}

// TLSProviderFunc adapts a function to TLSProvider.
type TLSProviderFunc func(local net.Addr) (*tls.Config, error)

func (f TLSProviderFunc) TLSConfig(local net.Addr) (*tls.Config, error) {
	return f(local)
}
