package tlsconf

import (
	"crypto/tls"
	"fmt"
	"log/slog"
	"net"
	"slices"

	"github.com/OkutaniDaichi0106/quicfeed/quic"
)

var _ quic.TLSProvider = (*Provider)(nil)

// Provider hands out TLS 1.3 server configurations for one certificate.
type Provider struct {
	cert tls.Certificate

	/*
	 * Logger
	 */
	Logger *slog.Logger
}

// newProvider creates a Provider serving cert.
func newProvider(cert tls.Certificate) *Provider {
	return &Provider{cert: cert}
}

// LoadCertificate reads a PEM certificate chain and private key.
func LoadCertificate(certPath, keyPath string) (*Provider, error) {
	cert, err := tls.LoadX509KeyPair(certPath, keyPath)
	if err != nil {
		return nil, fmt.Errorf("tlsconf: failed to load certificate: %w", err)
	}
	return newProvider(cert), nil
}

// Certificate returns the served certificate.
func (p *Provider) Certificate() tls.Certificate {
	return p.cert
}

// TLSConfig returns the configuration for connections arriving on local.
// ALPN is negotiated per ClientHello with SelectProtocol.
func (p *Provider) TLSConfig(local net.Addr) (*tls.Config, error) {
	logger := p.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}

	base := &tls.Config{
		MinVersion:   tls.VersionTLS13,
		MaxVersion:   tls.VersionTLS13,
		Certificates: []tls.Certificate{p.cert},
		NextProtos:   slices.Clone(Protocols),
	}

	conf := base.Clone()
	conf.GetConfigForClient = func(hello *tls.ClientHelloInfo) (*tls.Config, error) {
		proto, err := SelectProtocol(hello.SupportedProtos)
		if err != nil {
			logger.Error("no supported protocol can be selected",
				"local_address", local,
				"offered", hello.SupportedProtos,
			)
			return nil, err
		}

		selected := base.Clone()
		selected.NextProtos = []string{proto}
		return selected, nil
	}

	return conf, nil
}
