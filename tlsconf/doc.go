// Package tlsconf provides the TLS configuration of the QUIC server:
// certificate loading, self-signed certificates for local runs and the
// fixed application protocol list.
package tlsconf
