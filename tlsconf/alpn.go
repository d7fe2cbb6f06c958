package tlsconf

import (
	"errors"
	"slices"
)

// Protocols lists the application protocols the server accepts.
var Protocols = []string{
	"hq-interop",
	"h3-29",
	"hq-28",
	"hq-27",
	"http/0.9",
	"echo",
}

// ErrNoApplicationProtocol is returned when a client offers none of Protocols.
// It aborts the handshake.
var ErrNoApplicationProtocol = errors.New("tlsconf: no supported application protocol offered")

// SelectProtocol returns the first protocol in offered that the server
// supports. The client's order wins.
func SelectProtocol(offered []string) (string, error) {
	for _, proto := range offered {
		if slices.Contains(Protocols, proto) {
			return proto, nil
		}
	}
	return "", ErrNoApplicationProtocol
}
