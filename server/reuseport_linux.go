//go:build linux

package server

import (
	"net"
	"syscall"

	"golang.org/x/sys/unix"
)

// reusePortSupported reports whether several shards can share a port.
const reusePortSupported = true

// listenConfig returns a ListenConfig whose sockets set SO_REUSEPORT so
// that every shard can bind the same address.
func listenConfig(shards int) net.ListenConfig {
	if shards <= 1 {
		return net.ListenConfig{}
	}

	return net.ListenConfig{
		Control: func(network, address string, c syscall.RawConn) error {
			var sockErr error
			err := c.Control(func(fd uintptr) {
				sockErr = unix.SetsockoptInt(int(fd), unix.SOL_SOCKET, unix.SO_REUSEPORT, 1)
			})
			if err != nil {
				return err
			}
			return sockErr
		},
	}
}
