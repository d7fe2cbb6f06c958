//go:build !linux

package server

import "net"

const reusePortSupported = false

func listenConfig(int) net.ListenConfig {
	return net.ListenConfig{}
}
