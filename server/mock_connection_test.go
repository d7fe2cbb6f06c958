package server

import (
	"net"

	"github.com/OkutaniDaichi0106/quicfeed/quic"
	"github.com/stretchr/testify/mock"
)

var _ quic.Connection = (*MockConnection)(nil)

// MockConnection is a mock implementation of quic.Connection using testify/mock
type MockConnection struct {
	mock.Mock
}

func (m *MockConnection) LocalAddr() net.Addr {
	args := m.Called()
	return args.Get(0).(net.Addr)
}

func (m *MockConnection) RemoteAddr() net.Addr {
	args := m.Called()
	return args.Get(0).(net.Addr)
}

func (m *MockConnection) Close() error {
	args := m.Called()
	return args.Error(0)
}

func (m *MockConnection) Abort() error {
	args := m.Called()
	return args.Error(0)
}
