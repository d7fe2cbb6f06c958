package server

import (
	"net"
	"time"

	"github.com/OkutaniDaichi0106/quicfeed/quic"
	"github.com/stretchr/testify/mock"
)

var _ quic.Engine = (*MockEngine)(nil)

// MockEngine is a mock implementation of quic.Engine using testify/mock
type MockEngine struct {
	mock.Mock
	PacketInFunc           func(p []byte, local, peer net.Addr) (quic.PacketResult, error)
	ProcessConnectionsFunc func()
}

func (m *MockEngine) PacketIn(p []byte, local, peer net.Addr) (quic.PacketResult, error) {
	if m.PacketInFunc != nil {
		return m.PacketInFunc(p, local, peer)
	}
	args := m.Called(p, local, peer)
	return args.Get(0).(quic.PacketResult), args.Error(1)
}

func (m *MockEngine) ProcessConnections() {
	if m.ProcessConnectionsFunc != nil {
		m.ProcessConnectionsFunc()
		return
	}
	m.Called()
}

func (m *MockEngine) EarliestDeadline() (time.Duration, bool) {
	args := m.Called()
	return args.Get(0).(time.Duration), args.Bool(1)
}

func (m *MockEngine) Close() error {
	args := m.Called()
	return args.Error(0)
}

// mockEngineFactory returns a factory handing out engine and recording
// the params it was called with.
func mockEngineFactory(engine quic.Engine, params *quic.EngineParams) quic.EngineFactory {
	return func(p quic.EngineParams) (quic.Engine, error) {
		if params != nil {
			*params = p
		}
		return engine, nil
	}
}
