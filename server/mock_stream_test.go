package server

import (
	"github.com/OkutaniDaichi0106/quicfeed/quic"
	"github.com/stretchr/testify/mock"
)

var _ quic.Stream = (*MockStream)(nil)

// MockStream is a mock implementation of quic.Stream using testify/mock
type MockStream struct {
	mock.Mock
	ReadFunc  func(p []byte) (n int, err error)
	WriteFunc func(p []byte) (n int, err error)
}

func (m *MockStream) StreamID() quic.StreamID {
	args := m.Called()
	return args.Get(0).(quic.StreamID)
}

func (m *MockStream) Read(p []byte) (n int, err error) {
	if m.ReadFunc != nil {
		return m.ReadFunc(p)
	}
	args := m.Called(p)
	return args.Int(0), args.Error(1)
}

func (m *MockStream) Write(p []byte) (n int, err error) {
	if m.WriteFunc != nil {
		return m.WriteFunc(p)
	}
	args := m.Called(p)
	return args.Int(0), args.Error(1)
}

func (m *MockStream) WantRead(want bool) {
	m.Called(want)
}

func (m *MockStream) WantWrite(want bool) {
	m.Called(want)
}

func (m *MockStream) Shutdown(dir quic.ShutdownDirection) error {
	args := m.Called(dir)
	return args.Error(0)
}

func (m *MockStream) Connection() quic.Connection {
	args := m.Called()
	return args.Get(0).(quic.Connection)
}
