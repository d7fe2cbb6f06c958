package server

import (
	"bytes"
	"errors"

	"github.com/OkutaniDaichi0106/quicfeed/stream"
)

var errInvalidView = errors.New("server: view is not bound to a pair")

// Producer is the application side of a Pair. Every Step appends one
// chunk of payload for the streams to send and discards what clients sent.
type Producer struct {
	view    stream.View
	chunk   []byte
	metrics *Metrics
}

// NewProducer creates a Producer writing through view, which must be the
// application-side view of a Pair.
func NewProducer(view stream.View, config *StreamConfig, metrics *Metrics) (*Producer, error) {
	if !view.Valid() {
		return nil, errInvalidView
	}
	if metrics == nil {
		metrics = NewMetrics(nil)
	}

	return &Producer{
		view:    view,
		chunk:   bytes.Repeat([]byte{config.fillByte()}, config.fillChunk()),
		metrics: metrics,
	}, nil
}

func (p *Producer) Step() {
	p.view.Append(p.chunk)
	p.metrics.ProducedBytes.Add(float64(len(p.chunk)))

	n, _ := p.view.Reader().Drain(func(b []byte) (int, error) {
		return len(b), nil
	})
	if n > 0 {
		p.metrics.InboundBytes.Add(float64(n))
	}
}
