package server

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics contains the Prometheus metrics shared by every loop of a server.
type Metrics struct {
	// Datagram metrics
	DatagramsReceived  prometheus.Counter
	DatagramsOversized prometheus.Counter
	PacketIn           *prometheus.CounterVec
	EngineErrors       prometheus.Counter
	Ticks              prometheus.Counter

	// Egress metrics
	EgressSent       prometheus.Counter
	EgressErrors     *prometheus.CounterVec
	EgressQueueDepth prometheus.Gauge

	// Connection and stream metrics
	ActiveConnections prometheus.Gauge
	ActiveStreams     prometheus.Gauge
	ConnectionAborts  prometheus.Counter
	ConnectionCloses  prometheus.Counter
	ReadAnomalies     prometheus.Counter
	StreamBytesSent   prometheus.Counter

	// Payload metrics
	ProducedBytes prometheus.Counter
	InboundBytes  prometheus.Counter
}

// NewMetrics creates the metrics and registers them on reg.
// With a nil reg the metrics are not registered anywhere.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)

	return &Metrics{
		DatagramsReceived: factory.NewCounter(prometheus.CounterOpts{
			Name: "quicfeed_datagrams_received_total",
			Help: "Total number of UDP datagrams received",
		}),
		DatagramsOversized: factory.NewCounter(prometheus.CounterOpts{
			Name: "quicfeed_datagrams_oversized_total",
			Help: "Total number of datagrams dropped for exceeding the maximum size",
		}),
		PacketIn: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "quicfeed_packet_in_total",
			Help: "Total number of datagrams handed to the engine by result",
		}, []string{"result"}),
		EngineErrors: factory.NewCounter(prometheus.CounterOpts{
			Name: "quicfeed_engine_errors_total",
			Help: "Total number of datagrams the engine failed to process",
		}),
		Ticks: factory.NewCounter(prometheus.CounterOpts{
			Name: "quicfeed_engine_ticks_total",
			Help: "Total number of engine ticks",
		}),

		EgressSent: factory.NewCounter(prometheus.CounterOpts{
			Name: "quicfeed_egress_sent_total",
			Help: "Total number of datagrams sent",
		}),
		EgressErrors: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "quicfeed_egress_errors_total",
			Help: "Total number of datagrams that could not be sent by reason",
		}, []string{"reason"}),
		EgressQueueDepth: factory.NewGauge(prometheus.GaugeOpts{
			Name: "quicfeed_egress_queue_depth",
			Help: "Current number of datagrams waiting to be sent",
		}),

		ActiveConnections: factory.NewGauge(prometheus.GaugeOpts{
			Name: "quicfeed_active_connections",
			Help: "Current number of QUIC connections",
		}),
		ActiveStreams: factory.NewGauge(prometheus.GaugeOpts{
			Name: "quicfeed_active_streams",
			Help: "Current number of QUIC streams",
		}),
		ConnectionAborts: factory.NewCounter(prometheus.CounterOpts{
			Name: "quicfeed_connection_aborts_total",
			Help: "Total number of connections aborted after a stream error",
		}),
		ConnectionCloses: factory.NewCounter(prometheus.CounterOpts{
			Name: "quicfeed_connection_closes_total",
			Help: "Total number of connections closed after a finished stream",
		}),
		ReadAnomalies: factory.NewCounter(prometheus.CounterOpts{
			Name: "quicfeed_read_anomalies_total",
			Help: "Total number of unexpected reads of client data",
		}),
		StreamBytesSent: factory.NewCounter(prometheus.CounterOpts{
			Name: "quicfeed_stream_bytes_sent_total",
			Help: "Total number of stream bytes accepted by the engine",
		}),

		ProducedBytes: factory.NewCounter(prometheus.CounterOpts{
			Name: "quicfeed_produced_bytes_total",
			Help: "Total number of payload bytes produced",
		}),
		InboundBytes: factory.NewCounter(prometheus.CounterOpts{
			Name: "quicfeed_inbound_bytes_total",
			Help: "Total number of client bytes discarded by the producer",
		}),
	}
}
