package stream

import "github.com/prometheus/client_golang/prometheus"

var (
	framesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pipelined_stream_frames_total",
			Help: "Frames handled by stream destinations by result (injected, skipped, dropped).",
		},
		[]string{"protocol", "result"},
	)
	packetsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pipelined_stream_packets_total",
			Help: "Encoded packets relayed to viewers.",
		},
		[]string{"protocol"},
	)
	streamsActive = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "pipelined_streams_active",
			Help: "Mounted streams per protocol.",
		},
		[]string{"protocol"},
	)
)

func init() {
	prometheus.MustRegister(framesTotal, packetsTotal, streamsActive)
}
