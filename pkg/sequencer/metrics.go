package sequencer

import (
	"github.com/prometheus/client_golang/prometheus"
)

var (
	opsSubmitted = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "clipshare_sequencer_ops_submitted_total",
		Help: "Operations accepted into a sequencer queue.",
	}, []string{"sequencer"})

	opsCompleted = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "clipshare_sequencer_ops_completed_total",
		Help: "Operations that ran and returned without error.",
	}, []string{"sequencer"})

	opsFailed = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "clipshare_sequencer_ops_failed_total",
		Help: "Operations that returned an error, panicked, or were skipped.",
	}, []string{"sequencer"})

	opsRejected = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "clipshare_sequencer_ops_rejected_total",
		Help: "Submissions refused because the sequencer was closed.",
	}, []string{"sequencer"})

	queueDepth = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "clipshare_sequencer_queue_depth",
		Help: "Operations queued or running.",
	}, []string{"sequencer"})

	opDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "clipshare_sequencer_op_duration_seconds",
		Help:    "Time an operation held the channel.",
		Buckets: prometheus.ExponentialBuckets(0.0005, 4, 9),
	}, []string{"sequencer"})
)

func init() {
	prometheus.MustRegister(opsSubmitted, opsCompleted, opsFailed, opsRejected, queueDepth, opDuration)
}
