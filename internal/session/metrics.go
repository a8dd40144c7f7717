package session

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// 会话终止原因
const (
	outcomeCompleted = "completed"
	outcomeFailed    = "failed"
	outcomeTimeout   = "timeout"
	outcomeShutdown  = "shutdown"
	outcomeBootstrap = "bootstrap_failed"
)

var (
	sessionsActive = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "chunkdrop",
		Name:      "sessions_active",
		Help:      "Number of upload sessions with a live worker",
	})

	sessionsFinished = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "chunkdrop",
			Name:      "sessions_finished_total",
			Help:      "Upload sessions that reached a terminal state, by outcome",
		},
		[]string{"outcome"},
	)

	uploadBytes = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "chunkdrop",
		Name:      "upload_bytes_total",
		Help:      "Bytes appended to upload destinations",
	})
)
