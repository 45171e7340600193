package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const (
	TargetForward = "forward"
	TargetReply   = "reply"

	ReasonInvalidUTF8 = "invalid_utf8"
)

var (
	BuildInfo = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "pinger_build_info",
			Help: "Build information of the pinger",
		},
		[]string{"version", "commit", "date"},
	)

	DatagramsReceived = promauto.NewCounter(prometheus.CounterOpts{
		Name: "pinger_datagrams_received_total",
		Help: "Total number of datagrams received on the pinger socket",
	})

	DatagramsRejected = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "pinger_datagrams_rejected_total",
		Help: "Total number of received datagrams that were not answered",
	}, []string{"reason"})

	DatagramsSent = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "pinger_datagrams_sent_total",
		Help: "Total number of datagrams sent by the pinger",
	}, []string{"target"})

	SendErrors = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "pinger_send_errors_total",
		Help: "Total number of failed datagram sends",
	}, []string{"target"})

	ReadErrors = promauto.NewCounter(prometheus.CounterOpts{
		Name: "pinger_read_errors_total",
		Help: "Total number of socket read errors",
	})
)
