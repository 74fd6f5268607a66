package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	MessagesSent = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "chat_messages_sent_total",
		Help: "Messages written to conversations",
	}, []string{"type"})

	CallTransitions = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "chat_call_transitions_total",
		Help: "Call status transitions",
	}, []string{"status"})

	CallsRejected = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "chat_calls_rejected_total",
		Help: "Call initiations rejected by the busy pre-check",
	}, []string{"reason"})

	Uploads = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "chat_media_uploads_total",
		Help: "Media uploads by result",
	}, []string{"result"})

	ActiveStreams = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "chat_ws_active_streams",
		Help: "Active websocket listener streams",
	})

	once sync.Once
)

func Init() {
	once.Do(func() {
		prometheus.MustRegister(MessagesSent, CallTransitions, CallsRejected, Uploads, ActiveStreams)
	})
}
