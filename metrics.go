package wsrm

import (
	"github.com/coregx/wsrm/model"
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics are the Prometheus collectors updated by the engine.
type Metrics struct {
	MessagesSent     *prometheus.CounterVec
	Retransmissions  prometheus.Counter
	DeliveryFailures prometheus.Counter
	Acknowledged     prometheus.Counter
	Transitions      *prometheus.CounterVec
	TimedOut         prometheus.Counter
}

// NewMetrics creates the collectors and registers them with reg. A nil reg leaves
// them unregistered.
func NewMetrics(reg prometheus.Registerer) (*Metrics, error) {
	m := &Metrics{
		MessagesSent: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "wsrm_messages_sent_total",
			Help: "Messages handed to the transport, by kind (application, control, acknowledgement).",
		}, []string{"kind"}),
		Retransmissions: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "wsrm_retransmissions_total",
			Help: "Retransmissions of unacknowledged messages.",
		}),
		DeliveryFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "wsrm_delivery_failures_total",
			Help: "Messages that exhausted their retransmission budget.",
		}),
		Acknowledged: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "wsrm_acknowledged_messages_total",
			Help: "Application messages acknowledged by the peer.",
		}),
		Transitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "wsrm_sequence_transitions_total",
			Help: "Sequence state transitions, by direction and new status.",
		}, []string{"direction", "status"}),
		TimedOut: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "wsrm_sequences_timed_out_total",
			Help: "Sequences expired by the inactivity sweep.",
		}),
	}

	if reg != nil {
		for _, c := range []prometheus.Collector{
			m.MessagesSent, m.Retransmissions, m.DeliveryFailures, m.Acknowledged, m.Transitions, m.TimedOut,
		} {
			if err := reg.Register(c); err != nil {
				return nil, NewErrorWithCause(ErrCodeConfiguration, "failed to register metrics", err)
			}
		}
	}

	return m, nil
}

func (m *Metrics) sent(t model.MessageType) {
	kind := "control"
	switch t {
	case model.MessageApplication:
		kind = "application"
	case model.MessageAcknowledgement:
		kind = "acknowledgement"
	}
	m.MessagesSent.WithLabelValues(kind).Inc()
}

func (m *Metrics) transition(d model.Direction, s model.SequenceStatus) {
	m.Transitions.WithLabelValues(string(d), string(s)).Inc()
	if s == model.StatusTimedOut {
		m.TimedOut.Inc()
	}
}
