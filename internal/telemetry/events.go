package telemetry

import (
	"github.com/ryandielhenn/clocknet/pkg/events"
)

// Outcome labels of protocol_requests_total.
const (
	OutcomeOK            = "ok"
	OutcomeFailed        = "failed"
	OutcomeReceived      = "received"
	OutcomeHandlerFailed = "handler_failed"
	OutcomeIncorrectFlag = "incorrect_flag"
	OutcomeMalformed     = "malformed"
)

// EventSink turns protocol events into metrics. Add it to the agents' sink
// with events.Multi.
var EventSink events.Sink = events.SinkFunc(observe)

func observe(e events.Event) {
	switch e.Kind {
	case events.AgentStarted:
		Agents.Inc()
		ClockValue.WithLabelValues(e.Agent).Set(float64(e.Value))
	case events.AgentStopped:
		Agents.Dec()
		ClockValue.DeleteLabelValues(e.Agent)
	case events.JoinCompleted:
		ClockValue.WithLabelValues(e.Agent).Set(float64(e.Value))
	case events.ClockSynchronized:
		Synchronizations.Inc()
		ClockValue.WithLabelValues(e.Agent).Set(float64(e.Value))
	case events.RequestSent:
		ProtocolRequests.WithLabelValues(e.Flag, OutcomeOK).Inc()
		RPCDuration.WithLabelValues(e.Flag).Observe(e.Duration.Seconds())
	case events.RequestFailed:
		// Server-side handler failures carry the connection they happened on.
		if e.ConnID != "" {
			ProtocolRequests.WithLabelValues(e.Flag, OutcomeHandlerFailed).Inc()
			return
		}
		ProtocolRequests.WithLabelValues(e.Flag, OutcomeFailed).Inc()
		RPCDuration.WithLabelValues(e.Flag).Observe(e.Duration.Seconds())
	case events.FlagReceived:
		ProtocolRequests.WithLabelValues(e.Flag, OutcomeReceived).Inc()
	case events.IncorrectFlag:
		ProtocolRequests.WithLabelValues(e.Flag, OutcomeIncorrectFlag).Inc()
	case events.MalformedSegment:
		ProtocolRequests.WithLabelValues("", OutcomeMalformed).Inc()
	}
}
