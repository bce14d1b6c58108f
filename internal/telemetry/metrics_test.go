package telemetry

import (
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/ryandielhenn/clocknet/pkg/events"
)

func TestInstrumentCountsStatusClass(t *testing.T) {
	h := Instrument("test_op", http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("fail") != "" {
			http.Error(w, "nope", http.StatusNotFound)
			return
		}
		_, _ = io.WriteString(w, "ok")
	}))

	ok := testutil.ToFloat64(RequestsTotal.WithLabelValues("test_op", "2xx"))
	bad := testutil.ToFloat64(RequestsTotal.WithLabelValues("test_op", "4xx"))

	h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/", nil))
	h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/?fail=1", nil))

	if got := testutil.ToFloat64(RequestsTotal.WithLabelValues("test_op", "2xx")); got != ok+1 {
		t.Fatalf("2xx = %v, want %v", got, ok+1)
	}
	if got := testutil.ToFloat64(RequestsTotal.WithLabelValues("test_op", "4xx")); got != bad+1 {
		t.Fatalf("4xx = %v, want %v", got, bad+1)
	}
	if got := testutil.ToFloat64(InFlight.WithLabelValues("test_op")); got != 0 {
		t.Fatalf("in flight = %v, want 0", got)
	}
}

func TestEventSink(t *testing.T) {
	agents := testutil.ToFloat64(Agents)
	syncs := testutil.ToFloat64(Synchronizations)
	sent := testutil.ToFloat64(ProtocolRequests.WithLabelValues("SYN", OutcomeOK))
	failed := testutil.ToFloat64(ProtocolRequests.WithLabelValues("CLK", OutcomeFailed))
	handler := testutil.ToFloat64(ProtocolRequests.WithLabelValues("SYN", OutcomeHandlerFailed))

	EventSink.Emit(events.Event{Kind: events.AgentStarted, Agent: "127.0.0.1:9001", Value: 7})
	if got := testutil.ToFloat64(ClockValue.WithLabelValues("127.0.0.1:9001")); got != 7 {
		t.Fatalf("clock_value = %v, want 7", got)
	}
	EventSink.Emit(events.Event{Kind: events.ClockSynchronized, Agent: "127.0.0.1:9001", Value: 50})
	EventSink.Emit(events.Event{Kind: events.RequestSent, Flag: "SYN", Duration: time.Millisecond})
	EventSink.Emit(events.Event{Kind: events.RequestFailed, Flag: "CLK", Duration: time.Millisecond})
	EventSink.Emit(events.Event{Kind: events.RequestFailed, Flag: "SYN", ConnID: "c1"})

	if got := testutil.ToFloat64(ClockValue.WithLabelValues("127.0.0.1:9001")); got != 50 {
		t.Fatalf("clock_value = %v, want 50", got)
	}
	if got := testutil.ToFloat64(Agents); got != agents+1 {
		t.Fatalf("agents = %v, want %v", got, agents+1)
	}
	if got := testutil.ToFloat64(Synchronizations); got != syncs+1 {
		t.Fatalf("synchronizations = %v, want %v", got, syncs+1)
	}
	if got := testutil.ToFloat64(ProtocolRequests.WithLabelValues("SYN", OutcomeOK)); got != sent+1 {
		t.Fatalf("SYN ok = %v, want %v", got, sent+1)
	}
	if got := testutil.ToFloat64(ProtocolRequests.WithLabelValues("CLK", OutcomeFailed)); got != failed+1 {
		t.Fatalf("CLK failed = %v, want %v", got, failed+1)
	}
	if got := testutil.ToFloat64(ProtocolRequests.WithLabelValues("SYN", OutcomeHandlerFailed)); got != handler+1 {
		t.Fatalf("SYN handler_failed = %v, want %v", got, handler+1)
	}

	EventSink.Emit(events.Event{Kind: events.AgentStopped, Agent: "127.0.0.1:9001"})
	if got := testutil.ToFloat64(Agents); got != agents {
		t.Fatalf("agents after stop = %v, want %v", got, agents)
	}
}

func TestMetricsHandler(t *testing.T) {
	SetBuildInfo("test", "deadbeef")
	rec := httptest.NewRecorder()
	MetricsHandler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	body := rec.Body.String()
	for _, name := range []string{"clocknet_build_info", "clocknet_uptime_seconds", "clocknet_agents"} {
		if !strings.Contains(body, name) {
			t.Fatalf("/metrics missing %s", name)
		}
	}
}
