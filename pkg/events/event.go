// Package events carries protocol events from agents to whoever formats,
// stores or counts them. Agents never format log lines themselves; they emit
// Events to a Sink.
package events

import (
	"fmt"
	"strings"
	"time"
)

type Kind string

const (
	AgentStarted       Kind = "agent_started"
	JoinStarted        Kind = "join_started"
	JoinCompleted      Kind = "join_completed"
	JoinFailed         Kind = "join_failed"
	LeaveStarted       Kind = "leave_started"
	LeaveCompleted     Kind = "leave_completed"
	AgentStopped       Kind = "agent_stopped"
	ServerWaiting      Kind = "server_waiting"
	ConnAccepted       Kind = "conn_accepted"
	FlagReceived       Kind = "flag_received"
	IncorrectFlag      Kind = "incorrect_flag"
	MalformedSegment   Kind = "malformed_segment"
	MembershipSent     Kind = "membership_sent"
	ClockSent          Kind = "clock_sent"
	MemberAdded        Kind = "member_added"
	MemberRemoved      Kind = "member_removed"
	ClockSynchronized  Kind = "clock_synchronized"
	ConnFinished       Kind = "conn_finished"
	RequestSent        Kind = "request_sent"
	RequestFailed      Kind = "request_failed"
	AverageComputed    Kind = "average_computed"
	MembershipReceived Kind = "membership_received"
)

// Event is one protocol occurrence. Zero fields are not meaningful for the
// given Kind.
type Event struct {
	Time     time.Time
	Agent    string // identity of the agent reporting the event
	Kind     Kind
	Peer     string // the other side, if any
	Flag     string
	ConnID   string
	Value    int64 // clock value or average
	Members  int
	Duration time.Duration
	Err      error
}

// Text renders the event as a human readable line without timestamp.
func (e Event) Text() string {
	var b strings.Builder
	b.WriteString(e.Agent)
	b.WriteString(" -> ")
	switch e.Kind {
	case AgentStarted:
		fmt.Fprintf(&b, "created with clock %d", e.Value)
	case JoinStarted:
		fmt.Fprintf(&b, "joining through introducer %s", e.Peer)
	case JoinCompleted:
		fmt.Fprintf(&b, "joined, %d members, clock %d", e.Members, e.Value)
	case JoinFailed:
		fmt.Fprintf(&b, "join through %s failed", e.Peer)
	case LeaveStarted:
		fmt.Fprintf(&b, "leaving, notifying %d members", e.Members)
	case LeaveCompleted:
		b.WriteString("left the network")
	case AgentStopped:
		b.WriteString("stopped")
	case ServerWaiting:
		b.WriteString("waiting for a connection ...")
	case ConnAccepted:
		fmt.Fprintf(&b, "connection accepted from %s", e.Peer)
	case FlagReceived:
		fmt.Fprintf(&b, "flag %s received from %s", e.Flag, e.Peer)
	case IncorrectFlag:
		fmt.Fprintf(&b, "incorrect flag %q from %s", e.Flag, e.Peer)
	case MalformedSegment:
		fmt.Fprintf(&b, "malformed segment from %s", e.Peer)
	case MembershipSent:
		fmt.Fprintf(&b, "agents list (%d) sent to %s", e.Members, e.Peer)
	case ClockSent:
		fmt.Fprintf(&b, "clock value %d sent to %s", e.Value, e.Peer)
	case MemberAdded:
		fmt.Fprintf(&b, "updated list with %s", e.Peer)
	case MemberRemoved:
		fmt.Fprintf(&b, "deleted agent %s", e.Peer)
	case ClockSynchronized:
		fmt.Fprintf(&b, "clock synchronized to %d", e.Value)
	case ConnFinished:
		fmt.Fprintf(&b, "connection finished with %s", e.Peer)
	case RequestSent:
		fmt.Fprintf(&b, "%s sent to %s (%s)", e.Flag, e.Peer, e.Duration)
	case RequestFailed:
		fmt.Fprintf(&b, "%s to %s failed", e.Flag, e.Peer)
	case AverageComputed:
		fmt.Fprintf(&b, "average over %d agents is %d", e.Members+1, e.Value)
	case MembershipReceived:
		fmt.Fprintf(&b, "received agents list (%d) from %s", e.Members, e.Peer)
	default:
		b.WriteString(string(e.Kind))
	}
	if e.Err != nil {
		b.WriteString(": ")
		b.WriteString(e.Err.Error())
	}
	return b.String()
}

// Line renders the event the way the activity log stores it.
func (e Event) Line() string {
	return e.Time.Format(TimeLayout) + ": " + e.Text()
}

// TimeLayout is the activity log timestamp format (milliseconds).
const TimeLayout = "15:04:05.000"

type Sink interface {
	Emit(Event)
}

// SinkFunc adapts a function to Sink.
type SinkFunc func(Event)

func (f SinkFunc) Emit(e Event) { f(e) }

// Discard drops every event.
var Discard Sink = SinkFunc(func(Event) {})

type multi []Sink

func (m multi) Emit(e Event) {
	for _, s := range m {
		s.Emit(e)
	}
}

// Multi fans an event out to every non-nil sink in order.
func Multi(sinks ...Sink) Sink {
	out := make(multi, 0, len(sinks))
	for _, s := range sinks {
		if s != nil {
			out = append(out, s)
		}
	}
	return out
}
