package events

import (
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

type zapSink struct {
	log *zap.Logger
}

// NewLogger returns a Sink writing events as structured zap entries.
// Protocol traffic is logged at Info, failures at Warn, so the level of the
// logger decides what is shown.
func NewLogger(log *zap.Logger) Sink {
	if log == nil {
		log = zap.NewNop()
	}
	return &zapSink{log: log}
}

func (s *zapSink) Emit(e Event) {
	lvl := zapcore.InfoLevel
	switch e.Kind {
	case ServerWaiting:
		lvl = zapcore.DebugLevel
	case JoinFailed, RequestFailed, MalformedSegment, IncorrectFlag:
		lvl = zapcore.WarnLevel
	}
	ce := s.log.Check(lvl, e.Text())
	if ce == nil {
		return
	}
	fields := make([]zap.Field, 0, 8)
	fields = append(fields, zap.String("agent", e.Agent), zap.String("event", string(e.Kind)))
	if e.Peer != "" {
		fields = append(fields, zap.String("peer", e.Peer))
	}
	if e.Flag != "" {
		fields = append(fields, zap.String("flag", e.Flag))
	}
	if e.ConnID != "" {
		fields = append(fields, zap.String("conn_id", e.ConnID))
	}
	switch e.Kind {
	case AgentStarted, ClockSent, ClockSynchronized, AverageComputed, JoinCompleted:
		fields = append(fields, zap.Int64("clock", e.Value))
	}
	if e.Members > 0 {
		fields = append(fields, zap.Int("members", e.Members))
	}
	if e.Duration > 0 {
		fields = append(fields, zap.Duration("duration", e.Duration))
	}
	if e.Err != nil {
		fields = append(fields, zap.Error(e.Err))
	}
	ce.Write(fields...)
}
