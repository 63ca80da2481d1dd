package goMFA

import (
	"io"
	"log/slog"

	internalaudit "github.com/MrEthical07/goMFA/internal/audit"
)

// AuditEvent is a structured audit record emitted by the engine. Codes,
// secrets and passwords never appear in it.
type AuditEvent = internalaudit.Event

// AuditSink receives [AuditEvent] values from the engine's audit dispatcher.
type AuditSink = internalaudit.Sink

// NoOpSink is an [AuditSink] that silently discards all events.
type NoOpSink = internalaudit.NoOpSink

// ChannelSink is a buffered channel-based [AuditSink].
type ChannelSink = internalaudit.ChannelSink

// JSONWriterSink is an [AuditSink] that writes one JSON object per line to
// an [io.Writer].
type JSONWriterSink = internalaudit.JSONWriterSink

// NewChannelSink creates a [ChannelSink] with the given buffer capacity.
func NewChannelSink(buffer int) *ChannelSink {
	return internalaudit.NewChannelSink(buffer)
}

// NewJSONWriterSink creates a [JSONWriterSink] that writes to w.
func NewJSONWriterSink(w io.Writer) *JSONWriterSink {
	return internalaudit.NewJSONWriterSink(w)
}

// SlogSink is an [AuditSink] that logs events through a [slog.Logger].
type SlogSink = internalaudit.SlogSink

// MultiSink is an [AuditSink] that forwards each event to several sinks.
type MultiSink = internalaudit.MultiSink

// NewSlogSink creates a [SlogSink]. A nil logger uses slog.Default.
func NewSlogSink(logger *slog.Logger) *SlogSink {
	return internalaudit.NewSlogSink(logger)
}
