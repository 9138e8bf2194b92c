package enrollkit

import (
	"context"
	"encoding/json"
	"io"
	"sync"
	"time"

	"go.uber.org/zap"
)

// AttemptRecord is one append-only entry in the authentication attempt
// trail. Every verification or login attempt produces exactly one record,
// successful or not; records are never updated after emission.
type AttemptRecord struct {
	ID         string    `json:"id"`
	Timestamp  time.Time `json:"timestamp"`
	Operation  string    `json:"operation"`
	Method     string    `json:"method,omitempty"`
	IdentityID string    `json:"identity_id,omitempty"`
	Handle     string    `json:"handle,omitempty"`
	Success    bool      `json:"success"`
	Reason     string    `json:"reason,omitempty"`
	IP         string    `json:"ip,omitempty"`
	UserAgent  string    `json:"user_agent,omitempty"`
}

// AuditSink receives attempt records. Implementations must tolerate
// concurrent Emit calls; the dispatcher serializes delivery but tests may
// call sinks directly.
type AuditSink interface {
	Emit(ctx context.Context, record AttemptRecord)
}

// NoOpSink discards every record.
type NoOpSink struct{}

// Emit is a method on NoOpSink implementing the AuditSink interface.
func (NoOpSink) Emit(context.Context, AttemptRecord) {}

// ChannelSink forwards records to a buffered channel for consumption by the
// host application.
type ChannelSink struct {
	records chan AttemptRecord
}

// NewChannelSink describes the newchannelsink operation and its observable behavior.
func NewChannelSink(buffer int) *ChannelSink {
	if buffer <= 0 {
		buffer = 1
	}
	return &ChannelSink{
		records: make(chan AttemptRecord, buffer),
	}
}

// Emit is a method on ChannelSink implementing the AuditSink interface.
func (s *ChannelSink) Emit(ctx context.Context, record AttemptRecord) {
	select {
	case s.records <- record:
	case <-ctx.Done():
	}
}

// Records exposes the sink's channel for draining.
func (s *ChannelSink) Records() <-chan AttemptRecord {
	return s.records
}

// JSONWriterSink appends one JSON line per record to a writer.
type JSONWriterSink struct {
	writer io.Writer
	mu     sync.Mutex
}

// NewJSONWriterSink describes the newjsonwritersink operation and its observable behavior.
func NewJSONWriterSink(w io.Writer) *JSONWriterSink {
	return &JSONWriterSink{
		writer: w,
	}
}

// Emit is a method on JSONWriterSink implementing the AuditSink interface.
func (s *JSONWriterSink) Emit(ctx context.Context, record AttemptRecord) {
	if s == nil || s.writer == nil {
		return
	}
	data, err := json.Marshal(record)
	if err != nil {
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	_, _ = s.writer.Write(data)
	_, _ = s.writer.Write([]byte("\n"))
}

// ZapSink writes records as structured log entries on a zap logger.
type ZapSink struct {
	logger *zap.Logger
}

// NewZapSink describes the newzapsink operation and its observable behavior.
func NewZapSink(logger *zap.Logger) *ZapSink {
	return &ZapSink{logger: logger}
}

// Emit is a method on ZapSink implementing the AuditSink interface.
func (s *ZapSink) Emit(ctx context.Context, record AttemptRecord) {
	if s == nil || s.logger == nil {
		return
	}

	s.logger.Info("auth attempt",
		zap.String("record_id", record.ID),
		zap.Time("at", record.Timestamp),
		zap.String("operation", record.Operation),
		zap.String("method", record.Method),
		zap.String("identity_id", record.IdentityID),
		zap.String("handle", record.Handle),
		zap.Bool("success", record.Success),
		zap.String("reason", record.Reason),
		zap.String("ip", record.IP),
		zap.String("user_agent", record.UserAgent),
	)
}
