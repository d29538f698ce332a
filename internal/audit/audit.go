package audit

import (
	"context"
	"sort"
	"time"

	"github.com/sirupsen/logrus"
)

// Record is one append-only audit entry for a privileged action.
type Record struct {
	ID           string            `json:"id"`
	ActorID      string            `json:"actorId"`
	ActorEmail   string            `json:"actorEmail,omitempty"`
	Action       string            `json:"action"`
	ResourceKind string            `json:"resourceKind"`
	ResourceID   string            `json:"resourceId,omitempty"`
	Details      map[string]string `json:"details,omitempty"`
	SourceIP     string            `json:"sourceIp,omitempty"`
	UserAgent    string            `json:"userAgent,omitempty"`
	Timestamp    time.Time         `json:"timestamp"`
}

// Sink receives dispatched records.
type Sink interface {
	Emit(ctx context.Context, record Record)
}

// Appender persists records. It is satisfied by the root AuditStore.
type Appender interface {
	AppendAudit(ctx context.Context, record Record) error
}

// NoOpSink drops records.
type NoOpSink struct{}

func (NoOpSink) Emit(context.Context, Record) {}

// StoreSink appends records through an Appender. Failures are logged and
// otherwise swallowed so that the originating action is never rolled back.
type StoreSink struct {
	store  Appender
	logger logrus.FieldLogger
}

func NewStoreSink(store Appender, logger logrus.FieldLogger) *StoreSink {
	if logger == nil {
		logger = discardLogger()
	}
	return &StoreSink{store: store, logger: logger}
}

func (s *StoreSink) Emit(ctx context.Context, record Record) {
	if s == nil || s.store == nil {
		return
	}
	if err := s.store.AppendAudit(ctx, record); err != nil {
		s.logger.WithFields(logrus.Fields{
			"component": "audit",
			"action":    record.Action,
			"record_id": record.ID,
			"error":     err,
		}).Warn("audit append failed")
	}
}

// LogSink writes each record as a structured log line.
type LogSink struct {
	logger logrus.FieldLogger
}

func NewLogSink(logger logrus.FieldLogger) *LogSink {
	if logger == nil {
		logger = discardLogger()
	}
	return &LogSink{logger: logger}
}

func (s *LogSink) Emit(_ context.Context, record Record) {
	fields := logrus.Fields{
		"component":     "audit",
		"record_id":     record.ID,
		"actor_id":      record.ActorID,
		"action":        record.Action,
		"resource_kind": record.ResourceKind,
		"resource_id":   record.ResourceID,
	}
	if record.SourceIP != "" {
		fields["source_ip"] = record.SourceIP
	}
	keys := make([]string, 0, len(record.Details))
	for k := range record.Details {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		fields["detail_"+k] = record.Details[k]
	}
	s.logger.WithFields(fields).Info("audit")
}

// MultiSink fans a record out to every sink in order.
type MultiSink []Sink

func (m MultiSink) Emit(ctx context.Context, record Record) {
	for _, s := range m {
		if s != nil {
			s.Emit(ctx, record)
		}
	}
}

func discardLogger() logrus.FieldLogger {
	l := logrus.New()
	l.SetLevel(logrus.PanicLevel)
	return l
}
