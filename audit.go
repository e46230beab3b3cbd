package authcore

import (
	"context"
	"encoding/json"
	"io"
	"sync"

	"go.uber.org/zap"
)

// NoOpSink discards audit records.
type NoOpSink struct{}

func (NoOpSink) Record(context.Context, AuditRecord) error { return nil }

// NoOpLoginHistory discards login history records.
type NoOpLoginHistory struct{}

func (NoOpLoginHistory) Record(context.Context, LoginHistoryRecord) error { return nil }

// ChannelSink delivers audit records on a buffered channel. Record blocks
// until the record is accepted or ctx is done, so a slow consumer slows the
// engine rather than losing records.
type ChannelSink struct {
	records chan AuditRecord
}

func NewChannelSink(buffer int) *ChannelSink {
	if buffer <= 0 {
		buffer = 1
	}
	return &ChannelSink{records: make(chan AuditRecord, buffer)}
}

func (s *ChannelSink) Record(ctx context.Context, rec AuditRecord) error {
	select {
	case s.records <- rec:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *ChannelSink) Records() <-chan AuditRecord {
	return s.records
}

// JSONWriterSink writes one JSON object per line.
type JSONWriterSink struct {
	writer io.Writer
	mu     sync.Mutex
}

func NewJSONWriterSink(w io.Writer) *JSONWriterSink {
	return &JSONWriterSink{writer: w}
}

func (s *JSONWriterSink) Record(_ context.Context, rec AuditRecord) error {
	data, err := json.Marshal(rec)
	if err != nil {
		return err
	}
	data = append(data, '\n')

	s.mu.Lock()
	defer s.mu.Unlock()
	_, err = s.writer.Write(data)
	return err
}

// ZapSink writes audit records as structured info-level log entries.
type ZapSink struct {
	logger *zap.Logger
}

func NewZapSink(logger *zap.Logger) *ZapSink {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ZapSink{logger: logger.Named("audit")}
}

func (s *ZapSink) Record(_ context.Context, rec AuditRecord) error {
	fields := make([]zap.Field, 0, 3+len(rec.Details))
	fields = append(fields,
		zap.String("action", string(rec.Action)),
		zap.String("account_id", rec.AccountID),
		zap.Time("at", rec.Time),
	)
	for k, v := range rec.Details {
		fields = append(fields, zap.String(k, v))
	}
	s.logger.Info("audit", fields...)
	return nil
}

// ZapLoginHistory writes login history records as structured log entries.
type ZapLoginHistory struct {
	logger *zap.Logger
}

func NewZapLoginHistory(logger *zap.Logger) *ZapLoginHistory {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ZapLoginHistory{logger: logger.Named("login_history")}
}

func (s *ZapLoginHistory) Record(_ context.Context, rec LoginHistoryRecord) error {
	s.logger.Info("login",
		zap.String("account_id", rec.AccountID),
		zap.String("origin", rec.Origin),
		zap.String("user_agent", rec.UserAgent),
		zap.Bool("successful", rec.Successful),
		zap.Time("at", rec.Time),
	)
	return nil
}
