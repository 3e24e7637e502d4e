package helper

import (
	"context"
	"log/slog"
	"os"
	"sync"
)

// LogHandlerSpy is a slog.Handler that captures log records for assertions.
type LogHandlerSpy struct {
	records     []slog.Record
	mu          sync.Mutex
	logToStdout bool
}

// NewLogHandlerSpy creates a LogHandlerSpy.
// With logToStdout the records are also printed as JSON, which helps when debugging a test.
func NewLogHandlerSpy(logToStdout bool) *LogHandlerSpy {
	return &LogHandlerSpy{
		records:     make([]slog.Record, 0),
		logToStdout: logToStdout,
	}
}

// Handle implements slog.Handler.
func (s *LogHandlerSpy) Handle(ctx context.Context, record slog.Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.records = append(s.records, record)

	if s.logToStdout {
		_ = slog.NewJSONHandler(os.Stdout, nil).Handle(ctx, record)
	}

	return nil
}

// Enabled implements slog.Handler.
func (s *LogHandlerSpy) Enabled(_ context.Context, _ slog.Level) bool {
	return true
}

// WithAttrs implements slog.Handler.
func (s *LogHandlerSpy) WithAttrs(_ []slog.Attr) slog.Handler {
	return s
}

// WithGroup implements slog.Handler.
func (s *LogHandlerSpy) WithGroup(_ string) slog.Handler {
	return s
}

// HasMessage reports whether any record at any level carries message.
func (s *LogHandlerSpy) HasMessage(message string) bool {
	return s.CountMessage(message) > 0
}

// CountMessage counts the records carrying message.
func (s *LogHandlerSpy) CountMessage(message string) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	count := 0
	for _, record := range s.records {
		if record.Message == message {
			count++
		}
	}

	return count
}

// HasLogWithAttr reports whether a record at level with message has an attribute key whose
// string value is value.
func (s *LogHandlerSpy) HasLogWithAttr(level slog.Level, message, key, value string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, record := range s.records {
		if record.Level != level || record.Message != message {
			continue
		}

		found := false
		record.Attrs(func(attr slog.Attr) bool {
			if attr.Key == key && attr.Value.String() == value {
				found = true
				return false
			}

			return true
		})

		if found {
			return true
		}
	}

	return false
}
