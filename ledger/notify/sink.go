package notify

import (
	"context"
	"errors"
	"fmt"

	jsoniter "github.com/json-iterator/go"
	"github.com/segmentio/kafka-go"

	"github.com/AntonStoeckl/lending-ledger-go/ledger"
	"github.com/AntonStoeckl/lending-ledger-go/ledger/outbound"
)

const (
	logMsgNotificationSent = "notification sent"
	logAttrKind            = "kind"
	logAttrLoanID          = "loan_id"
	logAttrRecipient       = "recipient"
	logAttrSubject         = "subject"
)

const headerKind = "kind"

// ErrNoRecipient is returned when an event has no borrower contact to deliver to.
var ErrNoRecipient = errors.New("notification has no recipient")

// ErrPublishFailed is returned when the broker did not accept the notification.
var ErrPublishFailed = errors.New("publishing notification failed")

// LogSink "delivers" notifications by logging the rendered message.
type LogSink struct {
	logger ledger.ContextualLogger
}

// NewLogSink creates a LogSink.
func NewLogSink(logger ledger.ContextualLogger) *LogSink {
	return &LogSink{logger: logger}
}

// Deliver implements outbound.Sink.
func (s *LogSink) Deliver(ctx context.Context, event Event) error {
	if event.BorrowerContact == "" {
		return fmt.Errorf("%w: loan %s", ErrNoRecipient, event.LoanID)
	}

	message := event.Render()
	s.logger.InfoContext(
		ctx,
		logMsgNotificationSent,
		logAttrKind, string(event.Kind),
		logAttrLoanID, event.LoanID.String(),
		logAttrRecipient, event.BorrowerContact,
		logAttrSubject, message.Subject,
	)

	return nil
}

// MessageWriter is the subset of *kafka.Writer used by KafkaSink.
type MessageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// KafkaSink publishes notifications as JSON to a Kafka topic, keyed by loan id so that
// all notifications of one loan land on the same partition in order.
type KafkaSink struct {
	writer MessageWriter
}

// NewKafkaSink creates a KafkaSink writing to topic on brokers.
func NewKafkaSink(brokers []string, topic string) *KafkaSink {
	return NewKafkaSinkFromWriter(&kafka.Writer{
		Addr:                   kafka.TCP(brokers...),
		Topic:                  topic,
		Balancer:               &kafka.Hash{},
		RequiredAcks:           kafka.RequireOne,
		AllowAutoTopicCreation: true,
	})
}

// NewKafkaSinkFromWriter creates a KafkaSink on top of an existing writer.
func NewKafkaSinkFromWriter(writer MessageWriter) *KafkaSink {
	return &KafkaSink{writer: writer}
}

// Deliver implements outbound.Sink.
func (s *KafkaSink) Deliver(ctx context.Context, event Event) error {
	value, err := jsoniter.ConfigCompatibleWithStandardLibrary.Marshal(event)
	if err != nil {
		return errors.Join(ErrPublishFailed, err)
	}

	message := kafka.Message{
		Key:   []byte(event.LoanID.String()),
		Value: value,
		Headers: []kafka.Header{
			{Key: headerKind, Value: []byte(event.Kind)},
		},
	}

	if err := s.writer.WriteMessages(ctx, message); err != nil {
		return errors.Join(ErrPublishFailed, err)
	}

	return nil
}

// Close closes the underlying writer.
func (s *KafkaSink) Close() error {
	return s.writer.Close()
}

var (
	_ outbound.Sink[Event] = (*LogSink)(nil)
	_ outbound.Sink[Event] = (*KafkaSink)(nil)
)
