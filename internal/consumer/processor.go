// Package consumer turns sync requests published on Kafka into summary refreshes.
package consumer

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/segmentio/kafka-go"
	log "github.com/sirupsen/logrus"
)

// ErrPoison marks a message that can never be handled. The processor commits
// it so the partition keeps moving.
var ErrPoison = errors.New("poison message")

// Reader exposes the minimal kafka.Reader interface needed by the processor.
type Reader interface {
	FetchMessage(context.Context) (kafka.Message, error)
	CommitMessages(context.Context, ...kafka.Message) error
	Close() error
}

// Handler receives decoded messages from Kafka.
type Handler interface {
	Handle(context.Context, Message) error
}

// HandlerFunc adapts a function to Handler.
type HandlerFunc func(context.Context, Message) error

// Handle calls f.
func (f HandlerFunc) Handle(ctx context.Context, msg Message) error { return f(ctx, msg) }

// Message is the decoded representation of a Kafka record.
type Message struct {
	Topic     string
	Partition int
	Offset    int64
	Key       string
	Timestamp time.Time
	EventType string
	Payload   json.RawMessage
}

// Option configures optional behaviour for the Processor.
type Option func(*Processor)

// WithLogger overrides the logger used to report errors.
func WithLogger(logger log.FieldLogger) Option {
	return func(p *Processor) {
		if logger != nil {
			p.logger = logger
		}
	}
}

// WithDefaultEventType is used for records published without an event_type header.
func WithDefaultEventType(eventType string) Option {
	return func(p *Processor) {
		p.defaultEventType = eventType
	}
}

// Processor pulls messages from Kafka, decodes them, and dispatches to a Handler.
type Processor struct {
	reader           Reader
	handler          Handler
	logger           log.FieldLogger
	defaultEventType string
}

// NewProcessor constructs a Processor with the provided reader and handler.
func NewProcessor(reader Reader, handler Handler, opts ...Option) *Processor {
	p := &Processor{
		reader:  reader,
		handler: handler,
		logger:  log.StandardLogger().WithField("component", "consumer"),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Run starts a blocking loop that processes Kafka messages until the context is cancelled.
func (p *Processor) Run(ctx context.Context) error {
	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		msg, err := p.reader.FetchMessage(ctx)
		if err != nil {
			if errors.Is(err, context.Canceled) {
				return err
			}
			p.logger.WithError(err).Warn("fetch error")
			continue
		}

		logger := p.logger.WithFields(log.Fields{"topic": msg.Topic, "partition": msg.Partition, "offset": msg.Offset})

		event, decodeErr := p.decodeMessage(msg)
		if decodeErr != nil {
			logger.WithError(decodeErr).Warn("decode error")
			recordDecodeError(msg.Topic)
			p.commit(ctx, msg, logger)
			continue
		}

		if handleErr := p.handler.Handle(ctx, event); handleErr != nil {
			recordHandlerError(event)
			if errors.Is(handleErr, ErrPoison) {
				logger.WithError(handleErr).WithField("event_type", event.EventType).Warn("dropping unhandleable message")
				p.commit(ctx, msg, logger)
				continue
			}
			logger.WithError(handleErr).WithField("event_type", event.EventType).Error("handler error")
			continue
		}

		if p.commit(ctx, msg, logger) {
			recordProcessed(event)
		}
	}
}

func (p *Processor) commit(ctx context.Context, msg kafka.Message, logger log.FieldLogger) bool {
	if err := p.reader.CommitMessages(ctx, msg); err != nil {
		logger.WithError(err).Warn("commit error")
		return false
	}
	return true
}

func (p *Processor) decodeMessage(msg kafka.Message) (Message, error) {
	eventType, ok := headerValue(msg, "event_type")
	if !ok {
		if p.defaultEventType == "" {
			return Message{}, errors.New("missing event_type header")
		}
		eventType = []byte(p.defaultEventType)
	}
	if !json.Valid(msg.Value) {
		return Message{}, fmt.Errorf("payload is not valid json (%d bytes)", len(msg.Value))
	}

	return Message{
		Topic:     msg.Topic,
		Partition: msg.Partition,
		Offset:    msg.Offset,
		Key:       string(msg.Key),
		Timestamp: msg.Time,
		EventType: string(eventType),
		Payload:   json.RawMessage(append([]byte(nil), msg.Value...)),
	}, nil
}

func headerValue(msg kafka.Message, key string) ([]byte, bool) {
	for _, header := range msg.Headers {
		if header.Key == key {
			return header.Value, true
		}
	}
	return nil, false
}
