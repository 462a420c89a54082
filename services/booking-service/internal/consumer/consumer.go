package consumer

import (
	"context"
	"log/slog"
	"time"

	"github.com/md-rashed-zaman/coachbook/libs/kafkax"
	"github.com/segmentio/kafka-go"
	"go.opentelemetry.io/otel/codes"
)

type Handler func(ctx context.Context, msg kafka.Message) error

// Inbox de-duplicates deliveries by event id. An id is recorded only once its
// handler succeeded, so an interrupted delivery is handled again on redelivery.
type Inbox interface {
	Seen(ctx context.Context, eventID string) (bool, error)
	Record(ctx context.Context, eventID string, eventType string) (bool, error)
}

type reader interface {
	FetchMessage(ctx context.Context) (kafka.Message, error)
	CommitMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// Consumer processes one topic with at-least-once delivery. Commits are
// cumulative per partition, so a message is never skipped: it is retried until
// it was handled, found to be a duplicate, or given up on after maxAttempts
// handler failures.
type Consumer struct {
	reader      reader
	logger      *slog.Logger
	inbox       Inbox
	handler     Handler
	maxAttempts int
	backoff     time.Duration
}

type Config struct {
	Brokers     string
	GroupID     string
	Topic       string
	MaxAttempts int
	Backoff     time.Duration
}

func New(logger *slog.Logger, inbox Inbox, cfg Config, handler Handler) *Consumer {
	r := kafka.NewReader(kafka.ReaderConfig{
		Brokers:  kafkax.SplitBrokers(cfg.Brokers),
		GroupID:  cfg.GroupID,
		Topic:    cfg.Topic,
		MinBytes: 1,
		MaxBytes: 10e6,
	})
	return newConsumer(r, logger.With("topic", cfg.Topic), inbox, handler, cfg.MaxAttempts, cfg.Backoff)
}

func newConsumer(r reader, logger *slog.Logger, inbox Inbox, handler Handler, maxAttempts int, backoff time.Duration) *Consumer {
	if maxAttempts <= 0 {
		maxAttempts = 3
	}
	if backoff <= 0 {
		backoff = 500 * time.Millisecond
	}
	return &Consumer{
		reader:      r,
		logger:      logger,
		inbox:       inbox,
		handler:     handler,
		maxAttempts: maxAttempts,
		backoff:     backoff,
	}
}

// Run blocks until ctx is cancelled.
func (c *Consumer) Run(ctx context.Context) {
	defer func() {
		if err := c.reader.Close(); err != nil {
			c.logger.Warn("kafka reader close failed", "err", err)
		}
	}()
	c.logger.Info("kafka consumer started")

	for {
		msg, err := c.reader.FetchMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			c.logger.Error("kafka fetch failed", "err", err)
			if !sleep(ctx, time.Second) {
				return
			}
			continue
		}
		if !c.settle(ctx, msg) {
			return
		}
		if err := c.reader.CommitMessages(ctx, msg); err != nil && ctx.Err() == nil {
			c.logger.Error("kafka commit failed", "err", err, "offset", msg.Offset)
		}
	}
}

// settle repeats process on msg until it is done with. It returns false only
// when ctx ends first, leaving the offset uncommitted.
func (c *Consumer) settle(ctx context.Context, msg kafka.Message) bool {
	for round := 1; ; round++ {
		if c.process(ctx, msg) {
			return true
		}
		if !sleep(ctx, c.backoff*time.Duration(min(round, 10))) {
			return false
		}
		c.logger.Info("retrying kafka message", "offset", msg.Offset, "partition", msg.Partition, "round", round+1)
	}
}

// process reports whether msg is done with and its offset may be committed.
func (c *Consumer) process(ctx context.Context, msg kafka.Message) bool {
	ctx, span := kafkax.StartConsumerSpan(ctx, msg)
	defer span.End()

	meta := kafkax.ExtractEventMeta(msg)
	log := c.logger.With("event_id", meta.EventID, "event_type", meta.EventType)

	fail := func(desc string, err error) bool {
		log.Error(desc, "err", err)
		span.RecordError(err)
		span.SetStatus(codes.Error, desc)
		return false
	}

	if meta.Explicit {
		seen, err := c.inbox.Seen(ctx, meta.EventID)
		if err != nil {
			return fail("inbox lookup failed", err)
		}
		if seen {
			log.Info("duplicate event ignored")
			return true
		}
	}

	var err error
	for attempt := 1; attempt <= c.maxAttempts; attempt++ {
		if err = c.handler(ctx, msg); err == nil {
			break
		}
		log.Warn("event handler failed", "err", err, "attempt", attempt)
		if attempt < c.maxAttempts && !sleep(ctx, c.backoff*time.Duration(attempt)) {
			return false
		}
	}
	if err != nil {
		if ctx.Err() != nil {
			return false
		}
		log.Error("event dropped after retries", "err", err, "attempts", c.maxAttempts)
		span.RecordError(err)
		span.SetStatus(codes.Error, "handler failed")
		return true
	}

	if meta.Explicit {
		if _, err := c.inbox.Record(ctx, meta.EventID, meta.EventType); err != nil {
			return fail("inbox record failed", err)
		}
	}
	return true
}

func sleep(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
