package outbox

import (
	"context"
	"log/slog"
	"time"

	"github.com/md-rashed-zaman/coachbook/libs/db"
	"github.com/md-rashed-zaman/coachbook/libs/kafkax"
	"github.com/segmentio/kafka-go"
)

// PublisherConfig tunes the relay. Zero values fall back to defaults.
type PublisherConfig struct {
	Brokers   string
	PollEvery time.Duration
	BatchSize int
	// Retention is how long published rows are kept; zero keeps them forever.
	Retention time.Duration
}

// Publisher relays committed outbox rows to Kafka, one topic per event type,
// keyed by aggregate id so events of one aggregate stay ordered.
type Publisher struct {
	pool    *db.Pool
	repo    *Repository
	logger  *slog.Logger
	brokers []string
	cfg     PublisherConfig
}

func NewPublisher(pool *db.Pool, repo *Repository, logger *slog.Logger, cfg PublisherConfig) *Publisher {
	if cfg.PollEvery <= 0 {
		cfg.PollEvery = 2 * time.Second
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 50
	}
	return &Publisher{
		pool:    pool,
		repo:    repo,
		logger:  logger.With("component", "outbox"),
		brokers: kafkax.SplitBrokers(cfg.Brokers),
		cfg:     cfg,
	}
}

// Run polls until ctx is cancelled. Without brokers it returns at once and
// rows accumulate until a relay with brokers runs.
func (p *Publisher) Run(ctx context.Context) {
	if len(p.brokers) == 0 {
		p.logger.Warn("outbox publisher disabled (no kafka brokers configured)")
		return
	}

	writer := &kafka.Writer{
		Addr:                   kafka.TCP(p.brokers...),
		Balancer:               &kafka.Hash{},
		RequiredAcks:           kafka.RequireAll,
		BatchTimeout:           10 * time.Millisecond,
		AllowAutoTopicCreation: true,
	}
	defer func() {
		if err := writer.Close(); err != nil {
			p.logger.Warn("kafka writer close failed", "err", err)
		}
	}()

	poll := time.NewTicker(p.cfg.PollEvery)
	defer poll.Stop()
	var prune <-chan time.Time
	if p.cfg.Retention > 0 {
		t := time.NewTicker(time.Hour)
		defer t.Stop()
		prune = t.C
	}

	for {
		select {
		case <-ctx.Done():
			return
		case <-poll.C:
			// Drain backlogs without waiting a full tick per batch.
			for {
				n, err := p.publishBatch(ctx, writer)
				if err != nil {
					p.logger.Error("outbox publish failed", "err", err)
					break
				}
				if n < p.cfg.BatchSize {
					break
				}
			}
		case <-prune:
			p.prune(ctx)
		}
	}
}

func (p *Publisher) publishBatch(ctx context.Context, writer *kafka.Writer) (int, error) {
	tx, err := p.pool.Begin(ctx)
	if err != nil {
		return 0, err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	records, err := p.repo.ClaimBatch(ctx, tx, p.cfg.BatchSize)
	if err != nil || len(records) == 0 {
		return 0, err
	}

	msgs := make([]kafka.Message, len(records))
	ids := make([]int64, len(records))
	for i, r := range records {
		msgs[i] = toMessage(ctx, r)
		ids[i] = r.ID
	}
	if err := writer.WriteMessages(ctx, msgs...); err != nil {
		return 0, err
	}
	if err := p.repo.MarkPublished(ctx, tx, ids); err != nil {
		return 0, err
	}
	if err := tx.Commit(ctx); err != nil {
		return 0, err
	}
	p.logger.Debug("outbox batch published", "count", len(records))
	return len(records), nil
}

func (p *Publisher) prune(ctx context.Context) {
	n, err := p.repo.DeletePublishedBefore(ctx, time.Now().Add(-p.cfg.Retention))
	if err != nil {
		p.logger.Warn("outbox prune failed", "err", err)
		return
	}
	if n > 0 {
		p.logger.Info("outbox pruned", "rows", n)
	}
}

func toMessage(ctx context.Context, r Record) kafka.Message {
	headers := []kafka.Header{
		{Key: kafkax.HeaderEventID, Value: []byte(r.EventID)},
		{Key: kafkax.HeaderEventType, Value: []byte(r.Event.EventType)},
	}
	return kafka.Message{
		Topic:   r.Event.EventType,
		Key:     []byte(r.Event.AggregateID),
		Value:   r.Event.Payload,
		Headers: kafkax.InjectTraceHeaders(r.Trace.Restore(ctx), headers),
		Time:    r.CreatedAt,
	}
}
