// Package outbox relays committed domain events from the outbox table to the
// message broker.
package outbox

import (
	"context"
	"sync"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/google/uuid"
	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/robertarktes/salon-booking-settlement/internal/adapters/crdb"
	"github.com/robertarktes/salon-booking-settlement/internal/observability"
	"golang.org/x/sync/errgroup"
)

const (
	batchSize          = 50
	publishConcurrency = 8
)

type Store interface {
	WithTx(ctx context.Context, fn func(ctx context.Context) error) error
	GetUnpublishedOutbox(ctx context.Context, limit int) ([]crdb.OutboxRecord, error)
	MarkPublished(ctx context.Context, id uuid.UUID, publishedAt time.Time) error
}

type Broker interface {
	Publish(ctx context.Context, key string, msg amqp.Publishing) error
}

type Publisher struct {
	repo   Store
	broker Broker
	logger observability.Logger
}

func NewPublisher(repo Store, broker Broker, logger observability.Logger) *Publisher {
	return &Publisher{repo: repo, broker: broker, logger: logger}
}

func (p *Publisher) Run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			n, err := p.Flush(ctx)
			if err != nil {
				p.logger.WithError(err).Error("outbox flush failed")
				continue
			}
			if n > 0 {
				p.logger.WithField("count", n).Debug("published outbox records")
			}
		}
	}
}

// Flush publishes one batch of pending records and marks the ones the broker
// accepted. Records that failed stay pending for the next flush; consumers
// dedupe on MessageId.
func (p *Publisher) Flush(ctx context.Context) (int, error) {
	published := 0
	err := p.repo.WithTx(ctx, func(ctx context.Context) error {
		published = 0
		records, err := p.repo.GetUnpublishedOutbox(ctx, batchSize)
		if err != nil {
			return err
		}
		if len(records) == 0 {
			observability.OutboxLag.Set(0)
			return nil
		}
		observability.OutboxLag.Set(time.Since(records[0].CreatedAt).Seconds())

		var (
			mu sync.Mutex
			ok = make([]bool, len(records))
		)
		g, gctx := errgroup.WithContext(ctx)
		g.SetLimit(publishConcurrency)
		for i, rec := range records {
			i, rec := i, rec
			g.Go(func() error {
				err := p.broker.Publish(gctx, rec.EventType, amqp.Publishing{
					MessageId:    rec.DedupeKey,
					ContentType:  "application/json",
					DeliveryMode: amqp.Persistent,
					Timestamp:    rec.CreatedAt,
					Type:         rec.EventType,
					Body:         rec.Payload,
				})
				if err != nil {
					observability.RabbitPublishRetries.Inc()
					p.logger.WithError(err).WithField("dedupe_key", rec.DedupeKey).Warn("publish outbox record")
					return nil
				}
				mu.Lock()
				ok[i] = true
				mu.Unlock()
				return nil
			})
		}
		if err := g.Wait(); err != nil {
			return err
		}

		now := time.Now()
		for i, rec := range records {
			if !ok[i] {
				continue
			}
			if err := p.repo.MarkPublished(ctx, rec.ID, now); err != nil {
				return err
			}
			published++
		}
		return nil
	})
	return published, errors.Wrap(err, "flush outbox")
}
