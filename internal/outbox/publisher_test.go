package outbox_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/google/uuid"
	amqp "github.com/rabbitmq/amqp091-go"
	logtest "github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/robertarktes/salon-booking-settlement/internal/adapters/crdb"
	"github.com/robertarktes/salon-booking-settlement/internal/observability"
	"github.com/robertarktes/salon-booking-settlement/internal/outbox"
)

type memOutbox struct {
	mu        sync.Mutex
	records   []crdb.OutboxRecord
	published map[uuid.UUID]bool
}

func (m *memOutbox) WithTx(ctx context.Context, fn func(ctx context.Context) error) error {
	return fn(ctx)
}

func (m *memOutbox) GetUnpublishedOutbox(_ context.Context, limit int) ([]crdb.OutboxRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []crdb.OutboxRecord
	for _, r := range m.records {
		if !m.published[r.ID] && len(out) < limit {
			out = append(out, r)
		}
	}
	return out, nil
}

func (m *memOutbox) MarkPublished(_ context.Context, id uuid.UUID, _ time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.published[id] = true
	return nil
}

type fakeBroker struct {
	mu   sync.Mutex
	fail map[string]bool
	sent []amqp.Publishing
}

func (b *fakeBroker) Publish(_ context.Context, key string, msg amqp.Publishing) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.fail[msg.MessageId] {
		return errors.New("channel closed")
	}
	b.sent = append(b.sent, msg)
	return nil
}

func record(eventType string) crdb.OutboxRecord {
	id := uuid.New()
	return crdb.OutboxRecord{
		ID:          id,
		AggregateID: uuid.New(),
		EventType:   eventType,
		Payload:     []byte(`{"ok":true}`),
		CreatedAt:   time.Now().Add(-time.Second),
		DedupeKey:   eventType + ":" + id.String(),
	}
}

func TestFlush(t *testing.T) {
	store := &memOutbox{published: make(map[uuid.UUID]bool)}
	for i := 0; i < 5; i++ {
		store.records = append(store.records, record("booking.confirmed"))
	}
	flaky := store.records[2]
	broker := &fakeBroker{fail: map[string]bool{flaky.DedupeKey: true}}
	log, _ := logtest.NewNullLogger()
	p := outbox.NewPublisher(store, broker, observability.NewLoggerFrom(log))

	n, err := p.Flush(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 4, n)
	assert.False(t, store.published[flaky.ID])
	for _, msg := range broker.sent {
		assert.Equal(t, "booking.confirmed", msg.Type)
		assert.Equal(t, amqp.Persistent, msg.DeliveryMode)
		assert.NotEmpty(t, msg.MessageId)
	}

	broker.fail = nil
	n, err = p.Flush(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.True(t, store.published[flaky.ID])

	n, err = p.Flush(context.Background())
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestFlush_BatchLimit(t *testing.T) {
	store := &memOutbox{published: make(map[uuid.UUID]bool)}
	for i := 0; i < 60; i++ {
		store.records = append(store.records, record("payment.completed"))
	}
	log, _ := logtest.NewNullLogger()
	p := outbox.NewPublisher(store, &fakeBroker{}, observability.NewLoggerFrom(log))

	n, err := p.Flush(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 50, n)

	n, err = p.Flush(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 10, n)
}
