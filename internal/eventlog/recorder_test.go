package eventlog_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/google/uuid"
	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/sirupsen/logrus"
	logtest "github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/robertarktes/salon-booking-settlement/internal/eventlog"
	"github.com/robertarktes/salon-booking-settlement/internal/observability"
)

type mockSink struct {
	mock.Mock
}

func (m *mockSink) LogEvent(_ context.Context, action string, userID uuid.UUID, data map[string]interface{}) error {
	return m.Called(action, userID, data).Error(0)
}

// acks records what happened to each delivery tag.
type acks struct {
	mu      sync.Mutex
	outcome map[uint64]string
}

func (a *acks) set(tag uint64, v string) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.outcome[tag] = v
	return nil
}

func (a *acks) Ack(tag uint64, _ bool) error { return a.set(tag, "ack") }

func (a *acks) Nack(tag uint64, _ bool, requeue bool) error {
	if requeue {
		return a.set(tag, "requeue")
	}
	return a.set(tag, "drop")
}

func (a *acks) Reject(tag uint64, requeue bool) error { return a.Nack(tag, false, requeue) }

func (a *acks) get(tag uint64) string {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.outcome[tag]
}

func delivery(a *acks, tag uint64, key, body string) amqp.Delivery {
	return amqp.Delivery{
		Acknowledger: a,
		DeliveryTag:  tag,
		RoutingKey:   key,
		MessageId:    "msg-" + key,
		Body:         []byte(body),
	}
}

func TestRecorder_Handle(t *testing.T) {
	log, hook := logtest.NewNullLogger()
	sink := &mockSink{}
	rec := eventlog.NewRecorder(sink, observability.NewLoggerFrom(log))
	a := &acks{outcome: map[uint64]string{}}
	userID := uuid.New()

	sink.On("LogEvent", "event.booking.confirmed", userID, mock.MatchedBy(func(data map[string]interface{}) bool {
		return data["status"] == "confirmed" && data["message_id"] == "msg-booking.confirmed"
	})).Return(nil).Once()
	rec.Handle(context.Background(), delivery(a, 1, "booking.confirmed", `{"user_id":"`+userID.String()+`","status":"confirmed"}`))
	assert.Equal(t, "ack", a.get(1))

	rec.Handle(context.Background(), delivery(a, 2, "booking.created", `not json`))
	assert.Equal(t, "drop", a.get(2))
	require.NotNil(t, hook.LastEntry())
	assert.Equal(t, logrus.WarnLevel, hook.LastEntry().Level)

	sink.On("LogEvent", "event.payment.failed", uuid.Nil, mock.Anything).Return(errors.New("mongo down")).Once()
	rec.Handle(context.Background(), delivery(a, 3, "payment.failed", `{"status":"failed"}`))
	assert.Equal(t, "requeue", a.get(3))

	sink.AssertExpectations(t)
}

func TestRecorder_Run(t *testing.T) {
	log, _ := logtest.NewNullLogger()
	sink := &mockSink{}
	sink.On("LogEvent", "event.booking.created", mock.Anything, mock.Anything).Return(nil)
	rec := eventlog.NewRecorder(sink, observability.NewLoggerFrom(log))
	a := &acks{outcome: map[uint64]string{}}

	deliveries := make(chan amqp.Delivery, 2)
	deliveries <- delivery(a, 1, "booking.created", `{}`)
	deliveries <- delivery(a, 2, "booking.created", `{}`)
	close(deliveries)

	err := rec.Run(context.Background(), deliveries)
	assert.Error(t, err, "closed channel ends the loop")
	assert.Equal(t, "ack", a.get(1))
	assert.Equal(t, "ack", a.get(2))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- rec.Run(ctx, make(chan amqp.Delivery)) }()
	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("run did not stop on cancel")
	}
}
