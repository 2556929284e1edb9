// Package eventlog copies broker events into the audit trail so a booking's
// history can be traced without the outbox table.
package eventlog

import (
	"context"
	"encoding/json"

	"github.com/cockroachdb/errors"
	"github.com/google/uuid"
	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/robertarktes/salon-booking-settlement/internal/observability"
)

// ActionPrefix is prepended to the routing key to form the audit action.
const ActionPrefix = "event."

type Sink interface {
	LogEvent(ctx context.Context, action string, userID uuid.UUID, data map[string]interface{}) error
}

type Recorder struct {
	sink   Sink
	logger observability.Logger
}

func NewRecorder(sink Sink, logger observability.Logger) *Recorder {
	return &Recorder{sink: sink, logger: logger}
}

// Run handles deliveries until ctx is done. A closed channel is an error so
// the caller can reconnect.
func (r *Recorder) Run(ctx context.Context, deliveries <-chan amqp.Delivery) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case d, ok := <-deliveries:
			if !ok {
				return errors.New("delivery channel closed")
			}
			r.Handle(ctx, d)
		}
	}
}

// Handle records one delivery. Malformed bodies are rejected without requeue;
// sink failures are requeued.
func (r *Recorder) Handle(ctx context.Context, d amqp.Delivery) {
	log := r.logger.WithFields(map[string]interface{}{
		"routing_key": d.RoutingKey,
		"message_id":  d.MessageId,
	})

	var payload map[string]interface{}
	if err := json.Unmarshal(d.Body, &payload); err != nil || payload == nil {
		log.WithError(err).Warn("dropping malformed event")
		if err := d.Reject(false); err != nil {
			log.WithError(err).Error("reject delivery")
		}
		return
	}
	raw, _ := payload["user_id"].(string)
	userID, _ := uuid.Parse(raw)
	if d.MessageId != "" {
		payload["message_id"] = d.MessageId
	}

	if err := r.sink.LogEvent(ctx, ActionPrefix+d.RoutingKey, userID, payload); err != nil {
		log.WithError(err).Error("record event")
		if err := d.Nack(false, true); err != nil {
			log.WithError(err).Error("nack delivery")
		}
		return
	}
	if err := d.Ack(false); err != nil {
		log.WithError(err).Error("ack delivery")
	}
}
