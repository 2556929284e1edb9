package domain

import (
	"github.com/google/uuid"
)

const (
	EventBookingCreated   = "booking.created"
	EventBookingConfirmed = "booking.confirmed"
	EventBookingCancelled = "booking.cancelled"
	EventBookingMissed    = "booking.missed"
	EventBookingCompleted = "booking.completed"
	EventPaymentCompleted = "payment.completed"
	EventPaymentFailed    = "payment.failed"
)

type Event struct {
	AggregateType string
	AggregateID   uuid.UUID
	Type          string
	Payload       map[string]interface{}
}

func BookingEvent(eventType string, b Booking, extra map[string]interface{}) Event {
	payload := map[string]interface{}{
		"booking_id":  b.ID,
		"user_id":     b.UserID,
		"merchant_id": b.MerchantID,
		"status":      b.Status,
		"date":        b.Date.Format(DateLayout),
		"start_time":  b.Start.String(),
		"duration":    b.Duration,
	}
	for k, v := range extra {
		payload[k] = v
	}
	return Event{AggregateType: "booking", AggregateID: b.ID, Type: eventType, Payload: payload}
}

func PaymentEvent(eventType string, p Payment) Event {
	payload := map[string]interface{}{
		"payment_id":      p.ID,
		"user_id":         p.UserID,
		"method":          p.Method,
		"status":          p.Status,
		"amount":          p.Amount.String(),
		"platform_fee":    p.PlatformFee.String(),
		"commission":      p.Commission.String(),
		"merchant_amount": p.MerchantAmount.String(),
		"coins_used":      p.CoinsUsed,
	}
	if p.BookingID != nil {
		payload["booking_id"] = *p.BookingID
	}
	if p.FailureReason != "" {
		payload["failure_reason"] = p.FailureReason
	}
	return Event{AggregateType: "payment", AggregateID: p.ID, Type: eventType, Payload: payload}
}
