package settlement

import (
	"context"

	"github.com/google/uuid"
	"github.com/robertarktes/salon-booking-settlement/internal/domain"
)

type Store interface {
	WithTx(ctx context.Context, fn func(ctx context.Context) error) error

	GetBooking(ctx context.Context, id uuid.UUID) (domain.Booking, error)
	TransitionBooking(ctx context.Context, id uuid.UUID, from []domain.BookingStatus, to domain.BookingStatus) (domain.Booking, error)
	SetBookingPayment(ctx context.Context, bookingID, paymentID uuid.UUID, coinsUsed, coinsEarned int64) error

	InsertPayment(ctx context.Context, p domain.Payment) error
	GetPayment(ctx context.Context, id uuid.UUID) (domain.Payment, error)
	GetPaymentByOrderID(ctx context.Context, orderID string) (domain.Payment, error)
	ActivePaymentForBooking(ctx context.Context, bookingID uuid.UUID) (domain.Payment, error)
	SetPaymentOrder(ctx context.Context, paymentID uuid.UUID, orderID string) error
	CompletePayment(ctx context.Context, paymentID uuid.UUID, transactionID string) (bool, error)
	FailPayment(ctx context.Context, paymentID uuid.UUID, reason string) (bool, error)
	RecordLateCapture(ctx context.Context, paymentID uuid.UUID, transactionID string) (bool, error)

	GetCoins(ctx context.Context, userID uuid.UUID) (int64, error)
	DebitCoins(ctx context.Context, userID uuid.UUID, amount int64) (bool, error)

	AppendEvent(ctx context.Context, e domain.Event) error
}

type Processor interface {
	CreateOrder(ctx context.Context, req domain.OrderRequest) (domain.ProcessorOrder, error)
	VerifySignature(orderID, paymentID, signature string) bool
}

type Auditor interface {
	LogEvent(ctx context.Context, action string, userID uuid.UUID, data map[string]interface{}) error
}
