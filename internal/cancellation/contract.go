package cancellation

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/robertarktes/salon-booking-settlement/internal/domain"
)

type Store interface {
	WithTx(ctx context.Context, fn func(ctx context.Context) error) error

	GetBooking(ctx context.Context, id uuid.UUID) (domain.Booking, error)
	TransitionBooking(ctx context.Context, id uuid.UUID, from []domain.BookingStatus, to domain.BookingStatus) (domain.Booking, error)
	MarkMissed(ctx context.Context, now time.Time) ([]domain.Booking, error)

	ReleaseSlot(ctx context.Context, id uuid.UUID) error
	CreditCoins(ctx context.Context, userID uuid.UUID, amount int64) error

	AppendEvent(ctx context.Context, e domain.Event) error
}

type Merchants interface {
	Merchant(ctx context.Context, id uuid.UUID) (domain.MerchantProfile, error)
}

type Payments interface {
	FailPending(ctx context.Context, bookingID uuid.UUID, reason string) error
}
