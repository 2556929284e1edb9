package booking

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/robertarktes/salon-booking-settlement/internal/domain"
	"github.com/robertarktes/salon-booking-settlement/internal/settlement"
)

type Store interface {
	WithTx(ctx context.Context, fn func(ctx context.Context) error) error

	GetSlot(ctx context.Context, id uuid.UUID) (domain.Slot, error)
	ClaimSlot(ctx context.Context, id uuid.UUID) (bool, error)
	ReleaseSlot(ctx context.Context, id uuid.UUID) error

	InsertBooking(ctx context.Context, b domain.Booking) error
	GetBooking(ctx context.Context, id uuid.UUID) (domain.Booking, error)
	TransitionBooking(ctx context.Context, id uuid.UUID, from []domain.BookingStatus, to domain.BookingStatus) (domain.Booking, error)
	ListBookings(ctx context.Context, f domain.BookingFilter) ([]domain.Booking, error)
	ListStalePending(ctx context.Context, createdBefore time.Time, limit int) ([]domain.Booking, error)

	CreditCoins(ctx context.Context, userID uuid.UUID, amount int64) error

	AppendEvent(ctx context.Context, e domain.Event) error
}

type Slots interface {
	FindFree(ctx context.Context, merchantID uuid.UUID, date time.Time, start domain.ClockTime, duration int) (domain.Slot, error)
	Synthesize(ctx context.Context, merchantID uuid.UUID, date time.Time, start domain.ClockTime, duration int) (domain.Slot, error)
}

type Merchants interface {
	Merchant(ctx context.Context, id uuid.UUID) (domain.MerchantProfile, error)
}

type Settler interface {
	Settle(ctx context.Context, req settlement.Request) (settlement.Result, error)
	FailPending(ctx context.Context, bookingID uuid.UUID, reason string) error
	PlatformFee() domain.Money
}

type Auditor interface {
	LogEvent(ctx context.Context, action string, userID uuid.UUID, data map[string]interface{}) error
}
