package slots

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/robertarktes/salon-booking-settlement/internal/domain"
)

type Store interface {
	ListSlots(ctx context.Context, merchantID uuid.UUID, date time.Time) ([]domain.Slot, error)
	ListFreeSlots(ctx context.Context, merchantID uuid.UUID, date time.Time) ([]domain.Slot, error)
	InsertSlots(ctx context.Context, slots []domain.Slot) (int, error)
	FindFreeSlot(ctx context.Context, merchantID uuid.UUID, date time.Time, start domain.ClockTime, duration int) (domain.Slot, error)
	SlotSummary(ctx context.Context, merchantID uuid.UUID, from, to time.Time) ([]domain.DaySummary, error)
}

type Merchants interface {
	Merchant(ctx context.Context, id uuid.UUID) (domain.MerchantProfile, error)
}
