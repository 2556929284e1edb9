package memstore_test

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/robertarktes/salon-booking-settlement/internal/adapters/memstore"
	"github.com/robertarktes/salon-booking-settlement/internal/domain"
)

func seedSlot(t *testing.T, s *memstore.Store) domain.Slot {
	t.Helper()
	slot := domain.Slot{
		ID:         uuid.New(),
		MerchantID: uuid.New(),
		Date:       time.Date(2026, 3, 11, 0, 0, 0, 0, time.UTC),
		Start:      domain.MustClock("10:00"),
		End:        domain.MustClock("10:30"),
		Duration:   30,
	}
	n, err := s.InsertSlots(context.Background(), []domain.Slot{slot, slot})
	require.NoError(t, err)
	require.Equal(t, 1, n)
	return slot
}

func TestClaimSlot_SingleWinner(t *testing.T) {
	s := memstore.New()
	slot := seedSlot(t, s)

	var (
		wg   sync.WaitGroup
		wins int32
	)
	for i := 0; i < 32; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			ok, err := s.ClaimSlot(context.Background(), slot.ID)
			assert.NoError(t, err)
			if ok {
				atomic.AddInt32(&wins, 1)
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, int32(1), wins)

	_, err := s.ClaimSlot(context.Background(), uuid.New())
	assert.True(t, errors.Is(err, domain.ErrNotFound))

	require.NoError(t, s.ReleaseSlot(context.Background(), slot.ID))
	ok, err := s.ClaimSlot(context.Background(), slot.ID)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestWithTx_RollsBack(t *testing.T) {
	s := memstore.New()
	slot := seedSlot(t, s)
	userID := uuid.New()
	require.NoError(t, s.CreditCoins(context.Background(), userID, 10))

	boom := errors.New("boom")
	err := s.WithTx(context.Background(), func(ctx context.Context) error {
		ok, err := s.ClaimSlot(ctx, slot.ID)
		require.NoError(t, err)
		require.True(t, ok)
		ok, err = s.DebitCoins(ctx, userID, 4)
		require.NoError(t, err)
		require.True(t, ok)
		return boom
	})
	require.True(t, errors.Is(err, boom))

	got, err := s.GetSlot(context.Background(), slot.ID)
	require.NoError(t, err)
	assert.False(t, got.IsBooked)
	coins, err := s.GetCoins(context.Background(), userID)
	require.NoError(t, err)
	assert.Equal(t, int64(10), coins)
}

func TestDebitCoins_Conditional(t *testing.T) {
	s := memstore.New()
	userID := uuid.New()
	require.NoError(t, s.CreditCoins(context.Background(), userID, 10))

	ok, err := s.DebitCoins(context.Background(), userID, 22)
	require.NoError(t, err)
	assert.False(t, ok)

	ok, err = s.DebitCoins(context.Background(), userID, 10)
	require.NoError(t, err)
	assert.True(t, ok)

	coins, err := s.GetCoins(context.Background(), userID)
	require.NoError(t, err)
	assert.Equal(t, int64(0), coins)
}

func TestTransitionBooking_Conditional(t *testing.T) {
	s := memstore.New()
	b := domain.Booking{ID: uuid.New(), UserID: uuid.New(), MerchantID: uuid.New(), Status: domain.BookingPending}
	require.NoError(t, s.InsertBooking(context.Background(), b))

	got, err := s.TransitionBooking(context.Background(), b.ID, []domain.BookingStatus{domain.BookingPending}, domain.BookingConfirmed)
	require.NoError(t, err)
	assert.Equal(t, domain.BookingConfirmed, got.Status)

	_, err = s.TransitionBooking(context.Background(), b.ID, []domain.BookingStatus{domain.BookingPending}, domain.BookingCancelled)
	assert.True(t, errors.Is(err, domain.ErrInvalidState))

	_, err = s.TransitionBooking(context.Background(), uuid.New(), []domain.BookingStatus{domain.BookingPending}, domain.BookingCancelled)
	assert.True(t, errors.Is(err, domain.ErrNotFound))
}
