package catalog

import (
	"context"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/google/uuid"
	"github.com/robertarktes/salon-booking-settlement/internal/domain"
	"github.com/robertarktes/salon-booking-settlement/internal/observability"
)

type Store interface {
	GetMerchant(ctx context.Context, id uuid.UUID) (domain.MerchantProfile, error)
	UpsertMerchant(ctx context.Context, m domain.MerchantProfile) error
}

type Cache interface {
	GetJSON(ctx context.Context, key string, dst interface{}) (bool, error)
	SetJSON(ctx context.Context, key string, value interface{}, ttl time.Duration) error
	Del(ctx context.Context, keys ...string) error
}

// Service resolves merchant profiles, falling back to the default schedule for
// merchants that never saved settings. The cache is optional.
type Service struct {
	store  Store
	cache  Cache
	ttl    time.Duration
	logger observability.Logger
}

func NewService(store Store, cache Cache, ttl time.Duration, logger observability.Logger) *Service {
	return &Service{store: store, cache: cache, ttl: ttl, logger: logger}
}

func cacheKey(id uuid.UUID) string {
	return "merchant:" + id.String()
}

func (s *Service) Merchant(ctx context.Context, id uuid.UUID) (domain.MerchantProfile, error) {
	if s.cache != nil {
		var cached domain.MerchantProfile
		ok, err := s.cache.GetJSON(ctx, cacheKey(id), &cached)
		if err != nil {
			s.logger.WithError(err).WithField("merchant_id", id).Warn("merchant cache read failed")
		}
		if ok {
			return cached, nil
		}
	}

	m, err := s.store.GetMerchant(ctx, id)
	if errors.Is(err, domain.ErrNotFound) {
		m = domain.DefaultMerchantProfile(id)
	} else if err != nil {
		return domain.MerchantProfile{}, errors.Wrapf(err, "load merchant %s", id)
	}

	if s.cache != nil {
		if err := s.cache.SetJSON(ctx, cacheKey(id), m, s.ttl); err != nil {
			s.logger.WithError(err).WithField("merchant_id", id).Warn("merchant cache write failed")
		}
	}
	return m, nil
}

type Settings struct {
	Name                string
	OpensAt             domain.ClockTime
	ClosesAt            domain.ClockTime
	BreakStart          *domain.ClockTime
	BreakEnd            *domain.ClockTime
	Services            []domain.Service
	CoinsEnabled        *bool
	ReleaseSlotOnCancel *bool
	Payout              *domain.PayoutAccount
}

func (s Settings) Validate() error {
	if s.ClosesAt <= s.OpensAt || s.ClosesAt > domain.MinutesPerDay {
		return errors.Wrapf(domain.ErrInvalidInput, "working hours %s-%s are invalid", s.OpensAt, s.ClosesAt)
	}
	if (s.BreakStart == nil) != (s.BreakEnd == nil) {
		return errors.Wrap(domain.ErrInvalidInput, "break needs both start and end")
	}
	if s.BreakStart != nil && (*s.BreakEnd <= *s.BreakStart || *s.BreakStart < s.OpensAt || *s.BreakEnd > s.ClosesAt) {
		return errors.Wrap(domain.ErrInvalidInput, "break must lie inside working hours")
	}
	for _, svc := range s.Services {
		if svc.Name == "" || svc.Duration <= 0 || svc.Price < 0 {
			return errors.Wrapf(domain.ErrInvalidInput, "service %q is invalid", svc.Name)
		}
	}
	return nil
}

// UpdateSettings replaces a merchant's schedule and policies.
func (s *Service) UpdateSettings(ctx context.Context, merchantID uuid.UUID, in Settings) (domain.MerchantProfile, error) {
	if err := in.Validate(); err != nil {
		return domain.MerchantProfile{}, err
	}
	m := domain.MerchantProfile{
		ID:                  merchantID,
		Name:                in.Name,
		OpensAt:             in.OpensAt,
		ClosesAt:            in.ClosesAt,
		BreakStart:          in.BreakStart,
		BreakEnd:            in.BreakEnd,
		Services:            in.Services,
		CoinsEnabled:        in.CoinsEnabled == nil || *in.CoinsEnabled,
		ReleaseSlotOnCancel: in.ReleaseSlotOnCancel,
		Payout:              in.Payout,
	}
	if err := s.store.UpsertMerchant(ctx, m); err != nil {
		return domain.MerchantProfile{}, err
	}
	if s.cache != nil {
		if err := s.cache.Del(ctx, cacheKey(merchantID)); err != nil {
			s.logger.WithError(err).WithField("merchant_id", merchantID).Warn("merchant cache invalidation failed")
		}
	}
	return m, nil
}
