package memstore

import (
	"context"
	"sync"

	"github.com/cockroachdb/errors"
	"github.com/google/uuid"
	"github.com/robertarktes/salon-booking-settlement/internal/domain"
)

// Catalog keeps merchant profiles in memory.
type Catalog struct {
	mu        sync.RWMutex
	merchants map[uuid.UUID]domain.MerchantProfile
}

func NewCatalog() *Catalog {
	return &Catalog{merchants: make(map[uuid.UUID]domain.MerchantProfile)}
}

func (c *Catalog) GetMerchant(_ context.Context, id uuid.UUID) (domain.MerchantProfile, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	m, ok := c.merchants[id]
	if !ok {
		return domain.MerchantProfile{}, errors.Wrapf(domain.ErrNotFound, "merchant %s", id)
	}
	return m, nil
}

func (c *Catalog) UpsertMerchant(_ context.Context, m domain.MerchantProfile) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.merchants[m.ID] = m
	return nil
}
