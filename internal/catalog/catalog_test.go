package catalog_test

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/google/uuid"
	logtest "github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/robertarktes/salon-booking-settlement/internal/adapters/memstore"
	"github.com/robertarktes/salon-booking-settlement/internal/catalog"
	"github.com/robertarktes/salon-booking-settlement/internal/domain"
	"github.com/robertarktes/salon-booking-settlement/internal/observability"
)

type mapCache struct {
	mu   sync.Mutex
	data map[string][]byte
	sets int
}

func newMapCache() *mapCache {
	return &mapCache{data: make(map[string][]byte)}
}

func (c *mapCache) GetJSON(_ context.Context, key string, dst interface{}) (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	raw, ok := c.data[key]
	if !ok {
		return false, nil
	}
	return true, json.Unmarshal(raw, dst)
}

func (c *mapCache) SetJSON(_ context.Context, key string, value interface{}, _ time.Duration) error {
	raw, err := json.Marshal(value)
	if err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.data[key] = raw
	c.sets++
	return nil
}

func (c *mapCache) Del(_ context.Context, keys ...string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, k := range keys {
		delete(c.data, k)
	}
	return nil
}

func newService(store catalog.Store, cache catalog.Cache) *catalog.Service {
	log, _ := logtest.NewNullLogger()
	return catalog.NewService(store, cache, time.Minute, observability.NewLoggerFrom(log))
}

func TestMerchant_DefaultsForUnknown(t *testing.T) {
	svc := newService(memstore.NewCatalog(), nil)
	id := uuid.New()

	m, err := svc.Merchant(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, id, m.ID)
	assert.Equal(t, "09:00", m.OpensAt.String())
	assert.Equal(t, "17:00", m.ClosesAt.String())
	assert.True(t, m.CoinsEnabled)
	assert.Equal(t, domain.DefaultDurations, m.Durations())
}

func TestUpdateSettings_InvalidatesCache(t *testing.T) {
	cache := newMapCache()
	svc := newService(memstore.NewCatalog(), cache)
	id := uuid.New()

	_, err := svc.Merchant(context.Background(), id)
	require.NoError(t, err)
	_, err = svc.Merchant(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, 1, cache.sets)

	off := false
	bs, be := domain.MustClock("13:00"), domain.MustClock("14:00")
	_, err = svc.UpdateSettings(context.Background(), id, catalog.Settings{
		Name:         "Glow Studio",
		OpensAt:      domain.MustClock("10:00"),
		ClosesAt:     domain.MustClock("19:00"),
		BreakStart:   &bs,
		BreakEnd:     &be,
		Services:     []domain.Service{{Name: "Facial", Duration: 45, Price: 2500}},
		CoinsEnabled: &off,
	})
	require.NoError(t, err)

	m, err := svc.Merchant(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, "Glow Studio", m.Name)
	assert.Equal(t, "10:00", m.OpensAt.String())
	require.NotNil(t, m.BreakStart)
	assert.Equal(t, "13:00", m.BreakStart.String())
	assert.False(t, m.CoinsEnabled)
	assert.Equal(t, []int{45}, m.Durations())
}

func TestSettingsValidate(t *testing.T) {
	nine, five := domain.MustClock("09:00"), domain.MustClock("17:00")
	early, lunch := domain.MustClock("08:00"), domain.MustClock("13:00")

	tests := []struct {
		name string
		in   catalog.Settings
		ok   bool
	}{
		{"valid", catalog.Settings{OpensAt: nine, ClosesAt: five}, true},
		{"closes before opening", catalog.Settings{OpensAt: five, ClosesAt: nine}, false},
		{"half a break", catalog.Settings{OpensAt: nine, ClosesAt: five, BreakStart: &lunch}, false},
		{"break outside hours", catalog.Settings{OpensAt: nine, ClosesAt: five, BreakStart: &early, BreakEnd: &lunch}, false},
		{"service without duration", catalog.Settings{OpensAt: nine, ClosesAt: five, Services: []domain.Service{{Name: "Cut"}}}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.in.Validate()
			if tt.ok {
				assert.NoError(t, err)
				return
			}
			assert.True(t, errors.Is(err, domain.ErrInvalidInput), "got %v", err)
		})
	}
}
