// Package idempotency replays stored responses for repeated requests carrying
// the same Idempotency-Key.
package idempotency

import (
	"context"
	"time"

	"github.com/cockroachdb/errors"
	redisadapter "github.com/robertarktes/salon-booking-settlement/internal/adapters/redis"
)

const lockTTL = 30 * time.Second

var ErrInProgress = errors.New("request with this idempotency key is in progress")

type Backend interface {
	Get(ctx context.Context, key string) (*redisadapter.IdempResponse, error)
	Set(ctx context.Context, key string, resp redisadapter.IdempResponse, ttl time.Duration) error
	Lock(ctx context.Context, key string, ttl time.Duration) (bool, error)
	Unlock(ctx context.Context, key string) error
}

type Idempotency struct {
	backend Backend
	ttl     time.Duration
}

func NewIdempotency(backend Backend, ttl time.Duration) *Idempotency {
	return &Idempotency{backend: backend, ttl: ttl}
}

type Response struct {
	Status      int
	ContentType string
	Result      []byte
}

func (i *Idempotency) Get(ctx context.Context, key string) (*Response, error) {
	stored, err := i.backend.Get(ctx, key)
	if err != nil || stored == nil {
		return nil, err
	}
	return &Response{Status: stored.Status, ContentType: stored.ContentType, Result: stored.Result}, nil
}

func (i *Idempotency) Set(ctx context.Context, key string, resp Response) error {
	return i.backend.Set(ctx, key, redisadapter.IdempResponse{
		Status:      resp.Status,
		ContentType: resp.ContentType,
		Result:      resp.Result,
	}, i.ttl)
}

// Begin claims key for the current request. It returns ErrInProgress when
// another request holds it; the caller must call Done when finished.
func (i *Idempotency) Begin(ctx context.Context, key string) error {
	ok, err := i.backend.Lock(ctx, key, lockTTL)
	if err != nil {
		return err
	}
	if !ok {
		return ErrInProgress
	}
	return nil
}

func (i *Idempotency) Done(ctx context.Context, key string) error {
	return i.backend.Unlock(context.WithoutCancel(ctx), key)
}
