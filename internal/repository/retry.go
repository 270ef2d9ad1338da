package repository

import (
	"context"
	"errors"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog/log"
)

// RetryPolicy bounds retries of read paths on ErrUnavailable
type RetryPolicy struct {
	Attempts  int
	BaseDelay time.Duration
	Clock     clockwork.Clock
}

// DefaultRetryPolicy retries three times starting at 100ms, doubling
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		Attempts:  3,
		BaseDelay: 100 * time.Millisecond,
		Clock:     clockwork.NewRealClock(),
	}
}

type retryStore struct {
	DocumentStore
	policy RetryPolicy
}

// WithRetry retries Read and Subscribe with exponential backoff when the
// store reports ErrUnavailable. Writes are passed through untouched: a
// failed write is reported once.
func WithRetry(store DocumentStore, policy RetryPolicy) DocumentStore {
	if policy.Attempts < 1 {
		policy.Attempts = 1
	}
	if policy.Clock == nil {
		policy.Clock = clockwork.NewRealClock()
	}
	return &retryStore{DocumentStore: store, policy: policy}
}

func (r *retryStore) Read(ctx context.Context, collection, id string, dest interface{}) error {
	return r.do(ctx, "read", collection, id, func() error {
		return r.DocumentStore.Read(ctx, collection, id, dest)
	})
}

func (r *retryStore) Subscribe(ctx context.Context, collection, id string) (*Subscription, error) {
	var sub *Subscription
	err := r.do(ctx, "subscribe", collection, id, func() error {
		var err error
		sub, err = r.DocumentStore.Subscribe(ctx, collection, id)
		return err
	})
	return sub, err
}

func (r *retryStore) do(ctx context.Context, op, collection, id string, fn func() error) error {
	delay := r.policy.BaseDelay
	var err error
	for attempt := 1; attempt <= r.policy.Attempts; attempt++ {
		if err = fn(); err == nil || !errors.Is(err, ErrUnavailable) {
			return err
		}
		if attempt == r.policy.Attempts {
			break
		}
		log.Warn().Err(err).
			Str("op", op).
			Str("collection", collection).
			Str("code", id).
			Int("attempt", attempt).
			Dur("backoff", delay).
			Msg("store unavailable, retrying")

		timer := r.policy.Clock.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.Chan():
		}
		delay *= 2
	}
	return err
}
