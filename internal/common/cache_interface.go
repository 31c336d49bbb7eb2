package common

import (
	"context"
	"errors"
	"time"
)

// ErrTierUnavailable is returned when a tier cannot serve the call at all,
// for example a cookie tier used outside of an HTTP request.
var ErrTierUnavailable = errors.New("cache tier unavailable")

// TierStore defines the contract for one storage tier of the role cache
type TierStore interface {
	// Name identifies the backend in logs and stats
	Name() string

	// Get returns the raw value stored under key.
	// A missing key is reported as (nil, nil).
	Get(ctx context.Context, key string) ([]byte, error)

	// Set stores value under key. A ttl <= 0 stores without expiry.
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error

	// Delete removes key. Deleting a missing key is not an error.
	Delete(ctx context.Context, key string) error

	// Keys lists every key starting with prefix
	Keys(ctx context.Context, prefix string) ([]string, error)
}
