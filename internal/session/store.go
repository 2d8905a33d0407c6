package session

import (
	"context"
	"time"
)

// Store persists session values by id. Get reports found=false for
// unknown or expired ids without an error.
type Store interface {
	Get(ctx context.Context, id string) (values map[string]any, found bool, err error)
	Set(ctx context.Context, id string, values map[string]any, ttl time.Duration) error
	Touch(ctx context.Context, id string, ttl time.Duration) error
	Destroy(ctx context.Context, id string) error
}
