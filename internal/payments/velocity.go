package payments

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/fixhaven/fixhaven-api/pkg/logging"
)

// ErrVelocityExceeded is returned when a booking accumulates too many
// payment attempts inside the tracking window.
var ErrVelocityExceeded = errors.New("payments: too many attempts, try again later")

const (
	intentAttemptLimit  = 5
	intentAttemptWindow = 15 * time.Minute
	refundAttemptLimit  = 3
	refundAttemptWindow = time.Hour
)

// Velocity throttles repeated payment operations per booking using
// redis counters. A nil *Velocity disables throttling, and redis
// outages fail open: blocking payments on a cache is worse than
// letting a burst through.
type Velocity struct {
	client *redis.Client
	logger *logging.Logger
}

// NewVelocity wires the limiter to a redis client.
func NewVelocity(client *redis.Client, logger *logging.Logger) *Velocity {
	if logger == nil {
		logger = logging.Default()
	}
	return &Velocity{client: client, logger: logger}
}

// AllowIntentAttempt records an intent-creation attempt for the
// booking and rejects it once the window limit is reached.
func (v *Velocity) AllowIntentAttempt(ctx context.Context, bookingID string) error {
	return v.allow(ctx, "velocity:intent:"+bookingID, intentAttemptLimit, intentAttemptWindow)
}

// AllowRefundAttempt records a refund attempt for the booking and
// rejects it once the window limit is reached.
func (v *Velocity) AllowRefundAttempt(ctx context.Context, bookingID string) error {
	return v.allow(ctx, "velocity:refund:"+bookingID, refundAttemptLimit, refundAttemptWindow)
}

func (v *Velocity) allow(ctx context.Context, key string, limit int64, window time.Duration) error {
	if v == nil || v.client == nil {
		return nil
	}
	count, err := v.client.Incr(ctx, key).Result()
	if err != nil {
		v.logger.Warn("velocity check unavailable, allowing attempt", "key", key, "error", err)
		return nil
	}
	if count == 1 {
		if err := v.client.Expire(ctx, key, window).Err(); err != nil {
			v.logger.Warn("failed to set velocity window", "key", key, "error", err)
		}
	}
	if count > limit {
		v.logger.Warn("velocity limit exceeded", "key", key, "count", count, "limit", limit)
		return fmt.Errorf("%w (limit %d per %s)", ErrVelocityExceeded, limit, window)
	}
	return nil
}
