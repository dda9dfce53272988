package rate

import (
	"context"
	"time"
)

// Limiter throttles order submission per player. Implementations report
// whether the call is allowed and, when it is not, how long until the window
// resets.
type Limiter interface {
	Allow(ctx context.Context, key string, now time.Time) (bool, time.Duration, error)
}
