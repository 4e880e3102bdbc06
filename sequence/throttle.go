package sequence

import (
	"context"

	"golang.org/x/time/rate"
)

// Throttle spaces out work between leads in a batch pass.
type Throttle interface {
	Wait(ctx context.Context) error
}

// NewRateThrottle allows perSecond leads per second with no burst.
// A non-positive rate disables throttling.
func NewRateThrottle(perSecond float64) Throttle {
	if perSecond <= 0 {
		return NoThrottle
	}
	return rate.NewLimiter(rate.Limit(perSecond), 1)
}

type noThrottle struct{}

func (noThrottle) Wait(ctx context.Context) error { return ctx.Err() }

// NoThrottle never waits.
var NoThrottle Throttle = noThrottle{}
