package governance

import (
	"golang.org/x/time/rate"

	"github.com/Rogers-F/mutation-governor/internal/domain"
	"github.com/Rogers-F/mutation-governor/internal/mutation"
)

// Guard runs the admission checks every proposal passes before risk
// assessment.
type Guard struct {
	limiter *rate.Limiter
}

// NewGuard creates a guard admitting perMinute proposals per minute, with
// bursts up to perMinute. perMinute <= 0 disables rate limiting.
func NewGuard(perMinute int) *Guard {
	if perMinute <= 0 {
		return &Guard{limiter: rate.NewLimiter(rate.Inf, 0)}
	}
	return &Guard{limiter: rate.NewLimiter(rate.Limit(float64(perMinute)/60), perMinute)}
}

// CheckAll runs all checks in order: shape, then rate. It short-circuits on
// the first error; a malformed proposal does not spend a rate token.
func (g *Guard) CheckAll(m domain.Mutation) error {
	if err := mutation.Validate(m); err != nil {
		return err
	}
	return g.CheckRateLimit()
}

// CheckRateLimit takes one token or returns ErrRateLimitExceeded.
func (g *Guard) CheckRateLimit() error {
	if !g.limiter.Allow() {
		return domain.ErrRateLimitExceeded
	}
	return nil
}
