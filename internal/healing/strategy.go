package healing

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/Rogers-F/mutation-governor/internal/domain"
)

// attempt is everything a strategy may use for one rung of the ladder.
type attempt struct {
	errType domain.ErrorType
	hctx    Context
	retry   RetryFunc
}

// strategy is one rung of a healing ladder. The set of implementations is
// closed; nil means the rung succeeded.
type strategy interface {
	run(ctx context.Context, a attempt) error
}

type retryStrategy struct{ delay time.Duration }

func (s retryStrategy) run(ctx context.Context, a attempt) error {
	if a.retry == nil {
		return domain.ErrNoRetryFunc
	}
	if s.delay > 0 {
		timer := time.NewTimer(s.delay)
		defer timer.Stop()
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-timer.C:
		}
	}
	return a.retry(ctx)
}

type rollbackStrategy struct{ rb Rollbacker }

func (s rollbackStrategy) run(ctx context.Context, a attempt) error {
	if s.rb == nil {
		return domain.ErrRecoveryFailed
	}
	if a.hctx.SnapshotID == "" && a.hctx.RequireSnapshotID {
		return domain.WrapEngineError(domain.ErrSnapshotNotFound.Code, domain.ErrSnapshotNotFound.Message,
			fmt.Errorf("no snapshot recorded for this %s", a.errType))
	}
	res := s.rb.Rollback(ctx, a.hctx.SnapshotID)
	if !res.Success {
		return fmt.Errorf("rollback %s: %s", res.SnapshotID, res.Error)
	}
	return nil
}

type fallbackStrategy struct{ local LocalStore }

func (s fallbackStrategy) run(ctx context.Context, a attempt) error {
	if a.hctx.Fallback != nil {
		return a.hctx.Fallback(ctx)
	}
	if a.errType != domain.ErrorStorageFailure || s.local == nil {
		return domain.ErrNoFallback
	}
	payload, err := json.Marshal(a.hctx.Data)
	if err != nil {
		return fmt.Errorf("encode fallback payload: %w", err)
	}
	key := fmt.Sprintf("fallback/%s/%d", a.errType, time.Now().UnixNano())
	return s.local.Put(ctx, key, payload)
}

type restartStrategy struct{}

func (restartStrategy) run(ctx context.Context, a attempt) error {
	if a.hctx.Restart == nil {
		return domain.ErrNoRestartFunc
	}
	return a.hctx.Restart(ctx)
}

type skipStrategy struct{}

func (skipStrategy) run(context.Context, attempt) error { return nil }

type escalateStrategy struct{}

func (escalateStrategy) run(context.Context, attempt) error { return domain.ErrEscalated }

// DefaultLadders maps each error type to its ordered strategies.
func DefaultLadders() map[domain.ErrorType][]domain.Strategy {
	return map[domain.ErrorType][]domain.Strategy{
		domain.ErrorStorageFailure:       {domain.StrategyRetry, domain.StrategyFallback, domain.StrategyEscalate},
		domain.ErrorMutationFailure:      {domain.StrategyRollback, domain.StrategySkip, domain.StrategyEscalate},
		domain.ErrorCommunicationFailure: {domain.StrategyRetry, domain.StrategyFallback, domain.StrategySkip},
		domain.ErrorFitnessDegradation:   {domain.StrategyRollback, domain.StrategyRestart, domain.StrategyEscalate},
		domain.ErrorProviderFailure:      {domain.StrategyFallback, domain.StrategyRetry, domain.StrategyEscalate},
		domain.ErrorValidationFailure:    {domain.StrategySkip, domain.StrategyEscalate},
		domain.ErrorSyncFailure:          {domain.StrategyRetry, domain.StrategyFallback, domain.StrategySkip},
		domain.ErrorUnknown:              {domain.StrategyRetry, domain.StrategyEscalate},
	}
}
