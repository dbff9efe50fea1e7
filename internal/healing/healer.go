// Package healing recovers from operational failures by walking an ordered
// ladder of strategies per error type, escalating to an operator when the
// ladder runs out.
package healing

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/Rogers-F/mutation-governor/internal/domain"
	"github.com/Rogers-F/mutation-governor/internal/logging"
)

// recentAttempts is how many attempts an escalation carries.
const recentAttempts = 10

// RetryFunc re-runs the failed operation.
type RetryFunc func(ctx context.Context) error

// Context is what the caller knows about the failure.
type Context struct {
	// SnapshotID is the snapshot ROLLBACK restores. Empty means the latest,
	// unless RequireSnapshotID is set, in which case ROLLBACK fails.
	SnapshotID        string
	RequireSnapshotID bool
	Fallback          func(ctx context.Context) error
	Restart           func(ctx context.Context) error
	Data              map[string]any
}

func (c Context) asMap() map[string]any {
	out := domain.CloneMap(c.Data)
	if out == nil {
		out = map[string]any{}
	}
	if c.SnapshotID != "" {
		out["snapshot_id"] = c.SnapshotID
	}
	return out
}

// Rollbacker restores DNA. rollback.Binding implements it.
type Rollbacker interface {
	Rollback(ctx context.Context, snapshotID string) domain.RollbackResult
}

// LocalStore is the last-resort store used by FALLBACK on storage failures.
type LocalStore interface {
	Put(ctx context.Context, key string, value []byte) error
}

// Config tunes the healer.
type Config struct {
	MaxAttempts int
	RetryDelay  time.Duration
	Ladders     map[domain.ErrorType][]domain.Strategy
}

// Healer runs healing ladders. Calls for the same error type are
// serialized; different error types heal concurrently.
type Healer struct {
	cfg        Config
	history    *History
	strategies map[domain.Strategy]strategy
	logger     *zap.Logger

	mu         sync.Mutex
	locks      map[domain.ErrorType]*sync.Mutex
	onEscalate []func(domain.Escalation)
	onAttempt  []func(domain.HealingAttempt)
}

// NewHealer creates a healer. rb and local may be nil; the strategies that
// need them then fail and the ladder moves on.
func NewHealer(cfg Config, history *History, rb Rollbacker, local LocalStore, logger *zap.Logger) *Healer {
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 3
	}
	if cfg.Ladders == nil {
		cfg.Ladders = DefaultLadders()
	}
	if history == nil {
		history = NewHistory(DefaultHistorySize)
	}
	return &Healer{
		cfg:     cfg,
		history: history,
		strategies: map[domain.Strategy]strategy{
			domain.StrategyRetry:    retryStrategy{delay: cfg.RetryDelay},
			domain.StrategyRollback: rollbackStrategy{rb: rb},
			domain.StrategyFallback: fallbackStrategy{local: local},
			domain.StrategyRestart:  restartStrategy{},
			domain.StrategySkip:     skipStrategy{},
			domain.StrategyEscalate: escalateStrategy{},
		},
		logger: logging.OrNop(logger).Named("healing"),
		locks:  make(map[domain.ErrorType]*sync.Mutex),
	}
}

// OnEscalation registers a callback invoked synchronously on every escalation.
func (h *Healer) OnEscalation(fn func(domain.Escalation)) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.onEscalate = append(h.onEscalate, fn)
}

// OnAttempt registers a callback invoked after every strategy attempt.
func (h *Healer) OnAttempt(fn func(domain.HealingAttempt)) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.onAttempt = append(h.onAttempt, fn)
}

// Ladder returns the strategies tried for errType.
func (h *Healer) Ladder(errType domain.ErrorType) []domain.Strategy {
	if l, ok := h.cfg.Ladders[errType]; ok {
		return l
	}
	return h.cfg.Ladders[domain.ErrorUnknown]
}

// Heal walks the ladder for errType until a strategy succeeds or the shared
// attempt budget is spent. If nothing succeeded it escalates.
func (h *Healer) Heal(ctx context.Context, errType domain.ErrorType, hctx Context, retry RetryFunc) domain.HealingResult {
	errType = domain.ParseErrorType(string(errType))

	lock := h.lockFor(errType)
	lock.Lock()
	defer lock.Unlock()

	res := domain.HealingResult{ErrorType: errType, StartedAt: time.Now().UTC()}
	var lastErr error

	for _, s := range h.Ladder(errType) {
		if res.Attempts >= h.cfg.MaxAttempts {
			break
		}
		res.Attempts++
		res.StrategyUsed = s

		err := h.runOne(ctx, errType, s, hctx, retry)
		if err == nil {
			res.Success = true
			res.FinishedAt = time.Now().UTC()
			h.logger.Info("healed",
				zap.String("error_type", string(errType)),
				zap.String("strategy", string(s)),
				zap.Int("attempts", res.Attempts))
			return res
		}
		lastErr = err
		if s == domain.StrategyEscalate {
			break
		}
	}

	if lastErr == nil {
		lastErr = domain.ErrHealingExhausted
	}
	res.Error = lastErr.Error()
	res.Escalated = true
	res.FinishedAt = time.Now().UTC()
	h.escalate(errType, hctx, lastErr)
	return res
}

func (h *Healer) runOne(ctx context.Context, errType domain.ErrorType, s domain.Strategy, hctx Context, retry RetryFunc) (err error) {
	start := time.Now()
	defer func() {
		if r := recover(); r != nil {
			err = domain.WrapEngineError(domain.ErrStrategyPanic.Code, domain.ErrStrategyPanic.Message, fmt.Errorf("%v", r))
		}
		a := domain.HealingAttempt{
			ErrorType:  errType,
			Strategy:   s,
			Success:    err == nil,
			DurationMS: float64(time.Since(start).Microseconds()) / 1000,
			Timestamp:  start.UTC(),
		}
		if err != nil {
			a.Error = err.Error()
			h.logger.Debug("healing strategy failed",
				zap.String("error_type", string(errType)),
				zap.String("strategy", string(s)),
				zap.Error(err))
		}
		h.history.add(a)
		h.notifyAttempt(a)
	}()

	impl, ok := h.strategies[s]
	if !ok {
		return fmt.Errorf("unknown strategy %q", s)
	}
	return impl.run(ctx, attempt{errType: errType, hctx: hctx, retry: retry})
}

func (h *Healer) escalate(errType domain.ErrorType, hctx Context, cause error) {
	h.history.escalated()

	esc := domain.Escalation{
		ErrorType:      errType,
		Context:        hctx.asMap(),
		Error:          cause.Error(),
		Timestamp:      time.Now().UTC(),
		RecentAttempts: h.history.Recent(errType, recentAttempts),
	}
	h.logger.Warn("healing escalated",
		zap.String("error_type", string(errType)),
		zap.Error(cause))

	h.mu.Lock()
	callbacks := append([]func(domain.Escalation){}, h.onEscalate...)
	h.mu.Unlock()

	for _, fn := range callbacks {
		h.safeCall(func() { fn(esc) })
	}
}

func (h *Healer) notifyAttempt(a domain.HealingAttempt) {
	h.mu.Lock()
	callbacks := append([]func(domain.HealingAttempt){}, h.onAttempt...)
	h.mu.Unlock()

	for _, fn := range callbacks {
		h.safeCall(func() { fn(a) })
	}
}

func (h *Healer) safeCall(fn func()) {
	defer func() {
		if r := recover(); r != nil {
			h.logger.Error("healing callback panicked", zap.Any("panic", r))
		}
	}()
	fn()
}

func (h *Healer) lockFor(errType domain.ErrorType) *sync.Mutex {
	h.mu.Lock()
	defer h.mu.Unlock()

	l, ok := h.locks[errType]
	if !ok {
		l = &sync.Mutex{}
		h.locks[errType] = l
	}
	return l
}

// GetHealingStats aggregates the attempt history.
func (h *Healer) GetHealingStats() domain.HealingStats {
	return h.history.Stats()
}

