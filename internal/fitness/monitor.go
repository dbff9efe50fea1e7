// Package fitness turns operation telemetry into a health score and flags
// regressions.
package fitness

import (
	"fmt"
	"math"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/Rogers-F/mutation-governor/internal/config"
	"github.com/Rogers-F/mutation-governor/internal/domain"
	"github.com/Rogers-F/mutation-governor/internal/logging"
)

const (
	// healingSpeedCeiling is the mean heal time, in seconds, that scores zero.
	healingSpeedCeiling = 60.0
	// dampingFactor scales a degradation percentage into a suggested impact.
	dampingFactor = 0.1
	// trendBand is the overall-score delta treated as noise.
	trendBand = 0.01
	// Source names the monitor on the mutations it suggests.
	Source = "FitnessMonitor"
)

// suggestedActions maps a metric to the remedy named in its alert.
var suggestedActions = map[string]string{
	"success_rate":    "review recent mutations and roll back the one that raised the failure rate",
	"healing_speed":   "tune healing ladders so the first strategy tried is the one that usually works",
	"cost_efficiency": "route operations to cheaper providers or batch them",
	"uptime":          "investigate downtime causes and add a restart strategy",
	"overall":         "run a fitness optimization cycle",
}

// Monitor aggregates telemetry. It is safe for concurrent use.
type Monitor struct {
	weights     config.FitnessWeights
	threshold   float64
	window      int
	historySize int
	baseline    float64
	logger      *zap.Logger
	now         func() time.Time

	mu          sync.Mutex
	start       time.Time
	total       int
	successful  int
	totalCost   float64
	downtime    float64
	healCount   int
	healSeconds float64
	history     []domain.FitnessScore
}

// NewMonitor validates cfg and creates a monitor. Weights that do not sum
// to 1.0 are rejected with ErrConfigInvalid.
func NewMonitor(cfg config.FitnessConfig, logger *zap.Logger) (*Monitor, error) {
	return newMonitorWithClock(cfg, logger, time.Now)
}

func newMonitorWithClock(cfg config.FitnessConfig, logger *zap.Logger, now func() time.Time) (*Monitor, error) {
	if cfg.Weights == nil {
		return nil, domain.WrapEngineError(domain.ErrConfigInvalid.Code, domain.ErrConfigInvalid.Message, fmt.Errorf("fitness weights are required"))
	}
	if err := config.ValidateWeights(*cfg.Weights); err != nil {
		return nil, domain.WrapEngineError(domain.ErrConfigInvalid.Code, domain.ErrConfigInvalid.Message, err)
	}
	m := &Monitor{
		weights:     *cfg.Weights,
		threshold:   cfg.DegradationThresholdPercent,
		window:      cfg.TrendWindow,
		historySize: cfg.HistorySize,
		baseline:    cfg.BaselineOpsPerCost,
		logger:      logging.OrNop(logger).Named("fitness"),
		now:         now,
		start:       now(),
	}
	if m.window < 2 {
		m.window = 10
	}
	if m.historySize < 2 {
		m.historySize = 100
	}
	if m.baseline <= 0 {
		m.baseline = 100
	}
	if m.threshold <= 0 {
		m.threshold = 10
	}
	return m, nil
}

// RecordOperation adds one telemetry sample.
func (m *Monitor) RecordOperation(op domain.OperationMetrics) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.total++
	if op.Success {
		m.successful++
	}
	if op.Cost > 0 && !math.IsInf(op.Cost, 0) {
		m.totalCost += op.Cost
	}
}

// RecordDowntime adds seconds of downtime.
func (m *Monitor) RecordDowntime(seconds float64) {
	if seconds <= 0 || math.IsNaN(seconds) || math.IsInf(seconds, 0) {
		return
	}
	m.mu.Lock()
	m.downtime += seconds
	m.mu.Unlock()
}

// RecordHealingEvent adds the time taken to resolve one failure.
func (m *Monitor) RecordHealingEvent(errorTime, resolvedTime time.Time, errType domain.ErrorType, method domain.Strategy) {
	secs := resolvedTime.Sub(errorTime).Seconds()
	if secs < 0 {
		secs = 0
	}
	m.mu.Lock()
	m.healCount++
	m.healSeconds += secs
	m.mu.Unlock()

	m.logger.Debug("healing event",
		zap.String("error_type", string(errType)),
		zap.String("method", string(method)),
		zap.Float64("seconds", secs))
}

// CalculateFitness scores the telemetry so far and appends the score to the
// bounded history.
func (m *Monitor) CalculateFitness() domain.FitnessScore {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	score := domain.FitnessScore{
		SuccessRate:    m.successRateLocked(),
		HealingSpeed:   m.healingSpeedLocked(),
		CostEfficiency: m.costEfficiencyLocked(),
		Uptime:         m.uptimeLocked(now),
		Timestamp:      now.UTC(),
	}
	score.Overall = clamp01(m.weights.SuccessRate*score.SuccessRate +
		m.weights.HealingSpeed*score.HealingSpeed +
		m.weights.CostEfficiency*score.CostEfficiency +
		m.weights.Uptime*score.Uptime)
	score.Trend = m.trendLocked(score.Overall)

	m.history = append(m.history, score)
	if over := len(m.history) - m.historySize; over > 0 {
		m.history = append(m.history[:0:0], m.history[over:]...)
	}
	return score
}

func (m *Monitor) successRateLocked() float64 {
	if m.total == 0 {
		return 1
	}
	return float64(m.successful) / float64(m.total)
}

func (m *Monitor) healingSpeedLocked() float64 {
	if m.healCount == 0 {
		return 1
	}
	mean := m.healSeconds / float64(m.healCount)
	return 1 - clamp01(mean/healingSpeedCeiling)
}

func (m *Monitor) costEfficiencyLocked() float64 {
	if m.totalCost <= 0 {
		return 1
	}
	return clamp01(float64(m.total) / m.totalCost / m.baseline)
}

func (m *Monitor) uptimeLocked(now time.Time) float64 {
	elapsed := now.Sub(m.start).Seconds()
	if elapsed <= 0 {
		return 1
	}
	return clamp01((elapsed - m.downtime) / elapsed)
}

// trendLocked compares overall against the oldest entry inside the window.
func (m *Monitor) trendLocked(overall float64) domain.Trend {
	if len(m.history) == 0 {
		return domain.TrendStable
	}
	ref := m.history[m.windowStartLocked(len(m.history))]
	switch d := overall - ref.Overall; {
	case d > trendBand:
		return domain.TrendImproving
	case d < -trendBand:
		return domain.TrendDegrading
	default:
		return domain.TrendStable
	}
}

// windowStartLocked returns the index of the oldest entry within the trend
// window of a history of length n.
func (m *Monitor) windowStartLocked(n int) int {
	if start := n - m.window; start > 0 {
		return start
	}
	return 0
}

// DetectDegradation compares the latest score with the oldest one inside
// the trend window and returns an alert for the metric that dropped the
// most, if that drop exceeds the threshold. It returns nil otherwise.
func (m *Monitor) DetectDegradation() *domain.DegradationAlert {
	m.mu.Lock()
	defer m.mu.Unlock()

	n := len(m.history)
	if n < 2 {
		return nil
	}
	latest := m.history[n-1]
	earlier := m.history[m.windowStartLocked(n-1)]

	metrics := []struct {
		name      string
		cur, prev float64
	}{
		{"success_rate", latest.SuccessRate, earlier.SuccessRate},
		{"healing_speed", latest.HealingSpeed, earlier.HealingSpeed},
		{"cost_efficiency", latest.CostEfficiency, earlier.CostEfficiency},
		{"uptime", latest.Uptime, earlier.Uptime},
		{"overall", latest.Overall, earlier.Overall},
	}

	var worst *domain.DegradationAlert
	for _, mt := range metrics {
		if mt.prev <= 0 || mt.cur >= mt.prev {
			continue
		}
		drop := (mt.prev - mt.cur) / mt.prev * 100
		if drop <= m.threshold {
			continue
		}
		if worst == nil || drop > worst.DegradationPercent {
			worst = &domain.DegradationAlert{
				Metric:             mt.name,
				CurrentValue:       mt.cur,
				PreviousValue:      mt.prev,
				Threshold:          m.threshold,
				DegradationPercent: drop,
				SuggestedAction:    suggestedActions[mt.name],
			}
		}
	}
	if worst != nil {
		m.logger.Warn("fitness degradation",
			zap.String("metric", worst.Metric),
			zap.Float64("percent", worst.DegradationPercent))
	}
	return worst
}

// SuggestOptimization proposes a fitness optimization sized to the alert.
func (m *Monitor) SuggestOptimization(alert domain.DegradationAlert) domain.Mutation {
	priority := domain.PriorityNormal
	if alert.DegradationPercent >= 2*alert.Threshold {
		priority = domain.PriorityHigh
	}
	return domain.Mutation{
		Type: domain.MutationFitnessOptimization,
		Description: fmt.Sprintf("Recover %s after a %.1f%% drop: %s",
			alert.Metric, alert.DegradationPercent, alert.SuggestedAction),
		FitnessImpact: alert.DegradationPercent * dampingFactor,
		Source:        Source,
		Priority:      priority,
	}
}

// History returns up to limit of the newest scores, oldest first. limit <= 0
// returns everything retained.
func (m *Monitor) History(limit int) []domain.FitnessScore {
	m.mu.Lock()
	defer m.mu.Unlock()

	start := 0
	if limit > 0 && len(m.history) > limit {
		start = len(m.history) - limit
	}
	return append([]domain.FitnessScore(nil), m.history[start:]...)
}

func clamp01(v float64) float64 {
	if math.IsNaN(v) {
		return 0
	}
	return math.Max(0, math.Min(1, v))
}
