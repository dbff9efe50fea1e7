// Package metrics declares the governor's Prometheus collectors.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/Rogers-F/mutation-governor/internal/domain"
)

var (
	// ProposalsTotal counts proposals by decision: auto, queued, rejected, rate_limited.
	ProposalsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "governor_proposals_total",
		Help: "Mutation proposals by decision",
	}, []string{"decision"})

	// MutationsApplied counts applied mutations by approval kind and result.
	MutationsApplied = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "governor_mutations_applied_total",
		Help: "Mutation applications by approval kind and result",
	}, []string{"approval", "result"})

	// Generation is the current DNA generation.
	Generation = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "governor_dna_generation",
		Help: "Current DNA generation",
	})

	// Fitness holds the latest fitness components.
	Fitness = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "governor_fitness_score",
		Help: "Latest fitness score by component",
	}, []string{"component"})

	// HealingAttempts counts strategy executions.
	HealingAttempts = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "governor_healing_attempts_total",
		Help: "Healing strategy attempts by error type, strategy and result",
	}, []string{"error_type", "strategy", "result"})

	// HealingDuration tracks strategy latency.
	HealingDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "governor_healing_attempt_duration_seconds",
		Help:    "Healing strategy duration in seconds",
		Buckets: prometheus.ExponentialBuckets(0.001, 4, 8), // 1ms to ~16s
	}, []string{"strategy"})

	// Escalations counts escalations by error type.
	Escalations = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "governor_escalations_total",
		Help: "Escalations to an operator by error type",
	}, []string{"error_type"})

	// Rollbacks counts rollbacks by result: ok, unverified, failed.
	Rollbacks = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "governor_rollbacks_total",
		Help: "Rollbacks by result",
	}, []string{"result"})

	// SnapshotsStored is the number of retained snapshots.
	SnapshotsStored = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "governor_snapshots_stored",
		Help: "Snapshots currently retained",
	})
)

// ObserveFitness publishes a fitness score.
func ObserveFitness(s domain.FitnessScore) {
	Fitness.WithLabelValues("overall").Set(s.Overall)
	Fitness.WithLabelValues("success_rate").Set(s.SuccessRate)
	Fitness.WithLabelValues("healing_speed").Set(s.HealingSpeed)
	Fitness.WithLabelValues("cost_efficiency").Set(s.CostEfficiency)
	Fitness.WithLabelValues("uptime").Set(s.Uptime)
}

// ObserveHealingAttempt publishes one healing attempt.
func ObserveHealingAttempt(a domain.HealingAttempt) {
	result := "failed"
	if a.Success {
		result = "ok"
	}
	HealingAttempts.WithLabelValues(string(a.ErrorType), string(a.Strategy), result).Inc()
	HealingDuration.WithLabelValues(string(a.Strategy)).Observe(a.DurationMS / 1000)
}

// ObserveRollback publishes a rollback result.
func ObserveRollback(r domain.RollbackResult) {
	switch {
	case !r.Success:
		Rollbacks.WithLabelValues("failed").Inc()
		return
	case !r.VerificationPassed:
		Rollbacks.WithLabelValues("unverified").Inc()
	default:
		Rollbacks.WithLabelValues("ok").Inc()
	}
	Generation.Set(float64(r.RestoredGeneration))
}
