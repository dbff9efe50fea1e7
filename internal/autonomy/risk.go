package autonomy

import (
	"math"

	"github.com/Rogers-F/mutation-governor/internal/domain"
)

// baseRisk is the starting risk of each known mutation type. Changes that
// touch the system's own autonomy or core sit at the top.
var baseRisk = map[domain.MutationType]float64{
	domain.MutationCommunicationEnhancement: 0.05,
	domain.MutationPerformanceOptimization:  0.10,
	domain.MutationFitnessOptimization:      0.10,
	domain.MutationKnowledgeExpansion:       0.15,
	domain.MutationCapabilityExpansion:      0.25,
	domain.MutationTraitAdjustment:          0.30,
	domain.MutationAutonomyAdjustment:       0.50,
	domain.MutationCoreModification:         0.60,
}

// unknownTypeRisk equals the highest known base risk.
const unknownTypeRisk = 0.60

const (
	impactSlope   = 0.03
	impactCap     = 0.30
	untrustedRisk = 0.20
)

// BaseRisk returns the base risk for a mutation type. Unknown types get the
// highest bucket.
func BaseRisk(t domain.MutationType) float64 {
	if r, ok := baseRisk[t]; ok {
		return r
	}
	return unknownTypeRisk
}

// AssessRisk scores a mutation in [0,1]. It depends only on the mutation and
// the controller's configuration.
func (c *Controller) AssessRisk(m domain.Mutation) float64 {
	risk := BaseRisk(m.Type)

	impact := math.Abs(m.FitnessImpact)
	if math.IsNaN(impact) || math.IsInf(impact, 0) {
		risk += impactCap
	} else if impact > c.cfg.ImpactThreshold {
		risk += math.Min(impactCap, impactSlope*(impact-c.cfg.ImpactThreshold))
	}

	if !c.trusted[m.Source] {
		risk += untrustedRisk
	}

	return clamp01(risk)
}

// RiskLevel buckets a score. Boundaries are half-open: [0,0.2) MINIMAL,
// [0.2,0.4) LOW, [0.4,0.6) MEDIUM, [0.6,0.8) HIGH, [0.8,1] CRITICAL.
func RiskLevel(score float64) domain.RiskLevel {
	switch {
	case score < 0.2:
		return domain.RiskMinimal
	case score < 0.4:
		return domain.RiskLow
	case score < 0.6:
		return domain.RiskMedium
	case score < 0.8:
		return domain.RiskHigh
	default:
		return domain.RiskCritical
	}
}

func clamp01(v float64) float64 {
	if math.IsNaN(v) {
		return 1
	}
	return math.Max(0, math.Min(1, v))
}
