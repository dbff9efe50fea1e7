package autonomy

import (
	"math"
	"testing"
	"testing/quick"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Rogers-F/mutation-governor/internal/config"
	"github.com/Rogers-F/mutation-governor/internal/domain"
)

func testConfig() config.AutonomyConfig {
	return config.Default().Autonomy
}

func newTestController(cfg config.AutonomyConfig) *Controller {
	return NewController(cfg, nil, nil)
}

func TestAssessRisk_Bounded(t *testing.T) {
	c := newTestController(testConfig())
	types := []domain.MutationType{
		domain.MutationCommunicationEnhancement,
		domain.MutationAutonomyAdjustment,
		domain.MutationCoreModification,
		"no_such_type",
	}
	sources := []string{"", "ChatGPT", "stranger"}

	f := func(impact float64, ti, si uint8) bool {
		m := domain.Mutation{
			Type:          types[int(ti)%len(types)],
			FitnessImpact: impact,
			Source:        sources[int(si)%len(sources)],
		}
		r := c.AssessRisk(m)
		return r >= 0 && r <= 1
	}
	require.NoError(t, quick.Check(f, nil))

	for _, v := range []float64{math.NaN(), math.Inf(1), math.Inf(-1), -1e300, 1e300} {
		r := c.AssessRisk(domain.Mutation{Type: domain.MutationCoreModification, FitnessImpact: v})
		assert.GreaterOrEqual(t, r, 0.0)
		assert.LessOrEqual(t, r, 1.0)
	}
}

func TestAssessRisk_AutonomyAboveCommunication(t *testing.T) {
	c := newTestController(testConfig())
	f := func(impact float64, trusted bool) bool {
		src := "nobody"
		if trusted {
			src = "Claude"
		}
		comm := domain.Mutation{Type: domain.MutationCommunicationEnhancement, FitnessImpact: impact, Source: src}
		auto := comm
		auto.Type = domain.MutationAutonomyAdjustment
		return c.AssessRisk(auto) > c.AssessRisk(comm)
	}
	require.NoError(t, quick.Check(f, nil))
}

func TestAssessRisk_ImpactMonotonic(t *testing.T) {
	c := newTestController(testConfig())
	prev := -1.0
	for impact := 0.0; impact <= 30; impact += 0.5 {
		r := c.AssessRisk(domain.Mutation{Type: domain.MutationKnowledgeExpansion, FitnessImpact: impact, Source: "ChatGPT"})
		assert.GreaterOrEqual(t, r, prev, "risk dropped at impact %.1f", impact)
		prev = r
	}
	below := c.AssessRisk(domain.Mutation{Type: domain.MutationKnowledgeExpansion, FitnessImpact: 5, Source: "ChatGPT"})
	above := c.AssessRisk(domain.Mutation{Type: domain.MutationKnowledgeExpansion, FitnessImpact: 6, Source: "ChatGPT"})
	assert.InDelta(t, 0.15, below, 1e-9)
	assert.Greater(t, above, below)
}

func TestAssessRisk_UntrustedSource(t *testing.T) {
	c := newTestController(testConfig())
	base := domain.Mutation{Type: domain.MutationPerformanceOptimization, Source: "Gemini"}
	empty := base
	empty.Source = ""
	other := base
	other.Source = "random-bot"

	assert.InDelta(t, 0.10, c.AssessRisk(base), 1e-9)
	assert.InDelta(t, 0.30, c.AssessRisk(empty), 1e-9)
	assert.InDelta(t, 0.30, c.AssessRisk(other), 1e-9)
}

func TestAssessRisk_UnknownTypeIsHighest(t *testing.T) {
	c := newTestController(testConfig())
	unknown := c.AssessRisk(domain.Mutation{Type: "rewrite_everything", Source: "Claude"})
	for typ := range baseRisk {
		assert.GreaterOrEqual(t, unknown, c.AssessRisk(domain.Mutation{Type: typ, Source: "Claude"}), string(typ))
	}
}

func TestRiskLevel_Buckets(t *testing.T) {
	cases := []struct {
		score float64
		want  domain.RiskLevel
	}{
		{0, domain.RiskMinimal},
		{0.19, domain.RiskMinimal},
		{0.2, domain.RiskLow},
		{0.39, domain.RiskLow},
		{0.4, domain.RiskMedium},
		{0.6, domain.RiskHigh},
		{0.79, domain.RiskHigh},
		{0.8, domain.RiskCritical},
		{1, domain.RiskCritical},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, RiskLevel(tc.score), "score %.2f", tc.score)
	}
}

func TestShouldAutoApprove_Scenario(t *testing.T) {
	c := newTestController(testConfig())

	safe := domain.Mutation{Type: domain.MutationCommunicationEnhancement, FitnessImpact: 2.0, Source: "ChatGPT"}
	safe.RiskScore = c.AssessRisk(safe)
	assert.True(t, c.ShouldAutoApprove(safe), "risk %.2f", safe.RiskScore)

	risky := domain.Mutation{Type: domain.MutationAutonomyAdjustment, FitnessImpact: 10.0, Source: "unknown"}
	risky.RiskScore = c.AssessRisk(risky)
	assert.False(t, c.ShouldAutoApprove(risky), "risk %.2f", risky.RiskScore)
}

func TestShouldAutoApprove_BudgetExhausted(t *testing.T) {
	cfg := testConfig()
	cfg.MaxMutationsPerSession = 3
	c := newTestController(cfg)

	zero := domain.Mutation{Type: domain.MutationCommunicationEnhancement, Source: "Claude", RiskScore: 0}
	for i := 0; i < 3; i++ {
		require.True(t, c.ShouldAutoApprove(zero), "mutation %d", i)
		c.RecordMutation()
	}
	assert.False(t, c.ShouldAutoApprove(zero))

	stats := c.SessionStats()
	assert.Equal(t, 3, stats.MutationsApplied)
	assert.Equal(t, 0, stats.MutationsRemaining)
}

func TestShouldAutoApprove_Disabled(t *testing.T) {
	cfg := testConfig()
	off := false
	cfg.AutoApproveLowRisk = &off
	c := newTestController(cfg)

	assert.False(t, c.ShouldAutoApprove(domain.Mutation{RiskScore: 0}))
}

func TestShouldAutoApprove_AtThreshold(t *testing.T) {
	c := newTestController(testConfig())
	assert.False(t, c.ShouldAutoApprove(domain.Mutation{RiskScore: 0.3}))
	assert.True(t, c.ShouldAutoApprove(domain.Mutation{RiskScore: 0.2999}))
}

func TestApprovalLifecycle(t *testing.T) {
	c := newTestController(testConfig())
	m := domain.Mutation{Type: domain.MutationCoreModification, Description: "swap planner", RiskScore: 0.7}

	req := c.RequestApproval(m, "mutation", "risk above threshold")
	assert.Equal(t, domain.StatusPendingReview, req.Status)
	assert.Equal(t, domain.RiskHigh, req.RiskLevel)

	again := c.RequestApproval(m, "mutation", "risk above threshold")
	assert.NotEqual(t, req.ID, again.ID)
	assert.Len(t, c.PendingRequests(), 2)

	require.True(t, c.Approve(req.ID, "alice", "looks fine"))
	assert.False(t, c.Approve(req.ID, "alice", "twice"), "approved request is no longer pending")
	assert.False(t, c.Reject(req.ID, "bob", "too late"))

	got, ok := c.GetRequest(req.ID)
	require.True(t, ok)
	assert.Equal(t, domain.StatusHumanApproved, got.Status)
	assert.Equal(t, "alice", got.Reviewer)
	assert.Equal(t, "looks fine", got.ReviewNotes)
	require.NotNil(t, got.ReviewTimestamp)

	require.True(t, c.Reject(again.ID, "bob", "no"))
	got, _ = c.GetRequest(again.ID)
	assert.Equal(t, domain.StatusRejected, got.Status)

	assert.False(t, c.Approve("apr_missing", "alice", ""))
	assert.Empty(t, c.PendingRequests())
	assert.Equal(t, 0, c.SessionStats().PendingApprovals)
}

func TestRequestApproval_CopiesItem(t *testing.T) {
	c := newTestController(testConfig())
	m := domain.Mutation{Type: domain.MutationTraitAdjustment, Traits: map[string]any{"tone": "formal"}}

	req := c.RequestApproval(m, "mutation", "review")
	m.Traits["tone"] = "casual"
	req.Item.Traits["tone"] = "terse"

	got, _ := c.GetRequest(req.ID)
	assert.Equal(t, "formal", got.Item.Traits["tone"])
}

func TestApprovalTTL_Expires(t *testing.T) {
	now := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	session := newSessionWithClock(func() time.Time { return now })
	cfg := testConfig()
	cfg.ApprovalTTLSec = 60
	c := NewController(cfg, session, nil)

	req := c.RequestApproval(domain.Mutation{RiskScore: 0.5}, "mutation", "review")
	now = now.Add(2 * time.Minute)

	assert.False(t, c.Approve(req.ID, "alice", ""))
	got, _ := c.GetRequest(req.ID)
	assert.Equal(t, domain.StatusExpired, got.Status)
	assert.Empty(t, c.PendingRequests())
}

func TestClosedRequests_Bounded(t *testing.T) {
	now := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	session := newSessionWithClock(func() time.Time { return now })
	session.limit = 2
	cfg := testConfig()
	cfg.ApprovalTTLSec = 60
	c := NewController(cfg, session, nil)

	approved := c.RequestApproval(domain.Mutation{RiskScore: 0.5}, "mutation", "")
	rejected := c.RequestApproval(domain.Mutation{RiskScore: 0.5}, "mutation", "")
	require.True(t, c.Approve(approved.ID, "alice", ""))
	require.True(t, c.Reject(rejected.ID, "alice", ""))

	stale := c.RequestApproval(domain.Mutation{RiskScore: 0.5}, "mutation", "")
	now = now.Add(2 * time.Minute)
	open := c.RequestApproval(domain.Mutation{RiskScore: 0.5}, "mutation", "")
	require.Len(t, c.PendingRequests(), 1)

	_, ok := c.GetRequest(approved.ID)
	assert.False(t, ok, "oldest closed request is dropped")
	got, ok := c.GetRequest(rejected.ID)
	require.True(t, ok)
	assert.Equal(t, domain.StatusRejected, got.Status)
	got, ok = c.GetRequest(stale.ID)
	require.True(t, ok)
	assert.Equal(t, domain.StatusExpired, got.Status)

	got, ok = c.GetRequest(open.ID)
	require.True(t, ok)
	assert.Equal(t, domain.StatusPendingReview, got.Status)

	session.mu.Lock()
	assert.Len(t, session.requests, 3)
	session.mu.Unlock()
}

func TestPendingRequests_Order(t *testing.T) {
	now := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	session := newSessionWithClock(func() time.Time { now = now.Add(time.Second); return now })
	c := NewController(testConfig(), session, nil)

	low := c.RequestApproval(domain.Mutation{Priority: domain.PriorityLow}, "mutation", "")
	first := c.RequestApproval(domain.Mutation{Priority: domain.PriorityHigh}, "mutation", "")
	second := c.RequestApproval(domain.Mutation{Priority: domain.PriorityHigh}, "mutation", "")

	pending := c.PendingRequests()
	require.Len(t, pending, 3)
	assert.Equal(t, []string{first.ID, second.ID, low.ID}, []string{pending[0].ID, pending[1].ID, pending[2].ID})
}

func TestIsValidTransition(t *testing.T) {
	assert.True(t, IsValidTransition(domain.StatusPendingReview, domain.StatusHumanApproved))
	assert.True(t, IsValidTransition(domain.StatusPendingReview, domain.StatusRejected))
	assert.True(t, IsValidTransition(domain.StatusPendingReview, domain.StatusExpired))
	assert.False(t, IsValidTransition(domain.StatusHumanApproved, domain.StatusRejected))
	assert.False(t, IsValidTransition(domain.StatusRejected, domain.StatusHumanApproved))
	assert.False(t, IsValidTransition(domain.StatusExpired, domain.StatusHumanApproved))
}
