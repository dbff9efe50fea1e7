// Package autonomy decides whether a proposed mutation may be applied
// without a human, and queues the rest for review.
package autonomy

import (
	"sort"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/Rogers-F/mutation-governor/internal/config"
	"github.com/Rogers-F/mutation-governor/internal/domain"
	"github.com/Rogers-F/mutation-governor/internal/logging"
)

// validTransitions defines the legal approval status transitions.
var validTransitions = map[domain.ApprovalStatus]map[domain.ApprovalStatus]bool{
	domain.StatusPendingReview: {
		domain.StatusHumanApproved: true,
		domain.StatusRejected:      true,
		domain.StatusExpired:       true,
	},
}

// IsValidTransition checks if an approval status transition is legal.
func IsValidTransition(from, to domain.ApprovalStatus) bool {
	targets, ok := validTransitions[from]
	if !ok {
		return false
	}
	return targets[to]
}

// Controller computes risk, decides auto-approval and keeps the approval queue.
type Controller struct {
	cfg     config.AutonomyConfig
	trusted map[string]bool
	session *Session
	logger  *zap.Logger
}

// NewController creates a controller over session. A nil session starts a
// new one.
func NewController(cfg config.AutonomyConfig, session *Session, logger *zap.Logger) *Controller {
	if session == nil {
		session = NewSession()
	}
	sources := cfg.TrustedSources
	if len(sources) == 0 {
		sources = config.DefaultTrustedSources
	}
	trusted := make(map[string]bool, len(sources))
	for _, s := range sources {
		if s != "" {
			trusted[s] = true
		}
	}
	return &Controller{
		cfg:     cfg,
		trusted: trusted,
		session: session,
		logger:  logging.OrNop(logger).Named("autonomy"),
	}
}

// ShouldAutoApprove reports whether m may be applied without review. It uses
// m.RiskScore as computed by AssessRisk.
func (c *Controller) ShouldAutoApprove(m domain.Mutation) bool {
	if !c.cfg.AutoApprove() {
		return false
	}
	if m.RiskScore >= c.cfg.RiskThreshold {
		return false
	}

	c.session.mu.Lock()
	defer c.session.mu.Unlock()
	return c.session.applied < c.cfg.MaxMutationsPerSession
}

// BudgetRemaining reports whether the session can still apply a mutation.
func (c *Controller) BudgetRemaining() bool {
	c.session.mu.Lock()
	defer c.session.mu.Unlock()
	return c.session.applied < c.cfg.MaxMutationsPerSession
}

// RecordMutation counts one applied mutation against the session budget.
// Call it exactly once per applied mutation, auto or human approved.
func (c *Controller) RecordMutation() {
	c.session.mu.Lock()
	c.session.applied++
	applied := c.session.applied
	c.session.mu.Unlock()

	c.logger.Debug("mutation recorded", zap.Int("applied", applied), zap.Int("max", c.cfg.MaxMutationsPerSession))
}

// RequestApproval queues m for human review. Every call creates a new request.
func (c *Controller) RequestApproval(m domain.Mutation, itemType, reason string) domain.ApprovalRequest {
	c.session.mu.Lock()
	defer c.session.mu.Unlock()

	req := &domain.ApprovalRequest{
		ID:        "apr_" + uuid.NewString(),
		Item:      m.Clone(),
		ItemType:  itemType,
		Reason:    reason,
		RiskLevel: RiskLevel(m.RiskScore),
		Status:    domain.StatusPendingReview,
		CreatedAt: c.session.now(),
	}
	c.session.requests[req.ID] = req

	c.logger.Info("approval requested",
		zap.String("request_id", req.ID),
		zap.String("type", string(m.Type)),
		zap.Float64("risk", m.RiskScore),
		zap.String("reason", reason))
	return copyRequest(req)
}

// Approve marks a pending request HUMAN_APPROVED. It returns false when the
// request does not exist, is no longer pending, or has expired.
func (c *Controller) Approve(id, reviewer, notes string) bool {
	_, ok := c.resolve(id, domain.StatusHumanApproved, reviewer, notes)
	return ok
}

// Reject marks a pending request REJECTED, with the same failure rules as Approve.
func (c *Controller) Reject(id, reviewer, notes string) bool {
	_, ok := c.resolve(id, domain.StatusRejected, reviewer, notes)
	return ok
}

// ApproveRequest is Approve returning the resolved request, so the caller can
// apply the queued mutation.
func (c *Controller) ApproveRequest(id, reviewer, notes string) (domain.ApprovalRequest, bool) {
	return c.resolve(id, domain.StatusHumanApproved, reviewer, notes)
}

func (c *Controller) resolve(id string, to domain.ApprovalStatus, reviewer, notes string) (domain.ApprovalRequest, bool) {
	c.session.mu.Lock()
	defer c.session.mu.Unlock()

	req, ok := c.session.requests[id]
	if !ok {
		return domain.ApprovalRequest{}, false
	}
	now := c.session.now()
	c.expireLocked(req, now)
	if !IsValidTransition(req.Status, to) {
		c.logger.Debug("approval transition refused",
			zap.String("request_id", id),
			zap.String("from", string(req.Status)),
			zap.String("to", string(to)))
		return domain.ApprovalRequest{}, false
	}

	req.Status = to
	req.Reviewer = reviewer
	req.ReviewNotes = notes
	req.ReviewTimestamp = &now
	c.session.retireLocked(id)

	c.logger.Info("approval resolved",
		zap.String("request_id", id),
		zap.String("status", string(to)),
		zap.String("reviewer", reviewer))
	return copyRequest(req), true
}

// expireLocked moves a pending request past its TTL to EXPIRED.
func (c *Controller) expireLocked(req *domain.ApprovalRequest, now time.Time) {
	if c.cfg.ApprovalTTLSec <= 0 || req.Status != domain.StatusPendingReview {
		return
	}
	ttl := time.Duration(c.cfg.ApprovalTTLSec) * time.Second
	if now.Sub(req.CreatedAt) > ttl {
		req.Status = domain.StatusExpired
		req.ReviewTimestamp = &now
		c.session.retireLocked(req.ID)
	}
}

// GetRequest returns a copy of a request by id.
func (c *Controller) GetRequest(id string) (domain.ApprovalRequest, bool) {
	c.session.mu.Lock()
	defer c.session.mu.Unlock()

	req, ok := c.session.requests[id]
	if !ok {
		return domain.ApprovalRequest{}, false
	}
	c.expireLocked(req, c.session.now())
	return copyRequest(req), true
}

// PendingRequests returns pending requests, highest priority first, then oldest.
func (c *Controller) PendingRequests() []domain.ApprovalRequest {
	c.session.mu.Lock()
	defer c.session.mu.Unlock()

	now := c.session.now()
	var out []domain.ApprovalRequest
	for _, req := range c.session.requests {
		c.expireLocked(req, now)
		if req.Status == domain.StatusPendingReview {
			out = append(out, copyRequest(req))
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Item.Priority != out[j].Item.Priority {
			return out[i].Item.Priority > out[j].Item.Priority
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out
}

// SessionStats summarises the session.
func (c *Controller) SessionStats() domain.SessionStats {
	c.session.mu.Lock()
	defer c.session.mu.Unlock()

	now := c.session.now()
	pending := 0
	for _, req := range c.session.requests {
		c.expireLocked(req, now)
		if req.Status == domain.StatusPendingReview {
			pending++
		}
	}
	remaining := c.cfg.MaxMutationsPerSession - c.session.applied
	if remaining < 0 {
		remaining = 0
	}
	return domain.SessionStats{
		MutationsApplied:   c.session.applied,
		MutationsRemaining: remaining,
		PendingApprovals:   pending,
		SessionStart:       c.session.start,
		RuntimeSeconds:     now.Sub(c.session.start).Seconds(),
	}
}

func copyRequest(req *domain.ApprovalRequest) domain.ApprovalRequest {
	out := *req
	out.Item = req.Item.Clone()
	if req.ReviewTimestamp != nil {
		ts := *req.ReviewTimestamp
		out.ReviewTimestamp = &ts
	}
	return out
}
