// Package governance wires the autonomy controller, mutation engine,
// rollback manager, self healer and fitness monitor into the public API
// used by the HTTP server and the CLI.
package governance

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/Rogers-F/mutation-governor/internal/autonomy"
	"github.com/Rogers-F/mutation-governor/internal/config"
	"github.com/Rogers-F/mutation-governor/internal/dna"
	"github.com/Rogers-F/mutation-governor/internal/domain"
	"github.com/Rogers-F/mutation-governor/internal/fitness"
	"github.com/Rogers-F/mutation-governor/internal/healing"
	"github.com/Rogers-F/mutation-governor/internal/logging"
	"github.com/Rogers-F/mutation-governor/internal/metrics"
	"github.com/Rogers-F/mutation-governor/internal/mutation"
	"github.com/Rogers-F/mutation-governor/internal/rollback"
)

// AuditSink receives governance events. store.AuditLog implements it.
type AuditSink interface {
	Record(ctx context.Context, rec domain.AuditRecord) error
}

// Stores is the persistence a Loop runs on. Audit and Local are optional.
type Stores struct {
	State     dna.Store
	Snapshots rollback.Store
	Audit     AuditSink
	Local     healing.LocalStore
}

// mutationLogger is implemented by state stores that keep the full log.
type mutationLogger interface {
	MutationLog(ctx context.Context) ([]domain.MutationRecord, error)
}

// FitnessCycle is the outcome of one fitness evaluation.
type FitnessCycle struct {
	Score    domain.FitnessScore      `json:"score"`
	Alert    *domain.DegradationAlert `json:"alert,omitempty"`
	Proposal *domain.ProposalResult   `json:"proposal,omitempty"`
}

// Loop is the governance orchestrator for one DNA instance. Proposal and
// approval paths are serialized so the session budget check, the
// application and the budget increment happen as one step.
type Loop struct {
	cfg      *config.Config
	stores   Stores
	dna      *dna.Manager
	autonomy *autonomy.Controller
	engine   *mutation.Engine
	rollback *rollback.Manager
	healer   *healing.Healer
	fitness  *fitness.Monitor
	guard    *Guard
	logger   *zap.Logger

	mu sync.Mutex
}

// New builds a Loop from cfg over stores. Invalid configuration fails here.
func New(cfg *config.Config, stores Stores, logger *zap.Logger) (*Loop, error) {
	if cfg == nil {
		cfg = config.Default()
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if stores.State == nil || stores.Snapshots == nil {
		return nil, domain.WrapEngineError(domain.ErrConfigInvalid.Code, domain.ErrConfigInvalid.Message, errors.New("state and snapshot stores are required"))
	}
	logger = logging.OrNop(logger).With(zap.String("instance_id", cfg.InstanceID))

	monitor, err := fitness.NewMonitor(cfg.Fitness, logger)
	if err != nil {
		return nil, err
	}

	dm := dna.NewManager(stores.State, logger)
	rb := rollback.NewManager(stores.Snapshots, cfg.Rollback.MaxSnapshots, logger)

	var snaps mutation.Snapshotter
	if cfg.Rollback.SnapshotsBeforeMutation() {
		snaps = rb
	}

	healer := healing.NewHealer(healing.Config{
		MaxAttempts: cfg.Healing.MaxAttempts,
		RetryDelay:  time.Duration(cfg.Healing.RetryDelayMS) * time.Millisecond,
	}, healing.NewHistory(cfg.Healing.HistorySize), rb.Bind(dm), stores.Local, logger)

	l := &Loop{
		cfg:      cfg,
		stores:   stores,
		dna:      dm,
		autonomy: autonomy.NewController(cfg.Autonomy, autonomy.NewSession(), logger),
		engine:   mutation.NewEngine(dm, snaps, logger),
		rollback: rb,
		healer:   healer,
		fitness:  monitor,
		guard:    NewGuard(cfg.RateLimitPerMinute),
		logger:   logger.Named("governance"),
	}
	healer.OnAttempt(l.observeAttempt)
	healer.OnEscalation(l.observeEscalation)
	return l, nil
}

// GetDNA returns an independent copy of the current DNA.
func (l *Loop) GetDNA(ctx context.Context) (*domain.SystemDNA, error) {
	d, err := l.dna.Get(ctx)
	if err != nil {
		return nil, err
	}
	metrics.Generation.Set(float64(d.Generation))
	return d, nil
}

// MutationLog returns every mutation ever applied, including ones a rollback
// rewound. Stores without a log fall back to the live DNA's mutations.
func (l *Loop) MutationLog(ctx context.Context) ([]domain.MutationRecord, error) {
	if ml, ok := l.stores.State.(mutationLogger); ok {
		return ml.MutationLog(ctx)
	}
	d, err := l.dna.Get(ctx)
	if err != nil {
		return nil, err
	}
	return d.Mutations, nil
}

// ProposeMutation scores m and either applies it or queues it for review.
// Only admission failures (malformed proposal, rate limit) return an error;
// everything after that is reported in the result.
func (l *Loop) ProposeMutation(ctx context.Context, m domain.Mutation) (domain.ProposalResult, error) {
	if err := l.guard.CheckAll(m); err != nil {
		decision := "rejected"
		if errors.Is(err, domain.ErrRateLimitExceeded) {
			decision = "rate_limited"
		}
		metrics.ProposalsTotal.WithLabelValues(decision).Inc()
		l.audit(ctx, domain.AuditProposal, m.Source, decision, m, map[string]string{"error": err.Error()}, "warn")
		return domain.ProposalResult{}, err
	}

	m = m.Clone()
	m.RiskScore = l.autonomy.AssessRisk(m)
	m.AutoApproved = false
	if m.Priority == 0 {
		m.Priority = domain.PriorityNormal
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	out := domain.ProposalResult{Risk: m.RiskScore, RiskLevel: autonomy.RiskLevel(m.RiskScore)}

	if !l.autonomy.ShouldAutoApprove(m) {
		reason := l.queueReason(m)
		req := l.autonomy.RequestApproval(m, "mutation", reason)
		out.RequestID = req.ID
		metrics.ProposalsTotal.WithLabelValues("queued").Inc()
		l.audit(ctx, domain.AuditProposal, m.Source, "queued", m, out, "info")
		l.logger.Info("mutation queued for review",
			zap.String("request_id", req.ID),
			zap.String("type", string(m.Type)),
			zap.Float64("risk", m.RiskScore),
			zap.String("reason", reason))
		return out, nil
	}

	m.AutoApproved = true
	out.Approved = true
	out.Auto = true
	metrics.ProposalsTotal.WithLabelValues("auto").Inc()
	l.audit(ctx, domain.AuditProposal, m.Source, "auto_approved", m, out, "info")

	res, healed := l.applyLocked(ctx, m, "auto")
	out.Result = &res
	out.Healing = healed
	return out, nil
}

func (l *Loop) queueReason(m domain.Mutation) string {
	switch {
	case !l.cfg.Autonomy.AutoApprove():
		return "auto-approval disabled"
	case !l.autonomy.BudgetRemaining():
		return "session mutation budget exhausted"
	default:
		return fmt.Sprintf("risk %.2f at or above threshold %.2f", m.RiskScore, l.cfg.Autonomy.RiskThreshold)
	}
}

// applyLocked applies m, counts it against the session on success and
// routes a failure through MUTATION_FAILURE healing. l.mu must be held.
func (l *Loop) applyLocked(ctx context.Context, m domain.Mutation, approval string) (domain.MutationResult, *domain.HealingResult) {
	start := time.Now()
	res := l.engine.ApplyMutation(ctx, m)
	l.fitness.RecordOperation(domain.OperationMetrics{
		OperationType: "mutation",
		Success:       res.Success,
		DurationMS:    float64(time.Since(start).Microseconds()) / 1000,
		Timestamp:     start.UTC(),
	})

	if res.Success {
		l.autonomy.RecordMutation()
		metrics.MutationsApplied.WithLabelValues(approval, "ok").Inc()
		metrics.Generation.Set(float64(res.NewGeneration))
		l.refreshSnapshotGauge(ctx)
		l.audit(ctx, domain.AuditMutation, m.Source, "applied", m, res, "info")
		return res, nil
	}

	metrics.MutationsApplied.WithLabelValues(approval, "failed").Inc()
	l.audit(ctx, domain.AuditMutation, m.Source, "failed", m, res, "error")

	// A failed application persisted nothing, so ROLLBACK may only restore
	// the snapshot recorded for it, never the newest one.
	hres := l.heal(ctx, domain.ErrorMutationFailure, healing.Context{
		SnapshotID:        res.SnapshotID,
		RequireSnapshotID: true,
		Data: map[string]any{
			"mutation_type": string(m.Type),
			"error":         res.Error,
		},
	}, nil, start)
	return res, &hres
}

// PendingApprovals lists requests awaiting review.
func (l *Loop) PendingApprovals() []domain.ApprovalRequest {
	return l.autonomy.PendingRequests()
}

// GetApproval returns one approval request.
func (l *Loop) GetApproval(id string) (domain.ApprovalRequest, bool) {
	return l.autonomy.GetRequest(id)
}

// Approve marks a pending request approved and applies its mutation. It
// returns false when the request is unknown, already resolved or expired.
func (l *Loop) Approve(ctx context.Context, id, reviewer, notes string) (domain.ProposalResult, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()

	req, ok := l.autonomy.ApproveRequest(id, reviewer, notes)
	if !ok {
		l.audit(ctx, domain.AuditApproval, reviewer, "approve_refused", map[string]string{"request_id": id}, nil, "warn")
		return domain.ProposalResult{}, false
	}
	l.audit(ctx, domain.AuditApproval, reviewer, "approved", req, nil, "info")

	m := req.Item
	m.AutoApproved = false
	res, healed := l.applyLocked(ctx, m, "human")
	return domain.ProposalResult{
		Approved:  true,
		Result:    &res,
		RequestID: id,
		Risk:      m.RiskScore,
		RiskLevel: req.RiskLevel,
		Healing:   healed,
	}, true
}

// Reject marks a pending request rejected.
func (l *Loop) Reject(ctx context.Context, id, reviewer, notes string) bool {
	ok := l.autonomy.Reject(id, reviewer, notes)
	action := "rejected"
	if !ok {
		action = "reject_refused"
	}
	l.audit(ctx, domain.AuditApproval, reviewer, action, map[string]string{"request_id": id, "notes": notes}, nil, "info")
	return ok
}

// SessionStats summarises the autonomy session.
func (l *Loop) SessionStats() domain.SessionStats {
	return l.autonomy.SessionStats()
}

// GetFitness computes and publishes the current fitness score.
func (l *Loop) GetFitness() domain.FitnessScore {
	s := l.fitness.CalculateFitness()
	metrics.ObserveFitness(s)
	return s
}

// DetectDegradation reports the worst metric regression, or nil.
func (l *Loop) DetectDegradation() *domain.DegradationAlert {
	return l.fitness.DetectDegradation()
}

// FitnessHistory returns recent fitness scores, oldest first.
func (l *Loop) FitnessHistory(limit int) []domain.FitnessScore {
	return l.fitness.History(limit)
}

// RecordOperation feeds external telemetry to the fitness monitor.
func (l *Loop) RecordOperation(op domain.OperationMetrics) {
	if op.Timestamp.IsZero() {
		op.Timestamp = time.Now().UTC()
	}
	l.fitness.RecordOperation(op)
}

// RecordDowntime feeds observed downtime to the fitness monitor.
func (l *Loop) RecordDowntime(seconds float64) {
	l.fitness.RecordDowntime(seconds)
}

// EvaluateFitness scores fitness and, on degradation, proposes the
// monitor's suggested optimization through the normal proposal path.
func (l *Loop) EvaluateFitness(ctx context.Context) (FitnessCycle, error) {
	cycle := FitnessCycle{Score: l.GetFitness()}
	cycle.Alert = l.DetectDegradation()
	if cycle.Alert == nil {
		return cycle, nil
	}

	suggestion := l.fitness.SuggestOptimization(*cycle.Alert)
	proposal, err := l.ProposeMutation(ctx, suggestion)
	if err != nil {
		return cycle, err
	}
	cycle.Proposal = &proposal
	return cycle, nil
}

// Heal routes an externally reported failure through the healing ladder.
// data["snapshot_id"] selects the ROLLBACK target and data["error_time"]
// (RFC 3339) marks when the failure began.
func (l *Loop) Heal(ctx context.Context, errorType string, data map[string]any) domain.HealingResult {
	hctx := healing.Context{Data: domain.CloneMap(data)}
	if id, ok := data["snapshot_id"].(string); ok {
		hctx.SnapshotID = id
	}
	began := time.Now()
	if ts, ok := data["error_time"].(string); ok {
		if t, err := time.Parse(time.RFC3339, ts); err == nil {
			began = t
		}
	}
	return l.heal(ctx, domain.ParseErrorType(errorType), hctx, nil, began)
}

// HealWith is Heal with a retry function, for in-process callers.
func (l *Loop) HealWith(ctx context.Context, errType domain.ErrorType, hctx healing.Context, retry healing.RetryFunc) domain.HealingResult {
	return l.heal(ctx, errType, hctx, retry, time.Now())
}

func (l *Loop) heal(ctx context.Context, errType domain.ErrorType, hctx healing.Context, retry healing.RetryFunc, began time.Time) domain.HealingResult {
	res := l.healer.Heal(ctx, errType, hctx, retry)

	l.fitness.RecordOperation(domain.OperationMetrics{
		OperationType: "heal",
		Success:       res.Success,
		DurationMS:    float64(res.FinishedAt.Sub(res.StartedAt).Microseconds()) / 1000,
		Timestamp:     res.StartedAt,
	})
	if res.Success {
		l.fitness.RecordHealingEvent(began, res.FinishedAt, res.ErrorType, res.StrategyUsed)
	}
	severity := "info"
	if !res.Success {
		severity = "error"
	}
	l.audit(ctx, domain.AuditHealing, "healer", string(res.StrategyUsed), hctx.Data, res, severity)
	return res
}

// HealingStats aggregates healing history.
func (l *Loop) HealingStats() domain.HealingStats {
	return l.healer.GetHealingStats()
}

// OnEscalation registers an operator notification callback.
func (l *Loop) OnEscalation(fn func(domain.Escalation)) {
	l.healer.OnEscalation(fn)
}

// RollbackTo restores DNA from a snapshot.
func (l *Loop) RollbackTo(ctx context.Context, snapshotID string) domain.RollbackResult {
	return l.observeRollback(ctx, "rollback_to", func() domain.RollbackResult {
		return l.rollback.Rollback(ctx, l.dna, snapshotID)
	})
}

// RollbackToGeneration restores the newest snapshot taken at generation.
func (l *Loop) RollbackToGeneration(ctx context.Context, generation int64) domain.RollbackResult {
	return l.observeRollback(ctx, "rollback_to_generation", func() domain.RollbackResult {
		return l.rollback.RollbackToGeneration(ctx, l.dna, generation)
	})
}

func (l *Loop) observeRollback(ctx context.Context, action string, fn func() domain.RollbackResult) domain.RollbackResult {
	start := time.Now()
	res := fn()
	l.fitness.RecordOperation(domain.OperationMetrics{
		OperationType: "rollback",
		Success:       res.Success,
		DurationMS:    float64(time.Since(start).Microseconds()) / 1000,
		Timestamp:     start.UTC(),
	})
	metrics.ObserveRollback(res)

	severity := "info"
	switch {
	case !res.Success:
		severity = "error"
	case !res.VerificationPassed:
		severity = "warn"
	}
	l.audit(ctx, domain.AuditRollback, "operator", action, nil, res, severity)
	return res
}

// CreateSnapshot checkpoints the live DNA.
func (l *Loop) CreateSnapshot(ctx context.Context, label string) (domain.Snapshot, error) {
	snap, err := l.rollback.Checkpoint(ctx, l.dna, label)
	if err != nil {
		return domain.Snapshot{}, err
	}
	l.refreshSnapshotGauge(ctx)
	l.audit(ctx, domain.AuditSnapshot, "operator", "created", map[string]string{"label": snap.Label},
		map[string]any{"snapshot_id": snap.ID, "generation": snap.Metadata.Generation}, "info")
	return snap, nil
}

// ListSnapshots returns snapshots, most recent first.
func (l *Loop) ListSnapshots(ctx context.Context, limit int) ([]domain.Snapshot, error) {
	return l.rollback.ListSnapshots(ctx, limit)
}

// GetSnapshot returns a snapshot by id, or nil.
func (l *Loop) GetSnapshot(ctx context.Context, id string) (*domain.Snapshot, error) {
	return l.rollback.GetSnapshot(ctx, id)
}

func (l *Loop) refreshSnapshotGauge(ctx context.Context) {
	snaps, err := l.rollback.ListSnapshots(ctx, 0)
	if err != nil {
		return
	}
	metrics.SnapshotsStored.Set(float64(len(snaps)))
}

func (l *Loop) observeAttempt(a domain.HealingAttempt) {
	metrics.ObserveHealingAttempt(a)
}

func (l *Loop) observeEscalation(e domain.Escalation) {
	metrics.Escalations.WithLabelValues(string(e.ErrorType)).Inc()
	l.logger.Error("escalated to operator",
		zap.String("error_type", string(e.ErrorType)),
		zap.String("error", e.Error),
		zap.Int("recent_attempts", len(e.RecentAttempts)))
	l.audit(context.Background(), domain.AuditEscalation, "healer", string(e.ErrorType), e.Context, e, "critical")
}

// audit appends a record. Failures are logged, never returned.
func (l *Loop) audit(ctx context.Context, category, actor, action string, request, decision any, severity string) {
	if l.stores.Audit == nil {
		return
	}
	rec := domain.AuditRecord{
		ID:           "aud_" + uuid.NewString(),
		InstanceID:   l.cfg.InstanceID,
		Category:     category,
		Actor:        actor,
		Action:       action,
		RequestJSON:  toJSON(request),
		DecisionJSON: toJSON(decision),
		Severity:     severity,
		CreatedAt:    time.Now().Unix(),
	}
	if err := l.stores.Audit.Record(ctx, rec); err != nil {
		l.logger.Warn("audit record failed", zap.String("category", category), zap.Error(err))
	}
}

func toJSON(v any) string {
	if v == nil {
		return ""
	}
	b, err := json.Marshal(v)
	if err != nil {
		return ""
	}
	return string(b)
}
