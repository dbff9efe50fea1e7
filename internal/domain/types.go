// Package domain defines the core types for the mutation governor.
package domain

import "time"

// SystemDNA is the authoritative, versioned state of the governed system.
// Generation starts at 1 and grows by exactly one per applied mutation.
// Mutations is append-only outside of a rollback restore.
type SystemDNA struct {
	Version      string           `json:"version"`
	Generation   int64            `json:"generation"`
	FitnessScore float64          `json:"fitness_score"`
	CoreTraits   map[string]any   `json:"core_traits"`
	Mutations    []MutationRecord `json:"mutations"`
	SnapshotIDs  []string         `json:"snapshot_ids"`
	Metadata     map[string]any   `json:"metadata"`
}

// NewSystemDNA returns the DNA a fresh instance starts from.
func NewSystemDNA() *SystemDNA {
	return &SystemDNA{
		Version:      "1.0.0",
		Generation:   1,
		FitnessScore: 0,
		CoreTraits:   map[string]any{},
		Mutations:    []MutationRecord{},
		SnapshotIDs:  []string{},
		Metadata:     map[string]any{},
	}
}

// MutationType names the kind of change a mutation makes.
type MutationType string

const (
	MutationCommunicationEnhancement MutationType = "communication_enhancement"
	MutationPerformanceOptimization  MutationType = "performance_optimization"
	MutationFitnessOptimization      MutationType = "fitness_optimization"
	MutationKnowledgeExpansion       MutationType = "knowledge_expansion"
	MutationCapabilityExpansion      MutationType = "capability_expansion"
	MutationTraitAdjustment          MutationType = "trait_adjustment"
	MutationAutonomyAdjustment       MutationType = "autonomy_adjustment"
	MutationCoreModification         MutationType = "core_modification"
)

// Priority orders proposals for reviewers. Higher is more urgent.
type Priority int

const (
	PriorityLow      Priority = 1
	PriorityNormal   Priority = 5
	PriorityHigh     Priority = 8
	PriorityCritical Priority = 10
)

// Mutation is a proposed change to DNA. RiskScore is always computed by the
// autonomy controller; any value a proposer supplies is overwritten.
type Mutation struct {
	Type          MutationType   `json:"type"`
	Description   string         `json:"description"`
	FitnessImpact float64        `json:"fitness_impact"`
	RiskScore     float64        `json:"risk_score"`
	Source        string         `json:"source"`
	Priority      Priority       `json:"priority"`
	AutoApproved  bool           `json:"auto_approved"`
	Traits        map[string]any `json:"traits,omitempty"`
}

// MutationRecord is the immutable log entry for an applied mutation.
type MutationRecord struct {
	ID            string         `json:"id"`
	Timestamp     time.Time      `json:"timestamp"`
	Generation    int64          `json:"generation"`
	Type          MutationType   `json:"type"`
	Description   string         `json:"description"`
	FitnessImpact float64        `json:"fitness_impact"`
	RiskScore     float64        `json:"risk_score"`
	Source        string         `json:"source"`
	Priority      Priority       `json:"priority"`
	AutoApproved  bool           `json:"auto_approved"`
	Traits        map[string]any `json:"traits,omitempty"`
	SnapshotID    string         `json:"snapshot_id,omitempty"`
}

// MutationResult is the outcome of applying a mutation.
type MutationResult struct {
	Success       bool   `json:"success"`
	MutationID    string `json:"mutation_id,omitempty"`
	NewGeneration int64  `json:"new_generation"`
	SnapshotID    string `json:"snapshot_id,omitempty"`
	Error         string `json:"error,omitempty"`
}

// SnapshotMetadata records the DNA summary at capture time.
type SnapshotMetadata struct {
	Generation   int64   `json:"generation"`
	FitnessScore float64 `json:"fitness_score"`
	Version      string  `json:"version"`
}

// Snapshot is an immutable, checksummed copy of DNA.
type Snapshot struct {
	ID          string           `json:"id"`
	Timestamp   time.Time        `json:"timestamp"`
	Label       string           `json:"label"`
	DNAChecksum string           `json:"dna_checksum"`
	DNAData     string           `json:"dna_data"`
	Metadata    SnapshotMetadata `json:"metadata"`
}

// RollbackResult is the outcome of restoring DNA from a snapshot.
// VerificationPassed=false with Success=true is a warning, not a failure.
type RollbackResult struct {
	Success            bool   `json:"success"`
	SnapshotID         string `json:"snapshot_id"`
	RestoredGeneration int64  `json:"restored_generation"`
	VerificationPassed bool   `json:"verification_passed"`
	Error              string `json:"error,omitempty"`
}

// RiskLevel buckets a risk score.
type RiskLevel string

const (
	RiskMinimal  RiskLevel = "MINIMAL"
	RiskLow      RiskLevel = "LOW"
	RiskMedium   RiskLevel = "MEDIUM"
	RiskHigh     RiskLevel = "HIGH"
	RiskCritical RiskLevel = "CRITICAL"
)

// ApprovalStatus is the review state of an approval request.
type ApprovalStatus string

const (
	StatusPendingReview ApprovalStatus = "PENDING_REVIEW"
	StatusHumanApproved ApprovalStatus = "HUMAN_APPROVED"
	StatusRejected      ApprovalStatus = "REJECTED"
	StatusExpired       ApprovalStatus = "EXPIRED"
)

// ApprovalRequest queues a mutation for human review.
type ApprovalRequest struct {
	ID              string         `json:"id"`
	Item            Mutation       `json:"item"`
	ItemType        string         `json:"item_type"`
	Reason          string         `json:"reason"`
	RiskLevel       RiskLevel      `json:"risk_level"`
	Status          ApprovalStatus `json:"status"`
	CreatedAt       time.Time      `json:"created_at"`
	Reviewer        string         `json:"reviewer,omitempty"`
	ReviewNotes     string         `json:"review_notes,omitempty"`
	ReviewTimestamp *time.Time     `json:"review_timestamp,omitempty"`
}

// SessionStats summarises the autonomy controller's session.
type SessionStats struct {
	MutationsApplied   int       `json:"mutations_applied"`
	MutationsRemaining int       `json:"mutations_remaining"`
	PendingApprovals   int       `json:"pending_approvals"`
	SessionStart       time.Time `json:"session_start"`
	RuntimeSeconds     float64   `json:"runtime_seconds"`
}

// ProposalResult is returned to whoever proposed a mutation.
type ProposalResult struct {
	Approved  bool            `json:"approved"`
	Auto      bool            `json:"auto"`
	Result    *MutationResult `json:"result,omitempty"`
	RequestID string          `json:"request_id,omitempty"`
	Risk      float64         `json:"risk"`
	RiskLevel RiskLevel       `json:"risk_level"`
	Healing   *HealingResult  `json:"healing,omitempty"`
}

// OperationMetrics is one telemetry sample fed to the fitness monitor.
type OperationMetrics struct {
	OperationType string    `json:"operation_type"`
	Success       bool      `json:"success"`
	DurationMS    float64   `json:"duration_ms"`
	Cost          float64   `json:"cost"`
	Timestamp     time.Time `json:"timestamp"`
}

// Trend is the direction of the overall fitness score.
type Trend string

const (
	TrendImproving Trend = "improving"
	TrendStable    Trend = "stable"
	TrendDegrading Trend = "degrading"
)

// FitnessScore is a point-in-time health score. All components are in [0,1].
type FitnessScore struct {
	Overall        float64   `json:"overall"`
	SuccessRate    float64   `json:"success_rate"`
	HealingSpeed   float64   `json:"healing_speed"`
	CostEfficiency float64   `json:"cost_efficiency"`
	Uptime         float64   `json:"uptime"`
	Trend          Trend     `json:"trend"`
	Timestamp      time.Time `json:"timestamp"`
}

// DegradationAlert names the fitness metric that regressed the most.
type DegradationAlert struct {
	Metric             string  `json:"metric"`
	CurrentValue       float64 `json:"current_value"`
	PreviousValue      float64 `json:"previous_value"`
	Threshold          float64 `json:"threshold"`
	DegradationPercent float64 `json:"degradation_percent"`
	SuggestedAction    string  `json:"suggested_action"`
}

// ErrorType is an operational failure category routed through healing.
type ErrorType string

const (
	ErrorStorageFailure       ErrorType = "STORAGE_FAILURE"
	ErrorMutationFailure      ErrorType = "MUTATION_FAILURE"
	ErrorCommunicationFailure ErrorType = "COMMUNICATION_FAILURE"
	ErrorFitnessDegradation   ErrorType = "FITNESS_DEGRADATION"
	ErrorProviderFailure      ErrorType = "PROVIDER_FAILURE"
	ErrorValidationFailure    ErrorType = "VALIDATION_FAILURE"
	ErrorSyncFailure          ErrorType = "SYNC_FAILURE"
	ErrorUnknown              ErrorType = "UNKNOWN"
)

// ParseErrorType maps an external string to an ErrorType. Unrecognised
// values map to ErrorUnknown.
func ParseErrorType(s string) ErrorType {
	switch t := ErrorType(s); t {
	case ErrorStorageFailure, ErrorMutationFailure, ErrorCommunicationFailure,
		ErrorFitnessDegradation, ErrorProviderFailure, ErrorValidationFailure,
		ErrorSyncFailure, ErrorUnknown:
		return t
	default:
		return ErrorUnknown
	}
}

// Strategy is one rung of a healing ladder.
type Strategy string

const (
	StrategyRetry    Strategy = "RETRY"
	StrategyRollback Strategy = "ROLLBACK"
	StrategyFallback Strategy = "FALLBACK"
	StrategyRestart  Strategy = "RESTART"
	StrategySkip     Strategy = "SKIP"
	StrategyEscalate Strategy = "ESCALATE"
)

// HealingAttempt records a single strategy execution.
type HealingAttempt struct {
	ErrorType  ErrorType `json:"error_type"`
	Strategy   Strategy  `json:"strategy"`
	Success    bool      `json:"success"`
	DurationMS float64   `json:"duration_ms"`
	Error      string    `json:"error,omitempty"`
	Timestamp  time.Time `json:"timestamp"`
}

// HealingResult is the final outcome of a heal call.
type HealingResult struct {
	Success      bool      `json:"success"`
	ErrorType    ErrorType `json:"error_type"`
	StrategyUsed Strategy  `json:"strategy_used,omitempty"`
	Attempts     int       `json:"attempts"`
	Escalated    bool      `json:"escalated"`
	Error        string    `json:"error,omitempty"`
	StartedAt    time.Time `json:"started_at"`
	FinishedAt   time.Time `json:"finished_at"`
}

// Escalation is delivered to every registered escalation callback.
type Escalation struct {
	ErrorType      ErrorType        `json:"error_type"`
	Context        map[string]any   `json:"context"`
	Error          string           `json:"error"`
	Timestamp      time.Time        `json:"timestamp"`
	RecentAttempts []HealingAttempt `json:"recent_attempts"`
}

// HealingStats aggregates healing history.
type HealingStats struct {
	TotalAttempts int                `json:"total_attempts"`
	Successful    int                `json:"successful"`
	Failed        int                `json:"failed"`
	SuccessRate   float64            `json:"success_rate"`
	Escalations   int                `json:"escalations"`
	ByErrorType   map[string]Counter `json:"by_error_type"`
	ByStrategy    map[string]Counter `json:"by_strategy"`
}

// Counter is a success/total pair used in stats breakdowns.
type Counter struct {
	Total   int `json:"total"`
	Success int `json:"success"`
}

// AuditRecord logs governance events to the append-only audit trail.
type AuditRecord struct {
	ID           string `json:"id"`
	InstanceID   string `json:"instance_id"`
	Category     string `json:"category"`
	Actor        string `json:"actor"`
	Action       string `json:"action"`
	RequestJSON  string `json:"request_json,omitempty"`
	DecisionJSON string `json:"decision_json,omitempty"`
	Severity     string `json:"severity"`
	CreatedAt    int64  `json:"created_at"`
}

// Audit categories.
const (
	AuditProposal   = "proposal"
	AuditMutation   = "mutation"
	AuditApproval   = "approval"
	AuditRollback   = "rollback"
	AuditSnapshot   = "snapshot"
	AuditHealing    = "healing"
	AuditEscalation = "escalation"
)
