// Package ipc provides the HTTP API for the mutation governor.
package ipc

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/Rogers-F/mutation-governor/internal/domain"
	"github.com/Rogers-F/mutation-governor/internal/governance"
	"github.com/Rogers-F/mutation-governor/internal/logging"
)

// AuditReader lists audit records. store.AuditLog implements it.
type AuditReader interface {
	List(ctx context.Context, category string) ([]domain.AuditRecord, error)
}

// Handler holds all dependencies for the HTTP handlers.
type Handler struct {
	Loop   *governance.Loop
	Audit  AuditReader
	Logger *zap.Logger

	// StreamInterval is the audit stream poll period. Zero means 2s.
	StreamInterval time.Duration
}

var validate = validator.New()

// ProposeRequest is the body for POST /api/v1/mutations.
type ProposeRequest struct {
	Type          string         `json:"type" validate:"required"`
	Description   string         `json:"description"`
	FitnessImpact float64        `json:"fitness_impact"`
	Source        string         `json:"source"`
	Priority      int            `json:"priority" validate:"gte=0,lte=10"`
	Traits        map[string]any `json:"traits"`
}

// ReviewRequest is the body for approving or rejecting a request.
type ReviewRequest struct {
	Reviewer string `json:"reviewer" validate:"required"`
	Notes    string `json:"notes"`
}

// HealRequest is the body for POST /api/v1/heal.
type HealRequest struct {
	ErrorType string         `json:"error_type" validate:"required"`
	Context   map[string]any `json:"context"`
}

// RollbackRequest is the body for POST /api/v1/rollback. Exactly one of
// SnapshotID and Generation selects the target.
type RollbackRequest struct {
	SnapshotID string `json:"snapshot_id" validate:"required_without=Generation,excluded_with=Generation"`
	Generation *int64 `json:"generation" validate:"omitempty,gte=1"`
}

// SnapshotRequest is the body for POST /api/v1/snapshots.
type SnapshotRequest struct {
	Label string `json:"label" validate:"max=200"`
}

// OperationRequest is the body for POST /api/v1/fitness/operations.
type OperationRequest struct {
	OperationType string  `json:"operation_type" validate:"required"`
	Success       bool    `json:"success"`
	DurationMS    float64 `json:"duration_ms" validate:"gte=0"`
	Cost          float64 `json:"cost" validate:"gte=0"`
}

// DowntimeRequest is the body for POST /api/v1/fitness/downtime.
type DowntimeRequest struct {
	Seconds float64 `json:"seconds" validate:"gt=0"`
}

// APIError is a structured error response.
type APIError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

// Health handles GET /api/v1/health.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	d, err := h.Loop.GetDNA(r.Context())
	if err != nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "degraded", "error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"status": "ok", "generation": d.Generation})
}

// GetDNA handles GET /api/v1/dna.
func (h *Handler) GetDNA(w http.ResponseWriter, r *http.Request) {
	d, err := h.Loop.GetDNA(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, d)
}

// MutationLog handles GET /api/v1/mutations.
func (h *Handler) MutationLog(w http.ResponseWriter, r *http.Request) {
	log, err := h.Loop.MutationLog(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	if log == nil {
		log = []domain.MutationRecord{}
	}
	writeJSON(w, http.StatusOK, log)
}

// ProposeMutation handles POST /api/v1/mutations.
func (h *Handler) ProposeMutation(w http.ResponseWriter, r *http.Request) {
	var req ProposeRequest
	if !decodeAndValidate(w, r, &req) {
		return
	}
	m := domain.Mutation{
		Type:          domain.MutationType(req.Type),
		Description:   req.Description,
		FitnessImpact: req.FitnessImpact,
		Source:        req.Source,
		Priority:      domain.Priority(req.Priority),
		Traits:        req.Traits,
	}
	res, err := h.Loop.ProposeMutation(r.Context(), m)
	if err != nil {
		writeError(w, err)
		return
	}
	status := http.StatusOK
	if !res.Approved {
		status = http.StatusAccepted
	}
	writeJSON(w, status, res)
}

// ListApprovals handles GET /api/v1/approvals.
func (h *Handler) ListApprovals(w http.ResponseWriter, r *http.Request) {
	pending := h.Loop.PendingApprovals()
	if pending == nil {
		pending = []domain.ApprovalRequest{}
	}
	writeJSON(w, http.StatusOK, pending)
}

// Approve handles POST /api/v1/approvals/{id}/approve.
func (h *Handler) Approve(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	var req ReviewRequest
	if !decodeAndValidate(w, r, &req) {
		return
	}
	res, ok := h.Loop.Approve(r.Context(), id, req.Reviewer, req.Notes)
	if !ok {
		h.writeReviewRefused(w, id)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// Reject handles POST /api/v1/approvals/{id}/reject.
func (h *Handler) Reject(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	var req ReviewRequest
	if !decodeAndValidate(w, r, &req) {
		return
	}
	if !h.Loop.Reject(r.Context(), id, req.Reviewer, req.Notes) {
		h.writeReviewRefused(w, id)
		return
	}
	approval, _ := h.Loop.GetApproval(id)
	writeJSON(w, http.StatusOK, approval)
}

func (h *Handler) writeReviewRefused(w http.ResponseWriter, id string) {
	approval, found := h.Loop.GetApproval(id)
	if !found {
		writeError(w, domain.ErrApprovalNotFound)
		return
	}
	if approval.Status == domain.StatusExpired {
		writeError(w, domain.ErrApprovalExpired)
		return
	}
	writeError(w, &domain.EngineError{
		Code:    domain.ErrApprovalNotPending.Code,
		Message: fmt.Sprintf("%s (status=%s)", domain.ErrApprovalNotPending.Message, approval.Status),
	})
}

// GetFitness handles GET /api/v1/fitness.
func (h *Handler) GetFitness(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.Loop.GetFitness())
}

// FitnessHistory handles GET /api/v1/fitness/history?limit=N.
func (h *Handler) FitnessHistory(w http.ResponseWriter, r *http.Request) {
	hist := h.Loop.FitnessHistory(queryInt(r, "limit", 0))
	if hist == nil {
		hist = []domain.FitnessScore{}
	}
	writeJSON(w, http.StatusOK, hist)
}

// DetectDegradation handles GET /api/v1/fitness/degradation. It answers
// 204 when nothing regressed.
func (h *Handler) DetectDegradation(w http.ResponseWriter, r *http.Request) {
	alert := h.Loop.DetectDegradation()
	if alert == nil {
		w.WriteHeader(http.StatusNoContent)
		return
	}
	writeJSON(w, http.StatusOK, alert)
}

// EvaluateFitness handles POST /api/v1/fitness/evaluate.
func (h *Handler) EvaluateFitness(w http.ResponseWriter, r *http.Request) {
	cycle, err := h.Loop.EvaluateFitness(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, cycle)
}

// RecordOperation handles POST /api/v1/fitness/operations.
func (h *Handler) RecordOperation(w http.ResponseWriter, r *http.Request) {
	var req OperationRequest
	if !decodeAndValidate(w, r, &req) {
		return
	}
	h.Loop.RecordOperation(domain.OperationMetrics{
		OperationType: req.OperationType,
		Success:       req.Success,
		DurationMS:    req.DurationMS,
		Cost:          req.Cost,
	})
	w.WriteHeader(http.StatusNoContent)
}

// RecordDowntime handles POST /api/v1/fitness/downtime.
func (h *Handler) RecordDowntime(w http.ResponseWriter, r *http.Request) {
	var req DowntimeRequest
	if !decodeAndValidate(w, r, &req) {
		return
	}
	h.Loop.RecordDowntime(req.Seconds)
	w.WriteHeader(http.StatusNoContent)
}

// Heal handles POST /api/v1/heal.
func (h *Handler) Heal(w http.ResponseWriter, r *http.Request) {
	var req HealRequest
	if !decodeAndValidate(w, r, &req) {
		return
	}
	writeJSON(w, http.StatusOK, h.Loop.Heal(r.Context(), req.ErrorType, req.Context))
}

// HealingStats handles GET /api/v1/healing/stats.
func (h *Handler) HealingStats(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.Loop.HealingStats())
}

// ListSnapshots handles GET /api/v1/snapshots?limit=N.
func (h *Handler) ListSnapshots(w http.ResponseWriter, r *http.Request) {
	snaps, err := h.Loop.ListSnapshots(r.Context(), queryInt(r, "limit", 0))
	if err != nil {
		writeError(w, err)
		return
	}
	// DNA payloads can be large; the summary is what listings need.
	out := make([]SnapshotSummary, 0, len(snaps))
	for _, s := range snaps {
		out = append(out, summarize(s))
	}
	writeJSON(w, http.StatusOK, out)
}

// GetSnapshot handles GET /api/v1/snapshots/{id}.
func (h *Handler) GetSnapshot(w http.ResponseWriter, r *http.Request) {
	snap, err := h.Loop.GetSnapshot(r.Context(), r.PathValue("id"))
	if err != nil {
		writeError(w, err)
		return
	}
	if snap == nil {
		writeError(w, domain.ErrSnapshotNotFound)
		return
	}
	writeJSON(w, http.StatusOK, snap)
}

// CreateSnapshot handles POST /api/v1/snapshots.
func (h *Handler) CreateSnapshot(w http.ResponseWriter, r *http.Request) {
	var req SnapshotRequest
	if !decodeAndValidate(w, r, &req) {
		return
	}
	snap, err := h.Loop.CreateSnapshot(r.Context(), req.Label)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, summarize(snap))
}

// Rollback handles POST /api/v1/rollback.
func (h *Handler) Rollback(w http.ResponseWriter, r *http.Request) {
	var req RollbackRequest
	if !decodeAndValidate(w, r, &req) {
		return
	}
	var res domain.RollbackResult
	if req.Generation != nil {
		res = h.Loop.RollbackToGeneration(r.Context(), *req.Generation)
	} else {
		res = h.Loop.RollbackTo(r.Context(), req.SnapshotID)
	}
	status := http.StatusOK
	if !res.Success {
		status = http.StatusUnprocessableEntity
	}
	writeJSON(w, status, res)
}

// SessionStats handles GET /api/v1/session.
func (h *Handler) SessionStats(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.Loop.SessionStats())
}

// ListAudit handles GET /api/v1/audit?category=C.
func (h *Handler) ListAudit(w http.ResponseWriter, r *http.Request) {
	if h.Audit == nil {
		writeJSON(w, http.StatusOK, []domain.AuditRecord{})
		return
	}
	recs, err := h.Audit.List(r.Context(), r.URL.Query().Get("category"))
	if err != nil {
		writeError(w, err)
		return
	}
	if recs == nil {
		recs = []domain.AuditRecord{}
	}
	writeJSON(w, http.StatusOK, recs)
}

// StreamAudit handles GET /api/v1/audit/stream (SSE).
func (h *Handler) StreamAudit(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok || h.Audit == nil {
		writeJSON(w, http.StatusInternalServerError, APIError{Code: 500, Message: "streaming not supported"})
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	category := r.URL.Query().Get("category")

	// Send initial batch of records.
	recs, err := h.Audit.List(r.Context(), category)
	if err != nil {
		writeSSEError(w, flusher, err)
		return
	}
	for _, rec := range recs {
		writeSSEEvent(w, flusher, rec)
	}
	sent := len(recs)

	interval := h.StreamInterval
	if interval <= 0 {
		interval = 2 * time.Second
	}
	ctx := r.Context()
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	// The audit trail is append-only, so the count sent so far is a cursor.
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			recs, err := h.Audit.List(ctx, category)
			if err != nil {
				return
			}
			for _, rec := range recs[min(sent, len(recs)):] {
				writeSSEEvent(w, flusher, rec)
			}
			sent = max(sent, len(recs))
		}
	}
}

// SnapshotSummary is a snapshot without its DNA payload.
type SnapshotSummary struct {
	ID          string                  `json:"id"`
	Timestamp   time.Time               `json:"timestamp"`
	Label       string                  `json:"label"`
	DNAChecksum string                  `json:"dna_checksum"`
	Metadata    domain.SnapshotMetadata `json:"metadata"`
}

func summarize(s domain.Snapshot) SnapshotSummary {
	return SnapshotSummary{ID: s.ID, Timestamp: s.Timestamp, Label: s.Label, DNAChecksum: s.DNAChecksum, Metadata: s.Metadata}
}

func decodeAndValidate(w http.ResponseWriter, r *http.Request, dst any) bool {
	// An empty body decodes as the zero request and is left to validation.
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil && !errors.Is(err, io.EOF) {
		writeJSON(w, http.StatusBadRequest, APIError{Code: 400, Message: "invalid request body"})
		return false
	}
	if err := validate.Struct(dst); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) && len(verrs) > 0 {
			fe := verrs[0]
			writeJSON(w, http.StatusBadRequest, APIError{Code: 400, Message: fmt.Sprintf("%s failed %s", fe.Field(), fe.Tag())})
			return false
		}
		writeJSON(w, http.StatusBadRequest, APIError{Code: 400, Message: err.Error()})
		return false
	}
	return true
}

func queryInt(r *http.Request, key string, def int) int {
	if s := r.URL.Query().Get(key); s != "" {
		if n, err := strconv.Atoi(s); err == nil {
			return n
		}
	}
	return def
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, err error) {
	var engErr *domain.EngineError
	if errors.As(err, &engErr) {
		status := http.StatusInternalServerError
		switch engErr.Code {
		case domain.ErrApprovalNotFound.Code, domain.ErrSnapshotNotFound.Code, domain.ErrDNANotFound.Code:
			status = http.StatusNotFound
		case domain.ErrApprovalNotPending.Code, domain.ErrApprovalExpired.Code, domain.ErrOptimisticLock.Code:
			status = http.StatusConflict
		case domain.ErrInvalidMutation.Code, domain.ErrConfigInvalid.Code:
			status = http.StatusBadRequest
		case domain.ErrBudgetExceeded.Code:
			status = http.StatusForbidden
		case domain.ErrRateLimitExceeded.Code:
			status = http.StatusTooManyRequests
		}
		msg := engErr.Message
		if err != error(engErr) {
			msg = err.Error()
		}
		writeJSON(w, status, APIError{Code: engErr.Code, Message: msg})
		return
	}
	writeJSON(w, http.StatusInternalServerError, APIError{Code: -1, Message: err.Error()})
}

func writeSSEEvent(w http.ResponseWriter, f http.Flusher, rec domain.AuditRecord) {
	data, _ := json.Marshal(rec)
	fmt.Fprintf(w, "event: %s\ndata: %s\n\n", rec.Category, data)
	f.Flush()
}

func writeSSEError(w http.ResponseWriter, f http.Flusher, err error) {
	fmt.Fprintf(w, "event: error\ndata: %s\n\n", err.Error())
	f.Flush()
}

func (h *Handler) logger() *zap.Logger {
	return logging.OrNop(h.Logger).Named("ipc")
}
