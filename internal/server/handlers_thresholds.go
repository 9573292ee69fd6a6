package server

import (
	"net/http"

	"github.com/google/uuid"

	"github.com/fleetops/tollgate/internal/model"
	"github.com/fleetops/tollgate/internal/storage"
)

// HandleValidateCost handles POST /v1/thresholds/validate-cost.
// Costs within their limit pass through. Costs over the limit come back with
// a blocked violation and the escalation that must be approved to unblock it.
func (h *Handlers) HandleValidateCost(w http.ResponseWriter, r *http.Request) {
	var req model.ValidateCostRequest
	if err := decodeJSON(w, r, &req, h.maxRequestBodyBytes); err != nil {
		handleDecodeError(w, r, err)
		return
	}
	if err := req.Validate(); err != nil {
		writeError(w, r, http.StatusUnprocessableEntity, model.ErrCodeInvalidInput, err.Error())
		return
	}

	claims := ClaimsFromContext(r.Context())
	resp, err := h.escalationSvc.ValidateCost(r.Context(), req, claims.ActorID)
	if err != nil {
		h.writeStorageError(w, r, err)
		return
	}

	if resp.Violation != nil {
		h.auditBestEffort(r, "violation_created", "threshold_violation", resp.Violation.ID.String(),
			nil, resp.Violation, map[string]any{
				"escalation_id": resp.Escalation.ID.String(),
				"priority":      resp.Escalation.Priority,
			})
	}
	writeJSON(w, r, http.StatusOK, resp)
}

// HandleListViolations handles GET /v1/thresholds/violations.
func (h *Handlers) HandleListViolations(w http.ResponseWriter, r *http.Request) {
	limit, offset := parsePagination(r)
	f := storage.ViolationFilter{Limit: limit, Offset: offset}

	if v := r.URL.Query().Get("status"); v != "" {
		s := model.ViolationStatus(v)
		if !model.ValidViolationStatus(s) {
			writeError(w, r, http.StatusBadRequest, model.ErrCodeInvalidInput, "unknown violation status: "+v)
			return
		}
		f.Status = s
	}
	if v := r.URL.Query().Get("cost_type"); v != "" {
		t := model.CostType(v)
		if !model.ValidCostType(t) {
			writeError(w, r, http.StatusBadRequest, model.ErrCodeInvalidInput, "unknown cost_type: "+v)
			return
		}
		f.CostType = t
	}

	out, total, err := h.escalationSvc.ListViolations(r.Context(), f)
	if err != nil {
		h.writeStorageError(w, r, err)
		return
	}
	writeList(w, r, out, total, limit, offset)
}

// HandleListEscalations handles GET /v1/thresholds/escalations.
func (h *Handlers) HandleListEscalations(w http.ResponseWriter, r *http.Request) {
	limit, offset := parsePagination(r)
	f := storage.EscalationFilter{Limit: limit, Offset: offset}

	if v := r.URL.Query().Get("status"); v != "" {
		s := model.EscalationStatus(v)
		if !model.ValidEscalationStatus(s) {
			writeError(w, r, http.StatusBadRequest, model.ErrCodeInvalidInput, "unknown escalation status: "+v)
			return
		}
		f.Status = s
	}
	if v := r.URL.Query().Get("priority"); v != "" {
		p := model.Priority(v)
		if !model.ValidPriority(p) {
			writeError(w, r, http.StatusBadRequest, model.ErrCodeInvalidInput, "unknown priority: "+v)
			return
		}
		f.Priority = p
	}

	out, total, err := h.escalationSvc.List(r.Context(), f)
	if err != nil {
		h.writeStorageError(w, r, err)
		return
	}
	writeList(w, r, out, total, limit, offset)
}

// HandleGetEscalation handles GET /v1/thresholds/escalations/{id}.
// The response carries the escalation plus its recorded decisions.
func (h *Handlers) HandleGetEscalation(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		writeError(w, r, http.StatusBadRequest, model.ErrCodeInvalidInput, "invalid escalation id")
		return
	}
	detail, err := h.escalationSvc.GetWithDecisions(r.Context(), id)
	if err != nil {
		h.writeStorageError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, detail)
}

// HandlePendingApprovals handles GET /v1/thresholds/pending-approvals.
// Returns the caller's approval queue: live escalations whose quorum includes
// the caller's role and which the caller's role has not yet decided.
func (h *Handlers) HandlePendingApprovals(w http.ResponseWriter, r *http.Request) {
	claims := ClaimsFromContext(r.Context())
	out, err := h.escalationSvc.PendingForApprover(r.Context(), claims.Role)
	if err != nil {
		h.writeStorageError(w, r, err)
		return
	}
	writeList(w, r, out, len(out), len(out), 0)
}

// HandleEscalationDecision handles
// POST /v1/thresholds/escalations/{id}/approve-or-reject.
func (h *Handlers) HandleEscalationDecision(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		writeError(w, r, http.StatusBadRequest, model.ErrCodeInvalidInput, "invalid escalation id")
		return
	}

	var req model.EscalationDecisionRequest
	if err := decodeJSON(w, r, &req, h.maxRequestBodyBytes); err != nil {
		handleDecodeError(w, r, err)
		return
	}
	if err := req.Validate(); err != nil {
		writeError(w, r, http.StatusUnprocessableEntity, model.ErrCodeInvalidInput, err.Error())
		return
	}

	approver, err := h.actorFromClaims(r)
	if err != nil {
		h.writeStorageError(w, r, err)
		return
	}

	out, err := h.escalationSvc.Decide(r.Context(), id, approver, req.Decision, req.Reason)
	if err != nil {
		h.writeStorageError(w, r, err)
		return
	}

	h.auditBestEffort(r, "escalation_decision", "escalation_request", id.String(),
		nil, out.Escalation, map[string]any{
			"decision":  req.Decision,
			"finalized": out.Finalized,
		})
	writeJSON(w, r, http.StatusOK, out)
}

// HandleThresholdStatistics handles GET /v1/thresholds/statistics.
func (h *Handlers) HandleThresholdStatistics(w http.ResponseWriter, r *http.Request) {
	stats, err := h.escalationSvc.Statistics(r.Context())
	if err != nil {
		h.writeStorageError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, stats)
}
