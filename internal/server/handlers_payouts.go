package server

import (
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/fleetops/tollgate/internal/model"
	"github.com/fleetops/tollgate/internal/storage"
)

// HandlePendingConfirmations handles GET /v1/payouts/pending-confirmations.
// Query params: zone, flagged, min_aging_hours, limit, offset.
func (h *Handlers) HandlePendingConfirmations(w http.ResponseWriter, r *http.Request) {
	limit, offset := parsePagination(r)
	f := storage.PayoutFilter{
		Zone:        r.URL.Query().Get("zone"),
		FlaggedOnly: r.URL.Query().Get("flagged") == "true",
		Limit:       limit,
		Offset:      offset,
	}
	if v := r.URL.Query().Get("min_aging_hours"); v != "" {
		d, err := time.ParseDuration(v + "h")
		if err != nil || d < 0 {
			writeError(w, r, http.StatusBadRequest, model.ErrCodeInvalidInput, "min_aging_hours must be a non-negative number")
			return
		}
		f.MinAge = d
	}

	out, total, err := h.payoutSvc.PendingConfirmations(r.Context(), f)
	if err != nil {
		h.writeStorageError(w, r, err)
		return
	}
	writeList(w, r, out, total, limit, offset)
}

// HandleGetPayout handles GET /v1/payouts/{id}.
func (h *Handlers) HandleGetPayout(w http.ResponseWriter, r *http.Request) {
	id, ok := h.payoutID(w, r)
	if !ok {
		return
	}
	p, err := h.payoutSvc.Get(r.Context(), id)
	if err != nil {
		h.writeStorageError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, p)
}

// HandleMarkIntent handles POST /v1/payouts/{id}/mark-intent.
func (h *Handlers) HandleMarkIntent(w http.ResponseWriter, r *http.Request) {
	id, ok := h.payoutID(w, r)
	if !ok {
		return
	}
	claims := ClaimsFromContext(r.Context())
	p, err := h.payoutSvc.MarkIntent(r.Context(), id, claims.ActorID)
	if err != nil {
		h.writeStorageError(w, r, err)
		return
	}
	h.auditBestEffort(r, "payout_intent_marked", "payout", id.String(), nil, p, nil)
	writeJSON(w, r, http.StatusOK, p)
}

// HandleApprovePayout handles POST /v1/payouts/{id}/approve.
func (h *Handlers) HandleApprovePayout(w http.ResponseWriter, r *http.Request) {
	id, ok := h.payoutID(w, r)
	if !ok {
		return
	}
	claims := ClaimsFromContext(r.Context())
	p, err := h.payoutSvc.Approve(r.Context(), id, claims.ActorID)
	if err != nil {
		h.writeStorageError(w, r, err)
		return
	}
	h.auditBestEffort(r, "payout_approved", "payout", id.String(), nil, p, nil)
	writeJSON(w, r, http.StatusOK, p)
}

// HandleRejectPayout handles POST /v1/payouts/{id}/reject.
func (h *Handlers) HandleRejectPayout(w http.ResponseWriter, r *http.Request) {
	id, ok := h.payoutID(w, r)
	if !ok {
		return
	}
	var req model.RejectPayoutRequest
	if err := decodeJSON(w, r, &req, h.maxRequestBodyBytes); err != nil {
		handleDecodeError(w, r, err)
		return
	}
	if req.Reason == "" {
		writeError(w, r, http.StatusUnprocessableEntity, model.ErrCodeInvalidInput, "reason is required")
		return
	}

	claims := ClaimsFromContext(r.Context())
	p, err := h.payoutSvc.Reject(r.Context(), id, claims.ActorID, req.Reason)
	if err != nil {
		h.writeStorageError(w, r, err)
		return
	}
	h.auditBestEffort(r, "payout_rejected", "payout", id.String(), nil, p, map[string]any{
		"reason": req.Reason,
	})
	writeJSON(w, r, http.StatusOK, p)
}

// HandleHoldPayout handles POST /v1/payouts/{id}/hold. Parks a pending or
// intent_marked payout so it drops out of the working queue without a verdict.
func (h *Handlers) HandleHoldPayout(w http.ResponseWriter, r *http.Request) {
	id, ok := h.payoutID(w, r)
	if !ok {
		return
	}
	claims := ClaimsFromContext(r.Context())
	p, err := h.payoutSvc.Hold(r.Context(), id, claims.ActorID)
	if err != nil {
		h.writeStorageError(w, r, err)
		return
	}
	h.auditBestEffort(r, "payout_held", "payout", id.String(), nil, p, nil)
	writeJSON(w, r, http.StatusOK, p)
}

// HandleReleasePayout handles POST /v1/payouts/{id}/release.
func (h *Handlers) HandleReleasePayout(w http.ResponseWriter, r *http.Request) {
	id, ok := h.payoutID(w, r)
	if !ok {
		return
	}
	claims := ClaimsFromContext(r.Context())
	p, err := h.payoutSvc.Release(r.Context(), id, claims.ActorID)
	if err != nil {
		h.writeStorageError(w, r, err)
		return
	}
	h.auditBestEffort(r, "payout_released", "payout", id.String(), nil, p, nil)
	writeJSON(w, r, http.StatusOK, p)
}

// HandleUnlockPayout handles POST /v1/payouts/{id}/unlock.
// Route is restricted to ceo and compliance.
func (h *Handlers) HandleUnlockPayout(w http.ResponseWriter, r *http.Request) {
	id, ok := h.payoutID(w, r)
	if !ok {
		return
	}
	claims := ClaimsFromContext(r.Context())
	p, err := h.payoutSvc.Unlock(r.Context(), id, claims.ActorID)
	if err != nil {
		h.writeStorageError(w, r, err)
		return
	}
	h.auditBestEffort(r, "payout_unlocked", "payout", id.String(), nil, p, nil)
	writeJSON(w, r, http.StatusOK, p)
}

// HandleAutoRevert handles POST /v1/payouts/auto-revert. Runs one sweep
// immediately; partial failures come back in the errors array with HTTP 200.
// An empty body means the server's default cutoff.
func (h *Handlers) HandleAutoRevert(w http.ResponseWriter, r *http.Request) {
	var req model.AutoRevertRequest
	if err := decodeJSON(w, r, &req, h.maxRequestBodyBytes); err != nil && !errors.Is(err, io.EOF) {
		handleDecodeError(w, r, err)
		return
	}
	if req.CutoffHours < 0 {
		writeError(w, r, http.StatusUnprocessableEntity, model.ErrCodeInvalidInput, "cutoff_hours must not be negative")
		return
	}

	result, err := h.payoutSvc.AutoRevertStale(r.Context(), time.Duration(req.CutoffHours)*time.Hour)
	if err != nil {
		h.writeStorageError(w, r, err)
		return
	}
	h.auditBestEffort(r, "auto_revert_sweep", "payout", "", nil, nil, map[string]any{
		"cutoff_hours": req.CutoffHours,
		"reverted":     result.RevertedCount,
		"skipped":      result.SkippedCount,
		"errors":       len(result.Errors),
	})
	writeJSON(w, r, http.StatusOK, result)
}

// HandleSendReminder handles POST /v1/payouts/send-reminder.
func (h *Handlers) HandleSendReminder(w http.ResponseWriter, r *http.Request) {
	var req model.SendReminderRequest
	if err := decodeJSON(w, r, &req, h.maxRequestBodyBytes); err != nil {
		handleDecodeError(w, r, err)
		return
	}
	if err := req.Validate(); err != nil {
		writeError(w, r, http.StatusUnprocessableEntity, model.ErrCodeInvalidInput, err.Error())
		return
	}

	actor, err := h.actorFromClaims(r)
	if err != nil {
		h.writeStorageError(w, r, err)
		return
	}

	result, err := h.complianceSvc.SendReminders(r.Context(), req, actor, RequestIDFromContext(r.Context()))
	if err != nil {
		h.writeInternalError(w, r, "failed to dispatch reminders", err)
		return
	}
	writeJSON(w, r, http.StatusOK, result)
}

// HandleTriggerEscalation handles POST /v1/payouts/trigger-escalation.
func (h *Handlers) HandleTriggerEscalation(w http.ResponseWriter, r *http.Request) {
	var req model.TriggerEscalationRequest
	if err := decodeJSON(w, r, &req, h.maxRequestBodyBytes); err != nil {
		handleDecodeError(w, r, err)
		return
	}
	if err := req.Validate(); err != nil {
		writeError(w, r, http.StatusUnprocessableEntity, model.ErrCodeInvalidInput, err.Error())
		return
	}

	actor, err := h.actorFromClaims(r)
	if err != nil {
		h.writeStorageError(w, r, err)
		return
	}

	p, err := h.payoutSvc.TriggerEscalation(r.Context(), req, actor, RequestIDFromContext(r.Context()))
	if err != nil {
		h.writeStorageError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusAccepted, p)
}

// payoutID parses the {id} path segment, writing the error response itself.
func (h *Handlers) payoutID(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	id, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		writeError(w, r, http.StatusBadRequest, model.ErrCodeInvalidInput, "invalid payout id")
		return uuid.Nil, false
	}
	return id, true
}
