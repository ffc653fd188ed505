/**
 * @description
 * This file contains HTTP handlers for disbursement endpoints: requests, approvals,
 * rejections and settlement.
 *
 * Signer secrets arrive only in the execute request body. They are handed to the
 * engine and never logged or echoed back.
 *
 * @dependencies
 * - internal/app, internal/domain, internal/store: For service logic, models, and filters.
 */

package api

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/transfa/disbursement-service/internal/app"
	"github.com/transfa/disbursement-service/internal/domain"
	"github.com/transfa/disbursement-service/internal/store"
)

type createDisbursementRequest struct {
	CampaignID       uuid.UUID     `json:"campaign_id"`
	RecipientAddress string        `json:"recipient_address"`
	Amount           domain.Amount `json:"amount"`
	Purpose          string        `json:"purpose"`
	RequestedBy      string        `json:"requested_by"`
	ScheduledAt      *time.Time    `json:"scheduled_at"`
}

type approveDisbursementRequest struct {
	ApproverID string `json:"approver_id"`
}

type approveDisbursementResponse struct {
	Disbursement   *domain.Disbursement `json:"disbursement"`
	QuorumReached  bool                 `json:"quorum_reached"`
	ApprovalsCount int                  `json:"approvals_count"`
	Required       int                  `json:"required_approvals"`
}

type rejectDisbursementRequest struct {
	RejectedBy string `json:"rejected_by"`
	Reason     string `json:"reason"`
}

type executeDisbursementRequest struct {
	SignerSecrets []string `json:"signer_secrets"`
	ExecutedBy    string   `json:"executed_by"`
}

// CreateDisbursementHandler reserves funds and opens a pending disbursement request.
func (h *Handlers) CreateDisbursementHandler(w http.ResponseWriter, r *http.Request) {
	var req createDisbursementRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if req.CampaignID == uuid.Nil {
		writeError(w, http.StatusBadRequest, "campaign_id is required")
		return
	}
	requestedBy, ok := actorFor(r, req.RequestedBy)
	if !ok {
		writeError(w, http.StatusBadRequest, "requested_by is required")
		return
	}

	disbursement, err := h.service.CreateDisbursement(r.Context(), app.CreateDisbursementRequest{
		CampaignID:       req.CampaignID,
		RecipientAddress: req.RecipientAddress,
		Amount:           req.Amount,
		Purpose:          req.Purpose,
		RequestedBy:      requestedBy,
		ScheduledAt:      req.ScheduledAt,
	})
	if err != nil {
		h.writeServiceError(w, r, "create_disbursement", err)
		return
	}
	writeJSON(w, http.StatusCreated, disbursement)
}

// ListDisbursementsHandler lists disbursements filtered by campaign and status.
func (h *Handlers) ListDisbursementsHandler(w http.ResponseWriter, r *http.Request) {
	filter := store.DisbursementFilter{}
	filter.Limit, filter.Offset = pagination(r)
	campaignID, ok := queryUUID(w, r, "campaign_id")
	if !ok {
		return
	}
	filter.CampaignID = campaignID
	if raw := strings.TrimSpace(r.URL.Query().Get("status")); raw != "" {
		for _, part := range strings.Split(raw, ",") {
			status, err := domain.ParseDisbursementStatus(part)
			if err != nil {
				h.writeServiceError(w, r, "list_disbursements", err)
				return
			}
			filter.Statuses = append(filter.Statuses, status)
		}
	}

	disbursements, err := h.service.ListDisbursements(r.Context(), filter)
	if err != nil {
		h.writeServiceError(w, r, "list_disbursements", err)
		return
	}
	if disbursements == nil {
		disbursements = []domain.Disbursement{}
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"disbursements": disbursements,
		"limit":         filter.Limit,
		"offset":        filter.Offset,
	})
}

// GetDisbursementHandler returns one disbursement; ?ledger=true adds the ledger transaction.
func (h *Handlers) GetDisbursementHandler(w http.ResponseWriter, r *http.Request) {
	id, ok := pathUUID(w, r, "id")
	if !ok {
		return
	}
	withLedger, _ := strconv.ParseBool(r.URL.Query().Get("ledger"))
	details, err := h.service.GetDisbursement(r.Context(), id, withLedger)
	if err != nil {
		h.writeServiceError(w, r, "get_disbursement", err)
		return
	}
	writeJSON(w, http.StatusOK, details)
}

// ApproveDisbursementHandler records one approval.
func (h *Handlers) ApproveDisbursementHandler(w http.ResponseWriter, r *http.Request) {
	id, ok := pathUUID(w, r, "id")
	if !ok {
		return
	}
	var req approveDisbursementRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	approverID, ok := actorFor(r, req.ApproverID)
	if !ok {
		writeError(w, http.StatusBadRequest, "approver_id is required")
		return
	}

	disbursement, quorum, err := h.service.ApproveDisbursement(r.Context(), id, approverID)
	if err != nil {
		h.writeServiceError(w, r, "approve_disbursement", err)
		return
	}
	writeJSON(w, http.StatusOK, approveDisbursementResponse{
		Disbursement:   disbursement,
		QuorumReached:  quorum,
		ApprovalsCount: disbursement.ApprovalCount,
		Required:       disbursement.RequiredApprovals,
	})
}

// RejectDisbursementHandler rejects a pending disbursement and releases its reservation.
func (h *Handlers) RejectDisbursementHandler(w http.ResponseWriter, r *http.Request) {
	id, ok := pathUUID(w, r, "id")
	if !ok {
		return
	}
	var req rejectDisbursementRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	rejectedBy, ok := actorFor(r, req.RejectedBy)
	if !ok {
		writeError(w, http.StatusBadRequest, "rejected_by is required")
		return
	}

	disbursement, err := h.service.RejectDisbursement(r.Context(), id, rejectedBy, req.Reason)
	if err != nil {
		h.writeServiceError(w, r, "reject_disbursement", err)
		return
	}
	writeJSON(w, http.StatusOK, disbursement)
}

// ExecuteDisbursementHandler settles an approved disbursement on the ledger.
func (h *Handlers) ExecuteDisbursementHandler(w http.ResponseWriter, r *http.Request) {
	id, ok := pathUUID(w, r, "id")
	if !ok {
		return
	}
	var req executeDisbursementRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if len(req.SignerSecrets) == 0 {
		writeError(w, http.StatusBadRequest, "signer_secrets is required")
		return
	}
	executedBy, ok := actorFor(r, req.ExecutedBy)
	if !ok {
		writeError(w, http.StatusBadRequest, "executed_by is required")
		return
	}

	result, err := h.service.ExecuteDisbursement(r.Context(), id, req.SignerSecrets, executedBy)
	if err != nil {
		h.writeServiceError(w, r, "execute_disbursement", err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

// DisbursementStatsHandler summarizes a campaign's disbursements.
func (h *Handlers) DisbursementStatsHandler(w http.ResponseWriter, r *http.Request) {
	id, ok := pathUUID(w, r, "id")
	if !ok {
		return
	}
	stats, err := h.service.DisbursementStats(r.Context(), id)
	if err != nil {
		h.writeServiceError(w, r, "disbursement_stats", err)
		return
	}
	writeJSON(w, http.StatusOK, stats)
}
