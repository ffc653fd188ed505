/**
 * @description
 * This file contains HTTP handlers for campaign endpoints.
 *
 * @dependencies
 * - internal/app, internal/domain, internal/store: For service logic, models, and filters.
 */

package api

import (
	"net/http"
	"strings"

	"github.com/google/uuid"
	"github.com/transfa/disbursement-service/internal/app"
	"github.com/transfa/disbursement-service/internal/domain"
	"github.com/transfa/disbursement-service/internal/store"
)

type createCampaignRequest struct {
	OrganizationID    uuid.UUID     `json:"organization_id"`
	Title             string        `json:"title"`
	Description       string        `json:"description"`
	TargetAmount      domain.Amount `json:"target_amount"`
	AssetCode         string        `json:"asset_code"`
	AssetIssuer       string        `json:"asset_issuer"`
	LedgerAccount     string        `json:"ledger_account"`
	ApprovalThreshold int           `json:"approval_threshold"`
	Status            string        `json:"status"`
}

type updateCampaignStatusRequest struct {
	Status    string `json:"status"`
	UpdatedBy string `json:"updated_by"`
}

// CreateCampaignHandler handles requests to create a new campaign.
func (h *Handlers) CreateCampaignHandler(w http.ResponseWriter, r *http.Request) {
	var req createCampaignRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	var status domain.CampaignStatus
	if strings.TrimSpace(req.Status) != "" {
		parsed, err := domain.ParseCampaignStatus(req.Status)
		if err != nil {
			h.writeServiceError(w, r, "create_campaign", err)
			return
		}
		status = parsed
	}

	campaign, err := h.service.CreateCampaign(r.Context(), app.CreateCampaignRequest{
		OrganizationID:    req.OrganizationID,
		Title:             req.Title,
		Description:       req.Description,
		TargetAmount:      req.TargetAmount,
		AssetCode:         req.AssetCode,
		AssetIssuer:       req.AssetIssuer,
		LedgerAccount:     req.LedgerAccount,
		ApprovalThreshold: req.ApprovalThreshold,
		Status:            status,
	})
	if err != nil {
		h.writeServiceError(w, r, "create_campaign", err)
		return
	}
	writeJSON(w, http.StatusCreated, campaign)
}

// ListCampaignsHandler lists campaigns filtered by status and organization.
func (h *Handlers) ListCampaignsHandler(w http.ResponseWriter, r *http.Request) {
	filter := store.CampaignFilter{}
	filter.Limit, filter.Offset = pagination(r)
	if raw := r.URL.Query().Get("status"); raw != "" {
		status, err := domain.ParseCampaignStatus(raw)
		if err != nil {
			h.writeServiceError(w, r, "list_campaigns", err)
			return
		}
		filter.Status = &status
	}
	orgID, ok := queryUUID(w, r, "organization_id")
	if !ok {
		return
	}
	filter.OrganizationID = orgID

	campaigns, err := h.service.ListCampaigns(r.Context(), filter)
	if err != nil {
		h.writeServiceError(w, r, "list_campaigns", err)
		return
	}
	if campaigns == nil {
		campaigns = []domain.Campaign{}
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"campaigns": campaigns,
		"limit":     filter.Limit,
		"offset":    filter.Offset,
	})
}

// GetCampaignHandler returns one campaign.
func (h *Handlers) GetCampaignHandler(w http.ResponseWriter, r *http.Request) {
	id, ok := pathUUID(w, r, "id")
	if !ok {
		return
	}
	campaign, err := h.service.GetCampaign(r.Context(), id)
	if err != nil {
		h.writeServiceError(w, r, "get_campaign", err)
		return
	}
	writeJSON(w, http.StatusOK, campaign)
}

// UpdateCampaignStatusHandler applies a manual campaign status change.
func (h *Handlers) UpdateCampaignStatusHandler(w http.ResponseWriter, r *http.Request) {
	id, ok := pathUUID(w, r, "id")
	if !ok {
		return
	}
	var req updateCampaignStatusRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	status, err := domain.ParseCampaignStatus(req.Status)
	if err != nil {
		h.writeServiceError(w, r, "update_campaign_status", err)
		return
	}
	actor, ok := actorFor(r, req.UpdatedBy)
	if !ok {
		writeError(w, http.StatusBadRequest, "updated_by is required")
		return
	}

	campaign, err := h.service.UpdateCampaignStatus(r.Context(), id, status, actor)
	if err != nil {
		h.writeServiceError(w, r, "update_campaign_status", err)
		return
	}
	writeJSON(w, http.StatusOK, campaign)
}

// CampaignStatsHandler reports a campaign's fundraising progress.
func (h *Handlers) CampaignStatsHandler(w http.ResponseWriter, r *http.Request) {
	id, ok := pathUUID(w, r, "id")
	if !ok {
		return
	}
	stats, err := h.service.CampaignStats(r.Context(), id)
	if err != nil {
		h.writeServiceError(w, r, "campaign_stats", err)
		return
	}
	writeJSON(w, http.StatusOK, stats)
}
