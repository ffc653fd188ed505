package api

import (
	"net/http"

	"github.com/transfa/disbursement-service/internal/domain"
)

// CampaignAuditHandler returns the full audit of a campaign's money movements.
func (h *Handlers) CampaignAuditHandler(w http.ResponseWriter, r *http.Request) {
	id, ok := pathUUID(w, r, "id")
	if !ok {
		return
	}
	audit, err := h.service.AuditCampaign(r.Context(), id)
	if err != nil {
		h.writeServiceError(w, r, "campaign_audit", err)
		return
	}
	writeJSON(w, http.StatusOK, audit)
}

// TransparencyHandler returns a campaign's transparency score.
func (h *Handlers) TransparencyHandler(w http.ResponseWriter, r *http.Request) {
	id, ok := pathUUID(w, r, "id")
	if !ok {
		return
	}
	report, err := h.service.Transparency(r.Context(), id)
	if err != nil {
		h.writeServiceError(w, r, "transparency", err)
		return
	}
	writeJSON(w, http.StatusOK, report)
}

// TrackDonationHandler places a donation next to the campaign's outflows.
func (h *Handlers) TrackDonationHandler(w http.ResponseWriter, r *http.Request) {
	id, ok := pathUUID(w, r, "id")
	if !ok {
		return
	}
	trail, err := h.service.TrackDonation(r.Context(), id)
	if err != nil {
		h.writeServiceError(w, r, "track_donation", err)
		return
	}
	writeJSON(w, http.StatusOK, trail)
}

// AuditLogHandler returns the action history of a campaign, disbursement or donation.
func (h *Handlers) AuditLogHandler(w http.ResponseWriter, r *http.Request) {
	id, ok := pathUUID(w, r, "id")
	if !ok {
		return
	}
	entries, err := h.service.AuditLog(r.Context(), id)
	if err != nil {
		h.writeServiceError(w, r, "audit_log", err)
		return
	}
	if entries == nil {
		entries = []domain.AuditLogEntry{}
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"entries": entries})
}
