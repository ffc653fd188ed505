/**
 * @description
 * This file contains HTTP handlers for donation endpoints. Donations read back over
 * HTTP always use the public view, so anonymous donors stay anonymous.
 *
 * @dependencies
 * - internal/app, internal/domain, internal/store: For service logic, models, and filters.
 */

package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/transfa/disbursement-service/internal/app"
	"github.com/transfa/disbursement-service/internal/domain"
	"github.com/transfa/disbursement-service/internal/store"
)

type recordDonationRequest struct {
	CampaignID  uuid.UUID     `json:"campaign_id"`
	LedgerTxID  string        `json:"ledger_tx_id"`
	Amount      domain.Amount `json:"amount"`
	DonorID     string        `json:"donor_id"`
	DonorName   string        `json:"donor_name"`
	Message     string        `json:"message"`
	IsAnonymous bool          `json:"is_anonymous"`
}

type recordDonationResponse struct {
	Donation  domain.Donation  `json:"donation"`
	Campaign  *domain.Campaign `json:"campaign"`
	LedgerURL string           `json:"ledger_url"`
}

// RecordDonationHandler verifies a ledger payment and credits the campaign with it.
func (h *Handlers) RecordDonationHandler(w http.ResponseWriter, r *http.Request) {
	var req recordDonationRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if req.CampaignID == uuid.Nil {
		writeError(w, http.StatusBadRequest, "campaign_id is required")
		return
	}
	donorID := req.DonorID
	if actor, ok := GetActorID(r.Context()); ok && donorID == "" {
		donorID = actor
	}

	donation, campaign, err := h.service.RecordDonation(r.Context(), app.RecordDonationRequest{
		CampaignID:  req.CampaignID,
		LedgerTxID:  req.LedgerTxID,
		Amount:      req.Amount,
		DonorID:     donorID,
		DonorName:   req.DonorName,
		Message:     req.Message,
		IsAnonymous: req.IsAnonymous,
	})
	if err != nil {
		h.writeServiceError(w, r, "record_donation", err)
		return
	}
	writeJSON(w, http.StatusCreated, recordDonationResponse{
		Donation:  donation.PublicView(),
		Campaign:  campaign,
		LedgerURL: h.service.LedgerURL(donation.LedgerTxID),
	})
}

// ListDonationsHandler lists completed donations, optionally for one campaign.
func (h *Handlers) ListDonationsHandler(w http.ResponseWriter, r *http.Request) {
	filter := store.DonationFilter{}
	filter.Limit, filter.Offset = pagination(r)
	campaignID, ok := queryUUID(w, r, "campaign_id")
	if !ok {
		return
	}
	filter.CampaignID = campaignID

	donations, err := h.service.ListDonations(r.Context(), filter)
	if err != nil {
		h.writeServiceError(w, r, "list_donations", err)
		return
	}
	public := make([]domain.Donation, 0, len(donations))
	for _, d := range donations {
		public = append(public, d.PublicView())
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"donations": public,
		"limit":     filter.Limit,
		"offset":    filter.Offset,
	})
}

// GetDonationHandler returns one donation.
func (h *Handlers) GetDonationHandler(w http.ResponseWriter, r *http.Request) {
	id, ok := pathUUID(w, r, "id")
	if !ok {
		return
	}
	donation, err := h.service.GetDonation(r.Context(), id)
	if err != nil {
		h.writeServiceError(w, r, "get_donation", err)
		return
	}
	writeJSON(w, http.StatusOK, donation.PublicView())
}

// DonationStatsHandler summarizes a campaign's donations.
func (h *Handlers) DonationStatsHandler(w http.ResponseWriter, r *http.Request) {
	id, ok := pathUUID(w, r, "id")
	if !ok {
		return
	}
	stats, err := h.service.DonationStats(r.Context(), id)
	if err != nil {
		h.writeServiceError(w, r, "donation_stats", err)
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

// VerifyTransactionHandler looks a transaction up on the ledger.
func (h *Handlers) VerifyTransactionHandler(w http.ResponseWriter, r *http.Request) {
	verification, err := h.service.VerifyTransaction(r.Context(), chi.URLParam(r, "txId"))
	if err != nil {
		h.writeServiceError(w, r, "verify_transaction", err)
		return
	}
	writeJSON(w, http.StatusOK, verification)
}
