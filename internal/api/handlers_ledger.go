package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
)

type validateAddressRequest struct {
	Address string `json:"address"`
}

type validateAddressResponse struct {
	Address string `json:"address"`
	IsValid bool   `json:"is_valid"`
}

// ValidateAddressHandler reports whether an address is a well-formed ledger account.
func (h *Handlers) ValidateAddressHandler(w http.ResponseWriter, r *http.Request) {
	var req validateAddressRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if req.Address == "" {
		writeError(w, http.StatusBadRequest, "address is required")
		return
	}
	writeJSON(w, http.StatusOK, validateAddressResponse{Address: req.Address, IsValid: h.service.ValidateAddress(req.Address)})
}

// LedgerAccountHandler returns an account's balances, signers and thresholds.
func (h *Handlers) LedgerAccountHandler(w http.ResponseWriter, r *http.Request) {
	acct, err := h.service.LedgerAccount(r.Context(), chi.URLParam(r, "address"))
	if err != nil {
		h.writeServiceError(w, r, "ledger_account", err)
		return
	}
	writeJSON(w, http.StatusOK, acct)
}
