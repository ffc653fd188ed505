/**
 * @description
 * HTTP handlers for organization endpoints. Organizations own campaigns; their
 * wallet address is unique across the service.
 */

package api

import (
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/transfa/disbursement-service/internal/app"
	"github.com/transfa/disbursement-service/internal/domain"
	"github.com/transfa/disbursement-service/internal/store"
)

type createOrganizationRequest struct {
	Name          string `json:"name"`
	WalletAddress string `json:"wallet_address"`
	Email         string `json:"email"`
	Description   string `json:"description"`
	CreatedBy     string `json:"created_by"`
}

type updateOrganizationRequest struct {
	Name        *string `json:"name"`
	Email       *string `json:"email"`
	Description *string `json:"description"`
	Verified    *bool   `json:"verified"`
	UpdatedBy   string  `json:"updated_by"`
}

// CreateOrganizationHandler registers a new organization.
func (h *Handlers) CreateOrganizationHandler(w http.ResponseWriter, r *http.Request) {
	var req createOrganizationRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	actor, _ := actorFor(r, req.CreatedBy)
	org, err := h.service.CreateOrganization(r.Context(), app.CreateOrganizationRequest{
		Name:          req.Name,
		WalletAddress: req.WalletAddress,
		Email:         req.Email,
		Description:   req.Description,
	}, actor)
	if err != nil {
		h.writeServiceError(w, r, "create_organization", err)
		return
	}
	writeJSON(w, http.StatusCreated, org)
}

// ListOrganizationsHandler lists organizations, optionally only verified ones.
func (h *Handlers) ListOrganizationsHandler(w http.ResponseWriter, r *http.Request) {
	filter := store.OrganizationFilter{}
	filter.Limit, filter.Offset = pagination(r)
	if raw := r.URL.Query().Get("verified"); raw != "" {
		verified, err := strconv.ParseBool(raw)
		if err != nil {
			writeError(w, http.StatusBadRequest, "verified must be true or false")
			return
		}
		filter.Verified = &verified
	}

	orgs, err := h.service.ListOrganizations(r.Context(), filter)
	if err != nil {
		h.writeServiceError(w, r, "list_organizations", err)
		return
	}
	if orgs == nil {
		orgs = []domain.Organization{}
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"organizations": orgs,
		"limit":         filter.Limit,
		"offset":        filter.Offset,
	})
}

func (h *Handlers) GetOrganizationHandler(w http.ResponseWriter, r *http.Request) {
	id, ok := pathUUID(w, r, "id")
	if !ok {
		return
	}
	org, err := h.service.GetOrganization(r.Context(), id)
	if err != nil {
		h.writeServiceError(w, r, "get_organization", err)
		return
	}
	writeJSON(w, http.StatusOK, org)
}

func (h *Handlers) GetOrganizationByWalletHandler(w http.ResponseWriter, r *http.Request) {
	org, err := h.service.GetOrganizationByWallet(r.Context(), chi.URLParam(r, "address"))
	if err != nil {
		h.writeServiceError(w, r, "get_organization_by_wallet", err)
		return
	}
	writeJSON(w, http.StatusOK, org)
}

// UpdateOrganizationHandler patches an organization's profile or verification flag.
func (h *Handlers) UpdateOrganizationHandler(w http.ResponseWriter, r *http.Request) {
	id, ok := pathUUID(w, r, "id")
	if !ok {
		return
	}
	var req updateOrganizationRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	actor, _ := actorFor(r, req.UpdatedBy)
	org, err := h.service.UpdateOrganization(r.Context(), id, app.UpdateOrganizationRequest{
		Name:        req.Name,
		Email:       req.Email,
		Description: req.Description,
		Verified:    req.Verified,
	}, actor)
	if err != nil {
		h.writeServiceError(w, r, "update_organization", err)
		return
	}
	writeJSON(w, http.StatusOK, org)
}
