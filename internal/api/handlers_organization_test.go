package api

import (
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/transfa/disbursement-service/internal/domain"
)

func TestRoutes_OrganizationLifecycle(t *testing.T) {
	f := newAPIFixture(t, RouterOptions{})
	wallet := mustKey(t).Address()

	rec := f.do(t, http.MethodPost, "/organizations", map[string]string{
		"name":           "Kibera Water Trust",
		"wallet_address": wallet,
		"email":          "ops@kiberawater.org",
		"created_by":     "admin",
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	org := decode[domain.Organization](t, rec)
	assert.False(t, org.Verified)

	rec = f.do(t, http.MethodPost, "/organizations", map[string]string{"name": "Copycat", "wallet_address": wallet})
	assert.Equal(t, http.StatusConflict, rec.Code, rec.Body.String())

	rec = f.do(t, http.MethodPost, "/organizations", map[string]string{"name": "Nowhere", "wallet_address": "GBAD"})
	assert.Equal(t, http.StatusBadRequest, rec.Code, rec.Body.String())

	rec = f.do(t, http.MethodPatch, "/organizations/"+org.ID.String(), map[string]interface{}{
		"verified":   true,
		"updated_by": "admin",
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.True(t, decode[domain.Organization](t, rec).Verified)

	rec = f.do(t, http.MethodGet, "/organizations/wallet/"+wallet, nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, org.ID, decode[domain.Organization](t, rec).ID)

	rec = f.do(t, http.MethodGet, "/organizations/"+org.ID.String(), nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "Kibera Water Trust", decode[domain.Organization](t, rec).Name)

	rec = f.do(t, http.MethodGet, "/organizations/wallet/"+mustKey(t).Address(), nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = f.do(t, http.MethodGet, "/organizations?verified=true", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	listed := decode[struct {
		Organizations []domain.Organization `json:"organizations"`
	}](t, rec)
	require.Len(t, listed.Organizations, 1)

	rec = f.do(t, http.MethodGet, "/organizations?verified=maybe", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}
