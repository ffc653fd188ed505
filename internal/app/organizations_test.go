package app

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/transfa/disbursement-service/internal/domain"
	"github.com/transfa/disbursement-service/internal/ledger"
	"github.com/transfa/disbursement-service/internal/store"
)

func TestCreateOrganization(t *testing.T) {
	f := newEngineFixture(t)
	wallet, err := ledger.RandomKeyPair()
	require.NoError(t, err)

	o, err := f.svc.CreateOrganization(context.Background(), CreateOrganizationRequest{
		Name:          "  Kibera Water Trust ",
		WalletAddress: wallet.Address(),
		Email:         "ops@kiberawater.org",
	}, "admin")
	require.NoError(t, err)
	assert.Equal(t, "Kibera Water Trust", o.Name)
	assert.False(t, o.Verified)
	require.NotNil(t, o.Email)
	assert.Nil(t, o.Description)

	byWallet, err := f.svc.GetOrganizationByWallet(context.Background(), wallet.Address())
	require.NoError(t, err)
	assert.Equal(t, o.ID, byWallet.ID)

	_, err = f.svc.CreateOrganization(context.Background(), CreateOrganizationRequest{Name: "Copy", WalletAddress: wallet.Address()}, "admin")
	requireKind(t, err, domain.KindConflict)

	entries, err := f.svc.AuditLog(context.Background(), o.ID)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "organization", entries[0].EntityType)
	assert.Equal(t, "created", entries[0].Action)
}

func TestCreateOrganization_Validation(t *testing.T) {
	f := newEngineFixture(t)
	wallet, err := ledger.RandomKeyPair()
	require.NoError(t, err)

	tests := []struct {
		name string
		req  CreateOrganizationRequest
	}{
		{name: "missing name", req: CreateOrganizationRequest{WalletAddress: wallet.Address()}},
		{name: "bad wallet", req: CreateOrganizationRequest{Name: "x", WalletAddress: "GNOTANADDRESS"}},
		{name: "secret as wallet", req: CreateOrganizationRequest{Name: "x", WalletAddress: wallet.Seed()}},
		{name: "bad email", req: CreateOrganizationRequest{Name: "x", WalletAddress: wallet.Address(), Email: "not-an-email"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := f.svc.CreateOrganization(context.Background(), tt.req, "admin")
			requireKind(t, err, domain.KindInvalidInput)
		})
	}
}

func TestUpdateOrganization(t *testing.T) {
	f := newEngineFixture(t)
	wallet, err := ledger.RandomKeyPair()
	require.NoError(t, err)
	o, err := f.svc.CreateOrganization(context.Background(), CreateOrganizationRequest{Name: "Food Bank", WalletAddress: wallet.Address()}, "admin")
	require.NoError(t, err)

	verified := true
	description := "Feeds 400 families a week"
	updated, err := f.svc.UpdateOrganization(context.Background(), o.ID, UpdateOrganizationRequest{Verified: &verified, Description: &description}, "admin")
	require.NoError(t, err)
	assert.True(t, updated.Verified)
	require.NotNil(t, updated.Description)
	assert.Equal(t, description, *updated.Description)
	assert.Equal(t, "Food Bank", updated.Name)

	empty := "  "
	_, err = f.svc.UpdateOrganization(context.Background(), o.ID, UpdateOrganizationRequest{Name: &empty}, "admin")
	requireKind(t, err, domain.KindInvalidInput)

	_, err = f.svc.UpdateOrganization(context.Background(), uuid.New(), UpdateOrganizationRequest{Verified: &verified}, "admin")
	requireKind(t, err, domain.KindNotFound)

	onlyVerified, err := f.svc.ListOrganizations(context.Background(), store.OrganizationFilter{Verified: &verified})
	require.NoError(t, err)
	require.Len(t, onlyVerified, 1)
	assert.Equal(t, o.ID, onlyVerified[0].ID)

	entries, err := f.svc.AuditLog(context.Background(), o.ID)
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, "updated", entries[1].Action)
	assert.Equal(t, "true", entries[1].Details["verified"])
}
