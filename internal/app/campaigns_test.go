package app

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/transfa/disbursement-service/internal/domain"
)

func TestCreateCampaign_AppliesDefaults(t *testing.T) {
	f := newEngineFixture(t)

	c := f.newCampaign(t, "1000", 0)

	assert.Equal(t, domain.CampaignActive, c.Status)
	assert.Equal(t, domain.DefaultApprovalThreshold, c.ApprovalThreshold)
	assert.Equal(t, domain.Amount(0), c.RaisedAmount)
	assert.Equal(t, domain.Amount(0), c.ReservedAmount)
	assert.Equal(t, domain.NativeAssetCode, c.AssetCode)

	logs, err := f.svc.AuditLog(context.Background(), c.ID)
	require.NoError(t, err)
	require.Len(t, logs, 1)
	assert.Equal(t, "created", logs[0].Action)
}

func TestCreateCampaign_RejectsInvalidInput(t *testing.T) {
	f := newEngineFixture(t)
	valid := CreateCampaignRequest{
		OrganizationID: uuid.New(),
		Title:          "School roofs",
		TargetAmount:   domain.MustParseAmount("500"),
		AssetCode:      domain.NativeAssetCode,
		LedgerAccount:  f.campaign.Address(),
	}

	tests := []struct {
		name   string
		mutate func(r *CreateCampaignRequest)
		kind   domain.Kind
	}{
		{name: "blank title", mutate: func(r *CreateCampaignRequest) { r.Title = "  " }, kind: domain.KindInvalidInput},
		{name: "missing organization", mutate: func(r *CreateCampaignRequest) { r.OrganizationID = uuid.Nil }, kind: domain.KindInvalidInput},
		{name: "zero target", mutate: func(r *CreateCampaignRequest) { r.TargetAmount = 0 }, kind: domain.KindInvalidAmount},
		{name: "bad ledger account", mutate: func(r *CreateCampaignRequest) { r.LedgerAccount = "GNOTANACCOUNT" }, kind: domain.KindInvalidInput},
		{name: "issued asset without issuer", mutate: func(r *CreateCampaignRequest) { r.AssetCode = "USDC" }, kind: domain.KindUnsupportedAsset},
		{name: "negative threshold", mutate: func(r *CreateCampaignRequest) { r.ApprovalThreshold = -1 }, kind: domain.KindInvalidInput},
		{name: "starts completed", mutate: func(r *CreateCampaignRequest) { r.Status = domain.CampaignCompleted }, kind: domain.KindInvalidInput},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := valid
			tt.mutate(&req)
			_, err := f.svc.CreateCampaign(context.Background(), req)
			requireKind(t, err, tt.kind)
		})
	}
}

func TestUpdateCampaignStatus(t *testing.T) {
	f := newEngineFixture(t)
	c := f.newCampaign(t, "1000", 2)

	paused, err := f.svc.UpdateCampaignStatus(context.Background(), c.ID, domain.CampaignPaused, "admin")
	require.NoError(t, err)
	assert.Equal(t, domain.CampaignPaused, paused.Status)

	_, err = f.svc.CreateDisbursement(context.Background(), CreateDisbursementRequest{
		CampaignID:       c.ID,
		RecipientAddress: f.recipient.Address(),
		Amount:           domain.MustParseAmount("1"),
		Purpose:          "tools",
		RequestedBy:      "coordinator-1",
	})
	requireKind(t, err, domain.KindInvalidState)

	_, err = f.svc.UpdateCampaignStatus(context.Background(), c.ID, domain.CampaignCompleted, "admin")
	requireKind(t, err, domain.KindInvalidState)
}

func TestVerifyCampaign_FreezesOnDrift(t *testing.T) {
	f := newEngineFixture(t)
	c := f.newCampaign(t, "1000", 2)
	f.donate(t, c.ID, "300")

	require.NoError(t, f.svc.VerifyCampaign(context.Background(), c.ID))

	// Simulate an out-of-band write that the records do not explain.
	_, err := f.repo.UpdateCampaign(context.Background(), c.ID, func(c *domain.Campaign) error {
		c.RaisedAmount += domain.MustParseAmount("5")
		return nil
	})
	require.NoError(t, err)

	err = f.svc.VerifyCampaign(context.Background(), c.ID)
	requireKind(t, err, domain.KindInvariantViolation)

	frozen := f.campaignState(t, c.ID)
	require.True(t, frozen.Frozen())
	assert.Equal(t, domain.MustParseAmount("305"), frozen.RaisedAmount, "a frozen campaign is never corrected silently")

	_, err = f.svc.CreateDisbursement(context.Background(), CreateDisbursementRequest{
		CampaignID:       c.ID,
		RecipientAddress: f.recipient.Address(),
		Amount:           domain.MustParseAmount("10"),
		Purpose:          "tools",
		RequestedBy:      "coordinator-1",
	})
	requireKind(t, err, domain.KindInvariantViolation)
}
