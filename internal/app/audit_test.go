package app

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/transfa/disbursement-service/internal/domain"
)

func TestAuditCampaign_MatchesRecordedBalance(t *testing.T) {
	f := newEngineFixture(t)
	c := f.newCampaign(t, "1000", 2)
	f.donate(t, c.ID, "100")
	f.donate(t, c.ID, "120")
	f.donate(t, c.ID, "80")
	for _, amount := range []string{"70", "50"} {
		d := f.approved(t, c.ID, amount)
		_, err := f.svc.ExecuteDisbursement(context.Background(), d.ID, f.credentials(), "treasurer")
		require.NoError(t, err)
	}
	f.request(t, c.ID, "15")

	audit, err := f.svc.AuditCampaign(context.Background(), c.ID)
	require.NoError(t, err)

	assert.Equal(t, "300.0000000", audit.Summary.TotalReceived.String())
	assert.Equal(t, "120.0000000", audit.Summary.TotalDisbursed.String())
	assert.Equal(t, "180.0000000", audit.Summary.CurrentBalance.String())
	assert.Equal(t, domain.MustParseAmount("180"), audit.Summary.RecordedBalance)
	assert.True(t, audit.Summary.BalanceConsistent)
	assert.Equal(t, 3, audit.Summary.DonationCount)
	assert.Equal(t, 2, audit.Summary.DisbursementCount, "open requests are not outflows")

	require.Len(t, audit.Inflows, 3)
	require.Len(t, audit.Outflows, 2)
	for _, flow := range audit.Outflows {
		assert.Equal(t, domain.FlowOutflow, flow.Direction)
		assert.NotEmpty(t, flow.LedgerURL)
	}

	assert.Equal(t, 100, audit.Transparency.Score)
	assert.Equal(t, domain.RatingExcellent, audit.Transparency.Rating)
	assert.Equal(t, "Excellent", audit.Transparency.Rating)
	assert.True(t, audit.Transparency.Metrics.AllDisbursementsTraceable)
	f.requireBalanced(t, c.ID)
}

func TestTransparency_ScoreBands(t *testing.T) {
	tests := []struct {
		donations, disbursements bool
		score                    int
		rating                   string
	}{
		{true, true, 100, domain.RatingExcellent},
		{true, false, 50, domain.RatingNeedsImprovement},
		{false, true, 50, domain.RatingNeedsImprovement},
		{false, false, 0, domain.RatingNeedsImprovement},
	}
	for _, tt := range tests {
		score := domain.TransparencyScore(tt.donations, tt.disbursements)
		assert.Equal(t, tt.score, score)
		assert.Equal(t, tt.rating, domain.TransparencyRating(score))
	}

	f := newEngineFixture(t)
	c := f.newCampaign(t, "1000", 2)
	report, err := f.svc.Transparency(context.Background(), c.ID)
	require.NoError(t, err)
	assert.Equal(t, 100, report.Score, "an empty campaign has nothing untraceable")
}

func TestTrackDonation_HidesAnonymousDonors(t *testing.T) {
	f := newEngineFixture(t)
	c := f.newCampaign(t, "1000", 2)
	txID := f.pay(t, "75")
	donation, _, err := f.svc.RecordDonation(context.Background(), RecordDonationRequest{
		CampaignID:  c.ID,
		LedgerTxID:  txID,
		DonorID:     "donor-42",
		DonorName:   "Wanjiru",
		IsAnonymous: true,
	})
	require.NoError(t, err)
	d := f.approved(t, c.ID, "25")
	_, err = f.svc.ExecuteDisbursement(context.Background(), d.ID, f.credentials(), "treasurer")
	require.NoError(t, err)

	trail, err := f.svc.TrackDonation(context.Background(), donation.ID)
	require.NoError(t, err)
	assert.Equal(t, "Anonymous", trail.Donation.DonorName)
	assert.Nil(t, trail.Donation.DonorID)
	assert.Empty(t, trail.Donation.SourceAccount)
	assert.Equal(t, c.Title, trail.CampaignTitle)
	assert.Equal(t, domain.MustParseAmount("50"), trail.TotalRaised)
	assert.Equal(t, domain.MustParseAmount("25"), trail.TotalSpent)
	require.Len(t, trail.Disbursements, 1)

	audit, err := f.svc.AuditCampaign(context.Background(), c.ID)
	require.NoError(t, err)
	assert.Equal(t, "Anonymous", audit.Inflows[0].Counterparty)
}
