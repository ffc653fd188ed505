package app

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/transfa/disbursement-service/internal/domain"
	"github.com/transfa/disbursement-service/internal/ledger"
)

func TestLedgerAccount(t *testing.T) {
	f := newEngineFixture(t)

	acct, err := f.svc.LedgerAccount(context.Background(), f.campaign.Address())
	require.NoError(t, err)
	assert.Equal(t, f.campaign.Address(), acct.Address)
	assert.NotEmpty(t, acct.Signers)

	_, err = f.svc.LedgerAccount(context.Background(), "not-an-address")
	requireKind(t, err, domain.KindInvalidInput)

	stranger, err := ledger.RandomKeyPair()
	require.NoError(t, err)
	_, err = f.svc.LedgerAccount(context.Background(), stranger.Address())
	requireKind(t, err, domain.KindNotFound)

	assert.True(t, f.svc.ValidateAddress(" "+stranger.Address()+" "))
	assert.False(t, f.svc.ValidateAddress(stranger.Seed()))
}

func TestCampaignStats(t *testing.T) {
	f := newEngineFixture(t)
	c := f.newCampaign(t, "400", 2)
	for i := 0; i < 12; i++ {
		f.donate(t, c.ID, "10")
	}

	stats, err := f.svc.CampaignStats(context.Background(), c.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.MustParseAmount("120"), stats.TotalRaised)
	assert.Equal(t, domain.MustParseAmount("400"), stats.TargetAmount)
	assert.Equal(t, 12, stats.DonationCount)
	assert.Equal(t, "30", stats.PercentageReached.String())
	assert.Equal(t, domain.CampaignActive, stats.Status)
	assert.Len(t, stats.RecentDonations, 10)

	f.donate(t, c.ID, "0.01")
	stats, err = f.svc.CampaignStats(context.Background(), c.ID)
	require.NoError(t, err)
	assert.Equal(t, "30", stats.PercentageReached.String(), "rounded to two places")
}

func TestPercentageOf(t *testing.T) {
	assert.Equal(t, "33.33", domain.PercentageOf(domain.MustParseAmount("1"), domain.MustParseAmount("3")).String())
	assert.Equal(t, "150", domain.PercentageOf(domain.MustParseAmount("15"), domain.MustParseAmount("10")).String())
	assert.True(t, domain.PercentageOf(domain.MustParseAmount("1"), 0).IsZero())
}
