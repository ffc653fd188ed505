package ledger

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/transfa/disbursement-service/internal/domain"
)

func rejectionCode(t *testing.T, err error) string {
	t.Helper()
	require.Error(t, err)
	de, ok := domain.AsError(err)
	require.True(t, ok, "expected *domain.Error, got %T", err)
	require.Equal(t, domain.KindRejected, de.Kind)
	return de.Code
}

func signBoth(t *testing.T, f *multisigFixture, built *BuiltEnvelope) *Envelope {
	t.Helper()
	env, err := NewAggregator(DefaultNetworkPassphrase).ApplyAll(context.Background(), built, []*KeyPair{f.signerA, f.signerB})
	require.NoError(t, err)
	return env
}

func TestMemoryGatewayRejectsReplay(t *testing.T) {
	f := newMultisigFixture(t)
	env := signBoth(t, f, f.build(t, f.builder))

	res, err := submit(t, f.gateway, env)
	require.NoError(t, err)

	rec, err := f.gateway.GetTransaction(context.Background(), res.TxID)
	require.NoError(t, err)
	assert.True(t, rec.Successful)
	payment, ok := rec.PaymentTo(f.recipient.Address())
	require.True(t, ok)
	assert.Equal(t, domain.MustParseAmount("25"), payment.Amount)

	_, err = submit(t, f.gateway, env)
	assert.Equal(t, "tx_bad_seq", rejectionCode(t, err))
}

func TestMemoryGatewayRejectsExpiredEnvelope(t *testing.T) {
	f := newMultisigFixture(t)
	env := signBoth(t, f, f.build(t, f.builder))

	f.gateway.SetClock(func() time.Time { return fixedNow.Add(DefaultValidity + time.Second) })
	_, err := submit(t, f.gateway, env)
	assert.Equal(t, "tx_too_late", rejectionCode(t, err))
}

func TestMemoryGatewayRejectsUnderfundedPayment(t *testing.T) {
	f := newMultisigFixture(t)
	built, err := f.builder.BuildPayment(context.Background(), PaymentRequest{
		Source:      f.campaign.Address(),
		Destination: f.recipient.Address(),
		Asset:       domain.Asset{Code: domain.NativeAssetCode},
		Amount:      domain.MustParseAmount("900"),
	})
	require.NoError(t, err)

	_, err = submit(t, f.gateway, signBoth(t, f, built))
	assert.Equal(t, "op_underfunded", rejectionCode(t, err))
	assert.Equal(t, domain.MustParseAmount("500"), f.gateway.BalanceOf(f.campaign.Address(), domain.Asset{Code: domain.NativeAssetCode}))
}

func TestMemoryGatewayDroppedAckStillApplies(t *testing.T) {
	f := newMultisigFixture(t)
	built := f.build(t, f.builder)
	f.gateway.DropNextAck()

	_, err := submit(t, f.gateway, signBoth(t, f, built))
	require.Error(t, err)
	assert.True(t, domain.IsRetryable(err))

	rec, err := f.gateway.GetTransaction(context.Background(), built.TxID)
	require.NoError(t, err)
	assert.True(t, rec.Successful)
}

func TestMemoryGatewayPayDonation(t *testing.T) {
	donor := newKey(t)
	campaign := newKey(t)
	g := NewMemoryGateway("")
	usdcIssuer := newKey(t)
	usdc := domain.Asset{Code: "USDC", Issuer: usdcIssuer.Address()}
	g.Fund(donor.Address(), usdc, domain.MustParseAmount("100"))
	g.Fund(campaign.Address(), usdc, 0)

	res, err := g.Pay(context.Background(), donor, campaign.Address(), usdc, domain.MustParseAmount("40"), "donation")
	require.NoError(t, err)
	assert.True(t, IsValidTxID(res.TxID))
	assert.Equal(t, domain.MustParseAmount("40"), g.BalanceOf(campaign.Address(), usdc))
	assert.Equal(t, domain.MustParseAmount("60"), g.BalanceOf(donor.Address(), usdc))
}
