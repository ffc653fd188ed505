package ledger

import (
	"context"
	"encoding/hex"
	"errors"
	"strings"
	"testing"

	"github.com/stellar/go/network"
	"github.com/stellar/go/txnbuild"
	"github.com/stellar/go/xdr"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/transfa/disbursement-service/internal/domain"
)

func TestBuildPaymentUsesNextSequenceAndValidityWindow(t *testing.T) {
	f := newMultisigFixture(t)
	acct, err := f.gateway.LoadAccount(context.Background(), f.campaign.Address())
	require.NoError(t, err)

	built := f.build(t, f.builder)
	tx := built.Envelope

	assert.Equal(t, acct.Sequence+1, tx.SequenceNumber())
	assert.Equal(t, fixedNow.Add(DefaultValidity).Unix(), tx.Timebounds().MaxTime)
	assert.Equal(t, txnbuild.MemoText("school supplies"), tx.Memo())
	assert.Equal(t, int64(MinBaseFee), tx.MaxFee())
	require.Len(t, tx.Operations(), 1)
	payment, ok := tx.Operations()[0].(*txnbuild.Payment)
	require.True(t, ok)
	assert.Equal(t, "25.0000000", payment.Amount)
	assert.Equal(t, f.recipient.Address(), payment.Destination)
	assert.True(t, payment.Asset.IsNative())
	assert.Len(t, built.TxID, TxIDLength)
	assert.True(t, IsValidTxID(built.TxID))
}

func TestBuildPaymentAccountLoadError(t *testing.T) {
	f := newMultisigFixture(t)
	missing := newKey(t)

	_, err := f.builder.BuildPayment(context.Background(), PaymentRequest{
		Source:      missing.Address(),
		Destination: f.recipient.Address(),
		Asset:       domain.Asset{Code: domain.NativeAssetCode},
		Amount:      domain.MustParseAmount("1"),
	})
	assert.True(t, errors.Is(err, domain.ErrAccountLoad), "got %v", err)
}

func TestBuildPaymentUnsupportedAsset(t *testing.T) {
	f := newMultisigFixture(t)
	issuer := newKey(t)

	cases := []domain.Asset{
		{Code: "TOOLONGASSETCODE", Issuer: issuer.Address()},
		{Code: "US$", Issuer: issuer.Address()},
		{Code: "USDC", Issuer: "not-an-address"},
		{Code: "USDC", Issuer: issuer.Address()}, // not held by the source account
	}
	for _, asset := range cases {
		_, err := f.builder.BuildPayment(context.Background(), PaymentRequest{
			Source:      f.campaign.Address(),
			Destination: f.recipient.Address(),
			Asset:       asset,
			Amount:      domain.MustParseAmount("1"),
		})
		assert.True(t, errors.Is(err, domain.ErrUnsupportedAsset), "asset %v: got %v", asset, err)
	}
}

func TestEnvelopeRoundTrip(t *testing.T) {
	f := newMultisigFixture(t)
	built := f.build(t, f.builder)
	signed, err := NewAggregator(DefaultNetworkPassphrase).Apply(built.Envelope, f.signerA)
	require.NoError(t, err)

	encoded, err := EncodeEnvelope(signed)
	require.NoError(t, err)
	decoded, err := DecodeEnvelope(encoded)
	require.NoError(t, err)

	hash, err := decoded.HashHex(DefaultNetworkPassphrase)
	require.NoError(t, err)
	assert.Equal(t, built.TxID, hash)
	assert.Len(t, decoded.Signatures(), 1)

	otherNetwork, err := decoded.HashHex(network.PublicNetworkPassphrase)
	require.NoError(t, err)
	assert.NotEqual(t, hash, otherNetwork)
}

// Envelopes must be plain network XDR so wallets, explorers and the network
// itself can read them without this package.
func TestEncodedEnvelopeIsNetworkXDR(t *testing.T) {
	f := newMultisigFixture(t)
	signed := signBoth(t, f, f.build(t, f.builder))
	encoded, err := EncodeEnvelope(signed)
	require.NoError(t, err)

	var env xdr.TransactionEnvelope
	require.NoError(t, xdr.SafeUnmarshalBase64(encoded, &env))
	require.Equal(t, xdr.EnvelopeTypeEnvelopeTypeTx, env.Type)

	hash, err := network.HashTransactionInEnvelope(env, DefaultNetworkPassphrase)
	require.NoError(t, err)
	txID, err := signed.HashHex(DefaultNetworkPassphrase)
	require.NoError(t, err)
	assert.Equal(t, txID, hex.EncodeToString(hash[:]))

	source := env.SourceAccount()
	assert.Equal(t, f.campaign.Address(), source.Address())
	assert.Len(t, env.Signatures(), 2)
	ops := env.Operations()
	require.Len(t, ops, 1)
	payment, ok := ops[0].Body.GetPaymentOp()
	require.True(t, ok)
	assert.Equal(t, xdr.Int64(domain.MustParseAmount("25")), payment.Amount)
	assert.Equal(t, f.recipient.Address(), payment.Destination.Address())
}

func TestDecodeEnvelopeRejectsGarbage(t *testing.T) {
	for _, text := range []string{"", "not base64!", "AAAA"} {
		_, err := DecodeEnvelope(text)
		assert.True(t, errors.Is(err, domain.ErrInvalidInput), "%q: got %v", text, err)
	}
}

func TestTruncateMemoRespectsRuneBoundaries(t *testing.T) {
	assert.Equal(t, "short", TruncateMemo("  short "))
	long := strings.Repeat("a", 27) + "é"
	got := TruncateMemo(long)
	assert.LessOrEqual(t, len(got), MaxMemoTextBytes)
	assert.Equal(t, strings.Repeat("a", 27), got)
}
