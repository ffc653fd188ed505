package ledger

import (
	"context"
	"strings"
	"time"
	"unicode"
	"unicode/utf8"

	"github.com/stellar/go/amount"
	"github.com/stellar/go/txnbuild"
	"github.com/transfa/disbursement-service/internal/domain"
)

const (
	// MaxMemoTextBytes is the longest text memo the ledger accepts.
	MaxMemoTextBytes = txnbuild.MemoTextMaxLength
	// MinBaseFee is the lowest per-operation fee, in 1e-7 units of the native asset.
	MinBaseFee uint32 = txnbuild.MinBaseFee
	// DefaultValidity is how long a built envelope stays submittable.
	DefaultValidity = 300 * time.Second
)

// PaymentRequest describes the single payment an envelope should carry.
type PaymentRequest struct {
	Source      string
	Destination string
	Asset       domain.Asset
	Amount      domain.Amount
	Memo        string
}

// BuiltEnvelope is an unsigned envelope together with the account state it was built from.
type BuiltEnvelope struct {
	Envelope  *Envelope
	Account   *Account
	TxID      string
	ExpiresAt time.Time
}

// Builder constructs single-payment envelopes against an account's current sequence number.
type Builder struct {
	accounts   AccountLoader
	passphrase string
	baseFee    uint32
	validity   time.Duration
	now        func() time.Time
}

// NewBuilder creates a Builder. Zero values fall back to MinBaseFee and DefaultValidity.
func NewBuilder(accounts AccountLoader, passphrase string, baseFee uint32, validity time.Duration) *Builder {
	if strings.TrimSpace(passphrase) == "" {
		passphrase = DefaultNetworkPassphrase
	}
	if baseFee < MinBaseFee {
		baseFee = MinBaseFee
	}
	if validity <= 0 {
		validity = DefaultValidity
	}
	return &Builder{
		accounts:   accounts,
		passphrase: passphrase,
		baseFee:    baseFee,
		validity:   validity,
		now:        time.Now,
	}
}

// SetClock replaces the time source used for time bounds.
func (b *Builder) SetClock(now func() time.Time) {
	if now != nil {
		b.now = now
	}
}

// Passphrase returns the network passphrase envelopes are bound to.
func (b *Builder) Passphrase() string { return b.passphrase }

// BuildPayment loads the source account and returns an unsigned payment envelope.
func (b *Builder) BuildPayment(ctx context.Context, req PaymentRequest) (*BuiltEnvelope, error) {
	if !IsValidAddress(req.Destination) {
		return nil, domain.Errorf(domain.KindInvalidInput, "recipient %q is not a valid ledger address", req.Destination)
	}
	if !req.Amount.IsPositive() {
		return nil, domain.Errorf(domain.KindInvalidAmount, "payment amount must be positive, got %s", req.Amount)
	}
	if err := ValidateAsset(req.Asset); err != nil {
		return nil, err
	}

	account, err := b.accounts.LoadAccount(ctx, req.Source)
	if err != nil {
		return nil, domain.Wrap(domain.KindAccountLoadError, err, "failed to load source account %s", req.Source).
			With("account", req.Source)
	}
	if _, ok := account.Balance(req.Asset); !ok {
		return nil, domain.Errorf(domain.KindUnsupportedAsset, "source account %s does not hold %s", req.Source, req.Asset).
			With("asset", req.Asset.String())
	}

	expiresAt := b.now().Add(b.validity).UTC().Truncate(time.Second)
	var memo txnbuild.Memo
	if text := TruncateMemo(req.Memo); text != "" {
		memo = txnbuild.MemoText(text)
	}
	env, err := txnbuild.NewTransaction(txnbuild.TransactionParams{
		SourceAccount:        &txnbuild.SimpleAccount{AccountID: account.Address, Sequence: account.Sequence},
		IncrementSequenceNum: true,
		BaseFee:              int64(b.baseFee),
		Memo:                 memo,
		Preconditions:        txnbuild.Preconditions{TimeBounds: txnbuild.NewTimebounds(0, expiresAt.Unix())},
		Operations: []txnbuild.Operation{&txnbuild.Payment{
			Destination: req.Destination,
			Amount:      amount.StringFromInt64(int64(req.Amount)),
			Asset:       txnAsset(req.Asset),
		}},
	})
	if err != nil {
		return nil, domain.Wrap(domain.KindInvalidInput, err, "failed to build payment transaction")
	}

	txID, err := env.HashHex(b.passphrase)
	if err != nil {
		return nil, domain.Wrap(domain.KindInternal, err, "failed to hash transaction")
	}
	return &BuiltEnvelope{Envelope: env, Account: account, TxID: txID, ExpiresAt: expiresAt}, nil
}

// ValidateAsset accepts the native asset or a 1-12 character alphanumeric code with a
// valid issuer address.
func ValidateAsset(asset domain.Asset) error {
	code := strings.TrimSpace(asset.Code)
	if asset.IsNative() {
		return nil
	}
	if code == "" || len(code) > 12 {
		return domain.Errorf(domain.KindUnsupportedAsset, "asset code %q must be 1-12 characters", asset.Code)
	}
	for _, r := range code {
		if r > unicode.MaxASCII || !(unicode.IsLetter(r) || unicode.IsDigit(r)) {
			return domain.Errorf(domain.KindUnsupportedAsset, "asset code %q must be alphanumeric", asset.Code)
		}
	}
	if strings.EqualFold(code, domain.NativeAssetCode) {
		return domain.Errorf(domain.KindUnsupportedAsset, "native asset must not carry an issuer")
	}
	if !IsValidAddress(asset.Issuer) {
		return domain.Errorf(domain.KindUnsupportedAsset, "asset %s requires a valid issuer address", code)
	}
	return nil
}

func txnAsset(asset domain.Asset) txnbuild.Asset {
	if asset.IsNative() {
		return txnbuild.NativeAsset{}
	}
	return txnbuild.CreditAsset{Code: strings.TrimSpace(asset.Code), Issuer: asset.Issuer}
}

// domainAsset maps a network asset back to the engine's representation.
func domainAsset(asset txnbuild.Asset) domain.Asset {
	if asset == nil || asset.IsNative() {
		return domain.Asset{Code: domain.NativeAssetCode}
	}
	return domain.Asset{Code: asset.GetCode(), Issuer: asset.GetIssuer()}
}

// TruncateMemo trims text to MaxMemoTextBytes without splitting a UTF-8 sequence.
func TruncateMemo(text string) string {
	text = strings.TrimSpace(text)
	if len(text) <= MaxMemoTextBytes {
		return text
	}
	cut := MaxMemoTextBytes
	for cut > 0 && !utf8.RuneStart(text[cut]) {
		cut--
	}
	return text[:cut]
}
