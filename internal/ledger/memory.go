/**
 * @description
 * MemoryGateway is an in-process ledger used as the sandbox network when no gateway URL
 * is configured, and by tests. It enforces the same acceptance rules the engine
 * relies on from the real network: sequence numbers, time bounds, fees, signature
 * weight against the medium threshold, balances and destination existence.
 */

package ledger

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/stellar/go/amount"
	"github.com/stellar/go/txnbuild"
	"github.com/transfa/disbursement-service/internal/domain"
)

type memoryAccount struct {
	address    string
	sequence   int64
	balances   map[string]domain.Amount
	assets     map[string]domain.Asset
	signers    map[string]int
	thresholds Thresholds
}

// MemoryGateway implements Gateway in memory.
type MemoryGateway struct {
	mu           sync.Mutex
	passphrase   string
	accounts     map[string]*memoryAccount
	transactions map[string]*TransactionRecord
	ledger       int64
	now          func() time.Time
	failNext     []error
	dropNextAck  bool
	submissions  int
}

// NewMemoryGateway creates an empty ledger bound to passphrase.
func NewMemoryGateway(passphrase string) *MemoryGateway {
	if strings.TrimSpace(passphrase) == "" {
		passphrase = DefaultNetworkPassphrase
	}
	return &MemoryGateway{
		passphrase:   passphrase,
		accounts:     make(map[string]*memoryAccount),
		transactions: make(map[string]*TransactionRecord),
		ledger:       1,
		now:          time.Now,
	}
}

// SetClock overrides the ledger's notion of time.
func (g *MemoryGateway) SetClock(now func() time.Time) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.now = now
}

func assetKey(asset domain.Asset) string {
	if asset.IsNative() {
		return domain.NativeAssetCode
	}
	return strings.ToUpper(asset.Code) + ":" + asset.Issuer
}

// CreateAccount opens an account whose master key signs with weight 1 and all
// thresholds at 0. Creating an existing account is a no-op.
func (g *MemoryGateway) CreateAccount(address string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if _, ok := g.accounts[address]; ok {
		return
	}
	g.accounts[address] = &memoryAccount{
		address:  address,
		sequence: g.ledger << 32,
		balances: map[string]domain.Amount{domain.NativeAssetCode: 0},
		assets:   map[string]domain.Asset{domain.NativeAssetCode: {Code: domain.NativeAssetCode}},
		signers:  map[string]int{address: 1},
	}
}

// Fund credits amount of asset to address, opening the account and trustline as needed.
func (g *MemoryGateway) Fund(address string, asset domain.Asset, amount domain.Amount) {
	g.CreateAccount(address)
	g.mu.Lock()
	defer g.mu.Unlock()
	acct := g.accounts[address]
	key := assetKey(asset)
	acct.balances[key] += amount
	acct.assets[key] = asset
}

// SetSigner adds, reweights or (with weight 0) removes a signer on an account.
func (g *MemoryGateway) SetSigner(address, signer string, weight int) {
	g.CreateAccount(address)
	g.mu.Lock()
	defer g.mu.Unlock()
	if weight <= 0 {
		delete(g.accounts[address].signers, signer)
		return
	}
	g.accounts[address].signers[signer] = weight
}

// SetThresholds sets an account's low/medium/high thresholds.
func (g *MemoryGateway) SetThresholds(address string, t Thresholds) {
	g.CreateAccount(address)
	g.mu.Lock()
	defer g.mu.Unlock()
	g.accounts[address].thresholds = t
}

// BalanceOf returns address's balance of asset.
func (g *MemoryGateway) BalanceOf(address string, asset domain.Asset) domain.Amount {
	g.mu.Lock()
	defer g.mu.Unlock()
	acct, ok := g.accounts[address]
	if !ok {
		return 0
	}
	return acct.balances[assetKey(asset)]
}

// FailNextSubmit makes the next Submit return err without touching the ledger.
func (g *MemoryGateway) FailNextSubmit(err error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.failNext = append(g.failNext, err)
}

// DropNextAck applies the next accepted envelope but reports a timeout to the caller,
// as when the response is lost on the way back.
func (g *MemoryGateway) DropNextAck() {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.dropNextAck = true
}

// Submissions counts Submit calls that reached the ledger.
func (g *MemoryGateway) Submissions() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.submissions
}

func (g *MemoryGateway) IsValidAddress(address string) bool {
	return IsValidAddress(address)
}

func (g *MemoryGateway) LoadAccount(ctx context.Context, address string) (*Account, error) {
	if err := ctx.Err(); err != nil {
		return nil, domain.Wrap(domain.KindTimeout, err, "load account aborted")
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	acct, ok := g.accounts[address]
	if !ok {
		return nil, domain.Errorf(domain.KindNotFound, "account %s not found", address)
	}
	return acct.snapshot(), nil
}

func (a *memoryAccount) snapshot() *Account {
	out := &Account{
		Address:    a.address,
		Sequence:   a.sequence,
		Thresholds: a.thresholds,
	}
	for key, amount := range a.balances {
		asset := a.assets[key]
		out.Balances = append(out.Balances, Balance{AssetCode: asset.Code, AssetIssuer: asset.Issuer, Amount: amount})
	}
	for key, weight := range a.signers {
		out.Signers = append(out.Signers, Signer{Key: key, Weight: weight})
	}
	return out
}

func (g *MemoryGateway) GetTransaction(ctx context.Context, txID string) (*TransactionRecord, error) {
	if err := ctx.Err(); err != nil {
		return nil, domain.Wrap(domain.KindTimeout, err, "transaction lookup aborted")
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	rec, ok := g.transactions[strings.ToLower(txID)]
	if !ok {
		return nil, domain.Errorf(domain.KindNotFound, "transaction %s not found", txID)
	}
	copied := *rec
	copied.Payments = append([]PaymentRecord(nil), rec.Payments...)
	return &copied, nil
}

func (g *MemoryGateway) Submit(ctx context.Context, envelope string) (*SubmitResult, error) {
	if err := ctx.Err(); err != nil {
		return nil, domain.Wrap(domain.KindTimeout, err, "submission aborted")
	}
	env, err := DecodeEnvelope(envelope)
	if err != nil {
		return nil, domain.Rejection("tx_malformed", "envelope could not be decoded")
	}

	g.mu.Lock()
	defer g.mu.Unlock()
	g.submissions++

	if len(g.failNext) > 0 {
		injected := g.failNext[0]
		g.failNext = g.failNext[1:]
		return nil, injected
	}

	result, err := g.apply(env)
	if err != nil {
		return nil, err
	}
	if g.dropNextAck {
		g.dropNextAck = false
		return nil, domain.Wrap(domain.KindTimeout, context.DeadlineExceeded, "ledger did not acknowledge submission")
	}
	return result, nil
}

func (g *MemoryGateway) apply(env *Envelope) (*SubmitResult, error) {
	ops := env.Operations()
	if len(ops) == 0 {
		return nil, domain.Rejection("tx_missing_operation", "transaction has no operations")
	}
	sourceAddress := env.SourceAccount().AccountID
	source, ok := g.accounts[sourceAddress]
	if !ok {
		return nil, domain.Rejection("tx_no_source_account", "source account %s does not exist", sourceAddress)
	}
	seq := env.SequenceNumber()
	if seq != source.sequence+1 {
		return nil, domain.Rejection("tx_bad_seq", "expected sequence %d, got %d", source.sequence+1, seq)
	}
	bounds := env.Timebounds()
	nowUnix := g.now().Unix()
	if bounds.MinTime > 0 && nowUnix < bounds.MinTime {
		return nil, domain.Rejection("tx_too_early", "transaction is not valid before %d", bounds.MinTime)
	}
	if bounds.MaxTime != txnbuild.TimeoutInfinite && nowUnix > bounds.MaxTime {
		return nil, domain.Rejection("tx_too_late", "transaction expired at %d", bounds.MaxTime)
	}
	if env.MaxFee() < int64(MinBaseFee)*int64(len(ops)) {
		return nil, domain.Rejection("tx_insufficient_fee", "fee %d below minimum", env.MaxFee())
	}

	weight, err := SignatureWeight(env, g.passphrase, source.snapshot())
	if err != nil {
		return nil, domain.Rejection("tx_malformed", "transaction hash could not be computed")
	}
	if threshold := source.snapshot().PaymentThreshold(); weight < threshold {
		return nil, domain.Rejection("tx_bad_auth", "signature weight %d below threshold %d", weight, threshold)
	}

	hash, err := env.HashHex(g.passphrase)
	if err != nil {
		return nil, domain.Rejection("tx_malformed", "transaction hash could not be computed")
	}

	// The sequence number is consumed even when an operation fails.
	source.sequence = seq

	payments := make([]PaymentRecord, 0, len(ops))
	for _, op := range ops {
		payment, ok := op.(*txnbuild.Payment)
		if !ok {
			return nil, domain.Rejection("op_not_supported", "only payment operations are supported")
		}
		raw, err := amount.ParseInt64(payment.Amount)
		if err != nil || raw <= 0 {
			return nil, domain.Rejection("op_malformed", "payment amount %q is invalid", payment.Amount)
		}
		paid := domain.Amount(raw)
		asset := domainAsset(payment.Asset)
		key := assetKey(asset)
		dest, ok := g.accounts[payment.Destination]
		if !ok {
			return nil, domain.Rejection("op_no_destination", "destination %s does not exist", payment.Destination)
		}
		if _, trusted := dest.assets[key]; !trusted {
			return nil, domain.Rejection("op_no_trust", "destination %s does not hold %s", payment.Destination, asset)
		}
		if source.balances[key] < paid {
			return nil, domain.Rejection("op_underfunded", "source holds %s of %s, needs %s", source.balances[key], asset, paid)
		}
		payments = append(payments, PaymentRecord{
			From:        sourceAddress,
			To:          payment.Destination,
			AssetCode:   asset.Code,
			AssetIssuer: asset.Issuer,
			Amount:      paid,
		})
	}
	for _, p := range payments {
		key := assetKey(domain.Asset{Code: p.AssetCode, Issuer: p.AssetIssuer})
		source.balances[key] -= p.Amount
		g.accounts[p.To].balances[key] += p.Amount
	}

	var memo string
	if text, ok := env.Memo().(txnbuild.MemoText); ok {
		memo = string(text)
	}
	g.ledger++
	g.transactions[hash] = &TransactionRecord{
		ID:            hash,
		Successful:    true,
		Ledger:        g.ledger,
		SourceAccount: sourceAddress,
		Memo:          memo,
		FeeCharged:    env.BaseFee() * int64(len(ops)),
		CreatedAt:     g.now().UTC(),
		Payments:      payments,
	}
	return &SubmitResult{TxID: hash, Ledger: g.ledger}, nil
}

// Pay builds, signs and submits a payment from kp's account. It is a convenience for
// seeding the sandbox and tests with donations.
func (g *MemoryGateway) Pay(ctx context.Context, kp *KeyPair, destination string, asset domain.Asset, amount domain.Amount, memo string) (*SubmitResult, error) {
	builder := NewBuilder(g, g.passphrase, MinBaseFee, DefaultValidity)
	builder.now = g.clock()
	built, err := builder.BuildPayment(ctx, PaymentRequest{
		Source:      kp.Address(),
		Destination: destination,
		Asset:       asset,
		Amount:      amount,
		Memo:        memo,
	})
	if err != nil {
		return nil, err
	}
	signed, err := NewAggregator(g.passphrase).ApplyAll(ctx, built, []*KeyPair{kp})
	if err != nil {
		return nil, err
	}
	encoded, err := EncodeEnvelope(signed)
	if err != nil {
		return nil, err
	}
	return g.Submit(ctx, encoded)
}

func (g *MemoryGateway) clock() func() time.Time {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.now
}

// IsNotFound reports whether err is a gateway not-found error.
func IsNotFound(err error) bool {
	return errors.Is(err, domain.ErrNotFound)
}
