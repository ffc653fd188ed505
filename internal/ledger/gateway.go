/**
 * @description
 * The Ledger Gateway contract: the narrow surface the disbursement engine needs from
 * the distributed-ledger network. Implementations are the HTTP client in
 * pkg/ledgerclient and the in-memory MemoryGateway.
 *
 * @notes
 * - Gateways report failures as *domain.Error values: NotFound for unknown
 *   accounts or transactions, Rejected (with the ledger reason code) for envelopes
 *   the network refused, Retryable/Timeout for transport trouble.
 */

package ledger

import (
	"context"
	"strings"
	"time"

	"github.com/transfa/disbursement-service/internal/domain"
)

// Gateway is the ledger network as seen by the engine.
type Gateway interface {
	LoadAccount(ctx context.Context, address string) (*Account, error)
	Submit(ctx context.Context, envelope string) (*SubmitResult, error)
	GetTransaction(ctx context.Context, txID string) (*TransactionRecord, error)
	IsValidAddress(address string) bool
}

// AccountLoader is the subset of Gateway the envelope builder needs.
type AccountLoader interface {
	LoadAccount(ctx context.Context, address string) (*Account, error)
}

// Signer is a key authorized to sign for an account, with its weight.
type Signer struct {
	Key    string `json:"key"`
	Weight int    `json:"weight"`
}

// Thresholds are the signature weights required per operation class.
type Thresholds struct {
	Low  int `json:"low_threshold"`
	Med  int `json:"med_threshold"`
	High int `json:"high_threshold"`
}

// Balance is an account's holding of one asset.
type Balance struct {
	AssetCode   string        `json:"asset_code"`
	AssetIssuer string        `json:"asset_issuer,omitempty"`
	Amount      domain.Amount `json:"balance"`
}

// Account is the ledger state of an account. Signers includes the master key.
type Account struct {
	Address    string     `json:"id"`
	Sequence   int64      `json:"sequence"`
	Balances   []Balance  `json:"balances"`
	Signers    []Signer   `json:"signers"`
	Thresholds Thresholds `json:"thresholds"`
}

// SignerWeight returns the weight of key on the account, or 0 if it is not a signer.
func (a *Account) SignerWeight(key string) int {
	for _, s := range a.Signers {
		if s.Key == key {
			return s.Weight
		}
	}
	return 0
}

// Balance returns the account's balance of asset and whether it holds the asset at all.
func (a *Account) Balance(asset domain.Asset) (domain.Amount, bool) {
	for _, b := range a.Balances {
		held := domain.Asset{Code: b.AssetCode, Issuer: b.AssetIssuer}
		if held.IsNative() && asset.IsNative() {
			return b.Amount, true
		}
		if strings.EqualFold(held.Code, asset.Code) && held.Issuer == asset.Issuer {
			return b.Amount, true
		}
	}
	return 0, false
}

// PaymentThreshold is the signature weight a payment needs.
func (a *Account) PaymentThreshold() int {
	if a.Thresholds.Med < 1 {
		return 1
	}
	return a.Thresholds.Med
}

// SubmitResult is the ledger's acknowledgement of an accepted envelope.
type SubmitResult struct {
	TxID   string `json:"hash"`
	Ledger int64  `json:"ledger"`
}

// PaymentRecord is one payment operation inside a ledger transaction.
type PaymentRecord struct {
	From        string        `json:"from"`
	To          string        `json:"to"`
	AssetCode   string        `json:"asset_code"`
	AssetIssuer string        `json:"asset_issuer,omitempty"`
	Amount      domain.Amount `json:"amount"`
}

// TransactionRecord is a transaction as stored on the ledger.
type TransactionRecord struct {
	ID            string          `json:"id"`
	Successful    bool            `json:"successful"`
	Ledger        int64           `json:"ledger"`
	SourceAccount string          `json:"source_account"`
	Memo          string          `json:"memo,omitempty"`
	FeeCharged    int64           `json:"fee_charged"`
	CreatedAt     time.Time       `json:"created_at"`
	Payments      []PaymentRecord `json:"payments"`
}

// PaymentTo returns the first payment in the transaction addressed to account.
func (t *TransactionRecord) PaymentTo(account string) (PaymentRecord, bool) {
	for _, p := range t.Payments {
		if p.To == account {
			return p, true
		}
	}
	return PaymentRecord{}, false
}

// ExplorerURL builds the public link to a transaction on the ledger explorer.
func ExplorerURL(baseURL, txID string) string {
	if strings.TrimSpace(txID) == "" {
		return ""
	}
	return strings.TrimRight(strings.TrimSpace(baseURL), "/") + "/transactions/" + txID
}
