/**
 * @description
 * This package provides the HTTP Ledger Gateway: a Horizon client for accounts,
 * transaction submission and transaction lookup. It wraps the network SDK's
 * horizonclient with the engine's circuit breaker, context handling and the
 * translation of network failures into the engine's error kinds.
 *
 * @notes
 * - Every call runs through a circuit breaker. Only transport trouble (timeouts,
 *   5xx, 429) counts towards tripping it; rejections and not-found do not.
 * - A submission that times out is reported as Timeout, never as a rejection: the
 *   envelope may still be applied.
 *
 * @dependencies
 * - github.com/stellar/go/clients/horizonclient: Horizon REST API and XDR submission.
 * - github.com/sony/gobreaker: circuit breaking around the network.
 * - go.uber.org/zap: structured logging.
 */
package ledgerclient

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/sony/gobreaker"
	"github.com/stellar/go/clients/horizonclient"
	hProtocol "github.com/stellar/go/protocols/horizon"
	"github.com/stellar/go/protocols/horizon/operations"
	"github.com/transfa/disbursement-service/internal/domain"
	"github.com/transfa/disbursement-service/internal/ledger"
	"go.uber.org/zap"
)

const (
	DefaultTimeout     = 20 * time.Second
	DefaultMaxFailures = 5
	breakerOpenFor     = 30 * time.Second
	paymentsPageLimit  = 200
	appName            = "disbursement-service"
)

// Options configures a Client.
type Options struct {
	BaseURL     string
	Timeout     time.Duration
	MaxFailures uint32
	Logger      *zap.Logger
	HTTPClient  *http.Client
}

// Client implements ledger.Gateway against a Horizon server.
type Client struct {
	baseURL    string
	timeout    time.Duration
	httpClient *http.Client
	breaker    *gobreaker.CircuitBreaker
	logger     *zap.Logger
}

var _ ledger.Gateway = (*Client)(nil)

// NewClient creates a new ledger network client.
func NewClient(opts Options) (*Client, error) {
	base := strings.TrimRight(strings.TrimSpace(opts.BaseURL), "/")
	if base == "" {
		return nil, fmt.Errorf("ledger gateway base url is empty")
	}
	if _, err := url.ParseRequestURI(base); err != nil {
		return nil, fmt.Errorf("invalid ledger gateway url: %w", err)
	}
	if opts.Timeout <= 0 {
		opts.Timeout = DefaultTimeout
	}
	if opts.MaxFailures == 0 {
		opts.MaxFailures = DefaultMaxFailures
	}
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	logger = logger.Named("ledger-client")
	httpClient := opts.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: opts.Timeout}
	}

	maxFailures := opts.MaxFailures
	breaker := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "ledger-gateway",
		MaxRequests: 1,
		Timeout:     breakerOpenFor,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= maxFailures
		},
		IsSuccessful: func(err error) bool {
			return err == nil || !domain.IsRetryable(err)
		},
		OnStateChange: func(name string, from gobreaker.State, to gobreaker.State) {
			logger.Warn("circuit breaker state changed",
				zap.String("breaker", name),
				zap.String("from", from.String()),
				zap.String("to", to.String()),
			)
		},
	})

	return &Client{baseURL: base, timeout: opts.Timeout, httpClient: httpClient, breaker: breaker, logger: logger}, nil
}

// callHTTP binds one call's context to the SDK's requests and remembers the
// status of the last response, which the SDK drops when an error body is not JSON.
type callHTTP struct {
	ctx    context.Context
	client *http.Client
	status int
}

func (h *callHTTP) Do(req *http.Request) (*http.Response, error) {
	resp, err := h.client.Do(req.WithContext(h.ctx))
	if resp != nil {
		h.status = resp.StatusCode
	}
	return resp, err
}

func (h *callHTTP) Get(target string) (*http.Response, error) {
	req, err := http.NewRequestWithContext(h.ctx, http.MethodGet, target, nil)
	if err != nil {
		return nil, err
	}
	return h.Do(req)
}

func (h *callHTTP) PostForm(target string, data url.Values) (*http.Response, error) {
	req, err := http.NewRequestWithContext(h.ctx, http.MethodPost, target, strings.NewReader(data.Encode()))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	return h.Do(req)
}

func (c *Client) IsValidAddress(address string) bool {
	return ledger.IsValidAddress(address)
}

// LoadAccount fetches sequence, signers, thresholds and balances of an account.
func (c *Client) LoadAccount(ctx context.Context, address string) (*ledger.Account, error) {
	if !ledger.IsValidAddress(address) {
		return nil, domain.Errorf(domain.KindInvalidInput, "%q is not a valid ledger address", address)
	}
	var resp hProtocol.Account
	err := c.call(ctx, "load_account", func(hc *horizonclient.Client) (err error) {
		resp, err = hc.AccountDetail(horizonclient.AccountRequest{AccountID: address})
		return err
	})
	if err != nil {
		if domain.KindOf(err) == domain.KindNotFound || domain.IsRetryable(err) {
			return nil, err
		}
		return nil, domain.Wrap(domain.KindAccountLoadError, err, "load account %s", address)
	}

	account := &ledger.Account{
		Address:  resp.AccountID,
		Sequence: resp.Sequence,
		Thresholds: ledger.Thresholds{
			Low:  int(resp.Thresholds.LowThreshold),
			Med:  int(resp.Thresholds.MedThreshold),
			High: int(resp.Thresholds.HighThreshold),
		},
	}
	for _, b := range resp.Balances {
		amount, err := domain.ParseAmount(b.Balance)
		if err != nil {
			return nil, domain.Wrap(domain.KindAccountLoadError, err, "account %s has malformed balance %q", address, b.Balance)
		}
		code, issuer := b.Asset.Code, b.Asset.Issuer
		if b.Asset.Type == "native" {
			code, issuer = domain.NativeAssetCode, ""
		}
		account.Balances = append(account.Balances, ledger.Balance{AssetCode: code, AssetIssuer: issuer, Amount: amount})
	}
	for _, s := range resp.Signers {
		account.Signers = append(account.Signers, ledger.Signer{Key: s.Key, Weight: int(s.Weight)})
	}
	return account, nil
}

// Submit posts a signed XDR envelope and waits for the network's verdict.
func (c *Client) Submit(ctx context.Context, envelope string) (*ledger.SubmitResult, error) {
	var resp hProtocol.Transaction
	err := c.call(ctx, "submit", func(hc *horizonclient.Client) (err error) {
		resp, err = hc.SubmitTransactionXDR(envelope)
		return err
	})
	if err != nil {
		return nil, err
	}
	return &ledger.SubmitResult{TxID: strings.ToLower(resp.Hash), Ledger: int64(resp.Ledger)}, nil
}

// GetTransaction looks a transaction up by hash, including its payment operations.
func (c *Client) GetTransaction(ctx context.Context, txID string) (*ledger.TransactionRecord, error) {
	txID = strings.ToLower(strings.TrimSpace(txID))
	if !ledger.IsValidTxID(txID) {
		return nil, domain.Errorf(domain.KindInvalidInput, "ledger transaction id %q is malformed", txID)
	}
	var tx hProtocol.Transaction
	err := c.call(ctx, "get_transaction", func(hc *horizonclient.Client) (err error) {
		tx, err = hc.TransactionDetail(txID)
		return err
	})
	if err != nil {
		return nil, err
	}
	var page operations.OperationsPage
	err = c.call(ctx, "get_payments", func(hc *horizonclient.Client) (err error) {
		page, err = hc.Payments(horizonclient.OperationRequest{ForTransaction: txID, Limit: paymentsPageLimit})
		return err
	})
	if err != nil {
		return nil, err
	}

	record := &ledger.TransactionRecord{
		ID:            strings.ToLower(firstNonEmpty(tx.Hash, tx.ID)),
		Successful:    tx.Successful,
		Ledger:        int64(tx.Ledger),
		SourceAccount: tx.Account,
		FeeCharged:    tx.FeeCharged,
		CreatedAt:     tx.LedgerCloseTime,
	}
	if tx.MemoType == "" || tx.MemoType == "text" {
		record.Memo = tx.Memo
	}
	for _, op := range page.Embedded.Records {
		p, ok := op.(operations.Payment)
		if !ok {
			continue
		}
		amount, err := domain.ParseAmount(p.Amount)
		if err != nil {
			return nil, domain.Wrap(domain.KindInternal, err, "transaction %s has malformed payment amount %q", txID, p.Amount)
		}
		code, issuer := p.Asset.Code, p.Asset.Issuer
		if p.Asset.Type == "native" {
			code, issuer = domain.NativeAssetCode, ""
		}
		record.Payments = append(record.Payments, ledger.PaymentRecord{
			From:        p.From,
			To:          p.To,
			AssetCode:   code,
			AssetIssuer: issuer,
			Amount:      amount,
		})
	}
	return record, nil
}

// call runs fn with a Horizon client bound to ctx, through the breaker.
func (c *Client) call(ctx context.Context, op string, fn func(hc *horizonclient.Client) error) error {
	_, err := c.breaker.Execute(func() (interface{}, error) {
		transport := &callHTTP{ctx: ctx, client: c.httpClient}
		hc := &horizonclient.Client{HorizonURL: c.baseURL, HTTP: transport, AppName: appName}
		hc.SetHorizonTimeout(c.timeout)
		if err := fn(hc); err != nil {
			return nil, c.classify(ctx, op, transport.status, err)
		}
		return nil, nil
	})
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return domain.Wrap(domain.KindRetryable, err, "ledger gateway unavailable")
	}
	return err
}

// classify maps an SDK error onto the engine's error kinds. status is the HTTP
// status of the response, or 0 when none arrived.
func (c *Client) classify(ctx context.Context, op string, status int, err error) error {
	herr := horizonclient.GetError(err)
	if status == 0 {
		return transportError(ctx, op, err)
	}
	if status >= 200 && status < 300 {
		return domain.Wrap(domain.KindInternal, err, "failed to decode %s response", op)
	}

	fields := []zap.Field{zap.String("op", op), zap.Int("status", status)}
	if herr != nil {
		fields = append(fields, zap.String("title", herr.Problem.Title), zap.String("detail", herr.Problem.Detail))
	}
	c.logger.Warn("non-2xx response", fields...)

	switch {
	case status == http.StatusNotFound || horizonclient.IsNotFoundError(err):
		return domain.Errorf(domain.KindNotFound, "%s: resource not found", op)
	case status == http.StatusGatewayTimeout:
		return domain.Errorf(domain.KindTimeout, "%s: ledger timed out waiting for a result", op)
	case status == http.StatusTooManyRequests || status >= 500:
		return domain.Errorf(domain.KindRetryable, "%s: ledger returned status %d", op, status).
			With("status", strconv.Itoa(status))
	case op == "submit":
		detail := "no detail"
		if herr != nil {
			detail = firstNonEmpty(herr.Problem.Detail, herr.Problem.Title, detail)
		}
		return domain.Rejection(reasonCode(herr), "ledger rejected transaction: %s", detail).
			With("status", strconv.Itoa(status))
	default:
		return domain.Wrap(domain.KindInternal, err, "%s: ledger returned status %d", op, status)
	}
}

// reasonCode picks the most specific result code from a rejection.
func reasonCode(herr *horizonclient.Error) string {
	if herr == nil {
		return "tx_rejected"
	}
	codes, err := herr.ResultCodes()
	if err != nil {
		return "tx_rejected"
	}
	if codes.TransactionCode == "tx_failed" {
		for _, op := range codes.OperationCodes {
			if op != "" && op != "op_success" {
				return op
			}
		}
	}
	if codes.TransactionCode != "" {
		return codes.TransactionCode
	}
	return "tx_rejected"
}

func transportError(ctx context.Context, op string, err error) error {
	var netErr interface{ Timeout() bool }
	if errors.Is(err, context.DeadlineExceeded) || ctx.Err() != nil || (errors.As(err, &netErr) && netErr.Timeout()) {
		return domain.Wrap(domain.KindTimeout, err, "%s: ledger call timed out", op)
	}
	return domain.Wrap(domain.KindRetryable, err, "%s: ledger call failed", op)
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}
