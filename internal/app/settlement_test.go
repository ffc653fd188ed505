package app

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/transfa/disbursement-service/internal/domain"
	"github.com/transfa/disbursement-service/internal/store"
)

func TestExecuteDisbursement_SettlesOnLedger(t *testing.T) {
	f := newEngineFixture(t)
	c := f.newCampaign(t, "1000", 2)
	f.donate(t, c.ID, "300")
	d := f.approved(t, c.ID, "120")

	result, err := f.svc.ExecuteDisbursement(context.Background(), d.ID, f.credentials(), "treasurer")
	require.NoError(t, err)

	assert.Equal(t, domain.DisbursementCompleted, result.Disbursement.Status)
	require.NotNil(t, result.Disbursement.LedgerTxID)
	assert.Equal(t, result.TxID, *result.Disbursement.LedgerTxID)
	assert.Equal(t, "https://explorer.test/transactions/"+result.TxID, result.LedgerURL)
	require.NotNil(t, result.Disbursement.CompletedAt)

	after := f.campaignState(t, c.ID)
	assert.Equal(t, domain.MustParseAmount("180"), after.RaisedAmount)
	assert.Equal(t, domain.Amount(0), after.ReservedAmount)
	assert.Equal(t, domain.MustParseAmount("120"), f.gateway.BalanceOf(f.recipient.Address(), native))
	assert.Equal(t, after.RaisedAmount, f.gateway.BalanceOf(f.campaign.Address(), native))
	f.requireBalanced(t, c.ID)

	record, err := f.gateway.GetTransaction(context.Background(), result.TxID)
	require.NoError(t, err)
	payment, ok := record.PaymentTo(f.recipient.Address())
	require.True(t, ok)
	assert.Equal(t, domain.MustParseAmount("120"), payment.Amount)
	assert.Equal(t, "water pumps", record.Memo)

	details, err := f.svc.GetDisbursement(context.Background(), d.ID, true)
	require.NoError(t, err)
	require.NotNil(t, details.Transaction)
	assert.Equal(t, result.TxID, details.Transaction.ID)
}

func TestExecuteDisbursement_ConcurrentCallsSettleOnce(t *testing.T) {
	f := newEngineFixture(t)
	c := f.newCampaign(t, "1000", 2)
	f.donate(t, c.ID, "300")
	d := f.approved(t, c.ID, "100")
	before := f.gateway.Submissions()

	var (
		wg        sync.WaitGroup
		successes atomic.Int32
		refused   atomic.Int32
	)
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := f.svc.ExecuteDisbursement(context.Background(), d.ID, f.credentials(), "treasurer")
			switch {
			case err == nil:
				successes.Add(1)
			case domain.KindOf(err) == domain.KindInvalidState:
				refused.Add(1)
			default:
				t.Errorf("unexpected execute error: %v", err)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(1), successes.Load())
	assert.Equal(t, int32(1), refused.Load())
	assert.Equal(t, 1, f.gateway.Submissions()-before)
	assert.Equal(t, domain.MustParseAmount("200"), f.campaignState(t, c.ID).RaisedAmount)
	f.requireBalanced(t, c.ID)
}

func TestExecuteDisbursement_RequiresApproval(t *testing.T) {
	f := newEngineFixture(t)
	c := f.newCampaign(t, "1000", 2)
	f.donate(t, c.ID, "300")
	d := f.request(t, c.ID, "50")

	_, err := f.svc.ExecuteDisbursement(context.Background(), d.ID, f.credentials(), "treasurer")
	requireKind(t, err, domain.KindInvalidState)
	assert.Equal(t, domain.DisbursementPending, f.disbursementState(t, d.ID).Status)

	_, err = f.svc.ExecuteDisbursement(context.Background(), uuid.New(), f.credentials(), "treasurer")
	requireKind(t, err, domain.KindNotFound)
}

func TestExecuteDisbursement_MalformedCredentialLeavesApproved(t *testing.T) {
	f := newEngineFixture(t)
	c := f.newCampaign(t, "1000", 2)
	f.donate(t, c.ID, "300")
	d := f.approved(t, c.ID, "50")

	_, err := f.svc.ExecuteDisbursement(context.Background(), d.ID, []string{f.signerA.Seed(), "SNOTASEED"}, "treasurer")
	requireKind(t, err, domain.KindInvalidCredential)

	_, err = f.svc.ExecuteDisbursement(context.Background(), d.ID, nil, "treasurer")
	requireKind(t, err, domain.KindInvalidCredential)

	assert.Equal(t, domain.DisbursementApproved, f.disbursementState(t, d.ID).Status)
	assert.Equal(t, domain.MustParseAmount("50"), f.campaignState(t, c.ID).ReservedAmount)
}

func TestExecuteDisbursement_SignerFailuresFailTheDisbursement(t *testing.T) {
	tests := []struct {
		name        string
		credentials func(f *engineFixture) []string
	}{
		{
			name:        "unauthorized signer",
			credentials: func(f *engineFixture) []string { return []string{f.signerA.Seed(), f.outsider.Seed()} },
		},
		{
			name:        "weight below threshold",
			credentials: func(f *engineFixture) []string { return []string{f.signerA.Seed()} },
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newEngineFixture(t)
			c := f.newCampaign(t, "1000", 2)
			f.donate(t, c.ID, "300")
			d := f.approved(t, c.ID, "50")
			before := f.gateway.Submissions()

			_, err := f.svc.ExecuteDisbursement(context.Background(), d.ID, tt.credentials(f), "treasurer")
			requireKind(t, err, domain.KindInvalidCredential)

			failed := f.disbursementState(t, d.ID)
			assert.Equal(t, domain.DisbursementFailed, failed.Status)
			require.NotNil(t, failed.FailureKind)
			assert.Equal(t, string(domain.KindInvalidCredential), *failed.FailureKind)
			assert.Equal(t, before, f.gateway.Submissions(), "nothing reaches the ledger without sufficient signatures")
			assert.Equal(t, domain.MustParseAmount("300"), f.campaignState(t, c.ID).RaisedAmount)
			f.requireBalanced(t, c.ID)
		})
	}
}

func TestExecuteDisbursement_LedgerRejectionReleasesReservation(t *testing.T) {
	f := newEngineFixture(t)
	c := f.newCampaign(t, "1000", 2)
	f.donate(t, c.ID, "300")
	d := f.approved(t, c.ID, "80")
	f.gateway.FailNextSubmit(domain.Rejection("tx_insufficient_balance", "account would drop below its reserve"))

	_, err := f.svc.ExecuteDisbursement(context.Background(), d.ID, f.credentials(), "treasurer")
	requireKind(t, err, domain.KindRejected)

	failed := f.disbursementState(t, d.ID)
	assert.Equal(t, domain.DisbursementFailed, failed.Status)
	require.NotNil(t, failed.FailureCode)
	assert.Equal(t, "tx_insufficient_balance", *failed.FailureCode)
	require.NotNil(t, failed.EnvelopeHash)

	after := f.campaignState(t, c.ID)
	assert.Equal(t, domain.MustParseAmount("300"), after.RaisedAmount)
	assert.Equal(t, domain.Amount(0), after.ReservedAmount)
	f.requireBalanced(t, c.ID)

	// Failed is terminal; a new request is needed.
	_, err = f.svc.ExecuteDisbursement(context.Background(), d.ID, f.credentials(), "treasurer")
	requireKind(t, err, domain.KindInvalidState)
}

func TestExecuteDisbursement_LostAcknowledgementIsResolvedFromLedger(t *testing.T) {
	f := newEngineFixture(t)
	c := f.newCampaign(t, "1000", 2)
	f.donate(t, c.ID, "300")
	d := f.approved(t, c.ID, "90")
	f.gateway.DropNextAck()

	result, err := f.svc.ExecuteDisbursement(context.Background(), d.ID, f.credentials(), "treasurer")
	require.NoError(t, err)
	assert.Equal(t, domain.DisbursementCompleted, result.Disbursement.Status)
	assert.Equal(t, *result.Disbursement.EnvelopeHash, result.TxID)
	assert.Equal(t, domain.MustParseAmount("210"), f.campaignState(t, c.ID).RaisedAmount)
	f.requireBalanced(t, c.ID)
}

func TestExecuteDisbursement_UnknownOutcomeStaysProcessing(t *testing.T) {
	f := newEngineFixture(t)
	c := f.newCampaign(t, "1000", 2)
	f.donate(t, c.ID, "300")
	d := f.approved(t, c.ID, "90")
	f.gateway.FailNextSubmit(domain.Wrap(domain.KindTimeout, context.DeadlineExceeded, "gateway timed out"))

	_, err := f.svc.ExecuteDisbursement(context.Background(), d.ID, f.credentials(), "treasurer")
	requireKind(t, err, domain.KindTimeout)

	pending := f.disbursementState(t, d.ID)
	assert.Equal(t, domain.DisbursementProcessing, pending.Status)
	require.NotNil(t, pending.EnvelopeHash)
	require.NotNil(t, pending.EnvelopeExpiresAt)

	after := f.campaignState(t, c.ID)
	assert.Equal(t, domain.MustParseAmount("300"), after.RaisedAmount)
	assert.Equal(t, domain.MustParseAmount("90"), after.ReservedAmount, "funds stay reserved while the outcome is unknown")
	f.requireBalanced(t, c.ID)
}

// failingSettlementRepo fails the next settlement write after the ledger accepted
// the payment.
type failingSettlementRepo struct {
	*store.MemoryRepository
	failNext atomic.Bool
}

func (r *failingSettlementRepo) UpdateDisbursementWithCampaign(ctx context.Context, id uuid.UUID, mutate store.SettlementMutation) (*domain.Disbursement, *domain.Campaign, error) {
	if r.failNext.CompareAndSwap(true, false) {
		return nil, nil, errors.New("connection reset by peer")
	}
	return r.MemoryRepository.UpdateDisbursementWithCampaign(ctx, id, mutate)
}

func TestExecuteDisbursement_RecordingFailureAfterSettlement(t *testing.T) {
	f := newEngineFixture(t)
	repo := &failingSettlementRepo{MemoryRepository: f.repo}
	f.svc.repo = repo
	c := f.newCampaign(t, "1000", 2)
	f.donate(t, c.ID, "300")
	d := f.approved(t, c.ID, "100")
	repo.failNext.Store(true)

	_, err := f.svc.ExecuteDisbursement(context.Background(), d.ID, f.credentials(), "treasurer")
	requireKind(t, err, domain.KindInternal)
	de, ok := domain.AsError(err)
	require.True(t, ok)
	assert.NotEmpty(t, de.Fields["tx_id"])

	// Paid on the ledger, not yet recorded: the disbursement waits for reconciliation.
	assert.Equal(t, domain.DisbursementProcessing, f.disbursementState(t, d.ID).Status)
	assert.Equal(t, domain.MustParseAmount("100"), f.gateway.BalanceOf(f.recipient.Address(), native))
	f.requireBalanced(t, c.ID)
}
