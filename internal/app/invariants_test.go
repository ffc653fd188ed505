package app

import (
	"context"
	"fmt"
	"math/rand"
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/transfa/disbursement-service/internal/domain"
)

// oneUnit is 1.0 in ledger units.
const oneUnit = 10_000_000

// Failures the engine is expected to refuse cleanly under contention.
var tolerated = map[domain.Kind]bool{
	domain.KindInsufficientFunds: true,
	domain.KindInvalidState:      true,
	domain.KindDuplicateApproval: true,
	domain.KindRejected:          true,
}

type interleaving struct {
	f        *engineFixture
	campaign uuid.UUID

	payMu sync.Mutex
	mu    sync.Mutex
	ids   []uuid.UUID
}

func (w *interleaving) pick(rng *rand.Rand) (uuid.UUID, bool) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if len(w.ids) == 0 {
		return uuid.Nil, false
	}
	return w.ids[rng.Intn(len(w.ids))], true
}

func (w *interleaving) step(t *testing.T, rng *rand.Rand) {
	ctx := context.Background()
	var err error
	switch rng.Intn(5) {
	case 0:
		amount := domain.Amount(rng.Int63n(50*oneUnit) + 1)
		w.payMu.Lock()
		res, payErr := w.f.gateway.Pay(ctx, w.f.donor, w.f.campaign.Address(), native, amount, "")
		w.payMu.Unlock()
		if !assert.NoError(t, payErr) {
			return
		}
		_, _, err = w.f.svc.RecordDonation(ctx, RecordDonationRequest{CampaignID: w.campaign, LedgerTxID: res.TxID})
	case 1:
		var d *domain.Disbursement
		d, err = w.f.svc.CreateDisbursement(ctx, CreateDisbursementRequest{
			CampaignID:       w.campaign,
			RecipientAddress: w.f.recipient.Address(),
			Amount:           domain.Amount(rng.Int63n(60*oneUnit) + 1),
			Purpose:          "supplies",
			RequestedBy:      "coordinator",
		})
		if err == nil {
			w.mu.Lock()
			w.ids = append(w.ids, d.ID)
			w.mu.Unlock()
		}
	case 2:
		if id, ok := w.pick(rng); ok {
			_, _, err = w.f.svc.ApproveDisbursement(ctx, id, fmt.Sprintf("approver-%d", rng.Intn(3)))
		}
	case 3:
		if id, ok := w.pick(rng); ok {
			_, err = w.f.svc.RejectDisbursement(ctx, id, "board", "reprioritized")
		}
	case 4:
		if id, ok := w.pick(rng); ok {
			_, err = w.f.svc.ExecuteDisbursement(ctx, id, w.f.credentials(), "treasurer")
		}
	}
	if err != nil && !tolerated[domain.KindOf(err)] {
		t.Errorf("unexpected engine error: %v", err)
	}
}

func TestCampaignInvariantsHoldUnderRandomInterleavings(t *testing.T) {
	for seed := int64(1); seed <= 5; seed++ {
		t.Run(fmt.Sprintf("seed-%d", seed), func(t *testing.T) {
			f := newEngineFixture(t)
			c := f.newCampaign(t, "100000", 2)
			w := &interleaving{f: f, campaign: c.ID}

			var wg sync.WaitGroup
			for worker := 0; worker < 6; worker++ {
				rng := rand.New(rand.NewSource(seed*100 + int64(worker)))
				wg.Add(1)
				go func() {
					defer wg.Done()
					for i := 0; i < 40; i++ {
						w.step(t, rng)
					}
				}()
			}
			wg.Wait()

			f.requireBalanced(t, c.ID)
			final := f.campaignState(t, c.ID)
			assert.Equal(t, final.RaisedAmount, f.gateway.BalanceOf(f.campaign.Address(), native),
				"recorded raised must equal the campaign account's ledger balance")

			all, err := f.svc.ListDisbursements(context.Background(), disbursementsOf(c.ID))
			require.NoError(t, err)
			seen := make(map[string]bool)
			var paidOut domain.Amount
			for _, d := range all {
				assert.NotEqual(t, domain.DisbursementProcessing, d.Status, "no settlement may be left in flight")
				if d.Status != domain.DisbursementCompleted {
					continue
				}
				require.NotNil(t, d.LedgerTxID)
				assert.False(t, seen[*d.LedgerTxID], "one ledger transaction per disbursement")
				seen[*d.LedgerTxID] = true
				assert.GreaterOrEqual(t, d.ApprovalCount, d.RequiredApprovals)
				paidOut += d.Amount
			}
			assert.Equal(t, paidOut, f.gateway.BalanceOf(f.recipient.Address(), native))
		})
	}
}
