package app

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"github.com/transfa/disbursement-service/internal/domain"
	"github.com/transfa/disbursement-service/internal/ledger"
	"github.com/transfa/disbursement-service/internal/lock"
	"github.com/transfa/disbursement-service/internal/store"
	"go.uber.org/zap/zaptest"
)

var native = domain.Asset{Code: domain.NativeAssetCode}

type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

// engineFixture wires the engine to the in-memory ledger, repository and locker. The
// campaign account needs two of {signerA, signerB} to pay; its master key carries no weight.
type engineFixture struct {
	svc       *Service
	repo      *store.MemoryRepository
	gateway   *ledger.MemoryGateway
	clock     *testClock
	campaign  *ledger.KeyPair
	signerA   *ledger.KeyPair
	signerB   *ledger.KeyPair
	outsider  *ledger.KeyPair
	donor     *ledger.KeyPair
	recipient *ledger.KeyPair
}

func mustKey(t *testing.T) *ledger.KeyPair {
	t.Helper()
	kp, err := ledger.RandomKeyPair()
	require.NoError(t, err)
	return kp
}

func newEngineFixture(t *testing.T) *engineFixture {
	t.Helper()
	f := &engineFixture{
		repo:      store.NewMemoryRepository(),
		gateway:   ledger.NewMemoryGateway(ledger.DefaultNetworkPassphrase),
		clock:     &testClock{now: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)},
		campaign:  mustKey(t),
		signerA:   mustKey(t),
		signerB:   mustKey(t),
		outsider:  mustKey(t),
		donor:     mustKey(t),
		recipient: mustKey(t),
	}
	f.gateway.SetClock(f.clock.Now)

	account := f.campaign.Address()
	f.gateway.CreateAccount(account)
	f.gateway.SetSigner(account, account, 0)
	f.gateway.SetSigner(account, f.signerA.Address(), 1)
	f.gateway.SetSigner(account, f.signerB.Address(), 1)
	f.gateway.SetThresholds(account, ledger.Thresholds{Low: 1, Med: 2, High: 2})
	f.gateway.Fund(f.donor.Address(), native, domain.MustParseAmount("100000"))
	f.gateway.CreateAccount(f.recipient.Address())

	f.svc = NewService(f.repo, f.gateway, lock.NewMemoryLocker(), nil, Config{
		NetworkPassphrase: ledger.DefaultNetworkPassphrase,
		ExplorerURL:       "https://explorer.test",
		LedgerCallTimeout: 5 * time.Second,
	}, zaptest.NewLogger(t))
	f.svc.SetClock(f.clock.Now)
	return f
}

func (f *engineFixture) credentials() []string {
	return []string{f.signerA.Seed(), f.signerB.Seed()}
}

// newCampaign creates an active native-asset campaign on the fixture's account.
func (f *engineFixture) newCampaign(t *testing.T, target string, threshold int) *domain.Campaign {
	t.Helper()
	c, err := f.svc.CreateCampaign(context.Background(), CreateCampaignRequest{
		OrganizationID:    uuid.New(),
		Title:             "Clean water for Kibera",
		TargetAmount:      domain.MustParseAmount(target),
		AssetCode:         domain.NativeAssetCode,
		LedgerAccount:     f.campaign.Address(),
		ApprovalThreshold: threshold,
	})
	require.NoError(t, err)
	return c
}

// donate pays amount from the donor to the campaign account and records it.
func (f *engineFixture) donate(t *testing.T, campaignID uuid.UUID, amount string) *domain.Donation {
	t.Helper()
	txID := f.pay(t, amount)
	donation, _, err := f.svc.RecordDonation(context.Background(), RecordDonationRequest{
		CampaignID: campaignID,
		LedgerTxID: txID,
		DonorName:  "Amina",
	})
	require.NoError(t, err)
	return donation
}

func (f *engineFixture) pay(t *testing.T, amount string) string {
	t.Helper()
	res, err := f.gateway.Pay(context.Background(), f.donor, f.campaign.Address(), native, domain.MustParseAmount(amount), "donation")
	require.NoError(t, err)
	return res.TxID
}

func (f *engineFixture) request(t *testing.T, campaignID uuid.UUID, amount string) *domain.Disbursement {
	t.Helper()
	d, err := f.svc.CreateDisbursement(context.Background(), CreateDisbursementRequest{
		CampaignID:       campaignID,
		RecipientAddress: f.recipient.Address(),
		Amount:           domain.MustParseAmount(amount),
		Purpose:          "water pumps",
		RequestedBy:      "coordinator-1",
	})
	require.NoError(t, err)
	return d
}

// approved creates a disbursement and approves it up to its quorum.
func (f *engineFixture) approved(t *testing.T, campaignID uuid.UUID, amount string) *domain.Disbursement {
	t.Helper()
	d := f.request(t, campaignID, amount)
	var quorum bool
	for i := 0; i < d.RequiredApprovals; i++ {
		var err error
		d, quorum, err = f.svc.ApproveDisbursement(context.Background(), d.ID, "approver-"+string(rune('a'+i)))
		require.NoError(t, err)
	}
	require.True(t, quorum)
	require.Equal(t, domain.DisbursementApproved, d.Status)
	return d
}

func (f *engineFixture) campaignState(t *testing.T, id uuid.UUID) *domain.Campaign {
	t.Helper()
	c, err := f.repo.FindCampaignByID(context.Background(), id)
	require.NoError(t, err)
	return c
}

func (f *engineFixture) disbursementState(t *testing.T, id uuid.UUID) *domain.Disbursement {
	t.Helper()
	d, err := f.repo.FindDisbursementByID(context.Background(), id)
	require.NoError(t, err)
	return d
}

// requireBalanced asserts raised == Σ completed donations − Σ completed disbursements
// and that reservations match the open disbursements.
func (f *engineFixture) requireBalanced(t *testing.T, campaignID uuid.UUID) {
	t.Helper()
	totals, err := f.repo.LedgerTotals(context.Background(), campaignID)
	require.NoError(t, err)
	c := f.campaignState(t, campaignID)
	require.Equal(t, totals.ExpectedRaised(), c.RaisedAmount, "raised balance drifted from records")
	require.Equal(t, totals.OutstandingReserved, c.ReservedAmount, "reservations drifted from open disbursements")
	require.False(t, c.Frozen())
	require.GreaterOrEqual(t, int64(c.RaisedAmount), int64(0))
}

func requireKind(t *testing.T, err error, kind domain.Kind) {
	t.Helper()
	require.Error(t, err)
	require.Equal(t, kind, domain.KindOf(err), "unexpected error: %v", err)
}

func disbursementsOf(campaignID uuid.UUID) store.DisbursementFilter {
	return store.DisbursementFilter{CampaignID: &campaignID, Limit: store.NoLimit}
}
