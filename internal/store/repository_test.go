package store

import (
	"context"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/transfa/disbursement-service/internal/domain"
)

// repositories returns every implementation available to the test run. The
// PostgreSQL one joins only when TEST_DATABASE_URL points at a scratch database.
func repositories(t *testing.T) map[string]Repository {
	t.Helper()
	repos := map[string]Repository{"memory": NewMemoryRepository()}

	dsn := os.Getenv("TEST_DATABASE_URL")
	if dsn == "" {
		return repos
	}
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	pool, err := pgxpool.New(ctx, dsn)
	require.NoError(t, err)
	t.Cleanup(pool.Close)
	require.NoError(t, EnsureSchema(ctx, pool))
	repos["postgres"] = NewPostgresRepository(pool)
	return repos
}

func createFundedCampaign(t *testing.T, repo Repository, raised string) *domain.Campaign {
	t.Helper()
	now := time.Now().UTC().Truncate(time.Microsecond)
	c := &domain.Campaign{
		ID:                uuid.New(),
		OrganizationID:    uuid.New(),
		Title:             "Shelter",
		TargetAmount:      domain.MustParseAmount("1000"),
		RaisedAmount:      domain.MustParseAmount(raised),
		AssetCode:         "XLM",
		LedgerAccount:     "GCAMPAIGN",
		ApprovalThreshold: 1,
		Status:            domain.CampaignActive,
		CreatedAt:         now,
		UpdatedAt:         now,
	}
	require.NoError(t, repo.CreateCampaign(context.Background(), c))
	return c
}

func createPendingDisbursement(t *testing.T, repo Repository, campaignID uuid.UUID, amount string) *domain.Disbursement {
	t.Helper()
	d, _, err := repo.CreateDisbursement(context.Background(), campaignID, func(working *domain.Campaign) (*domain.Disbursement, error) {
		value := domain.MustParseAmount(amount)
		if err := working.Reserve(value, working.UpdatedAt); err != nil {
			return nil, err
		}
		return domain.NewDisbursement(working, "GDEST", value, "supplies", "alice", nil, working.UpdatedAt), nil
	})
	require.NoError(t, err)
	return d
}

func TestRepository_DisbursementLedgerTxIDIsUnique(t *testing.T) {
	for name, repo := range repositories(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			c := createFundedCampaign(t, repo, "500")
			first := createPendingDisbursement(t, repo, c.ID, "50")
			second := createPendingDisbursement(t, repo, c.ID, "60")

			txID := strings.ToUpper(strings.ReplaceAll(uuid.NewString()+uuid.NewString(), "-", ""))[:64]
			_, err := repo.UpdateDisbursement(ctx, first.ID, func(d *domain.Disbursement) error {
				d.LedgerTxID = &txID
				return nil
			})
			require.NoError(t, err)

			lowered := strings.ToLower(txID)
			_, err = repo.UpdateDisbursement(ctx, second.ID, func(d *domain.Disbursement) error {
				d.LedgerTxID = &lowered
				return nil
			})
			require.ErrorIs(t, err, ErrDuplicateLedgerTx)

			_, _, err = repo.UpdateDisbursementWithCampaign(ctx, second.ID, func(d *domain.Disbursement, working *domain.Campaign) error {
				d.LedgerTxID = &lowered
				working.Title = "renamed"
				return nil
			})
			require.ErrorIs(t, err, ErrDuplicateLedgerTx)

			stored, err := repo.FindDisbursementByID(ctx, second.ID)
			require.NoError(t, err)
			assert.Nil(t, stored.LedgerTxID)

			campaign, err := repo.FindCampaignByID(ctx, c.ID)
			require.NoError(t, err)
			assert.Equal(t, "Shelter", campaign.Title)

			// Re-saving the holder with its own id is not a conflict.
			_, err = repo.UpdateDisbursement(ctx, first.ID, func(d *domain.Disbursement) error {
				d.LedgerTxID = &lowered
				return nil
			})
			require.NoError(t, err)
		})
	}
}

func TestRepository_OrganizationWalletIsUnique(t *testing.T) {
	for name, repo := range repositories(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			now := time.Now().UTC().Truncate(time.Microsecond)
			wallet := "G" + strings.ToUpper(strings.ReplaceAll(uuid.NewString(), "-", ""))
			first := &domain.Organization{ID: uuid.New(), Name: "Water Trust", WalletAddress: wallet, CreatedAt: now, UpdatedAt: now}
			require.NoError(t, repo.CreateOrganization(ctx, first))

			clash := &domain.Organization{ID: uuid.New(), Name: "Copycat", WalletAddress: wallet, CreatedAt: now, UpdatedAt: now}
			require.ErrorIs(t, repo.CreateOrganization(ctx, clash), ErrDuplicateWallet)

			found, err := repo.FindOrganizationByWallet(ctx, wallet)
			require.NoError(t, err)
			assert.Equal(t, first.ID, found.ID)

			other := &domain.Organization{ID: uuid.New(), Name: "Food Bank", WalletAddress: wallet + "X", CreatedAt: now, UpdatedAt: now}
			require.NoError(t, repo.CreateOrganization(ctx, other))
			_, err = repo.UpdateOrganization(ctx, other.ID, func(o *domain.Organization) error {
				o.WalletAddress = wallet
				return nil
			})
			require.ErrorIs(t, err, ErrDuplicateWallet)

			updated, err := repo.UpdateOrganization(ctx, first.ID, func(o *domain.Organization) error {
				o.Verified = true
				return nil
			})
			require.NoError(t, err)
			assert.True(t, updated.Verified)

			stored, err := repo.FindOrganizationByID(ctx, other.ID)
			require.NoError(t, err)
			assert.Equal(t, wallet+"X", stored.WalletAddress)

			_, err = repo.FindOrganizationByID(ctx, uuid.New())
			assert.ErrorIs(t, err, ErrOrganizationNotFound)
		})
	}
}
