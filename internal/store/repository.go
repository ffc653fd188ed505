/**
 * @description
 * This file defines the `Repository` interface, the contract for all data access
 * required by the disbursement-service. Business logic depends only on this
 * interface; PostgreSQL and in-memory implementations live alongside it.
 *
 * @notes
 * - Every state change is a single read-modify-write call: the implementation loads
 *   the row(s) under a lock, hands them to the mutate callback and persists the
 *   result atomically. If the callback returns an error nothing is written and the
 *   callback's error is returned unchanged.
 *
 * @dependencies
 * - github.com/google/uuid: identifiers.
 * - internal/domain: the service's domain models.
 */

package store

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/transfa/disbursement-service/internal/domain"
)

var (
	ErrCampaignNotFound     = errors.New("campaign not found")
	ErrDisbursementNotFound = errors.New("disbursement not found")
	ErrDonationNotFound     = errors.New("donation not found")
	ErrDuplicateLedgerTx    = errors.New("ledger transaction already recorded")
	ErrOrganizationNotFound = errors.New("organization not found")
	ErrDuplicateWallet      = errors.New("wallet address already registered")
)

// OrganizationFilter narrows ListOrganizations.
type OrganizationFilter struct {
	Verified *bool
	Limit    int
	Offset   int
}

// CampaignFilter narrows ListCampaigns.
type CampaignFilter struct {
	Status         *domain.CampaignStatus
	OrganizationID *uuid.UUID
	Limit          int
	Offset         int
}

// DisbursementFilter narrows ListDisbursements.
type DisbursementFilter struct {
	CampaignID    *uuid.UUID
	Statuses      []domain.DisbursementStatus
	UpdatedBefore *time.Time
	Limit         int
	Offset        int
}

// DonationFilter narrows ListDonations.
type DonationFilter struct {
	CampaignID *uuid.UUID
	Status     *domain.DonationStatus
	Limit      int
	Offset     int
}

// LedgerTotals are the independently recomputed sums used to check a campaign's
// recorded balance.
type LedgerTotals struct {
	CompletedDonations     domain.Amount
	CompletedDisbursements domain.Amount
	OutstandingReserved    domain.Amount
}

// ExpectedRaised is Σ completed donations − Σ completed disbursements.
func (t LedgerTotals) ExpectedRaised() domain.Amount {
	return t.CompletedDonations - t.CompletedDisbursements
}

// Mutation callbacks.
type (
	CampaignMutation             func(c *domain.Campaign) error
	DisbursementMutation         func(d *domain.Disbursement) error
	SettlementMutation           func(d *domain.Disbursement, c *domain.Campaign) error
	DisbursementCreationMutation func(c *domain.Campaign) (*domain.Disbursement, error)
	OrganizationMutation         func(o *domain.Organization) error
)

// Repository defines the set of methods for interacting with the database.
type Repository interface {
	// Organization methods
	// CreateOrganization and UpdateOrganization fail with ErrDuplicateWallet when
	// another organization already uses the wallet address.
	CreateOrganization(ctx context.Context, o *domain.Organization) error
	FindOrganizationByID(ctx context.Context, id uuid.UUID) (*domain.Organization, error)
	FindOrganizationByWallet(ctx context.Context, wallet string) (*domain.Organization, error)
	ListOrganizations(ctx context.Context, filter OrganizationFilter) ([]domain.Organization, error)
	UpdateOrganization(ctx context.Context, id uuid.UUID, mutate OrganizationMutation) (*domain.Organization, error)

	// Campaign methods
	CreateCampaign(ctx context.Context, c *domain.Campaign) error
	FindCampaignByID(ctx context.Context, id uuid.UUID) (*domain.Campaign, error)
	ListCampaigns(ctx context.Context, filter CampaignFilter) ([]domain.Campaign, error)
	UpdateCampaign(ctx context.Context, id uuid.UUID, mutate CampaignMutation) (*domain.Campaign, error)

	// Disbursement methods
	// CreateDisbursement locks the campaign, lets mutate reserve funds and build the
	// disbursement, then stores both.
	CreateDisbursement(ctx context.Context, campaignID uuid.UUID, mutate DisbursementCreationMutation) (*domain.Disbursement, *domain.Campaign, error)
	FindDisbursementByID(ctx context.Context, id uuid.UUID) (*domain.Disbursement, error)
	ListDisbursements(ctx context.Context, filter DisbursementFilter) ([]domain.Disbursement, error)
	// Both update methods fail with ErrDuplicateLedgerTx, writing nothing, when the
	// mutated disbursement carries a ledger tx id another disbursement already holds.
	UpdateDisbursement(ctx context.Context, id uuid.UUID, mutate DisbursementMutation) (*domain.Disbursement, error)
	// UpdateDisbursementWithCampaign locks the disbursement then its campaign.
	UpdateDisbursementWithCampaign(ctx context.Context, id uuid.UUID, mutate SettlementMutation) (*domain.Disbursement, *domain.Campaign, error)

	// Donation methods
	// RecordDonation locks the campaign, lets mutate credit it and inserts the donation.
	// A donation whose ledger tx id already exists fails with ErrDuplicateLedgerTx.
	RecordDonation(ctx context.Context, donation *domain.Donation, mutate CampaignMutation) (*domain.Campaign, error)
	FindDonationByID(ctx context.Context, id uuid.UUID) (*domain.Donation, error)
	FindDonationByLedgerTxID(ctx context.Context, txID string) (*domain.Donation, error)
	ListDonations(ctx context.Context, filter DonationFilter) ([]domain.Donation, error)

	// Ledger consistency
	LedgerTotals(ctx context.Context, campaignID uuid.UUID) (LedgerTotals, error)

	// Audit log
	AppendAuditLog(ctx context.Context, entry *domain.AuditLogEntry) error
	ListAuditLogs(ctx context.Context, entityID uuid.UUID) ([]domain.AuditLogEntry, error)
}

// NoLimit lifts pagination on list queries that need every row (audits, reconciliation).
const NoLimit = -1

func normalizeLimit(limit int) int {
	if limit == NoLimit {
		return NoLimit
	}
	if limit <= 0 {
		return 50
	}
	if limit > 500 {
		return 500
	}
	return limit
}

func normalizeOffset(offset int) int {
	if offset < 0 {
		return 0
	}
	return offset
}
