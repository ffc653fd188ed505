/**
 * @description
 * In-memory implementation of the `Repository` interface. It backs the sandbox
 * mode (no DATABASE_URL) and the engine's tests. A single mutex makes every
 * read-modify-write call atomic; values are copied on the way in and out so
 * callers never share state with the store.
 */

package store

import (
	"context"
	"sort"
	"strings"
	"sync"

	"github.com/google/uuid"
	"github.com/transfa/disbursement-service/internal/domain"
)

// MemoryRepository implements Repository in memory.
type MemoryRepository struct {
	mu            sync.Mutex
	organizations map[uuid.UUID]*domain.Organization
	campaigns     map[uuid.UUID]*domain.Campaign
	disbursements map[uuid.UUID]*domain.Disbursement
	donations     map[uuid.UUID]*domain.Donation
	donationsByTx map[string]uuid.UUID
	auditLogs     []domain.AuditLogEntry
}

func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{
		organizations: make(map[uuid.UUID]*domain.Organization),
		campaigns:     make(map[uuid.UUID]*domain.Campaign),
		disbursements: make(map[uuid.UUID]*domain.Disbursement),
		donations:     make(map[uuid.UUID]*domain.Donation),
		donationsByTx: make(map[string]uuid.UUID),
	}
}

func copyCampaign(c *domain.Campaign) *domain.Campaign {
	out := *c
	return &out
}

func copyDisbursement(d *domain.Disbursement) *domain.Disbursement {
	out := *d
	out.Approvals = append([]domain.Approval{}, d.Approvals...)
	return &out
}

func copyDonation(d *domain.Donation) *domain.Donation {
	out := *d
	return &out
}

func copyOrganization(o *domain.Organization) *domain.Organization {
	out := *o
	return &out
}

func (r *MemoryRepository) walletTaken(o *domain.Organization) bool {
	for id, other := range r.organizations {
		if id != o.ID && other.WalletAddress == o.WalletAddress {
			return true
		}
	}
	return false
}

func (r *MemoryRepository) CreateOrganization(ctx context.Context, o *domain.Organization) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.walletTaken(o) {
		return ErrDuplicateWallet
	}
	r.organizations[o.ID] = copyOrganization(o)
	return nil
}

func (r *MemoryRepository) FindOrganizationByID(ctx context.Context, id uuid.UUID) (*domain.Organization, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	o, ok := r.organizations[id]
	if !ok {
		return nil, ErrOrganizationNotFound
	}
	return copyOrganization(o), nil
}

func (r *MemoryRepository) FindOrganizationByWallet(ctx context.Context, wallet string) (*domain.Organization, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, o := range r.organizations {
		if o.WalletAddress == wallet {
			return copyOrganization(o), nil
		}
	}
	return nil, ErrOrganizationNotFound
}

func (r *MemoryRepository) ListOrganizations(ctx context.Context, filter OrganizationFilter) ([]domain.Organization, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]domain.Organization, 0, len(r.organizations))
	for _, o := range r.organizations {
		if filter.Verified != nil && o.Verified != *filter.Verified {
			continue
		}
		out = append(out, *copyOrganization(o))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return paginate(out, filter.Limit, filter.Offset), nil
}

func (r *MemoryRepository) UpdateOrganization(ctx context.Context, id uuid.UUID, mutate OrganizationMutation) (*domain.Organization, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	stored, ok := r.organizations[id]
	if !ok {
		return nil, ErrOrganizationNotFound
	}
	working := copyOrganization(stored)
	if err := mutate(working); err != nil {
		return nil, err
	}
	if r.walletTaken(working) {
		return nil, ErrDuplicateWallet
	}
	r.organizations[id] = copyOrganization(working)
	return working, nil
}

func (r *MemoryRepository) CreateCampaign(ctx context.Context, c *domain.Campaign) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.campaigns[c.ID] = copyCampaign(c)
	return nil
}

func (r *MemoryRepository) FindCampaignByID(ctx context.Context, id uuid.UUID) (*domain.Campaign, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.campaigns[id]
	if !ok {
		return nil, ErrCampaignNotFound
	}
	return copyCampaign(c), nil
}

func (r *MemoryRepository) ListCampaigns(ctx context.Context, filter CampaignFilter) ([]domain.Campaign, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]domain.Campaign, 0, len(r.campaigns))
	for _, c := range r.campaigns {
		if filter.Status != nil && c.Status != *filter.Status {
			continue
		}
		if filter.OrganizationID != nil && c.OrganizationID != *filter.OrganizationID {
			continue
		}
		out = append(out, *copyCampaign(c))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return paginate(out, filter.Limit, filter.Offset), nil
}

func (r *MemoryRepository) UpdateCampaign(ctx context.Context, id uuid.UUID, mutate CampaignMutation) (*domain.Campaign, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	stored, ok := r.campaigns[id]
	if !ok {
		return nil, ErrCampaignNotFound
	}
	working := copyCampaign(stored)
	if err := mutate(working); err != nil {
		return nil, err
	}
	r.campaigns[id] = copyCampaign(working)
	return working, nil
}

func (r *MemoryRepository) CreateDisbursement(ctx context.Context, campaignID uuid.UUID, mutate DisbursementCreationMutation) (*domain.Disbursement, *domain.Campaign, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	stored, ok := r.campaigns[campaignID]
	if !ok {
		return nil, nil, ErrCampaignNotFound
	}
	campaign := copyCampaign(stored)
	d, err := mutate(campaign)
	if err != nil {
		return nil, nil, err
	}
	r.campaigns[campaignID] = copyCampaign(campaign)
	r.disbursements[d.ID] = copyDisbursement(d)
	return copyDisbursement(d), campaign, nil
}

func (r *MemoryRepository) FindDisbursementByID(ctx context.Context, id uuid.UUID) (*domain.Disbursement, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	d, ok := r.disbursements[id]
	if !ok {
		return nil, ErrDisbursementNotFound
	}
	return copyDisbursement(d), nil
}

func (r *MemoryRepository) ListDisbursements(ctx context.Context, filter DisbursementFilter) ([]domain.Disbursement, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]domain.Disbursement, 0)
	for _, d := range r.disbursements {
		if filter.CampaignID != nil && d.CampaignID != *filter.CampaignID {
			continue
		}
		if len(filter.Statuses) > 0 && !containsStatus(filter.Statuses, d.Status) {
			continue
		}
		if filter.UpdatedBefore != nil && !d.UpdatedAt.Before(*filter.UpdatedBefore) {
			continue
		}
		out = append(out, *copyDisbursement(d))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return paginate(out, filter.Limit, filter.Offset), nil
}

func containsStatus(statuses []domain.DisbursementStatus, s domain.DisbursementStatus) bool {
	for _, candidate := range statuses {
		if candidate == s {
			return true
		}
	}
	return false
}

func (r *MemoryRepository) UpdateDisbursement(ctx context.Context, id uuid.UUID, mutate DisbursementMutation) (*domain.Disbursement, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	stored, ok := r.disbursements[id]
	if !ok {
		return nil, ErrDisbursementNotFound
	}
	working := copyDisbursement(stored)
	if err := mutate(working); err != nil {
		return nil, err
	}
	if r.ledgerTxTaken(working) {
		return nil, ErrDuplicateLedgerTx
	}
	r.disbursements[id] = copyDisbursement(working)
	return working, nil
}

// ledgerTxTaken reports whether another disbursement already carries d's ledger tx id.
func (r *MemoryRepository) ledgerTxTaken(d *domain.Disbursement) bool {
	if d.LedgerTxID == nil {
		return false
	}
	for id, other := range r.disbursements {
		if id != d.ID && other.LedgerTxID != nil && strings.EqualFold(*other.LedgerTxID, *d.LedgerTxID) {
			return true
		}
	}
	return false
}

func (r *MemoryRepository) UpdateDisbursementWithCampaign(ctx context.Context, id uuid.UUID, mutate SettlementMutation) (*domain.Disbursement, *domain.Campaign, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	storedD, ok := r.disbursements[id]
	if !ok {
		return nil, nil, ErrDisbursementNotFound
	}
	storedC, ok := r.campaigns[storedD.CampaignID]
	if !ok {
		return nil, nil, ErrCampaignNotFound
	}
	d := copyDisbursement(storedD)
	c := copyCampaign(storedC)
	if err := mutate(d, c); err != nil {
		return nil, nil, err
	}
	if r.ledgerTxTaken(d) {
		return nil, nil, ErrDuplicateLedgerTx
	}
	r.disbursements[id] = copyDisbursement(d)
	r.campaigns[c.ID] = copyCampaign(c)
	return d, c, nil
}

func (r *MemoryRepository) RecordDonation(ctx context.Context, donation *domain.Donation, mutate CampaignMutation) (*domain.Campaign, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	stored, ok := r.campaigns[donation.CampaignID]
	if !ok {
		return nil, ErrCampaignNotFound
	}
	txKey := strings.ToLower(donation.LedgerTxID)
	if _, exists := r.donationsByTx[txKey]; exists {
		return nil, ErrDuplicateLedgerTx
	}
	campaign := copyCampaign(stored)
	if err := mutate(campaign); err != nil {
		return nil, err
	}
	r.campaigns[campaign.ID] = copyCampaign(campaign)
	r.donations[donation.ID] = copyDonation(donation)
	r.donationsByTx[txKey] = donation.ID
	return campaign, nil
}

func (r *MemoryRepository) FindDonationByID(ctx context.Context, id uuid.UUID) (*domain.Donation, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	d, ok := r.donations[id]
	if !ok {
		return nil, ErrDonationNotFound
	}
	return copyDonation(d), nil
}

func (r *MemoryRepository) FindDonationByLedgerTxID(ctx context.Context, txID string) (*domain.Donation, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	id, ok := r.donationsByTx[strings.ToLower(txID)]
	if !ok {
		return nil, ErrDonationNotFound
	}
	return copyDonation(r.donations[id]), nil
}

func (r *MemoryRepository) ListDonations(ctx context.Context, filter DonationFilter) ([]domain.Donation, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]domain.Donation, 0)
	for _, d := range r.donations {
		if filter.CampaignID != nil && d.CampaignID != *filter.CampaignID {
			continue
		}
		if filter.Status != nil && d.Status != *filter.Status {
			continue
		}
		out = append(out, *copyDonation(d))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return paginate(out, filter.Limit, filter.Offset), nil
}

func (r *MemoryRepository) LedgerTotals(ctx context.Context, campaignID uuid.UUID) (LedgerTotals, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.campaigns[campaignID]; !ok {
		return LedgerTotals{}, ErrCampaignNotFound
	}
	var totals LedgerTotals
	for _, d := range r.donations {
		if d.CampaignID == campaignID && d.Status == domain.DonationCompleted {
			totals.CompletedDonations += d.Amount
		}
	}
	for _, d := range r.disbursements {
		if d.CampaignID != campaignID {
			continue
		}
		if d.Status == domain.DisbursementCompleted {
			totals.CompletedDisbursements += d.Amount
		}
		if d.Status.HoldsReservation() {
			totals.OutstandingReserved += d.Amount
		}
	}
	return totals, nil
}

func (r *MemoryRepository) AppendAuditLog(ctx context.Context, entry *domain.AuditLogEntry) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	copied := *entry
	r.auditLogs = append(r.auditLogs, copied)
	return nil
}

func (r *MemoryRepository) ListAuditLogs(ctx context.Context, entityID uuid.UUID) ([]domain.AuditLogEntry, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]domain.AuditLogEntry, 0)
	for _, e := range r.auditLogs {
		if e.EntityID == entityID {
			out = append(out, e)
		}
	}
	return out, nil
}

func paginate[T any](items []T, limit, offset int) []T {
	limit = normalizeLimit(limit)
	offset = normalizeOffset(offset)
	if offset >= len(items) {
		return []T{}
	}
	end := offset + limit
	if limit == NoLimit || end > len(items) {
		end = len(items)
	}
	return items[offset:end]
}
