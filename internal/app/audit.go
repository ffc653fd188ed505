package app

import (
	"context"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/transfa/disbursement-service/internal/domain"
	"github.com/transfa/disbursement-service/internal/store"
)

// campaignFlows loads the completed inflows and outflows of a campaign.
func (s *Service) campaignFlows(ctx context.Context, campaignID uuid.UUID) ([]domain.Donation, []domain.Disbursement, error) {
	completedDonation := domain.DonationCompleted
	donations, err := s.repo.ListDonations(ctx, store.DonationFilter{CampaignID: &campaignID, Status: &completedDonation, Limit: store.NoLimit})
	if err != nil {
		return nil, nil, storeError(err, "list campaign donations")
	}
	disbursements, err := s.repo.ListDisbursements(ctx, store.DisbursementFilter{
		CampaignID: &campaignID,
		Statuses:   []domain.DisbursementStatus{domain.DisbursementCompleted},
		Limit:      store.NoLimit,
	})
	if err != nil {
		return nil, nil, storeError(err, "list campaign disbursements")
	}
	sort.SliceStable(donations, func(i, j int) bool { return donations[i].CreatedAt.Before(donations[j].CreatedAt) })
	sortByCompletion(disbursements)
	return donations, disbursements, nil
}

func sortByCompletion(disbursements []domain.Disbursement) {
	sort.SliceStable(disbursements, func(i, j int) bool {
		return completionTime(disbursements[i]).Before(completionTime(disbursements[j]))
	})
}

func completionTime(d domain.Disbursement) time.Time {
	if d.CompletedAt != nil {
		return *d.CompletedAt
	}
	return d.UpdatedAt
}

func (s *Service) inflowEntry(d domain.Donation) domain.FlowEntry {
	d = d.PublicView()
	return domain.FlowEntry{
		Direction:    domain.FlowInflow,
		ID:           d.ID,
		Amount:       d.Amount,
		AssetCode:    d.AssetCode,
		Counterparty: d.DonorName,
		Status:       string(d.Status),
		LedgerTxID:   d.LedgerTxID,
		LedgerURL:    s.LedgerURL(d.LedgerTxID),
		Timestamp:    d.CreatedAt,
	}
}

func (s *Service) outflowEntry(d domain.Disbursement) domain.FlowEntry {
	entry := domain.FlowEntry{
		Direction:    domain.FlowOutflow,
		ID:           d.ID,
		Amount:       d.Amount,
		AssetCode:    d.AssetCode,
		Counterparty: d.RecipientAddress,
		Purpose:      d.Purpose,
		Status:       string(d.Status),
		Timestamp:    d.CreatedAt,
		CompletedAt:  d.CompletedAt,
	}
	if d.LedgerTxID != nil {
		entry.LedgerTxID = *d.LedgerTxID
		entry.LedgerURL = s.LedgerURL(*d.LedgerTxID)
	}
	return entry
}

func transparencyOf(campaignID uuid.UUID, donations []domain.Donation, disbursements []domain.Disbursement) domain.TransparencyReport {
	m := domain.TransparencyMetrics{
		TotalDonations:         len(donations),
		CompletedDisbursements: len(disbursements),
	}
	for _, d := range donations {
		if d.LedgerTxID != "" {
			m.TraceableDonations++
		}
	}
	for _, d := range disbursements {
		if d.LedgerTxID != nil && *d.LedgerTxID != "" {
			m.TraceableDisbursements++
		}
	}
	m.AllDonationsTraceable = m.TraceableDonations == m.TotalDonations
	m.AllDisbursementsTraceable = m.TraceableDisbursements == m.CompletedDisbursements

	score := domain.TransparencyScore(m.AllDonationsTraceable, m.AllDisbursementsTraceable)
	return domain.TransparencyReport{
		CampaignID: campaignID,
		Score:      score,
		Rating:     domain.TransparencyRating(score),
		Metrics:    m,
	}
}

// AuditCampaign derives the campaign's flow summary from its completed records and
// cross-checks it against the recorded raised balance.
func (s *Service) AuditCampaign(ctx context.Context, campaignID uuid.UUID) (*domain.CampaignAudit, error) {
	campaign, err := s.GetCampaign(ctx, campaignID)
	if err != nil {
		return nil, err
	}
	donations, disbursements, err := s.campaignFlows(ctx, campaignID)
	if err != nil {
		return nil, err
	}

	audit := &domain.CampaignAudit{
		Campaign:     *campaign,
		Inflows:      make([]domain.FlowEntry, 0, len(donations)),
		Outflows:     make([]domain.FlowEntry, 0, len(disbursements)),
		Transparency: transparencyOf(campaignID, donations, disbursements),
		GeneratedAt:  s.timestamp(),
	}
	for _, d := range donations {
		audit.Summary.TotalReceived += d.Amount
		audit.Inflows = append(audit.Inflows, s.inflowEntry(d))
	}
	for _, d := range disbursements {
		audit.Summary.TotalDisbursed += d.Amount
		audit.Outflows = append(audit.Outflows, s.outflowEntry(d))
	}
	audit.Summary.CurrentBalance = audit.Summary.TotalReceived - audit.Summary.TotalDisbursed
	audit.Summary.RecordedBalance = campaign.RaisedAmount
	audit.Summary.BalanceConsistent = audit.Summary.CurrentBalance == campaign.RaisedAmount
	audit.Summary.DonationCount = len(donations)
	audit.Summary.DisbursementCount = len(disbursements)
	return audit, nil
}

// Transparency returns only the transparency score of a campaign.
func (s *Service) Transparency(ctx context.Context, campaignID uuid.UUID) (*domain.TransparencyReport, error) {
	if _, err := s.GetCampaign(ctx, campaignID); err != nil {
		return nil, err
	}
	donations, disbursements, err := s.campaignFlows(ctx, campaignID)
	if err != nil {
		return nil, err
	}
	report := transparencyOf(campaignID, donations, disbursements)
	return &report, nil
}

// TrackDonation places a donation next to its campaign's completed disbursements in
// completion order. Pooled funds are fungible, so this is an attribution view, not a
// lineage of the donor's money.
func (s *Service) TrackDonation(ctx context.Context, donationID uuid.UUID) (*domain.DonationTrail, error) {
	donation, err := s.GetDonation(ctx, donationID)
	if err != nil {
		return nil, err
	}
	campaign, err := s.GetCampaign(ctx, donation.CampaignID)
	if err != nil {
		return nil, err
	}
	_, disbursements, err := s.campaignFlows(ctx, campaign.ID)
	if err != nil {
		return nil, err
	}

	trail := &domain.DonationTrail{
		Donation:      donation.PublicView(),
		LedgerURL:     s.LedgerURL(donation.LedgerTxID),
		CampaignID:    campaign.ID,
		CampaignTitle: campaign.Title,
		Disbursements: make([]domain.FlowEntry, 0, len(disbursements)),
		TotalRaised:   campaign.RaisedAmount,
	}
	for _, d := range disbursements {
		trail.TotalSpent += d.Amount
		trail.Disbursements = append(trail.Disbursements, s.outflowEntry(d))
	}
	return trail, nil
}
