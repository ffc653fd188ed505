/**
 * @description
 * The campaign ledger: campaign management and the balance invariant
 * raised == Σ completed donations − Σ completed disbursements.
 *
 * @notes
 * - The invariant is re-checked under the campaign lock after every mutation that
 *   moves raised. A mismatch freezes the campaign; it is never corrected silently.
 */

package app

import (
	"context"
	"strings"

	"github.com/google/uuid"
	"github.com/transfa/disbursement-service/internal/domain"
	"github.com/transfa/disbursement-service/internal/ledger"
	"github.com/transfa/disbursement-service/internal/lock"
	"github.com/transfa/disbursement-service/internal/store"
	"go.uber.org/zap"
)

// CreateCampaignRequest is the input of CreateCampaign.
type CreateCampaignRequest struct {
	OrganizationID    uuid.UUID
	Title             string
	Description       string
	TargetAmount      domain.Amount
	AssetCode         string
	AssetIssuer       string
	LedgerAccount     string
	ApprovalThreshold int
	Status            domain.CampaignStatus
}

// CreateCampaign validates and stores a new campaign with a zero balance.
func (s *Service) CreateCampaign(ctx context.Context, req CreateCampaignRequest) (*domain.Campaign, error) {
	title := strings.TrimSpace(req.Title)
	if title == "" {
		return nil, domain.Errorf(domain.KindInvalidInput, "title is required")
	}
	if req.OrganizationID == uuid.Nil {
		return nil, domain.Errorf(domain.KindInvalidInput, "organization id is required")
	}
	if !req.TargetAmount.IsPositive() {
		return nil, domain.Errorf(domain.KindInvalidAmount, "target amount must be positive, got %s", req.TargetAmount)
	}
	if !s.gateway.IsValidAddress(req.LedgerAccount) {
		return nil, domain.Errorf(domain.KindInvalidInput, "ledger account %q is not a valid address", req.LedgerAccount)
	}
	asset := domain.Asset{Code: strings.ToUpper(strings.TrimSpace(req.AssetCode)), Issuer: strings.TrimSpace(req.AssetIssuer)}
	if asset.Code == "" {
		asset.Code = domain.DefaultAssetCode
	}
	if err := ledger.ValidateAsset(asset); err != nil {
		return nil, err
	}
	threshold := req.ApprovalThreshold
	if threshold < 0 {
		return nil, domain.Errorf(domain.KindInvalidInput, "approval threshold must be at least 1")
	}
	if threshold == 0 {
		threshold = s.cfg.DefaultApprovalThreshold
	}
	status := req.Status
	if status == "" {
		status = domain.CampaignActive
	}
	if status != domain.CampaignDraft && status != domain.CampaignActive {
		return nil, domain.Errorf(domain.KindInvalidInput, "campaigns start as draft or active, not %s", status)
	}

	now := s.timestamp()
	c := &domain.Campaign{
		ID:                uuid.New(),
		OrganizationID:    req.OrganizationID,
		Title:             title,
		Description:       strings.TrimSpace(req.Description),
		TargetAmount:      req.TargetAmount,
		AssetCode:         asset.Code,
		AssetIssuer:       asset.Issuer,
		LedgerAccount:     req.LedgerAccount,
		ApprovalThreshold: threshold,
		Status:            status,
		CreatedAt:         now,
		UpdatedAt:         now,
	}
	if err := s.repo.CreateCampaign(ctx, c); err != nil {
		return nil, storeError(err, "create campaign")
	}
	s.audit(ctx, "campaign", c.ID, "created", "", map[string]string{
		"target_amount": c.TargetAmount.String(),
		"asset":         c.Asset().String(),
	})
	s.logger.Info("campaign created", zap.String("campaign_id", c.ID.String()), zap.String("ledger_account", c.LedgerAccount))
	return c, nil
}

func (s *Service) GetCampaign(ctx context.Context, id uuid.UUID) (*domain.Campaign, error) {
	c, err := s.repo.FindCampaignByID(ctx, id)
	if err != nil {
		return nil, storeError(err, "find campaign "+id.String())
	}
	return c, nil
}

func (s *Service) ListCampaigns(ctx context.Context, filter store.CampaignFilter) ([]domain.Campaign, error) {
	campaigns, err := s.repo.ListCampaigns(ctx, filter)
	if err != nil {
		return nil, storeError(err, "list campaigns")
	}
	return campaigns, nil
}

// UpdateCampaignStatus applies a manual status change.
func (s *Service) UpdateCampaignStatus(ctx context.Context, id uuid.UUID, next domain.CampaignStatus, actor string) (*domain.Campaign, error) {
	var updated *domain.Campaign
	err := s.withLocks(ctx, []string{lock.CampaignKey(id)}, func(ctx context.Context) error {
		c, err := s.repo.UpdateCampaign(ctx, id, func(c *domain.Campaign) error {
			return c.TransitionTo(next, s.timestamp())
		})
		if err != nil {
			return storeError(err, "update campaign status")
		}
		updated = c
		return nil
	})
	if err != nil {
		return nil, err
	}
	s.audit(ctx, "campaign", id, "status_changed", actor, map[string]string{"status": string(updated.Status)})
	return updated, nil
}

// verifyBalance checks the campaign invariant and freezes the campaign when it fails.
// The caller must hold the campaign lock.
func (s *Service) verifyBalance(ctx context.Context, c *domain.Campaign) error {
	totals, err := s.repo.LedgerTotals(ctx, c.ID)
	if err != nil {
		return storeError(err, "recompute campaign totals")
	}
	expected := totals.ExpectedRaised()
	if c.RaisedAmount == expected && c.ReservedAmount == totals.OutstandingReserved {
		return nil
	}

	reason := "recorded raised " + c.RaisedAmount.String() + " does not match records " + expected.String()
	if c.RaisedAmount == expected {
		reason = "recorded reservations " + c.ReservedAmount.String() + " do not match open disbursements " + totals.OutstandingReserved.String()
	}
	invariantViolations.Inc()
	s.logger.Error("campaign balance invariant violated; freezing campaign",
		zap.Bool("critical", true),
		zap.String("campaign_id", c.ID.String()),
		zap.String("recorded_raised", c.RaisedAmount.String()),
		zap.String("expected_raised", expected.String()),
		zap.String("recorded_reserved", c.ReservedAmount.String()),
		zap.String("expected_reserved", totals.OutstandingReserved.String()),
	)

	if !c.Frozen() {
		if _, err := s.repo.UpdateCampaign(ctx, c.ID, func(c *domain.Campaign) error {
			c.Freeze(reason, s.timestamp())
			return nil
		}); err != nil {
			s.logger.Error("failed to freeze campaign", zap.Bool("critical", true), zap.String("campaign_id", c.ID.String()), zap.Error(err))
		}
		s.publish(ctx, domain.EventCampaignFrozen, domain.CampaignFrozenEvent{
			EventID:    uuid.NewString(),
			CampaignID: c.ID.String(),
			Reason:     reason,
			Recorded:   c.RaisedAmount,
			Expected:   expected,
			OccurredAt: s.timestamp(),
		})
		s.audit(ctx, "campaign", c.ID, "frozen", "system", map[string]string{"reason": reason})
	}

	return domain.Errorf(domain.KindInvariantViolation, "%s", reason).
		With("campaign_id", c.ID.String()).
		With("recorded_raised", c.RaisedAmount.String()).
		With("expected_raised", expected.String())
}

// VerifyCampaign checks one campaign's balance invariant under its lock.
func (s *Service) VerifyCampaign(ctx context.Context, id uuid.UUID) error {
	return s.withLocks(ctx, []string{lock.CampaignKey(id)}, func(ctx context.Context) error {
		c, err := s.repo.FindCampaignByID(ctx, id)
		if err != nil {
			return storeError(err, "find campaign "+id.String())
		}
		return s.verifyBalance(ctx, c)
	})
}

// recentDonationLimit caps the donations listed in campaign stats.
const recentDonationLimit = 10

// CampaignStats reports fundraising progress with the latest completed donations.
func (s *Service) CampaignStats(ctx context.Context, id uuid.UUID) (*domain.CampaignStats, error) {
	c, err := s.GetCampaign(ctx, id)
	if err != nil {
		return nil, err
	}
	completed := domain.DonationCompleted
	donations, err := s.ListDonations(ctx, store.DonationFilter{CampaignID: &id, Status: &completed, Limit: store.NoLimit})
	if err != nil {
		return nil, err
	}

	recent := make([]domain.Donation, 0, recentDonationLimit)
	for i := 0; i < len(donations) && i < recentDonationLimit; i++ {
		recent = append(recent, donations[i].PublicView())
	}
	return &domain.CampaignStats{
		CampaignID:        c.ID,
		Status:            c.Status,
		TotalRaised:       c.RaisedAmount,
		TargetAmount:      c.TargetAmount,
		DonationCount:     len(donations),
		PercentageReached: domain.PercentageOf(c.RaisedAmount, c.TargetAmount),
		RecentDonations:   recent,
	}, nil
}
