package app

import (
	"context"
	"errors"
	"strings"

	"github.com/google/uuid"
	"github.com/transfa/disbursement-service/internal/domain"
	"github.com/transfa/disbursement-service/internal/ledger"
	"github.com/transfa/disbursement-service/internal/lock"
	"github.com/transfa/disbursement-service/internal/store"
	"go.uber.org/zap"
)

// RecordDonationRequest is the input of RecordDonation. A zero Amount takes the amount
// of the ledger payment.
type RecordDonationRequest struct {
	CampaignID  uuid.UUID
	LedgerTxID  string
	Amount      domain.Amount
	DonorID     string
	DonorName   string
	Message     string
	IsAnonymous bool
}

// RecordDonation verifies a payment into the campaign account on the ledger and credits
// the campaign with it.
func (s *Service) RecordDonation(ctx context.Context, req RecordDonationRequest) (*domain.Donation, *domain.Campaign, error) {
	txID := strings.ToLower(strings.TrimSpace(req.LedgerTxID))
	if !ledger.IsValidTxID(txID) {
		return nil, nil, domain.Errorf(domain.KindInvalidInput, "ledger transaction id %q is malformed", req.LedgerTxID)
	}
	if req.Amount < 0 {
		return nil, nil, domain.Errorf(domain.KindInvalidAmount, "donation amount must be positive, got %s", req.Amount)
	}

	if existing, err := s.repo.FindDonationByLedgerTxID(ctx, txID); err == nil {
		return nil, nil, domain.Errorf(domain.KindConflict, "ledger transaction %s already recorded as donation %s", txID, existing.ID).
			With("donation_id", existing.ID.String())
	} else if !errors.Is(err, store.ErrDonationNotFound) {
		return nil, nil, storeError(err, "find donation by ledger transaction")
	}

	campaign, err := s.GetCampaign(ctx, req.CampaignID)
	if err != nil {
		return nil, nil, err
	}

	payment, record, err := s.verifyInflow(ctx, campaign, txID)
	if err != nil {
		return nil, nil, err
	}
	amount := req.Amount
	if amount == 0 {
		amount = payment.Amount
	}
	if amount != payment.Amount {
		return nil, nil, domain.Errorf(domain.KindInvalidAmount, "claimed amount %s does not match ledger payment %s", amount, payment.Amount).
			With("ledger_amount", payment.Amount.String())
	}

	donation := &domain.Donation{
		ID:            uuid.New(),
		CampaignID:    campaign.ID,
		DonorID:       optionalString(req.DonorID),
		DonorName:     strings.TrimSpace(req.DonorName),
		SourceAccount: payment.From,
		Amount:        amount,
		AssetCode:     campaign.AssetCode,
		AssetIssuer:   campaign.AssetIssuer,
		LedgerTxID:    txID,
		Memo:          record.Memo,
		Message:       strings.TrimSpace(req.Message),
		IsAnonymous:   req.IsAnonymous,
		Status:        domain.DonationCompleted,
		CreatedAt:     s.timestamp(),
	}

	var credited *domain.Campaign
	err = s.withLocks(ctx, []string{lock.CampaignKey(campaign.ID)}, func(ctx context.Context) error {
		c, err := s.repo.RecordDonation(ctx, donation, func(c *domain.Campaign) error {
			return c.CreditDonation(donation.Amount, s.timestamp())
		})
		if err != nil {
			return storeError(err, "record donation")
		}
		credited = c
		return s.verifyBalance(ctx, c)
	})
	if err != nil {
		if credited == nil {
			return nil, nil, err
		}
		// Recorded, but the campaign has been frozen.
		return donation, credited, err
	}

	donationsRecorded.Inc()
	s.audit(ctx, "donation", donation.ID, "recorded", req.DonorID, map[string]string{
		"campaign_id":  campaign.ID.String(),
		"amount":       donation.Amount.String(),
		"ledger_tx_id": txID,
	})
	s.publish(ctx, domain.EventDonationRecorded, domain.DonationRecordedEvent{
		EventID:     uuid.NewString(),
		DonationID:  donation.ID.String(),
		CampaignID:  campaign.ID.String(),
		Amount:      donation.Amount,
		LedgerTxID:  txID,
		RaisedTotal: credited.RaisedAmount,
		OccurredAt:  s.timestamp(),
	})
	s.logger.Info("donation recorded",
		zap.String("donation_id", donation.ID.String()),
		zap.String("campaign_id", campaign.ID.String()),
		zap.String("amount", donation.Amount.String()),
		zap.String("raised", credited.RaisedAmount.String()),
	)
	return donation, credited, nil
}

// verifyInflow loads txID from the ledger and returns its payment into the campaign account.
func (s *Service) verifyInflow(ctx context.Context, campaign *domain.Campaign, txID string) (ledger.PaymentRecord, *ledger.TransactionRecord, error) {
	lctx, cancel := s.ledgerContext(ctx)
	defer cancel()
	record, err := s.gateway.GetTransaction(lctx, txID)
	if err != nil {
		if ledger.IsNotFound(err) {
			return ledger.PaymentRecord{}, nil, domain.Wrap(domain.KindInvalidInput, err, "ledger transaction %s not found", txID)
		}
		return ledger.PaymentRecord{}, nil, err
	}
	if !record.Successful {
		return ledger.PaymentRecord{}, nil, domain.Errorf(domain.KindInvalidInput, "ledger transaction %s was not successful", txID)
	}
	payment, ok := record.PaymentTo(campaign.LedgerAccount)
	if !ok {
		return ledger.PaymentRecord{}, nil, domain.Errorf(domain.KindInvalidInput, "ledger transaction %s has no payment to campaign account %s", txID, campaign.LedgerAccount).
			With("ledger_account", campaign.LedgerAccount)
	}
	paid := domain.Asset{Code: payment.AssetCode, Issuer: payment.AssetIssuer}
	want := campaign.Asset()
	if !(paid.IsNative() && want.IsNative()) && !(strings.EqualFold(paid.Code, want.Code) && paid.Issuer == want.Issuer) {
		return ledger.PaymentRecord{}, nil, domain.Errorf(domain.KindUnsupportedAsset, "payment asset %s does not match campaign asset %s", paid, want)
	}
	if !payment.Amount.IsPositive() {
		return ledger.PaymentRecord{}, nil, domain.Errorf(domain.KindInvalidAmount, "ledger payment amount must be positive, got %s", payment.Amount)
	}
	return payment, record, nil
}

func (s *Service) GetDonation(ctx context.Context, id uuid.UUID) (*domain.Donation, error) {
	d, err := s.repo.FindDonationByID(ctx, id)
	if err != nil {
		return nil, storeError(err, "find donation "+id.String())
	}
	return d, nil
}

func (s *Service) ListDonations(ctx context.Context, filter store.DonationFilter) ([]domain.Donation, error) {
	donations, err := s.repo.ListDonations(ctx, filter)
	if err != nil {
		return nil, storeError(err, "list donations")
	}
	return donations, nil
}

// DonationStats summarizes a campaign's completed donations.
func (s *Service) DonationStats(ctx context.Context, campaignID uuid.UUID) (*domain.DonationStats, error) {
	if _, err := s.GetCampaign(ctx, campaignID); err != nil {
		return nil, err
	}
	completed := domain.DonationCompleted
	donations, err := s.ListDonations(ctx, store.DonationFilter{CampaignID: &campaignID, Status: &completed, Limit: store.NoLimit})
	if err != nil {
		return nil, err
	}

	stats := &domain.DonationStats{CampaignID: campaignID, TotalDonations: len(donations)}
	donors := make(map[string]struct{})
	for _, d := range donations {
		stats.TotalAmount += d.Amount
		if d.Amount > stats.LargestAmount {
			stats.LargestAmount = d.Amount
		}
		donor := d.SourceAccount
		if d.DonorID != nil {
			donor = "id:" + *d.DonorID
		}
		donors[donor] = struct{}{}
	}
	stats.UniqueDonors = len(donors)
	if stats.TotalDonations > 0 {
		stats.AverageAmount = stats.TotalAmount / domain.Amount(stats.TotalDonations)
	}
	return stats, nil
}

// TransactionVerification is the ledger view of a transaction id.
type TransactionVerification struct {
	Transaction *ledger.TransactionRecord `json:"transaction"`
	LedgerURL   string                    `json:"ledger_url"`
	DonationID  *uuid.UUID                `json:"donation_id,omitempty"`
}

// VerifyTransaction looks a transaction up on the ledger and reports whether it is
// already recorded as a donation.
func (s *Service) VerifyTransaction(ctx context.Context, txID string) (*TransactionVerification, error) {
	txID = strings.ToLower(strings.TrimSpace(txID))
	if !ledger.IsValidTxID(txID) {
		return nil, domain.Errorf(domain.KindInvalidInput, "ledger transaction id %q is malformed", txID)
	}
	lctx, cancel := s.ledgerContext(ctx)
	defer cancel()
	record, err := s.gateway.GetTransaction(lctx, txID)
	if err != nil {
		return nil, err
	}
	out := &TransactionVerification{Transaction: record, LedgerURL: s.LedgerURL(txID)}
	if d, err := s.repo.FindDonationByLedgerTxID(ctx, txID); err == nil {
		out.DonationID = &d.ID
	}
	return out, nil
}

func optionalString(value string) *string {
	value = strings.TrimSpace(value)
	if value == "" {
		return nil
	}
	return &value
}
