package store

// Row mapping between the domain types and their SQL columns. Amounts leave as
// text and come back as text so NUMERIC values never pass through a float.

import (
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/transfa/disbursement-service/internal/domain"
)

const uniqueViolation = "23505"

type rowScanner interface {
	Scan(dest ...any) error
}

const organizationColumns = `id, name, wallet_address, verified, email, description, created_at, updated_at`

const campaignColumns = `id, organization_id, title, description, target_amount::text, raised_amount::text,
	reserved_amount::text, asset_code, asset_issuer, ledger_account, approval_threshold, status,
	frozen_reason, created_at, updated_at`

const disbursementColumns = `id, campaign_id, recipient_address, amount::text, asset_code, asset_issuer,
	purpose, requested_by, approval_count, required_approvals, status, ledger_tx_id, ledger_sequence,
	envelope_hash, envelope_expires_at, failure_kind, failure_code, failure_reason, rejected_by,
	scheduled_at, completed_at, created_at, updated_at`

const donationColumns = `id, campaign_id, donor_id, donor_name, source_account, amount::text, asset_code,
	asset_issuer, ledger_tx_id, memo, message, is_anonymous, status, created_at`

// uniqueViolationOn reports whether err is a unique violation on a constraint
// covering column.
func uniqueViolationOn(err error, column string) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == uniqueViolation && strings.Contains(pgErr.ConstraintName, column)
}

// mapOrganizationError turns a unique violation on the wallet column into
// ErrDuplicateWallet.
func mapOrganizationError(op string, err error) error {
	if uniqueViolationOn(err, "wallet_address") {
		return fmt.Errorf("%s: %w", op, ErrDuplicateWallet)
	}
	return fmt.Errorf("failed to %s: %w", op, err)
}

// mapWriteError turns a unique violation on a ledger_tx_id column into
// ErrDuplicateLedgerTx and wraps anything else with the failed operation.
func mapWriteError(op string, err error) error {
	if uniqueViolationOn(err, "ledger_tx_id") {
		return fmt.Errorf("%s: %w", op, ErrDuplicateLedgerTx)
	}
	return fmt.Errorf("failed to %s: %w", op, err)
}

func lowerPtr(s *string) *string {
	if s == nil {
		return nil
	}
	lowered := strings.ToLower(*s)
	return &lowered
}

func organizationArgs(o *domain.Organization) []any {
	return []any{o.ID, o.Name, o.WalletAddress, o.Verified, o.Email, o.Description, o.CreatedAt, o.UpdatedAt}
}

func scanOrganization(row rowScanner) (*domain.Organization, error) {
	var o domain.Organization
	err := row.Scan(&o.ID, &o.Name, &o.WalletAddress, &o.Verified, &o.Email, &o.Description, &o.CreatedAt, &o.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &o, nil
}

func campaignInsertArgs(c *domain.Campaign) []any {
	return []any{
		c.ID, c.OrganizationID, c.Title, c.Description, c.TargetAmount.String(), c.RaisedAmount.String(),
		c.ReservedAmount.String(), c.AssetCode, c.AssetIssuer, c.LedgerAccount, c.ApprovalThreshold,
		string(c.Status), c.FrozenReason, c.CreatedAt, c.UpdatedAt,
	}
}

func campaignUpdateArgs(c *domain.Campaign) []any {
	return []any{
		c.ID, c.Title, c.Description, c.TargetAmount.String(), c.RaisedAmount.String(),
		c.ReservedAmount.String(), c.ApprovalThreshold, string(c.Status), c.FrozenReason, c.UpdatedAt,
	}
}

func disbursementUpdateArgs(d *domain.Disbursement) []any {
	return []any{
		d.ID, d.ApprovalCount, string(d.Status), lowerPtr(d.LedgerTxID), d.LedgerSequence, lowerPtr(d.EnvelopeHash),
		d.EnvelopeExpiresAt, d.FailureKind, d.FailureCode, d.FailureReason, d.RejectedBy, d.CompletedAt,
		d.UpdatedAt,
	}
}

func donationInsertArgs(d *domain.Donation) []any {
	return []any{
		d.ID, d.CampaignID, d.DonorID, d.DonorName, d.SourceAccount, d.Amount.String(), d.AssetCode,
		d.AssetIssuer, strings.ToLower(d.LedgerTxID), d.Memo, d.Message, d.IsAnonymous, string(d.Status),
		d.CreatedAt,
	}
}

func parseStoredAmount(raw, column string) (domain.Amount, error) {
	amount, err := domain.ParseAmount(raw)
	if err != nil {
		return 0, fmt.Errorf("failed to parse %s %q: %w", column, raw, err)
	}
	return amount, nil
}

func scanCampaign(row rowScanner) (*domain.Campaign, error) {
	var (
		c                        domain.Campaign
		target, raised, reserved string
		status                   string
	)
	err := row.Scan(
		&c.ID, &c.OrganizationID, &c.Title, &c.Description, &target, &raised, &reserved,
		&c.AssetCode, &c.AssetIssuer, &c.LedgerAccount, &c.ApprovalThreshold, &status,
		&c.FrozenReason, &c.CreatedAt, &c.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	c.Status = domain.CampaignStatus(status)
	if c.TargetAmount, err = parseStoredAmount(target, "target_amount"); err != nil {
		return nil, err
	}
	if c.RaisedAmount, err = parseStoredAmount(raised, "raised_amount"); err != nil {
		return nil, err
	}
	if c.ReservedAmount, err = parseStoredAmount(reserved, "reserved_amount"); err != nil {
		return nil, err
	}
	return &c, nil
}

func scanDisbursement(row rowScanner) (*domain.Disbursement, error) {
	var (
		d      domain.Disbursement
		amount string
		status string
	)
	err := row.Scan(
		&d.ID, &d.CampaignID, &d.RecipientAddress, &amount, &d.AssetCode, &d.AssetIssuer,
		&d.Purpose, &d.RequestedBy, &d.ApprovalCount, &d.RequiredApprovals, &status, &d.LedgerTxID,
		&d.LedgerSequence, &d.EnvelopeHash, &d.EnvelopeExpiresAt, &d.FailureKind, &d.FailureCode,
		&d.FailureReason, &d.RejectedBy, &d.ScheduledAt, &d.CompletedAt, &d.CreatedAt, &d.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	d.Status = domain.DisbursementStatus(status)
	if d.Amount, err = parseStoredAmount(amount, "amount"); err != nil {
		return nil, err
	}
	d.Approvals = []domain.Approval{}
	return &d, nil
}

func scanDonation(row rowScanner) (*domain.Donation, error) {
	var (
		d      domain.Donation
		amount string
		status string
	)
	err := row.Scan(
		&d.ID, &d.CampaignID, &d.DonorID, &d.DonorName, &d.SourceAccount, &amount, &d.AssetCode,
		&d.AssetIssuer, &d.LedgerTxID, &d.Memo, &d.Message, &d.IsAnonymous, &status, &d.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	d.Status = domain.DonationStatus(status)
	if d.Amount, err = parseStoredAmount(amount, "amount"); err != nil {
		return nil, err
	}
	return &d, nil
}
