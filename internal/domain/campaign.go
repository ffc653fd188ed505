/**
 * @description
 * Campaign entity and the balance rules of the campaign ledger.
 *
 * @notes
 * - RaisedAmount is only changed by CreditDonation and Settle. Reservations are
 *   tracked separately in ReservedAmount so pending disbursements cannot
 *   over-commit the same funds.
 * - A frozen campaign (balance invariant violated) refuses every mutation except
 *   the settlement of a payment the ledger has already confirmed.
 */

package domain

import (
	"strings"
	"time"

	"github.com/google/uuid"
)

// CampaignStatus is the lifecycle status of a fundraising campaign.
type CampaignStatus string

const (
	CampaignDraft     CampaignStatus = "draft"
	CampaignActive    CampaignStatus = "active"
	CampaignPaused    CampaignStatus = "paused"
	CampaignCompleted CampaignStatus = "completed"
	CampaignCancelled CampaignStatus = "cancelled"
)

// DefaultApprovalThreshold applies when a campaign is created without an explicit threshold.
const DefaultApprovalThreshold = 2

var campaignTransitions = map[CampaignStatus][]CampaignStatus{
	CampaignDraft:  {CampaignActive, CampaignCancelled},
	CampaignActive: {CampaignPaused, CampaignCompleted, CampaignCancelled},
	CampaignPaused: {CampaignActive, CampaignCancelled},
}

// ParseCampaignStatus normalizes s and validates it against the known statuses.
func ParseCampaignStatus(s string) (CampaignStatus, error) {
	status := CampaignStatus(strings.ToLower(strings.TrimSpace(s)))
	switch status {
	case CampaignDraft, CampaignActive, CampaignPaused, CampaignCompleted, CampaignCancelled:
		return status, nil
	}
	return "", Errorf(KindInvalidInput, "unknown campaign status %q", s)
}

// CanTransitionTo reports whether the manual status change s -> next is allowed.
func (s CampaignStatus) CanTransitionTo(next CampaignStatus) bool {
	for _, allowed := range campaignTransitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

// Campaign is a fundraising pool backed by a ledger account.
type Campaign struct {
	ID                uuid.UUID      `json:"id"`
	OrganizationID    uuid.UUID      `json:"organization_id"`
	Title             string         `json:"title"`
	Description       string         `json:"description,omitempty"`
	TargetAmount      Amount         `json:"target_amount"`
	RaisedAmount      Amount         `json:"raised_amount"`
	ReservedAmount    Amount         `json:"reserved_amount"`
	AssetCode         string         `json:"asset_code"`
	AssetIssuer       string         `json:"asset_issuer,omitempty"`
	LedgerAccount     string         `json:"ledger_account"`
	ApprovalThreshold int            `json:"approval_threshold"`
	Status            CampaignStatus `json:"status"`
	FrozenReason      *string        `json:"frozen_reason,omitempty"`
	CreatedAt         time.Time      `json:"created_at"`
	UpdatedAt         time.Time      `json:"updated_at"`
}

// Asset returns the campaign's asset pair.
func (c *Campaign) Asset() Asset {
	return Asset{Code: c.AssetCode, Issuer: c.AssetIssuer}
}

// Available is the portion of the raised balance not held by in-flight disbursements.
func (c *Campaign) Available() Amount {
	return c.RaisedAmount - c.ReservedAmount
}

func (c *Campaign) Frozen() bool { return c.FrozenReason != nil }

// Disbursable reports whether new disbursements may be requested against the campaign.
func (c *Campaign) Disbursable() bool {
	return c.Status == CampaignActive
}

func (c *Campaign) frozenError() *Error {
	reason := ""
	if c.FrozenReason != nil {
		reason = *c.FrozenReason
	}
	return Errorf(KindInvariantViolation, "campaign %s is frozen: %s", c.ID, reason).
		With("campaign_id", c.ID.String())
}

// CreditDonation adds a confirmed donation to the raised balance and completes an
// active campaign once its target is met. Other statuses keep their status.
func (c *Campaign) CreditDonation(amount Amount, at time.Time) error {
	if c.Frozen() {
		return c.frozenError()
	}
	if !amount.IsPositive() {
		return Errorf(KindInvalidAmount, "donation amount must be positive, got %s", amount)
	}
	raised, err := c.RaisedAmount.Add(amount)
	if err != nil {
		return err
	}
	c.RaisedAmount = raised
	if c.RaisedAmount >= c.TargetAmount && c.Status == CampaignActive {
		c.Status = CampaignCompleted
	}
	c.UpdatedAt = at
	return nil
}

// Reserve holds amount for a new disbursement.
func (c *Campaign) Reserve(amount Amount, at time.Time) error {
	if c.Frozen() {
		return c.frozenError()
	}
	if !amount.IsPositive() {
		return Errorf(KindInvalidAmount, "disbursement amount must be positive, got %s", amount)
	}
	if !c.Disbursable() {
		return Errorf(KindInvalidState, "campaign %s is %s; disbursements require an active campaign", c.ID, c.Status).
			With("campaign_status", string(c.Status))
	}
	if amount > c.Available() {
		return Errorf(KindInsufficientFunds, "requested %s exceeds available balance %s", amount, c.Available()).
			With("requested", amount.String()).
			With("available", c.Available().String()).
			With("raised", c.RaisedAmount.String())
	}
	c.ReservedAmount += amount
	c.UpdatedAt = at
	return nil
}

// Release returns a reservation made for a disbursement that will never settle.
// Releasing more than is reserved means the books have drifted; nothing changes.
func (c *Campaign) Release(amount Amount, at time.Time) error {
	if amount < 0 {
		return Errorf(KindInvalidAmount, "release amount must not be negative, got %s", amount)
	}
	if amount > c.ReservedAmount {
		return Errorf(KindInvariantViolation, "release of %s exceeds reserved balance %s", amount, c.ReservedAmount).
			With("campaign_id", c.ID.String()).
			With("reserved", c.ReservedAmount.String())
	}
	c.ReservedAmount -= amount
	c.UpdatedAt = at
	return nil
}

// Settle removes a ledger-confirmed disbursement from the raised balance and its reservation.
func (c *Campaign) Settle(amount Amount, at time.Time) error {
	if !amount.IsPositive() {
		return Errorf(KindInvalidAmount, "settlement amount must be positive, got %s", amount)
	}
	if amount > c.RaisedAmount {
		return Errorf(KindInvariantViolation, "settlement of %s exceeds raised balance %s", amount, c.RaisedAmount).
			With("campaign_id", c.ID.String())
	}
	if err := c.Release(amount, at); err != nil {
		return err
	}
	c.RaisedAmount -= amount
	return nil
}

// Freeze halts further mutation on the campaign.
func (c *Campaign) Freeze(reason string, at time.Time) {
	c.FrozenReason = &reason
	c.UpdatedAt = at
}

// TransitionTo applies a manual status change.
func (c *Campaign) TransitionTo(next CampaignStatus, at time.Time) error {
	if c.Status == next {
		return nil
	}
	if !c.Status.CanTransitionTo(next) {
		return Errorf(KindInvalidState, "campaign cannot move from %s to %s", c.Status, next).
			With("from", string(c.Status)).
			With("to", string(next))
	}
	if next == CampaignCompleted && c.RaisedAmount < c.TargetAmount {
		return Errorf(KindInvalidState, "campaign has raised %s of %s and cannot complete", c.RaisedAmount, c.TargetAmount)
	}
	c.Status = next
	c.UpdatedAt = at
	return nil
}
