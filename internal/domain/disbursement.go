/**
 * @description
 * Disbursement entity and its lifecycle state machine.
 *
 * @notes
 * - Every status change goes through transition(), which consults the explicit
 *   disbursementTransitions table. No other code assigns Status directly.
 * - Approvals are kept as a set keyed by approver id; ApprovalCount always equals
 *   len(Approvals).
 */

package domain

import (
	"strings"
	"time"

	"github.com/google/uuid"
)

// DisbursementStatus is the lifecycle state of a disbursement request.
type DisbursementStatus string

const (
	DisbursementPending    DisbursementStatus = "pending"
	DisbursementApproved   DisbursementStatus = "approved"
	DisbursementProcessing DisbursementStatus = "processing"
	DisbursementCompleted  DisbursementStatus = "completed"
	DisbursementFailed     DisbursementStatus = "failed"
	DisbursementRejected   DisbursementStatus = "rejected"
)

// disbursementTransitions lists every legal edge of the lifecycle. Terminal
// states have no entry.
var disbursementTransitions = map[DisbursementStatus][]DisbursementStatus{
	DisbursementPending:    {DisbursementApproved, DisbursementRejected},
	DisbursementApproved:   {DisbursementProcessing},
	DisbursementProcessing: {DisbursementCompleted, DisbursementFailed},
}

// ParseDisbursementStatus normalizes s and validates it against the known statuses.
func ParseDisbursementStatus(s string) (DisbursementStatus, error) {
	status := DisbursementStatus(strings.ToLower(strings.TrimSpace(s)))
	switch status {
	case DisbursementPending, DisbursementApproved, DisbursementProcessing,
		DisbursementCompleted, DisbursementFailed, DisbursementRejected:
		return status, nil
	}
	return "", Errorf(KindInvalidInput, "unknown disbursement status %q", s)
}

// CanTransitionTo reports whether s -> next is an edge of the lifecycle.
func (s DisbursementStatus) CanTransitionTo(next DisbursementStatus) bool {
	for _, allowed := range disbursementTransitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

func (s DisbursementStatus) IsTerminal() bool {
	return len(disbursementTransitions[s]) == 0
}

// HoldsReservation reports whether a disbursement in this state still holds campaign funds.
func (s DisbursementStatus) HoldsReservation() bool {
	switch s {
	case DisbursementPending, DisbursementApproved, DisbursementProcessing:
		return true
	default:
		return false
	}
}

// Approval records one approver's sign-off.
type Approval struct {
	ApproverID string    `json:"approver_id"`
	ApprovedAt time.Time `json:"approved_at"`
}

// Disbursement is a request to release campaign funds to a recipient.
type Disbursement struct {
	ID                uuid.UUID          `json:"id"`
	CampaignID        uuid.UUID          `json:"campaign_id"`
	RecipientAddress  string             `json:"recipient_address"`
	Amount            Amount             `json:"amount"`
	AssetCode         string             `json:"asset_code"`
	AssetIssuer       string             `json:"asset_issuer,omitempty"`
	Purpose           string             `json:"purpose"`
	RequestedBy       string             `json:"requested_by"`
	Approvals         []Approval         `json:"approvals"`
	ApprovalCount     int                `json:"approval_count"`
	RequiredApprovals int                `json:"required_approvals"`
	Status            DisbursementStatus `json:"status"`
	LedgerTxID        *string            `json:"ledger_tx_id,omitempty"`
	LedgerSequence    *int64             `json:"ledger_sequence,omitempty"`
	EnvelopeHash      *string            `json:"envelope_hash,omitempty"`
	EnvelopeExpiresAt *time.Time         `json:"envelope_expires_at,omitempty"`
	FailureKind       *string            `json:"failure_kind,omitempty"`
	FailureCode       *string            `json:"failure_code,omitempty"`
	FailureReason     *string            `json:"failure_reason,omitempty"`
	RejectedBy        *string            `json:"rejected_by,omitempty"`
	ScheduledAt       *time.Time         `json:"scheduled_at,omitempty"`
	CompletedAt       *time.Time         `json:"completed_at,omitempty"`
	CreatedAt         time.Time          `json:"created_at"`
	UpdatedAt         time.Time          `json:"updated_at"`
}

// NewDisbursement builds a pending disbursement against campaign c. Balance checks are
// the caller's responsibility (Campaign.Reserve).
func NewDisbursement(c *Campaign, recipient string, amount Amount, purpose, requestedBy string, scheduledAt *time.Time, at time.Time) *Disbursement {
	required := c.ApprovalThreshold
	if required < 1 {
		required = DefaultApprovalThreshold
	}
	return &Disbursement{
		ID:                uuid.New(),
		CampaignID:        c.ID,
		RecipientAddress:  recipient,
		Amount:            amount,
		AssetCode:         c.AssetCode,
		AssetIssuer:       c.AssetIssuer,
		Purpose:           purpose,
		RequestedBy:       requestedBy,
		Approvals:         []Approval{},
		RequiredApprovals: required,
		Status:            DisbursementPending,
		ScheduledAt:       scheduledAt,
		CreatedAt:         at,
		UpdatedAt:         at,
	}
}

// Asset returns the disbursement's asset pair.
func (d *Disbursement) Asset() Asset {
	return Asset{Code: d.AssetCode, Issuer: d.AssetIssuer}
}

func (d *Disbursement) transition(next DisbursementStatus, at time.Time) error {
	if !d.Status.CanTransitionTo(next) {
		return Errorf(KindInvalidState, "disbursement %s cannot move from %s to %s", d.ID, d.Status, next).
			With("disbursement_id", d.ID.String()).
			With("from", string(d.Status)).
			With("to", string(next))
	}
	d.Status = next
	d.UpdatedAt = at
	return nil
}

// HasApproval reports whether approverID already signed off.
func (d *Disbursement) HasApproval(approverID string) bool {
	for _, a := range d.Approvals {
		if a.ApproverID == approverID {
			return true
		}
	}
	return false
}

// ApproverIDs lists approvers in the order they approved.
func (d *Disbursement) ApproverIDs() []string {
	ids := make([]string, 0, len(d.Approvals))
	for _, a := range d.Approvals {
		ids = append(ids, a.ApproverID)
	}
	return ids
}

// Approve records an approval and moves the disbursement to approved in the same step
// once the quorum is met. It returns whether quorum was reached by this call.
func (d *Disbursement) Approve(approverID string, at time.Time) (bool, error) {
	approverID = strings.TrimSpace(approverID)
	if approverID == "" {
		return false, Errorf(KindInvalidInput, "approver id is required")
	}
	if d.Status != DisbursementPending {
		return false, Errorf(KindInvalidState, "disbursement %s is %s; only pending disbursements can be approved", d.ID, d.Status).
			With("disbursement_id", d.ID.String()).
			With("status", string(d.Status))
	}
	if d.HasApproval(approverID) {
		return false, Errorf(KindDuplicateApproval, "approver %s already approved disbursement %s", approverID, d.ID).
			With("disbursement_id", d.ID.String()).
			With("approver_id", approverID)
	}
	d.Approvals = append(d.Approvals, Approval{ApproverID: approverID, ApprovedAt: at})
	d.ApprovalCount = len(d.Approvals)
	d.UpdatedAt = at
	if d.ApprovalCount >= d.RequiredApprovals {
		if err := d.transition(DisbursementApproved, at); err != nil {
			return false, err
		}
		return true, nil
	}
	return false, nil
}

// Reject closes a pending disbursement without paying it.
func (d *Disbursement) Reject(rejectedBy, reason string, at time.Time) error {
	if err := d.transition(DisbursementRejected, at); err != nil {
		return err
	}
	d.RejectedBy = optionalString(rejectedBy)
	d.FailureReason = optionalString(reason)
	return nil
}

// BeginProcessing claims an approved disbursement for execution.
func (d *Disbursement) BeginProcessing(at time.Time) error {
	return d.transition(DisbursementProcessing, at)
}

// AttachEnvelope records the hash of the envelope built for this disbursement and the
// end of its validity window. The hash is the ledger transaction id once submitted.
func (d *Disbursement) AttachEnvelope(hash string, expiresAt time.Time, at time.Time) error {
	if d.Status != DisbursementProcessing {
		return Errorf(KindInvalidState, "disbursement %s is %s; envelopes attach only while processing", d.ID, d.Status)
	}
	d.EnvelopeHash = &hash
	d.EnvelopeExpiresAt = &expiresAt
	d.UpdatedAt = at
	return nil
}

// Complete marks the disbursement as settled on the ledger.
func (d *Disbursement) Complete(txID string, ledgerSequence int64, at time.Time) error {
	if strings.TrimSpace(txID) == "" {
		return Errorf(KindInvalidInput, "ledger transaction id is required to complete a disbursement")
	}
	if err := d.transition(DisbursementCompleted, at); err != nil {
		return err
	}
	d.LedgerTxID = &txID
	if ledgerSequence > 0 {
		d.LedgerSequence = &ledgerSequence
	}
	completedAt := at
	d.CompletedAt = &completedAt
	return nil
}

// Fail marks the disbursement as failed with the cause of the failure.
func (d *Disbursement) Fail(cause error, at time.Time) error {
	if err := d.transition(DisbursementFailed, at); err != nil {
		return err
	}
	kind := string(KindOf(cause))
	d.FailureKind = &kind
	if de, ok := AsError(cause); ok && de.Code != "" {
		code := de.Code
		d.FailureCode = &code
	}
	if cause != nil {
		d.FailureReason = optionalString(cause.Error())
	}
	return nil
}

func optionalString(s string) *string {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil
	}
	return &s
}
