package domain

import "time"

// Routing keys published on the events exchange.
const (
	EventDisbursementCreated    = "disbursement.created"
	EventDisbursementApproved   = "disbursement.approved"
	EventDisbursementRejected   = "disbursement.rejected"
	EventDisbursementProcessing = "disbursement.processing"
	EventDisbursementCompleted  = "disbursement.completed"
	EventDisbursementFailed     = "disbursement.failed"
	EventDonationRecorded       = "donation.recorded"
	EventDonationReceived       = "donation.received"
	EventCampaignFrozen         = "campaign.frozen"
)

// DisbursementEvent is published on every disbursement state change.
type DisbursementEvent struct {
	EventID           string             `json:"event_id"`
	EventType         string             `json:"event_type"`
	DisbursementID    string             `json:"disbursement_id"`
	CampaignID        string             `json:"campaign_id"`
	Status            DisbursementStatus `json:"status"`
	Amount            Amount             `json:"amount"`
	AssetCode         string             `json:"asset_code"`
	RecipientAddress  string             `json:"recipient_address"`
	ApprovalCount     int                `json:"approval_count"`
	RequiredApprovals int                `json:"required_approvals"`
	Actor             string             `json:"actor,omitempty"`
	LedgerTxID        string             `json:"ledger_tx_id,omitempty"`
	FailureKind       string             `json:"failure_kind,omitempty"`
	FailureReason     string             `json:"failure_reason,omitempty"`
	OccurredAt        time.Time          `json:"occurred_at"`
}

// DonationReceivedEvent is consumed from payment watchers that observed an inflow on a
// campaign account.
type DonationReceivedEvent struct {
	EventID       string    `json:"event_id"`
	CampaignID    string    `json:"campaign_id"`
	LedgerTxID    string    `json:"ledger_tx_id"`
	Amount        Amount    `json:"amount"`
	SourceAccount string    `json:"source_account"`
	DonorID       string    `json:"donor_id"`
	DonorName     string    `json:"donor_name"`
	Message       string    `json:"message"`
	IsAnonymous   bool      `json:"is_anonymous"`
	OccurredAt    time.Time `json:"occurred_at"`
}

// DonationRecordedEvent is published after a donation is credited.
type DonationRecordedEvent struct {
	EventID     string    `json:"event_id"`
	DonationID  string    `json:"donation_id"`
	CampaignID  string    `json:"campaign_id"`
	Amount      Amount    `json:"amount"`
	LedgerTxID  string    `json:"ledger_tx_id"`
	RaisedTotal Amount    `json:"raised_total"`
	OccurredAt  time.Time `json:"occurred_at"`
}

// CampaignFrozenEvent is published when the balance invariant fails for a campaign.
type CampaignFrozenEvent struct {
	EventID    string    `json:"event_id"`
	CampaignID string    `json:"campaign_id"`
	Reason     string    `json:"reason"`
	Recorded   Amount    `json:"recorded_raised"`
	Expected   Amount    `json:"expected_raised"`
	OccurredAt time.Time `json:"occurred_at"`
}
