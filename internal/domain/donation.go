package domain

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// DonationStatus is the status of a recorded donation.
type DonationStatus string

const (
	DonationPending   DonationStatus = "pending"
	DonationCompleted DonationStatus = "completed"
	DonationFailed    DonationStatus = "failed"
	DonationRefunded  DonationStatus = "refunded"
)

// Donation is an inflow to a campaign, backed by a ledger transaction.
// A completed donation is never mutated.
type Donation struct {
	ID            uuid.UUID      `json:"id"`
	CampaignID    uuid.UUID      `json:"campaign_id"`
	DonorID       *string        `json:"donor_id,omitempty"`
	DonorName     string         `json:"donor_name,omitempty"`
	SourceAccount string         `json:"source_account"`
	Amount        Amount         `json:"amount"`
	AssetCode     string         `json:"asset_code"`
	AssetIssuer   string         `json:"asset_issuer,omitempty"`
	LedgerTxID    string         `json:"ledger_tx_id"`
	Memo          string         `json:"memo,omitempty"`
	Message       string         `json:"message,omitempty"`
	IsAnonymous   bool           `json:"is_anonymous"`
	Status        DonationStatus `json:"status"`
	CreatedAt     time.Time      `json:"created_at"`
}

// PublicView hides donor identity for anonymous donations.
func (d Donation) PublicView() Donation {
	if d.IsAnonymous {
		d.DonorID = nil
		d.DonorName = "Anonymous"
		d.SourceAccount = ""
	}
	return d
}

// DonationStats summarizes the completed donations of a campaign.
type DonationStats struct {
	CampaignID     uuid.UUID `json:"campaign_id"`
	TotalDonations int       `json:"total_donations"`
	TotalAmount    Amount    `json:"total_amount"`
	AverageAmount  Amount    `json:"average_amount"`
	LargestAmount  Amount    `json:"largest_amount"`
	UniqueDonors   int       `json:"unique_donors"`
}

// CampaignStats is the fundraising progress of a campaign.
type CampaignStats struct {
	CampaignID        uuid.UUID       `json:"campaign_id"`
	Status            CampaignStatus  `json:"status"`
	TotalRaised       Amount          `json:"total_raised"`
	TargetAmount      Amount          `json:"target_amount"`
	DonationCount     int             `json:"donation_count"`
	PercentageReached decimal.Decimal `json:"percentage_reached"`
	RecentDonations   []Donation      `json:"recent_donations"`
}

// PercentageOf returns part as a percentage of whole rounded to two places.
func PercentageOf(part, whole Amount) decimal.Decimal {
	if whole <= 0 {
		return decimal.Zero
	}
	return part.Decimal().Mul(decimal.NewFromInt(100)).Div(whole.Decimal()).Round(2)
}

// DisbursementStats summarizes a campaign's disbursements.
type DisbursementStats struct {
	CampaignID     uuid.UUID                  `json:"campaign_id"`
	CountsByStatus map[DisbursementStatus]int `json:"counts_by_status"`
	TotalDisbursed Amount                     `json:"total_disbursed"`
	PendingAmount  Amount                     `json:"pending_amount"`
	Recent         []Disbursement             `json:"recent"`
}

// AuditLogEntry is an append-only record of an action taken on an entity.
type AuditLogEntry struct {
	ID         uuid.UUID         `json:"id"`
	EntityType string            `json:"entity_type"`
	EntityID   uuid.UUID         `json:"entity_id"`
	Action     string            `json:"action"`
	Actor      string            `json:"actor,omitempty"`
	Details    map[string]string `json:"details,omitempty"`
	CreatedAt  time.Time         `json:"created_at"`
}
