package domain

import (
	"time"

	"github.com/google/uuid"
)

// Flow directions used in audit reports.
const (
	FlowInflow  = "inflow"
	FlowOutflow = "outflow"
)

// Transparency ratings.
const (
	RatingExcellent        = "Excellent"
	RatingGood             = "Good"
	RatingFair             = "Fair"
	RatingNeedsImprovement = "Needs Improvement"
)

// FlowEntry is one money movement in an audit trail.
type FlowEntry struct {
	Direction    string     `json:"direction"`
	ID           uuid.UUID  `json:"id"`
	Amount       Amount     `json:"amount"`
	AssetCode    string     `json:"asset_code"`
	Counterparty string     `json:"counterparty,omitempty"`
	Purpose      string     `json:"purpose,omitempty"`
	Status       string     `json:"status"`
	LedgerTxID   string     `json:"ledger_tx_id,omitempty"`
	LedgerURL    string     `json:"ledger_url,omitempty"`
	Timestamp    time.Time  `json:"timestamp"`
	CompletedAt  *time.Time `json:"completed_at,omitempty"`
}

// AuditSummary holds the derived totals of a campaign audit.
type AuditSummary struct {
	TotalReceived     Amount `json:"total_received"`
	TotalDisbursed    Amount `json:"total_disbursed"`
	CurrentBalance    Amount `json:"current_balance"`
	RecordedBalance   Amount `json:"recorded_balance"`
	BalanceConsistent bool   `json:"balance_consistent"`
	DonationCount     int    `json:"donation_count"`
	DisbursementCount int    `json:"disbursement_count"`
}

// TransparencyMetrics are the counts behind a transparency score.
type TransparencyMetrics struct {
	TotalDonations            int  `json:"total_donations"`
	TraceableDonations        int  `json:"traceable_donations"`
	CompletedDisbursements    int  `json:"completed_disbursements"`
	TraceableDisbursements    int  `json:"traceable_disbursements"`
	AllDonationsTraceable     bool `json:"all_donations_traceable"`
	AllDisbursementsTraceable bool `json:"all_disbursements_traceable"`
}

// TransparencyReport is the score, rating and metrics for one campaign.
type TransparencyReport struct {
	CampaignID uuid.UUID           `json:"campaign_id"`
	Score      int                 `json:"score"`
	Rating     string              `json:"rating"`
	Metrics    TransparencyMetrics `json:"metrics"`
}

// CampaignAudit is the full audit of a campaign's money movements.
type CampaignAudit struct {
	Campaign     Campaign           `json:"campaign"`
	Summary      AuditSummary       `json:"summary"`
	Inflows      []FlowEntry        `json:"inflows"`
	Outflows     []FlowEntry        `json:"outflows"`
	Transparency TransparencyReport `json:"transparency"`
	GeneratedAt  time.Time          `json:"generated_at"`
}

// DonationTrail places a donation next to the campaign's completed disbursements in
// completion order. It is a proportional view of where pooled funds went, not a lineage.
type DonationTrail struct {
	Donation      Donation    `json:"donation"`
	LedgerURL     string      `json:"ledger_url,omitempty"`
	CampaignID    uuid.UUID   `json:"campaign_id"`
	CampaignTitle string      `json:"campaign_title"`
	Disbursements []FlowEntry `json:"disbursements"`
	TotalRaised   Amount      `json:"total_raised"`
	TotalSpent    Amount      `json:"total_spent"`
}

// TransparencyScore awards 50 points when every donation carries a ledger transaction id
// and 50 when every completed disbursement does.
func TransparencyScore(allDonationsTraceable, allDisbursementsTraceable bool) int {
	score := 0
	if allDonationsTraceable {
		score += 50
	}
	if allDisbursementsTraceable {
		score += 50
	}
	return score
}

// TransparencyRating maps a score onto its rating band.
func TransparencyRating(score int) string {
	switch {
	case score >= 100:
		return RatingExcellent
	case score >= 80:
		return RatingGood
	case score >= 60:
		return RatingFair
	default:
		return RatingNeedsImprovement
	}
}
