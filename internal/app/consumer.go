package app

import (
	"context"
	"encoding/json"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/transfa/disbursement-service/internal/domain"
	"go.uber.org/zap"
)

const donationHandleTimeout = 30 * time.Second

// donationRecorder is the part of the engine the consumer needs.
type donationRecorder interface {
	RecordDonation(ctx context.Context, req RecordDonationRequest) (*domain.Donation, *domain.Campaign, error)
}

// DonationConsumer credits campaigns from donation.received events emitted by payment
// watchers.
type DonationConsumer struct {
	recorder donationRecorder
	logger   *zap.Logger
}

func NewDonationConsumer(recorder donationRecorder, logger *zap.Logger) *DonationConsumer {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &DonationConsumer{recorder: recorder, logger: logger.Named("donation-consumer")}
}

// HandleMessage processes one event. It returns false only when the message should
// be redelivered.
func (c *DonationConsumer) HandleMessage(body []byte) bool {
	var event domain.DonationReceivedEvent
	if err := json.Unmarshal(body, &event); err != nil {
		c.logger.Warn("failed to unmarshal payload; dropping", zap.Error(err))
		return true
	}
	campaignID, err := uuid.Parse(strings.TrimSpace(event.CampaignID))
	if err != nil {
		c.logger.Warn("event has no valid campaign id; dropping", zap.String("event_id", event.EventID), zap.String("campaign_id", event.CampaignID))
		return true
	}
	if strings.TrimSpace(event.LedgerTxID) == "" {
		c.logger.Warn("event has no ledger transaction id; dropping", zap.String("event_id", event.EventID))
		return true
	}

	ctx, cancel := context.WithTimeout(context.Background(), donationHandleTimeout)
	defer cancel()

	_, _, err = c.recorder.RecordDonation(ctx, RecordDonationRequest{
		CampaignID:  campaignID,
		LedgerTxID:  event.LedgerTxID,
		Amount:      event.Amount,
		DonorID:     event.DonorID,
		DonorName:   event.DonorName,
		Message:     event.Message,
		IsAnonymous: event.IsAnonymous,
	})
	if err == nil {
		return true
	}

	log := c.logger.With(
		zap.String("event_id", event.EventID),
		zap.String("campaign_id", campaignID.String()),
		zap.String("ledger_tx_id", event.LedgerTxID),
		zap.String("kind", string(domain.KindOf(err))),
	)
	switch domain.KindOf(err) {
	case domain.KindConflict:
		log.Info("donation already recorded; acknowledging")
		return true
	case domain.KindRetryable, domain.KindTimeout, domain.KindInternal:
		log.Warn("transient failure recording donation; re-queuing", zap.Error(err))
		return false
	case domain.KindInvariantViolation:
		// Either the campaign was already frozen or it froze right after crediting.
		log.Error("donation hit a frozen campaign; operator attention required", zap.Bool("critical", true), zap.Error(err))
		return true
	default:
		log.Warn("donation event rejected; dropping", zap.Error(err))
		return true
	}
}
