/**
 * @description
 * Execution of approved disbursements: the approved -> processing claim, envelope
 * construction, multi-signature application, submission to the Ledger Gateway and
 * the final completed/failed transition together with the campaign balance.
 *
 * @notes
 * - approved -> processing is committed before any ledger call, so only one
 *   execute can ever reach the network for a disbursement.
 * - Once processing, the work runs detached from the caller's context and every
 *   ledger call carries its own timeout.
 * - A submission that times out has an unknown outcome. The disbursement stays
 *   processing with its envelope hash recorded until the ledger confirms it or
 *   the envelope's time bound passes (see Reconciler).
 * - A failed envelope is never resubmitted.
 */

package app

import (
	"context"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/transfa/disbursement-service/internal/domain"
	"github.com/transfa/disbursement-service/internal/ledger"
	"github.com/transfa/disbursement-service/internal/lock"
	"go.uber.org/zap"
)

// ExecuteResult is the outcome of a successful execute.
type ExecuteResult struct {
	Disbursement *domain.Disbursement `json:"disbursement"`
	TxID         string               `json:"tx_id"`
	LedgerURL    string               `json:"ledger_url"`
}

// ExecuteDisbursement settles an approved disbursement on the ledger using the given
// signer credentials (secret seeds), applied in the order supplied.
func (s *Service) ExecuteDisbursement(ctx context.Context, id uuid.UUID, credentials []string, actor string) (*ExecuteResult, error) {
	keys, err := ledger.ParseCredentials(credentials)
	if err != nil {
		return nil, err
	}
	current, err := s.repo.FindDisbursementByID(ctx, id)
	if err != nil {
		return nil, storeError(err, "find disbursement "+id.String())
	}
	campaign, err := s.GetCampaign(ctx, current.CampaignID)
	if err != nil {
		return nil, err
	}

	var claimed *domain.Disbursement
	err = s.withLocks(ctx, []string{lock.DisbursementKey(id)}, func(ctx context.Context) error {
		d, err := s.repo.UpdateDisbursement(ctx, id, func(d *domain.Disbursement) error {
			return d.BeginProcessing(s.timestamp())
		})
		if err != nil {
			return storeError(err, "claim disbursement for execution")
		}
		claimed = d
		return nil
	})
	if err != nil {
		return nil, err
	}

	started := s.now()
	disbursementTransitions.WithLabelValues(string(domain.DisbursementProcessing)).Inc()
	s.audit(ctx, "disbursement", id, "processing", actor, nil)
	s.publishDisbursement(ctx, domain.EventDisbursementProcessing, actor, claimed)

	// From here on the work must finish regardless of the caller.
	opCtx := context.WithoutCancel(ctx)
	log := s.logger.With(zap.String("disbursement_id", id.String()), zap.String("campaign_id", campaign.ID.String()))

	result, settleErr := s.settle(opCtx, claimed, campaign, keys)
	settlementDuration.Observe(s.now().Sub(started).Seconds())

	if settleErr != nil {
		if domain.KindOf(settleErr) == domain.KindTimeout && claimed.EnvelopeHash != nil {
			return s.resolveUnacknowledged(opCtx, claimed, settleErr, actor, log)
		}
		settlementAttempts.WithLabelValues(string(domain.KindOf(settleErr))).Inc()
		log.Warn("settlement failed", zap.String("kind", string(domain.KindOf(settleErr))), zap.Error(settleErr))
		if _, err := s.FailDisbursement(opCtx, id, settleErr, actor); err != nil {
			log.Error("failed to record settlement failure", zap.Bool("critical", true), zap.Error(err))
		}
		return nil, settleErr
	}

	settlementAttempts.WithLabelValues("success").Inc()
	completed, err := s.CompleteDisbursement(opCtx, id, result.TxID, result.Ledger, actor)
	if err != nil && completed == nil {
		log.Error("ledger accepted payment but recording it failed; left processing for reconciliation",
			zap.Bool("critical", true),
			zap.String("tx_id", result.TxID),
			zap.Error(err),
		)
		return nil, domain.Wrap(domain.KindInternal, err, "payment settled on ledger as %s but could not be recorded", result.TxID).
			With("tx_id", result.TxID).
			With("disbursement_id", id.String())
	}
	out := &ExecuteResult{Disbursement: completed, TxID: result.TxID, LedgerURL: s.LedgerURL(result.TxID)}
	return out, err
}

// settle builds, signs and submits the payment for d. It records the envelope hash on
// d (and in the store) before submission.
func (s *Service) settle(ctx context.Context, d *domain.Disbursement, campaign *domain.Campaign, keys []*ledger.KeyPair) (*ledger.SubmitResult, error) {
	buildCtx, cancel := s.ledgerContext(ctx)
	built, err := s.builder.BuildPayment(buildCtx, ledger.PaymentRequest{
		Source:      campaign.LedgerAccount,
		Destination: d.RecipientAddress,
		Asset:       d.Asset(),
		Amount:      d.Amount,
		Memo:        d.Purpose,
	})
	cancel()
	if err != nil {
		return nil, err
	}

	signed, err := s.signer.ApplyAll(ctx, built, keys)
	if err != nil {
		return nil, err
	}
	weight, err := ledger.SignatureWeight(signed, s.builder.Passphrase(), built.Account)
	if err != nil {
		return nil, err
	}
	if weight < built.Account.PaymentThreshold() {
		return nil, domain.Errorf(domain.KindInvalidCredential, "signatures carry weight %d, account requires %d", weight, built.Account.PaymentThreshold()).
			With("weight", strconv.Itoa(weight))
	}
	encoded, err := ledger.EncodeEnvelope(signed)
	if err != nil {
		return nil, domain.Wrap(domain.KindInternal, err, "encode envelope")
	}

	withEnvelope, err := s.repo.UpdateDisbursement(ctx, d.ID, func(d *domain.Disbursement) error {
		return d.AttachEnvelope(built.TxID, built.ExpiresAt, s.timestamp())
	})
	if err != nil {
		return nil, storeError(err, "record envelope hash")
	}
	*d = *withEnvelope

	submitCtx, cancel := s.ledgerContext(ctx)
	defer cancel()
	result, err := s.gateway.Submit(submitCtx, encoded)
	if err != nil {
		if submitCtx.Err() != nil && domain.KindOf(err) != domain.KindTimeout {
			err = domain.Wrap(domain.KindTimeout, err, "ledger submission timed out")
		}
		return nil, err
	}
	if result.TxID == "" {
		result.TxID = built.TxID
	}
	return result, nil
}

// resolveUnacknowledged handles a submission whose outcome is unknown. If the ledger
// already has the transaction it is completed; otherwise the disbursement stays
// processing until its time bound passes.
func (s *Service) resolveUnacknowledged(ctx context.Context, d *domain.Disbursement, cause error, actor string, log *zap.Logger) (*ExecuteResult, error) {
	lctx, cancel := s.ledgerContext(ctx)
	record, err := s.gateway.GetTransaction(lctx, *d.EnvelopeHash)
	cancel()
	if err == nil && record.Successful {
		settlementAttempts.WithLabelValues("success").Inc()
		completed, err := s.CompleteDisbursement(ctx, d.ID, record.ID, record.Ledger, actor)
		if completed == nil {
			log.Error("failed to record confirmed settlement", zap.Bool("critical", true), zap.String("tx_id", record.ID), zap.Error(err))
			return nil, domain.Wrap(domain.KindInternal, err, "payment settled on ledger as %s but could not be recorded", record.ID).
				With("tx_id", record.ID)
		}
		return &ExecuteResult{Disbursement: completed, TxID: record.ID, LedgerURL: s.LedgerURL(record.ID)}, err
	}
	settlementAttempts.WithLabelValues("unknown").Inc()
	log.Warn("ledger did not acknowledge submission; awaiting reconciliation",
		zap.String("envelope_hash", *d.EnvelopeHash),
		zap.Timep("envelope_expires_at", d.EnvelopeExpiresAt),
		zap.Error(cause),
	)
	if de, ok := domain.AsError(cause); ok {
		de.With("disbursement_id", d.ID.String()).With("envelope_hash", *d.EnvelopeHash)
	}
	return nil, cause
}

// CompleteDisbursement records a ledger-confirmed settlement: the disbursement moves
// to completed and the amount leaves the campaign balance in one atomic update.
// A non-nil disbursement with a non-nil error means the settlement was recorded but
// the campaign failed its balance check afterwards.
func (s *Service) CompleteDisbursement(ctx context.Context, id uuid.UUID, txID string, ledgerSeq int64, actor string) (*domain.Disbursement, error) {
	campaignID, err := s.campaignOf(ctx, id)
	if err != nil {
		return nil, err
	}
	var (
		completed *domain.Disbursement
		verifyErr error
	)
	err = s.withLocks(ctx, []string{lock.DisbursementKey(id), lock.CampaignKey(campaignID)}, func(ctx context.Context) error {
		d, c, err := s.repo.UpdateDisbursementWithCampaign(ctx, id, func(d *domain.Disbursement, c *domain.Campaign) error {
			now := s.timestamp()
			if err := d.Complete(txID, ledgerSeq, now); err != nil {
				return err
			}
			return c.Settle(d.Amount, now)
		})
		if err != nil {
			return storeError(err, "complete disbursement")
		}
		completed = d
		verifyErr = s.verifyBalance(ctx, c)
		return nil
	})
	if err != nil {
		return nil, err
	}

	disbursementTransitions.WithLabelValues(string(domain.DisbursementCompleted)).Inc()
	s.audit(ctx, "disbursement", id, "completed", actor, map[string]string{"ledger_tx_id": txID})
	s.publishDisbursement(ctx, domain.EventDisbursementCompleted, actor, completed)
	s.logger.Info("disbursement settled",
		zap.String("disbursement_id", id.String()),
		zap.String("tx_id", txID),
		zap.Int64("ledger", ledgerSeq),
	)
	return completed, verifyErr
}

// FailDisbursement moves a processing disbursement to failed and releases its reservation.
func (s *Service) FailDisbursement(ctx context.Context, id uuid.UUID, cause error, actor string) (*domain.Disbursement, error) {
	campaignID, err := s.campaignOf(ctx, id)
	if err != nil {
		return nil, err
	}
	var failed *domain.Disbursement
	err = s.withLocks(ctx, []string{lock.DisbursementKey(id), lock.CampaignKey(campaignID)}, func(ctx context.Context) error {
		d, _, err := s.repo.UpdateDisbursementWithCampaign(ctx, id, func(d *domain.Disbursement, c *domain.Campaign) error {
			now := s.timestamp()
			if err := d.Fail(cause, now); err != nil {
				return err
			}
			return c.Release(d.Amount, now)
		})
		if err != nil {
			return storeError(err, "fail disbursement")
		}
		failed = d
		return nil
	})
	if err != nil {
		return nil, err
	}

	disbursementTransitions.WithLabelValues(string(domain.DisbursementFailed)).Inc()
	details := map[string]string{"kind": string(domain.KindOf(cause))}
	if failed.FailureCode != nil {
		details["code"] = *failed.FailureCode
	}
	s.audit(ctx, "disbursement", id, "failed", actor, details)
	s.publishDisbursement(ctx, domain.EventDisbursementFailed, actor, failed)
	return failed, nil
}

// envelopeExpired reports whether d's envelope can no longer be accepted by the ledger.
func envelopeExpired(d *domain.Disbursement, now time.Time, grace time.Duration) bool {
	if d.EnvelopeExpiresAt == nil {
		return false
	}
	return now.After(d.EnvelopeExpiresAt.Add(grace))
}
