/**
 * @description
 * Reconciliation of disbursements left in `processing` (crash mid-settlement, lost
 * ledger acknowledgement, failed post-settlement write) and of campaign balances.
 *
 * @notes
 * - A stale processing disbursement is resolved only from ledger evidence: the
 *   envelope hash is looked up on the ledger, and the disbursement is failed only
 *   once its envelope can no longer be accepted.
 * - Runs are safe to repeat and to overlap with live traffic; every resolution goes
 *   through the same locked transitions as execute.
 */

package app

import (
	"context"
	"time"

	"github.com/transfa/disbursement-service/internal/domain"
	"github.com/transfa/disbursement-service/internal/ledger"
	"github.com/transfa/disbursement-service/internal/store"
	"go.uber.org/zap"
)

const (
	DefaultReconcileStaleAfter = 2 * time.Minute
	reconcilerActor            = "reconciler"

	// expiryGrace absorbs clock skew between this service and the ledger.
	expiryGrace = 30 * time.Second
)

// ReconcileReport summarizes one reconciliation run.
type ReconcileReport struct {
	Examined         int `json:"examined"`
	Completed        int `json:"completed"`
	Failed           int `json:"failed"`
	StillPending     int `json:"still_pending"`
	Errors           int `json:"errors"`
	CampaignsChecked int `json:"campaigns_checked"`
	CampaignsFrozen  int `json:"campaigns_frozen"`
}

// Reconciler resolves stale processing disbursements and re-verifies campaign balances.
type Reconciler struct {
	svc        *Service
	staleAfter time.Duration
	logger     *zap.Logger
}

func NewReconciler(svc *Service, staleAfter time.Duration, logger *zap.Logger) *Reconciler {
	if staleAfter <= 0 {
		staleAfter = DefaultReconcileStaleAfter
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Reconciler{svc: svc, staleAfter: staleAfter, logger: logger.Named("reconciler")}
}

// Run performs one full reconciliation pass.
func (r *Reconciler) Run(ctx context.Context) (ReconcileReport, error) {
	var report ReconcileReport
	if err := r.reconcileProcessing(ctx, &report); err != nil {
		return report, err
	}
	if err := r.verifyCampaigns(ctx, &report); err != nil {
		return report, err
	}
	r.logger.Info("reconciliation finished",
		zap.Int("examined", report.Examined),
		zap.Int("completed", report.Completed),
		zap.Int("failed", report.Failed),
		zap.Int("still_pending", report.StillPending),
		zap.Int("errors", report.Errors),
		zap.Int("campaigns_checked", report.CampaignsChecked),
		zap.Int("campaigns_frozen", report.CampaignsFrozen),
	)
	return report, nil
}

func (r *Reconciler) reconcileProcessing(ctx context.Context, report *ReconcileReport) error {
	cutoff := r.svc.timestamp().Add(-r.staleAfter)
	stale, err := r.svc.ListDisbursements(ctx, store.DisbursementFilter{
		Statuses:      []domain.DisbursementStatus{domain.DisbursementProcessing},
		UpdatedBefore: &cutoff,
		Limit:         store.NoLimit,
	})
	if err != nil {
		return err
	}

	for i := range stale {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		d := &stale[i]
		report.Examined++
		outcome, err := r.resolve(ctx, d)
		log := r.logger.With(zap.String("disbursement_id", d.ID.String()), zap.String("outcome", outcome))
		if err != nil {
			report.Errors++
			log.Warn("failed to reconcile disbursement", zap.Error(err))
			continue
		}
		switch outcome {
		case "completed":
			report.Completed++
		case "failed":
			report.Failed++
		default:
			report.StillPending++
		}
		log.Info("disbursement reconciled")
	}
	return nil
}

// resolve decides the fate of one stale processing disbursement.
func (r *Reconciler) resolve(ctx context.Context, d *domain.Disbursement) (string, error) {
	now := r.svc.timestamp()
	if d.EnvelopeHash == nil {
		// Nothing was submitted: the envelope hash is stored before submission.
		cause := domain.Errorf(domain.KindTimeout, "execution interrupted before an envelope was submitted")
		if _, err := r.svc.FailDisbursement(ctx, d.ID, cause, reconcilerActor); err != nil {
			return "", err
		}
		return "failed", nil
	}

	lctx, cancel := r.svc.ledgerContext(ctx)
	record, err := r.svc.gateway.GetTransaction(lctx, *d.EnvelopeHash)
	cancel()
	switch {
	case err == nil && record.Successful:
		// A settled disbursement on a campaign that then fails its balance check is
		// still completed; the campaign is frozen separately.
		if completed, err := r.svc.CompleteDisbursement(ctx, d.ID, record.ID, record.Ledger, reconcilerActor); completed == nil {
			return "", err
		}
		return "completed", nil
	case err == nil && !record.Successful:
		cause := domain.Rejection("tx_failed", "ledger recorded transaction %s as failed", record.ID)
		if _, err := r.svc.FailDisbursement(ctx, d.ID, cause, reconcilerActor); err != nil {
			return "", err
		}
		return "failed", nil
	case ledger.IsNotFound(err):
		if !envelopeExpired(d, now, expiryGrace) {
			return "pending", nil
		}
		cause := domain.Errorf(domain.KindTimeout, "envelope %s expired without reaching the ledger", *d.EnvelopeHash)
		if _, err := r.svc.FailDisbursement(ctx, d.ID, cause, reconcilerActor); err != nil {
			return "", err
		}
		return "failed", nil
	default:
		return "", err
	}
}

func (r *Reconciler) verifyCampaigns(ctx context.Context, report *ReconcileReport) error {
	campaigns, err := r.svc.ListCampaigns(ctx, store.CampaignFilter{Limit: store.NoLimit})
	if err != nil {
		return err
	}
	for _, c := range campaigns {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if c.Status == domain.CampaignCancelled || c.Frozen() {
			continue
		}
		report.CampaignsChecked++
		if err := r.svc.VerifyCampaign(ctx, c.ID); err != nil {
			if domain.KindOf(err) == domain.KindInvariantViolation {
				report.CampaignsFrozen++
				continue
			}
			report.Errors++
			r.logger.Warn("campaign verification failed", zap.String("campaign_id", c.ID.String()), zap.Error(err))
		}
	}
	return nil
}
