/**
 * @description
 * Disbursement request, approval and rejection. Creation reserves campaign funds
 * under the campaign lock; approvals are serialized per disbursement so quorum is
 * decided exactly once.
 */

package app

import (
	"context"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/transfa/disbursement-service/internal/domain"
	"github.com/transfa/disbursement-service/internal/ledger"
	"github.com/transfa/disbursement-service/internal/lock"
	"github.com/transfa/disbursement-service/internal/store"
	"go.uber.org/zap"
)

// CreateDisbursementRequest is the input of CreateDisbursement.
type CreateDisbursementRequest struct {
	CampaignID       uuid.UUID
	RecipientAddress string
	Amount           domain.Amount
	Purpose          string
	RequestedBy      string
	ScheduledAt      *time.Time
}

// CreateDisbursement reserves the amount on the campaign and creates a pending request.
func (s *Service) CreateDisbursement(ctx context.Context, req CreateDisbursementRequest) (*domain.Disbursement, error) {
	if !req.Amount.IsPositive() {
		return nil, domain.Errorf(domain.KindInvalidAmount, "disbursement amount must be positive, got %s", req.Amount)
	}
	recipient := strings.TrimSpace(req.RecipientAddress)
	if !s.gateway.IsValidAddress(recipient) {
		return nil, domain.Errorf(domain.KindInvalidInput, "recipient %q is not a valid ledger address", req.RecipientAddress)
	}
	purpose := strings.TrimSpace(req.Purpose)
	if purpose == "" {
		return nil, domain.Errorf(domain.KindInvalidInput, "purpose is required")
	}
	requestedBy := strings.TrimSpace(req.RequestedBy)
	if requestedBy == "" {
		return nil, domain.Errorf(domain.KindInvalidInput, "requester id is required")
	}

	var created *domain.Disbursement
	err := s.withLocks(ctx, []string{lock.CampaignKey(req.CampaignID)}, func(ctx context.Context) error {
		d, _, err := s.repo.CreateDisbursement(ctx, req.CampaignID, func(c *domain.Campaign) (*domain.Disbursement, error) {
			if recipient == c.LedgerAccount {
				return nil, domain.Errorf(domain.KindInvalidInput, "recipient must differ from the campaign account")
			}
			now := s.timestamp()
			if err := c.Reserve(req.Amount, now); err != nil {
				return nil, err
			}
			d := domain.NewDisbursement(c, recipient, req.Amount, purpose, requestedBy, req.ScheduledAt, now)
			if c.ApprovalThreshold < 1 {
				d.RequiredApprovals = s.cfg.DefaultApprovalThreshold
			}
			return d, nil
		})
		if err != nil {
			return storeError(err, "create disbursement")
		}
		created = d
		return nil
	})
	if err != nil {
		return nil, err
	}

	disbursementTransitions.WithLabelValues(string(domain.DisbursementPending)).Inc()
	s.audit(ctx, "disbursement", created.ID, "created", requestedBy, map[string]string{
		"campaign_id": created.CampaignID.String(),
		"amount":      created.Amount.String(),
		"recipient":   created.RecipientAddress,
	})
	s.publishDisbursement(ctx, domain.EventDisbursementCreated, requestedBy, created)
	s.logger.Info("disbursement created",
		zap.String("disbursement_id", created.ID.String()),
		zap.String("campaign_id", created.CampaignID.String()),
		zap.String("amount", created.Amount.String()),
		zap.Int("required_approvals", created.RequiredApprovals),
	)
	return created, nil
}

// ApproveDisbursement records approverID's approval and reports whether this call
// reached quorum.
func (s *Service) ApproveDisbursement(ctx context.Context, id uuid.UUID, approverID string) (*domain.Disbursement, bool, error) {
	approverID = strings.TrimSpace(approverID)
	if approverID == "" {
		return nil, false, domain.Errorf(domain.KindInvalidInput, "approver id is required")
	}

	var (
		approved *domain.Disbursement
		quorum   bool
	)
	err := s.withLocks(ctx, []string{lock.DisbursementKey(id)}, func(ctx context.Context) error {
		d, err := s.repo.UpdateDisbursement(ctx, id, func(d *domain.Disbursement) error {
			reached, err := d.Approve(approverID, s.timestamp())
			quorum = reached
			return err
		})
		if err != nil {
			return storeError(err, "approve disbursement")
		}
		approved = d
		return nil
	})
	if err != nil {
		switch domain.KindOf(err) {
		case domain.KindDuplicateApproval:
			disbursementApprovals.WithLabelValues("duplicate").Inc()
		case domain.KindInvalidState:
			disbursementApprovals.WithLabelValues("refused").Inc()
		}
		return nil, false, err
	}

	s.audit(ctx, "disbursement", id, "approved", approverID, map[string]string{
		"approval_count":     strconv.Itoa(approved.ApprovalCount),
		"required_approvals": strconv.Itoa(approved.RequiredApprovals),
	})
	if quorum {
		disbursementApprovals.WithLabelValues("quorum").Inc()
		disbursementTransitions.WithLabelValues(string(domain.DisbursementApproved)).Inc()
		s.publishDisbursement(ctx, domain.EventDisbursementApproved, approverID, approved)
		s.logger.Info("disbursement reached quorum",
			zap.String("disbursement_id", id.String()),
			zap.Strings("approvers", approved.ApproverIDs()),
		)
	} else {
		disbursementApprovals.WithLabelValues("recorded").Inc()
	}
	return approved, quorum, nil
}

// RejectDisbursement closes a pending request and releases its reservation.
func (s *Service) RejectDisbursement(ctx context.Context, id uuid.UUID, rejectedBy, reason string) (*domain.Disbursement, error) {
	rejectedBy = strings.TrimSpace(rejectedBy)
	if rejectedBy == "" {
		return nil, domain.Errorf(domain.KindInvalidInput, "rejecting user id is required")
	}
	campaignID, err := s.campaignOf(ctx, id)
	if err != nil {
		return nil, err
	}

	var rejected *domain.Disbursement
	err = s.withLocks(ctx, []string{lock.DisbursementKey(id), lock.CampaignKey(campaignID)}, func(ctx context.Context) error {
		d, _, err := s.repo.UpdateDisbursementWithCampaign(ctx, id, func(d *domain.Disbursement, c *domain.Campaign) error {
			now := s.timestamp()
			if err := d.Reject(rejectedBy, reason, now); err != nil {
				return err
			}
			return c.Release(d.Amount, now)
		})
		if err != nil {
			return storeError(err, "reject disbursement")
		}
		rejected = d
		return nil
	})
	if err != nil {
		return nil, err
	}

	disbursementTransitions.WithLabelValues(string(domain.DisbursementRejected)).Inc()
	s.audit(ctx, "disbursement", id, "rejected", rejectedBy, map[string]string{"reason": strings.TrimSpace(reason)})
	s.publishDisbursement(ctx, domain.EventDisbursementRejected, rejectedBy, rejected)
	return rejected, nil
}

func (s *Service) campaignOf(ctx context.Context, disbursementID uuid.UUID) (uuid.UUID, error) {
	d, err := s.repo.FindDisbursementByID(ctx, disbursementID)
	if err != nil {
		return uuid.Nil, storeError(err, "find disbursement "+disbursementID.String())
	}
	return d.CampaignID, nil
}

// DisbursementDetails is a disbursement with its ledger view.
type DisbursementDetails struct {
	Disbursement *domain.Disbursement      `json:"disbursement"`
	LedgerURL    string                    `json:"ledger_url,omitempty"`
	Transaction  *ledger.TransactionRecord `json:"ledger_transaction,omitempty"`
}

// GetDisbursement returns a disbursement. With withLedger set, a completed disbursement
// also carries its ledger transaction; lookup failures are logged, not returned.
func (s *Service) GetDisbursement(ctx context.Context, id uuid.UUID, withLedger bool) (*DisbursementDetails, error) {
	d, err := s.repo.FindDisbursementByID(ctx, id)
	if err != nil {
		return nil, storeError(err, "find disbursement "+id.String())
	}
	details := &DisbursementDetails{Disbursement: d}
	if d.LedgerTxID == nil {
		return details, nil
	}
	details.LedgerURL = s.LedgerURL(*d.LedgerTxID)
	if withLedger {
		lctx, cancel := s.ledgerContext(ctx)
		defer cancel()
		record, err := s.gateway.GetTransaction(lctx, *d.LedgerTxID)
		if err != nil {
			s.logger.Warn("ledger transaction lookup failed", zap.String("disbursement_id", id.String()), zap.Error(err))
		} else {
			details.Transaction = record
		}
	}
	return details, nil
}

func (s *Service) ListDisbursements(ctx context.Context, filter store.DisbursementFilter) ([]domain.Disbursement, error) {
	disbursements, err := s.repo.ListDisbursements(ctx, filter)
	if err != nil {
		return nil, storeError(err, "list disbursements")
	}
	return disbursements, nil
}

const recentDisbursementCount = 10

// DisbursementStats summarizes a campaign's disbursements.
func (s *Service) DisbursementStats(ctx context.Context, campaignID uuid.UUID) (*domain.DisbursementStats, error) {
	if _, err := s.GetCampaign(ctx, campaignID); err != nil {
		return nil, err
	}
	all, err := s.ListDisbursements(ctx, store.DisbursementFilter{CampaignID: &campaignID, Limit: store.NoLimit})
	if err != nil {
		return nil, err
	}
	stats := &domain.DisbursementStats{
		CampaignID:     campaignID,
		CountsByStatus: make(map[domain.DisbursementStatus]int),
		Recent:         []domain.Disbursement{},
	}
	for _, d := range all {
		stats.CountsByStatus[d.Status]++
		switch {
		case d.Status == domain.DisbursementCompleted:
			stats.TotalDisbursed += d.Amount
		case d.Status.HoldsReservation():
			stats.PendingAmount += d.Amount
		}
	}
	sort.SliceStable(all, func(i, j int) bool { return all[i].CreatedAt.After(all[j].CreatedAt) })
	if len(all) > recentDisbursementCount {
		all = all[:recentDisbursementCount]
	}
	stats.Recent = append(stats.Recent, all...)
	return stats, nil
}
