/**
 * @description
 * This file contains the core of the disbursement engine. The `Service` struct
 * orchestrates every money movement: campaign balance bookkeeping, the disbursement
 * state machine, multi-signature settlement against the Ledger Gateway and the
 * read-side audit. It coordinates the repository, the keyed lock manager, the
 * ledger and the event producer.
 *
 * Key features:
 * - Every campaign or disbursement mutation runs under the entity's lock and is
 *   persisted by exactly one atomic repository call.
 * - Lock order is always disbursement before campaign.
 * - Ledger calls carry their own bounded timeout.
 *
 * @dependencies
 * - go.uber.org/zap: structured logging.
 * - internal/domain, internal/store, internal/ledger, internal/lock: engine collaborators.
 * - pkg/rabbitmq: lifecycle event publishing.
 */

package app

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/transfa/disbursement-service/internal/domain"
	"github.com/transfa/disbursement-service/internal/ledger"
	"github.com/transfa/disbursement-service/internal/lock"
	"github.com/transfa/disbursement-service/internal/store"
	"github.com/transfa/disbursement-service/pkg/rabbitmq"
	"go.uber.org/zap"
)

const (
	DefaultLedgerCallTimeout = 20 * time.Second
	DefaultEventExchange     = "disbursement.events"
	publishTimeout           = 5 * time.Second
)

// Config tunes the engine.
type Config struct {
	NetworkPassphrase        string
	ExplorerURL              string
	BaseFee                  uint32
	TxValidity               time.Duration
	LedgerCallTimeout        time.Duration
	EventExchange            string
	DefaultApprovalThreshold int
}

func (c Config) withDefaults() Config {
	if strings.TrimSpace(c.NetworkPassphrase) == "" {
		c.NetworkPassphrase = ledger.DefaultNetworkPassphrase
	}
	if c.BaseFee < ledger.MinBaseFee {
		c.BaseFee = ledger.MinBaseFee
	}
	if c.TxValidity <= 0 {
		c.TxValidity = ledger.DefaultValidity
	}
	if c.LedgerCallTimeout <= 0 {
		c.LedgerCallTimeout = DefaultLedgerCallTimeout
	}
	if strings.TrimSpace(c.EventExchange) == "" {
		c.EventExchange = DefaultEventExchange
	}
	if c.DefaultApprovalThreshold < 1 {
		c.DefaultApprovalThreshold = domain.DefaultApprovalThreshold
	}
	return c
}

// Service provides the disbursement engine's operations.
type Service struct {
	repo    store.Repository
	gateway ledger.Gateway
	builder *ledger.Builder
	signer  *ledger.Aggregator
	locks   lock.Locker
	events  rabbitmq.Publisher
	logger  *zap.Logger
	cfg     Config
	now     func() time.Time
}

// NewService creates a new engine instance. A nil publisher disables events.
func NewService(repo store.Repository, gateway ledger.Gateway, locks lock.Locker, events rabbitmq.Publisher, cfg Config, logger *zap.Logger) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	if events == nil {
		events = &rabbitmq.EventProducerFallback{Logger: logger}
	}
	cfg = cfg.withDefaults()
	return &Service{
		repo:    repo,
		gateway: gateway,
		builder: ledger.NewBuilder(gateway, cfg.NetworkPassphrase, cfg.BaseFee, cfg.TxValidity),
		signer:  ledger.NewAggregator(cfg.NetworkPassphrase),
		locks:   locks,
		events:  events,
		logger:  logger.Named("engine"),
		cfg:     cfg,
		now:     time.Now,
	}
}

// SetClock replaces the engine's time source, including envelope time bounds.
func (s *Service) SetClock(now func() time.Time) {
	s.now = now
	s.builder.SetClock(now)
}

func (s *Service) timestamp() time.Time {
	return s.now().UTC()
}

// ledgerContext bounds a single Ledger Gateway call.
func (s *Service) ledgerContext(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, s.cfg.LedgerCallTimeout)
}

// LedgerURL returns the explorer link for a ledger transaction.
func (s *Service) LedgerURL(txID string) string {
	return ledger.ExplorerURL(s.cfg.ExplorerURL, txID)
}

// withLocks takes keys in order and runs fn while holding all of them. Failures to
// acquire a lock are reported as Timeout or Retryable; fn's errors pass through.
func (s *Service) withLocks(ctx context.Context, keys []string, fn func(ctx context.Context) error) error {
	if len(keys) == 0 {
		return fn(ctx)
	}
	entered := false
	err := s.locks.WithLock(ctx, keys[0], func(ctx context.Context) error {
		entered = true
		return s.withLocks(ctx, keys[1:], fn)
	})
	if err != nil && !entered {
		return lockError(keys[0], err)
	}
	return err
}

func lockError(key string, err error) error {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return domain.Wrap(domain.KindTimeout, err, "timed out waiting for lock %s", key).With("lock", key)
	}
	return domain.Wrap(domain.KindRetryable, err, "could not acquire lock %s", key).With("lock", key)
}

// storeError translates repository sentinels into domain error kinds.
func storeError(err error, op string) error {
	if err == nil {
		return nil
	}
	if _, ok := domain.AsError(err); ok {
		return err
	}
	switch {
	case errors.Is(err, store.ErrCampaignNotFound),
		errors.Is(err, store.ErrDisbursementNotFound),
		errors.Is(err, store.ErrDonationNotFound),
		errors.Is(err, store.ErrOrganizationNotFound):
		return domain.Wrap(domain.KindNotFound, err, "%s", op)
	case errors.Is(err, store.ErrDuplicateLedgerTx), errors.Is(err, store.ErrDuplicateWallet):
		return domain.Wrap(domain.KindConflict, err, "%s", op)
	case errors.Is(err, context.DeadlineExceeded):
		return domain.Wrap(domain.KindTimeout, err, "%s", op)
	default:
		return domain.Wrap(domain.KindInternal, err, "%s", op)
	}
}

// publish sends an event without letting broker trouble affect the caller.
func (s *Service) publish(ctx context.Context, routingKey string, payload interface{}) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), publishTimeout)
	defer cancel()
	if err := s.events.Publish(ctx, s.cfg.EventExchange, routingKey, payload); err != nil {
		s.logger.Warn("event publish failed",
			zap.String("component", "events"),
			zap.String("routing_key", routingKey),
			zap.Error(err),
		)
	}
}

func (s *Service) publishDisbursement(ctx context.Context, eventType, actor string, d *domain.Disbursement) {
	event := domain.DisbursementEvent{
		EventID:           uuid.NewString(),
		EventType:         eventType,
		DisbursementID:    d.ID.String(),
		CampaignID:        d.CampaignID.String(),
		Status:            d.Status,
		Amount:            d.Amount,
		AssetCode:         d.AssetCode,
		RecipientAddress:  d.RecipientAddress,
		ApprovalCount:     d.ApprovalCount,
		RequiredApprovals: d.RequiredApprovals,
		Actor:             actor,
		OccurredAt:        s.timestamp(),
	}
	if d.LedgerTxID != nil {
		event.LedgerTxID = *d.LedgerTxID
	}
	if d.FailureKind != nil {
		event.FailureKind = *d.FailureKind
	}
	if d.FailureReason != nil {
		event.FailureReason = *d.FailureReason
	}
	s.publish(ctx, eventType, event)
}

// audit appends an audit-log entry. Audit logging never fails the operation it records.
func (s *Service) audit(ctx context.Context, entityType string, entityID uuid.UUID, action, actor string, details map[string]string) {
	entry := &domain.AuditLogEntry{
		ID:         uuid.New(),
		EntityType: entityType,
		EntityID:   entityID,
		Action:     action,
		Actor:      actor,
		Details:    details,
		CreatedAt:  s.timestamp(),
	}
	if err := s.repo.AppendAuditLog(context.WithoutCancel(ctx), entry); err != nil {
		s.logger.Warn("audit log append failed",
			zap.String("entity_type", entityType),
			zap.String("entity_id", entityID.String()),
			zap.String("action", action),
			zap.Error(err),
		)
	}
}

// AuditLog returns the recorded actions on an entity, oldest first.
func (s *Service) AuditLog(ctx context.Context, entityID uuid.UUID) ([]domain.AuditLogEntry, error) {
	entries, err := s.repo.ListAuditLogs(ctx, entityID)
	if err != nil {
		return nil, storeError(err, "list audit logs")
	}
	return entries, nil
}
