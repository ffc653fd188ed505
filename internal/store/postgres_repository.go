/**
 * @description
 * This file provides the PostgreSQL implementation of the `Repository` interface.
 * Each mutation runs in one transaction: the affected rows are locked with
 * SELECT ... FOR UPDATE, handed to the caller's mutate callback, and written back
 * before commit.
 *
 * @notes
 * - Amounts are stored as NUMERIC(20,7) and travel as text in both directions so
 *   no value ever passes through a float.
 *
 * @dependencies
 * - github.com/jackc/pgx/v5: The PostgreSQL driver for database operations.
 * - internal/domain: Contains the domain models used for data transfer.
 */

package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/transfa/disbursement-service/internal/domain"
)

// PostgresRepository is a concrete implementation of the Repository interface for PostgreSQL.
type PostgresRepository struct {
	db *pgxpool.Pool
}

// NewPostgresRepository creates a new instance of PostgresRepository.
func NewPostgresRepository(db *pgxpool.Pool) *PostgresRepository {
	return &PostgresRepository{db: db}
}

// querier is satisfied by both the pool and a transaction.
type querier interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

func (r *PostgresRepository) CreateOrganization(ctx context.Context, o *domain.Organization) error {
	query := `
		INSERT INTO organizations (id, name, wallet_address, verified, email, description, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`
	if _, err := r.db.Exec(ctx, query, organizationArgs(o)...); err != nil {
		return mapOrganizationError("insert organization", err)
	}
	return nil
}

func (r *PostgresRepository) findOrganization(ctx context.Context, column string, value any) (*domain.Organization, error) {
	o, err := scanOrganization(r.db.QueryRow(ctx, "SELECT "+organizationColumns+" FROM organizations WHERE "+column+" = $1", value))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrOrganizationNotFound
		}
		return nil, err
	}
	return o, nil
}

func (r *PostgresRepository) FindOrganizationByID(ctx context.Context, id uuid.UUID) (*domain.Organization, error) {
	return r.findOrganization(ctx, "id", id)
}

func (r *PostgresRepository) FindOrganizationByWallet(ctx context.Context, wallet string) (*domain.Organization, error) {
	return r.findOrganization(ctx, "wallet_address", wallet)
}

func (r *PostgresRepository) ListOrganizations(ctx context.Context, filter OrganizationFilter) ([]domain.Organization, error) {
	var (
		conditions []string
		args       []any
	)
	if filter.Verified != nil {
		args = append(args, *filter.Verified)
		conditions = append(conditions, fmt.Sprintf("verified = $%d", len(args)))
	}
	query := "SELECT " + organizationColumns + " FROM organizations" + whereClause(conditions) + " ORDER BY created_at DESC"
	query, args = appendPagination(query, args, filter.Limit, filter.Offset)

	rows, err := r.db.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var organizations []domain.Organization
	for rows.Next() {
		o, err := scanOrganization(rows)
		if err != nil {
			return nil, err
		}
		organizations = append(organizations, *o)
	}
	return organizations, rows.Err()
}

// UpdateOrganization applies mutate to the organization under a row lock.
func (r *PostgresRepository) UpdateOrganization(ctx context.Context, id uuid.UUID, mutate OrganizationMutation) (*domain.Organization, error) {
	tx, err := r.db.Begin(ctx)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback(ctx)

	o, err := scanOrganization(tx.QueryRow(ctx, "SELECT "+organizationColumns+" FROM organizations WHERE id = $1 FOR UPDATE", id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrOrganizationNotFound
		}
		return nil, err
	}
	if err := mutate(o); err != nil {
		return nil, err
	}
	query := `
		UPDATE organizations
		SET name = $2, wallet_address = $3, verified = $4, email = $5, description = $6, updated_at = $7
		WHERE id = $1
	`
	if _, err := tx.Exec(ctx, query, o.ID, o.Name, o.WalletAddress, o.Verified, o.Email, o.Description, o.UpdatedAt); err != nil {
		return nil, mapOrganizationError("update organization", err)
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, err
	}
	return o, nil
}

// CreateCampaign inserts a new campaign row.
func (r *PostgresRepository) CreateCampaign(ctx context.Context, c *domain.Campaign) error {
	query := `
		INSERT INTO campaigns (id, organization_id, title, description, target_amount, raised_amount,
			reserved_amount, asset_code, asset_issuer, ledger_account, approval_threshold, status,
			frozen_reason, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5::numeric, $6::numeric, $7::numeric, $8, $9, $10, $11, $12, $13, $14, $15)
	`
	_, err := r.db.Exec(ctx, query, campaignInsertArgs(c)...)
	return err
}

func (r *PostgresRepository) FindCampaignByID(ctx context.Context, id uuid.UUID) (*domain.Campaign, error) {
	c, err := scanCampaign(r.db.QueryRow(ctx, "SELECT "+campaignColumns+" FROM campaigns WHERE id = $1", id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrCampaignNotFound
		}
		return nil, err
	}
	return c, nil
}

func (r *PostgresRepository) ListCampaigns(ctx context.Context, filter CampaignFilter) ([]domain.Campaign, error) {
	var (
		conditions []string
		args       []any
	)
	if filter.Status != nil {
		args = append(args, string(*filter.Status))
		conditions = append(conditions, fmt.Sprintf("status = $%d", len(args)))
	}
	if filter.OrganizationID != nil {
		args = append(args, *filter.OrganizationID)
		conditions = append(conditions, fmt.Sprintf("organization_id = $%d", len(args)))
	}
	query := "SELECT " + campaignColumns + " FROM campaigns" + whereClause(conditions) + " ORDER BY created_at DESC"
	query, args = appendPagination(query, args, filter.Limit, filter.Offset)

	rows, err := r.db.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var campaigns []domain.Campaign
	for rows.Next() {
		c, err := scanCampaign(rows)
		if err != nil {
			return nil, err
		}
		campaigns = append(campaigns, *c)
	}
	return campaigns, rows.Err()
}

func lockCampaign(ctx context.Context, tx pgx.Tx, id uuid.UUID) (*domain.Campaign, error) {
	c, err := scanCampaign(tx.QueryRow(ctx, "SELECT "+campaignColumns+" FROM campaigns WHERE id = $1 FOR UPDATE", id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrCampaignNotFound
		}
		return nil, err
	}
	return c, nil
}

func writeCampaign(ctx context.Context, tx pgx.Tx, c *domain.Campaign) error {
	query := `
		UPDATE campaigns
		SET title = $2, description = $3, target_amount = $4::numeric, raised_amount = $5::numeric,
			reserved_amount = $6::numeric, approval_threshold = $7, status = $8, frozen_reason = $9,
			updated_at = $10
		WHERE id = $1
	`
	_, err := tx.Exec(ctx, query, campaignUpdateArgs(c)...)
	return err
}

// UpdateCampaign applies mutate to the campaign under a row lock.
func (r *PostgresRepository) UpdateCampaign(ctx context.Context, id uuid.UUID, mutate CampaignMutation) (*domain.Campaign, error) {
	tx, err := r.db.Begin(ctx)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback(ctx)

	c, err := lockCampaign(ctx, tx, id)
	if err != nil {
		return nil, err
	}
	if err := mutate(c); err != nil {
		return nil, err
	}
	if err := writeCampaign(ctx, tx, c); err != nil {
		return nil, fmt.Errorf("failed to update campaign: %w", err)
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, err
	}
	return c, nil
}

func insertDisbursement(ctx context.Context, tx pgx.Tx, d *domain.Disbursement) error {
	query := `
		INSERT INTO disbursements (id, campaign_id, recipient_address, amount, asset_code, asset_issuer,
			purpose, requested_by, approval_count, required_approvals, status, scheduled_at, created_at, updated_at)
		VALUES ($1, $2, $3, $4::numeric, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)
	`
	_, err := tx.Exec(ctx, query,
		d.ID, d.CampaignID, d.RecipientAddress, d.Amount.String(), d.AssetCode, d.AssetIssuer,
		d.Purpose, d.RequestedBy, d.ApprovalCount, d.RequiredApprovals, string(d.Status), d.ScheduledAt,
		d.CreatedAt, d.UpdatedAt,
	)
	return err
}

// CreateDisbursement reserves funds on the locked campaign and inserts the disbursement.
func (r *PostgresRepository) CreateDisbursement(ctx context.Context, campaignID uuid.UUID, mutate DisbursementCreationMutation) (*domain.Disbursement, *domain.Campaign, error) {
	tx, err := r.db.Begin(ctx)
	if err != nil {
		return nil, nil, err
	}
	defer tx.Rollback(ctx)

	c, err := lockCampaign(ctx, tx, campaignID)
	if err != nil {
		return nil, nil, err
	}
	d, err := mutate(c)
	if err != nil {
		return nil, nil, err
	}
	if err := insertDisbursement(ctx, tx, d); err != nil {
		return nil, nil, fmt.Errorf("failed to insert disbursement: %w", err)
	}
	if err := writeCampaign(ctx, tx, c); err != nil {
		return nil, nil, fmt.Errorf("failed to update campaign reservation: %w", err)
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, nil, err
	}
	return d, c, nil
}

func (r *PostgresRepository) loadApprovals(ctx context.Context, q querier, disbursements []*domain.Disbursement) error {
	if len(disbursements) == 0 {
		return nil
	}
	byID := make(map[uuid.UUID]*domain.Disbursement, len(disbursements))
	ids := make([]uuid.UUID, 0, len(disbursements))
	for _, d := range disbursements {
		byID[d.ID] = d
		ids = append(ids, d.ID)
	}
	rows, err := q.Query(ctx, `
		SELECT disbursement_id, approver_id, approved_at
		FROM disbursement_approvals
		WHERE disbursement_id = ANY($1)
		ORDER BY approved_at ASC, approver_id ASC
	`, ids)
	if err != nil {
		return fmt.Errorf("failed to load approvals: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var (
			id uuid.UUID
			a  domain.Approval
		)
		if err := rows.Scan(&id, &a.ApproverID, &a.ApprovedAt); err != nil {
			return err
		}
		if d, ok := byID[id]; ok {
			d.Approvals = append(d.Approvals, a)
		}
	}
	return rows.Err()
}

func (r *PostgresRepository) FindDisbursementByID(ctx context.Context, id uuid.UUID) (*domain.Disbursement, error) {
	d, err := scanDisbursement(r.db.QueryRow(ctx, "SELECT "+disbursementColumns+" FROM disbursements WHERE id = $1", id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrDisbursementNotFound
		}
		return nil, err
	}
	if err := r.loadApprovals(ctx, r.db, []*domain.Disbursement{d}); err != nil {
		return nil, err
	}
	return d, nil
}

func (r *PostgresRepository) ListDisbursements(ctx context.Context, filter DisbursementFilter) ([]domain.Disbursement, error) {
	var (
		conditions []string
		args       []any
	)
	if filter.CampaignID != nil {
		args = append(args, *filter.CampaignID)
		conditions = append(conditions, fmt.Sprintf("campaign_id = $%d", len(args)))
	}
	if len(filter.Statuses) > 0 {
		statuses := make([]string, 0, len(filter.Statuses))
		for _, s := range filter.Statuses {
			statuses = append(statuses, string(s))
		}
		args = append(args, statuses)
		conditions = append(conditions, fmt.Sprintf("status = ANY($%d)", len(args)))
	}
	if filter.UpdatedBefore != nil {
		args = append(args, *filter.UpdatedBefore)
		conditions = append(conditions, fmt.Sprintf("updated_at < $%d", len(args)))
	}
	query := "SELECT " + disbursementColumns + " FROM disbursements" + whereClause(conditions) + " ORDER BY created_at DESC"
	query, args = appendPagination(query, args, filter.Limit, filter.Offset)

	rows, err := r.db.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	var found []*domain.Disbursement
	for rows.Next() {
		d, err := scanDisbursement(rows)
		if err != nil {
			rows.Close()
			return nil, err
		}
		found = append(found, d)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if err := r.loadApprovals(ctx, r.db, found); err != nil {
		return nil, err
	}

	out := make([]domain.Disbursement, 0, len(found))
	for _, d := range found {
		out = append(out, *d)
	}
	return out, nil
}

func lockDisbursement(ctx context.Context, r *PostgresRepository, tx pgx.Tx, id uuid.UUID) (*domain.Disbursement, error) {
	d, err := scanDisbursement(tx.QueryRow(ctx, "SELECT "+disbursementColumns+" FROM disbursements WHERE id = $1 FOR UPDATE", id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrDisbursementNotFound
		}
		return nil, err
	}
	if err := r.loadApprovals(ctx, tx, []*domain.Disbursement{d}); err != nil {
		return nil, err
	}
	return d, nil
}

func writeDisbursement(ctx context.Context, tx pgx.Tx, d *domain.Disbursement) error {
	query := `
		UPDATE disbursements
		SET approval_count = $2, status = $3, ledger_tx_id = $4, ledger_sequence = $5, envelope_hash = $6,
			envelope_expires_at = $7, failure_kind = $8, failure_code = $9, failure_reason = $10,
			rejected_by = $11, completed_at = $12, updated_at = $13
		WHERE id = $1
	`
	if _, err := tx.Exec(ctx, query, disbursementUpdateArgs(d)...); err != nil {
		return err
	}
	for _, a := range d.Approvals {
		_, err := tx.Exec(ctx, `
			INSERT INTO disbursement_approvals (disbursement_id, approver_id, approved_at)
			VALUES ($1, $2, $3)
			ON CONFLICT (disbursement_id, approver_id) DO NOTHING
		`, d.ID, a.ApproverID, a.ApprovedAt)
		if err != nil {
			return fmt.Errorf("failed to store approval: %w", err)
		}
	}
	return nil
}

// UpdateDisbursement applies mutate to the disbursement under a row lock.
func (r *PostgresRepository) UpdateDisbursement(ctx context.Context, id uuid.UUID, mutate DisbursementMutation) (*domain.Disbursement, error) {
	tx, err := r.db.Begin(ctx)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback(ctx)

	d, err := lockDisbursement(ctx, r, tx, id)
	if err != nil {
		return nil, err
	}
	if err := mutate(d); err != nil {
		return nil, err
	}
	if err := writeDisbursement(ctx, tx, d); err != nil {
		return nil, mapWriteError("update disbursement", err)
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, err
	}
	return d, nil
}

// UpdateDisbursementWithCampaign locks the disbursement and then its campaign and
// applies mutate to both in one transaction.
func (r *PostgresRepository) UpdateDisbursementWithCampaign(ctx context.Context, id uuid.UUID, mutate SettlementMutation) (*domain.Disbursement, *domain.Campaign, error) {
	tx, err := r.db.Begin(ctx)
	if err != nil {
		return nil, nil, err
	}
	defer tx.Rollback(ctx)

	d, err := lockDisbursement(ctx, r, tx, id)
	if err != nil {
		return nil, nil, err
	}
	c, err := lockCampaign(ctx, tx, d.CampaignID)
	if err != nil {
		return nil, nil, err
	}
	if err := mutate(d, c); err != nil {
		return nil, nil, err
	}
	if err := writeDisbursement(ctx, tx, d); err != nil {
		return nil, nil, mapWriteError("update disbursement", err)
	}
	if err := writeCampaign(ctx, tx, c); err != nil {
		return nil, nil, fmt.Errorf("failed to update campaign: %w", err)
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, nil, err
	}
	return d, c, nil
}

// RecordDonation credits the locked campaign and inserts the donation.
func (r *PostgresRepository) RecordDonation(ctx context.Context, donation *domain.Donation, mutate CampaignMutation) (*domain.Campaign, error) {
	tx, err := r.db.Begin(ctx)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback(ctx)

	c, err := lockCampaign(ctx, tx, donation.CampaignID)
	if err != nil {
		return nil, err
	}
	if err := mutate(c); err != nil {
		return nil, err
	}

	query := `
		INSERT INTO donations (id, campaign_id, donor_id, donor_name, source_account, amount, asset_code,
			asset_issuer, ledger_tx_id, memo, message, is_anonymous, status, created_at)
		VALUES ($1, $2, $3, $4, $5, $6::numeric, $7, $8, $9, $10, $11, $12, $13, $14)
	`
	if _, err := tx.Exec(ctx, query, donationInsertArgs(donation)...); err != nil {
		return nil, mapWriteError("insert donation", err)
	}
	if err := writeCampaign(ctx, tx, c); err != nil {
		return nil, fmt.Errorf("failed to credit campaign: %w", err)
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, err
	}
	return c, nil
}

func (r *PostgresRepository) FindDonationByID(ctx context.Context, id uuid.UUID) (*domain.Donation, error) {
	d, err := scanDonation(r.db.QueryRow(ctx, "SELECT "+donationColumns+" FROM donations WHERE id = $1", id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrDonationNotFound
		}
		return nil, err
	}
	return d, nil
}

func (r *PostgresRepository) FindDonationByLedgerTxID(ctx context.Context, txID string) (*domain.Donation, error) {
	d, err := scanDonation(r.db.QueryRow(ctx, "SELECT "+donationColumns+" FROM donations WHERE ledger_tx_id = $1", strings.ToLower(txID)))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrDonationNotFound
		}
		return nil, err
	}
	return d, nil
}

func (r *PostgresRepository) ListDonations(ctx context.Context, filter DonationFilter) ([]domain.Donation, error) {
	var (
		conditions []string
		args       []any
	)
	if filter.CampaignID != nil {
		args = append(args, *filter.CampaignID)
		conditions = append(conditions, fmt.Sprintf("campaign_id = $%d", len(args)))
	}
	if filter.Status != nil {
		args = append(args, string(*filter.Status))
		conditions = append(conditions, fmt.Sprintf("status = $%d", len(args)))
	}
	query := "SELECT " + donationColumns + " FROM donations" + whereClause(conditions) + " ORDER BY created_at DESC"
	query, args = appendPagination(query, args, filter.Limit, filter.Offset)

	rows, err := r.db.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var donations []domain.Donation
	for rows.Next() {
		d, err := scanDonation(rows)
		if err != nil {
			return nil, err
		}
		donations = append(donations, *d)
	}
	return donations, rows.Err()
}

// LedgerTotals recomputes the campaign's sums from the donation and disbursement rows.
func (r *PostgresRepository) LedgerTotals(ctx context.Context, campaignID uuid.UUID) (LedgerTotals, error) {
	query := `
		SELECT
			(SELECT COALESCE(SUM(amount), 0)::text FROM donations WHERE campaign_id = c.id AND status = 'completed'),
			(SELECT COALESCE(SUM(amount), 0)::text FROM disbursements WHERE campaign_id = c.id AND status = 'completed'),
			(SELECT COALESCE(SUM(amount), 0)::text FROM disbursements WHERE campaign_id = c.id AND status IN ('pending', 'approved', 'processing'))
		FROM campaigns c
		WHERE c.id = $1
	`
	var donated, disbursed, reserved string
	if err := r.db.QueryRow(ctx, query, campaignID).Scan(&donated, &disbursed, &reserved); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return LedgerTotals{}, ErrCampaignNotFound
		}
		return LedgerTotals{}, err
	}
	var (
		totals LedgerTotals
		err    error
	)
	if totals.CompletedDonations, err = parseStoredAmount(donated, "donation total"); err != nil {
		return LedgerTotals{}, err
	}
	if totals.CompletedDisbursements, err = parseStoredAmount(disbursed, "disbursement total"); err != nil {
		return LedgerTotals{}, err
	}
	if totals.OutstandingReserved, err = parseStoredAmount(reserved, "reserved total"); err != nil {
		return LedgerTotals{}, err
	}
	return totals, nil
}

func (r *PostgresRepository) AppendAuditLog(ctx context.Context, entry *domain.AuditLogEntry) error {
	details := entry.Details
	if details == nil {
		details = map[string]string{}
	}
	payload, err := json.Marshal(details)
	if err != nil {
		return fmt.Errorf("failed to encode audit details: %w", err)
	}
	_, err = r.db.Exec(ctx, `
		INSERT INTO audit_logs (id, entity_type, entity_id, action, actor, details, created_at)
		VALUES ($1, $2, $3, $4, $5, $6::jsonb, $7)
	`, entry.ID, entry.EntityType, entry.EntityID, entry.Action, entry.Actor, string(payload), entry.CreatedAt)
	return err
}

func (r *PostgresRepository) ListAuditLogs(ctx context.Context, entityID uuid.UUID) ([]domain.AuditLogEntry, error) {
	rows, err := r.db.Query(ctx, `
		SELECT id, entity_type, entity_id, action, actor, details::text, created_at
		FROM audit_logs
		WHERE entity_id = $1
		ORDER BY created_at ASC
	`, entityID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var entries []domain.AuditLogEntry
	for rows.Next() {
		var (
			e       domain.AuditLogEntry
			details string
		)
		if err := rows.Scan(&e.ID, &e.EntityType, &e.EntityID, &e.Action, &e.Actor, &details, &e.CreatedAt); err != nil {
			return nil, err
		}
		if details != "" {
			if err := json.Unmarshal([]byte(details), &e.Details); err != nil {
				return nil, fmt.Errorf("failed to decode audit details: %w", err)
			}
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

func whereClause(conditions []string) string {
	if len(conditions) == 0 {
		return ""
	}
	return " WHERE " + strings.Join(conditions, " AND ")
}

func appendPagination(query string, args []any, limit, offset int) (string, []any) {
	limit = normalizeLimit(limit)
	offset = normalizeOffset(offset)
	if limit != NoLimit {
		args = append(args, limit)
		query += fmt.Sprintf(" LIMIT $%d", len(args))
	}
	if offset > 0 {
		args = append(args, offset)
		query += fmt.Sprintf(" OFFSET $%d", len(args))
	}
	return query, args
}
