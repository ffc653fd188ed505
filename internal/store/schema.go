package store

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
)

// schemaStatements create the service's tables. Every statement is idempotent.
var schemaStatements = []string{
	`CREATE TABLE IF NOT EXISTS organizations (
		id UUID PRIMARY KEY,
		name TEXT NOT NULL,
		wallet_address VARCHAR(56) NOT NULL UNIQUE,
		verified BOOLEAN NOT NULL DEFAULT FALSE,
		email TEXT,
		description TEXT,
		created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
	)`,
	`CREATE TABLE IF NOT EXISTS campaigns (
		id UUID PRIMARY KEY,
		organization_id UUID NOT NULL,
		title TEXT NOT NULL,
		description TEXT NOT NULL DEFAULT '',
		target_amount NUMERIC(20,7) NOT NULL CHECK (target_amount > 0),
		raised_amount NUMERIC(20,7) NOT NULL DEFAULT 0 CHECK (raised_amount >= 0),
		reserved_amount NUMERIC(20,7) NOT NULL DEFAULT 0 CHECK (reserved_amount >= 0),
		asset_code VARCHAR(12) NOT NULL DEFAULT 'USDC',
		asset_issuer VARCHAR(56) NOT NULL DEFAULT '',
		ledger_account VARCHAR(56) NOT NULL,
		approval_threshold INTEGER NOT NULL DEFAULT 2 CHECK (approval_threshold >= 1),
		status VARCHAR(16) NOT NULL DEFAULT 'draft',
		frozen_reason TEXT,
		created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
	)`,
	`CREATE TABLE IF NOT EXISTS donations (
		id UUID PRIMARY KEY,
		campaign_id UUID NOT NULL REFERENCES campaigns(id),
		donor_id TEXT,
		donor_name TEXT NOT NULL DEFAULT '',
		source_account VARCHAR(56) NOT NULL,
		amount NUMERIC(20,7) NOT NULL CHECK (amount > 0),
		asset_code VARCHAR(12) NOT NULL,
		asset_issuer VARCHAR(56) NOT NULL DEFAULT '',
		ledger_tx_id VARCHAR(64) NOT NULL UNIQUE,
		memo TEXT NOT NULL DEFAULT '',
		message TEXT NOT NULL DEFAULT '',
		is_anonymous BOOLEAN NOT NULL DEFAULT FALSE,
		status VARCHAR(16) NOT NULL,
		created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
	)`,
	`CREATE INDEX IF NOT EXISTS idx_donations_campaign ON donations (campaign_id, created_at DESC)`,
	`CREATE TABLE IF NOT EXISTS disbursements (
		id UUID PRIMARY KEY,
		campaign_id UUID NOT NULL REFERENCES campaigns(id),
		recipient_address VARCHAR(56) NOT NULL,
		amount NUMERIC(20,7) NOT NULL CHECK (amount > 0),
		asset_code VARCHAR(12) NOT NULL,
		asset_issuer VARCHAR(56) NOT NULL DEFAULT '',
		purpose TEXT NOT NULL,
		requested_by TEXT NOT NULL,
		approval_count INTEGER NOT NULL DEFAULT 0,
		required_approvals INTEGER NOT NULL,
		status VARCHAR(16) NOT NULL,
		ledger_tx_id VARCHAR(64) UNIQUE,
		ledger_sequence BIGINT,
		envelope_hash VARCHAR(64),
		envelope_expires_at TIMESTAMPTZ,
		failure_kind TEXT,
		failure_code TEXT,
		failure_reason TEXT,
		rejected_by TEXT,
		scheduled_at TIMESTAMPTZ,
		completed_at TIMESTAMPTZ,
		created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
	)`,
	`CREATE INDEX IF NOT EXISTS idx_disbursements_campaign ON disbursements (campaign_id, created_at DESC)`,
	`CREATE INDEX IF NOT EXISTS idx_disbursements_status ON disbursements (status, updated_at)`,
	`CREATE TABLE IF NOT EXISTS disbursement_approvals (
		disbursement_id UUID NOT NULL REFERENCES disbursements(id),
		approver_id TEXT NOT NULL,
		approved_at TIMESTAMPTZ NOT NULL,
		PRIMARY KEY (disbursement_id, approver_id)
	)`,
	`CREATE TABLE IF NOT EXISTS audit_logs (
		id UUID PRIMARY KEY,
		entity_type VARCHAR(32) NOT NULL,
		entity_id UUID NOT NULL,
		action VARCHAR(64) NOT NULL,
		actor TEXT NOT NULL DEFAULT '',
		details JSONB NOT NULL DEFAULT '{}'::jsonb,
		created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
	)`,
	`CREATE INDEX IF NOT EXISTS idx_audit_logs_entity ON audit_logs (entity_id, created_at)`,
}

// EnsureSchema creates missing tables and indexes.
func EnsureSchema(ctx context.Context, db *pgxpool.Pool) error {
	for i, stmt := range schemaStatements {
		if _, err := db.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("failed to apply schema statement %d: %w", i, err)
		}
	}
	return nil
}
