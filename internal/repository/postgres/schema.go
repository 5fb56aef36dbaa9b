package postgres

import (
	"context"
	"fmt"

	"github.com/jmoiron/sqlx"
)

var schema = []string{
	`CREATE TABLE IF NOT EXISTS cases (
		id UUID PRIMARY KEY,
		status TEXT NOT NULL,
		title TEXT NOT NULL,
		description TEXT NOT NULL DEFAULT '',
		urgency_level TEXT NOT NULL,
		complexity TEXT NOT NULL DEFAULT '',
		required_specialization TEXT NOT NULL DEFAULT '',
		owner_patient_id UUID NOT NULL,
		assigned_doctor_id UUID,
		dependent_id UUID,
		status_changed_at TIMESTAMPTZ NOT NULL,
		version BIGINT NOT NULL DEFAULT 1,
		created_at TIMESTAMPTZ NOT NULL,
		updated_at TIMESTAMPTZ NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_cases_owner ON cases (owner_patient_id)`,
	`CREATE INDEX IF NOT EXISTS idx_cases_doctor ON cases (assigned_doctor_id)`,
	`CREATE TABLE IF NOT EXISTS appointments (
		id UUID PRIMARY KEY,
		case_id UUID NOT NULL REFERENCES cases (id),
		status TEXT NOT NULL,
		scheduled_time TIMESTAMPTZ NOT NULL,
		duration_minutes INT NOT NULL,
		consultation_type TEXT NOT NULL,
		consultation_fee BIGINT NOT NULL,
		currency CHAR(3) NOT NULL,
		reschedule_count INT NOT NULL DEFAULT 0,
		supersedes_id UUID REFERENCES appointments (id),
		created_at TIMESTAMPTZ NOT NULL,
		updated_at TIMESTAMPTZ NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_appointments_case ON appointments (case_id, reschedule_count)`,
	`CREATE TABLE IF NOT EXISTS reschedule_requests (
		id UUID PRIMARY KEY,
		appointment_id UUID NOT NULL REFERENCES appointments (id),
		case_id UUID NOT NULL REFERENCES cases (id),
		requested_by_role TEXT NOT NULL,
		requested_by_id UUID NOT NULL,
		status TEXT NOT NULL,
		preferred_times JSONB NOT NULL,
		reason TEXT NOT NULL DEFAULT '',
		chosen_time TIMESTAMPTZ,
		resolved_by_id UUID,
		resolved_at TIMESTAMPTZ,
		created_at TIMESTAMPTZ NOT NULL,
		updated_at TIMESTAMPTZ NOT NULL
	)`,
	`CREATE UNIQUE INDEX IF NOT EXISTS uq_reschedule_pending ON reschedule_requests (appointment_id) WHERE status = 'PENDING'`,
	`CREATE TABLE IF NOT EXISTS payment_settlements (
		id UUID PRIMARY KEY,
		appointment_id UUID NOT NULL REFERENCES appointments (id),
		case_id UUID NOT NULL REFERENCES cases (id),
		method TEXT NOT NULL,
		amount BIGINT NOT NULL,
		currency CHAR(3) NOT NULL,
		coupon_code TEXT,
		transaction_ref TEXT,
		settled_by_id UUID NOT NULL,
		settled_at TIMESTAMPTZ NOT NULL
	)`,
	`CREATE UNIQUE INDEX IF NOT EXISTS uq_settlement_appointment ON payment_settlements (appointment_id)`,
	`CREATE TABLE IF NOT EXISTS coupons (
		code TEXT PRIMARY KEY,
		patient_id UUID NOT NULL,
		value BIGINT NOT NULL,
		status TEXT NOT NULL,
		expires_at TIMESTAMPTZ,
		redeemed_at TIMESTAMPTZ,
		redeemed_appointment_id UUID,
		created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
	)`,
	`CREATE TABLE IF NOT EXISTS outbox_events (
		id UUID PRIMARY KEY,
		aggregate_id UUID NOT NULL,
		event_type TEXT NOT NULL,
		payload JSONB NOT NULL,
		status TEXT NOT NULL,
		error_message TEXT,
		created_at TIMESTAMPTZ NOT NULL,
		processed_at TIMESTAMPTZ,
		updated_at TIMESTAMPTZ NOT NULL,
		retry_count INT NOT NULL DEFAULT 0,
		retry_at TIMESTAMPTZ
	)`,
	`CREATE INDEX IF NOT EXISTS idx_outbox_pending ON outbox_events (status, created_at)`,
	`CREATE TABLE IF NOT EXISTS audit_logs (
		id UUID PRIMARY KEY,
		event_id UUID NOT NULL UNIQUE,
		event_type TEXT NOT NULL,
		case_id UUID NOT NULL,
		appointment_id UUID,
		actor_role TEXT NOT NULL,
		actor_id UUID NOT NULL,
		from_status TEXT NOT NULL DEFAULT '',
		to_status TEXT NOT NULL DEFAULT '',
		reason TEXT NOT NULL DEFAULT '',
		payload JSONB NOT NULL,
		occurred_at TIMESTAMPTZ NOT NULL,
		created_at TIMESTAMPTZ NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_audit_case ON audit_logs (case_id, occurred_at)`,
}

// Migrate applies the schema. Every statement is idempotent.
func Migrate(ctx context.Context, db *sqlx.DB) error {
	base := NewBaseRepository(db)
	return base.WithTx(ctx, func(tx *sqlx.Tx) error {
		for i, stmt := range schema {
			if _, err := tx.ExecContext(ctx, stmt); err != nil {
				return fmt.Errorf("migration step %d: %w", i+1, err)
			}
		}
		return nil
	})
}
