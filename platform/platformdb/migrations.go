// Copyright (C) 2024 BrightBroom, Inc.
// See LICENSE for copying information.

package platformdb

import (
	"github.com/brightbroom/brightbroom/private/migrate"
)

// Migration returns the full schema history. Steps are append only; editing
// a shipped step corrupts deployed databases.
func Migration() *migrate.Migration {
	return &migrate.Migration{
		Table: "versions",
		Steps: []*migrate.Step{
			{
				Description: "initial schema",
				Version:     0,
				Action: migrate.SQL{
					`CREATE TABLE organizations (
						id uuid NOT NULL PRIMARY KEY,
						name text NOT NULL,
						plan text NOT NULL DEFAULT 'free',
						billing_status text NOT NULL DEFAULT 'active',
						created_at timestamptz NOT NULL DEFAULT now()
					)`,
					`CREATE TABLE users (
						id uuid NOT NULL PRIMARY KEY,
						email text NOT NULL,
						password_hash text NOT NULL,
						must_change_password boolean NOT NULL DEFAULT false,
						deactivated boolean NOT NULL DEFAULT false,
						created_at timestamptz NOT NULL DEFAULT now()
					)`,
					`CREATE TABLE memberships (
						user_id uuid NOT NULL REFERENCES users (id),
						org_id uuid NOT NULL REFERENCES organizations (id),
						role text NOT NULL,
						created_at timestamptz NOT NULL DEFAULT now(),
						PRIMARY KEY (user_id, org_id)
					)`,
					`CREATE INDEX memberships_org ON memberships (org_id)`,
					`CREATE TABLE sessions (
						id uuid NOT NULL PRIMARY KEY,
						user_id uuid NOT NULL REFERENCES users (id),
						org_id uuid NOT NULL REFERENCES organizations (id),
						access_jti uuid NOT NULL,
						refresh_hash text NOT NULL,
						issued_at timestamptz NOT NULL,
						expires_at timestamptz NOT NULL,
						refresh_expires_at timestamptz NOT NULL,
						revoked_reason text NOT NULL DEFAULT '',
						revoked_at timestamptz
					)`,
					`CREATE UNIQUE INDEX sessions_refresh_hash ON sessions (refresh_hash)`,
					`CREATE INDEX sessions_user ON sessions (user_id)`,
					`CREATE TABLE leads (
						id uuid NOT NULL PRIMARY KEY,
						org_id uuid NOT NULL REFERENCES organizations (id),
						name text NOT NULL,
						phone text NOT NULL,
						email text NOT NULL DEFAULT '',
						address text NOT NULL DEFAULT '',
						inputs jsonb,
						estimate_snapshot jsonb,
						referral_code text NOT NULL,
						referred_by uuid,
						status text NOT NULL DEFAULT 'NEW',
						created_at timestamptz NOT NULL DEFAULT now()
					)`,
					`CREATE UNIQUE INDEX leads_org_referral_code ON leads (org_id, referral_code)`,
					`CREATE INDEX leads_org_status ON leads (org_id, status)`,
					`CREATE TABLE referral_credits (
						id uuid NOT NULL PRIMARY KEY,
						org_id uuid NOT NULL REFERENCES organizations (id),
						beneficiary_id uuid NOT NULL REFERENCES leads (id),
						source_lead_id uuid NOT NULL REFERENCES leads (id),
						amount_cents bigint NOT NULL,
						state text NOT NULL DEFAULT 'PENDING',
						created_at timestamptz NOT NULL DEFAULT now(),
						resolved_at timestamptz
					)`,
					`CREATE INDEX referral_credits_source ON referral_credits (org_id, source_lead_id)`,
					`CREATE TABLE teams (
						id uuid NOT NULL PRIMARY KEY,
						org_id uuid NOT NULL REFERENCES organizations (id),
						name text NOT NULL,
						work_start_hour integer NOT NULL DEFAULT 9,
						work_end_hour integer NOT NULL DEFAULT 18,
						blackouts text[] NOT NULL DEFAULT '{}',
						created_at timestamptz NOT NULL DEFAULT now()
					)`,
					`CREATE TABLE bookings (
						id uuid NOT NULL PRIMARY KEY,
						org_id uuid NOT NULL REFERENCES organizations (id),
						lead_id uuid,
						team_id uuid NOT NULL REFERENCES teams (id),
						starts_at timestamptz NOT NULL,
						duration_min integer NOT NULL,
						status text NOT NULL DEFAULT 'PENDING',
						deposit_required boolean NOT NULL DEFAULT false,
						deposit_reasons text[] NOT NULL DEFAULT '{}',
						deposit_cents bigint NOT NULL DEFAULT 0,
						deposit_session_id text NOT NULL DEFAULT '',
						deposit_paid_at timestamptz,
						created_at timestamptz NOT NULL DEFAULT now(),
						updated_at timestamptz NOT NULL DEFAULT now()
					)`,
					`CREATE INDEX bookings_team_window ON bookings (org_id, team_id, starts_at)`,
					`CREATE INDEX bookings_status ON bookings (org_id, status)`,
					`CREATE INDEX bookings_deposit_session ON bookings (deposit_session_id) WHERE deposit_session_id <> ''`,
					`CREATE TABLE webhook_events (
						provider text NOT NULL,
						event_id text NOT NULL,
						processed_at timestamptz NOT NULL DEFAULT now(),
						PRIMARY KEY (provider, event_id)
					)`,
					`CREATE TABLE invoice_sequences (
						org_id uuid NOT NULL REFERENCES organizations (id),
						year integer NOT NULL,
						n bigint NOT NULL,
						PRIMARY KEY (org_id, year)
					)`,
					`CREATE TABLE invoices (
						id uuid NOT NULL PRIMARY KEY,
						org_id uuid NOT NULL REFERENCES organizations (id),
						booking_id uuid,
						number text NOT NULL,
						status text NOT NULL DEFAULT 'DRAFT',
						currency text NOT NULL DEFAULT 'usd',
						total_cents bigint NOT NULL DEFAULT 0,
						paid_cents bigint NOT NULL DEFAULT 0,
						due_at timestamptz NOT NULL,
						public_token_hash text NOT NULL DEFAULT '',
						created_at timestamptz NOT NULL DEFAULT now(),
						updated_at timestamptz NOT NULL DEFAULT now()
					)`,
					`CREATE UNIQUE INDEX invoices_org_number ON invoices (org_id, number)`,
					`CREATE INDEX invoices_token_hash ON invoices (public_token_hash) WHERE public_token_hash <> ''`,
					`CREATE INDEX invoices_due ON invoices (status, due_at)`,
					`CREATE TABLE invoice_items (
						id uuid NOT NULL PRIMARY KEY,
						invoice_id uuid NOT NULL REFERENCES invoices (id),
						description text NOT NULL,
						qty double precision NOT NULL,
						unit_price_cents bigint NOT NULL,
						tax_rate_bps integer NOT NULL DEFAULT 0
					)`,
					`CREATE INDEX invoice_items_invoice ON invoice_items (invoice_id)`,
					`CREATE TABLE invoice_payments (
						id uuid NOT NULL PRIMARY KEY,
						invoice_id uuid NOT NULL REFERENCES invoices (id),
						amount_cents bigint NOT NULL,
						method text NOT NULL DEFAULT '',
						note text NOT NULL DEFAULT '',
						received_at timestamptz NOT NULL DEFAULT now()
					)`,
					`CREATE INDEX invoice_payments_invoice ON invoice_payments (invoice_id)`,
					`CREATE TABLE outbox_events (
						id uuid NOT NULL PRIMARY KEY,
						org_id uuid NOT NULL REFERENCES organizations (id),
						kind text NOT NULL,
						dedupe_key text NOT NULL,
						payload bytea NOT NULL,
						attempts integer NOT NULL DEFAULT 0,
						next_attempt_at timestamptz NOT NULL DEFAULT now(),
						status text NOT NULL DEFAULT 'PENDING',
						lease_owner text NOT NULL DEFAULT '',
						leased_at timestamptz,
						last_error text NOT NULL DEFAULT '',
						created_at timestamptz NOT NULL DEFAULT now(),
						delivered_at timestamptz
					)`,
					`CREATE UNIQUE INDEX outbox_events_dedupe ON outbox_events (org_id, dedupe_key)`,
					`CREATE INDEX outbox_events_due ON outbox_events (status, next_attempt_at)`,
					`CREATE TABLE photos (
						id uuid NOT NULL PRIMARY KEY,
						org_id uuid NOT NULL REFERENCES organizations (id),
						booking_id uuid NOT NULL REFERENCES bookings (id),
						key text NOT NULL,
						mime text NOT NULL,
						size_bytes bigint NOT NULL,
						caption text NOT NULL DEFAULT '',
						uploaded_by uuid,
						created_at timestamptz NOT NULL DEFAULT now()
					)`,
					`CREATE INDEX photos_booking ON photos (org_id, booking_id)`,
					`CREATE TABLE job_heartbeats (
						job text NOT NULL PRIMARY KEY,
						last_beat_at timestamptz NOT NULL,
						last_ok boolean NOT NULL,
						consecutive_failures integer NOT NULL DEFAULT 0,
						last_error text NOT NULL DEFAULT ''
					)`,
					`CREATE TABLE admin_idempotency (
						org_id uuid NOT NULL REFERENCES organizations (id),
						key text NOT NULL,
						request_hash text NOT NULL,
						status integer NOT NULL,
						body bytea NOT NULL,
						created_at timestamptz NOT NULL DEFAULT now(),
						PRIMARY KEY (org_id, key)
					)`,
				},
			},
			{
				Description: "seed the default organization",
				Version:     1,
				Action: migrate.SQL{
					`INSERT INTO organizations (id, name, plan, billing_status)
					 VALUES ('00000000-0000-0000-0000-000000000001', 'BrightBroom', 'business', 'active')
					 ON CONFLICT (id) DO NOTHING`,
				},
			},
			{
				Description: "unique user emails, job heartbeats record the last success time",
				Version:     2,
				Action: migrate.SQL{
					`CREATE UNIQUE INDEX users_email ON users (email)`,
					`ALTER TABLE job_heartbeats DROP COLUMN last_ok`,
					`ALTER TABLE job_heartbeats ADD COLUMN last_success_at timestamptz`,
				},
			},
		},
	}
}
