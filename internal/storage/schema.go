package storage

import (
	"context"
	"fmt"
)

// Schema for the durable ledger. Monetary columns are BIGINT minor units
// (6 implied decimals); every mutable table carries a version column for the
// optimistic commit check.
const schemaSQL = `
CREATE TABLE IF NOT EXISTS protocol_config (
    id                     SMALLINT PRIMARY KEY DEFAULT 1 CHECK (id = 1),
    authority              TEXT        NOT NULL,
    conversion_fee_bps     SMALLINT    NOT NULL,
    management_fee_bps     SMALLINT    NOT NULL,
    performance_fee_bps    SMALLINT    NOT NULL,
    total_deposits_usdc    BIGINT      NOT NULL DEFAULT 0,
    total_yield_earned     BIGINT      NOT NULL DEFAULT 0,
    pending_jpy_conversion BIGINT      NOT NULL DEFAULT 0,
    deposit_nonce          BIGINT      NOT NULL DEFAULT 0,
    active                 BOOLEAN     NOT NULL DEFAULT TRUE,
    created_at             TIMESTAMPTZ NOT NULL,
    updated_at             TIMESTAMPTZ NOT NULL,
    version                BIGINT      NOT NULL
);

CREATE TABLE IF NOT EXISTS yield_sources (
    id                    TEXT PRIMARY KEY,
    name                  TEXT        NOT NULL,
    source_type           SMALLINT    NOT NULL,
    current_apy_bps       SMALLINT    NOT NULL,
    total_deposited       BIGINT      NOT NULL DEFAULT 0,
    total_shares          BIGINT      NOT NULL DEFAULT 0,
    allocation_weight_bps SMALLINT    NOT NULL DEFAULT 0,
    min_deposit           BIGINT      NOT NULL DEFAULT 0,
    max_allocation        BIGINT      NOT NULL DEFAULT 0,
    active                BOOLEAN     NOT NULL DEFAULT TRUE,
    last_nav_update       TIMESTAMPTZ NOT NULL,
    nav_per_share         BIGINT      NOT NULL,
    version               BIGINT      NOT NULL
);

CREATE TABLE IF NOT EXISTS user_positions (
    owner                  TEXT PRIMARY KEY,
    total_deposited_jpy    BIGINT      NOT NULL DEFAULT 0,
    total_deposited_usdc   BIGINT      NOT NULL DEFAULT 0,
    current_shares         BIGINT      NOT NULL DEFAULT 0,
    realized_yield_usdc    BIGINT      NOT NULL DEFAULT 0,
    avg_conversion_rate    BIGINT      NOT NULL DEFAULT 0,
    tier                   SMALLINT    NOT NULL DEFAULT 0,
    monthly_deposited_jpy  BIGINT      NOT NULL DEFAULT 0,
    monthly_deposited_usdc BIGINT      NOT NULL DEFAULT 0,
    month_start            TIMESTAMPTZ NOT NULL,
    deposit_count          INTEGER     NOT NULL DEFAULT 0,
    withdrawal_count       INTEGER     NOT NULL DEFAULT 0,
    last_deposit_at        TIMESTAMPTZ NOT NULL,
    last_withdrawal_at     TIMESTAMPTZ NOT NULL,
    deposit_nonce          BIGINT      NOT NULL DEFAULT 0,
    created_at             TIMESTAMPTZ NOT NULL,
    version                BIGINT      NOT NULL
);

CREATE TABLE IF NOT EXISTS pending_deposits (
    owner           TEXT        NOT NULL,
    nonce           BIGINT      NOT NULL,
    source_id       TEXT        NOT NULL,
    jpy_amount      BIGINT      NOT NULL,
    min_usdc_out    BIGINT      NOT NULL DEFAULT 0,
    deposited_at    TIMESTAMPTZ NOT NULL,
    expires_at      TIMESTAMPTZ NOT NULL,
    status          SMALLINT    NOT NULL,
    converting_at   TIMESTAMPTZ NOT NULL,
    conversion_rate BIGINT      NOT NULL DEFAULT 0,
    usdc_received   BIGINT      NOT NULL DEFAULT 0,
    fee_paid        BIGINT      NOT NULL DEFAULT 0,
    version         BIGINT      NOT NULL,
    PRIMARY KEY (owner, nonce)
);

CREATE INDEX IF NOT EXISTS pending_deposits_status_idx
    ON pending_deposits (status, converting_at);

CREATE TABLE IF NOT EXISTS conversion_records (
    owner         TEXT        NOT NULL,
    nonce         BIGINT      NOT NULL,
    jpy_amount    BIGINT      NOT NULL,
    usdc_amount   BIGINT      NOT NULL,
    exchange_rate BIGINT      NOT NULL,
    fee_amount    BIGINT      NOT NULL,
    direction     SMALLINT    NOT NULL,
    settled_at    TIMESTAMPTZ NOT NULL,
    PRIMARY KEY (owner, nonce)
);

CREATE TABLE IF NOT EXISTS nav_samples (
    id            BIGSERIAL PRIMARY KEY,
    source_id     TEXT        NOT NULL,
    nav_per_share BIGINT      NOT NULL,
    apy_bps       SMALLINT    NOT NULL,
    sampled_at    TIMESTAMPTZ NOT NULL
);

CREATE INDEX IF NOT EXISTS nav_samples_source_idx
    ON nav_samples (source_id, sampled_at);
`

// EnsureSchema creates the ledger tables when they do not exist yet.
func (s *Postgres) EnsureSchema(ctx context.Context) error {
	pool, err := s.getPool()
	if err != nil {
		return err
	}
	if _, err := pool.Exec(ctx, schemaSQL); err != nil {
		return fmt.Errorf("ensure schema: %w", err)
	}
	return nil
}
