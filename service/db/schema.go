package db

// schema is idempotent; Migrate applies it on every start.
const schema = `
CREATE TABLE IF NOT EXISTS transfers (
    signature    TEXT PRIMARY KEY,
    network      TEXT NOT NULL,
    kind         TEXT NOT NULL,
    from_address TEXT NOT NULL,
    to_address   TEXT,
    amount       BIGINT NOT NULL,
    ui_amount    DOUBLE PRECISION NOT NULL,
    token        TEXT NOT NULL,
    mint         TEXT,
    signer       TEXT NOT NULL,
    status       TEXT NOT NULL CHECK (status IN ('pending', 'confirmed', 'failed')),
    error        TEXT,
    slot         BIGINT NOT NULL DEFAULT 0,
    explorer_url TEXT NOT NULL,
    submitted_at TIMESTAMPTZ NOT NULL,
    updated_at   TIMESTAMPTZ NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_transfers_network_submitted
    ON transfers (network, submitted_at DESC);

CREATE INDEX IF NOT EXISTS idx_transfers_pending
    ON transfers (network, submitted_at)
    WHERE status = 'pending';

CREATE INDEX IF NOT EXISTS idx_transfers_from_address
    ON transfers (from_address);
`
