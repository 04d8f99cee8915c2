package sqlite

import (
	"context"

	"github.com/xraph/grove/migrate"
)

// Migrations is the grove migration group for the latch store (SQLite).
var Migrations = migrate.NewGroup("latch")

func init() {
	Migrations.MustRegister(
		&migrate.Migration{
			Name:    "create_accounts",
			Version: "20260101000001",
			Up: func(ctx context.Context, exec migrate.Executor) error {
				_, err := exec.Exec(ctx, `
CREATE TABLE IF NOT EXISTS latch_accounts (
    id              TEXT PRIMARY KEY,
    name            TEXT NOT NULL,
    next_rule_id    INTEGER NOT NULL DEFAULT 0,
    created_at      TEXT NOT NULL DEFAULT (datetime('now')),
    updated_at      TEXT NOT NULL DEFAULT (datetime('now'))
);

CREATE INDEX IF NOT EXISTS idx_latch_accounts_created ON latch_accounts (created_at);
`)
				return err
			},
			Down: func(ctx context.Context, exec migrate.Executor) error {
				_, err := exec.Exec(ctx, `DROP TABLE IF EXISTS latch_accounts`)
				return err
			},
		},
		&migrate.Migration{
			Name:    "create_rules",
			Version: "20260101000002",
			Up: func(ctx context.Context, exec migrate.Executor) error {
				_, err := exec.Exec(ctx, `
CREATE TABLE IF NOT EXISTS latch_rules (
    account_id      TEXT NOT NULL REFERENCES latch_accounts(id) ON DELETE CASCADE,
    rule_id         INTEGER NOT NULL,
    type_kind       TEXT NOT NULL,
    type_target     TEXT NOT NULL DEFAULT '',
    name            TEXT NOT NULL,
    valid_until     INTEGER,
    signers         TEXT NOT NULL DEFAULT '[]',
    policies        TEXT NOT NULL DEFAULT '[]',
    created_at      TEXT NOT NULL DEFAULT (datetime('now')),
    updated_at      TEXT NOT NULL DEFAULT (datetime('now')),

    PRIMARY KEY (account_id, rule_id)
);

CREATE INDEX IF NOT EXISTS idx_latch_rules_type ON latch_rules (account_id, type_kind, type_target, rule_id);
`)
				return err
			},
			Down: func(ctx context.Context, exec migrate.Executor) error {
				_, err := exec.Exec(ctx, `DROP TABLE IF EXISTS latch_rules`)
				return err
			},
		},
		&migrate.Migration{
			Name:    "create_check_logs",
			Version: "20260101000003",
			Up: func(ctx context.Context, exec migrate.Executor) error {
				_, err := exec.Exec(ctx, `
CREATE TABLE IF NOT EXISTS latch_check_logs (
    id              TEXT PRIMARY KEY,
    account_id      TEXT NOT NULL,
    payload         TEXT NOT NULL DEFAULT '',
    contexts        TEXT NOT NULL DEFAULT '[]',
    signers         TEXT NOT NULL DEFAULT '[]',
    matched_rules   TEXT NOT NULL DEFAULT '[]',
    decision        TEXT NOT NULL,
    reason          TEXT NOT NULL DEFAULT '',
    ledger          INTEGER NOT NULL DEFAULT 0,
    eval_time_ns    INTEGER NOT NULL DEFAULT 0,
    metadata        TEXT NOT NULL DEFAULT '{}',
    created_at      TEXT NOT NULL DEFAULT (datetime('now'))
);

CREATE INDEX IF NOT EXISTS idx_latch_clogs_account ON latch_check_logs (account_id);
CREATE INDEX IF NOT EXISTS idx_latch_clogs_decision ON latch_check_logs (account_id, decision);
CREATE INDEX IF NOT EXISTS idx_latch_clogs_created ON latch_check_logs (created_at);
`)
				return err
			},
			Down: func(ctx context.Context, exec migrate.Executor) error {
				_, err := exec.Exec(ctx, `DROP TABLE IF EXISTS latch_check_logs`)
				return err
			},
		},
	)
}
