package repository

// Schema definitions for the harrier database.
// Compatible with both SQLite and PostgreSQL.

const schemaTransactions = `
CREATE TABLE IF NOT EXISTS transactions (
    id TEXT NOT NULL,
    tenant_id TEXT NOT NULL,
    user_id TEXT NOT NULL,
    amount REAL NOT NULL,
    merchant TEXT NOT NULL,
    location TEXT NOT NULL,
    timestamp TEXT NOT NULL,
    card_last4 TEXT NOT NULL,
    created_at TIMESTAMP NOT NULL,
    PRIMARY KEY (id, tenant_id)
);

CREATE INDEX IF NOT EXISTS idx_transactions_tenant ON transactions(tenant_id);
CREATE INDEX IF NOT EXISTS idx_transactions_user ON transactions(tenant_id, user_id);
`

const schemaResults = `
CREATE TABLE IF NOT EXISTS detection_results (
    id TEXT PRIMARY KEY,
    tenant_id TEXT NOT NULL,
    tx_id TEXT NOT NULL,
    user_id TEXT NOT NULL,
    risk_level TEXT NOT NULL,
    risk_score REAL NOT NULL,
    is_fraudulent INTEGER NOT NULL,
    reasons TEXT NOT NULL,
    transaction_json TEXT NOT NULL,
    evaluated_at TIMESTAMP NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_results_tenant ON detection_results(tenant_id);
CREATE INDEX IF NOT EXISTS idx_results_tx ON detection_results(tenant_id, tx_id);
CREATE INDEX IF NOT EXISTS idx_results_user ON detection_results(tenant_id, user_id);
CREATE INDEX IF NOT EXISTS idx_results_fraud ON detection_results(tenant_id, is_fraudulent);
`

const schemaCustomRules = `
CREATE TABLE IF NOT EXISTS custom_rules (
    id TEXT NOT NULL,
    tenant_id TEXT NOT NULL,
    name TEXT NOT NULL,
    description TEXT,
    version TEXT NOT NULL,
    expression TEXT NOT NULL,
    points REAL NOT NULL DEFAULT 0,
    reason TEXT NOT NULL,
    enabled INTEGER NOT NULL DEFAULT 1,
    created_at TIMESTAMP NOT NULL,
    updated_at TIMESTAMP NOT NULL,
    PRIMARY KEY (id, tenant_id, version)
);

CREATE INDEX IF NOT EXISTS idx_custom_rules_tenant ON custom_rules(tenant_id);
CREATE INDEX IF NOT EXISTS idx_custom_rules_enabled ON custom_rules(tenant_id, enabled);
`

// AllSchemas returns all schema statements in order.
func AllSchemas() []string {
	return []string{
		schemaTransactions,
		schemaResults,
		schemaCustomRules,
	}
}
