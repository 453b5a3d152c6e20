package repository

// Schema definitions for the Kestrel database.
// Compatible with both SQLite and PostgreSQL. Monetary amounts are stored
// as TEXT so decimal values round-trip exactly.

const schemaExpenses = `
CREATE TABLE IF NOT EXISTS expenses (
    id TEXT PRIMARY KEY,
    tenant_id TEXT NOT NULL,
    amount TEXT NOT NULL,
    date TIMESTAMP NOT NULL,
    merchant_name TEXT NOT NULL,
    category_name TEXT,
    class TEXT NOT NULL,
    jurisdiction_tag TEXT,
    payment_source_key TEXT NOT NULL,
    has_receipt INTEGER NOT NULL DEFAULT 0,
    status TEXT NOT NULL,
    flag_reason TEXT,
    created_at TIMESTAMP NOT NULL,
    updated_at TIMESTAMP NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_expenses_tenant ON expenses(tenant_id);
CREATE INDEX IF NOT EXISTS idx_expenses_status ON expenses(tenant_id, status);
CREATE INDEX IF NOT EXISTS idx_expenses_date ON expenses(tenant_id, date);
`

const schemaBankTransactions = `
CREATE TABLE IF NOT EXISTS bank_transactions (
    id TEXT PRIMARY KEY,
    tenant_id TEXT NOT NULL,
    amount TEXT NOT NULL,
    date TIMESTAMP NOT NULL,
    description TEXT NOT NULL,
    extracted_vendor TEXT,
    payment_source_key TEXT NOT NULL,
    created_at TIMESTAMP NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_bank_tx_tenant ON bank_transactions(tenant_id);
CREATE INDEX IF NOT EXISTS idx_bank_tx_candidates ON bank_transactions(tenant_id, payment_source_key, date);
`

const schemaDecisions = `
CREATE TABLE IF NOT EXISTS decisions (
    id TEXT PRIMARY KEY,
    tenant_id TEXT NOT NULL,
    expense_id TEXT NOT NULL,
    outcome TEXT NOT NULL,
    confidence INTEGER NOT NULL,
    reason_code TEXT NOT NULL,
    reason TEXT,
    match_result TEXT NOT NULL,
    jurisdiction TEXT NOT NULL,
    policy_results TEXT,
    metadata TEXT NOT NULL,
    timestamp TIMESTAMP NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_decisions_tenant ON decisions(tenant_id);
CREATE INDEX IF NOT EXISTS idx_decisions_expense ON decisions(tenant_id, expense_id);
CREATE INDEX IF NOT EXISTS idx_decisions_outcome ON decisions(tenant_id, outcome);
CREATE INDEX IF NOT EXISTS idx_decisions_timestamp ON decisions(tenant_id, timestamp);
`

// schemaAuditRecords keeps exactly one row per (tenant, expense): writes go
// through an upsert on the natural key, never a second insert.
const schemaAuditRecords = `
CREATE TABLE IF NOT EXISTS audit_records (
    tenant_id TEXT NOT NULL,
    expense_id TEXT NOT NULL,
    predicted TEXT NOT NULL,
    final TEXT NOT NULL,
    was_corrected_by_human INTEGER NOT NULL DEFAULT 0,
    ambiguous_jurisdiction INTEGER NOT NULL DEFAULT 0,
    corrections TEXT,
    created_at TIMESTAMP NOT NULL,
    updated_at TIMESTAMP NOT NULL,
    PRIMARY KEY (tenant_id, expense_id)
);
`

const schemaPolicyRules = `
CREATE TABLE IF NOT EXISTS policy_rules (
    id TEXT NOT NULL,
    tenant_id TEXT NOT NULL,
    name TEXT NOT NULL,
    description TEXT,
    version TEXT NOT NULL,
    expression TEXT NOT NULL,
    bands TEXT NOT NULL,
    enabled INTEGER NOT NULL DEFAULT 1,
    created_at TIMESTAMP NOT NULL,
    updated_at TIMESTAMP NOT NULL,
    PRIMARY KEY (id, tenant_id, version)
);

CREATE INDEX IF NOT EXISTS idx_policy_rules_tenant ON policy_rules(tenant_id);
CREATE INDEX IF NOT EXISTS idx_policy_rules_enabled ON policy_rules(tenant_id, enabled);
`

const schemaCalendarEvents = `
CREATE TABLE IF NOT EXISTS calendar_events (
    id TEXT PRIMARY KEY,
    tenant_id TEXT NOT NULL,
    name TEXT NOT NULL,
    jurisdiction_code TEXT NOT NULL,
    start_date TIMESTAMP NOT NULL,
    end_date TIMESTAMP NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_calendar_events_tenant ON calendar_events(tenant_id);
CREATE INDEX IF NOT EXISTS idx_calendar_events_range ON calendar_events(tenant_id, start_date, end_date);
`

// AllSchemas returns all schema statements in order.
func AllSchemas() []string {
	return []string{
		schemaExpenses,
		schemaBankTransactions,
		schemaDecisions,
		schemaAuditRecords,
		schemaPolicyRules,
		schemaCalendarEvents,
	}
}
