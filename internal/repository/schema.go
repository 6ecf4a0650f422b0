package repository

// Schema definitions for the Vocilia verification core.
// Compatible with both SQLite and PostgreSQL.

const schemaCycles = `
CREATE TABLE IF NOT EXISTS verification_cycles (
    id TEXT PRIMARY KEY,
    business_id TEXT NOT NULL,
    week_id TEXT NOT NULL,
    status TEXT NOT NULL,
    total_databases INTEGER NOT NULL DEFAULT 0,
    prepared_databases INTEGER NOT NULL DEFAULT 0,
    submitted_databases INTEGER NOT NULL DEFAULT 0,
    total_transactions INTEGER NOT NULL DEFAULT 0,
    verified_transactions INTEGER NOT NULL DEFAULT 0,
    fake_transactions INTEGER NOT NULL DEFAULT 0,
    total_rewards TEXT NOT NULL DEFAULT '0',
    total_invoice TEXT NOT NULL DEFAULT '0',
    paid_invoices INTEGER NOT NULL DEFAULT 0,
    created_at TIMESTAMP NOT NULL,
    prepared_at TIMESTAMP,
    completed_at TIMESTAMP,
    UNIQUE (business_id, week_id)
);

CREATE INDEX IF NOT EXISTS idx_cycles_business ON verification_cycles(business_id);
CREATE INDEX IF NOT EXISTS idx_cycles_status ON verification_cycles(business_id, status);
`

const schemaDatabases = `
CREATE TABLE IF NOT EXISTS verification_databases (
    id TEXT PRIMARY KEY,
    cycle_id TEXT NOT NULL,
    store_id TEXT NOT NULL,
    business_id TEXT NOT NULL,
    deadline_at TIMESTAMP NOT NULL,
    transaction_count INTEGER NOT NULL DEFAULT 0,
    verified_count INTEGER NOT NULL DEFAULT 0,
    fake_count INTEGER NOT NULL DEFAULT 0,
    unverified_count INTEGER NOT NULL DEFAULT 0,
    status TEXT NOT NULL,
    csv_url TEXT,
    excel_url TEXT,
    submitted_at TIMESTAMP,
    created_at TIMESTAMP NOT NULL,
    UNIQUE (cycle_id, store_id)
);

CREATE INDEX IF NOT EXISTS idx_databases_business ON verification_databases(business_id);
CREATE INDEX IF NOT EXISTS idx_databases_cycle ON verification_databases(cycle_id);
CREATE INDEX IF NOT EXISTS idx_databases_deadline ON verification_databases(status, deadline_at);
`

const schemaTransactions = `
CREATE TABLE IF NOT EXISTS transactions (
    id TEXT PRIMARY KEY,
    database_id TEXT NOT NULL,
    business_id TEXT NOT NULL,
    store_id TEXT NOT NULL,
    customer_id TEXT NOT NULL,
    customer_time TIMESTAMP NOT NULL,
    customer_amount REAL NOT NULL,
    feedback_text TEXT,
    actual_amount REAL,
    actual_time TIMESTAMP,
    status TEXT NOT NULL,
    created_at TIMESTAMP NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_transactions_database ON transactions(business_id, database_id);
CREATE INDEX IF NOT EXISTS idx_transactions_customer ON transactions(business_id, customer_id);
`

const schemaKeywords = `
CREATE TABLE IF NOT EXISTS red_flag_keywords (
    id TEXT NOT NULL,
    business_id TEXT NOT NULL,
    keyword TEXT NOT NULL,
    category TEXT NOT NULL,
    severity INTEGER NOT NULL,
    language TEXT NOT NULL,
    active INTEGER NOT NULL DEFAULT 1,
    created_at TIMESTAMP NOT NULL,
    updated_at TIMESTAMP NOT NULL,
    PRIMARY KEY (id, business_id)
);

CREATE INDEX IF NOT EXISTS idx_keywords_language ON red_flag_keywords(business_id, language, active);
`

const schemaScreeningRules = `
CREATE TABLE IF NOT EXISTS screening_rules (
    id TEXT NOT NULL,
    business_id TEXT NOT NULL,
    name TEXT NOT NULL,
    description TEXT,
    version TEXT NOT NULL,
    expression TEXT NOT NULL,
    bands TEXT NOT NULL,
    enabled INTEGER NOT NULL DEFAULT 1,
    created_at TIMESTAMP NOT NULL,
    updated_at TIMESTAMP NOT NULL,
    PRIMARY KEY (id, business_id, version)
);

CREATE INDEX IF NOT EXISTS idx_screening_rules_business ON screening_rules(business_id, enabled);
`

const schemaAssessments = `
CREATE TABLE IF NOT EXISTS fraud_assessments (
    id TEXT PRIMARY KEY,
    business_id TEXT NOT NULL,
    transaction_id TEXT NOT NULL,
    database_id TEXT NOT NULL,
    context_score REAL NOT NULL,
    keyword_score REAL NOT NULL,
    behavioral_score REAL NOT NULL,
    transaction_score REAL NOT NULL,
    composite REAL NOT NULL,
    passed INTEGER NOT NULL,
    degraded INTEGER NOT NULL DEFAULT 0,
    review_reason TEXT,
    created_at TIMESTAMP NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_assessments_database ON fraud_assessments(business_id, database_id);
CREATE INDEX IF NOT EXISTS idx_assessments_transaction ON fraud_assessments(business_id, transaction_id);
`

const schemaReviewItems = `
CREATE TABLE IF NOT EXISTS review_items (
    id TEXT PRIMARY KEY,
    business_id TEXT NOT NULL,
    transaction_id TEXT NOT NULL,
    database_id TEXT NOT NULL,
    reason TEXT NOT NULL,
    resolved INTEGER NOT NULL DEFAULT 0,
    created_at TIMESTAMP NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_review_items_open ON review_items(business_id, resolved);
`

const schemaInvoices = `
CREATE TABLE IF NOT EXISTS invoices (
    id TEXT PRIMARY KEY,
    business_id TEXT NOT NULL,
    cycle_id TEXT NOT NULL,
    lines TEXT NOT NULL,
    subtotal TEXT NOT NULL,
    admin_fee TEXT NOT NULL,
    total TEXT NOT NULL,
    created_at TIMESTAMP NOT NULL,
    UNIQUE (business_id, cycle_id)
);

CREATE INDEX IF NOT EXISTS idx_invoices_business ON invoices(business_id);
`

// AllSchemas returns all schema statements in order.
func AllSchemas() []string {
	return []string{
		schemaCycles,
		schemaDatabases,
		schemaTransactions,
		schemaKeywords,
		schemaScreeningRules,
		schemaAssessments,
		schemaReviewItems,
		schemaInvoices,
	}
}
