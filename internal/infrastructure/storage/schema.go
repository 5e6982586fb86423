package storage

// Column types are chosen so the same DDL runs on sqlite and postgres.
var schema = []string{
	`CREATE TABLE IF NOT EXISTS insights (
		id TEXT PRIMARY KEY,
		type TEXT NOT NULL,
		source_id TEXT NOT NULL,
		title TEXT NOT NULL,
		body TEXT NOT NULL,
		urgency TEXT NOT NULL,
		urgency_score DOUBLE PRECISION NOT NULL,
		confidence DOUBLE PRECISION NOT NULL DEFAULT 0.8,
		actionable INTEGER NOT NULL DEFAULT 1,
		expires_at TEXT,
		generated_at TEXT NOT NULL,
		state TEXT NOT NULL DEFAULT 'generated',
		delivery_channel TEXT,
		delivered_at TEXT,
		session_id TEXT NOT NULL,
		schema_version INTEGER DEFAULT 1,
		created_at TEXT NOT NULL,
		updated_at TEXT
	)`,
	`CREATE INDEX IF NOT EXISTS idx_insights_state ON insights(state, urgency_score DESC)`,
	`CREATE INDEX IF NOT EXISTS idx_insights_source ON insights(source_id, type, generated_at DESC)`,
	`CREATE INDEX IF NOT EXISTS idx_insights_expires ON insights(expires_at, state)`,
	`CREATE INDEX IF NOT EXISTS idx_insights_session ON insights(session_id, generated_at DESC)`,

	`CREATE TABLE IF NOT EXISTS insight_feedback (
		id TEXT PRIMARY KEY,
		insight_id TEXT NOT NULL,
		insight_type TEXT NOT NULL,
		source_id TEXT NOT NULL,
		urgency_at_delivery TEXT NOT NULL,
		delivered_at TEXT NOT NULL,
		channel TEXT NOT NULL,
		acted_on INTEGER NOT NULL DEFAULT 0,
		action_type TEXT NOT NULL DEFAULT 'ignored',
		latency_ms BIGINT,
		session_id TEXT NOT NULL,
		created_at TEXT NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_feedback_source_type ON insight_feedback(source_id, insight_type, acted_on)`,
	`CREATE INDEX IF NOT EXISTS idx_feedback_insight ON insight_feedback(insight_id)`,
	`CREATE INDEX IF NOT EXISTS idx_feedback_window ON insight_feedback(created_at DESC)`,

	`CREATE TABLE IF NOT EXISTS predict_action_rates (
		id TEXT PRIMARY KEY,
		source_id TEXT NOT NULL,
		insight_type TEXT NOT NULL,
		action_rate DOUBLE PRECISION NOT NULL DEFAULT 0.0,
		observation_count INTEGER DEFAULT 0,
		low_value INTEGER DEFAULT 0,
		last_updated TEXT NOT NULL,
		UNIQUE(source_id, insight_type)
	)`,

	`CREATE TABLE IF NOT EXISTS atoms (
		id TEXT PRIMARY KEY,
		subject TEXT NOT NULL,
		action TEXT NOT NULL,
		outcome TEXT NOT NULL,
		consequences TEXT NOT NULL,
		confidence DOUBLE PRECISION NOT NULL DEFAULT 0.0,
		source TEXT NOT NULL,
		created_at TEXT NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_atoms_subject ON atoms(subject)`,
}
