package storage

// Unique constraint and index names referenced when mapping violations
const (
	requestIDConstraint     = "jobs_request_id_key"
	activeSubjectConstraint = "jobs_active_subject_idx"
)

var postgresSchema = []string{
	`CREATE TABLE IF NOT EXISTS jobs (
		seq             BIGSERIAL PRIMARY KEY,
		id              TEXT NOT NULL UNIQUE,
		subject         TEXT NOT NULL,
		origin          TEXT NOT NULL DEFAULT 'manual',
		priority        TEXT NOT NULL DEFAULT 'LOW' CHECK (priority IN ('HIGH', 'LOW')),
		status          TEXT NOT NULL DEFAULT 'PENDING' CHECK (status IN ('PENDING', 'PROCESSING', 'COMPLETED', 'FAILED', 'PAUSED')),
		attempts        INTEGER NOT NULL DEFAULT 0 CHECK (attempts >= 0),
		last_attempt_at TIMESTAMPTZ,
		error           TEXT,
		request_id      TEXT,
		created_at      TIMESTAMPTZ NOT NULL,
		updated_at      TIMESTAMPTZ NOT NULL,
		CONSTRAINT jobs_request_id_key UNIQUE (request_id)
	)`,
	`CREATE UNIQUE INDEX IF NOT EXISTS jobs_active_subject_idx
		ON jobs (subject) WHERE status IN ('PENDING', 'PROCESSING', 'PAUSED')`,
	`CREATE INDEX IF NOT EXISTS jobs_pending_order_idx
		ON jobs (priority, created_at, seq) WHERE status = 'PENDING'`,
	`CREATE INDEX IF NOT EXISTS jobs_processing_lease_idx
		ON jobs (last_attempt_at) WHERE status = 'PROCESSING'`,
	`CREATE INDEX IF NOT EXISTS jobs_subject_idx ON jobs (subject)`,
	`CREATE INDEX IF NOT EXISTS jobs_created_idx ON jobs (created_at DESC, seq DESC)`,
}

var sqliteSchema = []string{
	`CREATE TABLE IF NOT EXISTS jobs (
		seq             INTEGER PRIMARY KEY AUTOINCREMENT,
		id              TEXT NOT NULL UNIQUE,
		subject         TEXT NOT NULL,
		origin          TEXT NOT NULL DEFAULT 'manual',
		priority        TEXT NOT NULL DEFAULT 'LOW' CHECK (priority IN ('HIGH', 'LOW')),
		status          TEXT NOT NULL DEFAULT 'PENDING' CHECK (status IN ('PENDING', 'PROCESSING', 'COMPLETED', 'FAILED', 'PAUSED')),
		attempts        INTEGER NOT NULL DEFAULT 0 CHECK (attempts >= 0),
		last_attempt_at TIMESTAMP,
		error           TEXT,
		request_id      TEXT,
		created_at      TIMESTAMP NOT NULL,
		updated_at      TIMESTAMP NOT NULL,
		CONSTRAINT jobs_request_id_key UNIQUE (request_id)
	)`,
	`CREATE UNIQUE INDEX IF NOT EXISTS jobs_active_subject_idx
		ON jobs (subject) WHERE status IN ('PENDING', 'PROCESSING', 'PAUSED')`,
	`CREATE INDEX IF NOT EXISTS jobs_pending_order_idx
		ON jobs (priority, created_at, seq) WHERE status = 'PENDING'`,
	`CREATE INDEX IF NOT EXISTS jobs_processing_lease_idx
		ON jobs (last_attempt_at) WHERE status = 'PROCESSING'`,
	`CREATE INDEX IF NOT EXISTS jobs_subject_idx ON jobs (subject)`,
	`CREATE INDEX IF NOT EXISTS jobs_created_idx ON jobs (created_at DESC, seq DESC)`,
}
