package persistence

// Schema is grounded on the SQL table style of the example corpus's
// SQLSessionService (CREATE TABLE IF NOT EXISTS + separate index
// statements), adapted to OrbitDock's session/message/approval shapes
// the persistence store's schema.

const createSessionsTableSQL = `
CREATE TABLE IF NOT EXISTS sessions (
	id                      TEXT PRIMARY KEY,
	provider                TEXT NOT NULL,
	integration_mode        TEXT,
	project_path            TEXT NOT NULL,
	project_name            TEXT,
	git_branch              TEXT,
	git_sha                 TEXT,
	current_cwd             TEXT,
	model                   TEXT,
	effort                  TEXT,
	transcript_path         TEXT,
	custom_name             TEXT,
	summary                 TEXT,
	approval_policy         TEXT,
	sandbox_mode            TEXT,
	permission_mode         TEXT,
	source                  TEXT,
	agent_type              TEXT,
	status                  TEXT NOT NULL,
	work_status             TEXT NOT NULL,
	input_tokens            INTEGER NOT NULL DEFAULT 0,
	output_tokens           INTEGER NOT NULL DEFAULT 0,
	cached_tokens           INTEGER NOT NULL DEFAULT 0,
	context_window          INTEGER NOT NULL DEFAULT 0,
	current_diff            TEXT,
	plan                    TEXT,
	started_at              TEXT NOT NULL,
	last_activity_at        TEXT NOT NULL,
	ended_at                TEXT,
	end_reason              TEXT,
	revision                INTEGER NOT NULL DEFAULT 0,
	forked_from_session_id  TEXT,
	external_thread_id      TEXT,
	first_prompt            TEXT,
	last_message            TEXT,
	prompt_count            INTEGER NOT NULL DEFAULT 0,
	tool_count              INTEGER NOT NULL DEFAULT 0,
	compact_count           INTEGER NOT NULL DEFAULT 0,
	last_tool               TEXT,
	last_tool_at            TEXT
)`

const createSessionsStatusIndexSQL = `
CREATE INDEX IF NOT EXISTS idx_sessions_status ON sessions(status, last_activity_at)`

const createSessionsThreadIndexSQL = `
CREATE UNIQUE INDEX IF NOT EXISTS idx_sessions_thread ON sessions(provider, external_thread_id)
	WHERE external_thread_id IS NOT NULL`

const createMessagesTableSQL = `
CREATE TABLE IF NOT EXISTS messages (
	id           TEXT PRIMARY KEY,
	session_id   TEXT NOT NULL,
	sequence     INTEGER NOT NULL,
	type         TEXT NOT NULL,
	content      TEXT,
	tool_name    TEXT,
	tool_input   TEXT,
	tool_output  TEXT,
	is_error     BOOLEAN NOT NULL DEFAULT 0,
	timestamp    TEXT NOT NULL,
	duration_ms  INTEGER,
	images_json  TEXT
)`

const createMessagesIndexSQL = `
CREATE INDEX IF NOT EXISTS idx_messages_session ON messages(session_id, sequence)`

const createDiffHistoryTableSQL = `
CREATE TABLE IF NOT EXISTS diff_history (
	session_id     TEXT NOT NULL,
	turn           INTEGER NOT NULL,
	diff           TEXT NOT NULL,
	input_tokens   INTEGER NOT NULL DEFAULT 0,
	output_tokens  INTEGER NOT NULL DEFAULT 0,
	cached_tokens  INTEGER NOT NULL DEFAULT 0,
	context_window INTEGER NOT NULL DEFAULT 0,
	PRIMARY KEY (session_id, turn)
)`

const createApprovalHistoryTableSQL = `
CREATE TABLE IF NOT EXISTS approval_history (
	id                  INTEGER PRIMARY KEY AUTOINCREMENT,
	session_id          TEXT NOT NULL,
	request_id          TEXT NOT NULL,
	type                TEXT NOT NULL,
	tool_name           TEXT,
	command             TEXT,
	file_path           TEXT,
	cwd                 TEXT,
	decision            TEXT,
	proposed_amendment  TEXT,
	created_at          TEXT NOT NULL,
	decided_at          TEXT
)`

const createApprovalHistoryIndexSQL = `
CREATE INDEX IF NOT EXISTS idx_approval_history_session ON approval_history(session_id, created_at)`

const createReviewCommentsTableSQL = `
CREATE TABLE IF NOT EXISTS review_comments (
	id          INTEGER PRIMARY KEY AUTOINCREMENT,
	session_id  TEXT NOT NULL,
	turn        INTEGER NOT NULL,
	file_path   TEXT NOT NULL,
	line        INTEGER,
	body        TEXT NOT NULL,
	created_at  TEXT NOT NULL
)`

const createAppConfigTableSQL = `
CREATE TABLE IF NOT EXISTS app_config (
	key   TEXT PRIMARY KEY,
	value TEXT NOT NULL
)`

var schemaStatements = []string{
	createSessionsTableSQL,
	createSessionsStatusIndexSQL,
	createSessionsThreadIndexSQL,
	createMessagesTableSQL,
	createMessagesIndexSQL,
	createDiffHistoryTableSQL,
	createApprovalHistoryTableSQL,
	createApprovalHistoryIndexSQL,
	createReviewCommentsTableSQL,
	createAppConfigTableSQL,
}
