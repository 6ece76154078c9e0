package sqlite

const schema = `
-- Component state that is a single value (controller, breaker, ledger counters)
CREATE TABLE IF NOT EXISTS state (
    key TEXT PRIMARY KEY,
    value TEXT NOT NULL,
    updated_at INTEGER NOT NULL
);

-- Rolling check window, oldest first
CREATE TABLE IF NOT EXISTS checks (
    seq INTEGER PRIMARY KEY,
    timestamp INTEGER NOT NULL,
    file_path TEXT NOT NULL DEFAULT '',
    had_errors INTEGER NOT NULL DEFAULT 0,
    error_count INTEGER NOT NULL DEFAULT 0,
    was_escalated INTEGER NOT NULL DEFAULT 0
);

-- Reasoning invocation history
CREATE TABLE IF NOT EXISTS invocations (
    id TEXT PRIMARY KEY,
    timestamp INTEGER NOT NULL,
    prompt_size INTEGER NOT NULL DEFAULT 0,
    response_size INTEGER NOT NULL DEFAULT 0,
    input_tokens INTEGER NOT NULL DEFAULT 0,
    output_tokens INTEGER NOT NULL DEFAULT 0,
    model TEXT NOT NULL DEFAULT '',
    succeeded INTEGER NOT NULL DEFAULT 0,
    cached INTEGER NOT NULL DEFAULT 0,
    category TEXT NOT NULL DEFAULT '',
    duration_ns INTEGER NOT NULL DEFAULT 0,
    failure TEXT NOT NULL DEFAULT ''
);

CREATE INDEX IF NOT EXISTS idx_invocations_timestamp ON invocations(timestamp);
`

const (
	keyController = "controller"
	keyBreaker    = "breaker"
	keyLedger     = "ledger"
)
