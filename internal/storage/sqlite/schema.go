// Package sqlite provides the SQLite implementation of the memgate
// relational store.
package sqlite

// Schema contains the SQL statements to create the relational schema.
// The relational store is authoritative for record state, trust status,
// and the append-only audit tables; the semantic store holds only a
// projection of active records keyed by the same ids.
const Schema = `
-- Memory records: authoritative record state
CREATE TABLE IF NOT EXISTS memories (
    id TEXT PRIMARY KEY,
    user_id TEXT NOT NULL,
    app_id TEXT NOT NULL,
    content TEXT NOT NULL,
    state TEXT NOT NULL DEFAULT 'active',
    metadata TEXT,

    created_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
    updated_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
    archived_at TIMESTAMP,
    deleted_at TIMESTAMP
);

CREATE INDEX IF NOT EXISTS idx_memories_user_state ON memories(user_id, state);
CREATE INDEX IF NOT EXISTS idx_memories_app_state ON memories(app_id, state);
CREATE INDEX IF NOT EXISTS idx_memories_user_app ON memories(user_id, app_id);

-- Status history: one append-only row per state transition
CREATE TABLE IF NOT EXISTS memory_status_history (
    id TEXT PRIMARY KEY,
    memory_id TEXT NOT NULL,
    changed_by TEXT NOT NULL,
    old_state TEXT,
    new_state TEXT NOT NULL,
    changed_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,

    FOREIGN KEY (memory_id) REFERENCES memories(id)
);

CREATE INDEX IF NOT EXISTS idx_history_memory_state ON memory_status_history(memory_id, new_state);
CREATE INDEX IF NOT EXISTS idx_history_user_time ON memory_status_history(changed_by, changed_at);

-- Access log: one append-only row per read/search/list/delete
CREATE TABLE IF NOT EXISTS memory_access_logs (
    id TEXT PRIMARY KEY,
    memory_id TEXT NOT NULL,
    app_id TEXT NOT NULL,
    access_type TEXT NOT NULL,
    metadata TEXT,
    accessed_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
);

CREATE INDEX IF NOT EXISTS idx_access_memory_time ON memory_access_logs(memory_id, accessed_at);
CREATE INDEX IF NOT EXISTS idx_access_app_time ON memory_access_logs(app_id, accessed_at);

-- Access rules: subject x object -> allow/deny, NULL id means "any"
CREATE TABLE IF NOT EXISTS access_rules (
    id TEXT PRIMARY KEY,
    subject_type TEXT NOT NULL,
    subject_id TEXT,
    object_type TEXT NOT NULL,
    object_id TEXT,
    effect TEXT NOT NULL,
    created_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
);

CREATE INDEX IF NOT EXISTS idx_rules_subject ON access_rules(subject_type, subject_id);
CREATE INDEX IF NOT EXISTS idx_rules_object ON access_rules(object_type, object_id);

-- Client registry: one row per client identifier ever seen
CREATE TABLE IF NOT EXISTS client_registry (
    id TEXT PRIMARY KEY,
    client_identifier TEXT NOT NULL UNIQUE,
    client_type TEXT NOT NULL,
    model_name TEXT,
    client_version TEXT,
    endpoint_pattern TEXT NOT NULL,
    status TEXT NOT NULL DEFAULT 'pending',
    auto_approved INTEGER NOT NULL DEFAULT 0,
    detection_metadata TEXT,
    metadata TEXT,

    created_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
    updated_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
    last_seen_at TIMESTAMP
);

CREATE INDEX IF NOT EXISTS idx_registry_type_status ON client_registry(client_type, status);
CREATE INDEX IF NOT EXISTS idx_registry_model_status ON client_registry(model_name, status);
CREATE INDEX IF NOT EXISTS idx_registry_last_seen ON client_registry(last_seen_at);

-- Client sessions: one append-only row per accepted connection
CREATE TABLE IF NOT EXISTS client_sessions (
    id TEXT PRIMARY KEY,
    client_registry_id TEXT NOT NULL,
    user_id TEXT NOT NULL,
    session_token TEXT NOT NULL UNIQUE,
    endpoint_used TEXT NOT NULL,
    user_agent TEXT,
    remote_addr TEXT,
    confidence_score INTEGER NOT NULL DEFAULT 0,

    started_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
    last_activity_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
    ended_at TIMESTAMP,

    FOREIGN KEY (client_registry_id) REFERENCES client_registry(id)
);

CREATE INDEX IF NOT EXISTS idx_sessions_user_client ON client_sessions(user_id, client_registry_id);
CREATE INDEX IF NOT EXISTS idx_sessions_activity ON client_sessions(last_activity_at);
`
