package db

// Schema is the DDL for the helpdesk database. It is valid for both SQLite and PostgreSQL.
const Schema = `
CREATE TABLE IF NOT EXISTS tickets (
    id                   TEXT PRIMARY KEY,
    thread_id            TEXT NOT NULL,
    sequence             BIGINT NOT NULL,
    is_temporary         INTEGER NOT NULL DEFAULT 0,
    stage_label          TEXT,
    requester_name       TEXT,
    requester_email      TEXT,
    requester_location   TEXT,
    category             TEXT,
    description          TEXT,
    candidates           TEXT,
    resolved_subcategory TEXT,
    priority             TEXT,
    responsible_team     TEXT,
    status               TEXT NOT NULL,
    created_at           TEXT NOT NULL,
    resolved_at          TEXT,
    notes                TEXT
);

CREATE TABLE IF NOT EXISTS thread_sequences (
    thread_id   TEXT PRIMARY KEY,
    sequence    BIGINT NOT NULL UNIQUE,
    assigned_at TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS counters (
    name  TEXT PRIMARY KEY,
    value BIGINT NOT NULL
);

CREATE TABLE IF NOT EXISTS conversations (
    thread_id    TEXT PRIMARY KEY,
    state        TEXT NOT NULL,
    terminal     INTEGER NOT NULL DEFAULT 0,
    data         TEXT NOT NULL,
    next_poll_at TEXT,
    created_at   TEXT NOT NULL,
    updated_at   TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS watermarks (
    thread_id  TEXT PRIMARY KEY,
    message_id TEXT NOT NULL,
    updated_at TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS escalations (
    thread_id  TEXT PRIMARY KEY,
    id         TEXT NOT NULL,
    reason     TEXT NOT NULL,
    created_at TEXT NOT NULL
);

INSERT INTO counters (name, value) VALUES ('ticket', 0) ON CONFLICT (name) DO NOTHING;

CREATE INDEX IF NOT EXISTS idx_tickets_thread ON tickets(thread_id, is_temporary);
CREATE INDEX IF NOT EXISTS idx_tickets_status ON tickets(status);
CREATE INDEX IF NOT EXISTS idx_tickets_priority ON tickets(priority);
CREATE UNIQUE INDEX IF NOT EXISTS idx_tickets_final_thread ON tickets(thread_id) WHERE is_temporary = 0;
CREATE INDEX IF NOT EXISTS idx_conversations_active ON conversations(terminal, next_poll_at);
`
