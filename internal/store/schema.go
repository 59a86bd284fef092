package store

// Schema v1 - Initial database schema
const schemaV1 = `
-- Schema version tracking
CREATE TABLE IF NOT EXISTS schema_version (
  version INTEGER PRIMARY KEY,
  applied_at DATETIME DEFAULT CURRENT_TIMESTAMP
);

-- Items observed in any of the three stores. Identity is unique per store,
-- not globally.
CREATE TABLE IF NOT EXISTS items (
  id INTEGER PRIMARY KEY AUTOINCREMENT,
  store TEXT NOT NULL,
  identity TEXT NOT NULL,
  resolved_path TEXT,
  fingerprint TEXT,
  fingerprint_kind TEXT,
  format TEXT,
  tag_title TEXT,
  tag_artist TEXT,
  tag_album TEXT,
  tag_bpm TEXT,
  tag_key TEXT,
  size_bytes INTEGER,
  mtime_unix INTEGER,
  status TEXT NOT NULL DEFAULT 'discovered',
  error TEXT,
  first_seen_at DATETIME DEFAULT CURRENT_TIMESTAMP,
  last_update_at DATETIME DEFAULT CURRENT_TIMESTAMP,
  UNIQUE(store, identity)
);

CREATE INDEX IF NOT EXISTS idx_items_store ON items(store);
CREATE INDEX IF NOT EXISTS idx_items_status ON items(status);
CREATE INDEX IF NOT EXISTS idx_items_fingerprint ON items(fingerprint);

-- Canonical records: groups of items believed to be the same track
CREATE TABLE IF NOT EXISTS groups (
  group_key TEXT PRIMARY KEY,
  tier TEXT NOT NULL,
  confidence REAL NOT NULL,
  conflicting INTEGER DEFAULT 0,
  hint TEXT
);

CREATE TABLE IF NOT EXISTS group_members (
  group_key TEXT REFERENCES groups(group_key) ON DELETE CASCADE,
  item_id INTEGER REFERENCES items(id) ON DELETE CASCADE,
  position INTEGER NOT NULL,
  PRIMARY KEY (group_key, item_id)
);

CREATE INDEX IF NOT EXISTS idx_group_members_item ON group_members(item_id);

-- Resolution plans: keep/archive per item
CREATE TABLE IF NOT EXISTS plans (
  item_id INTEGER PRIMARY KEY REFERENCES items(id) ON DELETE CASCADE,
  group_key TEXT NOT NULL,
  action TEXT NOT NULL,
  reason TEXT
);

CREATE INDEX IF NOT EXISTS idx_plans_group ON plans(group_key);
CREATE INDEX IF NOT EXISTS idx_plans_action ON plans(action);

-- Operation records: one row per attempted cross-store mutation.
-- (item_id, store, action) is unique so a resumed run reuses the same
-- operation_id instead of minting a second idempotency key.
CREATE TABLE IF NOT EXISTS operations (
  operation_id TEXT PRIMARY KEY,
  item_id INTEGER NOT NULL REFERENCES items(id) ON DELETE CASCADE,
  store TEXT NOT NULL,
  action TEXT NOT NULL,
  status TEXT NOT NULL DEFAULT 'pending',
  attempts INTEGER DEFAULT 0,
  error TEXT,
  created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
  updated_at DATETIME DEFAULT CURRENT_TIMESTAMP,
  UNIQUE(item_id, store, action)
);

CREATE INDEX IF NOT EXISTS idx_operations_status ON operations(status);

-- Named resumable cursors for batch jobs
CREATE TABLE IF NOT EXISTS checkpoints (
  name TEXT PRIMARY KEY,
  cursor TEXT,
  updated_at DATETIME DEFAULT CURRENT_TIMESTAMP
);

-- Orphan sightings: consecutive-run counter per store record whose
-- resolved path is missing on disk
CREATE TABLE IF NOT EXISTS orphan_sightings (
  store TEXT NOT NULL,
  identity TEXT NOT NULL,
  resolved_path TEXT,
  runs_seen INTEGER DEFAULT 1,
  first_seen_at DATETIME DEFAULT CURRENT_TIMESTAMP,
  last_seen_at DATETIME DEFAULT CURRENT_TIMESTAMP,
  PRIMARY KEY (store, identity)
);
`
