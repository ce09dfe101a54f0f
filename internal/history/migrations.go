package history

const schema = `
CREATE TABLE IF NOT EXISTS invocations (
    id TEXT PRIMARY KEY,
    config_path TEXT NOT NULL,
    out_dir TEXT NOT NULL,
    mode TEXT NOT NULL,
    status TEXT NOT NULL DEFAULT 'running',
    pid INTEGER DEFAULT 0,
    total INTEGER DEFAULT 0,
    succeeded INTEGER DEFAULT 0,
    failed INTEGER DEFAULT 0,
    skipped INTEGER DEFAULT 0,
    started_at TIMESTAMP,
    finished_at TIMESTAMP
);

CREATE INDEX IF NOT EXISTS idx_invocations_status ON invocations(status);
CREATE INDEX IF NOT EXISTS idx_invocations_out_dir ON invocations(out_dir);

CREATE TABLE IF NOT EXISTS dispatches (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    invocation_id TEXT NOT NULL REFERENCES invocations(id),
    point_id TEXT NOT NULL,
    status TEXT NOT NULL,
    wall_seconds REAL DEFAULT 0,
    finished_at TIMESTAMP
);

CREATE INDEX IF NOT EXISTS idx_dispatches_invocation_id ON dispatches(invocation_id);
CREATE INDEX IF NOT EXISTS idx_dispatches_point_id ON dispatches(point_id);
`
