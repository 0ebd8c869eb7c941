package store

const schema = `
CREATE TABLE IF NOT EXISTS items (
    item_id          INTEGER PRIMARY KEY,
    item_name        TEXT NOT NULL UNIQUE,
    preferred_name   TEXT NOT NULL DEFAULT '',
    completion_rate  REAL NOT NULL,
    categories       TEXT NOT NULL DEFAULT '',
    whitelist        BOOLEAN NOT NULL DEFAULT 0
);

CREATE TABLE IF NOT EXISTS categories (
    category  TEXT PRIMARY KEY,
    clamp     BOOLEAN NOT NULL DEFAULT 0
);

CREATE TABLE IF NOT EXISTS item_categories (
    item_id   INTEGER NOT NULL REFERENCES items(item_id) ON DELETE CASCADE,
    category  TEXT NOT NULL REFERENCES categories(category),
    PRIMARY KEY (item_id, category)
);

CREATE INDEX IF NOT EXISTS idx_item_categories_category ON item_categories(category);

CREATE TABLE IF NOT EXISTS ledger_entries (
    id          INTEGER PRIMARY KEY AUTOINCREMENT,
    player_id   TEXT NOT NULL,
    item_name   TEXT NOT NULL,
    points      INTEGER NOT NULL,
    created_at  DATETIME NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_ledger_item ON ledger_entries(item_name);
CREATE INDEX IF NOT EXISTS idx_ledger_player ON ledger_entries(player_id);

CREATE TABLE IF NOT EXISTS players (
    player_id     TEXT PRIMARY KEY,
    display_name  TEXT NOT NULL DEFAULT '',
    points        INTEGER NOT NULL DEFAULT 0,
    updated_at    DATETIME NOT NULL
);

CREATE VIEW IF NOT EXISTS v_item_data AS
SELECT
    i.item_id,
    i.item_name,
    i.preferred_name,
    i.completion_rate,
    i.categories,
    i.whitelist,
    COALESCE((SELECT MAX(c.clamp) FROM item_categories ic
              JOIN categories c ON c.category = ic.category
              WHERE ic.item_id = i.item_id), 0) AS clamp,
    (SELECT COUNT(*) FROM ledger_entries l WHERE l.item_name = i.item_name) AS ledger_count,
    COALESCE((SELECT MAX(l.points) FROM ledger_entries l WHERE l.item_name = i.item_name), 0) AS highest_points
FROM items i;
`
