package storage

const schemaSQL = `
CREATE TABLE IF NOT EXISTS websites (
    id INTEGER PRIMARY KEY AUTOINCREMENT NOT NULL,
    company_id INTEGER NOT NULL,
    website TEXT NOT NULL,
    scraped_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
);

CREATE TABLE IF NOT EXISTS words (
    id INTEGER PRIMARY KEY AUTOINCREMENT NOT NULL,
    website_id INTEGER NOT NULL REFERENCES websites(id),
    word TEXT NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_websites_website ON websites(website);
CREATE INDEX IF NOT EXISTS idx_words_website ON words(website_id);
`
