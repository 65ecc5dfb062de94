package journal

const schema = `
CREATE TABLE IF NOT EXISTS commands (
	id TEXT PRIMARY KEY,
	at DATETIME NOT NULL,
	kind TEXT NOT NULL,
	symbol TEXT NOT NULL,
	ticket INTEGER NOT NULL,
	price REAL NOT NULL,
	volume REAL NOT NULL,
	tag TEXT NOT NULL,
	ok INTEGER NOT NULL,
	code INTEGER NOT NULL,
	order_id INTEGER NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_commands_at ON commands(at);
`
