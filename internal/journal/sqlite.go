package journal

import (
	"database/sql"

	_ "github.com/mattn/go-sqlite3"
)

// SQLite persists the command audit trail to a local sqlite file.
type SQLite struct {
	db *sql.DB
}

func NewSQLite(path string) (*SQLite, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, err
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, err
	}
	return &SQLite{db: db}, nil
}

func (j *SQLite) RecordCommand(c Command) error {
	_, err := j.db.Exec(`
		INSERT INTO commands
		(id, at, kind, symbol, ticket, price, volume, tag, ok, code, order_id)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		c.ID, c.At, c.Kind, c.Symbol, c.Ticket, c.Price, c.Volume, c.Tag, c.OK, c.Code, c.OrderID,
	)
	return err
}

func (j *SQLite) Close() error {
	return j.db.Close()
}
