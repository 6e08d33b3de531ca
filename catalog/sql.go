package catalog

import (
	"fmt"

	"github.com/jmoiron/sqlx"
	_ "github.com/mattn/go-sqlite3"
)

const commandsSchema = `
CREATE TABLE IF NOT EXISTS commands (
	id TEXT PRIMARY KEY,
	name TEXT NOT NULL,
	cmd TEXT NOT NULL,
	description TEXT NOT NULL DEFAULT ''
)
`

const insertCommandSql = `
INSERT INTO commands (id, name, cmd, description)
VALUES (:id, :name, :cmd, :description)
`

// SQLStore keeps the catalog in a SQLite table.
type SQLStore struct {
	db *sqlx.DB
}

// OpenSQLStore opens (creating if needed) the SQLite database at path.
func OpenSQLStore(path string) (*SQLStore, error) {
	db, err := sqlx.Connect("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("connecting to %q: %w", path, err)
	}
	if _, err := db.Exec(commandsSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("creating schema: %w", err)
	}
	return &SQLStore{db: db}, nil
}

func (s *SQLStore) Load() (Commands, error) {
	var rows []Command
	err := s.db.Select(&rows, "SELECT id, name, cmd, description FROM commands")
	if err != nil {
		return nil, fmt.Errorf("selecting commands: %w", err)
	}
	cmds := make(Commands, len(rows))
	for _, c := range rows {
		cmds[c.ID] = c
	}
	return cmds, nil
}

// Save replaces the table contents with cmds in one transaction.
func (s *SQLStore) Save(cmds Commands) error {
	tx, err := s.db.Beginx()
	if err != nil {
		return fmt.Errorf("beginning tx: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.Exec("DELETE FROM commands"); err != nil {
		return fmt.Errorf("clearing commands: %w", err)
	}
	for id, c := range cmds {
		c.ID = id
		if _, err := tx.NamedExec(insertCommandSql, c); err != nil {
			return fmt.Errorf("inserting command %q: %w", id, err)
		}
	}
	return tx.Commit()
}

func (s *SQLStore) Close() error {
	return s.db.Close()
}
