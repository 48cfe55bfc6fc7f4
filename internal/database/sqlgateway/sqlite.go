package sqlgateway

import (
	"fmt"

	"github.com/mattn/go-sqlite3"
	"github.com/pkg/errors"
)

type SqliteOptions struct {
	CommonOptions
}

type sqliteDialect struct {
	migrationsTable string
}

var _ Dialect = (*sqliteDialect)(nil)

func (d sqliteDialect) Name() string {
	return "sqlite3"
}

func (d sqliteDialect) InitQuery() string {
	const createSQL = `
		CREATE TABLE IF NOT EXISTS %s (
			id VARCHAR(64) PRIMARY KEY,
			name VARCHAR(255) NOT NULL,
			executed_at TIMESTAMP NOT NULL
		);
	`

	return fmt.Sprintf(createSQL, d.migrationsTable)
}

func (d sqliteDialect) TableExistsQuery() (string, []interface{}) {
	return "SELECT COUNT(*) FROM sqlite_master WHERE type = 'table' AND name = ?;", []interface{}{d.migrationsTable}
}

func (d sqliteDialect) ReadQuery() string {
	return fmt.Sprintf("SELECT id, name, executed_at FROM %s;", d.migrationsTable)
}

func (d sqliteDialect) InsertQuery() string {
	return fmt.Sprintf("INSERT INTO %s (id, name, executed_at) VALUES (?, ?, ?);", d.migrationsTable)
}

func (d sqliteDialect) RemoveQuery() string {
	return fmt.Sprintf("DELETE FROM %s WHERE id = ?;", d.migrationsTable)
}

func (d sqliteDialect) DropQuery() string {
	return fmt.Sprintf("DROP TABLE IF EXISTS %s;", d.migrationsTable)
}

func (d sqliteDialect) ShowTablesQuery() string {
	return "SELECT name FROM sqlite_master WHERE type = 'table' AND name NOT LIKE 'sqlite_%' ORDER BY name;"
}

func (d sqliteDialect) IsUniqueViolation(err error) bool {
	var sqliteErr sqlite3.Error
	if !errors.As(err, &sqliteErr) {
		return false
	}

	return sqliteErr.ExtendedCode == sqlite3.ErrConstraintPrimaryKey ||
		sqliteErr.ExtendedCode == sqlite3.ErrConstraintUnique
}
