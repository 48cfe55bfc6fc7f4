package sqlgateway

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jmoiron/sqlx"
	"github.com/pkg/errors"
)

const (
	PostgresDefaultLockKey int64 = 99887766

	postgresUniqueViolation = "23505"
)

type PostgresOptions struct {
	CommonOptions
	LockKey int64
	NoLock  bool
}

type postgresDialect struct {
	migrationsTable string
}

var _ Dialect = (*postgresDialect)(nil)

func (d postgresDialect) Name() string {
	return "postgres"
}

func (d postgresDialect) InitQuery() string {
	const createSQL = `
		CREATE TABLE IF NOT EXISTS %s (
			id VARCHAR(64) PRIMARY KEY,
			name VARCHAR(255) NOT NULL,
			executed_at TIMESTAMPTZ NOT NULL
		)
	`

	return fmt.Sprintf(createSQL, d.migrationsTable)
}

func (d postgresDialect) TableExistsQuery() (string, []interface{}) {
	const existsSQL = "SELECT COUNT(*) FROM information_schema.tables WHERE table_schema = current_schema() AND table_name = ?"
	return existsSQL, []interface{}{d.migrationsTable}
}

func (d postgresDialect) ReadQuery() string {
	return fmt.Sprintf("SELECT id, name, executed_at FROM %s", d.migrationsTable)
}

func (d postgresDialect) InsertQuery() string {
	return fmt.Sprintf("INSERT INTO %s (id, name, executed_at) VALUES (?, ?, ?)", d.migrationsTable)
}

func (d postgresDialect) RemoveQuery() string {
	return fmt.Sprintf("DELETE FROM %s WHERE id = ?", d.migrationsTable)
}

func (d postgresDialect) DropQuery() string {
	return fmt.Sprintf("DROP TABLE IF EXISTS %s", d.migrationsTable)
}

func (d postgresDialect) ShowTablesQuery() string {
	return "SELECT tablename FROM pg_catalog.pg_tables WHERE schemaname = current_schema() ORDER BY tablename"
}

func (d postgresDialect) IsUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) {
		return false
	}

	return pgErr.Code == postgresUniqueViolation
}

type postgresLocker struct {
	lockKey int64
}

func (l *postgresLocker) Lock(ctx context.Context, conn *sqlx.Conn) error {
	if _, err := conn.ExecContext(ctx, "SELECT pg_advisory_lock($1)", l.lockKey); err != nil {
		return errors.Wrapf(err, "could not obtain [%d] exclusive Postgres advisory lock", l.lockKey)
	}

	return nil
}

func (l *postgresLocker) Unlock(ctx context.Context, conn *sqlx.Conn) error {
	if _, err := conn.ExecContext(ctx, "SELECT pg_advisory_unlock($1)", l.lockKey); err != nil {
		return errors.Wrapf(err, "could not release [%d] exclusive Postgres advisory lock", l.lockKey)
	}

	return nil
}
