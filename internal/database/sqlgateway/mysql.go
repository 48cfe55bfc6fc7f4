package sqlgateway

import (
	"context"
	"fmt"

	"github.com/go-sql-driver/mysql"
	"github.com/jmoiron/sqlx"
	"github.com/pkg/errors"
)

const (
	MySQLDefaultLockKey     = "schemata_migrations"
	MySQLDefaultLockSeconds = 60
	MySQLDefaultCharset     = "utf8mb4"

	mysqlDuplicateEntry = 1062
)

type MySQLOptions struct {
	CommonOptions
	LockKey string
	LockFor int
	NoLock  bool
	Charset string
}

type mysqlDialect struct {
	migrationsTable, charset string
}

var _ Dialect = (*mysqlDialect)(nil)

func (d mysqlDialect) Name() string {
	return "mysql"
}

func (d mysqlDialect) InitQuery() string {
	const createSQL = `
		CREATE TABLE IF NOT EXISTS %s (
			id VARCHAR(64) PRIMARY KEY,
			name VARCHAR(255) NOT NULL,
			executed_at DATETIME(6) NOT NULL
		) ENGINE=InnoDB DEFAULT CHARSET=%s
	`

	return fmt.Sprintf(createSQL, d.migrationsTable, d.charset)
}

func (d mysqlDialect) TableExistsQuery() (string, []interface{}) {
	const existsSQL = "SELECT COUNT(*) FROM information_schema.tables WHERE table_schema = DATABASE() AND table_name = ?"
	return existsSQL, []interface{}{d.migrationsTable}
}

func (d mysqlDialect) ReadQuery() string {
	return fmt.Sprintf("SELECT `id`, `name`, `executed_at` FROM %s", d.migrationsTable)
}

func (d mysqlDialect) InsertQuery() string {
	return fmt.Sprintf("INSERT INTO %s (`id`, `name`, `executed_at`) VALUES (?, ?, ?)", d.migrationsTable)
}

func (d mysqlDialect) RemoveQuery() string {
	return fmt.Sprintf("DELETE FROM %s WHERE `id` = ?", d.migrationsTable)
}

func (d mysqlDialect) DropQuery() string {
	return fmt.Sprintf("DROP TABLE IF EXISTS %s", d.migrationsTable)
}

func (d mysqlDialect) ShowTablesQuery() string {
	return "SHOW TABLES"
}

func (d mysqlDialect) IsUniqueViolation(err error) bool {
	var mysqlErr *mysql.MySQLError
	if !errors.As(err, &mysqlErr) {
		return false
	}

	return mysqlErr.Number == mysqlDuplicateEntry
}

type mysqlLocker struct {
	lockKey string
	lockFor int
}

// Lock waits up to lockFor seconds for the named lock, GET_LOCK returns 0
// on timeout instead of failing so the result has to be checked
func (l *mysqlLocker) Lock(ctx context.Context, conn *sqlx.Conn) error {
	var acquired int
	if err := conn.QueryRowContext(ctx, "SELECT GET_LOCK(?, ?)", l.lockKey, l.lockFor).Scan(&acquired); err != nil {
		return errors.Wrapf(err, "could not obtain [%s] exclusive MySQL DB lock for [%d] seconds", l.lockKey, l.lockFor)
	}

	if acquired != 1 {
		return errors.Errorf("timed out after [%d] seconds waiting for [%s] exclusive MySQL DB lock", l.lockFor, l.lockKey)
	}

	return nil
}

func (l *mysqlLocker) Unlock(ctx context.Context, conn *sqlx.Conn) error {
	if _, err := conn.ExecContext(ctx, "SELECT RELEASE_LOCK(?)", l.lockKey); err != nil {
		return errors.Wrapf(err, "could not release [%s] exclusive MySQL DB lock", l.lockKey)
	}

	return nil
}
