package schemata

import (
	"context"
	"database/sql"
	"io/fs"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/pkg/errors"

	"github.com/denismitr/schemata/internal/database/sqlgateway"
	"github.com/denismitr/schemata/internal/logger"
	"github.com/denismitr/schemata/ledger"
	"github.com/denismitr/schemata/migration"
)

type OptionFunc func(*Migrator) error

type (
	SqliteOptionFunc   func(*sqlgateway.SqliteOptions, *sqlgateway.ConnectOptions)
	MySQLOptionFunc    func(*sqlgateway.MySQLOptions, *sqlgateway.ConnectOptions)
	PostgresOptionFunc func(*sqlgateway.PostgresOptions, *sqlgateway.ConnectOptions)
)

func UseRegistry(r *migration.Registry) OptionFunc {
	return func(m *Migrator) error {
		m.registry = r
		return nil
	}
}

// UseFS builds the registry out of the migration files found in dir
func UseFS(fsys fs.FS, dir string) OptionFunc {
	return func(m *Migrator) error {
		factories, err := migration.FromFS(fsys, dir)
		if err != nil {
			return err
		}

		r, err := migration.NewRegistry(factories...)
		if err != nil {
			return err
		}

		m.registry = r
		return nil
	}
}

// UseStore sets a store owned by the caller, the migrator will not close it
func UseStore(s ledger.Store) OptionFunc {
	return func(m *Migrator) error {
		m.store = s
		return nil
	}
}

func UseSqlite(ctx context.Context, db *sql.DB, options ...SqliteOptionFunc) OptionFunc {
	return func(m *Migrator) error {
		sqliteOpts := &sqlgateway.SqliteOptions{}
		connectOpts := sqlgateway.NewDefaultConnectOptions()

		for _, oFunc := range options {
			oFunc(sqliteOpts, connectOpts)
		}

		gateway, err := sqlgateway.NewSqliteGateway(ctx, sqlx.NewDb(db, "sqlite3"), *sqliteOpts, connectOpts)
		if err != nil {
			return err
		}

		m.useGateway(gateway)
		return nil
	}
}

// UseMySQL works with or without parseTime in the DSN, the ledger is always
// written and read in UTC
func UseMySQL(ctx context.Context, db *sql.DB, options ...MySQLOptionFunc) OptionFunc {
	return func(m *Migrator) error {
		mysqlOpts := &sqlgateway.MySQLOptions{
			LockKey: sqlgateway.MySQLDefaultLockKey,
			LockFor: sqlgateway.MySQLDefaultLockSeconds,
			Charset: sqlgateway.MySQLDefaultCharset,
		}
		connectOpts := sqlgateway.NewDefaultConnectOptions()

		for _, oFunc := range options {
			oFunc(mysqlOpts, connectOpts)
		}

		gateway, err := sqlgateway.NewMySQLGateway(ctx, sqlx.NewDb(db, "mysql"), *mysqlOpts, connectOpts)
		if err != nil {
			return err
		}

		m.useGateway(gateway)
		return nil
	}
}

func UsePostgres(ctx context.Context, db *sql.DB, options ...PostgresOptionFunc) OptionFunc {
	return func(m *Migrator) error {
		pgOpts := &sqlgateway.PostgresOptions{LockKey: sqlgateway.PostgresDefaultLockKey}
		connectOpts := sqlgateway.NewDefaultConnectOptions()

		for _, oFunc := range options {
			oFunc(pgOpts, connectOpts)
		}

		gateway, err := sqlgateway.NewPostgresGateway(ctx, sqlx.NewDb(db, "pgx"), *pgOpts, connectOpts)
		if err != nil {
			return err
		}

		m.useGateway(gateway)
		return nil
	}
}

// UseDB picks the gateway by the driver the database was opened with
func UseDB(ctx context.Context, db *sqlx.DB, migrationsTable string) OptionFunc {
	return func(m *Migrator) error {
		gateway, err := sqlgateway.New(ctx, db, migrationsTable, sqlgateway.NewDefaultConnectOptions())
		if err != nil {
			return errors.Wrap(err, "could not create database gateway")
		}

		m.useGateway(gateway)
		return nil
	}
}

func UseColorLogger(p logger.Printer, printSQL, printDebug bool) OptionFunc {
	return func(m *Migrator) error {
		m.lg = logger.NewColorLogger(p, printSQL, printDebug)
		return nil
	}
}

func UseLogger(lg logger.Logger) OptionFunc {
	return func(m *Migrator) error {
		m.lg = lg
		return nil
	}
}

// UseClock replaces time.Now for ledger timestamps and scaffolds
func UseClock(clock migration.ClockFunc) OptionFunc {
	return func(m *Migrator) error {
		m.clock = clock
		return nil
	}
}

func WithSqliteMigrationTable(migrationsTable string) SqliteOptionFunc {
	return func(sqliteOpts *sqlgateway.SqliteOptions, _ *sqlgateway.ConnectOptions) {
		sqliteOpts.MigrationsTable = migrationsTable
	}
}

func WithSqliteMaxConnectionAttempts(attempts int) SqliteOptionFunc {
	return func(_ *sqlgateway.SqliteOptions, connectOpts *sqlgateway.ConnectOptions) {
		connectOpts.MaxAttempts = attempts
	}
}

func WithSqliteConnectionTimeout(timeout time.Duration) SqliteOptionFunc {
	return func(_ *sqlgateway.SqliteOptions, connectOpts *sqlgateway.ConnectOptions) {
		connectOpts.MaxTimeout = timeout
	}
}

func WithMySQLMigrationTable(migrationsTable string) MySQLOptionFunc {
	return func(mysqlOpts *sqlgateway.MySQLOptions, _ *sqlgateway.ConnectOptions) {
		mysqlOpts.MigrationsTable = migrationsTable
	}
}

func WithMySQLNoLock() MySQLOptionFunc {
	return func(mysqlOpts *sqlgateway.MySQLOptions, _ *sqlgateway.ConnectOptions) {
		mysqlOpts.NoLock = true
	}
}

func WithMySQLLockKey(key string) MySQLOptionFunc {
	return func(mysqlOpts *sqlgateway.MySQLOptions, _ *sqlgateway.ConnectOptions) {
		mysqlOpts.LockKey = key
	}
}

func WithMySQLLockFor(seconds int) MySQLOptionFunc {
	return func(mysqlOpts *sqlgateway.MySQLOptions, _ *sqlgateway.ConnectOptions) {
		mysqlOpts.LockFor = seconds
	}
}

func WithMySQLCharset(charset string) MySQLOptionFunc {
	return func(mysqlOpts *sqlgateway.MySQLOptions, _ *sqlgateway.ConnectOptions) {
		mysqlOpts.Charset = charset
	}
}

func WithMySQLMaxConnectionAttempts(attempts int) MySQLOptionFunc {
	return func(_ *sqlgateway.MySQLOptions, connectOpts *sqlgateway.ConnectOptions) {
		connectOpts.MaxAttempts = attempts
	}
}

func WithMySQLConnectionTimeout(timeout time.Duration) MySQLOptionFunc {
	return func(_ *sqlgateway.MySQLOptions, connectOpts *sqlgateway.ConnectOptions) {
		connectOpts.MaxTimeout = timeout
	}
}

func WithPostgresMigrationTable(migrationsTable string) PostgresOptionFunc {
	return func(pgOpts *sqlgateway.PostgresOptions, _ *sqlgateway.ConnectOptions) {
		pgOpts.MigrationsTable = migrationsTable
	}
}

func WithPostgresNoLock() PostgresOptionFunc {
	return func(pgOpts *sqlgateway.PostgresOptions, _ *sqlgateway.ConnectOptions) {
		pgOpts.NoLock = true
	}
}

func WithPostgresLockKey(key int64) PostgresOptionFunc {
	return func(pgOpts *sqlgateway.PostgresOptions, _ *sqlgateway.ConnectOptions) {
		pgOpts.LockKey = key
	}
}

func WithPostgresMaxConnectionAttempts(attempts int) PostgresOptionFunc {
	return func(_ *sqlgateway.PostgresOptions, connectOpts *sqlgateway.ConnectOptions) {
		connectOpts.MaxAttempts = attempts
	}
}

func WithPostgresConnectionTimeout(timeout time.Duration) PostgresOptionFunc {
	return func(_ *sqlgateway.PostgresOptions, connectOpts *sqlgateway.ConnectOptions) {
		connectOpts.MaxTimeout = timeout
	}
}

func (m *Migrator) useGateway(g *sqlgateway.SQLGateway) {
	m.store = g
	m.closers = append(m.closers, g.Close)
}
