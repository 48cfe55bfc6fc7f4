package sqlgateway

import (
	"context"
	"database/sql"
	"time"

	"github.com/go-sql-driver/mysql"
	"github.com/jmoiron/sqlx"
	"github.com/pkg/errors"

	"github.com/denismitr/schemata/internal/logger"
	"github.com/denismitr/schemata/ledger"
)

// SQLGateway is the ledger.Store backed by a relational database
type SQLGateway struct {
	db      *sqlx.DB
	conn    *sqlx.Conn
	locker  Locker
	dialect Dialect
	lg      logger.Logger
}

var _ ledger.Store = (*SQLGateway)(nil)

// ledgerRow reads executed_at from drivers returning time.Time as well as
// from mysql connections opened without parseTime, which return the
// formatted DATETIME as bytes
type ledgerRow struct {
	ID         string         `db:"id"`
	Name       string         `db:"name"`
	ExecutedAt mysql.NullTime `db:"executed_at"`
}

func (r ledgerRow) entry() ledger.Entry {
	return ledger.Entry{ID: r.ID, Name: r.Name, ExecutedAt: r.ExecutedAt.Time.UTC()}
}

// NewSqliteGateway creates a gateway over a sqlite database, sqlite has a
// single writer so no advisory lock is taken
func NewSqliteGateway(ctx context.Context, db *sqlx.DB, opts SqliteOptions, connectOpts *ConnectOptions) (*SQLGateway, error) {
	table, err := opts.table()
	if err != nil {
		return nil, err
	}

	return newGateway(ctx, db, sqliteDialect{migrationsTable: table}, nullLocker{}, connectOpts)
}

// NewMySQLGateway creates a gateway over a MySQL database. MySQL commits DDL
// implicitly, so forward scripts should be written to be idempotent.
func NewMySQLGateway(ctx context.Context, db *sqlx.DB, opts MySQLOptions, connectOpts *ConnectOptions) (*SQLGateway, error) {
	table, err := opts.table()
	if err != nil {
		return nil, err
	}

	if opts.Charset == "" {
		opts.Charset = MySQLDefaultCharset
	}

	var locker Locker = nullLocker{}
	if !opts.NoLock {
		if opts.LockKey == "" {
			opts.LockKey = MySQLDefaultLockKey
		}
		if opts.LockFor <= 0 {
			opts.LockFor = MySQLDefaultLockSeconds
		}
		locker = &mysqlLocker{lockKey: opts.LockKey, lockFor: opts.LockFor}
	}

	return newGateway(ctx, db, mysqlDialect{migrationsTable: table, charset: opts.Charset}, locker, connectOpts)
}

func NewPostgresGateway(ctx context.Context, db *sqlx.DB, opts PostgresOptions, connectOpts *ConnectOptions) (*SQLGateway, error) {
	table, err := opts.table()
	if err != nil {
		return nil, err
	}

	var locker Locker = nullLocker{}
	if !opts.NoLock {
		if opts.LockKey == 0 {
			opts.LockKey = PostgresDefaultLockKey
		}
		locker = &postgresLocker{lockKey: opts.LockKey}
	}

	return newGateway(ctx, db, postgresDialect{migrationsTable: table}, locker, connectOpts)
}

// New picks the dialect by the name of the driver the database was opened with
func New(ctx context.Context, db *sqlx.DB, table string, connectOpts *ConnectOptions) (*SQLGateway, error) {
	common := CommonOptions{MigrationsTable: table}

	switch db.DriverName() {
	case "sqlite3":
		return NewSqliteGateway(ctx, db, SqliteOptions{CommonOptions: common}, connectOpts)
	case "mysql":
		return NewMySQLGateway(ctx, db, MySQLOptions{CommonOptions: common}, connectOpts)
	case "pgx", "postgres":
		return NewPostgresGateway(ctx, db, PostgresOptions{CommonOptions: common}, connectOpts)
	}

	return nil, errors.Wrapf(ErrUnsupportedDriver, "%s", db.DriverName())
}

func newGateway(ctx context.Context, db *sqlx.DB, dialect Dialect, locker Locker, connectOpts *ConnectOptions) (*SQLGateway, error) {
	conn, err := NewRetryingConnector(db, connectOpts).Connect(ctx)
	if err != nil {
		return nil, errors.Wrapf(err, "could not connect to %s database", dialect.Name())
	}

	return &SQLGateway{
		db:      db,
		conn:    conn,
		locker:  locker,
		dialect: dialect,
		lg:      logger.NullLogger{},
	}, nil
}

func (g *SQLGateway) SetLogger(lg logger.Logger) {
	g.lg = lg
}

func (g *SQLGateway) Dialect() string {
	return g.dialect.Name()
}

func (g *SQLGateway) EnsureSchema(ctx context.Context) error {
	q := g.dialect.InitQuery()
	g.lg.SQL(q)

	if _, err := g.conn.ExecContext(ctx, q); err != nil {
		// concurrent CREATE TABLE IF NOT EXISTS may still collide on catalog rows
		if g.dialect.IsUniqueViolation(err) {
			return nil
		}

		return errors.Wrap(err, "could not create migrations table")
	}

	return nil
}

func (g *SQLGateway) Entries(ctx context.Context) ([]ledger.Entry, error) {
	exists, err := g.tableExists(ctx)
	if err != nil {
		return nil, err
	}

	if !exists {
		return nil, nil
	}

	q := g.dialect.ReadQuery()
	g.lg.SQL(q)

	var rows []ledgerRow
	if err := g.conn.SelectContext(ctx, &rows, q); err != nil {
		return nil, errors.Wrap(err, "could not read migrations table")
	}

	entries := make([]ledger.Entry, 0, len(rows))
	for _, r := range rows {
		entries = append(entries, r.entry())
	}

	ledger.SortEntries(entries)

	return entries, nil
}

func (g *SQLGateway) InTx(ctx context.Context, fn func(ledger.Tx) error) error {
	tx, err := g.conn.BeginTxx(ctx, &sql.TxOptions{})
	if err != nil {
		return errors.Wrap(err, "could not start transaction")
	}

	if err := fn(&sqlTx{tx: tx, g: g}); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil && !errors.Is(rbErr, sql.ErrTxDone) {
			return errors.Wrapf(err, "rollback failed too: %s", rbErr.Error())
		}

		return err
	}

	if err := tx.Commit(); err != nil {
		return errors.Wrap(err, "could not commit transaction")
	}

	return nil
}

func (g *SQLGateway) Lock(ctx context.Context) error {
	if err := g.locker.Lock(ctx, g.conn); err != nil {
		return errors.Wrap(err, "database lock failed")
	}

	return nil
}

func (g *SQLGateway) Unlock(ctx context.Context) error {
	return g.locker.Unlock(ctx, g.conn)
}

// Close returns the dedicated connection to the pool, the pool itself
// belongs to the caller
func (g *SQLGateway) Close() error {
	if g.conn == nil {
		return nil
	}

	if err := g.conn.Close(); err != nil && !errors.Is(err, sql.ErrConnDone) {
		return errors.Wrap(err, "could not close the connection")
	}

	return nil
}

// DropMigrationsTable removes the ledger table, it exists for tests and tooling
func (g *SQLGateway) DropMigrationsTable(ctx context.Context) error {
	q := g.dialect.DropQuery()
	g.lg.SQL(q)

	_, err := g.conn.ExecContext(ctx, q)
	return errors.Wrap(err, "could not drop migrations table")
}

func (g *SQLGateway) ShowTables(ctx context.Context) ([]string, error) {
	var result []string
	if err := g.conn.SelectContext(ctx, &result, g.dialect.ShowTablesQuery()); err != nil {
		return nil, errors.Wrap(err, "could not list all tables")
	}

	return result, nil
}

func (g *SQLGateway) tableExists(ctx context.Context) (bool, error) {
	q, args := g.dialect.TableExistsQuery()
	q = g.db.Rebind(q)
	g.lg.SQL(q, args...)

	var count int
	if err := g.conn.QueryRowContext(ctx, q, args...).Scan(&count); err != nil {
		return false, errors.Wrap(err, "could not check migrations table")
	}

	return count > 0, nil
}

type sqlTx struct {
	tx *sqlx.Tx
	g  *SQLGateway
}

func (t *sqlTx) Exec(ctx context.Context, script string) error {
	t.g.lg.SQL(script)

	_, err := t.tx.ExecContext(ctx, script)
	return err
}

func (t *sqlTx) RecordApplied(ctx context.Context, id, name string, executedAt time.Time) error {
	q := t.g.db.Rebind(t.g.dialect.InsertQuery())
	args := []interface{}{id, name, executedAt.UTC()}
	t.g.lg.SQL(q, args...)

	if _, err := t.tx.ExecContext(ctx, q, args...); err != nil {
		if t.g.dialect.IsUniqueViolation(err) {
			return errors.Wrapf(ledger.ErrDuplicateApplication, "id [%s]: %s", id, err.Error())
		}

		return errors.Wrapf(err, "could not insert migration [%s] into ledger", id)
	}

	return nil
}

func (t *sqlTx) RemoveApplied(ctx context.Context, id string) error {
	q := t.g.db.Rebind(t.g.dialect.RemoveQuery())
	t.g.lg.SQL(q, id)

	res, err := t.tx.ExecContext(ctx, q, id)
	if err != nil {
		return errors.Wrapf(err, "could not remove migration [%s] from ledger", id)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return errors.Wrapf(err, "could not remove migration [%s] from ledger", id)
	}

	if affected == 0 {
		return errors.Wrapf(ledger.ErrNotApplied, "id [%s]", id)
	}

	return nil
}
