package sqlgateway

import (
	"context"
	"regexp"

	"github.com/jmoiron/sqlx"
	"github.com/pkg/errors"

	"github.com/denismitr/schemata/ledger"
)

var ErrInvalidTableName = errors.New("invalid migrations table name")
var ErrUnsupportedDriver = errors.New("unsupported database driver")

var tableNameRegexp = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]{0,62}$`)

type CommonOptions struct {
	MigrationsTable string
}

func (o CommonOptions) table() (string, error) {
	if o.MigrationsTable == "" {
		return ledger.DefaultTable, nil
	}

	if !tableNameRegexp.MatchString(o.MigrationsTable) {
		return "", errors.Wrapf(ErrInvalidTableName, "%q", o.MigrationsTable)
	}

	return o.MigrationsTable, nil
}

// Dialect holds everything that differs between the supported databases.
// Queries use ? placeholders and are rebound for the driver by the gateway.
type Dialect interface {
	Name() string
	InitQuery() string
	TableExistsQuery() (string, []interface{})
	ReadQuery() string
	InsertQuery() string
	RemoveQuery() string
	DropQuery() string
	ShowTablesQuery() string

	// IsUniqueViolation reports whether err was caused by a primary key
	// or unique constraint of the ledger table
	IsUniqueViolation(err error) bool
}

type Locker interface {
	Lock(ctx context.Context, conn *sqlx.Conn) error
	Unlock(ctx context.Context, conn *sqlx.Conn) error
}

type nullLocker struct{}

func (nullLocker) Lock(context.Context, *sqlx.Conn) error {
	return nil
}

func (nullLocker) Unlock(context.Context, *sqlx.Conn) error {
	return nil
}
