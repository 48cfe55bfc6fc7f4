package schemata

import (
	"fmt"
	"strings"

	"github.com/pkg/errors"

	"github.com/denismitr/schemata/ledger"
	"github.com/denismitr/schemata/migration"
)

var (
	ErrStoreNotInitialized    = errors.New("migrations store has not been initialized")
	ErrRegistryNotInitialized = errors.New("migrations registry has not been initialized")
	ErrNothingToRollBack      = errors.New("nothing to roll back")
	ErrUnknownMigration       = errors.New("ledger references a migration unknown to the registry")
	ErrLedgerGap              = errors.New("applied migrations are not a contiguous prefix of the registry")
)

// Errors of the ledger and the registry, re-exported for callers
// that only import the migrator
var (
	ErrDuplicateApplication = ledger.ErrDuplicateApplication
	ErrNotApplied           = ledger.ErrNotApplied
	ErrDuplicateID          = migration.ErrDuplicateID
	ErrNonMonotonic         = migration.ErrNonMonotonic
)

// MigrationFailedError stops a run. Migrations after the failed one
// stay pending, the failed one is rolled back with its transaction.
type MigrationFailedError struct {
	ID   string
	Name string
	Err  error
}

func (e *MigrationFailedError) Error() string {
	return fmt.Sprintf("migration [%s] %s failed: %v", e.ID, e.Name, e.Err)
}

func (e *MigrationFailedError) Unwrap() error { return e.Err }
func (e *MigrationFailedError) Cause() error  { return e.Err }

// RollbackFailedError leaves the ledger row of the migration in place
type RollbackFailedError struct {
	ID  string
	Err error
}

func (e *RollbackFailedError) Error() string {
	return fmt.Sprintf("rollback of migration [%s] failed: %v", e.ID, e.Err)
}

func (e *RollbackFailedError) Unwrap() error { return e.Err }
func (e *RollbackFailedError) Cause() error  { return e.Err }

// UnknownMigrationError means the database was migrated by a different
// build than the one running now
type UnknownMigrationError struct {
	IDs []string
}

func (e *UnknownMigrationError) Error() string {
	return fmt.Sprintf("%s: [%s]", ErrUnknownMigration, strings.Join(e.IDs, ", "))
}

func (e *UnknownMigrationError) Unwrap() error { return ErrUnknownMigration }
func (e *UnknownMigrationError) Cause() error  { return ErrUnknownMigration }

// GapError lists pending migrations that sort before an applied one
type GapError struct {
	Missing []string
	Applied string
}

func (e *GapError) Error() string {
	return fmt.Sprintf("%s: [%s] pending below applied [%s]", ErrLedgerGap, strings.Join(e.Missing, ", "), e.Applied)
}

func (e *GapError) Unwrap() error { return ErrLedgerGap }
func (e *GapError) Cause() error  { return ErrLedgerGap }
