// Package ledger defines the persisted record of applied migrations and the
// transactional executor contract the migrator runs scripts through.
package ledger

import (
	"context"
	"time"

	"github.com/pkg/errors"
)

const DefaultTable = "schema_migrations"

var ErrDuplicateApplication = errors.New("migration is already recorded as applied")
var ErrNotApplied = errors.New("migration is not recorded as applied")

// Entry is a single row of the ledger
type Entry struct {
	ID         string    `db:"id" json:"id"`
	Name       string    `db:"name" json:"name"`
	ExecutedAt time.Time `db:"executed_at" json:"executed_at"`
}

// Tx is a unit of work against the store. Everything done through
// a Tx is committed or rolled back together.
type Tx interface {
	// Exec runs an opaque statement in the store's native dialect
	Exec(ctx context.Context, script string) error

	// RecordApplied inserts a ledger row, a row with the same id
	// makes it fail with ErrDuplicateApplication
	RecordApplied(ctx context.Context, id, name string, executedAt time.Time) error

	// RemoveApplied deletes a ledger row, a missing row makes
	// it fail with ErrNotApplied
	RemoveApplied(ctx context.Context, id string) error
}

// Store is the ledger together with the executor it lives in
type Store interface {
	// EnsureSchema creates the ledger table when it does not exist yet
	EnsureSchema(ctx context.Context) error

	// Entries returns ledger rows in ascending id order,
	// a missing ledger table yields no entries and no error
	Entries(ctx context.Context) ([]Entry, error)

	// InTx runs fn inside a single transaction
	InTx(ctx context.Context, fn func(Tx) error) error

	Lock(ctx context.Context) error
	Unlock(ctx context.Context) error
	Close() error
}
