package schemata

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"

	"github.com/denismitr/schemata/internal/logger"
	"github.com/denismitr/schemata/ledger"
	"github.com/denismitr/schemata/migration"
)

type CloserFunc func() error

type loggerSetter interface {
	SetLogger(lg logger.Logger)
}

// Migrator applies the migrations of a registry to a ledger store.
// Operations of one Migrator are serialised, separate Migrators and
// separate processes rely on the store lock and the ledger primary key.
type Migrator struct {
	mu sync.Mutex

	registry *migration.Registry
	store    ledger.Store
	lg       logger.Logger
	clock    migration.ClockFunc
	closers  []CloserFunc
}

// NewMigrator creates a migrator using the option callbacks, a registry
// and a store are required. An inconsistent registry is rejected here so
// that nothing is ever applied from it.
func NewMigrator(opts ...OptionFunc) (*Migrator, CloserFunc, error) {
	m := new(Migrator)
	m.lg = logger.NullLogger{}
	m.clock = time.Now

	for _, oFunc := range opts {
		if err := oFunc(m); err != nil {
			_ = m.close()
			return nil, nil, err
		}
	}

	if m.registry == nil {
		_ = m.close()
		return nil, nil, ErrRegistryNotInitialized
	}

	if m.store == nil {
		_ = m.close()
		return nil, nil, ErrStoreNotInitialized
	}

	if err := m.registry.Validate(); err != nil {
		_ = m.close()
		return nil, nil, errors.Wrap(err, "migrations registry is invalid")
	}

	if s, ok := m.store.(loggerSetter); ok {
		s.SetLogger(m.lg)
	}

	return m, m.close, nil
}

func (m *Migrator) Registry() *migration.Registry {
	return m.registry
}

// Run applies every pending migration in ascending id order. Each migration
// runs its forward scripts and its ledger insert in a single transaction.
// A migration found already recorded by a concurrent runner is skipped.
func (m *Migrator) Run(ctx context.Context) (Report, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	report := Report{RunID: uuid.NewString()}
	m.lg.Debugf("run %s started", report.RunID)

	err := m.underLock(ctx, func() error {
		if err := m.store.EnsureSchema(ctx); err != nil {
			return errors.Wrap(err, "could not initialize migrations ledger")
		}

		entries, err := m.store.Entries(ctx)
		if err != nil {
			return errors.Wrap(err, "could not read migrations ledger")
		}

		s := inspect(m.registry, entries)
		if len(s.drift) > 0 {
			return &UnknownMigrationError{IDs: s.drift}
		}

		if len(s.gaps) > 0 {
			return &GapError{Missing: s.gaps, Applied: s.highestExecuted().String()}
		}

		if len(s.pending) == 0 {
			m.lg.Successf("nothing to migrate, %d migrations already applied", len(s.executed))
			return nil
		}

		for _, mg := range s.pending {
			applied, err := m.apply(ctx, mg)
			if err != nil {
				return err
			}

			if applied {
				report.Applied = append(report.Applied, mg.Key())
				m.lg.Successf("migrated [%s]", mg.Key())
			} else {
				report.Skipped = append(report.Skipped, mg.Key())
				m.lg.Warnf("[%s] was applied by another runner, skipping", mg.Key())
			}
		}

		return nil
	})

	if err != nil {
		m.lg.Error(err)
		return report, err
	}

	return report, nil
}

// Rollback undoes the single most recently applied migration
func (m *Migrator) Rollback(ctx context.Context) (Report, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	report := Report{RunID: uuid.NewString()}
	m.lg.Debugf("rollback %s started", report.RunID)

	err := m.underLock(ctx, func() error {
		entries, err := m.store.Entries(ctx)
		if err != nil {
			return errors.Wrap(err, "could not read migrations ledger")
		}

		if len(entries) == 0 {
			return ErrNothingToRollBack
		}

		last := entries[len(entries)-1]
		target, ok := m.registry.Find(migration.ID(last.ID))
		if !ok {
			return &UnknownMigrationError{IDs: []string{last.ID}}
		}

		s := inspect(m.registry, entries)
		if len(s.gaps) > 0 {
			return &GapError{Missing: s.gaps, Applied: last.ID}
		}

		err = m.store.InTx(ctx, func(tx ledger.Tx) error {
			for _, script := range target.Reverse {
				if err := tx.Exec(ctx, script); err != nil {
					return err
				}
			}

			return tx.RemoveApplied(ctx, last.ID)
		})

		if err != nil {
			return &RollbackFailedError{ID: last.ID, Err: err}
		}

		report.RolledBack = append(report.RolledBack, target.Key())
		m.lg.Successf("rolled back [%s]", target.Key())

		return nil
	})

	if err != nil {
		if !errors.Is(err, ErrNothingToRollBack) {
			m.lg.Error(err)
		}

		return report, err
	}

	return report, nil
}

// Status compares the registry with the ledger. An empty or missing
// ledger is a valid state and is reported with every migration pending.
func (m *Migrator) Status(ctx context.Context) (Status, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.store.EnsureSchema(ctx); err != nil {
		return Status{}, errors.Wrap(err, "could not initialize migrations ledger")
	}

	entries, err := m.store.Entries(ctx)
	if err != nil {
		return Status{}, errors.Wrap(err, "could not read migrations ledger")
	}

	s := inspect(m.registry, entries)
	for _, id := range s.drift {
		m.lg.Warnf("ledger entry [%s] has no migration in the registry", id)
	}

	return s.status(m.registry.Len()), nil
}

// Generate scaffolds the migration following the last registered one,
// it does not touch the store
func (m *Migrator) Generate(name string) (migration.Template, error) {
	return m.registry.Generate(name, m.clock().UTC())
}

func (m *Migrator) apply(ctx context.Context, mg *migration.Migration) (bool, error) {
	err := m.store.InTx(ctx, func(tx ledger.Tx) error {
		for _, script := range mg.Forward {
			if err := tx.Exec(ctx, script); err != nil {
				return err
			}
		}

		return tx.RecordApplied(ctx, mg.ID.String(), mg.Name, m.clock().UTC())
	})

	if err == nil {
		return true, nil
	}

	if errors.Is(err, ledger.ErrDuplicateApplication) {
		return false, nil
	}

	// forward scripts may fail because a concurrent runner got there first
	if ctx.Err() == nil && m.recorded(ctx, mg.ID) {
		return false, nil
	}

	return false, &MigrationFailedError{ID: mg.ID.String(), Name: mg.Name, Err: err}
}

func (m *Migrator) recorded(ctx context.Context, id migration.ID) bool {
	entries, err := m.store.Entries(ctx)
	if err != nil {
		m.lg.Error(err)
		return false
	}

	for _, e := range entries {
		if id.Equal(migration.ID(e.ID)) {
			return true
		}
	}

	return false
}

func (m *Migrator) underLock(ctx context.Context, fn func() error) (err error) {
	if err := m.store.Lock(ctx); err != nil {
		return err
	}

	defer func() {
		if unlockErr := m.store.Unlock(context.WithoutCancel(ctx)); unlockErr != nil {
			m.lg.Error(unlockErr)
			if err == nil {
				err = errors.Wrap(unlockErr, "could not release migrations lock")
			}
		}
	}()

	return fn()
}

func (m *Migrator) close() error {
	var result error
	for i := len(m.closers) - 1; i >= 0; i-- {
		if err := m.closers[i](); err != nil {
			m.lg.Error(err)
			if result == nil {
				result = err
			}
		}
	}

	m.closers = nil

	return result
}
