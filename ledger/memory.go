package ledger

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/denismitr/schemata/migration"
	"github.com/pkg/errors"
)

// MemoryStore keeps the ledger in memory and records the scripts it is asked
// to execute instead of running them. Transactions are serialised and their
// writes become visible only on commit.
type MemoryStore struct {
	// BeforeEntries is called on every Entries call, before the ledger is read
	BeforeEntries func(ctx context.Context)

	txMu sync.Mutex

	mu         sync.Mutex
	created    bool
	closed     bool
	rows       map[string]Entry
	scripts    []string
	executions int
	failures   map[string]error
}

var _ Store = (*MemoryStore)(nil)

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		rows:     make(map[string]Entry),
		failures: make(map[string]error),
	}
}

// Seed writes ledger rows directly, creating the ledger if needed
func (s *MemoryStore) Seed(entries ...Entry) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.created = true
	for _, e := range entries {
		s.rows[e.ID] = e
	}
}

// FailOn makes every execution of script fail with err
func (s *MemoryStore) FailOn(script string, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err == nil {
		delete(s.failures, script)
		return
	}

	s.failures[script] = err
}

// Scripts returns the scripts of committed transactions in execution order
func (s *MemoryStore) Scripts() []string {
	s.mu.Lock()
	defer s.mu.Unlock()

	result := make([]string, len(s.scripts))
	copy(result, s.scripts)
	return result
}

// Executions counts every script execution attempt, committed or not
func (s *MemoryStore) Executions() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.executions
}

// IDs returns the ids of the ledger rows in ascending order
func (s *MemoryStore) IDs() []string {
	s.mu.Lock()
	defer s.mu.Unlock()

	var result []string
	for _, e := range s.sortedEntries() {
		result = append(result, e.ID)
	}
	return result
}

func (s *MemoryStore) EnsureSchema(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.created = true
	return nil
}

func (s *MemoryStore) Entries(ctx context.Context) ([]Entry, error) {
	if s.BeforeEntries != nil {
		s.BeforeEntries(ctx)
	}

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.created {
		return nil, nil
	}

	return s.sortedEntries(), nil
}

func (s *MemoryStore) InTx(ctx context.Context, fn func(Tx) error) error {
	s.txMu.Lock()
	defer s.txMu.Unlock()

	s.mu.Lock()
	closed := s.closed
	s.mu.Unlock()

	if closed {
		return errors.New("memory store is closed")
	}

	tx := &memoryTx{
		store:    s,
		inserted: make(map[string]Entry),
		removed:  make(map[string]bool),
	}

	if err := fn(tx); err != nil {
		return err
	}

	if err := ctx.Err(); err != nil {
		return errors.Wrap(err, "could not commit transaction")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	for id := range tx.removed {
		delete(s.rows, id)
	}

	for id, e := range tx.inserted {
		s.rows[id] = e
	}

	s.scripts = append(s.scripts, tx.scripts...)

	return nil
}

func (s *MemoryStore) Lock(context.Context) error {
	return nil
}

func (s *MemoryStore) Unlock(context.Context) error {
	return nil
}

func (s *MemoryStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.closed = true
	return nil
}

func (s *MemoryStore) sortedEntries() []Entry {
	result := make([]Entry, 0, len(s.rows))
	for _, e := range s.rows {
		result = append(result, e)
	}

	SortEntries(result)

	return result
}

type memoryTx struct {
	store    *MemoryStore
	scripts  []string
	inserted map[string]Entry
	removed  map[string]bool
}

func (tx *memoryTx) Exec(ctx context.Context, script string) error {
	tx.store.mu.Lock()
	tx.store.executions++
	failure := tx.store.failures[script]
	tx.store.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return err
	}

	if failure != nil {
		return failure
	}

	tx.scripts = append(tx.scripts, script)

	return nil
}

func (tx *memoryTx) RecordApplied(ctx context.Context, id, name string, executedAt time.Time) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	tx.store.mu.Lock()
	defer tx.store.mu.Unlock()

	if !tx.store.created {
		return errors.New("ledger table does not exist")
	}

	_, committed := tx.store.rows[id]
	_, pending := tx.inserted[id]
	if (committed && !tx.removed[id]) || pending {
		return errors.Wrapf(ErrDuplicateApplication, "id [%s]", id)
	}

	tx.inserted[id] = Entry{ID: id, Name: name, ExecutedAt: executedAt}

	return nil
}

func (tx *memoryTx) RemoveApplied(ctx context.Context, id string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	tx.store.mu.Lock()
	defer tx.store.mu.Unlock()

	if _, ok := tx.inserted[id]; ok {
		delete(tx.inserted, id)
		return nil
	}

	if _, ok := tx.store.rows[id]; !ok || tx.removed[id] {
		return errors.Wrapf(ErrNotApplied, "id [%s]", id)
	}

	tx.removed[id] = true

	return nil
}

// SortEntries orders ledger rows by the numeric value of their ids
func SortEntries(entries []Entry) {
	sort.SliceStable(entries, func(i, j int) bool {
		return migration.ID(entries[i].ID).Less(migration.ID(entries[j].ID))
	})
}
