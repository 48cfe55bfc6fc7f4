package migration

import (
	"fmt"
	"sort"

	"github.com/pkg/errors"
)

var ErrDuplicateID = errors.New("duplicate migration id")
var ErrNonMonotonic = errors.New("migrations are not declared in ascending id order")

// DuplicateIDError is returned by Registry.Validate when two migrations share an id
type DuplicateIDError struct {
	ID     ID
	First  string
	Second string
}

func (e *DuplicateIDError) Error() string {
	return fmt.Sprintf("%s: [%s] is used by both [%s] and [%s]", ErrDuplicateID, e.ID, e.First, e.Second)
}

func (e *DuplicateIDError) Unwrap() error { return ErrDuplicateID }
func (e *DuplicateIDError) Cause() error  { return ErrDuplicateID }

// NonMonotonicError is returned by Registry.Validate when a migration
// is declared after a migration with a higher id
type NonMonotonicError struct {
	Previous ID
	Next     ID
}

func (e *NonMonotonicError) Error() string {
	return fmt.Sprintf("%s: [%s] is declared after [%s]", ErrNonMonotonic, e.Next, e.Previous)
}

func (e *NonMonotonicError) Unwrap() error { return ErrNonMonotonic }
func (e *NonMonotonicError) Cause() error  { return ErrNonMonotonic }

// Registry is an immutable list of compiled-in migrations
type Registry struct {
	declared Migrations
	sorted   Migrations
}

// NewRegistry builds every migration out of its factory. The declaration
// order is kept for Validate, iteration always happens in ascending id order.
func NewRegistry(factories ...Factory) (*Registry, error) {
	declared, err := NewMigrations(factories...)
	if err != nil {
		return nil, errors.Wrap(err, "could not build migration registry")
	}

	sorted := make(Migrations, len(declared))
	copy(sorted, declared)
	sort.Stable(sorted)

	return &Registry{declared: declared, sorted: sorted}, nil
}

// MustRegistry is NewRegistry that panics on error, for package level registries
func MustRegistry(factories ...Factory) *Registry {
	r, err := NewRegistry(factories...)
	if err != nil {
		panic(err)
	}

	return r
}

// All returns the migrations in ascending id order. The returned slice is
// a copy and may be iterated or modified freely.
func (r *Registry) All() Migrations {
	result := make(Migrations, len(r.sorted))
	copy(result, r.sorted)
	return result
}

func (r *Registry) Len() int {
	return len(r.sorted)
}

func (r *Registry) IDs() []string {
	return r.sorted.IDs()
}

// Find looks a migration up by id using numeric comparison
func (r *Registry) Find(id ID) (*Migration, bool) {
	i := sort.Search(len(r.sorted), func(i int) bool {
		return !r.sorted[i].ID.Less(id)
	})

	if i < len(r.sorted) && r.sorted[i].ID.Equal(id) {
		return r.sorted[i], true
	}

	return nil, false
}

// Last returns the migration with the highest id
func (r *Registry) Last() (*Migration, bool) {
	if len(r.sorted) == 0 {
		return nil, false
	}

	return r.sorted[len(r.sorted)-1], true
}

// Validate reports authoring defects: shared ids and declarations that are
// out of ascending id order.
func (r *Registry) Validate() error {
	for i := 1; i < len(r.sorted); i++ {
		if r.sorted[i-1].ID.Equal(r.sorted[i].ID) {
			return &DuplicateIDError{
				ID:     r.sorted[i].ID,
				First:  r.sorted[i-1].Key(),
				Second: r.sorted[i].Key(),
			}
		}
	}

	for i := 1; i < len(r.declared); i++ {
		if r.declared[i].ID.Less(r.declared[i-1].ID) {
			return &NonMonotonicError{Previous: r.declared[i-1].ID, Next: r.declared[i].ID}
		}
	}

	return nil
}
