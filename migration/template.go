package migration

import (
	"fmt"
	"math/big"
	"strings"
	"time"

	"github.com/pkg/errors"
)

const (
	MigrateFileExtension  = ".migrate.sql"
	RollbackFileExtension = ".rollback.sql"

	AuthoredAtHeader = "-- authored_at: "

	defaultIDWidth = 3
)

// Template is a scaffold for the next migration of a registry
type Template struct {
	ID         ID
	Name       string
	AuthoredAt time.Time
}

func (t Template) Key() string {
	return CreateKey(t.ID, t.Name)
}

func (t Template) MigrateFile() string {
	return t.Key() + MigrateFileExtension
}

func (t Template) RollbackFile() string {
	return t.Key() + RollbackFileExtension
}

func (t Template) MigrateScript() string {
	return fmt.Sprintf(
		"%s%s\n-- %s: forward statements, prefer CREATE ... IF NOT EXISTS\n",
		AuthoredAtHeader, t.AuthoredAt.UTC().Format(time.RFC3339), t.Key(),
	)
}

func (t Template) RollbackScript() string {
	return fmt.Sprintf(
		"%s%s\n-- %s: statements undoing the forward statements\n",
		AuthoredAtHeader, t.AuthoredAt.UTC().Format(time.RFC3339), t.Key(),
	)
}

// Generate scaffolds the migration following the last one in the registry.
// The id is the highest id plus one, zero padded to the widest existing id.
func (r *Registry) Generate(name string, now time.Time) (Template, error) {
	slug := Slug(name)
	if slug == "" {
		return Template{}, errors.Wrap(ErrInvalidName, "migration name is empty")
	}

	for _, c := range slug {
		if !(c == '_' || (c >= 'a' && c <= 'z') || (c >= '0' && c <= '9')) {
			return Template{}, errors.Wrapf(ErrInvalidName, "[%s] may contain only letters, digits, spaces and underscores", name)
		}
	}

	width := defaultIDWidth
	next := big.NewInt(1)

	for _, m := range r.sorted {
		if len(m.ID) > width {
			width = len(m.ID)
		}
	}

	if last, ok := r.Last(); ok {
		n, ok := new(big.Int).SetString(last.ID.Canonical(), 10)
		if !ok {
			return Template{}, errors.Wrapf(ErrInvalidID, "[%s] is not a number", last.ID)
		}

		next = n.Add(n, big.NewInt(1))
	}

	id := next.String()
	if len(id) < width {
		id = strings.Repeat("0", width-len(id)) + id
	}

	return Template{
		ID:         ID(id),
		Name:       slug,
		AuthoredAt: now,
	}, nil
}
