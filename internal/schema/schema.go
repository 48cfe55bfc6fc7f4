// Package schema holds the migrations of the application database. They are
// compiled into the binary so that every build carries the exact schema it
// was written against.
package schema

import (
	"embed"

	"github.com/pkg/errors"

	"github.com/denismitr/schemata/migration"
)

// SourceDir is where new migrations are scaffolded, relative to the repository root
const SourceDir = "internal/schema/migrations"

const dir = "migrations"

//go:embed migrations/*.sql
var files embed.FS

// Registry returns the compiled-in migrations
func Registry() (*migration.Registry, error) {
	factories, err := migration.FromFS(files, dir)
	if err != nil {
		return nil, errors.Wrap(err, "could not load embedded migrations")
	}

	return migration.NewRegistry(factories...)
}
