package cli

import (
	"context"
	"os"
	"strings"

	_ "github.com/go-sql-driver/mysql"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/jmoiron/sqlx"
	_ "github.com/mattn/go-sqlite3"
	"github.com/pkg/errors"
	"github.com/xo/dburl"

	"github.com/denismitr/schemata"
	"github.com/denismitr/schemata/internal/logger"
	"github.com/denismitr/schemata/internal/schema"
	"github.com/denismitr/schemata/migration"
)

var ErrUnsupportedDatabase = errors.New("unsupported database")

// resolveDSN turns a database url into the name of a registered driver and
// the data source name that driver understands
func resolveDSN(databaseURL string) (string, string, error) {
	u, err := dburl.Parse(databaseURL)
	if err != nil {
		return "", "", errors.Wrap(err, "could not parse database url")
	}

	switch u.Driver {
	case "sqlite3":
		return "sqlite3", u.DSN, nil
	case "postgres", "pgx":
		return "pgx", u.DSN, nil
	case "mysql":
		dsn := u.DSN
		if !strings.Contains(dsn, "parseTime=") {
			sep := "?"
			if strings.Contains(dsn, "?") {
				sep = "&"
			}
			dsn += sep + "parseTime=true"
		}
		return "mysql", dsn, nil
	}

	return "", "", errors.Wrapf(ErrUnsupportedDatabase, "%s", u.Driver)
}

func openDB(databaseURL string) (*sqlx.DB, error) {
	driver, dsn, err := resolveDSN(databaseURL)
	if err != nil {
		return nil, err
	}

	db, err := sqlx.Open(driver, dsn)
	if err != nil {
		return nil, errors.Wrapf(err, "could not open %s database", driver)
	}

	return db, nil
}

// loadRegistry reads the migrations folder when one is configured and falls
// back to the migrations compiled into the binary
func loadRegistry(folder string) (*migration.Registry, error) {
	if folder == "" {
		return schema.Registry()
	}

	factories, err := migration.FromFS(os.DirFS(folder), ".")
	if err != nil {
		return nil, err
	}

	return migration.NewRegistry(factories...)
}

func createMigrator(ctx context.Context, cfg Config, lg logger.Logger) (*schemata.Migrator, schemata.CloserFunc, error) {
	if err := cfg.requireDatabase(); err != nil {
		return nil, nil, err
	}

	registry, err := loadRegistry(cfg.MigrationsFolder)
	if err != nil {
		return nil, nil, err
	}

	db, err := openDB(cfg.DatabaseURL)
	if err != nil {
		return nil, nil, err
	}

	m, closer, err := schemata.NewMigrator(
		schemata.UseRegistry(registry),
		schemata.UseDB(ctx, db, cfg.MigrationsTable),
		schemata.UseLogger(lg),
	)
	if err != nil {
		_ = db.Close()
		return nil, nil, err
	}

	return m, func() error {
		closeErr := closer()
		if err := db.Close(); err != nil && closeErr == nil {
			closeErr = errors.Wrap(err, "could not close database")
		}
		return closeErr
	}, nil
}
