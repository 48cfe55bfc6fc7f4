package cli

import (
	"context"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/pkg/errors"

	"github.com/denismitr/schemata"
	adminhttp "github.com/denismitr/schemata/internal/admin"
	"github.com/denismitr/schemata/internal/logger"
	"github.com/denismitr/schemata/internal/schema"
	"github.com/denismitr/schemata/migration"
)

const shutdownTimeout = 15 * time.Second

var ErrMigrationAlreadyExists = errors.New("migration already exists")

type App struct {
	cfg   Config
	lg    logger.Logger
	clock migration.ClockFunc
}

func New(cfg Config, lg logger.Logger) *App {
	if lg == nil {
		lg = logger.NullLogger{}
	}

	return &App{cfg: cfg, lg: lg, clock: time.Now}
}

// Up applies every pending migration
func (app *App) Up(ctx context.Context) (report schemata.Report, err error) {
	err = app.withMigrator(ctx, func(m *schemata.Migrator) error {
		var runErr error
		report, runErr = m.Run(ctx)
		return runErr
	})

	return report, err
}

// Down rolls back the most recently applied migration, an empty ledger is not an error
func (app *App) Down(ctx context.Context) (report schemata.Report, err error) {
	err = app.withMigrator(ctx, func(m *schemata.Migrator) error {
		var rbErr error
		report, rbErr = m.Rollback(ctx)
		if errors.Is(rbErr, schemata.ErrNothingToRollBack) {
			app.lg.Warnf("nothing to roll back")
			return nil
		}
		return rbErr
	})

	return report, err
}

func (app *App) Status(ctx context.Context) (status schemata.Status, err error) {
	err = app.withMigrator(ctx, func(m *schemata.Migrator) error {
		var statusErr error
		status, statusErr = m.Status(ctx)
		return statusErr
	})

	return status, err
}

// Generate writes the scaffold of the next migration into the migrations
// folder and returns the paths of the created files. Existing files are
// never overwritten.
func (app *App) Generate(name string) ([]string, error) {
	folder := app.cfg.MigrationsFolder
	if folder == "" {
		folder = schema.SourceDir
	}

	if err := os.MkdirAll(folder, 0o755); err != nil {
		return nil, errors.Wrapf(err, "could not create migrations folder %s", folder)
	}

	registry, err := loadRegistry(folder)
	if err != nil {
		return nil, err
	}

	tpl, err := registry.Generate(name, app.clock().UTC())
	if err != nil {
		return nil, err
	}

	files := []struct {
		path, contents string
	}{
		{filepath.Join(folder, tpl.MigrateFile()), tpl.MigrateScript()},
		{filepath.Join(folder, tpl.RollbackFile()), tpl.RollbackScript()},
	}

	for _, f := range files {
		if FileExists(f.path) {
			return nil, errors.Wrapf(ErrMigrationAlreadyExists, "%s", f.path)
		}
	}

	paths := make([]string, 0, len(files))
	for _, f := range files {
		if err := writeNewFile(f.path, f.contents); err != nil {
			return paths, err
		}

		paths = append(paths, f.path)
	}

	return paths, nil
}

// Serve exposes the migrator on the admin endpoint until ctx is cancelled
func (app *App) Serve(ctx context.Context) error {
	if app.cfg.OperatorSecret == "" {
		return ErrOperatorSecretMissing
	}

	return app.withMigrator(ctx, func(m *schemata.Migrator) error {
		h, err := adminhttp.NewHandler(m, app.cfg.OperatorSecret, app.lg)
		if err != nil {
			return err
		}

		srv := &http.Server{
			Addr:              app.cfg.ListenAddr,
			Handler:           h.Routes(),
			ReadHeaderTimeout: 10 * time.Second,
		}

		errCh := make(chan error, 1)
		go func() {
			app.lg.Successf("admin endpoint listening on %s%s", app.cfg.ListenAddr, adminhttp.Path)
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				errCh <- errors.Wrap(err, "admin server failed")
			}
			close(errCh)
		}()

		select {
		case <-ctx.Done():
		case err := <-errCh:
			return err
		}

		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()

		if err := srv.Shutdown(shutdownCtx); err != nil {
			return errors.Wrap(err, "could not shut the admin server down")
		}

		return nil
	})
}

func (app *App) withMigrator(ctx context.Context, fn func(m *schemata.Migrator) error) (err error) {
	m, closer, err := createMigrator(ctx, app.cfg, app.lg)
	if err != nil {
		return err
	}

	defer func() {
		if closeErr := closer(); closeErr != nil && err == nil {
			err = closeErr
		}
	}()

	return fn(m)
}

func writeNewFile(path, contents string) error {
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
	if err != nil {
		if os.IsExist(err) {
			return errors.Wrapf(ErrMigrationAlreadyExists, "%s", path)
		}
		return errors.Wrapf(err, "could not create %s", path)
	}

	if _, err := f.WriteString(contents); err != nil {
		_ = f.Close()
		return errors.Wrapf(err, "could not write %s", path)
	}

	return f.Close()
}
