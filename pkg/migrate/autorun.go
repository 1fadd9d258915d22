package migrate

import (
	"context"
	"database/sql"
	"fmt"
	"io/fs"

	"github.com/pressly/goose/v3"
	"github.com/pressly/goose/v3/lock"

	"github.com/angelmondragon/payrecon/pkg/config"
	"github.com/angelmondragon/payrecon/pkg/db"
	"github.com/angelmondragon/payrecon/pkg/logger"
)

// MaybeRunDev brings the billing schema up to date on boot when running in
// dev with PAYRECON_AUTO_MIGRATE set. The api, cron worker and outbox
// publisher all call it, so on postgres the run holds a goose session lock.
func MaybeRunDev(ctx context.Context, cfg *config.Config, logg *logger.Logger, client *db.Client) error {
	if !cfg.App.IsDev() || !cfg.FeatureFlags.AutoMigrate {
		return nil
	}

	sqlDB, err := client.DB().DB()
	if err != nil {
		return fmt.Errorf("extracting sql.DB: %w", err)
	}
	provider, err := newProvider(cfg.DB.Driver, sqlDB, Embedded())
	if err != nil {
		return err
	}

	ctx = logg.WithFields(ctx, map[string]any{"env": cfg.App.Env, "source": "embedded"})
	return applyPending(ctx, logg, provider)
}

func newProvider(driver string, sqlDB *sql.DB, fsys fs.FS) (*goose.Provider, error) {
	var opts []goose.ProviderOption
	dialect := goose.DialectPostgres
	switch driver {
	case "", db.DriverPostgres:
		locker, err := lock.NewPostgresSessionLocker()
		if err != nil {
			return nil, fmt.Errorf("migration locker: %w", err)
		}
		opts = append(opts, goose.WithSessionLocker(locker))
	case db.DriverSQLite:
		dialect = goose.DialectSQLite3
	default:
		return nil, fmt.Errorf("auto-migrate: unsupported driver %q", driver)
	}

	provider, err := goose.NewProvider(dialect, sqlDB, fsys, opts...)
	if err != nil {
		return nil, fmt.Errorf("goose provider: %w", err)
	}
	return provider, nil
}

func applyPending(ctx context.Context, logg *logger.Logger, provider *goose.Provider) error {
	pending, err := provider.HasPending(ctx)
	if err != nil {
		return fmt.Errorf("checking pending migrations: %w", err)
	}
	if !pending {
		logg.Debug(ctx, "billing schema already current")
		return nil
	}

	from, err := provider.GetDBVersion(ctx)
	if err != nil {
		return fmt.Errorf("reading schema version: %w", err)
	}
	results, err := provider.Up(ctx)
	if err != nil {
		return fmt.Errorf("applying migrations from version %d: %w", from, err)
	}

	to := from
	for _, res := range results {
		if res.Source != nil && res.Source.Version > to {
			to = res.Source.Version
		}
	}
	logg.Info(logg.WithFields(ctx, map[string]any{
		"from_version": from,
		"to_version":   to,
		"applied":      len(results),
	}), "billing schema migrated")
	return nil
}
