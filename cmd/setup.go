package main

import (
	"context"
	"database/sql"
	"fmt"
	"os"

	"github.com/urfave/cli/v3"

	"github.com/desertthunder/soundalike/internal/repositories/postgres"
	"github.com/desertthunder/soundalike/internal/shared"
)

// SetupConfig writes a config file populated with the embedded defaults.
func (r *Runner) SetupConfig(ctx context.Context, cmd *cli.Command) error {
	configPath := cmd.String("config")

	if err := shared.CreateConfigFile(configPath); err != nil {
		return err
	}

	r.logger.Info("config file created", "path", configPath)
	r.writePlain("✓ Config written to %s\n", configPath)
	r.writePlain("Set credentials.spotify.client_id and client_secret (or SPOTIFY_CLIENT_ID / SPOTIFY_CLIENT_SECRET in .env) before logging in.\n")
	return nil
}

// SetupDatabase initializes the database and runs migrations.
//
// Creates the config file from the template when it does not exist yet.
func (r *Runner) SetupDatabase(ctx context.Context, cmd *cli.Command) error {
	configPath := cmd.String("config")

	if _, err := os.Stat(configPath); err != nil {
		r.logger.Info("config file not found, creating from template", "path", configPath)
		if err := shared.CreateConfigFile(configPath); err != nil {
			r.logger.Warn("failed to create config file, using defaults", "error", err)
		} else {
			r.logger.Info("config file created", "path", configPath)
		}
	}

	config, err := r.loadConfig(cmd)
	if err != nil {
		r.logger.Warn("failed to load config, using defaults", "error", err)
		config = shared.DefaultConfig()
	}

	db, err := r.openSQLite(ctx, config)
	if err != nil {
		return err
	}
	defer db.Close()
	r.logger.Infof("setup complete for database: %v", config.Database.Path)

	if config.Database.Driver == "postgres" {
		r.logger.Info("migrating postgres catalog")
		store, err := postgres.Open(ctx, config.Database.DSN, config.Database.MaxOpenConns)
		if err != nil {
			return err
		}
		defer store.Close()
		if err := store.Migrate(ctx); err != nil {
			return fmt.Errorf("failed to migrate postgres: %w", err)
		}
	}

	return r.writePlain("✓ Database ready (%s)\n", config.Database.Driver)
}

// SetupMigrations prints the state of each embedded migration.
func (r *Runner) SetupMigrations(ctx context.Context, cmd *cli.Command) error {
	config, err := r.loadConfig(cmd)
	if err != nil {
		return err
	}

	db, err := shared.NewDatabase(config.Database.Path)
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}
	defer db.Close()

	states, err := shared.MigrationStatus(ctx, db)
	if err != nil {
		return err
	}

	r.writePlainHeader("Migrations: " + config.Database.Path)
	for _, s := range states {
		if s.Applied {
			r.writePlain("✓ %03d %s (%s)\n", s.Version, s.Name, s.AppliedAt.Format("2006-01-02 15:04"))
		} else {
			r.writePlain("· %03d %s (pending)\n", s.Version, s.Name)
		}
	}
	return nil
}

// openSQLite opens the local database and brings its schema up to date. Jobs
// always live here, and the catalog does too unless the driver is postgres.
func (r *Runner) openSQLite(ctx context.Context, config *shared.Config) (*sql.DB, error) {
	r.logger.Info("initializing database", "path", config.Database.Path)

	db, err := shared.NewDatabase(config.Database.Path)
	if err != nil {
		return nil, fmt.Errorf("failed to create database: %w", err)
	}

	shared.ConfigureDatabase(db, config.Database.MaxOpenConns, config.Database.MaxIdleConns)

	r.logger.Info("running database migrations")
	if err := shared.RunMigrationsContext(ctx, db); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}
	return db, nil
}
