package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/urfave/cli/v3"

	"github.com/desertthunder/soundalike/internal/audio"
	"github.com/desertthunder/soundalike/internal/embedding"
	"github.com/desertthunder/soundalike/internal/jobs"
	"github.com/desertthunder/soundalike/internal/models"
	"github.com/desertthunder/soundalike/internal/progress"
	"github.com/desertthunder/soundalike/internal/repositories"
	"github.com/desertthunder/soundalike/internal/repositories/postgres"
	"github.com/desertthunder/soundalike/internal/server"
	"github.com/desertthunder/soundalike/internal/services"
	"github.com/desertthunder/soundalike/internal/shared"
	"github.com/desertthunder/soundalike/internal/tasks"
)

const shutdownTimeout = 10 * time.Second

// catalog is the store surface shared by both backends.
type catalog interface {
	tasks.Store
	UpsertUser(ctx context.Context, u *models.User) error
	ListUsers(ctx context.Context) ([]*models.User, error)
	Close() error
}

// stores holds the catalog and the job table. Jobs always live in SQLite.
type stores struct {
	catalog catalog
	jobs    *repositories.JobRepository
	db      *sql.DB
	shared  bool
}

func (s *stores) Close() error {
	err := s.catalog.Close()
	if !s.shared {
		err = errors.Join(err, s.db.Close())
	}
	return err
}

// openStores opens the configured catalog backend and the local job database.
func (r *Runner) openStores(ctx context.Context, config *shared.Config) (*stores, error) {
	db, err := r.openSQLite(ctx, config)
	if err != nil {
		return nil, err
	}
	jobRepo := repositories.NewJobRepository(db)

	if config.Database.Driver != "postgres" {
		return &stores{catalog: repositories.NewCatalog(db), jobs: jobRepo, db: db, shared: true}, nil
	}

	r.logger.Info("opening postgres catalog")
	pg, err := postgres.Open(ctx, config.Database.DSN, config.Database.MaxOpenConns)
	if err != nil {
		db.Close()
		return nil, err
	}
	if err := pg.Migrate(ctx); err != nil {
		pg.Close()
		db.Close()
		return nil, fmt.Errorf("failed to migrate postgres: %w", err)
	}
	return &stores{catalog: pg, jobs: jobRepo, db: db}, nil
}

// ingester runs library ingestion. [tasks.IngestEngine] implements it.
type ingester interface {
	Ingest(ctx context.Context, userID int64, credential, jobID string) (*tasks.IngestResult, error)
}

// playlister runs playlist generation. [tasks.PlaylistEngine] implements it.
type playlister interface {
	GeneratePlaylist(ctx context.Context, userID, seedTrackID int64, credential, jobID string) (*tasks.PlaylistResult, error)
}

// registerHandlers binds the named jobs to their engines.
func registerHandlers(runner *jobs.Runner, ingest ingester, playlists playlister) {
	runner.Register(models.JobIngest, func(ctx context.Context, job *models.Job) (progress.Payload, error) {
		args, err := jobs.DecodeArgs[models.IngestArgs](job)
		if err != nil {
			return nil, err
		}
		result, err := ingest.Ingest(ctx, args.UserID, "", job.ID)
		if err != nil {
			return nil, err
		}
		return result.Finished(), nil
	})

	runner.Register(models.JobPlaylist, func(ctx context.Context, job *models.Job) (progress.Payload, error) {
		args, err := jobs.DecodeArgs[models.PlaylistArgs](job)
		if err != nil {
			return nil, err
		}
		result, err := playlists.GeneratePlaylist(ctx, args.UserID, args.SeedTrackID, "", job.ID)
		if err != nil {
			return nil, err
		}
		return result.Finished(), nil
	})
}

// Serve runs the job workers and the HTTP API until interrupted.
func (r *Runner) Serve(ctx context.Context, cmd *cli.Command) error {
	config, err := r.loadConfig(cmd)
	if err != nil {
		return err
	}
	if n := cmd.Int("workers"); n > 0 {
		config.Workers.Count = n
	}
	if err := config.Validate(); err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	st, err := r.openStores(ctx, config)
	if err != nil {
		return err
	}
	defer func() {
		if err := st.Close(); err != nil {
			r.logger.Warn("failed to close stores", "error", err)
		}
	}()

	ch, closeProgress, err := progress.Open(ctx, config.Progress, r.logger)
	if err != nil {
		return err
	}
	defer func() {
		if err := closeProgress(); err != nil {
			r.logger.Warn("failed to close progress channel", "error", err)
		}
	}()

	connector, err := services.NewSpotifyConnector(config.Credentials.Spotify)
	if err != nil {
		return err
	}
	previews, err := services.NewPreviewResolver(ctx, config.Credentials.Spotify, services.PreviewOptions{
		RequestsPerSecond: config.Preview.RequestsPerSecond,
		MinSimilarity:     config.Preview.MinSimilarity,
		Market:            config.Preview.Market,
	}, r.logger)
	if err != nil {
		return err
	}

	decoder, err := audio.NewDecoder(config.Audio, r.logger)
	if err != nil {
		return err
	}
	fetcher := audio.NewFetcher(config.Audio.FetchTimeout.Duration, config.Audio.TempDir, r.logger)
	pipeline := audio.NewPipeline(fetcher, decoder)

	embedder := embedding.NewLazy(func(ctx context.Context) (embedding.Provider, error) {
		r.logger.Info("loading embedding provider", "endpoint", config.Embedding.Endpoint, "model", config.Embedding.Model)
		return embedding.NewHTTPProvider(config.Embedding, r.logger)
	})

	ingest := tasks.NewIngestEngine(st.catalog, connector, previews, pipeline, embedder, ch, r.logger)
	playlists := tasks.NewPlaylistEngine(st.catalog, connector, ch, r.logger)
	similar := tasks.NewSimilarityEngine(st.catalog, r.logger)

	runner := jobs.NewRunner(st.jobs, ch, config.Workers, r.logger)
	registerHandlers(runner, ingest, playlists)
	if _, err := runner.Recover(ctx); err != nil {
		r.logger.Warn("job recovery failed", "error", err)
	}
	runner.Start(ctx)
	defer runner.Stop()

	api := server.NewAPI(runner, similar, st.catalog, r.logger)
	login := server.NewLoginHandler(connector, st.catalog, r.logger)
	httpServer := &http.Server{
		Addr:              config.Server.Addr(),
		Handler:           server.NewRouter(api, login, r.logger),
		ReadHeaderTimeout: 10 * time.Second,
	}

	serverErrors := make(chan error, 1)
	go func() {
		r.logger.Info("listening", "addr", httpServer.Addr, "catalog", config.Database.Driver, "progress", config.Progress.Backend)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErrors <- err
		}
	}()

	select {
	case <-ctx.Done():
		r.logger.Info("shutting down")
	case err := <-serverErrors:
		return fmt.Errorf("server error: %w", err)
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		r.logger.Warn("error shutting down server", "error", err)
	}
	return nil
}
