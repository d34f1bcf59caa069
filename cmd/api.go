package main

import (
	"context"
	"fmt"
	"strings"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/urfave/cli/v3"

	"github.com/desertthunder/soundalike/internal/formatter"
	"github.com/desertthunder/soundalike/internal/jobs"
	"github.com/desertthunder/soundalike/internal/models"
	"github.com/desertthunder/soundalike/internal/progress"
	"github.com/desertthunder/soundalike/internal/services"
	"github.com/desertthunder/soundalike/internal/shared"
	"github.com/desertthunder/soundalike/internal/ui"
)

// LibrarySync enqueues an ingestion job for a user and follows it.
func (r *Runner) LibrarySync(ctx context.Context, cmd *cli.Command) error {
	userID := int64(cmd.Int("user"))
	client := r.client(cmd)

	r.logger.Info("requesting library sync", "user", userID)

	jobID, err := client.SyncLibrary(ctx, userID)
	if err != nil {
		return err
	}
	if cmd.Bool("detach") {
		return r.writePlain("%s\n", jobID)
	}

	r.writePlain("→ Library sync queued as job %s\n", jobID)
	return r.follow(ctx, client, jobID, cmd.Bool("plain"))
}

// PlaylistGenerate enqueues a playlist job for a seed track and follows it.
func (r *Runner) PlaylistGenerate(ctx context.Context, cmd *cli.Command) error {
	userID := int64(cmd.Int("user"))
	seedID := int64(cmd.Int("seed"))
	if seedID <= 0 {
		return fmt.Errorf("%w: --seed must be a positive track ID", shared.ErrInvalidArgument)
	}
	client := r.client(cmd)

	r.logger.Info("requesting playlist", "user", userID, "seed", seedID)

	jobID, err := client.GeneratePlaylist(ctx, userID, seedID)
	if err != nil {
		return err
	}
	if cmd.Bool("detach") {
		return r.writePlain("%s\n", jobID)
	}

	r.writePlain("→ Playlist generation queued as job %s\n", jobID)
	return r.follow(ctx, client, jobID, cmd.Bool("plain"))
}

// JobStatus prints one poll of a job.
func (r *Runner) JobStatus(ctx context.Context, cmd *cli.Command) error {
	jobID := cmd.StringArg("id")
	if jobID == "" {
		return fmt.Errorf("%w: job id", shared.ErrMissingArgument)
	}

	st, err := r.client(cmd).JobStatus(ctx, jobID)
	if err != nil {
		return err
	}

	if cmd.Bool("json") {
		return r.writeJSON(st, true)
	}
	return r.writeStatus(st)
}

// JobWatch follows a job until it reaches a terminal state.
func (r *Runner) JobWatch(ctx context.Context, cmd *cli.Command) error {
	jobID := cmd.StringArg("id")
	if jobID == "" {
		return fmt.Errorf("%w: job id", shared.ErrMissingArgument)
	}
	return r.follow(ctx, r.client(cmd), jobID, cmd.Bool("plain"))
}

// JobList prints the most recent jobs from the local database.
func (r *Runner) JobList(ctx context.Context, cmd *cli.Command) error {
	config, err := r.loadConfig(cmd)
	if err != nil {
		return err
	}

	st, err := r.openStores(ctx, config)
	if err != nil {
		return err
	}
	defer st.Close()

	recent, err := st.jobs.Recent(ctx, cmd.Int("limit"))
	if err != nil {
		return err
	}
	if len(recent) == 0 {
		return r.writePlain("No jobs.\n")
	}

	for _, job := range recent {
		r.writePlain("%s  %-8s %-8s %s", job.ID, job.Kind, job.State, job.CreatedAt.Local().Format("2006-01-02 15:04:05"))
		if job.Error != "" {
			r.writePlain("  %s", job.Error)
		}
		r.writePlain("\n")
	}
	return nil
}

// TracksList prints the encoded tracks in a user's library.
func (r *Runner) TracksList(ctx context.Context, cmd *cli.Command) error {
	userID := int64(cmd.Int("user"))

	tracks, err := r.client(cmd).Tracks(ctx, userID)
	if err != nil {
		return err
	}

	if cmd.Bool("json") {
		if tracks == nil {
			tracks = []services.TrackSummary{}
		}
		return r.writeJSON(tracks, true)
	}

	rows := make([]formatter.TrackRow, len(tracks))
	for i, t := range tracks {
		rows[i] = formatter.TrackRow{ID: t.ID, Name: t.Name, Artist: t.Artist, Encoded: t.Encoded}
	}
	return formatter.WriteTracks(r.output, rows)
}

// TracksSimilar prints the nearest neighbours of a track in a user's library.
func (r *Runner) TracksSimilar(ctx context.Context, cmd *cli.Command) error {
	userID := int64(cmd.Int("user"))
	trackID := int64(cmd.Int("track"))
	limit := cmd.Int("limit")
	outputPath := cmd.String("output")

	format, err := formatter.ParseFormat(cmd.String("format"))
	if err != nil {
		return err
	}

	client := r.client(cmd)
	neighbors, err := client.Similar(ctx, userID, trackID, limit)
	if err != nil {
		return err
	}

	seed := &models.Track{ID: trackID}
	if tracks, err := client.Tracks(ctx, userID); err != nil {
		r.logger.Warn("failed to look up seed track", "track", trackID, "error", err)
	} else {
		for _, t := range tracks {
			if t.ID == trackID {
				seed = &models.Track{ID: t.ID, ExternalID: t.ExternalID, Name: t.Name, Artist: t.Artist, Encoded: t.Encoded}
				break
			}
		}
	}

	report := formatter.NewReport(seed, neighbors)
	if err := formatter.Write(r.output, report, format, outputPath); err != nil {
		return err
	}
	if outputPath != "" {
		r.writePlain("✓ Report written to %s\n", outputPath)
	}
	return nil
}

// follow watches a job until it is terminal. plain prints one line per
// progress change instead of running the interactive watcher.
func (r *Runner) follow(ctx context.Context, client ui.StatusPoller, jobID string, plain bool) error {
	var st *jobs.Status
	var err error
	if plain {
		st, err = r.followPlain(ctx, client, jobID)
	} else {
		st, err = r.followTUI(ctx, client, jobID)
	}
	if err != nil {
		return err
	}
	return r.finish(st)
}

func (r *Runner) followPlain(ctx context.Context, client ui.StatusPoller, jobID string) (*jobs.Status, error) {
	ticker := time.NewTicker(r.poll)
	defer ticker.Stop()

	last := ""
	for {
		st, err := client.JobStatus(ctx, jobID)
		if err != nil {
			return nil, err
		}

		if p, err := st.Payload(); err != nil {
			r.logger.Warn("unreadable progress", "job", jobID, "error", err)
		} else if p != nil && p.Message() != last {
			last = p.Message()
			r.writePlain("%s\n", last)
		}

		if st.Done() {
			return st, nil
		}

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-ticker.C:
		}
	}
}

func (r *Runner) followTUI(ctx context.Context, client ui.StatusPoller, jobID string) (*jobs.Status, error) {
	watcher := ui.NewWatcher(ctx, client, jobID, r.poll)
	if _, err := tea.NewProgram(watcher, tea.WithContext(ctx)).Run(); err != nil {
		return nil, fmt.Errorf("error running watcher: %w", err)
	}
	if err := watcher.Err(); err != nil {
		return nil, err
	}
	if !watcher.Done() {
		r.writePlain("Stopped watching. Resume with: soundalike jobs watch %s\n", jobID)
	}
	return watcher.Status(), nil
}

// finish reports a job's final state and turns a failed job into an error.
func (r *Runner) finish(st *jobs.Status) error {
	if st == nil || !st.Done() {
		return nil
	}
	if st.State == models.JobFailed {
		return fmt.Errorf("job %s failed: %s", st.JobID, st.Error)
	}

	if p, err := st.Payload(); err == nil && p != nil {
		return r.writePlain("✓ %s\n", p.Message())
	}
	return r.writePlain("✓ Job %s finished\n", st.JobID)
}

func (r *Runner) writeStatus(st *jobs.Status) error {
	r.writePlain("Job:   %s\n", st.JobID)
	r.writePlain("Kind:  %s\n", st.Kind)
	r.writePlain("State: %s\n", st.State)

	p, err := st.Payload()
	if err != nil {
		return fmt.Errorf("failed to read progress: %w", err)
	}
	if p != nil {
		r.writePlain("Last:  %s (%s)\n", p.Message(), p.Status())
		if f, ok := p.(progress.Finished); ok && len(f.URIs) > 0 {
			r.writePlain("URIs:  %s\n", strings.Join(f.URIs, ", "))
		}
	}
	if st.Error != "" {
		r.writePlain("Error: %s\n", st.Error)
	}
	return nil
}
