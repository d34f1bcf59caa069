package tasks

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/charmbracelet/log"

	"github.com/desertthunder/soundalike/internal/embedding"
	"github.com/desertthunder/soundalike/internal/metrics"
	"github.com/desertthunder/soundalike/internal/models"
	"github.com/desertthunder/soundalike/internal/progress"
	"github.com/desertthunder/soundalike/internal/services"
	"github.com/desertthunder/soundalike/internal/shared"
)

const (
	msgNoNewTracks = "No new tracks for this user"
	msgLinkedOnly  = "Linked %d pre-encoded tracks"
)

// IngestResult summarises one ingestion run.
type IngestResult struct {
	Processed int    `json:"processed"`
	Total     int    `json:"total"`
	Linked    int    `json:"linked"`
	Skipped   int    `json:"skipped"`
	Message   string `json:"message,omitempty"`
}

// Finished is the terminal progress record for the run.
func (r *IngestResult) Finished() progress.Finished {
	return progress.Finished{Processed: r.Processed, Total: r.Total, Text: r.Message}
}

// IngestEngine brings a user's saved tracks into the catalog.
type IngestEngine struct {
	store     IngestStore
	connector services.Connector
	previews  services.PreviewResolver
	audio     AudioLoader
	embedder  embedding.Provider
	progress  progress.Channel
	logger    *log.Logger
}

// NewIngestEngine wires the ingestion pipeline. previews and ch may be nil.
func NewIngestEngine(
	store IngestStore,
	connector services.Connector,
	previews services.PreviewResolver,
	audio AudioLoader,
	embedder embedding.Provider,
	ch progress.Channel,
	logger *log.Logger,
) *IngestEngine {
	return &IngestEngine{
		store:     store,
		connector: connector,
		previews:  previews,
		audio:     audio,
		embedder:  embedder,
		progress:  ch,
		logger:    logger,
	}
}

// Ingest runs one ingestion for userID. An empty credential falls back to the
// one stored on the user.
func (e *IngestEngine) Ingest(ctx context.Context, userID int64, credential, jobID string) (*IngestResult, error) {
	started := time.Now()
	logger := shared.WithLogger(e.logger, "job", jobID, "user", userID)
	pub := publisher{ch: e.progress, jobID: jobID, logger: logger}

	result, err := e.run(ctx, userID, credential, pub, logger)
	metrics.RecordIngest(time.Since(started), err)
	if err != nil {
		logger.Error("ingestion failed", "error", err)
		pub.send(ctx, progress.Failed{Text: err.Error()})
		return nil, err
	}

	logger.Info("ingestion finished", "processed", result.Processed, "total", result.Total, "linked", result.Linked)
	pub.send(ctx, result.Finished())
	return result, nil
}

func (e *IngestEngine) run(ctx context.Context, userID int64, credential string, pub publisher, logger *log.Logger) (*IngestResult, error) {
	user, err := e.store.GetUser(ctx, userID)
	if err != nil {
		return nil, err
	}
	if credential == "" {
		credential = user.Credential
	}

	library, err := e.connector.Connect(ctx, credential, saveRotated(ctx, e.store, userID, logger))
	if err != nil {
		return nil, err
	}

	stageStart := time.Now()
	saved, err := fetchLibrary(ctx, library)
	if err != nil {
		return nil, err
	}
	metrics.ObserveStage("fetch_library", time.Since(stageStart))
	logger.Info("fetched library", "tracks", len(saved))

	ids := make([]string, len(saved))
	for i, s := range saved {
		ids[i] = s.ExternalID
	}

	owned, err := e.store.EncodedAmongForUser(ctx, userID, ids)
	if err != nil {
		return nil, fmt.Errorf("failed to load user's encoded tracks: %w", err)
	}

	var fresh []models.SavedTrack
	for _, s := range saved {
		if _, ok := owned[s.ExternalID]; !ok {
			fresh = append(fresh, s)
		}
	}
	if len(fresh) == 0 {
		return &IngestResult{Message: msgNoNewTracks}, nil
	}

	freshIDs := make([]string, len(fresh))
	for i, s := range fresh {
		freshIDs[i] = s.ExternalID
	}
	encoded, err := e.store.EncodedAmong(ctx, freshIDs)
	if err != nil {
		return nil, fmt.Errorf("failed to load encoded tracks: %w", err)
	}

	var linkOnly, toProcess []models.SavedTrack
	for _, s := range fresh {
		if _, ok := encoded[s.ExternalID]; ok {
			linkOnly = append(linkOnly, s)
		} else {
			toProcess = append(toProcess, s)
		}
	}

	linked, err := e.linkExisting(ctx, userID, linkOnly, logger)
	if err != nil {
		return nil, err
	}
	if len(toProcess) == 0 {
		return &IngestResult{
			Processed: linked,
			Total:     len(fresh),
			Linked:    linked,
			Message:   fmt.Sprintf(msgLinkedOnly, linked),
		}, nil
	}

	previews := e.resolvePreviews(ctx, toProcess, logger)

	result := &IngestResult{Total: len(toProcess), Linked: linked}
	for i, s := range toProcess {
		run := newTrackRun(s)
		if err := e.processTrack(ctx, userID, i+1, run, previews, result, pub, logger); err != nil {
			return nil, err
		}
		if !run.done() {
			return nil, fmt.Errorf("track %s stopped in state %s", s.ExternalID, run.state)
		}
		if run.state == stateSkipped {
			result.Skipped++
			logger.Warn("skipped track", "track", s.ExternalID, "error", run.skipErr)
		}
	}
	return result, nil
}

// fetchLibrary pages through saved tracks until a short page. Entries without
// an external id (local files) are dropped after the page check and repeated
// ids keep their first occurrence.
func fetchLibrary(ctx context.Context, library services.Library) ([]models.SavedTrack, error) {
	var out []models.SavedTrack
	seen := make(map[string]struct{})
	for offset := 0; ; offset += services.PageSize {
		page, err := library.SavedTracks(ctx, services.PageSize, offset)
		if err != nil {
			return nil, fmt.Errorf("failed to fetch saved tracks at offset %d: %w", offset, err)
		}
		for _, s := range page {
			if s.ExternalID == "" {
				continue
			}
			if _, dup := seen[s.ExternalID]; dup {
				continue
			}
			seen[s.ExternalID] = struct{}{}
			out = append(out, s)
		}
		if len(page) < services.PageSize {
			return out, nil
		}
	}
}

// linkExisting links tracks already encoded by someone else. No audio work.
func (e *IngestEngine) linkExisting(ctx context.Context, userID int64, tracks []models.SavedTrack, logger *log.Logger) (int, error) {
	n := 0
	for _, s := range tracks {
		t, err := e.store.GetTrackByExternalID(ctx, s.ExternalID)
		if err != nil {
			return n, fmt.Errorf("failed to load track %s: %w", s.ExternalID, err)
		}
		if _, err := e.store.LinkTrack(ctx, userID, t.ID); err != nil {
			return n, fmt.Errorf("failed to link track %s: %w", s.ExternalID, err)
		}
		metrics.RecordTrack(metrics.OutcomeLinked)
		n++
	}
	if n > 0 {
		logger.Info("linked pre-encoded tracks", "count", n)
	}
	return n, nil
}

func (e *IngestEngine) resolvePreviews(ctx context.Context, tracks []models.SavedTrack, logger *log.Logger) map[string]string {
	if e.previews == nil {
		return nil
	}
	start := time.Now()
	previews, err := e.previews.Resolve(ctx, tracks)
	metrics.ObserveStage("resolve_previews", time.Since(start))
	if err != nil {
		logger.Warn("preview resolution failed, continuing without previews", "error", err)
		return nil
	}
	logger.Info("resolved previews", "found", len(previews), "requested", len(tracks))
	return previews
}

// processTrack drives one track to a terminal state. index is the track's
// 1-based position in the run. Only store failures are returned; everything
// else skips the track.
func (e *IngestEngine) processTrack(
	ctx context.Context,
	userID int64,
	index int,
	run *trackRun,
	previews map[string]string,
	result *IngestResult,
	pub publisher,
	logger *log.Logger,
) error {
	if err := run.resolve(previews); err != nil {
		return err
	}
	pub.send(ctx, processingUpdate(index, result.Total, run))

	t, err := e.store.EnsureTrack(ctx, run.saved, run.preview)
	if err != nil {
		metrics.RecordTrack(metrics.OutcomeStoreFailed)
		return fmt.Errorf("failed to create track %s: %w", run.saved.ExternalID, err)
	}
	if _, err := e.store.LinkTrack(ctx, userID, t.ID); err != nil {
		metrics.RecordTrack(metrics.OutcomeStoreFailed)
		return fmt.Errorf("failed to link track %s: %w", run.saved.ExternalID, err)
	}
	if err := run.link(t); err != nil {
		return err
	}

	if !run.hasURL {
		logger.Debug("no preview available", "track", run.saved.ExternalID)
		metrics.RecordTrack(metrics.OutcomeNoPreview)
		return nil
	}

	if !run.needsAudio() {
		// Encoded by a concurrent run between the set computation and now.
		metrics.RecordTrack(metrics.OutcomeAlreadyEncoded)
		result.Processed++
		return run.encoded()
	}

	vec, err := e.embedTrack(ctx, run)
	if err != nil {
		metrics.RecordTrack(outcomeFor(err))
		return run.skip(err)
	}

	stored, err := e.store.SetEmbedding(ctx, t.ID, vec)
	if err != nil {
		metrics.RecordTrack(metrics.OutcomeStoreFailed)
		return fmt.Errorf("failed to store embedding for %s: %w", run.saved.ExternalID, err)
	}
	if stored {
		t.Encoded = true
		t.Embedding = vec
		metrics.RecordTrack(metrics.OutcomeEncoded)
	} else {
		metrics.RecordTrack(metrics.OutcomeAlreadyEncoded)
	}
	result.Processed++
	if err := run.encoded(); err != nil {
		return err
	}

	logger.Debug("encoded track", "track", t.ExternalID, "id", t.ID)
	pub.send(ctx, encodedUpdate(result.Processed, result.Total, t))
	return nil
}

func (e *IngestEngine) embedTrack(ctx context.Context, run *trackRun) ([]float32, error) {
	start := time.Now()
	samples, rate, err := e.audio.Load(ctx, run.preview)
	metrics.ObserveStage("audio", time.Since(start))
	if err != nil {
		return nil, err
	}

	start = time.Now()
	vec, err := e.embedder.Embed(ctx, samples, rate)
	metrics.ObserveStage("embed", time.Since(start))
	if err != nil {
		if !errors.Is(err, shared.ErrEmbedding) {
			err = fmt.Errorf("%w: %v", shared.ErrEmbedding, err)
		}
		return nil, err
	}
	return embedding.Normalize(vec, models.EmbeddingDim)
}

func outcomeFor(err error) string {
	switch {
	case errors.Is(err, shared.ErrFetch):
		return metrics.OutcomeFetchFailed
	case errors.Is(err, shared.ErrDecode):
		return metrics.OutcomeDecodeFailed
	default:
		return metrics.OutcomeEmbedFailed
	}
}
