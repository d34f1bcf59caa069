package tasks

import (
	"context"
	"fmt"

	"github.com/charmbracelet/log"

	"github.com/desertthunder/soundalike/internal/metrics"
	"github.com/desertthunder/soundalike/internal/models"
	"github.com/desertthunder/soundalike/internal/progress"
	"github.com/desertthunder/soundalike/internal/services"
	"github.com/desertthunder/soundalike/internal/shared"
)

// PlaylistResult is the outcome of a playlist generation.
type PlaylistResult struct {
	PlaylistID string   `json:"playlist_id"`
	Name       string   `json:"name"`
	URIs       []string `json:"uris"`
}

// Finished is the terminal progress record for the run.
func (r *PlaylistResult) Finished() progress.Finished {
	return progress.Finished{Count: len(r.URIs), PlaylistID: r.PlaylistID, URIs: r.URIs}
}

// PlaylistStore is what playlist generation reads.
type PlaylistStore interface {
	UserStore
	SimilarityStore
}

// PlaylistEngine turns a seed track into a private remote playlist.
type PlaylistEngine struct {
	users     UserStore
	similar   *SimilarityEngine
	connector services.Connector
	progress  progress.Channel
	logger    *log.Logger
}

func NewPlaylistEngine(store PlaylistStore, connector services.Connector, ch progress.Channel, logger *log.Logger) *PlaylistEngine {
	return &PlaylistEngine{
		users:     store,
		similar:   NewSimilarityEngine(store, logger),
		connector: connector,
		progress:  ch,
		logger:    logger,
	}
}

// PlaylistName is the remote playlist title for a seed track.
func PlaylistName(seed *models.Track) string {
	return "Soundalike: " + seed.Name
}

// GeneratePlaylist creates a playlist of the seed's nearest neighbours in
// engine order and adds it to the user's remote account. An empty credential
// falls back to the one stored on the user.
func (p *PlaylistEngine) GeneratePlaylist(ctx context.Context, userID, seedTrackID int64, credential, jobID string) (*PlaylistResult, error) {
	logger := shared.WithLogger(p.logger, "job", jobID, "user", userID, "seed", seedTrackID)
	pub := publisher{ch: p.progress, jobID: jobID, logger: logger}

	result, err := p.run(ctx, userID, seedTrackID, credential, pub, logger)
	metrics.RecordPlaylist(err)
	if err != nil {
		logger.Error("playlist generation failed", "error", err)
		pub.send(ctx, progress.Failed{Text: err.Error()})
		return nil, err
	}

	logger.Info("playlist created", "playlist", result.PlaylistID, "tracks", len(result.URIs))
	pub.send(ctx, result.Finished())
	return result, nil
}

func (p *PlaylistEngine) run(ctx context.Context, userID, seedTrackID int64, credential string, pub publisher, logger *log.Logger) (*PlaylistResult, error) {
	seed, err := p.similar.seed(ctx, seedTrackID)
	if err != nil {
		return nil, err
	}

	pub.send(ctx, progress.FindingSimilar{SeedTrackID: seed.ID})
	neighbors, err := p.similar.FindSimilar(ctx, seed.ID, PlaylistSize)
	if err != nil {
		return nil, err
	}
	uris := make([]string, len(neighbors))
	for i, n := range neighbors {
		uris[i] = n.URI()
	}

	pub.send(ctx, progress.SpotifyAuth{})
	user, err := p.users.GetUser(ctx, userID)
	if err != nil {
		return nil, err
	}
	if credential == "" {
		credential = user.Credential
	}
	library, err := p.connector.Connect(ctx, credential, saveRotated(ctx, p.users, userID, logger))
	if err != nil {
		return nil, err
	}
	profile, err := library.CurrentUser(ctx)
	if err != nil {
		return nil, err
	}

	name := PlaylistName(seed)
	pub.send(ctx, progress.CreatingPlaylist{Name: name})
	description := fmt.Sprintf("Tracks that sound like %s by %s", seed.Name, seed.Artist)
	playlist, err := library.CreatePlaylist(ctx, profile.ID, name, description, false)
	if err != nil {
		return nil, err
	}

	pub.send(ctx, progress.AddingTracks{Count: len(uris)})
	if len(uris) > 0 {
		if err := library.AddTracks(ctx, playlist.ID, uris); err != nil {
			return nil, err
		}
	}

	return &PlaylistResult{PlaylistID: playlist.ID, Name: name, URIs: uris}, nil
}
