package tasks

import (
	"context"
	"fmt"

	"github.com/charmbracelet/log"

	"github.com/desertthunder/soundalike/internal/models"
	"github.com/desertthunder/soundalike/internal/shared"
)

const (
	// DefaultSimilarLimit is the neighbour count for library queries.
	DefaultSimilarLimit = 3
	// PlaylistSize is the neighbour count used to seed a playlist.
	PlaylistSize = 10
)

// SimilarityEngine ranks encoded tracks by cosine distance to a seed.
type SimilarityEngine struct {
	store  SimilarityStore
	logger *log.Logger
}

func NewSimilarityEngine(store SimilarityStore, logger *log.Logger) *SimilarityEngine {
	return &SimilarityEngine{store: store, logger: logger}
}

// FindSimilar returns the limit nearest encoded tracks in the whole catalog,
// ascending by distance then track id. The seed itself is excluded.
func (s *SimilarityEngine) FindSimilar(ctx context.Context, seedTrackID int64, limit int) ([]models.Neighbor, error) {
	seed, err := s.seed(ctx, seedTrackID)
	if err != nil {
		return nil, err
	}
	if limit <= 0 {
		limit = PlaylistSize
	}
	out, err := s.store.Nearest(ctx, seed.Embedding, seed.ID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query neighbours of %d: %w", seed.ID, err)
	}
	s.logger.Debug("found similar tracks", "seed", seed.ID, "count", len(out))
	return out, nil
}

// FindSimilarInLibrary is FindSimilar restricted to userID's library. The
// seed must be linked to the user.
func (s *SimilarityEngine) FindSimilarInLibrary(ctx context.Context, userID, seedTrackID int64, limit int) ([]models.Neighbor, error) {
	linked, err := s.store.IsLinked(ctx, userID, seedTrackID)
	if err != nil {
		return nil, err
	}
	if !linked {
		return nil, fmt.Errorf("%w: track %d, user %d", shared.ErrNotInLibrary, seedTrackID, userID)
	}
	seed, err := s.seed(ctx, seedTrackID)
	if err != nil {
		return nil, err
	}
	if limit <= 0 {
		limit = DefaultSimilarLimit
	}
	out, err := s.store.NearestInLibrary(ctx, userID, seed.Embedding, seed.ID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query neighbours of %d: %w", seed.ID, err)
	}
	return out, nil
}

// EncodedTracks lists the user's encoded tracks.
func (s *SimilarityEngine) EncodedTracks(ctx context.Context, userID int64) ([]*models.Track, error) {
	return s.store.EncodedTracks(ctx, userID)
}

// seed loads a track and checks it has an embedding. No neighbour query is
// issued for a seed that fails here.
func (s *SimilarityEngine) seed(ctx context.Context, id int64) (*models.Track, error) {
	t, err := s.store.GetTrack(ctx, id)
	if err != nil {
		return nil, err
	}
	if !t.Encoded || len(t.Embedding) == 0 {
		return nil, fmt.Errorf("%w: track %d", shared.ErrNoEmbedding, id)
	}
	return t, nil
}
