package tasks

import (
	"context"

	"github.com/desertthunder/soundalike/internal/models"
)

// IngestStore is the part of the catalog ingestion writes to.
type IngestStore interface {
	UserStore
	GetTrackByExternalID(ctx context.Context, externalID string) (*models.Track, error)
	EnsureTrack(ctx context.Context, s models.SavedTrack, previewURL string) (*models.Track, error)
	SetEmbedding(ctx context.Context, trackID int64, vec []float32) (bool, error)
	LinkTrack(ctx context.Context, userID, trackID int64) (bool, error)
	// EncodedAmong returns the subset of externalIDs encoded anywhere.
	EncodedAmong(ctx context.Context, externalIDs []string) (map[string]struct{}, error)
	// EncodedAmongForUser returns the subset linked to userID and encoded.
	EncodedAmongForUser(ctx context.Context, userID int64, externalIDs []string) (map[string]struct{}, error)
}

// SimilarityStore answers nearest-neighbour queries.
type SimilarityStore interface {
	GetTrack(ctx context.Context, id int64) (*models.Track, error)
	IsLinked(ctx context.Context, userID, trackID int64) (bool, error)
	Nearest(ctx context.Context, seed []float32, excludeID int64, limit int) ([]models.Neighbor, error)
	NearestInLibrary(ctx context.Context, userID int64, seed []float32, excludeID int64, limit int) ([]models.Neighbor, error)
	EncodedTracks(ctx context.Context, userID int64) ([]*models.Track, error)
}

// UserStore looks up users and keeps their remote credential current.
type UserStore interface {
	GetUser(ctx context.Context, id int64) (*models.User, error)
	UpdateCredential(ctx context.Context, id int64, credential string) error
}

// Store is everything the engines need. Both catalog backends implement it.
type Store interface {
	IngestStore
	SimilarityStore
}

// AudioLoader downloads a preview and returns canonical samples and their rate.
type AudioLoader interface {
	Load(ctx context.Context, url string) ([]float32, int, error)
}
