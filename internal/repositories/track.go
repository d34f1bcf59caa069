package repositories

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/desertthunder/soundalike/internal/models"
	"github.com/desertthunder/soundalike/internal/shared"
)

const trackColumns = "id, external_id, name, artist, preview_url, encoded, embedding, created_at"

// TrackRepository persists catalog tracks and answers nearest-neighbour queries.
//
// Rows are created once per external id and never deleted. The encoded flag
// only moves from false to true.
type TrackRepository struct {
	db *sql.DB
}

// NewTrackRepository creates a new TrackRepository with the given database connection
func NewTrackRepository(db *sql.DB) *TrackRepository {
	return &TrackRepository{db: db}
}

// Get retrieves a track by ID.
func (r *TrackRepository) Get(ctx context.Context, id int64) (*models.Track, error) {
	query := "SELECT " + trackColumns + " FROM tracks WHERE id = ?"
	track, err := r.scanOne(r.db.QueryRowContext(ctx, query, id))
	if errors.Is(err, shared.ErrTrackNotFound) {
		return nil, fmt.Errorf("%w: %d", shared.ErrTrackNotFound, id)
	}
	return track, err
}

// GetByExternalID retrieves a track by its remote catalog id.
func (r *TrackRepository) GetByExternalID(ctx context.Context, externalID string) (*models.Track, error) {
	query := "SELECT " + trackColumns + " FROM tracks WHERE external_id = ?"
	track, err := r.scanOne(r.db.QueryRowContext(ctx, query, externalID))
	if errors.Is(err, shared.ErrTrackNotFound) {
		return nil, fmt.Errorf("%w: %s", shared.ErrTrackNotFound, externalID)
	}
	return track, err
}

// Ensure returns the track row for s, creating it unencoded when absent.
//
// The first writer's name, artist and preview URL are kept. Concurrent callers
// converge on the same row through the unique external_id constraint.
func (r *TrackRepository) Ensure(ctx context.Context, s models.SavedTrack, previewURL string) (*models.Track, error) {
	if s.ExternalID == "" {
		return nil, fmt.Errorf("%w: track external id is required", shared.ErrInvalidInput)
	}

	query := `
		INSERT INTO tracks (external_id, name, artist, preview_url, encoded)
		VALUES (?, ?, ?, NULLIF(?, ''), 0)
		ON CONFLICT(external_id) DO NOTHING
	`
	if _, err := r.db.ExecContext(ctx, query, s.ExternalID, s.Name, s.Artist, previewURL); err != nil {
		return nil, fmt.Errorf("failed to insert track: %w", err)
	}

	return r.GetByExternalID(ctx, s.ExternalID)
}

// SetEmbedding stores vec and marks the track encoded. It reports false when
// the track was already encoded, leaving the stored vector untouched.
func (r *TrackRepository) SetEmbedding(ctx context.Context, trackID int64, vec []float32) (bool, error) {
	if len(vec) != models.EmbeddingDim {
		return false, fmt.Errorf("%w: embedding has %d dimensions, want %d", shared.ErrInvalidInput, len(vec), models.EmbeddingDim)
	}

	res, err := r.db.ExecContext(ctx,
		"UPDATE tracks SET embedding = ?, encoded = 1 WHERE id = ? AND encoded = 0",
		shared.EncodeVector(vec), trackID)
	if err != nil {
		return false, fmt.Errorf("failed to store embedding: %w", err)
	}

	rows, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to get affected rows: %w", err)
	}
	if rows == 1 {
		return true, nil
	}

	if _, err := r.Get(ctx, trackID); err != nil {
		return false, err
	}
	return false, nil
}

// EncodedAmong returns the subset of externalIDs whose tracks are encoded.
func (r *TrackRepository) EncodedAmong(ctx context.Context, externalIDs []string) (map[string]struct{}, error) {
	found := make(map[string]struct{})
	for _, ids := range chunk(externalIDs, maxInArgs) {
		query := "SELECT external_id FROM tracks WHERE encoded = 1 AND external_id IN (" + placeholders(len(ids)) + ")"
		if err := collectIDs(ctx, r.db, found, query, stringArgs(ids)...); err != nil {
			return nil, fmt.Errorf("failed to query encoded tracks: %w", err)
		}
	}
	return found, nil
}

// Nearest returns up to limit encoded tracks ordered by cosine distance to
// seed, ties broken by ascending track id. excludeID is never returned.
func (r *TrackRepository) Nearest(ctx context.Context, seed []float32, excludeID int64, limit int) ([]models.Neighbor, error) {
	query := `
		SELECT t.id, t.external_id, t.name, t.artist, cosine_distance(t.embedding, ?) AS distance
		FROM tracks t
		WHERE t.encoded = 1 AND t.embedding IS NOT NULL AND t.id != ?
		ORDER BY distance ASC, t.id ASC
		LIMIT ?
	`
	return r.queryNeighbors(ctx, query, shared.EncodeVector(seed), excludeID, limit)
}

// NearestInLibrary is [TrackRepository.Nearest] restricted to one user's library.
func (r *TrackRepository) NearestInLibrary(ctx context.Context, userID int64, seed []float32, excludeID int64, limit int) ([]models.Neighbor, error) {
	query := `
		SELECT t.id, t.external_id, t.name, t.artist, cosine_distance(t.embedding, ?) AS distance
		FROM tracks t
		JOIN user_tracks ut ON ut.track_id = t.id AND ut.user_id = ?
		WHERE t.encoded = 1 AND t.embedding IS NOT NULL AND t.id != ?
		ORDER BY distance ASC, t.id ASC
		LIMIT ?
	`
	return r.queryNeighbors(ctx, query, shared.EncodeVector(seed), userID, excludeID, limit)
}

func (r *TrackRepository) queryNeighbors(ctx context.Context, query string, args ...any) ([]models.Neighbor, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query neighbours: %w", err)
	}
	defer rows.Close()

	neighbors := []models.Neighbor{}
	for rows.Next() {
		var n models.Neighbor
		if err := rows.Scan(&n.TrackID, &n.ExternalID, &n.Name, &n.Artist, &n.Distance); err != nil {
			return nil, fmt.Errorf("failed to scan neighbour: %w", err)
		}
		neighbors = append(neighbors, n)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("row iteration error: %w", err)
	}
	return neighbors, nil
}

func (r *TrackRepository) scanOne(row *sql.Row) (*models.Track, error) {
	track, err := scanTrack(row.Scan)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, shared.ErrTrackNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan track: %w", err)
	}
	return track, nil
}

func scanTrack(scan func(dest ...any) error) (*models.Track, error) {
	var (
		t          models.Track
		previewURL sql.NullString
		embedding  []byte
	)
	if err := scan(&t.ID, &t.ExternalID, &t.Name, &t.Artist, &previewURL, &t.Encoded, &embedding, &t.CreatedAt); err != nil {
		return nil, err
	}

	t.PreviewURL = previewURL.String
	if t.Encoded && embedding != nil {
		vec, err := shared.DecodeVector(embedding)
		if err != nil {
			return nil, err
		}
		t.Embedding = vec
	}
	return &t, nil
}

func collectIDs(ctx context.Context, db *sql.DB, into map[string]struct{}, query string, args ...any) error {
	rows, err := db.QueryContext(ctx, query, args...)
	if err != nil {
		return err
	}
	defer rows.Close()

	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return err
		}
		into[id] = struct{}{}
	}
	return rows.Err()
}

func stringArgs(ids []string) []any {
	args := make([]any, len(ids))
	for i, id := range ids {
		args[i] = id
	}
	return args
}
