package repositories

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/desertthunder/soundalike/internal/models"
)

// LibraryRepository persists the user_tracks ownership relation.
type LibraryRepository struct {
	db *sql.DB
}

// NewLibraryRepository creates a new [LibraryRepository].
func NewLibraryRepository(db *sql.DB) *LibraryRepository {
	return &LibraryRepository{db: db}
}

// Link adds trackID to the user's library. Linking twice is a no-op; the
// returned bool reports whether a new row was written.
func (r *LibraryRepository) Link(ctx context.Context, userID, trackID int64) (bool, error) {
	res, err := r.db.ExecContext(ctx,
		"INSERT INTO user_tracks (user_id, track_id) VALUES (?, ?) ON CONFLICT(user_id, track_id) DO NOTHING",
		userID, trackID)
	if err != nil {
		return false, fmt.Errorf("failed to link track %d to user %d: %w", trackID, userID, err)
	}

	rows, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to get affected rows: %w", err)
	}
	return rows == 1, nil
}

// IsLinked reports whether the track is in the user's library.
func (r *LibraryRepository) IsLinked(ctx context.Context, userID, trackID int64) (bool, error) {
	var linked bool
	err := r.db.QueryRowContext(ctx,
		"SELECT EXISTS(SELECT 1 FROM user_tracks WHERE user_id = ? AND track_id = ?)",
		userID, trackID).Scan(&linked)
	if err != nil {
		return false, fmt.Errorf("failed to check link: %w", err)
	}
	return linked, nil
}

// EncodedAmong returns the subset of externalIDs that are both linked to the
// user and encoded.
func (r *LibraryRepository) EncodedAmong(ctx context.Context, userID int64, externalIDs []string) (map[string]struct{}, error) {
	found := make(map[string]struct{})
	for _, ids := range chunk(externalIDs, maxInArgs) {
		query := `
			SELECT t.external_id
			FROM tracks t
			JOIN user_tracks ut ON ut.track_id = t.id
			WHERE ut.user_id = ? AND t.encoded = 1 AND t.external_id IN (` + placeholders(len(ids)) + `)`
		args := append([]any{userID}, stringArgs(ids)...)
		if err := collectIDs(ctx, r.db, found, query, args...); err != nil {
			return nil, fmt.Errorf("failed to query user's encoded tracks: %w", err)
		}
	}
	return found, nil
}

// EncodedTracks lists the user's encoded tracks without their vectors,
// most recently linked first.
func (r *LibraryRepository) EncodedTracks(ctx context.Context, userID int64) ([]*models.Track, error) {
	query := `
		SELECT t.id, t.external_id, t.name, t.artist, COALESCE(t.preview_url, ''), t.created_at
		FROM tracks t
		JOIN user_tracks ut ON ut.track_id = t.id
		WHERE ut.user_id = ? AND t.encoded = 1
		ORDER BY ut.created_at DESC, t.id DESC
	`

	rows, err := r.db.QueryContext(ctx, query, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to query library: %w", err)
	}
	defer rows.Close()

	tracks := []*models.Track{}
	for rows.Next() {
		t := &models.Track{Encoded: true}
		if err := rows.Scan(&t.ID, &t.ExternalID, &t.Name, &t.Artist, &t.PreviewURL, &t.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan track: %w", err)
		}
		tracks = append(tracks, t)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("row iteration error: %w", err)
	}
	return tracks, nil
}
