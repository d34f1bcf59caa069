package repositories

import (
	"context"
	"database/sql"
	"errors"
	"strings"

	"github.com/mattn/go-sqlite3"

	"github.com/desertthunder/soundalike/internal/models"
)

// maxInArgs bounds the number of bind parameters in a single IN (...) list.
const maxInArgs = 500

// Catalog is the SQLite catalog store.
type Catalog struct {
	db      *sql.DB
	Users   *UserRepository
	Tracks  *TrackRepository
	Library *LibraryRepository
}

// NewCatalog creates a [Catalog] over a migrated database.
func NewCatalog(db *sql.DB) *Catalog {
	return &Catalog{
		db:      db,
		Users:   NewUserRepository(db),
		Tracks:  NewTrackRepository(db),
		Library: NewLibraryRepository(db),
	}
}

func (c *Catalog) GetUser(ctx context.Context, id int64) (*models.User, error) {
	return c.Users.Get(ctx, id)
}

func (c *Catalog) GetUserByExternalID(ctx context.Context, externalID string) (*models.User, error) {
	return c.Users.GetByExternalID(ctx, externalID)
}

func (c *Catalog) UpsertUser(ctx context.Context, u *models.User) error {
	return c.Users.Upsert(ctx, u)
}

func (c *Catalog) UpdateCredential(ctx context.Context, id int64, credential string) error {
	return c.Users.UpdateCredential(ctx, id, credential)
}

func (c *Catalog) ListUsers(ctx context.Context) ([]*models.User, error) {
	return c.Users.List(ctx)
}

func (c *Catalog) GetTrack(ctx context.Context, id int64) (*models.Track, error) {
	return c.Tracks.Get(ctx, id)
}

func (c *Catalog) GetTrackByExternalID(ctx context.Context, externalID string) (*models.Track, error) {
	return c.Tracks.GetByExternalID(ctx, externalID)
}

func (c *Catalog) EnsureTrack(ctx context.Context, s models.SavedTrack, previewURL string) (*models.Track, error) {
	return c.Tracks.Ensure(ctx, s, previewURL)
}

func (c *Catalog) SetEmbedding(ctx context.Context, trackID int64, vec []float32) (bool, error) {
	return c.Tracks.SetEmbedding(ctx, trackID, vec)
}

func (c *Catalog) EncodedAmong(ctx context.Context, externalIDs []string) (map[string]struct{}, error) {
	return c.Tracks.EncodedAmong(ctx, externalIDs)
}

func (c *Catalog) Nearest(ctx context.Context, seed []float32, excludeID int64, limit int) ([]models.Neighbor, error) {
	return c.Tracks.Nearest(ctx, seed, excludeID, limit)
}

func (c *Catalog) NearestInLibrary(ctx context.Context, userID int64, seed []float32, excludeID int64, limit int) ([]models.Neighbor, error) {
	return c.Tracks.NearestInLibrary(ctx, userID, seed, excludeID, limit)
}

func (c *Catalog) LinkTrack(ctx context.Context, userID, trackID int64) (bool, error) {
	return c.Library.Link(ctx, userID, trackID)
}

func (c *Catalog) IsLinked(ctx context.Context, userID, trackID int64) (bool, error) {
	return c.Library.IsLinked(ctx, userID, trackID)
}

func (c *Catalog) EncodedAmongForUser(ctx context.Context, userID int64, externalIDs []string) (map[string]struct{}, error) {
	return c.Library.EncodedAmong(ctx, userID, externalIDs)
}

func (c *Catalog) EncodedTracks(ctx context.Context, userID int64) ([]*models.Track, error) {
	return c.Library.EncodedTracks(ctx, userID)
}

// Close releases the underlying database handle.
func (c *Catalog) Close() error {
	return c.db.Close()
}

// placeholders returns "?, ?, ..." with n markers.
func placeholders(n int) string {
	if n <= 0 {
		return ""
	}
	return strings.TrimSuffix(strings.Repeat("?, ", n), ", ")
}

// chunk splits ids into slices of at most size elements.
func chunk(ids []string, size int) [][]string {
	var out [][]string
	for len(ids) > size {
		out = append(out, ids[:size])
		ids = ids[size:]
	}
	if len(ids) > 0 {
		out = append(out, ids)
	}
	return out
}

func isUniqueViolation(err error) bool {
	var sqErr sqlite3.Error
	if errors.As(err, &sqErr) {
		return sqErr.ExtendedCode == sqlite3.ErrConstraintUnique || sqErr.ExtendedCode == sqlite3.ErrConstraintPrimaryKey
	}
	return false
}
