// Package postgres implements the catalog store on PostgreSQL with the
// pgvector extension. Nearest-neighbour queries use the <=> cosine distance
// operator backed by an HNSW index.
package postgres

import (
	"context"
	_ "embed"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/desertthunder/soundalike/internal/models"
	"github.com/desertthunder/soundalike/internal/shared"
)

//go:embed schema.sql
var schema string

// Store is the pgvector catalog store.
type Store struct {
	pool *pgxpool.Pool
}

// Open connects to dsn and verifies the connection.
func Open(ctx context.Context, dsn string, maxConns int) (*Store, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("%w: postgres dsn: %v", shared.ErrInvalidConfig, err)
	}
	if maxConns > 0 {
		cfg.MaxConns = int32(maxConns)
	}

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to open postgres pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping postgres: %w", err)
	}
	return &Store{pool: pool}, nil
}

// Migrate creates the extension, tables and indexes when missing.
func (s *Store) Migrate(ctx context.Context) error {
	for _, stmt := range shared.SplitStatements(schema) {
		if _, err := s.pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("failed to execute statement: %w\nStatement: %s", err, stmt)
		}
	}
	return nil
}

// Close releases the pool.
func (s *Store) Close() error {
	s.pool.Close()
	return nil
}

const userColumns = "id, external_id, display_name, email, credential, created_at, last_login_at"

func (s *Store) GetUser(ctx context.Context, id int64) (*models.User, error) {
	u, err := scanUser(s.pool.QueryRow(ctx, "SELECT "+userColumns+" FROM users WHERE id = $1", id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("%w: %d", shared.ErrUserNotFound, id)
	}
	return u, err
}

func (s *Store) GetUserByExternalID(ctx context.Context, externalID string) (*models.User, error) {
	u, err := scanUser(s.pool.QueryRow(ctx, "SELECT "+userColumns+" FROM users WHERE external_id = $1", externalID))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", shared.ErrUserNotFound, externalID)
	}
	return u, err
}

// UpsertUser inserts the user or refreshes the existing row's profile and credential.
func (s *Store) UpsertUser(ctx context.Context, u *models.User) error {
	if err := u.Validate(); err != nil {
		return fmt.Errorf("%w: %v", shared.ErrInvalidInput, err)
	}

	query := `
		INSERT INTO users (external_id, display_name, email, credential, last_login_at)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (external_id) DO UPDATE SET
			display_name = excluded.display_name,
			email = excluded.email,
			credential = CASE WHEN excluded.credential = '' THEN users.credential ELSE excluded.credential END,
			last_login_at = COALESCE(excluded.last_login_at, users.last_login_at)
		RETURNING ` + userColumns

	stored, err := scanUser(s.pool.QueryRow(ctx, query, u.ExternalID, u.DisplayName, u.Email, u.Credential, u.LastLoginAt))
	if err != nil {
		return fmt.Errorf("failed to upsert user: %w", err)
	}
	*u = *stored
	return nil
}

// UpdateCredential replaces the stored credential for a user.
func (s *Store) UpdateCredential(ctx context.Context, id int64, credential string) error {
	tag, err := s.pool.Exec(ctx, "UPDATE users SET credential = $1 WHERE id = $2", credential, id)
	if err != nil {
		return fmt.Errorf("failed to update credential: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: %d", shared.ErrUserNotFound, id)
	}
	return nil
}

func (s *Store) ListUsers(ctx context.Context) ([]*models.User, error) {
	rows, err := s.pool.Query(ctx, "SELECT "+userColumns+" FROM users ORDER BY id")
	if err != nil {
		return nil, fmt.Errorf("failed to query users: %w", err)
	}
	defer rows.Close()

	var users []*models.User
	for rows.Next() {
		u, err := scanUser(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan user: %w", err)
		}
		users = append(users, u)
	}
	return users, rows.Err()
}

const trackColumns = "id, external_id, name, artist, COALESCE(preview_url, ''), encoded, embedding::text, created_at"

func (s *Store) GetTrack(ctx context.Context, id int64) (*models.Track, error) {
	t, err := scanTrack(s.pool.QueryRow(ctx, "SELECT "+trackColumns+" FROM tracks WHERE id = $1", id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("%w: %d", shared.ErrTrackNotFound, id)
	}
	return t, err
}

func (s *Store) GetTrackByExternalID(ctx context.Context, externalID string) (*models.Track, error) {
	t, err := scanTrack(s.pool.QueryRow(ctx, "SELECT "+trackColumns+" FROM tracks WHERE external_id = $1", externalID))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", shared.ErrTrackNotFound, externalID)
	}
	return t, err
}

// EnsureTrack returns the row for st, inserting it unencoded when absent.
func (s *Store) EnsureTrack(ctx context.Context, st models.SavedTrack, previewURL string) (*models.Track, error) {
	if st.ExternalID == "" {
		return nil, fmt.Errorf("%w: track external id is required", shared.ErrInvalidInput)
	}
	_, err := s.pool.Exec(ctx, `
		INSERT INTO tracks (external_id, name, artist, preview_url, encoded)
		VALUES ($1, $2, $3, NULLIF($4, ''), false)
		ON CONFLICT (external_id) DO NOTHING`,
		st.ExternalID, st.Name, st.Artist, previewURL)
	if err != nil {
		return nil, fmt.Errorf("failed to insert track: %w", err)
	}
	return s.GetTrackByExternalID(ctx, st.ExternalID)
}

// SetEmbedding stores vec unless the track is already encoded.
func (s *Store) SetEmbedding(ctx context.Context, trackID int64, vec []float32) (bool, error) {
	if len(vec) != models.EmbeddingDim {
		return false, fmt.Errorf("%w: embedding has %d dimensions, want %d", shared.ErrInvalidInput, len(vec), models.EmbeddingDim)
	}
	tag, err := s.pool.Exec(ctx,
		"UPDATE tracks SET embedding = $1::vector, encoded = true WHERE id = $2 AND NOT encoded",
		FormatVector(vec), trackID)
	if err != nil {
		return false, fmt.Errorf("failed to store embedding: %w", err)
	}
	if tag.RowsAffected() == 1 {
		return true, nil
	}
	if _, err := s.GetTrack(ctx, trackID); err != nil {
		return false, err
	}
	return false, nil
}

func (s *Store) EncodedAmong(ctx context.Context, externalIDs []string) (map[string]struct{}, error) {
	return s.collect(ctx, "SELECT external_id FROM tracks WHERE encoded AND external_id = ANY($1)", externalIDs)
}

func (s *Store) EncodedAmongForUser(ctx context.Context, userID int64, externalIDs []string) (map[string]struct{}, error) {
	return s.collect(ctx, `
		SELECT t.external_id FROM tracks t
		JOIN user_tracks ut ON ut.track_id = t.id
		WHERE ut.user_id = $2 AND t.encoded AND t.external_id = ANY($1)`,
		externalIDs, userID)
}

func (s *Store) collect(ctx context.Context, query string, ids []string, args ...any) (map[string]struct{}, error) {
	rows, err := s.pool.Query(ctx, query, append([]any{ids}, args...)...)
	if err != nil {
		return nil, fmt.Errorf("failed to query encoded tracks: %w", err)
	}
	defer rows.Close()

	found := make(map[string]struct{})
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		found[id] = struct{}{}
	}
	return found, rows.Err()
}

func (s *Store) LinkTrack(ctx context.Context, userID, trackID int64) (bool, error) {
	tag, err := s.pool.Exec(ctx,
		"INSERT INTO user_tracks (user_id, track_id) VALUES ($1, $2) ON CONFLICT DO NOTHING",
		userID, trackID)
	if err != nil {
		return false, fmt.Errorf("failed to link track %d to user %d: %w", trackID, userID, err)
	}
	return tag.RowsAffected() == 1, nil
}

func (s *Store) IsLinked(ctx context.Context, userID, trackID int64) (bool, error) {
	var linked bool
	err := s.pool.QueryRow(ctx,
		"SELECT EXISTS(SELECT 1 FROM user_tracks WHERE user_id = $1 AND track_id = $2)",
		userID, trackID).Scan(&linked)
	if err != nil {
		return false, fmt.Errorf("failed to check link: %w", err)
	}
	return linked, nil
}

func (s *Store) EncodedTracks(ctx context.Context, userID int64) ([]*models.Track, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT t.id, t.external_id, t.name, t.artist, COALESCE(t.preview_url, ''), t.created_at
		FROM tracks t JOIN user_tracks ut ON ut.track_id = t.id
		WHERE ut.user_id = $1 AND t.encoded
		ORDER BY ut.created_at DESC, t.id DESC`, userID)
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
	return tracks, rows.Err()
}

// Nearest orders encoded tracks by cosine distance to seed, then by id.
func (s *Store) Nearest(ctx context.Context, seed []float32, excludeID int64, limit int) ([]models.Neighbor, error) {
	return s.neighbors(ctx, `
		SELECT id, external_id, name, artist, embedding <=> $1::vector AS distance
		FROM tracks
		WHERE encoded AND id <> $2
		ORDER BY distance ASC, id ASC
		LIMIT $3`,
		FormatVector(seed), excludeID, limit)
}

func (s *Store) NearestInLibrary(ctx context.Context, userID int64, seed []float32, excludeID int64, limit int) ([]models.Neighbor, error) {
	return s.neighbors(ctx, `
		SELECT t.id, t.external_id, t.name, t.artist, t.embedding <=> $1::vector AS distance
		FROM tracks t JOIN user_tracks ut ON ut.track_id = t.id AND ut.user_id = $4
		WHERE t.encoded AND t.id <> $2
		ORDER BY distance ASC, t.id ASC
		LIMIT $3`,
		FormatVector(seed), excludeID, limit, userID)
}

func (s *Store) neighbors(ctx context.Context, query string, args ...any) ([]models.Neighbor, error) {
	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query neighbours: %w", err)
	}
	defer rows.Close()

	out := []models.Neighbor{}
	for rows.Next() {
		var n models.Neighbor
		if err := rows.Scan(&n.TrackID, &n.ExternalID, &n.Name, &n.Artist, &n.Distance); err != nil {
			return nil, fmt.Errorf("failed to scan neighbour: %w", err)
		}
		out = append(out, n)
	}
	return out, rows.Err()
}

func scanUser(row pgx.Row) (*models.User, error) {
	var u models.User
	if err := row.Scan(&u.ID, &u.ExternalID, &u.DisplayName, &u.Email, &u.Credential, &u.CreatedAt, &u.LastLoginAt); err != nil {
		return nil, err
	}
	return &u, nil
}

func scanTrack(row pgx.Row) (*models.Track, error) {
	var (
		t   models.Track
		vec *string
	)
	if err := row.Scan(&t.ID, &t.ExternalID, &t.Name, &t.Artist, &t.PreviewURL, &t.Encoded, &vec, &t.CreatedAt); err != nil {
		return nil, err
	}
	if t.Encoded && vec != nil {
		v, err := ParseVector(*vec)
		if err != nil {
			return nil, err
		}
		t.Embedding = v
	}
	return &t, nil
}

// FormatVector renders v in pgvector's text form, e.g. "[0.1,0.2]".
func FormatVector(v []float32) string {
	var b strings.Builder
	b.Grow(len(v) * 10)
	b.WriteByte('[')
	for i, f := range v {
		if i > 0 {
			b.WriteByte(',')
		}
		b.WriteString(strconv.FormatFloat(float64(f), 'g', -1, 32))
	}
	b.WriteByte(']')
	return b.String()
}

// ParseVector parses pgvector's text form.
func ParseVector(s string) ([]float32, error) {
	s = strings.TrimSpace(s)
	if len(s) < 2 || s[0] != '[' || s[len(s)-1] != ']' {
		return nil, fmt.Errorf("%w: malformed vector %q", shared.ErrInvalidInput, s)
	}
	body := s[1 : len(s)-1]
	if body == "" {
		return []float32{}, nil
	}

	parts := strings.Split(body, ",")
	v := make([]float32, len(parts))
	for i, p := range parts {
		f, err := strconv.ParseFloat(strings.TrimSpace(p), 32)
		if err != nil {
			return nil, fmt.Errorf("%w: vector element %d: %v", shared.ErrInvalidInput, i, err)
		}
		v[i] = float32(f)
	}
	return v, nil
}
