package postgres

import (
	"context"
	"errors"
	"math"
	"os"
	"testing"

	"github.com/desertthunder/soundalike/internal/models"
	"github.com/desertthunder/soundalike/internal/shared"
)

func TestVectorText(t *testing.T) {
	tests := []struct {
		name string
		in   []float32
		want string
	}{
		{"empty", []float32{}, "[]"},
		{"integers", []float32{1, 0, -2}, "[1,0,-2]"},
		{"fractions", []float32{0.5, -0.25}, "[0.5,-0.25]"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := FormatVector(tt.in)
			if got != tt.want {
				t.Errorf("FormatVector() = %q, want %q", got, tt.want)
			}

			back, err := ParseVector(got)
			if err != nil {
				t.Fatalf("ParseVector() error: %v", err)
			}
			if len(back) != len(tt.in) {
				t.Fatalf("expected %d elements, got %d", len(tt.in), len(back))
			}
			for i := range back {
				if back[i] != tt.in[i] {
					t.Errorf("element %d: got %v, want %v", i, back[i], tt.in[i])
				}
			}
		})
	}

	for _, bad := range []string{"", "1,2", "[1,x]"} {
		if _, err := ParseVector(bad); !errors.Is(err, shared.ErrInvalidInput) {
			t.Errorf("ParseVector(%q) expected ErrInvalidInput, got %v", bad, err)
		}
	}
}

// openTestStore connects to SOUNDALIKE_TEST_POSTGRES_DSN, a scratch database
// with the pgvector extension available.
func openTestStore(t *testing.T) *Store {
	t.Helper()
	dsn := os.Getenv("SOUNDALIKE_TEST_POSTGRES_DSN")
	if dsn == "" {
		t.Skip("SOUNDALIKE_TEST_POSTGRES_DSN not set")
	}

	ctx := context.Background()
	store, err := Open(ctx, dsn, 4)
	if err != nil {
		t.Fatalf("failed to open store: %v", err)
	}
	t.Cleanup(func() { store.Close() })

	if _, err := store.pool.Exec(ctx, "DROP TABLE IF EXISTS user_tracks, tracks, users"); err != nil {
		t.Fatalf("failed to reset schema: %v", err)
	}
	if err := store.Migrate(ctx); err != nil {
		t.Fatalf("failed to migrate: %v", err)
	}
	return store
}

func blend(angle float64) []float32 {
	v := make([]float32, models.EmbeddingDim)
	v[0] = float32(math.Cos(angle))
	v[1] = float32(math.Sin(angle))
	return v
}

func TestStore(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	user := &models.User{ExternalID: "alice", Credential: "refresh"}
	if err := store.UpsertUser(ctx, user); err != nil {
		t.Fatalf("upsert failed: %v", err)
	}
	if err := store.UpdateCredential(ctx, user.ID, "rotated"); err != nil {
		t.Fatalf("UpdateCredential failed: %v", err)
	}
	if got, _ := store.GetUser(ctx, user.ID); got.Credential != "rotated" {
		t.Errorf("expected rotated credential, got %q", got.Credential)
	}
	if err := store.UpdateCredential(ctx, user.ID+1000, "x"); !errors.Is(err, shared.ErrUserNotFound) {
		t.Errorf("expected ErrUserNotFound, got %v", err)
	}

	seed, err := store.EnsureTrack(ctx, models.SavedTrack{ExternalID: "seed", Name: "Seed", Artist: "A"}, "")
	if err != nil {
		t.Fatalf("ensure failed: %v", err)
	}
	near, _ := store.EnsureTrack(ctx, models.SavedTrack{ExternalID: "near", Name: "Near", Artist: "A"}, "")
	far, _ := store.EnsureTrack(ctx, models.SavedTrack{ExternalID: "far", Name: "Far", Artist: "A"}, "")

	for track, angle := range map[int64]float64{seed.ID: 0, near.ID: 0.1, far.ID: 1.0} {
		ok, err := store.SetEmbedding(ctx, track, blend(angle))
		if err != nil || !ok {
			t.Fatalf("SetEmbedding(%d) = %v, %v", track, ok, err)
		}
	}

	if ok, _ := store.SetEmbedding(ctx, seed.ID, blend(2)); ok {
		t.Error("second SetEmbedding should be a no-op")
	}

	if created, err := store.LinkTrack(ctx, user.ID, near.ID); err != nil || !created {
		t.Fatalf("link = %v, %v", created, err)
	}
	if created, _ := store.LinkTrack(ctx, user.ID, near.ID); created {
		t.Error("second link should be a no-op")
	}

	got, err := store.Nearest(ctx, blend(0), seed.ID, 10)
	if err != nil {
		t.Fatalf("nearest failed: %v", err)
	}
	if len(got) != 2 || got[0].TrackID != near.ID || got[1].TrackID != far.ID {
		t.Errorf("unexpected neighbours %+v", got)
	}

	lib, err := store.NearestInLibrary(ctx, user.ID, blend(0), seed.ID, 10)
	if err != nil {
		t.Fatalf("nearest in library failed: %v", err)
	}
	if len(lib) != 1 || lib[0].TrackID != near.ID {
		t.Errorf("unexpected library neighbours %+v", lib)
	}

	encoded, err := store.EncodedAmongForUser(ctx, user.ID, []string{"seed", "near", "far"})
	if err != nil {
		t.Fatalf("encoded among failed: %v", err)
	}
	if _, ok := encoded["near"]; !ok || len(encoded) != 1 {
		t.Errorf("unexpected encoded set %v", encoded)
	}

	track, err := store.GetTrack(ctx, seed.ID)
	if err != nil {
		t.Fatalf("get failed: %v", err)
	}
	if err := track.Validate(); err != nil {
		t.Errorf("stored track invalid: %v", err)
	}

	if _, err := store.GetTrack(ctx, 999999); !errors.Is(err, shared.ErrTrackNotFound) {
		t.Errorf("expected ErrTrackNotFound, got %v", err)
	}
}
