package tasks

import (
	"context"
	"errors"
	"fmt"
	"io"
	"slices"
	"strings"
	"testing"

	"github.com/charmbracelet/log"

	"github.com/desertthunder/soundalike/internal/models"
	"github.com/desertthunder/soundalike/internal/progress"
	"github.com/desertthunder/soundalike/internal/shared"
	tu "github.com/desertthunder/soundalike/internal/testing"
)

func testLogger() *log.Logger {
	return shared.NewLogger(io.Discard)
}

type ingestFixture struct {
	store    *memStore
	library  *fakeLibrary
	conn     *fakeConnector
	resolver *fakeResolver
	loader   *fakeLoader
	embedder *countingEmbedder
	ch       *tu.RecordingChannel
	engine   *IngestEngine
}

func newIngestFixture(tracks []models.SavedTrack, previews map[string]string) *ingestFixture {
	f := &ingestFixture{
		store:    newMemStore(),
		library:  &fakeLibrary{saved: tracks},
		resolver: &fakeResolver{previews: previews},
		loader:   &fakeLoader{errs: map[string]error{}},
		embedder: &countingEmbedder{},
		ch:       tu.NewRecordingChannel(),
	}
	f.conn = &fakeConnector{library: f.library}
	f.store.addUser(1, "cred-1")
	f.store.addUser(2, "cred-2")
	f.engine = NewIngestEngine(f.store, f.conn, f.resolver, f.loader, f.embedder, f.ch, testLogger())
	return f
}

func TestIngest(t *testing.T) {
	ctx := context.Background()

	t.Run("End To End Three Tracks", func(t *testing.T) {
		f := newIngestFixture(saved("pre", "silent", "fresh"), previewsFor("fresh"))
		f.store.addTrack("pre", tu.UnitVector(500))

		res, err := f.engine.Ingest(ctx, 1, "", "job-1")
		if err != nil {
			t.Fatalf("Ingest() error = %v", err)
		}
		if res.Processed != 1 || res.Total != 2 {
			t.Errorf("got processed=%d total=%d, want 1/2", res.Processed, res.Total)
		}
		if res.Linked != 1 {
			t.Errorf("expected 1 link-only track, got %d", res.Linked)
		}
		if got := f.store.linkedCount(1); got != 3 {
			t.Errorf("expected 3 linked tracks, got %d", got)
		}
		if f.embedder.calls != 1 {
			t.Errorf("expected exactly 1 embedding, got %d", f.embedder.calls)
		}
		if f.conn.credentials[0] != "cred-1" {
			t.Errorf("expected stored credential, got %q", f.conn.credentials[0])
		}

		want := []progress.Status{
			progress.StatusProcessing,
			progress.StatusProcessing,
			progress.StatusEncoded,
			progress.StatusFinished,
		}
		if got := f.ch.Statuses("job-1"); !slices.Equal(got, want) {
			t.Errorf("statuses = %v, want %v", got, want)
		}

		payloads := f.ch.Payloads["job-1"]
		silent := payloads[0].(progress.Processing)
		if silent.PreviewURLPresent || silent.Index != 1 || silent.Total != 2 {
			t.Errorf("unexpected processing payload %+v", silent)
		}
		fresh := payloads[1].(progress.Processing)
		if !fresh.PreviewURLPresent || fresh.Index != 2 || fresh.Total != 2 {
			t.Errorf("unexpected processing payload %+v", fresh)
		}
		enc := payloads[2].(progress.Encoded)
		if enc.Index != 1 || enc.Total != 2 || enc.Track.ExternalID != "fresh" || enc.Track.ID == 0 {
			t.Errorf("unexpected encoded payload %+v", enc)
		}
		fin := payloads[3].(progress.Finished)
		if fin.Processed != 1 || fin.Total != 2 {
			t.Errorf("unexpected finished payload %+v", fin)
		}

		track, _ := f.store.GetTrackByExternalID(ctx, "fresh")
		if !track.Encoded || len(track.Embedding) != models.EmbeddingDim {
			t.Errorf("fresh track not encoded: %+v", track.Encoded)
		}
		if n := shared.Norm(track.Embedding); n < 0.999 || n > 1.001 {
			t.Errorf("expected unit norm, got %f", n)
		}
		silentTrack, _ := f.store.GetTrackByExternalID(ctx, "silent")
		if silentTrack.Encoded {
			t.Error("track without preview must not be encoded")
		}
	})

	t.Run("Processing Index Is Track Position", func(t *testing.T) {
		f := newIngestFixture(saved("a", "b", "c"), nil)

		res, err := f.engine.Ingest(ctx, 1, "", "job")
		if err != nil {
			t.Fatalf("Ingest() error = %v", err)
		}
		if res.Processed != 0 || res.Total != 3 {
			t.Errorf("unexpected result %+v", res)
		}

		var indices []int
		for _, p := range f.ch.Payloads["job"] {
			if proc, ok := p.(progress.Processing); ok {
				if proc.Total != 3 {
					t.Errorf("expected total 3, got %+v", proc)
				}
				indices = append(indices, proc.Index)
			}
		}
		if want := []int{1, 2, 3}; !slices.Equal(indices, want) {
			t.Errorf("processing indices = %v, want %v", indices, want)
		}
	})

	t.Run("Second Run Is Idempotent", func(t *testing.T) {
		f := newIngestFixture(saved("a", "b"), previewsFor("a", "b"))

		if _, err := f.engine.Ingest(ctx, 1, "", "job-1"); err != nil {
			t.Fatalf("first Ingest() error = %v", err)
		}
		if f.embedder.calls != 2 {
			t.Fatalf("expected 2 embeddings on first run, got %d", f.embedder.calls)
		}

		res, err := f.engine.Ingest(ctx, 1, "", "job-2")
		if err != nil {
			t.Fatalf("second Ingest() error = %v", err)
		}
		if res.Message != "No new tracks for this user" || res.Processed != 0 || res.Total != 0 {
			t.Errorf("unexpected second result %+v", res)
		}
		if f.embedder.calls != 2 {
			t.Errorf("second run embedded again: %d calls", f.embedder.calls)
		}
		if f.resolver.calls != 1 {
			t.Errorf("second run resolved previews: %d calls", f.resolver.calls)
		}
		want := []progress.Status{progress.StatusFinished}
		if got := f.ch.Statuses("job-2"); !slices.Equal(got, want) {
			t.Errorf("statuses = %v, want %v", got, want)
		}
	})

	t.Run("Cross User Dedup", func(t *testing.T) {
		f := newIngestFixture(saved("a", "b"), previewsFor("a", "b"))
		if _, err := f.engine.Ingest(ctx, 1, "", "job-1"); err != nil {
			t.Fatalf("Ingest() error = %v", err)
		}
		before := len(f.store.tracks)

		res, err := f.engine.Ingest(ctx, 2, "", "job-2")
		if err != nil {
			t.Fatalf("Ingest() error = %v", err)
		}
		if res.Message != "Linked 2 pre-encoded tracks" || res.Processed != 2 || res.Total != 2 {
			t.Errorf("unexpected result %+v", res)
		}
		if f.embedder.calls != 2 {
			t.Errorf("user 2 triggered embedding: %d calls", f.embedder.calls)
		}
		if len(f.store.tracks) != before {
			t.Errorf("track rows duplicated: %d -> %d", before, len(f.store.tracks))
		}
		if f.store.linkedCount(2) != 2 {
			t.Errorf("expected user 2 linked to 2 tracks, got %d", f.store.linkedCount(2))
		}
	})

	t.Run("Pages Until Short Page", func(t *testing.T) {
		var ids []string
		for i := range 120 {
			ids = append(ids, fmt.Sprintf("t%03d", i))
		}
		tracks := saved(ids...)
		tracks[10].ExternalID = ""
		tracks[11] = tracks[12]

		f := newIngestFixture(tracks, nil)
		res, err := f.engine.Ingest(ctx, 1, "", "job")
		if err != nil {
			t.Fatalf("Ingest() error = %v", err)
		}
		if f.library.pageCalls != 3 {
			t.Errorf("expected 3 page requests, got %d", f.library.pageCalls)
		}
		if res.Total != 118 {
			t.Errorf("expected 118 unique tracks, got %d", res.Total)
		}
	})

	t.Run("Exact Page Multiple Requests Empty Page", func(t *testing.T) {
		var ids []string
		for i := range 50 {
			ids = append(ids, fmt.Sprintf("t%02d", i))
		}
		f := newIngestFixture(saved(ids...), nil)
		if _, err := f.engine.Ingest(ctx, 1, "", "job"); err != nil {
			t.Fatalf("Ingest() error = %v", err)
		}
		if f.library.pageCalls != 2 {
			t.Errorf("expected 2 page requests, got %d", f.library.pageCalls)
		}
	})

	t.Run("Per Track Failures Skip", func(t *testing.T) {
		f := newIngestFixture(saved("broken", "ok"), previewsFor("broken", "ok"))
		f.loader.errs["https://p.scdn.co/mp3-preview/broken"] = fmt.Errorf("%w: status 404", shared.ErrFetch)

		res, err := f.engine.Ingest(ctx, 1, "", "job")
		if err != nil {
			t.Fatalf("Ingest() error = %v", err)
		}
		if res.Processed != 1 || res.Total != 2 || res.Skipped != 1 {
			t.Errorf("unexpected result %+v", res)
		}
		broken, _ := f.store.GetTrackByExternalID(ctx, "broken")
		if broken.Encoded {
			t.Error("failed track must stay unencoded")
		}
		if f.store.linkedCount(1) != 2 {
			t.Error("failed track must still be linked")
		}
	})

	t.Run("Embedding Failure Skips", func(t *testing.T) {
		f := newIngestFixture(saved("a"), previewsFor("a"))
		f.embedder.err = errors.New("model crashed")

		res, err := f.engine.Ingest(ctx, 1, "", "job")
		if err != nil {
			t.Fatalf("Ingest() error = %v", err)
		}
		if res.Processed != 0 || res.Skipped != 1 {
			t.Errorf("unexpected result %+v", res)
		}
	})

	t.Run("Preview Batch Failure Means No Previews", func(t *testing.T) {
		f := newIngestFixture(saved("a", "b"), previewsFor("a", "b"))
		f.resolver.err = shared.ErrServiceUnavailable

		res, err := f.engine.Ingest(ctx, 1, "", "job")
		if err != nil {
			t.Fatalf("Ingest() error = %v", err)
		}
		if res.Processed != 0 || res.Total != 2 {
			t.Errorf("unexpected result %+v", res)
		}
		if len(f.loader.calls) != 0 {
			t.Errorf("expected no audio work, got %v", f.loader.calls)
		}
		if f.store.linkedCount(1) != 2 {
			t.Error("tracks without previews must still be linked")
		}
	})

	t.Run("Concurrent Encode Is Not Repeated", func(t *testing.T) {
		f := newIngestFixture(saved("raced"), previewsFor("raced"))
		f.store.encodeOnEnsure["raced"] = true

		res, err := f.engine.Ingest(ctx, 1, "", "job")
		if err != nil {
			t.Fatalf("Ingest() error = %v", err)
		}
		if res.Processed != 1 {
			t.Errorf("expected raced track to count as processed, got %+v", res)
		}
		if f.embedder.calls != 0 || len(f.loader.calls) != 0 {
			t.Errorf("raced track was re-embedded")
		}
	})

	t.Run("Publish Errors Are Not Fatal", func(t *testing.T) {
		f := newIngestFixture(saved("a"), previewsFor("a"))
		f.ch.Err = errors.New("channel down")

		res, err := f.engine.Ingest(ctx, 1, "", "job")
		if err != nil {
			t.Fatalf("Ingest() error = %v", err)
		}
		if res.Processed != 1 {
			t.Errorf("unexpected result %+v", res)
		}
	})

	t.Run("Run Level Failures", func(t *testing.T) {
		tests := []struct {
			name    string
			userID  int64
			setup   func(f *ingestFixture)
			wantErr error
		}{
			{"Unknown User", 99, func(*ingestFixture) {}, shared.ErrUserNotFound},
			{"Connect Fails", 1, func(f *ingestFixture) { f.conn.err = shared.ErrAuthFailed }, shared.ErrAuthFailed},
			{"Pagination Fails", 1, func(f *ingestFixture) { f.library.pageErr = shared.ErrAPIRequest }, shared.ErrAPIRequest},
			{"Store Fails", 1, func(f *ingestFixture) { f.store.failEnsure = errors.New("disk full") }, nil},
		}

		for _, tt := range tests {
			t.Run(tt.name, func(t *testing.T) {
				f := newIngestFixture(saved("a"), previewsFor("a"))
				tt.setup(f)

				_, err := f.engine.Ingest(ctx, tt.userID, "", "job")
				if err == nil {
					t.Fatal("expected error, got nil")
				}
				if tt.wantErr != nil && !errors.Is(err, tt.wantErr) {
					t.Errorf("expected %v, got %v", tt.wantErr, err)
				}

				latest, _ := f.ch.Latest(ctx, "job")
				failed, ok := latest.(progress.Failed)
				if !ok {
					t.Fatalf("expected failed payload, got %T", latest)
				}
				if failed.Text == "" {
					t.Error("failed payload must carry a message")
				}
			})
		}
	})

	t.Run("Rotated Credential Is Stored", func(t *testing.T) {
		f := newIngestFixture(saved("a"), nil)
		f.conn.rotate = "rotated-1"

		if _, err := f.engine.Ingest(ctx, 1, "", "job"); err != nil {
			t.Fatalf("Ingest() error = %v", err)
		}
		user, _ := f.store.GetUser(ctx, 1)
		if user.Credential != "rotated-1" {
			t.Errorf("stored credential = %q, want rotated-1", user.Credential)
		}
		other, _ := f.store.GetUser(ctx, 2)
		if other.Credential != "cred-2" {
			t.Errorf("other user's credential changed to %q", other.Credential)
		}
	})

	t.Run("Explicit Credential Wins", func(t *testing.T) {
		f := newIngestFixture(nil, nil)
		if _, err := f.engine.Ingest(ctx, 1, "fresh-token", "job"); err != nil {
			t.Fatalf("Ingest() error = %v", err)
		}
		if f.conn.credentials[0] != "fresh-token" {
			t.Errorf("got credential %q", f.conn.credentials[0])
		}
	})
}

func TestTrackRun(t *testing.T) {
	s := models.SavedTrack{ExternalID: "x", Name: "N", Artist: "A"}

	t.Run("Resolved Path", func(t *testing.T) {
		r := newTrackRun(s)
		if err := r.resolve(map[string]string{s.Key(): "u"}); err != nil {
			t.Fatal(err)
		}
		if r.state != stateLocatorResolved {
			t.Fatalf("state = %s", r.state)
		}
		if err := r.link(&models.Track{ID: 1}); err != nil {
			t.Fatal(err)
		}
		if !r.needsAudio() || r.done() {
			t.Error("linked track with a locator needs audio")
		}
		if err := r.encoded(); err != nil {
			t.Fatal(err)
		}
		if !r.done() {
			t.Error("encoded track must be terminal")
		}
	})

	t.Run("Missing Locator Ends At Linked", func(t *testing.T) {
		r := newTrackRun(s)
		_ = r.resolve(nil)
		_ = r.link(&models.Track{ID: 1})
		if !r.done() {
			t.Error("linked track without locator must be terminal")
		}
		if err := r.encoded(); err == nil {
			t.Error("expected error encoding without locator")
		}
	})

	t.Run("Invalid Transitions", func(t *testing.T) {
		r := newTrackRun(s)
		if err := r.link(&models.Track{}); err == nil || !strings.Contains(err.Error(), "invalid transition") {
			t.Errorf("expected invalid transition, got %v", err)
		}
		_ = r.resolve(map[string]string{s.Key(): "u"})
		if err := r.skip(errors.New("x")); err == nil {
			t.Error("expected error skipping before link")
		}
	})
}

func newSimilarityFixture() (*memStore, *SimilarityEngine) {
	store := newMemStore()
	store.addUser(1, "cred")
	return store, NewSimilarityEngine(store, testLogger())
}

func vec(xs ...float32) []float32 {
	v := make([]float32, models.EmbeddingDim)
	copy(v, xs)
	return v
}

func TestSimilarity(t *testing.T) {
	ctx := context.Background()

	t.Run("Ordered By Distance Then ID", func(t *testing.T) {
		store, engine := newSimilarityFixture()
		seed := store.addTrack("seed", vec(1, 0))
		far := store.addTrack("far", vec(0, 1))
		tieA := store.addTrack("tieA", vec(1, 1))
		tieB := store.addTrack("tieB", vec(1, 1))
		near := store.addTrack("near", vec(1, 0.1))
		store.addTrack("unencoded", nil)

		got, err := engine.FindSimilar(ctx, seed.ID, 10)
		if err != nil {
			t.Fatalf("FindSimilar() error = %v", err)
		}
		var ids []int64
		for _, n := range got {
			ids = append(ids, n.TrackID)
		}
		want := []int64{near.ID, tieA.ID, tieB.ID, far.ID}
		if !slices.Equal(ids, want) {
			t.Errorf("order = %v, want %v", ids, want)
		}
		for i := 1; i < len(got); i++ {
			if got[i].Distance < got[i-1].Distance {
				t.Errorf("distances not ascending at %d", i)
			}
		}
	})

	t.Run("Limit", func(t *testing.T) {
		store, engine := newSimilarityFixture()
		seed := store.addTrack("seed", tu.UnitVector(0))
		for i := range 5 {
			store.addTrack(fmt.Sprintf("t%d", i), tu.UnitVector(i+1))
		}
		got, _ := engine.FindSimilar(ctx, seed.ID, 2)
		if len(got) != 2 {
			t.Errorf("expected 2 neighbours, got %d", len(got))
		}
	})

	t.Run("Seed Without Embedding", func(t *testing.T) {
		store, engine := newSimilarityFixture()
		seed := store.addTrack("seed", nil)
		store.addTrack("other", tu.UnitVector(1))

		_, err := engine.FindSimilar(ctx, seed.ID, 10)
		if !errors.Is(err, shared.ErrNoEmbedding) {
			t.Errorf("expected ErrNoEmbedding, got %v", err)
		}
		if store.nearestCalls != 0 {
			t.Errorf("expected no neighbour query, got %d", store.nearestCalls)
		}
	})

	t.Run("Missing Seed", func(t *testing.T) {
		_, engine := newSimilarityFixture()
		if _, err := engine.FindSimilar(ctx, 404, 10); !errors.Is(err, shared.ErrTrackNotFound) {
			t.Errorf("expected ErrTrackNotFound, got %v", err)
		}
	})

	t.Run("In Library", func(t *testing.T) {
		store, engine := newSimilarityFixture()
		seed := store.addTrack("seed", tu.UnitVector(0))
		mine := []*models.Track{
			store.addTrack("m1", vec(1, 0.1)),
			store.addTrack("m2", vec(1, 0.2)),
			store.addTrack("m3", vec(1, 0.3)),
			store.addTrack("m4", vec(1, 0.4)),
		}
		store.addTrack("theirs", vec(1, 0.01))
		store.link(1, seed.ID)
		for _, m := range mine {
			store.link(1, m.ID)
		}

		got, err := engine.FindSimilarInLibrary(ctx, 1, seed.ID, 0)
		if err != nil {
			t.Fatalf("FindSimilarInLibrary() error = %v", err)
		}
		if len(got) != DefaultSimilarLimit {
			t.Fatalf("expected %d neighbours, got %d", DefaultSimilarLimit, len(got))
		}
		for i, n := range got {
			if n.TrackID != mine[i].ID {
				t.Errorf("neighbour %d = %d, want %d", i, n.TrackID, mine[i].ID)
			}
		}
	})

	t.Run("In Library Requires Link", func(t *testing.T) {
		store, engine := newSimilarityFixture()
		seed := store.addTrack("seed", tu.UnitVector(0))
		if _, err := engine.FindSimilarInLibrary(ctx, 1, seed.ID, 3); !errors.Is(err, shared.ErrNotInLibrary) {
			t.Errorf("expected ErrNotInLibrary, got %v", err)
		}
	})

	t.Run("Encoded Tracks", func(t *testing.T) {
		store, engine := newSimilarityFixture()
		a := store.addTrack("a", tu.UnitVector(0))
		b := store.addTrack("b", nil)
		store.link(1, a.ID)
		store.link(1, b.ID)

		got, err := engine.EncodedTracks(ctx, 1)
		if err != nil {
			t.Fatal(err)
		}
		if len(got) != 1 || got[0].ID != a.ID {
			t.Errorf("unexpected tracks %+v", got)
		}
	})
}

func TestGeneratePlaylist(t *testing.T) {
	ctx := context.Background()

	setup := func(others int) (*memStore, *fakeLibrary, *fakeConnector, *tu.RecordingChannel, *PlaylistEngine, *models.Track) {
		store := newMemStore()
		store.addUser(1, "cred-1")
		seed := store.addTrack("seed", vec(1))
		for i := range others {
			store.addTrack(fmt.Sprintf("n%02d", i), vec(1, float32(i+1)/10))
		}
		lib := &fakeLibrary{}
		conn := &fakeConnector{library: lib}
		ch := tu.NewRecordingChannel()
		return store, lib, conn, ch, NewPlaylistEngine(store, conn, ch, testLogger()), seed
	}

	t.Run("Ten Nearest", func(t *testing.T) {
		_, lib, conn, ch, engine, seed := setup(12)

		res, err := engine.GeneratePlaylist(ctx, 1, seed.ID, "", "job")
		if err != nil {
			t.Fatalf("GeneratePlaylist() error = %v", err)
		}
		if len(res.URIs) != 10 || len(lib.added) != 10 {
			t.Fatalf("expected 10 uris, got %d (added %d)", len(res.URIs), len(lib.added))
		}
		for i, uri := range lib.added {
			want := fmt.Sprintf("spotify:track:n%02d", i)
			if uri != want {
				t.Errorf("uri %d = %s, want %s", i, uri, want)
			}
			if uri == seed.URI() {
				t.Error("seed must not be in its own playlist")
			}
		}
		if lib.public {
			t.Error("playlist must be private")
		}
		if lib.created[0] != "Soundalike: "+seed.Name {
			t.Errorf("playlist name = %q", lib.created[0])
		}
		if conn.credentials[0] != "cred-1" {
			t.Errorf("expected stored credential, got %q", conn.credentials[0])
		}

		want := []progress.Status{
			progress.StatusFindingSimilar,
			progress.StatusSpotifyAuth,
			progress.StatusCreatingPlaylist,
			progress.StatusAddingTracks,
			progress.StatusFinished,
		}
		if got := ch.Statuses("job"); !slices.Equal(got, want) {
			t.Errorf("statuses = %v, want %v", got, want)
		}
		fin := ch.Payloads["job"][4].(progress.Finished)
		if fin.Count != 10 || fin.PlaylistID != "pl-1" || len(fin.URIs) != 10 {
			t.Errorf("unexpected finished payload %+v", fin)
		}
		adding := ch.Payloads["job"][3].(progress.AddingTracks)
		if adding.Count != 10 {
			t.Errorf("adding_tracks count = %d", adding.Count)
		}
	})

	t.Run("Seed Without Embedding Fails Early", func(t *testing.T) {
		store, _, conn, ch, engine, _ := setup(3)
		bare := store.addTrack("bare", nil)

		_, err := engine.GeneratePlaylist(ctx, 1, bare.ID, "", "job")
		if !errors.Is(err, shared.ErrNoEmbedding) {
			t.Fatalf("expected ErrNoEmbedding, got %v", err)
		}
		if len(conn.credentials) != 0 || store.nearestCalls != 0 {
			t.Error("no remote or neighbour work expected")
		}
		want := []progress.Status{progress.StatusFailed}
		if got := ch.Statuses("job"); !slices.Equal(got, want) {
			t.Errorf("statuses = %v, want %v", got, want)
		}
	})

	t.Run("Remote Failures", func(t *testing.T) {
		tests := []struct {
			name  string
			setup func(lib *fakeLibrary, conn *fakeConnector)
		}{
			{"Auth", func(_ *fakeLibrary, c *fakeConnector) { c.err = shared.ErrAuthFailed }},
			{"Create", func(l *fakeLibrary, _ *fakeConnector) { l.createErr = shared.ErrAPIRequest }},
			{"Add", func(l *fakeLibrary, _ *fakeConnector) { l.addErr = shared.ErrAPIRequest }},
		}
		for _, tt := range tests {
			t.Run(tt.name, func(t *testing.T) {
				_, lib, conn, ch, engine, seed := setup(3)
				tt.setup(lib, conn)

				if _, err := engine.GeneratePlaylist(ctx, 1, seed.ID, "", "job"); err == nil {
					t.Fatal("expected error")
				}
				latest, _ := ch.Latest(ctx, "job")
				if latest.Status() != progress.StatusFailed {
					t.Errorf("expected failed, got %s", latest.Status())
				}
			})
		}
	})

	t.Run("Credentials", func(t *testing.T) {
		tests := []struct {
			name     string
			explicit string
			want     string
		}{
			{"Stored Credential By Default", "", "cred-1"},
			{"Explicit Credential Wins", "fresh-token", "fresh-token"},
		}
		for _, tt := range tests {
			t.Run(tt.name, func(t *testing.T) {
				_, _, conn, _, engine, seed := setup(3)

				if _, err := engine.GeneratePlaylist(ctx, 1, seed.ID, tt.explicit, "job"); err != nil {
					t.Fatalf("GeneratePlaylist() error = %v", err)
				}
				if len(conn.credentials) != 1 || conn.credentials[0] != tt.want {
					t.Errorf("connected with %v, want %q", conn.credentials, tt.want)
				}
			})
		}
	})

	t.Run("Rotated Credential Is Stored", func(t *testing.T) {
		store, _, conn, _, engine, seed := setup(3)
		conn.rotate = "rotated-1"

		if _, err := engine.GeneratePlaylist(ctx, 1, seed.ID, "", "job"); err != nil {
			t.Fatalf("GeneratePlaylist() error = %v", err)
		}
		user, _ := store.GetUser(ctx, 1)
		if user.Credential != "rotated-1" {
			t.Errorf("stored credential = %q, want rotated-1", user.Credential)
		}
	})
}
