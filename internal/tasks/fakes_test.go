package tasks

import (
	"cmp"
	"context"
	"fmt"
	"slices"
	"sync"

	"github.com/desertthunder/soundalike/internal/models"
	"github.com/desertthunder/soundalike/internal/services"
	"github.com/desertthunder/soundalike/internal/shared"
	tu "github.com/desertthunder/soundalike/internal/testing"
)

// memStore is an in-memory catalog.
type memStore struct {
	mu     sync.Mutex
	users  map[int64]*models.User
	tracks map[int64]*models.Track
	byExt  map[string]int64
	links  map[int64]map[int64]bool
	nextID int64

	// encodeOnEnsure marks rows encoded as they are created, as if a
	// concurrent run had won the race.
	encodeOnEnsure map[string]bool
	nearestCalls   int
	failEnsure     error
}

func newMemStore() *memStore {
	return &memStore{
		users:          make(map[int64]*models.User),
		tracks:         make(map[int64]*models.Track),
		byExt:          make(map[string]int64),
		links:          make(map[int64]map[int64]bool),
		encodeOnEnsure: make(map[string]bool),
	}
}

func (m *memStore) addUser(id int64, credential string) {
	m.users[id] = &models.User{ID: id, ExternalID: fmt.Sprintf("user-%d", id), Credential: credential}
}

// addTrack inserts a track, encoded when vec is non-nil.
func (m *memStore) addTrack(externalID string, vec []float32) *models.Track {
	m.nextID++
	t := &models.Track{ID: m.nextID, ExternalID: externalID, Name: "Song " + externalID, Artist: "Artist"}
	if vec != nil {
		t.Encoded = true
		t.Embedding = vec
	}
	m.tracks[t.ID] = t
	m.byExt[externalID] = t.ID
	return t
}

func (m *memStore) link(userID, trackID int64) bool {
	if m.links[userID] == nil {
		m.links[userID] = make(map[int64]bool)
	}
	if m.links[userID][trackID] {
		return false
	}
	m.links[userID][trackID] = true
	return true
}

func (m *memStore) GetUser(ctx context.Context, id int64) (*models.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.users[id]
	if !ok {
		return nil, fmt.Errorf("%w: %d", shared.ErrUserNotFound, id)
	}
	return u, nil
}

func (m *memStore) UpdateCredential(ctx context.Context, id int64, credential string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.users[id]
	if !ok {
		return fmt.Errorf("%w: %d", shared.ErrUserNotFound, id)
	}
	u.Credential = credential
	return nil
}

func (m *memStore) GetTrack(ctx context.Context, id int64) (*models.Track, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.tracks[id]
	if !ok {
		return nil, fmt.Errorf("%w: %d", shared.ErrTrackNotFound, id)
	}
	cp := *t
	return &cp, nil
}

func (m *memStore) GetTrackByExternalID(ctx context.Context, externalID string) (*models.Track, error) {
	m.mu.Lock()
	id, ok := m.byExt[externalID]
	m.mu.Unlock()
	if !ok {
		return nil, fmt.Errorf("%w: %s", shared.ErrTrackNotFound, externalID)
	}
	return m.GetTrack(ctx, id)
}

func (m *memStore) EnsureTrack(ctx context.Context, s models.SavedTrack, previewURL string) (*models.Track, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failEnsure != nil {
		return nil, m.failEnsure
	}
	if id, ok := m.byExt[s.ExternalID]; ok {
		cp := *m.tracks[id]
		return &cp, nil
	}
	m.nextID++
	t := &models.Track{ID: m.nextID, ExternalID: s.ExternalID, Name: s.Name, Artist: s.Artist, PreviewURL: previewURL}
	if m.encodeOnEnsure[s.ExternalID] {
		t.Encoded = true
		t.Embedding = tu.UnitVector(int(t.ID))
	}
	m.tracks[t.ID] = t
	m.byExt[s.ExternalID] = t.ID
	cp := *t
	return &cp, nil
}

func (m *memStore) SetEmbedding(ctx context.Context, trackID int64, vec []float32) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.tracks[trackID]
	if !ok {
		return false, shared.ErrTrackNotFound
	}
	if t.Encoded {
		return false, nil
	}
	t.Encoded = true
	t.Embedding = vec
	return true, nil
}

func (m *memStore) LinkTrack(ctx context.Context, userID, trackID int64) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.link(userID, trackID), nil
}

func (m *memStore) IsLinked(ctx context.Context, userID, trackID int64) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.links[userID][trackID], nil
}

func (m *memStore) EncodedAmong(ctx context.Context, externalIDs []string) (map[string]struct{}, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make(map[string]struct{})
	for _, ext := range externalIDs {
		if id, ok := m.byExt[ext]; ok && m.tracks[id].Encoded {
			out[ext] = struct{}{}
		}
	}
	return out, nil
}

func (m *memStore) EncodedAmongForUser(ctx context.Context, userID int64, externalIDs []string) (map[string]struct{}, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make(map[string]struct{})
	for _, ext := range externalIDs {
		if id, ok := m.byExt[ext]; ok && m.tracks[id].Encoded && m.links[userID][id] {
			out[ext] = struct{}{}
		}
	}
	return out, nil
}

func (m *memStore) nearest(seed []float32, exclude int64, limit int, keep func(int64) bool) ([]models.Neighbor, error) {
	m.nearestCalls++
	var out []models.Neighbor
	for _, t := range m.tracks {
		if t.ID == exclude || !t.Encoded || !keep(t.ID) {
			continue
		}
		d, err := shared.CosineDistance(seed, t.Embedding)
		if err != nil {
			return nil, err
		}
		out = append(out, models.Neighbor{TrackID: t.ID, ExternalID: t.ExternalID, Name: t.Name, Artist: t.Artist, Distance: d})
	}
	slices.SortFunc(out, func(a, b models.Neighbor) int {
		if c := cmp.Compare(a.Distance, b.Distance); c != 0 {
			return c
		}
		return cmp.Compare(a.TrackID, b.TrackID)
	})
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (m *memStore) Nearest(ctx context.Context, seed []float32, excludeID int64, limit int) ([]models.Neighbor, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.nearest(seed, excludeID, limit, func(int64) bool { return true })
}

func (m *memStore) NearestInLibrary(ctx context.Context, userID int64, seed []float32, excludeID int64, limit int) ([]models.Neighbor, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.nearest(seed, excludeID, limit, func(id int64) bool { return m.links[userID][id] })
}

func (m *memStore) EncodedTracks(ctx context.Context, userID int64) ([]*models.Track, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*models.Track
	for id := range m.links[userID] {
		if t := m.tracks[id]; t.Encoded {
			out = append(out, t)
		}
	}
	slices.SortFunc(out, func(a, b *models.Track) int { return cmp.Compare(a.ID, b.ID) })
	return out, nil
}

func (m *memStore) linkedCount(userID int64) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.links[userID])
}

// fakeLibrary serves saved tracks from a slice and records playlist writes.
type fakeLibrary struct {
	saved     []models.SavedTrack
	pageErr   error
	pageCalls int

	created   []string
	public    bool
	added     []string
	addErr    error
	createErr error
}

func (f *fakeLibrary) SavedTracks(ctx context.Context, limit, offset int) ([]models.SavedTrack, error) {
	f.pageCalls++
	if f.pageErr != nil {
		return nil, f.pageErr
	}
	if offset >= len(f.saved) {
		return nil, nil
	}
	end := min(offset+limit, len(f.saved))
	return f.saved[offset:end], nil
}

func (f *fakeLibrary) CurrentUser(ctx context.Context) (*services.Profile, error) {
	return &services.Profile{ID: "remote-user", DisplayName: "Remote"}, nil
}

func (f *fakeLibrary) CreatePlaylist(ctx context.Context, userID, name, description string, public bool) (*services.Playlist, error) {
	if f.createErr != nil {
		return nil, f.createErr
	}
	f.created = append(f.created, name)
	f.public = public
	return &services.Playlist{ID: "pl-1", Name: name, URI: "spotify:playlist:pl-1"}, nil
}

func (f *fakeLibrary) AddTracks(ctx context.Context, playlistID string, uris []string) error {
	if f.addErr != nil {
		return f.addErr
	}
	f.added = append(f.added, uris...)
	return nil
}

type fakeConnector struct {
	library     *fakeLibrary
	err         error
	credentials []string
	// rotate is handed to onRotate on connect, as if the token had been refreshed.
	rotate string
}

func (f *fakeConnector) Connect(ctx context.Context, credential string, onRotate services.CredentialFunc) (services.Library, error) {
	f.credentials = append(f.credentials, credential)
	if f.err != nil {
		return nil, f.err
	}
	if f.rotate != "" && onRotate != nil {
		onRotate(f.rotate)
	}
	return f.library, nil
}

// fakeResolver returns a preview for every track whose key is listed.
type fakeResolver struct {
	previews map[string]string
	err      error
	calls    int
}

func (f *fakeResolver) Resolve(ctx context.Context, tracks []models.SavedTrack) (map[string]string, error) {
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	out := make(map[string]string)
	for _, t := range tracks {
		if u, ok := f.previews[t.Key()]; ok {
			out[t.Key()] = u
		}
	}
	return out, nil
}

// fakeLoader returns one sample per url, or the configured error.
type fakeLoader struct {
	errs  map[string]error
	calls []string
}

func (f *fakeLoader) Load(ctx context.Context, url string) ([]float32, int, error) {
	f.calls = append(f.calls, url)
	if err := f.errs[url]; err != nil {
		return nil, 0, err
	}
	return []float32{float32(len(f.calls))}, 24000, nil
}

// countingEmbedder maps the first sample to a one-hot vector.
type countingEmbedder struct {
	calls int
	err   error
}

func (c *countingEmbedder) Embed(ctx context.Context, samples []float32, rate int) ([]float32, error) {
	c.calls++
	if c.err != nil {
		return nil, c.err
	}
	return tu.UnitVector(int(samples[0])), nil
}

func saved(ids ...string) []models.SavedTrack {
	out := make([]models.SavedTrack, len(ids))
	for i, id := range ids {
		out[i] = models.SavedTrack{ExternalID: id, Name: "Song " + id, Artist: "Artist"}
	}
	return out
}

func previewsFor(ids ...string) map[string]string {
	out := make(map[string]string)
	for _, s := range saved(ids...) {
		out[s.Key()] = "https://p.scdn.co/mp3-preview/" + s.ExternalID
	}
	return out
}
