package models

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	gojson "github.com/goccy/go-json"
)

// EmbeddingDim is the length of every stored track embedding.
const EmbeddingDim = 1024

// SavedTrack is one track from a user's remote library.
type SavedTrack struct {
	ExternalID string
	Name       string
	Artist     string // ", " join of every credited artist
}

// Key is the "name - artist" lookup string used for preview resolution.
func (s SavedTrack) Key() string {
	return TrackKey(s.Name, s.Artist)
}

// TrackKey builds the "name - artist" lookup string for a track.
func TrackKey(name, artist string) string {
	return strings.TrimSpace(name + " - " + artist)
}

// JoinArtists joins artist names the way the catalog stores them.
func JoinArtists(names []string) string {
	return strings.Join(names, ", ")
}

// Track is a catalog row. Embedding is nil until Encoded is true.
type Track struct {
	ID         int64
	ExternalID string
	Name       string
	Artist     string
	PreviewURL string
	Encoded    bool
	Embedding  []float32
	CreatedAt  time.Time
}

// Validate checks the encoded/embedding invariant.
func (t *Track) Validate() error {
	if t.ExternalID == "" {
		return fmt.Errorf("track external id is required")
	}
	if t.Encoded && len(t.Embedding) != EmbeddingDim {
		return fmt.Errorf("encoded track %s has %d dimensions, want %d", t.ExternalID, len(t.Embedding), EmbeddingDim)
	}
	if !t.Encoded && t.Embedding != nil {
		return fmt.Errorf("track %s has an embedding but is not marked encoded", t.ExternalID)
	}
	return nil
}

// URI is the remote catalog URI for the track.
func (t *Track) URI() string {
	return "spotify:track:" + t.ExternalID
}

// User owns a library of tracks. Credential is the long-lived token used to
// read the remote library and write playlists on the user's behalf.
type User struct {
	ID          int64
	ExternalID  string
	DisplayName string
	Email       string
	Credential  string
	CreatedAt   time.Time
	LastLoginAt *time.Time
}

// Validate checks that a user can be persisted.
func (u *User) Validate() error {
	if u.ExternalID == "" {
		return fmt.Errorf("user external id is required")
	}
	return nil
}

// Neighbor is one result of a nearest-neighbour query.
type Neighbor struct {
	TrackID    int64   `json:"id"`
	ExternalID string  `json:"externalId"`
	Name       string  `json:"name"`
	Artist     string  `json:"artist"`
	Distance   float64 `json:"distance"`
}

// Similarity is 1 - distance. Cosine distance ranges over [0, 2] so the
// result can be negative for opposed vectors.
func (n Neighbor) Similarity() float64 {
	return 1 - n.Distance
}

// URI is the remote catalog URI for the neighbour.
func (n Neighbor) URI() string {
	return "spotify:track:" + n.ExternalID
}

// MarshalJSON includes the derived similarity score.
func (n Neighbor) MarshalJSON() ([]byte, error) {
	type alias Neighbor
	return gojson.Marshal(struct {
		alias
		Similarity float64 `json:"similarity"`
	}{alias(n), n.Similarity()})
}

// JobKind names a job the runner knows how to execute.
type JobKind string

const (
	JobIngest   JobKind = "ingest"
	JobPlaylist JobKind = "playlist"
)

// JobState is the runner's own view of a job.
type JobState string

const (
	JobPending  JobState = "pending"
	JobStarted  JobState = "started"
	JobFinished JobState = "finished"
	JobFailed   JobState = "failed"
)

// Terminal reports whether the state can no longer change.
func (s JobState) Terminal() bool {
	return s == JobFinished || s == JobFailed
}

// Job is an enqueued unit of work.
type Job struct {
	ID         string
	Kind       JobKind
	State      JobState
	Args       json.RawMessage
	Result     json.RawMessage
	Error      string
	CreatedAt  time.Time
	StartedAt  *time.Time
	FinishedAt *time.Time
}

// IngestArgs are the arguments of an ingest job.
type IngestArgs struct {
	UserID int64 `json:"user_id"`
}

// PlaylistArgs are the arguments of a playlist job.
type PlaylistArgs struct {
	UserID      int64 `json:"user_id"`
	SeedTrackID int64 `json:"seed_track_id"`
}
