// Package progress publishes job progress records.
//
// Every job has one latest [Payload], overwritten on each update and expiring
// after a TTL, plus a stream of updates for live subscribers. Payloads are a
// closed set of variants discriminated by their "status" field on the wire.
package progress

import (
	"bytes"
	"fmt"

	"github.com/goccy/go-json"

	"github.com/desertthunder/soundalike/internal/shared"
)

// Status is the wire discriminator of a [Payload].
type Status string

const (
	StatusProcessing       Status = "processing"
	StatusEncoded          Status = "encoded"
	StatusFinished         Status = "finished"
	StatusFailed           Status = "failed"
	StatusFindingSimilar   Status = "finding_similar"
	StatusSpotifyAuth      Status = "spotify_auth"
	StatusCreatingPlaylist Status = "creating_playlist"
	StatusAddingTracks     Status = "adding_tracks"
)

// Payload is one progress record. The set of implementations is closed.
type Payload interface {
	Status() Status
	// Message is a human readable rendering for logs and terminals.
	Message() string
	payload()
}

// Terminal reports whether p ends a job's progress stream.
func Terminal(p Payload) bool {
	s := p.Status()
	return s == StatusFinished || s == StatusFailed
}

// TrackRef identifies a track in a progress record. ID is zero until the
// track has a catalog row.
type TrackRef struct {
	ID         int64  `json:"id,omitempty"`
	ExternalID string `json:"externalId"`
	Name       string `json:"name"`
	Artist     string `json:"artist"`
}

// Processing is published when a track starts its pipeline.
type Processing struct {
	Index             int      `json:"index"`
	Total             int      `json:"total"`
	Track             TrackRef `json:"track"`
	PreviewURLPresent bool     `json:"preview_url_present"`
}

// Encoded is published after a track's embedding has been committed.
type Encoded struct {
	Index int      `json:"index"`
	Total int      `json:"total"`
	Track TrackRef `json:"track"`
}

// Finished ends a successful job. Ingestion fills Processed and Total;
// playlist generation fills Count, PlaylistID and URIs.
type Finished struct {
	Processed  int      `json:"processed"`
	Total      int      `json:"total"`
	Text       string   `json:"message,omitempty"`
	Count      int      `json:"count,omitempty"`
	PlaylistID string   `json:"playlist_id,omitempty"`
	URIs       []string `json:"uris,omitempty"`
}

// Failed ends a job that raised a run-level error.
type Failed struct {
	Text string `json:"message"`
}

// FindingSimilar is published while the neighbour query runs.
type FindingSimilar struct {
	SeedTrackID int64 `json:"seed_track_id,omitempty"`
}

// SpotifyAuth is published while authorizing against the remote catalog.
type SpotifyAuth struct{}

// CreatingPlaylist is published before the remote playlist is created.
type CreatingPlaylist struct {
	Name string `json:"name,omitempty"`
}

// AddingTracks is published before tracks are added to the playlist.
type AddingTracks struct {
	Count int `json:"count"`
}

func (Processing) Status() Status       { return StatusProcessing }
func (Encoded) Status() Status          { return StatusEncoded }
func (Finished) Status() Status         { return StatusFinished }
func (Failed) Status() Status           { return StatusFailed }
func (FindingSimilar) Status() Status   { return StatusFindingSimilar }
func (SpotifyAuth) Status() Status      { return StatusSpotifyAuth }
func (CreatingPlaylist) Status() Status { return StatusCreatingPlaylist }
func (AddingTracks) Status() Status     { return StatusAddingTracks }

func (Processing) payload()       {}
func (Encoded) payload()          {}
func (Finished) payload()         {}
func (Failed) payload()           {}
func (FindingSimilar) payload()   {}
func (SpotifyAuth) payload()      {}
func (CreatingPlaylist) payload() {}
func (AddingTracks) payload()     {}

func (p Processing) Message() string {
	return fmt.Sprintf("[%d/%d] %s - %s", p.Index, p.Total, p.Track.Artist, p.Track.Name)
}

func (p Encoded) Message() string {
	return fmt.Sprintf("[%d/%d] ✓ %s - %s", p.Index, p.Total, p.Track.Artist, p.Track.Name)
}

func (p Finished) Message() string {
	switch {
	case p.Text != "":
		return p.Text
	case p.PlaylistID != "":
		return fmt.Sprintf("Created playlist %s with %d tracks", p.PlaylistID, p.Count)
	default:
		return fmt.Sprintf("Encoded %d of %d tracks", p.Processed, p.Total)
	}
}

func (p Failed) Message() string { return p.Text }

func (FindingSimilar) Message() string { return "Finding similar tracks..." }

func (SpotifyAuth) Message() string { return "Authorizing with Spotify..." }

func (p CreatingPlaylist) Message() string {
	if p.Name == "" {
		return "Creating playlist..."
	}
	return fmt.Sprintf("Creating playlist %q...", p.Name)
}

func (p AddingTracks) Message() string {
	return fmt.Sprintf("Adding %d tracks...", p.Count)
}

// Marshal encodes p with its status tag, e.g. {"status":"encoded","index":1,...}.
func Marshal(p Payload) ([]byte, error) {
	if p == nil {
		return nil, fmt.Errorf("%w: nil payload", shared.ErrInvalidInput)
	}

	body, err := json.Marshal(p)
	if err != nil {
		return nil, fmt.Errorf("failed to encode %s payload: %w", p.Status(), err)
	}

	tag, err := json.Marshal(p.Status())
	if err != nil {
		return nil, err
	}

	var buf bytes.Buffer
	buf.Grow(len(body) + len(tag) + 12)
	buf.WriteString(`{"status":`)
	buf.Write(tag)
	if inner := bytes.TrimSpace(body[1 : len(body)-1]); len(inner) > 0 {
		buf.WriteByte(',')
		buf.Write(inner)
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

// Unmarshal decodes a tagged payload produced by [Marshal].
func Unmarshal(data []byte) (Payload, error) {
	var head struct {
		Status Status `json:"status"`
	}
	if err := json.Unmarshal(data, &head); err != nil {
		return nil, fmt.Errorf("%w: progress payload: %v", shared.ErrInvalidInput, err)
	}

	var p Payload
	var err error
	switch head.Status {
	case StatusProcessing:
		p, err = decode[Processing](data)
	case StatusEncoded:
		p, err = decode[Encoded](data)
	case StatusFinished:
		p, err = decode[Finished](data)
	case StatusFailed:
		p, err = decode[Failed](data)
	case StatusFindingSimilar:
		p, err = decode[FindingSimilar](data)
	case StatusSpotifyAuth:
		p, err = decode[SpotifyAuth](data)
	case StatusCreatingPlaylist:
		p, err = decode[CreatingPlaylist](data)
	case StatusAddingTracks:
		p, err = decode[AddingTracks](data)
	default:
		return nil, fmt.Errorf("%w: unknown progress status %q", shared.ErrInvalidInput, head.Status)
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %s payload: %v", shared.ErrInvalidInput, head.Status, err)
	}
	return p, nil
}

func decode[T Payload](data []byte) (Payload, error) {
	var v T
	if err := json.Unmarshal(data, &v); err != nil {
		return nil, err
	}
	return v, nil
}

// Envelope carries a payload across JSON APIs, keeping the tagged wire shape.
type Envelope struct {
	Payload Payload
}

// MarshalJSON implements [json.Marshaler].
func (e Envelope) MarshalJSON() ([]byte, error) {
	if e.Payload == nil {
		return []byte("null"), nil
	}
	return Marshal(e.Payload)
}

// UnmarshalJSON implements [json.Unmarshaler].
func (e *Envelope) UnmarshalJSON(data []byte) error {
	if string(bytes.TrimSpace(data)) == "null" {
		e.Payload = nil
		return nil
	}
	p, err := Unmarshal(data)
	if err != nil {
		return err
	}
	e.Payload = p
	return nil
}
