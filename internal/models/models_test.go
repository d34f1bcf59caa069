package models

import (
	"encoding/json"
	"strings"
	"testing"

	gojson "github.com/goccy/go-json"
)

func TestTrackKey(t *testing.T) {
	tests := []struct {
		name   string
		title  string
		artist string
		want   string
	}{
		{"basic", "Song", "Artist", "Song - Artist"},
		{"multiple artists", "Song", JoinArtists([]string{"A", "B"}), "Song - A, B"},
		{"missing artist", "Song", "", "Song -"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := TrackKey(tt.title, tt.artist); got != tt.want {
				t.Errorf("TrackKey() = %q, want %q", got, tt.want)
			}
		})
	}

	s := SavedTrack{ExternalID: "x", Name: "Song", Artist: "Artist"}
	if s.Key() != "Song - Artist" {
		t.Errorf("SavedTrack.Key() = %q", s.Key())
	}
}

func TestTrackValidate(t *testing.T) {
	tests := []struct {
		name    string
		track   Track
		wantErr bool
	}{
		{"unencoded", Track{ExternalID: "a"}, false},
		{"encoded", Track{ExternalID: "a", Encoded: true, Embedding: make([]float32, EmbeddingDim)}, false},
		{"missing id", Track{}, true},
		{"encoded wrong dims", Track{ExternalID: "a", Encoded: true, Embedding: make([]float32, 3)}, true},
		{"embedding without flag", Track{ExternalID: "a", Embedding: make([]float32, EmbeddingDim)}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.track.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestNeighborJSON(t *testing.T) {
	n := Neighbor{TrackID: 4, ExternalID: "abc", Name: "Song", Artist: "Artist", Distance: 0.25}

	data, err := json.Marshal(n)
	if err != nil {
		t.Fatalf("marshal failed: %v", err)
	}

	var got map[string]any
	if err := json.Unmarshal(data, &got); err != nil {
		t.Fatalf("unmarshal failed: %v", err)
	}

	if got["similarity"] != 0.75 {
		t.Errorf("expected similarity 0.75, got %v", got["similarity"])
	}
	if got["externalId"] != "abc" || got["id"] != float64(4) {
		t.Errorf("unexpected payload %s", data)
	}
	listed, err := gojson.Marshal([]Neighbor{n})
	if err != nil {
		t.Fatalf("marshal list failed: %v", err)
	}
	if !strings.Contains(string(listed), `"similarity":0.75`) {
		t.Errorf("expected similarity in list payload, got %s", listed)
	}
	if !strings.HasPrefix(n.URI(), "spotify:track:") {
		t.Errorf("unexpected uri %s", n.URI())
	}

	if (Neighbor{Distance: 1.5}).Similarity() != -0.5 {
		t.Error("similarity must not be clamped")
	}
}

func TestJobState(t *testing.T) {
	for _, s := range []JobState{JobFinished, JobFailed} {
		if !s.Terminal() {
			t.Errorf("%s should be terminal", s)
		}
	}
	for _, s := range []JobState{JobPending, JobStarted} {
		if s.Terminal() {
			t.Errorf("%s should not be terminal", s)
		}
	}
}
