package tasks

import (
	"fmt"

	"github.com/desertthunder/soundalike/internal/models"
)

// trackState is where one track is in its ingestion pipeline.
//
//	Discovered -> LocatorResolved -> Linked -> Encoded | Skipped
//	Discovered -> LocatorMissing  -> Linked
type trackState int

const (
	stateDiscovered trackState = iota
	stateLocatorResolved
	stateLocatorMissing
	stateLinked
	stateEncoded
	stateSkipped
)

func (s trackState) String() string {
	switch s {
	case stateDiscovered:
		return "discovered"
	case stateLocatorResolved:
		return "locator_resolved"
	case stateLocatorMissing:
		return "locator_missing"
	case stateLinked:
		return "linked"
	case stateEncoded:
		return "encoded"
	case stateSkipped:
		return "skipped"
	default:
		return "unknown"
	}
}

var trackTransitions = map[trackState][]trackState{
	stateDiscovered:      {stateLocatorResolved, stateLocatorMissing},
	stateLocatorResolved: {stateLinked},
	stateLocatorMissing:  {stateLinked},
	stateLinked:          {stateEncoded, stateSkipped},
}

// trackRun carries one track through the pipeline.
type trackRun struct {
	saved   models.SavedTrack
	preview string
	track   *models.Track
	state   trackState
	hasURL  bool
	skipErr error
}

func newTrackRun(s models.SavedTrack) *trackRun {
	return &trackRun{saved: s, state: stateDiscovered}
}

// resolve records the preview locator lookup.
func (r *trackRun) resolve(previews map[string]string) error {
	r.preview = previews[r.saved.Key()]
	r.hasURL = r.preview != ""
	if r.hasURL {
		return r.advance(stateLocatorResolved)
	}
	return r.advance(stateLocatorMissing)
}

// link records that the track row exists and belongs to the user.
func (r *trackRun) link(t *models.Track) error {
	r.track = t
	return r.advance(stateLinked)
}

func (r *trackRun) encoded() error { return r.advance(stateEncoded) }

func (r *trackRun) skip(err error) error {
	r.skipErr = err
	return r.advance(stateSkipped)
}

// needsAudio reports whether the linked track still has to be embedded.
func (r *trackRun) needsAudio() bool {
	return r.state == stateLinked && r.hasURL && !r.track.Encoded
}

// done reports whether the track has reached a terminal state.
func (r *trackRun) done() bool {
	switch r.state {
	case stateEncoded, stateSkipped:
		return true
	case stateLinked:
		return !r.hasURL
	default:
		return false
	}
}

func (r *trackRun) advance(to trackState) error {
	if to == stateEncoded || to == stateSkipped {
		if !r.hasURL {
			return fmt.Errorf("track %s: %s -> %s without a locator", r.saved.ExternalID, r.state, to)
		}
	}
	for _, next := range trackTransitions[r.state] {
		if next == to {
			r.state = to
			return nil
		}
	}
	return fmt.Errorf("track %s: invalid transition %s -> %s", r.saved.ExternalID, r.state, to)
}
