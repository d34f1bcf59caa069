package ui

import (
	"fmt"

	"github.com/charmbracelet/bubbles/list"

	"github.com/desertthunder/soundalike/internal/models"
	"github.com/desertthunder/soundalike/internal/services"
)

var (
	_ list.Item = trackItem{}
	_ list.Item = neighborItem{}
)

// trackItem wraps [services.TrackSummary] to implement [list.Item].
type trackItem struct {
	track services.TrackSummary
}

func (i trackItem) FilterValue() string { return i.track.Name + " " + i.track.Artist }
func (i trackItem) Title() string       { return i.track.Name }
func (i trackItem) Description() string { return i.track.Artist }

// neighborItem wraps [models.Neighbor] to implement [list.Item].
type neighborItem struct {
	rank     int
	neighbor models.Neighbor
}

func (i neighborItem) FilterValue() string { return i.neighbor.Name }
func (i neighborItem) Title() string {
	return fmt.Sprintf("%d. %s", i.rank, i.neighbor.Name)
}
func (i neighborItem) Description() string {
	return fmt.Sprintf("%s • %s", i.neighbor.Artist, styles.score.Render(fmt.Sprintf("%.1f%% similar", i.neighbor.Similarity()*100)))
}
