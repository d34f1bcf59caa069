package ui

import (
	"time"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/desertthunder/soundalike/internal/jobs"
	"github.com/desertthunder/soundalike/internal/models"
	"github.com/desertthunder/soundalike/internal/services"
)

type tracksFetchedMsg struct {
	tracks []services.TrackSummary
	err    error
}

type similarFetchedMsg struct {
	seed      services.TrackSummary
	neighbors []models.Neighbor
	err       error
}

type jobStartedMsg struct {
	jobID string
	err   error
}

// jobStatusMsg carries one poll result for the watched job.
type jobStatusMsg struct {
	status *jobs.Status
	err    error
}

type pollMsg struct{}

func pollAfter(d time.Duration) tea.Cmd {
	return tea.Tick(d, func(time.Time) tea.Msg { return pollMsg{} })
}
