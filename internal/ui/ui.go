package ui

import (
	"context"
	"fmt"

	"github.com/charmbracelet/bubbles/help"
	"github.com/charmbracelet/bubbles/key"
	"github.com/charmbracelet/bubbles/list"
	tea "github.com/charmbracelet/bubbletea"

	"github.com/desertthunder/soundalike/internal/models"
	"github.com/desertthunder/soundalike/internal/services"
)

// ViewState represents the current view in the TUI.
type ViewState int

const (
	TrackListView ViewState = iota
	SimilarView
	ConfirmView
	JobView
	ResultView
)

// Backend is what the browser talks to. [services.APIClient] implements it.
type Backend interface {
	StatusPoller
	Tracks(ctx context.Context, userID int64) ([]services.TrackSummary, error)
	Similar(ctx context.Context, userID, trackID int64, limit int) ([]models.Neighbor, error)
	GeneratePlaylist(ctx context.Context, userID, seedTrackID int64) (string, error)
}

// Model represents the TUI application state.
type Model struct {
	ctx     context.Context
	view    ViewState
	backend Backend
	userID  int64
	limit   int
	width   int
	height  int

	trackList   list.Model
	similarList list.Model
	seed        services.TrackSummary
	neighbors   []models.Neighbor
	watcher     *Watcher
	err         error
	help        help.Model
	keys        keyMap
}

// NewModel creates a track browser for userID. limit is the neighbour count.
func NewModel(ctx context.Context, backend Backend, userID int64, limit int) *Model {
	return &Model{
		ctx:     ctx,
		view:    TrackListView,
		backend: backend,
		userID:  userID,
		limit:   limit,
		help:    help.New(),
		keys:    newKeyMap(),

		trackList:   list.New(nil, list.NewDefaultDelegate(), 0, 0),
		similarList: list.New(nil, list.NewDefaultDelegate(), 0, 0),
	}
}

// ViewState returns the current view.
func (m *Model) ViewState() ViewState { return m.view }

// Init initializes the TUI by fetching the user's encoded tracks.
func (m *Model) Init() tea.Cmd {
	return m.fetchTracks()
}

// Update handles incoming messages and updates the model state.
func (m *Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		m.resize(&m.trackList)
		m.resize(&m.similarList)
		return m, nil

	case tea.KeyMsg:
		switch m.view {
		case TrackListView:
			return m.handleTrackListKeys(msg)
		case SimilarView:
			return m.handleSimilarKeys(msg)
		case ConfirmView:
			return m.handleConfirmKeys(msg)
		case JobView:
			if key.Matches(msg, m.keys.quit) {
				return m, tea.Quit
			}
			return m, nil
		case ResultView:
			return m.handleResultKeys(msg)
		}

	case tracksFetchedMsg:
		if msg.err != nil {
			m.err = msg.err
			return m, nil
		}
		items := make([]list.Item, len(msg.tracks))
		for i, t := range msg.tracks {
			items[i] = trackItem{track: t}
		}
		m.trackList = list.New(items, list.NewDefaultDelegate(), 0, 0)
		m.trackList.Title = "Encoded Tracks"
		m.resize(&m.trackList)
		return m, nil

	case similarFetchedMsg:
		if msg.err != nil {
			m.err = msg.err
			return m, nil
		}
		m.seed = msg.seed
		m.neighbors = msg.neighbors
		items := make([]list.Item, len(msg.neighbors))
		for i, n := range msg.neighbors {
			items[i] = neighborItem{rank: i + 1, neighbor: n}
		}
		m.similarList = list.New(items, list.NewDefaultDelegate(), 0, 0)
		m.similarList.Title = fmt.Sprintf("Sounds like '%s'", msg.seed.Name)
		m.resize(&m.similarList)
		m.view = SimilarView
		return m, nil

	case jobStartedMsg:
		if msg.err != nil {
			m.err = msg.err
			m.view = ResultView
			return m, nil
		}
		m.watcher = newWatcher(m.ctx, m.backend, msg.jobID, DefaultPollInterval)
		m.view = JobView
		return m, m.watcher.Init()

	case jobStatusMsg, pollMsg:
		return m.updateWatcher(msg)
	}

	if m.view == JobView && m.watcher != nil {
		return m.updateWatcher(msg)
	}
	return m.updateLists(msg)
}

func (m *Model) resize(l *list.Model) {
	if m.width > 4 && m.height > 8 {
		l.SetSize(m.width-4, m.height-8)
	}
}

func (m *Model) updateWatcher(msg tea.Msg) (tea.Model, tea.Cmd) {
	if m.watcher == nil {
		return m, nil
	}
	_, cmd := m.watcher.Update(msg)
	if m.watcher.Done() {
		m.view = ResultView
	}
	return m, cmd
}

// View renders the UI based on the current view state.
func (m *Model) View() string {
	if m.err != nil && m.view != ResultView {
		return styles.err.Render(fmt.Sprintf("Error: %v\n\nPress esc to go back, q to quit", m.err))
	}

	switch m.view {
	case TrackListView:
		return m.renderTrackList()
	case SimilarView:
		return m.renderSimilar()
	case ConfirmView:
		return m.renderConfirm()
	case JobView:
		return m.watcher.View()
	case ResultView:
		return m.renderResult()
	default:
		return ""
	}
}

func (m *Model) handleTrackListKeys(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch {
	case key.Matches(msg, m.keys.quit) && !m.trackList.SettingFilter():
		return m, tea.Quit
	case key.Matches(msg, m.keys.back) && m.err != nil:
		m.err = nil
		return m, nil
	case key.Matches(msg, m.keys.enter) && !m.trackList.SettingFilter():
		if t, ok := m.trackList.SelectedItem().(trackItem); ok {
			return m, m.fetchSimilar(t.track)
		}
	}

	var cmd tea.Cmd
	m.trackList, cmd = m.trackList.Update(msg)
	return m, cmd
}

func (m *Model) handleSimilarKeys(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch {
	case key.Matches(msg, m.keys.quit):
		return m, tea.Quit
	case key.Matches(msg, m.keys.back):
		m.err = nil
		m.view = TrackListView
		return m, nil
	case key.Matches(msg, m.keys.playlist):
		m.view = ConfirmView
		return m, nil
	}

	var cmd tea.Cmd
	m.similarList, cmd = m.similarList.Update(msg)
	return m, cmd
}

func (m *Model) handleConfirmKeys(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch {
	case key.Matches(msg, m.keys.no), key.Matches(msg, m.keys.back):
		m.view = SimilarView
		return m, nil
	case key.Matches(msg, m.keys.yes):
		return m, m.startPlaylist()
	case key.Matches(msg, m.keys.quit):
		return m, tea.Quit
	}
	return m, nil
}

func (m *Model) handleResultKeys(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch {
	case key.Matches(msg, m.keys.quit):
		return m, tea.Quit
	case key.Matches(msg, m.keys.restart):
		m.view = TrackListView
		m.watcher = nil
		m.err = nil
		return m, nil
	}
	return m, nil
}

func (m *Model) updateLists(msg tea.Msg) (tea.Model, tea.Cmd) {
	var cmd tea.Cmd
	switch m.view {
	case TrackListView:
		m.trackList, cmd = m.trackList.Update(msg)
	case SimilarView:
		m.similarList, cmd = m.similarList.Update(msg)
	}
	return m, cmd
}

func (m *Model) fetchTracks() tea.Cmd {
	return func() tea.Msg {
		tracks, err := m.backend.Tracks(m.ctx, m.userID)
		return tracksFetchedMsg{tracks: tracks, err: err}
	}
}

func (m *Model) fetchSimilar(seed services.TrackSummary) tea.Cmd {
	return func() tea.Msg {
		neighbors, err := m.backend.Similar(m.ctx, m.userID, seed.ID, m.limit)
		return similarFetchedMsg{seed: seed, neighbors: neighbors, err: err}
	}
}

func (m *Model) startPlaylist() tea.Cmd {
	seed := m.seed
	return func() tea.Msg {
		id, err := m.backend.GeneratePlaylist(m.ctx, m.userID, seed.ID)
		return jobStartedMsg{jobID: id, err: err}
	}
}

func (m *Model) renderTrackList() string {
	helpKeys := []key.Binding{m.keys.enter, m.keys.quit}
	return fmt.Sprintf("%s\n\n%s", m.trackList.View(), m.help.ShortHelpView(helpKeys))
}

func (m *Model) renderSimilar() string {
	if len(m.neighbors) == 0 {
		msg := styles.warn.Render(fmt.Sprintf("No similar tracks for '%s' yet.", m.seed.Name))
		return fmt.Sprintf("%s\n\n%s", msg, m.help.ShortHelpView([]key.Binding{m.keys.back, m.keys.quit}))
	}
	helpKeys := []key.Binding{m.keys.playlist, m.keys.back, m.keys.quit}
	return fmt.Sprintf("%s\n\n%s", m.similarList.View(), m.help.ShortHelpView(helpKeys))
}

func (m *Model) renderConfirm() string {
	title := styles.title.Render(fmt.Sprintf("Create a playlist from '%s'?", m.seed.Name))
	info := fmt.Sprintf("\nSeed: %s - %s\nThe playlist is private and holds the closest tracks in the catalog.\n", m.seed.Artist, m.seed.Name)
	helpKeys := []key.Binding{m.keys.yes, m.keys.no, m.keys.quit}
	return fmt.Sprintf("%s\n%s\n%s", title, info, m.help.ShortHelpView(helpKeys))
}

func (m *Model) renderResult() string {
	helpView := m.help.ShortHelpView([]key.Binding{m.keys.restart, m.keys.quit})

	if m.err != nil {
		return styles.err.Render(fmt.Sprintf("Playlist generation failed: %v", m.err)) + "\n\n" + helpView
	}
	if m.watcher == nil {
		return styles.err.Render("No result available") + "\n\n" + helpView
	}
	if err := m.watcher.Err(); err != nil {
		return styles.err.Render(fmt.Sprintf("Lost track of the job: %v", err)) + "\n\n" + helpView
	}

	st := m.watcher.Status()
	if st.State == models.JobFailed {
		return styles.err.Render(fmt.Sprintf("Playlist generation failed: %s", st.Error)) + "\n\n" + helpView
	}

	title := styles.ok.Render("✓ Playlist created!")
	var info string
	if p, err := st.Payload(); err == nil && p != nil {
		info = "\n" + p.Message()
	}
	return fmt.Sprintf("%s\n%s\n\n%s", title, info, helpView)
}
