package ui

import (
	"context"
	"fmt"
	"strings"
	"time"

	bar "github.com/charmbracelet/bubbles/progress"
	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"

	"github.com/desertthunder/soundalike/internal/jobs"
	"github.com/desertthunder/soundalike/internal/models"
	"github.com/desertthunder/soundalike/internal/progress"
)

const (
	DefaultPollInterval = 500 * time.Millisecond
	recentLines         = 5
)

// StatusPoller reads job status. [services.APIClient] implements it.
type StatusPoller interface {
	JobStatus(ctx context.Context, jobID string) (*jobs.Status, error)
}

// Watcher polls one job and renders its progress. Run standalone it quits
// when the job reaches a terminal state.
type Watcher struct {
	ctx        context.Context
	poller     StatusPoller
	jobID      string
	interval   time.Duration
	standalone bool

	spinner spinner.Model
	bar     bar.Model
	status  *jobs.Status
	latest  progress.Payload
	recent  []string
	err     error
}

// NewWatcher creates a standalone [Watcher] for jobID.
func NewWatcher(ctx context.Context, poller StatusPoller, jobID string, interval time.Duration) *Watcher {
	w := newWatcher(ctx, poller, jobID, interval)
	w.standalone = true
	return w
}

func newWatcher(ctx context.Context, poller StatusPoller, jobID string, interval time.Duration) *Watcher {
	if interval <= 0 {
		interval = DefaultPollInterval
	}
	s := spinner.New()
	s.Spinner = spinner.Dot
	s.Style = styles.ok
	return &Watcher{
		ctx:      ctx,
		poller:   poller,
		jobID:    jobID,
		interval: interval,
		spinner:  s,
		bar:      bar.New(bar.WithDefaultGradient(), bar.WithWidth(40)),
	}
}

// Status returns the last polled status.
func (w *Watcher) Status() *jobs.Status { return w.status }

// Err returns the polling error that stopped the watcher, if any.
func (w *Watcher) Err() error { return w.err }

// Done reports whether the job is terminal or polling failed.
func (w *Watcher) Done() bool {
	return w.err != nil || (w.status != nil && w.status.Done())
}

func (w *Watcher) Init() tea.Cmd {
	return tea.Batch(w.spinner.Tick, w.poll())
}

func (w *Watcher) poll() tea.Cmd {
	return func() tea.Msg {
		st, err := w.poller.JobStatus(w.ctx, w.jobID)
		return jobStatusMsg{status: st, err: err}
	}
}

func (w *Watcher) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		if w.standalone && (msg.String() == "q" || msg.String() == "ctrl+c") {
			return w, tea.Quit
		}

	case spinner.TickMsg:
		if w.Done() {
			return w, nil
		}
		var cmd tea.Cmd
		w.spinner, cmd = w.spinner.Update(msg)
		return w, cmd

	case pollMsg:
		return w, w.poll()

	case jobStatusMsg:
		if msg.err != nil {
			w.err = msg.err
			return w, w.quit()
		}
		w.observe(msg.status)
		if w.Done() {
			return w, w.quit()
		}
		return w, pollAfter(w.interval)
	}
	return w, nil
}

func (w *Watcher) quit() tea.Cmd {
	if w.standalone {
		return tea.Quit
	}
	return nil
}

func (w *Watcher) observe(st *jobs.Status) {
	w.status = st
	p, err := st.Payload()
	if err != nil || p == nil {
		return
	}
	if w.latest == nil || p.Message() != w.latest.Message() {
		if _, ok := p.(progress.Encoded); ok {
			w.recent = append(w.recent, p.Message())
			if len(w.recent) > recentLines {
				w.recent = w.recent[len(w.recent)-recentLines:]
			}
		}
	}
	w.latest = p
}

// Fraction estimates completion from a progress record.
func Fraction(p progress.Payload) float64 {
	switch p := p.(type) {
	case progress.Processing:
		return ratio(p.Index, p.Total)
	case progress.Encoded:
		return ratio(p.Index, p.Total)
	case progress.FindingSimilar:
		return 0.2
	case progress.SpotifyAuth:
		return 0.4
	case progress.CreatingPlaylist:
		return 0.6
	case progress.AddingTracks:
		return 0.8
	case progress.Finished, progress.Failed:
		return 1
	default:
		return 0
	}
}

func ratio(i, n int) float64 {
	if n <= 0 {
		return 0
	}
	return min(float64(i)/float64(n), 1)
}

func (w *Watcher) View() string {
	var b strings.Builder
	b.WriteString(styles.title.Render(fmt.Sprintf("Job %s", w.jobID)))
	b.WriteString("\n")

	if w.err != nil {
		b.WriteString(styles.err.Render(fmt.Sprintf("Error: %v", w.err)))
		b.WriteString("\n")
		return b.String()
	}

	if w.status == nil {
		b.WriteString(w.spinner.View() + " Waiting for status...\n")
		return b.String()
	}

	state := string(w.status.State)
	switch w.status.State {
	case models.JobFinished:
		state = styles.ok.Render("✓ " + state)
	case models.JobFailed:
		state = styles.err.Render("✗ " + state)
	default:
		state = w.spinner.View() + " " + state
	}
	fmt.Fprintf(&b, "%s  %s\n\n", state, styles.help.Render(string(w.status.Kind)))

	if w.latest != nil {
		b.WriteString(w.bar.ViewAs(Fraction(w.latest)))
		b.WriteString("\n\n")
		b.WriteString(w.latest.Message())
		b.WriteString("\n")
	}
	for _, line := range w.recent {
		b.WriteString(styles.help.Render("  "+line) + "\n")
	}
	if w.status.State == models.JobFailed && w.status.Error != "" {
		b.WriteString("\n" + styles.err.Render(w.status.Error) + "\n")
	}
	return b.String()
}
