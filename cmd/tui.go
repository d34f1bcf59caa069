package main

import (
	"context"
	"fmt"
	"os"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/urfave/cli/v3"

	"github.com/desertthunder/soundalike/internal/shared"
	"github.com/desertthunder/soundalike/internal/ui"
)

const tuiLogPath = "soundalike-tui.log"

// Browse launches the interactive track browser.
func (r *Runner) Browse(ctx context.Context, cmd *cli.Command) error {
	userID := int64(cmd.Int("user"))
	limit := cmd.Int("limit")

	// Redirect logs to file to avoid interfering with TUI rendering
	logFile, err := os.OpenFile(tuiLogPath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return fmt.Errorf("failed to create log file: %w", err)
	}
	defer logFile.Close()
	r.SetLogger(shared.NewLogger(logFile))

	model := ui.NewModel(ctx, r.client(cmd), userID, limit)
	p := tea.NewProgram(model, tea.WithAltScreen(), tea.WithContext(ctx))

	if _, err := p.Run(); err != nil {
		return fmt.Errorf("error running TUI: %w", err)
	}

	return nil
}
