package shared

import (
	"fmt"
	"os/exec"
	"runtime"
)

// browserCommands maps GOOS to the command that hands a URL to the desktop.
var browserCommands = map[string][]string{
	"darwin":  {"open"},
	"linux":   {"xdg-open"},
	"freebsd": {"xdg-open"},
	"windows": {"rundll32", "url.dll,FileProtocolHandler"},
}

// browserCommand builds the launcher for goos without starting it.
func browserCommand(goos, url string) (*exec.Cmd, error) {
	argv, ok := browserCommands[goos]
	if !ok {
		return nil, fmt.Errorf("no browser launcher for %s", goos)
	}
	args := append(append([]string{}, argv[1:]...), url)
	return exec.Command(argv[0], args...), nil
}

// OpenBrowser opens the Spotify authorization page in the user's browser. The
// launcher is not waited on.
func OpenBrowser(url string) error {
	cmd, err := browserCommand(runtime.GOOS, url)
	if err != nil {
		return err
	}
	if err := cmd.Start(); err != nil {
		return fmt.Errorf("failed to launch %s: %w", cmd.Path, err)
	}
	go cmd.Wait()
	return nil
}
