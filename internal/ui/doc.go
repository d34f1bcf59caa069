// Package ui implements the terminal interfaces using bubbletea's Elm architecture.
//
// The browser [Model] walks a user's encoded tracks:
//  1. [TrackListView] : Browse encoded tracks and pick a seed
//  2. [SimilarView] : Ranked neighbours with similarity scores
//  3. [ConfirmView] : Confirm playlist generation
//  4. [JobView] : Watch the playlist job progress
//  5. [ResultView] : Show the created playlist or the failure
//
// [Watcher] polls one job through the API and renders a spinner, a progress bar and the most
// recently encoded tracks. The CLI runs it standalone for library syncs and `jobs watch`.
//
// Keyboard navigation uses vim-style bindings (j/k, enter, esc, p, y/n, q) with contextual help
// displayed via charmbracelet/bubbles/help.
package ui
