// package services defines the remote catalog contract and its Spotify
// implementation, the preview resolver and a client for the soundalike API.
package services

import (
	"context"

	"github.com/desertthunder/soundalike/internal/models"
)

// PageSize is the largest page of saved tracks the remote catalog returns.
const PageSize = 50

// Library is an authenticated view of one user's remote account.
type Library interface {
	// SavedTracks returns one page of the user's saved tracks. A page shorter
	// than limit is the last one.
	SavedTracks(ctx context.Context, limit, offset int) ([]models.SavedTrack, error)

	// CurrentUser returns the remote profile of the authenticated user.
	CurrentUser(ctx context.Context) (*Profile, error)

	// CreatePlaylist creates an empty playlist owned by userID.
	CreatePlaylist(ctx context.Context, userID, name, description string, public bool) (*Playlist, error)

	// AddTracks appends track URIs to a playlist, in order.
	AddTracks(ctx context.Context, playlistID string, uris []string) error
}

// CredentialFunc receives a credential that replaced the one a [Library] was
// opened with, e.g. after an access token refresh.
type CredentialFunc func(credential string)

// Connector opens a [Library] from a stored user credential. onRotate may be nil.
type Connector interface {
	Connect(ctx context.Context, credential string, onRotate CredentialFunc) (Library, error)
}

// PreviewResolver maps tracks to preview clip URLs, keyed by [models.SavedTrack.Key].
// Tracks without a preview are absent from the result.
type PreviewResolver interface {
	Resolve(ctx context.Context, tracks []models.SavedTrack) (map[string]string, error)
}

// Profile is a remote user profile.
type Profile struct {
	ID          string
	DisplayName string
	Email       string
}

// Playlist is a playlist created on the remote catalog.
type Playlist struct {
	ID   string
	Name string
	URI  string
}
