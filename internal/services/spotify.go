// Spotify implementation of [Connector] and [Library]
package services

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/goccy/go-json"
	"github.com/zmb3/spotify/v2"
	spotifyauth "github.com/zmb3/spotify/v2/auth"
	"golang.org/x/oauth2"

	"github.com/desertthunder/soundalike/internal/models"
	"github.com/desertthunder/soundalike/internal/shared"
)

const (
	uriPrefix = "spotify:track:"

	// addTracksLimit is the most tracks one add-to-playlist request accepts.
	addTracksLimit = 100
)

// Scopes are the permissions requested at login: read the library, create
// private playlists, identify the user.
var Scopes = []string{
	spotifyauth.ScopeUserReadPrivate,
	spotifyauth.ScopeUserReadEmail,
	spotifyauth.ScopeUserLibraryRead,
	spotifyauth.ScopePlaylistModifyPrivate,
}

// SpotifyConnector opens [Library] sessions for stored user tokens.
type SpotifyConnector struct {
	config  *oauth2.Config
	options []spotify.ClientOption
}

// NewSpotifyConnector creates a [SpotifyConnector]. options are passed to every
// [spotify.Client] it builds.
func NewSpotifyConnector(cfg shared.SpotifyConfig, options ...spotify.ClientOption) (*SpotifyConnector, error) {
	if cfg.ClientID == "" {
		return nil, fmt.Errorf("%w: spotify client_id", shared.ErrMissingCredentials)
	}
	if cfg.ClientSecret == "" {
		return nil, fmt.Errorf("%w: spotify client_secret", shared.ErrMissingCredentials)
	}

	redirectURI := cfg.RedirectURI
	if redirectURI == "" {
		redirectURI = "http://localhost:3000/callback"
	}

	return &SpotifyConnector{
		config: &oauth2.Config{
			ClientID:     cfg.ClientID,
			ClientSecret: cfg.ClientSecret,
			RedirectURL:  redirectURI,
			Scopes:       Scopes,
			Endpoint: oauth2.Endpoint{
				AuthURL:  spotifyauth.AuthURL,
				TokenURL: spotifyauth.TokenURL,
			},
		},
		options: options,
	}, nil
}

// AuthURL returns the login URL for the given CSRF state.
func (s *SpotifyConnector) AuthURL(state string) string {
	return s.config.AuthCodeURL(state, oauth2.AccessTypeOffline)
}

// Exchange trades an authorization code for a token.
func (s *SpotifyConnector) Exchange(ctx context.Context, code string) (*oauth2.Token, error) {
	tok, err := s.config.Exchange(ctx, code)
	if err != nil {
		return nil, fmt.Errorf("%w: exchange auth code: %v", shared.ErrAuthFailed, err)
	}
	return tok, nil
}

// Login exchanges code, reads the user's profile and returns it with the
// credential to store.
func (s *SpotifyConnector) Login(ctx context.Context, code string) (*Profile, string, error) {
	tok, err := s.Exchange(ctx, code)
	if err != nil {
		return nil, "", err
	}

	credential, err := EncodeToken(tok)
	if err != nil {
		return nil, "", err
	}

	profile, err := s.library(ctx, tok, nil).CurrentUser(ctx)
	if err != nil {
		return nil, "", err
	}
	return profile, credential, nil
}

// Connect builds a [Library] from a credential written by [EncodeToken].
// Refreshed tokens are encoded and handed to onRotate.
func (s *SpotifyConnector) Connect(ctx context.Context, credential string, onRotate CredentialFunc) (Library, error) {
	tok, err := DecodeToken(credential)
	if err != nil {
		return nil, err
	}
	return s.library(ctx, tok, onRotate), nil
}

func (s *SpotifyConnector) library(ctx context.Context, tok *oauth2.Token, onRotate CredentialFunc) *SpotifyLibrary {
	src := &rotatingSource{
		src:      s.config.TokenSource(ctx, tok),
		last:     tok.AccessToken,
		onRotate: onRotate,
	}
	client := spotify.New(oauth2.NewClient(ctx, oauth2.ReuseTokenSource(tok, src)), s.options...)
	return &SpotifyLibrary{client: client}
}

// rotatingSource reports tokens whose access token differs from the last one seen.
type rotatingSource struct {
	mu       sync.Mutex
	src      oauth2.TokenSource
	last     string
	onRotate CredentialFunc
}

func (r *rotatingSource) Token() (*oauth2.Token, error) {
	tok, err := r.src.Token()
	if err != nil {
		return nil, fmt.Errorf("%w: refresh token: %v", shared.ErrAuthFailed, err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if tok.AccessToken == r.last {
		return tok, nil
	}
	r.last = tok.AccessToken
	if r.onRotate != nil {
		if credential, err := EncodeToken(tok); err == nil {
			r.onRotate(credential)
		}
	}
	return tok, nil
}

// EncodeToken serializes an OAuth token for storage on the user row.
func EncodeToken(tok *oauth2.Token) (string, error) {
	if tok == nil || tok.AccessToken == "" {
		return "", fmt.Errorf("%w: empty token", shared.ErrAuthFailed)
	}
	data, err := json.Marshal(tok)
	if err != nil {
		return "", fmt.Errorf("failed to encode token: %w", err)
	}
	return string(data), nil
}

// DecodeToken parses a stored credential.
func DecodeToken(credential string) (*oauth2.Token, error) {
	if strings.TrimSpace(credential) == "" {
		return nil, fmt.Errorf("%w: no stored credential", shared.ErrNotAuthenticated)
	}
	var tok oauth2.Token
	if err := json.Unmarshal([]byte(credential), &tok); err != nil {
		return nil, fmt.Errorf("%w: stored credential is not a token: %v", shared.ErrAuthFailed, err)
	}
	if tok.AccessToken == "" && tok.RefreshToken == "" {
		return nil, fmt.Errorf("%w: stored credential has no tokens", shared.ErrAuthFailed)
	}
	return &tok, nil
}

// SpotifyLibrary implements [Library] with a [spotify.Client].
type SpotifyLibrary struct {
	client *spotify.Client
}

// SavedTracks returns one page of saved tracks. Entries without an id (local
// files) are kept with an empty ExternalID so page length is preserved.
func (l *SpotifyLibrary) SavedTracks(ctx context.Context, limit, offset int) ([]models.SavedTrack, error) {
	if limit <= 0 || limit > PageSize {
		limit = PageSize
	}

	page, err := l.client.CurrentUsersTracks(ctx, spotify.Limit(limit), spotify.Offset(offset))
	if err != nil {
		return nil, fmt.Errorf("%w: saved tracks at offset %d: %v", shared.ErrAPIRequest, offset, err)
	}

	out := make([]models.SavedTrack, 0, len(page.Tracks))
	for _, item := range page.Tracks {
		names := make([]string, 0, len(item.Artists))
		for _, a := range item.Artists {
			names = append(names, a.Name)
		}
		out = append(out, models.SavedTrack{
			ExternalID: string(item.ID),
			Name:       item.Name,
			Artist:     models.JoinArtists(names),
		})
	}
	return out, nil
}

func (l *SpotifyLibrary) CurrentUser(ctx context.Context) (*Profile, error) {
	user, err := l.client.CurrentUser(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: current user: %v", shared.ErrAPIRequest, err)
	}
	return &Profile{ID: user.ID, DisplayName: user.DisplayName, Email: user.Email}, nil
}

func (l *SpotifyLibrary) CreatePlaylist(ctx context.Context, userID, name, description string, public bool) (*Playlist, error) {
	pl, err := l.client.CreatePlaylistForUser(ctx, userID, name, description, public, false)
	if err != nil {
		return nil, fmt.Errorf("%w: create playlist: %v", shared.ErrAPIRequest, err)
	}
	return &Playlist{ID: string(pl.ID), Name: pl.Name, URI: string(pl.URI)}, nil
}

// AddTracks adds uris in request-sized chunks, preserving order.
func (l *SpotifyLibrary) AddTracks(ctx context.Context, playlistID string, uris []string) error {
	ids := make([]spotify.ID, 0, len(uris))
	for _, uri := range uris {
		id := strings.TrimPrefix(uri, uriPrefix)
		if id == "" || id == uri {
			return fmt.Errorf("%w: not a track uri: %q", shared.ErrInvalidInput, uri)
		}
		ids = append(ids, spotify.ID(id))
	}

	for start := 0; start < len(ids); start += addTracksLimit {
		end := min(start+addTracksLimit, len(ids))
		if _, err := l.client.AddTracksToPlaylist(ctx, spotify.ID(playlistID), ids[start:end]...); err != nil {
			return fmt.Errorf("%w: add tracks %d-%d: %v", shared.ErrAPIRequest, start, end, err)
		}
	}
	return nil
}
