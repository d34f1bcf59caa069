// Package services talks to the systems around soundalike.
//
// # Remote Catalog
//
// [SpotifyConnector] turns a stored OAuth token into a [Library] backed by
// github.com/zmb3/spotify/v2. The oauth2 client refreshes expired access
// tokens with the refresh token. [SpotifyConnector.AuthURL] and
// [SpotifyConnector.Exchange] drive the login flow used by `user login`.
//
// # Preview Resolution
//
// Saved-track listings rarely carry preview clips any more. [SpotifyPreviewResolver]
// searches the catalog with an app token (client credentials), ranks candidates by
// Jaro-Winkler similarity against "name artist", and falls back to scraping the
// track's embed page for a p.scdn.co preview link. Requests are rate limited and
// go through a circuit breaker.
//
// # API Client
//
// [APIClient] is the CLI and TUI side of the JSON API served by internal/server.
//
// # Error Handling
//
// Services wrap sentinel errors from the shared package:
//   - [shared.ErrMissingCredentials] : client id or secret not configured
//   - [shared.ErrAuthFailed] : stored credential is unusable or the code exchange failed
//   - [shared.ErrAPIRequest] : remote request failed
package services
