package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/urfave/cli/v3"

	"github.com/desertthunder/soundalike/internal/models"
	"github.com/desertthunder/soundalike/internal/server"
	"github.com/desertthunder/soundalike/internal/services"
	"github.com/desertthunder/soundalike/internal/shared"
)

const loginTimeout = 2 * time.Minute

// UserLogin performs the OAuth2 authorization flow for Spotify and stores the user.
//
// Starts a local HTTP server on the redirect URI's address, opens the browser for
// user authorization, and saves the exchanged token as the user's credential.
func (r *Runner) UserLogin(ctx context.Context, cmd *cli.Command) error {
	config, err := r.loadConfig(cmd)
	if err != nil {
		return err
	}

	connector, err := services.NewSpotifyConnector(config.Credentials.Spotify)
	if err != nil {
		return fmt.Errorf("%w: set credentials.spotify.client_id and client_secret in config.toml", err)
	}

	st, err := r.openStores(ctx, config)
	if err != nil {
		return err
	}
	defer st.Close()

	user, err := r.doOAuth(ctx, callbackAddr(config), connector, st.catalog)
	if err != nil {
		return err
	}

	r.writePlainln("✓ Logged in as %s", displayName(user))
	r.writePlain("✓ User ID: %d\n\n", user.ID)
	r.writePlain("You can now run: soundalike library sync --user %d\n", user.ID)
	return nil
}

// UserList prints the stored users.
func (r *Runner) UserList(ctx context.Context, cmd *cli.Command) error {
	config, err := r.loadConfig(cmd)
	if err != nil {
		return err
	}

	st, err := r.openStores(ctx, config)
	if err != nil {
		return err
	}
	defer st.Close()

	users, err := st.catalog.ListUsers(ctx)
	if err != nil {
		return err
	}

	if cmd.Bool("json") {
		type userJSON struct {
			ID          int64      `json:"id"`
			ExternalID  string     `json:"externalId"`
			DisplayName string     `json:"display_name"`
			Email       string     `json:"email,omitempty"`
			CreatedAt   time.Time  `json:"created_at"`
			LastLoginAt *time.Time `json:"last_login_at,omitempty"`
		}
		out := make([]userJSON, len(users))
		for i, u := range users {
			out[i] = userJSON{u.ID, u.ExternalID, u.DisplayName, u.Email, u.CreatedAt, u.LastLoginAt}
		}
		return r.writeJSON(out, true)
	}

	if len(users) == 0 {
		return r.writePlain("No users. Run 'soundalike user login' first.\n")
	}

	r.writePlain("Found %d users:\n\n", len(users))
	for _, u := range users {
		r.writePlain("%d. %s\n", u.ID, displayName(u))
		r.writePlain("   Spotify ID: %s\n", u.ExternalID)
		if u.LastLoginAt != nil {
			r.writePlain("   Last login: %s\n", u.LastLoginAt.Local().Format("2006-01-02 15:04"))
		}
	}
	return nil
}

// doOAuth executes the OAuth2 authorization flow with a local HTTP server
func (r *Runner) doOAuth(ctx context.Context, addr string, auth server.Authenticator, users server.UserSaver) (*models.User, error) {
	state := shared.GenerateID()
	authURL := auth.AuthURL(state)

	oauthHandler := server.NewOAuthHandler(auth, users, state)
	router := server.NewBasicRouter()
	router.Handler(oauthHandler)

	httpServer := &http.Server{
		Addr:              addr,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	serverErrors := make(chan error, 1)
	go func() {
		r.logger.Infof("starting OAuth server at %v", addr)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErrors <- err
		}
	}()

	time.Sleep(100 * time.Millisecond)

	r.writePlain("→ Opening browser for Spotify authorization...\n")
	if err := shared.OpenBrowser(authURL); err != nil {
		r.logger.Warnf("failed to open browser automatically %v", err)
		r.writePlainln("⚠ Could not open browser automatically.")
		r.writePlain("Please open this URL in your browser:\n%s\n\n", authURL)
	}

	r.writePlain("→ Waiting for authorization (2 minute timeout)...\n")

	timeout := time.NewTimer(loginTimeout)
	defer timeout.Stop()

	var result server.OAuthResult

	select {
	case result = <-oauthHandler.Result():
	case err := <-serverErrors:
		return nil, fmt.Errorf("server error: %w", err)
	case <-timeout.C:
		return nil, fmt.Errorf("%w: authorization timed out after 2 minutes", shared.ErrTimeout)
	case <-ctx.Done():
		return nil, ctx.Err()
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		r.logger.Warn("error shutting down server", "error", err)
	}

	if result.Error() != nil {
		return nil, fmt.Errorf("authorization failed: %w", result.Error())
	}
	if result.User == nil {
		return nil, fmt.Errorf("%w: no user received", shared.ErrAuthFailed)
	}
	return result.User, nil
}

// callbackAddr is the listen address for the redirect URI, so the provider's
// redirect lands on the temporary server.
func callbackAddr(config *shared.Config) string {
	if u, err := url.Parse(config.Credentials.Spotify.RedirectURI); err == nil && u.Host != "" {
		if u.Port() == "" {
			return u.Hostname() + ":80"
		}
		return u.Host
	}
	return config.Server.Addr()
}

func displayName(u *models.User) string {
	if u.DisplayName != "" {
		return u.DisplayName
	}
	return u.ExternalID
}
