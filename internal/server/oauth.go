package server

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/charmbracelet/log"

	"github.com/desertthunder/soundalike/internal/models"
	"github.com/desertthunder/soundalike/internal/services"
	"github.com/desertthunder/soundalike/internal/shared"
)

const stateTTL = 10 * time.Minute

// Authenticator runs the remote side of the authorization code flow.
// [services.SpotifyConnector] implements it.
type Authenticator interface {
	AuthURL(state string) string
	Login(ctx context.Context, code string) (*services.Profile, string, error)
}

// UserSaver persists a logged-in user.
type UserSaver interface {
	UpsertUser(ctx context.Context, u *models.User) error
}

// OAuthResult contains the result of an OAuth authorization flow.
type OAuthResult struct {
	User *models.User
	err  error
}

func (o *OAuthResult) Error() error {
	return o.err
}

// login exchanges code and stores the user with their credential.
func login(ctx context.Context, auth Authenticator, users UserSaver, code string) (*models.User, error) {
	profile, credential, err := auth.Login(ctx, code)
	if err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	user := &models.User{
		ExternalID:  profile.ID,
		DisplayName: profile.DisplayName,
		Email:       profile.Email,
		Credential:  credential,
		LastLoginAt: &now,
	}
	if err := users.UpsertUser(ctx, user); err != nil {
		return nil, fmt.Errorf("failed to save user: %w", err)
	}
	return user, nil
}

// callbackError reads the error the provider sent instead of a code.
func callbackError(r *http.Request) error {
	errParam := r.URL.Query().Get("error")
	errDesc := r.URL.Query().Get("error_description")
	return fmt.Errorf("%w: %s - %s", shared.ErrAuthFailed, errParam, errDesc)
}

// OAuthHandler handles a single OAuth2 callback for CLI logins.
// Implements the Handler interface for registration with a Router.
type OAuthHandler struct {
	auth        Authenticator
	users       UserSaver
	state       string
	resultChan  chan OAuthResult
	once        sync.Once
	callbackHit bool
	mu          sync.Mutex
}

// NewOAuthHandler creates a one-shot callback handler for the given state token.
// The state token should be cryptographically random for CSRF protection.
func NewOAuthHandler(auth Authenticator, users UserSaver, state string) *OAuthHandler {
	return &OAuthHandler{
		auth:       auth,
		users:      users,
		state:      state,
		resultChan: make(chan OAuthResult, 1),
	}
}

// Routes returns the HTTP routes this handler serves.
func (h *OAuthHandler) Routes() []string {
	return []string{"GET /callback"}
}

// ServeHTTP validates the state parameter, logs the user in and sends the
// result through the result channel.
func (h *OAuthHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	// Only handle callback once
	h.mu.Lock()
	if h.callbackHit {
		h.mu.Unlock()
		http.Error(w, "Callback already processed", http.StatusBadRequest)
		return
	}
	h.callbackHit = true
	h.mu.Unlock()

	if r.URL.Query().Get("state") != h.state {
		h.Send(OAuthResult{err: fmt.Errorf("%w: invalid state parameter", shared.ErrAuthFailed)})
		http.Error(w, "Invalid state parameter", http.StatusBadRequest)
		return
	}

	code := r.URL.Query().Get("code")
	if code == "" {
		h.Send(OAuthResult{err: callbackError(r)})
		http.Error(w, "Authorization failed", http.StatusBadRequest)
		return
	}

	user, err := login(r.Context(), h.auth, h.users, code)
	if err != nil {
		h.Send(OAuthResult{err: err})
		http.Error(w, "Login failed", http.StatusInternalServerError)
		return
	}

	h.Send(OAuthResult{User: user})
	writeSuccessPage(w, user)
}

// Send sends the OAuth result through the channel (only once).
func (h *OAuthHandler) Send(result OAuthResult) {
	h.once.Do(func() {
		h.resultChan <- result
		close(h.resultChan)
	})
}

// Result returns the result channel for receiving OAuth flow completion.
//
// Channel will receive exactly one result and then be closed.
func (h *OAuthHandler) Result() <-chan OAuthResult {
	return h.resultChan
}

// LoginHandler serves /login and /callback for any number of users on a
// long-running server. Issued states expire after ten minutes.
type LoginHandler struct {
	auth   Authenticator
	users  UserSaver
	logger *log.Logger
	now    func() time.Time

	mu     sync.Mutex
	states map[string]time.Time
}

func NewLoginHandler(auth Authenticator, users UserSaver, logger *log.Logger) *LoginHandler {
	return &LoginHandler{
		auth:   auth,
		users:  users,
		logger: logger,
		now:    time.Now,
		states: make(map[string]time.Time),
	}
}

// Routes returns the HTTP routes this handler serves.
func (h *LoginHandler) Routes() []string {
	return []string{"GET /login", "GET /callback"}
}

func (h *LoginHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	switch r.URL.Path {
	case "/login":
		http.Redirect(w, r, h.auth.AuthURL(h.issue()), http.StatusFound)
	case "/callback":
		h.callback(w, r)
	default:
		http.NotFound(w, r)
	}
}

func (h *LoginHandler) issue() string {
	h.mu.Lock()
	defer h.mu.Unlock()

	now := h.now()
	for s, exp := range h.states {
		if now.After(exp) {
			delete(h.states, s)
		}
	}
	state := shared.GenerateID()
	h.states[state] = now.Add(stateTTL)
	return state
}

// consume reports whether state was issued and unexpired, and forgets it.
func (h *LoginHandler) consume(state string) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	exp, ok := h.states[state]
	delete(h.states, state)
	return ok && h.now().Before(exp)
}

func (h *LoginHandler) callback(w http.ResponseWriter, r *http.Request) {
	if !h.consume(r.URL.Query().Get("state")) {
		writeError(w, http.StatusBadRequest, "invalid state parameter")
		return
	}

	code := r.URL.Query().Get("code")
	if code == "" {
		err := callbackError(r)
		h.logger.Warn("authorization denied", "error", err)
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	user, err := login(r.Context(), h.auth, h.users, code)
	if err != nil {
		h.logger.Error("login failed", "error", err)
		writeError(w, StatusFor(err), err.Error())
		return
	}

	h.logger.Info("user logged in", "user", user.ID, "external_id", user.ExternalID)
	writeSuccessPage(w, user)
}

func writeSuccessPage(w http.ResponseWriter, user *models.User) {
	w.Header().Set("Content-Type", "text/html")
	w.WriteHeader(http.StatusOK)
	fmt.Fprintf(w, `
<!DOCTYPE html>
<html>
<head>
    <title>Authorization Successful</title>
    <style>
        body { font-family: -apple-system, BlinkMacSystemFont, "Segoe UI", Roboto, sans-serif;
               display: flex; align-items: center; justify-content: center; height: 100vh;
               margin: 0; background: #f5f5f5; }
        .container { text-align: center; background: white; padding: 2rem;
                     border-radius: 8px; box-shadow: 0 2px 4px rgba(0,0,0,0.1); }
        h1 { color: #1DB954; margin: 0 0 1rem 0; }
        p { color: #666; margin: 0; }
    </style>
</head>
<body>
    <div class="container">
        <h1>✓ Logged in</h1>
        <p>Soundalike user id %d. You can close this window.</p>
    </div>
</body>
</html>
`, user.ID)
}
