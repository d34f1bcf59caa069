package server

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"

	"github.com/charmbracelet/log"
	"github.com/goccy/go-json"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/desertthunder/soundalike/internal/jobs"
	"github.com/desertthunder/soundalike/internal/models"
	"github.com/desertthunder/soundalike/internal/services"
	"github.com/desertthunder/soundalike/internal/shared"
)

const maxBodyBytes = 1 << 20

// JobQueue accepts and reports jobs. [jobs.Runner] implements it.
type JobQueue interface {
	Enqueue(ctx context.Context, kind models.JobKind, args any) (string, error)
	Status(ctx context.Context, id string) (*jobs.Status, error)
}

// Similarity answers per-user track queries.
type Similarity interface {
	FindSimilarInLibrary(ctx context.Context, userID, seedTrackID int64, limit int) ([]models.Neighbor, error)
	EncodedTracks(ctx context.Context, userID int64) ([]*models.Track, error)
}

// Users looks up users.
type Users interface {
	GetUser(ctx context.Context, id int64) (*models.User, error)
}

// API serves the JSON job and track endpoints.
type API struct {
	jobs    JobQueue
	similar Similarity
	users   Users
	logger  *log.Logger
}

func NewAPI(queue JobQueue, similar Similarity, users Users, logger *log.Logger) *API {
	return &API{jobs: queue, similar: similar, users: users, logger: logger}
}

// Register adds the API routes to r.
func (a *API) Register(r *BasicRouter) {
	r.HandleFunc(http.MethodPost, "/api/users/{id}/library", a.syncLibrary)
	r.HandleFunc(http.MethodPost, "/api/users/{id}/playlists", a.generatePlaylist)
	r.HandleFunc(http.MethodGet, "/api/jobs/{id}", a.jobStatus)
	r.HandleFunc(http.MethodGet, "/api/users/{id}/tracks", a.tracks)
	r.HandleFunc(http.MethodGet, "/api/users/{id}/tracks/{trackID}/similar", a.similarTracks)
	r.HandleFunc(http.MethodGet, "/healthz", health)
	r.Handle(http.MethodGet, "/metrics", promhttp.Handler())
}

type enqueueResponse struct {
	JobID string `json:"job_id"`
}

type playlistRequest struct {
	SeedTrackID int64 `json:"seed_track_id"`
}

func (a *API) syncLibrary(w http.ResponseWriter, r *http.Request) {
	userID, ok := a.pathID(w, r, "id")
	if !ok {
		return
	}
	if _, err := a.users.GetUser(r.Context(), userID); err != nil {
		a.fail(w, err)
		return
	}
	a.enqueue(w, r, models.JobIngest, models.IngestArgs{UserID: userID})
}

func (a *API) generatePlaylist(w http.ResponseWriter, r *http.Request) {
	userID, ok := a.pathID(w, r, "id")
	if !ok {
		return
	}

	var req playlistRequest
	if err := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes)).Decode(&req); err != nil {
		a.fail(w, fmt.Errorf("%w: %v", shared.ErrInvalidInput, err))
		return
	}
	if req.SeedTrackID <= 0 {
		a.fail(w, fmt.Errorf("%w: seed_track_id is required", shared.ErrMissingArgument))
		return
	}
	if _, err := a.users.GetUser(r.Context(), userID); err != nil {
		a.fail(w, err)
		return
	}
	a.enqueue(w, r, models.JobPlaylist, models.PlaylistArgs{UserID: userID, SeedTrackID: req.SeedTrackID})
}

func (a *API) enqueue(w http.ResponseWriter, r *http.Request, kind models.JobKind, args any) {
	id, err := a.jobs.Enqueue(r.Context(), kind, args)
	if err != nil {
		a.fail(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, enqueueResponse{JobID: id})
}

func (a *API) jobStatus(w http.ResponseWriter, r *http.Request) {
	st, err := a.jobs.Status(r.Context(), r.PathValue("id"))
	if err != nil {
		a.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, st)
}

func (a *API) tracks(w http.ResponseWriter, r *http.Request) {
	userID, ok := a.pathID(w, r, "id")
	if !ok {
		return
	}
	tracks, err := a.similar.EncodedTracks(r.Context(), userID)
	if err != nil {
		a.fail(w, err)
		return
	}

	out := make([]services.TrackSummary, len(tracks))
	for i, t := range tracks {
		out[i] = services.TrackSummary{ID: t.ID, ExternalID: t.ExternalID, Name: t.Name, Artist: t.Artist, Encoded: t.Encoded}
	}
	writeJSON(w, http.StatusOK, out)
}

func (a *API) similarTracks(w http.ResponseWriter, r *http.Request) {
	userID, ok := a.pathID(w, r, "id")
	if !ok {
		return
	}
	trackID, ok := a.pathID(w, r, "trackID")
	if !ok {
		return
	}

	limit := 0
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 || n > 100 {
			a.fail(w, fmt.Errorf("%w: limit must be between 1 and 100", shared.ErrInvalidArgument))
			return
		}
		limit = n
	}

	neighbors, err := a.similar.FindSimilarInLibrary(r.Context(), userID, trackID, limit)
	if err != nil {
		a.fail(w, err)
		return
	}
	if neighbors == nil {
		neighbors = []models.Neighbor{}
	}
	writeJSON(w, http.StatusOK, neighbors)
}

func health(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (a *API) pathID(w http.ResponseWriter, r *http.Request, name string) (int64, bool) {
	id, err := strconv.ParseInt(r.PathValue(name), 10, 64)
	if err != nil || id <= 0 {
		a.fail(w, fmt.Errorf("%w: %s must be a positive integer", shared.ErrInvalidArgument, name))
		return 0, false
	}
	return id, true
}

func (a *API) fail(w http.ResponseWriter, err error) {
	status := StatusFor(err)
	if status >= http.StatusInternalServerError {
		a.logger.Error("request failed", "error", err)
	}
	writeError(w, status, err.Error())
}

// StatusFor maps domain errors to HTTP status codes.
func StatusFor(err error) int {
	switch {
	case errors.Is(err, shared.ErrUserNotFound),
		errors.Is(err, shared.ErrTrackNotFound),
		errors.Is(err, shared.ErrJobNotFound):
		return http.StatusNotFound
	case errors.Is(err, shared.ErrNoEmbedding),
		errors.Is(err, shared.ErrNotInLibrary):
		return http.StatusConflict
	case errors.Is(err, shared.ErrInvalidInput),
		errors.Is(err, shared.ErrInvalidArgument),
		errors.Is(err, shared.ErrMissingArgument):
		return http.StatusBadRequest
	case errors.Is(err, shared.ErrAuthFailed):
		return http.StatusUnauthorized
	case errors.Is(err, shared.ErrQueueFull),
		errors.Is(err, shared.ErrRunnerStopped):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
