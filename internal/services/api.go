// Client for the soundalike JSON API served by internal/server
package services

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"

	"github.com/goccy/go-json"

	"github.com/desertthunder/soundalike/internal/jobs"
	"github.com/desertthunder/soundalike/internal/models"
	"github.com/desertthunder/soundalike/internal/shared"
)

// APIClient calls the soundalike HTTP API.
type APIClient struct {
	baseURL    string
	httpClient *http.Client
}

// NewAPIClient creates a new API client. baseURL defaults to the local server.
func NewAPIClient(baseURL string, client *http.Client) *APIClient {
	if baseURL == "" {
		baseURL = "http://127.0.0.1:3000"
	}
	if client == nil {
		client = http.DefaultClient
	}
	return &APIClient{baseURL: baseURL, httpClient: client}
}

// APIError is a non-2xx reply from the server.
type APIError struct {
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("%s: status %d: %s", shared.ErrAPIRequest, e.StatusCode, e.Message)
}

func (e *APIError) Unwrap() error { return shared.ErrAPIRequest }

// TrackSummary is one row of a user's track list.
type TrackSummary struct {
	ID         int64  `json:"id"`
	ExternalID string `json:"externalId"`
	Name       string `json:"name"`
	Artist     string `json:"artist"`
	Encoded    bool   `json:"encoded"`
}

type enqueued struct {
	JobID string `json:"job_id"`
}

// SyncLibrary enqueues an ingestion job for userID.
func (a *APIClient) SyncLibrary(ctx context.Context, userID int64) (string, error) {
	var out enqueued
	err := a.do(ctx, http.MethodPost, fmt.Sprintf("/api/users/%d/library", userID), nil, &out)
	return out.JobID, err
}

// GeneratePlaylist enqueues a playlist job seeded by seedTrackID.
func (a *APIClient) GeneratePlaylist(ctx context.Context, userID, seedTrackID int64) (string, error) {
	body := map[string]int64{"seed_track_id": seedTrackID}
	var out enqueued
	err := a.do(ctx, http.MethodPost, fmt.Sprintf("/api/users/%d/playlists", userID), body, &out)
	return out.JobID, err
}

// JobStatus polls a job.
func (a *APIClient) JobStatus(ctx context.Context, jobID string) (*jobs.Status, error) {
	var st jobs.Status
	if err := a.do(ctx, http.MethodGet, "/api/jobs/"+url.PathEscape(jobID), nil, &st); err != nil {
		return nil, err
	}
	return &st, nil
}

// Tracks lists the encoded tracks in a user's library.
func (a *APIClient) Tracks(ctx context.Context, userID int64) ([]TrackSummary, error) {
	var out []TrackSummary
	err := a.do(ctx, http.MethodGet, fmt.Sprintf("/api/users/%d/tracks", userID), nil, &out)
	return out, err
}

// Similar returns the nearest neighbours of a track in the user's library.
func (a *APIClient) Similar(ctx context.Context, userID, trackID int64, limit int) ([]models.Neighbor, error) {
	path := fmt.Sprintf("/api/users/%d/tracks/%d/similar", userID, trackID)
	if limit > 0 {
		path += "?limit=" + strconv.Itoa(limit)
	}
	var out []models.Neighbor
	err := a.do(ctx, http.MethodGet, path, nil, &out)
	return out, err
}

func (a *APIClient) do(ctx context.Context, method, path string, body, result any) error {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to encode request: %w", err)
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, a.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")

	resp, err := a.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", shared.ErrServiceUnavailable, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		var e struct {
			Error string `json:"error"`
		}
		if json.Unmarshal(data, &e) != nil || e.Error == "" {
			e.Error = http.StatusText(resp.StatusCode)
		}
		return &APIError{StatusCode: resp.StatusCode, Message: e.Error}
	}

	if result == nil {
		return nil
	}
	if err := json.Unmarshal(data, result); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}
