package services

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/goccy/go-json"

	"github.com/desertthunder/soundalike/internal/models"
	"github.com/desertthunder/soundalike/internal/shared"
	tu "github.com/desertthunder/soundalike/internal/testing"
)

func TestAPIClient(t *testing.T) {
	t.Run("New", func(t *testing.T) {
		t.Run("With Custom BaseURL and Client", func(t *testing.T) {
			customClient := &http.Client{}
			c := NewAPIClient("http://example.com", customClient)

			if c.baseURL != "http://example.com" {
				t.Errorf("expected baseURL 'http://example.com', got %s", c.baseURL)
			}
			if c.httpClient != customClient {
				t.Error("expected custom client to be used")
			}
		})

		t.Run("With Defaults", func(t *testing.T) {
			c := NewAPIClient("", nil)

			if c.baseURL != "http://127.0.0.1:3000" {
				t.Errorf("unexpected default baseURL %s", c.baseURL)
			}
			if c.httpClient != http.DefaultClient {
				t.Error("expected http.DefaultClient to be used")
			}
		})
	})

	t.Run("SyncLibrary", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.Method != http.MethodPost || r.URL.Path != "/api/users/7/library" {
				t.Errorf("unexpected request %s %s", r.Method, r.URL.Path)
			}
			w.WriteHeader(http.StatusAccepted)
			io.WriteString(w, `{"job_id":"job-1"}`)
		}))
		defer server.Close()

		id, err := NewAPIClient(server.URL, nil).SyncLibrary(context.Background(), 7)
		if err != nil {
			t.Fatalf("SyncLibrary() error: %v", err)
		}
		if id != "job-1" {
			t.Errorf("expected job-1, got %s", id)
		}
	})

	t.Run("GeneratePlaylist Sends Seed", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			var body map[string]int64
			json.NewDecoder(r.Body).Decode(&body)
			if body["seed_track_id"] != 42 {
				t.Errorf("expected seed 42, got %v", body)
			}
			w.WriteHeader(http.StatusAccepted)
			io.WriteString(w, `{"job_id":"job-2"}`)
		}))
		defer server.Close()

		id, err := NewAPIClient(server.URL, nil).GeneratePlaylist(context.Background(), 7, 42)
		if err != nil || id != "job-2" {
			t.Fatalf("GeneratePlaylist() = %q, %v", id, err)
		}
	})

	t.Run("JobStatus", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			io.WriteString(w, `{"job_id":"job-1","kind":"ingest","state":"started","progress":{"status":"processing","index":1,"total":3,"track":{"externalId":"t1","name":"n","artist":"a"},"preview_url_present":true}}`)
		}))
		defer server.Close()

		st, err := NewAPIClient(server.URL, nil).JobStatus(context.Background(), "job-1")
		if err != nil {
			t.Fatalf("JobStatus() error: %v", err)
		}
		if st.State != models.JobStarted {
			t.Errorf("expected started, got %s", st.State)
		}
		p, err := st.Payload()
		if err != nil {
			t.Fatalf("Payload() error: %v", err)
		}
		if p == nil || p.Status() != "processing" {
			t.Errorf("unexpected payload %#v", p)
		}
	})

	t.Run("Similar", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.URL.Path != "/api/users/1/tracks/5/similar" || r.URL.Query().Get("limit") != "3" {
				t.Errorf("unexpected request %s", r.URL)
			}
			io.WriteString(w, `[{"id":6,"externalId":"x","name":"n","artist":"a","distance":0.25,"similarity":0.75}]`)
		}))
		defer server.Close()

		got, err := NewAPIClient(server.URL, nil).Similar(context.Background(), 1, 5, 3)
		if err != nil {
			t.Fatalf("Similar() error: %v", err)
		}
		if len(got) != 1 || got[0].TrackID != 6 || got[0].Similarity() != 0.75 {
			t.Errorf("unexpected neighbours %+v", got)
		}
	})

	t.Run("Error Responses", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusConflict)
			io.WriteString(w, `{"error":"track has no embedding"}`)
		}))
		defer server.Close()

		_, err := NewAPIClient(server.URL, nil).Similar(context.Background(), 1, 5, 0)
		var apiErr *APIError
		if !errors.As(err, &apiErr) {
			t.Fatalf("expected *APIError, got %v", err)
		}
		if apiErr.StatusCode != http.StatusConflict || apiErr.Message != "track has no embedding" {
			t.Errorf("unexpected error %+v", apiErr)
		}
		if !errors.Is(err, shared.ErrAPIRequest) {
			t.Error("APIError should unwrap to ErrAPIRequest")
		}
	})

	t.Run("Transport Failure", func(t *testing.T) {
		client := &http.Client{Transport: tu.NewMockRoundTripper(nil, errors.New("connection refused"))}

		_, err := NewAPIClient("http://example.com", client).Tracks(context.Background(), 1)
		if !errors.Is(err, shared.ErrServiceUnavailable) {
			t.Errorf("expected ErrServiceUnavailable, got %v", err)
		}
	})

	t.Run("Body Read Failure", func(t *testing.T) {
		resp := &http.Response{StatusCode: http.StatusOK, Body: &tu.FCloser{}, Header: make(http.Header)}
		client := &http.Client{Transport: tu.NewMockRoundTripper(resp, nil)}

		if _, err := NewAPIClient("http://example.com", client).Tracks(context.Background(), 1); err == nil {
			t.Error("expected read error")
		}
	})
}
