// package testing contains shared testing utilities
package testing

import (
	"context"
	"errors"
	"io"
	"net/http"
	"os"
	"sync"
	"testing"

	"github.com/desertthunder/soundalike/internal/models"
	"github.com/desertthunder/soundalike/internal/progress"
	"github.com/desertthunder/soundalike/internal/shared"
)

// RecordingChannel is a [progress.Channel] that keeps every published payload.
type RecordingChannel struct {
	mu       sync.Mutex
	Payloads map[string][]progress.Payload
	Err      error // returned from Publish when set
}

func NewRecordingChannel() *RecordingChannel {
	return &RecordingChannel{Payloads: make(map[string][]progress.Payload)}
}

func (r *RecordingChannel) Publish(ctx context.Context, jobID string, p progress.Payload) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.Err != nil {
		return r.Err
	}
	r.Payloads[jobID] = append(r.Payloads[jobID], p)
	return nil
}

func (r *RecordingChannel) Latest(ctx context.Context, jobID string) (progress.Payload, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	ps := r.Payloads[jobID]
	if len(ps) == 0 {
		return nil, shared.ErrNoProgress
	}
	return ps[len(ps)-1], nil
}

func (r *RecordingChannel) Subscribe(ctx context.Context, jobID string) (<-chan progress.Payload, error) {
	return nil, shared.ErrNotImplemented
}

func (r *RecordingChannel) Close() error { return nil }

// Statuses lists the status of each payload published for jobID, in order.
func (r *RecordingChannel) Statuses(jobID string) []progress.Status {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]progress.Status, len(r.Payloads[jobID]))
	for i, p := range r.Payloads[jobID] {
		out[i] = p.Status()
	}
	return out
}

// UnitVector returns an embedding-sized vector with a 1 at position hot.
func UnitVector(hot int) []float32 {
	v := make([]float32, models.EmbeddingDim)
	v[hot%models.EmbeddingDim] = 1
	return v
}

// FWriter always returns an error on Write
type FWriter struct{}

func (f *FWriter) Write(p []byte) (n int, err error) {
	return 0, errors.New("write failed")
}

// LimitedWriter fails after a certain number of writes
type LimitedWriter struct {
	maxWrites int
	written   int
	target    io.Writer
}

func (l *LimitedWriter) Write(p []byte) (n int, err error) {
	if l.written >= l.maxWrites {
		return 0, errors.New("write limit exceeded")
	}
	l.written++
	return l.target.Write(p)
}

func NewLimitedWriter(maxWrites, written int, target io.Writer) LimitedWriter {
	return LimitedWriter{maxWrites: maxWrites, written: written, target: target}
}

// MockRoundTripper allows custom HTTP responses for testing
type MockRoundTripper struct {
	response *http.Response
	err      error
}

func NewMockRoundTripper(r *http.Response, e error) *MockRoundTripper {
	return &MockRoundTripper{response: r, err: e}
}

func (m *MockRoundTripper) RoundTrip(*http.Request) (*http.Response, error) {
	return m.response, m.err
}

// FCloser simulates a failure when reading response body
type FCloser struct{}

func (f *FCloser) Read(p []byte) (n int, err error) {
	return 0, errors.New("read failed")
}

func (f *FCloser) Close() error {
	return nil
}

func MustGetwd(t *testing.T) string {
	t.Helper()
	wd, err := os.Getwd()
	if err != nil {
		t.Fatalf("Failed to get working directory: %v", err)
	}
	return wd
}

func MustChdir(t *testing.T, dir string) {
	t.Helper()
	if err := os.Chdir(dir); err != nil {
		t.Fatalf("Failed to change directory to %s: %v", dir, err)
	}
}

func AssertFileExists(t *testing.T, path string) {
	t.Helper()
	if _, err := os.Stat(path); os.IsNotExist(err) {
		t.Errorf("File does not exist: %s", path)
	}
}

func MustReadFile(t *testing.T, path string) string {
	t.Helper()
	content, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("Failed to read file %s: %v", path, err)
	}
	return string(content)
}
