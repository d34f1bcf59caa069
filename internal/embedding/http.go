package embedding

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/charmbracelet/log"
	"github.com/goccy/go-json"
	gobreaker "github.com/sony/gobreaker/v2"

	"github.com/desertthunder/soundalike/internal/metrics"
	"github.com/desertthunder/soundalike/internal/models"
	"github.com/desertthunder/soundalike/internal/shared"
)

const (
	breakerName      = "embedding-provider"
	defaultTimeout   = 2 * time.Minute
	maxResponseBytes = 1 << 20
)

type embedRequest struct {
	Model      string    `json:"model"`
	SampleRate int       `json:"sample_rate"`
	Samples    []float32 `json:"samples"`
}

type embedResponse struct {
	Embedding []float32 `json:"embedding"`
	Error     string    `json:"error,omitempty"`
}

// HTTPProvider posts samples to a model server and validates what comes back.
//
// Calls go through a circuit breaker so a dead model server fails tracks fast
// instead of holding every one for the full timeout.
type HTTPProvider struct {
	endpoint string
	model    string
	dim      int
	client   *http.Client
	breaker  *gobreaker.CircuitBreaker[[]float32]
	logger   *log.Logger
}

// NewHTTPProvider creates an [HTTPProvider] from cfg.
func NewHTTPProvider(cfg shared.EmbeddingConfig, logger *log.Logger) (*HTTPProvider, error) {
	if cfg.Endpoint == "" {
		return nil, fmt.Errorf("%w: embedding endpoint is required", shared.ErrMissingConfig)
	}
	if logger == nil {
		logger = shared.NewLogger(nil)
	}

	timeout := cfg.Timeout.Duration
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	dim := cfg.Dimensions
	if dim <= 0 {
		dim = models.EmbeddingDim
	}

	p := &HTTPProvider{
		endpoint: cfg.Endpoint,
		model:    cfg.Model,
		dim:      dim,
		client:   &http.Client{Timeout: timeout},
		logger:   logger,
	}
	p.breaker = gobreaker.NewCircuitBreaker[[]float32](gobreaker.Settings{
		Name:        breakerName,
		MaxRequests: 1,
		Interval:    5 * time.Minute,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
		// A malformed vector is the model's answer, not an outage.
		IsSuccessful: func(err error) bool {
			return err == nil || errors.Is(err, shared.ErrEmbedding)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warn("circuit breaker state change", "breaker", name, "from", from.String(), "to", to.String())
			metrics.RecordBreakerTransition(name, from, to)
		},
	})
	return p, nil
}

func (p *HTTPProvider) Model() string   { return p.model }
func (p *HTTPProvider) Dimensions() int { return p.dim }

// Embed returns a unit-norm vector for samples.
func (p *HTTPProvider) Embed(ctx context.Context, samples []float32, rate int) ([]float32, error) {
	if len(samples) == 0 {
		return nil, fmt.Errorf("%w: no samples", shared.ErrEmbedding)
	}

	vec, err := p.breaker.Execute(func() ([]float32, error) {
		return p.call(ctx, samples, rate)
	})
	metrics.RecordBreakerResult(breakerName, err)
	if err != nil {
		if errors.Is(err, shared.ErrEmbedding) {
			return nil, err
		}
		return nil, fmt.Errorf("%w: %v", shared.ErrEmbedding, err)
	}
	return vec, nil
}

func (p *HTTPProvider) call(ctx context.Context, samples []float32, rate int) ([]float32, error) {
	body, err := json.Marshal(embedRequest{Model: p.model, SampleRate: rate, Samples: samples})
	if err != nil {
		return nil, fmt.Errorf("%w: encode request: %v", shared.ErrEmbedding, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", shared.ErrEmbedding, err)
	}
	req.Header.Set("Content-Type", "application/json")

	start := time.Now()
	resp, err := p.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", shared.ErrServiceUnavailable, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return nil, fmt.Errorf("%w: read response: %v", shared.ErrServiceUnavailable, err)
	}

	var out embedResponse
	decodeErr := json.Unmarshal(data, &out)

	switch {
	case resp.StatusCode >= 500:
		return nil, fmt.Errorf("%w: model server returned %d: %s", shared.ErrServiceUnavailable, resp.StatusCode, out.Error)
	case resp.StatusCode != http.StatusOK:
		return nil, fmt.Errorf("%w: model server returned %d: %s", shared.ErrEmbedding, resp.StatusCode, out.Error)
	case decodeErr != nil:
		return nil, fmt.Errorf("%w: decode response: %v", shared.ErrEmbedding, decodeErr)
	}

	p.logger.Debug("embedded clip", "samples", len(samples), "rate", rate, "elapsed", time.Since(start))
	return Normalize(out.Embedding, p.dim)
}
