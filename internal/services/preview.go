package services

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"regexp"
	"strings"
	"time"

	"github.com/adrg/strutil"
	"github.com/adrg/strutil/metrics"
	"github.com/charmbracelet/log"
	gobreaker "github.com/sony/gobreaker/v2"
	"github.com/zmb3/spotify/v2"
	spotifyauth "github.com/zmb3/spotify/v2/auth"
	"golang.org/x/oauth2/clientcredentials"
	"golang.org/x/time/rate"

	appmetrics "github.com/desertthunder/soundalike/internal/metrics"
	"github.com/desertthunder/soundalike/internal/models"
	"github.com/desertthunder/soundalike/internal/shared"
)

const (
	previewBreaker   = "preview-resolver"
	searchLimit      = 2
	defaultEmbedBase = "https://open.spotify.com/embed/track/"
	maxEmbedPage     = 2 << 20
)

var previewPattern = regexp.MustCompile(`https://p\.scdn\.co/mp3-preview/[A-Za-z0-9]+(?:\?[^"'\\\s<>]*)?`)

// PreviewOptions tunes a [SpotifyPreviewResolver]. Zero values take the
// production endpoints and the defaults from config.
type PreviewOptions struct {
	RequestsPerSecond float64
	MinSimilarity     float64
	Market            string

	TokenURL     string
	APIBaseURL   string
	EmbedBaseURL string
	HTTPClient   *http.Client
}

// SpotifyPreviewResolver finds preview clips by catalog search.
type SpotifyPreviewResolver struct {
	client    *spotify.Client
	http      *http.Client
	embedBase string
	market    string
	minScore  float64
	limiter   *rate.Limiter
	breaker   *gobreaker.CircuitBreaker[string]
	jw        *metrics.JaroWinkler
	logger    *log.Logger
}

// NewPreviewResolver creates a resolver that authenticates as the app, not as
// any user.
func NewPreviewResolver(ctx context.Context, creds shared.SpotifyConfig, opts PreviewOptions, logger *log.Logger) (*SpotifyPreviewResolver, error) {
	if creds.ClientID == "" || creds.ClientSecret == "" {
		return nil, fmt.Errorf("%w: spotify client credentials", shared.ErrMissingCredentials)
	}
	if logger == nil {
		logger = shared.NewLogger(nil)
	}

	tokenURL := opts.TokenURL
	if tokenURL == "" {
		tokenURL = spotifyauth.TokenURL
	}
	rps := opts.RequestsPerSecond
	if rps <= 0 {
		rps = 2
	}
	embedBase := opts.EmbedBaseURL
	if embedBase == "" {
		embedBase = defaultEmbedBase
	}
	httpClient := opts.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 15 * time.Second}
	}

	cc := &clientcredentials.Config{
		ClientID:     creds.ClientID,
		ClientSecret: creds.ClientSecret,
		TokenURL:     tokenURL,
	}
	var clientOpts []spotify.ClientOption
	if opts.APIBaseURL != "" {
		clientOpts = append(clientOpts, spotify.WithBaseURL(opts.APIBaseURL))
	}

	jw := metrics.NewJaroWinkler()
	jw.CaseSensitive = false

	return &SpotifyPreviewResolver{
		client:    spotify.New(cc.Client(ctx), clientOpts...),
		http:      httpClient,
		embedBase: embedBase,
		market:    opts.Market,
		minScore:  opts.MinSimilarity,
		limiter:   rate.NewLimiter(rate.Limit(rps), 1),
		breaker: gobreaker.NewCircuitBreaker[string](gobreaker.Settings{
			Name:    previewBreaker,
			Timeout: time.Minute,
			ReadyToTrip: func(counts gobreaker.Counts) bool {
				return counts.ConsecutiveFailures >= 5
			},
			OnStateChange: func(name string, from, to gobreaker.State) {
				logger.Warn("circuit breaker state change", "breaker", name, "from", from.String(), "to", to.String())
				appmetrics.RecordBreakerTransition(name, from, to)
			},
		}),
		jw:     jw,
		logger: logger,
	}, nil
}

// Resolve looks up every track in order. Lookups that fail are logged and
// left out; an open breaker or a cancelled context fails the whole batch.
func (r *SpotifyPreviewResolver) Resolve(ctx context.Context, tracks []models.SavedTrack) (map[string]string, error) {
	start := time.Now()
	defer func() { appmetrics.ObserveStage("resolve", time.Since(start)) }()

	out := make(map[string]string, len(tracks))
	var found, missing, failed int

	for _, t := range tracks {
		key := t.Key()
		if _, done := out[key]; done {
			continue
		}
		if t.Name == "" || t.Artist == "" {
			missing++
			continue
		}

		if err := r.limiter.Wait(ctx); err != nil {
			return nil, err
		}

		url, err := r.breaker.Execute(func() (string, error) {
			return r.lookup(ctx, t)
		})
		appmetrics.RecordBreakerResult(previewBreaker, err)

		switch {
		case errors.Is(err, gobreaker.ErrOpenState), ctx.Err() != nil:
			appmetrics.RecordPreviewLookup("error", 1)
			return nil, fmt.Errorf("%w: preview lookup aborted: %v", shared.ErrServiceUnavailable, err)
		case err != nil:
			failed++
			r.logger.Warn("preview lookup failed", "track", key, "error", err)
		case url == "":
			missing++
		default:
			found++
			out[key] = url
		}
	}

	appmetrics.RecordPreviewLookup("found", found)
	appmetrics.RecordPreviewLookup("missing", missing)
	appmetrics.RecordPreviewLookup("error", failed)
	r.logger.Info("resolved previews", "found", found, "missing", missing, "failed", failed, "total", len(tracks))
	return out, nil
}

// lookup searches for t and returns the preview of the best candidate, or "".
func (r *SpotifyPreviewResolver) lookup(ctx context.Context, t models.SavedTrack) (string, error) {
	query := fmt.Sprintf("track:%s artist:%s", t.Name, firstArtist(t.Artist))
	opts := []spotify.RequestOption{spotify.Limit(searchLimit)}
	if r.market != "" {
		opts = append(opts, spotify.Market(r.market))
	}

	res, err := r.client.Search(ctx, query, spotify.SearchTypeTrack, opts...)
	if err != nil {
		return "", fmt.Errorf("%w: search %q: %v", shared.ErrAPIRequest, query, err)
	}
	if res.Tracks == nil || len(res.Tracks.Tracks) == 0 {
		return "", nil
	}

	best, ok := r.bestMatch(t, res.Tracks.Tracks)
	if !ok {
		return "", nil
	}
	if best.PreviewURL != "" {
		return best.PreviewURL, nil
	}
	return r.scrapePreview(ctx, string(best.ID))
}

// bestMatch ranks candidates by Jaro-Winkler similarity of "name artist".
// Ties keep the catalog's order.
func (r *SpotifyPreviewResolver) bestMatch(t models.SavedTrack, candidates []spotify.FullTrack) (spotify.FullTrack, bool) {
	want := t.Name + " " + t.Artist
	var (
		best  spotify.FullTrack
		score = -1.0
	)
	for _, c := range candidates {
		names := make([]string, 0, len(c.Artists))
		for _, a := range c.Artists {
			names = append(names, a.Name)
		}
		s := strutil.Similarity(want, c.Name+" "+models.JoinArtists(names), r.jw)
		if s > score {
			best, score = c, s
		}
	}
	return best, score >= r.minScore
}

// scrapePreview reads the embed page of a track and extracts the preview link.
func (r *SpotifyPreviewResolver) scrapePreview(ctx context.Context, id string) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, r.embedBase+id, nil)
	if err != nil {
		return "", err
	}
	resp, err := r.http.Do(req)
	if err != nil {
		return "", fmt.Errorf("%w: embed page: %v", shared.ErrAPIRequest, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return "", nil
	}
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("%w: embed page status %d", shared.ErrAPIRequest, resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxEmbedPage))
	if err != nil {
		return "", fmt.Errorf("%w: read embed page: %v", shared.ErrAPIRequest, err)
	}
	return previewPattern.FindString(string(body)), nil
}

func firstArtist(artists string) string {
	name, _, _ := strings.Cut(artists, ", ")
	return name
}
