package shared

import (
	_ "embed"
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"
)

//go:embed config.example.toml
var exampleConf []byte

// Config represents the application configuration loaded from a TOML file.
type Config struct {
	LogLevel    string            `toml:"log_level"`
	Credentials CredentialsConfig `toml:"credentials"`
	Database    DatabaseConfig    `toml:"database"`
	Server      ServerConfig      `toml:"server"`
	Progress    ProgressConfig    `toml:"progress"`
	Audio       AudioConfig       `toml:"audio"`
	Embedding   EmbeddingConfig   `toml:"embedding"`
	Preview     PreviewConfig     `toml:"preview"`
	Workers     WorkersConfig     `toml:"workers"`
}

// CredentialsConfig contains service-specific credentials.
type CredentialsConfig struct {
	Spotify SpotifyConfig `toml:"spotify"`
}

// SpotifyConfig contains Spotify API credentials.
type SpotifyConfig struct {
	ClientID     string `toml:"client_id"`
	ClientSecret string `toml:"client_secret"`
	RedirectURI  string `toml:"redirect_uri"`
}

// DatabaseConfig contains catalog store settings.
//
// Driver is either "sqlite" (Path is used) or "postgres" (DSN is used).
type DatabaseConfig struct {
	Driver       string `toml:"driver"`
	Path         string `toml:"path"`
	DSN          string `toml:"dsn"`
	MaxOpenConns int    `toml:"max_open_conns"`
	MaxIdleConns int    `toml:"max_idle_conns"`
}

// ServerConfig contains HTTP server settings.
type ServerConfig struct {
	Host string `toml:"host"`
	Port int    `toml:"port"`
}

// Addr returns the host:port listen address.
func (s ServerConfig) Addr() string {
	return s.Host + ":" + strconv.Itoa(s.Port)
}

// BaseURL returns the URL clients use to reach the API.
func (s ServerConfig) BaseURL() string {
	host := s.Host
	if host == "" || host == "0.0.0.0" {
		host = "127.0.0.1"
	}
	return fmt.Sprintf("http://%s:%d", host, s.Port)
}

// ProgressConfig selects the progress channel backend.
//
// Backend is "badger" (embedded, single process) or "nats".
type ProgressConfig struct {
	Backend string   `toml:"backend"`
	Path    string   `toml:"path"`
	NATSURL string   `toml:"nats_url"`
	Bucket  string   `toml:"bucket"`
	TTL     Duration `toml:"ttl"`
}

// AudioConfig contains preview download and decode settings.
type AudioConfig struct {
	Decoder       string   `toml:"decoder"`
	FFmpegPath    string   `toml:"ffmpeg_path"`
	SampleRate    int      `toml:"sample_rate"`
	FetchTimeout  Duration `toml:"fetch_timeout"`
	DecodeTimeout Duration `toml:"decode_timeout"`
	TempDir       string   `toml:"temp_dir"`
}

// EmbeddingConfig points at the model server that turns audio into vectors.
type EmbeddingConfig struct {
	Endpoint   string   `toml:"endpoint"`
	Model      string   `toml:"model"`
	Timeout    Duration `toml:"timeout"`
	Dimensions int      `toml:"dimensions"`
}

// PreviewConfig tunes preview URL resolution.
type PreviewConfig struct {
	RequestsPerSecond float64 `toml:"requests_per_second"`
	MinSimilarity     float64 `toml:"min_similarity"`
	Market            string  `toml:"market"`
}

// WorkersConfig sizes the job runner.
type WorkersConfig struct {
	Count     int `toml:"count"`
	QueueSize int `toml:"queue_size"`
}

// Duration is a [time.Duration] that decodes from TOML strings such as "30s" or "1h".
type Duration struct {
	time.Duration
}

// UnmarshalText implements [encoding.TextUnmarshaler].
func (d *Duration) UnmarshalText(text []byte) error {
	v, err := time.ParseDuration(string(text))
	if err != nil {
		return fmt.Errorf("%w: duration %q: %v", ErrInvalidConfig, string(text), err)
	}
	d.Duration = v
	return nil
}

// MarshalText implements [encoding.TextMarshaler].
func (d Duration) MarshalText() ([]byte, error) {
	return []byte(d.Duration.String()), nil
}

// LoadConfig reads and parses a TOML configuration file from the specified path.
//
// Values missing from the file keep the embedded defaults, and environment
// variables (optionally loaded from a .env file) override both.
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	config := DefaultConfig()
	if err := toml.Unmarshal(data, config); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	if err := config.ApplyEnv(); err != nil {
		return nil, err
	}

	return config, nil
}

// DefaultConfig returns a Config with sensible defaults loaded from the embedded example config.
func DefaultConfig() *Config {
	var config Config
	if err := toml.Unmarshal(exampleConf, &config); err != nil {
		panic(fmt.Sprintf("failed to parse embedded default config: %v", err))
	}
	return &config
}

// CreateConfigFile creates a config.toml file at the specified path using the embedded example config.
func CreateConfigFile(path string) error {
	if _, err := os.Stat(path); err == nil {
		return fmt.Errorf("config file already exists at %s", path)
	}

	if err := os.WriteFile(path, exampleConf, 0644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}

// LoadDotEnv loads a .env file into the process environment without overriding
// variables that are already set. A missing file is not an error.
func LoadDotEnv(paths ...string) error {
	if len(paths) == 0 {
		paths = []string{".env"}
	}
	for _, p := range paths {
		if err := godotenv.Load(p); err != nil && !errors.Is(err, os.ErrNotExist) {
			return fmt.Errorf("failed to load %s: %w", p, err)
		}
	}
	return nil
}

// ApplyEnv overrides secrets and endpoints from the environment.
func (c *Config) ApplyEnv() error {
	overrides := []struct {
		key string
		dst *string
	}{
		{"SPOTIFY_CLIENT_ID", &c.Credentials.Spotify.ClientID},
		{"SPOTIFY_CLIENT_SECRET", &c.Credentials.Spotify.ClientSecret},
		{"SPOTIFY_REDIRECT_URI", &c.Credentials.Spotify.RedirectURI},
		{"SOUNDALIKE_DATABASE_DRIVER", &c.Database.Driver},
		{"SOUNDALIKE_DATABASE_PATH", &c.Database.Path},
		{"SOUNDALIKE_DATABASE_DSN", &c.Database.DSN},
		{"SOUNDALIKE_PROGRESS_BACKEND", &c.Progress.Backend},
		{"SOUNDALIKE_NATS_URL", &c.Progress.NATSURL},
		{"SOUNDALIKE_EMBEDDING_ENDPOINT", &c.Embedding.Endpoint},
		{"SOUNDALIKE_FFMPEG_PATH", &c.Audio.FFmpegPath},
		{"SOUNDALIKE_LOG_LEVEL", &c.LogLevel},
	}
	for _, o := range overrides {
		if v, ok := os.LookupEnv(o.key); ok && v != "" {
			*o.dst = v
		}
	}

	if v, ok := os.LookupEnv("SOUNDALIKE_WORKERS"); ok && v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("%w: SOUNDALIKE_WORKERS=%q", ErrInvalidConfig, v)
		}
		c.Workers.Count = n
	}
	return nil
}

// Validate reports configuration values that would prevent the worker from starting.
func (c *Config) Validate() error {
	switch c.Database.Driver {
	case "sqlite":
		if c.Database.Path == "" {
			return fmt.Errorf("%w: database.path is required for sqlite", ErrInvalidConfig)
		}
	case "postgres":
		if c.Database.DSN == "" {
			return fmt.Errorf("%w: database.dsn is required for postgres", ErrInvalidConfig)
		}
	default:
		return fmt.Errorf("%w: unknown database driver %q", ErrInvalidConfig, c.Database.Driver)
	}

	switch c.Progress.Backend {
	case "badger", "nats":
	default:
		return fmt.Errorf("%w: unknown progress backend %q", ErrInvalidConfig, c.Progress.Backend)
	}

	switch c.Audio.Decoder {
	case "ffmpeg", "native", "auto":
	default:
		return fmt.Errorf("%w: unknown audio decoder %q", ErrInvalidConfig, c.Audio.Decoder)
	}

	if c.Audio.SampleRate <= 0 {
		return fmt.Errorf("%w: audio.sample_rate must be positive", ErrInvalidConfig)
	}
	if c.Embedding.Dimensions <= 0 {
		return fmt.Errorf("%w: embedding.dimensions must be positive", ErrInvalidConfig)
	}
	if c.Workers.Count <= 0 || c.Workers.QueueSize <= 0 {
		return fmt.Errorf("%w: workers.count and workers.queue_size must be positive", ErrInvalidConfig)
	}
	return nil
}
