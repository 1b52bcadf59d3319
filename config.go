package pulse

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/joeshaw/envdecode"
)

// ErrMissingWriteKey is returned by New when no write key is
// configured. The write key identifies the workspace events belong to;
// silently defaulting it would route data nowhere useful, so this is a
// hard constructor error.
var ErrMissingWriteKey = errors.New("pulse: write key is required")

// DefaultEndpoint receives events when no endpoint is configured.
const DefaultEndpoint = "https://ingest.pulsemetrics.dev/v1/events"

// Config controls client construction. Defaults can be loaded from the
// environment via envdecode (see NewFromEnv).
type Config struct {
	// WriteKey authenticates the client to the collection endpoint.
	// Required. ENV: PULSE_WRITE_KEY
	WriteKey string `env:"PULSE_WRITE_KEY"`

	// Endpoint is the collection URL. ENV: PULSE_ENDPOINT
	Endpoint string `env:"PULSE_ENDPOINT,default=https://ingest.pulsemetrics.dev/v1/events"`

	// StorageMethod is the primary persistence medium.
	// ENV: PULSE_STORAGE_METHOD
	StorageMethod string `env:"PULSE_STORAGE_METHOD,default=sqlite"`

	// StorageFallbacks are tried, in order, when the primary medium is
	// unavailable or rejects a write. ENV: PULSE_STORAGE_FALLBACKS
	StorageFallbacks []string `env:"PULSE_STORAGE_FALLBACKS,default=file;redis"`

	// DisableMemoryStore drops the always-available in-process medium
	// normally appended after the fallbacks.
	// ENV: PULSE_DISABLE_MEMORY_STORE
	DisableMemoryStore bool `env:"PULSE_DISABLE_MEMORY_STORE,default=false"`

	// StateDir overrides the directory used by the sqlite and file
	// media. Empty selects a per-user default. ENV: PULSE_STATE_DIR
	StateDir string `env:"PULSE_STATE_DIR"`

	// RedisAddr configures the redis medium. Empty leaves the medium's
	// own default in place. ENV: PULSE_REDIS_ADDR
	RedisAddr string `env:"PULSE_REDIS_ADDR"`
}

// Option configures a Client beyond Config.
type Option func(*clientConfig)

type clientConfig struct {
	logger      *slog.Logger
	httpClient  *http.Client
	synchronous bool
}

// WithLogger sets the slog logger used by the client. If not provided,
// slog.Default() is used.
func WithLogger(log *slog.Logger) Option {
	return func(c *clientConfig) { c.logger = log }
}

// WithHTTPClient overrides the HTTP client used for delivery.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *clientConfig) { c.httpClient = hc }
}

// WithSynchronousDelivery makes Track block until the POST completes
// instead of firing on a goroutine. Delivery stays fire-and-forget
// either way: failures are never surfaced. Intended for tests and
// short-lived processes that would otherwise exit mid-flight.
func WithSynchronousDelivery() Option {
	return func(c *clientConfig) { c.synchronous = true }
}

// ConfigFromEnv populates a Config via envdecode struct tags.
func ConfigFromEnv() Config {
	var cfg Config
	// Use envdecode; defaults are provided via struct tags.
	_ = envdecode.Decode(&cfg)
	return cfg
}
