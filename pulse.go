// Package pulse is an embeddable analytics client for Go applications
// that serve hypermedia or server-rendered HTML. It captures page
// views, custom events, user identification, web-vitals metrics, and
// declarative HTML click interactions, enriches them with session and
// first-touch attribution context, and delivers them fire-and-forget
// to a collection endpoint.
//
// Client state (session identifier, attribution record) is persisted
// through a ranked fallback chain of storage media — sqlite, flat
// files, redis, and an always-available in-process store — so that
// state survives whichever media the deployment happens to block.
//
// Layers & Roles
//
//	pulse.Client   -> event assembly, enrichment, delivery
//	storage.Chain  -> ranked-fallback key/value persistence
//	session        -> 30-minute non-sliding session identifier
//	attribution    -> 24-hour first-touch UTM capture
//	clicktrack     -> declarative data-track-* click resolution
package pulse

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/pulsemetrics/pulse-go/attribution"
	"github.com/pulsemetrics/pulse-go/clicktrack"
	"github.com/pulsemetrics/pulse-go/internal/logctx"
	"github.com/pulsemetrics/pulse-go/session"
	"github.com/pulsemetrics/pulse-go/storage"
	fsstore "github.com/pulsemetrics/pulse-go/storage/fs"
	memstore "github.com/pulsemetrics/pulse-go/storage/memory"
	redisstore "github.com/pulsemetrics/pulse-go/storage/redis"
	sqlitestore "github.com/pulsemetrics/pulse-go/storage/sqlite"
)

const (
	libraryName    = "pulse-go"
	libraryVersion = "0.3.0"
)

// Client assembles and delivers analytics events. Construct with New
// or NewFromEnv; the zero value is unusable.
type Client struct {
	cfg         Config
	log         *slog.Logger
	httpClient  *http.Client
	synchronous bool

	chain    *storage.Chain
	sessions *session.Store
	attr     *attribution.Store
	clicks   *clicktrack.Resolver

	mu     sync.Mutex
	closed bool
	wg     sync.WaitGroup
}

// New creates a Client, probes the configured storage media once, and
// installs the client as the process default (last-initialized wins).
// A missing write key is a hard error, never defaulted.
func New(cfg Config, opts ...Option) (*Client, error) {
	if cfg.WriteKey == "" {
		return nil, ErrMissingWriteKey
	}
	if cfg.Endpoint == "" {
		cfg.Endpoint = DefaultEndpoint
	}
	if cfg.StorageMethod == "" {
		cfg.StorageMethod = string(storage.MethodSQLite)
	}
	if len(cfg.StorageFallbacks) == 0 {
		cfg.StorageFallbacks = []string{string(storage.MethodFile), string(storage.MethodRedis)}
	}

	cc := &clientConfig{logger: slog.Default(), httpClient: http.DefaultClient}
	for _, opt := range opts {
		opt(cc)
	}
	log := slog.New(logctx.Handler{Handler: cc.logger.Handler()})

	chain := storage.NewChain(context.Background(), buildStores(cfg, log), storage.WithLogger(log))

	c := &Client{
		cfg:         cfg,
		log:         log,
		httpClient:  cc.httpClient,
		synchronous: cc.synchronous,
		chain:       chain,
		sessions:    session.New(chain, session.WithLogger(log)),
		attr:        attribution.New(chain, attribution.WithLogger(log)),
	}
	c.clicks = clicktrack.New(
		clicktrack.WithLogger(log),
		clicktrack.WithTracker(func() clicktrack.Tracker {
			// Click resolution reports through the process default so a
			// replaced client takes effect without re-wiring handlers.
			if d := Default(); d != nil {
				return d
			}
			return nil
		}),
	)

	SetDefault(c)
	log.Debug("client.init", slog.Any("storage_chain", chain.Methods()))
	return c, nil
}

// NewFromEnv builds a Client from PULSE_* environment variables.
func NewFromEnv(opts ...Option) (*Client, error) {
	return New(ConfigFromEnv(), opts...)
}

// buildStores assembles the ranked candidate list: primary method,
// configured fallbacks, then the in-process store unless disabled.
// Construction failures only log; the chain's probe decides membership.
func buildStores(cfg Config, log *slog.Logger) []storage.Store {
	methods := append([]string{cfg.StorageMethod}, cfg.StorageFallbacks...)

	var out []storage.Store
	seen := make(map[storage.Method]bool)
	add := func(m storage.Method, s storage.Store, err error) {
		if err != nil {
			log.Debug("storage.build.fail", slog.String("method", string(m)), slog.String("err", err.Error()))
			return
		}
		if seen[m] {
			return
		}
		seen[m] = true
		out = append(out, s)
	}

	for _, m := range methods {
		switch storage.Method(m) {
		case storage.MethodSQLite:
			path := ""
			if cfg.StateDir != "" {
				path = filepath.Join(cfg.StateDir, "state.db")
			}
			s, err := sqlitestore.New(path)
			add(storage.MethodSQLite, s, err)
		case storage.MethodFile:
			s, err := fsstore.New(cfg.StateDir)
			add(storage.MethodFile, s, err)
		case storage.MethodRedis:
			s, err := redisstore.New(redisstore.Config{Addr: cfg.RedisAddr})
			add(storage.MethodRedis, s, err)
		case storage.MethodMemory:
			s, err := memstore.New(0)
			add(storage.MethodMemory, s, err)
		case "":
		default:
			log.Warn("storage.method.unknown", slog.String("method", m))
		}
	}

	if !cfg.DisableMemoryStore && !seen[storage.MethodMemory] {
		s, err := memstore.New(0)
		add(storage.MethodMemory, s, err)
	}
	return out
}

// PageView describes one served page.
type PageView struct {
	URL      string
	Title    string
	Referrer string
}

// Metric is a web-vitals measurement reported by the page. The client
// treats the measuring layer as a black box and passes values through.
type Metric struct {
	Name   string  // e.g. "LCP", "CLS", "INP"
	ID     string  // measurement instance id
	Value  float64
	Delta  float64
	Rating string // "good" | "needs-improvement" | "poor"
}

// Track emits a custom event enriched with the session identifier,
// attribution record, and library metadata. Delivery is
// fire-and-forget: there is no retry and no surfaced error.
func (c *Client) Track(ctx context.Context, event string, props map[string]any) {
	// Registering the delivery before Close starts waiting keeps the
	// WaitGroup accounting valid; events arriving after Close drop.
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		c.log.WarnContext(ctx, "event.dropped.closed", slog.String("event", event))
		return
	}
	c.wg.Add(1)
	c.mu.Unlock()

	envelope := eventEnvelope{
		EventID:     uuid.NewString(),
		Event:       event,
		Timestamp:   time.Now().UTC(),
		SessionID:   c.sessions.ID(ctx),
		Properties:  props,
		Attribution: c.attr.Data(ctx),
		Library:     libraryInfo{Name: libraryName, Version: libraryVersion},
	}

	ctx = logctx.WithEventData(ctx, &logctx.EventData{Event: event, EventID: envelope.EventID})
	ctx = logctx.WithSessionData(ctx, &logctx.SessionData{SessionID: envelope.SessionID})

	body, err := json.Marshal(envelope)
	if err != nil {
		c.wg.Done()
		c.log.WarnContext(ctx, "event.encode.fail", slog.String("err", err.Error()))
		return
	}

	if c.synchronous {
		defer c.wg.Done()
		c.deliver(ctx, body)
		return
	}
	go func() {
		defer c.wg.Done()
		// Detach from the caller's cancellation: delivery outlives the
		// request that produced the event.
		c.deliver(context.WithoutCancel(ctx), body)
	}()
}

// Page captures first-touch attribution from the page URL, then emits
// a page_view event.
func (c *Client) Page(ctx context.Context, pv PageView) {
	props := map[string]any{
		"page_url": pv.URL,
		"referrer": pv.Referrer,
	}
	if pv.Title != "" {
		props["page_title"] = pv.Title
	}

	u, err := url.Parse(pv.URL)
	if err != nil {
		c.log.WarnContext(ctx, "page.url.invalid", slog.String("url", pv.URL), slog.String("err", err.Error()))
	} else {
		props["page_path"] = u.Path
		c.attr.Capture(ctx, u, pv.Referrer)
	}

	c.Track(ctx, "page_view", props)
}

// Identify emits an identify event binding the session to a user.
func (c *Client) Identify(ctx context.Context, userID string, traits map[string]any) {
	if userID == "" {
		c.log.WarnContext(ctx, "identify.user.missing")
		return
	}
	props := map[string]any{"user_id": userID}
	if len(traits) > 0 {
		props["traits"] = traits
	}
	c.Track(ctx, "identify", props)
}

// Vitals emits a web_vital event for one metric measurement.
func (c *Client) Vitals(ctx context.Context, m Metric) {
	c.Track(ctx, "web_vital", map[string]any{
		"metric_name":   m.Name,
		"metric_id":     m.ID,
		"metric_value":  m.Value,
		"metric_delta":  m.Delta,
		"metric_rating": m.Rating,
	})
}

// Clicks returns the click resolver. Call Initialize on it to arm
// declarative click tracking, then feed it clicks via its handler.
func (c *Client) Clicks() *clicktrack.Resolver { return c.clicks }

// Sessions returns the session store.
func (c *Client) Sessions() *session.Store { return c.sessions }

// Attribution returns the attribution store.
func (c *Client) Attribution() *attribution.Store { return c.attr }

// Storage returns the active storage chain.
func (c *Client) Storage() *storage.Chain { return c.chain }

// Close waits for in-flight deliveries and releases storage media.
// Events tracked after Close are dropped with a warning. Close does not
// clear the process default slot; calling it twice is a no-op.
func (c *Client) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	c.mu.Unlock()

	c.wg.Wait()
	return c.chain.Close()
}

type eventEnvelope struct {
	EventID     string            `json:"event_id"`
	Event       string            `json:"event"`
	Timestamp   time.Time         `json:"timestamp"`
	SessionID   string            `json:"session_id"`
	Properties  map[string]any    `json:"properties,omitempty"`
	Attribution *attribution.Data `json:"attribution,omitempty"`
	Library     libraryInfo       `json:"library"`
}

type libraryInfo struct {
	Name    string `json:"name"`
	Version string `json:"version"`
}

// deliver performs one POST to the collection endpoint. Failures are
// logged at debug level and dropped; there is deliberately no retry,
// no backoff, and no error return.
func (c *Client) deliver(ctx context.Context, body []byte) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.Endpoint, bytes.NewReader(body))
	if err != nil {
		c.log.DebugContext(ctx, "transport.request.fail", slog.String("err", err.Error()))
		return
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.cfg.WriteKey)
	req.Header.Set("User-Agent", libraryName+"/"+libraryVersion)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		c.log.DebugContext(ctx, "transport.send.fail", slog.String("err", err.Error()))
		return
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)

	if resp.StatusCode >= 300 {
		c.log.DebugContext(ctx, "transport.send.rejected", slog.Int("status", resp.StatusCode))
	}
}

// --- Process default slot ---

var (
	defaultMu     sync.RWMutex
	defaultClient *Client
)

// SetDefault installs c as the process-wide default client read by the
// click resolver at click time. Last initialized wins; the slot is
// overwritten, never torn down.
func SetDefault(c *Client) {
	defaultMu.Lock()
	defaultClient = c
	defaultMu.Unlock()
}

// Default returns the process-wide default client, or nil before any
// client has been constructed.
func Default() *Client {
	defaultMu.RLock()
	defer defaultMu.RUnlock()
	return defaultClient
}

// Compile-time interface check
var _ clicktrack.Tracker = (*Client)(nil)
