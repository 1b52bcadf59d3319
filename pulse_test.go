package pulse

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync"
	"testing"

	"golang.org/x/net/html"

	"github.com/pulsemetrics/pulse-go/clicktrack"
	"github.com/pulsemetrics/pulse-go/storage"
)

type receivedEvent struct {
	EventID     string         `json:"event_id"`
	Event       string         `json:"event"`
	SessionID   string         `json:"session_id"`
	Properties  map[string]any `json:"properties"`
	Attribution map[string]any `json:"attribution"`
	Library     struct {
		Name    string `json:"name"`
		Version string `json:"version"`
	} `json:"library"`
}

type captureServer struct {
	mu     sync.Mutex
	events []receivedEvent
	auth   []string
	srv    *httptest.Server
}

func newCaptureServer(t *testing.T) *captureServer {
	t.Helper()
	cs := &captureServer{}
	cs.srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var ev receivedEvent
		if err := json.NewDecoder(r.Body).Decode(&ev); err != nil {
			t.Errorf("decoding event failed: %v", err)
		}
		cs.mu.Lock()
		cs.events = append(cs.events, ev)
		cs.auth = append(cs.auth, r.Header.Get("Authorization"))
		cs.mu.Unlock()
		w.WriteHeader(http.StatusAccepted)
	}))
	t.Cleanup(cs.srv.Close)
	return cs
}

func (cs *captureServer) all() []receivedEvent {
	cs.mu.Lock()
	defer cs.mu.Unlock()
	return append([]receivedEvent(nil), cs.events...)
}

func newTestClient(t *testing.T, cs *captureServer) *Client {
	t.Helper()
	c, err := New(Config{
		WriteKey:      "wk-test",
		Endpoint:      cs.srv.URL,
		StorageMethod: "memory",
	}, WithSynchronousDelivery())
	if err != nil {
		t.Fatalf("New() failed: %v", err)
	}
	t.Cleanup(func() { c.Close() })
	return c
}

func TestNewRequiresWriteKey(t *testing.T) {
	_, err := New(Config{})
	if !errors.Is(err, ErrMissingWriteKey) {
		t.Fatalf("New() error = %v, want ErrMissingWriteKey", err)
	}
}

func TestTrackEnrichment(t *testing.T) {
	cs := newCaptureServer(t)
	c := newTestClient(t, cs)
	ctx := context.Background()

	c.Track(ctx, "signup_completed", map[string]any{"plan": "pro"})

	events := cs.all()
	if len(events) != 1 {
		t.Fatalf("received %d events, want 1", len(events))
	}
	ev := events[0]
	if ev.Event != "signup_completed" {
		t.Fatalf("event = %q, want signup_completed", ev.Event)
	}
	if ev.EventID == "" {
		t.Fatal("event_id missing")
	}
	if ev.SessionID == "" {
		t.Fatal("session_id missing")
	}
	if ev.Properties["plan"] != "pro" {
		t.Fatalf("plan = %v, want pro", ev.Properties["plan"])
	}
	if ev.Library.Name != "pulse-go" || ev.Library.Version == "" {
		t.Fatalf("library = %+v, want pulse-go with version", ev.Library)
	}
	if cs.auth[0] != "Bearer wk-test" {
		t.Fatalf("Authorization = %q, want Bearer wk-test", cs.auth[0])
	}
}

func TestTrackSessionStableAcrossEvents(t *testing.T) {
	cs := newCaptureServer(t)
	c := newTestClient(t, cs)
	ctx := context.Background()

	c.Track(ctx, "first", nil)
	c.Track(ctx, "second", nil)

	events := cs.all()
	if len(events) != 2 {
		t.Fatalf("received %d events, want 2", len(events))
	}
	if events[0].SessionID != events[1].SessionID {
		t.Fatalf("session ids differ: %q vs %q", events[0].SessionID, events[1].SessionID)
	}
}

func TestPageCapturesAttribution(t *testing.T) {
	cs := newCaptureServer(t)
	c := newTestClient(t, cs)
	ctx := context.Background()

	c.Page(ctx, PageView{
		URL:      "https://example.com/landing?utm_source=newsletter",
		Title:    "Landing",
		Referrer: "https://referrer.example",
	})
	c.Track(ctx, "cta_clicked", nil)

	events := cs.all()
	if len(events) != 2 {
		t.Fatalf("received %d events, want 2", len(events))
	}
	pv := events[0]
	if pv.Event != "page_view" {
		t.Fatalf("event = %q, want page_view", pv.Event)
	}
	if pv.Properties["page_path"] != "/landing" {
		t.Fatalf("page_path = %v, want /landing", pv.Properties["page_path"])
	}

	// Attribution captured by the page view decorates later events too.
	follow := events[1]
	if follow.Attribution == nil {
		t.Fatal("attribution missing on follow-up event")
	}
	if follow.Attribution["utm_source"] != "newsletter" {
		t.Fatalf("utm_source = %v, want newsletter", follow.Attribution["utm_source"])
	}
}

func TestPageWithoutUTMHasNoAttribution(t *testing.T) {
	cs := newCaptureServer(t)
	c := newTestClient(t, cs)

	c.Page(context.Background(), PageView{URL: "https://example.com/organic"})

	events := cs.all()
	if len(events) != 1 {
		t.Fatalf("received %d events, want 1", len(events))
	}
	if events[0].Attribution != nil {
		t.Fatalf("attribution = %v, want absent", events[0].Attribution)
	}
}

func TestIdentify(t *testing.T) {
	cs := newCaptureServer(t)
	c := newTestClient(t, cs)
	ctx := context.Background()

	c.Identify(ctx, "", nil) // missing user id: warn and drop
	c.Identify(ctx, "user-7", map[string]any{"tier": "pro"})

	events := cs.all()
	if len(events) != 1 {
		t.Fatalf("received %d events, want 1", len(events))
	}
	ev := events[0]
	if ev.Event != "identify" || ev.Properties["user_id"] != "user-7" {
		t.Fatalf("event = %+v, want identify for user-7", ev)
	}
	traits, ok := ev.Properties["traits"].(map[string]any)
	if !ok || traits["tier"] != "pro" {
		t.Fatalf("traits = %v, want tier=pro", ev.Properties["traits"])
	}
}

func TestVitals(t *testing.T) {
	cs := newCaptureServer(t)
	c := newTestClient(t, cs)

	c.Vitals(context.Background(), Metric{Name: "LCP", ID: "m-1", Value: 1810.5, Rating: "good"})

	events := cs.all()
	if len(events) != 1 {
		t.Fatalf("received %d events, want 1", len(events))
	}
	ev := events[0]
	if ev.Event != "web_vital" {
		t.Fatalf("event = %q, want web_vital", ev.Event)
	}
	if ev.Properties["metric_name"] != "LCP" || ev.Properties["metric_rating"] != "good" {
		t.Fatalf("properties = %v, want LCP/good", ev.Properties)
	}
}

func TestDeliveryFailureIsSwallowed(t *testing.T) {
	c, err := New(Config{
		WriteKey:      "wk-test",
		Endpoint:      "http://127.0.0.1:1/nowhere",
		StorageMethod: "memory",
	}, WithSynchronousDelivery())
	if err != nil {
		t.Fatalf("New() failed: %v", err)
	}
	defer c.Close()

	// Fire-and-forget: an unreachable endpoint must not surface.
	c.Track(context.Background(), "lost_event", nil)
}

func TestDefaultChainComposition(t *testing.T) {
	// An empty storage configuration composes the full default chain:
	// sqlite primary, file fallback, memory terminal. Redis membership
	// depends on a reachable server and is not asserted.
	c, err := New(Config{
		WriteKey: "wk-test",
		Endpoint: "http://127.0.0.1:1/nowhere",
		StateDir: t.TempDir(),
	}, WithSynchronousDelivery())
	if err != nil {
		t.Fatalf("New() failed: %v", err)
	}
	defer c.Close()

	st := c.Storage()
	if !st.IsAvailable(storage.MethodSQLite) {
		t.Fatalf("default primary sqlite not in chain; got %v", st.Methods())
	}
	if !st.IsAvailable(storage.MethodFile) {
		t.Fatalf("default fallback file not in chain; got %v", st.Methods())
	}
	if !st.IsAvailable(storage.MethodMemory) {
		t.Fatalf("terminal memory store not in chain; got %v", st.Methods())
	}
}

func TestDisableMemoryStore(t *testing.T) {
	c, err := New(Config{
		WriteKey:           "wk-test",
		Endpoint:           "http://127.0.0.1:1/nowhere",
		StorageMethod:      "sqlite",
		StorageFallbacks:   []string{"file"},
		StateDir:           t.TempDir(),
		DisableMemoryStore: true,
	}, WithSynchronousDelivery())
	if err != nil {
		t.Fatalf("New() failed: %v", err)
	}
	defer c.Close()

	st := c.Storage()
	if st.IsAvailable(storage.MethodMemory) {
		t.Fatalf("memory store present despite DisableMemoryStore; got %v", st.Methods())
	}
	if !st.IsAvailable(storage.MethodSQLite) {
		t.Fatalf("sqlite not in chain; got %v", st.Methods())
	}
}

func TestTrackAfterCloseDropped(t *testing.T) {
	cs := newCaptureServer(t)
	c, err := New(Config{
		WriteKey:      "wk-test",
		Endpoint:      cs.srv.URL,
		StorageMethod: "memory",
	}, WithSynchronousDelivery())
	if err != nil {
		t.Fatalf("New() failed: %v", err)
	}

	if err := c.Close(); err != nil {
		t.Fatalf("Close() failed: %v", err)
	}
	if err := c.Close(); err != nil {
		t.Fatalf("second Close() failed: %v", err)
	}

	c.Track(context.Background(), "late_event", nil)
	if got := len(cs.all()); got != 0 {
		t.Fatalf("received %d events after Close, want 0", got)
	}
}

func TestDefaultSlotLastWins(t *testing.T) {
	cs := newCaptureServer(t)
	first := newTestClient(t, cs)
	second := newTestClient(t, cs)

	if Default() != second {
		t.Fatal("Default() != most recently constructed client")
	}
	SetDefault(first)
	if Default() != first {
		t.Fatal("SetDefault() did not overwrite the slot")
	}
}

func TestClickResolutionThroughDefault(t *testing.T) {
	cs := newCaptureServer(t)
	c := newTestClient(t, cs)

	resolver := c.Clicks()
	resolver.Initialize()
	if !resolver.Initialized() {
		t.Fatal("resolver not initialized")
	}

	doc, err := html.Parse(strings.NewReader(
		`<div data-track data-track-prop-zone="footer"><a id="cta" href="/signup">Sign up</a></div>`))
	if err != nil {
		t.Fatalf("html.Parse failed: %v", err)
	}
	var target *html.Node
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.ElementNode && n.Data == "a" {
			target = n
			return
		}
		for child := n.FirstChild; child != nil; child = child.NextSibling {
			walk(child)
		}
	}
	walk(doc)
	if target == nil {
		t.Fatal("anchor not found")
	}

	page, err := url.Parse("https://example.com/home")
	if err != nil {
		t.Fatalf("url.Parse failed: %v", err)
	}
	resolver.HandleClick(context.Background(), clicktrack.Click{Target: target, Page: page})

	events := cs.all()
	if len(events) != 1 {
		t.Fatalf("received %d events, want 1", len(events))
	}
	ev := events[0]
	if ev.Event != "link_click" {
		t.Fatalf("event = %q, want link_click", ev.Event)
	}
	if ev.Properties["zone"] != "footer" {
		t.Fatalf("zone = %v, want footer", ev.Properties["zone"])
	}
	if ev.Properties["link_host"] != "example.com" {
		t.Fatalf("link_host = %v, want example.com", ev.Properties["link_host"])
	}
}
