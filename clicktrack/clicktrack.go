// Package clicktrack resolves declarative click tracking over parsed
// HTML. Elements opt in by carrying the data-track marker; every
// data-track-* attribute on the chain from the topmost marked ancestor
// down to the clicked element contributes to the resolved event, with
// values closer to the click overriding ancestral ones.
//
// The resolver holds no persistent state beyond its initialization
// flag. Emission goes through a narrow Tracker interface looked up at
// click time, so a host application can swap or drop the active client
// without touching the resolver. A click handler must never break the
// surrounding application: every failure path here is a warn-and-no-op.
package clicktrack

import (
	"context"
	"log/slog"
	"net/url"
	"strings"
	"sync"

	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"
)

// Marker is the attribute that opts an element and its descendants
// into click tracking.
const Marker = "data-track"

// attrPrefix prefixes every attribute that contributes to the resolved
// event. The accumulator key is the lower-cased remainder.
const attrPrefix = "data-track-"

// propPrefix marks accumulator keys that become output properties
// verbatim (prefix stripped).
const propPrefix = "prop-"

// DefaultEvent is emitted when no data-track-event override is present.
const DefaultEvent = "link_click"

// Tracker is the emission surface the resolver reports through.
type Tracker interface {
	Track(ctx context.Context, event string, props map[string]any)
}

// Click is one click interaction to resolve: the clicked node within a
// parsed document, and the URL of the page it happened on.
type Click struct {
	Target *html.Node
	Page   *url.URL
}

// Resolver turns clicks on marked elements into tracked events. The
// zero value is unusable; construct with New.
type Resolver struct {
	mu          sync.Mutex
	initialized bool

	tracker func() Tracker
	log     *slog.Logger
}

// Option configures a Resolver.
type Option func(*Resolver)

// WithTracker sets the accessor consulted at click time for the active
// emission surface. Returning nil means "no client installed" and the
// click is dropped silently.
func WithTracker(fn func() Tracker) Option {
	return func(r *Resolver) { r.tracker = fn }
}

// WithLogger sets the slog logger used for resolution warnings.
func WithLogger(log *slog.Logger) Option {
	return func(r *Resolver) { r.log = log }
}

// New creates a Resolver. It starts uninitialized: clicks are ignored
// until Initialize is called.
func New(opts ...Option) *Resolver {
	r := &Resolver{log: slog.Default()}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Initialize arms the resolver. The transition is one-way and
// idempotent; repeated calls are no-ops, so at most one logical click
// listener ever exists.
func (r *Resolver) Initialize() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.initialized {
		return
	}
	r.initialized = true
}

// Initialized reports whether Initialize has been called.
func (r *Resolver) Initialized() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.initialized
}

// Handler returns the click handler, or nil while uninitialized. It is
// exposed so a host can hold the reference and explicitly detach it
// from its dispatch path.
func (r *Resolver) Handler() func(ctx context.Context, click Click) {
	if !r.Initialized() {
		return nil
	}
	return r.HandleClick
}

// HandleClick resolves a single click. Clicks outside any marked
// subtree are ignored. The handler never panics outward.
func (r *Resolver) HandleClick(ctx context.Context, click Click) {
	defer func() {
		if rec := recover(); rec != nil {
			r.log.Warn("clicktrack.handler.panic", slog.Any("panic", rec))
		}
	}()

	if !r.Initialized() || click.Target == nil {
		return
	}

	top := topmostMarked(click.Target)
	if top == nil {
		// No tracking-marked ancestor: the click is simply not ours.
		return
	}

	attrs := foldAttributes(click.Target, top)

	event := DefaultEvent
	if v, ok := attrs["event"]; ok && v != "" {
		event = v
	}
	if event != DefaultEvent {
		r.log.Warn("clicktrack.event.unimplemented", slog.String("event", event))
		return
	}

	anchor := enclosingAnchor(click.Target)
	if anchor == nil {
		r.log.Warn("clicktrack.anchor.missing")
		return
	}
	href := attrValue(anchor, "href")

	linkType := classifyLink(href, attrs["link-type"])
	props := linkProperties(linkType, href, anchor, click.Page)

	if id := attrValue(click.Target, "id"); id != "" {
		props["element_id"] = id
	} else {
		props["element_id"] = nil
	}

	// Custom properties layer last so they can override generated ones.
	for k, v := range attrs {
		if suffix, ok := strings.CutPrefix(k, propPrefix); ok && suffix != "" {
			props[strings.ToLower(suffix)] = v
		}
	}

	tracker := r.lookupTracker()
	if tracker == nil {
		// No active client; dropping the event must never disturb the
		// host application.
		return
	}
	tracker.Track(ctx, event, props)
}

func (r *Resolver) lookupTracker() Tracker {
	if r.tracker == nil {
		return nil
	}
	return r.tracker()
}

// topmostMarked walks from n to the document root and returns the
// highest element carrying the tracking marker, or nil.
func topmostMarked(n *html.Node) *html.Node {
	var top *html.Node
	for cur := n; cur != nil; cur = cur.Parent {
		if cur.Type == html.ElementNode && hasAttr(cur, Marker) {
			top = cur
		}
	}
	return top
}

// foldAttributes collects data-track-* attributes along the chain from
// top down to target. Descendant values overwrite ancestor values for
// identical keys.
func foldAttributes(target, top *html.Node) map[string]string {
	// Bottom-to-top path from the clicked element to the topmost
	// marked ancestor, inclusive.
	var path []*html.Node
	for cur := target; cur != nil; cur = cur.Parent {
		if cur.Type == html.ElementNode {
			path = append(path, cur)
		}
		if cur == top {
			break
		}
	}

	// Fold root-first so that later (closer to the click) elements win.
	acc := make(map[string]string)
	for i := len(path) - 1; i >= 0; i-- {
		for _, a := range path[i].Attr {
			key := strings.ToLower(a.Key)
			if suffix, ok := strings.CutPrefix(key, attrPrefix); ok && suffix != "" {
				acc[suffix] = a.Val
			}
		}
	}
	return acc
}

// enclosingAnchor returns the nearest anchor with a non-empty href at
// or above n.
func enclosingAnchor(n *html.Node) *html.Node {
	for cur := n; cur != nil; cur = cur.Parent {
		if cur.Type == html.ElementNode && cur.DataAtom == atom.A && attrValue(cur, "href") != "" {
			return cur
		}
	}
	return nil
}

func hasAttr(n *html.Node, name string) bool {
	for _, a := range n.Attr {
		if strings.EqualFold(a.Key, name) {
			return true
		}
	}
	return false
}

func attrValue(n *html.Node, name string) string {
	for _, a := range n.Attr {
		if strings.EqualFold(a.Key, name) {
			return a.Val
		}
	}
	return ""
}
