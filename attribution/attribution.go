// Package attribution captures first-touch marketing attribution. The
// first page view that carries at least one utm_* query parameter is
// recorded once, with the landing page and referrer, and never
// overwritten: later visits with different campaign parameters are
// ignored while any record is present.
package attribution

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/url"
	"time"

	"github.com/pulsemetrics/pulse-go/storage"
)

// Key under which the attribution record is stored.
const Key = "pulse:attribution"

// TTL is the fixed lifetime of a captured record.
const TTL = 24 * time.Hour

// Data is a first-touch attribution record. All fields are optional;
// UTM fields hold whatever the triggering URL carried.
type Data struct {
	UTMSource   string `json:"utm_source,omitempty"`
	UTMMedium   string `json:"utm_medium,omitempty"`
	UTMCampaign string `json:"utm_campaign,omitempty"`
	UTMTerm     string `json:"utm_term,omitempty"`
	UTMContent  string `json:"utm_content,omitempty"`
	LandingPage string `json:"landing_page,omitempty"`
	Referrer    string `json:"referrer,omitempty"`
}

// Store reads and writes the attribution record through a storage
// chain it does not own.
type Store struct {
	chain *storage.Chain
	log   *slog.Logger
	now   func() time.Time
}

// Option configures a Store.
type Option func(*Store)

// WithLogger sets the logger used for persistence warnings.
func WithLogger(log *slog.Logger) Option {
	return func(s *Store) { s.log = log }
}

// New creates an attribution store on top of chain.
func New(chain *storage.Chain, opts ...Option) *Store {
	s := &Store{chain: chain, log: slog.Default(), now: time.Now}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Capture records first-touch attribution from pageURL and referrer.
// It no-ops when any record is already present — presence alone blocks
// recapture, without regard to the record's expiry. When no utm_*
// parameter is present nothing is stored: landing page and referrer
// are never captured on their own. Returns true only when a new record
// was written.
func (s *Store) Capture(ctx context.Context, pageURL *url.URL, referrer string) bool {
	if pageURL == nil {
		return false
	}
	if _, present := s.chain.Get(ctx, Key); present {
		return false
	}

	q := pageURL.Query()
	data := Data{
		UTMSource:   q.Get("utm_source"),
		UTMMedium:   q.Get("utm_medium"),
		UTMCampaign: q.Get("utm_campaign"),
		UTMTerm:     q.Get("utm_term"),
		UTMContent:  q.Get("utm_content"),
	}
	if data.UTMSource == "" && data.UTMMedium == "" && data.UTMCampaign == "" &&
		data.UTMTerm == "" && data.UTMContent == "" {
		return false
	}

	data.LandingPage = pageURL.Path
	data.Referrer = referrer
	return s.SetToStorage(ctx, &data)
}

// Data returns the stored record, or nil when absent or expired. A
// record that cannot be parsed is deleted and reported absent, so a
// corrupt entry never wedges the store.
func (s *Store) Data(ctx context.Context) *Data {
	raw, ok := s.chain.Get(ctx, Key)
	if !ok {
		return nil
	}

	item, err := storage.DecodeItem(raw)
	if err != nil {
		s.log.Warn("attribution.record.corrupt", slog.String("err", err.Error()))
		s.chain.Remove(ctx, Key)
		return nil
	}
	if item.Expired(s.now()) {
		return nil
	}

	var data Data
	if err := json.Unmarshal([]byte(item.Value), &data); err != nil {
		s.log.Warn("attribution.record.corrupt", slog.String("err", err.Error()))
		s.chain.Remove(ctx, Key)
		return nil
	}
	return &data
}

// SetToStorage persists data with the fixed 24-hour expiry. Logs and
// returns false when every medium rejects the write.
func (s *Store) SetToStorage(ctx context.Context, data *Data) bool {
	b, err := json.Marshal(data)
	if err != nil {
		s.log.Warn("attribution.encode.fail", slog.String("err", err.Error()))
		return false
	}
	raw := storage.EncodeItem(string(b), TTL, s.now())
	if !s.chain.Set(ctx, Key, raw, storage.WithTTL(TTL)) {
		s.log.Warn("attribution.persist.fail")
		return false
	}
	return true
}
