package clicktrack

import (
	"net/url"
	"strings"

	"golang.org/x/net/html"
)

// LinkType classifies a link_click destination.
type LinkType string

const (
	LinkWeb    LinkType = "web"
	LinkEmail  LinkType = "email"
	LinkSocial LinkType = "social"
	LinkMedia  LinkType = "media"
)

// platforms maps destination hostnames to platform names for social
// and media classification. Names follow the hostname stripped of
// "www." and ".com"; short-link and country hosts map explicitly.
var socialPlatforms = map[string]string{
	"facebook.com":    "facebook",
	"fb.com":          "facebook",
	"twitter.com":     "twitter",
	"x.com":           "x",
	"instagram.com":   "instagram",
	"linkedin.com":    "linkedin",
	"tiktok.com":      "tiktok",
	"pinterest.com":   "pinterest",
	"reddit.com":      "reddit",
	"threads.net":     "threads",
	"bsky.app":        "bluesky",
	"mastodon.social": "mastodon",
}

var mediaPlatforms = map[string]string{
	"youtube.com":     "youtube",
	"youtu.be":        "youtube",
	"vimeo.com":       "vimeo",
	"twitch.tv":       "twitch",
	"spotify.com":     "spotify",
	"soundcloud.com":  "soundcloud",
	"dailymotion.com": "dailymotion",
}

// classifyLink determines the link type: an explicit data-track-link-type
// override wins, then the URL is inspected (mailto scheme, social and
// media hostname tables), defaulting to web.
func classifyLink(href, override string) LinkType {
	if override != "" {
		return LinkType(strings.ToLower(override))
	}

	u, err := url.Parse(href)
	if err != nil {
		return LinkWeb
	}
	if strings.EqualFold(u.Scheme, "mailto") {
		return LinkEmail
	}

	host := normalizeHost(u.Hostname())
	if _, ok := socialPlatforms[host]; ok {
		return LinkSocial
	}
	if _, ok := mediaPlatforms[host]; ok {
		return LinkMedia
	}
	return LinkWeb
}

// linkProperties generates the property set for a link_click event per
// the policy table: base link_* fields for every type, plus email_* for
// mailto links and platform for social/media links.
func linkProperties(linkType LinkType, href string, anchor *html.Node, page *url.URL) map[string]any {
	props := map[string]any{
		"link_url":  href,
		"link_text": linkText(anchor),
		"link_type": string(linkType),
	}

	u, err := url.Parse(href)
	if err != nil {
		props["link_host"] = ""
		props["link_path"] = ""
		props["link_params"] = ""
		props["link_hash"] = ""
		props["is_external"] = false
		return props
	}
	if page != nil {
		// Relative destinations inherit the page's host for the
		// host-dependent fields.
		u = page.ResolveReference(u)
	}

	props["link_host"] = u.Hostname()
	props["link_path"] = u.Path
	props["link_params"] = reencodeQuery(u.RawQuery)
	props["link_hash"] = u.Fragment
	props["is_external"] = page != nil && u.Hostname() != "" && u.Hostname() != page.Hostname()

	switch linkType {
	case LinkEmail:
		mailto, err := url.Parse(href)
		if err == nil {
			props["email_address"] = mailto.Opaque
			q := mailto.Query()
			props["email_subject"] = optional(q, "subject")
			props["email_body"] = optional(q, "body")
		}
	case LinkSocial, LinkMedia:
		props["platform"] = platformName(u.Hostname())
	}

	return props
}

// linkText returns the anchor's trimmed text content.
func linkText(n *html.Node) string {
	var b strings.Builder
	var walk func(*html.Node)
	walk = func(cur *html.Node) {
		if cur.Type == html.TextNode {
			b.WriteString(cur.Data)
		}
		for c := cur.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(n)
	return strings.TrimSpace(b.String())
}

// reencodeQuery decodes each parsed query value one further time and
// re-encodes the whole string, normalizing double-encoded values.
func reencodeQuery(rawQuery string) string {
	if rawQuery == "" {
		return ""
	}
	values, err := url.ParseQuery(rawQuery)
	if err != nil {
		return rawQuery
	}
	out := url.Values{}
	for key, vals := range values {
		for _, v := range vals {
			if dec, err := url.QueryUnescape(v); err == nil {
				v = dec
			}
			out.Add(key, v)
		}
	}
	return out.Encode()
}

// platformName resolves a hostname to its platform name, falling back
// to the hostname stripped of "www." and ".com".
func platformName(hostname string) string {
	host := normalizeHost(hostname)
	if name, ok := socialPlatforms[host]; ok {
		return name
	}
	if name, ok := mediaPlatforms[host]; ok {
		return name
	}
	return strings.TrimSuffix(host, ".com")
}

func normalizeHost(hostname string) string {
	return strings.TrimPrefix(strings.ToLower(hostname), "www.")
}

func optional(q url.Values, key string) any {
	if !q.Has(key) {
		return nil
	}
	return q.Get(key)
}
