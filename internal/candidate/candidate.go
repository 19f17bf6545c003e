// Package candidate builds the ordered list of stream URLs a session tries.
package candidate

import (
	"fmt"
	"net/url"
	"strings"
)

// Profile describes which stream formats the listening client handles best
type Profile string

const (
	// ProfileGeneric clients play direct MP3/AAC streams natively
	ProfileGeneric Profile = "generic"
	// ProfileSafari clients (WebKit, every iOS browser) prefer segmented HLS
	ProfileSafari Profile = "safari"
)

// ParseProfile parses a configured profile override. An empty string or
// "auto" returns "" meaning the profile should be detected per client.
func ParseProfile(s string) (Profile, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "auto":
		return "", nil
	case string(ProfileGeneric):
		return ProfileGeneric, nil
	case string(ProfileSafari):
		return ProfileSafari, nil
	default:
		return "", fmt.Errorf("unknown capability profile %q", s)
	}
}

// DetectProfile classifies a User-Agent header
func DetectProfile(userAgent string) Profile {
	ua := strings.ToLower(userAgent)

	for _, ios := range []string{"iphone", "ipad", "ipod"} {
		if strings.Contains(ua, ios) {
			return ProfileSafari
		}
	}

	if !strings.Contains(ua, "safari/") {
		return ProfileGeneric
	}
	for _, other := range []string{"chrome/", "chromium/", "edg/", "opr/", "firefox/", "android"} {
		if strings.Contains(ua, other) {
			return ProfileGeneric
		}
	}
	return ProfileSafari
}

// Source is a station's stream configuration
type Source struct {
	StreamURL    string
	SegmentedURL string
	Mirrors      []string
	TokenBearing bool
}

// List is an immutable, ordered set of candidate URLs
type List struct {
	urls         []string
	tokenBearing bool
}

// Len returns the number of candidates
func (l List) Len() int { return len(l.urls) }

// At returns the i-th candidate
func (l List) At(i int) string { return l.urls[i] }

// URLs returns a copy of the candidates
func (l List) URLs() []string {
	out := make([]string, len(l.urls))
	copy(out, l.urls)
	return out
}

// TokenBearing reports whether the single candidate is a token provider's
// base URL that must be resolved before each session
func (l List) TokenBearing() bool { return l.tokenBearing }

// Build orders src's URLs for profile.
// Token-bearing sources yield only the base stream URL. Otherwise the direct
// and segmented URLs come first, segmented leading for Safari, then mirrors.
func Build(src Source, profile Profile) List {
	if src.TokenBearing {
		if src.StreamURL == "" {
			return List{tokenBearing: true}
		}
		return List{urls: []string{src.StreamURL}, tokenBearing: true}
	}

	ordered := []string{src.StreamURL, src.SegmentedURL}
	if profile == ProfileSafari {
		ordered = []string{src.SegmentedURL, src.StreamURL}
	}
	ordered = append(ordered, src.Mirrors...)

	seen := make(map[string]struct{}, len(ordered))
	urls := make([]string, 0, len(ordered))
	for _, u := range ordered {
		u = strings.TrimSpace(u)
		if u == "" {
			continue
		}
		if _, dup := seen[u]; dup {
			continue
		}
		seen[u] = struct{}{}
		urls = append(urls, u)
	}

	return List{urls: urls}
}

// IsTokenProvider reports whether rawURL's host (or a parent domain) is one
// of the configured token-issuing hosts
func IsTokenProvider(rawURL string, hosts []string) bool {
	u, err := url.Parse(rawURL)
	if err != nil {
		return false
	}
	host := strings.ToLower(u.Hostname())
	if host == "" {
		return false
	}
	for _, h := range hosts {
		h = strings.ToLower(strings.TrimSpace(h))
		if h == "" {
			continue
		}
		if host == h || strings.HasSuffix(host, "."+h) {
			return true
		}
	}
	return false
}
