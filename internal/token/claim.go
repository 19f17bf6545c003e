// Package token inspects short-lived stream authorization tokens and resolves
// token-bearing live URLs from a provider's base URL.
package token

import (
	"bytes"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"net/url"
	"strings"
	"time"
)

// DefaultParam is the query parameter carrying the token on zeno-style providers
const DefaultParam = "zt"

// ErrTokenParse is returned (wrapped) for any URL whose token cannot be decoded
var ErrTokenParse = errors.New("token parse failed")

// Claim is the decoded part of a token that matters for scheduling
type Claim struct {
	// ExpiresAt is the exp claim in unix seconds
	ExpiresAt int64
	// Raw is the undecoded token string
	Raw string
}

// Expiry returns the expiry as a time.Time
func (c Claim) Expiry() time.Time {
	return time.Unix(c.ExpiresAt, 0)
}

// ParseClaim extracts and decodes the token carried in rawURL's param query
// parameter. The token is three dot-separated segments whose middle segment is
// base64url JSON with a numeric exp field.
func ParseClaim(rawURL, param string) (Claim, error) {
	if param == "" {
		param = DefaultParam
	}

	u, err := url.Parse(rawURL)
	if err != nil {
		return Claim{}, fmt.Errorf("%w: invalid url: %v", ErrTokenParse, err)
	}

	raw := u.Query().Get(param)
	if raw == "" {
		return Claim{}, fmt.Errorf("%w: query parameter %q not present", ErrTokenParse, param)
	}

	parts := strings.Split(raw, ".")
	if len(parts) != 3 {
		return Claim{}, fmt.Errorf("%w: expected 3 segments, got %d", ErrTokenParse, len(parts))
	}
	for _, p := range parts {
		if p == "" {
			return Claim{}, fmt.Errorf("%w: empty segment", ErrTokenParse)
		}
	}

	payload, err := decodeSegment(parts[1])
	if err != nil {
		return Claim{}, fmt.Errorf("%w: payload: %v", ErrTokenParse, err)
	}

	exp, err := readExp(payload)
	if err != nil {
		return Claim{}, fmt.Errorf("%w: %v", ErrTokenParse, err)
	}

	return Claim{ExpiresAt: exp, Raw: raw}, nil
}

// HasToken reports whether rawURL carries a non-empty param query parameter
func HasToken(rawURL, param string) bool {
	if param == "" {
		param = DefaultParam
	}
	u, err := url.Parse(rawURL)
	if err != nil {
		return false
	}
	return u.Query().Get(param) != ""
}

// IsExpired reports whether the claim is at or past its expiry minus skew.
// A claim that failed to parse is always expired.
func IsExpired(claim Claim, parseErr error, now time.Time, hardSkew time.Duration) bool {
	return dueBy(claim, parseErr, now, hardSkew)
}

// ShouldRefreshSoon is IsExpired with the larger proactive skew
func ShouldRefreshSoon(claim Claim, parseErr error, now time.Time, softSkew time.Duration) bool {
	return dueBy(claim, parseErr, now, softSkew)
}

func dueBy(claim Claim, parseErr error, now time.Time, skew time.Duration) bool {
	if parseErr != nil {
		return true
	}
	return !now.Before(claim.Expiry().Add(-skew))
}

// decodeSegment accepts base64url with or without padding
func decodeSegment(seg string) ([]byte, error) {
	trimmed := strings.TrimRight(seg, "=")
	if b, err := base64.RawURLEncoding.DecodeString(trimmed); err == nil {
		return b, nil
	}
	return base64.RawStdEncoding.DecodeString(trimmed)
}

func readExp(payload []byte) (int64, error) {
	var body struct {
		Exp *json.Number `json:"exp"`
	}
	dec := json.NewDecoder(bytes.NewReader(payload))
	dec.UseNumber()
	if err := dec.Decode(&body); err != nil {
		return 0, fmt.Errorf("payload is not JSON: %v", err)
	}
	if body.Exp == nil {
		return 0, errors.New("exp claim missing")
	}

	if n, err := body.Exp.Int64(); err == nil {
		return n, nil
	}
	f, err := body.Exp.Float64()
	if err != nil || math.IsNaN(f) || math.IsInf(f, 0) {
		return 0, fmt.Errorf("exp claim %q is not a number", body.Exp.String())
	}
	return int64(f), nil
}

// Inspector bundles the token parameter name with the hard and soft expiry
// skews so callers can work straight from URLs.
type Inspector struct {
	Param    string
	HardSkew time.Duration
	SoftSkew time.Duration
}

// NewInspector creates an Inspector, defaulting an empty param to DefaultParam
func NewInspector(param string, hardSkew, softSkew time.Duration) Inspector {
	if param == "" {
		param = DefaultParam
	}
	return Inspector{Param: param, HardSkew: hardSkew, SoftSkew: softSkew}
}

// Claim parses the token carried by rawURL
func (i Inspector) Claim(rawURL string) (Claim, error) {
	return ParseClaim(rawURL, i.Param)
}

// Expired reports whether rawURL's token is expired within the hard skew
func (i Inspector) Expired(rawURL string, now time.Time) bool {
	c, err := i.Claim(rawURL)
	return IsExpired(c, err, now, i.HardSkew)
}

// RefreshSoon reports whether rawURL's token is due for proactive renewal
func (i Inspector) RefreshSoon(rawURL string, now time.Time) bool {
	c, err := i.Claim(rawURL)
	return ShouldRefreshSoon(c, err, now, i.SoftSkew)
}

// Redact hides rawURL's token value
func (i Inspector) Redact(rawURL string) string {
	return Redact(rawURL, i.Param)
}

// RedactError hides the token in any request URL carried by err
func (i Inspector) RedactError(err error) error {
	return RedactError(err, i.Param)
}
