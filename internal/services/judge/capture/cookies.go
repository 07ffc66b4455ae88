package capture

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/chromedp/cdproto/cdp"
	"github.com/chromedp/cdproto/network"
)

// stravaRootDomain is the canonical cookie domain for the platform.
// Cookies exported against www.strava.com or any other subdomain are
// pinned here so the browser sends them on every page we visit.
const stravaRootDomain = ".strava.com"

// RawCookie accepts both shapes a session bundle arrives in: the
// browser-extension export (hostOnly/session/expirationDate present)
// and the canonical capture shape (expires). Optional booleans are
// pointers so "absent" and "false" stay distinguishable.
type RawCookie struct {
	Name           string  `json:"name"`
	Value          string  `json:"value"`
	Domain         string  `json:"domain"`
	Path           string  `json:"path"`
	Secure         *bool   `json:"secure,omitempty"`
	HTTPOnly       *bool   `json:"httpOnly,omitempty"`
	SameSite       string  `json:"sameSite,omitempty"`
	Session        bool    `json:"session,omitempty"`
	HostOnly       *bool   `json:"hostOnly,omitempty"`
	ExpirationDate float64 `json:"expirationDate,omitempty"`
	Expires        float64 `json:"expires,omitempty"`
}

// DecodeCookieBundle decodes an opaque base64-encoded JSON cookie
// bundle into raw cookie records.
func DecodeCookieBundle(encoded string) ([]RawCookie, error) {
	encoded = strings.TrimSpace(encoded)
	if encoded == "" {
		return nil, fmt.Errorf("cookie bundle is empty")
	}
	decoded, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return nil, fmt.Errorf("decode cookie bundle: %w", err)
	}
	var cookies []RawCookie
	if err := json.Unmarshal(decoded, &cookies); err != nil {
		return nil, fmt.Errorf("unmarshal cookie bundle: %w", err)
	}
	if len(cookies) == 0 {
		return nil, fmt.Errorf("cookie bundle contains no cookies")
	}
	return cookies, nil
}

// NormalizeCookies converts raw cookie records into the canonical
// browser cookie shape.
//
// Rules: platform cookies are pinned to the root domain; a leading dot
// is otherwise stripped; an unset or unrecognized sameSite attribute
// becomes Lax; secure and httpOnly default to true; session cookies
// carry no expiry.
func NormalizeCookies(raw []RawCookie) []*network.CookieParam {
	params := make([]*network.CookieParam, 0, len(raw))
	for _, cookie := range raw {
		param := &network.CookieParam{
			Name:     cookie.Name,
			Value:    cookie.Value,
			Domain:   normalizeDomain(cookie.Domain),
			Path:     cookie.Path,
			Secure:   boolOrDefault(cookie.Secure, true),
			HTTPOnly: boolOrDefault(cookie.HTTPOnly, true),
			SameSite: normalizeSameSite(cookie.SameSite),
		}
		if expiry := cookieExpiry(cookie); expiry > 0 {
			epoch := cdp.TimeSinceEpoch(timeFromUnixFloat(expiry))
			param.Expires = &epoch
		}
		params = append(params, param)
	}
	return params
}

func normalizeDomain(domain string) string {
	if strings.Contains(domain, "strava.com") {
		return stravaRootDomain
	}
	return strings.TrimPrefix(domain, ".")
}

func normalizeSameSite(value string) network.CookieSameSite {
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "no_restriction", "none":
		return network.CookieSameSiteNone
	case "strict":
		return network.CookieSameSiteStrict
	default:
		return network.CookieSameSiteLax
	}
}

func cookieExpiry(cookie RawCookie) float64 {
	if cookie.Session {
		return 0
	}
	if cookie.ExpirationDate > 0 {
		return cookie.ExpirationDate
	}
	return cookie.Expires
}

func timeFromUnixFloat(seconds float64) time.Time {
	whole, frac := math.Modf(seconds)
	return time.Unix(int64(whole), int64(frac*float64(time.Second)))
}

func boolOrDefault(value *bool, fallback bool) bool {
	if value == nil {
		return fallback
	}
	return *value
}
