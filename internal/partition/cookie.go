package partition

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"unicode"
)

// Cookie is a cookie record as the authority ships it.
type Cookie struct {
	Name           string  `json:"name"`
	Value          string  `json:"value"`
	Domain         string  `json:"domain"`
	Path           string  `json:"path,omitempty"`
	Secure         *bool   `json:"secure,omitempty"`
	HTTPOnly       bool    `json:"httpOnly,omitempty"`
	ExpirationDate float64 `json:"expirationDate,omitempty"`
	SameSite       string  `json:"sameSite,omitempty"`
}

// IsSecure reports the secure flag, treating absent as false.
func (c Cookie) IsSecure() bool {
	return c.Secure != nil && *c.Secure
}

// CookiePath returns the path, defaulting to "/".
func (c Cookie) CookiePath() string {
	if c.Path == "" {
		return "/"
	}
	return c.Path
}

// NormalizeCookies decodes a cookie list given either as a JSON array or as
// a JSON string holding one. null and "" decode to an empty list.
func NormalizeCookies(raw json.RawMessage) ([]Cookie, error) {
	trimmed := strings.TrimSpace(string(raw))
	if trimmed == "" || trimmed == "null" {
		return nil, nil
	}

	if strings.HasPrefix(trimmed, `"`) {
		var inner string
		if err := json.Unmarshal(raw, &inner); err != nil {
			return nil, fmt.Errorf("decode cookie string: %w", err)
		}
		if strings.TrimSpace(inner) == "" {
			return nil, nil
		}
		raw = json.RawMessage(inner)
	}

	var cookies []Cookie
	if err := json.Unmarshal(raw, &cookies); err != nil {
		return nil, fmt.Errorf("decode cookies: %w", err)
	}
	return cookies, nil
}

// ErrInvalidDomain is returned for a cookie whose domain cannot form a URL.
var ErrInvalidDomain = errors.New("partition: invalid cookie domain")

// BuildCookieURL derives the URL a cookie is written against. https is used
// unless the cookie is not marked secure and the domain is local or private.
// If the assembled URL does not parse, the opposite protocol and then the
// bare domain root are tried.
func BuildCookieURL(c Cookie) (string, error) {
	domain := strings.TrimSpace(c.Domain)
	if domain == "" || strings.Contains(domain, "//") || strings.IndexFunc(domain, invalidDomainRune) >= 0 {
		return "", ErrInvalidDomain
	}
	domain = strings.TrimPrefix(domain, ".")
	if domain == "" {
		return "", ErrInvalidDomain
	}

	proto := "https"
	if !c.IsSecure() && isLocal(domain) {
		proto = "http"
	}
	path := normalizePath(c.Path)

	for _, candidate := range []string{
		proto + "://" + domain + path,
		opposite(proto) + "://" + domain + path,
		proto + "://" + domain + "/",
	} {
		if validURL(candidate) {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("%w: %q", ErrInvalidDomain, domain)
}

func invalidDomainRune(r rune) bool {
	return unicode.IsSpace(r) || unicode.IsControl(r)
}

func isLocal(domain string) bool {
	return domain == "localhost" ||
		strings.HasPrefix(domain, "127.0.0.1") ||
		strings.HasPrefix(domain, "192.168.") ||
		strings.HasPrefix(domain, "10.0.")
}

func normalizePath(p string) string {
	p = strings.Map(func(r rune) rune {
		if r == '\n' || r == '\r' || r == '\t' {
			return -1
		}
		return r
	}, strings.TrimSpace(p))
	if !strings.HasPrefix(p, "/") {
		p = "/" + p
	}
	return p
}

func opposite(proto string) string {
	if proto == "https" {
		return "http"
	}
	return "https"
}

func validURL(s string) bool {
	u, err := url.Parse(s)
	return err == nil && u.Hostname() != ""
}
