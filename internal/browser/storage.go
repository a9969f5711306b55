package browser

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/cdproto/storage"
	"github.com/playwright-community/playwright-go"

	"github.com/muatool/dashboard/internal/partition"
)

// toOptionalCookie converts a cookie record for AddCookies. Playwright takes
// either a URL or a domain and path, never both; the domain form keeps
// domain cookies (".example.com") visible to subdomains.
func toOptionalCookie(c partition.Cookie, rawURL string) playwright.OptionalCookie {
	oc := playwright.OptionalCookie{
		Name:  c.Name,
		Value: c.Value,
	}
	if c.Domain != "" {
		oc.Domain = playwright.String(c.Domain)
		oc.Path = playwright.String(c.CookiePath())
	} else {
		oc.URL = playwright.String(rawURL)
	}
	// the https write URL does not make the cookie Secure
	if c.IsSecure() {
		oc.Secure = playwright.Bool(true)
	}
	if c.HTTPOnly {
		oc.HttpOnly = playwright.Bool(true)
	}
	if c.ExpirationDate > 0 {
		oc.Expires = playwright.Float(c.ExpirationDate)
	}
	oc.SameSite = sameSite(c.SameSite)
	if oc.SameSite == playwright.SameSiteAttributeNone {
		// Chromium drops SameSite=None cookies that are not Secure
		oc.Secure = playwright.Bool(true)
	}
	return oc
}

func sameSite(v string) *playwright.SameSiteAttribute {
	switch strings.ToLower(v) {
	case "strict":
		return playwright.SameSiteAttributeStrict
	case "lax":
		return playwright.SameSiteAttributeLax
	case "none", "no_restriction":
		return playwright.SameSiteAttributeNone
	}
	return nil
}

func fromCookie(c playwright.Cookie) partition.Cookie {
	out := partition.Cookie{
		Name:     c.Name,
		Value:    c.Value,
		Domain:   c.Domain,
		Path:     c.Path,
		HTTPOnly: c.HttpOnly,
		Secure:   playwright.Bool(c.Secure),
	}
	if c.Expires > 0 {
		out.ExpirationDate = c.Expires
	}
	if c.SameSite != nil {
		out.SameSite = strings.ToLower(string(*c.SameSite))
	}
	return out
}

// cookieOrigins returns the distinct https origins of the cookie domains.
func cookieOrigins(cookies []playwright.Cookie) []string {
	seen := make(map[string]bool)
	for _, c := range cookies {
		host := strings.TrimPrefix(strings.TrimSpace(c.Domain), ".")
		if host == "" {
			continue
		}
		seen["https://"+host] = true
	}
	origins := make([]string, 0, len(seen))
	for o := range seen {
		origins = append(origins, o)
	}
	sort.Strings(origins)
	return origins
}

// cdpParams turns a cdproto params struct into the map CDPSession.Send takes.
func cdpParams(v any) (map[string]any, error) {
	if v == nil {
		return nil, nil
	}
	b, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	var m map[string]any
	if err := json.Unmarshal(b, &m); err != nil {
		return nil, err
	}
	return m, nil
}

// clearSiteData wipes the HTTP cache and the storage of every origin the
// context holds cookies for, then the cookies themselves.
func (c *partitionContext) clearSiteData(ctx context.Context) error {
	cookies, err := c.bc.Cookies()
	if err != nil {
		return fmt.Errorf("list cookies: %w", err)
	}

	page, err := c.anyPage()
	if err != nil {
		return err
	}
	session, err := c.bc.NewCDPSession(page)
	if err != nil {
		return fmt.Errorf("open cdp session: %w", err)
	}
	defer func() { _ = session.Detach() }()

	if err := c.send(session, network.CommandClearBrowserCache, nil); err != nil {
		return err
	}
	for _, origin := range cookieOrigins(cookies) {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		params := storage.ClearDataForOriginParams{Origin: origin, StorageTypes: clearedStorage}
		if err := c.send(session, storage.CommandClearDataForOrigin, params); err != nil {
			return err
		}
	}

	if err := c.bc.ClearCookies(); err != nil {
		return fmt.Errorf("clear cookies: %w", err)
	}
	if !page.IsClosed() {
		_, _ = page.Evaluate(`(function(){try{localStorage.clear();sessionStorage.clear()}catch(e){}})()`)
	}
	return nil
}

func (c *partitionContext) send(session playwright.CDPSession, method string, params any) error {
	m, err := cdpParams(params)
	if err != nil {
		return fmt.Errorf("%s params: %w", method, err)
	}
	_, err = session.Send(method, m)
	c.audit.logCommand(c.name, method, err)
	if err != nil {
		return fmt.Errorf("%s: %w", method, err)
	}
	return nil
}
