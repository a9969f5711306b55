package partition

import "strings"

// HeaderFunc returns the headers to add to a request for host. A nil map
// leaves the request untouched.
type HeaderFunc func(host string) map[string]string

type domainHeaders struct {
	domain  string
	headers map[string]string
}

// HeaderPolicy shapes outbound request headers for a partition.
type HeaderPolicy struct {
	baseline      map[string]string
	excluded      []string
	special       []domainHeaders
	excludedTools map[string]bool
}

const (
	deviceMarker = "1085218295"
	clientHintUA = `"Google Chrome";v="131", "Chromium";v="131", "Not_A Brand";v="24"`
)

// DefaultHeaderPolicy returns the policy used for every tool partition.
func DefaultHeaderPolicy() *HeaderPolicy {
	baseline := map[string]string{
		"accept-language":    "en-EU",
		"device_id":          deviceMarker,
		"sec-ch-ua":          clientHintUA,
		"sec-ch-ua-mobile":   "?0",
		"sec-ch-ua-platform": `"Windows"`,
	}
	return &HeaderPolicy{
		baseline: baseline,
		excluded: []string{
			"googleapis.com",
			"gstatic.com",
			"google.com",
			"googlesyndication.com",
			"doubleclick.net",
			"accounts.google.com",
			"login.microsoftonline.com",
			"api.stripe.com",
			"checkout.stripe.com",
			"pay.google.com",
		},
		// first match wins
		special: []domainHeaders{
			{"pipiads.com", copyHeaders(baseline)},
			{"similarweb.com", map[string]string{
				"accept-language": "en-EU",
				"device_id":       deviceMarker,
			}},
			{"freepik.com", map[string]string{
				"accept-language": "en-EU",
				"device_id":       deviceMarker,
				"language_code":   "en",
				"time_zone_id":    "Asia/Saigon",
				"timezone_offset": "-420",
			}},
		},
		excludedTools: setOf(
			"bigspy", "spamzilla", "chatgpt", "grammarly", "canva",
			"freepik", "envato", "keywordtool", "helium10", "pngtree",
			"semrush", "ahrefs", "kwfinder", "merchantwords", "zikanalytics",
			"majestic", "1of10", "ubersuggest", "marmalead", "similarweb",
		),
	}
}

// SkipsTool reports whether tool's pages must see unmodified headers.
func (p *HeaderPolicy) SkipsTool(tool string) bool {
	return p.excludedTools[strings.ToLower(tool)]
}

// HeadersFor returns the headers to set for a request to host.
func (p *HeaderPolicy) HeadersFor(host string) map[string]string {
	host = strings.ToLower(strings.TrimSuffix(host, "."))
	for _, d := range p.excluded {
		if matchesDomain(host, d) {
			return nil
		}
	}

	out := copyHeaders(p.baseline)
	for _, s := range p.special {
		if matchesDomain(host, s.domain) {
			for k, v := range s.headers {
				out[k] = v
			}
			break
		}
	}
	return out
}

// matchesDomain reports whether host is domain or one of its subdomains.
func matchesDomain(host, domain string) bool {
	return host == domain || strings.HasSuffix(host, "."+domain)
}

func copyHeaders(h map[string]string) map[string]string {
	out := make(map[string]string, len(h))
	for k, v := range h {
		out[k] = v
	}
	return out
}

func setOf(items ...string) map[string]bool {
	m := make(map[string]bool, len(items))
	for _, it := range items {
		m[it] = true
	}
	return m
}
