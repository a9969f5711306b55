package partition

import "strings"

// ProxyRule is an upstream proxy with optional credentials.
type ProxyRule struct {
	Server   string `json:"server"`
	Username string `json:"username,omitempty"`
	Password string `json:"password,omitempty"`
}

// IsZero reports whether no proxy is configured.
func (r ProxyRule) IsZero() bool { return r.Server == "" }

// ParseProxy parses "server|username|password". Missing parts are empty.
func ParseProxy(s string) ProxyRule {
	parts := strings.SplitN(strings.TrimSpace(s), "|", 3)
	var r ProxyRule
	r.Server = strings.TrimSpace(parts[0])
	if len(parts) > 1 {
		r.Username = parts[1]
	}
	if len(parts) > 2 {
		r.Password = parts[2]
	}
	return r
}
