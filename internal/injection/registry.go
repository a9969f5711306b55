package injection

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
	"sync"
)

// Patch is a page patch applied to every page whose host matches.
type Patch struct {
	Name   string
	Match  func(host string) bool
	Script string
}

// Registry holds site patches in registration order.
type Registry struct {
	mu      sync.RWMutex
	patches []Patch
}

func NewRegistry() *Registry {
	return &Registry{}
}

// Register adds p. Names must be unique.
func (r *Registry) Register(p Patch) error {
	if p.Name == "" || p.Match == nil {
		return errors.New("injection: patch needs a name and a matcher")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, existing := range r.patches {
		if existing.Name == p.Name {
			return fmt.Errorf("injection: patch %q already registered", p.Name)
		}
	}
	r.patches = append(r.patches, p)
	return nil
}

// Patches returns the patches matching the host of rawURL.
func (r *Registry) Patches(rawURL string) []Patch {
	u, err := url.Parse(rawURL)
	if err != nil || u.Hostname() == "" {
		return nil
	}
	host := strings.ToLower(u.Hostname())

	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []Patch
	for _, p := range r.patches {
		if p.Match(host) {
			out = append(out, p)
		}
	}
	return out
}

// HostSuffix matches a host equal to, or a subdomain of, any of domains.
func HostSuffix(domains ...string) func(string) bool {
	return func(host string) bool {
		for _, d := range domains {
			if host == d || strings.HasSuffix(host, "."+d) {
				return true
			}
		}
		return false
	}
}
