package partition

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func boolPtr(b bool) *bool { return &b }

func TestBuildCookieURL(t *testing.T) {
	tests := []struct {
		name   string
		cookie Cookie
		want   string
	}{
		{"secure", Cookie{Domain: "example.com", Name: "sid", Value: "abc", Secure: boolPtr(true)}, "https://example.com/"},
		{"public domain ignores secure false", Cookie{Domain: ".example.com", Path: "/app", Secure: boolPtr(false)}, "https://example.com/app"},
		{"private range", Cookie{Domain: "192.168.1.5", Secure: boolPtr(false)}, "http://192.168.1.5/"},
		{"localhost absent secure", Cookie{Domain: "localhost"}, "http://localhost/"},
		{"loopback", Cookie{Domain: "127.0.0.1"}, "http://127.0.0.1/"},
		{"ten net", Cookie{Domain: "10.0.3.4", Path: "api"}, "http://10.0.3.4/api"},
		{"local but secure", Cookie{Domain: "localhost", Secure: boolPtr(true)}, "https://localhost/"},
		{"path control chars", Cookie{Domain: "ahrefs.com", Path: "/a\n/b\t"}, "https://ahrefs.com/a/b"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := BuildCookieURL(tt.cookie)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestBuildCookieURLRejects(t *testing.T) {
	for _, domain := range []string{"", ".", "exa mple.com", "a//b.com", "bad\x01.com", "tab\t.com"} {
		_, err := BuildCookieURL(Cookie{Name: "x", Domain: domain})
		assert.ErrorIs(t, err, ErrInvalidDomain, "domain %q", domain)
	}
}

func TestNormalizeCookies(t *testing.T) {
	arr := `[{"name":"a","value":"1","domain":".x.com"}]`

	got, err := NormalizeCookies(json.RawMessage(arr))
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "a", got[0].Name)

	encoded, _ := json.Marshal(arr)
	got, err = NormalizeCookies(encoded)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, ".x.com", got[0].Domain)

	for _, empty := range []string{``, `null`, `""`} {
		got, err = NormalizeCookies(json.RawMessage(empty))
		assert.NoError(t, err)
		assert.Empty(t, got)
	}

	_, err = NormalizeCookies(json.RawMessage(`{"name":"a"}`))
	assert.Error(t, err)
}

func TestParseProxy(t *testing.T) {
	r := ParseProxy("http://1.2.3.4:8080|user|p|ss")
	assert.Equal(t, ProxyRule{Server: "http://1.2.3.4:8080", Username: "user", Password: "p|ss"}, r)
	assert.Equal(t, ProxyRule{Server: "socks5://h:1"}, ParseProxy(" socks5://h:1 "))
	assert.True(t, ParseProxy("").IsZero())
}

func TestHeaderPolicy(t *testing.T) {
	p := DefaultHeaderPolicy()

	assert.Nil(t, p.HeadersFor("fonts.gstatic.com"))
	assert.Nil(t, p.HeadersFor("api.stripe.com"))

	h := p.HeadersFor("app.pipiads.com")
	assert.Equal(t, "en-EU", h["accept-language"])
	assert.Equal(t, `"Windows"`, h["sec-ch-ua-platform"])

	h = p.HeadersFor("www.freepik.com")
	assert.Equal(t, "Asia/Saigon", h["time_zone_id"])
	assert.Equal(t, deviceMarker, h["device_id"])

	h = p.HeadersFor("notfreepik.com")
	assert.NotContains(t, h, "time_zone_id")

	assert.True(t, p.SkipsTool("Ahrefs"))
	assert.False(t, p.SkipsTool("pipiads"))
}
