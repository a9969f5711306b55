package websocket

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	gws "github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/muatool/dashboard/internal/realtime"
)

func TestCheckOrigin(t *testing.T) {
	cases := map[string]bool{
		"":                       true,
		"http://localhost:5173":  true,
		"http://127.0.0.1:27124": true,
		"http://[::1]:80":        true,
		"https://evil.example":   false,
		"http://192.168.1.5":     false,
		"::bad":                  false,
	}
	for origin, want := range cases {
		r := httptest.NewRequest(http.MethodGet, "/ws", nil)
		if origin != "" {
			r.Header.Set("Origin", origin)
		}
		assert.Equal(t, want, checkOrigin(r), origin)
	}
}

func TestHandlerUpgrades(t *testing.T) {
	hub := realtime.NewHub()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go hub.Run(ctx)

	srv := httptest.NewServer(Handler(hub))
	defer srv.Close()

	conn, _, err := gws.DefaultDialer.Dial("ws"+strings.TrimPrefix(srv.URL, "http"), nil)
	require.NoError(t, err)
	defer conn.Close()

	require.Eventually(t, func() bool { return hub.ClientCount() == 1 }, 2*time.Second, 10*time.Millisecond)
}

func TestHandlerRejectsForeignOrigin(t *testing.T) {
	hub := realtime.NewHub()
	srv := httptest.NewServer(Handler(hub))
	defer srv.Close()

	h := http.Header{}
	h.Set("Origin", "https://evil.example")
	_, resp, err := gws.DefaultDialer.Dial("ws"+strings.TrimPrefix(srv.URL, "http"), h)
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)
}
