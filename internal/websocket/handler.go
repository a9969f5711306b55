package websocket

import (
	"log/slog"
	"net/http"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/muatool/dashboard/internal/middleware"
	"github.com/muatool/dashboard/internal/realtime"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     checkOrigin,
}

// checkOrigin accepts requests without an Origin header and pages served
// from the loopback interface. The dashboard only listens locally.
func checkOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	return origin == "" || middleware.IsLocalOrigin(origin)
}

// Handler returns an HTTP handler function for WebSocket upgrades
func Handler(hub *realtime.Hub) http.HandlerFunc {
	logger := slog.Default().With("component", "websocket")
	return func(w http.ResponseWriter, r *http.Request) {
		clientID := r.URL.Query().Get("clientId")
		if clientID == "" {
			clientID = "client-" + uuid.New().String()[:8]
		}

		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			logger.Warn("websocket upgrade failed", "error", err)
			return
		}
		logger.Debug("serving websocket", "client", clientID)
		realtime.ServeWS(hub, conn, clientID)
	}
}
