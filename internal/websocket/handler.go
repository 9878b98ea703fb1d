package websocket

import (
	"log/slog"
	"net/http"

	"github.com/dukerupert/pillbox/internal/auth"

	ws "github.com/coder/websocket"
)

// HandleWebSocket returns an HTTP handler that upgrades connections to WebSocket
// and runs them as Hub clients for the authenticated user. originPatterns
// restricts cross-origin upgrades; an empty list allows same-origin only.
func HandleWebSocket(hub *Hub, originPatterns []string, logger *slog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		conn, err := ws.Accept(w, r, &ws.AcceptOptions{
			OriginPatterns: originPatterns,
		})
		if err != nil {
			logger.Warn("websocket accept failed", "remote", r.RemoteAddr, "error", err)
			return
		}
		defer conn.CloseNow()

		userID := auth.UserID(r.Context())
		logger.Debug("websocket connected", "user_id", userID, "remote", r.RemoteAddr)
		client := NewClient(hub, conn, userID)
		client.Run(r.Context())
		logger.Debug("websocket disconnected", "user_id", userID, "remote", r.RemoteAddr)
	}
}
