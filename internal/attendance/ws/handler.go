package ws

import (
	"net/http"

	"github.com/gorilla/websocket"

	"github.com/aussiebroadwan/rollcall/pkg/httpx"
	"github.com/aussiebroadwan/rollcall/pkg/jwtx"
	"github.com/aussiebroadwan/rollcall/pkg/slogx"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	// Connections authenticate with a token, not cookies, so any origin
	// may connect.
	CheckOrigin: func(*http.Request) bool { return true },
}

// Handler upgrades authenticated requests on channel. It expects claims in
// the request context, so mount it behind httpx.AuthnQueryMiddleware.
func (h *Hub) Handler(channel string) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		log := slogx.FromContext(r.Context())

		claims, ok := httpx.ClaimsFromContext(r.Context())
		if !ok {
			httpx.WriteError(w, http.StatusUnauthorized, "invalid_token", "Authentication required.")
			return
		}

		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			// Upgrade already wrote the HTTP error.
			log.Warn("websocket upgrade failed", "error", err)
			return
		}

		c := newClient(h, conn, channel, claims.Subject, claims.HasScope(jwtx.ScopeIssue))
		if !h.join(c) {
			_ = conn.WriteMessage(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseGoingAway, "server shutting down"))
			_ = conn.Close()
			return
		}

		// Queue the greeting before the pumps start so it is the first frame.
		hello := newMessage(TypeConnectionEstablished, "", "Connected to "+channel+" updates.")
		hello.Data = map[string]string{"user_id": claims.Subject, "channel": channel}
		h.sendTo(c, hello)
		c.start()
	})
}
