// Package wsocket implements the remote WebSocket transport: an
// http.Handler that upgrades a connection, checks the bearer token, and
// hands the result to a Node as a wire.Conn. Each connection is
// independently dispatched to Node.HandleConn, which already owns its own
// per-session fan-out (internal/session's broadcast), so no separate
// connection registry is needed here.
package wsocket

import (
	"log"
	"net/http"

	"github.com/codespacesh/codewire/internal/auth"
	"github.com/codespacesh/codewire/internal/node"
	"github.com/codespacesh/codewire/internal/wire"
	"github.com/gorilla/websocket"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// Handler upgrades authorized requests to WebSocket connections and
// dispatches each to a Node.
type Handler struct {
	n         *node.Node
	tokenator *auth.Token
}

// NewHandler builds a Handler; tok may be nil to disable authentication —
// the token check is only enforced when a token file/env var is configured.
func NewHandler(n *node.Node, tok *auth.Token) *Handler {
	return &Handler{n: n, tokenator: tok}
}

// ServeHTTP implements http.Handler. It checks the "token" query parameter
// or Authorization: Bearer header against the configured token before
// upgrading.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if h.tokenator != nil && !h.tokenator.Check(extractToken(r)) {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}

	ws, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("wsocket: upgrade: %v", err)
		return
	}

	h.n.HandleConn(wire.NewWSConn(ws))
}

func extractToken(r *http.Request) string {
	if t := r.URL.Query().Get("token"); t != "" {
		return t
	}
	const prefix = "Bearer "
	if h := r.Header.Get("Authorization"); len(h) > len(prefix) && h[:len(prefix)] == prefix {
		return h[len(prefix):]
	}
	return ""
}
