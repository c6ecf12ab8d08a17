// Package node implements a transport-agnostic per-connection request
// handler, the Attach Bridge, log streaming, and the debounced persistence
// coordinator that ties a session.Manager to every transport (local socket,
// WebSocket, fleet bus).
package node

import (
	"time"

	"github.com/codespacesh/codewire/internal/session"
)

// Node is the long-lived host process's in-memory state: the session
// registry plus whatever is needed to dispatch requests from any
// transport.
type Node struct {
	Name    string
	DataDir string
	Manager *session.Manager

	StartedAt time.Time

	persist *persistCoordinator
}

// New constructs a Node rooted at dataDir and starts its persistence
// coordinator. Callers are responsible for wiring transports (see
// internal/transport/unix, internal/transport/wsocket) and calling Close on
// shutdown.
func New(name, dataDir string) (*Node, error) {
	mgr, err := session.NewManager(dataDir)
	if err != nil {
		return nil, err
	}

	n := &Node{
		Name:      name,
		DataDir:   dataDir,
		Manager:   mgr,
		StartedAt: time.Now(),
	}
	n.persist = startPersistCoordinator(mgr)

	go n.refreshLoop()

	return n, nil
}

// refreshLoop is a periodic catch-all refresh (every 5s), run alongside the
// event-driven signals session.Manager already sends on every mutation and
// status transition.
func (n *Node) refreshLoop() {
	ticker := time.NewTicker(5 * time.Second)
	defer ticker.Stop()
	for range ticker.C {
		n.Manager.RefreshStatuses()
	}
}

// Close stops the persistence coordinator, flushing a final snapshot.
func (n *Node) Close() {
	n.persist.stop()
}
