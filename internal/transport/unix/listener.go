// Package unix implements the local IPC transport: a Unix domain socket
// carrying the same length-prefixed frame codec as every other transport,
// dispatched through internal/node.
package unix

import (
	"errors"
	"fmt"
	"log"
	"net"
	"os"

	"github.com/codespacesh/codewire/internal/node"
	"github.com/codespacesh/codewire/internal/wire"
)

// Listener owns the Unix socket and dispatches accepted connections to a
// Node.
type Listener struct {
	path string
	ln   net.Listener
	n    *node.Node
}

// Listen removes any stale socket at path — left behind by a crashed Node
// — and starts listening.
func Listen(path string, n *node.Node) (*Listener, error) {
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return nil, fmt.Errorf("remove stale socket %s: %w", path, err)
	}

	ln, err := net.Listen("unix", path)
	if err != nil {
		return nil, fmt.Errorf("listen on %s: %w", path, err)
	}
	if err := os.Chmod(path, 0o600); err != nil {
		ln.Close()
		return nil, err
	}

	return &Listener{path: path, ln: ln, n: n}, nil
}

// Serve accepts connections until the listener is closed, dispatching each
// to the Node on its own goroutine. It returns nil on an orderly Close.
func (l *Listener) Serve() error {
	log.Printf("unix: listening on %s", l.path)
	for {
		conn, err := l.ln.Accept()
		if err != nil {
			if errors.Is(err, net.ErrClosed) {
				return nil
			}
			return err
		}
		go l.n.HandleConn(wire.NewStreamConn(conn))
	}
}

// Close stops accepting new connections and removes the socket file.
func (l *Listener) Close() error {
	err := l.ln.Close()
	os.Remove(l.path)
	return err
}
