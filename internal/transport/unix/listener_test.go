package unix

import (
	"encoding/json"
	"net"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/codespacesh/codewire/internal/node"
	"github.com/codespacesh/codewire/internal/wire"
)

func newTestNode(t *testing.T) *node.Node {
	t.Helper()
	n, err := node.New("test-node", t.TempDir())
	require.NoError(t, err)
	t.Cleanup(n.Close)
	return n
}

func TestListenRemovesStaleSocket(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "codewired.sock")

	stale, err := net.Listen("unix", path)
	require.NoError(t, err)
	stale.Close() // leaves the socket file behind without unlinking it

	n := newTestNode(t)
	l, err := Listen(path, n)
	require.NoError(t, err)
	defer l.Close()
}

func TestServeDispatchesToNode(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "codewired.sock")
	n := newTestNode(t)

	l, err := Listen(path, n)
	require.NoError(t, err)
	go l.Serve()
	defer l.Close()

	conn, err := net.Dial("unix", path)
	require.NoError(t, err)
	defer conn.Close()

	req := wire.Request{Type: wire.ReqListSessions}
	data, err := json.Marshal(req)
	require.NoError(t, err)
	require.NoError(t, wire.WriteFrame(conn, wire.KindControl, data))

	conn.SetReadDeadline(time.Now().Add(3 * time.Second))
	kind, payload, err := wire.ReadFrame(conn)
	require.NoError(t, err)
	assert.Equal(t, wire.KindControl, kind)

	var resp wire.Response
	require.NoError(t, json.Unmarshal(payload, &resp))
	assert.Equal(t, wire.RespSessionList, resp.Type)
}

func TestCloseStopsAcceptingAndRemovesSocket(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "codewired.sock")
	n := newTestNode(t)

	l, err := Listen(path, n)
	require.NoError(t, err)

	serveDone := make(chan error, 1)
	go func() { serveDone <- l.Serve() }()

	require.NoError(t, l.Close())

	select {
	case err := <-serveDone:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("Serve did not return after Close")
	}

	_, err = net.Dial("unix", path)
	assert.Error(t, err, "socket file should be removed after Close")
}
