package node

import (
	"encoding/json"
	"io"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/codespacesh/codewire/internal/wire"
)

// pipeRWC stitches an io.PipeReader/io.PipeWriter pair into a single
// io.ReadWriteCloser, same shape as internal/wire/frame_test.go's helper, so
// HandleConn can be driven over an in-process duplex pipe instead of a real
// socket.
type pipeRWC struct {
	r *io.PipeReader
	w *io.PipeWriter
}

func (p *pipeRWC) Read(b []byte) (int, error)  { return p.r.Read(b) }
func (p *pipeRWC) Write(b []byte) (int, error) { return p.w.Write(b) }
func (p *pipeRWC) Close() error {
	_ = p.r.Close()
	return p.w.Close()
}

// newConnPair returns two wire.Conn endpoints wired to each other: writes on
// one are reads on the other. serverConn is handed to HandleConn; clientConn
// drives the test.
func newConnPair() (clientConn, serverConn wire.Conn) {
	r1, w1 := io.Pipe()
	r2, w2 := io.Pipe()
	clientConn = wire.NewStreamConn(&pipeRWC{r1, w2})
	serverConn = wire.NewStreamConn(&pipeRWC{r2, w1})
	return clientConn, serverConn
}

func newTestNode(t *testing.T) *Node {
	t.Helper()
	n, err := New("test-node", t.TempDir())
	require.NoError(t, err)
	t.Cleanup(n.Close)
	return n
}

func sendReq(t *testing.T, conn wire.Conn, req wire.Request) {
	t.Helper()
	data, err := json.Marshal(req)
	require.NoError(t, err)
	require.NoError(t, conn.WriteFrame(wire.KindControl, data))
}

func recvResp(t *testing.T, conn wire.Conn) wire.Response {
	t.Helper()
	kind, payload, err := conn.ReadFrame()
	require.NoError(t, err)
	require.Equal(t, wire.KindControl, kind)
	var resp wire.Response
	require.NoError(t, json.Unmarshal(payload, &resp))
	return resp
}

func TestHandleConnListSessions(t *testing.T) {
	n := newTestNode(t)
	client, server := newConnPair()
	go n.HandleConn(server)

	sendReq(t, client, wire.Request{Type: wire.ReqListSessions})
	resp := recvResp(t, client)
	assert.Equal(t, wire.RespSessionList, resp.Type)
	assert.Empty(t, resp.Sessions)
	client.Close()
}

func TestHandleConnLaunchAndKill(t *testing.T) {
	n := newTestNode(t)

	client, server := newConnPair()
	go n.HandleConn(server)
	sendReq(t, client, wire.Request{Type: wire.ReqLaunch, Command: []string{"sh", "-c", "sleep 60"}, WorkingDir: t.TempDir()})
	launchResp := recvResp(t, client)
	require.Equal(t, wire.RespLaunched, launchResp.Type)
	id := launchResp.ID
	client.Close()

	client2, server2 := newConnPair()
	go n.HandleConn(server2)
	sendReq(t, client2, wire.Request{Type: wire.ReqKill, ID: id})
	killResp := recvResp(t, client2)
	assert.Equal(t, wire.RespKilled, killResp.Type)
	assert.Equal(t, id, killResp.ID)
	client2.Close()
}

func TestHandleConnLaunchRejectsBadCommand(t *testing.T) {
	n := newTestNode(t)
	client, server := newConnPair()
	go n.HandleConn(server)

	sendReq(t, client, wire.Request{Type: wire.ReqLaunch, Command: nil, WorkingDir: t.TempDir()})
	resp := recvResp(t, client)
	assert.Equal(t, wire.RespError, resp.Type)
	client.Close()
}

// TestAttachBridgeIOAndDetach attaches, exchanges input/output, then
// detaches cleanly via Ctrl-] equivalent (a Detach control frame).
func TestAttachBridgeIOAndDetach(t *testing.T) {
	n := newTestNode(t)
	id := launchCat(t, n)

	client, server := newConnPair()
	go n.HandleConn(server)
	defer client.Close()

	sendReq(t, client, wire.Request{Type: wire.ReqAttach, ID: id})
	attachResp := recvResp(t, client)
	require.Equal(t, wire.RespAttached, attachResp.Type)
	require.Equal(t, id, attachResp.ID)

	sendControlFrame(t, client, wire.Request{Type: wire.ReqResize, Cols: 120, Rows: 40})

	require.NoError(t, client.WriteFrame(wire.KindData, []byte("ATTACH_ECHO_TEST\n")))

	deadline := time.Now().Add(3 * time.Second)
	var got []byte
	for time.Now().Before(deadline) && !strings.Contains(string(got), "ATTACH_ECHO_TEST") {
		kind, payload, err := client.ReadFrame()
		require.NoError(t, err)
		if kind == wire.KindData {
			got = append(got, payload...)
		}
	}
	assert.Contains(t, string(got), "ATTACH_ECHO_TEST")

	sendControlFrame(t, client, wire.Request{Type: wire.ReqDetach})
	for {
		kind, payload, err := client.ReadFrame()
		require.NoError(t, err)
		if kind != wire.KindControl {
			continue
		}
		var resp wire.Response
		require.NoError(t, json.Unmarshal(payload, &resp))
		if resp.Type == wire.RespDetached {
			break
		}
	}
}

// TestAttachBridgeMultiSubscriberFanOut verifies two independent attaches
// to the same session both observe the same output.
func TestAttachBridgeMultiSubscriberFanOut(t *testing.T) {
	n := newTestNode(t)
	id := launchShellLoop(t, n, "FANOUT")

	clientA, serverA := newConnPair()
	go n.HandleConn(serverA)
	defer clientA.Close()
	sendReq(t, clientA, wire.Request{Type: wire.ReqAttach, ID: id})
	require.Equal(t, wire.RespAttached, recvResp(t, clientA).Type)

	clientB, serverB := newConnPair()
	go n.HandleConn(serverB)
	defer clientB.Close()
	sendReq(t, clientB, wire.Request{Type: wire.ReqAttach, ID: id})
	require.Equal(t, wire.RespAttached, recvResp(t, clientB).Type)

	assert.Contains(t, readUntilContains(t, clientA, "FANOUT_5"), "FANOUT_5")
	assert.Contains(t, readUntilContains(t, clientB, "FANOUT_5"), "FANOUT_5")
}

// TestAttachBridgeEndsOnSessionExit verifies an Attach terminates with an
// Error response once the session's status goes non-running.
func TestAttachBridgeEndsOnSessionExit(t *testing.T) {
	n := newTestNode(t)
	client, server := newConnPair()
	go n.HandleConn(server)
	defer client.Close()

	sendReq(t, client, wire.Request{Type: wire.ReqLaunch, Command: []string{"sh", "-c", "exit 0"}, WorkingDir: t.TempDir()})
	launchResp := recvResp(t, client)
	require.Equal(t, wire.RespLaunched, launchResp.Type)
	client.Close()

	client2, server2 := newConnPair()
	go n.HandleConn(server2)
	defer client2.Close()
	sendReq(t, client2, wire.Request{Type: wire.ReqAttach, ID: launchResp.ID})
	attachResp := recvResp(t, client2)
	require.Equal(t, wire.RespAttached, attachResp.Type)

	for {
		kind, payload, err := client2.ReadFrame()
		if err != nil {
			return
		}
		if kind != wire.KindControl {
			continue
		}
		var resp wire.Response
		require.NoError(t, json.Unmarshal(payload, &resp))
		if resp.Type == wire.RespError {
			return
		}
	}
}

func TestHandleLogsNonFollow(t *testing.T) {
	n := newTestNode(t)
	id := launchShellLoop(t, n, "LOGLINE")
	waitForOutput(t, n, id, "LOGLINE_3")

	client, server := newConnPair()
	go n.HandleConn(server)
	defer client.Close()

	sendReq(t, client, wire.Request{Type: wire.ReqLogs, ID: id, Follow: false})
	resp := recvResp(t, client)
	assert.Equal(t, wire.RespLogData, resp.Type)
	assert.True(t, resp.Done)
	assert.Contains(t, string(resp.LogBytes), "LOGLINE")
}

func TestHandleLogsFollow(t *testing.T) {
	n := newTestNode(t)
	id := launchShellLoop(t, n, "FOLLOWLINE")

	client, server := newConnPair()
	go n.HandleConn(server)
	defer client.Close()

	sendReq(t, client, wire.Request{Type: wire.ReqLogs, ID: id, Follow: true})

	var all []byte
	deadline := time.Now().Add(4 * time.Second)
	for time.Now().Before(deadline) && !strings.Contains(string(all), "FOLLOWLINE_5") {
		resp := recvResp(t, client)
		require.Equal(t, wire.RespLogData, resp.Type)
		all = append(all, resp.LogBytes...)
		if resp.Done {
			break
		}
	}
	assert.Contains(t, string(all), "FOLLOWLINE_5")
}

func TestHandleWatchSessionHistoryAndTermination(t *testing.T) {
	n := newTestNode(t)
	id := launchShellLoop(t, n, "WATCHLINE")
	waitForOutput(t, n, id, "WATCHLINE_3")

	client, server := newConnPair()
	go n.HandleConn(server)
	defer client.Close()

	include := true
	sendReq(t, client, wire.Request{Type: wire.ReqWatchSession, ID: id, IncludeHistory: &include})

	var sawHistory bool
	var sawTerminal bool
	deadline := time.Now().Add(6 * time.Second)
	for time.Now().Before(deadline) {
		kind, payload, err := client.ReadFrame()
		if err != nil {
			break
		}
		if kind != wire.KindControl {
			continue
		}
		var resp wire.Response
		require.NoError(t, json.Unmarshal(payload, &resp))
		require.Equal(t, wire.RespWatchUpdate, resp.Type)
		if resp.Output != nil && strings.Contains(string(*resp.Output), "WATCHLINE") {
			sawHistory = true
		}
		if resp.Done {
			sawTerminal = true
			break
		}
	}
	assert.True(t, sawHistory, "expected history replay to include prior output")
	assert.True(t, sawTerminal, "expected watch to end with a terminal status update")
}

func TestHandleWatchSessionDoesNotAffectAttachCount(t *testing.T) {
	n := newTestNode(t)
	id := launchCat(t, n)

	watchClient, watchServer := newConnPair()
	go n.HandleConn(watchServer)
	defer watchClient.Close()
	include := false
	sendReq(t, watchClient, wire.Request{Type: wire.ReqWatchSession, ID: id, IncludeHistory: &include})

	time.Sleep(100 * time.Millisecond)

	attachClient, attachServer := newConnPair()
	go n.HandleConn(attachServer)
	defer attachClient.Close()
	sendReq(t, attachClient, wire.Request{Type: wire.ReqAttach, ID: id})
	resp := recvResp(t, attachClient)
	assert.Equal(t, wire.RespAttached, resp.Type, "attach must still succeed while a watcher is observing")
}

func TestHandleConnGetStatus(t *testing.T) {
	n := newTestNode(t)
	id := launchCat(t, n)

	client, server := newConnPair()
	go n.HandleConn(server)
	defer client.Close()

	sendReq(t, client, wire.Request{Type: wire.ReqGetStatus, ID: id})
	resp := recvResp(t, client)
	require.Equal(t, wire.RespSessionStatus, resp.Type)
	require.NotNil(t, resp.Info)
	assert.Equal(t, id, resp.Info.ID)
}

func TestHandleConnSendInput(t *testing.T) {
	n := newTestNode(t)
	id := launchCat(t, n)

	client, server := newConnPair()
	go n.HandleConn(server)
	defer client.Close()

	sendReq(t, client, wire.Request{Type: wire.ReqSendInput, ID: id, Data: []byte("DIRECT_INPUT\n")})
	resp := recvResp(t, client)
	assert.Equal(t, wire.RespInputSent, resp.Type)
	assert.Equal(t, len("DIRECT_INPUT\n"), resp.Bytes)
}

// --- helpers ---

func launchCat(t *testing.T, n *Node) uint32 {
	t.Helper()
	id, err := n.Manager.Launch([]string{"cat"}, t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { n.Manager.Kill(id) })
	return id
}

func launchShellLoop(t *testing.T, n *Node, marker string) uint32 {
	t.Helper()
	script := "for i in 1 2 3 4 5; do echo " + marker + "_$i; sleep 0.15; done"
	id, err := n.Manager.Launch([]string{"sh", "-c", script}, t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { n.Manager.Kill(id) })
	return id
}

func waitForOutput(t *testing.T, n *Node, id uint32, substr string) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		info, _, err := n.Manager.GetStatus(id)
		require.NoError(t, err)
		if info.LastOutputSnippet != nil && strings.Contains(*info.LastOutputSnippet, substr) {
			return
		}
		time.Sleep(50 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for output containing %q", substr)
}

func sendControlFrame(t *testing.T, conn wire.Conn, req wire.Request) {
	t.Helper()
	data, err := json.Marshal(req)
	require.NoError(t, err)
	require.NoError(t, conn.WriteFrame(wire.KindControl, data))
}

func readUntilContains(t *testing.T, conn wire.Conn, substr string) string {
	t.Helper()
	var got []byte
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		kind, payload, err := conn.ReadFrame()
		require.NoError(t, err)
		if kind == wire.KindData {
			got = append(got, payload...)
			if strings.Contains(string(got), substr) {
				break
			}
		}
	}
	return string(got)
}
