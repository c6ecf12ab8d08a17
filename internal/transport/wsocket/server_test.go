package wsocket

import (
	"encoding/json"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/codespacesh/codewire/internal/auth"
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

func dialWS(t *testing.T, url string) *websocket.Conn {
	t.Helper()
	ws, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	return ws
}

func TestServeHTTPDispatchesWithoutAuth(t *testing.T) {
	n := newTestNode(t)
	h := NewHandler(n, nil)
	srv := httptest.NewServer(h)
	defer srv.Close()

	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http")
	ws := dialWS(t, wsURL)
	defer ws.Close()

	req := wire.Request{Type: wire.ReqListSessions}
	data, err := json.Marshal(req)
	require.NoError(t, err)
	require.NoError(t, ws.WriteMessage(websocket.TextMessage, data))

	ws.SetReadDeadline(time.Now().Add(3 * time.Second))
	kind, payload, err := ws.ReadMessage()
	require.NoError(t, err)
	assert.Equal(t, websocket.TextMessage, kind)

	var resp wire.Response
	require.NoError(t, json.Unmarshal(payload, &resp))
	assert.Equal(t, wire.RespSessionList, resp.Type)
}

func TestServeHTTPRejectsBadToken(t *testing.T) {
	n := newTestNode(t)
	realTok, err := auth.Load(t.TempDir())
	require.NoError(t, err)

	h := NewHandler(n, realTok)
	srv := httptest.NewServer(h)
	defer srv.Close()

	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http") + "?token=wrong"
	_, resp, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, 401, resp.StatusCode)
}

func TestServeHTTPAcceptsQueryToken(t *testing.T) {
	n := newTestNode(t)
	realTok, err := auth.Load(t.TempDir())
	require.NoError(t, err)

	h := NewHandler(n, realTok)
	srv := httptest.NewServer(h)
	defer srv.Close()

	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http") + "?token=" + realTok.String()
	ws := dialWS(t, wsURL)
	defer ws.Close()
}

func TestServeHTTPAcceptsBearerHeader(t *testing.T) {
	n := newTestNode(t)
	realTok, err := auth.Load(t.TempDir())
	require.NoError(t, err)

	h := NewHandler(n, realTok)
	srv := httptest.NewServer(h)
	defer srv.Close()

	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http")
	dialer := websocket.DefaultDialer
	header := map[string][]string{"Authorization": {"Bearer " + realTok.String()}}
	ws, _, err := dialer.Dial(wsURL, header)
	require.NoError(t, err)
	defer ws.Close()
}
