package node

import (
	"encoding/json"
	"errors"
	"io"
	"log"

	"github.com/codespacesh/codewire/internal/wire"
)

// HandleConn is the per-connection request handler: it reads exactly one
// Control frame — it MUST carry a Request — and dispatches it.
// Non-attach/logs/watch requests get one Response and the connection
// closes; Attach/Logs(follow)/WatchSession enter long-lived loops that
// exit only when the connection or session ends.
func (n *Node) HandleConn(conn wire.Conn) {
	defer conn.Close()

	kind, payload, err := conn.ReadFrame()
	if err != nil {
		if !errors.Is(err, io.EOF) {
			log.Printf("node: read first frame: %v", err)
		}
		return
	}
	if kind != wire.KindControl {
		sendResponse(conn, wire.Response{Type: wire.RespError, Message: "first frame must be a control frame"})
		return
	}

	var req wire.Request
	if err := json.Unmarshal(payload, &req); err != nil {
		sendResponse(conn, wire.Response{Type: wire.RespError, Message: "malformed request: " + err.Error()})
		return
	}

	switch req.Type {
	case wire.ReqListSessions:
		sendResponse(conn, wire.Response{Type: wire.RespSessionList, Sessions: n.Manager.List()})

	case wire.ReqLaunch:
		id, err := n.Manager.Launch(req.Command, req.WorkingDir)
		if err != nil {
			sendResponse(conn, errorResponse(err))
			return
		}
		sendResponse(conn, wire.Response{Type: wire.RespLaunched, ID: id})

	case wire.ReqAttach:
		n.handleAttach(conn, req)

	case wire.ReqDetach:
		// Detach is only meaningful inside an Attach Bridge (it needs an id
		// implied by that session's context); as a standalone top-level
		// request there is no session to detach from, so just ack.
		sendResponse(conn, wire.Response{Type: wire.RespDetached})

	case wire.ReqKill:
		if err := n.Manager.Kill(req.ID); err != nil {
			sendResponse(conn, errorResponse(err))
			return
		}
		sendResponse(conn, wire.Response{Type: wire.RespKilled, ID: req.ID})

	case wire.ReqKillAll:
		count := n.Manager.KillAll()
		sendResponse(conn, wire.Response{Type: wire.RespKilledAll, Count: count})

	case wire.ReqResize:
		// Standalone Resize carries no session id, so outside of an attach
		// bridge it cannot resize anything; ack gracefully. The in-bridge
		// Control(Resize) frame (handleAttachBridge) is what actually calls
		// Manager.Resize.
		sendResponse(conn, wire.Response{Type: wire.RespResized})

	case wire.ReqLogs:
		n.handleLogs(conn, req)

	case wire.ReqSendInput:
		bytesWritten, err := n.Manager.SendInput(req.ID, req.Data)
		if err != nil {
			sendResponse(conn, errorResponse(err))
			return
		}
		sendResponse(conn, wire.Response{Type: wire.RespInputSent, ID: req.ID, Bytes: bytesWritten})

	case wire.ReqGetStatus:
		info, size, err := n.Manager.GetStatus(req.ID)
		if err != nil {
			sendResponse(conn, errorResponse(err))
			return
		}
		sendResponse(conn, wire.Response{Type: wire.RespSessionStatus, Info: &info, OutputSize: size})

	case wire.ReqWatchSession:
		n.handleWatchSession(conn, req)

	default:
		sendResponse(conn, wire.Response{Type: wire.RespError, Message: "unknown request type: " + req.Type})
	}
}

func sendResponse(conn wire.Conn, resp wire.Response) {
	data, err := json.Marshal(resp)
	if err != nil {
		return
	}
	_ = conn.WriteFrame(wire.KindControl, data)
}

func errorResponse(err error) wire.Response {
	return wire.Response{Type: wire.RespError, Message: wire.Message(err)}
}
