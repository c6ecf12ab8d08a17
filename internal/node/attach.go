package node

import (
	"context"
	"encoding/json"
	"log"

	"github.com/codespacesh/codewire/internal/session"
	"github.com/codespacesh/codewire/internal/wire"
)

// handleAttach sends Attached{id} immediately, then runs the Attach Bridge
// until either side signals exit, always detaching on the way out.
func (n *Node) handleAttach(conn wire.Conn, req wire.Request) {
	h, err := n.Manager.Attach(req.ID)
	if err != nil {
		sendResponse(conn, errorResponse(err))
		return
	}
	defer n.Manager.Detach(h.ID)

	sendResponse(conn, wire.Response{Type: wire.RespAttached, ID: h.ID})

	n.runAttachBridge(conn, h)
}

// runAttachBridge is the three-way select loop that is the core of an
// attach: output events forward as Data frames; client frames enqueue input
// or handle in-bridge control messages; a non-Running status change ends
// the session's stream with an Error. It never holds a lock while awaiting
// — all contended state lives behind channel primitives in
// internal/session.
func (n *Node) runAttachBridge(conn wire.Conn, h *session.AttachHandle) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Output events arrive from a blocking recv; bridge them onto a channel
	// so the select below can multiplex them against frame reads and status
	// changes without a dedicated goroutine per event source blocking each
	// other.
	type outputEvent struct {
		chunk []byte
		lag   int
		ok    bool
	}
	outputCh := make(chan outputEvent)
	go func() {
		for {
			chunk, lag, ok := h.RecvOutput(ctx)
			select {
			case outputCh <- outputEvent{chunk, lag, ok}:
			case <-ctx.Done():
				return
			}
			if !ok {
				return
			}
		}
	}()

	// Client frame reads are similarly blocking; bridge them onto a channel.
	type clientFrame struct {
		kind    byte
		payload []byte
		err     error
	}
	frameCh := make(chan clientFrame)
	go func() {
		for {
			kind, payload, err := conn.ReadFrame()
			select {
			case frameCh <- clientFrame{kind, payload, err}:
			case <-ctx.Done():
				return
			}
			if err != nil {
				return
			}
		}
	}()

	statusChanged := h.StatusChanged()

	for {
		select {
		case ev := <-outputCh:
			if !ev.ok {
				return
			}
			if ev.lag > 0 {
				log.Printf("attach %d: subscriber lagged, dropped %d chunk(s)", h.ID, ev.lag)
			}
			if len(ev.chunk) > 0 {
				if err := conn.WriteFrame(wire.KindData, ev.chunk); err != nil {
					return
				}
			}

		case cf := <-frameCh:
			if cf.err != nil {
				return // orderly EOF or transport error: exit
			}
			switch cf.kind {
			case wire.KindData:
				if _, err := h.SendInput(cf.payload); err != nil {
					log.Printf("attach %d: input enqueue: %v", h.ID, err)
				}
			case wire.KindControl:
				var req wire.Request
				if err := json.Unmarshal(cf.payload, &req); err != nil {
					continue
				}
				switch req.Type {
				case wire.ReqDetach:
					sendResponse(conn, wire.Response{Type: wire.RespDetached})
					return
				case wire.ReqResize:
					_ = n.Manager.Resize(h.ID, req.Cols, req.Rows)
				default:
					// Any other control message is ignored in-bridge.
				}
			}

		case <-statusChanged:
			st := h.StatusNow()
			statusChanged = h.StatusChanged()
			if st.Kind != session.Running {
				sendResponse(conn, wire.Response{Type: wire.RespError, Message: "session " + st.String()})
				return
			}
		}
	}
}
