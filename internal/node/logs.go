package node

import (
	"context"
	"encoding/json"
	"log"
	"os"
	"time"

	"github.com/codespacesh/codewire/internal/wire"
)

// logsFollowPoll is the interval the Logs{follow:true} loop polls the log
// file for new bytes.
const logsFollowPoll = 500 * time.Millisecond

// handleLogs computes current log contents (optionally tailed), sends one
// LogData, and if follow is set keeps polling for and forwarding newly
// appended bytes until the connection closes.
func (n *Node) handleLogs(conn wire.Conn, req wire.Request) {
	path, err := n.Manager.LogPath(req.ID)
	if err != nil {
		sendResponse(conn, errorResponse(err))
		return
	}

	data, err := os.ReadFile(path)
	if err != nil {
		sendResponse(conn, errorResponse(wire.Internal(err)))
		return
	}
	if req.Tail != nil {
		data = tailNBytes(data, *req.Tail)
	}

	sendResponse(conn, wire.Response{Type: wire.RespLogData, LogBytes: data, Done: !req.Follow})
	if !req.Follow {
		return
	}

	offset := int64(len(data))
	if req.Tail != nil {
		// Tailing only affects the first chunk sent; follow-up reads always
		// resume from true end-of-file at the time of the initial response.
		if fi, err := os.Stat(path); err == nil {
			offset = fi.Size()
		}
	}

	ticker := time.NewTicker(logsFollowPoll)
	defer ticker.Stop()

	for range ticker.C {
		info, _, err := n.Manager.GetStatus(req.ID)
		terminal := err == nil && info.Status != "running"

		fi, statErr := os.Stat(path)
		if statErr != nil {
			return
		}
		if fi.Size() < offset {
			offset = 0 // log was rotated/truncated
		}

		if fi.Size() > offset {
			chunk, readErr := readRange(path, offset, fi.Size())
			if readErr != nil {
				return
			}
			offset = fi.Size()
			if sendErr := conn.WriteFrame(wire.KindControl, mustMarshal(wire.Response{
				Type: wire.RespLogData, LogBytes: chunk, Done: false,
			})); sendErr != nil {
				return
			}
		} else if terminal {
			return
		}
	}
}

func readRange(path string, from, to int64) ([]byte, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	buf := make([]byte, to-from)
	if _, err := f.ReadAt(buf, from); err != nil {
		return nil, err
	}
	return buf, nil
}

func tailNBytes(data []byte, n uint32) []byte {
	lines := splitLines(data)
	if uint32(len(lines)) <= n {
		return data
	}
	return joinLines(lines[uint32(len(lines))-n:])
}

func splitLines(data []byte) [][]byte {
	var lines [][]byte
	start := 0
	for i, b := range data {
		if b == '\n' {
			lines = append(lines, data[start:i])
			start = i + 1
		}
	}
	if start < len(data) {
		lines = append(lines, data[start:])
	}
	return lines
}

func joinLines(lines [][]byte) []byte {
	var out []byte
	for i, l := range lines {
		if i > 0 {
			out = append(out, '\n')
		}
		out = append(out, l...)
	}
	return out
}

func mustMarshal(v any) []byte {
	data, _ := json.Marshal(v)
	return data
}

// handleWatchSession subscribes to output and status, optionally replays
// history, then streams WatchUpdate events until the session reaches a
// terminal status or the connection closes. Unlike Attach, history replay
// IS performed here: a watcher connecting mid-session can ask for context
// leading up to the point it joined.
func (n *Node) handleWatchSession(conn wire.Conn, req wire.Request) {
	h, err := n.Manager.Watch(req.ID)
	if err != nil {
		sendResponse(conn, errorResponse(err))
		return
	}

	if req.IncludeHistoryOrDefault() {
		path, err := n.Manager.LogPath(req.ID)
		if err == nil {
			if data, err := os.ReadFile(path); err == nil {
				if req.HistoryLines != nil {
					data = tailNBytes(data, *req.HistoryLines)
				}
				out := data
				sendResponse(conn, wire.Response{
					Type: wire.RespWatchUpdate, ID: req.ID, Status: "running", Output: &out, Done: false,
				})
			}
		}
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Both the output subscription and the client connection read block, so
	// bridge each onto its own channel (same shape as the Attach Bridge in
	// attach.go) to multiplex them in one select without either blocking the
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

	// WatchSession is one-directional; any frame (or an error/EOF) from the
	// client just ends the watch.
	closedCh := make(chan struct{})
	go func() {
		defer close(closedCh)
		_, _, _ = conn.ReadFrame()
	}()

	statusChanged := h.StatusChanged()
	for {
		select {
		case <-closedCh:
			return

		case <-statusChanged:
			st := h.StatusNow()
			statusChanged = h.StatusChanged()
			sendResponse(conn, wire.Response{Type: wire.RespWatchUpdate, ID: req.ID, Status: st.String(), Done: st.Terminal()})
			if st.Terminal() {
				return
			}

		case ev := <-outputCh:
			if !ev.ok {
				return
			}
			if ev.lag > 0 {
				log.Printf("watch %d: subscriber lagged, dropped %d chunk(s)", h.ID, ev.lag)
			}
			if len(ev.chunk) == 0 {
				continue
			}
			out := ev.chunk
			sendResponse(conn, wire.Response{
				Type: wire.RespWatchUpdate, ID: req.ID, Status: "running", Output: &out, Done: false,
			})
		}
	}
}
