package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"golang.org/x/term"

	"github.com/codespacesh/codewire/internal/wire"
)

// doAttach connects the terminal to a session's PTY and blocks until the
// user detaches (Ctrl-]) or the session ends: raw mode, an stdout-copy
// goroutine, an stdin-read goroutine watching for the detach byte, and
// SIGWINCH forwarding as an in-bridge Resize control frame.
func doAttach(id uint32) {
	conn := dial()
	fconn := wire.NewStreamConn(conn)

	if err := sendRequest(conn, wire.Request{Type: wire.ReqAttach, ID: id}); err != nil {
		fmt.Fprintf(os.Stderr, "codewire: %v\n", err)
		os.Exit(1)
	}
	resp, err := recvResponse(conn)
	if err != nil || resp.Type != wire.RespAttached {
		msg := "attach failed"
		if err != nil {
			msg = err.Error()
		} else if resp.Message != "" {
			msg = resp.Message
		}
		fmt.Fprintf(os.Stderr, "codewire: %s\n", msg)
		conn.Close()
		os.Exit(1)
	}

	fd := int(os.Stdin.Fd())
	oldState, err := term.MakeRaw(fd)
	if err != nil {
		fmt.Fprintf(os.Stderr, "codewire: cannot set raw mode: %v\n", err)
		conn.Close()
		os.Exit(1)
	}
	restore := func() { term.Restore(fd, oldState) }
	defer restore()

	fmt.Fprintf(os.Stdout, "\r\n[codewire] attached to session %d  (detach: Ctrl-])\r\n", resp.ID)

	done := make(chan struct{}, 1)
	notifyDone := func() {
		select {
		case done <- struct{}{}:
		default:
		}
	}

	// server -> stdout: each Data frame is raw PTY output; a Control frame
	// carries the terminal Error when the session ends.
	go func() {
		for {
			kind, payload, err := fconn.ReadFrame()
			if err != nil {
				notifyDone()
				return
			}
			switch kind {
			case wire.KindData:
				os.Stdout.Write(payload)
			case wire.KindControl:
				var r wire.Response
				if json.Unmarshal(payload, &r) == nil && r.Type == wire.RespError {
					fmt.Fprintf(os.Stdout, "\r\n[codewire] %s\r\n", r.Message)
				}
				notifyDone()
				return
			}
		}
	}()

	// stdin -> server: watch for Ctrl-] (0x1D) to detach.
	go func() {
		buf := make([]byte, 256)
		for {
			n, err := os.Stdin.Read(buf)
			if n > 0 {
				for i := 0; i < n; i++ {
					if buf[i] == 0x1D {
						sendDetach(fconn)
						notifyDone()
						return
					}
				}
				fconn.WriteFrame(wire.KindData, append([]byte(nil), buf[:n]...))
			}
			if err != nil {
				notifyDone()
				return
			}
		}
	}()

	winchCh := make(chan os.Signal, 1)
	signal.Notify(winchCh, syscall.SIGWINCH)
	sendResize := func() {
		if cols, rows, err := term.GetSize(fd); err == nil {
			req := wire.Request{Type: wire.ReqResize, Cols: uint16(cols), Rows: uint16(rows)}
			data, _ := json.Marshal(req)
			fconn.WriteFrame(wire.KindControl, data)
		}
	}
	go func() {
		for range winchCh {
			sendResize()
		}
	}()
	sendResize()

	<-done
	signal.Stop(winchCh)
	conn.Close()
	restore()
	fmt.Fprintf(os.Stdout, "\n[codewire] detached from session %d\n", resp.ID)
}

func sendDetach(conn wire.Conn) {
	req := wire.Request{Type: wire.ReqDetach}
	data, _ := json.Marshal(req)
	conn.WriteFrame(wire.KindControl, data)
}

// doWatch streams a session's output and status read-only, without taking
// any input.
func doWatch(id uint32, includeHistory bool, tailLines uint32) {
	conn := dial()
	defer conn.Close()

	req := wire.Request{Type: wire.ReqWatchSession, ID: id, IncludeHistory: &includeHistory}
	if tailLines > 0 {
		req.HistoryLines = &tailLines
	}
	if err := sendRequest(conn, req); err != nil {
		fmt.Fprintf(os.Stderr, "codewire: %v\n", err)
		os.Exit(1)
	}

	for {
		resp, err := recvResponse(conn)
		if err != nil {
			if err != io.EOF {
				fmt.Fprintf(os.Stderr, "codewire: %v\n", err)
			}
			return
		}
		if resp.Type == wire.RespError {
			fmt.Fprintf(os.Stderr, "codewire: %s\n", resp.Message)
			return
		}
		if resp.Output != nil {
			os.Stdout.Write(*resp.Output)
		}
		if resp.Done {
			fmt.Fprintf(os.Stdout, "\n[codewire] session %d %s\n", id, resp.Status)
			return
		}
	}
}
