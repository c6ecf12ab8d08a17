// codewire is the CLI client for the codewired daemon.
//
// Usage:
//
//	codewire list
//	codewire launch -- <cmd> [args...]
//	codewire launch --preset <name>
//	codewire attach [id] [--no-history]
//	codewire kill <id> | --all
//	codewire logs <id> [--follow] [--tail N]
//	codewire send <id> <input>
//	codewire watch <id> [--no-history] [--tail N]
//	codewire status <id>
//	codewire stop
//
// codewire starts codewired automatically if it is not already running.
// Detach from an attached session with Ctrl-].
package main

import (
	"flag"
	"fmt"
	"os"
	"strconv"

	"github.com/codespacesh/codewire/internal/config"
	"github.com/codespacesh/codewire/internal/wire"
)

func main() {
	if len(os.Args) < 2 {
		usage()
		os.Exit(1)
	}

	switch os.Args[1] {
	case "list":
		cmdList()
	case "launch", "run":
		cmdLaunch()
	case "attach":
		cmdAttach()
	case "kill":
		cmdKill()
	case "logs":
		cmdLogs()
	case "send":
		cmdSend()
	case "watch":
		cmdWatch()
	case "status":
		cmdStatus()
	case "stop":
		cmdStop()
	case "fleet":
		cmdFleet()
	default:
		fmt.Fprintf(os.Stderr, "codewire: unknown command %q\n", os.Args[1])
		usage()
		os.Exit(1)
	}
}

func usage() {
	fmt.Fprintln(os.Stderr, `codewire - drive PTY-backed sessions on a codewire Node

  list                                list sessions
  launch -- <cmd> [args...]           launch a new session
  launch --preset <name>              launch a named command preset
  attach [id] [--no-history]          attach to a session (0/omitted = auto)
  kill <id> | --all                   kill a session, or all sessions
  logs <id> [--follow] [--tail N]     print (optionally follow) a session's log
  send <id> <input>                   send input to a session without attaching
  watch <id> [--no-history] [--tail N]
                                       observe a session read-only
  status <id>                         print a session's current status
  stop                                stop the local daemon
  fleet list|launch|kill|status|send  talk to NATS fleet peers`)
}

func parseID(s string) uint32 {
	n, err := strconv.ParseUint(s, 10, 32)
	if err != nil {
		fmt.Fprintf(os.Stderr, "codewire: invalid session id: %s\n", s)
		os.Exit(1)
	}
	return uint32(n)
}

func cmdList() {
	resp := mustRequest(wire.Request{Type: wire.ReqListSessions})
	if len(resp.Sessions) == 0 {
		fmt.Println("no sessions")
		return
	}
	fmt.Printf("%-6s  %-10s  %-6s  %s\n", "ID", "STATUS", "PID", "COMMAND")
	for _, s := range resp.Sessions {
		pid := 0
		if s.PID != nil {
			pid = *s.PID
		}
		attached := ""
		if s.Attached {
			attached = " [attached]"
		}
		fmt.Printf("%-6d  %-10s  %-6d  %s%s\n", s.ID, s.Status, pid, s.Command, attached)
	}
}

func cmdLaunch() {
	args := os.Args[2:]
	sep := -1
	for i, a := range args {
		if a == "--" {
			sep = i
			break
		}
	}
	flagArgs := args
	if sep >= 0 {
		flagArgs = args[:sep]
	}

	fs := flag.NewFlagSet("launch", flag.ExitOnError)
	preset := fs.String("preset", "", "launch a named command preset instead of spelling out argv")
	fs.Parse(flagArgs)

	workingDir, _ := os.Getwd()
	var command []string
	if sep >= 0 {
		command = args[sep+1:]
	} else {
		command = fs.Args()
	}

	if *preset != "" {
		if len(command) > 0 {
			fmt.Fprintln(os.Stderr, "usage: codewire launch --preset <name>  (mutually exclusive with -- <cmd>)")
			os.Exit(1)
		}
		presets, err := config.LoadPresets(dataDir())
		if err != nil {
			fmt.Fprintf(os.Stderr, "codewire: %v\n", err)
			os.Exit(1)
		}
		resolved, err := presets.Resolve(*preset)
		if err != nil {
			fmt.Fprintf(os.Stderr, "codewire: %v\n", err)
			os.Exit(1)
		}
		command = resolved
	}

	if len(command) == 0 {
		fmt.Fprintln(os.Stderr, "usage: codewire launch -- <cmd> [args...]  |  codewire launch --preset <name>")
		os.Exit(1)
	}

	resp := mustRequest(wire.Request{Type: wire.ReqLaunch, Command: command, WorkingDir: workingDir})
	fmt.Printf("launched session %d\n", resp.ID)
}

func cmdAttach() {
	fs := flag.NewFlagSet("attach", flag.ExitOnError)
	noHistory := fs.Bool("no-history", false, "skip history replay")
	fs.Parse(os.Args[2:])
	_ = noHistory // history replay is Watch-only; Attach never replays.

	var id uint32
	if rest := fs.Args(); len(rest) > 0 {
		id = parseID(rest[0])
	}
	doAttach(id)
}

func cmdKill() {
	fs := flag.NewFlagSet("kill", flag.ExitOnError)
	all := fs.Bool("all", false, "kill every running session")
	fs.Parse(os.Args[2:])

	if *all {
		resp := mustRequest(wire.Request{Type: wire.ReqKillAll})
		fmt.Printf("killed %d session(s)\n", resp.Count)
		return
	}
	rest := fs.Args()
	if len(rest) < 1 {
		fmt.Fprintln(os.Stderr, "usage: codewire kill <id> | --all")
		os.Exit(1)
	}
	id := parseID(rest[0])
	mustRequest(wire.Request{Type: wire.ReqKill, ID: id})
	fmt.Printf("killed session %d\n", id)
}

func cmdLogs() {
	fs := flag.NewFlagSet("logs", flag.ExitOnError)
	follow := fs.Bool("follow", false, "follow log output")
	fs.BoolVar(follow, "f", false, "follow log output")
	tail := fs.Uint("tail", 0, "only show the last N lines")
	fs.Parse(os.Args[2:])

	rest := fs.Args()
	if len(rest) < 1 {
		fmt.Fprintln(os.Stderr, "usage: codewire logs <id> [--follow] [--tail N]")
		os.Exit(1)
	}
	id := parseID(rest[0])

	req := wire.Request{Type: wire.ReqLogs, ID: id, Follow: *follow}
	if *tail > 0 {
		t := uint32(*tail)
		req.Tail = &t
	}

	conn := dial()
	defer conn.Close()
	if err := sendRequest(conn, req); err != nil {
		fmt.Fprintf(os.Stderr, "codewire: %v\n", err)
		os.Exit(1)
	}
	for {
		resp, err := recvResponse(conn)
		if err != nil {
			return
		}
		if resp.Type == wire.RespError {
			fmt.Fprintf(os.Stderr, "codewire: %s\n", resp.Message)
			return
		}
		os.Stdout.Write(resp.LogBytes)
		if resp.Done {
			return
		}
	}
}

func cmdSend() {
	rest := os.Args[2:]
	if len(rest) < 2 {
		fmt.Fprintln(os.Stderr, "usage: codewire send <id> <input>")
		os.Exit(1)
	}
	id := parseID(rest[0])
	input := rest[1]
	resp := mustRequest(wire.Request{Type: wire.ReqSendInput, ID: id, Data: []byte(input)})
	fmt.Printf("sent %d byte(s)\n", resp.Bytes)
}

func cmdWatch() {
	fs := flag.NewFlagSet("watch", flag.ExitOnError)
	noHistory := fs.Bool("no-history", false, "skip history replay")
	tail := fs.Uint("tail", 0, "replay only the last N history lines")
	fs.Parse(os.Args[2:])

	rest := fs.Args()
	if len(rest) < 1 {
		fmt.Fprintln(os.Stderr, "usage: codewire watch <id> [--no-history] [--tail N]")
		os.Exit(1)
	}
	id := parseID(rest[0])
	doWatch(id, !*noHistory, uint32(*tail))
}

func cmdStatus() {
	rest := os.Args[2:]
	if len(rest) < 1 {
		fmt.Fprintln(os.Stderr, "usage: codewire status <id>")
		os.Exit(1)
	}
	id := parseID(rest[0])
	resp := mustRequest(wire.Request{Type: wire.ReqGetStatus, ID: id})
	if resp.Info == nil {
		fmt.Fprintln(os.Stderr, "codewire: no status returned")
		os.Exit(1)
	}
	info := resp.Info
	fmt.Printf("id:         %d\n", info.ID)
	fmt.Printf("command:    %s\n", info.Command)
	fmt.Printf("status:     %s\n", info.Status)
	fmt.Printf("attached:   %v\n", info.Attached)
	fmt.Printf("output:     %d bytes\n", resp.OutputSize)
	if info.LastOutputSnippet != nil {
		fmt.Printf("last lines:\n%s\n", *info.LastOutputSnippet)
	}
}

func cmdStop() {
	stopDaemon()
}
