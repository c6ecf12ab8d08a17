package main

import (
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/codespacesh/codewire/internal/config"
	"github.com/codespacesh/codewire/internal/wire"
)

// cmdFleet talks to remote Nodes over NATS. "fleet attach" is intentionally
// not offered here: attaching crosses a Node boundary onto that Node's own
// local/WebSocket transport, not the fleet bus, which only carries
// one-shot request/reply verbs.
func cmdFleet() {
	if len(os.Args) < 3 {
		fmt.Fprintln(os.Stderr, "usage: codewire fleet list|launch|kill|status|send [args...]")
		os.Exit(1)
	}

	natsCfg := fleetNatsConfig()
	conn, err := nats.Connect(natsCfg.URL, fleetNatsOpts(natsCfg)...)
	if err != nil {
		fmt.Fprintf(os.Stderr, "codewire: fleet: %v\n", err)
		os.Exit(1)
	}
	defer conn.Close()

	switch os.Args[2] {
	case "list":
		fleetBroadcast(conn, wire.FleetRequest{Type: wire.FleetReqDiscover})
	case "launch":
		if len(os.Args) < 5 {
			fmt.Fprintln(os.Stderr, "usage: codewire fleet launch <node> -- <cmd> [args...]")
			os.Exit(1)
		}
		node := os.Args[3]
		workingDir, _ := os.Getwd()
		req := wire.FleetRequest{Type: wire.FleetReqLaunch, Command: os.Args[5:], WorkingDir: workingDir}
		fleetDirect(conn, node, "launch", req)
	case "kill":
		if len(os.Args) < 5 {
			fmt.Fprintln(os.Stderr, "usage: codewire fleet kill <node> <id>")
			os.Exit(1)
		}
		fleetDirect(conn, os.Args[3], "kill", wire.FleetRequest{Type: wire.FleetReqKill, ID: parseID(os.Args[4])})
	case "status":
		if len(os.Args) < 5 {
			fmt.Fprintln(os.Stderr, "usage: codewire fleet status <node> <id>")
			os.Exit(1)
		}
		fleetDirect(conn, os.Args[3], "status", wire.FleetRequest{Type: wire.FleetReqGetStatus, ID: parseID(os.Args[4])})
	case "send":
		if len(os.Args) < 6 {
			fmt.Fprintln(os.Stderr, "usage: codewire fleet send <node> <id> <input>")
			os.Exit(1)
		}
		req := wire.FleetRequest{Type: wire.FleetReqSendInput, ID: parseID(os.Args[4]), Data: []byte(os.Args[5])}
		fleetDirect(conn, os.Args[3], "send", req)
	default:
		fmt.Fprintf(os.Stderr, "codewire: unknown fleet command %q\n", os.Args[2])
		os.Exit(1)
	}
}

func fleetNatsConfig() *config.NatsConfig {
	url := os.Getenv("CODEWIRE_NATS_URL")
	if url == "" {
		url = nats.DefaultURL
	}
	return &config.NatsConfig{
		URL:       url,
		Token:     os.Getenv("CODEWIRE_NATS_TOKEN"),
		CredsFile: os.Getenv("CODEWIRE_NATS_CREDS"),
	}
}

func fleetNatsOpts(cfg *config.NatsConfig) []nats.Option {
	var opts []nats.Option
	if cfg.Token != "" {
		opts = append(opts, nats.Token(cfg.Token))
	}
	if cfg.CredsFile != "" {
		opts = append(opts, nats.UserCredentials(cfg.CredsFile))
	}
	return opts
}

// fleetBroadcast publishes to the discovery subject and prints every reply
// it collects within a short window (a scatter-gather, since any number of
// Nodes may answer).
func fleetBroadcast(conn *nats.Conn, req wire.FleetRequest) {
	sub, err := conn.SubscribeSync(nats.NewInbox())
	if err != nil {
		fmt.Fprintf(os.Stderr, "codewire: fleet: %v\n", err)
		os.Exit(1)
	}
	defer sub.Unsubscribe()

	data, _ := json.Marshal(req)
	if err := conn.PublishRequest(wire.FleetSubjectDiscover, sub.Subject, data); err != nil {
		fmt.Fprintf(os.Stderr, "codewire: fleet: %v\n", err)
		os.Exit(1)
	}

	deadline := time.Now().Add(2 * time.Second)
	found := 0
	for {
		remaining := time.Until(deadline)
		if remaining <= 0 {
			break
		}
		msg, err := sub.NextMsg(remaining)
		if err != nil {
			break
		}
		var resp wire.FleetResponse
		if json.Unmarshal(msg.Data, &resp) != nil || resp.NodeInfo == nil {
			continue
		}
		found++
		ni := resp.NodeInfo
		fmt.Printf("%-12s  %-6d sessions  uptime %ds  %s\n", ni.Name, len(ni.Sessions), ni.UptimeSecs, ni.ExternalURL)
	}
	if found == 0 {
		fmt.Println("no nodes responded")
	}
}

func fleetDirect(conn *nats.Conn, nodeName, verb string, req wire.FleetRequest) {
	data, _ := json.Marshal(req)
	msg, err := conn.Request("cw."+nodeName+"."+verb, data, 5*time.Second)
	if err != nil {
		fmt.Fprintf(os.Stderr, "codewire: fleet: %v\n", err)
		os.Exit(1)
	}
	var resp wire.FleetResponse
	if err := json.Unmarshal(msg.Data, &resp); err != nil {
		fmt.Fprintf(os.Stderr, "codewire: fleet: malformed reply: %v\n", err)
		os.Exit(1)
	}
	if resp.Type == wire.FleetRespError {
		fmt.Fprintf(os.Stderr, "codewire: %s\n", resp.Message)
		os.Exit(1)
	}
	printFleetResponse(resp)
}

func printFleetResponse(resp wire.FleetResponse) {
	switch resp.Type {
	case wire.FleetRespLaunched:
		fmt.Printf("launched session %d on %s\n", resp.ID, resp.Node)
	case wire.FleetRespKilled:
		fmt.Printf("killed session %d on %s\n", resp.ID, resp.Node)
	case wire.FleetRespSessionStatus:
		if resp.Info != nil {
			fmt.Printf("%s: session %d status=%s output=%d bytes\n", resp.Node, resp.Info.ID, resp.Info.Status, resp.OutputSize)
		}
	case wire.FleetRespInputSent:
		fmt.Printf("sent %d byte(s) to %s\n", resp.Bytes, resp.Node)
	default:
		fmt.Printf("%+v\n", resp)
	}
}
