// Package fleet implements an optional NATS-based cross-Node scatter-gather
// layer for discovery and remote control, entirely absent when no NATS
// config is present. Uses github.com/nats-io/nats.go, the Go ecosystem's
// NATS client.
package fleet

import (
	"encoding/json"
	"log"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/codespacesh/codewire/internal/config"
	"github.com/codespacesh/codewire/internal/session"
	"github.com/codespacesh/codewire/internal/wire"
)

const heartbeatInterval = 30 * time.Second

// Plane owns the NATS connection and its subscriptions for one Node.
type Plane struct {
	conn        *nats.Conn
	mgr         *session.Manager
	name        string
	externalURL string
	startedAt   time.Time

	subs []*nats.Subscription
}

// Connect dials NATS per cfg, using token or creds-file auth if configured.
func Connect(cfg *config.NatsConfig) (*nats.Conn, error) {
	opts := []nats.Option{
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				log.Printf("fleet: nats disconnected: %v", err)
			}
		}),
		nats.ReconnectHandler(func(*nats.Conn) {
			log.Printf("fleet: nats reconnected")
		}),
	}
	if cfg.Token != "" {
		opts = append(opts, nats.Token(cfg.Token))
	}
	if cfg.CredsFile != "" {
		opts = append(opts, nats.UserCredentials(cfg.CredsFile))
	}
	return nats.Connect(cfg.URL, opts...)
}

// Run subscribes to the discovery and direct-addressed subjects and starts
// the heartbeat loop; it returns a started Plane the caller must Close on
// shutdown.
func Run(conn *nats.Conn, nodeName, externalURL string, mgr *session.Manager) (*Plane, error) {
	p := &Plane{
		conn:        conn,
		mgr:         mgr,
		name:        nodeName,
		externalURL: externalURL,
		startedAt:   time.Now(),
	}

	discoverSub, err := conn.Subscribe(wire.FleetSubjectDiscover, p.handleMessage)
	if err != nil {
		return nil, err
	}
	directSub, err := conn.Subscribe(wire.FleetSubjectDirect(nodeName), p.handleMessage)
	if err != nil {
		discoverSub.Unsubscribe()
		return nil, err
	}
	p.subs = []*nats.Subscription{discoverSub, directSub}

	go p.heartbeatLoop()

	log.Printf("fleet: registered as %q on %s", nodeName, conn.ConnectedUrl())
	return p, nil
}

// Close unsubscribes and drains the connection.
func (p *Plane) Close() {
	for _, sub := range p.subs {
		sub.Unsubscribe()
	}
	p.conn.Close()
}

func (p *Plane) handleMessage(msg *nats.Msg) {
	var req wire.FleetRequest
	if err := json.Unmarshal(msg.Data, &req); err != nil {
		log.Printf("fleet: invalid request payload: %v", err)
		return
	}

	resp := p.dispatch(req)
	if msg.Reply == "" {
		return
	}
	payload, err := json.Marshal(resp)
	if err != nil {
		return
	}
	if err := p.conn.Publish(msg.Reply, payload); err != nil {
		log.Printf("fleet: reply publish: %v", err)
	}
}

func (p *Plane) dispatch(req wire.FleetRequest) wire.FleetResponse {
	switch req.Type {
	case wire.FleetReqDiscover:
		return wire.FleetResponse{
			Type: wire.FleetRespDaemonInfo,
			Node: p.name,
			NodeInfo: &wire.NodeInfo{
				Name:        p.name,
				ExternalURL: p.externalURL,
				Sessions:    p.mgr.List(),
				UptimeSecs:  uint64(time.Since(p.startedAt).Seconds()),
			},
		}

	case wire.FleetReqListSessions:
		return wire.FleetResponse{Type: wire.FleetRespSessionList, Node: p.name, Sessions: p.mgr.List()}

	case wire.FleetReqLaunch:
		id, err := p.mgr.Launch(req.Command, req.WorkingDir)
		if err != nil {
			return p.errorResponse(err)
		}
		return wire.FleetResponse{Type: wire.FleetRespLaunched, Node: p.name, ID: id}

	case wire.FleetReqKill:
		if err := p.mgr.Kill(req.ID); err != nil {
			return p.errorResponse(err)
		}
		return wire.FleetResponse{Type: wire.FleetRespKilled, Node: p.name, ID: req.ID}

	case wire.FleetReqGetStatus:
		info, size, err := p.mgr.GetStatus(req.ID)
		if err != nil {
			return p.errorResponse(err)
		}
		return wire.FleetResponse{Type: wire.FleetRespSessionStatus, Node: p.name, Info: &info, OutputSize: size}

	case wire.FleetReqSendInput:
		n, err := p.mgr.SendInput(req.ID, req.Data)
		if err != nil {
			return p.errorResponse(err)
		}
		return wire.FleetResponse{Type: wire.FleetRespInputSent, Node: p.name, ID: req.ID, Bytes: n}

	default:
		return p.errorResponse(wire.InvalidCommand("unknown fleet request type: " + req.Type))
	}
}

func (p *Plane) errorResponse(err error) wire.FleetResponse {
	return wire.FleetResponse{Type: wire.FleetRespError, Node: p.name, Message: wire.Message(err)}
}

func (p *Plane) heartbeatLoop() {
	ticker := time.NewTicker(heartbeatInterval)
	defer ticker.Stop()
	for range ticker.C {
		info := wire.NodeInfo{
			Name:        p.name,
			ExternalURL: p.externalURL,
			Sessions:    p.mgr.List(),
			UptimeSecs:  uint64(time.Since(p.startedAt).Seconds()),
		}
		payload, err := json.Marshal(info)
		if err != nil {
			continue
		}
		if err := p.conn.Publish(wire.FleetSubjectHeartbeat, payload); err != nil {
			log.Printf("fleet: heartbeat publish: %v", err)
		}
	}
}
