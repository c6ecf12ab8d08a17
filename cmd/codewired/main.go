// codewired is the background daemon that supervises PTY-backed sessions.
//
// Usage:
//
//	codewired [--data-dir <dir>]
//
// It listens on a Unix domain socket at <data-dir>/codewired.sock for local
// clients, optionally on a WebSocket address for remote clients, and
// optionally joins a NATS Fleet plane. It is normally started automatically
// by the codewire CLI; you do not need to run it by hand.
package main

import (
	"flag"
	"log"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"syscall"

	"github.com/codespacesh/codewire/internal/auth"
	"github.com/codespacesh/codewire/internal/config"
	"github.com/codespacesh/codewire/internal/fleet"
	"github.com/codespacesh/codewire/internal/node"
	unixtransport "github.com/codespacesh/codewire/internal/transport/unix"
	"github.com/codespacesh/codewire/internal/transport/wsocket"
)

func main() {
	defaultDataDir := "/tmp/.codewire"
	if homeDir, err := os.UserHomeDir(); err == nil {
		defaultDataDir = filepath.Join(homeDir, ".codewire")
	}
	if env := os.Getenv("CODEWIRE_DATA_DIR"); env != "" {
		defaultDataDir = env
	}

	dataDir := flag.String("data-dir", defaultDataDir, "codewired data directory (env: CODEWIRE_DATA_DIR)")
	flag.Parse()

	if err := os.MkdirAll(*dataDir, 0o755); err != nil {
		log.Fatalf("create data dir: %v", err)
	}

	pidPath := filepath.Join(*dataDir, "codewired.pid")
	if err := os.WriteFile(pidPath, []byte(strconv.Itoa(os.Getpid())), 0o644); err != nil {
		log.Fatalf("write pid file: %v", err)
	}
	defer os.Remove(pidPath)

	cfg, err := config.Load(*dataDir)
	if err != nil {
		log.Fatalf("load config: %v", err)
	}

	n, err := node.New(cfg.Node.Name, *dataDir)
	if err != nil {
		log.Fatalf("node init: %v", err)
	}
	defer n.Close()

	socketPath := filepath.Join(*dataDir, "codewired.sock")
	listener, err := unixtransport.Listen(socketPath, n)
	if err != nil {
		log.Fatalf("unix listen: %v", err)
	}

	var httpServer *http.Server
	if cfg.Node.Listen != "" {
		tok, err := auth.Load(*dataDir)
		if err != nil {
			log.Fatalf("load auth token: %v", err)
		}
		log.Printf("codewired: remote token: %s", tok.String())

		mux := http.NewServeMux()
		mux.Handle("/ws", wsocket.NewHandler(n, tok))
		httpServer = &http.Server{Addr: cfg.Node.Listen, Handler: mux}
		go func() {
			log.Printf("codewired: websocket listening on %s", cfg.Node.Listen)
			if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				log.Printf("websocket server: %v", err)
			}
		}()
	}

	var plane *fleet.Plane
	if cfg.Nats != nil {
		conn, err := fleet.Connect(cfg.Nats)
		if err != nil {
			log.Printf("fleet: nats connect failed, continuing without fleet plane: %v", err)
		} else {
			plane, err = fleet.Run(conn, cfg.Node.Name, cfg.Node.ExternalURL, n.Manager)
			if err != nil {
				log.Printf("fleet: run failed, continuing without fleet plane: %v", err)
				conn.Close()
			}
		}
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		log.Printf("received %v, shutting down", sig)
		if plane != nil {
			plane.Close()
		}
		if httpServer != nil {
			httpServer.Close()
		}
		listener.Close()
		n.Close()
		os.Remove(pidPath)
		os.Exit(0)
	}()

	log.Printf("codewired: node %q ready", cfg.Node.Name)
	if err := listener.Serve(); err != nil {
		log.Fatalf("unix serve: %v", err)
	}
}
