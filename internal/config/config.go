// Package config loads the Node's config.toml and the client's
// servers.toml, and the additive command-preset table. Env-var override
// precedence: CODEWIRE_NODE_NAME always wins over config.toml;
// CODEWIRE_LISTEN/CODEWIRE_EXTERNAL_URL only fill an unset value. NATS
// auto-discovery only checks CODEWIRE_NATS_URL. TOML parsing is via
// github.com/BurntSushi/toml.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/BurntSushi/toml"
)

// NodeConfig is the Node's own identity and listener configuration.
type NodeConfig struct {
	Name        string `toml:"name"`
	Listen      string `toml:"listen"`
	ExternalURL string `toml:"external_url"`
}

// NatsConfig carries the Fleet plane's connection details.
type NatsConfig struct {
	URL       string `toml:"url"`
	Token     string `toml:"token"`
	CredsFile string `toml:"creds_file"`
}

// Config is the Node's config.toml.
type Config struct {
	Node NodeConfig  `toml:"node"`
	Nats *NatsConfig `toml:"nats"`
}

// Load reads dataDir/config.toml if present, then applies environment
// overrides and NATS auto-discovery, then validates the node name.
func Load(dataDir string) (*Config, error) {
	cfg := &Config{Node: NodeConfig{Name: defaultName()}}

	path := filepath.Join(dataDir, "config.toml")
	if data, err := os.ReadFile(path); err == nil {
		if _, err := toml.Decode(string(data), cfg); err != nil {
			return nil, fmt.Errorf("parsing %s: %w", path, err)
		}
	} else if !os.IsNotExist(err) {
		return nil, err
	}

	if name := os.Getenv("CODEWIRE_NODE_NAME"); name != "" {
		cfg.Node.Name = name
	}
	if cfg.Node.Listen == "" {
		cfg.Node.Listen = os.Getenv("CODEWIRE_LISTEN")
	}
	if cfg.Node.ExternalURL == "" {
		cfg.Node.ExternalURL = os.Getenv("CODEWIRE_EXTERNAL_URL")
	}

	if cfg.Nats == nil {
		cfg.Nats = autoDiscoverNats()
	}

	if err := ValidateNodeName(cfg.Node.Name); err != nil {
		return nil, err
	}
	return cfg, nil
}

// ValidateNodeName enforces the NATS-subject-safe alphabet: the node name
// is used verbatim as a subject token, and "." is NATS's delimiter.
func ValidateNodeName(name string) error {
	if name == "" {
		return fmt.Errorf("node name must not be empty")
	}
	for _, r := range name {
		if !(r >= 'a' && r <= 'z' || r >= 'A' && r <= 'Z' || r >= '0' && r <= '9' || r == '-' || r == '_') {
			return fmt.Errorf("node name must be alphanumeric with - or _, got: %q", name)
		}
	}
	return nil
}

func defaultName() string {
	raw := os.Getenv("HOSTNAME")
	if raw == "" {
		raw = os.Getenv("HOST")
	}
	if raw == "" {
		raw = "codewire"
	}
	var b strings.Builder
	for _, r := range raw {
		if r >= 'a' && r <= 'z' || r >= 'A' && r <= 'Z' || r >= '0' && r <= '9' || r == '-' || r == '_' {
			b.WriteRune(r)
		} else {
			b.WriteRune('-')
		}
	}
	return b.String()
}

// autoDiscoverNats checks CODEWIRE_NATS_URL only.
func autoDiscoverNats() *NatsConfig {
	url := os.Getenv("CODEWIRE_NATS_URL")
	if url == "" {
		return nil
	}
	return &NatsConfig{
		URL:       url,
		Token:     os.Getenv("CODEWIRE_NATS_TOKEN"),
		CredsFile: os.Getenv("CODEWIRE_NATS_CREDS"),
	}
}

// ServerEntry is one saved remote in the client's servers.toml.
type ServerEntry struct {
	URL   string `toml:"url"`
	Token string `toml:"token"`
}

// ServersConfig is the CLI client's ~/.codewire/servers.toml, the set of
// remembered remote Fleet/WebSocket endpoints.
type ServersConfig struct {
	Servers map[string]ServerEntry `toml:"servers"`
}

func serversPath(dataDir string) string { return filepath.Join(dataDir, "servers.toml") }

// LoadServers reads servers.toml, or an empty config if absent.
func LoadServers(dataDir string) (*ServersConfig, error) {
	sc := &ServersConfig{Servers: make(map[string]ServerEntry)}
	data, err := os.ReadFile(serversPath(dataDir))
	if os.IsNotExist(err) {
		return sc, nil
	}
	if err != nil {
		return nil, err
	}
	if _, err := toml.Decode(string(data), sc); err != nil {
		return nil, fmt.Errorf("parsing servers.toml: %w", err)
	}
	if sc.Servers == nil {
		sc.Servers = make(map[string]ServerEntry)
	}
	return sc, nil
}

// Save writes servers.toml.
func (sc *ServersConfig) Save(dataDir string) error {
	f, err := os.Create(serversPath(dataDir))
	if err != nil {
		return err
	}
	defer f.Close()
	return toml.NewEncoder(f).Encode(sc)
}
