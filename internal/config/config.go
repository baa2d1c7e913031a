// Package config loads the optional peerdrop YAML file. Every field has a
// default, so a missing file is not an error.
package config

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"slices"
	"time"

	"github.com/rudransh-shrivastava/peer-drop/internal/peer"
	"github.com/rudransh-shrivastava/peer-drop/internal/relay"
	"github.com/rudransh-shrivastava/peer-drop/internal/room"
	"github.com/rudransh-shrivastava/peer-drop/internal/transfer"
	"github.com/rudransh-shrivastava/peer-drop/internal/transport/webrtc"
	"gopkg.in/yaml.v3"
)

const (
	DefaultRelayURL    = "ws://localhost:8080/ws"
	DefaultDownloadDir = "."
	DefaultLinkBase    = "http://localhost:8080/"
	dirName            = "peerdrop"
	historyFile        = "history.sqlite3"
	fileName           = "config.yaml"
)

// Duration reads "90s" or "10m" style strings.
type Duration time.Duration

func (d Duration) MarshalYAML() (any, error) {
	return time.Duration(d).String(), nil
}

func (d *Duration) UnmarshalYAML(node *yaml.Node) error {
	var s string
	if err := node.Decode(&s); err != nil {
		return err
	}
	v, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("line %d: %w", node.Line, err)
	}
	*d = Duration(v)
	return nil
}

type Relay struct {
	Addr         string   `yaml:"addr"`
	QUICAddr     string   `yaml:"quic_addr"`
	TLSCert      string   `yaml:"tls_cert"`
	TLSKey       string   `yaml:"tls_key"`
	WebRTC       bool     `yaml:"webrtc"`
	STUNServers  []string `yaml:"stun_servers"`
	StrictCodes  bool     `yaml:"strict_codes"`
	SingleUse    bool     `yaml:"single_use"`
	IdleTimeout  Duration `yaml:"idle_timeout"`
	WriteTimeout Duration `yaml:"write_timeout"`
}

type Client struct {
	RelayURL    string   `yaml:"relay_url"`
	Name        string   `yaml:"name"`
	ChunkSize   int      `yaml:"chunk_size"`
	STUNServers []string `yaml:"stun_servers"`
	// LinkBase is the page receivers open; the room code is appended to it.
	LinkBase    string `yaml:"link_base"`
	DownloadDir string `yaml:"download_dir"`
	HistoryDB   string `yaml:"history_db"`
}

type Config struct {
	Relay  Relay  `yaml:"relay"`
	Client Client `yaml:"client"`
}

func Default() Config {
	rc := relay.DefaultConfig()
	return Config{
		Relay: Relay{
			Addr:         rc.Addr,
			WebRTC:       rc.WebRTC,
			STUNServers:  slices.Clone(webrtc.DefaultSTUNServers),
			StrictCodes:  rc.StrictCodes,
			IdleTimeout:  Duration(room.DefaultIdleTimeout),
			WriteTimeout: Duration(relay.DefaultWriteTimeout),
		},
		Client: Client{
			RelayURL:    DefaultRelayURL,
			Name:        defaultName(),
			ChunkSize:   transfer.DefaultChunkSize,
			STUNServers: slices.Clone(webrtc.DefaultSTUNServers),
			LinkBase:    DefaultLinkBase,
			DownloadDir: DefaultDownloadDir,
			HistoryDB:   defaultHistoryDB(),
		},
	}
}

// DefaultPath is $XDG_CONFIG_HOME/peerdrop/config.yaml or the platform
// equivalent.
func DefaultPath() string {
	dir, err := os.UserConfigDir()
	if err != nil {
		return fileName
	}
	return filepath.Join(dir, dirName, fileName)
}

// Load reads path over the defaults. A missing file yields the defaults.
func Load(path string) (Config, error) {
	f, err := os.Open(path)
	if errors.Is(err, os.ErrNotExist) {
		return Default(), nil
	}
	if err != nil {
		return Config{}, fmt.Errorf("opening config: %w", err)
	}
	defer f.Close()

	cfg, err := Decode(f)
	if err != nil {
		return Config{}, fmt.Errorf("loading %s: %w", path, err)
	}
	return cfg, nil
}

func Decode(r io.Reader) (Config, error) {
	cfg := Default()
	if err := yaml.NewDecoder(r).Decode(&cfg); err != nil && !errors.Is(err, io.EOF) {
		return Config{}, err
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c Config) Validate() error {
	if c.Relay.IdleTimeout < 0 {
		return errors.New("relay.idle_timeout must not be negative")
	}
	if (c.Relay.TLSCert == "") != (c.Relay.TLSKey == "") {
		return errors.New("relay.tls_cert and relay.tls_key must be set together")
	}
	if c.Relay.WriteTimeout <= 0 {
		return errors.New("relay.write_timeout must be positive")
	}
	if c.Client.ChunkSize <= 0 {
		return errors.New("client.chunk_size must be positive")
	}
	if c.Client.ChunkSize > transfer.MaxChunkSize {
		return fmt.Errorf("client.chunk_size must be at most %d", transfer.MaxChunkSize)
	}
	return nil
}

func (r Relay) ServerConfig() relay.Config {
	return relay.Config{
		Addr:         r.Addr,
		QUICAddr:     r.QUICAddr,
		TLSCert:      r.TLSCert,
		TLSKey:       r.TLSKey,
		WebRTC:       r.WebRTC,
		STUNServers:  r.STUNServers,
		StrictCodes:  r.StrictCodes,
		SingleUse:    r.SingleUse,
		IdleTimeout:  time.Duration(r.IdleTimeout),
		WriteTimeout: time.Duration(r.WriteTimeout),
	}
}

func (c Client) PeerConfig() peer.Config {
	return peer.Config{
		RelayURL:    c.RelayURL,
		Name:        c.Name,
		ChunkSize:   c.ChunkSize,
		STUNServers: c.STUNServers,
	}
}

func defaultName() string {
	host, err := os.Hostname()
	if err != nil || host == "" {
		return "anonymous"
	}
	return host
}

func defaultHistoryDB() string {
	dir, err := os.UserConfigDir()
	if err != nil {
		return historyFile
	}
	return filepath.Join(dir, dirName, historyFile)
}
