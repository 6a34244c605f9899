// Package config loads client/server connection and TLS defaults from a
// TOML file into a transport.Config, the library-level counterpart to each
// demo binary's own flag-augmented cmd/*/config.go loader.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/pelletier/go-toml/v2"

	"github.com/openpva/pva/internal/transport"
)

// FileConfig is the on-disk shape of a connection config file. Durations are
// strings parsed with time.ParseDuration.
type FileConfig struct {
	SecurityMode      string        `toml:"security_mode"`
	ConnectTimeout    string        `toml:"connect_timeout"`
	HandshakeTimeout  string        `toml:"handshake_timeout"`
	ReadTimeout       string        `toml:"read_timeout"`
	WriteTimeout      string        `toml:"write_timeout"`
	HeartbeatInterval string        `toml:"heartbeat_interval"`
	SessionDeadAfter  string        `toml:"session_dead_after"`
	TLS               TLSFileConfig `toml:"tls"`
	Backoff           BackoffFile   `toml:"backoff"`
}

type TLSFileConfig struct {
	Enabled            bool   `toml:"enabled"`
	Mutual             bool   `toml:"mutual"`
	InsecureSkipVerify bool   `toml:"insecure_skip_verify"`
	ServerName         string `toml:"server_name"`
	CAFile             string `toml:"ca_file"`
	CertFile           string `toml:"cert_file"`
	KeyFile            string `toml:"key_file"`
}

type BackoffFile struct {
	InitialDelay string  `toml:"initial_delay"`
	Multiplier   float64 `toml:"multiplier"`
	MaxDelay     string  `toml:"max_delay"`
	Jitter       *bool   `toml:"jitter"`
}

// Load reads path as a TOML overlay on transport.DefaultConfig, validates
// the result with transport.Config.ValidateClientTransport, and returns it.
// An empty path yields the unmodified defaults.
func Load(path string) (transport.Config, error) {
	cfg := transport.DefaultConfig()
	if strings.TrimSpace(path) == "" {
		return cfg, nil
	}

	raw, err := decode(path)
	if err != nil {
		return transport.Config{}, err
	}

	cfg, err = applyOverlay(cfg, raw)
	if err != nil {
		return transport.Config{}, err
	}
	if err := cfg.ValidateClientTransport(); err != nil {
		return transport.Config{}, fmt.Errorf("config %s: %w", path, err)
	}
	return cfg, nil
}

// LoadServer is Load's server-side counterpart: it validates with
// ValidateServerTransport instead, since server security requirements
// differ (mutual TLS implies no InsecureSkipVerify exemption on the client
// side of the handshake).
func LoadServer(path string) (transport.Config, error) {
	cfg := transport.DefaultConfig()
	if strings.TrimSpace(path) == "" {
		return cfg, nil
	}

	raw, err := decode(path)
	if err != nil {
		return transport.Config{}, err
	}

	cfg, err = applyOverlay(cfg, raw)
	if err != nil {
		return transport.Config{}, err
	}
	if err := cfg.ValidateServerTransport(); err != nil {
		return transport.Config{}, fmt.Errorf("config %s: %w", path, err)
	}
	return cfg, nil
}

func decode(path string) (FileConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return FileConfig{}, fmt.Errorf("config read %s: %w", path, err)
	}
	var raw FileConfig
	if err := toml.Unmarshal(data, &raw); err != nil {
		return FileConfig{}, fmt.Errorf("config parse %s: %w", path, err)
	}
	return raw, nil
}

func applyOverlay(cfg transport.Config, raw FileConfig) (transport.Config, error) {
	if v := strings.TrimSpace(raw.SecurityMode); v != "" {
		cfg.SecurityMode = transport.SecurityMode(v)
	}

	durations := []struct {
		name string
		src  string
		dst  *time.Duration
	}{
		{"connect_timeout", raw.ConnectTimeout, &cfg.ConnectTimeout},
		{"handshake_timeout", raw.HandshakeTimeout, &cfg.HandshakeTimeout},
		{"read_timeout", raw.ReadTimeout, &cfg.ReadTimeout},
		{"write_timeout", raw.WriteTimeout, &cfg.WriteTimeout},
		{"heartbeat_interval", raw.HeartbeatInterval, &cfg.HeartbeatInterval},
		{"session_dead_after", raw.SessionDeadAfter, &cfg.SessionDeadAfter},
		{"backoff.initial_delay", raw.Backoff.InitialDelay, &cfg.Backoff.InitialDelay},
		{"backoff.max_delay", raw.Backoff.MaxDelay, &cfg.Backoff.MaxDelay},
	}
	for _, d := range durations {
		if strings.TrimSpace(d.src) == "" {
			continue
		}
		parsed, err := time.ParseDuration(strings.TrimSpace(d.src))
		if err != nil {
			return transport.Config{}, fmt.Errorf("parse %s: %w", d.name, err)
		}
		*d.dst = parsed
	}

	if raw.Backoff.Multiplier != 0 {
		cfg.Backoff.Multiplier = raw.Backoff.Multiplier
	}
	if raw.Backoff.Jitter != nil {
		cfg.Backoff.Jitter = *raw.Backoff.Jitter
	}

	cfg.TLS = transport.TLSConfig{
		Enabled:            raw.TLS.Enabled,
		Mutual:             raw.TLS.Mutual,
		InsecureSkipVerify: raw.TLS.InsecureSkipVerify,
		ServerName:         strings.TrimSpace(raw.TLS.ServerName),
		CAFile:             strings.TrimSpace(raw.TLS.CAFile),
		CertFile:           strings.TrimSpace(raw.TLS.CertFile),
		KeyFile:            strings.TrimSpace(raw.TLS.KeyFile),
	}

	return cfg, nil
}
