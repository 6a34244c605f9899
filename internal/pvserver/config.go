package pvserver

import (
	"time"

	"github.com/openpva/pva/internal/transport"
)

// Config controls one Server's listener and per-session limits. TLS reuses
// transport.TLSConfig's shape since a session here is the peer of the
// Connection that package dials.
type Config struct {
	ListenAddr       string
	HandshakeTimeout time.Duration
	WriteTimeout     time.Duration
	TLS              transport.TLSConfig
}

// DefaultConfig uses 5s handshake and write timeouts; FromTransport
// replaces both with a transport.Config's values.
func DefaultConfig() Config {
	return Config{
		ListenAddr:       "127.0.0.1:0",
		HandshakeTimeout: 5 * time.Second,
		WriteTimeout:     5 * time.Second,
	}
}

// FromTransport projects the connection/TLS fields of a transport.Config
// (as loaded by internal/config.LoadServer) onto a Server Config, keeping
// the listener-specific fields (ListenAddr) from the receiver.
func (c Config) FromTransport(t transport.Config) Config {
	c.HandshakeTimeout = t.HandshakeTimeout
	c.WriteTimeout = t.WriteTimeout
	c.TLS = t.TLS
	return c
}
