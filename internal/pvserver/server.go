// Package pvserver is a minimal server-side peer: a fixed Registry of
// named PVs, a TCP listener, and one session goroutine per accepted
// connection driving the same handshake/CREATE_CHANNEL/GET/PUT/MONITOR
// wire exchange internal/transport and internal/pvop implement from the
// client side.
package pvserver

import (
	"crypto/tls"
	"crypto/x509"
	"fmt"
	"net"
	"os"

	"github.com/openpva/pva/internal/transport"
)

// Server accepts TCP connections and serves each against a fixed
// Registry of PVs.
type Server struct {
	cfg      Config
	registry *Registry
	ln       net.Listener
}

// New builds a Server bound to registry. Call Listen then Serve.
func New(cfg Config, registry *Registry) *Server {
	return &Server{cfg: cfg, registry: registry}
}

// Listen binds the configured address. Split from Serve so a caller using
// ":0" can read back the chosen port via Addr before Serve blocks.
func (s *Server) Listen() error {
	ln, err := net.Listen("tcp", s.cfg.ListenAddr)
	if err != nil {
		return err
	}
	if s.cfg.TLS.Enabled {
		tlsCfg, err := serverTLSConfig(s.cfg.TLS)
		if err != nil {
			_ = ln.Close()
			return err
		}
		ln = tls.NewListener(ln, tlsCfg)
	}
	s.ln = ln
	return nil
}

// serverTLSConfig builds a server-side tls.Config from cfg, requiring a
// client certificate when Mutual is set, mirroring internal/transport's
// client-side clientTLSConfig.
func serverTLSConfig(cfg transport.TLSConfig) (*tls.Config, error) {
	cert, err := tls.LoadX509KeyPair(cfg.CertFile, cfg.KeyFile)
	if err != nil {
		return nil, fmt.Errorf("pvserver: load tls cert/key: %w", err)
	}
	out := &tls.Config{
		MinVersion:   tls.VersionTLS12,
		Certificates: []tls.Certificate{cert},
	}
	if cfg.Mutual {
		caPEM, err := os.ReadFile(cfg.CAFile)
		if err != nil {
			return nil, fmt.Errorf("pvserver: read tls ca bundle: %w", err)
		}
		pool := x509.NewCertPool()
		if ok := pool.AppendCertsFromPEM(caPEM); !ok {
			return nil, fmt.Errorf("pvserver: parse tls ca bundle: %s", cfg.CAFile)
		}
		out.ClientCAs = pool
		out.ClientAuth = tls.RequireAndVerifyClientCert
	}
	return out, nil
}

// Addr returns the bound listener's address. Only meaningful after Listen.
func (s *Server) Addr() string {
	if s.ln == nil {
		return ""
	}
	return s.ln.Addr().String()
}

// Serve accepts connections until the listener closes, spawning one
// session goroutine per connection. Blocks; call Listen first.
func (s *Server) Serve() error {
	for {
		conn, err := s.ln.Accept()
		if err != nil {
			return err
		}
		sess := newSession(conn, s.cfg, s.registry)
		go sess.serve()
	}
}

// Close stops accepting new connections; sessions already in flight run
// to their own completion.
func (s *Server) Close() error {
	if s.ln == nil {
		return nil
	}
	return s.ln.Close()
}
