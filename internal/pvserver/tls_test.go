package pvserver

import (
	"context"
	"testing"
	"time"

	"github.com/openpva/pva/internal/client"
	"github.com/openpva/pva/internal/pvop"
	"github.com/openpva/pva/internal/pvtype"
	"github.com/openpva/pva/internal/pvvalue"
	"github.com/openpva/pva/internal/testutil/testlog"
	"github.com/openpva/pva/internal/testutil/tlstest"
	"github.com/openpva/pva/internal/transport"
)

// TestSessionMutualTLSGet exercises both TLS paths end to end: the server
// side's Server.Listen/serverTLSConfig (mutual, requiring a verified client
// cert) and the client side's transport.Dial/clientTLSConfig, against a
// certificate authority tlstest mints for the test.
func TestSessionMutualTLSGet(t *testing.T) {
	testlog.Start(t)

	dir := t.TempDir()
	ca := tlstest.NewAuthority(t, dir, "pva-test-ca")
	serverCert, serverKey := ca.IssueServerCert(t, dir, "pvserver", []string{"localhost"}, nil)
	clientCert, clientKey := ca.IssueClientCert(t, dir, "pvclient")

	registry := NewRegistry()
	desc := pvtype.Scalar(pvtype.Int32)
	pv := registry.Declare("demo:counter", desc)
	mv := pvvalue.NewRoot(desc)
	if err := mv.SetInt64(7); err != nil {
		t.Fatalf("seed value: %v", err)
	}
	pv.Seed(mv)

	cfg := DefaultConfig()
	cfg.ListenAddr = "127.0.0.1:0"
	cfg.TLS = transport.TLSConfig{
		Enabled:  true,
		Mutual:   true,
		CAFile:   ca.CAFile(),
		CertFile: serverCert,
		KeyFile:  serverKey,
	}
	srv := New(cfg, registry)
	if err := srv.Listen(); err != nil {
		t.Fatalf("listen: %v", err)
	}
	go func() { _ = srv.Serve() }()
	t.Cleanup(func() { _ = srv.Close() })

	clientCfg := transport.DefaultConfig()
	clientCfg.TLS = transport.TLSConfig{
		Enabled:    true,
		Mutual:     true,
		ServerName: "localhost",
		CAFile:     ca.CAFile(),
		CertFile:   clientCert,
		KeyFile:    clientKey,
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	c, err := client.Connect(ctx, srv.Addr(), clientCfg)
	if err != nil {
		t.Fatalf("connect over tls: %v", err)
	}
	t.Cleanup(c.Close)

	done := make(chan pvop.GetResult, 1)
	op, err := c.Get("demo:counter").Exec(ctx, func(res pvop.GetResult) { done <- res })
	if err != nil {
		t.Fatalf("exec get: %v", err)
	}
	defer op.Cancel()

	select {
	case res := <-done:
		if res.Err != nil {
			t.Fatalf("get failed: %v", res.Err)
		}
		n, err := res.Value.AsInt64()
		if err != nil {
			t.Fatalf("as int64: %v", err)
		}
		if n != 7 {
			t.Fatalf("got %d, want 7", n)
		}
	case <-ctx.Done():
		t.Fatal("timed out waiting for get result")
	}
}

// TestSessionMutualTLSRejectsUntrustedClient confirms the server refuses a
// client certificate not signed by its configured CA.
func TestSessionMutualTLSRejectsUntrustedClient(t *testing.T) {
	testlog.Start(t)

	dir := t.TempDir()
	serverCA := tlstest.NewAuthority(t, dir, "pva-server-ca")
	otherCA := tlstest.NewAuthority(t, dir, "pva-other-ca")
	serverCert, serverKey := serverCA.IssueServerCert(t, dir, "pvserver", []string{"localhost"}, nil)
	untrustedCert, untrustedKey := otherCA.IssueClientCert(t, dir, "pvclient")

	registry := NewRegistry()
	desc := pvtype.Scalar(pvtype.Int32)
	registry.Declare("demo:counter", desc)

	cfg := DefaultConfig()
	cfg.ListenAddr = "127.0.0.1:0"
	cfg.TLS = transport.TLSConfig{
		Enabled:  true,
		Mutual:   true,
		CAFile:   serverCA.CAFile(),
		CertFile: serverCert,
		KeyFile:  serverKey,
	}
	srv := New(cfg, registry)
	if err := srv.Listen(); err != nil {
		t.Fatalf("listen: %v", err)
	}
	go func() { _ = srv.Serve() }()
	t.Cleanup(func() { _ = srv.Close() })

	clientCfg := transport.DefaultConfig()
	clientCfg.ConnectTimeout = time.Second
	clientCfg.HandshakeTimeout = time.Second
	clientCfg.TLS = transport.TLSConfig{
		Enabled:    true,
		Mutual:     true,
		ServerName: "localhost",
		CAFile:     serverCA.CAFile(),
		CertFile:   untrustedCert,
		KeyFile:    untrustedKey,
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if _, err := client.Connect(ctx, srv.Addr(), clientCfg); err == nil {
		t.Fatal("connect: want handshake failure for untrusted client cert")
	}
}
