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
	"github.com/openpva/pva/internal/transport"
)

func startServer(t *testing.T, registry *Registry) (*Server, string) {
	t.Helper()
	cfg := DefaultConfig()
	cfg.ListenAddr = "127.0.0.1:0"
	srv := New(cfg, registry)
	if err := srv.Listen(); err != nil {
		t.Fatalf("listen: %v", err)
	}
	go func() {
		_ = srv.Serve()
	}()
	t.Cleanup(func() { _ = srv.Close() })
	return srv, srv.Addr()
}

func dialClient(t *testing.T, addr string) *client.Context {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	c, err := client.Connect(ctx, addr, transport.DefaultConfig())
	if err != nil {
		t.Fatalf("connect: %v", err)
	}
	t.Cleanup(c.Close)
	return c
}

func TestSessionGetReturnsSeededValue(t *testing.T) {
	testlog.Start(t)

	registry := NewRegistry()
	desc := pvtype.Scalar(pvtype.Int32)
	pv := registry.Declare("demo:counter", desc)
	mv := pvvalue.NewRoot(desc)
	if err := mv.SetInt64(42); err != nil {
		t.Fatalf("seed value: %v", err)
	}
	pv.Seed(mv)

	_, addr := startServer(t, registry)
	c := dialClient(t, addr)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

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
		if n != 42 {
			t.Fatalf("got %d, want 42", n)
		}
	case <-ctx.Done():
		t.Fatal("timed out waiting for get result")
	}
}

func TestSessionPutThenGetObservesNewValue(t *testing.T) {
	testlog.Start(t)

	registry := NewRegistry()
	desc := pvtype.Scalar(pvtype.Int32)
	registry.Declare("demo:counter", desc)

	_, addr := startServer(t, registry)
	c := dialClient(t, addr)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	putValue := pvvalue.NewRoot(desc)
	if err := putValue.SetInt64(7); err != nil {
		t.Fatalf("set put value: %v", err)
	}
	if err := putValue.Mark(); err != nil {
		t.Fatalf("mark put value: %v", err)
	}

	putDone := make(chan error, 1)
	putOp, err := c.Put("demo:counter").Exec(ctx, putValue, func(err error) { putDone <- err })
	if err != nil {
		t.Fatalf("exec put: %v", err)
	}
	defer putOp.Cancel()

	select {
	case err := <-putDone:
		if err != nil {
			t.Fatalf("put failed: %v", err)
		}
	case <-ctx.Done():
		t.Fatal("timed out waiting for put result")
	}

	getDone := make(chan pvop.GetResult, 1)
	getOp, err := c.Get("demo:counter").Exec(ctx, func(res pvop.GetResult) { getDone <- res })
	if err != nil {
		t.Fatalf("exec get: %v", err)
	}
	defer getOp.Cancel()

	select {
	case res := <-getDone:
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

func TestSessionMonitorObservesSubsequentPut(t *testing.T) {
	testlog.Start(t)

	registry := NewRegistry()
	desc := pvtype.Scalar(pvtype.Int32)
	registry.Declare("demo:counter", desc)

	_, addr := startServer(t, registry)
	sub := dialClient(t, addr)
	pub := dialClient(t, addr)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	monOp, err := sub.Monitor("demo:counter").Exec(ctx)
	if err != nil {
		t.Fatalf("exec monitor: %v", err)
	}
	defer monOp.Cancel()

	if _, err := monOp.Pop(ctx); err != transport.ErrConnected {
		t.Fatalf("first pop: got err %v, want ErrConnected", err)
	}

	putValue := pvvalue.NewRoot(desc)
	if err := putValue.SetInt64(99); err != nil {
		t.Fatalf("set put value: %v", err)
	}
	if err := putValue.Mark(); err != nil {
		t.Fatalf("mark put value: %v", err)
	}
	putDone := make(chan error, 1)
	putOp, err := pub.Put("demo:counter").Exec(ctx, putValue, func(err error) { putDone <- err })
	if err != nil {
		t.Fatalf("exec put: %v", err)
	}
	defer putOp.Cancel()
	select {
	case err := <-putDone:
		if err != nil {
			t.Fatalf("put failed: %v", err)
		}
	case <-ctx.Done():
		t.Fatal("timed out waiting for put result")
	}

	ev, err := monOp.Pop(ctx)
	if err != nil {
		t.Fatalf("monitor pop: %v", err)
	}
	n, err := ev.Value.AsInt64()
	if err != nil {
		t.Fatalf("as int64: %v", err)
	}
	if n != 99 {
		t.Fatalf("got %d, want 99", n)
	}
}
