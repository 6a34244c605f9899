package ioexec

import (
	"context"
	"testing"
	"time"

	"github.com/openpva/pva/internal/testutil/testlog"
)

func TestCallSyncRunsOnExecutorGoroutine(t *testing.T) {
	testlog.Start(t)
	e := New()
	defer e.Stop()

	var got int
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := e.CallSync(ctx, func() { got = 42 }); err != nil {
		t.Fatalf("CallSync: %v", err)
	}
	if got != 42 {
		t.Fatalf("got = %d, want 42", got)
	}
}

func TestCallOrdersAgainstCallSync(t *testing.T) {
	testlog.Start(t)
	e := New()
	defer e.Stop()

	var seq []int
	e.Call(func() { seq = append(seq, 1) })
	e.Call(func() { seq = append(seq, 2) })

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := e.CallSync(ctx, func() { seq = append(seq, 3) }); err != nil {
		t.Fatalf("CallSync: %v", err)
	}
	if len(seq) != 3 || seq[0] != 1 || seq[1] != 2 || seq[2] != 3 {
		t.Fatalf("seq = %v, want [1 2 3]", seq)
	}
}

func TestCallSyncAfterStopReturnsErrStopped(t *testing.T) {
	testlog.Start(t)
	e := New()
	e.Stop()

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := e.CallSync(ctx, func() {}); err != ErrStopped {
		t.Fatalf("CallSync after Stop = %v, want ErrStopped", err)
	}
}
