package pvop

import (
	"context"
	"encoding/binary"
	"errors"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/openpva/pva/internal/pvstore"
	"github.com/openpva/pva/internal/pvtype"
	"github.com/openpva/pva/internal/pvwire"
	"github.com/openpva/pva/internal/transport"
)

// monitorHarness wires up a Monitor against a fake server that replies to
// the init exchange and then hands the test the raw connection so it can
// post MONITOR/SubExec event frames whenever it chooses.
func monitorHarness(t *testing.T, limit, high, low int) (*Monitor, chan net.Conn) {
	t.Helper()
	desc := pvtype.Scalar(pvtype.Int32)
	connCh := make(chan net.Conn, 1)

	addr := fakeServer(t, func(conn net.Conn) {
		initMsg, err := readMsg(conn)
		if err != nil || initMsg.Header.Command != pvwire.CmdMonitor {
			t.Errorf("server: expected MONITOR init, got %+v err=%v", initMsg.Header, err)
			return
		}
		cache := pvwire.NewOutCache()
		initReply := []byte{0}
		initReply = pvwire.EncodeType(initReply, desc, cache, binary.BigEndian)
		if err := writeMsg(conn, pvwire.CmdMonitor, echoReply(initMsg.Body, pvwire.SubInit, initReply)); err != nil {
			t.Errorf("server: write MONITOR init reply: %v", err)
			return
		}
		// Drain the initial credit grant before handing the connection to
		// the test, so a test-driven write doesn't race a pending read.
		if _, err := readMsg(conn); err != nil {
			t.Errorf("server: read initial credit grant: %v", err)
			return
		}
		connCh <- conn
		// Keep draining later credit grants in the background so Pop's
		// creditAfterPop send never blocks on a full socket buffer.
		for {
			if _, err := readMsg(conn); err != nil {
				return
			}
		}
	})
	conn, ch := dialClient(t, addr)

	opCh := make(chan *Monitor, 1)
	if err := conn.Exec().CallSync(context.Background(), func() {
		op := NewMonitor(conn, ch, "value", limit, high, low, nil)
		opCh <- op
	}); err != nil {
		t.Fatalf("create monitor: %v", err)
	}
	return <-opCh, connCh
}

func sendEvent(t *testing.T, conn net.Conn, ioid uint32, n int64, overrun, finished bool) {
	t.Helper()
	var payload []byte
	if overrun {
		payload = append(payload, 1)
	} else {
		payload = append(payload, 0)
	}
	if finished {
		payload = append(payload, 1)
	} else {
		payload = append(payload, 0)
		top := pvstore.NewStructTop(pvtype.Scalar(pvtype.Int32))
		top.Cells[0].I = n
		top.Cells[0].Valid = true
		cache := pvwire.NewOutCache()
		payload = pvwire.EncodeMaskedValue(payload, top, cache, binary.BigEndian)
	}

	body := make([]byte, 0, 9+len(payload))
	body = binary.BigEndian.AppendUint32(body, 0) // sid, unused by dispatchOpReply's demux
	body = binary.BigEndian.AppendUint32(body, ioid)
	body = append(body, pvwire.SubExec)
	body = append(body, payload...)
	if err := writeMsg(conn, pvwire.CmdMonitor, body); err != nil {
		t.Fatalf("server: write MONITOR event: %v", err)
	}
}

func TestMonitorPostAndPopRoundTrip(t *testing.T) {
	op, connCh := monitorHarness(t, 4, 2, 1)
	conn := <-connCh

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	if _, err := op.Pop(ctx); !errors.Is(err, transport.ErrConnected) {
		t.Fatalf("first Pop err = %v, want ErrConnected", err)
	}

	sendEvent(t, conn, op.IOID(), 7, false, false)

	ev, err := op.Pop(ctx)
	if err != nil {
		t.Fatalf("Pop err: %v", err)
	}
	n, err := ev.Value.AsInt64()
	if err != nil || n != 7 {
		t.Fatalf("Pop value = %d err=%v, want 7", n, err)
	}
}

func TestMonitorFinishSentinelSurvivesFullQueue(t *testing.T) {
	op, connCh := monitorHarness(t, 1, 0, 0)
	conn := <-connCh

	sendEvent(t, conn, op.IOID(), 1, false, false)
	time.Sleep(50 * time.Millisecond) // let postData run before the queue fills further
	sendEvent(t, conn, op.IOID(), 2, false, true)
	time.Sleep(50 * time.Millisecond)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	if _, err := op.Pop(ctx); !errors.Is(err, transport.ErrConnected) {
		t.Fatalf("first Pop err = %v, want ErrConnected", err)
	}

	ev, err := op.Pop(ctx)
	if err != nil {
		t.Fatalf("Pop (data) err: %v", err)
	}
	if ev.Value.IsEmpty() {
		t.Fatal("first popped event should carry the squashed/latest data, not be empty")
	}

	ev, err = op.Pop(ctx)
	if err != nil {
		t.Fatalf("Pop (finish) err: %v", err)
	}
	if !ev.Value.IsEmpty() {
		t.Fatal("finish sentinel should be an empty Value")
	}
}

func TestMonitorCancelUnblocksPendingPop(t *testing.T) {
	op, connCh := monitorHarness(t, 4, 2, 1)
	<-connCh

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	if _, err := op.Pop(ctx); !errors.Is(err, transport.ErrConnected) {
		t.Fatalf("first Pop err = %v, want ErrConnected", err)
	}

	var wg sync.WaitGroup
	errCh := make(chan error, 1)
	wg.Add(1)
	go func() {
		defer wg.Done()
		_, err := op.Pop(ctx)
		errCh <- err
	}()

	time.Sleep(20 * time.Millisecond)
	op.Cancel()
	wg.Wait()

	select {
	case err := <-errCh:
		if !errors.Is(err, ErrCancelled) {
			t.Fatalf("Pop err = %v, want ErrCancelled", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Pop never unblocked after Cancel")
	}
}
