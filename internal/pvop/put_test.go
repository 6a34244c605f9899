package pvop

import (
	"context"
	"encoding/binary"
	"net"
	"testing"
	"time"

	"github.com/openpva/pva/internal/pvstore"
	"github.com/openpva/pva/internal/pvtype"
	"github.com/openpva/pva/internal/pvvalue"
	"github.com/openpva/pva/internal/pvwire"
)

func TestPutTwoRoundWritesMaskedValue(t *testing.T) {
	desc := pvtype.Scalar(pvtype.Int32)
	received := make(chan int64, 1)

	addr := fakeServer(t, func(conn net.Conn) {
		initMsg, err := readMsg(conn)
		if err != nil || initMsg.Header.Command != pvwire.CmdPut {
			t.Errorf("server: expected PUT init, got %+v err=%v", initMsg.Header, err)
			return
		}
		cache := pvwire.NewOutCache()
		initReply := []byte{0}
		initReply = pvwire.EncodeType(initReply, desc, cache, binary.BigEndian)
		if err := writeMsg(conn, pvwire.CmdPut, echoReply(initMsg.Body, pvwire.SubInit, initReply)); err != nil {
			t.Errorf("server: write PUT init reply: %v", err)
			return
		}

		execMsg, err := readMsg(conn)
		if err != nil || execMsg.Header.Command != pvwire.CmdPut {
			t.Errorf("server: expected PUT exec, got %+v err=%v", execMsg.Header, err)
			return
		}
		_, sub, payload := opBody(execMsg.Body)
		if sub != pvwire.SubExec {
			t.Errorf("sub = %#x, want SubExec", sub)
		}
		top := pvstore.NewStructTop(desc)
		ts := pvwire.NewTypeStore()
		if _, err := pvwire.DecodeMaskedValue(payload, top, ts, binary.BigEndian); err != nil {
			t.Errorf("server: decode masked value: %v", err)
			return
		}
		received <- top.Cells[0].I

		if err := writeMsg(conn, pvwire.CmdPut, echoReply(execMsg.Body, pvwire.SubExec, []byte{0})); err != nil {
			t.Errorf("server: write PUT exec reply: %v", err)
		}
	})
	conn, ch := dialClient(t, addr)

	mv := pvvalue.NewRoot(desc)
	if err := mv.SetInt64(99); err != nil {
		t.Fatalf("set value: %v", err)
	}
	if err := mv.Mark(); err != nil {
		t.Fatalf("mark: %v", err)
	}

	resCh := make(chan error, 1)
	if err := conn.Exec().CallSync(context.Background(), func() {
		NewPut(conn, ch, "value", mv, nil, func(err error) { resCh <- err })
	}); err != nil {
		t.Fatalf("create put: %v", err)
	}

	select {
	case n := <-received:
		if n != 99 {
			t.Fatalf("server received %d, want 99", n)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("server never received the masked value")
	}

	select {
	case err := <-resCh:
		if err != nil {
			t.Fatalf("put result: %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for put result")
	}
}
