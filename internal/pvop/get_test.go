package pvop

import (
	"context"
	"encoding/binary"
	"net"
	"testing"
	"time"

	"github.com/openpva/pva/internal/pvstore"
	"github.com/openpva/pva/internal/pvtype"
	"github.com/openpva/pva/internal/pvwire"
)

func TestGetTwoRoundRoundTrip(t *testing.T) {
	desc := pvtype.Scalar(pvtype.Int32)
	var connected int

	addr := fakeServer(t, func(conn net.Conn) {
		initMsg, err := readMsg(conn)
		if err != nil || initMsg.Header.Command != pvwire.CmdGet {
			t.Errorf("server: expected GET init, got %+v err=%v", initMsg.Header, err)
			return
		}
		_, sub, payload := opBody(initMsg.Body)
		if sub != pvwire.SubInit {
			t.Errorf("sub = %#x, want SubInit", sub)
		}
		pvRequest, _, _ := pvwire.GetString(payload, binary.BigEndian)
		if pvRequest != "value" {
			t.Errorf("pvRequest = %q, want value", pvRequest)
		}

		cache := pvwire.NewOutCache()
		initReply := []byte{0}
		initReply = pvwire.EncodeType(initReply, desc, cache, binary.BigEndian)
		if err := writeMsg(conn, pvwire.CmdGet, echoReply(initMsg.Body, pvwire.SubInit, initReply)); err != nil {
			t.Errorf("server: write GET init reply: %v", err)
			return
		}

		execMsg, err := readMsg(conn)
		if err != nil || execMsg.Header.Command != pvwire.CmdGet {
			t.Errorf("server: expected GET exec, got %+v err=%v", execMsg.Header, err)
			return
		}
		_, sub, _ = opBody(execMsg.Body)
		if sub != pvwire.SubExec {
			t.Errorf("sub = %#x, want SubExec", sub)
		}

		top := pvstore.NewStructTop(desc)
		top.Cells[0].I = 42
		top.Cells[0].Valid = true
		execReply := []byte{0}
		execReply = pvwire.EncodeMaskedValue(execReply, top, cache, binary.BigEndian)
		if err := writeMsg(conn, pvwire.CmdGet, echoReply(execMsg.Body, pvwire.SubExec, execReply)); err != nil {
			t.Errorf("server: write GET exec reply: %v", err)
		}
	})
	conn, ch := dialClient(t, addr)

	resCh := make(chan GetResult, 1)
	if err := conn.Exec().CallSync(context.Background(), func() {
		NewGet(conn, ch, "value", func(d *pvtype.FieldDesc, err error) {
			if err == nil {
				connected++
			}
		}, func(res GetResult) { resCh <- res })
	}); err != nil {
		t.Fatalf("create get: %v", err)
	}

	select {
	case res := <-resCh:
		if res.Err != nil {
			t.Fatalf("get err: %v", res.Err)
		}
		n, err := res.Value.AsInt64()
		if err != nil {
			t.Fatalf("as int64: %v", err)
		}
		if n != 42 {
			t.Fatalf("value = %d, want 42", n)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for get result")
	}

	if connected != 1 {
		t.Fatalf("connect callback fired %d times, want 1", connected)
	}
}
