package pvop

import (
	"context"
	"encoding/binary"
	"io"
	"net"
	"testing"
	"time"

	"github.com/openpva/pva/internal/pvwire"
	"github.com/openpva/pva/internal/testutil/testlog"
	"github.com/openpva/pva/internal/transport"
)

// fakeServer drives the peer side of the session handshake and
// CREATE_CHANNEL exchange over a real loopback socket — pvop has no access
// to transport's unexported Connection fields, so (unlike transport's own
// tests) a net.Pipe-backed struct literal isn't available here.
func fakeServer(t *testing.T, handle func(conn net.Conn)) string {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	go func() {
		conn, err := ln.Accept()
		if err != nil {
			return
		}
		defer conn.Close()
		if !serverHandshake(t, conn) {
			return
		}
		sid, ok := serverAcceptChannel(t, conn)
		if !ok {
			return
		}
		handle(conn)
		_ = sid
	}()
	t.Cleanup(func() { _ = ln.Close() })
	return ln.Addr().String()
}

func serverHandshake(t *testing.T, conn net.Conn) bool {
	t.Helper()
	msg, err := readMsg(conn)
	if err != nil || msg.Header.Command != pvwire.CmdSetByteOrder {
		t.Errorf("server: expected SET_BYTE_ORDER, got %+v err=%v", msg.Header, err)
		return false
	}
	if err := writeMsg(conn, pvwire.CmdConnectionValidation, nil); err != nil {
		t.Errorf("server: write CONNECTION_VALIDATION: %v", err)
		return false
	}
	msg, err = readMsg(conn)
	if err != nil || msg.Header.Command != pvwire.CmdConnectionValidated {
		t.Errorf("server: expected CONNECTION_VALIDATED, got %+v err=%v", msg.Header, err)
		return false
	}
	return true
}

func serverAcceptChannel(t *testing.T, conn net.Conn) (uint32, bool) {
	t.Helper()
	msg, err := readMsg(conn)
	if err != nil || msg.Header.Command != pvwire.CmdCreateChannel {
		t.Errorf("server: expected CREATE_CHANNEL, got %+v err=%v", msg.Header, err)
		return 0, false
	}
	cid, _, err := pvwire.GetSize(msg.Body, binary.BigEndian)
	if err != nil {
		t.Errorf("server: decode cid: %v", err)
		return 0, false
	}
	const sid = 1
	reply := pvwire.PutSize(nil, cid, binary.BigEndian)
	reply = binary.BigEndian.AppendUint32(reply, sid)
	reply = append(reply, 0) // status ok
	if err := writeMsg(conn, pvwire.CmdCreateChannel, reply); err != nil {
		t.Errorf("server: write CREATE_CHANNEL reply: %v", err)
		return 0, false
	}
	return sid, true
}

func readMsg(conn net.Conn) (pvwire.Message, error) {
	var hdr [pvwire.HeaderLen]byte
	if _, err := io.ReadFull(conn, hdr[:]); err != nil {
		return pvwire.Message{}, err
	}
	h, err := pvwire.DecodeHeader(hdr[:])
	if err != nil {
		return pvwire.Message{}, err
	}
	body := make([]byte, h.BodyLen)
	if _, err := io.ReadFull(conn, body); err != nil {
		return pvwire.Message{}, err
	}
	return pvwire.Message{Header: h, Body: body}, nil
}

func writeMsg(conn net.Conn, cmd byte, body []byte) error {
	h := pvwire.Header{Version: 1, Command: cmd, Flags: pvwire.FlagBigEndian}
	_, err := conn.Write(pvwire.EncodeMessage(h, body))
	return err
}

// opBody strips the sid/ioid/sub header off an operation message's body,
// returning the subcommand and whatever payload follows.
func opBody(body []byte) (ioid uint32, sub byte, payload []byte) {
	ioid = binary.BigEndian.Uint32(body[4:8])
	sub = body[8]
	payload = body[9:]
	return
}

// echoReply rebuilds a reply body carrying the same sid/ioid as reqBody,
// tagged with sub and followed by payload.
func echoReply(reqBody []byte, sub byte, payload []byte) []byte {
	out := append([]byte{}, reqBody[:8]...)
	out = append(out, sub)
	out = append(out, payload...)
	return out
}

// dialClient connects to addr and opens one channel, returning both the
// Connection and the now-Active Channel.
func dialClient(t *testing.T, addr string) (*transport.Connection, *transport.Channel) {
	t.Helper()
	testlog.Start(t)
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	conn, err := transport.Dial(ctx, addr, transport.DefaultConfig())
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(conn.Close)

	chCh := make(chan *transport.Channel, 1)
	done := conn.Exec().CallSync(ctx, func() {
		chCh <- conn.OpenChannel("my:pv")
	})
	if done != nil {
		t.Fatalf("open channel: %v", done)
	}
	ch := <-chCh

	deadline := time.After(2 * time.Second)
	for {
		stateCh := make(chan transport.ChannelState, 1)
		if err := conn.Exec().CallSync(ctx, func() { stateCh <- ch.State() }); err != nil {
			t.Fatalf("read channel state: %v", err)
		}
		if <-stateCh == transport.StateActive {
			break
		}
		select {
		case <-deadline:
			t.Fatalf("channel never became active")
		case <-time.After(5 * time.Millisecond):
		}
	}
	return conn, ch
}
