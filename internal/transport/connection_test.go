package transport

import (
	"context"
	"encoding/binary"
	"io"
	"net"
	"testing"
	"time"

	"github.com/openpva/pva/internal/pvwire"
	"github.com/openpva/pva/internal/testutil/testlog"
)

// fakePeer drives the server side of the handshake and CREATE_CHANNEL
// exchange over a net.Pipe, so Connection's client-side logic can be
// exercised without a real listener.
type fakePeer struct {
	conn net.Conn
}

// readMessage and writeMessage are called from goroutines other than the
// test's own (the peer side runs concurrently with the client), so they
// report failures with Errorf rather than Fatalf — Fatalf is only safe to
// call from the test's own goroutine.
func (p *fakePeer) readMessage(t *testing.T) pvwire.Message {
	t.Helper()
	var hdr [pvwire.HeaderLen]byte
	if _, err := io.ReadFull(p.conn, hdr[:]); err != nil {
		t.Errorf("peer read header: %v", err)
		return pvwire.Message{}
	}
	h, err := pvwire.DecodeHeader(hdr[:])
	if err != nil {
		t.Errorf("peer decode header: %v", err)
		return pvwire.Message{}
	}
	body := make([]byte, h.BodyLen)
	if _, err := io.ReadFull(p.conn, body); err != nil {
		t.Errorf("peer read body: %v", err)
		return pvwire.Message{}
	}
	return pvwire.Message{Header: h, Body: body}
}

func (p *fakePeer) writeMessage(t *testing.T, h pvwire.Header, body []byte) {
	t.Helper()
	h.Flags |= pvwire.FlagBigEndian
	if _, err := p.conn.Write(pvwire.EncodeMessage(h, body)); err != nil {
		t.Errorf("peer write: %v", err)
	}
}

func (p *fakePeer) handshake(t *testing.T) {
	t.Helper()
	msg := p.readMessage(t)
	if msg.Header.Command != pvwire.CmdSetByteOrder {
		t.Errorf("expected SET_BYTE_ORDER, got %#x", msg.Header.Command)
		return
	}
	p.writeMessage(t, pvwire.Header{Version: 1, Command: pvwire.CmdConnectionValidation}, nil)
	msg = p.readMessage(t)
	if msg.Header.Command != pvwire.CmdConnectionValidated {
		t.Errorf("expected CONNECTION_VALIDATED, got %#x", msg.Header.Command)
	}
}

func dialOverPipe(t *testing.T) (*Connection, *fakePeer) {
	t.Helper()
	clientSide, serverSide := net.Pipe()
	peer := &fakePeer{conn: serverSide}

	handshakeDone := make(chan struct{})
	go func() {
		peer.handshake(t)
		close(handshakeDone)
	}()

	c := &Connection{
		cfg:           DefaultConfig(),
		addr:          "pipe",
		conn:          clientSide,
		order:         binary.BigEndian,
		outCache:      pvwire.NewOutCache(),
		typeStore:     pvwire.NewTypeStore(),
		channels:      make(map[uint32]*Channel),
		pendingCreate: make(map[uint32]*Channel),
		opByIOID:      make(map[uint32]Operation),
		closed:        make(chan struct{}),
	}
	c.ioids = newIOIDAllocator(func(ioid uint32) bool {
		_, ok := c.opByIOID[ioid]
		return ok
	})
	if err := c.handshake(); err != nil {
		t.Fatalf("handshake: %v", err)
	}
	<-handshakeDone
	return c, peer
}

type fakeOp struct {
	ioid     uint32
	active   int
	replies  [][]byte
	disconns int
}

func (f *fakeOp) IOID() uint32                   { return f.ioid }
func (f *fakeOp) OnChannelActive()               { f.active++ }
func (f *fakeOp) OnReply(sub byte, body []byte) error {
	f.replies = append(f.replies, append([]byte{sub}, body...))
	return nil
}
func (f *fakeOp) OnDisconnect() { f.disconns++ }

func TestChannelCreateHandshakeActivatesPendingOp(t *testing.T) {
	testlog.Start(t)
	c, peer := dialOverPipe(t)
	defer c.conn.Close()

	// net.Pipe is unbuffered: the peer's read/reply exchange must run
	// concurrently with the client's write, same as the real socket's
	// read loop running on its own goroutine.
	peerDone := make(chan pvwire.Message, 1)
	go func() {
		req := peer.readMessage(t)
		cid, n, err := pvwire.GetSize(req.Body, binary.BigEndian)
		if err != nil {
			t.Errorf("decode cid: %v", err)
			return
		}
		name, _, err := pvwire.GetString(req.Body[n:], binary.BigEndian)
		if err != nil {
			t.Errorf("decode name: %v", err)
			return
		}
		if name != "my:pv" {
			t.Errorf("name = %q, want my:pv", name)
		}
		peerDone <- req
		replyBody := pvwire.PutSize(nil, cid, binary.BigEndian)
		replyBody = binary.BigEndian.AppendUint32(replyBody, 99)
		replyBody = append(replyBody, 0) // status ok
		peer.writeMessage(t, pvwire.Header{Version: 1, Command: pvwire.CmdCreateChannel}, replyBody)
	}()

	ch := c.OpenChannel("my:pv")
	if ch.State() != StateConnecting {
		t.Fatalf("state = %v, want connecting", ch.State())
	}
	<-peerDone

	op := &fakeOp{ioid: c.AllocIOID()}
	c.RegisterOp(op.ioid, op)
	ch.AddOp(op)
	if op.active != 0 {
		t.Fatalf("op should not be active before CREATE_CHANNEL reply is processed")
	}

	msg := readOneFrom(t, c.conn)
	c.dispatch(msg)

	if ch.State() != StateActive {
		t.Fatalf("state = %v, want active", ch.State())
	}
	if ch.SID() != 99 {
		t.Fatalf("sid = %d, want 99", ch.SID())
	}
	if op.active != 1 {
		t.Fatalf("op.active = %d, want 1", op.active)
	}
}

// readOneFrom reads one framed message directly off conn, used where the
// test stands in for Connection's own readLoop goroutine.
func readOneFrom(t *testing.T, conn net.Conn) pvwire.Message {
	t.Helper()
	var hdr [pvwire.HeaderLen]byte
	if _, err := io.ReadFull(conn, hdr[:]); err != nil {
		t.Fatalf("read header: %v", err)
	}
	h, err := pvwire.DecodeHeader(hdr[:])
	if err != nil {
		t.Fatalf("decode header: %v", err)
	}
	body := make([]byte, h.BodyLen)
	if _, err := io.ReadFull(conn, body); err != nil {
		t.Fatalf("read body: %v", err)
	}
	return pvwire.Message{Header: h, Body: body}
}

func TestOpReplyRoutesByIOID(t *testing.T) {
	testlog.Start(t)
	c, _ := dialOverPipe(t)
	defer c.conn.Close()

	op := &fakeOp{ioid: 7}
	c.RegisterOp(op.ioid, op)

	body := binary.BigEndian.AppendUint32(nil, 1) // sid
	body = binary.BigEndian.AppendUint32(body, 7) // ioid
	body = append(body, 0x00)                     // subcommand EXEC
	body = append(body, []byte("payload")...)

	c.dispatchOpReply(body)
	if len(op.replies) != 1 {
		t.Fatalf("replies = %d, want 1", len(op.replies))
	}
	if string(op.replies[0][1:]) != "payload" {
		t.Fatalf("payload = %q", op.replies[0][1:])
	}
}

func TestDisconnectMarksChannelsAndOpsDisconnected(t *testing.T) {
	testlog.Start(t)
	c, peer := dialOverPipe(t)
	defer c.conn.Close()

	// net.Pipe is unbuffered: the peer must drain the CREATE_CHANNEL request
	// or OpenChannel's write blocks until its deadline and disconnects early.
	peerRead := make(chan struct{})
	go func() {
		peer.readMessage(t)
		close(peerRead)
	}()
	ch := c.OpenChannel("my:pv")
	<-peerRead
	op := &fakeOp{ioid: c.AllocIOID()}
	c.RegisterOp(op.ioid, op)
	ch.AddOp(op)

	c.handleDisconnect(context.Canceled)
	if ch.State() != StateDisconnected {
		t.Fatalf("state = %v, want disconnected", ch.State())
	}
	if op.disconns != 1 {
		t.Fatalf("op.disconns = %d, want 1", op.disconns)
	}
}

func TestIOIDAllocatorSkipsInUseAndWraps(t *testing.T) {
	inUse := map[uint32]bool{}
	a := newIOIDAllocator(func(id uint32) bool { return inUse[id] })
	a.next = 0xFFFFFFFE

	first := a.alloc()
	if first != 0xFFFFFFFE {
		t.Fatalf("first = %#x", first)
	}
	second := a.alloc() // would be 0xFFFFFFFF then wrap to 1
	if second != 0xFFFFFFFF {
		t.Fatalf("second = %#x", second)
	}
	inUse[1] = true
	third := a.alloc()
	if third != 2 {
		t.Fatalf("third = %#x, want 2 (1 was in use)", third)
	}
}

func TestBackoffGrowsAndCapsWithoutJitter(t *testing.T) {
	cfg := BackoffConfig{InitialDelay: 100 * time.Millisecond, Multiplier: 2, MaxDelay: time.Second, Jitter: false}
	if d := NextBackoffDelay(cfg, 1, nil); d != 100*time.Millisecond {
		t.Fatalf("attempt1 = %v", d)
	}
	if d := NextBackoffDelay(cfg, 2, nil); d != 200*time.Millisecond {
		t.Fatalf("attempt2 = %v", d)
	}
	if d := NextBackoffDelay(cfg, 10, nil); d != time.Second {
		t.Fatalf("attempt10 = %v, want capped at 1s", d)
	}
}
