package transport

import (
	"bufio"
	"context"
	"crypto/tls"
	"crypto/x509"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"math/rand"
	"net"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/openpva/pva/internal/ioexec"
	"github.com/openpva/pva/internal/logging"
	"github.com/openpva/pva/internal/metrics"
	"github.com/openpva/pva/internal/pvwire"
)

// Connection owns one peer byte stream: the session handshake, IOID
// allocation, the channels and operations multiplexed over it, and the
// per-connection wire type caches. Every field below this point is mutated
// exclusively from closures run on Exec — nothing else may touch them.
type Connection struct {
	cfg  Config
	addr string
	exec *ioexec.Executor

	conn          net.Conn
	pendingReader *bufio.Reader // primed by handshake, consumed by readLoop
	order         binary.ByteOrder

	outCache  *pvwire.OutCache
	typeStore *pvwire.TypeStore

	channels      map[uint32]*Channel // by sid, once Active
	pendingCreate map[uint32]*Channel // by cid, awaiting CREATE_CHANNEL reply
	opByIOID      map[uint32]Operation
	ioids         *ioidAllocator
	nextCID       uint32

	closeOnce sync.Once
	closed    chan struct{}
}

// Dial opens a TCP (optionally TLS) connection to addr, runs the session
// setup handshake synchronously, and starts the executor-driven read loop.
// The returned Connection's Exec is the only safe way to touch it further.
func Dial(ctx context.Context, addr string, cfg Config) (*Connection, error) {
	cfg = cfg.WithDefaults()
	if err := cfg.ValidateClientTransport(); err != nil {
		return nil, err
	}

	rawConn, err := dial(ctx, addr, cfg)
	if err != nil {
		return nil, err
	}

	c := &Connection{
		cfg:           cfg,
		addr:          addr,
		exec:          ioexec.New(),
		conn:          rawConn,
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
		_ = rawConn.Close()
		return nil, err
	}

	go c.readLoop()
	return c, nil
}

func dial(ctx context.Context, addr string, cfg Config) (net.Conn, error) {
	dialer := net.Dialer{Timeout: cfg.ConnectTimeout}
	rawConn, err := dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, err
	}
	if !cfg.TLS.Enabled {
		return rawConn, nil
	}

	tlsCfg, err := clientTLSConfig(addr, cfg.TLS)
	if err != nil {
		_ = rawConn.Close()
		return nil, err
	}
	tlsConn := tls.Client(rawConn, tlsCfg)
	handshakeCtx, cancel := context.WithTimeout(ctx, cfg.HandshakeTimeout)
	defer cancel()
	if err := tlsConn.HandshakeContext(handshakeCtx); err != nil {
		_ = rawConn.Close()
		return nil, err
	}
	return tlsConn, nil
}

func clientTLSConfig(addr string, cfg TLSConfig) (*tls.Config, error) {
	out := &tls.Config{
		MinVersion:         tls.VersionTLS12,
		InsecureSkipVerify: cfg.InsecureSkipVerify,
	}
	serverName := strings.TrimSpace(cfg.ServerName)
	if serverName == "" {
		if host, _, err := net.SplitHostPort(addr); err == nil {
			serverName = host
		}
	}
	out.ServerName = serverName

	if caPath := strings.TrimSpace(cfg.CAFile); caPath != "" {
		caPEM, err := os.ReadFile(caPath)
		if err != nil {
			return nil, err
		}
		pool := x509.NewCertPool()
		if ok := pool.AppendCertsFromPEM(caPEM); !ok {
			return nil, fmt.Errorf("transport: parse tls ca bundle: %s", caPath)
		}
		out.RootCAs = pool
	}
	if cfg.Mutual {
		cert, err := tls.LoadX509KeyPair(cfg.CertFile, cfg.KeyFile)
		if err != nil {
			return nil, err
		}
		out.Certificates = []tls.Certificate{cert}
	}
	return out, nil
}

// handshake runs the session-setup exchange synchronously before the read
// loop starts: the client announces its byte order, then exchanges a
// connection-validation request/response pair with the peer.
func (c *Connection) handshake() error {
	_ = c.conn.SetDeadline(time.Now().Add(c.cfg.HandshakeTimeout))
	defer c.conn.SetDeadline(time.Time{})

	if err := c.writeMessage(pvwire.Header{Version: 1, Command: pvwire.CmdSetByteOrder}, nil); err != nil {
		return err
	}

	reader := bufio.NewReader(c.conn)
	msg, err := readOneMessage(reader)
	if err != nil {
		return err
	}
	if msg.Header.Command != pvwire.CmdConnectionValidation {
		return fmt.Errorf("%w: expected CONNECTION_VALIDATION, got command %#x", ErrFatalProtocol, msg.Header.Command)
	}

	if err := c.writeMessage(pvwire.Header{Version: 1, Command: pvwire.CmdConnectionValidated}, nil); err != nil {
		return err
	}

	c.pendingReader = reader
	return nil
}

func readOneMessage(r *bufio.Reader) (pvwire.Message, error) {
	var hdr [pvwire.HeaderLen]byte
	if _, err := io.ReadFull(r, hdr[:]); err != nil {
		return pvwire.Message{}, err
	}
	h, err := pvwire.DecodeHeader(hdr[:])
	if err != nil {
		return pvwire.Message{}, err
	}
	body := make([]byte, h.BodyLen)
	if _, err := io.ReadFull(r, body); err != nil {
		return pvwire.Message{}, err
	}
	return pvwire.Message{Header: h, Body: body}, nil
}

func (c *Connection) writeMessage(h pvwire.Header, body []byte) error {
	h.Flags |= pvwire.FlagBigEndian
	_ = c.conn.SetWriteDeadline(time.Now().Add(c.cfg.WriteTimeout))
	wire := pvwire.EncodeMessage(h, body)
	n, err := c.conn.Write(wire)
	metrics.RecordBytesEncoded(n)
	return err
}

// Send encodes and writes one operation message. Must be called from a
// closure running on Exec.
func (c *Connection) Send(cmd byte, body []byte) error {
	return c.writeMessage(pvwire.Header{Version: 1, Command: cmd}, body)
}

// Exec returns the single-goroutine executor every mutation of this
// connection's state must run on.
func (c *Connection) Exec() *ioexec.Executor { return c.exec }

// OutCache returns the connection's encode-side type cache.
func (c *Connection) OutCache() *pvwire.OutCache { return c.outCache }

// TypeStore returns the connection's decode-side type cache.
func (c *Connection) TypeStore() *pvwire.TypeStore { return c.typeStore }

// Order returns the byte order every message on this connection is framed
// in. Fixed at BigEndian: Dial never negotiates the peer's preference away
// from the value the handshake announces in writeMessage.
func (c *Connection) Order() binary.ByteOrder { return c.order }

// Addr returns the peer address this connection was dialed against.
func (c *Connection) Addr() string { return c.addr }

// ChannelSnapshot is a read-only summary of one Channel's state, safe to
// hand to a goroutine outside Exec.
type ChannelSnapshot struct {
	Name    string
	State   ChannelState
	OpCount int
}

// Snapshot returns a summary of every channel currently known to the
// connection, both Active (by sid) and still pending CREATE_CHANNEL (by
// cid). Must be called from a closure running on Exec.
func (c *Connection) Snapshot() []ChannelSnapshot {
	out := make([]ChannelSnapshot, 0, len(c.channels)+len(c.pendingCreate))
	for _, ch := range c.channels {
		out = append(out, ChannelSnapshot{Name: ch.Name(), State: ch.State(), OpCount: len(ch.ops)})
	}
	for _, ch := range c.pendingCreate {
		out = append(out, ChannelSnapshot{Name: ch.Name(), State: ch.State(), OpCount: len(ch.ops)})
	}
	return out
}

// AllocIOID returns a fresh, currently-unused operation id. Must be called
// from Exec.
func (c *Connection) AllocIOID() uint32 { return c.ioids.alloc() }

// RegisterOp attaches op under ioid for reply routing. Must be called from Exec.
func (c *Connection) RegisterOp(ioid uint32, op Operation) { c.opByIOID[ioid] = op }

// UnregisterOp removes an operation once it reaches Done. Must be called from Exec.
func (c *Connection) UnregisterOp(ioid uint32) { delete(c.opByIOID, ioid) }

// OpenChannel returns the Channel for name, creating and beginning its
// CREATE_CHANNEL handshake if this is the first request for that name on
// this connection. Must be called from Exec.
func (c *Connection) OpenChannel(name string) *Channel {
	for _, ch := range c.channels {
		if ch.name == name {
			return ch
		}
	}
	for _, ch := range c.pendingCreate {
		if ch.name == name {
			return ch
		}
	}
	c.nextCID++
	cid := c.nextCID
	ch := newChannel(c, name, cid)
	c.pendingCreate[cid] = ch
	ch.markConnecting()
	c.sendCreateChannel(ch)
	return ch
}

func (c *Connection) sendCreateChannel(ch *Channel) {
	buf := pvwire.PutSize(nil, uint64(ch.cid), c.order)
	buf = pvwire.PutString(buf, ch.name, c.order)
	if err := c.Send(pvwire.CmdCreateChannel, buf); err != nil {
		logger := logging.Named("transport")
		logger.Warn().Err(err).Str("channel", ch.name).Msg("send CREATE_CHANNEL failed")
		c.handleDisconnect(err)
	}
}

func (c *Connection) readLoop() {
	reader := c.pendingReader
	for {
		msg, err := readOneMessage(reader)
		if err != nil {
			c.exec.Call(func() { c.handleDisconnect(err) })
			return
		}
		metrics.RecordBytesDecoded(pvwire.HeaderLen + len(msg.Body))
		m := msg
		c.exec.Call(func() { c.dispatch(m) })
	}
}

func (c *Connection) dispatch(msg pvwire.Message) {
	switch msg.Header.Command {
	case pvwire.CmdCreateChannel:
		c.handleCreateChannelReply(msg.Body)
	case pvwire.CmdDestroyChannel:
		c.handleDestroyChannel(msg.Body)
	case pvwire.CmdGet, pvwire.CmdPut, pvwire.CmdPutGet, pvwire.CmdMonitor,
		pvwire.CmdGetField, pvwire.CmdDestroyRequest, pvwire.CmdMessage:
		c.dispatchOpReply(msg.Body)
	default:
		logger := logging.Named("transport")
		logger.Warn().Uint8("command", msg.Header.Command).Msg("unhandled command")
	}
}

func (c *Connection) handleCreateChannelReply(body []byte) {
	cid, n, err := pvwire.GetSize(body, c.order)
	if err != nil || len(body) < n+5 {
		c.handleDisconnect(fmt.Errorf("%w: malformed CREATE_CHANNEL reply", ErrFatalProtocol))
		return
	}
	sid := c.order.Uint32(body[n : n+4])
	status := body[n+4]

	ch, ok := c.pendingCreate[uint32(cid)]
	if !ok {
		return
	}
	delete(c.pendingCreate, uint32(cid))
	if status != 0 {
		ch.markDisconnected()
		return
	}
	c.channels[sid] = ch
	ch.markActive(sid)
}

func (c *Connection) handleDestroyChannel(body []byte) {
	if len(body) < 4 {
		return
	}
	sid := c.order.Uint32(body[:4])
	if ch, ok := c.channels[sid]; ok {
		delete(c.channels, sid)
		ch.markDisconnected()
	}
}

func (c *Connection) dispatchOpReply(body []byte) {
	if len(body) < 9 {
		c.handleDisconnect(fmt.Errorf("%w: short operation reply", ErrFatalProtocol))
		return
	}
	ioid := c.order.Uint32(body[4:8])
	sub := body[8]
	rest := body[9:]
	op, ok := c.opByIOID[ioid]
	if !ok {
		return
	}
	if err := op.OnReply(sub, rest); errors.Is(err, ErrFatalProtocol) {
		c.handleDisconnect(err)
	}
}

// handleDisconnect tears down the socket and pushes every channel (and
// through it, every operation) into Disconnected. attempt-based reconnect
// is the caller's responsibility (see Redial) so consumers can observe
// the disconnect before a new Connection replaces this one.
func (c *Connection) handleDisconnect(err error) {
	c.closeOnce.Do(func() {
		_ = c.conn.Close()
		close(c.closed)
	})
	for sid, ch := range c.channels {
		delete(c.channels, sid)
		ch.markDisconnected()
	}
	for cid, ch := range c.pendingCreate {
		delete(c.pendingCreate, cid)
		ch.markDisconnected()
	}
	if err != nil && !errors.Is(err, io.EOF) {
		logger := logging.Named("transport")
		logger.Warn().Err(err).Str("addr", c.addr).Msg("connection disconnected")
	}
}

// Closed returns a channel closed once this connection has been torn down.
func (c *Connection) Closed() <-chan struct{} { return c.closed }

// Close tears down the connection from outside Exec.
func (c *Connection) Close() {
	_ = c.exec.CallSync(context.Background(), func() { c.handleDisconnect(nil) })
	c.exec.Stop()
}

// Redial retries Dial with the connection's own backoff schedule until it
// succeeds or ctx is done, mirroring the retry shape a ghost-side session
// client uses against its control plane: dial, and on failure sleep a
// jittered, exponentially growing delay before trying again.
func Redial(ctx context.Context, addr string, cfg Config) (*Connection, error) {
	rng := rand.New(rand.NewSource(time.Now().UnixNano()))
	attempt := 0
	for {
		attempt++
		metrics.RecordReconnectAttempt(addr)
		conn, err := Dial(ctx, addr, cfg)
		if err == nil {
			metrics.RecordReconnectSuccess(addr)
			return conn, nil
		}
		logger := logging.Named("transport")
		logger.Warn().Err(err).Int("attempt", attempt).Str("addr", addr).Msg("dial failed")
		delay := NextBackoffDelay(cfg.WithDefaults().Backoff, attempt, rng)
		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil, ctx.Err()
		case <-timer.C:
		}
	}
}
