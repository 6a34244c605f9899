package pvserver

import (
	"bufio"
	"encoding/binary"
	"fmt"
	"io"
	"net"
	"sync"
	"time"

	"github.com/openpva/pva/internal/logging"
	"github.com/openpva/pva/internal/pvstore"
	"github.com/openpva/pva/internal/pvvalue"
	"github.com/openpva/pva/internal/pvwire"
)

// boundChannel is one CREATE_CHANNEL-negotiated name, live for the rest of
// the session.
type boundChannel struct {
	sid  uint32
	name string
	pv   *PV
}

// session owns one accepted connection end to end: the handshake, every
// channel a peer opens against it, and every in-flight operation's reply.
// Its own read loop is the only goroutine that mutates channels/monitors;
// subscription pushes from other sessions' Put calls only ever reach send,
// which serializes writes under writeMu.
type session struct {
	conn      net.Conn
	cfg       Config
	registry  *Registry
	order     binary.ByteOrder
	outCache  *pvwire.OutCache
	typeStore *pvwire.TypeStore

	writeMu sync.Mutex

	nextSID  uint32
	channels map[uint32]*boundChannel
	monitors map[uint32]*monitorBinding
}

// monitorBinding tracks one live MONITOR request's subscription and the
// channel it was opened against, keyed by ioid.
type monitorBinding struct {
	sid uint32
	sub *subscription
}

func newSession(conn net.Conn, cfg Config, registry *Registry) *session {
	return &session{
		conn:      conn,
		cfg:       cfg,
		registry:  registry,
		order:     binary.BigEndian,
		outCache:  pvwire.NewOutCache(),
		typeStore: pvwire.NewTypeStore(),
		channels:  make(map[uint32]*boundChannel),
		monitors:  make(map[uint32]*monitorBinding),
	}
}

func (s *session) serve() {
	defer s.close()
	reader := bufio.NewReader(s.conn)
	if err := s.handshake(reader); err != nil {
		logger := logging.Named("pvserver")
		logger.Warn().Err(err).Msg("handshake failed")
		return
	}
	for {
		msg, err := readOneMessage(reader)
		if err != nil {
			return
		}
		if err := s.dispatch(msg.Header.Command, msg.Body); err != nil {
			logger := logging.Named("pvserver")
			logger.Warn().Err(err).Msg("session dispatch failed")
			return
		}
	}
}

func (s *session) close() {
	for _, m := range s.monitors {
		if ch, ok := s.channels[m.sid]; ok {
			ch.pv.unsubscribe(m.sub)
		}
	}
	_ = s.conn.Close()
}

// handshake drives the server side of session setup: SET_BYTE_ORDER in,
// CONNECTION_VALIDATION out, CONNECTION_VALIDATED in.
func (s *session) handshake(reader *bufio.Reader) error {
	_ = s.conn.SetDeadline(time.Now().Add(s.cfg.HandshakeTimeout))
	defer s.conn.SetDeadline(time.Time{})

	msg, err := readOneMessage(reader)
	if err != nil {
		return fmt.Errorf("read SET_BYTE_ORDER: %w", err)
	}
	if msg.Header.Command != pvwire.CmdSetByteOrder {
		return fmt.Errorf("expected SET_BYTE_ORDER, got command %#x", msg.Header.Command)
	}
	if err := s.send(pvwire.CmdConnectionValidation, nil); err != nil {
		return fmt.Errorf("write CONNECTION_VALIDATION: %w", err)
	}
	msg, err = readOneMessage(reader)
	if err != nil {
		return fmt.Errorf("read CONNECTION_VALIDATED: %w", err)
	}
	if msg.Header.Command != pvwire.CmdConnectionValidated {
		return fmt.Errorf("expected CONNECTION_VALIDATED, got command %#x", msg.Header.Command)
	}
	return nil
}

func (s *session) dispatch(cmd byte, body []byte) error {
	switch cmd {
	case pvwire.CmdCreateChannel:
		return s.handleCreateChannel(body)
	case pvwire.CmdGetField:
		return s.handleGetField(body)
	case pvwire.CmdGet:
		return s.handleGet(body)
	case pvwire.CmdPut:
		return s.handlePut(body)
	case pvwire.CmdMonitor:
		return s.handleMonitor(body)
	case pvwire.CmdDestroyRequest:
		return s.handleDestroyRequest(body)
	default:
		logger := logging.Named("pvserver")
		logger.Warn().Uint8("command", cmd).Msg("unhandled command")
		return nil
	}
}

func (s *session) handleCreateChannel(body []byte) error {
	cid, n, err := pvwire.GetSize(body, s.order)
	if err != nil {
		return fmt.Errorf("decode CREATE_CHANNEL cid: %w", err)
	}
	name, _, err := pvwire.GetString(body[n:], s.order)
	if err != nil {
		return fmt.Errorf("decode CREATE_CHANNEL name: %w", err)
	}

	pv, ok := s.registry.lookup(name)
	reply := pvwire.PutSize(nil, cid, s.order)
	if !ok {
		reply = putU32(reply, 0, s.order)
		reply = append(reply, 1) // status: not found
		return s.send(pvwire.CmdCreateChannel, reply)
	}

	s.nextSID++
	sid := s.nextSID
	s.channels[sid] = &boundChannel{sid: sid, name: name, pv: pv}
	reply = putU32(reply, sid, s.order)
	reply = append(reply, 0) // status ok
	return s.send(pvwire.CmdCreateChannel, reply)
}

func (s *session) handleGetField(body []byte) error {
	sid, ioid, sub, _, err := splitOpBody(body, s.order)
	if err != nil {
		return err
	}
	ch, ok := s.channels[sid]
	if !ok {
		return s.sendOpStatus(pvwire.CmdGetField, sid, ioid, sub, 1)
	}
	reply := opHeader(sid, ioid, sub, s.order)
	reply = append(reply, 0) // status ok
	reply = pvwire.EncodeType(reply, ch.pv.Desc(), s.outCache, s.order)
	return s.send(pvwire.CmdGetField, reply)
}

func (s *session) handleGet(body []byte) error {
	sid, ioid, sub, _, err := splitOpBody(body, s.order)
	if err != nil {
		return err
	}
	ch, ok := s.channels[sid]
	if !ok {
		return s.sendOpStatus(pvwire.CmdGet, sid, ioid, sub, 1)
	}
	reply := opHeader(sid, ioid, sub, s.order)
	switch sub {
	case pvwire.SubInit:
		reply = append(reply, 0)
		reply = pvwire.EncodeType(reply, ch.pv.Desc(), s.outCache, s.order)
	case pvwire.SubExec:
		reply = append(reply, 0)
		ev := ch.pv.Snapshot()
		reply = pvwire.EncodeMaskedValue(reply, ev.Top(), s.outCache, s.order)
	default:
		return nil
	}
	return s.send(pvwire.CmdGet, reply)
}

func (s *session) handlePut(body []byte) error {
	sid, ioid, sub, payload, err := splitOpBody(body, s.order)
	if err != nil {
		return err
	}
	ch, ok := s.channels[sid]
	if !ok {
		return s.sendOpStatus(pvwire.CmdPut, sid, ioid, sub, 1)
	}
	switch sub {
	case pvwire.SubInit:
		reply := opHeader(sid, ioid, sub, s.order)
		reply = append(reply, 0)
		reply = pvwire.EncodeType(reply, ch.pv.Desc(), s.outCache, s.order)
		return s.send(pvwire.CmdPut, reply)
	case pvwire.SubExec:
		scratch := pvstore.NewStructTop(ch.pv.Desc())
		if _, err := pvwire.DecodeMaskedValue(payload, scratch, s.typeStore, s.order); err != nil {
			return fmt.Errorf("decode PUT value: %w", err)
		}
		ch.pv.Put(scratch)
		reply := opHeader(sid, ioid, sub, s.order)
		reply = append(reply, 0)
		return s.send(pvwire.CmdPut, reply)
	default:
		return nil
	}
}

func (s *session) handleMonitor(body []byte) error {
	sid, ioid, sub, payload, err := splitOpBody(body, s.order)
	if err != nil {
		return err
	}
	ch, ok := s.channels[sid]
	if !ok {
		return s.sendOpStatus(pvwire.CmdMonitor, sid, ioid, sub, 1)
	}
	switch sub {
	case pvwire.SubInit:
		reply := opHeader(sid, ioid, sub, s.order)
		reply = append(reply, 0)
		reply = pvwire.EncodeType(reply, ch.pv.Desc(), s.outCache, s.order)
		return s.send(pvwire.CmdMonitor, reply)
	case pvwire.SubExec:
		grant, _, err := pvwire.GetSize(payload, s.order)
		if err != nil {
			return fmt.Errorf("decode MONITOR credit: %w", err)
		}
		binding, exists := s.monitors[ioid]
		if !exists {
			binding = &monitorBinding{sid: sid}
			binding.sub = newSubscription(func(overrun, finished bool, ev pvvalue.IValue) {
				_ = s.pushMonitorEvent(sid, ioid, overrun, finished, ev)
			})
			s.monitors[ioid] = binding
			ch.pv.subscribe(binding.sub)
		}
		binding.sub.grant(int(grant))
		return nil
	default:
		return nil
	}
}

func (s *session) handleDestroyRequest(body []byte) error {
	_, ioid, _, _, err := splitOpBody(body, s.order)
	if err != nil {
		return err
	}
	binding, ok := s.monitors[ioid]
	if !ok {
		return nil
	}
	delete(s.monitors, ioid)
	if ch, ok := s.channels[binding.sid]; ok {
		ch.pv.unsubscribe(binding.sub)
	}
	return nil
}

// pushMonitorEvent sends one unsolicited MONITOR/SubExec message, the same
// shape a reply takes, carrying overrun/finished flags and (unless
// finished) the current masked value.
func (s *session) pushMonitorEvent(sid, ioid uint32, overrun, finished bool, ev pvvalue.IValue) error {
	body := opHeader(sid, ioid, pvwire.SubExec, s.order)
	body = append(body, boolByte(overrun), boolByte(finished))
	if !finished {
		body = pvwire.EncodeMaskedValue(body, ev.Top(), s.outCache, s.order)
	}
	return s.send(pvwire.CmdMonitor, body)
}

func (s *session) sendOpStatus(cmd byte, sid, ioid uint32, sub byte, status byte) error {
	reply := opHeader(sid, ioid, sub, s.order)
	reply = append(reply, status)
	return s.send(cmd, reply)
}

func (s *session) send(cmd byte, body []byte) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	_ = s.conn.SetWriteDeadline(time.Now().Add(s.cfg.WriteTimeout))
	h := pvwire.Header{Version: 1, Command: cmd, Flags: pvwire.FlagBigEndian}
	_, err := s.conn.Write(pvwire.EncodeMessage(h, body))
	return err
}

func boolByte(b bool) byte {
	if b {
		return 1
	}
	return 0
}

func opHeader(sid, ioid uint32, sub byte, order binary.ByteOrder) []byte {
	buf := putU32(nil, sid, order)
	buf = putU32(buf, ioid, order)
	return append(buf, sub)
}

// splitOpBody parses the sid/ioid/sub header every operation message
// shares, client request or server reply alike.
func splitOpBody(body []byte, order binary.ByteOrder) (sid, ioid uint32, sub byte, payload []byte, err error) {
	if len(body) < 9 {
		return 0, 0, 0, nil, fmt.Errorf("short operation message")
	}
	sid = order.Uint32(body[0:4])
	ioid = order.Uint32(body[4:8])
	sub = body[8]
	payload = body[9:]
	return
}

func putU32(buf []byte, v uint32, order binary.ByteOrder) []byte {
	var tmp [4]byte
	order.PutUint32(tmp[:], v)
	return append(buf, tmp[:]...)
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
	buf := make([]byte, h.BodyLen)
	if _, err := io.ReadFull(r, buf); err != nil {
		return pvwire.Message{}, err
	}
	return pvwire.Message{Header: h, Body: buf}, nil
}
