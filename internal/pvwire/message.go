package pvwire

import "encoding/binary"

// HeaderLen is the fixed size of every message header: magic, version,
// flags, command, and the body length.
const HeaderLen = 8

const Magic byte = 0xCA

// Flags bits, per the session header.
const (
	FlagBigEndian  byte = 1 << 7
	FlagSegmented  byte = 1 << 4
	SegmentPosMask byte = 0x0F
)

// Commands used by the core (session-setup commands precede any of these
// on a fresh connection).
const (
	CmdSetByteOrder             byte = 0x01
	CmdConnectionValidation     byte = 0x02
	CmdConnectionValidated      byte = 0x08
	CmdCreateChannel            byte = 0x06
	CmdDestroyChannel           byte = 0x07
	CmdGet                      byte = 0x0A
	CmdPut                      byte = 0x0B
	CmdPutGet                   byte = 0x0C
	CmdMonitor                  byte = 0x0D
	CmdDestroyRequest           byte = 0x10
	CmdMessage                  byte = 0x11
	CmdGetField                 byte = 0x12
)

// Subcommand bits on an operation body's subcommand byte.
const (
	SubInit    byte = 0x08
	SubDestroy byte = 0x40
	SubGetPut  byte = 0x44
	SubExec    byte = 0x00
)

// Header is the fixed 8-byte envelope preceding every message body.
type Header struct {
	Version  byte
	Flags    byte
	Command  byte
	BodyLen  uint32
}

// ByteOrder returns the binary.ByteOrder the flags byte selects.
func (h Header) ByteOrder() binary.ByteOrder {
	if h.Flags&FlagBigEndian != 0 {
		return binary.BigEndian
	}
	return binary.LittleEndian
}

// EncodeHeader writes h using its own selected byte order for BodyLen — the
// header is self-describing: the endianness bit governs every multi-byte
// field from this message on, including its own length.
func EncodeHeader(h Header) []byte {
	buf := make([]byte, HeaderLen)
	buf[0] = Magic
	buf[1] = h.Version
	buf[2] = h.Flags
	buf[3] = h.Command
	h.ByteOrder().PutUint32(buf[4:8], h.BodyLen)
	return buf
}

// DecodeHeader reads a HeaderLen-byte buffer.
func DecodeHeader(b []byte) (Header, error) {
	if len(b) < HeaderLen {
		return Header{}, ErrNeedMore
	}
	if b[0] != Magic {
		return Header{}, ErrFatalProtocol
	}
	h := Header{Version: b[1], Flags: b[2], Command: b[3]}
	h.BodyLen = h.ByteOrder().Uint32(b[4:8])
	return h, nil
}

// Message is one complete header + body.
type Message struct {
	Header Header
	Body   []byte
}

// Decoder accumulates bytes fed from the transport and yields complete
// messages, leaving any partially-received message's bytes untouched
// (the re-entrant buffer the wire codec suspends on instead of mutating
// already-committed state).
type Decoder struct {
	buf []byte
}

// NewDecoder returns an empty message decoder.
func NewDecoder() *Decoder { return &Decoder{} }

// Feed appends newly read bytes.
func (d *Decoder) Feed(b []byte) {
	d.buf = append(d.buf, b...)
}

// Next extracts the next complete message, if one is fully buffered.
// ErrNeedMore means keep reading; nothing is consumed in that case.
func (d *Decoder) Next() (Message, error) {
	h, err := DecodeHeader(d.buf)
	if err != nil {
		return Message{}, err
	}
	total := HeaderLen + int(h.BodyLen)
	if len(d.buf) < total {
		return Message{}, ErrNeedMore
	}
	body := make([]byte, h.BodyLen)
	copy(body, d.buf[HeaderLen:total])
	d.buf = d.buf[total:]
	return Message{Header: h, Body: body}, nil
}

// EncodeMessage assembles a complete header+body buffer.
func EncodeMessage(h Header, body []byte) []byte {
	h.BodyLen = uint32(len(body))
	buf := EncodeHeader(h)
	return append(buf, body...)
}
