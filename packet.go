package gearman

import (
	"encoding/binary"
)

// PacketType is the Gearman wire-protocol command code, shared by requests
// (magic \0REQ) and responses (magic \0RES).
type PacketType uint32

const (
	PacketCanDo          PacketType = 1
	PacketCantDo         PacketType = 2
	PacketResetAbilities PacketType = 3
	PacketPreSleep       PacketType = 4
	PacketNoop           PacketType = 6
	PacketSubmitJob      PacketType = 7
	PacketJobCreated     PacketType = 8
	PacketGrabJob        PacketType = 9
	PacketNoJob          PacketType = 10
	PacketJobAssign      PacketType = 11
	PacketWorkStatus     PacketType = 12
	PacketWorkComplete   PacketType = 13
	PacketWorkFail       PacketType = 14
	PacketGetStatus      PacketType = 15
	PacketEchoReq        PacketType = 16
	PacketEchoRes        PacketType = 17
	PacketSubmitJobBG    PacketType = 18
	PacketError          PacketType = 19
	PacketStatusRes      PacketType = 20
	PacketSubmitJobHigh  PacketType = 21
	PacketSetClientID    PacketType = 22
	PacketCanDoTimeout   PacketType = 23
	PacketAllYours       PacketType = 24
	PacketWorkException  PacketType = 25
	PacketOptionReq      PacketType = 26
	PacketOptionRes      PacketType = 27
	PacketWorkData       PacketType = 28
	PacketWorkWarning    PacketType = 29
	PacketGrabJobUniq    PacketType = 30
	PacketJobAssignUniq  PacketType = 31
)

func (t PacketType) String() string {
	switch t {
	case PacketCanDo:
		return "can_do"
	case PacketCantDo:
		return "cant_do"
	case PacketPreSleep:
		return "pre_sleep"
	case PacketNoop:
		return "noop"
	case PacketJobCreated:
		return "job_created"
	case PacketGrabJob, PacketGrabJobUniq:
		return "grab_job"
	case PacketNoJob:
		return "no_job"
	case PacketJobAssign, PacketJobAssignUniq:
		return "job_assign"
	case PacketWorkStatus:
		return "work_status"
	case PacketWorkComplete:
		return "work_complete"
	case PacketWorkFail:
		return "work_fail"
	case PacketWorkException:
		return "work_exception"
	case PacketError:
		return "error"
	case PacketOptionReq:
		return "option_req"
	case PacketOptionRes:
		return "option_res"
	default:
		return "unknown"
	}
}

const headerSize = 12

var reqMagic = [4]byte{0, 'R', 'E', 'Q'}
var resMagic = [4]byte{0, 'R', 'E', 'S'}

// Packet is a single framed message as delivered by Parser or accepted by Pack.
type Packet struct {
	Type    PacketType
	Payload []byte
}

// Pack serializes verb and payload into a request frame ready to write to
// the wire. Arguments within payload are NUL-joined by the caller; Pack
// itself is agnostic to the argument layout.
func Pack(verb PacketType, payload []byte) []byte {
	buf := make([]byte, headerSize+len(payload))
	copy(buf[0:4], reqMagic[:])
	binary.BigEndian.PutUint32(buf[4:8], uint32(verb))
	binary.BigEndian.PutUint32(buf[8:12], uint32(len(payload)))
	copy(buf[headerSize:], payload)
	return buf
}

// PacketHandler receives each complete packet Parser decodes from the stream.
type PacketHandler func(Packet) error

// Parser incrementally decodes the Gearman response framing (C1). It holds
// no back-reference of its own; callers bind it to an Endpoint by closing
// over it in the PacketHandler passed to NewParser.
type Parser struct {
	buf     []byte
	handler PacketHandler
}

// NewParser builds a Parser that invokes handler once per decoded packet.
func NewParser(handler PacketHandler) *Parser {
	return &Parser{handler: handler}
}

// Feed appends newly read bytes and decodes as many complete frames as are
// available, invoking the handler for each in arrival order. It returns the
// first error either from framing itself or from the handler, stopping
// decoding at that point — the caller is expected to treat any error as
// fatal per §7.
func (p *Parser) Feed(data []byte) error {
	p.buf = append(p.buf, data...)

	for {
		if len(p.buf) < headerSize {
			return nil
		}

		var magic [4]byte
		copy(magic[:], p.buf[0:4])
		if magic != resMagic {
			return ErrProtocolViolation
		}

		typ := binary.BigEndian.Uint32(p.buf[4:8])
		size := binary.BigEndian.Uint32(p.buf[8:12])

		if uint64(len(p.buf)) < uint64(headerSize)+uint64(size) {
			return nil
		}

		payload := make([]byte, size)
		copy(payload, p.buf[headerSize:headerSize+size])
		p.buf = p.buf[headerSize+size:]

		if err := p.handler(Packet{Type: PacketType(typ), Payload: payload}); err != nil {
			return err
		}
	}
}
