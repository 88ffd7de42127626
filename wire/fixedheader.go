package wire

import "github.com/axmq/broker-core/packet"

// FixedHeader is the decoded first 2-5 bytes of a control packet.
type FixedHeader struct {
	Type            packet.Type
	Flags           byte
	RemainingLength uint32

	// PUBLISH-specific flags, decoded from Flags.
	DUP    bool
	QoS    packet.QoS
	Retain bool
}

type headerStage int

const (
	stageFirstByte headerStage = iota
	stageRemainingLength
	stageHeaderDone
)

// fixedHeaderParser is a byte-at-a-time state machine for the fixed header.
// It consumes exactly one byte per feed call and never blocks on I/O: the
// caller re-invokes feed as more bytes arrive from the transport.
type fixedHeaderParser struct {
	stage  headerStage
	header FixedHeader
	rl     varintDecoder
}

func (p *fixedHeaderParser) reset() {
	p.stage = stageFirstByte
	p.header = FixedHeader{}
	p.rl.reset()
}

// feed returns (true, nil) once the fixed header is fully decoded. A
// non-nil error means the connection must close; the caller must not feed
// further bytes to this parser without calling reset first.
func (p *fixedHeaderParser) feed(b byte) (done bool, err error) {
	switch p.stage {
	case stageFirstByte:
		t := packet.Type(b >> 4)
		if t == packet.Reserved {
			return false, ErrInvalidControlPacketType
		}
		if t > packet.DISCONNECT {
			return false, ErrInvalidControlPacketType
		}

		flags := b & 0x0F
		p.header.Type = t
		p.header.Flags = flags

		if t == packet.PUBLISH {
			p.header.DUP = flags&0x08 != 0
			p.header.QoS = packet.QoS((flags & 0x06) >> 1)
			p.header.Retain = flags&0x01 != 0
			if !p.header.QoS.IsValid() {
				return false, ErrPublishProtocolViolation
			}
			if p.header.QoS == packet.QoS0 && p.header.DUP {
				return false, ErrDupFlagViolation
			}
		} else if err := validateReservedFlags(t, flags); err != nil {
			return false, err
		}

		p.stage = stageRemainingLength
		return false, nil

	case stageRemainingLength:
		done, err := p.rl.feed(b)
		if err != nil {
			return false, err
		}
		if !done {
			return false, nil
		}
		p.header.RemainingLength = p.rl.value
		p.stage = stageHeaderDone
		return true, nil

	default:
		return false, ErrMalformedControlPacket
	}
}

// validateReservedFlags checks the fixed reserved-flag nibble required for
// non-PUBLISH packet types (MQTT 3.1.1 section 2.2.2).
func validateReservedFlags(t packet.Type, flags byte) error {
	var expected byte
	switch t {
	case packet.SUBSCRIBE, packet.UNSUBSCRIBE, packet.PUBREL:
		expected = 0x02
	default:
		expected = 0x00
	}
	if flags != expected {
		return ErrConnectFlagProtocolViolation
	}
	return nil
}
