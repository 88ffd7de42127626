package wire

import "github.com/axmq/broker-core/packet"

type publishStage int

const (
	puTopic publishStage = iota
	puPacketIDHi
	puPacketIDLo
	puPayload
	puDone
)

// publishDecoder parses the PUBLISH variable header and payload: topic
// name, an optional packet identifier (present iff QoS > 0), and the
// remaining bytes as opaque payload.
type publishDecoder struct {
	stage     publishStage
	remaining int32

	str stringDecoder
	pkt packet.Publish
}

// reset primes the decoder with the fixed-header-derived flags (DUP, QoS,
// Retain) and the remaining-length byte budget for the variable header
// plus payload.
func (d *publishDecoder) reset(header FixedHeader) {
	d.stage = puTopic
	d.remaining = int32(header.RemainingLength)
	d.str.reset()
	d.pkt = packet.Publish{
		DUP:    header.DUP,
		QoS:    header.QoS,
		Retain: header.Retain,
	}
}

func (d *publishDecoder) feed(b byte) (done bool, result *packet.Publish, err error) {
	if d.stage != puPayload {
		d.remaining--
		if d.remaining < 0 {
			return false, nil, ErrControlPacketLength
		}
	}

	switch d.stage {
	case puTopic:
		sdone, err := d.str.feed(b)
		if err != nil {
			return false, nil, err
		}
		if !sdone {
			return false, nil, nil
		}
		topic := d.str.string()
		if containsWildcard(topic) {
			return false, nil, ErrPublishProtocolViolation
		}
		d.pkt.Topic = topic
		d.str.reset()

		if d.pkt.QoS > packet.QoS0 {
			d.stage = puPacketIDHi
			return false, nil, nil
		}
		return d.finishVariableHeader()

	case puPacketIDHi:
		d.pkt.PacketID = uint16(b) << 8
		d.stage = puPacketIDLo
		return false, nil, nil

	case puPacketIDLo:
		d.pkt.PacketID |= uint16(b)
		if d.pkt.PacketID == 0 {
			return false, nil, ErrPacketIdentifierLengthViolation
		}
		return d.finishVariableHeader()

	case puPayload:
		d.remaining--
		d.pkt.Payload = append(d.pkt.Payload, b)
		if d.remaining == 0 {
			d.stage = puDone
			return true, &d.pkt, nil
		}
		if d.remaining < 0 {
			return false, nil, ErrControlPacketLength
		}
		return false, nil, nil

	default:
		return false, nil, ErrMalformedControlPacket
	}
}

// finishVariableHeader transitions into the payload stage, or completes
// immediately with an empty payload if no bytes remain.
func (d *publishDecoder) finishVariableHeader() (bool, *packet.Publish, error) {
	if d.remaining < 0 {
		return false, nil, ErrControlPacketLength
	}
	if d.remaining == 0 {
		d.pkt.Payload = []byte{}
		d.stage = puDone
		return true, &d.pkt, nil
	}
	d.pkt.Payload = make([]byte, 0, d.remaining)
	d.stage = puPayload
	return false, nil, nil
}

func containsWildcard(s string) bool {
	for i := 0; i < len(s); i++ {
		if s[i] == '+' || s[i] == '#' {
			return true
		}
	}
	return false
}
