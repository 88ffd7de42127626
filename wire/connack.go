package wire

import "github.com/axmq/broker-core/packet"

type connackStage int

const (
	caAckFlags connackStage = iota
	caReturnCode
	caDone
)

// connackDecoder parses the two-byte CONNACK variable header. The core
// never receives a CONNACK (it only ever sends one), but the type is
// recognized at the top level per the spec's closed packet-type set and
// kept available for symmetry with the serializer.
type connackDecoder struct {
	stage     connackStage
	remaining int32
	pkt       packet.ConnAck
}

func (d *connackDecoder) reset(remainingLength uint32) {
	d.stage = caAckFlags
	d.remaining = int32(remainingLength)
	d.pkt = packet.ConnAck{}
}

func (d *connackDecoder) feed(b byte) (done bool, result *packet.ConnAck, err error) {
	d.remaining--
	if d.remaining < 0 {
		return false, nil, ErrControlPacketLength
	}

	switch d.stage {
	case caAckFlags:
		if b&0xFE != 0 {
			return false, nil, ErrMalformedControlPacket
		}
		d.pkt.SessionPresent = b&0x01 != 0
		d.stage = caReturnCode
		return false, nil, nil

	case caReturnCode:
		if b > byte(packet.NotAuthorized) {
			return false, nil, ErrMalformedControlPacket
		}
		d.pkt.ReturnCode = packet.ConnAckCode(b)
		d.stage = caDone
		if d.remaining != 0 {
			return false, nil, ErrControlPacketLength
		}
		return true, &d.pkt, nil

	default:
		return false, nil, ErrMalformedControlPacket
	}
}
