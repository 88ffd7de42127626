package wire

import "github.com/axmq/broker-core/packet"

type subackStage int

const (
	sbPacketIDHi subackStage = iota
	sbPacketIDLo
	sbCode
)

// subackDecoder parses the SUBACK variable header (packet identifier)
// and payload (one granted-QoS or failure byte per subscribed filter).
// The core only ever sends SUBACK; this decoder exists for symmetry with
// the serializer.
type subackDecoder struct {
	stage     subackStage
	remaining int32
	pkt       packet.SubAck
}

func (d *subackDecoder) reset(remainingLength uint32) {
	d.stage = sbPacketIDHi
	d.remaining = int32(remainingLength)
	d.pkt = packet.SubAck{}
}

func (d *subackDecoder) feed(b byte) (done bool, result *packet.SubAck, err error) {
	d.remaining--
	if d.remaining < 0 {
		return false, nil, ErrControlPacketLength
	}

	switch d.stage {
	case sbPacketIDHi:
		d.pkt.PacketID = uint16(b) << 8
		d.stage = sbPacketIDLo
		return false, nil, nil

	case sbPacketIDLo:
		d.pkt.PacketID |= uint16(b)
		d.stage = sbCode
		return false, nil, nil

	case sbCode:
		if b != packet.SubAckFailure && packet.QoS(b) > packet.QoS2 {
			return false, nil, ErrMalformedControlPacket
		}
		d.pkt.Codes = append(d.pkt.Codes, b)
		if d.remaining == 0 {
			if len(d.pkt.Codes) == 0 {
				return false, nil, ErrMalformedControlPacket
			}
			return true, &d.pkt, nil
		}
		return false, nil, nil

	default:
		return false, nil, ErrMalformedControlPacket
	}
}
