package wire

import (
	"github.com/axmq/broker-core/packet"
	"github.com/axmq/broker-core/topic"
)

type subscribeStage int

const (
	suPacketIDHi subscribeStage = iota
	suPacketIDLo
	suFilter
	suQoS
)

// subscribeDecoder parses the SUBSCRIBE variable header (packet
// identifier) and payload (one or more (filter, requested QoS) pairs)
// until the remaining-length budget is exhausted. Duplicate filters are
// removed, keeping the first occurrence's requested QoS, per spec.
type subscribeDecoder struct {
	stage     subscribeStage
	remaining int32

	str     stringDecoder
	pkt     packet.Subscribe
	curFilt string
	seen    map[string]int // filter -> index in pkt.Filters, for de-dup
}

func (d *subscribeDecoder) reset(remainingLength uint32) {
	d.stage = suPacketIDHi
	d.remaining = int32(remainingLength)
	d.str.reset()
	d.pkt = packet.Subscribe{}
	d.seen = make(map[string]int)
}

func (d *subscribeDecoder) feed(b byte) (done bool, result *packet.Subscribe, err error) {
	d.remaining--
	if d.remaining < 0 {
		return false, nil, ErrControlPacketLength
	}

	switch d.stage {
	case suPacketIDHi:
		d.pkt.PacketID = uint16(b) << 8
		d.stage = suPacketIDLo
		return false, nil, nil

	case suPacketIDLo:
		d.pkt.PacketID |= uint16(b)
		if d.pkt.PacketID == 0 {
			return false, nil, ErrPacketIdentifierLengthViolation
		}
		d.stage = suFilter
		return false, nil, nil

	case suFilter:
		sdone, err := d.str.feed(b)
		if err != nil {
			return false, nil, err
		}
		if !sdone {
			return false, nil, nil
		}
		filter := d.str.string()
		if err := topic.ValidateFilter(filter); err != nil {
			return false, nil, ErrSubscribeProtocolViolation
		}
		d.curFilt = filter
		d.str.reset()
		d.stage = suQoS
		return false, nil, nil

	case suQoS:
		qos := packet.QoS(b & 0x03)
		if b&0xFC != 0 || !qos.IsValid() {
			return false, nil, ErrSubscribeProtocolViolation
		}
		d.addFilter(d.curFilt, qos)

		if d.remaining == 0 {
			if len(d.pkt.Filters) == 0 {
				return false, nil, ErrSubscribeProtocolViolation
			}
			return true, &d.pkt, nil
		}
		d.stage = suFilter
		return false, nil, nil

	default:
		return false, nil, ErrMalformedControlPacket
	}
}

func (d *subscribeDecoder) addFilter(filter string, qos packet.QoS) {
	if _, dup := d.seen[filter]; dup {
		return
	}
	d.seen[filter] = len(d.pkt.Filters)
	d.pkt.Filters = append(d.pkt.Filters, packet.TopicFilterQoS{Filter: filter, QoS: qos})
}
