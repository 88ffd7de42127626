package wire

import "github.com/axmq/broker-core/packet"

// Serialize encodes pkt into a fresh byte slice: fixed header followed by
// variable header and payload, mirroring the field order of the per-type
// parsers. Serialize is stateless — safe to call concurrently from many
// goroutines, each with its own pkt.
func Serialize(pkt packet.Packet) ([]byte, error) {
	body, flags, err := serializeBody(pkt)
	if err != nil {
		return nil, err
	}

	rl, err := EncodeRemainingLength(uint32(len(body)))
	if err != nil {
		return nil, err
	}

	out := make([]byte, 0, 1+len(rl)+len(body))
	out = append(out, byte(pkt.Type())<<4|flags)
	out = append(out, rl...)
	out = append(out, body...)
	return out, nil
}

func serializeBody(pkt packet.Packet) (body []byte, flags byte, err error) {
	switch p := pkt.(type) {
	case *packet.Connect:
		return serializeConnect(p), 0, nil
	case *packet.ConnAck:
		return serializeConnAck(p), 0, nil
	case *packet.Publish:
		return serializePublish(p), publishFlags(p), nil
	case *packet.Subscribe:
		return serializeSubscribe(p), 0x02, nil
	case *packet.SubAck:
		return serializeSubAck(p), 0, nil
	case packet.PingReq, *packet.PingReq:
		return nil, 0, nil
	case packet.PingResp, *packet.PingResp:
		return nil, 0, nil
	case packet.Disconnect, *packet.Disconnect:
		return nil, 0, nil
	default:
		return nil, 0, ErrMalformedControlPacket
	}
}

func publishFlags(p *packet.Publish) byte {
	var f byte
	if p.DUP {
		f |= 0x08
	}
	f |= byte(p.QoS) << 1
	if p.Retain {
		f |= 0x01
	}
	return f
}

func serializeConnect(c *packet.Connect) []byte {
	var flags byte
	if c.CleanSession {
		flags |= 0x02
	}
	if c.WillFlag {
		flags |= 0x04
		flags |= byte(c.WillQoS) << 3
		if c.WillRetain {
			flags |= 0x20
		}
	}
	if c.PasswordFlag {
		flags |= 0x40
	}
	if c.UsernameFlag {
		flags |= 0x80
	}

	out := make([]byte, 0, 16+len(c.ClientID))
	out = append(out, EncodeString("MQTT")...)
	out = append(out, 4, flags)
	out = append(out, byte(c.KeepAlive>>8), byte(c.KeepAlive))
	out = append(out, EncodeString(c.ClientID)...)

	if c.WillFlag {
		out = append(out, EncodeString(c.WillTopic)...)
		out = append(out, encodeBinary(c.WillMessage)...)
	}
	if c.UsernameFlag {
		out = append(out, EncodeString(c.Username)...)
	}
	if c.PasswordFlag {
		out = append(out, encodeBinary(c.Password)...)
	}
	return out
}

func serializeConnAck(c *packet.ConnAck) []byte {
	var flags byte
	if c.SessionPresent {
		flags = 0x01
	}
	return []byte{flags, byte(c.ReturnCode)}
}

func serializePublish(p *packet.Publish) []byte {
	out := make([]byte, 0, 4+len(p.Topic)+2+len(p.Payload))
	out = append(out, EncodeString(p.Topic)...)
	if p.QoS > packet.QoS0 {
		out = append(out, byte(p.PacketID>>8), byte(p.PacketID))
	}
	out = append(out, p.Payload...)
	return out
}

func serializeSubscribe(s *packet.Subscribe) []byte {
	out := make([]byte, 0, 4+8*len(s.Filters))
	out = append(out, byte(s.PacketID>>8), byte(s.PacketID))
	for _, f := range s.Filters {
		out = append(out, EncodeString(f.Filter)...)
		out = append(out, byte(f.QoS))
	}
	return out
}

func serializeSubAck(s *packet.SubAck) []byte {
	out := make([]byte, 0, 2+len(s.Codes))
	out = append(out, byte(s.PacketID>>8), byte(s.PacketID))
	out = append(out, s.Codes...)
	return out
}

func encodeBinary(data []byte) []byte {
	out := make([]byte, 2+len(data))
	out[0] = byte(len(data) >> 8)
	out[1] = byte(len(data))
	copy(out[2:], data)
	return out
}
