package wire

import "github.com/axmq/broker-core/packet"

type parserStage int

const (
	parsingFixedHeader parserStage = iota
	parsingBody
)

// Parser is the top-level byte-at-a-time MQTT control packet parser. It
// owns a fixed-header sub-parser and, once the type is known, exactly one
// per-type parser instance. Feed must be called once per inbound byte;
// after Feed returns (true, pkt, nil) the Parser resets itself
// automatically and is ready to parse the next packet.
//
// Feed never blocks and never reads ahead: it is safe to call with bytes
// arriving in arbitrarily small chunks from the transport.
type Parser struct {
	stage  parserStage
	fh     fixedHeaderParser
	header FixedHeader

	connect   connectDecoder
	connack   connackDecoder
	publish   publishDecoder
	subscribe subscribeDecoder
	suback    subackDecoder
	skip      int32 // remaining bytes to discard for an unimplemented type's body
}

// NewParser returns a Parser ready to parse the first packet.
func NewParser() *Parser {
	p := &Parser{}
	p.Reset()
	return p
}

// Reset discards any in-progress packet and returns the Parser to its
// initial state. Callers normally do not need to call this themselves:
// Feed resets automatically after yielding a complete packet.
func (p *Parser) Reset() {
	p.stage = parsingFixedHeader
	p.fh.reset()
	p.header = FixedHeader{}
}

// Feed consumes one byte. It returns (false, nil, nil) while more bytes
// are needed, (true, pkt, nil) once a packet is complete, or a non-nil
// error if the byte stream violates the protocol — the caller must close
// the connection without feeding further bytes.
func (p *Parser) Feed(b byte) (done bool, pkt packet.Packet, err error) {
	switch p.stage {
	case parsingFixedHeader:
		complete, err := p.fh.feed(b)
		if err != nil {
			return false, nil, err
		}
		if !complete {
			return false, nil, nil
		}
		p.header = p.fh.header
		return p.dispatchBody()

	case parsingBody:
		return p.feedBody(b)

	default:
		return false, nil, ErrMalformedControlPacket
	}
}

// dispatchBody is invoked once the fixed header completes: it resets the
// matching per-type decoder (or, for zero-body types, completes the
// packet immediately) and switches the Parser into the body stage.
func (p *Parser) dispatchBody() (done bool, pkt packet.Packet, err error) {
	switch p.header.Type {
	case packet.PINGREQ:
		return p.finishZeroBody(packet.PingReq{})
	case packet.PINGRESP:
		return p.finishZeroBody(packet.PingResp{})
	case packet.DISCONNECT:
		return p.finishZeroBody(packet.Disconnect{})

	case packet.CONNECT:
		p.connect.reset(p.header.RemainingLength)
		p.stage = parsingBody
		return false, nil, nil
	case packet.CONNACK:
		p.connack.reset(p.header.RemainingLength)
		p.stage = parsingBody
		return false, nil, nil
	case packet.PUBLISH:
		p.publish.reset(p.header)
		p.stage = parsingBody
		return false, nil, nil
	case packet.SUBSCRIBE:
		p.subscribe.reset(p.header.RemainingLength)
		p.stage = parsingBody
		return false, nil, nil
	case packet.SUBACK:
		p.suback.reset(p.header.RemainingLength)
		p.stage = parsingBody
		return false, nil, nil

	default:
		// Recognized type, no processing path: PUBACK, PUBREC, PUBREL,
		// PUBCOMP, UNSUBSCRIBE, UNSUBACK. Skip the body without
		// interpreting it; the processor raises feature-not-implemented.
		if p.header.RemainingLength == 0 {
			return p.finishZeroBody(packet.Unimplemented{PacketType: p.header.Type})
		}
		p.skip = int32(p.header.RemainingLength)
		p.stage = parsingBody
		return false, nil, nil
	}
}

func (p *Parser) finishZeroBody(pkt packet.Packet) (bool, packet.Packet, error) {
	if p.header.RemainingLength != 0 {
		return false, nil, ErrControlPacketLength
	}
	p.Reset()
	return true, pkt, nil
}

func (p *Parser) feedBody(b byte) (done bool, pkt packet.Packet, err error) {
	switch p.header.Type {
	case packet.CONNECT:
		complete, result, err := p.connect.feed(b)
		if err != nil {
			return false, nil, err
		}
		if !complete {
			return false, nil, nil
		}
		p.Reset()
		return true, result, nil

	case packet.CONNACK:
		complete, result, err := p.connack.feed(b)
		if err != nil {
			return false, nil, err
		}
		if !complete {
			return false, nil, nil
		}
		p.Reset()
		return true, result, nil

	case packet.PUBLISH:
		complete, result, err := p.publish.feed(b)
		if err != nil {
			return false, nil, err
		}
		if !complete {
			return false, nil, nil
		}
		p.Reset()
		return true, result, nil

	case packet.SUBSCRIBE:
		complete, result, err := p.subscribe.feed(b)
		if err != nil {
			return false, nil, err
		}
		if !complete {
			return false, nil, nil
		}
		p.Reset()
		return true, result, nil

	case packet.SUBACK:
		complete, result, err := p.suback.feed(b)
		if err != nil {
			return false, nil, err
		}
		if !complete {
			return false, nil, nil
		}
		p.Reset()
		return true, result, nil

	default:
		p.skip--
		if p.skip < 0 {
			return false, nil, ErrControlPacketLength
		}
		if p.skip == 0 {
			t := p.header.Type
			p.Reset()
			return true, packet.Unimplemented{PacketType: t}, nil
		}
		return false, nil, nil
	}
}
