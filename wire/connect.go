package wire

import "github.com/axmq/broker-core/packet"

type connectStage int

const (
	csProtocolName connectStage = iota
	csProtocolLevel
	csConnectFlags
	csKeepAliveHi
	csKeepAliveLo
	csClientID
	csWillTopic
	csWillMessage
	csUsername
	csPassword
	csDone
)

// connectDecoder parses the CONNECT variable header and payload one byte
// at a time: protocol name, protocol level, connect flags, keep-alive,
// client id, then the conditional will/username/password fields.
type connectDecoder struct {
	stage     connectStage
	remaining int32 // decremented per consumed byte; underflow is fatal

	str      stringDecoder
	pkt      packet.Connect
	pwLo     byte
	pwHi     byte
	havePwHi bool
	pwLen    int
	pwBuf    []byte
}

func (d *connectDecoder) reset(remainingLength uint32) {
	d.stage = csProtocolName
	d.remaining = int32(remainingLength)
	d.str.reset()
	d.pkt = packet.Connect{}
	d.havePwHi = false
	d.pwLen = 0
	d.pwBuf = d.pwBuf[:0]
}

func (d *connectDecoder) consume() error {
	d.remaining--
	if d.remaining < 0 {
		return ErrControlPacketLength
	}
	return nil
}

func (d *connectDecoder) feed(b byte) (done bool, result *packet.Connect, err error) {
	if err := d.consume(); err != nil {
		return false, nil, err
	}

	switch d.stage {
	case csProtocolName:
		sdone, err := d.str.feed(b)
		if err != nil {
			return false, nil, err
		}
		if !sdone {
			return false, nil, nil
		}
		if d.str.string() != "MQTT" {
			return false, nil, ErrProtocolNameViolation
		}
		d.str.reset()
		d.stage = csProtocolLevel
		return false, nil, nil

	case csProtocolLevel:
		if b != 4 {
			return false, nil, ErrUnacceptableProtocolLevel
		}
		d.pkt.ProtocolLevel = b
		d.stage = csConnectFlags
		return false, nil, nil

	case csConnectFlags:
		if b&0x01 != 0 {
			return false, nil, ErrConnectFlagProtocolViolation
		}
		d.pkt.CleanSession = b&0x02 != 0
		d.pkt.WillFlag = b&0x04 != 0
		d.pkt.WillQoS = packet.QoS((b & 0x18) >> 3)
		d.pkt.WillRetain = b&0x20 != 0
		d.pkt.PasswordFlag = b&0x40 != 0
		d.pkt.UsernameFlag = b&0x80 != 0

		if !d.pkt.WillQoS.IsValid() {
			return false, nil, ErrConnectFlagProtocolViolation
		}
		if !d.pkt.WillFlag && (d.pkt.WillQoS != packet.QoS0 || d.pkt.WillRetain) {
			return false, nil, ErrWillMessageProtocolViolation
		}
		d.stage = csKeepAliveHi
		return false, nil, nil

	case csKeepAliveHi:
		d.pkt.KeepAlive = uint16(b) << 8
		d.stage = csKeepAliveLo
		return false, nil, nil

	case csKeepAliveLo:
		d.pkt.KeepAlive |= uint16(b)
		d.stage = csClientID
		return false, nil, nil

	case csClientID:
		sdone, err := d.str.feed(b)
		if err != nil {
			return false, nil, err
		}
		if !sdone {
			return false, nil, nil
		}
		d.pkt.ClientID = d.str.string()
		if d.pkt.ClientID == "" && !d.pkt.CleanSession {
			return false, nil, ErrCleanSessionNotSetForEmptyID
		}
		d.str.reset()
		d.stage = d.nextAfterClientID()
		if d.stage == csDone {
			return d.finish()
		}
		return false, nil, nil

	case csWillTopic:
		sdone, err := d.str.feed(b)
		if err != nil {
			return false, nil, err
		}
		if !sdone {
			return false, nil, nil
		}
		d.pkt.WillTopic = d.str.string()
		d.str.reset()
		d.stage = csWillMessage
		return false, nil, nil

	case csWillMessage:
		// will message is a length-prefixed binary blob, same framing as a string
		sdone, err := d.str.feed(b)
		if err != nil {
			return false, nil, err
		}
		if !sdone {
			return false, nil, nil
		}
		d.pkt.WillMessage = append([]byte(nil), []byte(d.str.string())...)
		d.str.reset()
		d.stage = d.nextAfterWill()
		if d.stage == csDone {
			return d.finish()
		}
		return false, nil, nil

	case csUsername:
		sdone, err := d.str.feed(b)
		if err != nil {
			return false, nil, err
		}
		if !sdone {
			return false, nil, nil
		}
		d.pkt.Username = d.str.string()
		d.str.reset()
		d.stage = d.nextAfterUsername()
		if d.stage == csDone {
			return d.finish()
		}
		return false, nil, nil

	case csPassword:
		if !d.havePwHi {
			d.pwHi = b
			d.havePwHi = true
			return false, nil, nil
		}
		if d.pwLen == 0 && len(d.pwBuf) == 0 {
			d.pwLo = b
			d.pwLen = int(d.pwHi)<<8 | int(d.pwLo)
			d.pwBuf = make([]byte, 0, d.pwLen)
			if d.pwLen == 0 {
				d.pkt.Password = []byte{}
				d.stage = csDone
				return d.finish()
			}
			return false, nil, nil
		}
		d.pwBuf = append(d.pwBuf, b)
		if len(d.pwBuf) == d.pwLen {
			d.pkt.Password = d.pwBuf
			d.stage = csDone
			return d.finish()
		}
		return false, nil, nil

	default:
		return false, nil, ErrMalformedControlPacket
	}
}

// finish validates that the remaining-length counter reached exactly zero
// when the structural grammar completed, then yields the parsed packet.
// A counter that is still positive means the fixed header promised more
// bytes than the CONNECT payload's own framing consumed — an overflow.
func (d *connectDecoder) finish() (bool, *packet.Connect, error) {
	if d.remaining != 0 {
		return false, nil, ErrControlPacketLength
	}
	return true, &d.pkt, nil
}

func (d *connectDecoder) nextAfterClientID() connectStage {
	if d.pkt.WillFlag {
		return csWillTopic
	}
	return d.nextAfterWill()
}

func (d *connectDecoder) nextAfterWill() connectStage {
	if d.pkt.UsernameFlag {
		return csUsername
	}
	return d.nextAfterUsername()
}

func (d *connectDecoder) nextAfterUsername() connectStage {
	if d.pkt.PasswordFlag {
		return csPassword
	}
	return csDone
}
