package wire

import "unicode/utf8"

// stringDecoder decodes a length-prefixed MQTT string (2-byte big-endian
// byte count, then UTF-8 bytes) one byte at a time. It buffers the run of
// payload bytes internally; the byte-at-a-time contract is only observed
// externally, per the per-call feed(byte) interface.
type stringDecoder struct {
	lenHi, lenLo byte
	haveLenHi    bool
	haveLenLo    bool
	length       int
	buf          []byte
	done         bool
}

func (d *stringDecoder) reset() {
	d.haveLenHi = false
	d.haveLenLo = false
	d.length = 0
	d.buf = d.buf[:0]
	d.done = false
}

// feed consumes one byte and reports whether the string is complete.
func (d *stringDecoder) feed(b byte) (done bool, err error) {
	if d.done {
		d.reset()
	}

	if !d.haveLenHi {
		d.lenHi = b
		d.haveLenHi = true
		return false, nil
	}
	if !d.haveLenLo {
		d.lenLo = b
		d.haveLenLo = true
		d.length = int(d.lenHi)<<8 | int(d.lenLo)
		if d.buf == nil || cap(d.buf) < d.length {
			d.buf = make([]byte, 0, d.length)
		}
		if d.length == 0 {
			d.done = true
			return true, nil
		}
		return false, nil
	}

	d.buf = append(d.buf, b)
	if len(d.buf) == d.length {
		d.done = true
		return true, nil
	}
	return false, nil
}

func (d *stringDecoder) bytesConsumed() int {
	n := 0
	if d.haveLenHi {
		n++
	}
	if d.haveLenLo {
		n++
	}
	return n + len(d.buf)
}

func (d *stringDecoder) string() string {
	return string(d.buf)
}

// EncodeString writes s as a length-prefixed MQTT string: a 2-byte
// big-endian length followed by its UTF-8 bytes.
func EncodeString(s string) []byte {
	out := make([]byte, 2+len(s))
	out[0] = byte(len(s) >> 8)
	out[1] = byte(len(s))
	copy(out[2:], s)
	return out
}

// validateUTF8String rejects strings that are not valid MQTT UTF-8 strings:
// invalid UTF-8, embedded nulls, or lone UTF-16 surrogate code points.
func validateUTF8String(s string) error {
	if !utf8.ValidString(s) {
		return ErrMalformedControlPacket
	}
	for _, r := range s {
		if r == 0 || (r >= 0xD800 && r <= 0xDFFF) {
			return ErrMalformedControlPacket
		}
	}
	return nil
}
