package mavconform

import (
	"bufio"
	"bytes"
	"encoding/binary"
	"fmt"
	"io"
	"math"
)

// Codec frames and deframes messages of one dialect using MAVLink v2
// framing. It is not safe for concurrent use; Conn serializes access.
type Codec struct {
	Dialect     *Dialect
	SystemID    uint8
	ComponentID uint8

	seq uint8
}

// Encode builds the v2 wire frame for one message instance:
//
//	Magic: 1 byte (0xFD)
//	Payload length: 1 byte
//	Incompat/compat flags: 2 bytes
//	Sequence: 1 byte
//	System id, component id: 2 bytes
//	Message id: 3 bytes, little endian
//	Payload: 1..255 bytes, trailing zeros truncated
//	Checksum: 2 bytes, little endian, seeded with the CRC extra
func (c *Codec) Encode(msg *Message, values map[string]any) ([]byte, error) {
	payload, err := msg.EncodePayload(values)
	if err != nil {
		return nil, err
	}
	// Trailing zero payload bytes are truncated on the wire; at least one
	// payload byte always remains.
	n := len(payload)
	for n > 1 && payload[n-1] == 0 {
		n--
	}

	frame := make([]byte, headerLenV2+n+checksumLen)
	frame[0] = magicV2
	frame[1] = byte(n)
	frame[2] = 0 // incompat flags, signing unsupported
	frame[3] = 0 // compat flags
	frame[4] = c.seq
	frame[5] = c.SystemID
	frame[6] = c.ComponentID
	frame[7] = byte(msg.ID)
	frame[8] = byte(msg.ID >> 8)
	frame[9] = byte(msg.ID >> 16)
	copy(frame[headerLenV2:], payload[:n])
	c.seq++

	var sum crc
	sum.reset().pushBytes(frame[1 : headerLenV2+n]...).pushByte(msg.crcExtra)
	binary.LittleEndian.PutUint16(frame[headerLenV2+n:], sum.value())
	return frame, nil
}

// Decode verifies one complete frame and returns the message type together
// with its canonical field-name to value mapping.
func (c *Codec) Decode(frame []byte) (*Message, map[string]any, error) {
	if len(frame) < headerLenV2+1+checksumLen {
		return nil, nil, fmt.Errorf("mavconform: frame length '%d' shorter than minimum", len(frame))
	}
	if frame[0] != magicV2 {
		return nil, nil, fmt.Errorf("mavconform: bad frame magic '%#02x'", frame[0])
	}
	n := int(frame[1])
	if len(frame) != headerLenV2+n+checksumLen {
		return nil, nil, fmt.Errorf("mavconform: frame length '%d' does not match payload length '%d'",
			len(frame), n)
	}
	if frame[2] != 0 {
		return nil, nil, fmt.Errorf("mavconform: unsupported incompat flags '%#02x'", frame[2])
	}

	id := uint32(frame[7]) | uint32(frame[8])<<8 | uint32(frame[9])<<16
	msg, err := c.Dialect.MessageByID(id)
	if err != nil {
		return nil, nil, err
	}

	var sum crc
	sum.reset().pushBytes(frame[1 : headerLenV2+n]...).pushByte(msg.crcExtra)
	got := binary.LittleEndian.Uint16(frame[headerLenV2+n:])
	if want := sum.value(); got != want {
		return nil, nil, &ErrChecksum{Message: msg.Name, Want: want, Got: got}
	}

	values, err := msg.DecodePayload(frame[headerLenV2 : headerLenV2+n])
	if err != nil {
		return nil, nil, err
	}
	return msg, values, nil
}

// readFrame reads one complete v2 frame from the stream. io.EOF before the
// first byte means the peer closed the connection between frames and is
// returned unwrapped.
func readFrame(r *bufio.Reader) ([]byte, error) {
	magic, err := r.ReadByte()
	if err != nil {
		return nil, err
	}
	if magic != magicV2 {
		return nil, fmt.Errorf("mavconform: bad frame magic '%#02x'", magic)
	}
	var header [headerLenV2 - 1]byte
	if _, err := io.ReadFull(r, header[:]); err != nil {
		return nil, fmt.Errorf("mavconform: reading frame header: %w", err)
	}

	n := int(header[0])
	frame := make([]byte, headerLenV2+n+checksumLen)
	frame[0] = magic
	copy(frame[1:], header[:])
	if _, err := io.ReadFull(r, frame[headerLenV2:]); err != nil {
		return nil, fmt.Errorf("mavconform: reading frame body: %w", err)
	}
	return frame, nil
}

// EncodePayload serializes values into the full, untruncated payload in
// wire order. Values must use the canonical Go types: sized integers,
// float32/float64 and byte for scalars, []any element lists for arrays and
// string for char arrays.
func (m *Message) EncodePayload(values map[string]any) ([]byte, error) {
	buf := make([]byte, m.payloadLen)
	off := 0
	for _, idx := range m.wire {
		f := m.Fields[idx]
		v, ok := values[f.Name]
		if !ok {
			return nil, fmt.Errorf("mavconform: message '%s' missing value for field '%s'", m.Name, f.Name)
		}
		switch {
		case f.ArrayLen > 0 && f.Type == TypeChar:
			s, ok := v.(string)
			if !ok {
				return nil, fmt.Errorf("mavconform: field '%s' value %T is not a string", f.Name, v)
			}
			if len(s) > f.ArrayLen {
				return nil, fmt.Errorf("mavconform: field '%s' string length '%d' exceeds '%d'",
					f.Name, len(s), f.ArrayLen)
			}
			// Shorter strings are zero padded.
			copy(buf[off:off+f.ArrayLen], s)
			off += f.ArrayLen
		case f.ArrayLen > 0:
			elems, ok := v.([]any)
			if !ok {
				return nil, fmt.Errorf("mavconform: field '%s' value %T is not an array", f.Name, v)
			}
			if len(elems) != f.ArrayLen {
				return nil, fmt.Errorf("mavconform: field '%s' array length '%d' does not match declared '%d'",
					f.Name, len(elems), f.ArrayLen)
			}
			for _, elem := range elems {
				if err := putScalar(buf[off:], f.Type, elem); err != nil {
					return nil, fmt.Errorf("mavconform: field '%s': %w", f.Name, err)
				}
				off += f.Type.Size()
			}
		default:
			if err := putScalar(buf[off:], f.Type, v); err != nil {
				return nil, fmt.Errorf("mavconform: field '%s': %w", f.Name, err)
			}
			off += f.Type.Size()
		}
	}
	return buf, nil
}

// DecodePayload converts a possibly truncated wire payload back to the
// canonical field-name to value mapping. Char arrays decode to strings with
// trailing NUL padding removed.
func (m *Message) DecodePayload(payload []byte) (map[string]any, error) {
	if len(payload) > m.payloadLen {
		return nil, fmt.Errorf("mavconform: message '%s' payload length '%d' exceeds declared '%d'",
			m.Name, len(payload), m.payloadLen)
	}
	full := make([]byte, m.payloadLen)
	copy(full, payload)

	values := make(map[string]any, len(m.Fields))
	off := 0
	for _, idx := range m.wire {
		f := m.Fields[idx]
		switch {
		case f.ArrayLen > 0 && f.Type == TypeChar:
			raw := full[off : off+f.ArrayLen]
			values[f.Name] = string(bytes.TrimRight(raw, "\x00"))
			off += f.ArrayLen
		case f.ArrayLen > 0:
			elems := make([]any, f.ArrayLen)
			for i := range elems {
				elems[i] = getScalar(full[off:], f.Type)
				off += f.Type.Size()
			}
			values[f.Name] = elems
		default:
			values[f.Name] = getScalar(full[off:], f.Type)
			off += f.Type.Size()
		}
	}
	return values, nil
}

func putScalar(b []byte, t FieldType, v any) error {
	switch t {
	case TypeChar, TypeUint8:
		x, ok := v.(uint8)
		if !ok {
			return scalarTypeError(t, v)
		}
		b[0] = x
	case TypeInt8:
		x, ok := v.(int8)
		if !ok {
			return scalarTypeError(t, v)
		}
		b[0] = byte(x)
	case TypeUint16:
		x, ok := v.(uint16)
		if !ok {
			return scalarTypeError(t, v)
		}
		binary.LittleEndian.PutUint16(b, x)
	case TypeInt16:
		x, ok := v.(int16)
		if !ok {
			return scalarTypeError(t, v)
		}
		binary.LittleEndian.PutUint16(b, uint16(x))
	case TypeUint32:
		x, ok := v.(uint32)
		if !ok {
			return scalarTypeError(t, v)
		}
		binary.LittleEndian.PutUint32(b, x)
	case TypeInt32:
		x, ok := v.(int32)
		if !ok {
			return scalarTypeError(t, v)
		}
		binary.LittleEndian.PutUint32(b, uint32(x))
	case TypeUint64:
		x, ok := v.(uint64)
		if !ok {
			return scalarTypeError(t, v)
		}
		binary.LittleEndian.PutUint64(b, x)
	case TypeInt64:
		x, ok := v.(int64)
		if !ok {
			return scalarTypeError(t, v)
		}
		binary.LittleEndian.PutUint64(b, uint64(x))
	case TypeFloat:
		x, ok := v.(float32)
		if !ok {
			return scalarTypeError(t, v)
		}
		binary.LittleEndian.PutUint32(b, math.Float32bits(x))
	case TypeDouble:
		x, ok := v.(float64)
		if !ok {
			return scalarTypeError(t, v)
		}
		binary.LittleEndian.PutUint64(b, math.Float64bits(x))
	default:
		return fmt.Errorf("unsupported field type '%s'", t)
	}
	return nil
}

func scalarTypeError(t FieldType, v any) error {
	return fmt.Errorf("value of type %T is not a %s", v, t)
}

func getScalar(b []byte, t FieldType) any {
	switch t {
	case TypeChar, TypeUint8:
		return b[0]
	case TypeInt8:
		return int8(b[0])
	case TypeUint16:
		return binary.LittleEndian.Uint16(b)
	case TypeInt16:
		return int16(binary.LittleEndian.Uint16(b))
	case TypeUint32:
		return binary.LittleEndian.Uint32(b)
	case TypeInt32:
		return int32(binary.LittleEndian.Uint32(b))
	case TypeUint64:
		return binary.LittleEndian.Uint64(b)
	case TypeInt64:
		return int64(binary.LittleEndian.Uint64(b))
	case TypeFloat:
		return math.Float32frombits(binary.LittleEndian.Uint32(b))
	case TypeDouble:
		return math.Float64frombits(binary.LittleEndian.Uint64(b))
	}
	return nil
}
