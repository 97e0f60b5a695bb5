/*
Package mavconform drives conformance tests against a generated MAVLink
server binary: it loads a dialect, synthesizes a random instance of every
message type the dialect declares, sends each one over a live connection and
verifies that the echoed message decodes to exactly the values that were
sent.
*/
package mavconform

import (
	"fmt"
	"time"
)

const (
	// magicV2 marks the start of a MAVLink v2 frame.
	magicV2 = 0xFD

	// headerLenV2 is the v2 header size including the magic byte.
	headerLenV2 = 10
	// checksumLen is the trailing CRC size.
	checksumLen = 2
	// maxPayloadLen is the largest payload a v2 frame can carry.
	maxPayloadLen = 255
	// maxMessageID is the largest id the 24-bit message id field can hold.
	maxMessageID = 0xFFFFFF
)

// FieldType identifies one MAVLink scalar wire type.
type FieldType int

// Scalar wire types a dialect may declare for its fields.
const (
	TypeChar FieldType = iota
	TypeUint8
	TypeInt8
	TypeUint16
	TypeInt16
	TypeUint32
	TypeInt32
	TypeUint64
	TypeInt64
	TypeFloat
	TypeDouble
)

var fieldTypeNames = map[FieldType]string{
	TypeChar:   "char",
	TypeUint8:  "uint8_t",
	TypeInt8:   "int8_t",
	TypeUint16: "uint16_t",
	TypeInt16:  "int16_t",
	TypeUint32: "uint32_t",
	TypeInt32:  "int32_t",
	TypeUint64: "uint64_t",
	TypeInt64:  "int64_t",
	TypeFloat:  "float",
	TypeDouble: "double",
}

var fieldTypeSizes = map[FieldType]int{
	TypeChar:   1,
	TypeUint8:  1,
	TypeInt8:   1,
	TypeUint16: 2,
	TypeInt16:  2,
	TypeUint32: 4,
	TypeInt32:  4,
	TypeUint64: 8,
	TypeInt64:  8,
	TypeFloat:  4,
	TypeDouble: 8,
}

// String returns the C type name the MAVLink schema language uses. This is
// also the spelling that participates in the CRC-extra seed.
func (t FieldType) String() string {
	if name, ok := fieldTypeNames[t]; ok {
		return name
	}
	return fmt.Sprintf("fieldtype(%d)", int(t))
}

// Size returns the wire size of the scalar type in bytes.
func (t FieldType) Size() int {
	return fieldTypeSizes[t]
}

// ParseFieldType resolves a schema type name to its FieldType. The
// "uint8_t_mavlink_version" alias the HEARTBEAT definition uses maps to
// plain uint8_t.
func ParseFieldType(name string) (FieldType, error) {
	if name == "uint8_t_mavlink_version" {
		return TypeUint8, nil
	}
	for t, n := range fieldTypeNames {
		if n == name {
			return t, nil
		}
	}
	return 0, fmt.Errorf("mavconform: unknown field type '%s'", name)
}

// ErrUnknownMessageID informs about a frame carrying a message id the
// dialect does not declare.
type ErrUnknownMessageID uint32

func (id ErrUnknownMessageID) Error() string {
	return fmt.Sprintf("mavconform: unknown message id '%d'", uint32(id))
}

// ErrServerExit informs about a non-zero exit code of the server under test.
type ErrServerExit int

func (code ErrServerExit) Error() string {
	return fmt.Sprintf("mavconform: server exited with non-zero code '%d'", int(code))
}

// ErrChecksum reports a frame whose CRC does not match its content.
type ErrChecksum struct {
	Message string
	Want    uint16
	Got     uint16
}

func (e *ErrChecksum) Error() string {
	return fmt.Sprintf("mavconform: %s checksum '%#04x' does not match expected '%#04x'",
		e.Message, e.Got, e.Want)
}

// ErrTimeout reports that an expected message did not arrive within the
// bounded wait.
type ErrTimeout struct {
	Expected string
	Wait     time.Duration
}

func (e *ErrTimeout) Error() string {
	return fmt.Sprintf("mavconform: no %s received within %s", e.Expected, e.Wait)
}

// ErrMismatch reports a round trip whose received canonical form differs
// from the canonical form of the message that was sent. Both forms are
// carried in full so the failure can be diagnosed from the error alone.
type ErrMismatch struct {
	Expected string
	Actual   string
	Sent     map[string]any
	Received map[string]any
	Diff     string
}

func (e *ErrMismatch) Error() string {
	return fmt.Sprintf("mavconform: %s round trip mismatch (received %s): sent=%v received=%v\n%s",
		e.Expected, e.Actual, e.Sent, e.Received, e.Diff)
}

// logger is the interface to the required logging functions.
type logger interface {
	Printf(format string, v ...interface{})
}
