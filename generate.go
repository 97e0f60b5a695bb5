package mavconform

import (
	"fmt"
	"math/rand"
	"strings"
)

// terminatorSuffix marks sentinel enum entries (end-of-range markers) that
// never appear in live data and are excluded from random generation.
const terminatorSuffix = "_END"

// Float generation draws an integer in a fixed bound and divides by ten, so
// every generated value has one decimal digit and survives an encode/decode
// round trip bit-exactly.
const (
	floatBound  = 1000
	doubleBound = 2000
)

// Synthesize builds one fully populated instance of msg: a value for every
// declared field, arrays at exactly their declared length and char arrays
// collapsed to strings.
func Synthesize(rng *rand.Rand, d *Dialect, msg *Message) (map[string]any, error) {
	values := make(map[string]any, len(msg.Fields))
	for _, f := range msg.Fields {
		v, err := synthesizeField(rng, d, f)
		if err != nil {
			return nil, fmt.Errorf("mavconform: message '%s': %w", msg.Name, err)
		}
		values[f.Name] = v
	}
	return values, nil
}

func synthesizeField(rng *rand.Rand, d *Dialect, f Field) (any, error) {
	if f.ArrayLen == 0 {
		return randomField(rng, d, f)
	}
	if f.Type == TypeChar {
		var sb strings.Builder
		for i := 0; i < f.ArrayLen; i++ {
			v, err := randomField(rng, d, f)
			if err != nil {
				return nil, err
			}
			sb.WriteByte(v.(byte))
		}
		return sb.String(), nil
	}
	elems := make([]any, f.ArrayLen)
	for i := range elems {
		v, err := randomField(rng, d, f)
		if err != nil {
			return nil, err
		}
		elems[i] = v
	}
	return elems, nil
}

// randomField generates one scalar value for the field. Enum-constrained
// fields draw from the enum's declared options instead of the type's range.
func randomField(rng *rand.Rand, d *Dialect, f Field) (any, error) {
	if f.Enum == "" {
		return randomValue(rng, f.Type)
	}
	enum, ok := d.Enums[f.Enum]
	if !ok {
		return nil, fmt.Errorf("field '%s' references unknown enum '%s'", f.Name, f.Enum)
	}
	var options []EnumEntry
	for _, entry := range enum.Entries {
		if !strings.HasSuffix(entry.Name, terminatorSuffix) {
			options = append(options, entry)
		}
	}
	if len(options) == 0 {
		return nil, fmt.Errorf("enum '%s' declares no usable options", f.Enum)
	}
	picked := options[rng.Intn(len(options))]
	return enumValue(f.Type, picked.Value)
}

// randomValue generates one value inside the type's declared domain.
func randomValue(rng *rand.Rand, t FieldType) (any, error) {
	switch t {
	case TypeUint8:
		return uint8(rng.Uint64()), nil
	case TypeInt8:
		return int8(rng.Uint64()), nil
	case TypeUint16:
		return uint16(rng.Uint64()), nil
	case TypeInt16:
		return int16(rng.Uint64()), nil
	case TypeUint32:
		return uint32(rng.Uint64()), nil
	case TypeInt32:
		return int32(rng.Uint64()), nil
	case TypeUint64:
		return rng.Uint64(), nil
	case TypeInt64:
		return int64(rng.Uint64()), nil
	case TypeFloat:
		return float32(rng.Intn(2*floatBound+1)-floatBound) / 10, nil
	case TypeDouble:
		return float64(rng.Intn(2*doubleBound+1)-doubleBound) / 10, nil
	case TypeChar:
		// Printable ASCII range.
		return byte(32 + rng.Intn(95)), nil
	default:
		return nil, fmt.Errorf("unknown field type '%s'", t)
	}
}

// enumValue converts a declared enum option to the field's wire type.
func enumValue(t FieldType, v uint64) (any, error) {
	switch t {
	case TypeUint8, TypeChar:
		return uint8(v), nil
	case TypeInt8:
		return int8(v), nil
	case TypeUint16:
		return uint16(v), nil
	case TypeInt16:
		return int16(v), nil
	case TypeUint32:
		return uint32(v), nil
	case TypeInt32:
		return int32(v), nil
	case TypeUint64:
		return v, nil
	case TypeInt64:
		return int64(v), nil
	default:
		return nil, fmt.Errorf("enum bound to non-integer field type '%s'", t)
	}
}
